package hearthws

import (
	"context"
	"time"

	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/presencedao"
	"github.com/rs/zerolog"
)

// PresenceStore is the backing store for per-user connection counts. The
// increment/decrement operations must be atomic per key; DynamoDB ADD updates
// satisfy this (see presencedao). Decrement returns -1 when the count was
// already zero and nothing changed.
type PresenceStore interface {
	Get(ctx context.Context, userID string) (*presencedao.Presence, error)
	Increment(ctx context.Context, userID string, now int64) (int64, error)
	Decrement(ctx context.Context, userID string, now int64) (int64, error)
}

// PresenceTracker derives online/offline transitions from connection count
// changes. Only the 0->1 and 1->0 transitions are reported; a second device
// connecting or one of several disconnecting changes nothing.
type PresenceTracker struct {
	Store  PresenceStore
	Logger zerolog.Logger
}

// MarkConnected records one more connection for the user and reports whether
// the user just came online.
func (t *PresenceTracker) MarkConnected(ctx context.Context, userID string) (bool, error) {
	count, err := t.Store.Increment(ctx, userID, time.Now().Unix())
	if err != nil {
		return false, err
	}
	return count == 1, nil
}

// MarkDisconnected records one less connection for the user and reports
// whether the user just went offline.
func (t *PresenceTracker) MarkDisconnected(ctx context.Context, userID string) (bool, error) {
	count, err := t.Store.Decrement(ctx, userID, time.Now().Unix())
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// Status returns the user's current presence, defaulting to offline for users
// who have never connected.
func (t *PresenceTracker) Status(ctx context.Context, userID string) (presencedao.Presence, error) {
	p, err := t.Store.Get(ctx, userID)
	if err != nil {
		return presencedao.Presence{}, err
	}
	if p == nil {
		return presencedao.Presence{UserID: userID}, nil
	}
	return *p, nil
}
