package hearthws

import (
	"context"
	"time"

	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/connectiondao"
	"github.com/rs/zerolog"
)

// ConnectionStore is the backing store for connection records and the
// user -> connections index.
type ConnectionStore interface {
	Put(ctx context.Context, conn connectiondao.Connection) error
	Get(ctx context.Context, connectionID string) (*connectiondao.Connection, error)
	Delete(ctx context.Context, connectionID string) (removed bool, err error)
	QueryByUser(ctx context.Context, userID string) ([]connectiondao.Connection, error)
	Touch(ctx context.Context, connectionID string, lastSeen int64) error
	AddSubscription(ctx context.Context, connectionID, chatID string) error
}

// Registry owns the mapping from connection IDs to connection metadata and
// keeps presence in step with it. It is constructed once per process and
// handed to every worker that needs it; there are no package-level instances.
type Registry struct {
	Connections ConnectionStore
	Presence    *PresenceTracker
	Logger      zerolog.Logger
}

// Register inserts a connection record and bumps the owner's presence count.
// Reports whether the owner just came online.
func (r *Registry) Register(ctx context.Context, conn connectiondao.Connection) (bool, error) {
	if err := r.Connections.Put(ctx, conn); err != nil {
		return false, err
	}
	return r.Presence.MarkConnected(ctx, conn.UserID)
}

// Deregister removes a connection record and lowers the owner's presence
// count. If the connection is unknown, the whole call is a no-op (already
// cleaned up). Returns the removed connection and whether the owner just went
// offline.
//
// The $disconnect handler and the broadcaster's stale-connection prune can
// both race to clean up the same connection. The store's conditional delete
// picks a single winner, and only the winner lowers presence, so one
// connection never decrements the count twice.
//
// A record that has outlived its TTL is deleted without touching presence:
// the connection table's stream consumer (see Reaper) accounts for expired
// records exactly once, whichever path deletes them first.
func (r *Registry) Deregister(ctx context.Context, connectionID string) (*connectiondao.Connection, bool, error) {
	conn, err := r.Connections.Get(ctx, connectionID)
	if err != nil {
		return nil, false, err
	}
	if conn == nil {
		return nil, false, nil
	}

	removed, err := r.Connections.Delete(ctx, connectionID)
	if err != nil {
		return conn, false, err
	}
	if !removed {
		// Another cleanup path deleted the record first and owns the
		// presence transition.
		return nil, false, nil
	}

	if conn.Expired(time.Now()) {
		return conn, false, nil
	}

	wentOffline, err := r.Presence.MarkDisconnected(ctx, conn.UserID)
	if err != nil {
		return conn, false, err
	}
	return conn, wentOffline, nil
}

// ConnectionsForUser resolves the user's live connections.
func (r *Registry) ConnectionsForUser(ctx context.Context, userID string) ([]connectiondao.Connection, error) {
	return r.Connections.QueryByUser(ctx, userID)
}

// PruneStale removes a connection whose peer proved gone during delivery.
// Same semantics as Deregister; errors are logged rather than surfaced, since
// pruning is opportunistic cleanup.
func (r *Registry) PruneStale(ctx context.Context, connectionID string) (userID string, wentOffline bool) {
	conn, wentOffline, err := r.Deregister(ctx, connectionID)
	if err != nil {
		r.Logger.Error().Err(err).Str("connection_id", connectionID).Msg("failed to prune stale connection")
		return "", false
	}
	if conn == nil {
		return "", false
	}
	return conn.UserID, wentOffline
}

// Touch refreshes a connection's last-seen timestamp.
func (r *Registry) Touch(ctx context.Context, connectionID string) error {
	return r.Connections.Touch(ctx, connectionID, time.Now().Unix())
}
