package hearthws

import (
	"context"
	"time"

	hearthcli "github.com/Hearth-Social/hearth-go-realtime/hearth-cli"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/presencedao"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/publish"
	"github.com/rs/zerolog"
)

// AuditStore is the presence surface the audit needs: the set of users
// flagged online, and a compare-and-set repair that loses to any racing
// connect.
type AuditStore interface {
	OnlineUsers(ctx context.Context) ([]presencedao.Presence, error)
	ForceOffline(ctx context.Context, userID string, observedCount, now int64) (bool, error)
}

// PresenceAuditor is the scheduled backstop behind the TTL reaper: it walks
// users flagged online and forces offline anyone with no live connection
// left. Routine cleanup belongs to $disconnect, broadcast-time pruning, and
// the reaper; the audit only catches what all three missed.
type PresenceAuditor struct {
	Registry *Registry
	Store    AuditStore
	Contacts ContactResolver
	Events   EventPublisher
	Logger   zerolog.Logger
	Metrics  *hearthcli.Metrics
}

// Run performs one audit pass. Per-user failures are logged and skipped; one
// bad record never stops the sweep.
func (a *PresenceAuditor) Run(ctx context.Context) error {
	online, err := a.Store.OnlineUsers(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	var repaired int
	for _, p := range online {
		conns, err := a.Registry.ConnectionsForUser(ctx, p.UserID)
		if err != nil {
			a.Logger.Error().Err(err).Str("user_id", p.UserID).Msg("failed to resolve connections, skipping")
			continue
		}

		var live int
		for _, conn := range conns {
			if !conn.Expired(now) {
				live++
			}
		}
		if live > 0 {
			continue
		}

		ok, err := a.Store.ForceOffline(ctx, p.UserID, p.ConnCount, now.Unix())
		if err != nil {
			a.Logger.Error().Err(err).Str("user_id", p.UserID).Msg("failed to repair presence")
			continue
		}
		if !ok {
			// A connect got there first; the user really is online.
			continue
		}

		repaired++
		a.Logger.Info().Str("user_id", p.UserID).Int64("stale_count", p.ConnCount).Msg("repaired drifted presence")
		a.announceOffline(ctx, p.UserID)
	}

	if a.Metrics != nil && repaired > 0 {
		a.Metrics.Count(ctx, hearthcli.PresenceDriftRepairedMetric, float64(repaired))
	}
	a.Logger.Info().Int("online", len(online)).Int("repaired", repaired).Msg("presence audit complete")
	return nil
}

func (a *PresenceAuditor) announceOffline(ctx context.Context, userID string) {
	contacts, err := a.Contacts.ContactsForUser(ctx, userID)
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("failed to resolve presence audience")
		return
	}
	if len(contacts) == 0 {
		return
	}

	env, err := publish.NewEnvelope(EventUserOffline, PresencePayload{UserID: userID})
	if err != nil {
		a.Logger.Error().Err(err).Msg("failed to build offline envelope")
		return
	}
	env.Recipients = contacts
	env.ExcludeUserID = userID

	if err := a.Events.Send(ctx, env); err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("failed to publish offline event")
	}
}
