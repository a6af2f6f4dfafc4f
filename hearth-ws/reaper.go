package hearthws

import (
	"context"
	"fmt"
	"time"

	hearthcli "github.com/Hearth-Social/hearth-go-realtime/hearth-cli"
	hearthddb "github.com/Hearth-Social/hearth-go-realtime/hearth-ddb"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/connectiondao"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/publish"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/rs/zerolog"
)

// Reaper repairs presence for connections that died without a $disconnect.
// Connection records carry a TTL; when DynamoDB expires one, the REMOVE stream
// record lands here and the user's presence count is decremented.
//
// Deletes of unexpired records are the registry's own cleanup and already
// accounted for, so the reaper only acts on records that actually expired.
type Reaper struct {
	Presence *PresenceTracker
	Contacts ContactResolver
	Events   EventPublisher
	Logger   zerolog.Logger
	Metrics  *hearthcli.Metrics
}

// Handler wires the reaper into a DynamoDB Streams consumer for the
// connections table.
func (r *Reaper) Handler(service hearthcli.Service) *hearthddb.Handler {
	return hearthddb.NewHandler(service, nil, nil, r.OnRemove)
}

// OnRemove handles one REMOVE record from the connections table stream.
func (r *Reaper) OnRemove(ctx context.Context, oldImage map[string]*dynamodb.AttributeValue) error {
	var conn connectiondao.Connection
	if err := hearthddb.ParseItem(oldImage, &conn); err != nil {
		return fmt.Errorf("parsing removed connection record: %w", err)
	}
	if conn.ConnectionID == "" || conn.UserID == "" {
		r.Logger.Warn().Msg("removed record is not a connection, skipping")
		return nil
	}

	if !conn.Expired(time.Now()) {
		return nil
	}

	logger := r.Logger.With().
		Str("connection_id", conn.ConnectionID).
		Str("user_id", conn.UserID).
		Logger()

	wentOffline, err := r.Presence.MarkDisconnected(ctx, conn.UserID)
	if err != nil {
		return fmt.Errorf("decrementing presence for %v: %w", conn.UserID, err)
	}

	if r.Metrics != nil {
		r.Metrics.Event(ctx, hearthcli.ExpiredConnectionsReapedMetric)
	}

	logger.Info().Bool("went_offline", wentOffline).Msg("reaped expired connection")

	if wentOffline {
		r.announceOffline(ctx, logger, conn.UserID)
	}
	return nil
}

func (r *Reaper) announceOffline(ctx context.Context, logger zerolog.Logger, userID string) {
	contacts, err := r.Contacts.ContactsForUser(ctx, userID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to resolve presence audience")
		return
	}
	if len(contacts) == 0 {
		return
	}

	env, err := publish.NewEnvelope(EventUserOffline, PresencePayload{UserID: userID})
	if err != nil {
		logger.Error().Err(err).Msg("failed to build offline envelope")
		return
	}
	env.Recipients = contacts
	env.ExcludeUserID = userID

	if err := r.Events.Send(ctx, env); err != nil {
		logger.Error().Err(err).Msg("failed to publish offline event")
	}
}
