package hearthws

import (
	"context"
	"sync"

	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/connectiondao"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi/apigatewaymanagementapiiface"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// BroadcastRegistry is the registry surface the broadcaster needs: resolve a
// user's connections, and prune one that proved stale.
type BroadcastRegistry interface {
	ConnectionsForUser(ctx context.Context, userID string) ([]connectiondao.Connection, error)
	PruneStale(ctx context.Context, connectionID string) (userID string, wentOffline bool)
}

// DeliveryFailure records one delivery attempt that failed for a reason other
// than the peer being gone. The broadcaster never retries; callers may choose
// to re-attempt on a later event.
type DeliveryFailure struct {
	ConnectionID string
	UserID       string
	Err          error
}

// DeliveryReport summarizes one broadcast. Attempts are independent; a
// failure never blocks delivery to the remaining recipients.
type DeliveryReport struct {
	Delivered int
	Stale     int
	Failures  []DeliveryFailure

	// WentOffline lists users whose last live connection proved stale during
	// this broadcast. The caller owes them a user.offline announcement.
	WentOffline []string
}

// BroadcastOption adjusts one broadcast call.
type BroadcastOption func(*broadcastOptions)

type broadcastOptions struct {
	exclude map[string]struct{}
}

// WithExcludeUser drops a user from the recipient set before resolution.
// Call sites that notify "everyone except the sender" use this.
func WithExcludeUser(userID string) BroadcastOption {
	return func(o *broadcastOptions) {
		if userID == "" {
			return
		}
		if o.exclude == nil {
			o.exclude = map[string]struct{}{}
		}
		o.exclude[userID] = struct{}{}
	}
}

// Broadcaster delivers one event to every live connection of every user in a
// recipient set, tolerating partial failure.
type Broadcaster struct {
	Registry    BroadcastRegistry
	Logger      zerolog.Logger
	Concurrency int // max concurrent PostToConnection calls (default 50)

	// Management overrides client construction, for tests. When nil, real
	// API Gateway Management API clients are built and cached per endpoint.
	Management func(endpoint string) apigatewaymanagementapiiface.ApiGatewayManagementApiAPI

	mgmtMu      sync.RWMutex
	mgmtClients map[string]apigatewaymanagementapiiface.ApiGatewayManagementApiAPI
}

// BroadcastToUsers fans the event out to each recipient's current connection
// set. The set is a point-in-time snapshot; connections opened after it is
// taken are not included. Delivery attempts are independent and bounded by
// Concurrency. A Gone peer is pruned from the registry as a side effect; any
// other failure lands in the report and mutates nothing.
func (b *Broadcaster) BroadcastToUsers(ctx context.Context, userIDs []string, event Event, opts ...BroadcastOption) (*DeliveryReport, error) {
	var options broadcastOptions
	for _, opt := range opts {
		opt(&options)
	}

	data, err := event.Marshal()
	if err != nil {
		return nil, err
	}

	report := &DeliveryReport{}
	var reportMu sync.Mutex

	var conns []connectiondao.Connection
	seen := map[string]struct{}{}
	for _, userID := range userIDs {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		if _, skip := options.exclude[userID]; skip {
			continue
		}

		userConns, err := b.Registry.ConnectionsForUser(ctx, userID)
		if err != nil {
			b.Logger.Error().Err(err).Str("user_id", userID).Msg("failed to resolve connections")
			reportMu.Lock()
			report.Failures = append(report.Failures, DeliveryFailure{UserID: userID, Err: err})
			reportMu.Unlock()
			continue
		}
		conns = append(conns, userConns...)
	}

	concurrency := b.Concurrency
	if concurrency <= 0 {
		concurrency = 50
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			sendErr := b.post(ctx, conn, data)
			reportMu.Lock()
			defer reportMu.Unlock()

			switch {
			case sendErr == nil:
				report.Delivered++

			case IsGone(sendErr):
				b.Logger.Info().
					Str("connection_id", conn.ConnectionID).
					Str("user_id", conn.UserID).
					Msg("connection gone, pruning")
				userID, wentOffline := b.Registry.PruneStale(ctx, conn.ConnectionID)
				report.Stale++
				if wentOffline {
					report.WentOffline = append(report.WentOffline, userID)
				}

			default:
				report.Failures = append(report.Failures, DeliveryFailure{
					ConnectionID: conn.ConnectionID,
					UserID:       conn.UserID,
					Err:          sendErr,
				})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

func (b *Broadcaster) post(ctx context.Context, conn connectiondao.Connection, data []byte) error {
	client := b.managementClient(conn.Endpoint)
	_, err := client.PostToConnectionWithContext(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(conn.ConnectionID),
		Data:         data,
	})
	return err
}

func (b *Broadcaster) managementClient(endpoint string) apigatewaymanagementapiiface.ApiGatewayManagementApiAPI {
	if b.Management != nil {
		return b.Management(endpoint)
	}

	b.mgmtMu.RLock()
	if client, ok := b.mgmtClients[endpoint]; ok {
		b.mgmtMu.RUnlock()
		return client
	}
	b.mgmtMu.RUnlock()

	b.mgmtMu.Lock()
	defer b.mgmtMu.Unlock()

	// Double-check after acquiring write lock
	if client, ok := b.mgmtClients[endpoint]; ok {
		return client
	}

	if b.mgmtClients == nil {
		b.mgmtClients = make(map[string]apigatewaymanagementapiiface.ApiGatewayManagementApiAPI)
	}

	sess := session.Must(session.NewSession(aws.NewConfig().WithEndpoint(endpoint)))
	client := apigatewaymanagementapi.New(sess)
	b.mgmtClients[endpoint] = client
	return client
}
