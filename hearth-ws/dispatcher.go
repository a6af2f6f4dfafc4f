package hearthws

import (
	"context"
	"encoding/json"
	"fmt"

	hearthcli "github.com/Hearth-Social/hearth-go-realtime/hearth-cli"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/publish"
	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	consumer "github.com/harlow/kinesis-consumer"
	"github.com/rs/zerolog"
)

// RecipientResolver resolves recipient sets from domain context when an
// envelope names a chat instead of explicit recipients, and presence
// audiences for users pruned offline mid-broadcast.
type RecipientResolver interface {
	Recipients(ctx context.Context, chatID string) ([]string, error)
	ContactsForUser(ctx context.Context, userID string) ([]string, error)
}

// Dispatcher consumes the realtime events stream and fans each envelope out
// to its recipients' live connections.
type Dispatcher struct {
	Broadcaster *Broadcaster
	Members     RecipientResolver
	Events      EventPublisher
	Logger      zerolog.Logger
	Metrics     *hearthcli.Metrics
}

// Start runs the dispatcher as a Lambda Kinesis consumer, or tails the stream
// directly in console mode.
func (d *Dispatcher) Start() error {
	if !hearthcli.CommonOpts.Console {
		lambda.Start(d.HandleKinesisEvent)
		return nil
	}
	return d.handleRealtime()
}

// HandleKinesisEvent processes a batch of Kinesis records. A bad record is
// logged and skipped rather than failing the whole batch.
func (d *Dispatcher) HandleKinesisEvent(ctx context.Context, event events.KinesisEvent) error {
	for _, record := range event.Records {
		if err := d.processRecord(ctx, record); err != nil {
			d.Logger.Error().Err(err).
				Str("event_id", record.EventID).
				Msg("failed to process kinesis record")
		}
	}
	return nil
}

func (d *Dispatcher) processRecord(ctx context.Context, record events.KinesisEventRecord) error {
	var envelope publish.Envelope
	if err := json.Unmarshal(record.Kinesis.Data, &envelope); err != nil {
		return fmt.Errorf("unmarshalling kinesis record: %w", err)
	}

	if envelope.Type == "" {
		d.Logger.Warn().Msg("kinesis record has empty event type, skipping")
		return nil
	}

	recipients := envelope.Recipients
	if len(recipients) == 0 && envelope.ChatID != "" {
		var err error
		recipients, err = d.Members.Recipients(ctx, envelope.ChatID)
		if err != nil {
			return fmt.Errorf("resolving recipients for chat %v: %w", envelope.ChatID, err)
		}
	}
	if len(recipients) == 0 {
		return nil
	}

	d.Logger.Debug().
		Str("type", envelope.Type).
		Int("recipients", len(recipients)).
		Msg("dispatching event")

	var opts []BroadcastOption
	if envelope.ExcludeUserID != "" {
		opts = append(opts, WithExcludeUser(envelope.ExcludeUserID))
	}

	report, err := d.Broadcaster.BroadcastToUsers(ctx, recipients, NewRawEvent(envelope.Type, envelope.Payload), opts...)
	if err != nil {
		return fmt.Errorf("broadcasting %v event: %w", envelope.Type, err)
	}

	d.recordMetrics(ctx, envelope.Type, len(recipients), report)

	for _, failure := range report.Failures {
		d.Logger.Warn().Err(failure.Err).
			Str("connection_id", failure.ConnectionID).
			Str("user_id", failure.UserID).
			Str("type", envelope.Type).
			Msg("delivery failed")
	}

	// Users whose last connection proved stale owe their contacts an offline
	// announcement; route it back through the stream like any other event.
	for _, userID := range report.WentOffline {
		d.announceOffline(ctx, userID)
	}

	return nil
}

func (d *Dispatcher) announceOffline(ctx context.Context, userID string) {
	contacts, err := d.Members.ContactsForUser(ctx, userID)
	if err != nil {
		d.Logger.Error().Err(err).Str("user_id", userID).Msg("failed to resolve presence audience")
		return
	}
	if len(contacts) == 0 {
		return
	}

	env, err := publish.NewEnvelope(EventUserOffline, PresencePayload{UserID: userID})
	if err != nil {
		d.Logger.Error().Err(err).Msg("failed to build offline envelope")
		return
	}
	env.Recipients = contacts
	env.ExcludeUserID = userID

	if err := d.Events.Send(ctx, env); err != nil {
		d.Logger.Error().Err(err).Str("user_id", userID).Msg("failed to publish offline event")
	}
}

func (d *Dispatcher) recordMetrics(ctx context.Context, eventType string, recipients int, report *DeliveryReport) {
	if d.Metrics == nil {
		return
	}
	dims := map[hearthcli.DimensionName]string{hearthcli.EventTypeDimension: eventType}
	d.Metrics.Count(ctx, hearthcli.BroadcastRecipientsMetric, float64(recipients), dims)
	if report.Stale > 0 {
		d.Metrics.Count(ctx, hearthcli.StaleConnectionsPrunedMetric, float64(report.Stale), dims)
	}
	if len(report.Failures) > 0 {
		d.Metrics.Count(ctx, hearthcli.DeliveryFailuresMetric, float64(len(report.Failures)), dims)
	}
}

// handleRealtime tails the events stream with a direct Kinesis consumer, for
// running the dispatcher locally.
func (d *Dispatcher) handleRealtime() error {
	streamName := StreamOpts.StreamName
	if streamName == "" {
		streamName = publish.StreamName(hearthcli.CommonOpts.Env)
	}

	var options []consumer.Option
	if StreamOpts.Replay {
		options = append(options, consumer.WithShardIteratorType("TRIM_HORIZON"))
	} else {
		options = append(options, consumer.WithShardIteratorType("LATEST"))
	}

	c, err := consumer.New(streamName, options...)
	if err != nil {
		return err
	}

	ctx := d.Logger.WithContext(context.Background())
	callback := func(record *consumer.Record) error {
		er := events.KinesisEventRecord{
			Kinesis: events.KinesisRecord{Data: record.Data},
		}
		if err := d.processRecord(ctx, er); err != nil {
			d.Logger.Error().Err(err).Msg("failed to process record")
		}
		return nil
	}
	d.Logger.Info().Str("stream", streamName).Msg("listening")
	return c.Scan(ctx, callback)
}
