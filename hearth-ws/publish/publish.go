// Package publish sends outbound realtime events to the fan-out stream.
// Domain services (chat, comments, posts) and the WebSocket handler itself
// publish here; the dispatcher consumes the stream and delivers to live
// connections.
package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"
)

// Envelope is the message format published to the realtime events stream.
// Recipients may be given explicitly, or left empty with ChatID set, in which
// case the dispatcher resolves the chat's participants as the recipient set.
type Envelope struct {
	Type          string          `json:"type"`
	ChatID        string          `json:"chatId,omitempty"`
	Recipients    []string        `json:"recipients,omitempty"`
	ExcludeUserID string          `json:"excludeUserId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope with a marshalled payload.
func NewEnvelope(eventType string, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshalling envelope payload: %w", err)
	}
	return Envelope{Type: eventType, Payload: data}, nil
}

// partitionKey keeps all events for one chat on one shard, preserving the
// order in which frames are issued to each connection for that chat.
func (e Envelope) partitionKey() string {
	if e.ChatID != "" {
		return e.ChatID
	}
	return e.Type
}

// Publisher publishes events to the realtime Kinesis stream.
type Publisher struct {
	client     kinesisiface.KinesisAPI
	streamName string
}

// New creates a new Publisher.
func New(client kinesisiface.KinesisAPI, streamName string) *Publisher {
	return &Publisher{
		client:     client,
		streamName: streamName,
	}
}

// Build creates a new Publisher using the standard stream name for the given
// environment.
func Build(env string) *Publisher {
	sess := session.Must(session.NewSession(aws.NewConfig()))
	client := kinesis.New(sess)
	return New(client, StreamName(env))
}

// StreamName returns the Kinesis stream name for the given environment.
func StreamName(env string) string {
	return env + "-hearth-realtime--events"
}

// Send publishes an event envelope to the realtime events stream.
func (p *Publisher) Send(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshalling envelope: %w", err)
	}

	_, err = p.client.PutRecordWithContext(ctx, &kinesis.PutRecordInput{
		StreamName:   aws.String(p.streamName),
		PartitionKey: aws.String(env.partitionKey()),
		Data:         data,
	})
	if err != nil {
		return fmt.Errorf("publishing to kinesis stream %v: %w", p.streamName, err)
	}

	return nil
}
