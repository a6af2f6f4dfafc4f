package hearthws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/tj/assert"
)

func TestRouter(t *testing.T) {
	ctx := context.Background()
	id := Identity{ConnectionID: "conn-1", UserID: "u1"}

	t.Run("dispatches by type", func(t *testing.T) {
		router := NewRouter(zerolog.Nop())

		var got json.RawMessage
		router.Handle("ping", func(_ context.Context, _ Identity, data json.RawMessage) error {
			got = data
			return nil
		})

		err := router.Route(ctx, id, Frame{Type: "ping", Data: json.RawMessage(`{"n":1}`)})
		assert.NoError(t, err)
		assert.JSONEq(t, `{"n":1}`, string(got))
	})

	t.Run("unknown type", func(t *testing.T) {
		router := NewRouter(zerolog.Nop())

		err := router.Route(ctx, id, Frame{Type: "nope"})
		assert.True(t, errors.Is(err, ErrUnknownFrameType))
	})

	t.Run("registration replaces", func(t *testing.T) {
		router := NewRouter(zerolog.Nop())

		var calls []string
		router.Handle("ping", func(_ context.Context, _ Identity, _ json.RawMessage) error {
			calls = append(calls, "first")
			return nil
		})
		router.Handle("ping", func(_ context.Context, _ Identity, _ json.RawMessage) error {
			calls = append(calls, "second")
			return nil
		})

		assert.NoError(t, router.Route(ctx, id, Frame{Type: "ping"}))
		assert.Equal(t, []string{"second"}, calls)
	})
}

func TestChatRoutes(t *testing.T) {
	ctx := context.Background()
	members := &memMembers{chats: map[string][]string{"c1": {"u1", "u2"}}}

	t.Run("typing publishes to chat excluding sender", func(t *testing.T) {
		events := &capturePublisher{}
		router := NewRouter(zerolog.Nop())
		RegisterChatRoutes(router, members, events, newMemConnections())

		err := router.Route(ctx, Identity{ConnectionID: "conn-1", UserID: "u1"}, Frame{
			Type: TypeUserTyping,
			Data: json.RawMessage(`{"chatId":"c1","isTyping":true}`),
		})
		assert.NoError(t, err)

		sent := events.envelopes()
		assert.Len(t, sent, 1)
		assert.Equal(t, EventUserTyping, sent[0].Type)
		assert.Equal(t, "c1", sent[0].ChatID)
		assert.Equal(t, "u1", sent[0].ExcludeUserID)

		var payload TypingPayload
		assert.NoError(t, json.Unmarshal(sent[0].Payload, &payload))
		assert.Equal(t, "u1", payload.UserID)
		assert.True(t, payload.IsTyping)
	})

	t.Run("read receipt requires message id", func(t *testing.T) {
		events := &capturePublisher{}
		router := NewRouter(zerolog.Nop())
		RegisterChatRoutes(router, members, events, newMemConnections())

		err := router.Route(ctx, Identity{UserID: "u1"}, Frame{
			Type: TypeMessageRead,
			Data: json.RawMessage(`{"chatId":"c1"}`),
		})
		assert.True(t, errors.Is(err, ErrBadFrame))
		assert.Empty(t, events.envelopes())
	})

	t.Run("non-member denied", func(t *testing.T) {
		events := &capturePublisher{}
		router := NewRouter(zerolog.Nop())
		RegisterChatRoutes(router, members, events, newMemConnections())

		err := router.Route(ctx, Identity{UserID: "intruder"}, Frame{
			Type: TypeUserTyping,
			Data: json.RawMessage(`{"chatId":"c1","isTyping":true}`),
		})

		var denied *AccessDeniedError
		assert.True(t, errors.As(err, &denied))
		assert.Empty(t, events.envelopes())
	})

	t.Run("subscribe records interest on the connection", func(t *testing.T) {
		conns := newMemConnections()
		conns.Put(ctx, connectionFixture("conn-1", "u1"))

		router := NewRouter(zerolog.Nop())
		RegisterChatRoutes(router, members, &capturePublisher{}, conns)

		err := router.Route(ctx, Identity{ConnectionID: "conn-1", UserID: "u1"}, Frame{
			Type: TypeChatSubscribe,
			Data: json.RawMessage(`{"chatId":"c1"}`),
		})
		assert.NoError(t, err)

		conn, err := conns.Get(ctx, "conn-1")
		assert.NoError(t, err)
		assert.Contains(t, conn.Subscriptions, "c1")
	})
}
