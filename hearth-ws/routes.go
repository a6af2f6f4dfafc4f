package hearthws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/publish"
)

// EventPublisher hands outbound events to the fan-out stream.
type EventPublisher interface {
	Send(ctx context.Context, env publish.Envelope) error
}

// MembershipChecker answers whether a user participates in a chat.
type MembershipChecker interface {
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
}

// RegisterChatRoutes installs the built-in low-latency chat routes: typing
// indicators, read receipts, and informational chat subscriptions.
func RegisterChatRoutes(router *Router, members MembershipChecker, events EventPublisher, connections ConnectionStore) {
	router.Handle(TypeUserTyping, typingRoute(members, events))
	router.Handle(TypeMessageRead, readReceiptRoute(members, events))
	router.Handle(TypeChatSubscribe, subscribeRoute(members, connections))
}

func typingRoute(members MembershipChecker, events EventPublisher) RouteFunc {
	return func(ctx context.Context, id Identity, data json.RawMessage) error {
		var payload TypingPayload
		if err := json.Unmarshal(data, &payload); err != nil || payload.ChatID == "" {
			return fmt.Errorf("%w: user.typing requires chatId", ErrBadFrame)
		}

		if err := requireMembership(ctx, members, payload.ChatID, id.UserID); err != nil {
			return err
		}

		payload.UserID = id.UserID
		env, err := publish.NewEnvelope(EventUserTyping, payload)
		if err != nil {
			return err
		}
		env.ChatID = payload.ChatID
		env.ExcludeUserID = id.UserID
		return events.Send(ctx, env)
	}
}

func readReceiptRoute(members MembershipChecker, events EventPublisher) RouteFunc {
	return func(ctx context.Context, id Identity, data json.RawMessage) error {
		var payload ReadReceiptPayload
		if err := json.Unmarshal(data, &payload); err != nil || payload.ChatID == "" || payload.MessageID == "" {
			return fmt.Errorf("%w: message.read requires chatId and messageId", ErrBadFrame)
		}

		if err := requireMembership(ctx, members, payload.ChatID, id.UserID); err != nil {
			return err
		}

		payload.UserID = id.UserID
		env, err := publish.NewEnvelope(EventMessageRead, payload)
		if err != nil {
			return err
		}
		env.ChatID = payload.ChatID
		env.ExcludeUserID = id.UserID
		return events.Send(ctx, env)
	}
}

func subscribeRoute(members MembershipChecker, connections ConnectionStore) RouteFunc {
	return func(ctx context.Context, id Identity, data json.RawMessage) error {
		var payload SubscribePayload
		if err := json.Unmarshal(data, &payload); err != nil || payload.ChatID == "" {
			return fmt.Errorf("%w: chat.subscribe requires chatId", ErrBadFrame)
		}

		if err := requireMembership(ctx, members, payload.ChatID, id.UserID); err != nil {
			return err
		}

		return connections.AddSubscription(ctx, id.ConnectionID, payload.ChatID)
	}
}

func requireMembership(ctx context.Context, members MembershipChecker, chatID, userID string) error {
	ok, err := members.IsMember(ctx, chatID, userID)
	if err != nil {
		return fmt.Errorf("checking membership of %v in chat %v: %w", userID, chatID, err)
	}
	if !ok {
		return &AccessDeniedError{Reason: fmt.Sprintf("user %v is not a member of chat %v", userID, chatID)}
	}
	return nil
}
