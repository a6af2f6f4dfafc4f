package hearthws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Identity is the connection's identity context, snapshotted at connect time
// and passed to every frame handler.
type Identity struct {
	ConnectionID string
	UserID       string
	DisplayName  string
	Role         string
}

// RouteFunc handles one inbound frame type. Domain validation (may this user
// act on this chat?) belongs to the handler, not the router.
type RouteFunc func(ctx context.Context, id Identity, data json.RawMessage) error

// Router classifies inbound frames by type and dispatches to registered
// handlers. New event types are added by registration alone; connection
// lifecycle code never changes.
type Router struct {
	routes map[string]RouteFunc
	logger zerolog.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger zerolog.Logger) *Router {
	return &Router{
		routes: map[string]RouteFunc{},
		logger: logger,
	}
}

// Handle registers a handler for a frame type, replacing any previous one.
func (r *Router) Handle(frameType string, fn RouteFunc) {
	r.routes[frameType] = fn
}

// Route dispatches a parsed frame. An unregistered type yields
// ErrUnknownFrameType, a client error that leaves the connection open.
func (r *Router) Route(ctx context.Context, id Identity, frame Frame) error {
	fn, ok := r.routes[frame.Type]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownFrameType, frame.Type)
	}

	r.logger.Debug().
		Str("type", frame.Type).
		Str("user_id", id.UserID).
		Str("connection_id", id.ConnectionID).
		Msg("routing frame")

	return fn(ctx, id, frame.Data)
}
