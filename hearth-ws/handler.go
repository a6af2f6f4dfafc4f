// Package hearthws implements the realtime connection and fan-out subsystem:
// the WebSocket lifecycle handler, the connection registry and presence
// tracking, inbound frame routing, and event broadcast with stale-connection
// pruning.
package hearthws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	hearthauth "github.com/Hearth-Social/hearth-go-realtime/hearth-auth"
	hearthcli "github.com/Hearth-Social/hearth-go-realtime/hearth-cli"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/connectiondao"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/publish"
	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi"
	"github.com/rs/zerolog"
)

// CredentialValidator is the identity-provider collaborator: it turns the
// opaque bearer credential from the connect handshake into a principal.
type CredentialValidator interface {
	Validate(credential string) (hearthauth.Principal, error)
}

// ContactResolver supplies the audience for a user's presence transitions.
type ContactResolver interface {
	ContactsForUser(ctx context.Context, userID string) ([]string, error)
}

// Handler governs the WebSocket connection lifecycle: it authenticates
// $connect, cleans up on $disconnect, and routes $default application frames.
type Handler struct {
	Registry *Registry
	Auth     CredentialValidator
	Router   *Router
	Contacts ContactResolver
	Events   EventPublisher
	Logger   zerolog.Logger
	Metrics  *hearthcli.Metrics

	// ConnTTL bounds how long an untargeted dead connection can linger: the
	// record expires in DynamoDB and the reaper repairs presence from the
	// table stream (default 2 hours).
	ConnTTL time.Duration

	// AllowedRoles limits who may open a realtime session; empty allows any
	// authenticated principal.
	AllowedRoles []string

	// Respond sends a frame back to the calling connection, for in-handler
	// error frames. Overridable for tests; nil uses the management API.
	Respond func(ctx context.Context, endpoint, connectionID string, data []byte) error
}

// HandleEvent routes an API Gateway WebSocket event to the appropriate
// lifecycle transition.
func (h *Handler) HandleEvent(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	logger := h.Logger.With().
		Str("connection_id", req.RequestContext.ConnectionID).
		Str("route", req.RequestContext.RouteKey).
		Logger()

	switch req.RequestContext.RouteKey {
	case "$connect":
		return h.handleConnect(ctx, logger, req)
	case "$disconnect":
		return h.handleDisconnect(ctx, logger, req)
	case "$default":
		return h.handleFrame(ctx, logger, req)
	default:
		logger.Warn().Msg("unknown route")
		return events.APIGatewayProxyResponse{StatusCode: 400}, nil
	}
}

func (h *Handler) handleConnect(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	credential := connectCredential(req)
	if credential == "" {
		logger.Warn().Err(ErrUnauthenticated).Msg("rejecting connect")
		return events.APIGatewayProxyResponse{StatusCode: 401}, nil
	}

	principal, err := h.Auth.Validate(credential)
	if err != nil {
		logger.Warn().Err(fmt.Errorf("%w: %v", ErrInvalidCredentials, err)).Msg("rejecting connect")
		return events.APIGatewayProxyResponse{StatusCode: 401}, nil
	}

	if !h.roleAllowed(principal.Role) {
		logger.Warn().Err(ErrForbidden).Str("role", principal.Role).Msg("rejecting connect")
		return events.APIGatewayProxyResponse{StatusCode: 403}, nil
	}

	ttl := h.ConnTTL
	if ttl == 0 {
		ttl = 2 * time.Hour
	}

	now := time.Now()
	conn := connectiondao.Connection{
		ConnectionID: req.RequestContext.ConnectionID,
		UserID:       principal.UserID,
		DisplayName:  principal.DisplayName,
		Role:         principal.Role,
		Endpoint:     callbackEndpoint(req),
		ConnectedAt:  now.Unix(),
		LastSeenAt:   now.Unix(),
		TTL:          now.Add(ttl).Unix(),
	}

	wentOnline, err := h.Registry.Register(ctx, conn)
	if err != nil {
		logger.Error().Err(err).Msg("failed to register connection")
		return events.APIGatewayProxyResponse{StatusCode: 500}, nil
	}

	if h.Metrics != nil {
		h.Metrics.Event(ctx, hearthcli.ConnectionsOpenedMetric)
	}

	if wentOnline {
		h.announcePresence(ctx, logger, EventUserOnline, principal.UserID)
	}

	logger.Info().Str("user_id", principal.UserID).Msg("connection established")
	return events.APIGatewayProxyResponse{StatusCode: 200}, nil
}

func (h *Handler) handleDisconnect(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	// The transport session is already gone; nothing here may fail the flow.
	conn, wentOffline, err := h.Registry.Deregister(ctx, req.RequestContext.ConnectionID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to deregister connection")
		return events.APIGatewayProxyResponse{StatusCode: 200}, nil
	}
	if conn == nil {
		logger.Debug().Msg("connection already cleaned up")
		return events.APIGatewayProxyResponse{StatusCode: 200}, nil
	}

	if h.Metrics != nil {
		h.Metrics.Event(ctx, hearthcli.ConnectionsClosedMetric)
	}

	if wentOffline {
		h.announcePresence(ctx, logger, EventUserOffline, conn.UserID)
	}

	logger.Info().Str("user_id", conn.UserID).Msg("connection closed")
	return events.APIGatewayProxyResponse{StatusCode: 200}, nil
}

func (h *Handler) handleFrame(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connID := req.RequestContext.ConnectionID

	conn, err := h.Registry.Connections.Get(ctx, connID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to look up connection")
		return events.APIGatewayProxyResponse{StatusCode: 500}, nil
	}
	if conn == nil {
		logger.Warn().Msg("frame from unregistered connection")
		return events.APIGatewayProxyResponse{StatusCode: 410}, nil
	}

	if err := h.Registry.Touch(ctx, connID); err != nil {
		logger.Warn().Err(err).Msg("failed to touch connection")
	}

	frame, err := ParseFrame(req.Body)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid frame")
		return events.APIGatewayProxyResponse{StatusCode: 400}, nil
	}

	id := Identity{
		ConnectionID: connID,
		UserID:       conn.UserID,
		DisplayName:  conn.DisplayName,
		Role:         conn.Role,
	}

	err = h.Router.Route(ctx, id, *frame)
	switch {
	case err == nil:
		return events.APIGatewayProxyResponse{StatusCode: 200}, nil

	case errors.Is(err, ErrUnknownFrameType), errors.Is(err, ErrBadFrame):
		logger.Warn().Err(err).Str("type", frame.Type).Msg("client error")
		return events.APIGatewayProxyResponse{StatusCode: 400}, nil

	default:
		var denied *AccessDeniedError
		if errors.As(err, &denied) {
			logger.Warn().Err(err).Str("type", frame.Type).Str("user_id", conn.UserID).Msg("access denied")
			if sendErr := h.respond(ctx, conn.Endpoint, connID, ErrorEvent(denied.Reason)); sendErr != nil {
				logger.Error().Err(sendErr).Msg("failed to send error frame")
			}
			return events.APIGatewayProxyResponse{StatusCode: 200}, nil
		}

		logger.Error().Err(err).Str("type", frame.Type).Msg("handler failed")
		return events.APIGatewayProxyResponse{StatusCode: 500}, nil
	}
}

// announcePresence publishes a presence transition to the user's contacts.
// Failures are logged only; presence announcements never fail a handshake.
func (h *Handler) announcePresence(ctx context.Context, logger zerolog.Logger, eventType, userID string) {
	contacts, err := h.Contacts.ContactsForUser(ctx, userID)
	if err != nil {
		logger.Error().Err(err).Str("user_id", userID).Msg("failed to resolve presence audience")
		return
	}
	if len(contacts) == 0 {
		return
	}

	env, err := publish.NewEnvelope(eventType, PresencePayload{
		UserID:   userID,
		LastSeen: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to build presence envelope")
		return
	}
	env.Recipients = contacts
	env.ExcludeUserID = userID

	if err := h.Events.Send(ctx, env); err != nil {
		logger.Error().Err(err).Str("event", eventType).Str("user_id", userID).Msg("failed to publish presence event")
	}
}

func (h *Handler) roleAllowed(role string) bool {
	if len(h.AllowedRoles) == 0 {
		return true
	}
	for _, allowed := range h.AllowedRoles {
		if role == allowed {
			return true
		}
	}
	return false
}

func (h *Handler) respond(ctx context.Context, endpoint, connectionID string, data []byte) error {
	if h.Respond != nil {
		return h.Respond(ctx, endpoint, connectionID, data)
	}

	sess := session.Must(session.NewSession(aws.NewConfig().WithEndpoint(endpoint)))
	client := apigatewaymanagementapi.New(sess)

	_, err := client.PostToConnectionWithContext(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         data,
	})
	return err
}

// connectCredential extracts the bearer credential from the handshake, from
// the token query parameter or an Authorization header.
func connectCredential(req events.APIGatewayWebsocketProxyRequest) string {
	if token := req.QueryStringParameters["token"]; token != "" {
		return token
	}
	for _, key := range []string{"Authorization", "authorization"} {
		if value := req.Headers[key]; value != "" {
			return strings.TrimPrefix(value, "Bearer ")
		}
	}
	return ""
}

func callbackEndpoint(req events.APIGatewayWebsocketProxyRequest) string {
	return fmt.Sprintf("https://%s/%s", req.RequestContext.DomainName, req.RequestContext.Stage)
}
