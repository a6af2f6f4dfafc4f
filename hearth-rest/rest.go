// Package hearthrest provides the REST publish surface for the realtime
// subsystem, with CORS support and common middleware.
package hearthrest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	hearthcli "github.com/Hearth-Social/hearth-go-realtime/hearth-cli"
	"github.com/Hearth-Social/hearth-go-realtime/hearth-ws/publish"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/savaki/apigateway"
)

func Middlewares(service hearthcli.Service, routes chi.Router) chi.Router {
	routes.Use(
		withCORS(),
		withLogger(hearthcli.Logger(service)),
		middleware.Recoverer,
	)
	return routes
}

func Webserver(service hearthcli.Service, routes chi.Router) error {
	logger := hearthcli.Logger(service)

	if hearthcli.CommonOpts.Console {
		logger.Info().Int("port", hearthcli.CommonOpts.Port).Msg("starting http server")
		addr := fmt.Sprintf(":%v", hearthcli.CommonOpts.Port)
		return http.ListenAndServe(addr, routes)
	}

	lambda.Start(apigateway.Wrap(routes, hearthcli.CommonOpts.Env))
	return nil
}

// Publisher hands an accepted envelope to the events stream.
type Publisher interface {
	Send(ctx context.Context, env publish.Envelope) error
}

// PublishRoutes installs the event publish endpoint. Backend services POST
// envelopes here to have them fanned out to live connections.
func PublishRoutes(routes chi.Router, events Publisher) {
	routes.Post("/realtime/publish", publishHandler(events))
}

func publishHandler(events Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		logger := zerolog.Ctx(req.Context())

		var env publish.Envelope
		if err := json.NewDecoder(req.Body).Decode(&env); err != nil {
			httpError(w, http.StatusBadRequest, "invalid envelope")
			return
		}
		if env.Type == "" {
			httpError(w, http.StatusBadRequest, "type is required")
			return
		}
		if env.ChatID == "" && len(env.Recipients) == 0 {
			httpError(w, http.StatusBadRequest, "chatId or recipients is required")
			return
		}

		requestID := uuid.New().String()
		if err := events.Send(req.Context(), env); err != nil {
			logger.Error().Err(err).Str("request_id", requestID).Str("type", env.Type).Msg("failed to publish event")
			httpError(w, http.StatusInternalServerError, "failed to publish event")
			return
		}

		logger.Info().Str("request_id", requestID).Str("type", env.Type).Msg("event accepted")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"requestId": requestID,
			"status":    "accepted",
		})
	}
}

func httpError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func withCORS() func(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	})
}

func withLogger(logger zerolog.Logger) func(handler http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := logger.WithContext(req.Context())
			req = req.WithContext(ctx)
			handler.ServeHTTP(w, req)
		})
	}
}
