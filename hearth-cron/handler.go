// Package hearthcron provides utilities for building scheduled Lambda
// functions, such as the periodic presence audit.
package hearthcron

import (
	"context"
	"encoding/json"

	hearthcli "github.com/Hearth-Social/hearth-go-realtime/hearth-cli"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
)

type RunCallback func(ctx context.Context) error

type Handler struct {
	service hearthcli.Service
	logger  zerolog.Logger

	runOnce RunCallback
}

func NewHandler(
	service hearthcli.Service,
	runOnce RunCallback,
) *Handler {
	return &Handler{
		service: service,
		logger:  hearthcli.Logger(service),
		runOnce: runOnce,
	}
}

func (h *Handler) RunOnce(ctx context.Context, _ json.RawMessage) error {
	h.logger.Info().Msg("running scheduled task")
	return h.runOnce(ctx)
}

func (h *Handler) Start() error {
	switch {
	case hearthcli.CommonOpts.Console:
		return h.runOnce(context.Background())

	default:
		lambda.Start(h.RunOnce)
	}
	return nil
}
