// Package handlers serves the batch control plane over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"stockgen/internal/domain"
	"stockgen/internal/domain/jsoncfg"
	"stockgen/internal/infra"
)

// BatchStarter launches batches in the background.
type BatchStarter interface {
	Start(ctx context.Context, count int, opts jsoncfg.PipelineOptions, done func(*domain.BatchReport)) (string, error)
	Running() bool
}

type App struct {
	Batches  BatchStarter
	Runs     domain.RunRepository
	Defaults jsoncfg.PipelineOptions
	Logger   *infra.Logger

	// BaseCtx outlives individual requests; background batches run on it so
	// they stop on shutdown rather than when the POST returns.
	BaseCtx context.Context
	Now     func() time.Time
}

func NewApp(batches BatchStarter, runs domain.RunRepository, defaults jsoncfg.PipelineOptions, logger *infra.Logger) *App {
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &App{
		Batches:  batches,
		Runs:     runs,
		Defaults: defaults,
		Logger:   logger,
		BaseCtx:  context.Background(),
		Now:      time.Now,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, errorResponse{Error: kind, Message: message})
}

// fail maps domain errors onto status codes.
func (a *App) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrBatchInProgress):
		a.error(w, http.StatusConflict, "batch_in_progress", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "run not found")
	case errors.Is(err, domain.ErrConfig), errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("handlers: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
