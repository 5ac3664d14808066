package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"stockgen/internal/domain"
	"stockgen/pkg/zip"
)

const maxListLimit = 100

type createBatchRequest struct {
	Count   int             `json:"count"`
	Options json.RawMessage `json:"options"`
}

type createBatchResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Href   string `json:"href"`
}

type runResponse struct {
	ID           string               `json:"id"`
	Status       string               `json:"status"`
	Requested    int                  `json:"requested"`
	Attempted    int                  `json:"attempted"`
	Succeeded    int                  `json:"succeeded"`
	Accepted     int                  `json:"accepted"`
	ReportPath   string               `json:"report_path,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
	Entries      []domain.ReportEntry `json:"entries,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

func newRunResponse(run domain.Run, withEntries bool) runResponse {
	resp := runResponse{
		ID:           run.ID,
		Status:       string(run.Status),
		Requested:    run.Requested,
		Attempted:    run.Attempted,
		Succeeded:    run.Succeeded,
		Accepted:     len(run.Entries),
		ReportPath:   run.ReportPath,
		ErrorMessage: run.ErrorMessage,
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
	}
	if withEntries {
		resp.Entries = run.Entries
	}
	return resp
}

// CreateBatch starts a batch in the background. The optional options object
// overrides the configured pipeline defaults field by field.
func (a *App) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Count < 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "count must not be negative")
		return
	}
	opts := a.Defaults
	opts.AspectRatios = slices.Clone(a.Defaults.AspectRatios)
	if len(req.Options) > 0 {
		dec := json.NewDecoder(bytes.NewReader(req.Options))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid options: %v", err))
			return
		}
	}

	runID, err := a.Batches.Start(a.BaseCtx, req.Count, opts, func(report *domain.BatchReport) {
		a.Logger.Info().
			Str("run_id", report.RunID).
			Int("attempted", report.Attempted).
			Int("succeeded", report.Succeeded).
			Msg("handlers: background batch finished")
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	href := "/v1/batches/" + runID
	w.Header().Set("Location", href)
	a.json(w, http.StatusAccepted, createBatchResponse{RunID: runID, Status: string(domain.RunStatusRunning), Href: href})
}

func (a *App) ListBatches(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.error(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	runs, err := a.Runs.ListRecent(r.Context(), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	items := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		items = append(items, newRunResponse(run, false))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items, "running": a.Batches.Running()})
}

func (a *App) GetBatch(w http.ResponseWriter, r *http.Request) {
	run, err := a.Runs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, newRunResponse(*run, true))
}

// BatchArchive streams the processed images and the report of a finished
// run as a zip file.
func (a *App) BatchArchive(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	run, err := a.Runs.GetByID(r.Context(), runID)
	if err != nil {
		a.fail(w, err)
		return
	}
	if run.Status == domain.RunStatusRunning {
		a.error(w, http.StatusConflict, "run_in_progress", "run has not finished")
		return
	}
	entries := make([]zip.Entry, 0, len(run.Entries)+1)
	for _, e := range run.Entries {
		if e.OutputPath != "" {
			entries = append(entries, zip.Entry{Path: e.OutputPath})
		}
	}
	if run.ReportPath != "" {
		entries = append(entries, zip.Entry{Path: run.ReportPath})
	}
	if len(entries) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "run has no outputs")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=batch-%s.zip", run.ID))
	w.WriteHeader(http.StatusOK)
	skipped, err := zip.Write(w, entries)
	if err != nil {
		a.Logger.Error().Err(err).Str("run_id", run.ID).Msg("handlers: archive stream failed")
		return
	}
	if len(skipped) > 0 {
		a.Logger.Warn().Str("run_id", run.ID).Strs("missing", skipped).Msg("handlers: archive skipped missing files")
	}
}
