package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"stockgen/internal/domain"
)

// RunRepositoryMemory keeps runs in process memory. It backs the CLI and the
// API when no database is configured.
type RunRepositoryMemory struct {
	mu   sync.RWMutex
	runs map[string]domain.Run
	now  func() time.Time
}

func NewMemoryRunRepository() *RunRepositoryMemory {
	return &RunRepositoryMemory{runs: map[string]domain.Run{}, now: time.Now}
}

func (r *RunRepositoryMemory) Create(_ context.Context, run *domain.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; ok {
		return domain.ErrDuplicateOperation
	}
	stored := *run
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now()
	}
	stored.UpdatedAt = stored.CreatedAt
	r.runs[run.ID] = stored
	return nil
}

func (r *RunRepositoryMemory) Finish(_ context.Context, runID string, report *domain.BatchReport, runErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return domain.ErrNotFound
	}
	run.Status, run.ErrorMessage = finishStatus(runErr)
	if report != nil {
		run.Attempted = report.Attempted
		run.Succeeded = report.Succeeded
		run.ReportPath = report.ReportPath
		run.Entries = append([]domain.ReportEntry(nil), report.Entries...)
	}
	run.UpdatedAt = r.now()
	r.runs[runID] = run
	return nil
}

func (r *RunRepositoryMemory) GetByID(_ context.Context, runID string) (*domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &run, nil
}

func (r *RunRepositoryMemory) ListRecent(_ context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	r.mu.RLock()
	out := make([]domain.Run, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ domain.RunRepository = (*RunRepositoryMemory)(nil)
