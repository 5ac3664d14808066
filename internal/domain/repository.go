package domain

import "context"

// RunRepository persists batch runs and their accepted entries.
type RunRepository interface {
	Create(ctx context.Context, run *Run) error
	Finish(ctx context.Context, runID string, report *BatchReport, runErr error) error
	GetByID(ctx context.Context, runID string) (*Run, error)
	ListRecent(ctx context.Context, limit int) ([]Run, error)
}
