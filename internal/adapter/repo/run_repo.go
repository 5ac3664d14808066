// Package repo persists batch run history.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"stockgen/internal/domain"
	"stockgen/internal/infra"
	"stockgen/internal/sqlinline"
)

const defaultListLimit = 20

// RunRepositoryPG implements domain.RunRepository on PostgreSQL.
type RunRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewRunRepository(sql infra.SQLExecutor) *RunRepositoryPG {
	return &RunRepositoryPG{sql: sql}
}

// EnsureSchema applies the idempotent DDL in sqlinline.Schema.
func EnsureSchema(ctx context.Context, sql infra.SQLExecutor) error {
	for _, stmt := range sqlinline.Schema {
		if _, err := sql.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("repo: ensure schema: %w", err)
		}
	}
	return nil
}

func (r *RunRepositoryPG) Create(ctx context.Context, run *domain.Run) error {
	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if _, err := r.sql.Exec(ctx, sqlinline.QInsertBatchRun, run.ID, string(run.Status), run.Requested, created); err != nil {
		return fmt.Errorf("repo: create run: %w", err)
	}
	return nil
}

func (r *RunRepositoryPG) Finish(ctx context.Context, runID string, report *domain.BatchReport, runErr error) error {
	status, errMsg := finishStatus(runErr)
	var (
		attempted, succeeded int
		reportPath           string
		entries              = []domain.ReportEntry{}
	)
	if report != nil {
		attempted, succeeded, reportPath = report.Attempted, report.Succeeded, report.ReportPath
		if report.Entries != nil {
			entries = report.Entries
		}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("repo: encode entries: %w", err)
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QFinishBatchRun, runID, string(status), attempted, succeeded, reportPath, errMsg, raw)
	if err != nil {
		return fmt.Errorf("repo: finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo: finish run %s: %w", runID, domain.ErrNotFound)
	}
	return nil
}

func (r *RunRepositoryPG) GetByID(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := scanRun(r.sql.QueryRow(ctx, sqlinline.QSelectBatchRunByID, runID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("repo: get run: %w", err)
	}
	return run, nil
}

func (r *RunRepositoryPG) ListRecent(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListRecentBatchRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("repo: list runs: %w", err)
	}
	defer rows.Close()
	var out []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("repo: scan run: %w", err)
		}
		out = append(out, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo: list runs: %w", err)
	}
	return out, nil
}

func scanRun(row pgx.Row) (*domain.Run, error) {
	var (
		run     domain.Run
		status  string
		entries []byte
	)
	if err := row.Scan(
		&run.ID,
		&status,
		&run.Requested,
		&run.Attempted,
		&run.Succeeded,
		&run.ReportPath,
		&run.ErrorMessage,
		&entries,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	if len(entries) > 0 {
		if err := json.Unmarshal(entries, &run.Entries); err != nil {
			return nil, fmt.Errorf("decode entries: %w", err)
		}
	}
	return &run, nil
}

func finishStatus(runErr error) (domain.RunStatus, string) {
	if runErr != nil {
		return domain.RunStatusFailed, runErr.Error()
	}
	return domain.RunStatusSucceeded, ""
}

var _ domain.RunRepository = (*RunRepositoryPG)(nil)
