package piapi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stockgen/internal/domain"
	"stockgen/internal/infra"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultPollBudget   = 10 * time.Minute
	unknownFailure      = "Unknown error"
)

// Phase is the poller's view of a task.
type Phase int

const (
	PhaseSubmitted Phase = iota
	PhasePending
	PhaseStaged
	PhaseProcessing
	PhaseCompleted
	PhaseFailed
	PhaseTimedOut
)

func (p Phase) String() string {
	switch p {
	case PhaseSubmitted:
		return "submitted"
	case PhasePending:
		return "pending"
	case PhaseStaged:
		return "staged"
	case PhaseProcessing:
		return "processing"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	case PhaseTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further polling can change the phase.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseTimedOut
}

// PollState is the accumulated polling result. URLs is set only when
// completed and Message only when failed.
type PollState struct {
	Phase   Phase
	URLs    []string
	Message string
}

// Observation is the outcome of one status poll: either a reply or an error.
type Observation struct {
	Status *StatusResponse
	Err    error
}

// Transition folds one observation into the current state. Transport errors,
// completed replies without URLs and terminal states leave the state unchanged.
func Transition(current PollState, obs Observation) PollState {
	if current.Phase.Terminal() || obs.Err != nil || obs.Status == nil {
		return current
	}
	switch obs.Status.Status {
	case domain.JobStatusCompleted:
		urls := obs.Status.ArtifactURLs()
		if len(urls) == 0 {
			return current
		}
		return PollState{Phase: PhaseCompleted, URLs: urls}
	case domain.JobStatusFailed:
		return PollState{Phase: PhaseFailed, Message: coalesce(obs.Status.ErrorMessage, unknownFailure)}
	case domain.JobStatusPending:
		return PollState{Phase: PhasePending}
	case domain.JobStatusStaged:
		return PollState{Phase: PhaseStaged}
	default:
		return PollState{Phase: PhaseProcessing}
	}
}

// StatusFetcher is the subset of Client used by the poller.
type StatusFetcher interface {
	Status(ctx context.Context, taskID string) (*StatusResponse, error)
}

type PollerOptions struct {
	Interval time.Duration
	Budget   time.Duration
	Logger   *infra.Logger
	// Now and Sleep replace the wall clock in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Poller waits for submitted tasks to reach a terminal state within a budget.
type Poller struct {
	client   StatusFetcher
	interval time.Duration
	budget   time.Duration
	logger   *infra.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewPoller(client StatusFetcher, opts PollerOptions) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	budget := opts.Budget
	if budget <= 0 {
		budget = DefaultPollBudget
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Poller{client: client, interval: interval, budget: budget, logger: logger, now: now, sleep: sleep}
}

// Wait polls job until it completes, fails or exceeds the configured budget.
// On success the returned job carries the artifact URLs.
func (p *Poller) Wait(ctx context.Context, job *domain.GenerationJob) (*domain.GenerationJob, error) {
	return p.WaitWithin(ctx, job, p.budget)
}

// WaitWithin is Wait with a per-call budget. A non-positive budget uses the
// configured one.
func (p *Poller) WaitWithin(ctx context.Context, job *domain.GenerationJob, budget time.Duration) (*domain.GenerationJob, error) {
	if budget <= 0 {
		budget = p.budget
	}
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return nil, fmt.Errorf("piapi: wait: job id is required: %w", domain.ErrValidation)
	}
	start := p.now()
	state := PollState{Phase: PhaseSubmitted}
	timedOut := func() error {
		elapsed := p.now().Sub(start)
		if elapsed < budget {
			return nil
		}
		p.logger.Warn().
			Str("task_id", job.ID).
			Dur("elapsed", elapsed).
			Str("last_phase", state.Phase.String()).
			Msg("piapi: polling budget exhausted")
		return &domain.TimeoutError{JobID: job.ID, Budget: budget, Elapsed: elapsed}
	}

	for {
		if err := timedOut(); err != nil {
			return nil, err
		}
		status, err := p.client.Status(ctx, job.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn().Err(err).Str("task_id", job.ID).Msg("piapi: status poll failed")
		}
		next := Transition(state, Observation{Status: status, Err: err})
		if status != nil && status.Status == domain.JobStatusCompleted && next.Phase != PhaseCompleted {
			p.logger.Warn().Str("task_id", job.ID).Msg("piapi: task completed without image urls")
		}
		if next.Phase != state.Phase {
			p.logger.Debug().
				Str("task_id", job.ID).
				Str("from", state.Phase.String()).
				Str("to", next.Phase.String()).
				Msg("piapi: task state changed")
		}
		state = next

		switch state.Phase {
		case PhaseCompleted:
			done := *job
			done.Status = domain.JobStatusCompleted
			done.ArtifactURLs = state.URLs
			p.logger.Info().
				Str("task_id", job.ID).
				Int("urls", len(state.URLs)).
				Dur("elapsed", p.now().Sub(start)).
				Msg("piapi: task completed")
			return &done, nil
		case PhaseFailed:
			return nil, &domain.JobFailedError{JobID: job.ID, Message: state.Message}
		}

		if err := p.sleep(ctx, p.interval); err != nil {
			return nil, err
		}
		if err := timedOut(); err != nil {
			return nil, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
