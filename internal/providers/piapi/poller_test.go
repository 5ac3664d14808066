package piapi

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockgen/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

type scriptedFetcher struct {
	replies []Observation
	calls   int
}

func (s *scriptedFetcher) Status(_ context.Context, taskID string) (*StatusResponse, error) {
	idx := s.calls
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	s.calls++
	return s.replies[idx].Status, s.replies[idx].Err
}

func status(s domain.JobStatus) Observation {
	return Observation{Status: &StatusResponse{Status: s}}
}

func TestTransition(t *testing.T) {
	t.Parallel()
	processing := PollState{Phase: PhaseProcessing}
	cases := []struct {
		name    string
		current PollState
		obs     Observation
		want    PollState
	}{
		{name: "pending", current: PollState{Phase: PhaseSubmitted}, obs: status(domain.JobStatusPending), want: PollState{Phase: PhasePending}},
		{name: "staged", current: PollState{Phase: PhasePending}, obs: status(domain.JobStatusStaged), want: PollState{Phase: PhaseStaged}},
		{name: "unknown_is_processing", current: PollState{Phase: PhasePending}, obs: status("queued_upstream"), want: processing},
		{name: "transport_error_keeps_state", current: processing, obs: Observation{Err: errors.New("timeout")}, want: processing},
		{
			name:    "completed_with_urls",
			current: processing,
			obs:     Observation{Status: &StatusResponse{Status: domain.JobStatusCompleted, ImageURLs: []string{"u1"}}},
			want:    PollState{Phase: PhaseCompleted, URLs: []string{"u1"}},
		},
		{name: "completed_without_urls", current: processing, obs: status(domain.JobStatusCompleted), want: processing},
		{name: "failed_default_message", current: processing, obs: status(domain.JobStatusFailed), want: PollState{Phase: PhaseFailed, Message: "Unknown error"}},
		{
			name:    "failed_with_message",
			current: processing,
			obs:     Observation{Status: &StatusResponse{Status: domain.JobStatusFailed, ErrorMessage: "banned prompt"}},
			want:    PollState{Phase: PhaseFailed, Message: "banned prompt"},
		},
		{name: "terminal_is_sticky", current: PollState{Phase: PhaseFailed, Message: "x"}, obs: status(domain.JobStatusPending), want: PollState{Phase: PhaseFailed, Message: "x"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Transition(tc.current, tc.obs))
		})
	}
}

func TestPollerTimesOutWithinOneInterval(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Date(2024, 12, 8, 10, 0, 0, 0, time.UTC)}
	fetcher := &scriptedFetcher{replies: []Observation{status(domain.JobStatusProcessing)}}
	poller := NewPoller(fetcher, PollerOptions{Budget: time.Minute, Now: clock.Now, Sleep: clock.Sleep})

	_, err := poller.Wait(context.Background(), &domain.GenerationJob{ID: "task-1"})
	var timeout *domain.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.GreaterOrEqual(t, timeout.Elapsed, time.Minute)
	assert.Less(t, timeout.Elapsed, 70*time.Second)
	assert.Equal(t, 6, fetcher.calls)
}

func TestPollerCompletes(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Unix(0, 0)}
	fetcher := &scriptedFetcher{replies: []Observation{
		status(domain.JobStatusPending),
		{Err: errors.New("flaky network")},
		status(domain.JobStatusCompleted),
		{Status: &StatusResponse{Status: domain.JobStatusCompleted, TemporaryImageURLs: []string{"t1", "t2"}, ImageURL: "grid"}},
	}}
	poller := NewPoller(fetcher, PollerOptions{Budget: 10 * time.Minute, Now: clock.Now, Sleep: clock.Sleep})

	job, err := poller.Wait(context.Background(), &domain.GenerationJob{ID: "task-2", Provider: "piapi"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, []string{"t1", "t2"}, job.ArtifactURLs)
	assert.Equal(t, 4, fetcher.calls)
	assert.Equal(t, 30*time.Second, clock.Now().Sub(time.Unix(0, 0)))
}

func TestPollerFailure(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Unix(0, 0)}
	fetcher := &scriptedFetcher{replies: []Observation{
		{Status: &StatusResponse{Status: "FAILED", ErrorMessage: "moderation"}},
	}}
	// Raw uppercase statuses arrive normalized from Client.Status; mimic that here.
	fetcher.replies[0].Status.Status = domain.NormalizeJobStatus(string(fetcher.replies[0].Status.Status))
	poller := NewPoller(fetcher, PollerOptions{Now: clock.Now, Sleep: clock.Sleep})

	_, err := poller.Wait(context.Background(), &domain.GenerationJob{ID: "task-3"})
	var failed *domain.JobFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "moderation", failed.Message)
	assert.ErrorIs(t, err, domain.ErrPermanentJob)
}

func TestPollerStopsOnCancel(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Unix(0, 0)}
	fetcher := &scriptedFetcher{replies: []Observation{status(domain.JobStatusProcessing)}}
	poller := NewPoller(fetcher, PollerOptions{Now: clock.Now, Sleep: clock.Sleep})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := poller.Wait(ctx, &domain.GenerationJob{ID: "task-4"})
	assert.ErrorIs(t, err, context.Canceled)
}
