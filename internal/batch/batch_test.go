package batch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"stockgen/internal/adapter/repo"
	"stockgen/internal/domain"
	"stockgen/internal/domain/jsoncfg"
	"stockgen/internal/keywords"
	"stockgen/internal/providers/piapi"
	"stockgen/internal/providers/prompt"
)

var runStart = time.Date(2024, 12, 8, 10, 15, 0, 0, time.UTC)

type fakePrompts struct {
	fail map[string]bool
}

func (f *fakePrompts) Synthesize(_ context.Context, req prompt.SynthesizeRequest) (*prompt.Synthesis, error) {
	label := req.Keyword.Label()
	if f.fail[label] {
		return nil, &domain.PromptSynthesisError{Keyword: label, Err: errors.New("model down")}
	}
	return &prompt.Synthesis{Prompt: "photo of " + label, PromptContext: label, Provider: "fake"}, nil
}

type fakeJobs struct {
	mu       sync.Mutex
	submits  []piapi.SubmitRequest
	urls     int
	failWait map[string]bool
}

func (f *fakeJobs) Submit(_ context.Context, req piapi.SubmitRequest) (*domain.GenerationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, req)
	return &domain.GenerationJob{ID: fmt.Sprintf("task-%d", len(f.submits)), Status: domain.JobStatusPending}, nil
}

func (f *fakeJobs) WaitWithin(_ context.Context, job *domain.GenerationJob, budget time.Duration) (*domain.GenerationJob, error) {
	if f.failWait[job.ID] {
		return nil, &domain.TimeoutError{JobID: job.ID, Budget: budget, Elapsed: budget}
	}
	done := *job
	done.Status = domain.JobStatusCompleted
	for i := 1; i <= f.urls; i++ {
		done.ArtifactURLs = append(done.ArtifactURLs, fmt.Sprintf("https://cdn/%s/%d.png", job.ID, i))
	}
	return &done, nil
}

type fakeFetcher struct{}

func (fakeFetcher) Fetch(_ context.Context, base string, urls []string) []domain.Artifact {
	out := make([]domain.Artifact, 0, len(urls))
	for i, u := range urls {
		out = append(out, domain.Artifact{Ordinal: i + 1, SourceURL: u, LocalPath: fmt.Sprintf("generated/%s_%d.png", base, i+1)})
	}
	return out
}

type fakeQuality struct {
	reject map[string]bool
}

func (f *fakeQuality) Check(_ context.Context, art domain.Artifact) (domain.QualityVerdict, error) {
	if f.reject[art.LocalPath] {
		return domain.QualityVerdict{State: domain.VerdictFailed, Score: 2, Reason: "logo"}, nil
	}
	return domain.QualityVerdict{State: domain.VerdictPassed, Score: 9}, nil
}

type fakeMetadata struct {
	fail map[string]bool
}

func (f *fakeMetadata) Enrich(_ context.Context, art domain.Artifact, promptContext string) (*domain.Metadata, error) {
	if f.fail[art.LocalPath] {
		return nil, &domain.ParseError{Stage: "metadata", Err: errors.New("not json")}
	}
	en := func(s string) map[language.Tag]string { return map[language.Tag]string{domain.DefaultLocale: s} }
	return &domain.Metadata{Title: en("Title " + promptContext), Description: en("desc"), Tags: en("a, b")}, nil
}

type fakeTransformer struct {
	mu    sync.Mutex
	names []string
}

func (f *fakeTransformer) Process(_ context.Context, input, name string, opts jsoncfg.PipelineOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	return "toupload/" + name + opts.OutputExtension(), nil
}

type fakeFiles struct {
	mu      sync.Mutex
	removed []string
}

func (f *fakeFiles) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, path)
	return nil
}

type fakeReport struct {
	calls   int
	entries []domain.ReportEntry
}

func (f *fakeReport) Write(_ context.Context, entries []domain.ReportEntry, day time.Time) (string, error) {
	f.calls++
	f.entries = entries
	return "toupload/upload_data_" + day.Format("2006_01_02") + ".xlsx", nil
}

type harness struct {
	prompts   *fakePrompts
	jobs      *fakeJobs
	quality   *fakeQuality
	metadata  *fakeMetadata
	transform *fakeTransformer
	files     *fakeFiles
	report    *fakeReport
	orch      *Orchestrator
}

func newHarness(t *testing.T, pool []keywords.Entry) *harness {
	t.Helper()
	h := &harness{
		prompts:   &fakePrompts{fail: map[string]bool{}},
		jobs:      &fakeJobs{urls: 1, failWait: map[string]bool{}},
		quality:   &fakeQuality{reject: map[string]bool{}},
		metadata:  &fakeMetadata{fail: map[string]bool{}},
		transform: &fakeTransformer{},
		files:     &fakeFiles{},
		report:    &fakeReport{},
	}
	orch, err := NewOrchestrator(Deps{
		Keywords:    func(context.Context) ([]keywords.Entry, error) { return pool, nil },
		Prompts:     h.prompts,
		Submitter:   h.jobs,
		Waiter:      h.jobs,
		Fetcher:     fakeFetcher{},
		Quality:     h.quality,
		Metadata:    h.metadata,
		Transformer: h.transform,
		Files:       h.files,
		Report:      h.report,
		Now:         func() time.Time { return runStart },
		Rand:        func() *rand.Rand { return rand.New(rand.NewSource(1)) },
	})
	require.NoError(t, err)
	h.orch = orch
	return h
}

func flat(words ...string) []keywords.Entry {
	out := make([]keywords.Entry, 0, len(words))
	for _, w := range words {
		out = append(out, keywords.Flat(w))
	}
	return out
}

func options() jsoncfg.PipelineOptions {
	return jsoncfg.PipelineOptions{RunQualityCheck: true, RunMetadataGen: true}
}

func TestRatioCursorRoundRobin(t *testing.T) {
	t.Parallel()
	c, err := NewRatioCursor([]string{"1:1", "16:9"})
	require.NoError(t, err)
	var got []string
	for i := 0; i < 5; i++ {
		got = append(got, c.Next())
	}
	assert.Equal(t, []string{"1:1", "16:9", "1:1", "16:9", "1:1"}, got)
	c.Reset()
	assert.Equal(t, "1:1", c.Next())

	_, err = NewRatioCursor(nil)
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestKeywordCursor(t *testing.T) {
	t.Parallel()
	seq, err := NewKeywordCursor(flat("a", "b"), false, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "a"}, []string{seq.Next().Keyword, seq.Next().Keyword, seq.Next().Keyword})
	seq.Reset()
	assert.Equal(t, "a", seq.Next().Keyword)

	draw := func() []string {
		c, err := NewKeywordCursor(flat("a", "b", "c"), true, rand.New(rand.NewSource(42)))
		require.NoError(t, err)
		var out []string
		for i := 0; i < 6; i++ {
			out = append(out, c.Next().Keyword)
		}
		return out
	}
	first := draw()
	assert.Equal(t, first, draw())
	for _, k := range first {
		assert.Contains(t, []string{"a", "b", "c"}, k)
	}

	_, err = NewKeywordCursor(nil, false, nil)
	assert.ErrorIs(t, err, keywords.ErrEmpty)
	_, err = NewKeywordCursor(flat("a"), true, nil)
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestItemName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "20241208_101500_3", ItemName(runStart, 3))
}

func TestRunBatchCountsFailures(t *testing.T) {
	t.Parallel()
	h := newHarness(t, flat("fox", "owl", "cat"))
	h.prompts.fail["owl"] = true
	opts := options()
	opts.AspectRatios = []string{"1:1", "16:9"}

	report, err := h.orch.RunBatch(context.Background(), 3, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 2, report.TotalAccepted())
	assert.Equal(t, 1, report.Entries[0].ItemIndex)
	assert.Equal(t, 3, report.Entries[1].ItemIndex)
	assert.Equal(t, "toupload/20241208_101500_1_1.png", report.Entries[0].OutputPath)
	assert.Equal(t, "Title cat", domain.Lookup(report.Entries[1].Metadata.Title, domain.DefaultLocale))
	assert.Equal(t, 1, h.report.calls)
	assert.Equal(t, "toupload/upload_data_2024_12_08.xlsx", report.ReportPath)
	require.Len(t, h.jobs.submits, 2)
	assert.Equal(t, "1:1", h.jobs.submits[0].AspectRatio)
	assert.Equal(t, "1:1", h.jobs.submits[1].AspectRatio)
	assert.Equal(t, "relax", h.jobs.submits[0].ProcessMode)
	assert.False(t, h.orch.Running())
}

func TestRunBatchQualityFailureKeepsFile(t *testing.T) {
	t.Parallel()
	h := newHarness(t, flat("fox"))
	h.jobs.urls = 3
	h.quality.reject["generated/20241208_101500_1_2.png"] = true
	h.metadata.fail["generated/20241208_101500_1_3.png"] = true

	report, err := h.orch.RunBatch(context.Background(), 1, options())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, "toupload/20241208_101500_1_1.png", report.Entries[0].OutputPath)
	assert.Equal(t, []string{"generated/20241208_101500_1_3.png"}, h.files.removed)
	assert.Equal(t, []string{"20241208_101500_1_1"}, h.transform.names)
}

func TestRunBatchJpgAndVersionTag(t *testing.T) {
	t.Parallel()
	h := newHarness(t, flat("fox"))
	opts := options()
	opts.ConvertToJpg = true
	opts.ProviderVersionTag = "6.1"

	report, err := h.orch.RunBatch(context.Background(), 1, opts)
	require.NoError(t, err)
	require.Len(t, report.Entries, 1)
	assert.True(t, strings.HasSuffix(report.Entries[0].OutputPath, ".jpg"))
	assert.Equal(t, "photo of fox --v 6.1", h.jobs.submits[0].Prompt)
}

func TestRunBatchSkipsReportWithoutMetadata(t *testing.T) {
	t.Parallel()
	h := newHarness(t, flat("fox"))
	h.jobs.failWait["task-2"] = true

	report, err := h.orch.RunBatch(context.Background(), 2, jsoncfg.PipelineOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 1, report.Succeeded)
	assert.Nil(t, report.Entries[0].Metadata)
	assert.Zero(t, h.report.calls)
	assert.Empty(t, report.ReportPath)
}

func TestRunBatchConfigErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	_, err := h.orch.RunBatch(context.Background(), 1, options())
	assert.ErrorIs(t, err, domain.ErrConfig)

	records := []keywords.Entry{{Fields: map[string]string{"Subject": "fox"}}}
	h = newHarness(t, records)
	opts := options()
	opts.PromptTemplate = "A ${{Subject}} holding ${{Prop}}"
	_, err = h.orch.RunBatch(context.Background(), 1, opts)
	assert.ErrorIs(t, err, domain.ErrConfig)
	assert.ErrorIs(t, err, domain.ErrValidation)

	opts = options()
	opts.AspectRatios = []string{"wide"}
	_, err = h.orch.RunBatch(context.Background(), 1, opts)
	assert.ErrorIs(t, err, domain.ErrConfig)
	assert.Empty(t, h.jobs.submits)
}

func TestRunBatchStopsWhenCancelled(t *testing.T) {
	t.Parallel()
	h := newHarness(t, flat("fox"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := h.orch.RunBatch(ctx, 5, options())
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	t.Parallel()
	h := newHarness(t, flat("fox"))
	release := make(chan struct{})
	finished := make(chan *domain.BatchReport, 1)
	h.orch.deps.Keywords = func(context.Context) ([]keywords.Entry, error) { return flat("fox"), nil }
	blocking := &blockingPrompts{release: release}
	h.orch.deps.Prompts = blocking

	runID, err := h.orch.Start(context.Background(), 1, options(), func(r *domain.BatchReport) { finished <- r })
	require.NoError(t, err)
	assert.NotEmpty(t, runID)
	assert.True(t, h.orch.Running())

	_, err = h.orch.RunBatch(context.Background(), 1, options())
	assert.ErrorIs(t, err, domain.ErrBatchInProgress)

	close(release)
	report := <-finished
	assert.Equal(t, runID, report.RunID)
	assert.Equal(t, 1, report.Succeeded)
}

type blockingPrompts struct {
	release chan struct{}
}

func (b *blockingPrompts) Synthesize(ctx context.Context, req prompt.SynthesizeRequest) (*prompt.Synthesis, error) {
	<-b.release
	return &prompt.Synthesis{Prompt: "photo of " + req.Keyword.Label(), PromptContext: req.Keyword.Label()}, nil
}

func TestRunBatchRecordsRunHistory(t *testing.T) {
	t.Parallel()
	h := newHarness(t, flat("fox", "owl"))
	runs := repo.NewMemoryRunRepository()
	h.orch.deps.Runs = runs

	report, err := h.orch.RunBatch(context.Background(), 2, options())
	require.NoError(t, err)

	run, err := runs.GetByID(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, run.Status)
	assert.Equal(t, 2, run.Requested)
	assert.Equal(t, report.Attempted, run.Attempted)
	assert.Len(t, run.Entries, report.TotalAccepted())
}

func TestStartRecordsRunBeforeItems(t *testing.T) {
	t.Parallel()
	h := newHarness(t, flat("fox"))
	runs := repo.NewMemoryRunRepository()
	h.orch.deps.Runs = runs
	release := make(chan struct{})
	finished := make(chan *domain.BatchReport, 1)
	h.orch.deps.Prompts = &blockingPrompts{release: release}

	runID, err := h.orch.Start(context.Background(), 1, options(), func(r *domain.BatchReport) { finished <- r })
	require.NoError(t, err)

	run, err := runs.GetByID(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, run.Status)

	close(release)
	<-finished
	run, err = runs.GetByID(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, run.Status)
}
