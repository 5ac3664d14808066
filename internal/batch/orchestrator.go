// Package batch runs a batch of work items through prompt synthesis,
// generation, screening, metadata and image processing.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"stockgen/internal/domain"
	"stockgen/internal/domain/jsoncfg"
	"stockgen/internal/infra"
	"stockgen/internal/keywords"
	"stockgen/internal/providers/piapi"
	"stockgen/internal/providers/prompt"
)

// ErrNoArtifacts is reported for an item whose job finished without any
// downloadable image.
var ErrNoArtifacts = errors.New("batch: no artifacts downloaded")

// ErrNothingAccepted is reported for an item whose artifacts were all rejected.
var ErrNothingAccepted = errors.New("batch: no artifact accepted")

type JobSubmitter interface {
	Submit(ctx context.Context, req piapi.SubmitRequest) (*domain.GenerationJob, error)
}

type JobWaiter interface {
	WaitWithin(ctx context.Context, job *domain.GenerationJob, budget time.Duration) (*domain.GenerationJob, error)
}

type ArtifactFetcher interface {
	Fetch(ctx context.Context, baseName string, urls []string) []domain.Artifact
}

type QualityChecker interface {
	Check(ctx context.Context, art domain.Artifact) (domain.QualityVerdict, error)
}

type MetadataEnricher interface {
	Enrich(ctx context.Context, art domain.Artifact, promptContext string) (*domain.Metadata, error)
}

type Transformer interface {
	Process(ctx context.Context, inputPath, name string, opts jsoncfg.PipelineOptions) (string, error)
}

type ReportWriter interface {
	Write(ctx context.Context, entries []domain.ReportEntry, day time.Time) (string, error)
}

// FileRemover deletes artifacts that failed after screening.
type FileRemover interface {
	Remove(path string) error
}

// KeywordLoader returns the keyword pool for a run.
type KeywordLoader func(ctx context.Context) ([]keywords.Entry, error)

// Deps are the collaborators of an Orchestrator. Quality and Metadata may be
// nil when the corresponding steps are never enabled; Report and Runs are
// optional.
type Deps struct {
	Keywords    KeywordLoader
	Prompts     prompt.Synthesizer
	Submitter   JobSubmitter
	Waiter      JobWaiter
	Fetcher     ArtifactFetcher
	Quality     QualityChecker
	Metadata    MetadataEnricher
	Transformer Transformer
	Files       FileRemover
	Report      ReportWriter
	Runs        domain.RunRepository
	Logger      *infra.Logger
	// Now and Rand replace the wall clock and the random source in tests.
	Now  func() time.Time
	Rand func() *rand.Rand
}

// Orchestrator runs one batch at a time.
type Orchestrator struct {
	deps    Deps
	logger  *infra.Logger
	now     func() time.Time
	rand    func() *rand.Rand
	running atomic.Bool
}

func NewOrchestrator(deps Deps) (*Orchestrator, error) {
	var missing []string
	if deps.Keywords == nil {
		missing = append(missing, "keywords")
	}
	if deps.Prompts == nil {
		missing = append(missing, "prompts")
	}
	if deps.Submitter == nil || deps.Waiter == nil {
		missing = append(missing, "job client")
	}
	if deps.Fetcher == nil {
		missing = append(missing, "fetcher")
	}
	if deps.Transformer == nil {
		missing = append(missing, "transformer")
	}
	if deps.Files == nil {
		missing = append(missing, "files")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("batch: missing %s: %w", strings.Join(missing, ", "), domain.ErrConfig)
	}
	logger := deps.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	rnd := deps.Rand
	if rnd == nil {
		rnd = func() *rand.Rand { return rand.New(rand.NewSource(time.Now().UnixNano())) }
	}
	return &Orchestrator{deps: deps, logger: logger, now: now, rand: rnd}, nil
}

// Running reports whether a batch is in progress.
func (o *Orchestrator) Running() bool { return o.running.Load() }

// ItemName is {yyyyMMdd}_{HHmmss}_{index} for a 1-based index.
func ItemName(start time.Time, index int) string {
	return fmt.Sprintf("%s_%d", start.Format("20060102_150405"), index)
}

// RunBatch processes count items (opts.Count when count is not positive).
// Per-item failures are logged and counted, never returned; errors are only
// returned for problems found before the first item starts. Cancelling ctx
// stops the batch between items.
func (o *Orchestrator) RunBatch(ctx context.Context, count int, opts jsoncfg.PipelineOptions) (*domain.BatchReport, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, domain.ErrBatchInProgress
	}
	defer o.running.Store(false)
	return o.run(ctx, uuid.NewString(), count, opts)
}

// Start validates the run and processes it in the background, returning the
// run ID immediately. done, when set, receives the finished report.
func (o *Orchestrator) Start(ctx context.Context, count int, opts jsoncfg.PipelineOptions, done func(*domain.BatchReport)) (string, error) {
	if !o.running.CompareAndSwap(false, true) {
		return "", domain.ErrBatchInProgress
	}
	prepared, err := o.prepare(ctx, count, opts)
	if err != nil {
		o.running.Store(false)
		return "", err
	}
	runID := uuid.NewString()
	start := o.begin(ctx, runID, prepared)
	go func() {
		defer o.running.Store(false)
		report := o.execute(ctx, runID, prepared, start)
		if done != nil {
			done(report)
		}
	}()
	return runID, nil
}

type preparedRun struct {
	opts     jsoncfg.PipelineOptions
	ratios   *RatioCursor
	keywords *KeywordCursor
}

func (o *Orchestrator) run(ctx context.Context, runID string, count int, opts jsoncfg.PipelineOptions) (*domain.BatchReport, error) {
	prepared, err := o.prepare(ctx, count, opts)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, runID, prepared, o.begin(ctx, runID, prepared)), nil
}

func (o *Orchestrator) prepare(ctx context.Context, count int, opts jsoncfg.PipelineOptions) (*preparedRun, error) {
	if count > 0 {
		opts.Count = count
	}
	opts.Normalize()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("batch: %w: %w", domain.ErrConfig, err)
	}
	if opts.RunQualityCheck && o.deps.Quality == nil {
		return nil, fmt.Errorf("batch: quality check enabled without a checker: %w", domain.ErrConfig)
	}
	if opts.RunMetadataGen && o.deps.Metadata == nil {
		return nil, fmt.Errorf("batch: metadata generation enabled without an enricher: %w", domain.ErrConfig)
	}
	entries, err := o.deps.Keywords(ctx)
	if err != nil {
		return nil, fmt.Errorf("batch: load keywords: %w: %w", domain.ErrConfig, err)
	}
	if err := checkTemplate(opts.PromptTemplate, entries); err != nil {
		return nil, err
	}
	ratios, err := NewRatioCursor(opts.AspectRatios)
	if err != nil {
		return nil, err
	}
	var rng *rand.Rand
	if opts.KeywordRandom {
		rng = o.rand()
	}
	kw, err := NewKeywordCursor(entries, opts.KeywordRandom, rng)
	if err != nil {
		return nil, err
	}
	return &preparedRun{opts: opts, ratios: ratios, keywords: kw}, nil
}

// checkTemplate renders the template against the first record so a template
// naming a field the pool does not have fails before any item starts.
func checkTemplate(tmpl string, entries []keywords.Entry) error {
	if strings.TrimSpace(tmpl) == "" {
		return nil
	}
	for _, e := range entries {
		if !e.IsRecord() {
			continue
		}
		if _, err := prompt.RenderTemplate(tmpl, e); err != nil {
			return fmt.Errorf("batch: prompt template: %w: %w", domain.ErrConfig, err)
		}
		return nil
	}
	return nil
}

// begin records the run as running so it is visible before the first item
// finishes, and returns the batch start time.
func (o *Orchestrator) begin(ctx context.Context, runID string, p *preparedRun) time.Time {
	start := o.now()
	if o.deps.Runs != nil {
		run := &domain.Run{ID: runID, Status: domain.RunStatusRunning, Requested: p.opts.Count, CreatedAt: start, UpdatedAt: start}
		if err := o.deps.Runs.Create(ctx, run); err != nil {
			o.logger.Error().Err(err).Str("run_id", runID).Msg("batch: failed to record run start")
		}
	}
	return start
}

func (o *Orchestrator) execute(ctx context.Context, runID string, p *preparedRun, start time.Time) *domain.BatchReport {
	report := &domain.BatchReport{RunID: runID, StartedAt: start}
	log := o.logger.With().Str("run_id", runID).Logger()
	log.Info().
		Int("count", p.opts.Count).
		Strs("aspect_ratios", p.opts.AspectRatios).
		Bool("keyword_random", p.opts.KeywordRandom).
		Msg("batch: run started")

	for i := 1; i <= p.opts.Count; i++ {
		if ctx.Err() != nil {
			log.Warn().Int("next_item", i).Msg("batch: cancelled, stopping before next item")
			break
		}
		entry := p.keywords.Next()
		item := domain.WorkItem{
			Index:         i,
			Name:          ItemName(start, i),
			Keyword:       entry.Label(),
			PromptContext: entry.Label(),
			AspectRatio:   p.ratios.Next(),
		}
		log.Info().
			Int("item", i).
			Int("of", p.opts.Count).
			Str("keyword", item.Keyword).
			Str("aspect_ratio", item.AspectRatio).
			Msg("batch: item started")

		res := o.processItem(ctx, item, entry, p.opts)
		report.Attempted++
		if res.err != nil {
			log.Error().Err(res.err).Int("item", i).Str("keyword", item.Keyword).Msg("batch: item failed")
		}
		if len(res.accepted) > 0 {
			report.Succeeded++
			report.Entries = append(report.Entries, res.accepted...)
		}
	}

	if len(report.Entries) > 0 && p.opts.RunMetadataGen && o.deps.Report != nil {
		path, err := o.deps.Report.Write(ctx, report.Entries, start)
		if err != nil {
			log.Error().Err(err).Msg("batch: failed to write report")
		} else {
			report.ReportPath = path
		}
	} else if len(report.Entries) == 0 {
		log.Warn().Msg("batch: no accepted images, report not written")
	}
	report.FinishedAt = o.now()

	log.Info().
		Int("attempted", report.Attempted).
		Int("succeeded", report.Succeeded).
		Int("total_accepted", report.TotalAccepted()).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg("batch: run finished")

	if o.deps.Runs != nil {
		if err := o.deps.Runs.Finish(context.WithoutCancel(ctx), runID, report, ctx.Err()); err != nil {
			log.Error().Err(err).Msg("batch: failed to record run result")
		}
	}
	return report
}
