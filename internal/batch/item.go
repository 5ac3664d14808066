package batch

import (
	"context"
	"fmt"
	"time"

	"stockgen/internal/domain"
	"stockgen/internal/domain/jsoncfg"
	"stockgen/internal/keywords"
	"stockgen/internal/providers/piapi"
	"stockgen/internal/providers/prompt"
)

// itemResult is what one work item produced: accepted entries, an error
// explaining why nothing (or not everything) was accepted, or both.
type itemResult struct {
	accepted []domain.ReportEntry
	err      error
}

func failed(err error) itemResult { return itemResult{err: err} }

func (o *Orchestrator) processItem(ctx context.Context, item domain.WorkItem, entry keywords.Entry, opts jsoncfg.PipelineOptions) itemResult {
	log := o.logger.With().Int("item", item.Index).Str("name", item.Name).Logger()

	synth, err := o.deps.Prompts.Synthesize(ctx, prompt.SynthesizeRequest{Keyword: entry, Template: opts.PromptTemplate})
	if err != nil {
		return failed(fmt.Errorf("synthesize prompt: %w", err))
	}
	item.Prompt = prompt.WithVersion(synth.Prompt, opts.ProviderVersionTag)
	if synth.PromptContext != "" {
		item.PromptContext = synth.PromptContext
	}
	log.Debug().Str("provider", synth.Provider).Str("prompt", item.Prompt).Msg("batch: prompt ready")

	job, err := o.deps.Submitter.Submit(ctx, piapi.SubmitRequest{
		Prompt:      item.Prompt,
		AspectRatio: item.AspectRatio,
		ProcessMode: opts.ProcessMode,
	})
	if err != nil {
		return failed(fmt.Errorf("submit job: %w", err))
	}
	budget := time.Duration(opts.PollingTimeoutMinutes) * time.Minute
	done, err := o.deps.Waiter.WaitWithin(ctx, job, budget)
	if err != nil {
		return failed(fmt.Errorf("wait for job %s: %w", job.ID, err))
	}

	artifacts := o.deps.Fetcher.Fetch(ctx, item.Name, done.ArtifactURLs)
	if len(artifacts) == 0 {
		return failed(fmt.Errorf("job %s: %w", job.ID, ErrNoArtifacts))
	}

	var res itemResult
	for _, art := range artifacts {
		if accepted, ok := o.processArtifact(ctx, item, art, opts); ok {
			res.accepted = append(res.accepted, accepted)
		}
	}
	if len(res.accepted) == 0 {
		res.err = fmt.Errorf("job %s: %d artifacts: %w", job.ID, len(artifacts), ErrNothingAccepted)
	}
	return res
}

// processArtifact screens, describes and converts one artifact. A file that
// failed screening stays in the generated folder for review; any later
// failure removes it.
func (o *Orchestrator) processArtifact(ctx context.Context, item domain.WorkItem, art domain.Artifact, opts jsoncfg.PipelineOptions) (domain.ReportEntry, bool) {
	log := o.logger.With().Int("item", item.Index).Int("ordinal", art.Ordinal).Str("path", art.LocalPath).Logger()

	if opts.RunQualityCheck {
		verdict, err := o.deps.Quality.Check(ctx, art)
		if err != nil {
			log.Error().Err(err).Msg("batch: quality check failed, keeping file")
			return domain.ReportEntry{}, false
		}
		art.Verdict = verdict
		if !verdict.Passed() {
			log.Warn().Float64("score", verdict.Score).Str("reason", verdict.Reason).Msg("batch: quality check rejected artifact, keeping file")
			return domain.ReportEntry{}, false
		}
	}

	if opts.RunMetadataGen {
		meta, err := o.deps.Metadata.Enrich(ctx, art, item.PromptContext)
		if err != nil {
			log.Error().Err(err).Msg("batch: metadata generation failed")
			o.discard(art.LocalPath)
			return domain.ReportEntry{}, false
		}
		art.Metadata = meta
	}

	out, err := o.deps.Transformer.Process(ctx, art.LocalPath, fmt.Sprintf("%s_%d", item.Name, art.Ordinal), opts)
	if err != nil {
		log.Error().Err(err).Msg("batch: image processing failed")
		o.discard(art.LocalPath)
		return domain.ReportEntry{}, false
	}
	return domain.ReportEntry{ItemIndex: item.Index, OutputPath: out, Metadata: art.Metadata}, true
}

func (o *Orchestrator) discard(path string) {
	if err := o.deps.Files.Remove(path); err != nil {
		o.logger.Warn().Err(err).Str("path", path).Msg("batch: failed to remove artifact")
	}
}
