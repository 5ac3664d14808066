// Package bootstrap assembles the batch pipeline from configuration. Both the
// CLI and the control plane build their orchestrator here.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/text/language"

	"stockgen/internal/adapter/repo"
	"stockgen/internal/artifact"
	"stockgen/internal/batch"
	"stockgen/internal/domain"
	"stockgen/internal/imageproc"
	"stockgen/internal/infra"
	"stockgen/internal/infra/credentials"
	"stockgen/internal/keywords"
	"stockgen/internal/providers/genai"
	"stockgen/internal/providers/llm"
	"stockgen/internal/providers/openai"
	"stockgen/internal/providers/piapi"
	"stockgen/internal/providers/prompt"
	"stockgen/internal/providers/removebg"
	"stockgen/internal/providers/vision"
	"stockgen/internal/report"
	"stockgen/internal/storage"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	providerTimeout = 90 * time.Second
)

// Runtime holds the assembled pipeline and the resources it owns.
type Runtime struct {
	Orchestrator *batch.Orchestrator
	Runs         domain.RunRepository
	Store        *storage.FileStore
	Pool         *pgxpool.Pool
}

// Close releases the database pool when one was opened.
func (r *Runtime) Close() {
	if r.Pool != nil {
		r.Pool.Close()
	}
}

// Build connects optional Postgres storage, fills provider keys from the
// credentials store and wires every pipeline stage. cfg is updated in place
// with stored keys.
func Build(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*Runtime, error) {
	if logger == nil {
		logger = infra.NopLogger()
	}
	rt := &Runtime{}

	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		rt.Pool = pool
		runner := infra.NewSQLRunner(pool, logger)
		if err := repo.EnsureSchema(ctx, runner); err != nil {
			rt.Close()
			return nil, err
		}
		if err := credentials.NewStore(runner).FillConfig(ctx, cfg); err != nil {
			logger.Warn().Err(err).Msg("bootstrap: failed to load provider keys from store")
		}
		rt.Runs = repo.NewRunRepository(runner)
	} else {
		rt.Runs = repo.NewMemoryRunRepository()
	}

	orch, store, err := buildPipeline(cfg, rt.Runs, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Orchestrator, rt.Store = orch, store
	return rt, nil
}

func buildPipeline(cfg *infra.Config, runs domain.RunRepository, logger *infra.Logger) (*batch.Orchestrator, *storage.FileStore, error) {
	if err := cfg.RequireProviderKeys(); err != nil {
		return nil, nil, fmt.Errorf("bootstrap: %w: %w", domain.ErrConfig, err)
	}
	store, err := storage.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	httpClient := &http.Client{Timeout: providerTimeout}

	jobs, err := piapi.NewClient(piapi.Options{
		APIKey:        cfg.PiAPIKey,
		BaseURL:       cfg.PiAPIBaseURL,
		HTTPClient:    httpClient,
		Logger:        logger,
		RatePerMinute: cfg.PiAPIRatePerMin,
	})
	if err != nil {
		return nil, nil, err
	}
	poller := piapi.NewPoller(jobs, piapi.PollerOptions{Logger: logger})

	completers := newCompleterSet(cfg, httpClient, logger)
	prompts := &prompt.Router{Template: prompt.NewTemplateSynthesizer()}
	// Template-only deployments may run without a text model key; records
	// that cannot use the template then fail per item.
	if cfg.Pipeline.PromptTemplate == "" || cfg.ProviderKey(cfg.PromptProvider) != "" {
		c, model, err := completers.text(cfg.PromptProvider)
		if err != nil {
			return nil, nil, err
		}
		synth, err := prompt.NewCompletionSynthesizer(prompt.CompletionOptions{Completer: c, Model: model, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		prompts.Completion = synth
	}

	deps := batch.Deps{
		Keywords:  keywordLoader(cfg),
		Prompts:   prompts,
		Submitter: jobs,
		Waiter:    poller,
		Fetcher: artifact.NewFetcher(store, artifact.Options{
			HTTPClient: httpClient,
			Dir:        cfg.GeneratedDir,
			Logger:     logger,
		}),
		Files:  store,
		Runs:   runs,
		Logger: logger,
	}

	if cfg.Pipeline.RunQualityCheck || cfg.Pipeline.RunMetadataGen {
		c, model, err := completers.vision(cfg.VisionProvider)
		if err != nil {
			return nil, nil, err
		}
		qualityPrompt, err := vision.LoadPrompt(cfg.QualityPromptFile)
		if err != nil {
			return nil, nil, err
		}
		metadataPrompt, err := vision.LoadPrompt(cfg.MetadataPromptFile)
		if err != nil {
			return nil, nil, err
		}
		gate, err := vision.NewQualityGate(vision.QualityOptions{
			Completer: c, Reader: store, Model: model, Prompt: qualityPrompt, Enabled: true, Logger: logger,
		})
		if err != nil {
			return nil, nil, err
		}
		enricher, err := vision.NewMetadataEnricher(vision.MetadataOptions{
			Completer: c, Reader: store, Model: model, Prompt: metadataPrompt, Enabled: true, Logger: logger,
		})
		if err != nil {
			return nil, nil, err
		}
		deps.Quality, deps.Metadata = gate, enricher
	}

	var remover imageproc.BackgroundRemover
	if cfg.RemoveBgAPIKey != "" {
		rb, err := removebg.NewClient(removebg.Options{
			APIKey:     cfg.RemoveBgAPIKey,
			BaseURL:    cfg.RemoveBgBaseURL,
			Size:       cfg.Pipeline.RemoveBgSize,
			HTTPClient: httpClient,
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, err
		}
		remover = rb
	}
	deps.Transformer = imageproc.NewPipeline(store, imageproc.Options{
		Remover:   remover,
		OutputDir: cfg.UploadDir,
		Logger:    logger,
	})

	writer, err := report.NewWriter(report.Options{
		Dir:          filepath.Join(cfg.DataDir, cfg.UploadDir),
		Format:       cfg.ReportFormat,
		Locale:       language.English,
		ProductType:  cfg.ReportProductType,
		ProductColor: cfg.ReportProductColor,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, err
	}
	deps.Report = writer

	orch, err := batch.NewOrchestrator(deps)
	if err != nil {
		return nil, nil, err
	}
	return orch, store, nil
}

// keywordLoader prefers an explicit keyword file and falls back to the
// trending export directory. It reloads on every run so edits apply to the
// next batch without a restart.
func keywordLoader(cfg *infra.Config) batch.KeywordLoader {
	file, dir := cfg.KeywordsFile, cfg.TrendingDir
	return func(ctx context.Context) ([]keywords.Entry, error) {
		switch {
		case file != "":
			return keywords.Load(file)
		case dir != "":
			return keywords.LoadTrending(dir, time.Now())
		default:
			return nil, fmt.Errorf("bootstrap: KEYWORDS_FILE or TRENDING_KEYWORDS_DIR is required: %w", domain.ErrConfig)
		}
	}
}

// completerSet builds each provider client at most once.
type completerSet struct {
	cfg    *infra.Config
	http   *http.Client
	logger *infra.Logger
	openai *openai.Client
	gemini *genai.Client
}

func newCompleterSet(cfg *infra.Config, httpClient *http.Client, logger *infra.Logger) *completerSet {
	return &completerSet{cfg: cfg, http: httpClient, logger: logger}
}

func (s *completerSet) text(provider string) (llm.Completer, string, error) {
	switch provider {
	case ProviderGemini:
		c, err := s.geminiClient()
		return c, s.cfg.GeminiModel, err
	case ProviderOpenAI, "":
		c, err := s.openaiClient()
		return c, s.cfg.OpenAIModel, err
	default:
		return nil, "", fmt.Errorf("bootstrap: unknown prompt provider %q: %w", provider, domain.ErrConfig)
	}
}

func (s *completerSet) vision(provider string) (llm.Completer, string, error) {
	switch provider {
	case ProviderGemini:
		c, err := s.geminiClient()
		return c, s.cfg.GeminiModel, err
	case ProviderOpenAI, "":
		c, err := s.openaiClient()
		return c, s.cfg.OpenAIVisionModel, err
	default:
		return nil, "", fmt.Errorf("bootstrap: unknown vision provider %q: %w", provider, domain.ErrConfig)
	}
}

func (s *completerSet) openaiClient() (*openai.Client, error) {
	if s.openai != nil {
		return s.openai, nil
	}
	logger := s.logger
	c, err := openai.NewClient(openai.Options{
		APIKey:        s.cfg.OpenAIAPIKey,
		Model:         s.cfg.OpenAIModel,
		BaseURL:       s.cfg.OpenAIBaseURL,
		Organization:  s.cfg.OpenAIOrg,
		HTTPClient:    s.http,
		Logger:        logger,
		RatePerMinute: s.cfg.LLMRatePerMin,
		OnWarning: func(reason, detail string) {
			logger.Warn().Str("reason", reason).Str("detail", detail).Msg("openai: model adjusted")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: openai: %w", err)
	}
	s.openai = c
	return c, nil
}

func (s *completerSet) geminiClient() (*genai.Client, error) {
	if s.gemini != nil {
		return s.gemini, nil
	}
	c, err := genai.NewClient(genai.Options{
		APIKey:        s.cfg.GeminiAPIKey,
		BaseURL:       s.cfg.GeminiBaseURL,
		Model:         s.cfg.GeminiModel,
		HTTPClient:    s.http,
		Logger:        s.logger,
		RatePerMinute: s.cfg.LLMRatePerMin,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: gemini: %w", err)
	}
	s.gemini = c
	return c, nil
}
