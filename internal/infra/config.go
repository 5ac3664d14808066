package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stockgen/internal/domain/jsoncfg"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Debug              bool
	Port               string
	DatabaseURL        string
	APIToken           string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	CORSOrigins        []string
	PiAPIKey           string
	PiAPIBaseURL       string
	PiAPIRatePerMin    int
	PromptProvider     string
	VisionProvider     string
	OpenAIAPIKey       string
	OpenAIModel        string
	OpenAIVisionModel  string
	OpenAIBaseURL      string
	OpenAIOrg          string
	GeminiAPIKey       string
	GeminiModel        string
	GeminiBaseURL      string
	LLMRatePerMin      int
	RemoveBgAPIKey     string
	RemoveBgBaseURL    string
	DataDir            string
	GeneratedDir       string
	UploadDir          string
	KeywordsFile       string
	TrendingDir        string
	QualityPromptFile  string
	MetadataPromptFile string
	ReportFormat       string
	ReportProductType  string
	ReportProductColor string
	StartDate          time.Time
	WaitingDays        int
	UseRandomDelay     bool
	MaxRandomDelay     time.Duration
	PipelineFile       string
	Pipeline           jsoncfg.PipelineOptions
}

// LoadConfig loads configuration from environment variables, applies the
// optional YAML pipeline overlay and validates the result.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "production"),
		Debug:              getEnvBool("DEBUG_MODE", false),
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		APIToken:           os.Getenv("API_TOKEN"),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 60)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:        getEnvList("CORS_ALLOWED_ORIGINS", nil),
		PiAPIKey:           strings.TrimSpace(os.Getenv("PIAPI_API_KEY")),
		PiAPIBaseURL:       getEnv("PIAPI_BASE_URL", "https://api.piapi.ai"),
		PiAPIRatePerMin:    getEnvInt("PIAPI_REQUESTS_PER_MINUTE", 30),
		PromptProvider:     strings.ToLower(getEnv("PROMPT_PROVIDER", "openai")),
		VisionProvider:     strings.ToLower(getEnv("VISION_PROVIDER", "openai")),
		OpenAIAPIKey:       strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIVisionModel:  getEnv("OPENAI_VISION_MODEL", "gpt-4o"),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:          os.Getenv("OPENAI_ORG"),
		GeminiAPIKey:       strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL:      getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		LLMRatePerMin:      getEnvInt("LLM_REQUESTS_PER_MINUTE", 60),
		RemoveBgAPIKey:     strings.TrimSpace(os.Getenv("REMOVE_BG_API_KEY")),
		RemoveBgBaseURL:    getEnv("REMOVE_BG_BASE_URL", "https://api.remove.bg/v1.0"),
		DataDir:            getEnv("DATA_DIR", "./pictures"),
		GeneratedDir:       getEnv("GENERATED_DIR", "generated"),
		UploadDir:          getEnv("UPLOAD_DIR", "toupload"),
		KeywordsFile:       os.Getenv("KEYWORDS_FILE"),
		TrendingDir:        os.Getenv("TRENDING_KEYWORDS_DIR"),
		QualityPromptFile:  os.Getenv("QUALITY_CHECK_PROMPT_FILE"),
		MetadataPromptFile: os.Getenv("METADATA_PROMPT_FILE"),
		ReportFormat:       strings.ToLower(getEnv("REPORT_FORMAT", "xlsx")),
		ReportProductType:  getEnv("REPORT_PRODUCT_TYPE", "man, woman"),
		ReportProductColor: getEnv("REPORT_PRODUCT_COLOR", "black"),
		WaitingDays:        getEnvInt("START_WAITING_DAYS", 7),
		UseRandomDelay:     getEnvBool("USE_RANDOM_DELAY", false),
		MaxRandomDelay:     time.Second * time.Duration(getEnvInt("MAX_RANDOM_DELAY_SECONDS", 300)),
		PipelineFile:       os.Getenv("PIPELINE_CONFIG_FILE"),
		Pipeline: jsoncfg.PipelineOptions{
			Count:                     getEnvInt("BATCH_COUNT", jsoncfg.DefaultCount),
			AspectRatios:              getEnvList("ASPECT_RATIOS", []string{jsoncfg.DefaultAspectRatio}),
			RemoveBg:                  getEnvBool("REMOVE_BG", false),
			RemoveBgSize:              getEnv("REMOVE_BG_SIZE", jsoncfg.DefaultRemoveBgSize),
			ImageConvert:              getEnvBool("IMAGE_CONVERT", true),
			ConvertToJpg:              getEnvBool("CONVERT_TO_JPG", false),
			TrimTransparentBackground: getEnvBool("TRIM_TRANSPARENT_BACKGROUND", false),
			KeywordRandom:             getEnvBool("KEYWORD_RANDOM", false),
			PollingTimeoutMinutes:     getEnvInt("POLLING_TIMEOUT", jsoncfg.DefaultPollingTimeoutMinutes),
			ProcessMode:               getEnv("PROCESS_MODE", jsoncfg.DefaultProcessMode),
			JpgBackground:             getEnv("JPG_BACKGROUND", jsoncfg.DefaultJpgBackground),
			JpgQuality:                getEnvInt("JPG_QUALITY", jsoncfg.DefaultQuality),
			PngQuality:                getEnvInt("PNG_QUALITY", jsoncfg.DefaultQuality),
			RunQualityCheck:           getEnvBool("RUN_QUALITY_CHECK", true),
			RunMetadataGen:            getEnvBool("RUN_METADATA_GEN", true),
			ProviderVersionTag:        os.Getenv("PROVIDER_VERSION_TAG"),
			PromptTemplate:            os.Getenv("PROMPT_TEMPLATE"),
		},
	}

	if raw := strings.TrimSpace(os.Getenv("START_DATE")); raw != "" {
		start, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, fmt.Errorf("START_DATE must be YYYY-MM-DD: %w", err)
		}
		cfg.StartDate = start
	}

	if cfg.PipelineFile != "" {
		if err := applyPipelineFile(cfg.PipelineFile, &cfg.Pipeline); err != nil {
			return nil, err
		}
	}

	cfg.Pipeline.Normalize()
	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline options: %w", err)
	}

	switch cfg.ReportFormat {
	case "xlsx", "csv":
	default:
		return nil, fmt.Errorf("REPORT_FORMAT must be xlsx or csv")
	}

	return cfg, nil
}

// RequireProviderKeys verifies credentials for the providers the pipeline will
// call. It runs after keys were optionally filled from the credentials store.
func (c *Config) RequireProviderKeys() error {
	var missing []string
	if c.PiAPIKey == "" {
		missing = append(missing, "PIAPI_API_KEY")
	}
	needsVision := c.Pipeline.RunQualityCheck || c.Pipeline.RunMetadataGen
	needsText := strings.TrimSpace(c.Pipeline.PromptTemplate) == ""
	for _, use := range []struct {
		needed   bool
		provider string
	}{
		{needsText, c.PromptProvider},
		{needsVision, c.VisionProvider},
	} {
		if !use.needed {
			continue
		}
		switch use.provider {
		case "gemini":
			if c.GeminiAPIKey == "" {
				missing = append(missing, "GEMINI_API_KEY")
			}
		default:
			if c.OpenAIAPIKey == "" {
				missing = append(missing, "OPENAI_API_KEY")
			}
		}
	}
	if c.Pipeline.RemoveBg && c.RemoveBgAPIKey == "" {
		missing = append(missing, "REMOVE_BG_API_KEY")
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%s required", strings.Join(dedupe(missing), ", "))
}

// ProviderKey returns the configured key of a text or vision provider.
func (c *Config) ProviderKey(provider string) string {
	if provider == "gemini" {
		return c.GeminiAPIKey
	}
	return c.OpenAIAPIKey
}

// WaitingUntil returns the date the launch gate opens, or the zero time when
// no START_DATE is configured.
func (c *Config) WaitingUntil() time.Time {
	if c.StartDate.IsZero() {
		return time.Time{}
	}
	return c.StartDate.AddDate(0, 0, c.WaitingDays)
}

func applyPipelineFile(path string, opts *jsoncfg.PipelineOptions) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pipeline config: %w", err)
	}
	if err := yaml.Unmarshal(raw, opts); err != nil {
		return fmt.Errorf("decode pipeline config: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
