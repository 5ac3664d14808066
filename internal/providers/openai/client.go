package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"stockgen/internal/domain"
	"stockgen/internal/infra"
	"stockgen/internal/providers/llm"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("openai: api key is required")

const (
	providerName         = "openai"
	defaultTimeout       = 60 * time.Second
	defaultModel         = "gpt-4o-mini"
	defaultRatePerMinute = 60
)

var modelCanonical = map[string]string{
	"gpt-4o-mini":  "gpt-4o-mini",
	"gpt-4o":       "gpt-4o",
	"gpt-4.1":      "gpt-4.1",
	"gpt-4.1-mini": "gpt-4.1-mini",
}

var modelAliases = map[string]string{
	"gpt4o-mini":             "gpt-4o-mini",
	"gpt4omini":              "gpt-4o-mini",
	"gpt-4o-mini-2024-07-18": "gpt-4o-mini",
	"gpt4o":                  "gpt-4o",
	"gpt-4-vision":           "gpt-4o",
	"gpt-4-vision-preview":   "gpt-4o",
	"gpt4.1":                 "gpt-4.1",
}

// Options configures the chat completions client.
type Options struct {
	APIKey        string
	Model         string
	BaseURL       string
	Organization  string
	HTTPClient    *http.Client
	Logger        *infra.Logger
	RatePerMinute int
	OnWarning     func(reason, detail string)
}

// Client calls the OpenAI chat completions API for text and vision requests.
type Client struct {
	apiKey       string
	model        string
	baseURL      string
	organization string
	client       *http.Client
	limiter      *rate.Limiter
	logger       *infra.Logger
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature,omitempty"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewClient constructs a client with defaults for unset options.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	modelInput := strings.TrimSpace(opts.Model)
	model, reason := normalizeModel(modelInput)
	if reason != "" && opts.OnWarning != nil {
		opts.OnWarning("model_"+reason, fmt.Sprintf("requested=%s resolved=%s", coalesce(modelInput, defaultModel), model))
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	perMinute := opts.RatePerMinute
	if perMinute <= 0 {
		perMinute = defaultRatePerMinute
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Client{
		apiKey:       apiKey,
		model:        model,
		baseURL:      baseURL,
		organization: strings.TrimSpace(opts.Organization),
		client:       client,
		limiter:      rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		logger:       logger,
	}, nil
}

// Name identifies the provider in logs and results.
func (c *Client) Name() string { return providerName }

// Model returns the resolved default model.
func (c *Client) Model() string { return c.model }

// Complete sends a single chat turn and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	model := c.model
	if strings.TrimSpace(req.Model) != "" {
		model, _ = normalizeModel(req.Model)
	}
	payload := chatRequest{
		Model:       model,
		Temperature: req.Temperature,
		Messages:    buildMessages(req),
	}
	if req.JSON {
		payload.ResponseFormat = &chatFormat{Type: "json_object"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("openai: encode request: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("openai: rate limit wait: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", c.organization)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", &domain.ProviderError{Provider: providerName, Transient: true, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.ProviderError{Provider: providerName, Transient: true, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Error.Message != "" {
			msg = detail.Error.Message
		}
		return "", &domain.ProviderError{
			Provider:   providerName,
			StatusCode: resp.StatusCode,
			Message:    msg,
			Transient:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}
	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", llm.ErrEmptyCompletion
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", llm.ErrEmptyCompletion
	}
	c.logger.Debug().
		Str("model", model).
		Bool("vision", req.Image != nil).
		Int("chars", len(text)).
		Msg("openai: completion received")
	return text, nil
}

func buildMessages(req llm.Request) []chatMessage {
	var messages []chatMessage
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	if req.Image == nil {
		return append(messages, chatMessage{Role: "user", Content: req.UserPrompt})
	}
	parts := []contentPart{}
	if text := strings.TrimSpace(req.UserPrompt); text != "" {
		parts = append(parts, contentPart{Type: "text", Text: text})
	}
	mime := llm.DetectMIME(req.Image.Data, req.Image.MIME)
	dataURI := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.Image.Data)
	parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: dataURI}})
	return append(messages, chatMessage{Role: "user", Content: parts})
}

func normalizeModel(name string) (string, string) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return defaultModel, ""
	}
	normalized := strings.ToLower(trimmed)
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	if canonical, ok := modelCanonical[normalized]; ok {
		return canonical, ""
	}
	if alias, ok := modelAliases[normalized]; ok {
		return alias, "alias"
	}
	return defaultModel, "defaulted"
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

var _ llm.Completer = (*Client)(nil)
