// Package piapi submits Midjourney imagine tasks to PiAPI and polls them until
// they finish.
package piapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"stockgen/internal/domain"
	"stockgen/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("piapi: api key is required")

const (
	providerName         = "piapi"
	defaultBaseURL       = "https://api.piapi.ai"
	defaultTimeout       = 30 * time.Second
	defaultRatePerMinute = 30
)

// Options configures the PiAPI task client.
type Options struct {
	APIKey        string
	BaseURL       string
	HTTPClient    *http.Client
	Logger        *infra.Logger
	RatePerMinute int
}

// Client performs HTTP calls to the PiAPI task endpoints.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *infra.Logger
}

// SubmitRequest captures the inputs of one imagine task.
type SubmitRequest struct {
	Prompt      string
	AspectRatio string
	ProcessMode string
}

// StatusResponse is the normalized view of a task status reply.
type StatusResponse struct {
	TaskID             string
	Status             domain.JobStatus
	ImageURL           string
	ImageURLs          []string
	TemporaryImageURLs []string
	ErrorMessage       string
}

type taskRequest struct {
	Model    string    `json:"model"`
	TaskType string    `json:"task_type"`
	Input    taskInput `json:"input"`
}

type taskInput struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	ProcessMode string `json:"process_mode,omitempty"`
}

type taskEnvelope struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Data    taskData `json:"data"`
}

type taskData struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Output struct {
		ImageURL           string   `json:"image_url"`
		ImageURLs          []string `json:"image_urls"`
		TemporaryImageURLs []string `json:"temporary_image_urls"`
	} `json:"output"`
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
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
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
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
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		logger:     logger,
	}, nil
}

// Submit creates an imagine task and returns a job handle in the pending state.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*domain.GenerationJob, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("piapi: submit: prompt is required: %w", domain.ErrValidation)
	}
	payload := taskRequest{
		Model:    "midjourney",
		TaskType: "imagine",
		Input: taskInput{
			Prompt:      prompt,
			AspectRatio: strings.TrimSpace(req.AspectRatio),
			ProcessMode: strings.TrimSpace(req.ProcessMode),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("piapi: encode request: %w", err)
	}
	raw, err := c.do(ctx, http.MethodPost, c.baseURL+"/api/v1/task", body)
	if err != nil {
		return nil, err
	}
	var env taskEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &domain.InvalidProviderResponseError{Provider: providerName, Field: "data.task_id", Body: truncate(string(raw), 200)}
	}
	taskID := strings.TrimSpace(env.Data.TaskID)
	if taskID == "" {
		return nil, &domain.InvalidProviderResponseError{Provider: providerName, Field: "data.task_id", Body: truncate(string(raw), 200)}
	}
	c.logger.Info().
		Str("task_id", taskID).
		Str("aspect_ratio", payload.Input.AspectRatio).
		Str("process_mode", payload.Input.ProcessMode).
		Msg("piapi: task submitted")
	return &domain.GenerationJob{ID: taskID, Provider: providerName, Status: domain.JobStatusPending}, nil
}

// Status fetches the current state of a task.
func (c *Client) Status(ctx context.Context, taskID string) (*StatusResponse, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, fmt.Errorf("piapi: status: task id is required: %w", domain.ErrValidation)
	}
	raw, err := c.do(ctx, http.MethodGet, c.baseURL+"/api/v1/task/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, err
	}
	var env taskEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("piapi: decode status: %w", err)
	}
	return &StatusResponse{
		TaskID:             coalesce(env.Data.TaskID, taskID),
		Status:             domain.NormalizeJobStatus(env.Data.Status),
		ImageURL:           env.Data.Output.ImageURL,
		ImageURLs:          env.Data.Output.ImageURLs,
		TemporaryImageURLs: env.Data.Output.TemporaryImageURLs,
		ErrorMessage:       strings.TrimSpace(env.Data.Error.Message),
	}, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("piapi: rate limit wait: %w", err)
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("piapi: build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ProviderError{Provider: providerName, Transient: true, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ProviderError{Provider: providerName, Transient: true, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		var env taskEnvelope
		if err := json.Unmarshal(raw, &env); err == nil && env.Message != "" {
			msg = env.Message
		}
		return nil, &domain.ProviderError{
			Provider:   providerName,
			StatusCode: resp.StatusCode,
			Message:    truncate(msg, 300),
			Transient:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}
	return raw, nil
}

// ArtifactURLs returns the downloadable URLs of a status reply, preferring
// temporary URLs, then the URL list, then the single URL. Blanks are dropped.
func (s *StatusResponse) ArtifactURLs() []string {
	if s == nil {
		return nil
	}
	if urls := nonBlank(s.TemporaryImageURLs); len(urls) > 0 {
		return urls
	}
	if urls := nonBlank(s.ImageURLs); len(urls) > 0 {
		return urls
	}
	return nonBlank([]string{s.ImageURL})
}

func nonBlank(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
