// Package removebg calls the remove.bg background removal API.
package removebg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"stockgen/internal/domain"
	"stockgen/internal/infra"
	"stockgen/internal/retry"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("removebg: api key is required")

const (
	providerName         = "removebg"
	defaultBaseURL       = "https://api.remove.bg/v1.0"
	defaultSize          = "auto"
	defaultTimeout       = 60 * time.Second
	defaultRatePerMinute = 50
	defaultAttempts      = 3
	defaultRetryDelay    = 2 * time.Second
)

type Options struct {
	APIKey        string
	BaseURL       string
	Size          string
	HTTPClient    *http.Client
	Logger        *infra.Logger
	RatePerMinute int
	Retry         *retry.Policy
}

// Client uploads an image and returns the cut-out PNG.
type Client struct {
	apiKey  string
	url     string
	size    string
	client  *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
	logger  *infra.Logger
}

type errorResponse struct {
	Errors []struct {
		Title string `json:"title"`
	} `json:"errors"`
}

func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	size := strings.TrimSpace(opts.Size)
	if size == "" {
		size = defaultSize
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	perMinute := opts.RatePerMinute
	if perMinute <= 0 {
		perMinute = defaultRatePerMinute
	}
	policy := retry.Fixed(defaultAttempts, defaultRetryDelay)
	if opts.Retry != nil {
		policy = *opts.Retry
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Client{
		apiKey:  apiKey,
		url:     baseURL + "/removebg",
		size:    size,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		policy:  policy,
		logger:  logger,
	}, nil
}

// RemoveBackground returns image with its background removed, retrying every
// failure up to the configured number of attempts.
func (c *Client) RemoveBackground(ctx context.Context, image []byte) ([]byte, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("removebg: empty image: %w", domain.ErrValidation)
	}
	return retry.DoValue(ctx, c.policy, c.logger, "removebg: remove background", func(ctx context.Context) ([]byte, error) {
		return c.removeOnce(ctx, image)
	})
}

func (c *Client) removeOnce(ctx context.Context, image []byte) ([]byte, error) {
	body, contentType, err := encodeForm(image, c.size)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("removebg: rate limit wait: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, fmt.Errorf("removebg: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Api-Key", c.apiKey)
	resp, err := c.client.Do(req)
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
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && len(detail.Errors) > 0 {
			msg = detail.Errors[0].Title
		}
		return nil, &domain.ProviderError{
			Provider:   providerName,
			StatusCode: resp.StatusCode,
			Message:    msg,
			Transient:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}
	if len(raw) == 0 {
		return nil, &domain.ProviderError{Provider: providerName, Message: "empty image in response"}
	}
	return raw, nil
}

func encodeForm(image []byte, size string) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile("image_file", "image.png")
	if err != nil {
		return nil, "", fmt.Errorf("removebg: build form: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", fmt.Errorf("removebg: build form: %w", err)
	}
	if err := w.WriteField("size", size); err != nil {
		return nil, "", fmt.Errorf("removebg: build form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("removebg: build form: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}
