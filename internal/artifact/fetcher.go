// Package artifact downloads finished job images into the generated folder.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stockgen/internal/domain"
	"stockgen/internal/infra"
	"stockgen/internal/retry"
)

const (
	DefaultDir      = "generated"
	defaultTimeout  = 2 * time.Minute
	maxArtifactSize = 64 << 20
)

// Writer persists downloaded bytes under a storage key and returns the local path.
type Writer interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

type Options struct {
	HTTPClient *http.Client
	Dir        string
	Retry      *retry.Policy
	Logger     *infra.Logger
}

// Fetcher downloads artifact URLs one by one. A failed URL is skipped and does
// not affect its siblings.
type Fetcher struct {
	client *http.Client
	store  Writer
	dir    string
	policy retry.Policy
	logger *infra.Logger
}

func NewFetcher(store Writer, opts Options) *Fetcher {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	dir := strings.Trim(strings.TrimSpace(opts.Dir), "/")
	if dir == "" {
		dir = DefaultDir
	}
	policy := retry.Exponential(3, time.Second, 8*time.Second)
	if opts.Retry != nil {
		policy = *opts.Retry
	}
	policy.Retryable = func(err error) bool { return errors.Is(err, domain.ErrTransientProvider) }
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Fetcher{client: client, store: store, dir: dir, policy: policy, logger: logger}
}

// Fetch downloads urls to {dir}/{baseName}_{n}.{ext} with n starting at 1.
// Only successful downloads are returned, in URL order.
func (f *Fetcher) Fetch(ctx context.Context, baseName string, urls []string) []domain.Artifact {
	var out []domain.Artifact
	for i, raw := range urls {
		if ctx.Err() != nil {
			break
		}
		ordinal := i + 1
		art, err := f.fetchOne(ctx, baseName, ordinal, raw)
		if err != nil {
			f.logger.Error().
				Err(err).
				Str("item", baseName).
				Int("ordinal", ordinal).
				Str("url", raw).
				Msg("artifact: download failed, skipping")
			continue
		}
		out = append(out, *art)
	}
	return out
}

func (f *Fetcher) fetchOne(ctx context.Context, baseName string, ordinal int, raw string) (*domain.Artifact, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("artifact: invalid url %q: %w", raw, domain.ErrValidation)
	}
	type download struct {
		data []byte
		mime string
	}
	got, err := retry.DoValue(ctx, f.policy, f.logger, "artifact: download", func(ctx context.Context) (download, error) {
		data, mimeType, err := f.download(ctx, parsed.String())
		return download{data: data, mime: mimeType}, err
	})
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s/%s_%d%s", f.dir, baseName, ordinal, ExtensionForMIME(got.mime))
	path, err := f.store.Write(ctx, key, got.data)
	if err != nil {
		return nil, err
	}
	f.logger.Debug().Str("path", path).Int("bytes", len(got.data)).Msg("artifact: saved")
	return &domain.Artifact{
		Ordinal:   ordinal,
		SourceURL: parsed.String(),
		LocalPath: path,
		MIME:      got.mime,
	}, nil
}

func (f *Fetcher) download(ctx context.Context, target string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("artifact: build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", &domain.ProviderError{Provider: "artifact", Transient: true, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return nil, "", &domain.ProviderError{
			Provider:   "artifact",
			StatusCode: resp.StatusCode,
			Message:    "download failed",
			Transient:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactSize))
	if err != nil {
		return nil, "", &domain.ProviderError{Provider: "artifact", Transient: true, Err: fmt.Errorf("read body: %w", err)}
	}
	if len(data) == 0 {
		return nil, "", &domain.ProviderError{Provider: "artifact", Message: "empty body"}
	}
	return data, mediaType(resp.Header.Get("Content-Type"), data), nil
}

func mediaType(header string, data []byte) string {
	if parsed, _, err := mime.ParseMediaType(header); err == nil && strings.HasPrefix(parsed, "image/") {
		return parsed
	}
	if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	return "image/png"
}

// ExtensionForMIME maps an image MIME type to a file extension, defaulting to .png.
func ExtensionForMIME(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
