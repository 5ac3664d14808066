package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"

	"stockgen/internal/domain"
	"stockgen/internal/infra"
	"stockgen/internal/providers/llm"
)

const (
	metadataStage      = "metadata"
	metadataUserPrompt = `Write the listing for this image. Return a single JSON object with the keys "new_title", "new_description" and "uploadTags".`
)

// localized accepts either a plain string or an object keyed by locale.
type localized map[language.Tag]string

func (l *localized) UnmarshalJSON(data []byte) error {
	out := localized{}
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		out[domain.DefaultLocale] = s
	case len(trimmed) > 0 && trimmed[0] == '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		for key, value := range raw {
			tag, err := language.Parse(key)
			if err != nil {
				return fmt.Errorf("locale %q: %w", key, err)
			}
			text, err := tagText(value)
			if err != nil {
				return fmt.Errorf("locale %q: %w", key, err)
			}
			out[tag] = text
		}
	case len(trimmed) > 0 && trimmed[0] == '[':
		text, err := tagText(trimmed)
		if err != nil {
			return err
		}
		out[domain.DefaultLocale] = text
	default:
		return fmt.Errorf("unsupported value %s", string(trimmed))
	}
	*l = out
	return nil
}

// tagText reads a string or a list of strings, joining lists with ", ".
func tagText(data json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return "", errors.New("expected string or list of strings")
	}
	parts := make([]string, 0, len(list))
	for _, item := range list {
		if item = strings.TrimSpace(item); item != "" {
			parts = append(parts, item)
		}
	}
	return strings.Join(parts, ", "), nil
}

type metadataPayload struct {
	Title       localized `json:"new_title"`
	Description localized `json:"new_description"`
	Tags        localized `json:"uploadTags"`
}

// ParseMetadata decodes a metadata reply. Only code fences are tolerated
// around the JSON object.
func ParseMetadata(raw string) (*domain.Metadata, error) {
	cleaned := stripFences(raw)
	var payload metadataPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, &domain.ParseError{Stage: metadataStage, Raw: cleaned, Err: err}
	}
	meta := &domain.Metadata{
		Title:       trimValues(payload.Title),
		Description: trimValues(payload.Description),
		Tags:        normalizeTags(payload.Tags),
	}
	var missing []string
	if domain.Lookup(meta.Title, domain.DefaultLocale) == "" {
		missing = append(missing, "new_title")
	}
	if domain.Lookup(meta.Description, domain.DefaultLocale) == "" {
		missing = append(missing, "new_description")
	}
	if domain.Lookup(meta.Tags, domain.DefaultLocale) == "" {
		missing = append(missing, "uploadTags")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("vision: metadata missing %s: %w", strings.Join(missing, ", "), domain.ErrValidation)
	}
	return meta, nil
}

func trimValues(in localized) map[language.Tag]string {
	out := make(map[language.Tag]string, len(in))
	for tag, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out[tag] = v
		}
	}
	return out
}

// normalizeTags trims each comma separated tag and drops duplicates, keeping
// the first occurrence.
func normalizeTags(in localized) map[language.Tag]string {
	out := make(map[language.Tag]string, len(in))
	for tag, v := range in {
		seen := map[string]struct{}{}
		var parts []string
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			key := strings.ToLower(part)
			if part == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			parts = append(parts, part)
		}
		if len(parts) > 0 {
			out[tag] = strings.Join(parts, ", ")
		}
	}
	return out
}

// Locales lists the locales present in m, default locale first.
func Locales(m *domain.Metadata) []language.Tag {
	if m == nil {
		return nil
	}
	set := map[language.Tag]struct{}{}
	for _, values := range []map[language.Tag]string{m.Title, m.Description, m.Tags} {
		for tag := range values {
			set[tag] = struct{}{}
		}
	}
	out := make([]language.Tag, 0, len(set))
	for tag := range set {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i] == domain.DefaultLocale {
			return true
		}
		if out[j] == domain.DefaultLocale {
			return false
		}
		return out[i].String() < out[j].String()
	})
	return out
}

type MetadataOptions struct {
	Completer llm.Completer
	Reader    ImageReader
	Model     string
	// Prompt overrides the default instruction; see ContextPlaceholder.
	Prompt  string
	Enabled bool
	Logger  *infra.Logger
}

// MetadataEnricher generates title, description and tags for an artifact.
type MetadataEnricher struct {
	completer llm.Completer
	reader    ImageReader
	model     string
	prompt    string
	enabled   bool
	logger    *infra.Logger
}

func NewMetadataEnricher(opts MetadataOptions) (*MetadataEnricher, error) {
	if opts.Enabled && (opts.Completer == nil || opts.Reader == nil) {
		return nil, fmt.Errorf("vision: metadata enricher needs a completer and reader: %w", domain.ErrConfig)
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &MetadataEnricher{
		completer: opts.Completer,
		reader:    opts.Reader,
		model:     strings.TrimSpace(opts.Model),
		prompt:    opts.Prompt,
		enabled:   opts.Enabled,
		logger:    logger,
	}, nil
}

// Enabled reports whether Enrich calls the model.
func (e *MetadataEnricher) Enabled() bool { return e.enabled }

// Enrich returns metadata for art. When disabled it returns the artifact's
// existing metadata, which may be nil.
func (e *MetadataEnricher) Enrich(ctx context.Context, art domain.Artifact, promptContext string) (*domain.Metadata, error) {
	if !e.enabled {
		return art.Metadata, nil
	}
	data, err := e.reader.Read(ctx, art.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("vision: metadata: %w", err)
	}
	raw, err := e.completer.Complete(ctx, llm.Request{
		Model:        e.model,
		SystemPrompt: MetadataPrompt(e.prompt, promptContext),
		UserPrompt:   metadataUserPrompt,
		Image:        &llm.Image{MIME: llm.DetectMIME(data, art.MIME), Data: data},
		JSON:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("vision: metadata %s: %w", art.LocalPath, err)
	}
	meta, err := ParseMetadata(raw)
	if err != nil {
		return nil, err
	}
	e.logger.Debug().
		Str("path", art.LocalPath).
		Str("title", domain.Lookup(meta.Title, domain.DefaultLocale)).
		Msg("vision: metadata generated")
	return meta, nil
}
