package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"stockgen/internal/domain"
	"stockgen/internal/infra"
	"stockgen/internal/providers/llm"
)

const (
	heuristicReasonPrefix = "Raw response analysis: "
	heuristicExcerptRunes = 200
	heuristicPassScore    = 9
	heuristicFailScore    = 2
	qualityUserPrompt     = "Review this image for commercial stock use."
)

// ImageReader loads the bytes of a local artifact.
type ImageReader interface {
	Read(ctx context.Context, path string) ([]byte, error)
}

// ParsedVerdict records how a verdict was obtained. Exactly one field is set.
type ParsedVerdict struct {
	Structured *domain.QualityVerdict
	Heuristic  *domain.QualityVerdict
}

// Verdict returns whichever verdict is present.
func (p ParsedVerdict) Verdict() domain.QualityVerdict {
	if p.Structured != nil {
		return *p.Structured
	}
	if p.Heuristic != nil {
		return *p.Heuristic
	}
	return domain.QualityVerdict{}
}

type verdictPayload struct {
	Passed *bool    `json:"passed"`
	Score  *float64 `json:"score"`
	Reason string   `json:"reason"`
	// ImageQuality is the older "pass"/"fail" shape.
	ImageQuality string `json:"image_quality"`
}

// ParseVerdict decodes a quality reply. Replies that are not the canonical
// JSON shape, or the older image_quality shape, are scored heuristically.
func ParseVerdict(raw string) ParsedVerdict {
	cleaned := stripFences(raw)
	var payload verdictPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err == nil {
		if v, ok := payload.normalize(); ok {
			return ParsedVerdict{Structured: &v}
		}
	}
	v := HeuristicVerdict(cleaned)
	return ParsedVerdict{Heuristic: &v}
}

func (p verdictPayload) normalize() (domain.QualityVerdict, bool) {
	var passed bool
	switch {
	case p.Passed != nil:
		passed = *p.Passed
	case strings.TrimSpace(p.ImageQuality) != "":
		passed = strings.EqualFold(strings.TrimSpace(p.ImageQuality), "pass")
	default:
		return domain.QualityVerdict{}, false
	}
	v := domain.QualityVerdict{State: domain.VerdictFailed, Reason: strings.TrimSpace(p.Reason)}
	if passed {
		v.State = domain.VerdictPassed
	}
	switch {
	case p.Score != nil:
		v.Score = *p.Score
	case passed:
		v.Score = heuristicPassScore
	default:
		v.Score = heuristicFailScore
	}
	return v, true
}

// HeuristicVerdict scores free text. It passes only when the text states
// passed: true and mentions no failure.
func HeuristicVerdict(raw string) domain.QualityVerdict {
	lower := strings.ToLower(raw)
	affirmed := strings.Contains(lower, `"passed": true`) || strings.Contains(lower, "passed: true")
	denied := strings.Contains(lower, `"passed": false`) || strings.Contains(lower, "passed: false") ||
		strings.Contains(lower, "fail")
	v := domain.QualityVerdict{
		State:  domain.VerdictFailed,
		Score:  heuristicFailScore,
		Reason: heuristicReasonPrefix + firstRunes(raw, heuristicExcerptRunes) + "...",
	}
	if affirmed {
		v.Score = heuristicPassScore
	}
	if affirmed && !denied {
		v.State = domain.VerdictPassed
	}
	return v
}

type QualityOptions struct {
	Completer llm.Completer
	Reader    ImageReader
	Model     string
	Prompt    string
	Enabled   bool
	Logger    *infra.Logger
}

// QualityGate asks a vision model whether an artifact is fit for upload.
type QualityGate struct {
	completer llm.Completer
	reader    ImageReader
	model     string
	prompt    string
	enabled   bool
	logger    *infra.Logger
}

func NewQualityGate(opts QualityOptions) (*QualityGate, error) {
	if opts.Enabled && (opts.Completer == nil || opts.Reader == nil) {
		return nil, fmt.Errorf("vision: quality gate needs a completer and reader: %w", domain.ErrConfig)
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	prompt := strings.TrimSpace(opts.Prompt)
	if prompt == "" {
		prompt = DefaultQualityPrompt
	}
	return &QualityGate{
		completer: opts.Completer,
		reader:    opts.Reader,
		model:     strings.TrimSpace(opts.Model),
		prompt:    prompt,
		enabled:   opts.Enabled,
		logger:    logger,
	}, nil
}

// Check returns the verdict for art. When the gate is disabled every artifact
// passes without a model call.
func (g *QualityGate) Check(ctx context.Context, art domain.Artifact) (domain.QualityVerdict, error) {
	if !g.enabled {
		return domain.QualityVerdict{State: domain.VerdictPassed, Reason: "quality check disabled"}, nil
	}
	data, err := g.reader.Read(ctx, art.LocalPath)
	if err != nil {
		return domain.QualityVerdict{}, fmt.Errorf("vision: quality check: %w", err)
	}
	raw, err := g.completer.Complete(ctx, llm.Request{
		Model:        g.model,
		SystemPrompt: g.prompt,
		UserPrompt:   qualityUserPrompt,
		Image:        &llm.Image{MIME: llm.DetectMIME(data, art.MIME), Data: data},
	})
	if err != nil {
		return domain.QualityVerdict{}, fmt.Errorf("vision: quality check %s: %w", art.LocalPath, err)
	}
	parsed := ParseVerdict(raw)
	verdict := parsed.Verdict()
	event := g.logger.Debug()
	if parsed.Heuristic != nil {
		event = g.logger.Warn()
	}
	event.
		Str("path", art.LocalPath).
		Str("verdict", verdict.State.String()).
		Float64("score", verdict.Score).
		Bool("heuristic", parsed.Heuristic != nil).
		Msg("vision: quality verdict")
	return verdict, nil
}

func stripFences(raw string) string {
	out := strings.ReplaceAll(raw, "```json", "")
	out = strings.ReplaceAll(out, "```", "")
	return strings.TrimSpace(out)
}

func firstRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
