// Package prompt turns keywords into image-generation prompts, either by
// filling a template from a keyword record or by asking a text model.
package prompt

import (
	"context"
	"fmt"
	"strings"

	"stockgen/internal/domain"
	"stockgen/internal/keywords"
)

// SynthesizeRequest describes one prompt to build. Template is used only for
// structured keyword records.
type SynthesizeRequest struct {
	Keyword  keywords.Entry
	Template string
}

// Synthesis is the prompt sent to the image provider together with the
// context later handed to metadata generation.
type Synthesis struct {
	Prompt        string
	PromptContext string
	Provider      string
}

type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesizeRequest) (*Synthesis, error)
}

// WithVersion appends " --v <tag>" to prompt unless it already ends with it.
func WithVersion(prompt, tag string) string {
	tag = strings.TrimSpace(tag)
	prompt = strings.TrimSpace(prompt)
	if tag == "" {
		return prompt
	}
	suffix := " --v " + tag
	if strings.HasSuffix(prompt, suffix) {
		return prompt
	}
	return prompt + suffix
}

// Router picks the template path for records when a template is supplied and
// falls back to the completion path otherwise.
type Router struct {
	Template   *TemplateSynthesizer
	Completion Synthesizer
}

func (r *Router) Synthesize(ctx context.Context, req SynthesizeRequest) (*Synthesis, error) {
	if r.Template != nil && strings.TrimSpace(req.Template) != "" && req.Keyword.IsRecord() {
		return r.Template.Synthesize(ctx, req)
	}
	if r.Completion == nil {
		return nil, fmt.Errorf("prompt: no completion provider for %q: %w", req.Keyword.Label(), domain.ErrConfig)
	}
	return r.Completion.Synthesize(ctx, req)
}
