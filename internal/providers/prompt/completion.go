package prompt

import (
	"context"
	"fmt"
	"strings"

	"stockgen/internal/domain"
	"stockgen/internal/infra"
	"stockgen/internal/providers/llm"
)

const completionTemperature = 0.7

const defaultSystemPrompt = `You write prompts for a photorealistic stock image generator.
Given a subject, describe one striking, commercially usable image: the subject, its setting, composition, camera angle, lighting, colour palette and mood.
Write in English, in a single paragraph of plain descriptive text, without labels, lists or quotation marks.
Avoid brand names, logos, readable text and real people.
Reply with a JSON object of the form {"prompt": "<the prompt>"}.`

type CompletionOptions struct {
	Completer    llm.Completer
	Model        string
	SystemPrompt string
	Logger       *infra.Logger
}

// CompletionSynthesizer asks a text model to expand a keyword into a prompt.
type CompletionSynthesizer struct {
	completer    llm.Completer
	model        string
	systemPrompt string
	logger       *infra.Logger
}

type completionPayload struct {
	Prompt string `json:"prompt"`
}

func NewCompletionSynthesizer(opts CompletionOptions) (*CompletionSynthesizer, error) {
	if opts.Completer == nil {
		return nil, fmt.Errorf("prompt: completer is required: %w", domain.ErrConfig)
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	system := strings.TrimSpace(opts.SystemPrompt)
	if system == "" {
		system = defaultSystemPrompt
	}
	return &CompletionSynthesizer{
		completer:    opts.Completer,
		model:        strings.TrimSpace(opts.Model),
		systemPrompt: system,
		logger:       logger,
	}, nil
}

func (c *CompletionSynthesizer) Synthesize(ctx context.Context, req SynthesizeRequest) (*Synthesis, error) {
	label := req.Keyword.Label()
	if label == "" {
		return nil, fmt.Errorf("prompt: synthesize: empty keyword: %w", domain.ErrValidation)
	}
	raw, err := c.completer.Complete(ctx, llm.Request{
		Model:        c.model,
		SystemPrompt: c.systemPrompt,
		UserPrompt:   userMessage(label),
		Temperature:  completionTemperature,
		JSON:         true,
	})
	if err != nil {
		return nil, &domain.PromptSynthesisError{Keyword: label, Err: err}
	}
	text, structured := ParseCompletion(raw)
	if !structured {
		c.logger.Debug().Str("keyword", label).Msg("prompt: reply was not json, using raw text")
	}
	if text == "" {
		return nil, fmt.Errorf("prompt: synthesize %q: empty reply: %w", label, domain.ErrValidation)
	}
	return &Synthesis{
		Prompt:        text,
		PromptContext: label,
		Provider:      c.completer.Name(),
	}, nil
}

func userMessage(subject string) string {
	return fmt.Sprintf("Subject: %s\nWrite the image prompt for this subject.", subject)
}

// ParseCompletion extracts the prompt from a model reply. The JSON shape is
// preferred; anything else falls back to the cleaned raw text. structured
// reports which path was taken.
func ParseCompletion(raw string) (text string, structured bool) {
	if payload, err := llm.ParsePayload[completionPayload](raw); err == nil {
		if p := strings.TrimSpace(payload.Prompt); p != "" {
			return collapseSpaces(p), true
		}
	}
	return cleanRaw(raw), false
}

func cleanRaw(raw string) string {
	text := llm.TrimCodeFence(raw)
	text = strings.TrimSpace(text)
	text = strings.Trim(text, "\"'`“”")
	return collapseSpaces(text)
}
