package prompt

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"stockgen/internal/domain"
	"stockgen/internal/keywords"
)

const templateProviderName = "template"

var placeholderPattern = regexp.MustCompile(`\$\{\{\s*([A-Za-z0-9_ ]+?)\s*\}\}`)

// optionalFields may be absent from a record; their placeholders render empty.
var optionalFields = map[string]struct{}{
	"setting":  {},
	"style":    {},
	"mood":     {},
	"lighting": {},
	"color":    {},
}

type TemplateSynthesizer struct{}

func NewTemplateSynthesizer() *TemplateSynthesizer {
	return &TemplateSynthesizer{}
}

func (t *TemplateSynthesizer) Synthesize(_ context.Context, req SynthesizeRequest) (*Synthesis, error) {
	rendered, err := RenderTemplate(req.Template, req.Keyword)
	if err != nil {
		return nil, err
	}
	return &Synthesis{
		Prompt:        rendered,
		PromptContext: req.Keyword.Label(),
		Provider:      templateProviderName,
	}, nil
}

// RenderTemplate substitutes every ${{field}} in tmpl with the entry's value.
func RenderTemplate(tmpl string, entry keywords.Entry) (string, error) {
	if strings.TrimSpace(tmpl) == "" {
		return "", fmt.Errorf("prompt: render template: empty template: %w", domain.ErrValidation)
	}
	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := strings.TrimSpace(placeholderPattern.FindStringSubmatch(match)[1])
		if value, ok := entry.Field(name); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
		if _, ok := optionalFields[strings.ToLower(name)]; ok {
			return ""
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("prompt: render template: unresolved %s: %w", strings.Join(missing, ", "), domain.ErrValidation)
	}
	return collapseSpaces(out), nil
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
