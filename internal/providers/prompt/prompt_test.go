package prompt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockgen/internal/domain"
	"stockgen/internal/keywords"
	"stockgen/internal/providers/llm"
)

func record(fields map[string]string) keywords.Entry {
	return keywords.Entry{Fields: fields}
}

func TestRenderTemplate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		tmpl    string
		fields  map[string]string
		want    string
		wantErr bool
	}{
		{name: "all_fields", tmpl: "A ${{Subject}} in a ${{Setting}}", fields: map[string]string{"Subject": "fox", "Setting": "forest"}, want: "A fox in a forest"},
		{name: "case_insensitive", tmpl: "A ${{subject}}", fields: map[string]string{"Subject": "owl"}, want: "A owl"},
		{name: "optional_missing", tmpl: "A ${{Subject}}, ${{Mood}} light", fields: map[string]string{"Subject": "owl"}, want: "A owl, light"},
		{name: "required_missing", tmpl: "A ${{Subject}} with ${{Prop}}", fields: map[string]string{"Subject": "owl"}, wantErr: true},
		{name: "empty_template", tmpl: "  ", fields: map[string]string{"Subject": "owl"}, wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := RenderTemplate(tc.tmpl, record(tc.fields))
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, domain.ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseCompletion(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		raw        string
		want       string
		structured bool
	}{
		{name: "json", raw: `{"prompt": "a red fox at dawn"}`, want: "a red fox at dawn", structured: true},
		{name: "fenced_json", raw: "```json\n{\"prompt\":\"a red fox\"}\n```", want: "a red fox", structured: true},
		{name: "quoted_text", raw: `"a red fox in snow"`, want: "a red fox in snow"},
		{name: "fenced_text", raw: "```\na red fox\n```", want: "a red fox"},
		{name: "empty_prompt_field", raw: `{"prompt": ""}`, want: `{"prompt": ""}`},
		{name: "blank", raw: "  ", want: ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, structured := ParseCompletion(tc.raw)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.structured, structured)
		})
	}
}

func TestCompletionSynthesizer(t *testing.T) {
	t.Parallel()
	var captured llm.Request
	completer := llm.CompleterFunc(func(_ context.Context, req llm.Request) (string, error) {
		captured = req
		return "Here you go: {\"prompt\": \"a fox in a misty forest\"}", nil
	})
	synth, err := NewCompletionSynthesizer(CompletionOptions{Completer: completer, Model: "gpt-4o-mini"})
	require.NoError(t, err)

	res, err := synth.Synthesize(context.Background(), SynthesizeRequest{Keyword: keywords.Flat("fox")})
	require.NoError(t, err)
	assert.Equal(t, "a fox in a misty forest", res.Prompt)
	assert.Equal(t, "fox", res.PromptContext)
	assert.Equal(t, "func", res.Provider)
	assert.Equal(t, completionTemperature, captured.Temperature)
	assert.Contains(t, captured.UserPrompt, "fox")
	assert.True(t, captured.JSON)
}

func TestCompletionSynthesizerErrors(t *testing.T) {
	t.Parallel()
	failing := llm.CompleterFunc(func(context.Context, llm.Request) (string, error) {
		return "", errors.New("upstream down")
	})
	synth, err := NewCompletionSynthesizer(CompletionOptions{Completer: failing})
	require.NoError(t, err)
	_, err = synth.Synthesize(context.Background(), SynthesizeRequest{Keyword: keywords.Flat("fox")})
	var synthErr *domain.PromptSynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.Equal(t, "fox", synthErr.Keyword)

	blank := llm.CompleterFunc(func(context.Context, llm.Request) (string, error) {
		return "``` ```", nil
	})
	synth, err = NewCompletionSynthesizer(CompletionOptions{Completer: blank})
	require.NoError(t, err)
	_, err = synth.Synthesize(context.Background(), SynthesizeRequest{Keyword: keywords.Flat("fox")})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = NewCompletionSynthesizer(CompletionOptions{})
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestRouter(t *testing.T) {
	t.Parallel()
	calls := 0
	completer := llm.CompleterFunc(func(context.Context, llm.Request) (string, error) {
		calls++
		return `{"prompt":"a fox"}`, nil
	})
	completion, err := NewCompletionSynthesizer(CompletionOptions{Completer: completer})
	require.NoError(t, err)
	router := &Router{Template: NewTemplateSynthesizer(), Completion: completion}

	res, err := router.Synthesize(context.Background(), SynthesizeRequest{Keyword: keywords.Flat("fox"), Template: "A ${{Subject}}"})
	require.NoError(t, err)
	assert.Equal(t, "a fox", res.Prompt)

	res, err = router.Synthesize(context.Background(), SynthesizeRequest{
		Keyword:  record(map[string]string{"Subject": "owl", "Setting": "barn"}),
		Template: "A ${{Subject}} in a ${{Setting}}",
	})
	require.NoError(t, err)
	assert.Equal(t, "A owl in a barn", res.Prompt)
	assert.Equal(t, templateProviderName, res.Provider)
	assert.Equal(t, "barn, owl", res.PromptContext)
	assert.Equal(t, 1, calls)

	templateOnly := &Router{Template: NewTemplateSynthesizer()}
	_, err = templateOnly.Synthesize(context.Background(), SynthesizeRequest{Keyword: keywords.Flat("fox")})
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestWithVersion(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "a fox", WithVersion("a fox ", ""))
	assert.Equal(t, "a fox --v 7", WithVersion("a fox", "7"))
	assert.Equal(t, "a fox --v 7", WithVersion(WithVersion("a fox", "7"), "7"))
}
