// Package llm defines the completion contract shared by the text and vision
// model providers.
package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrEmptyCompletion is returned when a model replies without any text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Image is an inline image attached to a vision request.
type Image struct {
	MIME string
	Data []byte
}

// Request is a single-turn completion request.
type Request struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Image        *Image
	Temperature  float64
	// JSON asks the provider to constrain the reply to a JSON object.
	JSON bool
}

// Completer turns a request into the model's text reply.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

func (f CompleterFunc) Name() string { return "func" }

// DetectMIME sniffs an image MIME type, returning fallback (or image/png)
// when the content is not recognized as an image.
func DetectMIME(data []byte, fallback string) string {
	if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	if fallback = strings.TrimSpace(fallback); fallback != "" {
		return fallback
	}
	return "image/png"
}
