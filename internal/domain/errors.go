package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrTransientProvider  = errors.New("transient provider failure")
	ErrPermanentJob       = errors.New("permanent job failure")
	ErrTimeout            = errors.New("timeout")
	ErrParse              = errors.New("parse failure")
	ErrValidation         = errors.New("validation failure")
	ErrResource           = errors.New("resource failure")
	ErrConfig             = errors.New("invalid configuration")
	ErrBatchInProgress    = errors.New("batch already in progress")
	ErrDuplicateOperation = errors.New("duplicate operation")
)

// PromptSynthesisError reports that the text-completion collaborator could not
// produce a prompt for a work item.
type PromptSynthesisError struct {
	Keyword string
	Err     error
}

func (e *PromptSynthesisError) Error() string {
	return fmt.Sprintf("prompt synthesis for %q: %v", e.Keyword, e.Err)
}

func (e *PromptSynthesisError) Unwrap() error { return e.Err }

// InvalidProviderResponseError is returned when a provider reply lacks a
// required field, such as the job identifier on submission.
type InvalidProviderResponseError struct {
	Provider string
	Field    string
	Body     string
}

func (e *InvalidProviderResponseError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: invalid response: missing %s", e.Provider, e.Field)
	}
	return fmt.Sprintf("%s: invalid response: missing %s: %s", e.Provider, e.Field, e.Body)
}

func (e *InvalidProviderResponseError) Is(target error) bool { return target == ErrValidation }

// ProviderError wraps a non-successful provider reply. Transient marks 5xx and
// transport failures that are worth retrying.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool {
	if e.Transient {
		return target == ErrTransientProvider
	}
	return target == ErrPermanentJob
}

// JobFailedError carries the message reported by a provider for a failed job.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

func (e *JobFailedError) Is(target error) bool { return target == ErrPermanentJob }

// TimeoutError is returned when polling exceeds its wall-clock budget.
type TimeoutError struct {
	JobID   string
	Budget  time.Duration
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s: no terminal state after %s (budget %s)", e.JobID, e.Elapsed.Round(time.Second), e.Budget)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ParseError reports model output that could not be decoded.
type ParseError struct {
	Stage string
	Raw   string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse model output: %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }
