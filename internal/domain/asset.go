package domain

import (
	"strings"

	"golang.org/x/text/language"
)

// VerdictState enumerates quality gate outcomes.
type VerdictState int

const (
	VerdictUnknown VerdictState = iota
	VerdictPassed
	VerdictFailed
)

func (s VerdictState) String() string {
	switch s {
	case VerdictPassed:
		return "passed"
	case VerdictFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// QualityVerdict is the normalized result of a quality screening.
type QualityVerdict struct {
	State  VerdictState
	Score  float64
	Reason string
}

// Passed reports whether the artifact may continue through the pipeline.
func (v QualityVerdict) Passed() bool { return v.State == VerdictPassed }

// DefaultLocale is used for metadata values that arrive without a locale.
var DefaultLocale = language.English

// Metadata carries locale-keyed upload metadata for an artifact.
type Metadata struct {
	Title       map[language.Tag]string `json:"title"`
	Description map[language.Tag]string `json:"description"`
	Tags        map[language.Tag]string `json:"tags"`
}

// Lookup returns the value for tag, falling back to DefaultLocale.
func Lookup(values map[language.Tag]string, tag language.Tag) string {
	if v, ok := values[tag]; ok {
		return v
	}
	return values[DefaultLocale]
}

// Complete reports whether every field has a value in the default locale.
func (m *Metadata) Complete() bool {
	if m == nil {
		return false
	}
	return strings.TrimSpace(Lookup(m.Title, DefaultLocale)) != "" &&
		strings.TrimSpace(Lookup(m.Description, DefaultLocale)) != "" &&
		strings.TrimSpace(Lookup(m.Tags, DefaultLocale)) != ""
}

// Artifact is a single downloaded image moving through the pipeline. LocalPath
// always points at the file owned by the current stage.
type Artifact struct {
	Ordinal   int
	SourceURL string
	LocalPath string
	MIME      string
	Verdict   QualityVerdict
	Metadata  *Metadata
}
