// Package keywords loads the keyword pool a batch draws its subjects from.
package keywords

import (
	"sort"
	"strings"
)

// Entry is either a flat keyword or a structured record whose named fields feed
// a prompt template.
type Entry struct {
	Keyword string
	Fields  map[string]string
}

// Flat builds an entry for a single keyword.
func Flat(keyword string) Entry {
	return Entry{Keyword: strings.TrimSpace(keyword)}
}

// IsRecord reports whether the entry carries named fields.
func (e Entry) IsRecord() bool {
	return len(e.Fields) > 0
}

// Field returns a named field, matching names case-insensitively.
func (e Entry) Field(name string) (string, bool) {
	if v, ok := e.Fields[name]; ok {
		return v, true
	}
	for k, v := range e.Fields {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Label is a short human readable identifier used in logs and prompt context.
func (e Entry) Label() string {
	if e.Keyword != "" {
		return e.Keyword
	}
	if !e.IsRecord() {
		return ""
	}
	names := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	values := make([]string, 0, len(names))
	for _, k := range names {
		if v := strings.TrimSpace(e.Fields[k]); v != "" {
			values = append(values, v)
		}
	}
	return strings.Join(values, ", ")
}
