package batch

import (
	"fmt"
	"math/rand"

	"stockgen/internal/domain"
	"stockgen/internal/keywords"
)

// RatioCursor hands out aspect ratios round-robin.
type RatioCursor struct {
	ratios []string
	next   int
}

func NewRatioCursor(ratios []string) (*RatioCursor, error) {
	if len(ratios) == 0 {
		return nil, fmt.Errorf("batch: no aspect ratios: %w", domain.ErrConfig)
	}
	return &RatioCursor{ratios: append([]string(nil), ratios...)}, nil
}

func (c *RatioCursor) Next() string {
	r := c.ratios[c.next%len(c.ratios)]
	c.next++
	return r
}

func (c *RatioCursor) Reset() { c.next = 0 }

// KeywordCursor hands out keywords either in order, wrapping around, or by
// random draw with replacement.
type KeywordCursor struct {
	entries []keywords.Entry
	random  bool
	rng     *rand.Rand
	next    int
}

// NewKeywordCursor builds a cursor over entries. rng is only used in random
// mode and must not be shared with another goroutine.
func NewKeywordCursor(entries []keywords.Entry, random bool, rng *rand.Rand) (*KeywordCursor, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("batch: %w: %w", keywords.ErrEmpty, domain.ErrConfig)
	}
	if random && rng == nil {
		return nil, fmt.Errorf("batch: random keyword order needs a source: %w", domain.ErrConfig)
	}
	return &KeywordCursor{entries: append([]keywords.Entry(nil), entries...), random: random, rng: rng}, nil
}

func (c *KeywordCursor) Next() keywords.Entry {
	if c.random {
		return c.entries[c.rng.Intn(len(c.entries))]
	}
	e := c.entries[c.next%len(c.entries)]
	c.next++
	return e
}

func (c *KeywordCursor) Reset() { c.next = 0 }
