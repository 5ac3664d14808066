// Package credentials stores provider API keys in the integration_tokens table
// so deployments can rotate them without touching the environment.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"stockgen/internal/domain"
	"stockgen/internal/infra"
	"stockgen/internal/sqlinline"
)

const (
	ProviderPiAPI    = "piapi"
	ProviderOpenAI   = "openai"
	ProviderGemini   = "gemini"
	ProviderRemoveBg = "removebg"
)

// Providers lists every provider name the store accepts.
var Providers = []string{ProviderPiAPI, ProviderOpenAI, ProviderGemini, ProviderRemoveBg}

// Entry describes a stored key without exposing its value.
type Entry struct {
	Provider  string
	UpdatedAt time.Time
}

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Token returns the stored key for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

func (s *Store) SetToken(ctx context.Context, provider, key string) error {
	if !Known(provider) {
		return fmt.Errorf("credentials: unknown provider %q: %w", provider, domain.ErrValidation)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("credentials: %s api key is required: %w", provider, domain.ErrValidation)
	}
	return s.upsert(ctx, provider, key, map[string]any{"source": "providerkey"})
}

func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QListIntegrationProviders)
	if err != nil {
		return nil, fmt.Errorf("credentials: list: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Provider, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("credentials: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FillConfig copies stored keys into cfg wherever the environment left a key
// empty. Environment values always win.
func (s *Store) FillConfig(ctx context.Context, cfg *infra.Config) error {
	targets := map[string]*string{
		ProviderPiAPI:    &cfg.PiAPIKey,
		ProviderOpenAI:   &cfg.OpenAIAPIKey,
		ProviderGemini:   &cfg.GeminiAPIKey,
		ProviderRemoveBg: &cfg.RemoveBgAPIKey,
	}
	for _, provider := range Providers {
		dst := targets[provider]
		if *dst != "" {
			continue
		}
		token, err := s.Token(ctx, provider)
		if err != nil {
			return fmt.Errorf("credentials: load %s: %w", provider, err)
		}
		*dst = token
	}
	return nil
}

func Known(provider string) bool {
	for _, p := range Providers {
		if p == provider {
			return true
		}
	}
	return false
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}
