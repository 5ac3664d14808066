package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"stockgen/internal/domain"
	"stockgen/internal/infra"
)

type stubExecutor struct {
	tokens map[string]string
	err    error
	exec   struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	if s.err != nil {
		return stubRow{err: s.err}
	}
	provider, _ := args[0].(string)
	token, ok := s.tokens[provider]
	if !ok {
		return stubRow{err: pgx.ErrNoRows}
	}
	return stubRow{token: token}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 0 {
		return errors.New("no dest")
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func TestToken(t *testing.T) {
	store := NewStore(&stubExecutor{tokens: map[string]string{ProviderPiAPI: " abc123 "}})
	key, err := store.Token(context.Background(), ProviderPiAPI)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "abc123" {
		t.Fatalf("expected abc123, got %q", key)
	}
}

func TestToken_NoRows(t *testing.T) {
	store := NewStore(&stubExecutor{})
	key, err := store.Token(context.Background(), ProviderGemini)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestToken_Error(t *testing.T) {
	store := NewStore(&stubExecutor{err: errors.New("connection refused")})
	if _, err := store.Token(context.Background(), ProviderOpenAI); err == nil {
		t.Fatal("expected error")
	}
}

func TestSetToken(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.SetToken(context.Background(), ProviderRemoveBg, " secret "); err != nil {
		t.Fatalf("SetToken error: %v", err)
	}
	if len(exec.exec.args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(exec.exec.args))
	}
	if v, ok := exec.exec.args[0].(string); !ok || v != ProviderRemoveBg {
		t.Fatalf("expected provider argument, got %T %v", exec.exec.args[0], exec.exec.args[0])
	}
	if v, ok := exec.exec.args[1].(string); !ok || v != "secret" {
		t.Fatalf("expected secret argument, got %T %v", exec.exec.args[1], exec.exec.args[1])
	}
}

func TestSetTokenRejectsInput(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.SetToken(context.Background(), ProviderOpenAI, " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for empty key, got %v", err)
	}
	if err := store.SetToken(context.Background(), "qwen", "secret"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown provider, got %v", err)
	}
}

func TestFillConfig(t *testing.T) {
	store := NewStore(&stubExecutor{tokens: map[string]string{
		ProviderPiAPI:  "stored-piapi",
		ProviderOpenAI: "stored-openai",
	}})
	cfg := &infra.Config{OpenAIAPIKey: "env-openai"}
	if err := store.FillConfig(context.Background(), cfg); err != nil {
		t.Fatalf("FillConfig error: %v", err)
	}
	if cfg.PiAPIKey != "stored-piapi" {
		t.Fatalf("expected stored piapi key, got %q", cfg.PiAPIKey)
	}
	if cfg.OpenAIAPIKey != "env-openai" {
		t.Fatalf("environment key should win, got %q", cfg.OpenAIAPIKey)
	}
	if cfg.GeminiAPIKey != "" || cfg.RemoveBgAPIKey != "" {
		t.Fatalf("expected missing keys to stay empty, got %q %q", cfg.GeminiAPIKey, cfg.RemoveBgAPIKey)
	}
}
