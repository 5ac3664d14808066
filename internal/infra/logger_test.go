package infra

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "production", false)
	logger.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug output leaked at info level: %q", buf.String())
	}

	buf.Reset()
	logger = newLogger(&buf, "production", true)
	logger.Debug().Str("job_id", "abc").Msg("visible")
	if !strings.Contains(buf.String(), `"job_id":"abc"`) {
		t.Fatalf("expected JSON debug line, got %q", buf.String())
	}
}
