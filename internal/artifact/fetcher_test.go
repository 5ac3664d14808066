package artifact

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockgen/internal/retry"
	"stockgen/internal/storage"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestFetchSkipsFailuresAndKeepsOrdinals(t *testing.T) {
	t.Parallel()
	var flaky int32
	mux := http.NewServeMux()
	mux.HandleFunc("/one.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = io.WriteString(w, "first")
	})
	mux.HandleFunc("/missing.png", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&flaky, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg; charset=binary")
		_, _ = io.WriteString(w, "third")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	policy := retry.Exponential(3, time.Second, 4*time.Second)
	policy.Sleep = noSleep
	fetcher := NewFetcher(store, Options{Retry: &policy})

	arts := fetcher.Fetch(context.Background(), "20241208_101500_1", []string{
		srv.URL + "/one.png",
		srv.URL + "/missing.png",
		srv.URL + "/flaky",
		"ftp://nope",
	})
	require.Len(t, arts, 2)
	assert.Equal(t, 1, arts[0].Ordinal)
	assert.Equal(t, filepath.Join(store.Root(), "generated", "20241208_101500_1_1.png"), arts[0].LocalPath)
	assert.Equal(t, 3, arts[1].Ordinal)
	assert.Equal(t, "image/jpeg", arts[1].MIME)
	assert.Equal(t, filepath.Join(store.Root(), "generated", "20241208_101500_1_3.jpg"), arts[1].LocalPath)
	assert.Equal(t, int32(2), atomic.LoadInt32(&flaky))
}

func TestExtensionForMIME(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ".png", ExtensionForMIME("image/png"))
	assert.Equal(t, ".jpg", ExtensionForMIME("IMAGE/JPEG"))
	assert.Equal(t, ".webp", ExtensionForMIME("image/webp"))
	assert.Equal(t, ".png", ExtensionForMIME(""))
}
