package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a", "fox_1.png")
	b := filepath.Join(dir, "b", "fox_1.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(a), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Dir(b), 0o755))
	require.NoError(t, os.WriteFile(a, []byte("first"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("second"), 0o644))

	var buf bytes.Buffer
	skipped, err := Write(&buf, []Entry{
		{Path: a},
		{Path: b},
		{Path: filepath.Join(dir, "missing.png")},
		{Name: "report.csv", Data: []byte("Filename\n")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "missing.png")}, skipped)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	got := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		got[f.Name] = string(data)
	}
	assert.Equal(t, map[string]string{
		"fox_1.png":   "first",
		"fox_1_2.png": "second",
		"report.csv":  "Filename\n",
	}, got)
}
