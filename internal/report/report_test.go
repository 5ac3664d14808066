package report

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/language"

	"stockgen/internal/domain"
)

func sampleEntries() []domain.ReportEntry {
	return []domain.ReportEntry{
		{
			ItemIndex:  1,
			OutputPath: "/data/toupload/20241208_101500_1.png",
			Metadata: &domain.Metadata{
				Title:       map[language.Tag]string{language.English: "Red fox"},
				Description: map[language.Tag]string{language.English: "A fox in snow."},
				Tags:        map[language.Tag]string{language.English: "fox, snow"},
			},
		},
		{ItemIndex: 2, OutputPath: "/data/toupload/20241208_101500_2.jpg"},
	}
}

func TestFileName(t *testing.T) {
	t.Parallel()
	day := time.Date(2024, 12, 8, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "upload_data_2024_12_08.xlsx", FileName(day, FormatXLSX))
	assert.Equal(t, "upload_data_2024_12_08.csv", FileName(day, FormatCSV))
}

func TestWriteXLSX(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, err := NewWriter(Options{Dir: dir, ProductType: "man, woman", ProductColor: "black"})
	require.NoError(t, err)

	path, err := w.Write(context.Background(), sampleEntries(), time.Date(2024, 12, 8, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "upload_data_2024_12_08.xlsx"), path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, []string{"20241208_101500_1.png", "EN", "Red fox", "A fox in snow.", "fox, snow", "man, woman", "black"}, rows[1])
	assert.Equal(t, "20241208_101500_2.jpg", rows[2][0])
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, err := NewWriter(Options{Dir: dir, Format: "CSV"})
	require.NoError(t, err)

	path, err := w.Write(context.Background(), sampleEntries()[:1], time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	file, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = file.Close() })
	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, Header, records[0])
	assert.Equal(t, "Red fox", records[1][2])
}

func TestNewWriterRejectsUnknownFormat(t *testing.T) {
	t.Parallel()
	_, err := NewWriter(Options{Dir: t.TempDir(), Format: "pdf"})
	assert.ErrorIs(t, err, domain.ErrConfig)
	_, err = NewWriter(Options{})
	assert.ErrorIs(t, err, domain.ErrConfig)
}
