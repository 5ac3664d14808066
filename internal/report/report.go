// Package report writes the marketplace upload sheet for accepted images.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"stockgen/internal/domain"
	"stockgen/internal/infra"
)

const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
	sheetName  = "Sheet1"
)

// Header is the column order of the upload sheet.
var Header = []string{"Image Path", "Language", "Title", "Description", "Tags", "Type", "Color"}

var columnWidths = []float64{30, 10, 30, 50, 30, 15, 15}

type Options struct {
	Dir          string
	Format       string
	Locale       language.Tag
	ProductType  string
	ProductColor string
	Logger       *infra.Logger
}

// Writer renders report entries into one file per day.
type Writer struct {
	dir          string
	format       string
	locale       language.Tag
	productType  string
	productColor string
	logger       *infra.Logger
}

func NewWriter(opts Options) (*Writer, error) {
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = FormatXLSX
	}
	if format != FormatXLSX && format != FormatCSV {
		return nil, fmt.Errorf("report: unsupported format %q: %w", opts.Format, domain.ErrConfig)
	}
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, fmt.Errorf("report: directory is required: %w", domain.ErrConfig)
	}
	locale := opts.Locale
	if locale == language.Und {
		locale = domain.DefaultLocale
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Writer{
		dir:          opts.Dir,
		format:       format,
		locale:       locale,
		productType:  opts.ProductType,
		productColor: opts.ProductColor,
		logger:       logger,
	}, nil
}

// FileName is upload_data_{yyyy_MM_dd}.{format}.
func FileName(day time.Time, format string) string {
	return fmt.Sprintf("upload_data_%s.%s", day.Format("2006_01_02"), format)
}

// Rows converts entries into sheet rows, header excluded. Image paths are
// reduced to their base name.
func (w *Writer) Rows(entries []domain.ReportEntry) [][]string {
	base, _ := w.locale.Base()
	lang := cases.Upper(language.Und).String(base.String())
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		var title, desc, tags string
		if e.Metadata != nil {
			title = domain.Lookup(e.Metadata.Title, w.locale)
			desc = domain.Lookup(e.Metadata.Description, w.locale)
			tags = domain.Lookup(e.Metadata.Tags, w.locale)
		}
		rows = append(rows, []string{filepath.Base(e.OutputPath), lang, title, desc, tags, w.productType, w.productColor})
	}
	return rows
}

// Write stores the report for day and returns its path.
func (w *Writer) Write(ctx context.Context, entries []domain.ReportEntry, day time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("report: ensure directory: %w", err)
	}
	path := filepath.Join(w.dir, FileName(day, w.format))
	rows := w.Rows(entries)
	var err error
	if w.format == FormatCSV {
		err = writeCSV(path, rows)
	} else {
		err = writeXLSX(path, rows)
	}
	if err != nil {
		return "", fmt.Errorf("report: write %s: %w", path, err)
	}
	w.logger.Info().Str("path", path).Int("rows", len(rows)).Msg("report: upload sheet written")
	return path, nil
}

func writeXLSX(path string, rows [][]string) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	for i, width := range columnWidths {
		col, cerr := excelize.ColumnNumberToName(i + 1)
		if cerr != nil {
			return cerr
		}
		if err := f.SetColWidth(sheetName, col, col, width); err != nil {
			return err
		}
	}
	if err := f.SetSheetRow(sheetName, "A1", &Header); err != nil {
		return err
	}
	for i, row := range rows {
		cell, cerr := excelize.CoordinatesToCellName(1, i+2)
		if cerr != nil {
			return cerr
		}
		row := row
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

func writeCSV(path string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(file)
	if err := w.Write(Header); err != nil {
		_ = file.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
