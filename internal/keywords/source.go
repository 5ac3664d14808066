package keywords

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrEmpty is returned when a source yields no usable keyword.
var ErrEmpty = errors.New("keywords: source is empty")

const (
	trendingPrefix       = "trending_keywords_data_raw_"
	maxMonthlySearches   = 1_000_000
	minResultCount       = 10
	maxResultCount       = 1_000_000
	keywordColumn        = "keyword"
	monthlySearchesField = "Avg. Monthly Searches"
	resultField          = "Result"
	keywordField         = "Keyword"
)

// Load reads a keyword file, choosing the parser from its extension: .csv
// yields structured records, .json a trending export, anything else a plain
// list with one keyword per line.
func Load(path string) ([]Entry, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return LoadCSV(path)
	case ".json":
		return LoadTrendingFile(path)
	default:
		return LoadList(path)
	}
}

// LoadList reads one keyword per line. Blank lines and lines starting with
// '#' are ignored; duplicates keep their first position.
func LoadList(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("keywords: open list: %w", err)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	var out []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, Flat(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("keywords: read list: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

// LoadCSV reads a headed CSV file. Every column becomes a record field; a
// column named "keyword" also sets the flat keyword.
func LoadCSV(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("keywords: open csv: %w", err)
	}
	defer f.Close()
	return parseCSV(f)
}

func parseCSV(r io.Reader) ([]Entry, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("keywords: read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	var out []Entry
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("keywords: read csv row: %w", err)
		}
		entry := Entry{Fields: make(map[string]string, len(header))}
		for i, name := range header {
			if name == "" || i >= len(row) {
				continue
			}
			value := strings.TrimSpace(row[i])
			entry.Fields[name] = value
			if strings.EqualFold(name, keywordColumn) {
				entry.Keyword = value
			}
		}
		if entry.Label() == "" {
			continue
		}
		out = append(out, entry)
	}
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

// LoadTrending picks today's trending export from dir, falling back to the
// most recently modified export when today's file is missing.
func LoadTrending(dir string, now time.Time) ([]Entry, error) {
	path := filepath.Join(dir, trendingPrefix+now.Format("2006.01.02")+".json")
	if _, err := os.Stat(path); err != nil {
		latest, lerr := latestTrendingFile(dir)
		if lerr != nil {
			return nil, lerr
		}
		path = latest
	}
	return LoadTrendingFile(path)
}

func latestTrendingFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("keywords: read trending dir: %w", err)
	}
	type candidate struct {
		path    string
		modTime time.Time
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), trendingPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{path: filepath.Join(dir, e.Name()), modTime: info.ModTime()})
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("keywords: no trending exports in %s: %w", dir, ErrEmpty)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.After(candidates[j].modTime)
	})
	return candidates[0].path, nil
}

// LoadTrendingFile parses a trending export and keeps keywords whose search
// volume and competing result count fall inside the accepted window.
func LoadTrendingFile(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keywords: read trending export: %w", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("keywords: decode trending export: %w", err)
	}
	out := FilterTrending(rows)
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

// FilterTrending applies the volume window to decoded export rows.
func FilterTrending(rows []map[string]any) []Entry {
	var out []Entry
	for _, row := range rows {
		if row == nil {
			continue
		}
		searches, ok := leadingInt(row[monthlySearchesField])
		if !ok || searches <= 0 || searches > maxMonthlySearches {
			continue
		}
		results, ok := leadingInt(row[resultField])
		if !ok || results < minResultCount || results > maxResultCount {
			continue
		}
		keyword, _ := row[keywordField].(string)
		if keyword = strings.TrimSpace(keyword); keyword == "" {
			continue
		}
		out = append(out, Flat(keyword))
	}
	return out
}

// leadingInt parses the leading integer of a number or string value after
// removing thousands separators, so "12,500" and "40 results" both parse.
func leadingInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", ""))
		end := 0
		for end < len(s) && (s[end] >= '0' && s[end] <= '9' || (end == 0 && s[end] == '-')) {
			end++
		}
		n, err := strconv.Atoi(s[:end])
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
