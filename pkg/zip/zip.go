// Package zip bundles batch outputs into a single downloadable archive.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Entry names one file to place in the archive. Data wins over Path when both
// are set.
type Entry struct {
	Name     string
	Path     string
	Data     []byte
	Modified time.Time
}

// Write streams entries into a zip archive on w. Missing files are skipped and
// reported back by name so callers can log them.
func Write(w io.Writer, entries []Entry) (skipped []string, err error) {
	zw := zip.NewWriter(w)
	seen := make(map[string]int, len(entries))
	for _, e := range entries {
		name := uniqueName(seen, archiveName(e))
		if e.Data != nil {
			if err := writeBytes(zw, name, e.Data, e.Modified); err != nil {
				_ = zw.Close()
				return skipped, err
			}
			continue
		}
		ok, err := writeFile(zw, name, e.Path)
		if err != nil {
			_ = zw.Close()
			return skipped, err
		}
		if !ok {
			skipped = append(skipped, e.Path)
		}
	}
	if err := zw.Close(); err != nil {
		return skipped, fmt.Errorf("zip: close: %w", err)
	}
	return skipped, nil
}

func archiveName(e Entry) string {
	if e.Name != "" {
		return filepath.ToSlash(e.Name)
	}
	return filepath.Base(e.Path)
}

func uniqueName(seen map[string]int, name string) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s_%d%s", name[:len(name)-len(ext)], n+1, ext)
}

func writeBytes(zw *zip.Writer, name string, data []byte, modified time.Time) error {
	hdr := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("zip: create %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("zip: write %s: %w", name, err)
	}
	return nil
}

func writeFile(zw *zip.Writer, name, path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("zip: open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("zip: stat %s: %w", path, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return false, fmt.Errorf("zip: header %s: %w", path, err)
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return false, fmt.Errorf("zip: create %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return false, fmt.Errorf("zip: copy %s: %w", path, err)
	}
	return true, nil
}
