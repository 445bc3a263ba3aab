// Package export serializes a finished crawl report to CSV or JSON.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"linkhealth/internal/crawler"
)

// Exporter writes a finalized report to w.
type Exporter interface {
	Export(w io.Writer, report *crawler.HealthReport) error
}

// ForPath picks an exporter from the file extension of path.
func ForPath(path string) (Exporter, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		return NewCSVExporter(), nil
	case ".json":
		return NewJSONExporter(), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q (want .csv or .json)", ext)
	}
}

// WriteFile exports report to path, creating parent directories and
// truncating any existing file.
func WriteFile(path string, report *crawler.HealthReport) error {
	if report == nil {
		return fmt.Errorf("export %s: nil report", path)
	}
	exporter, err := ForPath(path)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	}
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := exporter.Export(fh, report); err != nil {
		fh.Close()
		return fmt.Errorf("export %s: %w", path, err)
	}
	return fh.Close()
}

// Row is one broken link flattened for output.
type Row struct {
	URL            string
	Status         string
	HTTPStatusCode int
	SourcePages    []string
	LinkType       string
	ResponseTimeMS float64
}

func rowsFor(report *crawler.HealthReport) []Row {
	entries := report.BrokenLinks()
	rows := make([]Row, 0, len(entries))
	for _, entry := range entries {
		sources := entry.SourcePages
		if sources == nil {
			sources = []string{}
		}
		rows = append(rows, Row{
			URL:            entry.URL,
			Status:         string(entry.Status),
			HTTPStatusCode: entry.StatusCode,
			SourcePages:    sources,
			LinkType:       string(entry.LinkType),
			ResponseTimeMS: roundMS(entry.ResponseTimeMS()),
		})
	}
	return rows
}

func roundMS(ms float64) float64 {
	return float64(int64(ms*100+0.5)) / 100
}
