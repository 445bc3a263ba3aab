package export

import (
	"encoding/json"
	"io"
	"time"

	"linkhealth/internal/crawler"
)

type jsonRow struct {
	URL            string   `json:"url"`
	Status         string   `json:"status"`
	HTTPStatusCode int      `json:"http_status_code"`
	SourcePages    []string `json:"source_pages"`
	LinkType       string   `json:"link_type"`
	ResponseTimeMS float64  `json:"response_time_ms"`
}

type jsonDocument struct {
	RunID       string               `json:"run_id"`
	RootURL     string               `json:"root_url"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
	Partial     bool                 `json:"partial"`
	StopReason  string               `json:"stop_reason,omitempty"`
	Summary     crawler.Summary      `json:"summary"`
	Links       []jsonRow            `json:"links"`
	Diagnostics []crawler.Diagnostic `json:"diagnostics,omitempty"`
}

// JSONExporter writes the report as a single indented document.
type JSONExporter struct{}

func NewJSONExporter() Exporter {
	return &JSONExporter{}
}

func (e *JSONExporter) Export(w io.Writer, report *crawler.HealthReport) error {
	rows := rowsFor(report)
	doc := jsonDocument{
		RunID:       report.RunID,
		RootURL:     report.RootURL,
		StartedAt:   report.StartedAt,
		FinishedAt:  report.FinishedAt,
		Partial:     report.Partial,
		StopReason:  report.StopReason,
		Summary:     report.Summary,
		Links:       make([]jsonRow, 0, len(rows)),
		Diagnostics: report.Diagnostics,
	}
	for _, row := range rows {
		doc.Links = append(doc.Links, jsonRow(row))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(doc)
}
