package export

import (
	"io"
	"strings"

	"github.com/gocarina/gocsv"

	"linkhealth/internal/crawler"
)

const sourceSeparator = ";"

type csvRow struct {
	URL            string  `csv:"url"`
	Status         string  `csv:"status"`
	HTTPStatusCode int     `csv:"http_status_code"`
	SourcePages    string  `csv:"source_pages"`
	LinkType       string  `csv:"link_type"`
	ResponseTimeMS float64 `csv:"response_time_ms"`
}

// CSVExporter writes one line per broken link with a header row.
type CSVExporter struct{}

func NewCSVExporter() Exporter {
	return &CSVExporter{}
}

func (e *CSVExporter) Export(w io.Writer, report *crawler.HealthReport) error {
	rows := rowsFor(report)
	out := make([]*csvRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, &csvRow{
			URL:            row.URL,
			Status:         row.Status,
			HTTPStatusCode: row.HTTPStatusCode,
			SourcePages:    strings.Join(row.SourcePages, sourceSeparator),
			LinkType:       row.LinkType,
			ResponseTimeMS: row.ResponseTimeMS,
		})
	}
	return gocsv.Marshal(&out, w)
}
