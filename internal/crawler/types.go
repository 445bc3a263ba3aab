package crawler

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultUserAgent = "linkhealth-bot/1.0"

// Config defines inputs for a crawl run.
type Config struct {
	StartURL string
	// Pages restricts the run to an explicit page list. Each entry is resolved
	// against StartURL and only these pages are expanded.
	Pages []string

	// MaxDepth bounds page expansion. A negative value disables the limit.
	MaxDepth          int
	MaxWorkers        int
	MaxTasks          int
	RunTimeout        time.Duration
	Timeout           time.Duration
	RobotsTimeout     time.Duration
	// MaxRedirects bounds redirect chains. Zero follows none; a negative
	// value selects the default.
	MaxRedirects      int
	MaxBodyBytes      int64
	UserAgent         string
	IgnoreRobots      bool
	IncludeSubdomains bool
	ExpandExtensions  []string

	PerHostDelay      time.Duration
	RequestsPerMinute int

	Client    *http.Client
	Fetcher   Fetcher
	Validator Validator
	Extractor Extractor
	Robots    RobotsPolicy

	Logger   logrus.FieldLogger
	Progress func(string)
}

// LinkType describes the classification of a link.
type LinkType string

const (
	// LinkTypeInternal indicates a link that belongs to the starting host.
	LinkTypeInternal LinkType = "internal"
	// LinkTypeExternal indicates a link that targets another host.
	LinkTypeExternal LinkType = "external"
)

// Status is the outcome of validating one URL.
type Status string

const (
	StatusOK               Status = "ok"
	StatusBroken           Status = "broken"
	StatusTimeout          Status = "timeout"
	StatusExcludedByRobots Status = "excluded_by_robots"
	StatusSkipped          Status = "skipped"
)

// IsBroken reports whether the status counts as broken in a report.
// Timeouts are reported as broken but kept distinct for diagnostics.
func (s Status) IsBroken() bool {
	return s == StatusBroken || s == StatusTimeout
}

// Checked reports whether a request actually reached the validation stage.
func (s Status) Checked() bool {
	return s == StatusOK || s.IsBroken()
}

// LinkRecord is a single href discovered on a page.
type LinkRecord struct {
	SourcePage string
	TargetURL  string
	AnchorText string
	Type       LinkType
	// Err is set when the href could not be normalized. TargetURL then holds
	// the raw resolved value.
	Err error
}

// CrawlTask is one unit of frontier work.
type CrawlTask struct {
	URL            string
	Depth          int
	DiscoveredFrom string
	Type           LinkType
}

// ValidationResult captures the outcome of checking one URL.
type ValidationResult struct {
	URL          string
	FinalURL     string
	Status       Status
	StatusCode   int
	Reason       string
	ResponseTime time.Duration
	CheckedAt    time.Time
	Type         LinkType
	Redirects    int
}

// ResponseTimeMS returns the elapsed time in fractional milliseconds.
func (r ValidationResult) ResponseTimeMS() float64 {
	return float64(r.ResponseTime) / float64(time.Millisecond)
}

// Page is a fetched document handed to an Extractor.
type Page struct {
	URL         string
	ContentType string
	Body        []byte
}

// Diagnostic is a non-fatal note attached to the report.
type Diagnostic struct {
	URL     string `json:"url"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

const (
	diagParse  = "parse"
	diagFetch  = "fetch"
	diagRobots = "robots"
)
