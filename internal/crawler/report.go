package crawler

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// ReportEntry is the final view of one checked URL.
type ReportEntry struct {
	URL          string
	FinalURL     string
	Status       Status
	StatusCode   int
	Reason       string
	SourcePages  []string
	ResponseTime time.Duration
	LinkType     LinkType
	CheckedAt    time.Time
	Redirects    int
}

// ResponseTimeMS returns the elapsed time in fractional milliseconds.
func (e *ReportEntry) ResponseTimeMS() float64 {
	return float64(e.ResponseTime) / float64(time.Millisecond)
}

// Summary aggregates every result recorded during a run.
type Summary struct {
	TotalChecked      int     `json:"total_checked"`
	OK                int     `json:"ok"`
	Broken            int     `json:"broken"`
	Timeouts          int     `json:"timeouts"`
	ExcludedByRobots  int     `json:"excluded_by_robots"`
	Skipped           int     `json:"skipped"`
	Internal          int     `json:"internal"`
	External          int     `json:"external"`
	InternalPercent   float64 `json:"internal_percent"`
	ExternalPercent   float64 `json:"external_percent"`
	AverageResponseMS float64 `json:"average_response_ms"`
	PagesExpanded     int     `json:"pages_expanded"`
	Dispatched        int     `json:"dispatched"`
	Pending           int     `json:"pending"`
}

// HealthReport is the immutable result of a crawl run. Entries holds broken
// and timed out URLs only; Summary covers every recorded result.
type HealthReport struct {
	RunID       string
	RootURL     string
	StartedAt   time.Time
	FinishedAt  time.Time
	Partial     bool
	StopReason  string
	Entries     map[string]*ReportEntry
	Summary     Summary
	Stats       Stats
	Diagnostics []Diagnostic
}

// BrokenLinks returns the entries ordered by URL.
func (r *HealthReport) BrokenLinks() []*ReportEntry {
	broken := make([]*ReportEntry, 0, len(r.Entries))
	for _, entry := range r.Entries {
		broken = append(broken, entry)
	}
	slices.SortFunc(broken, func(a, b *ReportEntry) int {
		return strings.Compare(a.URL, b.URL)
	})
	return broken
}

// Incomplete returns an error wrapping ErrBudgetExceeded when the run stopped
// before the frontier drained.
func (r *HealthReport) Incomplete() error {
	if !r.Partial {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrBudgetExceeded, r.StopReason)
}

type reportMeta struct {
	runID      string
	rootURL    string
	startedAt  time.Time
	finishedAt time.Time
	partial    bool
	stopReason string
	stats      Stats
}

// Aggregator collects validation results and source edges from concurrent
// workers. The first result recorded for a URL wins; later ones only
// contribute their source page.
type Aggregator struct {
	mu        sync.Mutex
	results   map[string]ValidationResult
	sources   map[string]mapset.Set[string]
	notes     []Diagnostic
	finalized bool
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		results: make(map[string]ValidationResult),
		sources: make(map[string]mapset.Set[string]),
	}
}

// Record stores result for its URL and links it to sourcePage. An empty
// sourcePage marks a seed.
func (a *Aggregator) Record(result ValidationResult, sourcePage string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized || result.URL == "" {
		return
	}
	if _, exists := a.results[result.URL]; !exists {
		a.results[result.URL] = result
	}
	a.addSourceLocked(result.URL, sourcePage)
}

// AddSource links target to sourcePage without a new result.
func (a *Aggregator) AddSource(target, sourcePage string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return
	}
	a.addSourceLocked(target, sourcePage)
}

func (a *Aggregator) addSourceLocked(target, sourcePage string) {
	if target == "" || sourcePage == "" {
		return
	}
	set, ok := a.sources[target]
	if !ok {
		set = mapset.NewThreadUnsafeSet[string]()
		a.sources[target] = set
	}
	set.Add(sourcePage)
}

// Note attaches a non-fatal diagnostic to the report.
func (a *Aggregator) Note(d Diagnostic) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return
	}
	a.notes = append(a.notes, d)
}

// Finalize freezes the aggregator and builds the report. Calls after the
// first return an equivalent report; late writes are dropped.
func (a *Aggregator) Finalize(meta reportMeta) *HealthReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finalized = true

	report := &HealthReport{
		RunID:       meta.runID,
		RootURL:     meta.rootURL,
		StartedAt:   meta.startedAt,
		FinishedAt:  meta.finishedAt,
		Partial:     meta.partial,
		StopReason:  meta.stopReason,
		Entries:     make(map[string]*ReportEntry),
		Stats:       meta.stats,
		Diagnostics: slices.Clone(a.notes),
		Summary:     summarize(a.results),
	}
	report.Summary.PagesExpanded = meta.stats.PagesExpanded
	report.Summary.Dispatched = meta.stats.Dispatched
	report.Summary.Pending = meta.stats.Pending

	for u, result := range a.results {
		if !result.Status.IsBroken() {
			continue
		}
		var sources []string
		if set, ok := a.sources[u]; ok {
			sources = set.ToSlice()
			slices.Sort(sources)
		}
		report.Entries[u] = &ReportEntry{
			URL:          u,
			FinalURL:     result.FinalURL,
			Status:       result.Status,
			StatusCode:   result.StatusCode,
			Reason:       result.Reason,
			SourcePages:  sources,
			ResponseTime: result.ResponseTime,
			LinkType:     result.Type,
			CheckedAt:    result.CheckedAt,
			Redirects:    result.Redirects,
		}
	}
	return report
}

func summarize(results map[string]ValidationResult) Summary {
	var s Summary
	var totalTime time.Duration
	timed := 0
	for _, result := range results {
		switch result.Status {
		case StatusOK:
			s.OK++
		case StatusBroken:
			s.Broken++
		case StatusTimeout:
			s.Broken++
			s.Timeouts++
		case StatusExcludedByRobots:
			s.ExcludedByRobots++
		case StatusSkipped:
			s.Skipped++
		}
		if !result.Status.Checked() {
			continue
		}
		s.TotalChecked++
		switch result.Type {
		case LinkTypeInternal:
			s.Internal++
		case LinkTypeExternal:
			s.External++
		}
		if result.ResponseTime > 0 {
			totalTime += result.ResponseTime
			timed++
		}
	}
	if s.TotalChecked > 0 {
		s.InternalPercent = percent(s.Internal, s.TotalChecked)
		s.ExternalPercent = percent(s.External, s.TotalChecked)
	}
	if timed > 0 {
		s.AverageResponseMS = float64(totalTime) / float64(timed) / float64(time.Millisecond)
	}
	return s
}

func percent(part, total int) float64 {
	return float64(part) * 100 / float64(total)
}
