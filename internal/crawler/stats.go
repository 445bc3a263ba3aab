package crawler

import "time"

// Stats holds crawl-level counters that are not derivable from the
// validation results alone.
type Stats struct {
	Dispatched         int           `json:"dispatched"`
	Pending            int           `json:"pending"`
	PagesExpanded      int           `json:"pages_expanded"`
	UniqueURLs         int           `json:"unique_urls"`
	InternalLinksFound int           `json:"internal_links_found"`
	ExternalLinksFound int           `json:"external_links_found"`
	SkippedByRobots    int           `json:"skipped_by_robots"`
	SkippedByDepth     int           `json:"skipped_by_depth"`
	SkippedByExtension int           `json:"skipped_by_extension"`
	SkippedByContent   int           `json:"skipped_by_content"`
	SkippedInvalid     int           `json:"skipped_invalid"`
	Duration           time.Duration `json:"duration"`
}

func (r *Run) recordDispatched() {
	r.mu.Lock()
	r.stats.Dispatched++
	r.mu.Unlock()
}

func (r *Run) recordExpanded() {
	r.mu.Lock()
	r.stats.PagesExpanded++
	r.mu.Unlock()
}

func (r *Run) recordInternalLink() {
	r.mu.Lock()
	r.stats.InternalLinksFound++
	r.mu.Unlock()
}

func (r *Run) recordExternalLink() {
	r.mu.Lock()
	r.stats.ExternalLinksFound++
	r.mu.Unlock()
}

func (r *Run) recordSkippedRobots() {
	r.mu.Lock()
	r.stats.SkippedByRobots++
	r.mu.Unlock()
}

func (r *Run) recordSkippedDepth() {
	r.mu.Lock()
	r.stats.SkippedByDepth++
	r.mu.Unlock()
}

func (r *Run) recordSkippedExtension() {
	r.mu.Lock()
	r.stats.SkippedByExtension++
	r.mu.Unlock()
}

func (r *Run) recordSkippedContent() {
	r.mu.Lock()
	r.stats.SkippedByContent++
	r.mu.Unlock()
}

func (r *Run) recordSkippedInvalid() {
	r.mu.Lock()
	r.stats.SkippedInvalid++
	r.mu.Unlock()
}

func (r *Run) recordSeedFailure(reason string) {
	r.mu.Lock()
	r.seedFailures = append(r.seedFailures, reason)
	r.mu.Unlock()
}

func (r *Run) seedFailureReasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seedFailures...)
}

func (r *Run) collectStats(duration time.Duration) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := r.stats
	stats.Pending = r.frontier.pending()
	stats.UniqueURLs = r.frontier.visitedCount()
	stats.Duration = duration
	return stats
}
