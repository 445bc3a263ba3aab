package crawler

import "time"

// enqueueLink turns a discovered link into a child task of parent. A link
// whose target was already seen only adds a source edge to the report.
func (r *Run) enqueueLink(parent CrawlTask, link LinkRecord) {
	if link.Err != nil {
		r.recordSkippedInvalid()
		r.agg.Record(ValidationResult{
			URL:       link.TargetURL,
			FinalURL:  link.TargetURL,
			Status:    StatusSkipped,
			Reason:    link.Err.Error(),
			CheckedAt: time.Now(),
		}, link.SourcePage)
		return
	}

	switch link.Type {
	case LinkTypeInternal:
		r.recordInternalLink()
	case LinkTypeExternal:
		r.recordExternalLink()
	}

	task := CrawlTask{
		URL:            link.TargetURL,
		Depth:          parent.Depth + 1,
		DiscoveredFrom: link.SourcePage,
		Type:           link.Type,
	}
	if !r.frontier.push(task) {
		r.agg.AddSource(link.TargetURL, link.SourcePage)
	}
}
