package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

func (r *Run) process(ctx context.Context, task CrawlTask) {
	r.emitProgress(task.URL)
	log := r.logger.WithFields(logrus.Fields{"url": task.URL, "depth": task.Depth})

	if task.Type == LinkTypeInternal && !r.allowedByRobots(ctx, task.URL) {
		r.recordSkippedRobots()
		r.agg.Record(ValidationResult{
			URL:       task.URL,
			FinalURL:  task.URL,
			Status:    StatusExcludedByRobots,
			Reason:    "disallowed by robots.txt",
			CheckedAt: time.Now(),
			Type:      task.Type,
		}, task.DiscoveredFrom)
		log.Debug("excluded by robots.txt")
		return
	}

	result := r.validator.Validate(ctx, task.URL)
	if ctx.Err() != nil {
		log.Debug("dropping result of cancelled request")
		return
	}
	if result.URL == "" {
		result.URL = task.URL
	}
	if result.FinalURL == "" {
		result.FinalURL = task.URL
	}
	result.Type = r.classifier.classify(result.FinalURL)
	r.agg.Record(result, task.DiscoveredFrom)

	entry := log.WithFields(logrus.Fields{"status": result.Status, "code": result.StatusCode})
	if result.Status.IsBroken() {
		entry.WithField("reason", result.Reason).Info("broken link")
	} else {
		entry.Debug("link validated")
	}

	if task.DiscoveredFrom == "" && result.StatusCode == 0 && result.Status.IsBroken() {
		r.recordSeedFailure(result.Reason)
	}

	if !r.shouldExpand(ctx, task, result) {
		return
	}
	r.expand(ctx, task, result.FinalURL, log)
}

// shouldExpand decides whether the page behind result is fetched for links.
// Only healthy internal pages within the depth limit are expanded.
func (r *Run) shouldExpand(ctx context.Context, task CrawlTask, result ValidationResult) bool {
	if result.Status != StatusOK || result.Type != LinkTypeInternal {
		return false
	}
	if r.maxDepth >= 0 && task.Depth > r.maxDepth {
		r.recordSkippedDepth()
		return false
	}
	if r.restricted && task.DiscoveredFrom != "" {
		return false
	}
	if !r.expandExt.expandable(result.FinalURL) {
		r.recordSkippedExtension()
		return false
	}
	if result.FinalURL != task.URL {
		if !r.allowedByRobots(ctx, result.FinalURL) {
			r.recordSkippedRobots()
			return false
		}
		// The redirect target is expanded here; a separate task for it would
		// only repeat the work.
		if !r.frontier.markVisited(result.FinalURL) {
			return false
		}
	}
	return true
}

func (r *Run) expand(ctx context.Context, task CrawlTask, pageURL string, log logrus.FieldLogger) {
	resp, _, err := fetchFollowing(ctx, r.fetcher, FetchRequest{
		URL:      pageURL,
		Method:   http.MethodGet,
		Timeout:  r.timeout,
		ReadBody: true,
	}, r.maxRedirects)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.agg.Note(Diagnostic{URL: pageURL, Kind: diagFetch, Message: err.Error()})
		log.WithError(err).Warn("fetching page for links failed")
		return
	}
	if resp.StatusCode >= 300 {
		msg := fmt.Sprintf("page fetch returned %d", resp.StatusCode)
		r.agg.Note(Diagnostic{URL: pageURL, Kind: diagFetch, Message: msg})
		log.Warn(msg)
		return
	}
	contentType := resp.Header.Get("Content-Type")
	if !isHTMLContent(contentType) {
		r.recordSkippedContent()
		log.WithField("content_type", contentType).Debug("not expanding non-HTML page")
		return
	}

	links, err := r.extractor.Extract(Page{URL: resp.URL, ContentType: contentType, Body: resp.Body})
	if err != nil {
		r.agg.Note(Diagnostic{URL: pageURL, Kind: diagParse, Message: err.Error()})
		log.WithError(err).Warn("extracting links failed")
		return
	}
	r.recordExpanded()

	found := 0
	for link := range links {
		r.enqueueLink(task, link)
		found++
	}
	log.WithField("links", found).Debug("page expanded")
}

func (r *Run) allowedByRobots(ctx context.Context, rawURL string) bool {
	if r.ignoreRobots {
		return true
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	return r.robots.IsAllowed(ctx, target, r.userAgent)
}
