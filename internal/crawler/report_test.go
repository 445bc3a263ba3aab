package crawler

import (
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatorMergesSources(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	broken := ValidationResult{URL: "https://example.test/gone", Status: StatusBroken, StatusCode: http.StatusNotFound, Type: LinkTypeInternal}
	agg.Record(broken, "https://example.test/b")
	agg.AddSource(broken.URL, "https://example.test/a")
	agg.AddSource(broken.URL, "https://example.test/b")
	agg.Record(ValidationResult{URL: broken.URL, Status: StatusOK}, "https://example.test/c")

	report := agg.Finalize(reportMeta{runID: "run"})
	require.Len(t, report.Entries, 1)

	entry := report.Entries[broken.URL]
	assert.Equal(t, StatusBroken, entry.Status, "first result wins")
	assert.Equal(t, []string{"https://example.test/a", "https://example.test/b", "https://example.test/c"}, entry.SourcePages)
}

func TestAggregatorIgnoresWritesAfterFinalize(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	agg.Record(ValidationResult{URL: "https://example.test/x", Status: StatusBroken}, "https://example.test/")
	first := agg.Finalize(reportMeta{})

	agg.Record(ValidationResult{URL: "https://example.test/y", Status: StatusBroken}, "https://example.test/")
	agg.AddSource("https://example.test/x", "https://example.test/late")
	agg.Note(Diagnostic{Kind: diagFetch, Message: "late"})

	second := agg.Finalize(reportMeta{})
	assert.Len(t, first.Entries, 1)
	assert.Len(t, second.Entries, 1)
	assert.Equal(t, []string{"https://example.test/"}, second.Entries["https://example.test/x"].SourcePages)
	assert.Empty(t, second.Diagnostics)
}

func TestAggregatorSummary(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	agg.Record(ValidationResult{URL: "https://example.test/", Status: StatusOK, Type: LinkTypeInternal, ResponseTime: 10 * time.Millisecond}, "")
	agg.Record(ValidationResult{URL: "https://example.test/gone", Status: StatusBroken, Type: LinkTypeInternal, ResponseTime: 20 * time.Millisecond}, "https://example.test/")
	agg.Record(ValidationResult{URL: "https://ext.test/slow", Status: StatusTimeout, Type: LinkTypeExternal, ResponseTime: 30 * time.Millisecond}, "https://example.test/")
	agg.Record(ValidationResult{URL: "https://ext.test/ok", Status: StatusOK, Type: LinkTypeExternal, ResponseTime: 20 * time.Millisecond}, "https://example.test/")
	agg.Record(ValidationResult{URL: "https://example.test/private", Status: StatusExcludedByRobots, Type: LinkTypeInternal}, "https://example.test/")
	agg.Record(ValidationResult{URL: "mailto:x@example.test", Status: StatusSkipped}, "https://example.test/")
	agg.Note(Diagnostic{URL: "https://example.test/", Kind: diagParse, Message: "bad markup"})

	report := agg.Finalize(reportMeta{
		runID:      "run-1",
		rootURL:    "https://example.test/",
		partial:    true,
		stopReason: stopRunTimeout,
		stats:      Stats{PagesExpanded: 1, Dispatched: 5, Pending: 2},
	})

	s := report.Summary
	assert.Equal(t, 4, s.TotalChecked)
	assert.Equal(t, 2, s.OK)
	assert.Equal(t, 2, s.Broken)
	assert.Equal(t, 1, s.Timeouts)
	assert.Equal(t, 1, s.ExcludedByRobots)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 2, s.Internal)
	assert.Equal(t, 2, s.External)
	assert.InDelta(t, 50.0, s.InternalPercent, 0.001)
	assert.InDelta(t, 50.0, s.ExternalPercent, 0.001)
	assert.InDelta(t, 20.0, s.AverageResponseMS, 0.001)
	assert.Equal(t, 1, s.PagesExpanded)
	assert.Equal(t, 5, s.Dispatched)
	assert.Equal(t, 2, s.Pending)

	require.Len(t, report.Entries, 2)
	broken := report.BrokenLinks()
	assert.Equal(t, "https://example.test/gone", broken[0].URL)
	assert.Equal(t, "https://ext.test/slow", broken[1].URL)
	assert.Len(t, report.Diagnostics, 1)
	assert.ErrorIs(t, report.Incomplete(), ErrBudgetExceeded)
}

func TestAggregatorConcurrentRecords(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	var wg sync.WaitGroup
	for source := 0; source < 10; source++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				agg.Record(ValidationResult{URL: fmt.Sprintf("https://example.test/%d", i), Status: StatusBroken}, fmt.Sprintf("https://example.test/src/%d", source))
			}
		}()
	}
	wg.Wait()

	report := agg.Finalize(reportMeta{})
	require.Len(t, report.Entries, 50)
	for _, entry := range report.Entries {
		assert.Len(t, entry.SourcePages, 10)
	}
	assert.NoError(t, report.Incomplete())
}
