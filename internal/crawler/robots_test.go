package crawler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRobotsLongestMatchWins(t *testing.T) {
	t.Parallel()

	group := parseRobots([]byte(`
User-agent: *
Disallow: /docs
Allow: /docs/public
`)).group("linkhealth-bot/1.0")
	require.NotNil(t, group)

	assert.False(t, group.Allowed("/docs/private"))
	assert.True(t, group.Allowed("/docs/public/page"))
	assert.True(t, group.Allowed("/blog"))
}

func TestRobotsTiesFavourAllow(t *testing.T) {
	t.Parallel()

	group := parseRobots([]byte("User-agent: *\nDisallow: /shop\nAllow: /shop\n")).group("any")
	assert.True(t, group.Allowed("/shop/cart"))
}

func TestRobotsWildcardRules(t *testing.T) {
	t.Parallel()

	group := parseRobots([]byte("User-agent: *\nDisallow: /*.pdf$\nDisallow: /tmp*/cache\n")).group("any")

	assert.False(t, group.Allowed("/files/report.pdf"))
	assert.True(t, group.Allowed("/files/report.pdf?download=1"))
	assert.False(t, group.Allowed("/tmp-01/cache/item"))
	assert.True(t, group.Allowed("/files/report.html"))
}

func TestRobotsGroupSelection(t *testing.T) {
	t.Parallel()

	rules := parseRobots([]byte(`
# specific agent first
User-agent: linkhealth-bot
Disallow: /bot-only

User-agent: *
Disallow: /
`))

	ours := rules.group("linkhealth-bot/1.0")
	require.NotNil(t, ours)
	assert.True(t, ours.Allowed("/anything"))
	assert.False(t, ours.Allowed("/bot-only/x"))

	other := rules.group("otherbot")
	require.NotNil(t, other)
	assert.False(t, other.Allowed("/anything"))
}

func TestRobotsEmptyDisallowAllowsEverything(t *testing.T) {
	t.Parallel()

	rules := parseRobots([]byte("User-agent: linkhealth-bot\nDisallow:\n\nUser-agent: *\nDisallow: /\n"))
	assert.True(t, rules.group("linkhealth-bot").Allowed("/private"))
}

func TestRobotsCacheFailsOpen(t *testing.T) {
	t.Parallel()

	var notes []Diagnostic
	fetcher := FetcherFunc(func(context.Context, FetchRequest) (*Response, error) {
		return nil, &TransportError{URL: "https://example.test/robots.txt", Kind: TransportDNS, Err: errors.New("no such host")}
	})
	cache := newRobotsCache(fetcher, time.Second, 5, discardLogger(), func(d Diagnostic) { notes = append(notes, d) })

	assert.True(t, cache.IsAllowed(context.Background(), mustParse(t, "https://example.test/private"), defaultUserAgent))
	assert.True(t, cache.IsAllowed(context.Background(), mustParse(t, "https://example.test/other"), defaultUserAgent))
	require.Len(t, notes, 1)
	assert.Equal(t, diagRobots, notes[0].Kind)
}

func TestRobotsCacheTreatsMissingFileAsAllowAll(t *testing.T) {
	t.Parallel()

	fetcher := FetcherFunc(func(_ context.Context, req FetchRequest) (*Response, error) {
		return &Response{URL: req.URL, StatusCode: http.StatusNotFound, Header: http.Header{}}, nil
	})
	cache := newRobotsCache(fetcher, time.Second, 5, discardLogger(), nil)
	assert.True(t, cache.IsAllowed(context.Background(), mustParse(t, "https://example.test/"), defaultUserAgent))
	assert.Zero(t, cache.CrawlDelay("example.test", defaultUserAgent))
}

func TestRobotsCacheFetchesOncePerHost(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fetcher := FetcherFunc(func(_ context.Context, req FetchRequest) (*Response, error) {
		calls.Add(1)
		time.Sleep(30 * time.Millisecond)
		return &Response{
			URL:        req.URL,
			StatusCode: http.StatusOK,
			Header:     http.Header{},
			Body:       []byte("User-agent: *\nDisallow: /admin\nCrawl-delay: 0.5\n"),
		}, nil
	})
	cache := newRobotsCache(fetcher, time.Second, 5, discardLogger(), nil)

	target := mustParse(t, "https://example.test/admin/panel")
	var wg sync.WaitGroup
	results := make([]bool, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = cache.IsAllowed(context.Background(), target, defaultUserAgent)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, allowed := range results {
		assert.False(t, allowed)
	}
	assert.Equal(t, 500*time.Millisecond, cache.CrawlDelay("example.test", defaultUserAgent))
}

func TestRobotsCrawlDelayIsCapped(t *testing.T) {
	t.Parallel()

	fetcher := FetcherFunc(func(_ context.Context, req FetchRequest) (*Response, error) {
		return &Response{URL: req.URL, StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte("User-agent: *\nCrawl-delay: 30\n")}, nil
	})
	cache := newRobotsCache(fetcher, time.Second, 5, discardLogger(), nil)

	assert.Zero(t, cache.CrawlDelay("example.test", defaultUserAgent), "crawl delay is never fetched lazily")
	cache.IsAllowed(context.Background(), mustParse(t, "https://example.test/"), defaultUserAgent)
	assert.Equal(t, maxCrawlDelay, cache.CrawlDelay("example.test", defaultUserAgent))
}

func TestRobotsCacheFollowsRedirect(t *testing.T) {
	t.Parallel()

	fetcher := FetcherFunc(func(_ context.Context, req FetchRequest) (*Response, error) {
		if req.URL == "http://example.test/robots.txt" {
			return &Response{URL: req.URL, StatusCode: http.StatusMovedPermanently, Header: http.Header{"Location": []string{"https://example.test/robots.txt"}}}, nil
		}
		return &Response{URL: req.URL, StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte("User-agent: *\nDisallow: /x\n")}, nil
	})
	cache := newRobotsCache(fetcher, time.Second, 5, discardLogger(), nil)
	assert.False(t, cache.IsAllowed(context.Background(), mustParse(t, "http://example.test/x"), defaultUserAgent))
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	return parsed
}

func discardLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
