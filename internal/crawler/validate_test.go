package crawler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedFetcher answers each request from a per-URL queue of responses and
// records what it was asked.
type scriptedFetcher struct {
	mu       sync.Mutex
	answers  map[string][]*Response
	requests []FetchRequest
}

func (s *scriptedFetcher) Fetch(_ context.Context, req FetchRequest) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	queue := s.answers[req.URL]
	if len(queue) == 0 {
		return &Response{URL: req.URL, StatusCode: http.StatusNotFound, Header: http.Header{}}, nil
	}
	resp := queue[0]
	if len(queue) > 1 {
		s.answers[req.URL] = queue[1:]
	}
	return resp, nil
}

func status(code int) *Response {
	return &Response{StatusCode: code, Header: http.Header{}}
}

func redirectTo(code int, location string) *Response {
	return &Response{StatusCode: code, Header: http.Header{"Location": []string{location}}}
}

func TestValidatorClassifiesStatus(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{answers: map[string][]*Response{
		"https://example.test/ok":       {status(http.StatusOK)},
		"https://example.test/gone":     {status(http.StatusNotFound)},
		"https://example.test/err":      {status(http.StatusBadGateway)},
		"https://example.test/bare":     {status(http.StatusFound)},
		"https://example.test/modified": {status(http.StatusNotModified)},
	}}
	v := NewValidator(fetcher, time.Second, 5)

	ok := v.Validate(context.Background(), "https://example.test/ok")
	assert.Equal(t, StatusOK, ok.Status)
	assert.Equal(t, http.StatusOK, ok.StatusCode)
	assert.False(t, ok.CheckedAt.IsZero())

	gone := v.Validate(context.Background(), "https://example.test/gone")
	assert.Equal(t, StatusBroken, gone.Status)
	assert.Equal(t, "404 Not Found", gone.Reason)

	assert.Equal(t, StatusBroken, v.Validate(context.Background(), "https://example.test/err").Status)
	assert.Equal(t, StatusOK, v.Validate(context.Background(), "https://example.test/bare").Status, "redirect without Location")
	assert.Equal(t, StatusOK, v.Validate(context.Background(), "https://example.test/modified").Status)
}

func TestValidatorFallsBackToRangedGet(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{answers: map[string][]*Response{
		"https://example.test/nohead": {status(http.StatusMethodNotAllowed), status(http.StatusPartialContent)},
	}}
	result := NewValidator(fetcher, time.Second, 5).Validate(context.Background(), "https://example.test/nohead")

	assert.Equal(t, StatusOK, result.Status)
	require.Len(t, fetcher.requests, 2)
	assert.Equal(t, http.MethodHead, fetcher.requests[0].Method)
	assert.Equal(t, http.MethodGet, fetcher.requests[1].Method)
	assert.Equal(t, probeRange, fetcher.requests[1].Header.Get("Range"))
	assert.False(t, fetcher.requests[1].ReadBody)
}

func TestValidatorRetriesPlainGetOnUnsatisfiableRange(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{answers: map[string][]*Response{
		"https://example.test/empty": {
			status(http.StatusForbidden),
			status(http.StatusRequestedRangeNotSatisfiable),
			status(http.StatusOK),
		},
	}}
	result := NewValidator(fetcher, time.Second, 5).Validate(context.Background(), "https://example.test/empty")

	assert.Equal(t, StatusOK, result.Status)
	require.Len(t, fetcher.requests, 3)
	assert.Empty(t, fetcher.requests[2].Header.Get("Range"))
}

func TestValidatorFollowsRedirects(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{answers: map[string][]*Response{
		"https://example.test/old": {redirectTo(http.StatusMovedPermanently, "/middle")},
		"https://example.test/middle": {redirectTo(http.StatusFound, "https://other.test/final")},
		"https://other.test/final":    {status(http.StatusOK)},
	}}
	result := NewValidator(fetcher, time.Second, 5).Validate(context.Background(), "https://example.test/old")

	assert.Equal(t, StatusOK, result.Status)
	assert.Equal(t, "https://example.test/old", result.URL)
	assert.Equal(t, "https://other.test/final", result.FinalURL)
	assert.Equal(t, 2, result.Redirects)
}

func TestValidatorBoundsRedirectChain(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{answers: map[string][]*Response{
		"https://example.test/loop": {redirectTo(http.StatusFound, "/loop")},
	}}
	result := NewValidator(fetcher, time.Second, 5).Validate(context.Background(), "https://example.test/loop")

	assert.Equal(t, StatusBroken, result.Status)
	assert.Contains(t, result.Reason, "too many redirects")
	assert.Len(t, fetcher.requests, 6)
}

func TestValidatorRejectsInvalidRedirectTarget(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{answers: map[string][]*Response{
		"https://example.test/mail": {redirectTo(http.StatusFound, "mailto:someone@example.test")},
	}}
	result := NewValidator(fetcher, time.Second, 5).Validate(context.Background(), "https://example.test/mail")
	assert.Equal(t, StatusBroken, result.Status)
	assert.Contains(t, result.Reason, "invalid redirect target")
}

func TestValidatorMapsTransportErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		status Status
		reason string
	}{
		{err: context.DeadlineExceeded, status: StatusTimeout, reason: "timeout"},
		{err: &TransportError{Kind: TransportTimeout, Err: errors.New("read timeout")}, status: StatusTimeout, reason: "timeout: read timeout"},
		{err: &TransportError{Kind: TransportDNS, Err: errors.New("no such host")}, status: StatusBroken, reason: "dns: no such host"},
		{err: &TransportError{Kind: TransportTLS, Err: errors.New("bad certificate")}, status: StatusBroken, reason: "tls: bad certificate"},
	}
	for _, tc := range cases {
		fetcher := FetcherFunc(func(context.Context, FetchRequest) (*Response, error) {
			return nil, tc.err
		})
		result := NewValidator(fetcher, time.Second, 5).Validate(context.Background(), "https://example.test/x")
		assert.Equal(t, tc.status, result.Status, "error %v", tc.err)
		assert.Contains(t, result.Reason, tc.reason)
		assert.Zero(t, result.StatusCode)
	}
}

func TestValidatorResponseTimeExcludesHostDelay(t *testing.T) {
	t.Parallel()

	instant := FetcherFunc(func(_ context.Context, req FetchRequest) (*Response, error) {
		return &Response{URL: req.URL, StatusCode: http.StatusOK, Header: http.Header{}}, nil
	})
	polite := politeFetcher{next: instant, limiter: newHostLimiter(300*time.Millisecond, 0, nil)}
	v := NewValidator(polite, time.Second, 5)

	first := v.Validate(context.Background(), "https://example.test/a")
	started := time.Now()
	second := v.Validate(context.Background(), "https://example.test/b")

	assert.GreaterOrEqual(t, time.Since(started), 250*time.Millisecond, "second request waits for the host slot")
	assert.Equal(t, StatusOK, second.Status)
	assert.Less(t, first.ResponseTime, 50*time.Millisecond)
	assert.Less(t, second.ResponseTime, 50*time.Millisecond)
}

func TestValidatorSumsElapsedAcrossExchanges(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{answers: map[string][]*Response{
		"https://example.test/old": {{StatusCode: http.StatusMovedPermanently, Header: http.Header{"Location": []string{"/new"}}, Elapsed: 30 * time.Millisecond}},
		"https://example.test/new": {
			{StatusCode: http.StatusMethodNotAllowed, Header: http.Header{}, Elapsed: 5 * time.Millisecond},
			{StatusCode: http.StatusOK, Header: http.Header{}, Elapsed: 15 * time.Millisecond},
		},
	}}
	result := NewValidator(fetcher, time.Second, 5).Validate(context.Background(), "https://example.test/old")

	assert.Equal(t, StatusOK, result.Status)
	assert.Equal(t, 50*time.Millisecond, result.ResponseTime)
}

func TestValidatorClearsStatusWhenRedirectHopFails(t *testing.T) {
	t.Parallel()

	fetcher := FetcherFunc(func(_ context.Context, req FetchRequest) (*Response, error) {
		if req.URL == "https://example.test/moved" {
			return redirectTo(http.StatusMovedPermanently, "https://gone.test/"), nil
		}
		return nil, &TransportError{URL: req.URL, Kind: TransportDNS, Err: errors.New("no such host"), Elapsed: 4 * time.Millisecond}
	})
	result := NewValidator(fetcher, time.Second, 5).Validate(context.Background(), "https://example.test/moved")

	assert.Equal(t, StatusBroken, result.Status)
	assert.Zero(t, result.StatusCode)
	assert.Equal(t, "https://gone.test/", result.FinalURL)
	assert.Equal(t, 1, result.Redirects)
	assert.Equal(t, "dns: no such host", result.Reason)
}
