package crawler

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// hostLimiter spaces requests to the same host. The delay for a host is the
// larger of the configured minimum and the host's robots crawl-delay.
type hostLimiter struct {
	delay      time.Duration
	perMinute  int
	crawlDelay func(host string) time.Duration

	mu       sync.Mutex
	next     map[string]time.Time
	limiters map[string]*rate.Limiter
}

func newHostLimiter(delay time.Duration, perMinute int, crawlDelay func(string) time.Duration) *hostLimiter {
	if crawlDelay == nil {
		crawlDelay = func(string) time.Duration { return 0 }
	}
	return &hostLimiter{
		delay:      delay,
		perMinute:  perMinute,
		crawlDelay: crawlDelay,
		next:       make(map[string]time.Time),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a request to host may start.
func (h *hostLimiter) Wait(ctx context.Context, host string) error {
	if h == nil || host == "" {
		return nil
	}
	host = strings.ToLower(host)
	delay := max(h.delay, h.crawlDelay(host))

	var sleep time.Duration
	var limiter *rate.Limiter
	now := time.Now()

	h.mu.Lock()
	if delay > 0 {
		slot := now
		if reserved, ok := h.next[host]; ok && reserved.After(now) {
			slot = reserved
		}
		sleep = slot.Sub(now)
		h.next[host] = slot.Add(delay)
	}
	if h.perMinute > 0 {
		limiter = h.ensureLimiterLocked(host)
	}
	h.mu.Unlock()

	if sleep > 0 {
		timer := time.NewTimer(sleep)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if limiter != nil {
		return limiter.Wait(ctx)
	}
	return nil
}

func (h *hostLimiter) ensureLimiterLocked(host string) *rate.Limiter {
	limiter, ok := h.limiters[host]
	if ok {
		return limiter
	}
	interval := time.Minute / time.Duration(h.perMinute)
	if interval <= 0 {
		interval = time.Millisecond
	}
	limiter = rate.NewLimiter(rate.Every(interval), 1)
	h.limiters[host] = limiter
	return limiter
}

// politeFetcher applies a hostLimiter in front of another Fetcher. Elapsed
// times it reports start after the limiter lets the request through.
type politeFetcher struct {
	next    Fetcher
	limiter *hostLimiter
}

func (p politeFetcher) Fetch(ctx context.Context, req FetchRequest) (*Response, error) {
	if err := p.limiter.Wait(ctx, hostOf(req.URL)); err != nil {
		return nil, newTransportError(req.URL, err)
	}
	start := time.Now()
	resp, err := p.next.Fetch(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		te := newTransportError(req.URL, err)
		if te.Elapsed == 0 {
			te.Elapsed = elapsed
		}
		return nil, te
	}
	if resp.Elapsed == 0 {
		resp.Elapsed = elapsed
	}
	return resp, nil
}
