package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	defaultMaxRedirects = 5
	defaultTimeout      = 15 * time.Second
	probeRange          = "bytes=0-1023"
)

// Validator checks whether a URL is reachable.
type Validator interface {
	Validate(ctx context.Context, rawURL string) ValidationResult
}

type httpValidator struct {
	fetcher      Fetcher
	timeout      time.Duration
	maxRedirects int
}

// NewValidator returns a Validator issuing HEAD requests through fetcher and
// falling back to a partial GET for servers that reject HEAD.
func NewValidator(fetcher Fetcher, timeout time.Duration, maxRedirects int) Validator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxRedirects < 0 {
		maxRedirects = defaultMaxRedirects
	}
	return &httpValidator{fetcher: fetcher, timeout: timeout, maxRedirects: maxRedirects}
}

func (v *httpValidator) Validate(ctx context.Context, rawURL string) ValidationResult {
	result := ValidationResult{URL: rawURL, FinalURL: rawURL}
	current := rawURL
	var elapsed time.Duration

	for {
		resp, spent, err := v.probe(ctx, current)
		elapsed += spent
		if err != nil {
			te := newTransportError(current, err)
			result.StatusCode = 0
			result.Status = StatusBroken
			if te.Timeout() {
				result.Status = StatusTimeout
			}
			result.Reason = fmt.Sprintf("%s: %v", te.Kind, te.Err)
			break
		}
		result.StatusCode = resp.StatusCode

		location := resp.Header.Get("Location")
		if isRedirect(resp.StatusCode) && location != "" {
			if result.Redirects >= v.maxRedirects {
				result.Status = StatusBroken
				result.Reason = fmt.Sprintf("too many redirects (%d)", result.Redirects)
				break
			}
			next, err := Normalize(location, current)
			if err != nil {
				result.Status = StatusBroken
				result.Reason = fmt.Sprintf("invalid redirect target: %v", err)
				break
			}
			result.Redirects++
			current = next
			result.FinalURL = next
			continue
		}

		result.Status = classifyStatus(resp.StatusCode)
		if result.Status == StatusBroken {
			result.Reason = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		}
		break
	}

	result.ResponseTime = elapsed
	result.CheckedAt = time.Now()
	return result
}

// probe sends HEAD and retries with a ranged GET when HEAD is rejected. The
// returned duration covers every exchange made for target.
func (v *httpValidator) probe(ctx context.Context, target string) (*Response, time.Duration, error) {
	resp, total, err := v.fetch(ctx, FetchRequest{URL: target, Method: http.MethodHead, Timeout: v.timeout})
	if err != nil || !headRejected(resp.StatusCode) {
		return resp, total, err
	}

	resp, spent, err := v.fetch(ctx, FetchRequest{
		URL:     target,
		Method:  http.MethodGet,
		Timeout: v.timeout,
		Header:  http.Header{"Range": []string{probeRange}},
	})
	total += spent
	if err != nil || resp.StatusCode != http.StatusRequestedRangeNotSatisfiable {
		return resp, total, err
	}

	resp, spent, err = v.fetch(ctx, FetchRequest{URL: target, Method: http.MethodGet, Timeout: v.timeout})
	return resp, total + spent, err
}

// fetch performs req and reports the time spent on the exchange. Fetchers
// that leave Elapsed unset are timed around the call.
func (v *httpValidator) fetch(ctx context.Context, req FetchRequest) (*Response, time.Duration, error) {
	start := time.Now()
	resp, err := v.fetcher.Fetch(ctx, req)
	wall := time.Since(start)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) && te.Elapsed > 0 {
			return nil, te.Elapsed, err
		}
		return nil, wall, err
	}
	if resp.Elapsed > 0 {
		return resp, resp.Elapsed, nil
	}
	return resp, wall, nil
}

func headRejected(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return true
	}
	return false
}

func isRedirect(code int) bool {
	return code >= 300 && code < 400 && code != http.StatusNotModified
}

func classifyStatus(code int) Status {
	if code >= 400 {
		return StatusBroken
	}
	return StatusOK
}

// fetchFollowing performs req and follows up to maxRedirects redirects. The
// final response is returned even when it is itself a redirect.
func fetchFollowing(ctx context.Context, f Fetcher, req FetchRequest, maxRedirects int) (*Response, int, error) {
	hops := 0
	for {
		resp, err := f.Fetch(ctx, req)
		if err != nil {
			return nil, hops, err
		}
		if resp.URL == "" {
			resp.URL = req.URL
		}
		location := resp.Header.Get("Location")
		if !isRedirect(resp.StatusCode) || location == "" || hops >= maxRedirects {
			return resp, hops, nil
		}
		next, err := Normalize(location, req.URL)
		if err != nil {
			return resp, hops, nil
		}
		req.URL = next
		hops++
	}
}
