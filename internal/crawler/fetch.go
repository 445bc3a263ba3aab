package crawler

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

const defaultMaxBodyBytes = 5 * 1024 * 1024

// FetchRequest describes a single HTTP exchange.
type FetchRequest struct {
	URL     string
	Method  string
	Timeout time.Duration
	Header  http.Header
	// ReadBody asks the fetcher to return the decoded response body.
	ReadBody bool
}

// Response is the result of a fetch that reached the server.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Elapsed    time.Duration
}

// Fetcher performs HTTP requests without following redirects. A failure to
// obtain any response is reported as a *TransportError.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req FetchRequest) (*Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req FetchRequest) (*Response, error) {
	return f(ctx, req)
}

// HTTPFetcher implements Fetcher with net/http.
type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

// NewHTTPFetcher wraps client. Redirect following is disabled on a copy of the
// client so redirect chains stay visible to the caller.
func NewHTTPFetcher(client *http.Client, userAgent string, maxBodyBytes int64) *HTTPFetcher {
	var copied http.Client
	if client != nil {
		copied = *client
	}
	copied.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &HTTPFetcher{client: &copied, userAgent: userAgent, maxBodyBytes: maxBodyBytes}
}

// Fetch issues req and, when requested, reads and decodes the body.
func (f *HTTPFetcher) Fetch(ctx context.Context, req FetchRequest) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return nil, &TransportError{URL: req.URL, Kind: TransportOther, Err: fmt.Errorf("build request: %w", err)}
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("User-Agent", f.userAgent)
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	}
	if req.ReadBody {
		httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")
	}

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		te := newTransportError(req.URL, err)
		te.Elapsed = time.Since(start)
		return nil, te
	}
	defer resp.Body.Close()

	out := &Response{
		URL:        req.URL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
	}
	if req.ReadBody && method != http.MethodHead {
		body, err := f.readBody(resp)
		if err != nil {
			te := newTransportError(req.URL, err)
			te.Elapsed = time.Since(start)
			return nil, te
		}
		out.Body = body
	} else {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	}
	out.Elapsed = time.Since(start)
	return out, nil
}

func (f *HTTPFetcher) readBody(resp *http.Response) ([]byte, error) {
	reader := io.Reader(resp.Body)

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		reader = fl
	}

	body, err := io.ReadAll(io.LimitReader(reader, f.maxBodyBytes))
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
