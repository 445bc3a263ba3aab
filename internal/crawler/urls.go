package crawler

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"
)

// Normalize resolves raw against base and returns the canonical form used as
// the identity of a crawl node. Errors wrap ErrInvalidURL.
func Normalize(raw, base string) (string, error) {
	parsed, err := normalizeURL(raw, base)
	if err != nil {
		return "", err
	}
	return parsed.String(), nil
}

func normalizeURL(raw, base string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty url", ErrInvalidURL)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !parsed.IsAbs() && base != "" {
		baseURL, err := url.Parse(strings.TrimSpace(base))
		if err != nil {
			return nil, fmt.Errorf("%w: base %q: %v", ErrInvalidURL, base, err)
		}
		parsed = baseURL.ResolveReference(parsed)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		if scheme == "" {
			return nil, fmt.Errorf("%w: %q has no scheme", ErrInvalidURL, raw)
		}
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q has no host", ErrInvalidURL, raw)
	}

	normalized := *parsed
	normalized.Scheme = scheme
	normalized.Host = canonicalHost(scheme, parsed.Hostname(), parsed.Port())
	normalized.Fragment = ""
	normalized.RawFragment = ""
	normalized.User = nil
	escaped := cleanPath(upperEscapes(parsed.EscapedPath()))
	decoded, err := url.PathUnescape(escaped)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	normalized.Path = decoded
	normalized.RawPath = escaped
	if normalized.RawQuery == "" {
		normalized.ForceQuery = false
	}
	return &normalized, nil
}

func canonicalHost(scheme, hostname, port string) string {
	hostname = strings.TrimSuffix(strings.ToLower(hostname), ".")
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port == "" {
		if strings.Contains(hostname, ":") {
			return "[" + hostname + "]"
		}
		return hostname
	}
	return net.JoinHostPort(hostname, port)
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// upperEscapes uppercases the hex digits of percent escapes so %2f and %2F
// compare equal. Escapes are never decoded: /a%2Fb and /a/b stay distinct.
func upperEscapes(p string) string {
	if !strings.Contains(p, "%") {
		return p
	}
	b := []byte(p)
	for i := 0; i+2 < len(b); i++ {
		if b[i] != '%' {
			continue
		}
		b[i+1] = upperHex(b[i+1])
		b[i+2] = upperHex(b[i+2])
		i += 2
	}
	return string(b)
}

func upperHex(c byte) byte {
	if c >= 'a' && c <= 'f' {
		return c - 'a' + 'A'
	}
	return c
}

// hostClassifier decides whether a host belongs to the crawled site.
type hostClassifier struct {
	root              string
	includeSubdomains bool
}

func (h hostClassifier) classify(rawURL string) LinkType {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return LinkTypeExternal
	}
	host := strings.ToLower(parsed.Host)
	if host == h.root {
		return LinkTypeInternal
	}
	if h.includeSubdomains {
		rootName := h.root
		if name, _, err := net.SplitHostPort(h.root); err == nil {
			rootName = name
		}
		if strings.HasSuffix(strings.ToLower(parsed.Hostname()), "."+rootName) {
			return LinkTypeInternal
		}
	}
	return LinkTypeExternal
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Host)
}
