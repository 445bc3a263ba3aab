package crawler

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrInvalidURL marks malformed URLs or unsupported schemes.
	ErrInvalidURL = errors.New("invalid url")
	// ErrParse marks markup that could not be read or parsed.
	ErrParse = errors.New("parse error")
	// ErrRobotsFetch marks a robots.txt that could not be retrieved.
	ErrRobotsFetch = errors.New("robots.txt fetch failed")
	// ErrBudgetExceeded marks a run stopped by its time or task budget.
	ErrBudgetExceeded = errors.New("crawl budget exceeded")
	// ErrRootUnreachable marks a run whose seeds could not be reached at all.
	ErrRootUnreachable = errors.New("root url unreachable")
)

// TransportKind groups network failures for diagnostics.
type TransportKind string

const (
	TransportTimeout  TransportKind = "timeout"
	TransportDNS      TransportKind = "dns"
	TransportRefused  TransportKind = "refused"
	TransportReset    TransportKind = "reset"
	TransportTLS      TransportKind = "tls"
	TransportCanceled TransportKind = "canceled"
	TransportOther    TransportKind = "other"
)

// TransportError is returned by a Fetcher when no HTTP response was obtained.
type TransportError struct {
	URL  string
	Kind TransportKind
	Err  error

	// Elapsed is the time spent on the failed exchange, when known.
	Elapsed time.Duration
}

func (e *TransportError) Error() string {
	return string(e.Kind) + " fetching " + e.URL + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a connect or read timeout.
func (e *TransportError) Timeout() bool {
	return e.Kind == TransportTimeout
}

// newTransportError classifies err and wraps it. Existing transport errors are
// returned unchanged.
func newTransportError(rawURL string, err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	return &TransportError{URL: rawURL, Kind: classifyTransport(err), Err: err}
}

func classifyTransport(err error) TransportKind {
	if errors.Is(err, context.Canceled) {
		return TransportCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TransportTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return TransportTimeout
		}
		return TransportDNS
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TransportTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return TransportRefused
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return TransportReset
	}
	if isTLSError(err) {
		return TransportTLS
	}
	return TransportOther
}

func isTLSError(err error) bool {
	var (
		recordErr    tls.RecordHeaderError
		unknownAuth  x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidCert  x509.CertificateInvalidError
		verification *tls.CertificateVerificationError
	)
	switch {
	case errors.As(err, &recordErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostnameErr),
		errors.As(err, &invalidCert),
		errors.As(err, &verification):
		return true
	}
	return strings.Contains(err.Error(), "tls: ")
}
