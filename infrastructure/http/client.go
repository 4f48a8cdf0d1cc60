// Package http builds the outbound HTTP clients used by source adapters.
package http

import (
	"net/http"
	"time"
)

const (
	// DefaultMaxIdleConns is the default maximum number of idle connections
	DefaultMaxIdleConns = 100

	// DefaultMaxIdleConnsPerHost is the default maximum number of idle connections per host
	DefaultMaxIdleConnsPerHost = 10

	// DefaultIdleConnTimeout is the default idle connection timeout
	DefaultIdleConnTimeout = 90 * time.Second

	// DefaultTLSHandshakeTimeout is the default TLS handshake timeout
	DefaultTLSHandshakeTimeout = 10 * time.Second

	// DefaultUserAgent identifies partprice to external sources.
	DefaultUserAgent = "partprice/1.0 (+https://github.com/jonesrussell/north-cloud)"

	// DefaultAccept is sent on every request that does not set its own Accept header.
	DefaultAccept = "application/json, text/html;q=0.9, */*;q=0.8"
)

// ClientConfig configures an HTTP client.
type ClientConfig struct {
	// UserAgent is the client identity string sent on every request.
	UserAgent string

	// Accept is the default accepted content types.
	Accept string

	// MaxIdleConns controls the maximum number of idle (keep-alive) connections
	// across all hosts.
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections to keep per host.
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long an idle connection stays open.
	IdleConnTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake.
	TLSHandshakeTimeout time.Duration

	// Transport replaces the base transport. Tests only.
	Transport http.RoundTripper
}

// NewClient creates an HTTP client that stamps identity headers on every request.
// The client has no overall timeout: deadlines come from the request context so
// each attempt can be bounded individually.
func NewClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		cfg = &ClientConfig{}
	}

	base := cfg.Transport
	if base == nil {
		base = newTransport(cfg)
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	accept := cfg.Accept
	if accept == "" {
		accept = DefaultAccept
	}

	return &http.Client{
		Transport: &identityTransport{base: base, userAgent: userAgent, accept: accept},
	}
}

func newTransport(cfg *ClientConfig) *http.Transport {
	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns == 0 {
		maxIdleConns = DefaultMaxIdleConns
	}

	maxIdleConnsPerHost := cfg.MaxIdleConnsPerHost
	if maxIdleConnsPerHost == 0 {
		maxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}

	idleConnTimeout := cfg.IdleConnTimeout
	if idleConnTimeout == 0 {
		idleConnTimeout = DefaultIdleConnTimeout
	}

	tlsHandshakeTimeout := cfg.TLSHandshakeTimeout
	if tlsHandshakeTimeout == 0 {
		tlsHandshakeTimeout = DefaultTLSHandshakeTimeout
	}

	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
	}
}

type identityTransport struct {
	base      http.RoundTripper
	userAgent string
	accept    string
}

func (t *identityTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", t.accept)
	}
	return t.base.RoundTrip(req)
}
