package storefront

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/jonesrussell/north-cloud/partprice/infrastructure/circuitbreaker"
	"github.com/jonesrussell/north-cloud/partprice/internal/resilience"
)

const (
	defaultRobotsCacheTTL = 24 * time.Hour
	maxRobotsBodyBytes    = 512 * 1024
)

// RobotsChecker caches robots.txt per host. Missing, unreadable or
// unparsable robots.txt files allow everything. Downloads go through the
// resilience wrapper under the page host, so an open circuit means no
// request at all.
type RobotsChecker struct {
	client    *http.Client
	wrapper   *resilience.Wrapper
	userAgent string
	ttl       time.Duration

	mu    sync.RWMutex
	cache map[string]robotsEntry
}

type robotsEntry struct {
	group     *robotstxt.Group
	fetchedAt time.Time
}

// NewRobotsChecker creates a checker that evaluates rules for userAgent.
func NewRobotsChecker(client *http.Client, wrapper *resilience.Wrapper, userAgent string, ttl time.Duration) *RobotsChecker {
	if ttl <= 0 {
		ttl = defaultRobotsCacheTTL
	}
	return &RobotsChecker{
		client:    client,
		wrapper:   wrapper,
		userAgent: userAgent,
		ttl:       ttl,
		cache:     make(map[string]robotsEntry),
	}
}

// Allowed reports whether rawURL may be fetched. It fails with
// circuitbreaker.ErrCircuitOpen while the host's circuit is open and with
// the context error when ctx ends first.
func (r *RobotsChecker) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("robots: parse url: %w", err)
	}
	if u.Host == "" {
		return false, fmt.Errorf("robots: empty host in url %q", rawURL)
	}

	entry, ok := r.cached(strings.ToLower(u.Host))
	if !ok {
		if entry, err = r.fetch(ctx, u.Scheme, u.Host); err != nil {
			return false, err
		}
	}
	if entry.group == nil {
		return true, nil
	}

	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return entry.group.Test(path), nil
}

// CrawlDelay returns the Crawl-delay advertised for host, or 0 when none
// is known yet.
func (r *RobotsChecker) CrawlDelay(host string) time.Duration {
	entry, ok := r.cached(strings.ToLower(host))
	if !ok || entry.group == nil {
		return 0
	}
	return entry.group.CrawlDelay
}

func (r *RobotsChecker) cached(key string) (robotsEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.cache[key]
	if !ok || time.Since(e.fetchedAt) > r.ttl {
		return robotsEntry{}, false
	}
	return e, true
}

func (r *RobotsChecker) fetch(ctx context.Context, scheme, host string) (robotsEntry, error) {
	if scheme == "" {
		scheme = "https"
	}
	entry := robotsEntry{fetchedAt: time.Now()}

	data, err := r.download(ctx, scheme+"://"+host+"/robots.txt", host)
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return entry, err
	case ctx.Err() != nil:
		// a cancelled caller says nothing about the host; do not cache that
		return entry, ctx.Err()
	}
	if data != nil {
		entry.group = data.FindGroup(r.userAgent)
	}

	r.mu.Lock()
	r.cache[strings.ToLower(host)] = entry
	r.mu.Unlock()
	return entry, nil
}

// download returns nil data for any answer other than a readable 2xx.
func (r *RobotsChecker) download(ctx context.Context, robotsURL, host string) (*robotstxt.RobotsData, error) {
	var data *robotstxt.RobotsData
	err := r.wrapper.DoHTTP(ctx, r.client, host,
		func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, http.NoBody)
		},
		func(resp *http.Response) error {
			body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodyBytes))
			if err != nil {
				return err
			}
			parsed, err := robotstxt.FromBytes(body)
			if err != nil {
				return resilience.Permanent(fmt.Errorf("parse robots.txt: %w", err))
			}
			data = parsed
			return nil
		},
	)
	return data, err
}
