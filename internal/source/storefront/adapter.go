// Package storefront adapts unauthenticated storefront pages, extracting
// listings with ordered fallback selector rules.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mitchellh/mapstructure"
	"golang.org/x/text/language"

	"github.com/jonesrussell/north-cloud/partprice/infrastructure/circuitbreaker"
	"github.com/jonesrussell/north-cloud/partprice/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/partprice/internal/domain"
	"github.com/jonesrussell/north-cloud/partprice/internal/pricing"
	"github.com/jonesrussell/north-cloud/partprice/internal/resilience"
	"github.com/jonesrussell/north-cloud/partprice/internal/source"
)

const queryPlaceholder = "{query}"

// Options are the storefront-specific settings carried in a source's
// free-form options map.
type Options struct {
	// SearchPath is appended to the base URL; {query} is replaced by the
	// escaped term, e.g. "/search?q={query}".
	SearchPath string `mapstructure:"search_path"`
	// CategoryPath lists categories, e.g. "/collections".
	CategoryPath string `mapstructure:"category_path"`
	// CategorySelector selects category links on CategoryPath.
	CategorySelector string `mapstructure:"category_selector"`
	// RulesFile holds YAML rules; Rules are used when it is empty.
	RulesFile       string            `mapstructure:"rules_file"`
	Rules           []Rule            `mapstructure:"rules"`
	RespectRobots   *bool             `mapstructure:"respect_robots"`
	Currency        string            `mapstructure:"currency"`
	CategoryAliases map[string]string `mapstructure:"category_aliases"`
}

// DecodeOptions decodes a raw options map.
func DecodeOptions(raw map[string]any) (Options, error) {
	var opts Options
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return opts, err
	}
	if err := dec.Decode(raw); err != nil {
		return opts, fmt.Errorf("decode storefront options: %w", err)
	}
	return opts, nil
}

// Config describes one storefront.
type Config struct {
	Name     string
	BaseURL  string
	Enabled  bool
	Language language.Tag
	Options  Options
}

// Adapter scrapes a storefront's search results page.
type Adapter struct {
	cfg        Config
	base       *url.URL
	rules      []Rule
	client     *http.Client
	wrapper    *resilience.Wrapper
	robots     *RobotsChecker
	logger     logger.Logger
	categories source.CategoryNormalizer
	now        func() time.Time
}

var _ source.Adapter = (*Adapter)(nil)

// New creates a storefront adapter. robots may be nil to skip robots.txt checks.
func New(cfg Config, client *http.Client, wrapper *resilience.Wrapper, robots *RobotsChecker, log logger.Logger) (*Adapter, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("storefront %s: parse base url: %w", cfg.Name, err)
	}
	if cfg.Language == language.Und {
		cfg.Language = pricing.DefaultLanguage
	}
	if cfg.Options.SearchPath == "" {
		cfg.Options.SearchPath = "/search?q=" + queryPlaceholder
	}
	if cfg.Options.Currency == "" {
		cfg.Options.Currency = "CLP"
	}
	if cfg.Options.RespectRobots != nil && !*cfg.Options.RespectRobots {
		robots = nil
	}

	rules := cfg.Options.Rules
	if cfg.Options.RulesFile != "" {
		if rules, err = LoadRules(cfg.Options.RulesFile); err != nil {
			return nil, fmt.Errorf("storefront %s: %w", cfg.Name, err)
		}
	}
	if len(rules) == 0 {
		rules = DefaultRules()
	}

	return &Adapter{
		cfg:        cfg,
		base:       base,
		rules:      rules,
		client:     client,
		wrapper:    wrapper,
		robots:     robots,
		logger:     log.With(logger.Source(cfg.Name)),
		categories: source.NewCategoryNormalizer(cfg.Options.CategoryAliases),
		now:        time.Now,
	}, nil
}

// Name implements source.Adapter.
func (a *Adapter) Name() string {
	return a.cfg.Name
}

// IsAvailable implements source.Adapter.
// CrawlDelay is the Crawl-delay the storefront's robots.txt advertises for
// our user agent. It is 0 until robots.txt has been read.
func (a *Adapter) CrawlDelay() time.Duration {
	if a.robots == nil {
		return 0
	}
	return a.robots.CrawlDelay(a.base.Host)
}

func (a *Adapter) IsAvailable(context.Context) bool {
	return a.cfg.Enabled && a.base.Host != ""
}

// NormalizeCategory implements source.Adapter.
func (a *Adapter) NormalizeCategory(native string) string {
	return a.categories.Normalize(native)
}

// Search implements source.Adapter.
func (a *Adapter) Search(ctx context.Context, term, _ string, limit int) ([]domain.NormalizedOffer, error) {
	if !a.IsAvailable(ctx) {
		return nil, errors.New(domain.ReasonUnavailable)
	}

	listings, err := a.scrape(ctx, term)
	if err != nil {
		return nil, fmt.Errorf("%s search %q: %w", a.cfg.Name, term, err)
	}
	if limit > 0 && len(listings) > limit {
		listings = listings[:limit]
	}

	now := a.now().UTC()
	offers := make([]domain.NormalizedOffer, 0, len(listings))
	for _, l := range listings {
		stock := 0
		if l.InStock {
			stock = 1
		}
		offers = append(offers, domain.NormalizedOffer{
			ID:         l.URL,
			Title:      l.Title,
			Price:      l.Price,
			Currency:   a.cfg.Options.Currency,
			ImageURL:   l.ImageURL,
			ProductURL: l.URL,
			StoreName:  a.cfg.Name,
			Source:     a.cfg.Name,
			Condition:  "new",
			Stock:      stock,
			UpdatedAt:  now,
		})
	}
	return offers, nil
}

// FetchForProduct searches the storefront for matchKey and reports the
// first listing. No matching rule yields a "not found" failure.
func (a *Adapter) FetchForProduct(ctx context.Context, matchKey string) domain.FetchOutcome {
	if !a.IsAvailable(ctx) {
		return domain.Failed(domain.ReasonUnavailable)
	}

	listings, err := a.scrape(ctx, matchKey)
	switch {
	case errors.Is(err, errRobotsDisallowed):
		return domain.Failed(domain.ReasonRobotsDisallowed)
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return domain.Failed(domain.ReasonCircuitOpen)
	case err != nil:
		return domain.Failed(err.Error())
	case len(listings) == 0:
		return domain.Failed(domain.ReasonNotFound)
	}

	first := listings[0]
	return domain.Succeeded(domain.FetchSuccess{
		Price:             first.Price,
		ProductURL:        first.URL,
		InStock:           first.InStock,
		PreviousPriceHint: first.WasPrice,
	})
}

// ListCategories reads category links from the configured category page.
func (a *Adapter) ListCategories(ctx context.Context) ([]domain.Category, error) {
	if a.cfg.Options.CategoryPath == "" || a.cfg.Options.CategorySelector == "" {
		return nil, nil
	}

	pageURL := a.base.String() + a.cfg.Options.CategoryPath
	doc, err := a.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("%s categories: %w", a.cfg.Name, err)
	}

	var categories []domain.Category
	seen := make(map[string]bool)
	doc.Find(a.cfg.Options.CategorySelector).Each(func(_ int, s *goquery.Selection) {
		name := collapse(s.Text())
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		href, _ := s.Attr("href")
		id := resolve(a.base, href)
		if id == "" {
			id = name
		}
		categories = append(categories, domain.Category{ID: id, Name: name, Source: a.cfg.Name})
	})
	return categories, nil
}

var errRobotsDisallowed = errors.New(domain.ReasonRobotsDisallowed)

func (a *Adapter) searchURL(term string) string {
	path := strings.ReplaceAll(a.cfg.Options.SearchPath, queryPlaceholder, url.QueryEscape(term))
	return a.base.String() + path
}

func (a *Adapter) scrape(ctx context.Context, term string) ([]listing, error) {
	pageURL := a.searchURL(term)
	doc, err := a.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	listings, rule := extract(doc, a.rules, a.base, a.cfg.Language)
	a.logger.Debug("Extracted listings",
		logger.String("url", pageURL),
		logger.String("rule", rule),
		logger.Int("count", len(listings)),
	)
	return listings, nil
}

func (a *Adapter) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if a.robots != nil {
		allowed, err := a.robots.Allowed(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, errRobotsDisallowed
		}
	}

	var doc *goquery.Document
	err := a.wrapper.DoHTTP(ctx, a.client, a.base.Host,
		func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Accept", "text/html,application/xhtml+xml")
			return req, nil
		},
		func(resp *http.Response) error {
			parsed, err := goquery.NewDocumentFromReader(resp.Body)
			if err != nil {
				return fmt.Errorf("parse html: %w", err)
			}
			doc = parsed
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return doc, nil
}
