// Package marketplace adapts token-authenticated marketplace JSON APIs.
package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	"github.com/jonesrussell/north-cloud/partprice/infrastructure/circuitbreaker"
	infraerrors "github.com/jonesrussell/north-cloud/partprice/infrastructure/errors"
	"github.com/jonesrussell/north-cloud/partprice/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/partprice/internal/cache"
	"github.com/jonesrussell/north-cloud/partprice/internal/domain"
	"github.com/jonesrussell/north-cloud/partprice/internal/pricing"
	"github.com/jonesrussell/north-cloud/partprice/internal/resilience"
	"github.com/jonesrussell/north-cloud/partprice/internal/source"
)

// Config describes one marketplace API.
type Config struct {
	Name         string
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Enabled      bool
	// Currency is assumed when an item omits currency_id.
	Currency string
	// Language drives parsing of prices the API sends as text.
	Language        language.Tag
	CategoryAliases map[string]string
}

// Adapter talks to a marketplace search API.
type Adapter struct {
	cfg        Config
	client     *http.Client
	wrapper    *resilience.Wrapper
	cache      cache.Cache
	logger     logger.Logger
	categories source.CategoryNormalizer
	host       string
	now        func() time.Time

	tokenMu sync.Mutex
}

var _ source.Adapter = (*Adapter)(nil)

// New creates a marketplace adapter. c holds the cached bearer token.
func New(cfg Config, client *http.Client, wrapper *resilience.Wrapper, c cache.Cache, log logger.Logger) *Adapter {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Currency == "" {
		cfg.Currency = "CLP"
	}
	if cfg.Language == language.Und {
		cfg.Language = pricing.DefaultLanguage
	}

	return &Adapter{
		cfg:        cfg,
		client:     client,
		wrapper:    wrapper,
		cache:      c,
		logger:     log.With(logger.Source(cfg.Name)),
		categories: source.NewCategoryNormalizer(cfg.CategoryAliases),
		host:       resilience.HostOf(cfg.BaseURL),
		now:        time.Now,
	}
}

// Name implements source.Adapter.
func (a *Adapter) Name() string {
	return a.cfg.Name
}

// IsAvailable is false when the source is disabled or lacks credentials.
func (a *Adapter) IsAvailable(context.Context) bool {
	return a.cfg.Enabled && a.cfg.BaseURL != "" && a.cfg.TokenURL != "" &&
		a.cfg.ClientID != "" && a.cfg.ClientSecret != ""
}

// NormalizeCategory implements source.Adapter.
func (a *Adapter) NormalizeCategory(native string) string {
	return a.categories.Normalize(native)
}

type searchResponse struct {
	Results []item `json:"results"`
	Paging  struct {
		Total int `json:"total"`
	} `json:"paging"`
}

type item struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	Price             json.RawMessage `json:"price"`
	OriginalPrice     json.RawMessage `json:"original_price"`
	CurrencyID        string          `json:"currency_id"`
	Thumbnail         string          `json:"thumbnail"`
	Permalink         string          `json:"permalink"`
	Condition         string          `json:"condition"`
	AvailableQuantity int             `json:"available_quantity"`
	Seller            struct {
		Nickname string `json:"nickname"`
	} `json:"seller"`
	Shipping struct {
		FreeShipping bool `json:"free_shipping"`
	} `json:"shipping"`
	Rating *float64 `json:"rating"`
}

// Search implements source.Adapter.
func (a *Adapter) Search(ctx context.Context, term, category string, limit int) ([]domain.NormalizedOffer, error) {
	q := url.Values{"q": {term}, "limit": {strconv.Itoa(limit)}}
	if category != "" {
		q.Set("category", category)
	}

	var resp searchResponse
	if err := a.getJSON(ctx, "/search", q, &resp); err != nil {
		return nil, fmt.Errorf("%s search %q: %w", a.cfg.Name, term, err)
	}

	offers := make([]domain.NormalizedOffer, 0, len(resp.Results))
	for _, it := range resp.Results {
		o, err := a.normalize(it)
		if err != nil {
			a.logger.Debug("Skipping item with unusable price",
				logger.String("item_id", it.ID),
				logger.Error(err),
			)
			continue
		}
		offers = append(offers, o)
	}
	return offers, nil
}

// FetchForProduct looks the part number up and reports the cheapest listing.
func (a *Adapter) FetchForProduct(ctx context.Context, matchKey string) domain.FetchOutcome {
	if !a.IsAvailable(ctx) {
		return domain.Failed(domain.ReasonUnavailable)
	}

	q := url.Values{"part_number": {matchKey}}
	var resp searchResponse
	if err := a.getJSON(ctx, "/items", q, &resp); err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			return domain.Failed(domain.ReasonCircuitOpen)
		}
		return domain.Failed(err.Error())
	}

	var best *domain.NormalizedOffer
	var bestItem item
	for _, it := range resp.Results {
		o, err := a.normalize(it)
		if err != nil {
			continue
		}
		if best == nil || o.Price.LessThan(best.Price) {
			best, bestItem = &o, it
		}
	}
	if best == nil {
		return domain.Failed(domain.ReasonNotFound)
	}

	success := domain.FetchSuccess{
		Price:      best.Price,
		ProductURL: best.ProductURL,
		InStock:    best.Stock > 0,
	}
	if was, err := a.parsePrice(bestItem.OriginalPrice); err == nil && was.GreaterThan(best.Price) {
		success.PreviousPriceHint = &was
	}
	return domain.Succeeded(success)
}

type categoryResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListCategories implements source.Adapter.
func (a *Adapter) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var resp []categoryResponse
	if err := a.getJSON(ctx, "/categories", nil, &resp); err != nil {
		return nil, fmt.Errorf("%s categories: %w", a.cfg.Name, err)
	}

	categories := make([]domain.Category, 0, len(resp))
	for _, c := range resp {
		categories = append(categories, domain.Category{ID: c.ID, Name: c.Name, Source: a.cfg.Name})
	}
	return categories, nil
}

// getJSON performs an authenticated GET and decodes the body into out.
// A 401 evicts the cached token so the next call re-authenticates.
func (a *Adapter) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	if !a.IsAvailable(ctx) {
		return errors.New(domain.ReasonMissingCredential)
	}

	tok, err := a.token(ctx)
	if err != nil {
		return err
	}

	endpoint := a.cfg.BaseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	err = a.wrapper.DoHTTP(ctx, a.client, a.host,
		func(ctx context.Context) (*http.Request, error) {
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
			if reqErr != nil {
				return nil, reqErr
			}
			req.Header.Set("Authorization", "Bearer "+tok)
			req.Header.Set("Accept", "application/json")
			return req, nil
		},
		func(resp *http.Response) error {
			if decodeErr := json.NewDecoder(resp.Body).Decode(out); decodeErr != nil {
				return resilience.Permanent(fmt.Errorf("decode %s: %w", path, decodeErr))
			}
			return nil
		},
	)

	if code, ok := infraerrors.GetHTTPStatusCode(err); ok && code == http.StatusUnauthorized {
		a.evictToken(ctx)
	}
	return err
}

func (a *Adapter) normalize(it item) (domain.NormalizedOffer, error) {
	price, err := a.parsePrice(it.Price)
	if err != nil {
		return domain.NormalizedOffer{}, err
	}
	if !price.IsPositive() {
		return domain.NormalizedOffer{}, fmt.Errorf("%w: non-positive %s", pricing.ErrInvalidPrice, price)
	}

	currency := it.CurrencyID
	if currency == "" {
		currency = a.cfg.Currency
	}
	storeName := it.Seller.Nickname
	if storeName == "" {
		storeName = a.cfg.Name
	}

	return domain.NormalizedOffer{
		ID:           it.ID,
		Title:        strings.TrimSpace(it.Title),
		Price:        price,
		Currency:     currency,
		ImageURL:     it.Thumbnail,
		ProductURL:   it.Permalink,
		StoreName:    storeName,
		Source:       a.cfg.Name,
		Condition:    it.Condition,
		Stock:        it.AvailableQuantity,
		FreeShipping: it.Shipping.FreeShipping,
		Rating:       it.Rating,
		UpdatedAt:    a.now().UTC(),
	}, nil
}

// parsePrice accepts a JSON number or a localized price string.
func (a *Adapter) parsePrice(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Zero, pricing.ErrInvalidPrice
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return decimal.Zero, fmt.Errorf("%w: %w", pricing.ErrInvalidPrice, err)
		}
		return pricing.ParsePrice(text, a.cfg.Language)
	}
	d, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", pricing.ErrInvalidPrice, err)
	}
	return d, nil
}
