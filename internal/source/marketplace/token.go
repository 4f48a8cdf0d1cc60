package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/partprice/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/partprice/internal/resilience"
)

// TokenSafetyMargin is subtracted from a token's lifetime so it is
// refreshed before the API starts rejecting it.
const TokenSafetyMargin = 5 * time.Minute

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (a *Adapter) tokenKey() string {
	return "token:" + a.cfg.Name
}

// token returns a cached bearer token or exchanges client credentials for a
// new one. Refreshes are serialized so concurrent callers share one exchange.
func (a *Adapter) token(ctx context.Context) (string, error) {
	if tok, ok := a.cachedToken(ctx); ok {
		return tok, nil
	}

	a.tokenMu.Lock()
	defer a.tokenMu.Unlock()

	if tok, ok := a.cachedToken(ctx); ok {
		return tok, nil
	}

	var resp tokenResponse
	err := a.wrapper.DoHTTP(ctx, a.client, resilience.HostOf(a.cfg.TokenURL),
		func(ctx context.Context) (*http.Request, error) {
			form := url.Values{"grant_type": {"client_credentials"}}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.TokenURL, strings.NewReader(form.Encode()))
			if err != nil {
				return nil, err
			}
			req.SetBasicAuth(a.cfg.ClientID, a.cfg.ClientSecret)
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.Header.Set("Accept", "application/json")
			return req, nil
		},
		func(r *http.Response) error {
			if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
				return resilience.Permanent(fmt.Errorf("decode token response: %w", err))
			}
			if resp.AccessToken == "" {
				return resilience.Permanent(errors.New("token response without access_token"))
			}
			return nil
		},
	)
	if err != nil {
		return "", fmt.Errorf("obtain token: %w", err)
	}

	ttl := time.Duration(resp.ExpiresIn)*time.Second - TokenSafetyMargin
	if setErr := a.cache.Set(ctx, a.tokenKey(), []byte(resp.AccessToken), ttl); setErr != nil {
		a.logger.Warn("Token cache write failed", logger.Error(setErr))
	}
	a.logger.Debug("Obtained access token",
		logger.Int64("expires_in", resp.ExpiresIn),
		logger.Duration("cache_ttl", ttl),
	)

	return resp.AccessToken, nil
}

func (a *Adapter) cachedToken(ctx context.Context) (string, bool) {
	raw, found, err := a.cache.Get(ctx, a.tokenKey())
	if err != nil {
		a.logger.Warn("Token cache read failed", logger.Error(err))
		return "", false
	}
	if !found || len(raw) == 0 {
		return "", false
	}
	return string(raw), true
}

func (a *Adapter) evictToken(ctx context.Context) {
	if err := a.cache.Remove(ctx, a.tokenKey()); err != nil {
		a.logger.Warn("Token cache eviction failed", logger.Error(err))
	}
}
