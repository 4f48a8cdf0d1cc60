package bootstrap

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mitchellh/mapstructure"
	"golang.org/x/text/language"

	"github.com/jonesrussell/north-cloud/partprice/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/partprice/internal/cache"
	"github.com/jonesrussell/north-cloud/partprice/internal/config"
	"github.com/jonesrussell/north-cloud/partprice/internal/resilience"
	"github.com/jonesrussell/north-cloud/partprice/internal/source"
	"github.com/jonesrussell/north-cloud/partprice/internal/source/marketplace"
	"github.com/jonesrussell/north-cloud/partprice/internal/source/storefront"
)

// marketplaceOptions are the marketplace-specific keys of a source's options.
type marketplaceOptions struct {
	TokenURL        string            `mapstructure:"token_url"`
	ClientID        string            `mapstructure:"client_id"`
	ClientSecret    string            `mapstructure:"client_secret"`
	Currency        string            `mapstructure:"currency"`
	CategoryAliases map[string]string `mapstructure:"category_aliases"`
}

// BuildAdapters creates one adapter per configured source, in order.
// Disabled sources are built too and report themselves unavailable.
func BuildAdapters(
	cfg *config.Config,
	client *http.Client,
	wrapper *resilience.Wrapper,
	c cache.Cache,
	log logger.Logger,
) ([]source.Adapter, error) {
	robots := storefront.NewRobotsChecker(client, wrapper, cfg.Client.UserAgent, time.Duration(cfg.Client.RobotsTTL)*time.Minute)
	adapters := make([]source.Adapter, 0, len(cfg.Sources))

	for _, s := range cfg.Sources {
		tag := language.Und
		if s.Language != "" {
			parsed, err := language.Parse(s.Language)
			if err != nil {
				return nil, fmt.Errorf("source %s: language: %w", s.Name, err)
			}
			tag = parsed
		}

		switch s.Kind {
		case config.KindMarketplace:
			var opts marketplaceOptions
			if err := decodeStrict(s.Options, &opts); err != nil {
				return nil, fmt.Errorf("source %s: decode marketplace options: %w", s.Name, err)
			}
			adapters = append(adapters, marketplace.New(marketplace.Config{
				Name:            s.Name,
				BaseURL:         s.BaseURL,
				TokenURL:        opts.TokenURL,
				ClientID:        opts.ClientID,
				ClientSecret:    opts.ClientSecret,
				Enabled:         s.Enabled,
				Currency:        opts.Currency,
				Language:        tag,
				CategoryAliases: opts.CategoryAliases,
			}, client, wrapper, c, log))

		case config.KindStorefront:
			opts, err := storefront.DecodeOptions(s.Options)
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", s.Name, err)
			}
			adapter, err := storefront.New(storefront.Config{
				Name:     s.Name,
				BaseURL:  s.BaseURL,
				Enabled:  s.Enabled,
				Language: tag,
				Options:  opts,
			}, client, wrapper, robots, log)
			if err != nil {
				return nil, err
			}
			adapters = append(adapters, adapter)

		default:
			return nil, fmt.Errorf("source %s: unknown kind %q", s.Name, s.Kind)
		}
	}
	return adapters, nil
}

func decodeStrict(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}
