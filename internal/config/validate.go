package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/language"
)

// ValidationError reports one invalid setting.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, invalid("server.port", "%d is out of range", c.Server.Port))
	}

	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, invalid("database.dsn", "required for the postgres driver"))
		}
	default:
		errs = append(errs, invalid("database.driver", "unknown driver %q", c.Database.Driver))
	}

	if c.Redis.Enabled && c.Redis.Address == "" {
		errs = append(errs, invalid("redis.address", "required when redis is enabled"))
	}

	if c.Resilience.Timeout <= 0 {
		errs = append(errs, invalid("resilience.timeout", "must be positive"))
	}
	if c.Resilience.MaxRetries < 0 {
		errs = append(errs, invalid("resilience.max_retries", "must not be negative"))
	}
	if c.Resilience.FailureThreshold <= 0 {
		errs = append(errs, invalid("resilience.failure_threshold", "must be positive"))
	}
	if c.Orchestrator.CycleInterval <= 0 {
		errs = append(errs, invalid("orchestrator.cycle_interval", "must be positive"))
	}
	if c.Orchestrator.DefaultDelayMs < 0 {
		errs = append(errs, invalid("orchestrator.default_delay_ms", "must not be negative"))
	}
	if c.Orchestrator.BulkParallelism <= 0 {
		errs = append(errs, invalid("orchestrator.bulk_parallelism", "must be positive"))
	}
	if c.Aggregator.DefaultLimit <= 0 {
		errs = append(errs, invalid("aggregator.default_limit", "must be positive"))
	}

	errs = append(errs, c.validateSources()...)
	return errors.Join(errs...)
}

func (c *Config) validateSources() []error {
	var errs []error
	seen := make(map[string]bool, len(c.Sources))

	for i, s := range c.Sources {
		field := fmt.Sprintf("sources[%d]", i)
		key := strings.ToLower(s.Name)
		switch {
		case s.Name == "":
			errs = append(errs, invalid(field+".name", "required"))
		case seen[key]:
			errs = append(errs, invalid(field+".name", "duplicate source %q", s.Name))
		}
		seen[key] = true

		if s.Kind != KindMarketplace && s.Kind != KindStorefront {
			errs = append(errs, invalid(field+".kind", "unknown kind %q", s.Kind))
		}
		if u, err := url.Parse(s.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, invalid(field+".base_url", "%q is not an absolute URL", s.BaseURL))
		}
		if s.DelayMs < 0 {
			errs = append(errs, invalid(field+".delay_ms", "must not be negative"))
		}
		if s.Language != "" {
			if _, err := language.Parse(s.Language); err != nil {
				errs = append(errs, invalid(field+".language", "%v", err))
			}
		}
	}
	return errs
}
