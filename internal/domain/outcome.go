package domain

import "github.com/shopspring/decimal"

// Common failure reasons.
const (
	ReasonNotFound          = "not found"
	ReasonUnavailable       = "source unavailable"
	ReasonRobotsDisallowed  = "disallowed by robots.txt"
	ReasonCircuitOpen       = "circuit open"
	ReasonInvalidPrice      = "invalid price"
	ReasonMissingCredential = "missing credentials"
)

// FetchOutcome is the result of looking a product up at one source. Exactly
// one of Success or Failure is set; build values with Succeeded or Failed.
type FetchOutcome struct {
	Success *FetchSuccess
	Failure *FetchFailure
}

// FetchSuccess carries a price observed at the source.
type FetchSuccess struct {
	Price      decimal.Decimal
	ProductURL string
	InStock    bool
	// PreviousPriceHint is the "was" price the source itself advertises, if any.
	PreviousPriceHint *decimal.Decimal
}

// FetchFailure explains why no price was obtained.
type FetchFailure struct {
	Reason string
}

// Succeeded builds a successful outcome.
func Succeeded(s FetchSuccess) FetchOutcome {
	return FetchOutcome{Success: &s}
}

// Failed builds a failed outcome.
func Failed(reason string) FetchOutcome {
	return FetchOutcome{Failure: &FetchFailure{Reason: reason}}
}

// OK reports whether the outcome is a success.
func (o FetchOutcome) OK() bool {
	return o.Success != nil
}

// Reason returns the failure reason, or "" for a success.
func (o FetchOutcome) Reason() string {
	if o.Failure == nil {
		return ""
	}
	return o.Failure.Reason
}
