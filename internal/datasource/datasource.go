// Package datasource provides option-chain data from market-data providers.
// It defines the OptionSource and OptionTicker interfaces the exporter
// consumes and a Yahoo Finance implementation of them.
package datasource

import (
	"context"
	"errors"
	"fmt"

	"github.com/seenimoa/optchain/pkg/models"
)

// OptionSource opens ticker-scoped handles on a market-data provider.
type OptionSource interface {
	// Name returns the human-readable name of this data source.
	Name() string

	// Ticker returns a handle for symbol. No network activity happens
	// until one of the handle's methods is called.
	Ticker(symbol string) OptionTicker
}

// OptionTicker answers the three option-chain queries for one ticker.
type OptionTicker interface {
	// Symbol returns the ticker symbol exactly as given.
	Symbol() string

	// Expirations returns the available expiration dates (YYYY-MM-DD) in
	// provider order. A ticker without listed options has none.
	Expirations(ctx context.Context) ([]string, error)

	// Calls returns the call-side contract table for expiry.
	Calls(ctx context.Context, expiry string) (*models.ContractTable, error)

	// Puts returns the put-side contract table for expiry.
	Puts(ctx context.Context, expiry string) (*models.ContractTable, error)
}

// --- Sentinel errors ---

// ErrMalformed is returned when a provider response cannot be interpreted.
var ErrMalformed = errors.New("malformed provider response")

// ErrProvider is returned when the provider reports an error in its payload.
var ErrProvider = errors.New("provider error")

// ErrCrumb is returned when the Yahoo session crumb cannot be obtained.
var ErrCrumb = errors.New("yahoo crumb unavailable")

// ErrConsent is returned when the Yahoo consent form cannot be submitted.
var ErrConsent = errors.New("yahoo consent rejected")

// ErrExpirationNotFound is returned for an expiry the provider did not list.
var ErrExpirationNotFound = errors.New("expiration not found")

// ErrHTTP wraps an HTTP error with status code.
type ErrHTTP struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Status, e.Body)
}

// IsNotFound reports whether err carries an HTTP 404.
func IsNotFound(err error) bool {
	var he *ErrHTTP
	return errors.As(err, &he) && he.StatusCode == 404
}
