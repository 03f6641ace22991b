package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MarkupPolicy is the process-wide pricing policy. It is loaded once at
// startup and never mutated afterwards.
type MarkupPolicy struct {
	// MarkupPercentage is applied multiplicatively to the reference
	// competitor price: target = reference * (1 + markup/100).
	MarkupPercentage decimal.Decimal
	// PriceFloor, when set, is a global lower bound on any target price.
	PriceFloor *decimal.Decimal
	// Tolerance is the price difference below which a recomputed target is
	// treated as equal to the current price. Defaults to one cent.
	Tolerance decimal.Decimal
}

// DefaultTolerance is the smallest currency unit for USD listings.
var DefaultTolerance = decimal.New(1, -2)

// Validate checks the policy invariants from the markup rule.
func (p MarkupPolicy) Validate() error {
	if p.MarkupPercentage.IsNegative() {
		return fmt.Errorf("markup percentage must not be negative, got %s", p.MarkupPercentage)
	}
	if p.PriceFloor != nil && p.PriceFloor.IsNegative() {
		return fmt.Errorf("price floor must not be negative, got %s", p.PriceFloor)
	}
	if p.Tolerance.IsNegative() {
		return fmt.Errorf("tolerance must not be negative, got %s", p.Tolerance)
	}
	return nil
}

// CachedToken is a marketplace API access token plus its expiry. The token is
// usable only while now < ExpiresAt - safety margin; the cache treats
// anything later as absent.
type CachedToken struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether the token is still usable given the safety margin.
func (t *CachedToken) Valid(now time.Time, margin time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return now.Before(t.ExpiresAt.Add(-margin))
}

// Credentials are the LWA refresh-token grant inputs, supplied by the secret
// store at startup. They are opaque and must never be logged.
type Credentials struct {
	AppID        string `json:"lwa_app_id"`
	ClientSecret string `json:"lwa_client_secret"`
	RefreshToken string `json:"refresh_token"`
}

// Validate reports whether all three credential parts are present.
func (c Credentials) Validate() error {
	if c.AppID == "" || c.ClientSecret == "" || c.RefreshToken == "" {
		return fmt.Errorf("incomplete marketplace credentials")
	}
	return nil
}
