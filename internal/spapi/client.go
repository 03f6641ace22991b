// Package spapi is the HTTP boundary to the marketplace Selling Partner API:
// reading competitor offers for a listing and submitting price changes.
package spapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"repriceflow/config"
	"repriceflow/logger"
	"repriceflow/models"
)

// TokenSource supplies bearer tokens for marketplace calls.
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
	Invalidate()
}

// Client talks to the marketplace API. All outbound calls share one rate
// limiter so concurrent listing workers stay inside the marketplace quota.
type Client struct {
	endpoint      string
	marketplaceID string
	apiTimeout    time.Duration
	httpClient    *http.Client
	limiter       *rate.Limiter
	tokens        TokenSource
	log           *logger.Log
}

// NewClient builds a marketplace client from the marketplace config section.
func NewClient(cfg config.MarketplaceConfig, tokens TokenSource) *Client {
	transport := &http.Transport{
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		marketplaceID: cfg.MarketplaceID,
		apiTimeout:    cfg.APITimeout,
		httpClient:    &http.Client{Transport: transport, Timeout: cfg.APITimeout},
		limiter:       rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.BurstSize),
		tokens:        tokens,
		log:           logger.GetLogger(),
	}
}

func (c *Client) do(ctx context.Context, op string, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classify(op, 0, err)
	}

	tok, err := c.tokens.GetToken(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-amz-access-token", tok)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(op, 0, err)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		// The token looked valid locally but the marketplace disagreed.
		c.tokens.Invalidate()
	}
	return resp, nil
}

// classify maps an HTTP status or transport error onto the error taxonomy.
// A zero status means the request never produced a response.
func classify(op string, status int, err error) error {
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return models.NewError(models.KindTimeout, op, err)
		}
		if errors.Is(err, context.Canceled) {
			// The caller gave up on this call; a retry would be wasted.
			return models.NewError(models.KindFatal, op, err)
		}
		return models.NewError(models.KindRetryable, op, err)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return models.NewError(models.KindAuth, op, fmt.Errorf("marketplace returned %d", status))
	case status == http.StatusTooManyRequests || status >= 500:
		return models.NewError(models.KindRetryable, op, fmt.Errorf("marketplace returned %d", status))
	default:
		return models.NewError(models.KindFatal, op, fmt.Errorf("marketplace returned %d", status))
	}
}

// drainBody reads a bounded error body for log context.
func drainBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(body))
}

// itemOffersResponse is the subset of the offers payload this system reads.
type itemOffersResponse struct {
	Payload struct {
		Offers []struct {
			ListingPrice struct {
				Amount       *float64 `json:"Amount"`
				CurrencyCode string   `json:"CurrencyCode"`
			} `json:"ListingPrice"`
		} `json:"Offers"`
	} `json:"payload"`
}

// GetOffers fetches current competitor offers for the listing and reduces
// them to an offer snapshot. A listing with no qualifying offer yields a nil
// competitor price, not an error.
func (c *Client) GetOffers(ctx context.Context, key models.ListingKey) (models.OfferSnapshot, error) {
	const op = "spapi.get_offers"
	log := c.log.WithComponent("offer_observer").WithFields(logger.Fields{"listing": key.String()})

	ctx, cancel := context.WithTimeout(ctx, c.apiTimeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s/products/pricing/v0/items/%s/offers?MarketplaceId=%s&ItemCondition=New",
		c.endpoint, key.CatalogItemID, key.MarketplaceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return models.OfferSnapshot{}, models.NewError(models.KindFatal, op, err)
	}

	start := time.Now()
	resp, err := c.do(ctx, op, req)
	if err != nil {
		return models.OfferSnapshot{}, err
	}
	defer resp.Body.Close()
	logger.LogPerformanceEntry(log, "offer_observer", "api_request", time.Since(start), nil)

	if resp.StatusCode == http.StatusNotFound {
		// Listing unknown to the pricing API: treated as no qualifying
		// offer rather than a failure of the observation.
		logger.IncrementOfferRead()
		return models.OfferSnapshot{ObservedAt: time.Now().UTC()}, nil
	}
	if resp.StatusCode != http.StatusOK {
		log.WithFields(logger.Fields{"status": resp.StatusCode, "body": drainBody(resp.Body)}).Warn("offer request rejected")
		return models.OfferSnapshot{}, classify(op, resp.StatusCode, nil)
	}

	var offers itemOffersResponse
	if err := json.NewDecoder(resp.Body).Decode(&offers); err != nil {
		return models.OfferSnapshot{}, models.NewError(models.KindFatal, op, fmt.Errorf("decode offers: %w", err))
	}

	snapshot := models.OfferSnapshot{ObservedAt: time.Now().UTC()}
	for _, offer := range offers.Payload.Offers {
		if offer.ListingPrice.Amount == nil {
			continue
		}
		price := decimal.NewFromFloat(*offer.ListingPrice.Amount)
		if price.IsNegative() {
			continue
		}
		if snapshot.CompetitorLowestPrice == nil || price.LessThan(*snapshot.CompetitorLowestPrice) {
			p := price
			snapshot.CompetitorLowestPrice = &p
		}
	}

	logger.IncrementOfferRead()
	log.WithFields(logger.Fields{
		"offers":       len(offers.Payload.Offers),
		"lowest_price": priceField(snapshot.CompetitorLowestPrice),
	}).Debug("offers observed")

	return snapshot, nil
}

func priceField(p *decimal.Decimal) string {
	if p == nil {
		return "none"
	}
	return p.StringFixed(2)
}
