package spapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"repriceflow/config"
	"repriceflow/models"
)

type staticTokens struct {
	token       string
	invalidated int64
}

func (s *staticTokens) GetToken(ctx context.Context) (string, error) {
	return s.token, nil
}

func (s *staticTokens) Invalidate() {
	atomic.AddInt64(&s.invalidated, 1)
}

func newTestClient(endpoint string) (*Client, *staticTokens) {
	tokens := &staticTokens{token: "test-token"}
	cfg := config.MarketplaceConfig{
		Endpoint:      endpoint,
		MarketplaceID: "ATVPDKIKX0DER",
		APITimeout:    5 * time.Second,
		RateLimit:     config.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000},
	}
	return NewClient(cfg, tokens), tokens
}

func testListingKey() models.ListingKey {
	return models.ListingKey{CatalogItemID: "B00TEST001", MarketplaceID: "ATVPDKIKX0DER"}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestGetOffersReducesToLowestPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-amz-access-token"); got != "test-token" {
			t.Errorf("missing access token header, got %q", got)
		}
		if got := r.URL.Query().Get("MarketplaceId"); got != "ATVPDKIKX0DER" {
			t.Errorf("unexpected MarketplaceId %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"payload":{"Offers":[
			{"ListingPrice":{"Amount":24.99,"CurrencyCode":"USD"}},
			{"ListingPrice":{"Amount":19.99,"CurrencyCode":"USD"}},
			{"ListingPrice":{"Amount":32.50,"CurrencyCode":"USD"}}
		]}}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	snapshot, err := client.GetOffers(context.Background(), testListingKey())
	if err != nil {
		t.Fatalf("get offers: %v", err)
	}
	if snapshot.CompetitorLowestPrice == nil {
		t.Fatal("expected a competitor price")
	}
	if !snapshot.CompetitorLowestPrice.Equal(dec("19.99")) {
		t.Fatalf("lowest price %s, want 19.99", snapshot.CompetitorLowestPrice)
	}
	if snapshot.ObservedAt.IsZero() {
		t.Error("observation timestamp not set")
	}
}

func TestGetOffersEmptyIsValidObservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"payload":{"Offers":[]}}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	snapshot, err := client.GetOffers(context.Background(), testListingKey())
	if err != nil {
		t.Fatalf("empty offer list must not be an error: %v", err)
	}
	if snapshot.CompetitorLowestPrice != nil {
		t.Fatalf("expected nil competitor price, got %s", snapshot.CompetitorLowestPrice)
	}
}

func TestGetOffersNotFoundIsValidObservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	snapshot, err := client.GetOffers(context.Background(), testListingKey())
	if err != nil {
		t.Fatalf("unknown listing must not be an error: %v", err)
	}
	if snapshot.CompetitorLowestPrice != nil {
		t.Fatalf("expected nil competitor price, got %s", snapshot.CompetitorLowestPrice)
	}
}

func TestGetOffersThrottleIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "throttled", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	_, err := client.GetOffers(context.Background(), testListingKey())
	if err == nil {
		t.Fatal("expected error for 429")
	}
	if !models.IsRetryable(err) {
		t.Fatalf("expected retryable kind, got %v", err)
	}
}

func TestGetOffersUnauthorizedInvalidatesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, tokens := newTestClient(srv.URL)
	_, err := client.GetOffers(context.Background(), testListingKey())
	if err == nil {
		t.Fatal("expected error for 401")
	}
	if models.KindOf(err) != models.KindAuth {
		t.Fatalf("expected auth kind, got %v", err)
	}
	if n := atomic.LoadInt64(&tokens.invalidated); n != 1 {
		t.Fatalf("expected token invalidation, got %d", n)
	}
}

func TestGetOffersTimeoutKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	tokens := &staticTokens{token: "test-token"}
	cfg := config.MarketplaceConfig{
		Endpoint:      srv.URL,
		MarketplaceID: "ATVPDKIKX0DER",
		APITimeout:    20 * time.Millisecond,
		RateLimit:     config.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000},
	}
	client := NewClient(cfg, tokens)

	_, err := client.GetOffers(context.Background(), testListingKey())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if models.KindOf(err) != models.KindTimeout {
		t.Fatalf("expected timeout kind, got %v", err)
	}
}

func TestGetOffersCanceledIsNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"payload":{"Offers":[]}}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetOffers(ctx, testListingKey())
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
	if models.KindOf(err) != models.KindFatal {
		t.Fatalf("expected fatal kind for canceled call, got %v", err)
	}
	if models.IsRetryable(err) {
		t.Fatal("canceled call must not be retryable")
	}
}

func TestSubmitPriceAcceptedVariants(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusAccepted} {
		var gotMethod, gotPath string
		var gotBody []byte
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotPath = r.URL.Path
			gotBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(status)
		}))

		client, _ := newTestClient(srv.URL)
		err := client.SubmitPrice(context.Background(), testListingKey(), dec("24.15"))
		srv.Close()
		if err != nil {
			t.Fatalf("status %d: %v", status, err)
		}
		if gotMethod != http.MethodPatch {
			t.Errorf("method %s, want PATCH", gotMethod)
		}
		if gotPath != "/listings/2021-08-01/items/B00TEST001" {
			t.Errorf("path %s", gotPath)
		}
		body := string(gotBody)
		for _, want := range []string{`"productType":"PRODUCT"`, `"op":"replace"`, "/attributes/purchasable_offer", `"value_with_tax":24.15`} {
			if !strings.Contains(body, want) {
				t.Errorf("body missing %q: %s", want, body)
			}
		}
	}
}

func TestSubmitPriceRejectionIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"code":"InvalidAttribute"}]}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	err := client.SubmitPrice(context.Background(), testListingKey(), dec("24.15"))
	if err == nil {
		t.Fatal("expected error for 400")
	}
	if models.KindOf(err) != models.KindFatal {
		t.Fatalf("expected fatal kind, got %v", err)
	}
}

func TestSubmitPriceServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, _ := newTestClient(srv.URL)
	err := client.SubmitPrice(context.Background(), testListingKey(), dec("24.15"))
	if err == nil {
		t.Fatal("expected error for 503")
	}
	if !models.IsRetryable(err) {
		t.Fatalf("expected retryable kind, got %v", err)
	}
}
