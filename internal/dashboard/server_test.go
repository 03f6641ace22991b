package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"repriceflow/config"
	"repriceflow/logger"
)

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                            "0.0.0.0:8080",
		"  :9090  ":                   "0.0.0.0:9090",
		"localhost":                   "localhost:8080",
		"0.0.0.0:80":                  "0.0.0.0:80",
		"[::1]:443":                   "[::1]:443",
		"::1":                         "[::1]:8080",
		"*:8080":                      "0.0.0.0:8080",
		"http://10.0.0.12:8080":       "10.0.0.12:8080",
		"https://10.0.0.12":           "10.0.0.12:8080",
		"http://:7070":                "0.0.0.0:7070",
		"tcp://localhost:5050":        "localhost:5050",
		"https://status.example.com/": "status.example.com:8080",
	}

	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNewServerDisabledReturnsNil(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{Enabled: false}, "repriceflow", logger.GetLogger())
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	if srv != nil {
		t.Fatal("expected nil server when disabled")
	}
}

func TestNewServerNormalizesConfiguredAddress(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{Enabled: true, Address: ":9000"}, "repriceflow", logger.GetLogger())
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	if srv == nil {
		t.Fatal("expected status server, got nil")
	}
	if got := srv.Address(); got != "0.0.0.0:9000" {
		t.Fatalf("server address = %q, want %q", got, "0.0.0.0:9000")
	}
}

func TestStatusEndpointReportsCounters(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{Enabled: true, RefreshInterval: time.Second, History: 10}, "repriceflow", logger.GetLogger())
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}

	logger.IncrementOfferRead()
	logger.RecordCycle("sweep", false)

	router, err := srv.buildRouter()
	if err != nil {
		t.Fatalf("buildRouter error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}

	var body struct {
		App      string `json:"app"`
		Counters struct {
			OfferReads int64 `json:"offer_reads"`
			Paths      map[string]struct {
				Cycles int64 `json:"cycles"`
			} `json:"paths"`
		} `json:"counters"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.App != "repriceflow" {
		t.Errorf("app %q", body.App)
	}
	if body.Counters.OfferReads == 0 {
		t.Error("offer read counter missing from status")
	}
	if body.Counters.Paths["sweep"].Cycles == 0 {
		t.Error("sweep path tally missing from status")
	}
}

func TestHealthzEndpoint(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{Enabled: true}, "repriceflow", logger.GetLogger())
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}

	router, err := srv.buildRouter()
	if err != nil {
		t.Fatalf("buildRouter error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}
}
