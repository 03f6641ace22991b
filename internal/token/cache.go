// Package token owns the shared marketplace access token. Every concurrent
// listing worker goes through one Cache; a stale token triggers at most one
// refresh call no matter how many workers are waiting on it.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"repriceflow/internal/secrets"
	"repriceflow/logger"
	"repriceflow/models"
)

const refreshKey = "lwa-refresh"

// Cache holds zero or one marketplace access token and refreshes it through
// the LWA refresh-token grant when it is absent or inside the safety margin.
type Cache struct {
	tokenURL string
	margin   time.Duration
	provider secrets.Provider
	client   *http.Client
	now      func() time.Time

	mu    sync.Mutex
	token *models.CachedToken
	group singleflight.Group

	log *logger.Log
}

// NewCache creates a token cache against the given token endpoint. The
// timeout bounds each refresh call; margin is subtracted from the token's
// expiry when judging validity.
func NewCache(tokenURL string, margin, timeout time.Duration, provider secrets.Provider) *Cache {
	return &Cache{
		tokenURL: tokenURL,
		margin:   margin,
		provider: provider,
		client:   &http.Client{Timeout: timeout},
		now:      time.Now,
		log:      logger.GetLogger(),
	}
}

// GetToken returns a valid access token, refreshing it if needed. A valid
// cached token is returned without any network access. During an in-progress
// refresh, concurrent callers wait for its result instead of issuing their
// own; success and failure are both shared by all waiters. On failure the
// cache is left empty so the next call retries instead of reusing a poisoned
// token.
func (c *Cache) GetToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token.Valid(c.now(), c.margin) {
		tok := c.token.AccessToken
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(refreshKey, func() (interface{}, error) {
		// A waiter queued behind a finished refresh sees the fresh token
		// here and skips the network call.
		c.mu.Lock()
		if c.token.Valid(c.now(), c.margin) {
			tok := c.token.AccessToken
			c.mu.Unlock()
			return tok, nil
		}
		c.mu.Unlock()

		// The refresh outcome is shared by every waiter, so it must not
		// die with whichever caller happened to lead. The HTTP client
		// timeout still bounds the call.
		tok, err := c.refresh(context.WithoutCancel(ctx))

		c.mu.Lock()
		if err != nil {
			c.token = nil
		} else {
			c.token = tok
		}
		c.mu.Unlock()

		if err != nil {
			return "", err
		}
		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next GetToken refreshes. Called
// when the marketplace rejects a request as unauthorized despite a token the
// cache still considered valid.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Cache) refresh(ctx context.Context) (*models.CachedToken, error) {
	log := c.log.WithComponent("token_cache")

	creds, err := c.provider.Credentials(ctx)
	if err != nil {
		return nil, models.NewError(models.KindAuth, "token.refresh", fmt.Errorf("load credentials: %w", err))
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", creds.RefreshToken)
	form.Set("client_id", creds.AppID)
	form.Set("client_secret", creds.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, models.NewError(models.KindAuth, "token.refresh", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := c.now()
	resp, err := c.client.Do(req)
	if err != nil {
		log.WithError(err).Warn("token refresh request failed")
		return nil, models.NewError(models.KindAuth, "token.refresh", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.WithFields(logger.Fields{"status": resp.StatusCode}).Warn("token refresh rejected")
		return nil, models.NewError(models.KindAuth, "token.refresh",
			fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, models.NewError(models.KindAuth, "token.refresh", fmt.Errorf("decode token response: %w", err))
	}
	if tr.AccessToken == "" || tr.ExpiresIn <= 0 {
		return nil, models.NewError(models.KindAuth, "token.refresh", fmt.Errorf("token response missing access_token or expiry"))
	}

	logger.LogPerformanceEntry(log, "token_cache", "token_refresh", time.Since(start), nil)
	log.WithFields(logger.Fields{"expires_in": tr.ExpiresIn}).Info("access token refreshed")

	return &models.CachedToken{
		AccessToken: tr.AccessToken,
		ExpiresAt:   c.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
