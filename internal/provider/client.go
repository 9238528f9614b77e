package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"steptrack-go/internal/config"

	"golang.org/x/time/rate"
)

// Client talks to the remote step API. One GET per calendar date, bearer
// authenticated. A client-side rate limiter keeps this process under the
// provider's per-user hourly quota even when several users sync back to
// back; the provider's own 429 responses remain the authoritative signal.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	limiter      *rate.Limiter
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

func NewClient(cfg config.ProviderConfig) *Client {
	perMin := cfg.RequestsPerMin
	if perMin <= 0 {
		perMin = 120
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		limiter:      rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), perMin/10+1),
	}
}

type stepsResponse struct {
	Date  string `json:"date"`
	Steps int64  `json:"steps"`
}

// StepsForDate fetches the step count for one calendar date. Failures are
// classified: 401 wraps ErrTokenExpired, 429 wraps ErrRateLimited,
// everything else is transient.
func (c *Client) StepsForDate(ctx context.Context, accessToken string, date time.Time) (int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	endpoint := fmt.Sprintf("%s/v1/users/me/steps/%s", c.baseURL, date.UTC().Format("2006-01-02"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch steps: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return 0, fmt.Errorf("%w (status %d)", ErrTokenExpired, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return 0, fmt.Errorf("%w (status %d)", ErrRateLimited, resp.StatusCode)
	default:
		return 0, fmt.Errorf("fetch steps: unexpected status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var payload stepsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode steps response: %w", err)
	}
	if payload.Steps < 0 {
		return 0, fmt.Errorf("provider returned negative steps %d", payload.Steps)
	}

	return payload.Steps, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RefreshToken exchanges a refresh token for a new access/refresh pair.
// A 400 or 401 from the token endpoint wraps ErrRefreshRejected; the caller
// treats that as terminal for the date under retry.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (TokenPair, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenPair{}, err
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TokenPair{}, fmt.Errorf("refresh token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return TokenPair{}, fmt.Errorf("%w (status %d)", ErrRefreshRejected, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return TokenPair{}, fmt.Errorf("refresh token: unexpected status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return TokenPair{}, fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return TokenPair{}, fmt.Errorf("token endpoint returned empty access token")
	}

	pair := TokenPair{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	if payload.ExpiresIn > 0 {
		expiresAt := time.Now().UTC().Add(time.Duration(payload.ExpiresIn) * time.Second)
		pair.ExpiresAt = &expiresAt
	}

	return pair, nil
}

func readErrorBody(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 512))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
