// Package telephony wraps the voice vendor's REST API. The core only
// needs two capabilities from it: place a call and send a message, each
// returning the vendor-assigned sid that later webhook events carry.
package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type CallPlacer interface {
	// PlaceCall dials `to` and returns the vendor call sid. Status
	// changes for the call are delivered to callbackURL.
	PlaceCall(ctx context.Context, to, callbackURL string) (string, error)
}

type MessageSender interface {
	SendSMS(ctx context.Context, to, body, callbackURL string) (string, error)
}

type Config struct {
	AccountID string
	AuthToken string
	BaseURL   string
	From      string

	// RequestsPerSecond paces outbound API calls to stay inside the
	// vendor quota; 0 disables pacing.
	RequestsPerSecond float64
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(cfg Config) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: limiter,
	}
}

type createResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (c *Client) PlaceCall(ctx context.Context, to, callbackURL string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.cfg.From)
	form.Set("StatusCallback", callbackURL)

	return c.create(ctx, "calls", form)
}

func (c *Client) SendSMS(ctx context.Context, to, body, callbackURL string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.cfg.From)
	form.Set("Body", body)
	form.Set("StatusCallback", callbackURL)

	return c.create(ctx, "messages", form)
}

func (c *Client) create(ctx context.Context, resource string, form url.Values) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("error waiting for vendor quota: %w", err)
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/%s", strings.TrimSuffix(c.cfg.BaseURL, "/"), c.cfg.AccountID, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.AccountID, c.cfg.AuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error while doing request: %w", err)
	}
	defer resp.Body.Close()

	var data createResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("error decoding resp.Body: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status code: %d - message: %s", resp.StatusCode, data.Message)
	}
	if data.SID == "" {
		return "", fmt.Errorf("vendor response missing sid")
	}

	return data.SID, nil
}
