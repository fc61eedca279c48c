// Package feed pulls liquidity index observations from the rates service and
// turns each complete update into a MARKET event.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/gregtusar/statarb/pkg/models"
)

// Client is the REST side of the rates service.
type Client struct {
	baseURL    string
	auth       Authenticator
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewClient builds a client allowing requestsPerSecond with the given burst.
func NewClient(baseURL string, auth Authenticator, requestsPerSecond float64, burst int) *Client {
	if auth == nil {
		auth = NoAuth{}
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL:    baseURL,
		auth:       auth,
		limiter:    rate.NewLimiter(limit, burst),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type indexResponse struct {
	Token     string    `json:"token"`
	Timestamp time.Time `json:"timestamp"`
	Index     float64   `json:"index"`
}

// GetLiquidityIndex fetches the latest raw index reading for token.
func (c *Client) GetLiquidityIndex(ctx context.Context, token string) (models.RateObservation, error) {
	path := "/v1/liquidity-index/" + url.PathEscape(token)
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return models.RateObservation{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.RateObservation{}, fmt.Errorf("liquidity index %s: status %d: %s", token, resp.StatusCode, body)
	}

	var out indexResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.RateObservation{}, fmt.Errorf("decode liquidity index %s: %w", token, err)
	}
	if out.Token == "" {
		out.Token = token
	}
	return models.RateObservation{Token: out.Token, Timestamp: out.Timestamp, Index: out.Index}, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.auth.AddAuthHeaders(req, method, path, string(body)); err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}
