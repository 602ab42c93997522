// Package vehicle fetches per-domain vehicle data (location, telemetry,
// trips, remote-control status, driving statistics) over the authenticated
// API and records each payload in the snapshot cache, reporting whether the
// fetch produced data that differs from the previous capture.
package vehicle

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/myt-tools/myt/pkg/cache"
)

// Session supplies authenticated request headers derived from a valid
// session record.
type Session interface {
	Headers(ctx context.Context) (http.Header, error)
	StatisticsHeaders(ctx context.Context, locale string) (http.Header, error)
	ProfileUUID(ctx context.Context) (string, error)
}

// Endpoints are the provider API hosts.
type Endpoints struct {
	API        string // one-API host serving location, telemetry, trips, remote status
	TripEvents string // customer-profile host serving per-trip event detail
	Statistics string // legacy aggregation host serving driving statistics
}

// DefaultEndpoints returns the production API hosts.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		API:        "https://ctpa-oneapi.tceu-ctp-prd.toyotaconnectedeurope.io",
		TripEvents: "https://cpb2cs.toyota-europe.com",
		Statistics: "https://myt-agg.toyota-europe.com",
	}
}

// APIError reports a non-success response from a data endpoint. It is fatal
// for the failed call and is never retried; completed sibling calls are
// unaffected.
type APIError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api request failed: status=%d body=%s", e.StatusCode, e.Body)
}

// ClientConfig assembles a Client's collaborators.
type ClientConfig struct {
	Session   Session
	Store     *cache.Store
	VIN       string
	Endpoints Endpoints // zero value selects DefaultEndpoints

	HTTPClient *http.Client // defaults to a plain client
	Logger     *zap.Logger  // defaults to a no-op logger
}

// Client performs authenticated fetches against the vehicle API. Calls are
// synchronous and issued sequentially; the Client holds no mutable state
// beyond its collaborators.
type Client struct {
	session   Session
	store     *cache.Store
	vin       string
	endpoints Endpoints
	client    *http.Client
	log       *zap.Logger
}

// NewClient returns a Client for one vehicle.
func NewClient(cfg ClientConfig) *Client {
	if (cfg.Endpoints == Endpoints{}) {
		cfg.Endpoints = DefaultEndpoints()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{
		session:   cfg.Session,
		store:     cfg.Store,
		vin:       cfg.VIN,
		endpoints: cfg.Endpoints,
		client:    cfg.HTTPClient,
		log:       cfg.Logger,
	}
}

// get issues an authenticated GET and returns the response body. A
// non-success status yields an APIError carrying status, headers and body.
func (c *Client) get(ctx context.Context, url string, headers http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	for key, values := range headers {
		req.Header[key] = values
	}
	c.log.Debug("fetching", zap.String("url", url))
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
	}
	return body, nil
}
