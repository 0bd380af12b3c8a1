// Package landregistry downloads monthly Price Paid Data extracts.
package landregistry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/dvloznov/pricepaid-importer/internal/apperrors"
	"github.com/dvloznov/pricepaid-importer/internal/logger"
	"github.com/dvloznov/pricepaid-importer/internal/period"
)

// DateLayout is the query date format the endpoint accepts, e.g. "01 June 2020".
const DateLayout = "02 January 2006"

// Fetcher retrieves the raw CSV payload for one period.
type Fetcher interface {
	Fetch(ctx context.Context, p period.Period) ([]byte, error)
}

// ClientConfig configures the HTTP client behavior.
type ClientConfig struct {
	// BaseURL is the CSV endpoint, without query.
	BaseURL string

	// Timeout for a single attempt. Monthly extracts can be large.
	Timeout time.Duration

	// MaxRetries on connection errors and 5xx/429 responses.
	MaxRetries int

	// RetryWaitMin and RetryWaitMax bound the exponential backoff.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// RateLimit requests per second across all callers of this client.
	RateLimit float64
	RateBurst int

	UserAgent string

	// Transport allows injecting a custom HTTP transport (for tests/stubs).
	Transport http.RoundTripper

	// Logger receives retry diagnostics. Nil disables them.
	Logger *zerolog.Logger
}

// DefaultClientConfig returns a client config with sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:      "http://landregistry.data.gov.uk/app/ppd/ppd_data.csv",
		Timeout:      5 * time.Minute,
		MaxRetries:   3,
		RetryWaitMin: time.Second,
		RetryWaitMax: 30 * time.Second,
		RateLimit:    1,
		RateBurst:    1,
		UserAgent:    "pricepaid-importer/1.0",
	}
}

// Client is a rate-limited, retrying Fetcher.
type Client struct {
	config  *ClientConfig
	http    *retryablehttp.Client
	limiter *rate.Limiter
}

// NewClient creates a new Client. Zero fields take their defaults.
func NewClient(config *ClientConfig) *Client {
	def := DefaultClientConfig()
	if config == nil {
		config = def
	}
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryWaitMin == 0 {
		config.RetryWaitMin = def.RetryWaitMin
	}
	if config.RetryWaitMax == 0 {
		config.RetryWaitMax = def.RetryWaitMax
	}
	if config.RateLimit == 0 {
		config.RateLimit = def.RateLimit
	}
	if config.RateBurst == 0 {
		config.RateBurst = def.RateBurst
	}
	if config.UserAgent == "" {
		config.UserAgent = def.UserAgent
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Timeout:   config.Timeout,
		Transport: config.Transport,
	}
	rc.RetryMax = config.MaxRetries
	rc.RetryWaitMin = config.RetryWaitMin
	rc.RetryWaitMax = config.RetryWaitMax
	// Hand the final response back so the status code reaches FetchFailure.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	if config.Logger != nil {
		rc.Logger = logger.Leveled{Logger: *config.Logger}
	}

	return &Client{
		config:  config,
		http:    rc,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
	}
}

// URL builds the request URL for p: every estate type, property type,
// new-build flag and transaction category between the first and last day.
func (c *Client) URL(p period.Period) string {
	return c.config.BaseURL + "?" + Query(p).Encode()
}

// Query returns the filter parameters selecting all sales in p.
func Query(p period.Period) url.Values {
	q := url.Values{}
	q.Add("et[]", "lrcommon:freehold")
	q.Add("et[]", "lrcommon:leasehold")
	q.Set("header", "true")
	q.Set("limit", "all")
	q.Set("min_date", p.From().Format(DateLayout))
	q.Set("max_date", p.To().Format(DateLayout))
	q.Add("nb[]", "true")
	q.Add("nb[]", "false")
	q.Add("ptype[]", "lrcommon:detached")
	q.Add("ptype[]", "lrcommon:semi-detached")
	q.Add("ptype[]", "lrcommon:terraced")
	q.Add("ptype[]", "lrcommon:flat-maisonette")
	q.Add("ptype[]", "lrcommon:otherPropertyType")
	q.Add("tc[]", "ppd:standardPricePaidTransaction")
	q.Add("tc[]", "ppd:additionalPricePaidTransaction")
	return q
}

// Fetch downloads the CSV for p. Any transport error or non-2xx response
// after retries becomes a *apperrors.FetchFailure.
func (c *Client) Fetch(ctx context.Context, p period.Period) ([]byte, error) {
	log := logger.FromContext(ctx).With().Str("period", p.String()).Logger()

	failure := func(status int, err error) error {
		return &apperrors.FetchFailure{From: p.From(), To: p.To(), StatusCode: status, Err: err}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, failure(0, fmt.Errorf("rate limiter: %w", err))
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.URL(p), nil)
	if err != nil {
		return nil, failure(0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "text/csv")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, failure(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, failure(resp.StatusCode, fmt.Errorf("unexpected status %s: %s", resp.Status, snippet))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure(resp.StatusCode, fmt.Errorf("read body: %w", err))
	}

	log.Info().
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("elapsed", time.Since(start)).
		Msg("Fetched period extract")
	return body, nil
}

var _ Fetcher = (*Client)(nil)
