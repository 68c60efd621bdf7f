// Package epidata provides a client for the Delphi Epidata HTTP API.
package epidata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/brookslogan/nowcast-template/internal/epiweek"
)

// Client defines the Epidata endpoints the sensors consume.
type Client interface {
	// Truth fetches the ground-truth surveillance series (weighted ILI)
	// for one location over an inclusive epiweek range.
	Truth(ctx context.Context, location string, from, to epiweek.Week) ([]Row, error)
	// Trends fetches the search-trends covariate series.
	Trends(ctx context.Context, location string, from, to epiweek.Week) ([]Row, error)
	// Dashboard fetches the hospital-dashboard covariate series.
	Dashboard(ctx context.Context, location string, from, to epiweek.Week) ([]Row, error)
}

// Row is one (location, epiweek, value) observation from any endpoint.
type Row struct {
	Location string       `json:"location"`
	Epiweek  epiweek.Week `json:"epiweek"`
	Value    float64      `json:"value"`
}

// Option configures the Epidata client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates an Epidata client. apiKey may be empty for the public
// endpoints.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.delphi.cmu.edu/epidata",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(2), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes an HTTP request with exponential backoff retries on
// transient failures (429, 500, 502, 503).
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}

		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "epidata: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("epidata: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

// API result codes. Anything except success and noResults is a hard error.
const (
	resultSuccess   = 1
	resultNoResults = -2
)

// envelope is the Epidata response wrapper shared by every endpoint.
type envelope struct {
	Result  int             `json:"result"`
	Message string          `json:"message"`
	Epidata json.RawMessage `json:"epidata"`
}

// record covers the value columns across endpoints; exactly one of the
// pointers is set per endpoint.
type record struct {
	Region   string   `json:"region"`
	Location string   `json:"location"`
	Epiweek  int      `json:"epiweek"`
	WILI     *float64 `json:"wili"`
	Value    *float64 `json:"value"`
	Total    *float64 `json:"total"`
}

func (r record) location() string {
	if r.Location != "" {
		return r.Location
	}
	return r.Region
}

func (r record) value() (float64, bool) {
	switch {
	case r.WILI != nil:
		return *r.WILI, true
	case r.Value != nil:
		return *r.Value, true
	case r.Total != nil:
		return *r.Total, true
	}
	return 0, false
}

func (c *httpClient) fetch(ctx context.Context, endpoint string, params url.Values) ([]Row, error) {
	if c.apiKey != "" {
		params.Set("auth", c.apiKey)
	}
	reqURL := fmt.Sprintf("%s/%s/?%s", c.baseURL, endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "epidata: create %s request", endpoint)
	}
	req.Header.Set("Accept", "application/json")

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrapf(err, "epidata: %s request failed", endpoint)
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("epidata: %s unexpected status %d: %s", endpoint, statusCode, string(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrapf(err, "epidata: unmarshal %s response", endpoint)
	}
	// The API reports an empty range as its own result code; callers see it
	// as an empty slice, not an error.
	if env.Result == resultNoResults {
		return nil, nil
	}
	if env.Result != resultSuccess {
		return nil, eris.Errorf("epidata: %s result %d: %s", endpoint, env.Result, env.Message)
	}

	var records []record
	if err := json.Unmarshal(env.Epidata, &records); err != nil {
		return nil, eris.Wrapf(err, "epidata: unmarshal %s records", endpoint)
	}

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		v, ok := rec.value()
		if !ok {
			continue
		}
		week := epiweek.Week(rec.Epiweek)
		if err := week.Check(); err != nil {
			return nil, eris.Wrapf(err, "epidata: %s record", endpoint)
		}
		rows = append(rows, Row{Location: rec.location(), Epiweek: week, Value: v})
	}
	return rows, nil
}

func weekRangeParam(from, to epiweek.Week) string {
	return fmt.Sprintf("%d-%d", int(from), int(to))
}

func (c *httpClient) Truth(ctx context.Context, location string, from, to epiweek.Week) ([]Row, error) {
	params := url.Values{}
	params.Set("regions", location)
	params.Set("epiweeks", weekRangeParam(from, to))
	return c.fetch(ctx, "fluview", params)
}

func (c *httpClient) Trends(ctx context.Context, location string, from, to epiweek.Week) ([]Row, error) {
	params := url.Values{}
	params.Set("locations", location)
	params.Set("epiweeks", weekRangeParam(from, to))
	params.Set("query", "/m/0cycc")
	return c.fetch(ctx, "ght", params)
}

func (c *httpClient) Dashboard(ctx context.Context, location string, from, to epiweek.Week) ([]Row, error) {
	params := url.Values{}
	params.Set("locations", location)
	params.Set("epiweeks", weekRangeParam(from, to))
	return c.fetch(ctx, "nowcast_dashboard", params)
}
