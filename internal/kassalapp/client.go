// Package kassalapp is a client for the Kassalapp grocery price API.
package kassalapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/soyeahso/kassa/internal/logging"
	"github.com/soyeahso/kassa/internal/version"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://kassal.app/api/v1"

// APIError is returned for non-2xx responses.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("kassalapp: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("kassalapp: %d %s: %s", e.Status, http.StatusText(e.Status), body)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RetryMax   int // 0 disables retries
	RatePerMin int // <= 0 disables client-side pacing
}

// Client calls the Kassalapp REST API with bearer authentication, retrying
// transient failures and pacing requests to the account's rate limit.
type Client struct {
	baseURL string
	apiKey  string
	http    *retryablehttp.Client
	limiter *rate.Limiter
	log     *logging.Logger
}

// New creates a Kassalapp client.
func New(opts Options, log *logging.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}

	log = log.Sub("kassalapp")

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = opts.Timeout
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = leveledLogger{log: log}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerMin > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMin)), max(1, opts.RatePerMin/10))
	}

	return &Client{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		http:    rc,
		limiter: limiter,
		log:     log,
	}
}

// SearchProducts searches products by keyword, optionally within one chain.
func (c *Client) SearchProducts(ctx context.Context, q ProductQuery) (*Page[Product], error) {
	params := url.Values{}
	params.Set("search", q.Search)
	if q.Size > 0 {
		params.Set("size", strconv.Itoa(q.Size))
	}
	if q.Sort != "" {
		params.Set("sort", q.Sort)
	}
	if q.Store != "" {
		params.Set("store", q.Store)
	}

	body, err := c.get(ctx, "/products", params)
	if err != nil {
		return nil, err
	}
	return decodePage[Product](body)
}

// ProductByID looks up a single product by its Kassalapp id.
func (c *Client) ProductByID(ctx context.Context, id int) (json.RawMessage, error) {
	return c.get(ctx, "/products/id/"+strconv.Itoa(id), nil)
}

// ProductByEAN looks up all store prices for an EAN barcode.
func (c *Client) ProductByEAN(ctx context.Context, ean string) (json.RawMessage, error) {
	return c.get(ctx, "/products/ean/"+url.PathEscape(ean), nil)
}

// SearchStores searches physical stores by text, chain, or proximity.
func (c *Client) SearchStores(ctx context.Context, q StoreQuery) (*Page[PhysicalStore], error) {
	params := url.Values{}
	if q.Search != "" {
		params.Set("search", q.Search)
	}
	if q.Group != "" {
		params.Set("group", q.Group)
	}
	if q.Lat != 0 {
		params.Set("lat", strconv.FormatFloat(q.Lat, 'f', -1, 64))
	}
	if q.Lng != 0 {
		params.Set("lng", strconv.FormatFloat(q.Lng, 'f', -1, 64))
	}
	if q.Km != 0 {
		params.Set("km", strconv.Itoa(q.Km))
	}
	if q.Size != 0 {
		params.Set("size", strconv.Itoa(q.Size))
	}

	body, err := c.get(ctx, "/physical-stores", params)
	if err != nil {
		return nil, err
	}
	return decodePage[PhysicalStore](body)
}

// StoreByID looks up a single physical store.
func (c *Client) StoreByID(ctx context.Context, id int) (json.RawMessage, error) {
	return c.get(ctx, "/physical-stores/"+strconv.Itoa(id), nil)
}

// CompareByURL returns price comparison data for a product page URL on a
// supported online grocery store.
func (c *Client) CompareByURL(ctx context.Context, productURL string) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("url", productURL)
	return c.get(ctx, "/products/find-by-url/compare", params)
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("kassalapp request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return json.RawMessage(body), nil
}

func decodePage[T any](body json.RawMessage) (*Page[T], error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	page := &Page[T]{Raw: body}
	data, ok := probe["data"]
	if !ok {
		return page, nil
	}
	page.HasData = true
	if err := json.Unmarshal(data, &page.Data); err != nil {
		return nil, fmt.Errorf("failed to parse data: %w", err)
	}
	return page, nil
}

// leveledLogger adapts the zerolog wrapper to retryablehttp.LeveledLogger.
type leveledLogger struct {
	log *logging.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Error().Fields(kv).Msg(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Trace().Fields(kv).Msg(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Warn().Fields(kv).Msg(msg) }
