package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/racksync/racksync/pkg/engine"
	"github.com/racksync/racksync/pkg/telemetry"
)

// maxPages bounds pagination following so a server that keeps returning a
// next link cannot spin the client forever.
const maxPages = 1000

// apiResponse is the raw outcome of one HTTP exchange. Statuses below 500
// count as breaker successes; the caller maps them onto the error taxonomy.
type apiResponse struct {
	status int
	body   []byte
}

// listEnvelope is the paginated collection shape: count, next, results.
type listEnvelope struct {
	Count   int64           `json:"count"`
	Next    string          `json:"next"`
	Results []engine.Object `json:"results"`
}

// Client is a REST client for a NetBox-style inventory API. It satisfies
// the remote CRUD contract consumed by the safety-gated proxy.
type Client struct {
	config  *Config
	http    *nethttp.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*apiResponse]
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// NewClient creates a REST client from the given configuration.
func NewClient(cfg *Config, logger zerolog.Logger, metrics *telemetry.Metrics) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}
	if metrics == nil {
		metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	c := &Client{
		config:  cfg,
		http:    &nethttp.Client{},
		limiter: limiter,
		logger:  logger,
		metrics: metrics,
	}

	c.breaker = gobreaker.NewCircuitBreaker[*apiResponse](gobreaker.Settings{
		Name:        "remote-api",
		MaxRequests: 3,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.BreakerFailureRatio
		},
		// Caller cancellations are not server failures.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", breakerStateName(from)).
				Str("to", breakerStateName(to)).
				Msg("Circuit breaker state changed")
			metrics.SetBreakerState(breakerStateValue(to))
		},
	})

	return c, nil
}

// List returns all objects of the collection matching the query, following
// count/next/results pagination until exhausted. The query is passed through
// verbatim, so expansion parameters survive untouched.
func (c *Client) List(ctx context.Context, path string, query url.Values) ([]engine.Object, error) {
	next := c.collectionURL(path)
	if len(query) > 0 {
		next += "?" + query.Encode()
	}

	var out []engine.Object
	for pages := 0; next != ""; pages++ {
		if pages >= maxPages {
			return nil, engine.NewInternalError(
				fmt.Sprintf("pagination did not terminate after %d pages for %s", maxPages, path), nil)
		}

		resp, err := c.do(ctx, nethttp.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		if resp.status != nethttp.StatusOK {
			return nil, c.statusError("list", path, resp)
		}

		var page listEnvelope
		if err := json.Unmarshal(resp.body, &page); err != nil {
			return nil, engine.NewConnectionError(
				fmt.Sprintf("malformed list response for %s", path), err)
		}
		out = append(out, page.Results...)
		next = page.Next
	}
	return out, nil
}

// Get returns a single object by identifier. A 404 maps to a not-found error.
func (c *Client) Get(ctx context.Context, path string, id int64) (engine.Object, error) {
	resp, err := c.do(ctx, nethttp.MethodGet, c.objectURL(path, id), nil)
	if err != nil {
		return nil, err
	}
	if resp.status != nethttp.StatusOK {
		return nil, c.statusError("get", path, resp)
	}
	return c.decodeObject("get", path, resp.body)
}

// Create posts a new object and returns it with the server-assigned id.
func (c *Client) Create(ctx context.Context, path string, payload map[string]interface{}) (engine.Object, error) {
	resp, err := c.do(ctx, nethttp.MethodPost, c.collectionURL(path), payload)
	if err != nil {
		return nil, err
	}
	if resp.status != nethttp.StatusCreated && resp.status != nethttp.StatusOK {
		return nil, c.statusError("create", path, resp)
	}
	return c.decodeObject("create", path, resp.body)
}

// Update patches the given fields onto an existing object.
func (c *Client) Update(ctx context.Context, path string, id int64, payload map[string]interface{}) (engine.Object, error) {
	resp, err := c.do(ctx, nethttp.MethodPatch, c.objectURL(path, id), payload)
	if err != nil {
		return nil, err
	}
	if resp.status != nethttp.StatusOK {
		return nil, c.statusError("update", path, resp)
	}
	return c.decodeObject("update", path, resp.body)
}

// Delete removes an object by identifier.
func (c *Client) Delete(ctx context.Context, path string, id int64) error {
	resp, err := c.do(ctx, nethttp.MethodDelete, c.objectURL(path, id), nil)
	if err != nil {
		return err
	}
	if resp.status != nethttp.StatusNoContent && resp.status != nethttp.StatusOK {
		return c.statusError("delete", path, resp)
	}
	return nil
}

// do performs one rate-limited, breaker-guarded HTTP exchange. It returns
// responses with status < 500; everything else comes back as a classified
// error.
func (c *Client) do(ctx context.Context, method, rawURL string, payload map[string]interface{}) (*apiResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, engine.NewTimeoutError("rate limit wait aborted", err)
		}
		return nil, classifyTransportError("rate limit wait aborted", err)
	}

	resp, err := c.breaker.Execute(func() (*apiResponse, error) {
		return c.roundTrip(ctx, method, rawURL, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, engine.NewConnectionError("circuit breaker open, remote API unavailable", err).
				WithDetail("url", rawURL)
		}
		var syncErr *engine.SyncError
		if errors.As(err, &syncErr) {
			return nil, syncErr
		}
		return nil, classifyTransportError("request failed", err)
	}
	return resp, nil
}

// roundTrip executes a single request bounded by the configured timeout.
// Transport failures and 5xx responses return errors so the breaker counts
// them; status codes below 500 are successes at this layer.
func (c *Client) roundTrip(ctx context.Context, method, rawURL string, payload map[string]interface{}) (*apiResponse, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, engine.NewValidationError("failed to encode request payload", err)
		}
		body = bytes.NewReader(encoded)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := nethttp.NewRequestWithContext(reqCtx, method, rawURL, body)
	if err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("failed to build request for %s", rawURL), err)
	}
	req.Header.Set("Authorization", "Token "+c.config.Token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(fmt.Sprintf("%s %s failed", method, rawURL), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, engine.NewConnectionError(fmt.Sprintf("failed to read response from %s", rawURL), err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("url", rawURL).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Remote API request")

	if resp.StatusCode >= 500 {
		return nil, engine.NewConnectionError(
			fmt.Sprintf("server error from %s: %s", rawURL, nethttp.StatusText(resp.StatusCode)), nil).
			WithDetail("status", resp.StatusCode).
			WithDetail("detail", serverDetail(raw))
	}

	return &apiResponse{status: resp.StatusCode, body: raw}, nil
}

// statusError maps a non-success status below 500 onto the error taxonomy.
func (c *Client) statusError(operation, path string, resp *apiResponse) error {
	detail := serverDetail(resp.body)
	switch resp.status {
	case nethttp.StatusNotFound:
		return engine.NewNotFoundError(fmt.Sprintf("%s not found", path), nil).
			WithOperation(operation)
	case nethttp.StatusConflict:
		return engine.NewConflictError(fmt.Sprintf("conflict on %s: %s", path, detail), nil).
			WithOperation(operation)
	case nethttp.StatusBadRequest:
		return engine.NewWriteError(fmt.Sprintf("remote API rejected %s on %s: %s", operation, path, detail), nil).
			WithOperation(operation).
			WithDetail("status", resp.status)
	default:
		return engine.NewWriteError(fmt.Sprintf("unexpected status %d on %s %s: %s",
			resp.status, operation, path, detail), nil).
			WithOperation(operation).
			WithDetail("status", resp.status)
	}
}

func (c *Client) decodeObject(operation, path string, body []byte) (engine.Object, error) {
	var obj engine.Object
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, engine.NewConnectionError(
			fmt.Sprintf("malformed %s response for %s", operation, path), err)
	}
	return obj, nil
}

func (c *Client) collectionURL(path string) string {
	return fmt.Sprintf("%s/api/%s/", strings.TrimRight(c.config.BaseURL, "/"), strings.Trim(path, "/"))
}

func (c *Client) objectURL(path string, id int64) string {
	return fmt.Sprintf("%s%d/", c.collectionURL(path), id)
}

// classifyTransportError separates deadline expiry from every other
// transport-level failure.
func classifyTransportError(message string, err error) *engine.SyncError {
	if errors.Is(err, context.DeadlineExceeded) {
		return engine.NewTimeoutError(message, err)
	}
	return engine.NewConnectionError(message, err)
}

// serverDetail extracts a human-readable message from an error body. The
// API returns either {"detail": "..."} or per-field error lists.
func serverDetail(body []byte) string {
	if len(body) == 0 {
		return "no detail provided"
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		if len(body) > 200 {
			body = body[:200]
		}
		return string(body)
	}
	if detail, ok := parsed["detail"].(string); ok {
		return detail
	}
	parts := make([]string, 0, len(parsed))
	for field, value := range parsed {
		parts = append(parts, fmt.Sprintf("%s: %v", field, value))
	}
	if len(parts) == 0 {
		return "no detail provided"
	}
	return strings.Join(parts, "; ")
}

func breakerStateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func breakerStateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
