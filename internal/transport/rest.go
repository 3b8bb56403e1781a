// Package transport provides the exchange-facing transports consumed by the
// connector core: an authenticated rate-limited REST client, a websocket
// frame stream, and a server-synchronized clock.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/openquant/gyconnect/errs"
)

// ExchangeName tags every error envelope produced by the transports.
const ExchangeName = "geniusyield"

// Authenticator supplies the headers required by authenticated endpoints.
// Signature construction happens behind this interface; the connector core
// never sees credentials.
type Authenticator interface {
	Headers() map[string]string
}

// APIKeyAuth is a static header authenticator.
type APIKeyAuth struct {
	Key    string
	Secret string
}

// Headers implements Authenticator.
func (a APIKeyAuth) Headers() map[string]string {
	return map[string]string{
		"api-key":    a.Key,
		"api-secret": a.Secret,
	}
}

// RESTClient is the request surface the connector core consumes.
type RESTClient interface {
	Get(ctx context.Context, path string, params url.Values, auth bool) ([]byte, error)
	Post(ctx context.Context, path string, body any, auth bool) ([]byte, error)
	Delete(ctx context.Context, path string, body any, auth bool) ([]byte, error)
}

// RESTOptions configure the HTTP REST client.
type RESTOptions struct {
	BaseURL string
	// PathLimits maps a path (rate-limit key) to its allowed request rate.
	// Paths without an entry fall back to DefaultLimit.
	PathLimits   map[string]rate.Limit
	DefaultLimit rate.Limit
	Timeout      time.Duration
	Auth         Authenticator
	HTTPClient   *http.Client
}

// HTTPRESTClient issues JSON requests against the exchange REST API with
// per-path rate limiting and structured error mapping.
type HTTPRESTClient struct {
	opts   RESTOptions
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPRESTClient constructs the default REST transport.
func NewHTTPRESTClient(opts RESTOptions) *HTTPRESTClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = rate.Limit(10)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPRESTClient{
		opts:     opts,
		client:   client,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Get implements RESTClient.
func (c *HTTPRESTClient) Get(ctx context.Context, path string, params url.Values, auth bool) ([]byte, error) {
	endpoint := c.endpoint(path)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, path, endpoint, nil, auth)
}

// Post implements RESTClient.
func (c *HTTPRESTClient) Post(ctx context.Context, path string, body any, auth bool) ([]byte, error) {
	return c.doWithBody(ctx, http.MethodPost, path, body, auth)
}

// Delete implements RESTClient.
func (c *HTTPRESTClient) Delete(ctx context.Context, path string, body any, auth bool) ([]byte, error) {
	return c.doWithBody(ctx, http.MethodDelete, path, body, auth)
}

func (c *HTTPRESTClient) doWithBody(ctx context.Context, method, path string, body any, auth bool) ([]byte, error) {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errs.New(ExchangeName, errs.CodeInvalid,
				errs.WithMessage(fmt.Sprintf("encode %s body", path)), errs.WithCause(err))
		}
		payload = encoded
	}
	return c.do(ctx, method, path, c.endpoint(path), payload, auth)
}

func (c *HTTPRESTClient) do(ctx context.Context, method, limitKey, endpoint string, body []byte, auth bool) ([]byte, error) {
	if err := c.limiter(limitKey).Wait(ctx); err != nil {
		// Context cancellation propagates untouched so loops can exit.
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, errs.New(ExchangeName, errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("create %s request", limitKey)), errs.WithCause(err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.opts.Auth != nil {
		for key, value := range c.opts.Auth.Headers() {
			req.Header.Set(key, value)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.New(ExchangeName, errs.CodeNetwork,
			errs.WithMessage(fmt.Sprintf("request %s", limitKey)), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errs.New(ExchangeName, errs.CodeNetwork,
			errs.WithMessage(fmt.Sprintf("read %s response", limitKey)), errs.WithCause(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(limitKey, resp.StatusCode, data)
	}
	return data, nil
}

func (c *HTTPRESTClient) endpoint(path string) string {
	return strings.TrimRight(c.opts.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (c *HTTPRESTClient) limiter(path string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limiter, ok := c.limiters[path]; ok {
		return limiter
	}
	limit := c.opts.DefaultLimit
	if configured, ok := c.opts.PathLimits[path]; ok && configured > 0 {
		limit = configured
	}
	limiter := rate.NewLimiter(limit, burstFor(limit))
	c.limiters[path] = limiter
	return limiter
}

func burstFor(limit rate.Limit) int {
	if limit < 1 {
		return 1
	}
	return int(limit)
}

func statusError(path string, status int, body []byte) *errs.E {
	text := strings.TrimSpace(string(body))
	code := errs.CodeExchange
	switch {
	case status == http.StatusNotFound:
		code = errs.CodeNotFound
	case status == http.StatusTooManyRequests:
		code = errs.CodeRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = errs.CodeAuth
	case status >= 500:
		code = errs.CodeUnavailable
	case status >= 400:
		code = errs.CodeInvalid
	}
	return errs.New(ExchangeName, code,
		errs.WithHTTP(status),
		errs.WithMessage(fmt.Sprintf("status is %d on %s", status, path)),
		errs.WithRawMessage(text))
}
