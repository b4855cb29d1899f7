package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cortexlab/alyx-go/internal/metrics"
)

// Request defaults.
const (
	DefaultMaxAttempts = 3
	defaultUserAgent   = "alyx-go/0.1"
	authPath           = "/auth-token/"
	formContentType    = "application/x-www-form-urlencoded"
)

// TokenStore persists the single cached catalog token. Defined at the
// consumer; tokenfile.Store is the real implementation.
type TokenStore interface {
	Load() (string, bool, error)
	Save(tok string) (string, error)
	Clear() error
}

// Options configures a Client. BaseURL and Tokens are required.
type Options struct {
	BaseURL     string
	HTTPClient  *http.Client
	Tokens      TokenStore
	Credentials CredentialSource
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	UserAgent   string

	// MaxAttempts bounds the attempts of one request when the catalog keeps
	// answering 403. Zero means DefaultMaxAttempts.
	MaxAttempts int

	// BreakerThreshold consecutive transport failures open the circuit for
	// BreakerCooldown. Zero disables the breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Client issues authenticated requests against the catalog API. A 403
// response clears the cached token, re-authenticates from the stored
// credentials and retries, up to MaxAttempts attempts in total.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	tokens      TokenStore
	credentials CredentialSource
	logger      *slog.Logger
	metrics     *metrics.Metrics
	userAgent   string
	maxAttempts int
	breaker     *breaker
	authFlight  singleflight.Group
}

// NewClient creates a catalog client.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("catalog: base URL is required")
	}

	if !isAbsoluteURL(opts.BaseURL) {
		return nil, fmt.Errorf("catalog: base URL %q must start with http:// or https://", opts.BaseURL)
	}

	if opts.Tokens == nil {
		return nil, fmt.Errorf("catalog: token store is required")
	}

	c := &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/") + "/",
		httpClient:  opts.HTTPClient,
		tokens:      opts.Tokens,
		credentials: opts.Credentials,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		userAgent:   opts.UserAgent,
		maxAttempts: opts.MaxAttempts,
		breaker:     newBreaker(opts.BreakerThreshold, opts.BreakerCooldown),
	}

	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}

	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}

	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}

	return c, nil
}

// BaseURL returns the normalized base URL, always with a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get issues a GET with params encoded as the query string.
func (c *Client) Get(ctx context.Context, target string, params Params) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, target, params)
}

// Post issues a POST with params as a form body.
func (c *Client) Post(ctx context.Context, target string, params Params) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPost, target, params)
}

// Put issues a PUT with params as a form body.
func (c *Client) Put(ctx context.Context, target string, params Params) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPut, target, params)
}

// Patch issues a PATCH with params as a form body.
func (c *Client) Patch(ctx context.Context, target string, params Params) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPatch, target, params)
}

// Do sends one logical request and returns the JSON response body.
// target is either an absolute URL or a path resolved against the base URL.
//
// 200/201 return the body. 403 triggers re-authentication and a retry while
// attempts remain. 404 fails immediately with ErrNotFound. Anything else, or
// a 403 on the last attempt, fails with ErrRequest carrying the raw body.
// Transport errors are returned as-is and never retried.
func (c *Client) Do(ctx context.Context, method, target string, params Params) (json.RawMessage, error) {
	url := c.resolve(target)

	var form string
	if method == http.MethodGet {
		if q := params.Encode(); q != "" {
			url += querySeparator(url) + q
		}
	} else {
		form = params.Encode()
	}

	for attempt := 1; ; attempt++ {
		status, body, err := c.send(ctx, method, url, form, true)
		if err != nil {
			return nil, err
		}

		switch {
		case status == http.StatusOK || status == http.StatusCreated:
			return parseBody(method, url, body)

		case status == http.StatusNotFound:
			return nil, &Error{StatusCode: status, Method: method, URL: url, Body: string(body), Err: ErrNotFound}

		case status == http.StatusForbidden && attempt < c.maxAttempts:
			c.logger.Warn("authorization failed, re-authenticating",
				slog.String("method", method),
				slog.String("url", url),
				slog.Int("attempt", attempt),
			)

			if err := c.reauthenticate(ctx); err != nil {
				return nil, err
			}

			continue

		default:
			if status == http.StatusForbidden {
				c.logger.Error("request failed after re-authentication",
					slog.String("method", method),
					slog.String("url", url),
					slog.Int("attempts", attempt),
				)
			}

			return nil, &Error{StatusCode: status, Method: method, URL: url, Body: string(body), Err: ErrRequest}
		}
	}
}

// Login authenticates from the stored credentials unless a token is already
// cached.
func (c *Client) Login(ctx context.Context) error {
	_, ok, err := c.tokens.Load()
	if err != nil {
		return err
	}

	if ok {
		c.logger.Debug("already authenticated")
		return nil
	}

	return c.authenticate(ctx)
}

// Logout drops the cached token.
func (c *Client) Logout() error {
	return c.tokens.Clear()
}

// reauthenticate clears the rejected token and authenticates again.
// Concurrent callers share one authentication round trip.
func (c *Client) reauthenticate(ctx context.Context) error {
	_, err, _ := c.authFlight.Do("auth", func() (any, error) {
		if err := c.tokens.Clear(); err != nil {
			return nil, err
		}

		c.metrics.ObserveReauth()

		return nil, c.authenticate(ctx)
	})

	return err
}

// authenticate exchanges the stored credentials for a token and caches it.
func (c *Client) authenticate(ctx context.Context) error {
	if c.credentials == nil {
		return fmt.Errorf("%w: no credential source configured", ErrAuthentication)
	}

	creds, err := c.credentials.Credentials()
	if err != nil {
		return err
	}

	url := c.resolve(authPath)
	form := Params{}.Add("username", creds.Username).Add("password", creds.Password).Encode()

	status, body, err := c.send(ctx, http.MethodPost, url, form, false)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}

	if status != http.StatusOK && status != http.StatusCreated {
		return &Error{StatusCode: status, Method: http.MethodPost, URL: url, Body: string(body), Err: ErrAuthentication}
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%w: decoding token response: %v", ErrAuthentication, err)
	}

	if resp.Token == "" {
		return fmt.Errorf("%w: token response carried no token", ErrAuthentication)
	}

	if _, err := c.tokens.Save(resp.Token); err != nil {
		return fmt.Errorf("catalog: saving token: %w", err)
	}

	c.logger.Info("authenticated", slog.String("user", creds.Username))

	return nil
}

// send executes a single HTTP round trip and returns the status and body.
func (c *Client) send(ctx context.Context, method, url, form string, withToken bool) (int, []byte, error) {
	var body io.Reader
	if form != "" {
		body = strings.NewReader(form)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, fmt.Errorf("catalog: creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	if body != nil {
		req.Header.Set("Content-Type", formContentType)
	}

	if withToken {
		tok, ok, tokErr := c.tokens.Load()
		if tokErr != nil {
			return 0, nil, tokErr
		}

		if ok {
			req.Header.Set("Authorization", "Token "+tok)
		}
	}

	if err := c.breaker.allow(); err != nil {
		return 0, nil, fmt.Errorf("catalog: %s %s: %w", method, url, err)
	}

	resp, err := c.httpClient.Do(req)
	c.breaker.record(err)

	if err != nil {
		c.metrics.ObserveRequest(method, 0)

		if ctx.Err() != nil {
			return 0, nil, fmt.Errorf("catalog: request canceled: %w", ctx.Err())
		}

		return 0, nil, fmt.Errorf("catalog: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("catalog: reading response body: %w", err)
	}

	c.metrics.ObserveRequest(method, resp.StatusCode)
	c.logger.Debug("catalog request",
		slog.String("method", method),
		slog.String("url", url),
		slog.Int("status", resp.StatusCode),
	)

	return resp.StatusCode, data, nil
}

// resolve turns a relative path into an absolute URL under the base URL.
func (c *Client) resolve(target string) string {
	if isAbsoluteURL(target) {
		return target
	}

	return c.baseURL + strings.TrimPrefix(target, "/")
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func querySeparator(url string) string {
	if strings.Contains(url, "?") {
		return "&"
	}

	return "?"
}

// parseBody validates a success body as JSON. An empty body becomes null.
func parseBody(method, url string, body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return json.RawMessage("null"), nil
	}

	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("catalog: %s %s: response is not valid JSON", method, url)
	}

	return json.RawMessage(trimmed), nil
}
