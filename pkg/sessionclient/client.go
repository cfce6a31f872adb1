package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/utafrali/authsession/pkg/httpclient"
)

const refreshKey = "refresh"

// APIError is a request the auth API answered with a non-2xx status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("auth api: %d %s", e.Status, e.Message)
}

// Option configures a Client.
type Option func(*options)

type options struct {
	http    httpclient.Config
	breaker httpclient.CircuitBreakerConfig
	logger  *slog.Logger
}

// WithHTTPConfig overrides transport settings. A nil Jar is replaced by a
// fresh in-memory jar.
func WithHTTPConfig(cfg httpclient.Config) Option {
	return func(o *options) { o.http = cfg }
}

// WithBreakerConfig overrides the circuit breaker settings.
func WithBreakerConfig(cfg httpclient.CircuitBreakerConfig) Option {
	return func(o *options) { o.breaker = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Client talks to the auth API on behalf of one Session.
type Client struct {
	baseURL string
	http    *httpclient.CircuitBreakerClient
	session *Session
	flight  singleflight.Group
	logger  *slog.Logger
}

// New creates a client for the auth API at baseURL that keeps its state in
// session.
func New(baseURL string, session *Session, opts ...Option) (*Client, error) {
	o := options{
		http:    httpclient.DefaultConfig(),
		breaker: httpclient.DefaultCircuitBreakerConfig("auth-api"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		o.http.Jar = jar
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpclient.NewCircuitBreakerClient(httpclient.New(o.http), o.breaker, o.logger),
		session: session,
		logger:  o.logger,
	}, nil
}

// Session returns the state object the client writes to.
func (c *Client) Session() *Session {
	return c.session
}

// Start restores a session from the refresh cookie, if any. Initializing is
// true for the duration of the call.
func (c *Client) Start(ctx context.Context) bool {
	c.session.setInitializing(true)
	defer c.session.setInitializing(false)
	return c.RefreshSession(ctx)
}

// RefreshSession exchanges the refresh cookie for a new access token and
// reloads the account. Concurrent callers share one in-flight exchange and
// observe the same outcome. The exchange is detached from the caller's
// cancellation so a departing caller cannot abort it for the others; it is
// bounded by the transport timeout. Any failure clears the session.
func (c *Client) RefreshSession(ctx context.Context) bool {
	detached := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(refreshKey, func() (any, error) {
		return nil, c.refresh(detached)
	})
	res := <-ch
	return res.Err == nil
}

func (c *Client) refresh(ctx context.Context) error {
	var tokens struct {
		AccessToken string `json:"accessToken"`
	}
	err := c.postJSON(ctx, "/api/auth/refresh", nil, http.StatusOK, &tokens)
	if err == nil && tokens.AccessToken == "" {
		err = errors.New("refresh response carried no access token")
	}
	if err != nil {
		c.session.clear()
		c.logger.DebugContext(ctx, "session refresh failed", slog.String("error", err.Error()))
		return err
	}

	account, err := c.me(ctx, tokens.AccessToken)
	if err != nil {
		c.session.clear()
		c.logger.DebugContext(ctx, "load account after refresh failed", slog.String("error", err.Error()))
		return err
	}

	c.session.set(tokens.AccessToken, account)
	return nil
}

// Login signs in and installs the returned session. On failure the session
// is left untouched and API rejections are returned as *APIError.
func (c *Client) Login(ctx context.Context, email, password string) error {
	return c.authenticate(ctx, "/api/auth/login", http.StatusOK, email, password)
}

// Register creates an account and installs the returned session.
func (c *Client) Register(ctx context.Context, email, password string) error {
	return c.authenticate(ctx, "/api/auth/register", http.StatusCreated, email, password)
}

func (c *Client) authenticate(ctx context.Context, path string, want int, email, password string) error {
	body := map[string]string{"email": email, "password": password}
	var res struct {
		User        Account `json:"user"`
		AccessToken string  `json:"accessToken"`
	}
	if err := c.postJSON(ctx, path, body, want, &res); err != nil {
		return err
	}
	c.session.set(res.AccessToken, res.User)
	return nil
}

// Logout revokes the current refresh token. Local state is cleared even
// when the call fails; the failure is still returned.
func (c *Client) Logout(ctx context.Context) error {
	defer c.session.clear()
	return c.postJSON(ctx, "/api/auth/logout", nil, http.StatusNoContent, nil)
}

func (c *Client) me(ctx context.Context, token string) (Account, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/users/me", http.NoBody)
	if err != nil {
		return Account{}, fmt.Errorf("create me request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var res struct {
		User Account `json:"user"`
	}
	if err := c.do(req, http.StatusOK, &res); err != nil {
		return Account{}, err
	}
	return res.User, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, want int, dst any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, want, dst)
}

// do sends req and decodes a response with status want into dst.
func (c *Client) do(req *http.Request, want int, dst any) error {
	resp, err := c.http.Do(req.Context(), req)
	if err != nil {
		var rerr *httpclient.ResponseError
		if errors.As(err, &rerr) {
			return &APIError{Status: rerr.StatusCode, Message: rerr.Message}
		}
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}

	if resp.StatusCode != want {
		rerr := httpclient.ParseResponseError(resp)
		return &APIError{Status: rerr.StatusCode, Message: rerr.Message}
	}
	defer func() { _ = resp.Body.Close() }()

	if dst == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
