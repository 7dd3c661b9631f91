package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a call that sets no timeout of its own.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBodyBytes limits how much of a response body is read.
	DefaultMaxBodyBytes int64 = 10 << 20

	maxRedirects = 10
)

// Methods are the HTTP methods exposed to capability code, keyed by verb.
var Methods = map[string]string{
	"get":    http.MethodGet,
	"post":   http.MethodPost,
	"put":    http.MethodPut,
	"patch":  http.MethodPatch,
	"delete": http.MethodDelete,
}

// applicationErrorFields are checked in order on unsuccessful JSON bodies.
var applicationErrorFields = []string{"error", "message", "errors", "detail", "error_description"}

// Options are the per-call options a capability passes to an HTTP verb.
type Options struct {
	Headers map[string]string
	// Body is sent as-is when it is a string or []byte and JSON-encoded
	// otherwise.
	Body    any
	Params  url.Values
	Timeout time.Duration
}

// Outcome is the normalized result of one call. It is never mutated after
// construction.
type Outcome struct {
	StatusCode int
	Succeeded  bool
	// Headers are as returned by net/http, which canonicalizes names.
	Headers http.Header
	// ParsedBody is set when Parsed is true.
	ParsedBody any
	Parsed     bool
	RawBody    string
	// ApplicationError is the first recognized error field of an
	// unsuccessful JSON object body, or nil.
	ApplicationError any
}

// Observer is notified after every completed or failed call.
type Observer func(method, host string, status int, elapsed time.Duration, err error)

// Client is the HTTP sandbox. It is safe for concurrent use.
type Client struct {
	http          *http.Client
	timeout       time.Duration
	allowLoopback bool
	maxBodyBytes  int64
	userAgent     string
	logger        *slog.Logger
	observer      Observer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying client. Its CheckRedirect is replaced
// on a copy; the caller's client is not modified.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTransport uses rt for all calls.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.http = &http.Client{Transport: rt}
	}
}

// WithDefaultTimeout sets the timeout for calls that set none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLoopback allows or forbids plain http to loopback hosts.
func WithLoopback(allow bool) Option {
	return func(c *Client) {
		c.allowLoopback = allow
	}
}

// WithMaxBodyBytes limits response body size.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// WithUserAgent sets the User-Agent sent when the call does not set one.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver registers a callback for every call.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// New creates a sandbox client.
func New(opts ...Option) *Client {
	c := &Client{
		http:          http.DefaultClient,
		timeout:       DefaultTimeout,
		allowLoopback: true,
		maxBodyBytes:  DefaultMaxBodyBytes,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	hc := *c.http
	hc.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return c.checkURL(req.URL)
	}
	c.http = &hc
	return c
}

// DefaultTimeout returns the timeout applied when a call sets none.
func (c *Client) DefaultTimeout() time.Duration {
	return c.timeout
}

// Get performs a GET.
func (c *Client) Get(ctx context.Context, rawURL string, opts Options) (*Outcome, error) {
	return c.Do(ctx, http.MethodGet, rawURL, opts)
}

// Post performs a POST.
func (c *Client) Post(ctx context.Context, rawURL string, opts Options) (*Outcome, error) {
	return c.Do(ctx, http.MethodPost, rawURL, opts)
}

// Put performs a PUT.
func (c *Client) Put(ctx context.Context, rawURL string, opts Options) (*Outcome, error) {
	return c.Do(ctx, http.MethodPut, rawURL, opts)
}

// Patch performs a PATCH.
func (c *Client) Patch(ctx context.Context, rawURL string, opts Options) (*Outcome, error) {
	return c.Do(ctx, http.MethodPatch, rawURL, opts)
}

// Delete performs a DELETE.
func (c *Client) Delete(ctx context.Context, rawURL string, opts Options) (*Outcome, error) {
	return c.Do(ctx, http.MethodDelete, rawURL, opts)
}

// Do performs one sandboxed call.
//
// The URL is checked against the transport policy first; a rejected URL
// returns a TransportPolicyError without touching the network. Params are
// merged into the URL's existing query. The call is cancelled when its
// timeout elapses, returning a TimeoutError.
func (c *Client) Do(ctx context.Context, method, rawURL string, opts Options) (*Outcome, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &TransportPolicyError{URL: redact(rawURL), Reason: "malformed URL"}
	}
	if err := c.checkURL(u); err != nil {
		c.logger.Warn("sandbox rejected url", "method", method, "url", redactURL(u), "error", err)
		return nil, err
	}
	if len(opts.Params) > 0 {
		q := u.Query()
		for k, vs := range opts.Params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	body, contentType, err := encodeBody(opts.Body)
	if err != nil {
		return nil, err
	}

	timeout := c.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	out, err := c.roundTrip(ctx, req, timeout)
	elapsed := time.Since(start)

	status := 0
	if out != nil {
		status = out.StatusCode
	}
	if c.observer != nil {
		c.observer(method, u.Host, status, elapsed, err)
	}
	if err != nil {
		c.logger.Debug("sandbox call failed", "method", method, "host", u.Host, "duration", elapsed, "error", err)
		return nil, err
	}
	c.logger.Debug("sandbox call", "method", method, "host", u.Host, "status", status, "duration", elapsed)
	return out, nil
}

func (c *Client) roundTrip(ctx context.Context, req *http.Request, timeout time.Duration) (*Outcome, error) {
	host := req.URL.Host
	timedOut := func(err error) error {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &TimeoutError{Method: req.Method, Host: host, Timeout: timeout}
		}
		return nil
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var pe *TransportPolicyError
		if errors.As(err, &pe) {
			return nil, pe
		}
		if te := timedOut(err); te != nil {
			return nil, te
		}
		// url.Error repeats the full URL, query and all.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, host, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		if te := timedOut(err); te != nil {
			return nil, te
		}
		return nil, fmt.Errorf("%s %s: read body: %w", req.Method, host, err)
	}
	if int64(len(data)) > c.maxBodyBytes {
		return nil, &BodyTooLargeError{Host: host, Limit: c.maxBodyBytes}
	}
	return newOutcome(resp.StatusCode, resp.Header, data), nil
}

func newOutcome(status int, header http.Header, data []byte) *Outcome {
	out := &Outcome{
		StatusCode: status,
		Succeeded:  status >= 200 && status <= 299,
		Headers:    header.Clone(),
		RawBody:    string(data),
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 {
		var v any
		if err := json.Unmarshal(trimmed, &v); err == nil {
			out.ParsedBody, out.Parsed = v, true
		}
	}
	if !out.Succeeded {
		if obj, ok := out.ParsedBody.(map[string]any); ok {
			for _, field := range applicationErrorFields {
				if v := obj[field]; v != nil {
					out.ApplicationError = v
					break
				}
			}
		}
	}
	return out
}

func encodeBody(b any) (io.Reader, string, error) {
	switch v := b.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(v), "", nil
	case []byte:
		return bytes.NewReader(v), "", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("encode body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

func (c *Client) checkURL(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "https":
		if u.Host == "" {
			return &TransportPolicyError{URL: redactURL(u), Reason: "missing host"}
		}
		return nil
	case "http":
		if c.allowLoopback && isLoopbackHost(u.Hostname()) {
			return nil
		}
		return &TransportPolicyError{URL: redactURL(u), Reason: "plain http is only allowed to loopback hosts"}
	}
	return &TransportPolicyError{URL: redactURL(u), Reason: "only https URLs are allowed"}
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// redactURL drops user info and the query, which may carry credentials.
func redactURL(u *url.URL) string {
	r := url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}
	return r.String()
}

func redact(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	if i := strings.Index(raw, "@"); i >= 0 {
		if j := strings.Index(raw, "://"); j >= 0 && j < i {
			raw = raw[:j+3] + raw[i+1:]
		}
	}
	return raw
}
