// Package httpfetch implements the bounded HTTP gateway every provider
// adapter calls through: a single request composes the caller's
// cancellation context with a local timeout, and failures are surfaced as
// errors rather than retried automatically.
package httpfetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Request describes a single bounded HTTP call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	// Timeout bounds this request alone; zero means no local timeout is
	// applied (the caller's context, if any, still governs cancellation).
	Timeout time.Duration
}

// Response is the result of a successful round trip.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Gateway issues HTTP requests on behalf of provider adapters. The zero
// value is a usable Gateway backed by http.DefaultClient with no rate
// limiting.
type Gateway struct {
	Client  *http.Client
	Limiter *rate.Limiter // optional; nil means unthrottled
}

// New constructs a Gateway. limiter may be nil.
func New(client *http.Client, limiter *rate.Limiter) *Gateway {
	if client == nil {
		client = http.DefaultClient
	}
	return &Gateway{Client: client, Limiter: limiter}
}

// HTTPClient returns an *http.Client whose Transport routes every request
// through g — the shape every provider adapter's SDK constructor accepts
// via its own WithHTTPClient option, so SDK traffic gets the same rate
// limiting and apiTimeout enforcement as a direct Fetch call.
func (g *Gateway) HTTPClient() *http.Client {
	return &http.Client{Transport: g}
}

type timeoutCtxKey struct{}

// WithTimeout attaches a per-request apiTimeout to ctx. An SDK client
// constructed with Gateway.HTTPClient does not go through Fetch's Request
// struct directly — the SDK builds its own *http.Request — so RoundTrip
// reads the bound back out of the request's context to populate
// Request.Timeout.
func WithTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, timeoutCtxKey{}, d)
}

func timeoutFrom(ctx context.Context) time.Duration {
	d, _ := ctx.Value(timeoutCtxKey{}).(time.Duration)
	return d
}

// RoundTrip implements http.RoundTripper by routing req through Fetch,
// carrying over method, URL, headers, body, and any timeout bound via
// WithTimeout on req's context.
func (g *Gateway) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("httpfetch: read request body: %w", err)
		}
	}

	headers := make(map[string]string, len(req.Header))
	for k := range req.Header {
		headers[k] = req.Header.Get(k)
	}

	resp, err := g.Fetch(req.Context(), Request{
		Method:  req.Method,
		URL:     req.URL.String(),
		Headers: headers,
		Body:    body,
		Timeout: timeoutFrom(req.Context()),
	})
	if err != nil {
		return nil, err
	}

	return &http.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Headers,
		Body:       io.NopCloser(bytes.NewReader(resp.Body)),
		Request:    req,
	}, nil
}

// Fetch issues req, composing ctx (the caller's cancellation signal) with
// req.Timeout (a local deadline). On timeout it fails with
// "Fetch timeout after <ms>ms"; on caller cancellation it propagates the
// caller's cause. The composite timer and context are always released
// before Fetch returns.
func (g *Gateway) Fetch(ctx context.Context, req Request) (*Response, error) {
	if g.Limiter != nil {
		if err := g.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("httpfetch: rate limiter: %w", err)
		}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("httpfetch: build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("Fetch timeout after %dms", req.Timeout.Milliseconds()) //nolint:stylecheck // fixed-format error text
		}
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			return nil, fmt.Errorf("httpfetch: %w", cause)
		}
		return nil, fmt.Errorf("httpfetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: read body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}
