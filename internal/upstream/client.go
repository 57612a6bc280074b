// Package upstream implements the HTTP client that actually talks to the
// OpenAI-compatible chat-completions backend, proxy-aware and shared across
// accounts.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// defaultTimeout matches the component design's 600 second default.
const defaultTimeout = 600 * time.Second

// Account is the minimal credential shape Client needs; the dispatch
// pipeline converts its internal/account.Account into this type per call.
type Account struct {
	APIKey    string
	BaseAPI   string
	UserAgent string
	ProxyURL  string
}

// StatusError is returned when the upstream responds with a non-2xx status;
// it carries the raw body so the dispatch pipeline can pass it through
// untouched.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: status %d", e.StatusCode)
}

// Client issues chat-completions calls against an account's base API. For an
// account with a proxy URL it builds a fresh proxy-aware *http.Client on each
// call; these clients are not cached. Accounts without a proxy share one
// plain client.
type Client struct {
	timeout time.Duration

	httpClient *http.Client // used when no proxy is configured
}

// NewClient builds a Client with the given request timeout. A zero timeout
// uses the 600 second default.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// httpClientFor returns an *http.Client honoring account.ProxyURL, falling
// back to the plain client when no proxy is configured or the proxy URL
// cannot be parsed.
func (c *Client) httpClientFor(account Account) *http.Client {
	if account.ProxyURL == "" {
		return c.httpClient
	}

	parsed, err := url.Parse(account.ProxyURL)
	if err != nil {
		logrus.WithError(err).Warnf("upstream: invalid proxy url %q, using direct client", account.ProxyURL)
		return c.httpClient
	}

	transport := &http.Transport{}
	switch parsed.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	case "socks5":
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, nil, proxy.Direct)
		if err != nil {
			logrus.WithError(err).Warn("upstream: failed to build socks5 dialer, using direct client")
			return c.httpClient
		}
		contextDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return c.httpClient
		}
		transport.DialContext = contextDialer.DialContext
	default:
		logrus.Warnf("upstream: unsupported proxy scheme %q, using direct client", parsed.Scheme)
		return c.httpClient
	}

	return &http.Client{Timeout: c.timeout, Transport: transport}
}

func (c *Client) newRequest(ctx context.Context, account Account, body *openai.ChatCompletionNewParams, stream bool) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("upstream: encode request: %w", err)
	}

	// The SDK's request struct has no top-level "stream" field since it
	// normally dispatches streaming by calling a different client method;
	// here we round-trip through a map to set it explicitly on the wire.
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("upstream: encode request: %w", err)
	}
	fields["stream"] = stream
	payload, err = json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("upstream: encode request: %w", err)
	}

	endpoint := account.BaseAPI + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+account.APIKey)
	userAgent := account.UserAgent
	if userAgent == "" {
		userAgent = "msgbridge/1.0"
	}
	req.Header.Set("User-Agent", userAgent)

	return req, nil
}

// Call issues a non-streaming chat-completions request and decodes the
// response body.
func (c *Client) Call(ctx context.Context, account Account, body *openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	req, err := c.newRequest(ctx, account, body, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClientFor(account).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: respBody}
	}

	var out openai.ChatCompletion
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("upstream: decode response: %w", err)
	}
	return &out, nil
}

// OpenStream issues a streaming chat-completions request and returns the
// raw response body for the caller to reframe. The caller owns closing the
// returned io.ReadCloser.
func (c *Client) OpenStream(ctx context.Context, account Account, body *openai.ChatCompletionNewParams) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, account, body, true)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClientFor(account).Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: respBody}
	}

	return resp.Body, nil
}
