package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type Options struct {
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	// ImagePollInterval and ImageMaxAttempts bound synchronous image generation.
	ImagePollInterval time.Duration
	ImageMaxAttempts  int
}

type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	log          *slog.Logger
	limiter      *rate.Limiter
	pollInterval time.Duration
	maxAttempts  int
}

func NewClient(opts Options, log *slog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	pollInterval := opts.ImagePollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	maxAttempts := opts.ImageMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 60
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		apiKey:       opts.APIKey,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		log:          log,
		limiter:      rate.NewLimiter(limit, 1),
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
	}
}

// envelope is the JSON wrapper kie puts around every response.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if query != nil {
		ref.RawQuery = query.Encode()
	}
	return base.ResolveReference(ref).String(), nil
}

// call performs an authenticated JSON request and decodes the envelope's data
// into out. Failures come back as *Error.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, payload any, out any) (json.RawMessage, error) {
	rawBody, err := c.do(ctx, method, path, query, payload)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, unavailable("decode response: %v (body=%s)", err, truncateBody(rawBody))
	}
	if env.Code != http.StatusOK {
		return nil, newStatusError(env.Code, env.Msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, unavailable("decode data: %v", err)
		}
	}
	return env.Data, nil
}

// do sends the request and returns the raw body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	fullURL, err := c.endpoint(path, query)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unavailable("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailable("read response body: %v", err)
	}

	if resp.StatusCode >= 300 {
		c.log.Error("kie request failed", "status", resp.StatusCode, "url", fullURL, "body", truncateBody(rawBody))
		return nil, newStatusError(resp.StatusCode, truncateBody(rawBody))
	}
	return rawBody, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
