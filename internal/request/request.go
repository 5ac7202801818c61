package request

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"
	"golang.org/x/net/proxy"
)

// Client wraps http.Client with headers, retries and rate limiting shared by
// every outbound HTTP surface (provider API, aria2c RPC, progress hook).
type Client struct {
	client          *http.Client
	headers         map[string]string
	limiter         ratelimit.Limiter
	maxRetries      int
	retryableStatus map[int]struct{}
	retryDelay      time.Duration
	logger          zerolog.Logger
}

type Option func(*Client)

func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		c.headers = headers
	}
}

func WithRateLimiter(rl ratelimit.Limiter) Option {
	return func(c *Client) {
		c.limiter = rl
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

func WithRetryableStatus(statuses ...int) Option {
	return func(c *Client) {
		for _, s := range statuses {
			c.retryableStatus[s] = struct{}{}
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

func WithRedirectPolicy(policy func(req *http.Request, via []*http.Request) error) Option {
	return func(c *Client) {
		c.client.CheckRedirect = policy
	}
}

// WithProxy routes requests through an http(s) or socks5 proxy URL.
func WithProxy(proxyURL string) Option {
	return func(c *Client) {
		if proxyURL == "" {
			return
		}
		u, err := url.Parse(proxyURL)
		if err != nil {
			c.logger.Warn().Msgf("Invalid proxy url %s: %v", proxyURL, err)
			return
		}
		transport := &http.Transport{}
		switch u.Scheme {
		case "socks5":
			dialer, err := proxy.FromURL(u, proxy.Direct)
			if err != nil {
				c.logger.Warn().Msgf("Invalid socks5 proxy %s: %v", proxyURL, err)
				return
			}
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				transport.DialContext = cd.DialContext
			}
		default:
			transport.Proxy = http.ProxyURL(u)
		}
		c.client.Transport = transport
	}
}

func New(options ...Option) *Client {
	c := &Client{
		client:          &http.Client{Timeout: 60 * time.Second},
		retryableStatus: make(map[int]struct{}),
		retryDelay:      time.Second,
		logger:          zerolog.Nop(),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Do performs the request, honoring the limiter and retrying retryable
// status codes. The caller owns the response body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			c.limiter.Take()
		}
		resp, err = c.client.Do(req)
		if err != nil {
			if req.Body != nil || !isIdempotent(req.Method) {
				return nil, err
			}
			continue
		}
		if _, retryable := c.retryableStatus[resp.StatusCode]; !retryable {
			return resp, nil
		}
		_ = resp.Body.Close()
		c.logger.Debug().Msgf("Retrying %s %s after status %d (attempt %d)", req.Method, req.URL, resp.StatusCode, attempt+1)
		time.Sleep(c.retryDelay * time.Duration(attempt+1))
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// MakeRequest performs the request and returns the body, treating any
// non-2xx status as an error.
func (c *Client) MakeRequest(req *http.Request) ([]byte, error) {
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL, resp.StatusCode, string(body))
	}
	return body, nil
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodDelete, http.MethodPut:
		return true
	}
	return false
}

// ParseRateLimit converts "250/minute" or "5/second" into a limiter.
// Returns nil for an empty or unparsable spec.
func ParseRateLimit(spec string) ratelimit.Limiter {
	if spec == "" {
		return nil
	}
	parts := strings.SplitN(spec, "/", 2)
	if len(parts) != 2 {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || n <= 0 {
		return nil
	}
	switch strings.TrimSpace(parts[1]) {
	case "second", "sec", "s":
		return ratelimit.New(n)
	case "minute", "min", "m":
		return ratelimit.New(n, ratelimit.Per(time.Minute))
	case "hour", "hr", "h":
		return ratelimit.New(n, ratelimit.Per(time.Hour))
	}
	return nil
}
