// internal/api/client.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/markerrelay/relay/internal/parser"
	"github.com/markerrelay/relay/pkg/core"
)

var (
	// ErrNetworkTimeout is returned when a request exceeds its deadline.
	ErrNetworkTimeout = errors.New("network timeout")
	// ErrNetworkTransport is returned when a request could not be completed.
	ErrNetworkTransport = errors.New("network transport error")
	// ErrNetworkStatus is returned for any non-2xx response.
	ErrNetworkStatus = errors.New("network status error")
)

// StatusError carries the status of a rejected request.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Is lets errors.Is match ErrNetworkStatus.
func (e *StatusError) Is(target error) bool {
	return target == ErrNetworkStatus
}

// Default endpoint paths and timeouts.
const (
	DefaultPushPath      = "/api/update-marker-positions/"
	DefaultMapConfigPath = "/api/map-config/"
	DefaultHealthPath    = "/api/healthcheck/"
	DefaultPushTimeout   = 2 * time.Second
	maxErrorBody         = 512
)

// Client talks to the remote layout service.
type Client struct {
	baseURL       string
	apiKey        string
	pushPath      string
	mapConfigPath string
	healthPath    string
	pushTimeout   time.Duration
	httpClient    *http.Client
	parser        parser.Service
}

// Option configures a Client.
type Option func(*Client)

// WithPushTimeout bounds every snapshot push.
func WithPushTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pushTimeout = d
		}
	}
}

// WithPaths overrides the endpoint paths. Empty values keep the defaults.
func WithPaths(push, mapConfig, health string) Option {
	return func(c *Client) {
		if push != "" {
			c.pushPath = push
		}
		if mapConfig != "" {
			c.mapConfigPath = mapConfig
		}
		if health != "" {
			c.healthPath = health
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithParser sets the parser used for map configs.
func WithParser(p parser.Service) Option {
	return func(c *Client) {
		if p != nil {
			c.parser = p
		}
	}
}

// New creates a new API client.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		pushPath:      DefaultPushPath,
		mapConfigPath: DefaultMapConfigPath,
		healthPath:    DefaultHealthPath,
		pushTimeout:   DefaultPushTimeout,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		parser:        parser.NewParser(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PushSnapshot POSTs the snapshot as a JSON array. Only a 2xx response counts
// as delivered. Cancelling ctx aborts the request.
func (c *Client) PushSnapshot(ctx context.Context, s core.Snapshot) error {
	if s == nil {
		s = core.Snapshot{}
	}
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.pushTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.pushPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify("push", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// FetchMapConfig fetches and validates the remote map configuration.
// Malformed responses fail with parser.ErrMalformedConfig.
func (c *Client) FetchMapConfig(ctx context.Context) (core.MapCalibration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.mapConfigPath, nil)
	if err != nil {
		return core.MapCalibration{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.MapCalibration{}, classify("map config", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return core.MapCalibration{}, fmt.Errorf("map config: %w", err)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.MapCalibration{}, classify("map config body", err)
	}
	return c.parser.ParseMapConfig(data)
}

// Healthcheck checks if the remote service is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify("healthcheck", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("healthcheck: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// classify maps a transport failure onto the network error taxonomy.
func classify(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s: %w: %w", op, ErrNetworkTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrNetworkTransport, err)
}
