package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotConfigured signals that the storefront credentials are absent.
	ErrNotConfigured = errors.New("commerce: storefront not configured")
	// ErrUnavailable signals a network failure before any response arrived.
	ErrUnavailable = errors.New("commerce: storefront unreachable")
	// ErrAuthFailed signals the storefront rejected the key/secret pair.
	ErrAuthFailed = errors.New("commerce: storefront rejected credentials")
	// ErrRequestFailed signals a non-2xx response for any other reason.
	ErrRequestFailed = errors.New("commerce: storefront request failed")
	// ErrInvalidResponse signals a 2xx response whose body could not be read.
	ErrInvalidResponse = errors.New("commerce: storefront response unreadable")
)

// Logger defines the logging contract for gateway operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// HTTPClient abstracts the transport used by the gateway.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	defaultGatewayTimeout = 30 * time.Second
	maxResponseBytes      = 8 << 20
)

// GatewayConfig configures the storefront Gateway.
type GatewayConfig struct {
	HTTPClient HTTPClient
	Timeout    time.Duration
	Logger     Logger
	Clock      func() time.Time
}

// Gateway issues authenticated calls against the storefront REST API.
// Credentials travel with each request so a settings change takes effect on
// the very next sync without restarting the process.
type Gateway struct {
	httpClient HTTPClient
	timeout    time.Duration
	logger     Logger
	clock      func() time.Time
}

// NewGateway constructs a Gateway using the given configuration.
func NewGateway(cfg GatewayConfig) *Gateway {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Gateway{
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger,
		clock: func() time.Time {
			return clock().UTC()
		},
	}
}

// ListOrdersRequest describes one page fetch from the storefront.
type ListOrdersRequest struct {
	Credentials Credentials
	Page        int
	PageSize    int
}

// ListOrders fetches one page of orders, most recent first.
func (g *Gateway) ListOrders(ctx context.Context, req ListOrdersRequest) ([]Order, error) {
	if g == nil {
		return nil, errors.New("commerce: gateway is nil")
	}
	if !req.Credentials.Configured() {
		return nil, ErrNotConfigured
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize < 1 {
		pageSize = 1
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(pageSize))
	query.Set("orderby", "date")
	query.Set("order", "desc")

	started := g.clock()
	resp, err := g.do(ctx, req.Credentials, http.MethodGet, "orders", query, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyStatus(resp.StatusCode); err != nil {
		drain(resp.Body)
		return nil, err
	}

	var orders []Order
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&orders); err != nil {
		return nil, fmt.Errorf("%w: decode order page: %v", ErrInvalidResponse, err)
	}

	g.logger(ctx, "commerce.orders.listed", map[string]any{
		"page":      page,
		"perPage":   pageSize,
		"count":     len(orders),
		"elapsedMs": g.clock().Sub(started).Milliseconds(),
	})

	return orders, nil
}

// UpdateOrderStatus pushes a single-field status update for one storefront
// order. Nothing else on the order is touched.
func (g *Gateway) UpdateOrderStatus(ctx context.Context, creds Credentials, externalID int64, status string) error {
	if g == nil {
		return errors.New("commerce: gateway is nil")
	}
	if !creds.Configured() {
		return ErrNotConfigured
	}
	if externalID <= 0 {
		return fmt.Errorf("%w: external order id is required", ErrRequestFailed)
	}
	status = strings.TrimSpace(status)
	if status == "" {
		return fmt.Errorf("%w: status is required", ErrRequestFailed)
	}

	body, err := json.Marshal(map[string]string{"status": status})
	if err != nil {
		return fmt.Errorf("commerce: encode status update: %w", err)
	}

	path := "orders/" + strconv.FormatInt(externalID, 10)
	resp, err := g.do(ctx, creds, http.MethodPut, path, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	drain(resp.Body)

	if err := classifyStatus(resp.StatusCode); err != nil {
		return err
	}

	g.logger(ctx, "commerce.order.status_updated", map[string]any{
		"externalId": externalID,
		"status":     status,
	})

	return nil
}

func (g *Gateway) do(ctx context.Context, creds Credentials, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	endpoint, err := buildEndpoint(creds.BaseURL, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("consumer_key", creds.ConsumerKey)
	query.Set("consumer_secret", creds.ConsumerSecret)
	endpoint.RawQuery = query.Encode()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, fmt.Errorf("commerce: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

func buildEndpoint(baseURL, path string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("base url missing scheme or host")
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/" + strings.TrimLeft(path, "/")
	return parsed, nil
}

func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuthFailed, code)
	default:
		return fmt.Errorf("%w: status %d", ErrRequestFailed, code)
	}
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, maxResponseBytes))
}
