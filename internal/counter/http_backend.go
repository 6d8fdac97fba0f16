package counter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// valuePaths are the payload fields that may carry the counter value, in
// lookup order. Different counter services and API versions disagree on the name.
var valuePaths = []string{"count", "value", "data.up_count", "data.count"}

const maxPayloadBytes = 64 << 10

// HTTPConfig configures an HTTPBackend.
type HTTPConfig struct {
	// Endpoints are base URLs tried in order, e.g. "https://api.counterapi.dev/v1".
	Endpoints []string
	Namespace string
	// Timeout bounds each attempt against a single endpoint.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HTTPBackend speaks the counterapi-style protocol:
//
//	GET {endpoint}/{namespace}/{key}/up  increments and returns the new value
//	GET {endpoint}/{namespace}/{key}/    returns the current value
type HTTPBackend struct {
	endpoints []string
	namespace string
	timeout   time.Duration
	client    *http.Client
	logger    *slog.Logger
}

// NewHTTPBackend returns a backend over cfg.Endpoints.
func NewHTTPBackend(cfg HTTPConfig) (*HTTPBackend, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("counter: at least one endpoint is required")
	}
	if cfg.Namespace == "" {
		return nil, errors.New("counter: namespace is required")
	}
	endpoints := make([]string, 0, len(cfg.Endpoints))
	for _, e := range cfg.Endpoints {
		if _, err := url.Parse(e); err != nil {
			return nil, fmt.Errorf("counter: invalid endpoint %q: %w", e, err)
		}
		endpoints = append(endpoints, strings.TrimRight(e, "/"))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 4 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HTTPBackend{
		endpoints: endpoints,
		namespace: cfg.Namespace,
		timeout:   cfg.Timeout,
		client:    cfg.HTTPClient,
		logger:    cfg.Logger,
	}, nil
}

// Increment implements Backend.
func (b *HTTPBackend) Increment(ctx context.Context, key string) (int64, error) {
	return b.do(ctx, opIncrement, b.keyPath(key)+"/up")
}

// Read implements Backend.
func (b *HTTPBackend) Read(ctx context.Context, key string) (int64, error) {
	return b.do(ctx, opRead, b.keyPath(key)+"/")
}

func (b *HTTPBackend) keyPath(key string) string {
	return "/" + url.PathEscape(b.namespace) + "/" + url.PathEscape(key)
}

// do tries every endpoint in order. Transport failures and server-side
// statuses fall through to the next endpoint; a client-side status is final
// because every endpoint would answer the same.
func (b *HTTPBackend) do(ctx context.Context, op, path string) (int64, error) {
	var (
		transportErrs []error
		lastStatus    *StatusError
	)

	for _, endpoint := range b.endpoints {
		value, status, err := b.attempt(ctx, endpoint+path)
		switch {
		case err != nil:
			b.logger.Debug("Counter endpoint unreachable",
				slog.String("endpoint", endpoint),
				slog.String("op", op),
				slog.Any("error", err))
			transportErrs = append(transportErrs, fmt.Errorf("%s: %w", endpoint, err))
			if ctx.Err() != nil {
				return 0, &TransportError{Op: op, Err: errors.Join(transportErrs...)}
			}
		case status >= 200 && status < 300:
			return value, nil
		case status == http.StatusNotFound || status == http.StatusBadRequest:
			// Reading a key nobody incremented yet is answered with 400/404.
			if op == opRead {
				return 0, nil
			}
			return 0, &StatusError{Op: op, Endpoint: endpoint, StatusCode: status}
		case status >= 400 && status < 500 && status != http.StatusTooManyRequests:
			return 0, &StatusError{Op: op, Endpoint: endpoint, StatusCode: status}
		default:
			lastStatus = &StatusError{Op: op, Endpoint: endpoint, StatusCode: status}
		}
	}

	if lastStatus != nil {
		return 0, lastStatus
	}
	return 0, &TransportError{Op: op, Err: errors.Join(transportErrs...)}
}

// attempt performs one request. A non-nil error means the endpoint could not
// produce a usable answer; otherwise status is the HTTP status.
func (b *HTTPBackend) attempt(ctx context.Context, target string) (int64, int, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store")
	req.Header.Set("Pragma", "no-cache")

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxPayloadBytes))
		return 0, resp.StatusCode, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return 0, 0, fmt.Errorf("read payload: %w", err)
	}
	value, err := parseValue(body)
	if err != nil {
		return 0, 0, err
	}
	return value, resp.StatusCode, nil
}

func parseValue(body []byte) (int64, error) {
	if !gjson.ValidBytes(body) {
		return 0, errors.New("malformed payload")
	}
	for _, path := range valuePaths {
		r := gjson.GetBytes(body, path)
		if !r.Exists() {
			continue
		}
		switch r.Type {
		case gjson.Number:
			return r.Int(), nil
		case gjson.String:
			if n := gjson.Parse(r.Str); n.Type == gjson.Number {
				return n.Int(), nil
			}
		}
	}
	return 0, errors.New("payload carries no counter value")
}
