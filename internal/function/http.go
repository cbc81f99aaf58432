package function

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/voxbridge/internal/resilience"
	"github.com/MrWong99/voxbridge/pkg/voiceagent"
)

const (
	defaultHTTPTimeout = 8 * time.Second
	maxResponseBytes   = 1 << 20
)

// HTTPError is returned for a non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("function backend returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("function backend returned HTTP %d: %s", e.StatusCode, e.Body)
}

// httpRequest is the body posted for every invocation.
type httpRequest struct {
	TenantID  string         `json:"tenant_id"`
	CallID    string         `json:"call_id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// HTTPBackend executes invocations by POSTing them to <base URL>/<name>.
// Each invocation is attempted exactly once. An optional circuit breaker
// fails calls fast while the endpoint is unhealthy.
type HTTPBackend struct {
	base    *url.URL
	client  *http.Client
	timeout time.Duration
	breaker *resilience.CircuitBreaker
	catalog StaticCatalog
	header  http.Header
}

var _ Backend = (*HTTPBackend)(nil)

// HTTPOption configures an [HTTPBackend].
type HTTPOption func(*HTTPBackend)

// WithHTTPClient sets the HTTP client. Default: a client without its own
// timeout; the per-call timeout applies.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(b *HTTPBackend) { b.client = c }
}

// WithTimeout bounds each invocation. Default: 8s.
func WithTimeout(d time.Duration) HTTPOption {
	return func(b *HTTPBackend) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithBreaker guards the endpoint with cb.
func WithBreaker(cb *resilience.CircuitBreaker) HTTPOption {
	return func(b *HTTPBackend) { b.breaker = cb }
}

// WithCatalog sets the schemas returned by [HTTPBackend.Schemas].
func WithCatalog(c StaticCatalog) HTTPOption {
	return func(b *HTTPBackend) { b.catalog = c }
}

// WithHeader adds a header to every request, e.g. an API key.
func WithHeader(key, value string) HTTPOption {
	return func(b *HTTPBackend) { b.header.Add(key, value) }
}

// NewHTTPBackend returns a backend posting to baseURL.
func NewHTTPBackend(baseURL string, opts ...HTTPOption) (*HTTPBackend, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("function: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("function: url %q must be http or https", baseURL)
	}
	b := &HTTPBackend{
		base:    u,
		client:  &http.Client{},
		timeout: defaultHTTPTimeout,
		header:  http.Header{},
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Schemas implements [Catalog].
func (b *HTTPBackend) Schemas(ctx context.Context) ([]voiceagent.FunctionSchema, error) {
	return b.catalog.Schemas(ctx)
}

// Call implements [Handler].
func (b *HTTPBackend) Call(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	if inv.Name == "" || strings.ContainsAny(inv.Name, "/?#") {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, inv.Name)
	}
	var result json.RawMessage
	do := func(ctx context.Context) error {
		var err error
		result, err = b.post(ctx, inv)
		return err
	}
	var err error
	if b.breaker != nil {
		err = b.breaker.ExecuteContext(ctx, do)
	} else {
		err = do(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("function: %s: %w", inv.Name, err)
	}
	return result, nil
}

func (b *HTTPBackend) post(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	args := inv.Arguments
	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(httpRequest{
		TenantID:  inv.TenantID,
		CallID:    inv.CallID,
		Name:      inv.Name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	endpoint := b.base.JoinPath(inv.Name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, vs := range b.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(truncate(data, 256)))}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(data) {
		return nil, errors.New("response is not valid JSON")
	}
	return json.RawMessage(data), nil
}

// Close implements [Backend]. It releases idle connections.
func (b *HTTPBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
