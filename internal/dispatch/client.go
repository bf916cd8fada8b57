package dispatch

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
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/florianilch/authkeeper/internal/autherr"
)

// Defaults for New.
const (
	DefaultBatchWindow  = 10 * time.Millisecond
	DefaultMaxBatchSize = 10
	DefaultTimeout      = 30 * time.Second
)

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 4 << 20

const tracerName = "github.com/florianilch/authkeeper/internal/dispatch"

// callKind separates read-only queries (GET) from mutations (POST).
type callKind uint8

const (
	kindQuery callKind = iota
	kindMutation
)

func (k callKind) String() string {
	if k == kindMutation {
		return "mutation"
	}
	return "query"
}

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	baseTransport http.RoundTripper
	timeout       time.Duration
	window        time.Duration
	maxBatch      int
	traceProvider trace.TracerProvider
}

// WithTransport sets the base transport below the credential-injecting Transport.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *clientConfig) {
		c.baseTransport = transport
	}
}

// WithTimeout bounds each batched HTTP round trip.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// WithTracerProvider sets the provider batch spans are created with.
// If not provided, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *clientConfig) {
		c.traceProvider = tp
	}
}

// WithBatchWindow sets how long the first call of a batch waits for others to join.
// Zero still coalesces calls issued before the flush goroutine runs.
func WithBatchWindow(d time.Duration) Option {
	return func(c *clientConfig) {
		c.window = d
	}
}

// WithMaxBatchSize flushes a batch as soon as it holds n calls. One disables batching.
func WithMaxBatchSize(n int) Option {
	return func(c *clientConfig) {
		c.maxBatch = n
	}
}

// call is one logical procedure call waiting for its slot in a batch response.
type call struct {
	procedure string
	input     json.RawMessage
	done      chan result
	// link points the shared batch span back at the caller's span, if any.
	link trace.Link
}

type result struct {
	data json.RawMessage
	err  error
}

type batch struct {
	calls []*call
	timer *time.Timer
}

// Client issues tRPC procedure calls through one endpoint, batching calls issued close together.
type Client struct {
	endpoint   *url.URL
	httpClient *http.Client
	window     time.Duration
	maxBatch   int
	tracer     trace.Tracer

	mu      sync.Mutex
	pending map[callKind]*batch
}

// New creates a Client for baseURL joined with endpointPath (e.g. "/trpc").
// Every request carries the bearer token currently held by creds.
func New(baseURL, endpointPath string, creds CredentialSource, opts ...Option) (*Client, error) {
	endpoint, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host required", baseURL)
	}
	endpoint = endpoint.JoinPath(endpointPath)

	cfg := &clientConfig{
		baseTransport: http.DefaultTransport,
		timeout:       DefaultTimeout,
		window:        DefaultBatchWindow,
		maxBatch:      DefaultMaxBatchSize,
		traceProvider: otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.maxBatch < 1 {
		return nil, fmt.Errorf("max batch size must be at least 1, got %d", cfg.maxBatch)
	}

	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: cfg.timeout,
			Transport: &Transport{
				Credentials: creds,
				Base:        cfg.baseTransport,
			},
		},
		window:   cfg.window,
		maxBatch: cfg.maxBatch,
		tracer:   cfg.traceProvider.Tracer(tracerName),
		pending:  make(map[callKind]*batch),
	}, nil
}

// Query calls a read-only procedure. input may be nil; out may be nil to discard the result.
func (c *Client) Query(ctx context.Context, procedure string, input, out any) error {
	return c.do(ctx, kindQuery, procedure, input, out)
}

// Mutate calls a procedure with side effects.
func (c *Client) Mutate(ctx context.Context, procedure string, input, out any) error {
	return c.do(ctx, kindMutation, procedure, input, out)
}

func (c *Client) do(ctx context.Context, kind callKind, procedure string, input, out any) error {
	if procedure == "" || strings.ContainsAny(procedure, ",/?") {
		return fmt.Errorf("invalid procedure name %q", procedure)
	}

	cl := &call{
		procedure: procedure,
		done:      make(chan result, 1),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		cl.link = trace.Link{SpanContext: sc}
	}
	if input != nil {
		raw, err := json.Marshal(input)
		if err != nil {
			return fmt.Errorf("%s: marshal input: %w", procedure, err)
		}
		cl.input = raw
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	c.enqueue(kind, cl)

	var res result
	select {
	case res = <-cl.done:
	case <-ctx.Done():
		// The batch still completes for the other callers; this result is dropped.
		return ctx.Err()
	}
	if res.err != nil {
		return res.err
	}

	// Procedures returning nothing answer with an empty result
	if out == nil || len(res.data) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.data, out); err != nil {
		return autherr.E(autherr.KindRemote, "trpc "+procedure, fmt.Errorf("decoding result: %w", err))
	}
	return nil
}

func (c *Client) enqueue(kind callKind, cl *call) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.pending[kind]
	if b == nil {
		b = &batch{}
		c.pending[kind] = b
		b.timer = time.AfterFunc(c.window, func() { c.flush(kind, b) })
	}
	b.calls = append(b.calls, cl)

	if len(b.calls) >= c.maxBatch {
		delete(c.pending, kind)
		b.timer.Stop()
		go c.send(kind, b.calls)
	}
}

// flush sends b unless it was already sent for reaching the size limit.
func (c *Client) flush(kind callKind, b *batch) {
	c.mu.Lock()
	if c.pending[kind] != b {
		c.mu.Unlock()
		return
	}
	delete(c.pending, kind)
	c.mu.Unlock()

	c.send(kind, b.calls)
}

// send performs one round trip for calls and delivers each caller its own result.
func (c *Client) send(kind callKind, calls []*call) {
	names := make([]string, len(calls))
	var links []trace.Link
	for i, cl := range calls {
		names[i] = cl.procedure
		if cl.link.SpanContext.IsValid() {
			links = append(links, cl.link)
		}
	}
	joined := strings.Join(names, ",")

	// A batch serves several callers, so it is a root span linked to each of them
	ctx, span := c.tracer.Start(context.Background(), "trpc "+kind.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithLinks(links...),
		trace.WithAttributes(
			attribute.String("rpc.system", "trpc"),
			attribute.String("rpc.method", joined),
			attribute.Int("trpc.batch_size", len(calls)),
		),
	)
	defer span.End()

	start := time.Now()
	results, err := c.roundTrip(ctx, kind, joined, calls)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.WarnContext(ctx, "trpc batch failed", "procedures", joined, "duration", time.Since(start), "error", err)
		for _, cl := range calls {
			cl.done <- result{err: err}
		}
		return
	}

	failed := 0
	for i, cl := range calls {
		if results[i].err != nil {
			failed++
		}
		cl.done <- results[i]
	}
	span.SetAttributes(attribute.Int("trpc.failed_calls", failed))
	slog.DebugContext(ctx, "trpc batch completed", "procedures", joined, "failed", failed, "duration", time.Since(start))
}

// envelope is one element of a batch response.
type envelope struct {
	Result *struct {
		Data json.RawMessage `json:"data"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
		Data    struct {
			Code       string `json:"code"`
			HTTPStatus int    `json:"httpStatus"`
		} `json:"data"`
	} `json:"error"`
}

// roundTrip returns one result per call, or an error that applies to the whole batch.
func (c *Client) roundTrip(ctx context.Context, kind callKind, joined string, calls []*call) ([]result, error) {
	op := "trpc " + joined

	inputs := make(map[string]json.RawMessage, len(calls))
	for i, cl := range calls {
		if cl.input != nil {
			inputs[strconv.Itoa(i)] = cl.input
		}
	}
	payload, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal batch input: %w", op, err)
	}

	u := c.endpoint.JoinPath(joined)
	query := url.Values{"batch": {"1"}}

	var req *http.Request
	switch kind {
	case kindMutation:
		u.RawQuery = query.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	default:
		query.Set("input", string(payload))
		u.RawQuery = query.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, autherr.E(autherr.KindNetwork, op, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, autherr.E(autherr.KindNetwork, op, fmt.Errorf("reading response: %w", err))
	}

	var envelopes []envelope
	if err := json.Unmarshal(body, &envelopes); err != nil {
		// Not a batch answer at all, e.g. a gateway error page.
		return nil, classify(&RemoteError{
			Procedure:  joined,
			Code:       http.StatusText(resp.StatusCode),
			HTTPStatus: resp.StatusCode,
			Message:    truncate(string(body), 200),
		})
	}
	if len(envelopes) != len(calls) {
		return nil, autherr.E(autherr.KindRemote, op,
			fmt.Errorf("batch response has %d results for %d calls", len(envelopes), len(calls)))
	}

	results := make([]result, len(calls))
	for i, env := range envelopes {
		procedure := calls[i].procedure
		switch {
		case env.Error != nil:
			results[i].err = classify(&RemoteError{
				Procedure:  procedure,
				Code:       env.Error.Data.Code,
				HTTPStatus: env.Error.Data.HTTPStatus,
				Message:    env.Error.Message,
			})
		case env.Result != nil:
			results[i].data = env.Result.Data
		default:
			results[i].err = autherr.E(autherr.KindRemote, "trpc "+procedure, errors.New("response element has neither result nor error"))
		}
	}
	return results, nil
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
