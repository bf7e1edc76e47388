package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/shotonme/shotonme/internal/errors"
	"github.com/shotonme/shotonme/pkg/metrics"
)

const (
	// DefaultTimeout bounds every request.
	DefaultTimeout = 15 * time.Second

	// PageSize is the fixed page size of list endpoints. A full page means
	// more data may be available.
	PageSize = 20

	defaultTracerName = "shotonme/api"
	maxResponseBytes  = 4 << 20
)

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// BreakerConfig configures the circuit breaker in front of the backend.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive outage failures that opens
	// the breaker. Zero disables the breaker.
	MaxFailures uint32

	// OpenFor is how long the breaker stays open before letting one probe through.
	OpenFor time.Duration
}

// DefaultBreaker opens after 5 consecutive network or server failures.
var DefaultBreaker = BreakerConfig{MaxFailures: 5, OpenFor: 10 * time.Second}

// Client talks to the REST backend on behalf of one viewer.
type Client struct {
	base    *url.URL
	http    *http.Client
	tokens  TokenSource
	viewer  string
	timeout time.Duration
	tracer  trace.Tracer
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	http       *http.Client
	tokens     TokenSource
	viewer     string
	timeout    time.Duration
	tracerName string
	breaker    BreakerConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) { cfg.http = c }
}

// WithToken sets a static bearer token.
func WithToken(token string) Option {
	return func(cfg *clientConfig) { cfg.tokens = StaticToken(token) }
}

// WithTokenSource sets the bearer token source.
func WithTokenSource(ts TokenSource) Option {
	return func(cfg *clientConfig) { cfg.tokens = ts }
}

// WithViewer sets the signed-in user id. It is used to derive the viewer's
// own reactions from server aggregates.
func WithViewer(userID string) Option {
	return func(cfg *clientConfig) { cfg.viewer = userID }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) { cfg.timeout = d }
}

// WithTracerName sets the OpenTelemetry tracer name.
func WithTracerName(name string) Option {
	return func(cfg *clientConfig) { cfg.tracerName = name }
}

// WithBreaker configures the circuit breaker.
func WithBreaker(b BreakerConfig) Option {
	return func(cfg *clientConfig) { cfg.breaker = b }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cfg *clientConfig) { cfg.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *clientConfig) { cfg.logger = l }
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, apperrors.New("S121")
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, apperrors.New("S121").WithDetail(fmt.Sprintf("invalid URL %q", baseURL)).Wrap(err)
	}

	cfg := clientConfig{
		http:       http.DefaultClient,
		timeout:    DefaultTimeout,
		tracerName: defaultTracerName,
		breaker:    DefaultBreaker,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.timeout <= 0 {
		cfg.timeout = DefaultTimeout
	}

	c := &Client{
		base:    base,
		http:    cfg.http,
		tokens:  cfg.tokens,
		viewer:  cfg.viewer,
		timeout: cfg.timeout,
		tracer:  otel.Tracer(cfg.tracerName),
		metrics: cfg.metrics,
		logger:  cfg.logger,
	}
	if cfg.breaker.MaxFailures > 0 {
		logger := cfg.logger
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "shotonme-api",
			MaxRequests: 1,
			Timeout:     cfg.breaker.OpenFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.breaker.MaxFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !isOutage(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return c, nil
}

// Viewer returns the signed-in user id.
func (c *Client) Viewer() string { return c.viewer }

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string { return c.base.String() }

// request describes one call.
type request struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
}

// do performs r and returns the raw response body of a 2xx response.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "shotonme.api."+r.op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", r.method),
			attribute.String("http.route", r.path),
		),
	)
	defer span.End()

	start := time.Now()
	var body []byte
	var err error
	if c.breaker != nil {
		var out any
		out, err = c.breaker.Execute(func() (any, error) {
			return c.roundTrip(ctx, r)
		})
		if b, ok := out.([]byte); ok {
			body = b
		}
		if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
			err = apperrors.New("S001").WithDetail("backend unavailable, failing fast").Wrap(err)
		}
	} else {
		body, err = c.roundTrip(ctx, r)
	}

	c.metrics.ObserveRequest(r.op, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug("api call failed", "op", r.op, "method", r.method, "path", r.path, "error", err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return body, nil
}

func (c *Client) roundTrip(ctx context.Context, r request) ([]byte, error) {
	u := *c.base
	u.Path = c.base.Path + r.path
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var payload io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, apperrors.Newf(apperrors.CategoryValidation, "encode %s request", r.op).Wrap(err)
		}
		payload = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), payload)
	if err != nil {
		return nil, apperrors.New("S001").Wrap(err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, apperrors.New("S004").Wrap(err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperrors.New("S002").WithDetail(r.op + " after " + c.timeout.String()).Wrap(err)
		}
		return nil, apperrors.New("S001").Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeError(resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperrors.New("S002").Wrap(err)
		}
		return nil, apperrors.New("S001").Wrap(err)
	}
	return body, nil
}

// isOutage reports whether err means the backend could not serve the request,
// as opposed to refusing it.
func isOutage(err error) bool {
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	switch apperrors.CategoryOf(err) {
	case apperrors.CategoryNetwork, apperrors.CategoryTimeout:
		return true
	}
	return apperrors.HasCode(err, "S003")
}

func pageQuery(page int) url.Values {
	if page < 1 {
		page = 1
	}
	return url.Values{
		"page":  {strconv.Itoa(page)},
		"limit": {strconv.Itoa(PageSize)},
	}
}

// Page is one page of a list endpoint.
type Page[T any] struct {
	Items   []T
	Page    int
	HasMore bool
}

func newPage[T any](items []T, page int) Page[T] {
	if page < 1 {
		page = 1
	}
	return Page[T]{Items: items, Page: page, HasMore: len(items) >= PageSize}
}

func malformed(op string, err error) error {
	return apperrors.New("S062").WithDetail(op).Wrap(err)
}

func escape(id string) string { return url.PathEscape(id) }
