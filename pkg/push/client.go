package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	apperrors "github.com/shotonme/shotonme/internal/errors"
	"github.com/shotonme/shotonme/pkg/metrics"
)

// Defaults for connection upkeep.
const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultPingInterval   = 25 * time.Second
	DefaultPongWait       = 60 * time.Second
	DefaultWriteWait      = 10 * time.Second
	maxFrameBytes         = 1 << 20
)

// Errors returned by the client.
var (
	ErrDial   = apperrors.New("S060")
	ErrFrame  = apperrors.New("S061")
	ErrClosed = apperrors.New("S063")
)

// Envelope is one frame on the channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives raw envelopes.
type Handler func(Envelope)

// Client is a reconnecting push channel connection.
type Client struct {
	url            string
	header         http.Header
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	pingInterval   time.Duration
	pongWait       time.Duration
	writeWait      time.Duration
	metrics        *metrics.Metrics
	logger         *slog.Logger

	mu     sync.Mutex
	subs   map[string]map[uint64]Handler
	nextID uint64

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends a bearer token on the websocket handshake.
func WithToken(token string) Option {
	return func(c *Client) {
		if token != "" {
			c.header.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithReconnectDelay sets the fixed delay between connection attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.reconnectDelay = d }
}

// WithPingInterval sets the keepalive ping interval. The pong deadline is
// adjusted to stay above it.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pingInterval = d
		if c.pongWait <= d {
			c.pongWait = d * 2
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the websocket endpoint at url. Call Run to connect.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:            url,
		header:         http.Header{},
		dialer:         websocket.DefaultDialer,
		reconnectDelay: DefaultReconnectDelay,
		pingInterval:   DefaultPingInterval,
		pongWait:       DefaultPongWait,
		writeWait:      DefaultWriteWait,
		logger:         slog.Default(),
		subs:           make(map[string]map[uint64]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers h for event and returns a function that removes it.
// Subscribing is allowed before Run and while connected.
func (c *Client) Subscribe(event string, h Handler) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	if c.subs[event] == nil {
		c.subs[event] = make(map[uint64]Handler)
	}
	c.subs[event][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs[event], id)
			if len(c.subs[event]) == 0 {
				delete(c.subs, event)
			}
		})
	}
}

// Subscribers returns the number of handlers registered for event.
func (c *Client) Subscribers(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs[event])
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

// Run connects and reads events until ctx is done, reconnecting after
// failures. It returns ctx's error.
func (c *Client) Run(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Every(c.reconnectDelay), 1)
	attempt := 0
	for {
		if err := limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
		if attempt > 0 {
			c.metrics.PushReconnect()
		}
		attempt++

		conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("push connect failed", "url", c.url, "error", apperrors.New("S060").Wrap(err))
			continue
		}

		c.logger.Info("push connected", "url", c.url)
		c.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("push disconnected, reconnecting", "delay", c.reconnectDelay)
	}
}

// serve runs the read loop and keepalive for one connection.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	done := make(chan struct{})
	defer func() {
		close(done)
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
			conn.Close()
		case <-done:
		}
	}()
	go c.keepalive(conn, done)

	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				c.logger.Error("push read error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))

		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil || env.Event == "" {
			c.logger.Warn("push frame dropped", "error", apperrors.New("S061").Wrap(err), "bytes", len(msg))
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// dispatch calls every handler for env.Event in subscription order.
func (c *Client) dispatch(env Envelope) {
	c.mu.Lock()
	subs := c.subs[env.Event]
	ids := make([]uint64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, subs[id])
	}
	c.mu.Unlock()

	c.metrics.PushEvent(env.Event)
	if len(handlers) == 0 {
		c.logger.Debug("push event without subscribers", "event", env.Event)
		return
	}
	for _, h := range handlers {
		h(env)
	}
}

// Deliver dispatches env as if it had arrived on the connection.
// It is used to feed events from other sources, such as a replay log.
func (c *Client) Deliver(env Envelope) {
	c.dispatch(env)
}

// Emit sends an event to the server on the current connection.
func (c *Client) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Newf(apperrors.CategoryProtocol, "encode %s payload", event).Wrap(err)
	}

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return apperrors.New("S063")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	if err := conn.WriteJSON(Envelope{Event: event, Data: data}); err != nil {
		return apperrors.New("S063").Wrap(err)
	}
	return nil
}

// Subscriptions collects unsubscribe functions so a view can drop all of its
// handlers at once. The zero value is ready to use.
type Subscriptions struct {
	mu  sync.Mutex
	fns []func()
}

// Add records unsubscribe functions.
func (s *Subscriptions) Add(fns ...func()) {
	s.mu.Lock()
	s.fns = append(s.fns, fns...)
	s.mu.Unlock()
}

// Len returns the number of live subscriptions.
func (s *Subscriptions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

// Close unsubscribes everything. It is safe to call more than once.
func (s *Subscriptions) Close() {
	s.mu.Lock()
	fns := s.fns
	s.fns = nil
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
