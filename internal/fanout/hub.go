// Package fanout pushes refresh signals to every connected gallery viewer over
// websockets.
package fanout

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/conneroisu/gstdots/internal/logging"
	"github.com/conneroisu/gstdots/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period. A peer that does not answer is
	// disconnected by the failing ping.
	pingPeriod = 30 * time.Second

	// Idle per-IP limiters are forgotten after this long.
	limiterTTL = 5 * time.Minute
)

// Message is the payload sent to viewers. Refresh signals carry no content;
// viewers re-fetch the gallery when they receive one.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// TypeRefresh is the Message type for a refresh signal.
const TypeRefresh = "refresh"

type client struct {
	id   string
	ip   string
	conn *websocket.Conn
	send chan []byte
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Hub tracks open viewer connections and broadcasts to them. A single
// goroutine owns the client set.
type Hub struct {
	clients map[*client]struct{}
	count   atomic.Int64

	broadcast  chan []byte
	register   chan *client
	unregister chan *client

	origins      []string
	sendBuffer   int
	connectRate  rate.Limit
	connectBurst int
	limiters     map[string]*limiterEntry
	limitersMu   sync.Mutex

	logger  logging.Logger
	metrics *metrics.Metrics

	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	shutdownOnce sync.Once
}

// Option configures a Hub.
type Option func(*Hub)

// WithAllowedOrigins sets extra origin host patterns accepted for cross-origin
// connections. Same-host connections are always accepted.
func WithAllowedOrigins(patterns ...string) Option {
	return func(h *Hub) { h.origins = append(h.origins, patterns...) }
}

// WithSendBuffer sets how many undelivered messages a viewer may have queued
// before it is dropped.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithConnectLimit limits new connections per client IP. A zero rate disables
// the limit.
func WithConnectLimit(perSecond float64, burst int) Option {
	return func(h *Hub) {
		h.connectRate = rate.Limit(perSecond)
		h.connectBurst = burst
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// New creates a hub and starts its goroutine.
func New(opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *client),
		unregister: make(chan *client),
		sendBuffer: 32,
		limiters:   make(map[string]*limiterEntry),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logging.NewNopLogger()
	}
	h.logger = h.logger.WithComponent("fanout")

	go h.run()
	return h
}

// Count returns the number of connected viewers.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

// Refresh broadcasts one refresh signal to every connected viewer.
func (h *Hub) Refresh() {
	data, err := json.Marshal(Message{Type: TypeRefresh, Timestamp: time.Now()})
	if err != nil {
		h.logger.Error(h.ctx, err, "Failed to marshal refresh message")
		return
	}

	select {
	case h.broadcast <- data:
		h.metrics.RefreshSent()
	case <-h.ctx.Done():
	}
}

// ServeHTTP upgrades the request to a websocket and keeps it registered until
// the peer goes away or the hub shuts down.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	ip := clientIP(r)
	if !h.allow(ip) {
		h.logger.Warn(r.Context(), nil, "Viewer connection rate limited", "ip", ip)
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.origins,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		// Accept has already written the response.
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "ip", ip)
		return
	}
	conn.SetReadLimit(512)

	c := &client{
		id:   uuid.NewString(),
		ip:   ip,
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
	}

	select {
	case h.register <- c:
	case <-h.ctx.Done():
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) run() {
	defer close(h.done)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setCount()
			h.logger.Info(h.ctx, "Viewer connected", "id", c.id, "ip", c.ip, "viewers", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.remove(c)
				h.logger.Info(h.ctx, "Viewer disconnected", "id", c.id, "viewers", len(h.clients))
			}

		case message := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Slow viewers are dropped; they re-sync on reconnect.
					h.remove(c)
					h.metrics.ViewerDropped()
					h.logger.Warn(h.ctx, nil, "Dropped slow viewer", "id", c.id)
				}
			}

		case now := <-ticker.C:
			h.pruneLimiters(now)

		case <-h.ctx.Done():
			for c := range h.clients {
				h.remove(c)
			}
			return
		}
	}
}

// remove must only be called from run.
func (h *Hub) remove(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.setCount()
}

func (h *Hub) setCount() {
	h.count.Store(int64(len(h.clients)))
	h.metrics.SetViewers(len(h.clients))
}

func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()

	for {
		// Read also answers pings and close frames.
		_, _, err := c.conn.Read(h.ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && h.ctx.Err() == nil {
				h.logger.Debug(h.ctx, "Viewer read ended", "id", c.id, "error", err.Error())
			}
			return
		}
		// Viewers have nothing to say; incoming messages are ignored.
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				reason := "dropped"
				status := websocket.StatusPolicyViolation
				if h.ctx.Err() != nil {
					reason = "server shutting down"
					status = websocket.StatusGoingAway
				}
				c.conn.Close(status, reason)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.conn.CloseNow()
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.conn.CloseNow()
				return
			}
		}
	}
}

func (h *Hub) allow(ip string) bool {
	if h.connectRate <= 0 {
		return true
	}

	h.limitersMu.Lock()
	defer h.limitersMu.Unlock()

	entry, ok := h.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(h.connectRate, h.connectBurst)}
		h.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

func (h *Hub) pruneLimiters(now time.Time) {
	h.limitersMu.Lock()
	defer h.limitersMu.Unlock()

	for ip, entry := range h.limiters {
		if now.Sub(entry.lastSeen) > limiterTTL {
			delete(h.limiters, ip)
		}
	}
}

// clientIP uses the connection address only; forwarded headers are client
// controlled.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Shutdown closes every viewer connection and stops the hub.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(h.cancel)

	select {
	case <-h.done:
		h.logger.Info(ctx, "Fanout stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
