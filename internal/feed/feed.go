// Package feed streams hub notifications to websocket clients.
package feed

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zeusync/entitysync/internal/hub"
	"github.com/zeusync/entitysync/internal/observability/log"
)

const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultPingInterval = 30 * time.Second
	DefaultBufferSize   = 64
)

// Option tunes a Server.
type Option func(*Server)

func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

func WithPingInterval(d time.Duration) Option {
	return func(s *Server) { s.pingInterval = d }
}

// WithBufferSize sets how many notifications may wait for a slow client before
// new ones are dropped.
func WithBufferSize(n int) Option {
	return func(s *Server) { s.bufferSize = max(n, 1) }
}

// WithCheckOrigin replaces the upgrader's origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

// Server is an http.Handler that upgrades each request to a websocket and
// forwards notifications for the entity type named by the entityType query
// parameter, or for every type when it is absent.
type Server struct {
	hub    *hub.Hub
	logger log.Log

	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	pingInterval time.Duration
	bufferSize   int

	mu      sync.Mutex
	clients map[string]*client
	closed  bool

	dropped atomic.Uint64
}

type client struct {
	id   string
	conn *websocket.Conn
	out  chan hub.Notification
	done chan struct{}
	once sync.Once
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

func NewServer(h *hub.Hub, logger log.Log, opts ...Option) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	s := &Server{
		hub:    h,
		logger: logger.With(log.String("component", "feed")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		writeTimeout: DefaultWriteTimeout,
		pingInterval: DefaultPingInterval,
		bufferSize:   DefaultBufferSize,
		clients:      make(map[string]*client),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("entityType")
	if entityType == "" {
		entityType = hub.Wildcard
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "feed closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", log.Error(err))
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		out:  make(chan hub.Notification, s.bufferSize),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	sub := s.hub.Subscribe(entityType, func(n hub.Notification) error {
		select {
		case c.out <- n:
		case <-c.done:
		default:
			s.dropped.Add(1)
			s.logger.Warn("Feed client too slow, notification dropped",
				log.String("client_id", c.id),
				log.String("entity_type", n.EntityType),
			)
		}
		return nil
	})

	logger := s.logger.With(
		log.String("client_id", c.id),
		log.String("entity_type", entityType),
		log.String("remote_addr", r.RemoteAddr),
	)
	logger.Info("Feed client connected")

	go s.readLoop(c)
	s.writeLoop(c, logger)

	_ = sub.Cancel()
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	_ = conn.Close()
	logger.Info("Feed client disconnected")
}

// readLoop discards inbound frames so control messages are processed, and
// stops the client when the peer goes away.
func (s *Server) readLoop(c *client) {
	defer c.stop()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(c *client, logger log.Log) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			deadline := time.Now().Add(s.writeTimeout)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		case n := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := c.conn.WriteJSON(n); err != nil {
				logger.Warn("Feed write failed", log.Error(err))
				c.stop()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
				c.stop()
				return
			}
		}
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Dropped returns how many notifications were dropped for slow clients.
func (s *Server) Dropped() uint64 {
	return s.dropped.Load()
}

// Close disconnects every client and refuses new ones.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.stop()
	}
	return nil
}
