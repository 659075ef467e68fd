// Package server exposes the WebSocket transport: it accepts client
// connections, frames messages as {event, data} envelopes, and dispatches
// the inbound operations to a per-session connector.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thinkerajay/event-streamer-service/errors"
	"github.com/thinkerajay/event-streamer-service/event"
	"github.com/thinkerajay/event-streamer-service/metric"
	"github.com/thinkerajay/event-streamer-service/registry"
)

// SessionConnector owns one transport session's server-side state. The
// server calls exactly one handler per inbound frame and Close once on
// disconnect.
type SessionConnector interface {
	HandleStartPush(ctx context.Context, req event.StartPush) error
	HandlePushEvent(ctx context.Context, req event.PushEvent) error
	HandlePullStart(ctx context.Context, req event.PullStart) error
	HandlePullFilter(ctx context.Context, req event.PullWithFilter) error
	HandlePullJoin(ctx context.Context, req event.PullWithJoin) error
	HandlePullAggregate(ctx context.Context, req event.PullWithAggregate) error
	Close()
}

// ConnectorFactory builds the connector for one new session, bound to
// that session's outbound handle.
type ConnectorFactory func(sender registry.Sender) SessionConnector

// ConstructorConfig holds everything needed to construct a Server.
type ConstructorConfig struct {
	Port            int
	Path            string
	WriteTimeout    time.Duration
	Connectors      ConnectorFactory
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
	HealthHandler   http.Handler
}

// DefaultConstructorConfig returns sensible defaults for Server
// construction.
func DefaultConstructorConfig() ConstructorConfig {
	return ConstructorConfig{
		Port:         8081,
		Path:         "/ws",
		WriteTimeout: 10 * time.Second,
	}
}

// Server is the WebSocket endpoint clients connect to. Lifecycle follows
// Initialize, Start, Stop; Start and Stop are serialized and idempotent.
type Server struct {
	port          int
	path          string
	writeTimeout  time.Duration
	connectors    ConnectorFactory
	logger        *slog.Logger
	metrics       *metric.CoreMetrics
	promHandler   http.Handler
	healthHandler http.Handler

	server   *http.Server
	upgrader websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*session]SessionConnector

	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	running     bool
	shutdown    chan struct{}
	wg          *sync.WaitGroup
}

// NewServer creates a WebSocket server from ConstructorConfig.
func NewServer(cfg ConstructorConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var core *metric.CoreMetrics
	var promHandler http.Handler
	if cfg.MetricsRegistry != nil {
		core = cfg.MetricsRegistry.Core
		promHandler = promhttp.HandlerFor(
			cfg.MetricsRegistry.PrometheusRegistry(),
			promhttp.HandlerOpts{},
		)
	}

	return &Server{
		port:          cfg.Port,
		path:          cfg.Path,
		writeTimeout:  cfg.WriteTimeout,
		connectors:    cfg.Connectors,
		logger:        logger,
		metrics:       core,
		promHandler:   promHandler,
		healthHandler: cfg.HealthHandler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		clients: make(map[*session]SessionConnector),
	}
}

// Initialize validates configuration before Start.
func (s *Server) Initialize() error {
	if s.port < 1024 || s.port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "Initialize",
			fmt.Sprintf("invalid port %d (out of range 1024-65535)", s.port))
	}
	if s.path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "Initialize",
			"endpoint path cannot be empty")
	}
	if s.connectors == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "Initialize",
			"connector factory cannot be nil")
	}
	return nil
}

// Start launches the HTTP listener. The context bounds the read loops of
// every session accepted during this run.
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Server", "Start", "context already cancelled")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, func(w http.ResponseWriter, r *http.Request) {
		s.handleWebSocket(ctx, w, r)
	})
	if s.promHandler != nil {
		mux.Handle("/metrics", s.promHandler)
	}
	if s.healthHandler != nil {
		mux.Handle("/healthz", s.healthHandler)
	}

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}
	s.shutdown = make(chan struct{})
	s.wg = &sync.WaitGroup{}
	s.running = true

	s.wg.Add(1)
	go s.runServer()

	s.logger.Info("WebSocket server started",
		"component", "server", "port", s.port, "path", s.path)
	return nil
}

func (s *Server) runServer() {
	defer s.wg.Done()

	s.mu.RLock()
	server := s.server
	s.mu.RUnlock()
	if server == nil {
		return
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("HTTP server failed", "component", "server", "error", err)
	}
}

// Stop drains the listener, closes every session, and waits for the
// session goroutines up to the timeout.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.shutdown)
	server := s.server
	wg := s.wg
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP server shutdown error", "component", "server", "error", err)
	}

	s.closeAllSessions()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("Session goroutines did not exit within timeout",
			"component", "server")
	}

	s.mu.Lock()
	s.server = nil
	s.shutdown = nil
	s.wg = nil
	s.mu.Unlock()

	s.logger.Info("WebSocket server stopped", "component", "server")
	return nil
}

func (s *Server) closeAllSessions() {
	s.clientsMu.Lock()
	sessions := make(map[*session]SessionConnector, len(s.clients))
	for sess, conn := range s.clients {
		sessions[sess] = conn
	}
	s.clients = make(map[*session]SessionConnector)
	s.clientsMu.Unlock()

	for sess, connector := range sessions {
		connector.Close()
		sess.close()
	}
}

// handleWebSocket upgrades one connection and runs its read loop.
func (s *Server) handleWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Connection upgrade failed",
			"component", "server", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := newSession(conn, s.writeTimeout)
	connector := s.connectors(sess)

	s.clientsMu.Lock()
	s.clients[sess] = connector
	s.clientsMu.Unlock()

	if s.metrics != nil {
		s.metrics.SessionsActive.Inc()
	}
	s.logger.Info("Client connected",
		"component", "server", "session", sess.id, "remote", r.RemoteAddr)

	s.mu.RLock()
	wg := s.wg
	s.mu.RUnlock()
	if wg != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.readLoop(ctx, sess, connector)
		}()
	}
}

// readLoop dispatches inbound frames until the connection drops or the
// server stops. Malformed frames are dropped and logged; they never end
// the session.
func (s *Server) readLoop(ctx context.Context, sess *session, connector SessionConnector) {
	defer s.dropSession(sess, connector)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownChan():
			return
		default:
		}

		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Client connection dropped",
					"component", "server", "session", sess.id, "error", err)
			}
			return
		}

		s.dispatch(ctx, sess, connector, data)
	}
}

func (s *Server) shutdownChan() chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shutdown
}

// dispatch routes one inbound frame to the matching connector handler.
func (s *Server) dispatch(ctx context.Context, sess *session, connector SessionConnector, data []byte) {
	var env Envelope
	if err := unmarshalEnvelope(data, &env); err != nil {
		s.dropMessage(sess, "malformed frame", err)
		return
	}

	var err error
	switch env.Event {
	case event.OpStartPush:
		var req event.StartPush
		if err = event.Decode(env.Data, &req); err == nil {
			err = connector.HandleStartPush(ctx, req)
		}
	case event.OpPushEvent:
		var req event.PushEvent
		if err = event.Decode(env.Data, &req); err == nil {
			err = connector.HandlePushEvent(ctx, req)
		}
	case event.OpPullStart:
		var req event.PullStart
		if err = event.Decode(env.Data, &req); err == nil {
			err = connector.HandlePullStart(ctx, req)
		}
	case event.OpPullFilter:
		var req event.PullWithFilter
		if err = event.Decode(env.Data, &req); err == nil {
			err = connector.HandlePullFilter(ctx, req)
		}
	case event.OpPullJoin:
		var req event.PullWithJoin
		if err = event.Decode(env.Data, &req); err == nil {
			err = connector.HandlePullJoin(ctx, req)
		}
	case event.OpPullAggregate:
		var req event.PullWithAggregate
		if err = event.Decode(env.Data, &req); err == nil {
			err = connector.HandlePullAggregate(ctx, req)
		}
	default:
		s.dropMessage(sess, "unknown operation "+env.Event, errors.ErrMalformedMessage)
		return
	}

	if err != nil {
		if errors.IsInvalid(err) {
			s.dropMessage(sess, "invalid "+env.Event, err)
			return
		}
		s.logger.Error("Operation failed",
			"component", "server", "session", sess.id,
			"operation", env.Event, "error", err)
	}
}

// dropMessage logs and counts one discarded inbound frame. No reply is
// sent to the client.
func (s *Server) dropMessage(sess *session, reason string, err error) {
	s.logger.Warn("Dropping inbound message",
		"component", "server", "session", sess.id, "reason", reason, "error", err)
	if s.metrics != nil {
		s.metrics.MessagesDropped.WithLabelValues("malformed").Inc()
	}
}

// dropSession tears down one session's transforms and registry entries.
func (s *Server) dropSession(sess *session, connector SessionConnector) {
	s.clientsMu.Lock()
	_, present := s.clients[sess]
	delete(s.clients, sess)
	s.clientsMu.Unlock()
	if !present {
		return
	}

	connector.Close()
	sess.close()

	if s.metrics != nil {
		s.metrics.SessionsActive.Dec()
	}
	s.logger.Info("Client disconnected", "component", "server", "session", sess.id)
}

func unmarshalEnvelope(data []byte, env *Envelope) error {
	if err := json.Unmarshal(data, env); err != nil {
		return errors.WrapInvalid(err, "Server", "dispatch", "decode envelope")
	}
	if env.Event == "" {
		return errors.WrapInvalid(errors.ErrMalformedMessage, "Server", "dispatch",
			"missing event name")
	}
	return nil
}
