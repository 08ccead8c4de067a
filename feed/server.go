// Package feed streams the audit trail to dashboard clients over WebSocket:
// a snapshot of recent rows on connect, then every newly recorded row as it
// arrives on the audit notification subject.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/itsBaivab/edi-file-processor/auditstore"
	"github.com/itsBaivab/edi-file-processor/errors"
	"github.com/itsBaivab/edi-file-processor/event"
	"github.com/itsBaivab/edi-file-processor/health"
	"github.com/itsBaivab/edi-file-processor/metric"
	"github.com/itsBaivab/edi-file-processor/natsclient"
)

// Envelope message types.
const (
	// TypeSnapshot carries the recent audit rows sent once per connection.
	TypeSnapshot = "snapshot"
	// TypeRecord carries one newly recorded audit row.
	TypeRecord = "record"
)

// Envelope frames every message sent to a feed client.
type Envelope struct {
	Type      string              `json:"type"`
	Timestamp int64               `json:"timestamp"` // Unix milliseconds
	Records   []auditstore.Record `json:"records,omitempty"`
	Record    *auditstore.Record  `json:"record,omitempty"`
}

// Config holds the feed server settings.
type Config struct {
	Addr          string        // Listen address, ":0" picks an ephemeral port
	Path          string        // WebSocket endpoint path
	SnapshotLimit int           // Rows sent on connect, negative disables the snapshot
	WriteTimeout  time.Duration // Per-client write deadline
	PingInterval  time.Duration // Keepalive ping cadence
	PongWait      time.Duration // Read deadline extended by each pong
}

// DefaultConfig returns sensible defaults for the feed server
func DefaultConfig() Config {
	return Config{
		Addr:          ":8081",
		Path:          "/feed",
		SnapshotLimit: 50,
		WriteTimeout:  5 * time.Second,
		PingInterval:  30 * time.Second,
		PongWait:      60 * time.Second,
	}
}

// ServerDeps holds runtime dependencies for the feed server
type ServerDeps struct {
	Name            string                  // Instance name
	Config          Config                  // Zero fields take defaults
	Client          *natsclient.Client      // Optional, nil serves snapshots only
	Audit           *auditstore.Store       // Runtime dependency
	MetricsRegistry *metric.MetricsRegistry // Runtime dependency
	Logger          *slog.Logger            // Runtime dependency
}

// feedClient is one connected consumer. Writes to the shared connection are
// serialized through writeMu because gorilla panics on concurrent writes.
type feedClient struct {
	id        string
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Server accepts WebSocket clients and broadcasts stored audit rows to them.
// Delivery is at most once: a client that cannot keep up within the write
// deadline is dropped and reconnects for a fresh snapshot.
type Server struct {
	name    string
	config  Config
	client  *natsclient.Client
	audit   *auditstore.Store
	logger  *slog.Logger
	metrics *feedMetrics

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	listener net.Listener

	clients   map[*feedClient]struct{}
	clientsMu sync.RWMutex

	// Lifecycle management
	shutdown  chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.Mutex
	wg        sync.WaitGroup
	baseCtx   context.Context
	cancel    context.CancelFunc

	// Counters (atomic for thread safety)
	broadcasts   atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Value // stores time.Time
}

// NewServer creates a feed server from its dependencies.
func NewServer(deps ServerDeps) *Server {
	cfg := deps.Config
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.SnapshotLimit == 0 {
		cfg.SnapshotLimit = def.SnapshotLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "feed")
	}

	s := &Server{
		name:    deps.Name,
		config:  cfg,
		client:  deps.Client,
		audit:   deps.Audit,
		logger:  logger,
		metrics: newFeedMetrics(deps.MetricsRegistry),
		upgrader: websocket.Upgrader{
			// Dashboards connect from arbitrary origins.
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:   make(map[*feedClient]struct{}),
		startTime: time.Now(),
	}
	s.lastActivity.Store(time.Time{})
	return s
}

// Initialize validates the feed server wiring before Start.
func (s *Server) Initialize() error {
	if s.audit == nil {
		return errors.WrapInvalid(fmt.Errorf("nil audit store"),
			"feed", "Initialize", "audit store validation")
	}
	if len(s.config.Path) == 0 || s.config.Path[0] != '/' {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"feed", "Initialize", fmt.Sprintf("path %q must start with /", s.config.Path))
	}
	return nil
}

// Start binds the listener, subscribes to the audit notification subject and
// begins accepting clients.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil // Already running, idempotent
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return errors.WrapTransient(err, "feed", "Start",
			fmt.Sprintf("listen on %s", s.config.Addr))
	}

	baseCtx, cancel := context.WithCancel(ctx)

	// Subscription and client handlers check these, so they must be in place
	// before the first connection or record can arrive.
	s.shutdown = make(chan struct{})
	s.baseCtx = baseCtx
	s.cancel = cancel
	s.listener = listener

	if s.client != nil {
		if err := s.client.Subscribe(baseCtx, event.RecordedSubject, s.handleRecorded); err != nil {
			cancel()
			_ = listener.Close()
			return errors.WrapTransient(err, "feed", "Start",
				fmt.Sprintf("subscribe to %s", event.RecordedSubject))
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleFeed)
	s.httpSrv = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	s.running.Store(true)
	s.startTime = time.Now()

	s.wg.Add(2)
	go s.serve(listener)
	go s.pingClients()

	s.logger.Info("Feed server started",
		"addr", listener.Addr().String(),
		"path", s.config.Path,
		"live", s.client != nil)
	return nil
}

// serve runs the HTTP server until Stop closes it.
func (s *Server) serve(listener net.Listener) {
	defer s.wg.Done()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		s.errorCount.Add(1)
		s.logger.Error("Feed server failed", "error", err)
	}
}

// Stop closes the listener, disconnects all clients and waits for handler
// goroutines to settle.
func (s *Server) Stop(timeout time.Duration) error {
	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)

	s.mu.Lock()
	if s.shutdown != nil {
		select {
		case <-s.shutdown:
		default:
			close(s.shutdown)
		}
	}
	srv := s.httpSrv
	cancel := s.cancel
	s.mu.Unlock()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Feed server shutdown incomplete", "error", err)
		}
	}

	s.closeAllClients()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// Client goroutines settled
	case <-time.After(timeout):
		if cancel != nil {
			cancel()
		}
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"feed", "Stop", "graceful shutdown")
	}

	if cancel != nil {
		cancel()
	}

	s.logger.Info("Feed server stopped", "broadcasts", s.broadcasts.Load())
	return nil
}

// Health reports the feed server's current health.
func (s *Server) Health() health.Status {
	name := s.name
	if name == "" {
		name = "feed"
	}

	if !s.running.Load() {
		return health.NewUnhealthy(name, "Feed server not running")
	}

	status := health.NewHealthy(name, "Streaming audit feed")
	if s.client != nil && !s.client.IsHealthy() {
		status = health.NewDegraded(name, "Live updates paused, NATS connection degraded")
	}

	lastActivity, _ := s.lastActivity.Load().(time.Time)
	return status.WithMetrics(&health.Metrics{
		Uptime:       time.Since(s.startTime),
		Errors:       s.errorCount.Load(),
		Processed:    s.broadcasts.Load(),
		LastActivity: lastActivity,
	})
}

// Addr returns the bound listen address, empty before Start. Tests bind ":0"
// and read the ephemeral port from here.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ClientCount returns the number of connected feed clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Broadcasts returns the number of live records broadcast since start.
func (s *Server) Broadcasts() int64 {
	return s.broadcasts.Load()
}

// handleFeed upgrades one HTTP request into a feed connection.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.errorCount.Add(1)
		s.logger.Debug("Feed upgrade rejected", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := &feedClient{
		id:   uuid.NewString(),
		conn: conn,
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	count := len(s.clients)
	s.clientsMu.Unlock()

	s.metrics.recordConnection()
	s.metrics.setClients(count)
	s.logger.Debug("Feed client connected", "client", client.id, "remote", r.RemoteAddr)

	// Snapshot first; a live record racing the registration may interleave
	// ahead of it, which clients absorb by replacing state on snapshot.
	s.sendSnapshot(client)

	s.wg.Add(1)
	go s.readLoop(client)
}

// sendSnapshot sends the recent audit rows to a newly connected client.
func (s *Server) sendSnapshot(client *feedClient) {
	if s.config.SnapshotLimit < 0 {
		return
	}

	queryCtx, cancel := context.WithTimeout(s.baseCtx, s.config.WriteTimeout)
	defer cancel()

	rows, err := s.audit.Recent(queryCtx, s.config.SnapshotLimit)
	if err != nil {
		s.errorCount.Add(1)
		s.logger.Warn("Snapshot query failed", "client", client.id, "error", err)
		return
	}

	data, err := json.Marshal(Envelope{
		Type:      TypeSnapshot,
		Timestamp: time.Now().UnixMilli(),
		Records:   rows,
	})
	if err != nil {
		s.errorCount.Add(1)
		s.logger.Warn("Snapshot encode failed", "client", client.id, "error", err)
		return
	}

	if s.send(client, data) {
		s.metrics.recordSnapshot(len(rows))
	}
}

// readLoop drains inbound frames so pongs and close frames are processed.
// Feed clients never send application data.
func (s *Server) readLoop(client *feedClient) {
	defer s.wg.Done()
	defer s.dropClient(client, "disconnected")

	_ = client.conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
	})

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// handleRecorded receives one stored audit row from the notification subject
// and broadcasts it to all connected clients.
func (s *Server) handleRecorded(_ context.Context, data []byte) {
	if !s.running.Load() {
		return
	}

	var rec auditstore.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.errorCount.Add(1)
		s.logger.Warn("Undecodable audit notification dropped", "error", err)
		return
	}

	s.lastActivity.Store(time.Now())
	s.broadcasts.Add(1)

	s.broadcast(Envelope{
		Type:      TypeRecord,
		Timestamp: time.Now().UnixMilli(),
		Record:    &rec,
	})
}

// broadcast sends one envelope to every connected client concurrently, so a
// slow client delays nobody beyond its own write deadline.
func (s *Server) broadcast(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		s.errorCount.Add(1)
		s.logger.Warn("Envelope encode failed", "error", err)
		return
	}

	s.clientsMu.RLock()
	clients := make([]*feedClient, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.clientsMu.RUnlock()

	if len(clients) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, client := range clients {
		wg.Add(1)
		go func(c *feedClient) {
			defer wg.Done()
			if s.send(c, data) {
				s.metrics.recordSent(1)
			}
		}(client)
	}
	wg.Wait()
}

// send writes one frame to one client, dropping the client on failure.
func (s *Server) send(client *feedClient, data []byte) bool {
	client.writeMu.Lock()
	_ = client.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	err := client.conn.WriteMessage(websocket.TextMessage, data)
	client.writeMu.Unlock()

	if err != nil {
		s.metrics.recordSendError()
		s.dropClient(client, "write_failed")
		return false
	}
	return true
}

// pingClients keeps connections alive and evicts clients that stop answering.
func (s *Server) pingClients() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.clientsMu.RLock()
			clients := make([]*feedClient, 0, len(s.clients))
			for client := range s.clients {
				clients = append(clients, client)
			}
			s.clientsMu.RUnlock()

			for _, client := range clients {
				client.writeMu.Lock()
				err := client.conn.WriteControl(websocket.PingMessage, nil,
					time.Now().Add(s.config.WriteTimeout))
				client.writeMu.Unlock()
				if err != nil {
					s.dropClient(client, "ping_failed")
				}
			}
		}
	}
}

// dropClient removes one client and closes its connection, exactly once.
func (s *Server) dropClient(client *feedClient, reason string) {
	client.closeOnce.Do(func() {
		s.clientsMu.Lock()
		delete(s.clients, client)
		count := len(s.clients)
		s.clientsMu.Unlock()

		s.metrics.setClients(count)
		s.metrics.recordDisconnect(reason)
		_ = client.conn.Close()

		s.logger.Debug("Feed client dropped", "client", client.id, "reason", reason)
	})
}

// closeAllClients disconnects every client during shutdown.
func (s *Server) closeAllClients() {
	s.clientsMu.RLock()
	clients := make([]*feedClient, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.clientsMu.RUnlock()

	for _, client := range clients {
		s.dropClient(client, "server_shutdown")
	}
}
