// Package dashboard serves the sync status over HTTP.
//
// Endpoints:
//
//	GET  /status   engine status, last result and conflict copies (JSON)
//	POST /sync     start a sync; ?wait=1 blocks and returns the summary
//	GET  /ws       WebSocket stream of sync events
//	GET  /health   liveness and client count
//	GET  /metrics  Prometheus metrics
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	gosync "sync"
	"time"

	"github.com/coder/websocket"

	"github.com/flowy-gtd/flowy/internal/sync"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeHello is sent to a client when it connects
	MessageTypeHello MessageType = "hello"

	// MessageTypeEvent carries a sync.Event
	MessageTypeEvent MessageType = "sync_event"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Engine is the part of sync.Engine the dashboard uses.
type Engine interface {
	Status() sync.Status
	LastResult() *sync.Summary
	ConflictCopies() []string
	SyncAll(ctx context.Context) (*sync.Summary, error)
	Subscribe(fn func(sync.Event)) func()
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status         sync.Status   `json:"status"`
	LastResult     *sync.Summary `json:"lastResult,omitempty"`
	ConflictCopies []string      `json:"conflictCopies"`
}

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8080). Zero picks a free port.
	Port int

	// Host to bind (default: 127.0.0.1)
	Host string

	// Logger for server activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Host:   "127.0.0.1",
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// Server streams engine events to WebSocket clients and serves status
// endpoints.
type Server struct {
	engine Engine
	addr   string
	logger *log.Logger

	listener net.Listener
	server   *http.Server
	metrics  *metrics

	clients   map[*websocket.Conn]bool
	clientsMu gosync.RWMutex

	broadcast   chan Message
	unsubscribe func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// NewServer creates a dashboard for engine. It subscribes to engine
// events immediately; Stop unsubscribes.
func NewServer(engine Engine, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	host := config.Host
	if host == "" {
		host = DefaultConfig().Host
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engine:    engine,
		addr:      net.JoinHostPort(host, fmt.Sprint(config.Port)),
		logger:    config.Logger,
		metrics:   newMetrics(),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.unsubscribe = engine.Subscribe(s.onEvent)

	s.wg.Add(1)
	go s.broadcastLoop()
	return s
}

// Handler returns the HTTP routes of the dashboard.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.metrics.instrument("/health", s.handleHealth))
	mux.HandleFunc("/status", s.metrics.instrument("/status", s.handleStatus))
	mux.HandleFunc("/sync", s.metrics.instrument("/sync", s.handleSync))
	mux.Handle("/metrics", s.metrics.handler())
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// Start begins serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on http://%s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects clients and shuts the server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard")
	s.unsubscribe()
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()
	s.metrics.clients.Set(0)

	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("server shutdown error: %w", shutdownErr)
		}
	}
	s.wg.Wait()
	return err
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// onEvent is the engine subscription. It must not block.
func (s *Server) onEvent(ev sync.Event) {
	s.metrics.observe(ev)

	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Printf("Failed to marshal event: %v", err)
		return
	}
	s.Broadcast(Message{Type: MessageTypeEvent, Timestamp: ev.Time, Data: data})
}

// Broadcast queues msg for every connected client. Messages are dropped
// when the queue is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Println("WARNING: broadcast queue full, dropping message")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	hello, err := json.Marshal(s.snapshot())
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		return
	}
	data, _ := json.Marshal(Message{Type: MessageTypeHello, Timestamp: time.Now(), Data: hello})
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	err = conn.Write(ctx, websocket.MessageText, data)
	cancel()
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.metrics.clients.Set(float64(n))
	s.logger.Printf("Client connected (total: %d)", n)

	s.readLoop(conn)
}

// readLoop holds the connection open until the client goes away. Client
// messages are ignored.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, ok := s.clients[conn]; !ok {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	n := len(s.clients)
	s.clientsMu.Unlock()

	s.metrics.clients.Set(float64(n))
	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client disconnected (total: %d)", n)
}

func (s *Server) snapshot() StatusResponse {
	copies := s.engine.ConflictCopies()
	if copies == nil {
		copies = []string{}
	}
	return StatusResponse{
		Status:         s.engine.Status(),
		LastResult:     s.engine.LastResult(),
		ConflictCopies: copies,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.URL.Query().Get("wait") != "" {
		sum, err := s.engine.SyncAll(r.Context())
		if err != nil {
			writeError(w, syncErrorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, sum)
		return
	}

	st := s.engine.Status()
	if !st.Configured {
		writeError(w, syncErrorStatus(sync.ErrNotConfigured), sync.ErrNotConfigured.Error())
		return
	}
	if st.Syncing {
		writeError(w, syncErrorStatus(sync.ErrAlreadySyncing), sync.ErrAlreadySyncing.Error())
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.engine.SyncAll(s.ctx); err != nil && !errors.Is(err, sync.ErrAlreadySyncing) {
			s.logger.Printf("Sync requested from dashboard failed: %v", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func syncErrorStatus(err error) int {
	switch {
	case errors.Is(err, sync.ErrAlreadySyncing):
		return http.StatusConflict
	case errors.Is(err, sync.ErrNotConfigured):
		return http.StatusPreconditionFailed
	case sync.IsUserActionRequired(err):
		return http.StatusUnauthorized
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Flowy Sync</title>
</head>
<body>
    <h1>Flowy Sync Dashboard</h1>
    <p>Status: <a href="/status">/status</a></p>
    <p>Event stream: <code>ws://%s/ws</code></p>
    <p>Metrics: <a href="/metrics">/metrics</a></p>
</body>
</html>`, r.Host)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
