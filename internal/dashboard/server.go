// Package dashboard pushes live sync events to WebSocket clients.
//
// The Server fans messages out to connected clients. Every client is
// bound to one authenticated user and only receives that user's messages.
// The Handler turns sync engine events into messages.
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
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeTaskUpdate indicates a task was imported, pushed, created,
	// updated or deleted
	MessageTypeTaskUpdate MessageType = "task_update"

	// MessageTypeSyncComplete indicates a pull pass finished
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeStats carries a user's task counts
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	UserID    string          `json:"user_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	// client -> the user it is bound to
	clients   map[*websocket.Conn]string
	clientsMu sync.RWMutex

	broadcast chan Message
	loopOnce  sync.Once

	// welcome, if set, builds the first message for a new client.
	welcome func(userID string) *Message

	authenticate   Authenticator
	originPatterns []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// ErrUnauthenticated is returned by an Authenticator that finds no
// acceptable credentials on the request.
var ErrUnauthenticated = errors.New("authentication required")

// Authenticator resolves the user behind a WebSocket upgrade request.
type Authenticator func(r *http.Request) (userID string, err error)

// BasicAuth returns an Authenticator that checks HTTP basic credentials
// with check, which returns the user id for a valid pair.
func BasicAuth(check func(ctx context.Context, username, password string) (string, error)) Authenticator {
	return func(r *http.Request) (string, error) {
		username, password, ok := r.BasicAuth()
		if !ok {
			return "", ErrUnauthenticated
		}
		return check(r.Context(), username, password)
	}
}

// Config holds server configuration
type Config struct {
	// Host to bind for Start (default: 127.0.0.1)
	Host string

	// Port to listen on for Start (default: 8080, 0 picks a free port)
	Port int

	// Authenticate resolves /ws clients. Without it /ws refuses every
	// client; mounting servers can still call ServeUser.
	Authenticate Authenticator

	// OriginPatterns lists extra browser origins allowed to connect.
	// Same-origin requests are always allowed.
	OriginPatterns []string

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:   "127.0.0.1",
		Port:   8080,
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a new dashboard WebSocket server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	host := config.Host
	if host == "" {
		host = "127.0.0.1"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      net.JoinHostPort(host, strconv.Itoa(config.Port)),
		clients:   make(map[*websocket.Conn]string),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,

		authenticate:   config.Authenticate,
		originPatterns: config.OriginPatterns,
	}
}

// Handler returns the dashboard routes for mounting in another server.
// The broadcast loop starts on first use.
func (s *Server) Handler() http.Handler {
	s.startLoop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// Start serves the dashboard on its own port.
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
		s.logger.Printf("Dashboard server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop closes every client and shuts down the listener, if any.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Println("Dashboard server stopped")
	return nil
}

// Broadcast queues a message for delivery. It never blocks; when the
// queue is full the message is dropped.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

func (s *Server) startLoop() {
	s.loopOnce.Do(func() {
		s.wg.Add(1)
		go s.broadcastLoop()
	})
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
			for conn, user := range s.clients {
				if msg.UserID == "" || user == msg.UserID {
					clients = append(clients, conn)
				}
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				if err := s.write(conn, data); err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// handleWebSocket authenticates the client and binds it to its user.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.authenticate == nil {
		http.Error(w, "websocket authentication is not configured", http.StatusUnauthorized)
		return
	}
	userID, err := s.authenticate(r)
	if err != nil || userID == "" {
		w.Header().Set("WWW-Authenticate", `Basic realm="bliq"`)
		http.Error(w, ErrUnauthenticated.Error(), http.StatusUnauthorized)
		return
	}
	s.ServeUser(w, r, userID)
}

// ServeUser accepts a client bound to userID. The caller must already
// have authenticated the request.
func (s *Server) ServeUser(w http.ResponseWriter, r *http.Request, userID string) {
	if userID == "" {
		http.Error(w, ErrUnauthenticated.Error(), http.StatusUnauthorized)
		return
	}
	s.startLoop()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = userID
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	welcome := &Message{Type: MessageTypeStats, UserID: userID}
	if s.welcome != nil {
		if m := s.welcome(userID); m != nil {
			welcome = m
		}
	}
	if welcome.Timestamp.IsZero() {
		welcome.Timestamp = time.Now()
	}
	if data, err := json.Marshal(welcome); err == nil {
		_ = s.write(conn, data)
	}

	s.readLoop(conn)
}

// readLoop holds the connection until the client leaves or the server
// stops. Client messages are ignored.
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
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Bliq Dashboard</title>
</head>
<body>
    <h1>Bliq Dashboard</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code> (HTTP basic auth)</p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Connect a WebSocket client to receive task and sync events.</p>
</body>
</html>`, r.Host)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
