package domain

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
)

// Transport defines the interface for MCP transport mechanisms.
// Implementations read JSON-RPC messages, pass each one to the handler and
// deliver the non-nil replies back to the client.
type Transport interface {
	// Start begins listening for incoming MCP messages.
	// Returns an error if the transport cannot be initialized.
	Start(ctx context.Context, handler MessageHandler) error

	// Close gracefully shuts down the transport.
	// Returns an error if shutdown fails.
	Close() error
}

// maxMessageBytes bounds a single inbound JSON-RPC message on every transport.
const maxMessageBytes = 4 << 20

// HealthPayload is returned by GET /mcp and /healthz.
var HealthPayload = map[string]string{
	"status":  "ok",
	"message": "MCP endpoint is alive",
}

// StdioTransport implements Transport using stdin/stdout for communication.
// It reads newline-delimited JSON-RPC messages from stdin and writes
// responses to stdout. Messages are handled one at a time in arrival order.
type StdioTransport struct {
	reader *bufio.Reader
	writer *bufio.Writer
	logger *zap.Logger
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// NewStdioTransport creates a new StdioTransport instance over os.Stdin and os.Stdout.
func NewStdioTransport(logger *zap.Logger) *StdioTransport {
	return NewStdioTransportWithIO(os.Stdin, os.Stdout, logger)
}

// NewStdioTransportWithIO creates a new StdioTransport with custom IO streams.
// This is primarily used for testing.
func NewStdioTransportWithIO(reader io.Reader, writer io.Writer, logger *zap.Logger) *StdioTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StdioTransport{
		reader: bufio.NewReaderSize(reader, 64*1024),
		writer: bufio.NewWriter(writer),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start begins reading JSON-RPC messages from stdin.
// It spawns a goroutine that reads newline-delimited messages until EOF or
// context cancellation. Done is closed when that goroutine exits.
func (t *StdioTransport) Start(ctx context.Context, handler MessageHandler) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport is closed")
	}
	t.mu.Unlock()

	go t.readLoop(ctx, handler)
	return nil
}

// Done is closed once the input stream is exhausted.
func (t *StdioTransport) Done() <-chan struct{} {
	return t.done
}

// readLoop continuously reads from stdin and dispatches each line.
func (t *StdioTransport) readLoop(ctx context.Context, handler MessageHandler) {
	defer close(t.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Read a line from stdin
		line, err := t.reader.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			if len(trimmed) > maxMessageBytes {
				t.logger.Warn("stdio message too large", zap.Int("bytes", len(trimmed)))
			} else if response := handler.HandleMessage(ctx, []byte(trimmed)); response != nil {
				if sendErr := t.Send(response); sendErr != nil {
					t.logger.Error("failed to write stdio response", zap.Error(sendErr))
				}
			}
		}

		if err != nil {
			if err != io.EOF {
				t.logger.Error("stdio read failed", zap.Error(err))
			}
			return
		}
	}
}

// Send writes a JSON-RPC response to stdout.
// The response is serialized as a single line of JSON followed by a newline.
func (t *StdioTransport) Send(response *Response) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("transport is closed")
	}

	// Ensure JSONRPC version is set
	if response.JSONRPC == "" {
		response.JSONRPC = JSONRPCVersion
	}

	// Serialize response to JSON; encoding/json escapes newlines inside strings
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	if _, err := t.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}

	// Flush to ensure immediate delivery
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush response: %w", err)
	}

	return nil
}

// Close gracefully shuts down the transport.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	return nil
}

// HTTPTransport implements Transport over a single HTTP listener.
// It serves JSON-RPC over plain POST, an SSE session stream with a companion
// POST endpoint, and a WebSocket endpoint. Extra routes can be mounted before
// Start, such as the legacy REST surface.
type HTTPTransport struct {
	host      string
	port      int
	logger    *zap.Logger
	server    *http.Server
	mounts    []mount
	keepAlive time.Duration
	upgrader  websocket.Upgrader
	mu        sync.Mutex
	closed    bool

	// Session management for SSE connections
	sessions   map[string]*sseSession
	sessionsMu sync.RWMutex

	// Open WebSocket connections, closed on shutdown
	sockets   map[string]*websocket.Conn
	socketsMu sync.Mutex
}

type mount struct {
	pattern string
	handler http.Handler
}

// sseSession represents an active SSE connection
type sseSession struct {
	id          string
	messageChan chan *Response
	done        chan struct{}
	closeOnce   sync.Once
}

func (s *sseSession) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// NewHTTPTransport creates a new HTTPTransport instance.
func NewHTTPTransport(host string, port int, logger *zap.Logger) *HTTPTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPTransport{
		host:      host,
		port:      port,
		logger:    logger,
		keepAlive: 30 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*sseSession),
		sockets:  make(map[string]*websocket.Conn),
	}
}

// SetKeepAlive changes the SSE keep-alive interval.
func (t *HTTPTransport) SetKeepAlive(d time.Duration) {
	t.keepAlive = d
}

// Mount registers an additional route served next to the MCP endpoints.
// JSON responses from mounted handlers are gzip-compressed on request.
func (t *HTTPTransport) Mount(pattern string, handler http.Handler) {
	t.mounts = append(t.mounts, mount{pattern: pattern, handler: handler})
}

// Handler builds the HTTP handler serving every MCP route for handler.
// Start uses it; tests can wrap it in httptest.NewServer directly.
func (t *HTTPTransport) Handler(handler MessageHandler) http.Handler {
	post := gzhttp.GzipHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.handlePost(w, r, handler)
	}))

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			post.ServeHTTP(w, r)
		case http.MethodGet, http.MethodOptions:
			writeJSON(w, http.StatusOK, HealthPayload)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/mcp/sse", t.handleSSE)
	mux.HandleFunc("/mcp/message", func(w http.ResponseWriter, r *http.Request) {
		t.handleMessage(w, r, handler)
	})
	mux.HandleFunc("/mcp/ws", func(w http.ResponseWriter, r *http.Request) {
		t.handleWebSocket(w, r, handler)
	})
	for _, m := range t.mounts {
		mux.Handle(m.pattern, gzhttp.GzipHandler(m.handler))
	}

	return withCORS(mux)
}

// Start begins the HTTP server and starts listening for incoming requests.
func (t *HTTPTransport) Start(ctx context.Context, handler MessageHandler) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport is closed")
	}

	addr := fmt.Sprintf("%s:%d", t.host, t.port)
	t.server = &http.Server{
		Addr:              addr,
		Handler:           t.Handler(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := t.server
	t.mu.Unlock()

	// Start server in a goroutine
	go func() {
		t.logger.Info("http transport listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("http server stopped", zap.Error(err))
		}
	}()

	// Monitor context for cancellation
	go func() {
		<-ctx.Done()
		t.Close()
	}()

	return nil
}

// handlePost answers a JSON-RPC message in the HTTP response body.
// Notifications get 202 Accepted with no body.
func (t *HTTPTransport) handlePost(w http.ResponseWriter, r *http.Request, handler MessageHandler) {
	body, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	response := handler.HandleMessage(r.Context(), body)
	if response == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// handleSSE handles SSE connections (GET requests) for server-to-client messages.
func (t *HTTPTransport) handleSSE(w http.ResponseWriter, r *http.Request) {
	// Only accept GET requests for SSE
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Get flusher for streaming
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Create and register a new session
	session := &sseSession{
		id:          uuid.NewString(),
		messageChan: make(chan *Response, 16),
		done:        make(chan struct{}),
	}
	t.sessionsMu.Lock()
	t.sessions[session.id] = session
	t.sessionsMu.Unlock()

	defer func() {
		t.sessionsMu.Lock()
		delete(t.sessions, session.id)
		t.sessionsMu.Unlock()
		session.close()
	}()

	// Send endpoint event to tell client where to send messages
	fmt.Fprintf(w, "event: endpoint\ndata: /mcp/message?sessionId=%s\n\n", session.id)
	flusher.Flush()

	t.logger.Info("sse session established", zap.String("session_id", session.id))

	// Keep connection alive and send messages
	ticker := time.NewTicker(t.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			t.logger.Info("sse session disconnected", zap.String("session_id", session.id))
			return
		case <-session.done:
			return
		case response := <-session.messageChan:
			data, err := json.Marshal(response)
			if err != nil {
				t.logger.Error("failed to marshal sse message", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		case <-ticker.C:
			// Send keep-alive comment
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

// handleMessage handles HTTP POST requests whose replies travel over SSE.
// With a sessionId the reply goes to that session; without one it is
// broadcast to every open session, or written inline when none is open.
func (t *HTTPTransport) handleMessage(w http.ResponseWriter, r *http.Request, handler MessageHandler) {
	// Only accept POST requests
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var session *sseSession
	if sessionID := r.URL.Query().Get("sessionId"); sessionID != "" {
		t.sessionsMu.RLock()
		session = t.sessions[sessionID]
		t.sessionsMu.RUnlock()
		if session == nil {
			http.Error(w, "Invalid session", http.StatusBadRequest)
			return
		}
	}

	body, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	response := handler.HandleMessage(r.Context(), body)
	if response == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if session != nil {
		select {
		case session.messageChan <- response:
			w.WriteHeader(http.StatusAccepted)
		case <-session.done:
			http.Error(w, "Session closed", http.StatusGone)
		default:
			t.logger.Warn("sse session queue full", zap.String("session_id", session.id))
			http.Error(w, "Session queue full", http.StatusServiceUnavailable)
		}
		return
	}

	if err := t.Send(response); err != nil {
		writeJSON(w, http.StatusOK, response)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Send transmits a JSON-RPC response to every active SSE session.
func (t *HTTPTransport) Send(response *Response) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport is closed")
	}
	t.mu.Unlock()

	// Ensure JSONRPC version is set
	if response.JSONRPC == "" {
		response.JSONRPC = JSONRPCVersion
	}

	t.sessionsMu.RLock()
	defer t.sessionsMu.RUnlock()

	if len(t.sessions) == 0 {
		return fmt.Errorf("no active sessions")
	}

	for _, session := range t.sessions {
		select {
		case session.messageChan <- response:
		default:
			t.logger.Warn("sse session queue full", zap.String("session_id", session.id))
		}
	}

	return nil
}

// SessionCount returns the number of open SSE sessions.
func (t *HTTPTransport) SessionCount() int {
	t.sessionsMu.RLock()
	defer t.sessionsMu.RUnlock()
	return len(t.sessions)
}

// Close gracefully shuts down the HTTP server, all SSE sessions and all WebSockets.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	server := t.server
	t.mu.Unlock()

	// Close all sessions
	t.sessionsMu.Lock()
	for _, session := range t.sessions {
		session.close()
	}
	t.sessions = make(map[string]*sseSession)
	t.sessionsMu.Unlock()

	t.closeSockets()

	// Shutdown the HTTP server if it exists
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}

	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body")
	}
	if len(body) > maxMessageBytes {
		return nil, fmt.Errorf("request body too large")
	}
	return bytes.TrimSpace(body), nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withCORS allows every origin on every route and answers preflights.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions && r.URL.Path != "/mcp" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
