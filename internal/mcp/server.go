// ABOUTME: MCP Streamable HTTP endpoint for a single long-lived session on /mcp.
// ABOUTME: Routes OPTIONS/GET/POST/DELETE, validates the session, and shapes JSON or SSE responses.

package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"

	"github.com/2389/copilot-super/internal/sse"
)

// Path is the only endpoint the listener serves.
const Path = "/mcp"

// Defaults applied by NewServer for zero Config fields.
const (
	DefaultHeartbeatInterval     = 15 * time.Second
	DefaultCallKeepaliveInterval = 120 * time.Second
	DefaultMaxBodyBytes          = 4 << 20
)

var (
	allowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	allowedHeaders = []string{"Content-Type", "Accept", "Authorization", HeaderSessionID, "Mcp-Protocol-Version", "Last-Event-ID"}
)

// Config holds configuration for the MCP server.
type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock // Paces SSE heartbeats; real clock when nil

	PortAttempts          int           // Consecutive ports tried before the OS-assigned fallback
	HeartbeatInterval     time.Duration // Idle GET stream comment frames
	CallKeepaliveInterval time.Duration // Comment frames while a tools/call waits
	MaxBodyBytes          int64

	ServerName    string
	ServerVersion string
}

// Server serves one MCP session over HTTP and lets the host supply the
// replies to tools/call. One Server owns one listener at a time.
type Server struct {
	logger        *slog.Logger
	clock         clockwork.Clock
	portAttempts  int
	heartbeat     time.Duration
	keepalive     time.Duration
	maxBodyBytes  int64
	serverName    string
	serverVersion string

	session *Session
	streams *sse.Set
	router  http.Handler

	mu            sync.Mutex
	callHandler   ToolCallHandler
	cancelHandler func()
	pending       *pendingCall

	// lifecycle serializes Start and Stop.
	lifecycle  sync.Mutex
	httpServer *http.Server
	baseCancel func()
	serveDone  chan struct{}
	port       atomic.Int64
}

// NewServer creates a new MCP server with the given configuration. The
// server does not listen until Start.
func NewServer(cfg Config) (*Server, error) {
	if cfg.PortAttempts < 0 {
		return nil, errors.New("port attempts must not be negative")
	}
	if cfg.HeartbeatInterval < 0 || cfg.CallKeepaliveInterval < 0 {
		return nil, errors.New("keepalive intervals must not be negative")
	}
	if cfg.MaxBodyBytes < 0 {
		return nil, errors.New("max body bytes must not be negative")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		logger:        logger,
		clock:         cfg.Clock,
		portAttempts:  cfg.PortAttempts,
		heartbeat:     cfg.HeartbeatInterval,
		keepalive:     cfg.CallKeepaliveInterval,
		maxBodyBytes:  cfg.MaxBodyBytes,
		serverName:    cfg.ServerName,
		serverVersion: cfg.ServerVersion,
		session:       NewSession(),
		streams:       sse.NewSet(),
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.portAttempts == 0 {
		s.portAttempts = DefaultPortAttempts
	}
	if s.heartbeat == 0 {
		s.heartbeat = DefaultHeartbeatInterval
	}
	if s.keepalive == 0 {
		s.keepalive = DefaultCallKeepaliveInterval
	}
	if s.maxBodyBytes == 0 {
		s.maxBodyBytes = DefaultMaxBodyBytes
	}
	if s.serverName == "" {
		s.serverName = "copilot-super"
	}
	if s.serverVersion == "" {
		s.serverVersion = "dev"
	}

	s.router = s.routes()
	return s, nil
}

// SetToolCallHandler registers the function that answers tools/call.
func (s *Server) SetToolCallHandler(h ToolCallHandler) {
	s.mu.Lock()
	s.callHandler = h
	s.mu.Unlock()
}

// SetToolCallCancelHandler registers the function called when the client
// disconnects while a tools/call is waiting.
func (s *Server) SetToolCallCancelHandler(fn func()) {
	s.mu.Lock()
	s.cancelHandler = fn
	s.mu.Unlock()
}

func (s *Server) toolCallHandler() ToolCallHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callHandler
}

func (s *Server) toolCallCancelHandler() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelHandler
}

// Session returns the session identity served by this listener.
func (s *Server) Session() *Session {
	return s.session
}

// Handler returns the HTTP handler for the endpoint. Start serves it on its
// own listener; tests can mount it directly.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     allowedMethods,
		AllowedHeaders:     allowedHeaders,
		ExposedHeaders:     []string{HeaderSessionID},
		MaxAge:             86400,
		OptionsPassthrough: true, // handleOptions answers 204
	}))

	r.Options(Path, s.handleOptions)
	r.Get(Path, s.handleStream)
	r.Post(Path, s.handlePost)
	r.Delete(Path, s.handleDelete)

	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleMethodNotAllowed)
	return r
}

// recoverer turns a handler panic into a 500 with a JSON-RPC internal error
// so one bad request never stops the listener.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("recovered panic in MCP handler",
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			s.writeJSON(w, http.StatusInternalServerError, newError(nil, CodeInternalError, "internal error"))
		}()
		next.ServeHTTP(w, r)
	})
}

// handleOptions answers CORS preflights, including bare OPTIONS requests
// without an Origin that the cors middleware leaves alone.
func (s *Server) handleOptions(w http.ResponseWriter, _ *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", strings.Join(allowedMethods, ", "))
	h.Set("Access-Control-Allow-Headers", strings.Join(allowedHeaders, ", "))
	h.Set("Access-Control-Expose-Headers", HeaderSessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handleDelete ends the session by rotating its token.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.session.Rotate()
	s.logger.Info("MCP session rotated", "remote", r.RemoteAddr)
	s.writeRPC(w, http.StatusOK, map[string]bool{"ok": true})
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Validate(r.Header.Get(HeaderSessionID)); err != nil {
		s.logger.Warn("rejecting request for another session", "remote", r.RemoteAddr)
		s.writeJSON(w, http.StatusConflict, newError(nil, CodeInvalidRequest, "session mismatch: re-initialize without the stale Mcp-Session-Id"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBodyBytes+1))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, newError(nil, CodeParseError, "failed to read request body"))
		return
	}
	if int64(len(body)) > s.maxBodyBytes {
		s.writeJSON(w, http.StatusRequestEntityTooLarge, newError(nil, CodeInvalidRequest, "request body too large"))
		return
	}

	msgs, batch, err := decodeBody(body)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, newError(nil, CodeParseError, "parse error"))
		return
	}

	if batch {
		s.serveBatch(w, r, msgs)
		return
	}

	req, err := parseRequest(msgs[0])
	if err != nil {
		var id json.RawMessage
		if req != nil {
			id = req.ID
		}
		s.writeRPC(w, http.StatusBadRequest, newError(id, CodeInvalidRequest, "invalid request"))
		return
	}

	s.logger.Debug("MCP request", "method", req.Method, "is_notification", req.IsNotification())

	if req.Method == "tools/call" && !req.IsNotification() {
		s.serveToolCall(w, r, req)
		return
	}

	resp := s.Dispatch(r.Context(), req)
	if resp == nil {
		s.writeAccepted(w)
		return
	}
	s.writeRPC(w, http.StatusOK, resp)
}

// serveBatch dispatches each element in order and answers with the responses
// of the elements that carried an id.
func (s *Server) serveBatch(w http.ResponseWriter, r *http.Request, msgs []json.RawMessage) {
	responses := make([]*Response, 0, len(msgs))
	for _, raw := range msgs {
		req, err := parseRequest(raw)
		if err != nil {
			var id json.RawMessage
			if req != nil {
				id = req.ID
			}
			responses = append(responses, newError(id, CodeInvalidRequest, "invalid request"))
			continue
		}
		if resp := s.Dispatch(r.Context(), req); resp != nil {
			responses = append(responses, resp)
		}
	}

	s.logger.Debug("MCP batch", "messages", len(msgs), "responses", len(responses))

	if len(responses) == 0 {
		s.writeAccepted(w)
		return
	}
	s.writeRPC(w, http.StatusOK, responses)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusNotFound, map[string]string{
		"error": fmt.Sprintf("not found: %s (the MCP endpoint is %s)", r.URL.Path, Path),
	})
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", strings.Join(allowedMethods, ", "))
	s.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
		"error": fmt.Sprintf("method %s not allowed", r.Method),
	})
}

// writeRPC writes a JSON body carrying the current session id.
func (s *Server) writeRPC(w http.ResponseWriter, status int, v any) {
	w.Header().Set(HeaderSessionID, s.session.Token())
	s.writeJSON(w, status, v)
}

func (s *Server) writeAccepted(w http.ResponseWriter) {
	w.Header().Set(HeaderSessionID, s.session.Token())
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode JSON response", "error", err)
	}
}
