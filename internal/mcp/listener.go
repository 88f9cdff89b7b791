// ABOUTME: Listener lifecycle for the MCP server: loopback bind with port probing and fallback.
// ABOUTME: Start is restart-safe; Stop drains SSE streams and in-flight calls and is idempotent.

package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	// LoopbackHost is the only interface the listener binds.
	LoopbackHost = "127.0.0.1"

	// DefaultPortAttempts is how many consecutive ports Start tries.
	DefaultPortAttempts = 10

	shutdownTimeout = 5 * time.Second
)

// ErrNotRunning is returned by URL when the listener is not bound.
var ErrNotRunning = errors.New("MCP listener is not running")

// Start binds the listener and begins serving. It tries preferredPort and
// the next ports up to the attempt budget, skipping ports already in use,
// then falls back to an OS-assigned port. Any other bind error aborts. If the
// server is already running it is stopped first, so Start also restarts.
// The session gets a fresh token either way. Returns the bound port.
func (s *Server) Start(preferredPort int) (int, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.httpServer != nil {
		s.logger.Info("restarting MCP listener", "port", s.ActualPort())
		if err := s.stopLocked(context.Background()); err != nil {
			s.logger.Warn("stopping previous listener", "error", err)
		}
	}

	s.session.Reset()

	ln, err := acquirePort(LoopbackHost, preferredPort, s.portAttempts, s.logger)
	if err != nil {
		return 0, err
	}
	port := ln.Addr().(*net.TCPAddr).Port

	baseCtx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Handler: s.router,
		// No ReadTimeout, WriteTimeout or IdleTimeout: a tools/call may wait
		// on a human for as long as they like, and idle connections stay open.
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("MCP listener stopped", "error", err)
		}
	}()

	s.httpServer = srv
	s.baseCancel = cancel
	s.serveDone = done
	s.port.Store(int64(port))

	s.logger.Info("MCP listener started",
		"requested_port", preferredPort,
		"port", port,
		"tool", ToolName(port),
		"url", EndpointURL(port),
	)
	return port, nil
}

// Stop closes every idle SSE stream, cancels calls still waiting for a
// reply, closes the listening socket and waits for the server to finish.
// Calling Stop when not running does nothing.
func (s *Server) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	closed := s.streams.CloseAll()
	s.baseCancel()

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var stopErr error
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown incomplete, closing connections", "error", err)
		if err := s.httpServer.Close(); err != nil {
			stopErr = fmt.Errorf("closing MCP listener: %w", err)
		}
	}
	<-s.serveDone

	port := s.ActualPort()
	s.httpServer = nil
	s.baseCancel = nil
	s.serveDone = nil
	s.port.Store(0)

	s.logger.Info("MCP listener stopped", "port", port, "closed_streams", closed)
	return stopErr
}

// ActualPort returns the bound port, or 0 when not running.
func (s *Server) ActualPort() int {
	return int(s.port.Load())
}

// URL returns the endpoint URL clients should register.
func (s *Server) URL() (string, error) {
	port := s.ActualPort()
	if port == 0 {
		return "", ErrNotRunning
	}
	return EndpointURL(port), nil
}

// EndpointURL is the loopback endpoint URL for port.
func EndpointURL(port int) string {
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(LoopbackHost, strconv.Itoa(port)), Path)
}

// Running reports whether the listener is bound.
func (s *Server) Running() bool {
	return s.ActualPort() != 0
}

// acquirePort binds host:preferred, host:preferred+1, ... for attempts ports,
// moving on only when a port is in use. When every candidate is busy it binds
// port 0 and lets the OS choose.
func acquirePort(host string, preferred, attempts int, logger *slog.Logger) (net.Listener, error) {
	var lastInUse error
	for k := 0; k < attempts; k++ {
		port := preferred + k
		if port > 65535 {
			break
		}
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return ln, nil
		}
		if !isAddrInUse(err) {
			return nil, fmt.Errorf("binding port %d: %w", port, err)
		}
		logger.Debug("port in use, trying next", "port", port)
		lastInUse = err
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		if lastInUse != nil {
			return nil, fmt.Errorf("ports %d-%d in use and ephemeral fallback failed: %w",
				preferred, preferred+attempts-1, errors.Join(lastInUse, err))
		}
		return nil, fmt.Errorf("binding ephemeral port: %w", err)
	}
	if lastInUse != nil {
		logger.Warn("all candidate ports in use, using OS-assigned port",
			"first", preferred,
			"attempts", attempts,
			"port", ln.Addr().(*net.TCPAddr).Port,
		)
	}
	return ln, nil
}

func isAddrInUse(err error) bool {
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	// Windows reports WSAEADDRINUSE, which is not syscall.EADDRINUSE.
	msg := err.Error()
	return strings.Contains(msg, "address already in use") ||
		strings.Contains(msg, "Only one usage of each socket address")
}
