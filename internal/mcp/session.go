// ABOUTME: Session identity for the single logical MCP session on a listener.
// ABOUTME: Holds the rotating Mcp-Session-Id token and the initialized flag.

package mcp

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// HeaderSessionID is the Streamable HTTP session header.
const HeaderSessionID = "Mcp-Session-Id"

// ErrSessionMismatch is returned by Validate when an initialized session
// receives a token that is not the current one.
var ErrSessionMismatch = errors.New("session id does not match the active session")

// Session is the identity of the one session a listener serves. It lives as
// long as the listener and is never persisted.
type Session struct {
	mu          sync.RWMutex
	token       string
	initialized bool
}

// NewSession creates a session with a fresh token.
func NewSession() *Session {
	return &Session{token: uuid.New().String()}
}

// Reset gives the session a fresh token and clears the initialized flag.
// Called whenever the listener (re)starts.
func (s *Session) Reset() string {
	token := uuid.New().String()
	s.mu.Lock()
	s.token = token
	s.initialized = false
	s.mu.Unlock()
	return token
}

// Rotate replaces the token, leaving the initialized flag as it is.
// Called on an explicit session DELETE.
func (s *Session) Rotate() string {
	token := uuid.New().String()
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return token
}

// MarkInitialized records that the client completed initialize.
func (s *Session) MarkInitialized() {
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
}

// Token returns the current session token.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Initialized reports whether initialize has been processed.
func (s *Session) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Validate checks an inbound token. Requests without the header are always
// accepted because many clients omit it; before initialize every token is.
func (s *Session) Validate(token string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized || token == "" || token == s.token {
		return nil
	}
	return ErrSessionMismatch
}
