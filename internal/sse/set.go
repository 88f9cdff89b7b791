// ABOUTME: Registry of open idle SSE streams on the MCP listener.
// ABOUTME: CloseAll cancels every member so their handlers return and the connections end.

package sse

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Set tracks the idle GET streams currently open on a listener.
type Set struct {
	mu      sync.Mutex
	streams map[string]context.CancelFunc
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{streams: make(map[string]context.CancelFunc)}
}

// Add registers a stream. The returned context is cancelled when the parent
// ends or CloseAll runs; the handler selects on it. release deregisters the
// stream and must be called when the handler returns.
func (s *Set) Add(parent context.Context) (ctx context.Context, release func()) {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.New().String()

	s.mu.Lock()
	s.streams[id] = cancel
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		delete(s.streams, id)
		s.mu.Unlock()
		cancel()
	}
}

// CloseAll cancels every registered stream and empties the set. It returns
// how many streams were closed.
func (s *Set) CloseAll() int {
	s.mu.Lock()
	streams := s.streams
	s.streams = make(map[string]context.CancelFunc)
	s.mu.Unlock()

	for _, cancel := range streams {
		cancel()
	}
	return len(streams)
}

// Len returns the number of open streams.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}
