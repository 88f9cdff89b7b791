// ABOUTME: Server-Sent Events framing over an http.ResponseWriter.
// ABOUTME: Each Stream owns the keepalive ticker that paces its comment frames.

package sse

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// Stream is an open SSE response. Only one goroutine may write to it.
type Stream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	ticker  clockwork.Ticker
	comment string
	once    sync.Once
}

// Open writes the SSE response headers with status 200, flushes them so the
// client sees them before any data exists, and starts a ticker that fires
// every interval. Callers set any extra headers on w before calling Open.
func Open(w http.ResponseWriter, clock clockwork.Clock, interval time.Duration, comment string) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // Disable nginx buffering

	s := &Stream{
		w:       w,
		flusher: flusher,
		rc:      http.NewResponseController(w),
		comment: comment,
	}

	w.WriteHeader(http.StatusOK)
	s.flush()

	s.ticker = clock.NewTicker(interval)
	return s, nil
}

// Beats fires every keepalive interval until Close.
func (s *Stream) Beats() <-chan time.Time {
	return s.ticker.Chan()
}

// Beat writes the stream's keepalive comment frame.
func (s *Stream) Beat() error {
	return s.Comment(s.comment)
}

// Comment writes a comment-only frame. Clients ignore it; intermediaries see
// the body make progress.
func (s *Stream) Comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Send writes one data frame. data must not contain newlines.
func (s *Stream) Send(data []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Close stops the keepalive ticker. It does not end the HTTP response; that
// happens when the handler returns. Safe to call more than once.
func (s *Stream) Close() {
	s.once.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
	})
}

func (s *Stream) flush() {
	// ResponseController sees through middleware wrappers; fall back to the
	// plain Flusher when it can't.
	if err := s.rc.Flush(); err != nil {
		s.flusher.Flush()
	}
}
