// ABOUTME: SSE response paths: the idle GET stream and the framed tools/call stream.
// ABOUTME: Both keep intermediaries from timing out with periodic comment frames.

package mcp

import (
	"encoding/json"
	"net/http"

	"github.com/2389/copilot-super/internal/sse"
)

// handleStream holds open an idle SSE stream until the client leaves or the
// listener stops. Nothing but heartbeats is ever sent on it.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx, release := s.streams.Add(r.Context())
	defer release()

	w.Header().Set(HeaderSessionID, s.session.Token())
	stream, err := sse.Open(w, s.clock, s.heartbeat, "heartbeat")
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, newError(nil, CodeInternalError, err.Error()))
		return
	}
	defer stream.Close()

	s.logger.Debug("idle SSE stream opened", "remote", r.RemoteAddr, "open_streams", s.streams.Len())

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("idle SSE stream closed", "remote", r.RemoteAddr)
			return
		case <-stream.Beats():
			if err := stream.Beat(); err != nil {
				s.logger.Debug("idle SSE heartbeat failed", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}

// serveToolCall answers a single tools/call over SSE. Headers go out before
// the reply exists and keepalive comments follow every interval, so clients
// with header or body progress timeouts keep waiting for the human. If the
// client disconnects first, Dispatch cancels the call and nothing more is
// written.
func (s *Server) serveToolCall(w http.ResponseWriter, r *http.Request, req *Request) {
	ctx := r.Context()

	w.Header().Set(HeaderSessionID, s.session.Token())
	stream, err := sse.Open(w, s.clock, s.keepalive, "keepalive")
	if err != nil {
		s.logger.Warn("SSE unavailable, answering tools/call with plain JSON", "error", err)
		if resp := s.Dispatch(ctx, req); resp != nil {
			s.writeRPC(w, http.StatusOK, resp)
		}
		return
	}
	defer stream.Close()

	done := make(chan *Response, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("tools/call dispatch panicked", "panic", rec)
				done <- newError(req.ID, CodeInternalError, "internal error")
			}
		}()
		done <- s.Dispatch(ctx, req)
	}()

	for {
		select {
		case resp := <-done:
			if resp == nil || ctx.Err() != nil {
				return
			}
			data, err := json.Marshal(resp)
			if err != nil {
				s.logger.Error("failed to encode tools/call response", "error", err)
				data, _ = json.Marshal(newError(req.ID, CodeInternalError, "internal error"))
			}
			if err := stream.Send(data); err != nil {
				s.logger.Debug("tools/call response not delivered", "error", err)
			}
			return

		case <-stream.Beats():
			if err := stream.Beat(); err != nil {
				// The client is gone; Dispatch sees ctx end and returns nil.
				s.logger.Debug("tools/call keepalive failed", "error", err)
			}
		}
	}
}
