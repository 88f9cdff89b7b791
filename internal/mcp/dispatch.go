// ABOUTME: JSON-RPC method table for the MCP endpoint: initialize, tools/list, tools/call, ping.
// ABOUTME: tools/call suspends on the registered handler until it replies or the client goes away.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-06-18": true,
	"2025-11-25": true,
}

// defaultProtocolVersion is answered when the client asks for a version we
// don't know.
const defaultProtocolVersion = "2025-03-26"

// ToolCallHandler produces the reply for a tools/call. It may block for as
// long as the human takes. ctx ends when the client disconnects.
type ToolCallHandler func(ctx context.Context, args ToolCallArgs) (string, error)

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

// pendingCall is the one tools/call allowed to wait for a reply at a time.
type pendingCall struct {
	id      json.RawMessage
	started time.Time
}

type callOutcome struct {
	reply    string
	err      error
	panicked bool
}

// Dispatch processes one message and returns its response, or nil when no
// response is owed: the message was a notification, or it was a tools/call
// whose client disconnected before the reply arrived.
func (s *Server) Dispatch(ctx context.Context, req *Request) *Response {
	if req.IsNotification() {
		s.logger.Debug("accepted MCP notification", "method", req.Method)
		return nil
	}
	if req.JSONRPC != "2.0" {
		return newError(req.ID, CodeInvalidRequest, "invalid JSON-RPC version")
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "ping":
		return newResult(req.ID, struct{}{})
	default:
		return newError(req.ID, CodeMethodNotFound, "method not found")
	}
}

func (s *Server) handleInitialize(req *Request) *Response {
	var params initializeParams
	if len(req.Params) > 0 {
		// Unknown shapes still get a session; the version just falls back.
		_ = json.Unmarshal(req.Params, &params)
	}

	version := defaultProtocolVersion
	if supportedProtocolVersions[params.ProtocolVersion] {
		version = params.ProtocolVersion
	}

	s.session.MarkInitialized()
	s.logger.Info("MCP session initialized",
		"client", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version,
		"protocol_version", version,
		"tool", ToolName(s.ActualPort()),
	)

	return newResult(req.ID, map[string]any{
		"protocolVersion": version,
		"capabilities": map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
		"serverInfo": map[string]any{
			"name":    s.serverName,
			"version": s.serverVersion,
		},
	})
}

func (s *Server) handleToolsList(req *Request) *Response {
	return newResult(req.ID, ListToolsResult{
		Tools: []ToolInfo{toolInfo(s.ActualPort())},
	})
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return newError(req.ID, CodeInvalidParams, "invalid params")
		}
	}

	if want := ToolName(s.ActualPort()); params.Name != want {
		return newError(req.ID, CodeInvalidParams, fmt.Sprintf("unknown tool: %q", params.Name))
	}

	args, err := decodeToolCallArgs(params.Arguments)
	if err != nil {
		return newError(req.ID, CodeInvalidParams, fmt.Sprintf("invalid arguments: %v", err))
	}

	handler := s.toolCallHandler()
	if handler == nil {
		return newResult(req.ID, errorResult("No reply handler is registered, so nobody can answer this call."))
	}
	if args.Title == "" {
		return newResult(req.ID, errorResult("The title argument is required."))
	}

	if !s.claimCall(req.ID) {
		return newError(req.ID, CodeCallInProgress, "a tool call is already waiting for a reply")
	}
	defer s.releaseCall()

	s.logger.Info("tools/call waiting for reply", "title", args.Title, "choices", len(args.Choices))

	outcome := make(chan callOutcome, 1)
	go s.runHandler(ctx, handler, args, outcome)

	select {
	case out := <-outcome:
		if ctx.Err() != nil {
			return s.cancelCall(args)
		}
		switch {
		case out.panicked:
			return newError(req.ID, CodeInternalError, "internal error")
		case out.err != nil:
			s.logger.Warn("tools/call handler failed", "error", out.err)
			return newResult(req.ID, errorResult(fmt.Sprintf("Tool call failed: %v", out.err)))
		}
		s.logger.Info("tools/call answered", "reply_len", len(out.reply))
		return newResult(req.ID, textResult(out.reply))

	case <-ctx.Done():
		return s.cancelCall(args)
	}
}

// cancelCall tells the host the client has gone. Whatever the handler
// returns afterwards is discarded.
func (s *Server) cancelCall(args ToolCallArgs) *Response {
	s.logger.Info("tools/call cancelled: client disconnected", "title", args.Title)
	if cancel := s.toolCallCancelHandler(); cancel != nil {
		cancel()
	}
	return nil
}

// runHandler calls the handler, turning a panic into an outcome so a broken
// handler can't take the listener down.
func (s *Server) runHandler(ctx context.Context, handler ToolCallHandler, args ToolCallArgs, out chan<- callOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("tools/call handler panicked", "panic", rec)
			out <- callOutcome{panicked: true}
		}
	}()
	reply, err := handler(ctx, args)
	out <- callOutcome{reply: reply, err: err}
}

// claimCall takes the pending-call slot. It fails if another call holds it.
func (s *Server) claimCall(id json.RawMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.logger.Warn("rejecting concurrent tools/call",
			"pending_id", string(s.pending.id),
			"pending_for", s.clock.Since(s.pending.started).Round(time.Second),
		)
		return false
	}
	s.pending = &pendingCall{id: id, started: s.clock.Now()}
	return true
}

func (s *Server) releaseCall() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// CallPending reports whether a tools/call is waiting for its reply.
func (s *Server) CallPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}
