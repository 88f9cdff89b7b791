// ABOUTME: JSON-RPC 2.0 message types and batch decoding for the MCP endpoint.
// ABOUTME: Requests arrive singly or as arrays; notifications carry no id and get no response.

package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Request is a JSON-RPC 2.0 request or notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the message carries no id, in which case no
// response is owed.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeCallInProgress is a server-defined code returned when a tools/call
	// arrives while another one is still waiting for its reply.
	CodeCallInProgress = -32000
)

var nullID = json.RawMessage("null")

func newResult(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: responseID(id), Result: result}
}

func newError(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      responseID(id),
		Error:   &Error{Code: code, Message: message},
	}
}

func responseID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return nullID
	}
	return id
}

var errNotRequest = errors.New("message is not a JSON-RPC request object")

// decodeBody splits a POST body into raw messages. batch reports whether the
// body was a JSON array. A syntax error is returned as-is so the caller can
// answer with a parse error.
func decodeBody(body []byte) (msgs []json.RawMessage, batch bool, err error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, true, err
		}
		return msgs, true, nil
	}

	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, false, err
	}
	return []json.RawMessage{raw}, false, nil
}

// parseRequest decodes one message. Anything that is valid JSON but not an
// object with a method yields errNotRequest.
func parseRequest(raw json.RawMessage) (*Request, error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errNotRequest
	}
	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, errNotRequest
	}
	if req.Method == "" {
		return &req, errNotRequest
	}
	return &req, nil
}
