// ABOUTME: Shared helpers for MCP server tests.
// ABOUTME: Builds quiet servers and decodes JSON and SSE responses.

package mcp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// rawResponse keeps result undecoded so tests can pick the shape.
type rawResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer creates a server that believes it is bound to port.
func newTestServer(t *testing.T, port int) *Server {
	t.Helper()
	s, err := NewServer(Config{Logger: quietLogger(), Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	s.port.Store(int64(port))
	return s
}

func post(t *testing.T, s *Server, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, Path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, body io.Reader) rawResponse {
	t.Helper()
	var resp rawResponse
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	return resp
}

func decodeToolResult(t *testing.T, resp rawResponse) CallToolResult {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	var result CallToolResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	return result
}

// sseDataFrames returns the payloads of every data frame in an SSE body.
func sseDataFrames(body string) []string {
	var frames []string
	for _, line := range strings.Split(body, "\n") {
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			frames = append(frames, data)
		}
	}
	return frames
}

// readFrame reads lines up to the blank line that ends an SSE frame.
func readFrame(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var lines []string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			return strings.Join(lines, "\n")
		}
		lines = append(lines, line)
	}
}

func callBody(id any, name, args string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%v,"method":"tools/call","params":{"name":%q,"arguments":%s}}`, id, name, args)
}

func callRequest(id any, name, args string) *Request {
	var req Request
	if err := json.Unmarshal([]byte(callBody(id, name, args)), &req); err != nil {
		panic(err)
	}
	return &req
}
