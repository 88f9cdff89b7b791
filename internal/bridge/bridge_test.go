// ABOUTME: Tests for the bridge's pending slot, reply queue, and cancellation.
// ABOUTME: Includes end-to-end runs through the MCP server handler.

package bridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/copilot-super/internal/mcp"
)

type surfaceEvent struct {
	kind   string
	title  string
	reason string
	depth  int
}

// recordingSurface remembers everything the bridge showed.
type recordingSurface struct {
	mu     sync.Mutex
	events []surfaceEvent
}

func (s *recordingSurface) ShowCall(call Call) {
	s.record(surfaceEvent{kind: "show", title: call.Title})
}

func (s *recordingSurface) DismissCall(call Call, reason string) {
	s.record(surfaceEvent{kind: "dismiss", title: call.Title, reason: reason})
}

func (s *recordingSurface) ReplyQueued(_ string, depth int) {
	s.record(surfaceEvent{kind: "queued", depth: depth})
}

func (s *recordingSurface) record(e surfaceEvent) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSurface) Events() []surfaceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]surfaceEvent(nil), s.events...)
}

func newTestBridge(t *testing.T) (*Bridge, *recordingSurface) {
	t.Helper()
	surface := &recordingSurface{}
	b := New(Config{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Surface: surface,
		Clock:   clockwork.NewFakeClock(),
	})
	return b, surface
}

type handleResult struct {
	reply string
	err   error
}

// handleAsync starts Handle and waits until the call is pending.
func handleAsync(t *testing.T, b *Bridge, ctx context.Context, args mcp.ToolCallArgs) <-chan handleResult {
	t.Helper()
	out := make(chan handleResult, 1)
	go func() {
		reply, err := b.Handle(ctx, args)
		out <- handleResult{reply: reply, err: err}
	}()
	require.Eventually(t, func() bool {
		_, ok := b.Pending()
		return ok
	}, time.Second, 5*time.Millisecond)
	return out
}

func waitResult(t *testing.T, ch <-chan handleResult) handleResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("Handle did not return")
		return handleResult{}
	}
}

func TestSubmitResolvesPendingCall(t *testing.T) {
	b, surface := newTestBridge(t)

	done := handleAsync(t, b, context.Background(), mcp.ToolCallArgs{
		Title:   "Pick one",
		Choices: []string{"red", "blue"},
	})

	call, ok := b.Pending()
	require.True(t, ok)
	assert.Equal(t, "Pick one", call.Title)
	assert.NotEmpty(t, call.ID)

	queued, err := b.Submit("2")
	require.NoError(t, err)
	assert.False(t, queued)

	res := waitResult(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, "blue", res.reply)

	_, ok = b.Pending()
	assert.False(t, ok)
	want := []surfaceEvent{
		{kind: "show", title: "Pick one"},
		{kind: "dismiss", title: "Pick one", reason: ReasonAnswered},
	}
	if diff := cmp.Diff(want, surface.Events(), cmp.AllowUnexported(surfaceEvent{})); diff != "" {
		t.Errorf("surface events mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitBlankUsesDefaultFeedback(t *testing.T) {
	b, _ := newTestBridge(t)
	done := handleAsync(t, b, context.Background(), mcp.ToolCallArgs{Title: "Review", DefaultFeedback: "LGTM"})

	_, err := b.Submit("")
	require.NoError(t, err)
	assert.Equal(t, "LGTM", waitResult(t, done).reply)
}

func TestQueuedRepliesAreFIFO(t *testing.T) {
	b, surface := newTestBridge(t)

	for _, reply := range []string{"first", "second"} {
		queued, err := b.Submit(reply)
		require.NoError(t, err)
		assert.True(t, queued)
	}
	assert.Equal(t, []string{"first", "second"}, b.Queued())

	reply, err := b.Handle(context.Background(), mcp.ToolCallArgs{Title: "a"})
	require.NoError(t, err)
	assert.Equal(t, "first", reply)
	assert.Equal(t, 1, b.QueueLen())

	reply, err = b.Handle(context.Background(), mcp.ToolCallArgs{Title: "b"})
	require.NoError(t, err)
	assert.Equal(t, "second", reply)
	assert.Zero(t, b.QueueLen())

	// Queued answers never surface a waiting call.
	for _, e := range surface.Events() {
		assert.Equal(t, "queued", e.kind)
	}
}

func TestBlankSubmitWithNothingPendingIsDropped(t *testing.T) {
	b, surface := newTestBridge(t)
	queued, err := b.Submit("")
	require.NoError(t, err)
	assert.False(t, queued)
	assert.Zero(t, b.QueueLen())
	assert.Empty(t, surface.Events())
}

func TestClearQueue(t *testing.T) {
	b, _ := newTestBridge(t)
	_, _ = b.Submit("x")
	_, _ = b.Submit("y")
	assert.Equal(t, 2, b.ClearQueue())
	assert.Zero(t, b.QueueLen())
	assert.Zero(t, b.ClearQueue())
}

func TestCancel(t *testing.T) {
	b, surface := newTestBridge(t)
	assert.False(t, b.Cancel(), "nothing pending")

	done := handleAsync(t, b, context.Background(), mcp.ToolCallArgs{Title: "Wait"})
	assert.True(t, b.Cancel())
	assert.False(t, b.Cancel(), "second cancel is a no-op")

	res := waitResult(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, "", res.reply)

	events := surface.Events()
	require.Len(t, events, 2)
	assert.Equal(t, ReasonCancelled, events[1].reason)

	// A reply after cancellation is queued for the next call.
	queued, err := b.Submit("late")
	require.NoError(t, err)
	assert.True(t, queued)
}

func TestHandleRejectsSecondCall(t *testing.T) {
	b, _ := newTestBridge(t)
	done := handleAsync(t, b, context.Background(), mcp.ToolCallArgs{Title: "one"})

	_, err := b.Handle(context.Background(), mcp.ToolCallArgs{Title: "two"})
	assert.ErrorIs(t, err, ErrCallInProgress)

	_, err = b.Submit("ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", waitResult(t, done).reply)
}

func TestHandleContextEnd(t *testing.T) {
	b, surface := newTestBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := handleAsync(t, b, ctx, mcp.ToolCallArgs{Title: "gone"})

	cancel()
	res := waitResult(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, "", res.reply)

	_, ok := b.Pending()
	assert.False(t, ok)
	assert.False(t, b.Cancel())
	require.Eventually(t, func() bool { return len(surface.Events()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ReasonCancelled, surface.Events()[1].reason)
}

func TestClose(t *testing.T) {
	b, _ := newTestBridge(t)
	done := handleAsync(t, b, context.Background(), mcp.ToolCallArgs{Title: "open"})

	b.Close()
	b.Close()

	assert.ErrorIs(t, waitResult(t, done).err, ErrClosed)

	_, err := b.Submit("after")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = b.Handle(context.Background(), mcp.ToolCallArgs{Title: "after"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseDropsQueue(t *testing.T) {
	b, _ := newTestBridge(t)
	_, _ = b.Submit("dropped")
	b.Close()
	assert.Zero(t, b.QueueLen())
}

// newWiredServer connects a bridge to an MCP server the way the binary does.
func newWiredServer(t *testing.T) (*mcp.Server, *Bridge) {
	t.Helper()
	b, _ := newTestBridge(t)
	srv, err := mcp.NewServer(mcp.Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:  clockwork.NewFakeClock(),
	})
	require.NoError(t, err)
	srv.SetToolCallHandler(b.Handle)
	srv.SetToolCallCancelHandler(func() { b.Cancel() })
	return srv, b
}

func callRequest(t *testing.T, id int, name, title string) *mcp.Request {
	t.Helper()
	body := `{"jsonrpc":"2.0","id":` + strconv.Itoa(id) + `,"method":"tools/call","params":{"name":"` + name + `","arguments":{"title":"` + title + `"}}}`
	var req mcp.Request
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	return &req
}

func replyText(t *testing.T, resp *mcp.Response) string {
	t.Helper()
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(mcp.CallToolResult)
	require.True(t, ok, "unexpected result type %T", resp.Result)
	require.Len(t, result.Content, 1)
	return result.Content[0].Text
}

func TestServerConsumesQueuedRepliesInOrder(t *testing.T) {
	srv, b := newWiredServer(t)
	name := mcp.ToolName(srv.ActualPort())

	_, _ = b.Submit("alpha")
	_, _ = b.Submit("beta")

	assert.Equal(t, "alpha", replyText(t, srv.Dispatch(context.Background(), callRequest(t, 1, name, "one"))))
	assert.Equal(t, "beta", replyText(t, srv.Dispatch(context.Background(), callRequest(t, 2, name, "two"))))
	assert.Zero(t, b.QueueLen())
}

func TestServerStreamsSubmittedReply(t *testing.T) {
	srv, b := newWiredServer(t)
	name := mcp.ToolName(srv.ActualPort())

	go func() {
		for {
			if _, ok := b.Pending(); ok {
				_, _ = b.Submit("from the human")
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"` + name + `","arguments":{"title":"Ask"}}}`
	req := httptest.NewRequest(http.MethodPost, mcp.Path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), `"text":"from the human"`)
}

func TestServerDisconnectCancelsBridgeCall(t *testing.T) {
	srv, b := newWiredServer(t)
	name := mcp.ToolName(srv.ActualPort())

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan *mcp.Response, 1)
	go func() { got <- srv.Dispatch(ctx, callRequest(t, 1, name, "Leave")) }()

	require.Eventually(t, func() bool {
		_, ok := b.Pending()
		return ok
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case resp := <-got:
		assert.Nil(t, resp)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not return")
	}
	_, ok := b.Pending()
	assert.False(t, ok)
	assert.False(t, srv.CallPending())

	// The next reply waits for the next call instead of reaching the old one.
	queued, err := b.Submit("later")
	require.NoError(t, err)
	assert.True(t, queued)
}
