// ABOUTME: Bridge routes replies from a human surface to the single pending tools/call.
// ABOUTME: Replies typed with no call pending are queued FIFO for the next call.

package bridge

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/2389/copilot-super/internal/mcp"
)

var (
	// ErrCallInProgress is returned by Handle when another call is pending.
	ErrCallInProgress = errors.New("a call is already waiting for a reply")

	// ErrClosed is returned once the bridge has been closed.
	ErrClosed = errors.New("bridge closed")
)

// Dismissal reasons passed to Surface.DismissCall.
const (
	ReasonAnswered  = "answered"
	ReasonCancelled = "cancelled"
	ReasonClosed    = "closed"
)

// Surface is the human-facing side of the bridge. Methods are called without
// the bridge lock held and must not block for long.
type Surface interface {
	// ShowCall presents a call that is waiting for a reply.
	ShowCall(call Call)
	// DismissCall removes a call from view once it no longer needs a reply.
	DismissCall(call Call, reason string)
	// ReplyQueued reports a reply stored for a future call.
	ReplyQueued(reply string, depth int)
}

// Config configures a Bridge.
type Config struct {
	Logger  *slog.Logger
	Surface Surface         // Optional; calls still resolve without one
	Clock   clockwork.Clock // Stamps Call.Started; real clock when nil
}

type result struct {
	reply string
	err   error
}

// waiter is the pending call and the channel its reply arrives on.
type waiter struct {
	call  Call
	reply chan result
}

// Bridge serializes tools/call requests onto one human.
type Bridge struct {
	logger  *slog.Logger
	surface Surface
	clock   clockwork.Clock

	mu      sync.Mutex
	pending *waiter
	queue   *list.List // of string, oldest at front
	closed  bool
}

// New creates a bridge.
func New(cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Bridge{
		logger:  logger.With("component", "bridge"),
		surface: cfg.Surface,
		clock:   clock,
		queue:   list.New(),
	}
}

// Handle is an mcp.ToolCallHandler. It returns the oldest queued reply if
// there is one; otherwise it shows the call and waits for Submit, Cancel,
// Close or the end of ctx. A cancelled call resolves to "".
func (b *Bridge) Handle(ctx context.Context, args mcp.ToolCallArgs) (string, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", ErrClosed
	}
	if b.pending != nil {
		b.mu.Unlock()
		return "", ErrCallInProgress
	}
	if front := b.queue.Front(); front != nil {
		reply := b.queue.Remove(front).(string)
		depth := b.queue.Len()
		b.mu.Unlock()
		b.logger.Info("answered call from queue", "title", args.Title, "queued", depth)
		return reply, nil
	}

	w := &waiter{
		call: Call{
			ID:              uuid.New().String(),
			Title:           args.Title,
			Summary:         args.Summary,
			Choices:         append([]string(nil), args.Choices...),
			DefaultFeedback: args.DefaultFeedback,
			Started:         b.clock.Now(),
		},
		reply: make(chan result, 1),
	}
	b.pending = w
	b.mu.Unlock()

	b.logger.Info("call waiting for reply", "call_id", w.call.ID, "title", w.call.Title)
	if b.surface != nil {
		b.surface.ShowCall(w.call)
	}

	select {
	case res := <-w.reply:
		return res.reply, res.err
	case <-ctx.Done():
		// Cancel may have won the race and already dismissed the call.
		if b.detach(w) {
			b.logger.Info("call abandoned by caller", "call_id", w.call.ID)
			b.dismiss(w.call, ReasonCancelled)
		}
		return "", nil
	}
}

// Submit delivers a reply. If a call is pending it is resolved with the
// reply mapped through Call.Resolve and queued is false. Otherwise a
// non-blank reply is queued for the next call. Blank replies with nothing
// pending are dropped.
func (b *Bridge) Submit(reply string) (queued bool, err error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false, ErrClosed
	}

	if w := b.pending; w != nil {
		b.pending = nil
		b.mu.Unlock()

		answer := w.call.Resolve(reply)
		w.reply <- result{reply: answer}
		b.logger.Info("call answered", "call_id", w.call.ID, "elapsed", b.clock.Since(w.call.Started))
		b.dismiss(w.call, ReasonAnswered)
		return false, nil
	}

	if reply == "" {
		b.mu.Unlock()
		return false, nil
	}
	b.queue.PushBack(reply)
	depth := b.queue.Len()
	b.mu.Unlock()

	b.logger.Debug("reply queued", "queued", depth)
	if b.surface != nil {
		b.surface.ReplyQueued(reply, depth)
	}
	return true, nil
}

// Cancel resolves the pending call with an empty reply. It reports whether
// there was a call to cancel; calling it again, or with nothing pending,
// does nothing.
func (b *Bridge) Cancel() bool {
	b.mu.Lock()
	w := b.pending
	b.pending = nil
	b.mu.Unlock()

	if w == nil {
		return false
	}
	w.reply <- result{}
	b.logger.Info("call cancelled", "call_id", w.call.ID)
	b.dismiss(w.call, ReasonCancelled)
	return true
}

// Close fails the pending call with ErrClosed, drops queued replies and
// makes every later Handle and Submit fail.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	w := b.pending
	b.pending = nil
	b.queue.Init()
	b.mu.Unlock()

	if w != nil {
		w.reply <- result{err: ErrClosed}
		b.dismiss(w.call, ReasonClosed)
	}
}

// Pending returns the call waiting for a reply, if any.
func (b *Bridge) Pending() (Call, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		return Call{}, false
	}
	return b.pending.call, true
}

// Queued returns the queued replies, oldest first.
func (b *Bridge) Queued() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, b.queue.Len())
	for e := b.queue.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out
}

// QueueLen returns the number of queued replies.
func (b *Bridge) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.Len()
}

// ClearQueue drops every queued reply and returns how many there were.
func (b *Bridge) ClearQueue() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.queue.Len()
	b.queue.Init()
	return n
}

// detach clears w if it is still the pending call.
func (b *Bridge) detach(w *waiter) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending != w {
		return false
	}
	b.pending = nil
	return true
}

func (b *Bridge) dismiss(call Call, reason string) {
	if b.surface != nil {
		b.surface.DismissCall(call, reason)
	}
}
