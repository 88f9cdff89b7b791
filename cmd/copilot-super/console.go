// ABOUTME: Terminal reply surface: shows pending tool calls and submits typed lines.
// ABOUTME: Lines typed with no call pending are queued for the next call.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/copilot-super/internal/bridge"
)

const consoleHelp = `Type a reply and press Enter. With choices, a number picks that choice.
An empty line sends the default feedback when the call offers one.
Commands:
  /queue    show queued replies
  /clear    drop queued replies
  /cancel   answer the waiting call with an empty reply
  /help     show this help
`

// maxLineBytes bounds a single typed reply.
const maxLineBytes = 1 << 20

// console is a bridge.Surface that writes to a terminal.
type console struct {
	mu  sync.Mutex
	out io.Writer

	title  *color.Color
	dim    *color.Color
	accent *color.Color
	ok     *color.Color
	warn   *color.Color
}

func newConsole(out io.Writer) *console {
	return &console{
		out:    out,
		title:  color.New(color.FgCyan, color.Bold),
		dim:    color.New(color.FgHiBlack),
		accent: color.New(color.FgYellow),
		ok:     color.New(color.FgGreen),
		warn:   color.New(color.FgRed),
	}
}

func (c *console) ShowCall(call bridge.Call) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(c.out)
	c.title.Fprintf(c.out, "● %s\n", call.Title)
	if call.Summary != "" {
		for _, line := range strings.Split(strings.TrimRight(call.Summary, "\n"), "\n") {
			fmt.Fprintf(c.out, "  %s\n", line)
		}
	}
	for i, choice := range call.Choices {
		c.accent.Fprintf(c.out, "  %d) ", i+1)
		fmt.Fprintln(c.out, choice)
	}
	if call.DefaultFeedback != "" {
		c.dim.Fprintf(c.out, "  [Enter] %s\n", call.DefaultFeedback)
	}
	c.dim.Fprint(c.out, "reply> ")
}

func (c *console) DismissCall(call bridge.Call, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch reason {
	case bridge.ReasonAnswered:
		c.ok.Fprintf(c.out, "✓ reply sent for %q\n", call.Title)
	case bridge.ReasonCancelled:
		c.warn.Fprintf(c.out, "\n✗ %q was cancelled\n", call.Title)
	default:
		c.dim.Fprintf(c.out, "\n- %q closed\n", call.Title)
	}
}

func (c *console) ReplyQueued(_ string, depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dim.Fprintf(c.out, "queued for the next call (%d waiting)\n", depth)
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// run reads lines from in until EOF or ctx ends and hands each one to b.
func (c *console) run(ctx context.Context, in io.Reader, b *bridge.Bridge) error {
	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimRight(scanner.Text(), "\r"):
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if err != nil {
				return fmt.Errorf("reading replies: %w", err)
			}
			return nil
		case line := <-lines:
			if err := c.handleLine(line, b); err != nil {
				return err
			}
		}
	}
}

func (c *console) handleLine(line string, b *bridge.Bridge) error {
	switch strings.TrimSpace(line) {
	case "/help":
		c.printf("%s", consoleHelp)
		return nil
	case "/queue":
		queued := b.Queued()
		if len(queued) == 0 {
			c.printf("no queued replies\n")
			return nil
		}
		for i, reply := range queued {
			c.printf("  %d. %s\n", i+1, reply)
		}
		return nil
	case "/clear":
		c.printf("dropped %d queued replies\n", b.ClearQueue())
		return nil
	case "/cancel":
		if !b.Cancel() {
			c.printf("no call is waiting\n")
		}
		return nil
	}

	if _, err := b.Submit(line); err != nil {
		return fmt.Errorf("submitting reply: %w", err)
	}
	return nil
}
