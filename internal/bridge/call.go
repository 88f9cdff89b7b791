// ABOUTME: Call is a tools/call as presented to the human.
// ABOUTME: Resolve maps a typed reply onto the offered choices and default feedback.

package bridge

import (
	"strconv"
	"strings"
	"time"
)

// Call is one tools/call waiting for a human reply.
type Call struct {
	ID              string
	Title           string
	Summary         string
	Choices         []string
	DefaultFeedback string
	Started         time.Time
}

// Resolve turns what the human typed into the reply sent to the agent.
// A number between 1 and len(Choices) picks that choice. A blank reply
// becomes DefaultFeedback when one was offered. Anything else is returned
// unchanged.
func (c *Call) Resolve(reply string) string {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		if c.DefaultFeedback != "" {
			return c.DefaultFeedback
		}
		return reply
	}
	if n, err := strconv.Atoi(trimmed); err == nil && n >= 1 && n <= len(c.Choices) {
		return c.Choices[n-1]
	}
	return reply
}
