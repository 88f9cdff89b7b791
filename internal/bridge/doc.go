// Package bridge hands tools/call requests to a human and carries their
// replies back.
//
// A Bridge holds at most one pending call. When a call arrives it is shown
// on the registered Surface and Handle blocks until Submit supplies a reply,
// Cancel resolves it with an empty string, or the caller's context ends.
//
// Replies submitted while nothing is pending are queued. The next call takes
// the oldest queued reply immediately and is never shown as waiting.
//
// Typical wiring:
//
//	b := bridge.New(bridge.Config{Logger: logger, Surface: console})
//	srv.SetToolCallHandler(b.Handle)
//	srv.SetToolCallCancelHandler(func() { b.Cancel() })
//
//	// elsewhere, for each line the human types:
//	b.Submit(line)
package bridge
