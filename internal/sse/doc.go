// Package sse frames Server-Sent Events streams for the MCP listener.
//
// Two kinds of stream use it: the idle GET stream a client keeps open on
// /mcp, and the short-lived stream that carries a single tools/call result.
// Both only ever need comment frames (": heartbeat") and data frames
// ("data: <json>"), so no event names or ids are emitted.
//
// Each Stream owns its keepalive ticker. Closing the stream stops the ticker,
// so a stream's timer never outlives the request that created it. Tickers
// come from a clockwork.Clock, which lets tests drive the 15s and 120s
// intervals with a fake clock.
//
// Set tracks the idle GET streams so the listener can drop all of them on
// shutdown.
package sse
