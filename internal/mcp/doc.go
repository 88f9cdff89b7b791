// Package mcp implements the MCP Streamable HTTP endpoint that lets a remote
// agent hand control back to a human.
//
// # Overview
//
// A Server exposes exactly one tool. When the agent calls it, the call blocks
// until the host application supplies the human's reply. The whole exchange
// is one logical session multiplexed over repeated HTTP requests on a single
// path, plus an optional idle SSE stream.
//
// # Protocol
//
// JSON-RPC 2.0 over HTTP on 127.0.0.1:<port>/mcp:
//
//   - OPTIONS /mcp - CORS preflight, 204
//   - GET /mcp - idle SSE stream, ": heartbeat" every 15s
//   - POST /mcp - JSON-RPC request, notification or batch
//   - DELETE /mcp - end the session (rotates the session id)
//
// Supported methods are initialize, tools/list, tools/call and ping.
// Notifications are accepted with 202 and never answered.
//
// # Sessions
//
// Every response carries the current Mcp-Session-Id. After initialize, a
// POST that presents a different id gets 409. A POST without the header is
// always accepted, since many clients never send it.
//
// # Tool Naming
//
// Several instances can run side by side on ports 55433..55442. The tool name
// encodes which one:
//
//	port 55433 -> copilot_super_1
//	port 55442 -> copilot_super_10
//	port 61234 -> copilot_super_61234 (OS-assigned fallback)
//
// # Tool Execution
//
// A single tools/call POST is answered as an SSE stream. Headers are flushed
// immediately, a ": keepalive" comment follows every 120s, and the response
// arrives as one data frame:
//
//	data: {"jsonrpc":"2.0","id":2,"result":{"content":[{"type":"text","text":"ship it"}]}}
//
// Handler errors come back as results with isError set so the agent can read
// them. If the client disconnects first, the cancel handler runs once and the
// eventual reply is dropped. Only one tools/call may wait at a time; a second
// one gets error -32000.
//
// # Usage
//
//	srv, err := mcp.NewServer(mcp.Config{Logger: logger})
//	b := bridge.New(bridge.Config{Logger: logger, Surface: surface})
//	srv.SetToolCallHandler(b.Handle)
//	srv.SetToolCallCancelHandler(func() { b.Cancel() })
//	port, err := srv.Start(mcp.DefaultPort)
//	defer srv.Stop(context.Background())
package mcp
