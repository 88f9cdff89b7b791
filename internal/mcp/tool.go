// ABOUTME: The single human-reply tool a listener exposes, named from its bound port.
// ABOUTME: Defines the tool schema, call arguments, and MCP tool result shapes.

package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// DefaultPort is the first port tried when nothing is configured.
	DefaultPort = 55433

	// instanceBasePort is subtracted from the bound port to get the instance
	// index, so DefaultPort is instance 1.
	instanceBasePort = 55432

	maxFixedInstance = 10

	toolNamePrefix        = "copilot_super_"
	registrationKeyPrefix = "copilot-super-"
)

// InstanceIndex identifies which of several concurrently running instances
// owns a port. Ports 55433..55442 map to 1..10; anything else (an OS-assigned
// fallback port) is its own index.
func InstanceIndex(port int) int {
	if idx := port - instanceBasePort; idx >= 1 && idx <= maxFixedInstance {
		return idx
	}
	return port
}

// ToolName is the snake_case tool name for the instance bound to port.
func ToolName(port int) string {
	return fmt.Sprintf("%s%d", toolNamePrefix, InstanceIndex(port))
}

// RegistrationKey is the kebab-case name MCP client configs use for the
// instance bound to port.
func RegistrationKey(port int) string {
	return fmt.Sprintf("%s%d", registrationKeyPrefix, InstanceIndex(port))
}

// ToolInfo is an MCP tool definition.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsResult is the result for tools/list.
type ListToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

// CallToolParams are the params for tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the result for tools/call.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents content in a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolCallArgs are the arguments the agent passes when it asks for a reply.
type ToolCallArgs struct {
	Title           string   `json:"title"`
	Summary         string   `json:"summary,omitempty"`
	Choices         []string `json:"choices,omitempty"`
	DefaultFeedback string   `json:"default_feedback,omitempty"`
}

const toolDescription = "Hand control back to the human operator and wait for their reply. " +
	"Call this when you have finished a unit of work, need a decision, or want feedback. " +
	"Give a short title, optionally a summary of what you did and a list of choices the " +
	"operator can pick from. The call blocks until the operator answers and returns their " +
	"reply as text. Keep calling this tool after every reply instead of ending the conversation."

const toolInputSchema = `{
	"type": "object",
	"properties": {
		"title": {
			"type": "string",
			"description": "One-line headline of what you need from the operator"
		},
		"summary": {
			"type": "string",
			"description": "What you did and what happens next (markdown allowed)"
		},
		"choices": {
			"type": "array",
			"items": {"type": "string"},
			"description": "Suggested replies the operator can pick by number"
		},
		"default_feedback": {
			"type": "string",
			"description": "Reply used when the operator answers with an empty message"
		}
	},
	"required": ["title"]
}`

// toolInfo returns the definition of the instance's only tool.
func toolInfo(port int) ToolInfo {
	return ToolInfo{
		Name:        ToolName(port),
		Description: toolDescription,
		InputSchema: json.RawMessage(toolInputSchema),
	}
}

func textResult(text string) CallToolResult {
	return CallToolResult{Content: []Content{{Type: "text", Text: text}}}
}

func errorResult(text string) CallToolResult {
	return CallToolResult{Content: []Content{{Type: "text", Text: text}}, IsError: true}
}

// decodeToolCallArgs parses tools/call arguments. Absent arguments decode to
// the zero value.
func decodeToolCallArgs(raw json.RawMessage) (ToolCallArgs, error) {
	var args ToolCallArgs
	if len(raw) == 0 || string(raw) == "null" {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, err
	}
	args.Title = strings.TrimSpace(args.Title)
	return args, nil
}
