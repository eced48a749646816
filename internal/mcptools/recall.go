package mcptools

import (
	"context"
	"encoding/json"

	"github.com/xonecas/symb/internal/mcp"
)

// RecallArgs represents arguments for the recall tool.
type RecallArgs struct {
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// NewRecallTool creates the recall tool definition. When the agent loop has
// a history ledger it intercepts calls to this tool by name before they
// reach the proxy, serving them from the ledger's side-store — the handler
// registered here only fires for a loop run without a ledger. The
// sub-agent proxy does not register recall at all.
func NewRecallTool() mcp.Tool {
	return mcp.Tool{
		Name:        "recall",
		Description: "Retrieve the full output of a previous tool call that was summarised. Use when you need the complete content of an earlier read_file, bash, or search result.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"tool_call_id": {"type": "string", "description": "The tool_call_id of the result to retrieve (preferred)"},
				"tool_name": {"type": "string", "description": "Retrieve the most recent result for this tool name (fallback if tool_call_id unknown)"}
			}
		}`),
	}
}

// MakeRecallHandler creates the proxy-local fallback handler.
func MakeRecallHandler() mcp.ToolHandler {
	return func(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args RecallArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("Invalid arguments: %v", err), nil
		}
		return toolError("recall: nothing to recall in this context — the earlier result either was never summarised or belongs to a different conversation."), nil
	}
}
