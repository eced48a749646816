package mcptools

import (
	"context"
	"encoding/json"

	"github.com/xonecas/symb/internal/mcp"
)

// AskUserArgs represents arguments for the ask_user tool.
type AskUserArgs struct {
	Question string `json:"question"`
}

// NewAskUserTool creates the ask_user tool definition. The agent loop does
// not intercept this call: it is dispatched to the proxy like any other
// tool, where MakeAskUserHandler answers it with a refusal that tells the
// model to make its best assumption and continue. The question is not
// shown to the user.
func NewAskUserTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ask_user",
		Description: "Ask the user a clarifying question. Use only for genuine uncertainty between approaches — not for routine updates. The question is not relayed to the user: the call returns an error asking you to make your best assumption, note it, and continue.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"question": {"type": "string", "description": "Specific, concise question"}
			},
			"required": ["question"]
		}`),
	}
}

// MakeAskUserHandler creates the proxy-local handler, which always refuses.
func MakeAskUserHandler() mcp.ToolHandler {
	return func(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args AskUserArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("Invalid arguments: %v", err), nil
		}
		return toolError("ask_user is not available in this context — make your best assumption, note it, and continue."), nil
	}
}
