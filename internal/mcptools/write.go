package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xonecas/symb/internal/delta"
	"github.com/xonecas/symb/internal/mcp"
)

// WriteArgs represents arguments for the write_file tool.
type WriteArgs struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Overwrite bool   `json:"overwrite,omitempty"`
}

// NewWriteTool creates the write_file tool definition.
func NewWriteTool() mcp.Tool {
	return mcp.Tool{
		Name:        "write_file",
		Description: "Write content to a new file. For existing files use edit_file instead. Pass overwrite=true only to intentionally replace an entire file.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path to write"},
				"content": {"type": "string", "description": "Content to write"},
				"overwrite": {"type": "boolean", "description": "Set true to overwrite an existing file (default: false)"}
			},
			"required": ["path", "content"]
		}`),
	}
}

// WriteHandler handles write_file tool calls.
type WriteHandler struct {
	deltaTracker *delta.Tracker
}

// NewWriteHandler creates a handler for the write_file tool.
func NewWriteHandler(dt *delta.Tracker) *WriteHandler { return &WriteHandler{deltaTracker: dt} }

// Handle implements the mcp.ToolHandler interface.
func (h *WriteHandler) Handle(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	var args WriteArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("Invalid arguments: %v", err), nil
	}
	if args.Path == "" {
		return toolError("write_file: missing 'path'"), nil
	}

	absPath, err := validatePath(args.Path)
	if err != nil {
		return toolError("%v", err), nil
	}

	existed := false
	if _, statErr := os.Stat(absPath); statErr == nil {
		existed = true
	}
	if existed && !args.Overwrite {
		return toolText(fmt.Sprintf(
			"'%s' already exists — use edit_file to modify it, or pass overwrite=true to replace it entirely",
			args.Path)), nil
	}

	if parent := filepath.Dir(absPath); parent != "" && parent != "." {
		if err := os.MkdirAll(parent, 0755); err != nil {
			return toolError("write_file: cannot create dirs for '%s': %v", args.Path, err), nil
		}
	}

	if h.deltaTracker != nil {
		if existed {
			if prev, readErr := os.ReadFile(absPath); readErr == nil {
				h.deltaTracker.RecordModify(absPath, prev)
			}
		} else {
			h.deltaTracker.RecordCreate(absPath)
		}
	}

	lineCount := strings.Count(args.Content, "\n") + 1
	if args.Content == "" {
		lineCount = 0
	}
	if err := os.WriteFile(absPath, []byte(args.Content), 0600); err != nil {
		return toolError("write_file: cannot write '%s': %v", args.Path, err), nil
	}

	return toolText(fmt.Sprintf("✓ Wrote %s (%d lines)", args.Path, lineCount)), nil
}
