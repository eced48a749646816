package mcptools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/xonecas/symb/internal/mcp"
)

// searchMaxMatches is the max result lines returned inline.
const searchMaxMatches = 50

// SearchArgs represents arguments for the search tool.
type SearchArgs struct {
	Pattern      string `json:"pattern"`
	Path         string `json:"path,omitempty"`
	FilePattern  string `json:"file_pattern,omitempty"`
	ContextLines int    `json:"context_lines,omitempty"`
}

// NewSearchTool creates the search tool definition.
func NewSearchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search",
		Description: "Search for a pattern in files using ripgrep. Returns matching lines with context.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pattern": {"type": "string", "description": "Regex pattern"},
				"path": {"type": "string", "description": "Dir or file (default: .)"},
				"file_pattern": {"type": "string", "description": "Glob filter, e.g. '*.ts'"},
				"context_lines": {"type": "integer", "description": "Default: 2"}
			},
			"required": ["pattern"]
		}`),
	}
}

// SearchHandler handles search tool calls.
type SearchHandler struct{}

// NewSearchHandler creates a handler for the search tool.
func NewSearchHandler() *SearchHandler { return &SearchHandler{} }

// Handle implements the mcp.ToolHandler interface.
func (h *SearchHandler) Handle(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	var args SearchArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("Invalid arguments: %v", err), nil
	}
	if args.Pattern == "" {
		return toolError("search: missing 'pattern'"), nil
	}

	path := args.Path
	if path == "" {
		path = "."
	}
	contextLines := 2
	if args.ContextLines > 0 {
		contextLines = args.ContextLines
	}

	rgArgs := []string{
		"--line-number", "--with-filename", "--color=never",
		fmt.Sprintf("--context=%d", contextLines),
	}
	if args.FilePattern != "" {
		rgArgs = append(rgArgs, "--glob", args.FilePattern)
	}
	rgArgs = append(rgArgs, args.Pattern, path)

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, "rg", rgArgs...)
	cmd.Stdout = &stdout
	err := cmd.Run()

	if err != nil {
		if _, lookErr := exec.LookPath("rg"); lookErr != nil {
			// rg not installed — fall back to grep.
			grepArgs := []string{"-rn", "-" + strconv.Itoa(contextLines), args.Pattern, path}
			gcmd := exec.CommandContext(ctx, "grep", grepArgs...)
			stdout.Reset()
			gcmd.Stdout = &stdout
			if gerr := gcmd.Run(); gerr != nil {
				if _, isExitErr := gerr.(*exec.ExitError); !isExitErr {
					return toolError("search: neither 'rg' nor 'grep' available: %v", gerr), nil
				}
			}
		}
	}

	out := strings.TrimRight(stdout.String(), "\n")
	if strings.TrimSpace(out) == "" {
		return toolText(fmt.Sprintf(
			"No matches for '%s' in %s. If you were verifying a replacement is complete, it is — declare the task done.",
			args.Pattern, path)), nil
	}

	lines := strings.Split(out, "\n")
	total := len(lines)
	if total <= searchMaxMatches {
		return toolText(fmt.Sprintf("[%d lines matched]\n%s", total, out)), nil
	}

	truncated := strings.Join(lines[:searchMaxMatches], "\n")
	return toolText(fmt.Sprintf("[Showing %d of %d result lines — refine pattern or path to narrow results]\n%s",
		searchMaxMatches, total, truncated)), nil
}
