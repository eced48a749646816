package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xonecas/symb/internal/mcp"
)

const (
	listMaxEntries  = 200
	listDefaultDepth = 3
)

// ListArgs represents arguments for the list_files tool.
type ListArgs struct {
	Path  string `json:"path,omitempty"`
	Depth int    `json:"depth,omitempty"`
}

// NewListTool creates the list_files tool definition.
func NewListTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_files",
		Description: "List directory contents as a tree. Ignores common noise dirs (node_modules, .git, target).",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Directory path (default: current directory)"},
				"depth": {"type": "integer", "description": "Max depth to traverse (default: 3)"}
			},
			"required": []
		}`),
	}
}

// ListHandler handles list_files tool calls.
type ListHandler struct{}

// NewListHandler creates a handler for the list_files tool.
func NewListHandler() *ListHandler { return &ListHandler{} }

var ignoredDirs = map[string]bool{
	"node_modules": true, ".git": true, "target": true, ".next": true,
	"dist": true, "build": true, "__pycache__": true, ".venv": true,
	"venv": true, ".cache": true, "coverage": true,
}

// Handle implements the mcp.ToolHandler interface.
func (h *ListHandler) Handle(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	var args ListArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("Invalid arguments: %v", err), nil
	}

	root := args.Path
	if root == "" {
		root = "."
	}
	maxDepth := listDefaultDepth
	if args.Depth > 0 {
		maxDepth = args.Depth
	}

	var out strings.Builder
	count := 0
	truncated := false
	walkTree(root, 0, maxDepth, "", &out, &count, &truncated)

	if truncated {
		fmt.Fprintf(&out, "\n[Truncated at %d entries — use a more specific path or smaller depth]", listMaxEntries)
	} else {
		fmt.Fprintf(&out, "\n[%d entries]", count)
	}

	return toolText(out.String()), nil
}

func walkTree(dir string, depth, maxDepth int, prefix string, out *strings.Builder, count *int, truncated *bool) {
	if *truncated {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	sort.Slice(entries, func(i, j int) bool {
		iFile := !entries[i].IsDir()
		jFile := !entries[j].IsDir()
		if iFile != jFile {
			return !iFile
		}
		return entries[i].Name() < entries[j].Name()
	})

	n := len(entries)
	for i, entry := range entries {
		if *truncated {
			return
		}

		name := entry.Name()
		isLast := i == n-1
		connector := "├── "
		extension := "│   "
		if isLast {
			connector = "└── "
			extension = "    "
		}

		isDir := entry.IsDir()
		display := name
		if isDir {
			display += "/"
		}

		fmt.Fprintf(out, "%s%s%s\n", prefix, connector, display)
		*count++

		if *count >= listMaxEntries {
			*truncated = true
			return
		}

		if isDir && depth < maxDepth {
			if ignoredDirs[name] {
				continue
			}
			walkTree(filepath.Join(dir, name), depth+1, maxDepth, prefix+extension, out, count, truncated)
		}
	}
}
