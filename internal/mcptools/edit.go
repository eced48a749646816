package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xonecas/symb/internal/delta"
	"github.com/xonecas/symb/internal/hashline"
	"github.com/xonecas/symb/internal/lsp"
	"github.com/xonecas/symb/internal/mcp"
	"github.com/xonecas/symb/internal/treesitter"
)

// EditArgs represents arguments for the edit_file tool.
type EditArgs struct {
	Path   string `json:"path"`
	OldStr string `json:"old_str"`
	NewStr string `json:"new_str"`
}

// NewEditTool creates the edit_file tool definition.
func NewEditTool() mcp.Tool {
	return mcp.Tool{
		Name:        "edit_file",
		Description: "Replace an exact string in a file. The old_str must match exactly (whitespace included). If no exact match is found, a conservative whitespace-normalised fuzzy match is tried; it only applies when it resolves to exactly one location in the file.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path":    {"type": "string", "description": "File path to edit"},
				"old_str": {"type": "string", "description": "Exact string to find and replace"},
				"new_str": {"type": "string", "description": "Replacement string"}
			},
			"required": ["path", "old_str", "new_str"]
		}`),
	}
}

// EditHandler handles edit_file tool calls.
type EditHandler struct {
	tracker      *FileReadTracker
	lspManager   *lsp.Manager
	tsIndex      *treesitter.Index
	deltaTracker *delta.Tracker
}

// NewEditHandler creates a handler for the edit_file tool.
func NewEditHandler(tracker *FileReadTracker, lspManager *lsp.Manager, dt *delta.Tracker) *EditHandler {
	return &EditHandler{tracker: tracker, lspManager: lspManager, deltaTracker: dt}
}

// SetTSIndex sets the tree-sitter index for incremental updates on edit.
func (h *EditHandler) SetTSIndex(idx *treesitter.Index) { h.tsIndex = idx }

// Handle implements the mcp.ToolHandler interface.
func (h *EditHandler) Handle(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	var args EditArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("Invalid arguments: %v", err), nil
	}
	if args.Path == "" || args.OldStr == "" {
		return toolError("edit_file: 'path' and 'old_str' are required"), nil
	}

	absPath, err := validatePath(args.Path)
	if err != nil {
		return toolError("%v", err), nil
	}

	if h.tracker != nil && !h.tracker.WasRead(absPath) {
		return toolError("You must read_file before editing it. Read %s first.", args.Path), nil
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return toolError("edit_file: cannot read '%s': %v", args.Path, err), nil
	}
	content := string(raw)

	newContent, label, editErr := applyEdit(content, args.OldStr, args.NewStr)
	if editErr != nil {
		return toolError("%v", editErr), nil
	}

	if h.deltaTracker != nil {
		h.deltaTracker.RecordModify(absPath, raw)
	}
	if err := os.WriteFile(absPath, []byte(newContent), 0600); err != nil {
		return toolError("edit_file: cannot write '%s': %v", args.Path, err), nil
	}

	var header string
	if label == "" {
		header = fmt.Sprintf("✓ Edited %s", args.Path)
	} else {
		header = fmt.Sprintf("✓ Edited %s (%s)", args.Path, label)
	}

	tagged := hashline.TagLines(newContent, 1)
	text := header + "\n\n" + hashline.FormatTagged(tagged)

	if h.lspManager != nil {
		diags := h.lspManager.NotifyAndWait(ctx, absPath, 5*time.Second)
		text += lsp.FormatDiagnostics(args.Path, diags)
	}
	if h.tsIndex != nil {
		h.tsIndex.UpdateFile(absPath)
	}

	return &mcp.ToolResult{
		Content: []mcp.ContentBlock{{Type: "text", Text: text}},
	}, nil
}

// applyEdit implements the three-stage match: exact substring (all
// occurrences), then whitespace-normalised fuzzy matching that only applies
// when it resolves to exactly one location, then failure with a ±15-line
// context hint.
func applyEdit(content, oldStr, newStr string) (string, string, error) {
	exactCount := strings.Count(content, oldStr)
	if exactCount > 0 {
		label := ""
		if exactCount > 1 {
			label = fmt.Sprintf("%d replacements", exactCount)
		}
		return strings.ReplaceAll(content, oldStr, newStr), label, nil
	}

	if span, label, ok := fuzzyFind(content, oldStr); ok {
		return strings.Replace(content, span, newStr, 1), "fuzzy match — " + label, nil
	}

	return "", "", fmt.Errorf("edit_file: string not found.\nCheck whitespace and exact characters.\n%s", bestMatchContext(content, oldStr))
}

// fuzzyFind tries whitespace normalisations in order of aggressiveness and
// returns (actual span in content, label) when exactly one candidate exists.
func fuzzyFind(content, oldStr string) (string, string, bool) {
	contentLF := strings.ReplaceAll(content, "\r\n", "\n")
	oldLF := strings.ReplaceAll(oldStr, "\r\n", "\n")
	if contentLF != content {
		if span, ok := singleMatch(contentLF, oldLF); ok {
			crlfSpan := strings.ReplaceAll(span, "\n", "\r\n")
			if strings.Count(content, crlfSpan) == 1 {
				return crlfSpan, "CRLF normalised", true
			}
		}
	}

	if span, ok := lineNormalisedMatch(content, oldStr, strings.TrimSpace); ok {
		return span, "whitespace trimmed", true
	}

	if span, ok := lineNormalisedMatch(content, oldStr, func(s string) string {
		return strings.TrimRight(s, " \t")
	}); ok {
		return span, "trailing whitespace trimmed", true
	}

	return "", "", false
}

func singleMatch(haystack, needle string) (string, bool) {
	if strings.Count(haystack, needle) != 1 {
		return "", false
	}
	pos := strings.Index(haystack, needle)
	return haystack[pos : pos+len(needle)], true
}

// lineNormalisedMatch finds a run of content lines whose normalised form
// equals old_str's normalised lines, returning the actual (un-normalised)
// span joined back together — only when exactly one such run exists and it
// is unique as a literal substring of content.
func lineNormalisedMatch(content, oldStr string, norm func(string) string) (string, bool) {
	oldLines := splitLines(oldStr)
	if len(oldLines) == 0 {
		return "", false
	}
	oldNorm := make([]string, len(oldLines))
	for i, l := range oldLines {
		oldNorm[i] = norm(l)
	}
	n := len(oldLines)

	contentLines := splitLines(content)
	var candidates [][2]int

	for start := 0; start+n <= len(contentLines); start++ {
		match := true
		for i := 0; i < n; i++ {
			if norm(contentLines[start+i]) != oldNorm[i] {
				match = false
				break
			}
		}
		if match {
			candidates = append(candidates, [2]int{start, start + n})
		}
	}

	if len(candidates) != 1 {
		return "", false
	}

	start, end := candidates[0][0], candidates[0][1]
	span := strings.Join(contentLines[start:end], "\n")
	if strings.Count(content, span) == 1 {
		return span, true
	}
	return "", false
}

// splitLines splits on "\n" without the trailing-empty-element surprise of
// strings.Split on content ending in "\n" mattering here — matches Rust's
// str::lines() semantics closely enough for line-run comparison.
func splitLines(s string) []string {
	return strings.Split(s, "\n")
}

// bestMatchContext builds a ±15-line context hint around the line most
// similar (by common character prefix) to old_str's first line.
func bestMatchContext(content, oldStr string) string {
	firstLine := ""
	if lines := splitLines(oldStr); len(lines) > 0 {
		firstLine = lines[0]
	}
	target := strings.TrimSpace(firstLine)
	if target == "" {
		return "Use read_file to verify the content first."
	}

	lines := splitLines(content)
	bestIdx := -1
	bestLen := -1
	for i, l := range lines {
		cl := commonPrefixLen(strings.TrimSpace(l), target)
		if cl > bestLen {
			bestLen = cl
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return "Use read_file to verify the content first."
	}

	lo := bestIdx - 15
	if lo < 0 {
		lo = 0
	}
	hi := bestIdx + 15
	if hi > len(lines) {
		hi = len(lines)
	}

	var b strings.Builder
	for i := lo; i < hi; i++ {
		fmt.Fprintf(&b, "%4d | %s\n", i+1, lines[i])
	}
	return fmt.Sprintf("Nearest match around line %d:\n%s", bestIdx+1, strings.TrimRight(b.String(), "\n"))
}

func commonPrefixLen(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	n := 0
	for n < len(ra) && n < len(rb) && ra[n] == rb[n] {
		n++
	}
	return n
}
