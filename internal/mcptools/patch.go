package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xonecas/symb/internal/delta"
	"github.com/xonecas/symb/internal/lsp"
	"github.com/xonecas/symb/internal/mcp"
	"github.com/xonecas/symb/internal/treesitter"
)

// PatchArgs represents arguments for the patch_file tool.
type PatchArgs struct {
	Path  string `json:"path"`
	Patch string `json:"patch"`
}

// NewPatchTool creates the patch_file tool definition.
func NewPatchTool() mcp.Tool {
	return mcp.Tool{
		Name: "patch_file",
		Description: "Apply a unified diff patch to a file. More token-efficient than edit_file for " +
			"multi-hunk changes — send only the changed lines. Use edit_file for single-location " +
			"changes; use patch_file when modifying multiple separate locations in the same file or " +
			"making large structured changes.\n\n" +
			"Patch format — standard unified diff:\n```\n@@ -15,4 +15,6 @@\n" +
			"fn validate_token(token: &str) -> Result<Claims> {\n" +
			"-    let claims = decode(token)?;\n" +
			"+    let claims = decode(token)\n" +
			"+        .map_err(|e| AuthError::Invalid(e.to_string()))?;\n" +
			"     Ok(claims)\n}\n```\n" +
			"Rules:\n" +
			"- Lines starting with ' ' are context (must match file exactly, used for anchoring)\n" +
			"- Lines starting with '-' are removed\n" +
			"- Lines starting with '+' are added\n" +
			"- @@ line numbers are hints only — actual location found by matching context lines\n" +
			"- Omit the --- a/ and +++ b/ file headers; start directly with @@",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path to patch"},
				"patch": {"type": "string", "description": "Unified diff patch string. Must contain at least one @@ hunk header."}
			},
			"required": ["path", "patch"]
		}`),
	}
}

// PatchHandler handles patch_file tool calls.
type PatchHandler struct {
	tracker      *FileReadTracker
	lspManager   *lsp.Manager
	tsIndex      *treesitter.Index
	deltaTracker *delta.Tracker
}

// NewPatchHandler creates a handler for the patch_file tool.
func NewPatchHandler(tracker *FileReadTracker, lspManager *lsp.Manager, dt *delta.Tracker) *PatchHandler {
	return &PatchHandler{tracker: tracker, lspManager: lspManager, deltaTracker: dt}
}

// SetTSIndex sets the tree-sitter index for incremental updates on patch.
func (h *PatchHandler) SetTSIndex(idx *treesitter.Index) { h.tsIndex = idx }

// Handle implements the mcp.ToolHandler interface.
func (h *PatchHandler) Handle(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	var args PatchArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("Invalid arguments: %v", err), nil
	}
	if args.Path == "" || args.Patch == "" {
		return toolError("patch_file: 'path' and 'patch' are required"), nil
	}

	absPath, err := validatePath(args.Path)
	if err != nil {
		return toolError("%v", err), nil
	}
	if h.tracker != nil && !h.tracker.WasRead(absPath) {
		return toolError("You must read_file before patching it. Read %s first.", args.Path), nil
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return toolError("patch_file: cannot read '%s': %v", args.Path, err), nil
	}
	content := string(raw)

	hunks, err := parseHunks(args.Patch)
	if err != nil {
		return toolError("%v", err), nil
	}
	if len(hunks) == 0 {
		return toolError("patch_file: no @@ hunk headers found in patch"), nil
	}

	current := content
	applied := 0
	for i, hunk := range hunks {
		next, applyErr := applyHunk(current, hunk)
		if applyErr != nil {
			return toolError("patch_file: hunk %d/%d failed — %v\n(%d of %d hunks applied before this failure)",
				i+1, len(hunks), applyErr, applied, len(hunks)), nil
		}
		current = next
		applied++
	}

	if h.deltaTracker != nil {
		h.deltaTracker.RecordModify(absPath, raw)
	}
	if err := os.WriteFile(absPath, []byte(current), 0600); err != nil {
		return toolError("patch_file: cannot write '%s': %v", args.Path, err), nil
	}

	lastHunk := hunks[applied-1]
	anchorLine := findHunkLine(current, lastHunk)
	if anchorLine == 0 {
		anchorLine = 1
	}
	text := fmt.Sprintf("✓ Patched %s (%d/%d hunks applied)%s", args.Path, applied, len(hunks), postPatchContext(args.Path, current, anchorLine))

	if h.lspManager != nil {
		go h.lspManager.TouchFile(context.Background(), absPath)
	}
	if h.tsIndex != nil {
		h.tsIndex.UpdateFile(absPath)
	}
	_ = ctx

	return toolText(text), nil
}

// ── Hunk data structure ──────────────────────────────────────────────────

// beforeLine is one line of a hunk's "before" block: its content, and
// whether it is a removal (true) or context (false).
type beforeLine struct {
	content   string
	isRemoval bool
}

type hunk struct {
	before    []beforeLine
	additions []string
	lineHint  int // 0-based, from the @@ header
}

// ── Parser ────────────────────────────────────────────────────────────────

func parseHunks(patch string) ([]*hunk, error) {
	var hunks []*hunk
	var current *hunk

	for _, line := range strings.Split(patch, "\n") {
		if strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ") {
			continue
		}
		if strings.HasPrefix(line, "@@ ") || line == "@@" || strings.HasPrefix(line, "@@\t") {
			if current != nil {
				hunks = append(hunks, current)
			}
			hint := parseHunkStart(line)
			if hint > 0 {
				hint--
			}
			current = &hunk{lineHint: hint}
			continue
		}
		if current == nil {
			continue
		}
		switch {
		case strings.HasPrefix(line, "-"):
			current.before = append(current.before, beforeLine{content: line[1:], isRemoval: true})
		case strings.HasPrefix(line, "+"):
			current.additions = append(current.additions, line[1:])
		default:
			ctxLine := strings.TrimPrefix(line, " ")
			current.before = append(current.before, beforeLine{content: ctxLine, isRemoval: false})
		}
	}
	if current != nil {
		hunks = append(hunks, current)
	}
	return hunks, nil
}

// parseHunkStart extracts the old-file start line from "@@ -N,n +M,m @@".
func parseHunkStart(header string) int {
	for _, field := range strings.Fields(header) {
		if strings.HasPrefix(field, "-") {
			numPart := strings.SplitN(field[1:], ",", 2)[0]
			var n int
			if _, err := fmt.Sscanf(numPart, "%d", &n); err == nil {
				return n
			}
		}
	}
	return 1
}

// ── Hunk application ────────────────────────────────────────────────────

func applyHunk(content string, h *hunk) (string, error) {
	if len(h.before) == 0 && len(h.additions) == 0 {
		return content, nil
	}

	fileLines := strings.Split(content, "\n")

	needle := make([]string, len(h.before))
	for i, b := range h.before {
		needle[i] = b.content
	}

	if len(needle) == 0 {
		return applyPureInsertion(content, fileLines, h), nil
	}

	start, end, found := findNeedle(fileLines, needle, h.lineHint)
	if !found {
		hintCtx := contextAround(fileLines, h.lineHint, 6)
		var expected strings.Builder
		for _, l := range needle {
			fmt.Fprintf(&expected, "  %s\n", l)
		}
		return "", fmt.Errorf("context lines not found in file.\nExpected to find:\n%sFile content near hint (line %d):\n%s",
			expected.String(), h.lineHint+1, hintCtx)
	}

	var replacement []string
	addIdx := 0
	i := 0
	for i < len(h.before) {
		b := h.before[i]
		if !b.isRemoval {
			replacement = append(replacement, b.content)
			i++
			continue
		}
		for i < len(h.before) && h.before[i].isRemoval {
			i++
		}
		for addIdx < len(h.additions) {
			replacement = append(replacement, h.additions[addIdx])
			addIdx++
		}
	}
	for addIdx < len(h.additions) {
		replacement = append(replacement, h.additions[addIdx])
		addIdx++
	}

	out := append([]string{}, fileLines[:start]...)
	out = append(out, replacement...)
	out = append(out, fileLines[end:]...)

	result := strings.Join(out, "\n")
	if strings.HasSuffix(content, "\n") && !strings.HasSuffix(result, "\n") {
		result += "\n"
	}
	return result, nil
}

// applyPureInsertion handles a hunk with only additions (no context, no
// removals) — inserts at lineHint.
func applyPureInsertion(content string, fileLines []string, h *hunk) string {
	insertAt := h.lineHint
	if insertAt > len(fileLines) {
		insertAt = len(fileLines)
	}
	out := append([]string{}, fileLines[:insertAt]...)
	out = append(out, h.additions...)
	out = append(out, fileLines[insertAt:]...)
	result := strings.Join(out, "\n")
	if strings.HasSuffix(content, "\n") && !strings.HasSuffix(result, "\n") {
		result += "\n"
	}
	return result
}

// findNeedle searches for needle in fileLines. Tries exact match first, then
// whitespace-trimmed fuzzy match; when several candidates remain, picks the
// one closest to hint. Returns (start, end) as exclusive line indices.
func findNeedle(fileLines, needle []string, hint int) (int, int, bool) {
	n := len(needle)
	if n == 0 || len(fileLines) < n {
		return 0, 0, false
	}

	candidates := collectMatches(fileLines, needle, func(a, b string) bool { return a == b })
	if len(candidates) == 1 {
		return candidates[0], candidates[0] + n, true
	}

	candidates = collectMatches(fileLines, needle, func(a, b string) bool {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	})
	if len(candidates) == 1 {
		return candidates[0], candidates[0] + n, true
	}

	if len(candidates) > 0 {
		best := candidates[0]
		bestDist := abs(best - hint)
		for _, c := range candidates[1:] {
			if d := abs(c - hint); d < bestDist {
				best, bestDist = c, d
			}
		}
		return best, best + n, true
	}

	return 0, 0, false
}

func collectMatches(fileLines, needle []string, eq func(a, b string) bool) []int {
	n := len(needle)
	var out []int
outer:
	for start := 0; start+n <= len(fileLines); start++ {
		for i, nl := range needle {
			if !eq(fileLines[start+i], nl) {
				continue outer
			}
		}
		out = append(out, start)
	}
	return out
}

// findHunkLine locates the approximate post-patch line of a hunk, for the
// context echo — matches on the first up-to-3 non-removal lines.
func findHunkLine(content string, h *hunk) int {
	fileLines := strings.Split(content, "\n")
	var needle []string
	for _, b := range h.before {
		if !b.isRemoval {
			needle = append(needle, b.content)
			if len(needle) == 3 {
				break
			}
		}
	}
	if len(needle) == 0 {
		return h.lineHint + 1
	}
	candidates := collectMatches(fileLines, needle, func(a, b string) bool {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	})
	if len(candidates) == 0 {
		return 0
	}
	return candidates[0] + 1
}

func contextAround(lines []string, centre, radius int) string {
	lo := centre - radius
	if lo < 0 {
		lo = 0
	}
	hi := centre + radius
	if hi > len(lines) {
		hi = len(lines)
	}
	var out strings.Builder
	for i := lo; i < hi; i++ {
		fmt.Fprintf(&out, "  %4d: %s\n", i+1, lines[i])
	}
	return out.String()
}

// ── Post-patch context echo ──────────────────────────────────────────────

func postPatchContext(path, content string, anchorLine int) string {
	lines := strings.Split(content, "\n")
	total := len(lines)
	if total == 0 {
		return ""
	}
	centre := anchorLine - 1
	if centre > total-1 {
		centre = total - 1
	}
	if centre < 0 {
		centre = 0
	}
	lo := centre - 8
	if lo < 0 {
		lo = 0
	}
	hi := centre + 8
	if hi > total {
		hi = total
	}

	var out strings.Builder
	fmt.Fprintf(&out, "\n[%s after patch — lines %d-%d of %d]\n", path, lo+1, hi, total)
	for i, line := range lines[lo:hi] {
		out.WriteString(formatLine(lo+i+1, line))
	}
	return out.String()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
