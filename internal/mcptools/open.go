package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xonecas/symb/internal/hashline"
	"github.com/xonecas/symb/internal/lsp"
	"github.com/xonecas/symb/internal/mcp"
	"github.com/xonecas/symb/internal/treesitter"
)

const (
	defaultMaxLines = 500
	preambleLines   = 80
	tailLines       = 120
)

// ReadArgs represents arguments for the read_file tool.
type ReadArgs struct {
	Path      string `json:"path"`
	LineRange []int  `json:"line_range,omitempty"`
	Symbols   bool   `json:"symbols,omitempty"`
}

// NewReadTool creates the read_file tool definition.
func NewReadTool() mcp.Tool {
	return mcp.Tool{
		Name:        "read_file",
		Description: "Read a file with line numbers and content hashes. Returns up to 500 lines by default; pass line_range for a specific section; pass symbols=true to get a function/class index. Each line is prefixed `N [hash] | content` — the 4-char hash in brackets identifies the line's content; edit_file takes no hash and matches by old_str.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path to read"},
				"line_range": {
					"type": "array",
					"items": {"type": "integer"},
					"description": "Optional [start, end] (1-indexed, inclusive)"
				},
				"symbols": {
					"type": "boolean",
					"description": "Return a symbol index (functions, classes, structs) instead of file content. Useful for navigating large files before requesting a specific line_range."
				}
			},
			"required": ["path"]
		}`),
	}
}

// ReadHandler handles read_file tool calls.
type ReadHandler struct {
	tracker    *FileReadTracker
	lspManager *lsp.Manager
	tsIndex    *treesitter.Index
}

// NewReadHandler creates a handler for the read_file tool.
func NewReadHandler(tracker *FileReadTracker, lspManager *lsp.Manager) *ReadHandler {
	return &ReadHandler{tracker: tracker, lspManager: lspManager}
}

// SetTSIndex sets the tree-sitter index for incremental updates on read.
func (h *ReadHandler) SetTSIndex(idx *treesitter.Index) { h.tsIndex = idx }

// Handle implements the mcp.ToolHandler interface.
func (h *ReadHandler) Handle(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	var args ReadArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("Invalid arguments: %v", err), nil
	}
	if args.Path == "" {
		return toolError("read_file: missing 'path'"), nil
	}

	absPath, err := validatePath(args.Path)
	if err != nil {
		return toolError("%v", err), nil
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return toolError("read_file: cannot read '%s': %v", args.Path, err), nil
	}

	if h.tracker != nil {
		h.tracker.MarkRead(absPath)
	}
	if h.lspManager != nil {
		go h.lspManager.TouchFile(context.Background(), absPath)
	}
	if h.tsIndex != nil {
		go h.tsIndex.UpdateFile(absPath)
	}

	content := string(raw)
	lines := splitFileLines(content)
	total := len(lines)

	// Explicit range always wins — return content, never the symbol index.
	if len(args.LineRange) > 0 {
		start := 0
		if args.LineRange[0] > 0 {
			start = args.LineRange[0] - 1
		}
		if start > total-1 {
			start = total - 1
		}
		if start < 0 {
			start = 0
		}
		end := total
		if len(args.LineRange) > 1 && args.LineRange[1] > 0 && args.LineRange[1] < total {
			end = args.LineRange[1]
		}
		return toolText(formatExcerpt(lines, start, end, total, args.Path)), nil
	}

	// Small files: always full hashed content, even if symbols=true was requested —
	// the model needs hashes to make edits; symbol-only output is useless here.
	if total <= defaultMaxLines {
		return toolText(formatFull(lines, args.Path)), nil
	}

	if args.Symbols {
		return toolText(buildSymbolIndex(lines, args.Path, total)), nil
	}

	return toolText(FormatForContext(args.Path, content)), nil
}

func splitFileLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

// FormatForContext renders preamble + inline symbol index + tail for large
// files (plan-step pre-loading uses this directly), or full hashed content
// for files at or under defaultMaxLines.
func FormatForContext(path, content string) string {
	lines := splitFileLines(content)
	total := len(lines)
	if total <= defaultMaxLines {
		return formatFull(lines, path)
	}

	preambleEnd := preambleEndLine(lines)
	if preambleEnd > total {
		preambleEnd = total
	}
	tailStart := total - tailLines
	if tailStart < preambleEnd {
		tailStart = preambleEnd
	}
	omitted := tailStart - preambleEnd

	var out strings.Builder
	fmt.Fprintf(&out, "[%s — %d lines total. Preamble (1–%d), symbol index, then tail (%d–%d). Use line_range=[start,end] to read any section.]\n\n",
		path, total, preambleEnd, tailStart+1, total)

	for i, line := range lines[:preambleEnd] {
		out.WriteString(formatLine(i+1, line))
	}

	if omitted > 0 {
		fmt.Fprintf(&out, "\n     ··· %d lines omitted — symbol index for navigation ···\n\n", omitted)
		symbols := collectSymbols(lines[preambleEnd:tailStart], preambleEnd)
		if len(symbols) == 0 {
			out.WriteString("     (no top-level symbols detected in omitted section)\n")
		} else {
			for _, s := range symbols {
				fmt.Fprintf(&out, "%4d [%s] | %s\n", s.Line, s.Hash, s.Label)
			}
		}
		out.WriteString("\n")
	}

	for i, line := range lines[tailStart:] {
		out.WriteString(formatLine(tailStart+i+1, line))
	}

	return out.String()
}

func preambleEndLine(lines []string) int {
	cap := preambleLines * 2
	if cap > len(lines) {
		cap = len(lines)
	}
	lastImport := 0
scan:
	for i := 0; i < cap; i++ {
		t := strings.TrimSpace(lines[i])
		switch {
		case strings.HasPrefix(t, "use "),
			strings.HasPrefix(t, "import "),
			strings.HasPrefix(t, "mod "),
			strings.HasPrefix(t, "from "),
			strings.HasPrefix(t, "#include"),
			strings.HasPrefix(t, "require("),
			t == "",
			strings.HasPrefix(t, "//"),
			strings.HasPrefix(t, "#"):
			lastImport = i + 1
		default:
			break scan
		}
	}
	end := lastImport
	if end < preambleLines {
		end = preambleLines
	}
	if end > len(lines) {
		end = len(lines)
	}
	return end
}

type symbolEntry struct {
	Line  int
	Hash  string
	Label string
}

// collectSymbols scans a slice of lines (offset = 0-based index of lines[0]
// in the full file) and returns one entry per recognised definition.
func collectSymbols(lines []string, offset int) []symbolEntry {
	var out []symbolEntry
	for i, line := range lines {
		if label, ok := classifySymbol(strings.TrimSpace(line)); ok {
			out = append(out, symbolEntry{
				Line:  offset + i + 1,
				Hash:  hashline.LineHash(line),
				Label: label,
			})
		}
	}
	return out
}

func buildSymbolIndex(lines []string, path string, total int) string {
	symbols := collectSymbols(lines, 0)
	if len(symbols) == 0 {
		return fmt.Sprintf("[%s — %d lines. No top-level symbols found. Use line_range to read sections.]\n", path, total)
	}
	var out strings.Builder
	fmt.Fprintf(&out, "[%s — %d lines. Symbol index (hashes identify line content):]\n\n", path, total)
	for _, s := range symbols {
		fmt.Fprintf(&out, "%4d [%s] | %s\n", s.Line, s.Hash, s.Label)
	}
	out.WriteString("\nUse line_range=[start,end] to read any section.\n")
	return out.String()
}

var rustPrefixes = []string{
	"pub async fn ", "pub fn ", "async fn ", "fn ",
	"pub struct ", "struct ",
	"pub enum ", "enum ",
	"impl ", "pub trait ", "trait ",
	"pub mod ", "mod ",
	"pub const ", "const ",
	"pub type ", "type ",
}

var tsPrefixes = []string{
	"export default function ", "export function ", "export class ",
	"export interface ", "export type ", "export enum ",
	"export const ", "export async function ",
	"function ", "class ", "interface ", "async function ",
}

var pyPrefixes = []string{"async def ", "def ", "class "}

// classifySymbol recognises a handful of top-level definition shapes across
// Rust, TypeScript/JavaScript, Python and Go via simple prefix matching — a
// text scan, not a parser: good enough to build a navigation aid, not meant
// to be exhaustive or syntax-aware.
func classifySymbol(line string) (string, bool) {
	if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#") ||
		strings.HasPrefix(line, "*") || strings.HasPrefix(line, "/*") {
		return "", false
	}

	for _, prefix := range rustPrefixes {
		if strings.HasPrefix(line, prefix) {
			rest := line[len(prefix):]
			name := scanIdent(rest, func(r rune) bool { return isAlnum(r) || r == '_' })
			if name != "" {
				return strings.TrimRight(prefix, " ") + " " + name, true
			}
		}
	}

	for _, prefix := range tsPrefixes {
		if strings.HasPrefix(line, prefix) {
			rest := line[len(prefix):]
			name := scanUntil(rest, "(< :")
			if name != "" {
				return strings.TrimRight(prefix, " ") + " " + name, true
			}
		}
	}

	for _, prefix := range pyPrefixes {
		if strings.HasPrefix(line, prefix) {
			rest := line[len(prefix):]
			name := scanUntil(rest, "(:")
			if name != "" {
				return prefix + name, true
			}
		}
	}

	if strings.HasPrefix(line, "func ") {
		rest := line[len("func "):]
		name := scanUntil(rest, "( ")
		if name != "" {
			return "func " + name, true
		}
	}

	return "", false
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func scanIdent(s string, keep func(rune) bool) string {
	for i, r := range s {
		if !keep(r) {
			return s[:i]
		}
	}
	return s
}

func scanUntil(s, stopChars string) string {
	idx := strings.IndexAny(s, stopChars)
	if idx < 0 {
		return s
	}
	return s[:idx]
}

func formatLine(lineNum int, content string) string {
	return fmt.Sprintf("%4d [%s] | %s\n", lineNum, hashline.LineHash(content), content)
}

func formatFull(lines []string, path string) string {
	var out strings.Builder
	fmt.Fprintf(&out, "[%s]\n\n", path)
	for i, line := range lines {
		out.WriteString(formatLine(i+1, line))
	}
	return out.String()
}

func formatExcerpt(lines []string, start, end, total int, path string) string {
	if end > total {
		end = total
	}
	var out strings.Builder
	fmt.Fprintf(&out, "[%s — lines %d-%d of %d]\n\n", path, start+1, end, total)
	for i, line := range lines[start:end] {
		out.WriteString(formatLine(start+i+1, line))
	}
	return out.String()
}
