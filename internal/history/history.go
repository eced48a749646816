// Package history compresses tool-call output for conversation history while
// keeping the full, untruncated output in a side-store that the model can
// recall on request. This keeps the context window lean without losing
// information the model might need later.
package history

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is a completed tool call: its full output (off-context, in the
// side-store) and the compressed form that went into conversation history.
type Record struct {
	ToolCallID string
	ToolName   string
	FullOutput string
	Summary    string
}

// History stores tool-call records for recall and stale-read eviction.
type History struct {
	records []Record
}

// New creates an empty History.
func New() *History {
	return &History{}
}

// Record compresses a completed tool call's output and stores the full
// output for later recall. Returns (modelOutput, displaySummary):
// modelOutput goes into the conversation history sent to the model;
// displaySummary is a short one-liner for the UI event sink.
func (h *History) Record(toolCallID, toolName, fullOutput string) (modelOutput, displaySummary string) {
	modelOutput = summarise(toolName, fullOutput)
	displaySummary = displaySummarise(toolName, fullOutput)
	h.records = append(h.records, Record{
		ToolCallID: toolCallID,
		ToolName:   toolName,
		FullOutput: fullOutput,
		Summary:    modelOutput,
	})
	return modelOutput, displaySummary
}

// Recall returns the full output for a given tool_call_id, if it exists.
func (h *History) Recall(toolCallID string) (string, bool) {
	for _, r := range h.records {
		if r.ToolCallID == toolCallID {
			return r.FullOutput, true
		}
	}
	return "", false
}

// RecallByName returns the most recent full output for a given tool name.
func (h *History) RecallByName(toolName string) (string, bool) {
	for i := len(h.records) - 1; i >= 0; i-- {
		if h.records[i].ToolName == toolName {
			return h.records[i].FullOutput, true
		}
	}
	return "", false
}

// CompressedCount returns the number of records whose summary is actually
// shorter than the full output.
func (h *History) CompressedCount() int {
	n := 0
	for _, r := range h.records {
		if len(r.Summary) < len(r.FullOutput) {
			n++
		}
	}
	return n
}

// CompressReadsFor evicts stale read_file records for a path after it has
// been edited. Both the in-context summary and the recall-store output are
// replaced — stale content is actively harmful (wrong line numbers, wrong
// hashes, wrong code), so the model must re-read to get current state.
func (h *History) CompressReadsFor(path string) {
	stub := fmt.Sprintf("[Stale — %s was edited. Re-read for current content.]", path)
	for i := range h.records {
		r := &h.records[i]
		if r.ToolName == "read_file" && strings.Contains(r.Summary, path) && len(r.Summary) > 200 {
			r.Summary = stub
			r.FullOutput = stub
		}
	}
}

// ── Summarisation rules (deterministic, zero model calls) ─────────────────

// displaySummarise produces a one-liner for the UI sidebar — always short
// regardless of tool.
func displaySummarise(toolName, output string) string {
	if toolName != "read_file" {
		return summarise(toolName, output)
	}

	first := firstLine(output)
	if !strings.HasPrefix(first, "[") {
		return fmt.Sprintf("✓ Read file (%d lines)", strings.Count(output, "\n")+1)
	}
	inner := strings.TrimPrefix(first, "[")
	pathPart := inner
	if idx := strings.Index(inner, " —"); idx >= 0 {
		pathPart = inner[:idx]
	}
	pathPart = strings.TrimSuffix(pathPart, "]")

	contentLines := strings.Count(output, " | ")
	if contentLines > 0 {
		return fmt.Sprintf("✓ Read %s (%d lines shown)", pathPart, contentLines)
	}
	return fmt.Sprintf("✓ Read %s", pathPart)
}

func summarise(toolName, output string) string {
	switch toolName {
	case "read_file":
		// Keep read_file content in context — the model needs it to write
		// correct old_str values for edit_file. Budget enforcement
		// compresses it later if the context window fills up.
		return output
	case "write_file", "edit_file", "patch_file":
		if strings.Contains(output, "⚠ FILE WRITTEN BUT BUILD BROKEN") || strings.Contains(output, "✗ build check failed") {
			return output
		}
		// On success: keep only the confirmation line. The post-edit
		// context echo was useful on the turn it was produced but becomes
		// stale on any subsequent edit — wrong hashes, wrong line numbers.
		// The model can re-read if it needs the content again.
		return firstLine(output)
	case "list_files":
		return summariseList(output)
	case "search":
		return summariseSearch(output)
	case "bash":
		return summariseBash(output)
	default:
		return truncateToLines(output, 3)
	}
}

// summariseList keeps the full tree if ≤80 lines (the model needs filename
// awareness for navigation, test discovery, cross-file editing), otherwise
// keeps only directory names plus an entry count.
func summariseList(output string) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= 80 {
		return output
	}

	var out strings.Builder
	kept := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasSuffix(trimmed, "/") || strings.HasPrefix(trimmed, "[") || trimmed == "" {
			out.WriteString(line)
			out.WriteByte('\n')
			kept++
		}
	}
	fileCount := len(lines) - kept
	if fileCount > 0 {
		fmt.Fprintf(&out, "[%d files omitted — directories shown above. Ask to recall for full listing.]", fileCount)
	}
	return out.String()
}

// summariseSearch keeps matched lines (the code content is essential for
// cross-file reasoning), capped at 25 to stay bounded.
func summariseSearch(output string) string {
	if strings.HasPrefix(output, "No matches") {
		return firstLine(output)
	}

	lines := strings.Split(output, "\n")
	if len(lines) <= 30 {
		return output
	}

	var matchLines []string
	for _, l := range lines {
		parts := strings.SplitN(l, ":", 3)
		if len(parts) >= 2 {
			if _, err := strconv.Atoi(parts[1]); err == nil {
				matchLines = append(matchLines, l)
			}
		}
	}

	total := len(matchLines)
	if total == 0 {
		return truncateToLines(output, 5)
	}

	kept := matchLines
	if len(kept) > 25 {
		kept = kept[:25]
	}
	result := strings.Join(kept, "\n")
	if remaining := total - 25; remaining > 0 {
		result += fmt.Sprintf("\n[+%d matches — ask to recall for full results]", remaining)
	}
	return result
}

// summariseBash applies context-aware summarisation:
//   - short output (≤20 lines): keep in full
//   - error/failure lines: keep all diagnostics (up to 30)
//   - success: keep first 10 + last 5 lines (preamble and result summary)
func summariseBash(output string) string {
	const keepFullThreshold = 20
	const maxErrorLines = 30
	const successHead = 10
	const successTail = 5

	lines := strings.Split(output, "\n")
	if len(lines) <= keepFullThreshold {
		return output
	}

	var errorLines []string
	for _, l := range lines {
		lower := strings.ToLower(l)
		if strings.Contains(lower, "error:") || strings.Contains(lower, "error[") ||
			strings.Contains(lower, "failed") || strings.Contains(lower, "fail:") ||
			strings.Contains(lower, "panic") || strings.Contains(lower, "warning:") ||
			strings.Contains(lower, "cannot") || strings.Contains(lower, "note:") {
			errorLines = append(errorLines, l)
		}
	}

	if len(errorLines) > 0 {
		kept := errorLines
		if len(kept) > maxErrorLines {
			kept = kept[:maxErrorLines]
		}
		result := strings.Join(kept, "\n")
		if remaining := len(lines) - len(kept); remaining > 0 {
			return fmt.Sprintf("%s\n[+%d lines — ask to recall for full output]", result, remaining)
		}
		return result
	}

	head := lines[:successHead]
	tailStart := len(lines) - successTail
	if tailStart < successHead {
		tailStart = successHead
	}
	tail := lines[tailStart:]
	omitted := tailStart - successHead

	var out strings.Builder
	out.WriteString(strings.Join(head, "\n"))
	if omitted > 0 {
		fmt.Fprintf(&out, "\n[... %d lines omitted ...]", omitted)
	}
	out.WriteByte('\n')
	out.WriteString(strings.Join(tail, "\n"))
	return out.String()
}

// ── Helpers ─────────────────────────────────────────────────────────────

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func truncateToLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return fmt.Sprintf("%s\n[+%d lines truncated]", strings.Join(lines[:n], "\n"), len(lines)-n)
}
