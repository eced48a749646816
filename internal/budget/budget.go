// Package budget enforces a token budget on the outgoing conversation
// history before each model call, deterministically — no summarisation
// call, no extra token cost to save tokens.
package budget

import (
	"fmt"
	"strings"

	"github.com/xonecas/symb/internal/provider"
)

// Config splits a model's context window into a usable conversation budget
// and a headroom reserved for the model's response.
type Config struct {
	TotalContext    int
	ResponseHeadroom int
}

// FromContextTokens reserves 15% of the context window for the response,
// leaving 85% for the conversation.
func FromContextTokens(contextTokens int) Config {
	return Config{
		TotalContext:     contextTokens,
		ResponseHeadroom: int(float64(contextTokens) * 0.15),
	}
}

// Usable returns the maximum tokens available for the outgoing request.
func (c Config) Usable() int {
	u := c.TotalContext - c.ResponseHeadroom
	if u < 0 {
		return 0
	}
	return u
}

// CompressionThreshold triggers compression at 80% of the usable budget.
func (c Config) CompressionThreshold() int {
	return int(float64(c.Usable()) * 0.80)
}

// EstimateTokens approximates token count as chars/4, with a flat +10
// overhead per message for role/formatting. Counts runes, not bytes, to
// avoid overestimating multi-byte Unicode text.
func EstimateTokens(s string) int {
	return len([]rune(s))/4 + 10
}

// EstimateMessages sums the token estimate across a message history.
func EstimateMessages(messages []provider.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content + m.Reasoning)
	}
	return total
}

// Enforcer proactively compresses conversation history before each API
// call so the outgoing request stays within the model's context window.
type Enforcer struct {
	config Config
}

// New creates an Enforcer sized to the model's context window.
func New(contextTokens int) *Enforcer {
	return &Enforcer{config: FromContextTokens(contextTokens)}
}

// TotalContext returns the configured context window size.
func (e *Enforcer) TotalContext() int { return e.config.TotalContext }

// Enforce checks current usage against the compression threshold and, if
// exceeded, compresses messages in place. Returns the token estimate after
// enforcement and whether any compression was applied.
//
// Strategy when over budget:
//  1. Compress oldest tool results further (already summarised; now inline-only)
//  2. If still over: drop the oldest non-essential assistant/tool turn
//  3. Hard floor: never drop the system prompt or the original user task,
//     never drop the most recent two turns
func (e *Enforcer) Enforce(messages *[]provider.Message, systemTokens int) (int, bool) {
	threshold := e.config.CompressionThreshold()
	current := EstimateMessages(*messages) + systemTokens
	if current <= threshold {
		return current, false
	}

	compressToolResults(*messages)
	afterPass1 := EstimateMessages(*messages) + systemTokens
	if afterPass1 <= threshold {
		return afterPass1, true
	}

	*messages = trimOldestTurns(*messages)
	afterPass2 := EstimateMessages(*messages) + systemTokens
	return afterPass2, true
}

// compressToolResults replaces verbose tool results with short summaries,
// leaving the most recent tool message intact so the model still has the
// content it just received.
func compressToolResults(messages []provider.Message) {
	lastToolIdx := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "tool" {
			lastToolIdx = i
			break
		}
	}
	if lastToolIdx < 0 {
		lastToolIdx = 0
	}

	for i := range messages {
		if messages[i].Role != "tool" || i >= lastToolIdx {
			continue
		}
		if len(messages[i].Content) <= 200 {
			continue
		}
		messages[i].Content = compressToolContent(messages[i].Content)
	}
}

// trimOldestTurns drops the oldest assistant+tool turn pair, keeping the
// first user message (the task) and the last two turns intact.
func trimOldestTurns(messages []provider.Message) []provider.Message {
	const protectedTail = 4
	if len(messages) <= protectedTail+1 {
		return messages
	}

	dropBefore := len(messages) - protectedTail
	dropIdx := -1
	for i := 1; i < dropBefore; i++ {
		if messages[i].Role == "assistant" {
			dropIdx = i
			break
		}
	}
	if dropIdx < 0 {
		return messages
	}

	end := dropIdx + 1
	if end < len(messages) && messages[end].Role == "tool" {
		end++
	}

	out := make([]provider.Message, 0, len(messages)-(end-dropIdx))
	out = append(out, messages[:dropIdx]...)
	out = append(out, messages[end:]...)
	return out
}

// compressToolContent compresses a tool result's content string to a short
// summary. Understands the read_file header format; falls back to the
// first line for anything else.
func compressToolContent(content string) string {
	first := content
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		first = content[:idx]
	}

	if strings.HasPrefix(first, "[") && strings.Contains(first, " — ") {
		inner := strings.TrimPrefix(first, "[")
		pathPart := inner
		if idx := strings.Index(inner, " —"); idx >= 0 {
			pathPart = inner[:idx]
		}
		pathPart = strings.TrimSpace(strings.TrimSuffix(pathPart, "]"))

		lineCount := strings.Count(content, " | ")
		if lineCount > 0 {
			return fmt.Sprintf("[content compressed — ✓ Read %s (%d lines). Ask to recall if needed.]", pathPart, lineCount)
		}
		return fmt.Sprintf("[content compressed — ✓ Read %s. Ask to recall if needed.]", pathPart)
	}

	return first
}

// LoopDetector tracks recent tool calls to detect doom loops: fires when
// the same (tool name, first 200 chars of args) fingerprint appears twice
// within the last 5 calls.
type LoopDetector struct {
	recent []string
}

// Record logs a tool call and reports whether a loop was detected.
func (d *LoopDetector) Record(toolName, args string) bool {
	n := len(args)
	if n > 200 {
		n = 200
	}
	fp := toolName + "::" + args[:n]

	d.recent = append(d.recent, fp)
	if len(d.recent) > 5 {
		d.recent = d.recent[1:]
	}

	count := 0
	for _, f := range d.recent {
		if f == fp {
			count++
		}
	}
	return count >= 2
}

// Clear resets the detector's history.
func (d *LoopDetector) Clear() {
	d.recent = nil
}
