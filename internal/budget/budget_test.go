package budget

import (
	"strings"
	"testing"

	"github.com/xonecas/symb/internal/provider"
)

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 10 {
		t.Errorf("empty string: expected 10, got %d", got)
	}
	if got := EstimateTokens("abcd"); got != 11 {
		t.Errorf("4 chars: expected 11, got %d", got)
	}
}

func TestCompressionThreshold(t *testing.T) {
	cfg := FromContextTokens(32768)
	if cfg.ResponseHeadroom != int(32768*0.15) {
		t.Errorf("unexpected response headroom: %d", cfg.ResponseHeadroom)
	}
	if cfg.Usable() != cfg.TotalContext-cfg.ResponseHeadroom {
		t.Errorf("usable mismatch")
	}
	want := int(float64(cfg.Usable()) * 0.80)
	if cfg.CompressionThreshold() != want {
		t.Errorf("threshold: expected %d, got %d", want, cfg.CompressionThreshold())
	}
}

func TestEnforceNoOpUnderThreshold(t *testing.T) {
	e := New(32768)
	messages := []provider.Message{
		{Role: "user", Content: "hello"},
	}
	_, compressed := e.Enforce(&messages, 0)
	if compressed {
		t.Error("should not compress when under threshold")
	}
}

func TestEnforceCompressesOldToolResults(t *testing.T) {
	e := New(1000) // small window forces compression
	big := "[/src/main.go — 900 lines total]\n" + strings.Repeat("   1 [aaaa] | line\n", 100)

	messages := []provider.Message{
		{Role: "user", Content: "do the task"},
		{Role: "assistant", Content: "reading file"},
		{Role: "tool", Content: big},
		{Role: "assistant", Content: "now editing"},
		{Role: "tool", Content: big},
	}

	_, compressed := e.Enforce(&messages, 0)
	if !compressed {
		t.Fatal("expected compression with a small context window")
	}
	if !strings.Contains(messages[2].Content, "content compressed") {
		t.Errorf("oldest tool result should be compressed: %q", messages[2].Content)
	}
	if !strings.Contains(messages[4].Content, "900 lines total") {
		t.Error("most recent tool result should be left intact")
	}
}

func TestTrimOldestTurnsKeepsTaskAndTail(t *testing.T) {
	messages := []provider.Message{
		{Role: "user", Content: "the task"},
		{Role: "assistant", Content: "step 1"},
		{Role: "tool", Content: "result 1"},
		{Role: "assistant", Content: "step 2"},
		{Role: "tool", Content: "result 2"},
		{Role: "assistant", Content: "step 3"},
		{Role: "tool", Content: "result 3"},
	}

	out := trimOldestTurns(messages)
	if out[0].Content != "the task" {
		t.Error("first user message must never be dropped")
	}
	if len(out) >= len(messages) {
		t.Error("expected at least one turn to be dropped")
	}
	tail := out[len(out)-4:]
	if tail[len(tail)-1].Content != "result 3" {
		t.Error("last turn must be preserved")
	}
}

func TestLoopDetector(t *testing.T) {
	var d LoopDetector
	if d.Record("read_file", `{"path":"a.go"}`) {
		t.Error("first call should not be a loop")
	}
	if !d.Record("read_file", `{"path":"a.go"}`) {
		t.Error("repeating the identical call should be detected as a loop")
	}
	d.Clear()
	if d.Record("read_file", `{"path":"a.go"}`) {
		t.Error("after Clear the history should be empty")
	}
}
