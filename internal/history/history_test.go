package history

import (
	"strings"
	"testing"
)

func TestRecordAndRecall(t *testing.T) {
	h := New()
	model, display := h.Record("call-1", "bash", "hello\n")
	if model != "hello\n" {
		t.Errorf("short bash output should pass through unchanged, got %q", model)
	}
	if display == "" {
		t.Error("display summary should not be empty")
	}

	full, ok := h.Recall("call-1")
	if !ok || full != "hello\n" {
		t.Errorf("Recall: expected %q, got %q (ok=%v)", "hello\n", full, ok)
	}

	if _, ok := h.Recall("missing"); ok {
		t.Error("Recall for unknown id should fail")
	}
}

func TestRecallByName(t *testing.T) {
	h := New()
	h.Record("call-1", "read_file", "[a.go — 1 lines]\n   1 [aaaa] | package a\n")
	h.Record("call-2", "read_file", "[b.go — 1 lines]\n   1 [bbbb] | package b\n")

	full, ok := h.RecallByName("read_file")
	if !ok || !strings.Contains(full, "b.go") {
		t.Errorf("expected most recent read_file record (b.go), got %q", full)
	}
}

func TestSummariseEditFileSuccess(t *testing.T) {
	h := New()
	out := "✓ Edited main.go\n\n   1 [aaaa] | package main\n   2 [bbbb] | \n"
	model, _ := h.Record("c1", "edit_file", out)
	if model != "✓ Edited main.go" {
		t.Errorf("edit_file success should collapse to its first line, got %q", model)
	}
}

func TestSummariseEditFileBuildBroken(t *testing.T) {
	h := New()
	out := "⚠ FILE WRITTEN BUT BUILD BROKEN\n\nerror: undefined: foo\n"
	model, _ := h.Record("c1", "edit_file", out)
	if model != out {
		t.Error("a broken build should keep the full diagnostic output")
	}
}

func TestCompressReadsFor(t *testing.T) {
	h := New()
	long := "[src/app.go — 300 lines total]\n" + strings.Repeat("   1 [aaaa] | x\n", 40)
	h.Record("c1", "read_file", long)

	h.CompressReadsFor("src/app.go")

	full, _ := h.Recall("c1")
	if !strings.Contains(full, "Stale") {
		t.Errorf("expected stale-read stub after edit, got %q", full)
	}
}

func TestSummariseListSmallKeptInFull(t *testing.T) {
	h := New()
	out := "├── main.go\n└── util.go\n\n[2 entries]"
	model, _ := h.Record("c1", "list_files", out)
	if model != out {
		t.Error("small listings should be kept verbatim")
	}
}

func TestSummariseBashErrorPath(t *testing.T) {
	lines := make([]string, 25)
	for i := range lines {
		lines[i] = "ok line"
	}
	lines[10] = "error: something broke"
	out := strings.Join(lines, "\n")

	h := New()
	model, _ := h.Record("c1", "bash", out)
	if !strings.Contains(model, "error: something broke") {
		t.Error("error lines must survive bash summarisation")
	}
	if strings.Contains(model, "ok line") {
		t.Error("non-error lines should be dropped once an error is present")
	}
}

func TestCompressedCount(t *testing.T) {
	h := New()
	h.Record("c1", "bash", "short\n")
	longOut := "✓ Edited x.go\n\n" + strings.Repeat("line\n", 100)
	h.Record("c2", "edit_file", longOut)

	if h.CompressedCount() != 1 {
		t.Errorf("expected exactly one compressed record, got %d", h.CompressedCount())
	}
}
