package hooks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xonecas/symb/internal/shell"
)

func TestConfigIsEmpty(t *testing.T) {
	if !(Config{}).IsEmpty() {
		t.Error("zero-value Config should be empty")
	}
	if (Config{OnEdit: []string{"x"}}).IsEmpty() {
		t.Error("Config with an on_edit command should not be empty")
	}
}

func TestConfigSummary(t *testing.T) {
	if got := (Config{}).Summary(); got != "" {
		t.Errorf("expected empty summary, got %q", got)
	}

	c := Config{OnEdit: []string{"cargo check -q"}, OnTaskDone: []string{"cargo test -q"}}
	got := c.Summary()
	if !strings.Contains(got, "on_edit: cargo check -q") {
		t.Errorf("missing on_edit in summary: %q", got)
	}
	if !strings.Contains(got, "on_task_done: cargo test -q") {
		t.Errorf("missing on_task_done in summary: %q", got)
	}
	if !strings.Contains(got, "·") {
		t.Errorf("expected separator between categories: %q", got)
	}
}

func TestConfigDetailEmptyShowsNone(t *testing.T) {
	got := Config{}.Detail()
	if strings.Count(got, "(none)") != 5 {
		t.Errorf("expected all 5 categories to show (none), got %q", got)
	}
}

func TestConfigDetailWithCommands(t *testing.T) {
	c := Config{OnEdit: []string{"go build ./..."}}
	got := c.Detail()
	if !strings.Contains(got, "on_edit:\n  go build ./...") {
		t.Errorf("expected formatted on_edit section, got %q", got)
	}
	if strings.Count(got, "(none)") != 4 {
		t.Errorf("expected 4 remaining empty categories, got %q", got)
	}
}

func TestDetectLanguageHooksGo(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := DetectLanguageHooks(dir)
	if len(cfg.OnEdit) != 1 || cfg.OnEdit[0] != "go build ./..." {
		t.Errorf("expected go build hook, got %+v", cfg)
	}
}

func TestDetectLanguageHooksRust(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte("[package]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := DetectLanguageHooks(dir)
	if len(cfg.OnEdit) != 1 || cfg.OnEdit[0] != "cargo check -q" {
		t.Errorf("expected cargo check hook, got %+v", cfg)
	}
	if len(cfg.OnTaskDone) != 1 {
		t.Errorf("expected an on_task_done hook, got %+v", cfg)
	}
}

func TestDetectLanguageHooksNone(t *testing.T) {
	dir := t.TempDir()
	cfg := DetectLanguageHooks(dir)
	if !cfg.IsEmpty() {
		t.Errorf("expected no hooks for an unrecognised project, got %+v", cfg)
	}
}

func TestWhichBinary(t *testing.T) {
	if !whichBinary("sh") {
		t.Error("expected 'sh' to be found on PATH")
	}
	if whichBinary("definitely-not-a-real-binary-xyz") {
		t.Error("expected a nonexistent binary to not be found")
	}
}

func TestRunHookSuccess(t *testing.T) {
	sh := shell.New(t.TempDir(), nil)
	r := NewRunner(sh)
	result := r.Run(context.Background(), "echo hello")
	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Output, "hello") {
		t.Errorf("expected output to contain 'hello', got %q", result.Output)
	}
}

func TestRunHookFailure(t *testing.T) {
	sh := shell.New(t.TempDir(), nil)
	r := NewRunner(sh)
	result := r.Run(context.Background(), "exit 3")
	if result.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", result.ExitCode)
	}
}

func TestRunHookStdoutOnly(t *testing.T) {
	sh := shell.New(t.TempDir(), nil)
	r := NewRunner(sh)
	result := r.Run(context.Background(), "echo out-only")
	if strings.Contains(result.Output, "\n\n") {
		t.Errorf("expected no blank-line join with empty stderr, got %q", result.Output)
	}
}

func TestRunHookTruncatesOutput(t *testing.T) {
	sh := shell.New(t.TempDir(), nil)
	r := NewRunner(sh)
	result := r.Run(context.Background(), "for i in $(seq 1 60); do echo line$i; done")
	lines := strings.Split(result.Output, "\n")
	if len(lines) != MaxLines+1 {
		t.Errorf("expected %d lines (including truncation marker), got %d", MaxLines+1, len(lines))
	}
	if !strings.Contains(result.Output, "truncated") {
		t.Errorf("expected a truncation marker, got %q", result.Output)
	}
}

func TestRunHookNoTruncationAtLimit(t *testing.T) {
	sh := shell.New(t.TempDir(), nil)
	r := NewRunner(sh)
	result := r.Run(context.Background(), "for i in $(seq 1 50); do echo line$i; done")
	if strings.Contains(result.Output, "truncated") {
		t.Errorf("did not expect truncation for output at the line limit, got %q", result.Output)
	}
}

func TestRunHookNonexistentCommand(t *testing.T) {
	sh := shell.New(t.TempDir(), nil)
	r := NewRunner(sh)
	result := r.Run(context.Background(), "definitely-not-a-real-binary-xyz")
	if result.ExitCode == 0 {
		t.Error("expected a nonzero exit code for a nonexistent command")
	}
}
