package plan

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEffectiveInstruction(t *testing.T) {
	s := &Step{Instruction: "do the thing"}
	if got := s.EffectiveInstruction(); got != "do the thing" {
		t.Errorf("got %q", got)
	}

	s.UserAnnotation = "  also handle nil case  "
	got := s.EffectiveInstruction()
	want := "do the thing\n\nUser note: also handle nil case"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEstimateTokens(t *testing.T) {
	p := &Plan{Steps: []Step{
		{Instruction: strings.Repeat("a", 400)}, // 400 chars / 4 = 100 tokens
	}}
	low, high := p.EstimateTokens()
	// base 500 + 100 instruction tokens = 600 raw
	if low != 600 {
		t.Errorf("expected low=600, got %d", low)
	}
	if high != 780 {
		t.Errorf("expected high=780 (600*1.3), got %d", high)
	}
}

func TestEstimateDisplay(t *testing.T) {
	p := &Plan{Steps: []Step{{Instruction: strings.Repeat("a", 4000)}}}
	display := p.EstimateDisplay(nil)
	if !strings.Contains(display, "est.") || !strings.Contains(display, "tokens") {
		t.Errorf("unexpected display: %q", display)
	}

	rate := 3.0
	display = p.EstimateDisplay(&rate)
	if !strings.Contains(display, "$") {
		t.Errorf("expected a dollar estimate: %q", display)
	}
}

func TestParseAndStringifyVerificationRoundTrip(t *testing.T) {
	cases := []string{"none", "build", "command:go test ./...", "changed:a.go", "absent:a.go:TODO"}
	for _, s := range cases {
		v := parseVerification(s)
		if got := verifyToString(v); got != s {
			t.Errorf("round-trip mismatch: %q -> %q", s, got)
		}
	}
}

func TestVerificationString(t *testing.T) {
	v := Verification{Kind: VerifyFileChanged, File: "a.go"}
	if got := v.String(); !strings.Contains(got, "a.go") {
		t.Errorf("got %q", got)
	}
}

func TestSanitizeJSONStrings(t *testing.T) {
	input := "{\"instruction\": \"line one\nline two\"}"
	sanitized := SanitizeJSONStrings(input)

	var v map[string]string
	if err := json.Unmarshal([]byte(sanitized), &v); err != nil {
		t.Fatalf("sanitized JSON should parse, got error: %v\ninput: %q", err, sanitized)
	}
	if v["instruction"] != "line one\nline two" {
		t.Errorf("unexpected value: %q", v["instruction"])
	}
}

func TestSanitizeJSONStringsLeavesOutsideStringsAlone(t *testing.T) {
	input := "{\n  \"a\": \"b\"\n}"
	got := SanitizeJSONStrings(input)
	if !strings.Contains(got, "\n") {
		t.Error("newlines outside strings must not be escaped")
	}
}

func TestVerifyNone(t *testing.T) {
	step := &Step{Verify: Verification{Kind: VerifyNone}}
	if err := Verify(context.Background(), step, nil); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestVerifyFileChangedRecentlyModified(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	step := &Step{Verify: Verification{Kind: VerifyFileChanged, File: path}}
	if err := Verify(context.Background(), step, nil); err != nil {
		t.Errorf("expected no error for freshly written file, got %v", err)
	}
}

func TestVerifyFileChangedStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-5 * time.Minute)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
	step := &Step{Verify: Verification{Kind: VerifyFileChanged, File: path}}
	if err := Verify(context.Background(), step, nil); err == nil {
		t.Error("expected an error for a stale file")
	}
}

func TestVerifyPatternAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	os.WriteFile(path, []byte("no leftovers here"), 0644)
	step := &Step{Verify: Verification{Kind: VerifyPatternAbsent, File: path, Pattern: "TODO"}}
	if err := Verify(context.Background(), step, nil); err != nil {
		t.Errorf("expected pass when pattern absent, got %v", err)
	}

	os.WriteFile(path, []byte("still has TODO here"), 0644)
	if err := Verify(context.Background(), step, nil); err == nil {
		t.Error("expected failure when pattern still present")
	}
}

func TestVerifyCommandSuccess(t *testing.T) {
	step := &Step{Verify: Verification{Kind: VerifyCommandSuccess, Command: "true"}}
	exec := func(ctx context.Context, cmd string) (string, string, error) { return "", "", nil }
	if err := Verify(context.Background(), step, exec); err != nil {
		t.Errorf("expected pass, got %v", err)
	}

	step2 := &Step{Verify: Verification{Kind: VerifyCommandSuccess, Command: "false"}}
	execFail := func(ctx context.Context, cmd string) (string, string, error) {
		return "", "boom", errCommandFailed
	}
	if err := Verify(context.Background(), step2, execFail); err == nil {
		t.Error("expected failure")
	}
}

var errCommandFailed = &cmdErr{"exit status 1"}

type cmdErr struct{ msg string }

func (e *cmdErr) Error() string { return e.msg }

func TestSummariseEmptyFiles(t *testing.T) {
	step := &Step{Description: "do a thing"}
	if got := Summarise(step); got != "completed: do a thing" {
		t.Errorf("got %q", got)
	}
}

func TestSummariseDetectsSymbols(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	os.WriteFile(path, []byte("package a\n\nfunc DoThing() error {\n\treturn nil\n}\n"), 0644)

	step := &Step{Description: "add DoThing", Files: []string{path}}
	got := Summarise(step)
	if !strings.Contains(got, "DoThing") {
		t.Errorf("expected symbol name in summary, got %q", got)
	}
}

func TestSummariseSkipsStaleFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	os.WriteFile(path, []byte("package a\nfunc Foo() {}\n"), 0644)
	old := time.Now().Add(-10 * time.Minute)
	os.Chtimes(path, old, old)

	step := &Step{Description: "old change", Files: []string{path}}
	got := Summarise(step)
	if got != "completed: old change" {
		t.Errorf("expected fallback summary for stale file, got %q", got)
	}
}

func TestSaveAndWriteMarkdown(t *testing.T) {
	dir := t.TempDir()
	orig, _ := os.Getwd()
	defer os.Chdir(orig)
	os.Chdir(dir)

	p := New("add feature X", []Step{
		{Description: "step one", Instruction: "do X", Files: []string{"a.go"}, Verify: Verification{Kind: VerifyNone}},
	}, "myproj")

	path, err := Save(p)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected plan file to exist: %v", err)
	}

	data, _ := os.ReadFile(path)
	var dp diskPlan
	if err := json.Unmarshal(data, &dp); err != nil {
		t.Fatalf("saved plan should be valid JSON: %v", err)
	}
	if dp.Task != "add feature X" {
		t.Errorf("unexpected task: %q", dp.Task)
	}

	if err := WriteMarkdown(p); err != nil {
		t.Fatalf("write markdown: %v", err)
	}
	md, err := os.ReadFile(filepath.Join(".symb", "plan.md"))
	if err != nil {
		t.Fatalf("expected plan.md to exist: %v", err)
	}
	if !strings.Contains(string(md), "step one") {
		t.Errorf("expected markdown to mention step description, got %q", md)
	}
}
