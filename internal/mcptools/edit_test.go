package mcptools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// setupTestFile creates a temp file with the given content and returns its path and cleanup func.
func setupTestFile(t *testing.T, content string) (string, func()) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.go")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	origDir, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	return path, func() {
		os.Chdir(origDir) //nolint:errcheck
	}
}

// newTrackedHandler creates an EditHandler with a tracker where the file is already marked as read.
func newTrackedHandler(t *testing.T, absPath string) *EditHandler {
	t.Helper()
	tracker := NewFileReadTracker()
	tracker.MarkRead(absPath)
	return NewEditHandler(tracker, nil, nil)
}

func callEdit(t *testing.T, handler *EditHandler, args EditArgs) (string, bool) {
	t.Helper()
	argsJSON, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}

	result, err := handler.Handle(context.Background(), argsJSON)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	text := ""
	if len(result.Content) > 0 {
		text = result.Content[0].Text
	}
	return text, result.IsError
}

func TestEditExactMatch(t *testing.T) {
	content := "line one\nline two\nline three\nline four"
	path, cleanup := setupTestFile(t, content)
	defer cleanup()

	handler := newTrackedHandler(t, path)
	text, isErr := callEdit(t, handler, EditArgs{
		Path:   filepath.Base(path),
		OldStr: "line two",
		NewStr: "replaced line",
	})

	if isErr {
		t.Fatalf("edit failed: %s", text)
	}

	got, _ := os.ReadFile(path)
	expected := "line one\nreplaced line\nline three\nline four"
	if string(got) != expected {
		t.Errorf("file content:\ngot:  %q\nwant: %q", string(got), expected)
	}
	if !strings.Contains(text, "Edited") {
		t.Errorf("result should mention 'Edited': %s", text)
	}
}

func TestEditExactMatchMultipleOccurrences(t *testing.T) {
	content := "foo\nbar\nfoo\nbar\nfoo"
	path, cleanup := setupTestFile(t, content)
	defer cleanup()

	handler := newTrackedHandler(t, path)
	text, isErr := callEdit(t, handler, EditArgs{
		Path:   filepath.Base(path),
		OldStr: "foo",
		NewStr: "baz",
	})

	if isErr {
		t.Fatalf("edit failed: %s", text)
	}

	got, _ := os.ReadFile(path)
	expected := "baz\nbar\nbaz\nbar\nbaz"
	if string(got) != expected {
		t.Errorf("file content:\ngot:  %q\nwant: %q", string(got), expected)
	}
	if !strings.Contains(text, "3 replacements") {
		t.Errorf("result should mention replacement count: %s", text)
	}
}

func TestEditFuzzyWhitespaceTrimmed(t *testing.T) {
	content := "func main() {\n    fmt.Println(\"hi\")   \n}\n"
	path, cleanup := setupTestFile(t, content)
	defer cleanup()

	handler := newTrackedHandler(t, path)
	// old_str spans the line end without the file's trailing spaces — won't
	// match exactly, but will match after per-line trim().
	text, isErr := callEdit(t, handler, EditArgs{
		Path:   filepath.Base(path),
		OldStr: "fmt.Println(\"hi\")\n}",
		NewStr: "fmt.Println(\"bye\")\n}",
	})

	if isErr {
		t.Fatalf("fuzzy edit failed: %s", text)
	}
	if !strings.Contains(text, "fuzzy match") {
		t.Errorf("result should mention fuzzy match: %s", text)
	}

	got, _ := os.ReadFile(path)
	if !strings.Contains(string(got), "fmt.Println(\"bye\")") {
		t.Errorf("file should contain replacement: %q", string(got))
	}
}

func TestEditFuzzyAmbiguousFails(t *testing.T) {
	// old_str carries a trailing tab, so it has no exact match. Both lines
	// differ from it only by surrounding whitespace — after trimming both
	// become identical candidates, so the match is ambiguous and must fail
	// rather than guess.
	content := "  x := 1  \n  x := 1\n"
	path, cleanup := setupTestFile(t, content)
	defer cleanup()

	handler := newTrackedHandler(t, path)
	_, isErr := callEdit(t, handler, EditArgs{
		Path:   filepath.Base(path),
		OldStr: "x := 1\t",
		NewStr: "x := 2",
	})

	if !isErr {
		t.Error("ambiguous fuzzy match should fail rather than guess")
	}
}

func TestEditNoMatchGivesContextHint(t *testing.T) {
	content := strings.Repeat("filler line\n", 20) + "target line here\n" + strings.Repeat("filler line\n", 20)
	path, cleanup := setupTestFile(t, content)
	defer cleanup()

	handler := newTrackedHandler(t, path)
	text, isErr := callEdit(t, handler, EditArgs{
		Path:   filepath.Base(path),
		OldStr: "target line nowhere",
		NewStr: "anything",
	})

	if !isErr {
		t.Fatal("should fail when no match found")
	}
	if !strings.Contains(text, "not found") {
		t.Errorf("error should say not found: %s", text)
	}
	if !strings.Contains(text, "Nearest match around line") {
		t.Errorf("error should include a context hint: %s", text)
	}
}

func TestEditMissingOldStr(t *testing.T) {
	_, cleanup := setupTestFile(t, "single line")
	defer cleanup()

	tracker := NewFileReadTracker()
	handler := NewEditHandler(tracker, nil, nil)
	_, isErr := callEdit(t, handler, EditArgs{
		Path:   "test.go",
		NewStr: "replacement",
	})

	if !isErr {
		t.Error("should fail when old_str is missing")
	}
}

func TestEditPathTraversal(t *testing.T) {
	_, cleanup := setupTestFile(t, "single line")
	defer cleanup()

	tracker := NewFileReadTracker()
	handler := NewEditHandler(tracker, nil, nil)
	_, isErr := callEdit(t, handler, EditArgs{
		Path:   "../../../etc/passwd",
		OldStr: "root",
		NewStr: "hacked",
	})

	if !isErr {
		t.Error("should reject path traversal")
	}
}

func TestEditRequiresReadFirst(t *testing.T) {
	content := "line one\nline two"
	path, cleanup := setupTestFile(t, content)
	defer cleanup()

	// Handler with empty tracker — file NOT read.
	tracker := NewFileReadTracker()
	handler := NewEditHandler(tracker, nil, nil)

	text, isErr := callEdit(t, handler, EditArgs{
		Path:   filepath.Base(path),
		OldStr: "line one",
		NewStr: "replaced",
	})

	if !isErr {
		t.Fatal("should fail when file was not read first")
	}
	if !strings.Contains(text, "read_file") {
		t.Errorf("error should mention read_file tool: %s", text)
	}

	absPath, _ := filepath.Abs(filepath.Base(path))
	tracker.MarkRead(absPath)

	_, isErr = callEdit(t, handler, EditArgs{
		Path:   filepath.Base(path),
		OldStr: "line one",
		NewStr: "replaced",
	})

	if isErr {
		t.Fatal("should succeed after file was read")
	}
}

func TestEditCRLFNormalised(t *testing.T) {
	content := "line one\r\nline two\r\nline three\r\n"
	path, cleanup := setupTestFile(t, content)
	defer cleanup()

	handler := newTrackedHandler(t, path)
	text, isErr := callEdit(t, handler, EditArgs{
		Path:   filepath.Base(path),
		OldStr: "line two\n",
		NewStr: "line TWO\n",
	})

	if isErr {
		t.Fatalf("CRLF-normalised edit failed: %s", text)
	}
	if !strings.Contains(text, "CRLF normalised") {
		t.Errorf("result should mention CRLF normalisation: %s", text)
	}

	got, _ := os.ReadFile(path)
	if !strings.Contains(string(got), "line TWO") {
		t.Errorf("file should contain replacement: %q", string(got))
	}
}

func TestEditResultIncludesTaggedLines(t *testing.T) {
	content := "alpha\nbeta\ngamma"
	path, cleanup := setupTestFile(t, content)
	defer cleanup()

	handler := newTrackedHandler(t, path)
	text, isErr := callEdit(t, handler, EditArgs{
		Path:   filepath.Base(path),
		OldStr: "beta",
		NewStr: "BETA",
	})

	if isErr {
		t.Fatalf("edit failed: %s", text)
	}
	// hashline.FormatTagged output carries line numbers; a quick sanity check
	// that the tagged body was appended after the header.
	if !strings.Contains(text, "BETA") {
		t.Errorf("tagged output should show edited content: %s", text)
	}
}
