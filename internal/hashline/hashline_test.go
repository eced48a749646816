package hashline

import (
	"strings"
	"testing"
)

func TestLineHash(t *testing.T) {
	h1 := LineHash("hello world")
	h2 := LineHash("hello world")
	if h1 != h2 {
		t.Errorf("same input produced different hashes: %s vs %s", h1, h2)
	}

	h3 := LineHash("hello world!")
	if h1 == h3 {
		t.Errorf("different inputs produced same hash: %s", h1)
	}

	if len(h1) != HashLen {
		t.Errorf("expected hash length %d, got %d", HashLen, len(h1))
	}

	h4 := LineHash("")
	if len(h4) != HashLen {
		t.Errorf("empty line hash length: expected %d, got %d", HashLen, len(h4))
	}

	for _, c := range h1 {
		if !strings.ContainsRune(base36Alphabet, c) {
			t.Errorf("hash %q contains non-base36 char %q", h1, c)
		}
	}
}

func TestTagLines(t *testing.T) {
	content := "func hello() {\n  return \"world\"\n}"

	tagged := TagLines(content, 1)
	if len(tagged) != 3 {
		t.Fatalf("expected 3 tagged lines, got %d", len(tagged))
	}

	for i, tl := range tagged {
		if tl.Num != i+1 {
			t.Errorf("line %d: expected Num=%d, got %d", i, i+1, tl.Num)
		}
		if len(tl.Hash) != HashLen {
			t.Errorf("line %d: expected hash length %d, got %d", i, HashLen, len(tl.Hash))
		}
	}

	if tagged[0].Content != "func hello() {" {
		t.Errorf("line 0 content: %q", tagged[0].Content)
	}
	if tagged[2].Content != "}" {
		t.Errorf("line 2 content: %q", tagged[2].Content)
	}
}

func TestTagLinesWithOffset(t *testing.T) {
	content := "line a\nline b"
	tagged := TagLines(content, 10)

	if tagged[0].Num != 10 {
		t.Errorf("expected first line num 10, got %d", tagged[0].Num)
	}
	if tagged[1].Num != 11 {
		t.Errorf("expected second line num 11, got %d", tagged[1].Num)
	}
}

func TestFormatTagged(t *testing.T) {
	tagged := []TaggedLine{
		{Num: 1, Hash: "a3x9", Content: "func hello() {"},
		{Num: 2, Hash: "f1z0", Content: "  return \"world\""},
		{Num: 3, Hash: "0eaa", Content: "}"},
	}

	output := FormatTagged(tagged)
	expected := "   1 [a3x9] | func hello() {\n   2 [f1z0] |   return \"world\"\n   3 [0eaa] | }"
	if output != expected {
		t.Errorf("FormatTagged:\ngot:  %q\nwant: %q", output, expected)
	}
}

func TestAnchorValidate(t *testing.T) {
	lines := []string{"func hello() {", "  return \"world\"", "}"}

	hash := LineHash(lines[0])
	a := Anchor{Num: 1, Hash: hash}
	if err := a.Validate(lines); err != nil {
		t.Errorf("valid anchor failed: %v", err)
	}

	a2 := Anchor{Num: 0, Hash: "ffff"}
	if err := a2.Validate(lines); err == nil {
		t.Error("line 0 should be out of range")
	}

	a3 := Anchor{Num: 4, Hash: "ffff"}
	if err := a3.Validate(lines); err == nil {
		t.Error("line 4 should be out of range")
	}

	a4 := Anchor{Num: 1, Hash: "ffff"}
	err := a4.Validate(lines)
	if err == nil {
		t.Error("wrong hash should fail validation")
	}
	errMsg := err.Error()
	if !strings.Contains(errMsg, "actual:") {
		t.Errorf("error should contain actual line content: %s", errMsg)
	}
	if !strings.Contains(errMsg, "func hello()") {
		t.Errorf("error should contain the line text: %s", errMsg)
	}
	if !strings.Contains(errMsg, "re-Read") {
		t.Errorf("error should suggest re-reading: %s", errMsg)
	}
}

func TestValidateRange(t *testing.T) {
	lines := []string{"aaa", "bbb", "ccc"}
	h1 := LineHash(lines[0])
	h2 := LineHash(lines[1])
	h3 := LineHash(lines[2])

	if err := ValidateRange(Anchor{1, h1}, Anchor{3, h3}, lines); err != nil {
		t.Errorf("valid range failed: %v", err)
	}

	if err := ValidateRange(Anchor{2, h2}, Anchor{2, h2}, lines); err != nil {
		t.Errorf("single line range failed: %v", err)
	}

	if err := ValidateRange(Anchor{3, h3}, Anchor{1, h1}, lines); err == nil {
		t.Error("inverted range should fail")
	}

	if err := ValidateRange(Anchor{1, "ffff"}, Anchor{3, h3}, lines); err == nil {
		t.Error("bad start hash should fail")
	}

	if err := ValidateRange(Anchor{1, h1}, Anchor{3, "ffff"}, lines); err == nil {
		t.Error("bad end hash should fail")
	}
}

func TestRoundTrip(t *testing.T) {
	content := "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"hello\")\n}"
	tagged := TagLines(content, 1)

	lines := make([]string, len(tagged))
	for i, tl := range tagged {
		lines[i] = tl.Content
	}

	for _, tl := range tagged {
		a := Anchor{Num: tl.Num, Hash: tl.Hash}
		if err := a.Validate(lines); err != nil {
			t.Errorf("round-trip validation failed for line %d: %v", tl.Num, err)
		}
	}
}
