package store

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenSessionAndAppendTurn(t *testing.T) {
	s := NewSessionStore(t.TempDir())
	sess, err := s.OpenSession("/home/dev/myproj")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if !strings.HasSuffix(sess.ID, "_myproj") {
		t.Errorf("expected ID to end with _myproj, got %q", sess.ID)
	}

	turn := ConversationTurn{TurnIndex: 0, Timestamp: 1000, UserMessage: "hi", AgentResponse: "hello"}
	if err := AppendTurn(sess.Path, turn); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	turns, err := LoadSessionTurns(sess.Path)
	if err != nil {
		t.Fatalf("LoadSessionTurns: %v", err)
	}
	if len(turns) != 1 || turns[0].UserMessage != "hi" {
		t.Errorf("unexpected turns: %+v", turns)
	}
}

func TestAppendTurnMultipleLines(t *testing.T) {
	s := NewSessionStore(t.TempDir())
	sess, _ := s.OpenSession("/wd/proj")

	for i := 0; i < 3; i++ {
		turn := ConversationTurn{TurnIndex: i, Timestamp: int64(i), UserMessage: "msg"}
		if err := AppendTurn(sess.Path, turn); err != nil {
			t.Fatalf("AppendTurn %d: %v", i, err)
		}
	}

	turns, err := LoadSessionTurns(sess.Path)
	if err != nil {
		t.Fatalf("LoadSessionTurns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	for i, turn := range turns {
		if turn.TurnIndex != i {
			t.Errorf("turn %d has TurnIndex %d", i, turn.TurnIndex)
		}
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	s := NewSessionStore(dir)

	ids := []string{"100_proja", "200_projb", "300_proja"}
	for _, id := range ids {
		path := filepath.Join(dir, "sessions", id+".jsonl")
		if err := AppendTurn(path, ConversationTurn{TurnIndex: 0}); err != nil {
			t.Fatalf("AppendTurn(%s): %v", id, err)
		}
	}

	refs, err := s.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(refs))
	}
	want := []string{"300_proja", "200_projb", "100_proja"}
	for i, ref := range refs {
		if ref.ID != want[i] {
			t.Errorf("position %d: got %q, want %q", i, ref.ID, want[i])
		}
	}
}

func TestListSessionsEmpty(t *testing.T) {
	s := NewSessionStore(t.TempDir())
	refs, err := s.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(refs) != 0 {
		t.Errorf("expected no sessions, got %+v", refs)
	}
}

func TestFindLatestForCwd(t *testing.T) {
	dir := t.TempDir()
	s := NewSessionStore(dir)

	for _, id := range []string{"100_alpha", "200_beta", "300_alpha"} {
		path := filepath.Join(dir, "sessions", id+".jsonl")
		AppendTurn(path, ConversationTurn{TurnIndex: 0})
	}

	ref, ok := s.FindLatestForCwd("/somewhere/alpha")
	if !ok {
		t.Fatal("expected a match for alpha")
	}
	if ref.ID != "300_alpha" {
		t.Errorf("expected 300_alpha, got %q", ref.ID)
	}

	if _, ok := s.FindLatestForCwd("/somewhere/gamma"); ok {
		t.Error("expected no match for gamma")
	}
}

func TestPathFor(t *testing.T) {
	s := NewSessionStore("/data")
	got := s.PathFor("123_proj")
	want := filepath.Join("/data", "sessions", "123_proj.jsonl")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildPriorContextEmpty(t *testing.T) {
	if got := BuildPriorContext(nil); got != "" {
		t.Errorf("expected empty preamble for no turns, got %q", got)
	}
}

func TestBuildPriorContextIncludesToolSummary(t *testing.T) {
	turns := []ConversationTurn{
		{TurnIndex: 0, UserMessage: "add a test", AgentResponse: "done", ToolSummary: "edit_file, shell"},
	}
	got := BuildPriorContext(turns)
	if !strings.Contains(got, "Tools used: edit_file, shell") {
		t.Errorf("expected tool summary in preamble, got %q", got)
	}
	if !strings.Contains(got, "add a test") || !strings.Contains(got, "done") {
		t.Errorf("expected user/assistant text in preamble, got %q", got)
	}
}

func TestBuildPriorContextRespectsBudget(t *testing.T) {
	var turns []ConversationTurn
	for i := 0; i < 50; i++ {
		turns = append(turns, ConversationTurn{
			TurnIndex:     i,
			UserMessage:   strings.Repeat("x", 1000),
			AgentResponse: strings.Repeat("y", 1000),
		})
	}
	got := BuildPriorContext(turns)
	if len(got) > PriorContextTokenCap*4+2000 {
		t.Errorf("preamble exceeds budget by a wide margin: %d chars", len(got))
	}
	// Most recent turn must survive the cutoff.
	if !strings.Contains(got, "[Turn 50]") {
		t.Error("expected the newest turn to survive the budget cutoff")
	}
}

func TestToProviderMessages(t *testing.T) {
	turns := []ConversationTurn{
		{TurnIndex: 0, Timestamp: 1000, UserMessage: "hi", AgentResponse: "hello"},
		{TurnIndex: 1, Timestamp: 2000, UserMessage: "bye", AgentResponse: "goodbye"},
	}
	msgs := ToProviderMessages(turns)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "hi" {
		t.Errorf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "hello" {
		t.Errorf("unexpected second message: %+v", msgs[1])
	}
}

func TestCwdBasenameFallback(t *testing.T) {
	if got := cwdBasename("/"); got != "unknown" {
		t.Errorf("expected unknown for root, got %q", got)
	}
	if got := cwdBasename("/home/dev/proj"); got != "proj" {
		t.Errorf("got %q", got)
	}
}
