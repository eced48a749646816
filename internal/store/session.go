package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xonecas/symb/internal/provider"
)

// PriorContextTokenCap bounds how much prior-session text gets injected as
// preamble into a new turn. 8000 tokens ≈ 32000 chars — about a quarter of a
// 32k context window spent on history.
const PriorContextTokenCap = 8000

// ConversationTurn is one completed user↔agent exchange, kept intentionally
// lean: full tool outputs are never stored here, only a compact summary of
// which tools ran.
type ConversationTurn struct {
	TurnIndex     int    `json:"turn_index"`
	Timestamp     int64  `json:"timestamp"`
	UserMessage   string `json:"user_message"`
	AgentResponse string `json:"agent_response"`
	ToolSummary   string `json:"tool_summary"`
}

// Session is a single TUI session: its turns, and a rollback pointer into
// them.
type Session struct {
	// ID is "{unix_ts}_{cwd_basename}".
	ID string
	// Cwd is the absolute working directory the session was opened in.
	Cwd string
	// Turns holds every turn recorded so far, including ones beyond
	// ActiveTurn (rolled back but not deleted).
	Turns []ConversationTurn
	// ActiveTurn is the high-water mark: Turns[0:ActiveTurn+1] are "live"
	// for context injection.
	ActiveTurn int
	// Path is the session's JSONL file on disk.
	Path string
}

// SessionRef names a session without loading its turns.
type SessionRef struct {
	ID   string
	Path string
}

// SessionStore persists sessions as append-only JSONL files under dir.
type SessionStore struct {
	dir string
}

// NewSessionStore returns a SessionStore rooted at <dataDir>/sessions.
func NewSessionStore(dataDir string) *SessionStore {
	return &SessionStore{dir: filepath.Join(dataDir, "sessions")}
}

// PathFor returns the JSONL path a session ID would live at, whether or not
// it has been written yet.
func (s *SessionStore) PathFor(id string) string {
	return filepath.Join(s.dir, id+".jsonl")
}

func cwdBasename(cwd string) string {
	base := filepath.Base(cwd)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "unknown"
	}
	return base
}

// OpenSession creates a new, empty session for cwd and ensures the sessions
// directory exists. It does not write anything to disk yet — the file is
// created lazily by the first AppendTurn.
func (s *SessionStore) OpenSession(cwd string) (*Session, error) {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	ts := time.Now().Unix()
	basename := cwdBasename(cwd)
	id := fmt.Sprintf("%d_%s", ts, basename)
	path := filepath.Join(s.dir, id+".jsonl")

	return &Session{
		ID:         id,
		Cwd:        cwd,
		Turns:      nil,
		ActiveTurn: 0,
		Path:       path,
	}, nil
}

// AppendTurn appends one turn to the JSONL file at path, creating it if
// needed. Called immediately after a turn completes so data survives a
// crash.
func AppendTurn(path string, turn ConversationTurn) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// LoadSessionTurns reads every turn from the JSONL file at path.
func LoadSessionTurns(path string) ([]ConversationTurn, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load session turns: %w", err)
	}

	var turns []ConversationTurn
	for _, line := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var turn ConversationTurn
		if err := json.Unmarshal([]byte(line), &turn); err != nil {
			return nil, fmt.Errorf("load session turns: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// ListSessions lists every session file in the store, newest first. The
// unix-timestamp filename prefix makes lexicographic-descending order equal
// to newest-first.
func (s *SessionStore) ListSessions() ([]SessionRef, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	refs := make([]SessionRef, len(names))
	for i, name := range names {
		refs[i] = SessionRef{
			ID:   strings.TrimSuffix(name, ".jsonl"),
			Path: filepath.Join(s.dir, name),
		}
	}
	return refs, nil
}

// FindLatestForCwd returns the most recent session whose ID ends with
// "_{cwd_basename}".
func (s *SessionStore) FindLatestForCwd(cwd string) (SessionRef, bool) {
	suffix := "_" + cwdBasename(cwd)
	refs, err := s.ListSessions()
	if err != nil {
		return SessionRef{}, false
	}
	for _, ref := range refs {
		if strings.HasSuffix(ref.ID, suffix) {
			return ref, true
		}
	}
	return SessionRef{}, false
}

// BuildPriorContext builds a preamble string from completed turns for
// injection into the next agent run. It walks turns newest-first so the
// most recent survive a budget cutoff, then restores chronological order.
// Returns "" if turns is empty or nothing fit in the budget.
func BuildPriorContext(turns []ConversationTurn) string {
	if len(turns) == 0 {
		return ""
	}

	const charBudget = PriorContextTokenCap * 4
	used := 0
	var parts []string

	for i := len(turns) - 1; i >= 0; i-- {
		turn := turns[i]
		responsePreview := truncateStr(turn.AgentResponse, 2000)
		userPreview := truncateStr(turn.UserMessage, 500)

		var entry string
		if turn.ToolSummary == "" {
			entry = fmt.Sprintf("[Turn %d]\nUser: %s\nAssistant: %s\n", turn.TurnIndex+1, userPreview, responsePreview)
		} else {
			entry = fmt.Sprintf("[Turn %d]\nUser: %s\nTools used: %s\nAssistant: %s\n",
				turn.TurnIndex+1, userPreview, turn.ToolSummary, responsePreview)
		}

		if used+len(entry) > charBudget {
			break
		}
		used += len(entry)
		parts = append(parts, entry)
	}

	if len(parts) == 0 {
		return ""
	}

	// Restore chronological order — we walked newest-first above.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}

	return fmt.Sprintf(
		"# Conversation history (this session)\nNote: short user replies (e.g. \"yes\", \"ok\", \"go ahead\") are responses to the previous assistant message.\n\n%s\n---\n\n",
		strings.Join(parts, "\n"),
	)
}

func truncateStr(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars])
}

// ToProviderMessages converts a session's live turns (as recorded, lean
// summaries — not full tool transcripts) into provider messages suitable
// for seeding a new conversation's history.
func ToProviderMessages(turns []ConversationTurn) []provider.Message {
	out := make([]provider.Message, 0, len(turns)*2)
	for _, t := range turns {
		out = append(out,
			provider.Message{Role: "user", Content: t.UserMessage, CreatedAt: time.Unix(t.Timestamp, 0)},
			provider.Message{Role: "assistant", Content: t.AgentResponse, CreatedAt: time.Unix(t.Timestamp, 0)},
		)
	}
	return out
}
