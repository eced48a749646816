// Package plan implements the /plan workflow: breaking a task into discrete
// steps, running each as an isolated agent call with only that step's files
// visible, and verifying the result before moving on.
//
// A Plan is a list of Steps owned by the caller (the TUI). Each step
// executes with a fresh history containing only its own instruction and
// pre-loaded files — the model never sees the conversation or other steps'
// tool calls, only a compact summary of what they did.
package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xonecas/symb/internal/llm"
	"github.com/xonecas/symb/internal/mcp"
	"github.com/xonecas/symb/internal/mcptools"
	"github.com/xonecas/symb/internal/provider"
	"github.com/xonecas/symb/internal/symbolindex"
)

// ── Core data structures ──────────────────────────────────────────────────

// Status is the overall lifecycle state of a Plan.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusComplete
	StatusFailed
)

// StepStatus is the lifecycle state of a single Step.
type StepStatus int

const (
	StepPending  StepStatus = iota // not yet reviewed
	StepApproved                   // user reviewed and accepted — awaiting execution
	StepRunning                    // currently executing
	StepPass                       // executed and verified successfully
	StepFail                       // executed but failed verification
	StepSkipped
)

// VerifyKind selects how a Step's Verification is checked.
type VerifyKind int

const (
	VerifyNone VerifyKind = iota
	VerifyFileChanged
	VerifyPatternAbsent
	VerifyCommandSuccess
	VerifyBuildSuccess
)

// Verification describes how to confirm a step actually succeeded.
type Verification struct {
	Kind    VerifyKind
	File    string // FileChanged, PatternAbsent
	Pattern string // PatternAbsent
	Command string // CommandSuccess
}

func (v Verification) String() string {
	switch v.Kind {
	case VerifyNone:
		return ""
	case VerifyFileChanged:
		return fmt.Sprintf("file changed: `%s`", v.File)
	case VerifyPatternAbsent:
		return fmt.Sprintf("`%s` does not contain `%s`", v.File, v.Pattern)
	case VerifyCommandSuccess:
		return fmt.Sprintf("`%s` exits 0", v.Command)
	case VerifyBuildSuccess:
		return "build succeeds"
	default:
		return ""
	}
}

// Step is one independently executable unit of work within a Plan.
type Step struct {
	Description string // human-readable one-liner shown in the TUI review panel
	Instruction string // model-facing instruction
	Files       []string
	Verify      Verification
	Status      StepStatus
	ToolBudget  int // max tool calls for this step
	// UserAnnotation, if set, is appended to Instruction as an extra note
	// the user typed during plan review.
	UserAnnotation string
	// CompletedSummary is filled in after the step finishes — a brief
	// description of what changed, injected into subsequent steps.
	CompletedSummary string
}

// EffectiveInstruction is the full instruction sent to the model: the base
// instruction plus any user annotation.
func (s *Step) EffectiveInstruction() string {
	note := strings.TrimSpace(s.UserAnnotation)
	if note == "" {
		return s.Instruction
	}
	return s.Instruction + "\n\nUser note: " + note
}

// Plan is a full, ordered sequence of steps for a task.
type Plan struct {
	Task      string
	Steps     []Step
	Current   int
	Status    Status
	CreatedAt int64 // unix seconds
	Project   string
}

// New builds a pending Plan for task, timestamped now.
func New(task string, steps []Step, project string) *Plan {
	return &Plan{
		Task:      task,
		Steps:     steps,
		Current:   0,
		Status:    StatusPending,
		CreatedAt: time.Now().Unix(),
		Project:   project,
	}
}

// EstimateTokens gives a (low, high) token estimate for running the whole
// plan: base cost per step + instruction length + the size of every
// attached file, scaled by an overhead factor covering tool results and
// model responses.
func (p *Plan) EstimateTokens() (low, high int) {
	const basePerStep = 500
	const overheadLow = 10  // ×1.0
	const overheadHigh = 13 // ×1.3

	raw := 0
	for _, step := range p.Steps {
		instructionTokens := len([]rune(step.Instruction)) / 4
		fileTokens := 0
		for _, f := range step.Files {
			content, err := os.ReadFile(f)
			if err != nil {
				fileTokens += 1000
				continue
			}
			fileTokens += len([]rune(string(content))) / 4
		}
		raw += basePerStep + instructionTokens + fileTokens
	}

	return raw * overheadLow / 10, raw * overheadHigh / 10
}

// EstimateDisplay formats the cost estimate compactly, e.g. "est. 8k–12k
// tokens", optionally with a USD estimate when costPerMTok is non-nil.
func (p *Plan) EstimateDisplay(costPerMTok *float64) string {
	low, high := p.EstimateTokens()
	tokenStr := fmt.Sprintf("est. %s–%s tokens", fmtK(low), fmtK(high))
	if costPerMTok == nil {
		return tokenStr
	}
	rate := *costPerMTok
	usdLow := float64(low) / 1_000_000.0 * rate
	usdHigh := float64(high) / 1_000_000.0 * rate
	if usdHigh < 0.01 {
		return tokenStr + "  ·  <$0.01"
	}
	return fmt.Sprintf("%s  ·  ~$%.2f–$%.2f", tokenStr, usdLow, usdHigh)
}

func fmtK(n int) string {
	if n >= 1000 {
		return strconv.Itoa(n/1000) + "k"
	}
	return strconv.Itoa(n)
}

// ── Plan persistence ────────────────────────────────────────────────────

// PlansDir is the directory saved plans live under, relative to cwd.
func PlansDir() string {
	return filepath.Join(".symb", "plans")
}

// Save writes the plan as indented JSON to PlansDir()/{created_at}-plan.json.
func Save(p *Plan) (string, error) {
	dir := PlansDir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%d-plan.json", p.CreatedAt))
	data, err := json.MarshalIndent(toDisk(p), "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", err
	}
	return path, nil
}

// WriteMarkdown writes a human-readable rendering of the plan to
// .symb/plan.md, overwriting any previous plan file. Errors are non-fatal —
// a disk write must never interrupt planning — but are returned for callers
// that want to log them.
func WriteMarkdown(p *Plan) error {
	if err := os.MkdirAll(".symb", 0o750); err != nil {
		return err
	}
	var md strings.Builder
	fmt.Fprintf(&md, "# Plan: %s\n\n", p.Task)
	for i, step := range p.Steps {
		fmt.Fprintf(&md, "## Step %d: %s\n\n", i+1, step.Description)
		fmt.Fprintf(&md, "%s\n\n", step.Instruction)
		if len(step.Files) > 0 {
			fmt.Fprintf(&md, "**Files:** %s\n\n", strings.Join(step.Files, ", "))
		}
		if v := step.Verify.String(); v != "" {
			fmt.Fprintf(&md, "**Verify:** %s\n\n", v)
		}
	}
	md.WriteString("---\n*Generated by symb — edit annotations above, then confirm in TUI to execute.*\n")
	return os.WriteFile(filepath.Join(".symb", "plan.md"), []byte(md.String()), 0o640)
}

// ── Plan generation ───────────────────────────────────────────────────────

const planSystemPrompt = `You are symb, a coding assistant. Your task is to produce a structured execution plan as JSON.

The plan breaks a coding task into discrete, independently executable steps.

CRITICAL rules:
- Each step runs with ONLY the files listed in its "files" array visible — the model cannot see any other files
- List EVERY file the step will need to read OR modify, including files that define types, interfaces, or modules it depends on
- Do not artificially limit file counts — list what is actually needed (3-8 files per step is common)
- The "instruction" field is the model's complete context — be precise about what to change and where
- Prefer 4-8 steps; do not create micro-steps that split naturally-coupled changes

Respond with ONLY valid JSON — no markdown fences, no explanation. Format:

{
  "steps": [
    {
      "description": "human-readable one-liner shown to user",
      "instruction": "precise model-facing instruction",
      "files": ["src/foo.go", "src/types.go", "src/bar.go"],
      "verify": "none",
      "tool_budget": 15
    }
  ]
}

For "verify", use one of:
- "none" — no automated verification
- "command:some command" — run a specific command, expect exit 0
- "absent:file.go:old_pattern" — check pattern no longer exists in file
- "changed:file.go" — check file was modified`

type planResponse struct {
	Steps []planStepRaw `json:"steps"`
}

type planStepRaw struct {
	Description string   `json:"description"`
	Instruction string   `json:"instruction"`
	Files       []string `json:"files"`
	Verify      string   `json:"verify"`
	ToolBudget  int      `json:"tool_budget"`
}

func parseVerification(s string) Verification {
	if s == "" || s == "none" {
		return Verification{Kind: VerifyNone}
	}
	if s == "build" {
		return Verification{Kind: VerifyBuildSuccess}
	}
	if rest, ok := strings.CutPrefix(s, "command:"); ok {
		return Verification{Kind: VerifyCommandSuccess, Command: rest}
	}
	if rest, ok := strings.CutPrefix(s, "changed:"); ok {
		return Verification{Kind: VerifyFileChanged, File: rest}
	}
	if rest, ok := strings.CutPrefix(s, "absent:"); ok {
		parts := strings.SplitN(rest, ":", 2)
		file := parts[0]
		pattern := ""
		if len(parts) > 1 {
			pattern = parts[1]
		}
		return Verification{Kind: VerifyPatternAbsent, File: file, Pattern: pattern}
	}
	return Verification{Kind: VerifyNone}
}

// ContextFile is an attached file passed to Generate as additional context.
type ContextFile struct {
	Path    string
	Content string
}

// Generate calls prov once to produce a structured plan for task. It sends
// no tools — planning is a pure text-in, JSON-out exchange — and blocks
// until the full response arrives.
func Generate(ctx context.Context, prov provider.Provider, task, project string, contextFiles []ContextFile, idx *symbolindex.Index) (*Plan, error) {
	var userContent strings.Builder

	if section := idx.ToPromptSection(60); section != "" {
		userContent.WriteString(section)
		userContent.WriteString("\n")
	}

	if len(contextFiles) > 0 {
		userContent.WriteString("The following files are attached:\n\n")
		for _, f := range contextFiles {
			lines := strings.Split(f.Content, "\n")
			total := len(lines)
			previewLines := lines
			note := ""
			if total > 300 {
				previewLines = lines[:300]
				note = fmt.Sprintf(" (%d lines total, showing first 300)", total)
			}
			fmt.Fprintf(&userContent, "[%s%s]\n%s\n\n", f.Path, note, strings.Join(previewLines, "\n"))
		}
		userContent.WriteString("---\n\n")
	}

	fmt.Fprintf(&userContent, "Generate a plan to accomplish this task:\n\n%s", task)

	messages := []provider.Message{
		{Role: "system", Content: planSystemPrompt, CreatedAt: time.Now()},
		{Role: "user", Content: userContent.String(), CreatedAt: time.Now()},
	}

	resp, err := collectPlanResponse(ctx, prov, messages)
	if err != nil {
		return nil, err
	}

	jsonText := strings.TrimSpace(resp)
	jsonText = strings.TrimSpace(strings.TrimSuffix(
		strings.TrimPrefix(strings.TrimPrefix(jsonText, "```json"), "```"),
		"```",
	))
	jsonText = SanitizeJSONStrings(jsonText)

	var raw planResponse
	if err := json.Unmarshal([]byte(jsonText), &raw); err != nil {
		return nil, fmt.Errorf("plan parse error: %w\n\nModel response:\n%s", err, jsonText)
	}

	steps := make([]Step, 0, len(raw.Steps))
	for _, s := range raw.Steps {
		budget := s.ToolBudget
		if budget == 0 {
			budget = 15
		}
		steps = append(steps, Step{
			Description: s.Description,
			Instruction: s.Instruction,
			Files:       idx.ResolveFiles(s.Files),
			Verify:      parseVerification(s.Verify),
			Status:      StepPending,
			ToolBudget:  budget,
		})
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("model returned an empty plan")
	}

	return New(task, steps, project), nil
}

// collectPlanResponse streams prov's reply to messages (no tools) and
// returns the accumulated text content.
func collectPlanResponse(ctx context.Context, prov provider.Provider, messages []provider.Message) (string, error) {
	stream, err := prov.ChatStream(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	var content strings.Builder
	for evt := range stream {
		switch evt.Type {
		case provider.EventContentDelta:
			content.WriteString(evt.Content)
		case provider.EventError:
			return "", fmt.Errorf("%s", evt.Content)
		}
	}
	if content.Len() == 0 {
		return "", fmt.Errorf("empty response from provider %s", prov.Name())
	}
	return content.String(), nil
}

// ── Step execution ────────────────────────────────────────────────────────

// ExecuteOptions configures a single isolated step run.
type ExecuteOptions struct {
	Provider       provider.Provider
	Proxy          *mcp.Proxy
	Tools          []mcp.Tool
	SystemPrompt   string
	PriorSummaries []PriorStep // completed steps so far, in order
	OnMessage      llm.MessageCallback
	OnDelta        llm.DeltaCallback
}

// PriorStep names a previously completed step and what it did.
type PriorStep struct {
	Description string
	Summary     string
}

// Execute runs step as an isolated agent turn: a fresh history containing
// only this step's instruction and its pre-loaded files, plus a compact
// summary of what earlier steps already did. The model never sees the
// conversation history or any other step's tool calls.
func Execute(ctx context.Context, step *Step, opts ExecuteOptions) error {
	var preamble strings.Builder

	if len(opts.PriorSummaries) > 0 {
		preamble.WriteString("# Completed steps so far\n")
		for i, p := range opts.PriorSummaries {
			fmt.Fprintf(&preamble, "Step %d: %s\n  → %s\n", i+1, p.Description, p.Summary)
		}
		preamble.WriteString("\nThe above changes are already in place. Do not redo them.\n\n---\n\n")
	}

	for _, path := range step.Files {
		content, err := os.ReadFile(path)
		if err != nil {
			continue // non-fatal — the model gets an error if it tries to read the file
		}
		fmt.Fprintf(&preamble, "%s\n\n", mcptools.FormatForContext(path, string(content)))
	}

	userContent := preamble.String() + step.EffectiveInstruction()

	history := []provider.Message{
		{Role: "system", Content: opts.SystemPrompt, CreatedAt: time.Now()},
		{Role: "user", Content: userContent, CreatedAt: time.Now()},
	}

	maxRounds := step.ToolBudget
	if maxRounds <= 0 {
		maxRounds = 15
	}

	return llm.ProcessTurn(ctx, llm.ProcessTurnOptions{
		Provider:      opts.Provider,
		Proxy:         opts.Proxy,
		Tools:         opts.Tools,
		History:       history,
		OnMessage:     opts.OnMessage,
		OnDelta:       opts.OnDelta,
		MaxToolRounds: maxRounds,
		Depth:         0,
	})
}

// Summarise inspects the files step touched and builds a compact description
// of what changed — top-level symbols and structural markers — so later
// steps know what already exists without re-reading the whole file.
func Summarise(step *Step) string {
	if len(step.Files) == 0 {
		return "completed: " + step.Description
	}

	now := time.Now()
	var parts []string

	for _, path := range step.Files {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > 5*time.Minute {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		lines := strings.Split(string(content), "\n")

		var symbols []string
		for _, line := range lines {
			if len(symbols) >= 4 {
				break
			}
			if name, ok := topLevelSymbolName(strings.TrimSpace(line)); ok {
				symbols = append(symbols, name)
			}
		}

		var structuralNotes []string
		hasTestFile := strings.HasSuffix(path, "_test.go")
		if hasTestFile {
			var testFns []string
			for _, line := range lines {
				t := strings.TrimSpace(line)
				if strings.HasPrefix(t, "func Test") {
					if name, ok := identBefore(t, "func "); ok {
						testFns = append(testFns, name)
					}
				}
			}
			fnsStr := "(empty)"
			if len(testFns) > 0 {
				fnsStr = strings.Join(testFns, ", ")
			}
			structuralNotes = append(structuralNotes, fmt.Sprintf(
				"already has test functions [%s] — add more tests alongside them using edit_file with old_str anchored in this file, not a blind append.",
				fnsStr))
		}

		desc := "modified " + path
		if len(symbols) > 0 {
			desc = fmt.Sprintf("modified %s [%s]", path, strings.Join(symbols, ", "))
		}
		if len(structuralNotes) > 0 {
			desc += "; " + strings.Join(structuralNotes, "; ")
		}
		parts = append(parts, desc)
	}

	if len(parts) == 0 {
		return "completed: " + step.Description
	}
	return strings.Join(parts, "; ")
}

func topLevelSymbolName(t string) (string, bool) {
	prefixes := []string{"pub fn ", "fn ", "export function ", "function ", "def ", "func "}
	for _, p := range prefixes {
		if rest, ok := strings.CutPrefix(t, p); ok {
			name, _, _ := strings.Cut(rest, "(")
			return strings.TrimSpace(name), name != ""
		}
	}
	headerPrefixes := map[string]int{
		"pub struct ": 2, "pub enum ": 2, "pub trait ": 2, "class ": 1, "impl ": 1,
	}
	for p, idx := range headerPrefixes {
		if strings.HasPrefix(t, p) {
			fields := strings.Fields(t)
			if idx < len(fields) {
				return fields[idx], true
			}
		}
	}
	return "", false
}

func identBefore(s, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok {
		return "", false
	}
	name, _, _ := strings.Cut(rest, "(")
	name = strings.TrimSpace(name)
	return name, name != ""
}

// Verify checks that a completed step actually succeeded, per its
// Verification strategy.
func Verify(ctx context.Context, step *Step, shellExec func(ctx context.Context, cmd string) (stdout, stderr string, err error)) error {
	switch step.Verify.Kind {
	case VerifyNone, VerifyBuildSuccess:
		// BuildSuccess without a specific command always passes — use
		// VerifyCommandSuccess for a real language-specific build check.
		return nil

	case VerifyFileChanged:
		info, err := os.Stat(step.Verify.File)
		if err != nil {
			return fmt.Errorf("verify: cannot stat %s: %w", step.Verify.File, err)
		}
		if time.Since(info.ModTime()) > 60*time.Second {
			return fmt.Errorf("verify: %s was not modified in the last 60s", step.Verify.File)
		}
		return nil

	case VerifyPatternAbsent:
		content, err := os.ReadFile(step.Verify.File)
		if err != nil {
			return fmt.Errorf("verify: cannot read %s: %w", step.Verify.File, err)
		}
		if count := strings.Count(string(content), step.Verify.Pattern); count > 0 {
			return fmt.Errorf("verify: pattern '%s' still found in %s (%d occurrences)", step.Verify.Pattern, step.Verify.File, count)
		}
		return nil

	case VerifyCommandSuccess:
		stdout, stderr, err := shellExec(ctx, step.Verify.Command)
		if err == nil {
			return nil
		}
		combined := stdout + stderr
		lines := strings.Split(combined, "\n")
		if len(lines) > 30 {
			lines = lines[:30]
		}
		return fmt.Errorf("verify: '%s' failed: %s", step.Verify.Command, strings.Join(lines, "\n"))

	default:
		return nil
	}
}

// ── JSON sanitizer ────────────────────────────────────────────────────────

// SanitizeJSONStrings replaces unescaped control characters inside JSON
// string literals with their proper escape sequences. Small models
// frequently emit literal newlines/tabs inside string values, which is
// invalid JSON and would otherwise cause the whole plan to be rejected.
func SanitizeJSONStrings(input string) string {
	var out strings.Builder
	out.Grow(len(input))
	inString := false
	escaped := false
	for _, ch := range input {
		if escaped {
			out.WriteRune(ch)
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			out.WriteRune(ch)
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			out.WriteRune(ch)
			continue
		}
		if inString {
			switch ch {
			case '\n':
				out.WriteString("\\n")
				continue
			case '\r':
				out.WriteString("\\r")
				continue
			case '\t':
				out.WriteString("\\t")
				continue
			}
			if ch < 0x20 {
				fmt.Fprintf(&out, "\\u%04x", ch)
				continue
			}
		}
		out.WriteRune(ch)
	}
	return out.String()
}

// ── disk representation ───────────────────────────────────────────────────

// diskPlan/diskStep/diskVerification are the JSON wire shapes for Save —
// kept separate from Plan/Step so the enum fields serialize as readable
// strings rather than bare ints.
type diskPlan struct {
	Task      string     `json:"task"`
	Steps     []diskStep `json:"steps"`
	Current   int        `json:"current"`
	Status    string     `json:"status"`
	CreatedAt int64      `json:"created_at"`
	Project   string     `json:"project"`
}

type diskStep struct {
	Description      string `json:"description"`
	Instruction      string `json:"instruction"`
	Files            []string `json:"files"`
	Verify           string `json:"verify"`
	Status           string `json:"status"`
	ToolBudget       int    `json:"tool_budget"`
	UserAnnotation   string `json:"user_annotation,omitempty"`
	CompletedSummary string `json:"completed_summary,omitempty"`
}

func toDisk(p *Plan) diskPlan {
	steps := make([]diskStep, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = diskStep{
			Description:      s.Description,
			Instruction:      s.Instruction,
			Files:            s.Files,
			Verify:           verifyToString(s.Verify),
			Status:           stepStatusToString(s.Status),
			ToolBudget:       s.ToolBudget,
			UserAnnotation:   s.UserAnnotation,
			CompletedSummary: s.CompletedSummary,
		}
	}
	return diskPlan{
		Task:      p.Task,
		Steps:     steps,
		Current:   p.Current,
		Status:    statusToString(p.Status),
		CreatedAt: p.CreatedAt,
		Project:   p.Project,
	}
}

func verifyToString(v Verification) string {
	switch v.Kind {
	case VerifyNone:
		return "none"
	case VerifyBuildSuccess:
		return "build"
	case VerifyCommandSuccess:
		return "command:" + v.Command
	case VerifyFileChanged:
		return "changed:" + v.File
	case VerifyPatternAbsent:
		return "absent:" + v.File + ":" + v.Pattern
	default:
		return "none"
	}
}

func statusToString(s Status) string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

func stepStatusToString(s StepStatus) string {
	switch s {
	case StepPending:
		return "pending"
	case StepApproved:
		return "approved"
	case StepRunning:
		return "running"
	case StepPass:
		return "pass"
	case StepFail:
		return "fail"
	case StepSkipped:
		return "skipped"
	default:
		return "pending"
	}
}
