// Package hooks runs user-configured lifecycle shell commands — on_edit,
// on_task_done, on_plan_step_done, on_session_start, on_session_end — and
// can auto-detect sane defaults for a project from its build manifest.
//
// Commands execute through internal/shell.Shell, the project's in-process
// POSIX interpreter, rather than a bare os/exec + "sh -c" call, so hook
// commands share the same cwd/env semantics as every other shell-backed
// tool in the agent.
package hooks

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/xonecas/symb/internal/shell"
)

// HookTimeout bounds how long a single hook command may run.
const HookTimeout = 30 * time.Second

// MaxLines caps how much hook output is kept, to avoid flooding the model
// with a misbehaving build tool's log spew.
const MaxLines = 50

// Config holds the lifecycle hook commands for a project or profile.
type Config struct {
	OnEdit         []string `toml:"on_edit" json:"on_edit"`
	OnTaskDone     []string `toml:"on_task_done" json:"on_task_done"`
	OnPlanStepDone []string `toml:"on_plan_step_done" json:"on_plan_step_done"`
	OnSessionStart []string `toml:"on_session_start" json:"on_session_start"`
	OnSessionEnd   []string `toml:"on_session_end" json:"on_session_end"`
}

// IsEmpty reports whether every hook category is empty.
func (c Config) IsEmpty() bool {
	return len(c.OnEdit) == 0 && len(c.OnTaskDone) == 0 && len(c.OnPlanStepDone) == 0 &&
		len(c.OnSessionStart) == 0 && len(c.OnSessionEnd) == 0
}

// Summary produces a one-line startup display, e.g.
// "on_edit: cargo check -q  ·  on_task_done: cargo test -q". Returns "" if
// every category is empty.
func (c Config) Summary() string {
	var parts []string
	add := func(label string, cmds []string) {
		if len(cmds) > 0 {
			parts = append(parts, label+": "+strings.Join(cmds, ", "))
		}
	}
	add("on_edit", c.OnEdit)
	add("on_task_done", c.OnTaskDone)
	add("on_plan_step_done", c.OnPlanStepDone)
	add("on_session_start", c.OnSessionStart)
	add("on_session_end", c.OnSessionEnd)
	return strings.Join(parts, "  ·  ")
}

// Detail produces the multi-line /list-hooks output.
func (c Config) Detail() string {
	section := func(label string, cmds []string) string {
		if len(cmds) == 0 {
			return label + ":\n  (none)"
		}
		lines := make([]string, len(cmds))
		for i, cmd := range cmds {
			lines[i] = "  " + cmd
		}
		return label + ":\n" + strings.Join(lines, "\n")
	}
	return strings.Join([]string{
		section("on_edit", c.OnEdit),
		section("on_task_done", c.OnTaskDone),
		section("on_plan_step_done", c.OnPlanStepDone),
		section("on_session_start", c.OnSessionStart),
		section("on_session_end", c.OnSessionEnd),
	}, "\n\n")
}

// DetectLanguageHooks guesses sensible default hooks from the project's
// build manifest at root. Returns an empty Config if nothing recognisable
// is found.
func DetectLanguageHooks(root string) Config {
	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(root, name))
		return err == nil
	}

	switch {
	case exists("Cargo.toml"):
		return Config{
			OnEdit:     []string{"cargo check -q"},
			OnTaskDone: []string{"cargo test -q 2>&1 | tail -5"},
		}
	case exists("tsconfig.json"):
		return Config{OnEdit: []string{"tsc --noEmit"}}
	case exists("go.mod"):
		return Config{OnEdit: []string{"go build ./..."}}
	case (exists("pyproject.toml") || exists("setup.py")) && whichBinary("ruff"):
		return Config{OnEdit: []string{"ruff check ."}}
	default:
		return Config{}
	}
}

func whichBinary(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Result is the outcome of running a single hook command.
type Result struct {
	Output   string
	ExitCode int
}

// Runner executes hook commands through a shared project Shell.
type Runner struct {
	sh *shell.Shell
}

// NewRunner builds a Runner that executes hook commands via sh.
func NewRunner(sh *shell.Shell) *Runner {
	return &Runner{sh: sh}
}

// Run executes cmd with a bounded timeout, merges stdout/stderr, and
// truncates the result to MaxLines lines.
func (r *Runner) Run(ctx context.Context, cmd string) Result {
	ctx, cancel := context.WithTimeout(ctx, HookTimeout)
	defer cancel()

	stdout, stderr, err := r.sh.Exec(ctx, cmd)

	if ctx.Err() == context.DeadlineExceeded {
		return Result{Output: fmt.Sprintf("[hook timed out after %s: %s]", HookTimeout, cmd), ExitCode: -1}
	}

	var output string
	switch {
	case stdout != "" && stderr != "":
		output = stdout + "\n" + stderr
	case stdout != "":
		output = stdout
	default:
		output = stderr
	}

	exitCode := shell.ExitCode(err)
	if err != nil && output == "" {
		output = fmt.Sprintf("[hook failed to run: %v]", err)
		exitCode = -1
	}

	return Result{Output: truncateLines(output, MaxLines), ExitCode: exitCode}
}

func truncateLines(s string, max int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= max {
		return s
	}
	extra := len(lines) - max
	return strings.Join(lines[:max], "\n") + fmt.Sprintf("\n[+%d lines truncated]", extra)
}
