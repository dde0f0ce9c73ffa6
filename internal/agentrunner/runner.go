// Package agentrunner invokes the external agent CLI for a single order:
// it resolves the binary, sanitizes the environment, tags the invocation
// with a persisted session id, parses the NDJSON event stream on stdout,
// and extracts the assembled response text.
package agentrunner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrBinaryNotFound is returned by ResolveBinary when no candidate agent
// CLI could be located, and (wrapped) by Invoke when the runner's binary
// cannot be found. The runner never fabricates a path.
var ErrBinaryNotFound = errors.New("no agent CLI found: set GALAXY_OPENCODE_BIN or install opencode or claude on PATH")

// binaryEnvOverride names the environment variable carrying an explicit
// path to the agent binary.
const binaryEnvOverride = "GALAXY_OPENCODE_BIN"

// candidateNames are well-known binary names tried on PATH, in priority
// order: opencode is the primary CLI, claude the Anthropic CLI fallback.
var candidateNames = []string{"opencode", "claude"}

// homeCandidates are well-known per-user install locations checked after
// a PATH lookup fails, in the same priority order as candidateNames.
var homeCandidates = []string{
	".opencode/bin/opencode",
	".local/bin/opencode",
	".local/bin/claude",
	".claude/local/claude",
}

// ResolveBinary finds the agent CLI executable. Resolution order:
// (a) GALAXY_OPENCODE_BIN if set, (b) PATH lookup of well-known names,
// (c) well-known home-directory install locations.
func ResolveBinary() (string, error) {
	if override := os.Getenv(binaryEnvOverride); override != "" {
		if _, err := os.Stat(override); err == nil {
			return override, nil
		}
		if path, err := exec.LookPath(override); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("%s points to a nonexistent path: %s", binaryEnvOverride, override)
	}

	for _, name := range candidateNames {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		for _, rel := range homeCandidates {
			candidate := filepath.Join(home, rel)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}

	return "", ErrBinaryNotFound
}

// Result is the outcome of a single agent invocation.
type Result struct {
	Text      string
	SessionID string // empty if the agent emitted none
}

// Runner invokes the agent binary and manages session continuity.
type Runner struct {
	Binary     string
	WorkingDir string
	Timeout    time.Duration
	Sessions   *SessionStore
}

// New creates a Runner. binary is usually resolved beforehand with
// ResolveBinary; New does not check it, and a missing binary surfaces as
// ErrBinaryNotFound from Invoke.
func New(binary, workingDir string, timeout time.Duration, sessions *SessionStore) *Runner {
	return &Runner{Binary: binary, WorkingDir: workingDir, Timeout: timeout, Sessions: sessions}
}

// Invoke runs the agent with prompt, reusing the persisted session id if
// one exists. If the agent reports an invalid/missing/expired session, it
// retries exactly once without a session id, via a constant backoff
// policy capped at two attempts — the same library the teacher uses for
// reconnect backoff, here applied to a different retry condition.
func (r *Runner) Invoke(ctx context.Context, role, prompt string) (Result, error) {
	sessionID, _ := r.Sessions.Load(role)

	op := func() (Result, error) {
		res, err := r.run(ctx, prompt, sessionID)
		if err == nil {
			return res, nil
		}
		if sessionID != "" && isInvalidSessionError(err) {
			slog.Warn("agentrunner: session invalid, retrying without session", "role", role, "error", err)
			sessionID = ""
			return Result{}, err // retryable: triggers the single retry below
		}
		// Any other failure is not retried.
		return Result{}, backoff.Permanent(err)
	}

	result, err := backoff.Retry(ctx, op, backoff.WithMaxTries(2), backoff.WithBackOff(&backoff.ZeroBackOff{}))
	if err != nil {
		return Result{}, err
	}

	if result.SessionID != "" {
		if err := r.Sessions.Save(role, result.SessionID); err != nil {
			slog.Error("agentrunner: failed to persist session id", "role", role, "error", err)
		}
	}
	return result, nil
}

func isInvalidSessionError(err error) bool {
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "session") {
		return false
	}
	return strings.Contains(msg, "not found") || strings.Contains(msg, "invalid") || strings.Contains(msg, "expired")
}

// run spawns a single agent subprocess and waits for it to exit or time
// out. On timeout the process is killed (SIGKILL), matching the gateway's
// hard wall-clock deadline policy — unlike a graceful shutdown, a timed
// out agent invocation gets no grace period.
func (r *Runner) run(ctx context.Context, prompt, sessionID string) (Result, error) {
	if _, err := exec.LookPath(r.Binary); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBinaryNotFound, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	args := []string{"run", "--print-logs=false"}
	if sessionID != "" {
		args = append(args, "--session", sessionID)
	}
	args = append(args, prompt)

	cmd := exec.CommandContext(runCtx, r.Binary, args...)
	cmd.Dir = r.WorkingDir
	cmd.Env = sanitizeAgentEnv(cmd.Environ())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return Result{}, fmt.Errorf("agent timed out after %s: %w", r.Timeout, context.DeadlineExceeded)
	}

	text, newSessionID := extractResponse(stdout.Bytes())

	if err != nil {
		stderrText := strings.TrimSpace(stderr.String())
		return Result{}, fmt.Errorf("agent exited with error: %w (stderr: %s)", err, stderrText)
	}

	return Result{Text: text, SessionID: newSessionID}, nil
}

// extractResponse scans each stdout line as a JSON event. It returns the
// concatenated `part.text` for every part with type "text" (or the
// top-level `content` field if no parts are found), and the first
// `sessionID` seen on any event. If no line parses as JSON, the raw
// trimmed stdout is returned as the text.
func extractResponse(stdout []byte) (text, sessionID string) {
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var textParts []string
	var topLevelContent string
	sawJSON := false

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var event struct {
			SessionID string `json:"sessionID"`
			Part      struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"part"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		sawJSON = true

		if sessionID == "" && event.SessionID != "" {
			sessionID = event.SessionID
		}
		if event.Part.Type == "text" && event.Part.Text != "" {
			textParts = append(textParts, event.Part.Text)
		}
		if topLevelContent == "" && event.Content != "" {
			topLevelContent = event.Content
		}
	}

	if !sawJSON {
		return strings.TrimSpace(string(stdout)), ""
	}
	if len(textParts) > 0 {
		return strings.Join(textParts, ""), sessionID
	}
	return topLevelContent, sessionID
}

// sanitizeAgentEnv strips OPENCODE and every OPENCODE_-prefixed entry
// from environ, so the subprocess never inherits a server endpoint or
// other state from the opencode daemonization this runner's own parent
// process may be running under.
func sanitizeAgentEnv(environ []string) []string {
	filtered := make([]string, 0, len(environ))
	for _, entry := range environ {
		name, _, _ := strings.Cut(entry, "=")
		if name == "OPENCODE" || strings.HasPrefix(name, "OPENCODE_") {
			continue
		}
		filtered = append(filtered, entry)
	}
	return filtered
}
