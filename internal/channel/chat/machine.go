package chat

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/galaxyprotocol/caduceus/internal/agentrunner"
)

// runTimeout bounds a status/concerns shell-out, local or remote.
const runTimeout = 30 * time.Second

// isLocal reports whether a machine's host points at this process.
func isLocal(m MachineConfig) bool {
	return m.Host == "" || m.Host == "localhost" || m.Host == "127.0.0.1"
}

// runOnMachine runs cmd in the machine's repo, locally or over ssh, and
// returns (stdout, stderr) trimmed. A 30s timeout applies either way.
func runOnMachine(ctx context.Context, m MachineConfig, cmd []string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	var c *exec.Cmd
	if isLocal(m) {
		c = exec.CommandContext(ctx, cmd[0], cmd[1:]...)
		c.Dir = m.RepoPath
	} else {
		target := m.Host
		if m.SSHUser != "" {
			target = m.SSHUser + "@" + m.Host
		}
		remote := fmt.Sprintf("cd %s && %s", shellQuote(m.RepoPath), shellJoin(cmd))
		c = exec.CommandContext(ctx, "ssh", "-o", "ConnectTimeout=5", target, remote)
	}

	var stdout, stderr strings.Builder
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := c.Run()
	return strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()), err
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func shellJoin(parts []string) string {
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = shellQuote(p)
	}
	return strings.Join(quoted, " ")
}

// resolveMachine looks up name in the registry, falling back to the
// default machine when name is empty. Returns ok=false for an unknown
// name.
func (c *Channel) resolveMachine(name string) (string, MachineConfig, bool) {
	if name == "" {
		name = c.cfg.DefaultMachine
	}
	m, ok := c.cfg.Machines[name]
	return name, m, ok
}

// statusText builds the health summary for one machine: recent commits,
// working-tree state, and executor liveness via its heartbeat file.
func (c *Channel) statusText(ctx context.Context, name string, m MachineConfig) string {
	gitLog, _, err := runOnMachine(ctx, m, []string{"git", "log", "--oneline", "-5"})
	if err != nil {
		gitLog = "(git unavailable)"
	}

	gitStatus, _, err := runOnMachine(ctx, m, []string{"git", "status", "--short"})
	if err != nil {
		gitStatus = "(unknown)"
	} else if gitStatus == "" {
		gitStatus = "(clean)"
	}

	heartbeatLine := heartbeatSummary(m)

	return fmt.Sprintf(
		"📊 *%s* Status\n\n*Recent commits:*\n```\n%s\n```\n\n*Working tree:* `%s`\n*Executor:* %s\n*Time:* %s",
		name, gitLog, gitStatus, heartbeatLine, time.Now().Format("15:04:05"),
	)
}

func heartbeatSummary(m MachineConfig) string {
	if m.HeartbeatDir == "" {
		return "(no heartbeat configured)"
	}
	hb, err := agentrunner.ReadHeartbeat(m.HeartbeatDir)
	if err != nil {
		return "(no heartbeat on file)"
	}
	if agentrunner.IsStale(hb) {
		return fmt.Sprintf("🔴 stale since %s (%d processed, %d failed)", hb.LastHeartbeatAt.Format(time.RFC3339), hb.OrdersProcessed, hb.FailureCount)
	}
	return fmt.Sprintf("🟢 %s (%d processed, %d failed)", hb.Status, hb.OrdersProcessed, hb.FailureCount)
}

// concernsText reads the latest report artifact for a local machine,
// truncating at 3500 chars with an ellipsis marker past that boundary.
func (c *Channel) concernsText(name string, m MachineConfig) string {
	if !isLocal(m) {
		return fmt.Sprintf("⚠️ *%s*: concerns only available for local machines", name)
	}

	pattern := filepath.Join(m.RepoPath, ".sisyphus", "notepads", "stargazer-*", "problems.md")
	matches, _ := filepath.Glob(pattern)
	if len(matches) == 0 {
		return fmt.Sprintf("✅ *%s*: No concerns on file.", name)
	}
	sort.Strings(matches)
	latest := matches[len(matches)-1]

	data, err := os.ReadFile(latest)
	if err != nil {
		return fmt.Sprintf("⚠️ *%s*: failed to read latest report", name)
	}
	content := string(data)

	const truncateAt = 3500
	if len(content) > truncateAt {
		content = content[:truncateAt] + "\n\n... (truncated, see full report)"
	}
	return fmt.Sprintf("📋 *%s* — Latest Concerns\n\n%s", name, content)
}

// machinesText lists the registry, marking the default.
func (c *Channel) machinesText() string {
	if len(c.cfg.Machines) == 0 {
		return "No machines configured."
	}
	names := make([]string, 0, len(c.cfg.Machines))
	for n := range c.cfg.Machines {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("🖥 Machine registry:\n")
	for _, n := range names {
		mark := ""
		if n == c.cfg.DefaultMachine {
			mark = " (default)"
		}
		b.WriteString("- " + n + mark + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// splitFirstWord splits s into its first whitespace-delimited token and
// the remainder, used to pull an optional leading machine-target token
// off a command's argument string.
func splitFirstWord(s string) (first, rest string) {
	s = strings.TrimSpace(s)
	idx := strings.IndexByte(s, ' ')
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimSpace(s[idx+1:])
}
