package agentrunner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractResponse_TextParts(t *testing.T) {
	stdout := []byte(`{"sessionID":"s1","part":{"type":"text","text":"Hello "}}
{"part":{"type":"text","text":"world"}}
`)
	text, sessionID := extractResponse(stdout)
	require.Equal(t, "Hello world", text)
	require.Equal(t, "s1", sessionID)
}

func TestExtractResponse_TopLevelContent(t *testing.T) {
	stdout := []byte(`{"sessionID":"s2","content":"the answer"}` + "\n")
	text, sessionID := extractResponse(stdout)
	require.Equal(t, "the answer", text)
	require.Equal(t, "s2", sessionID)
}

func TestExtractResponse_NoJSONFallsBackToRawTrimmed(t *testing.T) {
	text, sessionID := extractResponse([]byte("  plain output  \n"))
	require.Equal(t, "plain output", text)
	require.Empty(t, sessionID)
}

func TestIsInvalidSessionError(t *testing.T) {
	cases := map[string]bool{
		"session not found":    true,
		"invalid session id":   true,
		"session expired":      true,
		"permission denied":    false,
		"unrelated failure":    false,
	}
	for msg, want := range cases {
		require.Equal(t, want, isInvalidSessionError(errString(msg)), msg)
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func TestSessionStore_SaveLoadClear(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSessionStore(dir)
	require.NoError(t, err)

	_, ok := s.Load("executor")
	require.False(t, ok)

	require.NoError(t, s.Save("executor", "sess-1"))
	got, ok := s.Load("executor")
	require.True(t, ok)
	require.Equal(t, "sess-1", got)

	require.NoError(t, s.Save("executor", "sess-2"))
	got, ok = s.Load("executor")
	require.True(t, ok)
	require.Equal(t, "sess-2", got)

	require.NoError(t, s.Clear("executor"))
	_, ok = s.Load("executor")
	require.False(t, ok)
}

func TestHeartbeatWriter_WriteAndStale(t *testing.T) {
	dir := t.TempDir()
	hw, err := NewHeartbeatWriter(dir, "executor")
	require.NoError(t, err)

	require.NoError(t, hw.RecordOrderProcessed("sess-1"))

	hb, err := ReadHeartbeat(dir)
	require.NoError(t, err)
	require.Equal(t, HeartbeatRunning, hb.Status)
	require.Equal(t, 1, hb.OrdersProcessed)
	require.False(t, IsStale(hb))

	require.NoError(t, hw.Stop("sess-1"))
	hb, err = ReadHeartbeat(dir)
	require.NoError(t, err)
	require.Equal(t, HeartbeatStopped, hb.Status)
}

func TestResolveBinary_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	fake := filepath.Join(dir, "fake-agent")
	require.NoError(t, os.WriteFile(fake, []byte("#!/bin/sh\n"), 0o755))

	t.Setenv(binaryEnvOverride, fake)
	got, err := ResolveBinary()
	require.NoError(t, err)
	require.Equal(t, fake, got)
}

func TestResolveBinary_EnvOverrideMissingFileErrors(t *testing.T) {
	t.Setenv(binaryEnvOverride, "/nonexistent/path/to/agent")
	_, err := ResolveBinary()
	require.Error(t, err)
}

func TestSanitizeAgentEnv_StripsOpencodePrefixedVarsOnly(t *testing.T) {
	in := []string{
		"OPENCODE=1",
		"OPENCODE_SERVER=http://localhost:1234",
		"OPENCODE_PORT=1234",
		"OPENCODE_ANYTHING_ELSE=x",
		"PATH=/usr/bin",
		"OPENCODECOMPAT=kept", // no underscore separator, not a prefix match
	}

	out := sanitizeAgentEnv(in)

	require.Equal(t, []string{"PATH=/usr/bin", "OPENCODECOMPAT=kept"}, out)
}
