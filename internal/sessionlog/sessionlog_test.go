package sessionlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLog_AppendWritesOneLinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "events.jsonl")
	l, err := Open(path)
	require.NoError(t, err)

	l.Append("socket_connected", map[string]string{"user_id": "u1"})
	l.Append("socket_disconnected", map[string]string{"user_id": "u1"})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	require.Equal(t, "socket_connected", rec.EventType)
	require.Equal(t, "u1", rec.Fields["user_id"])
}
