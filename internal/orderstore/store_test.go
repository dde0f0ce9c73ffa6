package orderstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s, err := New(
		filepath.Join(root, "orders"),
		filepath.Join(root, "archive"),
		filepath.Join(root, "outbox"),
		filepath.Join(root, "corrupted"),
		filepath.Join(root, "responses"),
	)
	require.NoError(t, err)
	return s
}

func TestStore_WriteClaimArchive(t *testing.T) {
	s := newTestStore(t)
	order := Order{OrderID: "o1", Payload: "hello", Priority: PriorityNormal, Timestamp: time.Now().UTC()}

	path, err := s.Write(order)
	require.NoError(t, err)
	require.FileExists(t, path)

	claimed, err := s.Claim(path)
	require.NoError(t, err)
	require.FileExists(t, claimed)
	require.NoFileExists(t, path)

	order.Acknowledged = true
	require.NoError(t, s.Archive(claimed, order))
	require.NoFileExists(t, claimed)
	require.FileExists(t, filepath.Join(s.ArchiveDir, filepath.Base(path)))
}

func TestStore_ClaimRaceLoses(t *testing.T) {
	s := newTestStore(t)
	path, err := s.Write(Order{OrderID: "o1", Payload: "hi"})
	require.NoError(t, err)

	_, err = s.Claim(path)
	require.NoError(t, err)

	_, err = s.Claim(path)
	require.ErrorIs(t, err, ErrClaimLost)
}

func TestStore_ReleaseRequeues(t *testing.T) {
	s := newTestStore(t)
	path, err := s.Write(Order{OrderID: "o1", Payload: "hi"})
	require.NoError(t, err)

	claimed, err := s.Claim(path)
	require.NoError(t, err)

	require.NoError(t, s.Release(claimed))
	require.FileExists(t, path)
	require.NoFileExists(t, claimed)
}

func TestStore_ReadUnacknowledgedSkipsProcessingAndIsOrdered(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Write(Order{OrderID: "c", Payload: "3"})
	require.NoError(t, err)
	_, err = s.Write(Order{OrderID: "a", Payload: "1"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := s.Write(Order{OrderID: "b", Payload: "2"})
	require.NoError(t, err)

	_, err = s.Claim(second)
	require.NoError(t, err)

	pending, err := s.ReadUnacknowledged()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "a", pending[0].Order.OrderID)
	require.Equal(t, "c", pending[1].Order.OrderID)
}

func TestStore_CorruptedOrderIsQuarantined(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(s.OrdersDir, "20260101-000000-000001.json")
	require.NoError(t, os.WriteFile(path, []byte("{not valid json"), 0o644))

	pending, err := s.ReadUnacknowledged()
	require.NoError(t, err)
	require.Empty(t, pending)
	require.NoFileExists(t, path)

	entries, err := os.ReadDir(s.CorruptedDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestStore_OutboxMarkSentIsTerminal(t *testing.T) {
	s := newTestStore(t)
	path, err := s.WriteOutbox("processing-o1.json", Notification{
		Type: "notification", Severity: SeverityInfo, Message: "working", Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	unsent, err := s.ListUnsentOutbox()
	require.NoError(t, err)
	require.Len(t, unsent, 1)

	require.NoError(t, s.MarkSent(path, unsent[0].Notification))

	unsent, err = s.ListUnsentOutbox()
	require.NoError(t, err)
	require.Empty(t, unsent)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var n Notification
	require.NoError(t, json.Unmarshal(data, &n))
	require.True(t, n.Sent)
	require.NotNil(t, n.SentAt)
}

func TestStore_ResponseReadDelete(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.ReadResponse("o1")
	require.NoError(t, err)
	require.False(t, ok)

	path := filepath.Join(s.ResponsesDir, "galaxy-order-response-o1.md")
	require.NoError(t, os.WriteFile(path, []byte("# response"), 0o644))

	content, ok, err := s.ReadResponse("o1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, content, "# response")

	require.NoError(t, s.DeleteResponse("o1"))
	require.NoFileExists(t, path)
}
