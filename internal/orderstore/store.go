package orderstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const processingSuffix = ".processing"

// Store provides atomic filesystem primitives over the orders, archive,
// outbox, corrupted and responses directories. All mutation goes through
// rename, which is atomic on a single volume — the store never relies on
// locks.
type Store struct {
	OrdersDir    string
	ArchiveDir   string
	OutboxDir    string
	CorruptedDir string
	ResponsesDir string
}

// New creates a Store and ensures all of its directories exist.
func New(orders, archive, outbox, corrupted, responses string) (*Store, error) {
	s := &Store{
		OrdersDir:    orders,
		ArchiveDir:   archive,
		OutboxDir:    outbox,
		CorruptedDir: corrupted,
		ResponsesDir: responses,
	}
	for _, dir := range []string{orders, archive, outbox, corrupted, responses} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return s, nil
}

// Write serializes order to <orderId>.json in the orders directory and
// returns its path. order.OrderID must already be set by the caller: it
// is the single identifier shared by the order file, any outbox
// notification about it, and its eventual response file, so the name is
// derived from it directly rather than from a second, independent clock
// read.
func (s *Store) Write(order Order) (string, error) {
	if order.OrderID == "" {
		return "", fmt.Errorf("write order: OrderID must be set")
	}
	name := order.OrderID + ".json"
	path := filepath.Join(s.OrdersDir, name)
	if err := writeJSONAtomic(path, order); err != nil {
		return "", fmt.Errorf("write order: %w", err)
	}
	return path, nil
}

// FindOrder locates an order record by id across the orders, processing
// and archive directories, in that order, since a tracked order moves
// between them over its lifetime. ok is false if the id is not found in
// any of them — e.g. it was archived and later swept, or deleted
// outright.
func (s *Store) FindOrder(orderID string) (order Order, ok bool, err error) {
	name := orderID + ".json"
	for _, path := range []string{
		filepath.Join(s.OrdersDir, name),
		filepath.Join(s.OrdersDir, name+processingSuffix),
		filepath.Join(s.ArchiveDir, name),
	} {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			if errors.Is(readErr, os.ErrNotExist) {
				continue
			}
			return Order{}, false, fmt.Errorf("read order %s: %w", path, readErr)
		}
		if err := json.Unmarshal(data, &order); err != nil {
			return Order{}, false, fmt.Errorf("parse order %s: %w", path, err)
		}
		return order, true, nil
	}
	return Order{}, false, nil
}

// ErrClaimLost is returned by Claim when another consumer already claimed
// (or otherwise removed) the order; the caller must skip it, not treat it
// as an error condition.
var ErrClaimLost = errors.New("order claim lost to another consumer")

// Claim renames path (an orders-dir <id>.json) to <id>.json.processing,
// granting the caller exclusive ownership of the order for the claim's
// lifetime. Returns ErrClaimLost if another consumer won the race.
func (s *Store) Claim(path string) (string, error) {
	claimed := path + ".processing"
	if err := os.Rename(path, claimed); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrClaimLost
		}
		return "", fmt.Errorf("claim order: %w", err)
	}
	return claimed, nil
}

// Release renames a claimed order back to pending so it is retried on a
// later poll. Used when the executor cannot proceed (e.g. the agent
// binary is unavailable).
func (s *Store) Release(claimedPath string) error {
	if !strings.HasSuffix(claimedPath, processingSuffix) {
		return fmt.Errorf("release: %s is not a claimed order path", claimedPath)
	}
	original := strings.TrimSuffix(claimedPath, processingSuffix)
	if err := os.Rename(claimedPath, original); err != nil {
		return fmt.Errorf("release order: %w", err)
	}
	return nil
}

// Archive writes the finalized order record to the archive directory
// (complete-or-absent, via temp+rename) and removes the claim. The
// archive file keeps the claimed path's base name with ".processing"
// stripped.
func (s *Store) Archive(claimedPath string, order Order) error {
	original := strings.TrimSuffix(claimedPath, processingSuffix)
	archivePath := filepath.Join(s.ArchiveDir, filepath.Base(original))
	if err := writeJSONAtomic(archivePath, order); err != nil {
		return fmt.Errorf("archive order: %w", err)
	}
	if err := os.Remove(claimedPath); err != nil {
		return fmt.Errorf("remove claim after archive: %w", err)
	}
	return nil
}

// PendingOrder pairs an order record with the path it was read from.
type PendingOrder struct {
	Path  string
	Order Order
}

// ReadUnacknowledged enumerates pending (non-.processing) orders in
// lexicographic filename order. Order filenames are their OrderID, which
// is itself timestamp-prefixed, so this also happens to be creation
// order. Unparseable files are quarantined rather than returned or
// deleted.
func (s *Store) ReadUnacknowledged() ([]PendingOrder, error) {
	entries, err := os.ReadDir(s.OrdersDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list orders dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".json.processing") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]PendingOrder, 0, len(names))
	for _, name := range names {
		path := filepath.Join(s.OrdersDir, name)
		var order Order
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// Raced with another consumer's claim; skip silently.
				continue
			}
			return nil, fmt.Errorf("read order %s: %w", name, err)
		}
		if err := json.Unmarshal(data, &order); err != nil {
			s.quarantine(path, err)
			continue
		}
		out = append(out, PendingOrder{Path: path, Order: order})
	}
	return out, nil
}

// quarantine moves a corrupted order file into the corrupted directory,
// logging the parse error, rather than deleting it. A random suffix
// avoids collisions with a prior quarantine of the same order id.
func (s *Store) quarantine(path string, parseErr error) {
	dest := filepath.Join(s.CorruptedDir, filepath.Base(path)+"."+uuid.NewString()[:8])
	if err := os.Rename(path, dest); err != nil {
		slog.Error("orderstore: failed to quarantine corrupted order", "path", path, "error", err)
		return
	}
	slog.Warn("orderstore: quarantined corrupted order", "path", path, "dest", dest, "parse_error", parseErr)
}

// WriteOutbox writes a notification record to the outbox directory. name
// follows the conventions in spec §6: "<component>-<id>.json",
// "heartbeat-<orderId>-<elapsedSeconds>.json", "processing-<orderId>.json".
func (s *Store) WriteOutbox(name string, n Notification) (string, error) {
	path := filepath.Join(s.OutboxDir, name)
	if err := writeJSONAtomic(path, n); err != nil {
		return "", fmt.Errorf("write outbox notification: %w", err)
	}
	return path, nil
}

// UnsentOutbox pairs a notification with the path it was read from.
type UnsentOutbox struct {
	Path         string
	Notification Notification
}

// ListUnsentOutbox returns every outbox file with sent=false, in
// lexicographic (timestamp) order.
func (s *Store) ListUnsentOutbox() ([]UnsentOutbox, error) {
	entries, err := os.ReadDir(s.OutboxDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list outbox dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]UnsentOutbox, 0, len(names))
	for _, name := range names {
		path := filepath.Join(s.OutboxDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read outbox %s: %w", name, err)
		}
		var n Notification
		if err := json.Unmarshal(data, &n); err != nil {
			slog.Error("orderstore: corrupted outbox notification, skipping", "path", path, "error", err)
			continue
		}
		if !n.Sent {
			out = append(out, UnsentOutbox{Path: path, Notification: n})
		}
	}
	return out, nil
}

// MarkSent sets sent=true and sentAt on a notification and rewrites it
// in place. sent=true is terminal; it is never reverted.
func (s *Store) MarkSent(path string, n Notification) error {
	now := time.Now().UTC()
	n.Sent = true
	n.SentAt = &now
	if err := writeJSONAtomic(path, n); err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// responseFileName returns the response markdown file name for orderID.
func responseFileName(orderID string) string {
	return "galaxy-order-response-" + orderID + ".md"
}

// WriteResponse writes the response markdown for orderID. Used by the
// executor itself, which calls the agent in-process rather than relying
// on an external process to drop the file for it.
func (s *Store) WriteResponse(orderID, text string) error {
	path := filepath.Join(s.ResponsesDir, responseFileName(orderID))
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// ReadResponse reads the response markdown for orderID, if present.
func (s *Store) ReadResponse(orderID string) (string, bool, error) {
	path := filepath.Join(s.ResponsesDir, responseFileName(orderID))
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read response: %w", err)
	}
	return string(data), true, nil
}

// LatestResponse returns the most recently modified response file's order
// id and contents, for the ack poller's documented fallback match when an
// order is acknowledged but no response file carries its own id.
func (s *Store) LatestResponse() (orderID, text string, ok bool, err error) {
	const prefix = "galaxy-order-response-"
	const suffix = ".md"

	entries, err := os.ReadDir(s.ResponsesDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("list responses dir: %w", err)
	}

	var latestName string
	var latestMod time.Time
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		info, infoErr := e.Info()
		if infoErr != nil {
			continue
		}
		if latestName == "" || info.ModTime().After(latestMod) {
			latestName, latestMod = name, info.ModTime()
		}
	}
	if latestName == "" {
		return "", "", false, nil
	}

	data, err := os.ReadFile(filepath.Join(s.ResponsesDir, latestName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("read latest response: %w", err)
	}
	id := strings.TrimSuffix(strings.TrimPrefix(latestName, prefix), suffix)
	return id, string(data), true, nil
}

// DeleteResponse removes the response file for orderID, if present.
func (s *Store) DeleteResponse(orderID string) error {
	path := filepath.Join(s.ResponsesDir, responseFileName(orderID))
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete response: %w", err)
	}
	return nil
}

// writeJSONAtomic serializes v to a temp file in dest's directory, then
// renames it into place, so readers never observe a partial write.
func writeJSONAtomic(dest string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, dest)
}
