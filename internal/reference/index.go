package reference

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// loadIndex reads dir/index.json, creating an empty v1.0 index if the
// file does not yet exist. A malformed index is never returned — callers
// see that failure as an error rather than a zero-value Index, so a
// corrupt file can't be silently replaced by an empty one.
func loadIndex(path string) (Index, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Index{Version: "1.0", References: []ReferenceEntry{}}, nil
	}
	if err != nil {
		return Index{}, err
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return Index{}, fmt.Errorf("index.json is corrupt: %w", err)
	}
	return idx, nil
}

// commitIndex marshals idx, validates that the bytes it is about to write
// round-trip back to a parseable Index, and only then renames them into
// place. Validating before the rename (rather than re-reading the file
// after) means a validation failure leaves the previous on-disk content
// untouched — once writeJSONAtomic's rename has happened, the prior
// content is already gone and there is nothing left to roll back to.
func commitIndex(path string, idx Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("reference: marshal index: %w", err)
	}
	var probe Index
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("reference: index failed pre-write validation: %w", err)
	}
	if err := writeJSONAtomic(path, data); err != nil {
		return fmt.Errorf("reference: write index: %w", err)
	}
	return nil
}

// writeJSONAtomic writes the already-serialized data to a temp file in
// dest's directory, then renames it into place, so readers never observe
// a partial write.
func writeJSONAtomic(dest string, data []byte) error {
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
