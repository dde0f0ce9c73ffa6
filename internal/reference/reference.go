// Package reference implements the reference-ingestion output contract:
// given a URL, note and source ("via"), fetch a title, build a markdown
// write-up, and upsert an entry into an index.json catalog — keyed by
// canonical URL so sharing the same link twice updates one entry instead
// of duplicating it.
package reference

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ReferenceEntry is one catalog row, matching index.json's schema.
type ReferenceEntry struct {
	Slug      string     `json:"slug"`
	URL       string     `json:"url"`
	Title     string     `json:"title"`
	File      string     `json:"file"`
	Type      string     `json:"type"`
	Tags      []string   `json:"tags"`
	Note      string     `json:"note,omitempty"`
	SharedAt  time.Time  `json:"shared_at"`
	SharedVia string     `json:"shared_via"`
	Analysis  string     `json:"analysis,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Index is the on-disk shape of index.json.
type Index struct {
	Version    string           `json:"version"`
	References []ReferenceEntry `json:"references"`
}

// Result is what ProcessFeed returns: the stored entry and whether it
// replaced a pre-existing one for the same canonical URL.
type Result struct {
	Entry           ReferenceEntry
	UpdatedExisting bool
}

// ProcessFeed fetches url, writes a markdown write-up under dir, and
// upserts its entry in dir/index.json. Calling it twice with
// canonically-equivalent URLs updates the same entry: created_at is
// preserved, updated_at is set, and the markdown file is overwritten.
func ProcessFeed(ctx context.Context, dir, url, note, via string) (Result, error) {
	if url == "" {
		return Result{}, fmt.Errorf("reference: url is required")
	}
	canonical, err := CanonicalURL(url)
	if err != nil {
		return Result{}, fmt.Errorf("reference: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("reference: create directory: %w", err)
	}
	indexPath := filepath.Join(dir, "index.json")

	idx, err := loadIndex(indexPath)
	if err != nil {
		return Result{}, fmt.Errorf("reference: load index: %w", err)
	}

	title, fetchErr := fetchTitle(ctx, url)
	if fetchErr != nil || title == "" {
		title = url
	}

	refType := detectType(url)
	tags := buildTags(url, refType)
	now := time.Now().UTC()

	existingIdx := findByCanonicalURL(idx.References, canonical)

	if existingIdx >= 0 {
		existing := idx.References[existingIdx]
		updated := existing
		updated.Title = title
		updated.Type = refType
		updated.Tags = tags
		updated.Note = note
		updated.SharedVia = via
		updated.SharedAt = now
		updatedAt := now
		updated.UpdatedAt = &updatedAt

		if err := writeMarkdown(dir, updated); err != nil {
			return Result{}, fmt.Errorf("reference: write markdown: %w", err)
		}

		newRefs := make([]ReferenceEntry, len(idx.References))
		copy(newRefs, idx.References)
		newRefs[existingIdx] = updated
		if err := commitIndex(indexPath, Index{Version: idx.Version, References: newRefs}); err != nil {
			return Result{}, err
		}
		return Result{Entry: updated, UpdatedExisting: true}, nil
	}

	datePrefix := now.Format("2006-01-02")
	slug := uniqueSlug(dir, datePrefix+"-"+slugify(title))

	entry := ReferenceEntry{
		Slug:      slug,
		URL:       url,
		Title:     title,
		File:      slug + ".md",
		Type:      refType,
		Tags:      tags,
		Note:      note,
		SharedAt:  now,
		SharedVia: via,
		CreatedAt: now,
	}

	if err := writeMarkdown(dir, entry); err != nil {
		return Result{}, fmt.Errorf("reference: write markdown: %w", err)
	}

	newRefs := append(append([]ReferenceEntry{}, idx.References...), entry)
	if err := commitIndex(indexPath, Index{Version: idx.Version, References: newRefs}); err != nil {
		return Result{}, err
	}
	return Result{Entry: entry, UpdatedExisting: false}, nil
}

func findByCanonicalURL(refs []ReferenceEntry, canonical string) int {
	for i, r := range refs {
		if c, err := CanonicalURL(r.URL); err == nil && c == canonical {
			return i
		}
	}
	return -1
}
