package reference

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// writeMarkdown renders entry's write-up file under dir, in the shape
// the original ingestor produced: header metadata lines, a summary
// section, and the review-prompt sections analysts are expected to fill
// in by hand. Analysis extraction (summary/key-insights via NLP) is out
// of pack (see DESIGN.md), so those sections are left as prompts.
func writeMarkdown(dir string, entry ReferenceEntry) error {
	var b strings.Builder

	title := entry.Title
	if title == "" {
		title = "Untitled"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**Source**: %s\n", entry.URL)
	fmt.Fprintf(&b, "**Type**: %s\n", entry.Type)
	fmt.Fprintf(&b, "**Ingested**: %s\n", entry.SharedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "**Tags**: %s\n", strings.Join(entry.Tags, ", "))

	note := entry.Note
	if note == "" {
		note = "None"
	}
	fmt.Fprintf(&b, "**Note**: %s\n", note)
	fmt.Fprintf(&b, "**Via**: %s\n\n", entry.SharedVia)

	b.WriteString("---\n\n")
	b.WriteString("## Summary\n\n")
	if entry.Analysis != "" {
		b.WriteString(entry.Analysis)
	} else {
		b.WriteString("Summary unavailable; extraction succeeded but content was sparse.")
	}
	b.WriteString("\n\n## Key Insights\n\n")
	b.WriteString("- Review and summarize this source's key points.\n\n")
	b.WriteString("## Relevance to Our Work\n\n")
	b.WriteString("Review and connect this reference to current efforts.\n\n")
	b.WriteString("## Applicable Patterns\n\n")
	b.WriteString("Identify any concrete patterns or practices worth adopting.\n")

	return os.WriteFile(filepath.Join(dir, entry.File), []byte(b.String()), 0o644)
}
