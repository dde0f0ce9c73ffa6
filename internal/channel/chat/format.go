package chat

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// splitLimit is the platform per-message byte limit the gateway targets.
const splitLimit = 2048

var collapseBlankLines = regexp.MustCompile(`\n{3,}`)

// sanitizePolicy allows only the small HTML subset formatCompact emits;
// anything an agent response embeds beyond that (script tags, arbitrary
// attributes) is stripped before the message ever reaches the platform.
var sanitizePolicy = newSanitizePolicy()

func newSanitizePolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "code", "i")
	return p
}

// formatCompact converts a markdown-ish response into the compact,
// emoji-led HTML the chat platform renders: headers become iconographic
// bullets, bold markers become <b> tags, and separator lines are dropped.
func formatCompact(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			out = append(out, "")
		case line == "---":
			continue
		case strings.HasPrefix(line, "### "):
			out = append(out, "<b>▪️ "+line[4:]+"</b>")
		case strings.HasPrefix(line, "## "):
			out = append(out, "<b>📌 "+line[3:]+"</b>")
		case strings.HasPrefix(line, "# "):
			out = append(out, "<b>🎯 "+line[2:]+"</b>")
		case strings.Contains(line, "**"):
			out = append(out, boldToHTML(line))
		case strings.HasPrefix(line, "- "):
			out = append(out, "  "+line[2:])
		default:
			out = append(out, line)
		}
	}

	result := strings.Join(out, "\n")
	return collapseBlankLines.ReplaceAllString(result, "\n\n")
}

// boldToHTML swaps the first pair of "**" markers for <b>/</b>; later
// pairs on the same line are left alone, matching the compact formatter's
// original single-pass behavior.
func boldToHTML(line string) string {
	line = strings.Replace(line, "**", "<b>", 1)
	line = strings.Replace(line, "**", "</b>", 1)
	return line
}

// splitMessage breaks text into chunks no larger than limit bytes,
// preferring to cut at the last newline within the chunk so a message is
// never split mid-line; absent a newline in the window, it hard-splits at
// the limit.
func splitMessage(text string, limit int) []string {
	var chunks []string
	for len(text) > limit {
		window := text[:limit]
		cut := strings.LastIndexByte(window, '\n')
		if cut <= 0 {
			chunks = append(chunks, text[:limit])
			text = text[limit:]
			continue
		}
		chunks = append(chunks, text[:cut])
		text = text[cut+1:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}
