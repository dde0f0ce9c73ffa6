package reference

import (
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

var (
	nonAlnum  = regexp.MustCompile(`[^a-z0-9]+`)
	multiDash = regexp.MustCompile(`-+`)
)

// slugify reduces title to a lowercase, ASCII, dash-separated slug
// fragment: non-ASCII runes are dropped (see toASCII) and non-
// alphanumeric runs collapse to one dash, as in the original ingestor's
// _slugify minus its NFKD folding.
func slugify(title string) string {
	ascii := toASCII(strings.ToLower(title))
	ascii = nonAlnum.ReplaceAllString(ascii, "-")
	ascii = multiDash.ReplaceAllString(ascii, "-")
	ascii = strings.Trim(ascii, "-")
	if ascii == "" {
		return "reference"
	}
	return ascii
}

// toASCII drops every rune outside ASCII. An accented letter is dropped
// whole rather than folded to its base letter ("café" becomes "caf"),
// unlike the Python original's unicodedata NFKD-then-encode trick.
func toASCII(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r > unicode.MaxASCII {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// uniqueSlug appends "-2", "-3", ... until base.md doesn't already exist
// under dir, matching the original's collision-avoidance loop.
func uniqueSlug(dir, base string) string {
	candidate := base
	for n := 2; ; n++ {
		if _, err := os.Stat(filepath.Join(dir, candidate+".md")); os.IsNotExist(err) {
			return candidate
		}
		candidate = base + "-" + strconv.Itoa(n)
	}
}

// detectType classifies a URL the same way the original ingestor does,
// by substring match against well-known hosts and path fragments.
func detectType(rawURL string) string {
	lower := strings.ToLower(rawURL)
	switch {
	case strings.Contains(lower, "github.com"):
		return "repo"
	case strings.Contains(lower, "arxiv.org"), strings.Contains(lower, "doi.org"), strings.HasSuffix(lower, ".pdf"):
		return "paper"
	case containsAny(lower, "docs.", "/docs", "documentation", "readthedocs"):
		return "docs"
	case containsAny(lower, "news.ycombinator.com", "reddit.com"):
		return "post"
	default:
		return "article"
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// domainTag extracts the registrable-ish first label of the host, e.g.
// "github" from "github.com", for use as a tag.
func domainTag(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Host)
	if idx := strings.Index(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return ""
	}
	return strings.SplitN(host, ".", 2)[0]
}

// buildTags assembles the tag set a reference entry gets: the detected
// type, the domain, and github/arxiv special cases, matching the
// original ingestor's tag logic minus the NLP-keyword extraction (which
// depended on newspaper3k's article.keywords, out of pack — see
// DESIGN.md).
func buildTags(rawURL, refType string) []string {
	set := map[string]struct{}{refType: {}}
	if d := domainTag(rawURL); d != "" {
		set[d] = struct{}{}
	}
	lower := strings.ToLower(rawURL)
	if strings.Contains(lower, "github.com") {
		set["github"] = struct{}{}
	}
	if strings.Contains(lower, "arxiv.org") {
		set["arxiv"] = struct{}{}
	}

	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	if len(tags) > 15 {
		tags = tags[:15]
	}
	return tags
}
