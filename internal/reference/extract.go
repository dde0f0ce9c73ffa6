package reference

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// fetchClient is shared across fetchTitle calls; a reasonable timeout
// keeps a slow or unresponsive source from blocking an order's response.
var fetchClient = &http.Client{Timeout: 15 * time.Second}

// fetchTitle retrieves url and extracts its <title> (preferring
// og:title if present), the same signal the original ingestor fell back
// to when trafilatura's metadata had no title. It is a best-effort, non-
// fatal lookup: callers treat a failure as "use the URL as the title"
// rather than aborting ingestion.
func fetchTitle(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "caduceus-reference-ingestor/1.0")

	resp, err := fetchClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch: status %d", resp.StatusCode)
	}

	return extractTitle(resp.Body), nil
}

// extractTitle walks the HTML token stream looking for <title> text and
// an og:title meta tag, stopping once the document body begins.
func extractTitle(r io.Reader) string {
	z := html.NewTokenizer(r)

	var titleText string
	var ogTitle string
	inTitle := false

	for {
		switch z.Next() {
		case html.ErrorToken:
			return firstNonEmpty(ogTitle, titleText)
		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			switch t.Data {
			case "body":
				return firstNonEmpty(ogTitle, titleText)
			case "title":
				inTitle = true
			case "meta":
				if v, ok := metaProperty(t, "og:title"); ok {
					ogTitle = v
				}
			}
		case html.TextToken:
			if inTitle {
				titleText = strings.TrimSpace(z.Token().Data)
				inTitle = false
			}
		}
	}
}

func metaProperty(t html.Token, property string) (content string, ok bool) {
	for _, attr := range t.Attr {
		if attr.Key == "property" && attr.Val == property {
			ok = true
		}
		if attr.Key == "content" {
			content = attr.Val
		}
	}
	return
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
