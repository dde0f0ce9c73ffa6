package reference

import (
	"fmt"
	"net/url"
	"strings"
)

// CanonicalURL reduces a URL to scheme+host+path+query for upsert
// matching: host is lowercased, a trailing slash on the path is dropped
// (except for the bare root "/"), and fragments are ignored.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is missing a scheme or host", raw)
	}

	host := strings.ToLower(u.Host)
	path := u.Path
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}

	canonical := u.Scheme + "://" + host + path
	if u.RawQuery != "" {
		canonical += "?" + u.RawQuery
	}
	return canonical, nil
}
