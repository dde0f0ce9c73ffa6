package reference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTitleServer(t *testing.T, title string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><head><title>" + title + "</title></head><body>hello</body></html>"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readIndex(t *testing.T, dir string) Index {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "index.json"))
	require.NoError(t, err)
	var idx Index
	require.NoError(t, json.Unmarshal(data, &idx))
	return idx
}

func TestProcessFeed_CreatesEntryAndMarkdown(t *testing.T) {
	dir := t.TempDir()
	srv := newTitleServer(t, "Example Repo")

	result, err := ProcessFeed(context.Background(), dir, srv.URL+"/example/repo", "first look", "chat")
	require.NoError(t, err)
	require.False(t, result.UpdatedExisting)
	require.Equal(t, "Example Repo", result.Entry.Title)
	require.Equal(t, "chat", result.Entry.SharedVia)

	idx := readIndex(t, dir)
	require.Len(t, idx.References, 1)

	_, err = os.Stat(filepath.Join(dir, result.Entry.File))
	require.NoError(t, err)
}

func TestProcessFeed_DuplicateCanonicalURLUpserts(t *testing.T) {
	dir := t.TempDir()
	srv := newTitleServer(t, "Example Repo")

	first, err := ProcessFeed(context.Background(), dir, srv.URL+"/example/repo", "first", "chat")
	require.NoError(t, err)
	require.False(t, first.UpdatedExisting)

	second, err := ProcessFeed(context.Background(), dir, srv.URL+"/example/repo/", "second", "chat")
	require.NoError(t, err)
	require.True(t, second.UpdatedExisting)
	require.Equal(t, first.Entry.Slug, second.Entry.Slug)
	require.Equal(t, "second", second.Entry.Note)
	require.Equal(t, first.Entry.CreatedAt, second.Entry.CreatedAt)
	require.NotNil(t, second.Entry.UpdatedAt)

	idx := readIndex(t, dir)
	require.Len(t, idx.References, 1)
	require.Equal(t, "second", idx.References[0].Note)
}

func TestProcessFeed_RejectsEmptyURL(t *testing.T) {
	_, err := ProcessFeed(context.Background(), t.TempDir(), "", "note", "chat")
	require.Error(t, err)
}

func TestCanonicalURL_NormalizesTrailingSlashAndHost(t *testing.T) {
	a, err := CanonicalURL("https://Example.com/path/")
	require.NoError(t, err)
	b, err := CanonicalURL("https://example.com/path")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestCanonicalURL_PreservesQueryAndRoot(t *testing.T) {
	a, err := CanonicalURL("https://example.com/?q=1")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/?q=1", a)
}

func TestDetectType_GithubRepo(t *testing.T) {
	require.Equal(t, "repo", detectType("https://github.com/example/repo"))
	require.Equal(t, "paper", detectType("https://arxiv.org/abs/1234.5678"))
	require.Equal(t, "article", detectType("https://example.com/blog/post"))
}

func TestSlugify_CollapsesNonAlphanumeric(t *testing.T) {
	require.Equal(t, "hello-world", slugify("Hello, World!!"))
	require.Equal(t, "reference", slugify("***"))
}

func TestUniqueSlug_AvoidsCollision(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2026-01-01-example.md"), []byte("x"), 0o644))
	got := uniqueSlug(dir, "2026-01-01-example")
	require.Equal(t, "2026-01-01-example-2", got)
}
