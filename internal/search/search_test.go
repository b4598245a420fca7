package search

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePage(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func sampleDocs(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writePage(t, root, "guide/intro.mdx", "# Getting Started\n\nInstall the Wiki server first.")
	writePage(t, root, "guide/notes.md", "plain notes about deployment")
	writePage(t, root, "about.mdx", "# About\n\nNothing here.")
	writePage(t, root, "meta.json", `{"pages": [{"title": "wiki"}]}`)
	writePage(t, root, ".git/HEAD", "wiki")
	return root
}

func TestFilesSearchIsCaseInsensitive(t *testing.T) {
	files := NewFiles(sampleDocs(t))

	results, err := files.Search(context.Background(), "WIKI", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "guide/intro.mdx", results[0].Path)
	assert.Equal(t, "intro", results[0].Name)
	assert.Equal(t, "intro.mdx", results[0].FullName)
	assert.Equal(t, "Getting Started", results[0].Title)
	assert.Contains(t, results[0].Snippet, "Wiki server")
}

func TestFilesSearchIncludesMarkdownAndSkipsOtherFiles(t *testing.T) {
	files := NewFiles(sampleDocs(t))

	results, err := files.Search(context.Background(), "deployment", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "notes", results[0].Title, "falls back to file name without a heading")

	none, err := files.Search(context.Background(), "no such phrase", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFilesSearchLimit(t *testing.T) {
	files := NewFiles(sampleDocs(t))
	results, err := files.Search(context.Background(), "#", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSnippetKeepsRuneBoundaries(t *testing.T) {
	content := "héllo wörld ünïcode " + "padding padding padding padding padding padding padding " + "target"
	out := snippet(content, len(content)-len("target"), len("target"))
	assert.Contains(t, out, "target")
	assert.True(t, len(out) > 0)
	for _, r := range out {
		assert.NotEqual(t, '�', r)
	}
}

type fakeIndex struct {
	mu       sync.Mutex
	healthy  bool
	results  []Result
	err      error
	indexed  map[string]PageRecord
	deleted  []string
	searches int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{healthy: true, indexed: map[string]PageRecord{}}
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) Search(context.Context, string, int) ([]Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	return f.results, f.err
}

func (f *fakeIndex) IndexPages(pages []PageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range pages {
		f.indexed[p.Path] = p
	}
	return nil
}

func (f *fakeIndex) DeletePage(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func TestServiceRejectsEmptyTerm(t *testing.T) {
	svc := NewService(nil, NewFiles(t.TempDir()), nil)
	_, err := svc.Search(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyTerm)
}

func TestServicePrefersHealthyIndex(t *testing.T) {
	idx := newFakeIndex()
	idx.results = []Result{{Path: "from/index.mdx"}}
	svc := NewService(nil, NewFiles(sampleDocs(t)), nil).withBackend(idx, idx)

	results, err := svc.Search(context.Background(), "wiki", nil)
	require.NoError(t, err)
	assert.Equal(t, idx.results, results)
}

func TestServiceFallsBackToFiles(t *testing.T) {
	idx := newFakeIndex()
	idx.err = errors.New("connection refused")
	svc := NewService(nil, NewFiles(sampleDocs(t)), nil).withBackend(idx, idx)

	results, err := svc.Search(context.Background(), "wiki", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "guide/intro.mdx", results[0].Path)

	idx.healthy = false
	_, err = svc.Search(context.Background(), "wiki", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.searches, "unhealthy index is skipped")
}

func TestServiceSyncUpsertsAndDeletes(t *testing.T) {
	root := sampleDocs(t)
	idx := newFakeIndex()
	svc := NewService(nil, NewFiles(root), nil).withBackend(idx, idx)

	svc.Sync([]string{"guide/intro.mdx", "gone.mdx", "meta.json"})
	svc.Wait()

	assert.Contains(t, idx.indexed, "guide/intro.mdx")
	assert.NotContains(t, idx.indexed, "meta.json")
	assert.Equal(t, []string{DocumentID("gone.mdx")}, idx.deleted)
}

func TestServiceReindexAll(t *testing.T) {
	idx := newFakeIndex()
	svc := NewService(nil, NewFiles(sampleDocs(t)), nil).withBackend(idx, idx)

	n, err := svc.ReindexAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, idx.indexed, 3)
}

func TestDocumentIDIsStableAndSafe(t *testing.T) {
	id := DocumentID("guide/intro.mdx")
	assert.Equal(t, id, DocumentID("guide/intro.mdx"))
	assert.Regexp(t, `^[a-f0-9]{40}$`, id)
}

type denyList map[string]bool

func (d denyList) Allows(path string) bool { return !d[path] }

func TestServiceSearchAppliesPolicy(t *testing.T) {
	idx := newFakeIndex()
	idx.results = []Result{{Path: "public.mdx"}, {Path: "private.mdx"}}
	svc := NewService(nil, NewFiles(sampleDocs(t)), nil).withBackend(idx, idx)

	results, err := svc.Search(context.Background(), "wiki", denyList{"private.mdx": true})
	require.NoError(t, err)
	assert.Equal(t, []Result{{Path: "public.mdx"}}, results)

	idx.healthy = false
	results, err = svc.Search(context.Background(), "wiki", denyList{"guide/intro.mdx": true})
	require.NoError(t, err)
	assert.Empty(t, results, "the file fallback is filtered too")
}

func TestServiceSyncRemovesPagesOutsideScope(t *testing.T) {
	root := sampleDocs(t)
	idx := newFakeIndex()
	svc := NewService(nil, NewFiles(root), nil).withBackend(idx, idx)
	svc.SetScope(func(context.Context) (Policy, error) {
		return denyList{"about.mdx": true}, nil
	})

	svc.Sync([]string{"guide/intro.mdx", "about.mdx"})
	svc.Wait()
	assert.Contains(t, idx.indexed, "guide/intro.mdx")
	assert.NotContains(t, idx.indexed, "about.mdx")
	assert.Equal(t, []string{DocumentID("about.mdx")}, idx.deleted)

	n, err := svc.ReindexAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NotContains(t, idx.indexed, "about.mdx")
}
