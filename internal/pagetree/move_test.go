package pagetree

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoveIntoFolderAndBackToRoot(t *testing.T) {
	f := newFixture(t, sampleMeta, "docs/guide.mdx", "about.mdx")
	ctx := context.Background()
	var changes []Change
	f.tree.OnChange(func(_ context.Context, c Change) { changes = append(changes, c) })

	node, err := f.tree.Move(ctx, "about.mdx", "docs", false)
	require.NoError(t, err)
	assert.Equal(t, "docs/about.mdx", node.Path)
	assert.Equal(t, 2, node.SortOrder)
	assert.FileExists(t, filepath.Join(f.root, "docs", "about.mdx"))
	assert.NoFileExists(t, filepath.Join(f.root, "about.mdx"))

	doc, err := f.tree.document(ctx)
	require.NoError(t, err)
	require.Len(t, doc.Pages, 1, "source is detached from its old siblings")
	assert.Equal(t, "docs/about.mdx", doc.Pages[0].Children[2].Path)

	node, err = f.tree.Move(ctx, "docs/guide.mdx", "", true)
	require.NoError(t, err)
	assert.Equal(t, "guide.mdx", node.Path)
	assert.Equal(t, 1, node.SortOrder)
	assert.FileExists(t, filepath.Join(f.root, "guide.mdx"))

	require.Len(t, changes, 2)
	assert.Equal(t, "move", changes[0].Op)
	assert.Equal(t, []string{"about.mdx", "docs/about.mdx"}, changes[0].Paths)
}

func TestMoveFolderRebasesChildren(t *testing.T) {
	f := newFixture(t, sampleMeta, "docs/guide.mdx")
	ctx := context.Background()

	_, err := f.tree.Create(ctx, "", "Reference", KindFolder)
	require.NoError(t, err)
	node, err := f.tree.Move(ctx, "docs", "Reference", false)
	require.NoError(t, err)

	assert.Equal(t, "Reference/docs", node.Path)
	assert.Equal(t, "Reference/docs/guide.mdx", node.Children[1].Path)
	assert.FileExists(t, filepath.Join(f.root, "Reference", "docs", "guide.mdx"))
	f.node(t, "Reference/docs/guide.mdx")
}

func TestMoveRejectsInvalidTargets(t *testing.T) {
	f := newFixture(t, sampleMeta, "docs/guide.mdx", "about.mdx", "docs/about.mdx")
	ctx := context.Background()
	before := f.metaBytes(t)

	tests := []struct {
		name   string
		source string
		target string
		want   error
	}{
		{name: "into itself", source: "docs", target: "docs", want: ErrInvalidInput},
		{name: "into a descendant", source: "docs", target: "docs/foo", want: ErrInvalidInput},
		{name: "into a file", source: "about.mdx", target: "docs/guide.mdx", want: ErrInvalidInput},
		{name: "missing source", source: "missing.mdx", target: "docs", want: ErrNotFound},
		{name: "missing target", source: "about.mdx", target: "missing", want: ErrNotFound},
		{name: "name taken", source: "about.mdx", target: "docs", want: ErrConflict},
		{name: "traversal", source: "../x", target: "docs", want: ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.tree.Move(ctx, tt.source, tt.target, false)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, string(before), string(f.metaBytes(t)))
}

func TestMoveWithinSameParentAppends(t *testing.T) {
	f := newFixture(t, sampleMeta, "docs/guide.mdx")
	ctx := context.Background()

	node, err := f.tree.Move(ctx, "docs", "", true)
	require.NoError(t, err)
	assert.Equal(t, "docs", node.Path)
	assert.Equal(t, 2, node.SortOrder)

	doc, err := f.tree.document(ctx)
	require.NoError(t, err)
	assert.Equal(t, "about.mdx", doc.Pages[0].Path)
	assert.Equal(t, "docs", doc.Pages[1].Path)
	assert.FileExists(t, filepath.Join(f.root, "docs", "guide.mdx"))
}
