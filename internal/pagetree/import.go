package pagetree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"yaw/api/internal/util"
)

// ImportRequest adds an existing Markdown document as a new page.
type ImportRequest struct {
	// Target is the id or path of the parent page, or RootTarget.
	Target   string
	Filename string
	Content  string
}

// ImportName turns an uploaded file name into the page file name: lower
// case with whitespace runs replaced by "-".
func ImportName(filename string) string {
	return Slugify(filepath.Base(filepath.ToSlash(filename)))
}

// titleFromName turns "getting-started.md" into "Getting Started".
func titleFromName(name string) string {
	words := strings.Split(strings.TrimSuffix(name, filepath.Ext(name)), "-")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// Import writes the document next to its parent's pages and registers a
// public page for it.
func (t *Tree) Import(ctx context.Context, req ImportRequest) (*Node, error) {
	name := ImportName(req.Filename)
	if err := validName(name); err != nil {
		return nil, err
	}
	if !IsPageFile(name) {
		return nil, fmt.Errorf("%w: %s is not a Markdown file", ErrInvalidInput, req.Filename)
	}

	var imported *Node
	err := t.do(ctx, func(context.Context) (*Change, error) {
		if err := t.load(); err != nil {
			return nil, err
		}
		next := t.doc.clone()
		idx := buildIndex(next)

		siblings := &next.Pages
		nodePath := name
		if target := strings.TrimSpace(req.Target); target != "" && target != RootTarget {
			parent, ok := idx.byID[target]
			if !ok {
				parent, ok = idx.byPath[target]
			}
			if !ok {
				return nil, fmt.Errorf("%w: parent %s", ErrNotFound, target)
			}
			siblings = &parent.Children
			nodePath = strings.TrimRight(parent.Path, "/") + "/" + name
		}
		if _, ok := idx.byPath[nodePath]; ok {
			return nil, fmt.Errorf("%w: %s", ErrConflict, nodePath)
		}
		full := t.abs(nodePath)
		if taken, err := exists(full); err != nil {
			return nil, fmt.Errorf("%w: stat target: %v", ErrInternal, err)
		} else if taken {
			return nil, fmt.Errorf("%w: %s", ErrConflict, nodePath)
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create parent: %v", ErrInternal, err)
		}
		if err := util.WriteFileAtomic(full, []byte(req.Content), 0o644); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}

		node := &Node{
			ID:           uuid.NewString(),
			Title:        titleFromName(name),
			Slug:         strings.TrimSuffix(name, filepath.Ext(name)),
			Path:         nodePath,
			SortOrder:    nextSortOrder(*siblings),
			IsPublic:     true,
			LastModified: timestamp(t.now()),
		}
		*siblings = append(*siblings, node)
		if err := t.persist(next); err != nil {
			_ = os.Remove(full)
			return nil, err
		}
		imported = node.Clone()
		return &Change{Op: "import", Paths: []string{nodePath}, Message: "Import " + nodePath}, nil
	})
	if err != nil {
		return nil, err
	}
	return imported, nil
}
