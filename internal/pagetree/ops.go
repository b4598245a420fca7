package pagetree

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"yaw/api/internal/util"
)

// Create adds a file or folder named name under parentPath ("" or "/" for
// the top level) and registers it in meta.json.
func (t *Tree) Create(ctx context.Context, parentPath, name, kind string) (*Node, error) {
	if err := validKind(kind); err != nil {
		return nil, err
	}
	if err := validName(name); err != nil {
		return nil, err
	}
	parentRel := ""
	if p := strings.Trim(parentPath, "/ "); p != "" {
		rel, err := cleanRel(parentPath)
		if err != nil {
			return nil, err
		}
		parentRel = rel
	}
	full := t.abs(path.Join(parentRel, name))

	var created *Node
	err := t.do(ctx, func(context.Context) (*Change, error) {
		if err := t.load(); err != nil {
			return nil, err
		}
		next := t.doc.clone()
		idx := buildIndex(next)

		siblings := &next.Pages
		nodePath := path.Join(parentRel, name)
		if parentRel != "" {
			parent, ok := idx.byPath[parentPath]
			if !ok {
				return nil, fmt.Errorf("%w: parent %s", ErrNotFound, parentPath)
			}
			siblings = &parent.Children
			nodePath = strings.TrimRight(parent.Path, "/") + "/" + name
		}

		if taken, err := exists(full); err != nil {
			return nil, fmt.Errorf("%w: stat target: %v", ErrInternal, err)
		} else if taken {
			return nil, fmt.Errorf("%w: %s", ErrConflict, name)
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create parent: %v", ErrInternal, err)
		}

		node := &Node{
			ID:           uuid.NewString(),
			Title:        name,
			Slug:         Slugify(strings.TrimSuffix(name, filepath.Ext(name))),
			Path:         nodePath,
			SortOrder:    nextSortOrder(*siblings),
			LastModified: timestamp(t.now()),
		}
		if kind == KindFolder {
			node.Children = []*Node{}
			if err := os.Mkdir(full, 0o755); err != nil {
				return nil, fmt.Errorf("%w: create folder: %v", ErrInternal, err)
			}
		} else {
			node.Title = strings.TrimSuffix(name, filepath.Ext(name))
			f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, fmt.Errorf("%w: create file: %v", ErrInternal, err)
			}
			_ = f.Close()
		}
		*siblings = append(*siblings, node)

		if err := t.persist(next); err != nil {
			_ = os.RemoveAll(full)
			return nil, err
		}
		created = node.Clone()
		return &Change{Op: "create", Paths: []string{nodePath}, Message: "Create " + nodePath}, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func nextSortOrder(siblings []*Node) int {
	next := 0
	for _, s := range siblings {
		if s != nil && s.SortOrder >= next {
			next = s.SortOrder + 1
		}
	}
	return next
}

// SoftDelete flags the page at path as deleted. The file stays on disk so
// the page can be restored.
func (t *Tree) SoftDelete(ctx context.Context, pagePath string) error {
	if _, err := cleanRel(pagePath); err != nil {
		return err
	}
	return t.do(ctx, func(context.Context) (*Change, error) {
		if err := t.load(); err != nil {
			return nil, err
		}
		next := t.doc.clone()
		node, ok := buildIndex(next).byPath[pagePath]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, pagePath)
		}
		if node.Deleted {
			return nil, nil
		}
		node.Deleted = true
		node.LastModified = timestamp(t.now())
		if err := t.persist(next); err != nil {
			return nil, err
		}
		return &Change{Op: "delete", Paths: subtreePaths(node), Message: "Delete " + pagePath}, nil
	})
}

type DeletedItem struct {
	Path  string `json:"path"`
	Title string `json:"title"`
}

// Deleted lists soft-deleted pages in document order.
func (t *Tree) Deleted(ctx context.Context) ([]DeletedItem, error) {
	items := make([]DeletedItem, 0)
	err := t.do(ctx, func(context.Context) (*Change, error) {
		if err := t.load(); err != nil {
			return nil, err
		}
		walk(t.doc.Pages, func(n *Node) {
			if n.Deleted {
				items = append(items, DeletedItem{Path: n.Path, Title: n.Title})
			}
		})
		return nil, nil
	})
	return items, err
}

// Restore clears the deleted flag on every page in paths. Nothing changes
// unless all paths resolve. A non-empty target moves the restored pages
// under that folder, or to the top level for RootTarget.
func (t *Tree) Restore(ctx context.Context, paths []string, target string) error {
	if len(paths) == 0 {
		return fmt.Errorf("%w: no items to restore", ErrInvalidInput)
	}
	return t.do(ctx, func(context.Context) (*Change, error) {
		if err := t.load(); err != nil {
			return nil, err
		}
		prev := t.doc
		next := prev.clone()
		idx := buildIndex(next)
		nodes := make([]*Node, 0, len(paths))
		for _, p := range paths {
			node, ok := idx.byPath[p]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
			}
			nodes = append(nodes, node)
		}
		var folder *Node
		if target != "" && target != RootTarget {
			var ok bool
			if folder, ok = idx.byPath[target]; !ok {
				return nil, fmt.Errorf("%w: target %s", ErrNotFound, target)
			}
		}

		stamp := timestamp(t.now())
		var changed []string
		var steps []diskMove
		for _, node := range nodes {
			node.Deleted = false
			node.LastModified = stamp
			changed = append(changed, subtreePaths(node)...)
			if target == "" {
				continue
			}
			step, err := t.relocate(next, idx, node, folder)
			if err != nil {
				return nil, err
			}
			if step != nil {
				steps = append(steps, *step)
			}
			changed = append(changed, subtreePaths(node)...)
		}
		if err := t.commitMoves(prev, next, steps); err != nil {
			return nil, err
		}
		return &Change{Op: "restore", Paths: uniquePaths(changed...), Message: fmt.Sprintf("Restore %d item(s)", len(paths))}, nil
	})
}

// SwapRequest exchanges the sort order of two sibling pages.
type SwapRequest struct {
	ID            string `json:"id"`
	NewSortOrder  int    `json:"newSortOrder"`
	SwapID        string `json:"swapId"`
	SwapSortOrder int    `json:"swapSortOrder"`
	ParentID      string `json:"parentId"`
}

// SwapSortOrder applies both sort orders. With a ParentID both pages must
// be children of that parent; otherwise they are looked up anywhere.
func (t *Tree) SwapSortOrder(ctx context.Context, req SwapRequest) error {
	if req.ID == "" || req.SwapID == "" {
		return fmt.Errorf("%w: id and swapId are required", ErrInvalidInput)
	}
	return t.do(ctx, func(context.Context) (*Change, error) {
		if err := t.load(); err != nil {
			return nil, err
		}
		next := t.doc.clone()
		idx := buildIndex(next)

		var target, swap *Node
		if req.ParentID != "" {
			parent, ok := idx.byID[req.ParentID]
			if !ok {
				return nil, fmt.Errorf("%w: parent %s", ErrNotFound, req.ParentID)
			}
			for _, child := range parent.Children {
				switch {
				case child == nil:
				case child.ID == req.ID && target == nil:
					target = child
				case child.ID == req.SwapID && swap == nil:
					swap = child
				}
			}
		} else {
			target, swap = idx.byID[req.ID], idx.byID[req.SwapID]
		}
		if target == nil || swap == nil {
			return nil, fmt.Errorf("%w: both pages must exist", ErrNotFound)
		}

		target.SortOrder = req.NewSortOrder
		swap.SortOrder = req.SwapSortOrder
		if err := t.persist(next); err != nil {
			return nil, err
		}
		return &Change{Op: "reorder", Paths: []string{target.Path, swap.Path}, Message: "Reorder " + target.Path}, nil
	})
}

// ReadFile returns the content of the docs file at pagePath as a signed-in
// caller sees it.
func (t *Tree) ReadFile(ctx context.Context, pagePath string) (string, error) {
	return t.ReadPage(ctx, pagePath, true)
}

// ReadPage returns the content of the docs file at pagePath. Pages hidden
// from the caller are reported as not found.
func (t *Tree) ReadPage(ctx context.Context, pagePath string, signedIn bool) (string, error) {
	rel, err := cleanRel(pagePath)
	if err != nil {
		return "", err
	}
	view, err := t.Visibility(ctx, signedIn)
	if err != nil {
		return "", err
	}
	if !view.Allows(rel) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, pagePath)
	}
	full := t.abs(rel)
	info, err := os.Stat(full)
	if isNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, pagePath)
	}
	if err != nil {
		return "", fmt.Errorf("%w: stat %s: %v", ErrInternal, pagePath, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a folder", ErrInvalidInput, pagePath)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrInternal, pagePath, err)
	}
	return string(data), nil
}

// WriteFile saves content to newPath. When oldPath differs, the page entry
// moves to newPath and the old file is removed.
func (t *Tree) WriteFile(ctx context.Context, oldPath, newPath, content string) error {
	newRel, err := cleanRel(newPath)
	if err != nil {
		return err
	}
	if oldPath == "" {
		oldPath = newPath
	}
	oldRel, err := cleanRel(oldPath)
	if err != nil {
		return err
	}

	return t.do(ctx, func(context.Context) (*Change, error) {
		if err := t.load(); err != nil {
			return nil, err
		}
		if info, err := os.Stat(t.abs(newRel)); err == nil && info.IsDir() {
			return nil, fmt.Errorf("%w: %s is a folder", ErrInvalidInput, newPath)
		}
		if err := util.WriteFileAtomic(t.abs(newRel), []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}

		paths := []string{newPath}
		next := t.doc.clone()
		node, tracked := buildIndex(next).byPath[oldPath]
		if oldRel != newRel {
			paths = append(paths, oldPath)
			if err := os.Remove(t.abs(oldRel)); err != nil && !isNotExist(err) {
				t.logger.Warn("remove old page file", zap.String("path", oldPath), zap.Error(err))
			}
			if tracked {
				node.Path = newPath
			}
		}
		if tracked {
			node.LastModified = timestamp(t.now())
			if err := t.persist(next); err != nil {
				return nil, err
			}
		}
		return &Change{Op: "write", Paths: paths, Message: "Update " + newPath}, nil
	})
}

// FileEntry is one item of the docs directory listing.
type FileEntry struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Path     string      `json:"path"`
	Children []FileEntry `json:"children,omitempty"`
}

// Snapshot lists folders and Markdown pages under the docs root that the
// caller may see. Hidden entries such as the history repository are
// skipped.
func (t *Tree) Snapshot(ctx context.Context, signedIn bool) ([]FileEntry, error) {
	view, err := t.Visibility(ctx, signedIn)
	if err != nil {
		return nil, err
	}
	entries, err := t.listDir(t.root, "", view)
	if err != nil {
		return nil, fmt.Errorf("%w: list docs: %v", ErrInternal, err)
	}
	return entries, nil
}

func (t *Tree) listDir(dir, rel string, view *Visibility) ([]FileEntry, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]FileEntry, 0, len(items))
	for _, item := range items {
		name := item.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		itemRel := path.Join(rel, name)
		switch {
		case item.IsDir():
			children, err := t.listDir(filepath.Join(dir, name), itemRel, view)
			if err != nil {
				return nil, err
			}
			if len(children) == 0 && !view.Allows(itemRel) {
				continue
			}
			out = append(out, FileEntry{Name: name, Type: KindFolder, Path: itemRel, Children: children})
		case IsPageFile(name) && view.Allows(itemRel):
			out = append(out, FileEntry{Name: name, Type: KindFile, Path: itemRel})
		}
	}
	return out, nil
}

// IsPageFile reports whether name is a Markdown page.
func IsPageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".mdx" || ext == ".md"
}
