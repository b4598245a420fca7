package pagetree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// RootTarget moves restored pages to the top level.
const RootTarget = "root"

type diskMove struct {
	from, to string
}

// Move detaches the page at sourcePath from its siblings and appends it to
// the children of the folder at targetPath, or to the top level when toRoot
// is set. The docs entry follows on disk.
func (t *Tree) Move(ctx context.Context, sourcePath, targetPath string, toRoot bool) (*Node, error) {
	if _, err := cleanRel(sourcePath); err != nil {
		return nil, err
	}
	if !toRoot {
		if _, err := cleanRel(targetPath); err != nil {
			return nil, err
		}
	}

	var moved *Node
	err := t.do(ctx, func(context.Context) (*Change, error) {
		if err := t.load(); err != nil {
			return nil, err
		}
		prev := t.doc
		next := prev.clone()
		idx := buildIndex(next)

		node, ok := idx.byPath[sourcePath]
		if !ok {
			return nil, fmt.Errorf("%w: source %s", ErrNotFound, sourcePath)
		}
		var target *Node
		if !toRoot {
			if target, ok = idx.byPath[targetPath]; !ok {
				return nil, fmt.Errorf("%w: target %s", ErrNotFound, targetPath)
			}
		}
		before := subtreePaths(node)
		step, err := t.relocate(next, idx, node, target)
		if err != nil {
			return nil, err
		}
		var steps []diskMove
		if step != nil {
			steps = append(steps, *step)
		}
		if err := t.commitMoves(prev, next, steps); err != nil {
			return nil, err
		}

		moved = node.Clone()
		t.logger.Info("page moved", zap.String("from", sourcePath), zap.String("to", node.Path))
		return &Change{
			Op:      "move",
			Paths:   uniquePaths(append(before, subtreePaths(node)...)...),
			Message: fmt.Sprintf("Move %s to %s", sourcePath, node.Path),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// relocate moves node under target (nil for the top level) inside doc and
// returns the disk rename it needs, if any.
func (t *Tree) relocate(doc *Document, idx *index, node, target *Node) (*diskMove, error) {
	if target != nil {
		if target == node || strings.HasPrefix(target.Path, node.Path+"/") || within(node, target) {
			return nil, fmt.Errorf("%w: cannot move %s into itself", ErrInvalidInput, node.Path)
		}
		if info, err := os.Stat(t.abs(target.Path)); err == nil && !info.IsDir() {
			return nil, fmt.Errorf("%w: %s is not a folder", ErrInvalidInput, target.Path)
		}
	}

	oldPath := node.Path
	newPath := lastSegment(oldPath)
	if target != nil {
		newPath = strings.TrimRight(target.Path, "/") + "/" + newPath
	}
	if newPath != oldPath {
		if other, ok := idx.byPath[newPath]; ok && other != node {
			return nil, fmt.Errorf("%w: %s", ErrConflict, newPath)
		}
		if taken, err := exists(t.abs(newPath)); err != nil {
			return nil, fmt.Errorf("%w: stat target: %v", ErrInternal, err)
		} else if taken {
			return nil, fmt.Errorf("%w: %s", ErrConflict, newPath)
		}
	}

	detach(doc, idx.parent[node], node)
	siblings := &doc.Pages
	if target != nil {
		siblings = &target.Children
	}
	node.SortOrder = nextSortOrder(*siblings)
	*siblings = append(*siblings, node)
	idx.parent[node] = target

	node.LastModified = timestamp(t.now())
	if newPath == oldPath {
		return nil, nil
	}
	node.Path = newPath
	rebaseChildren(node.Children, oldPath+"/", newPath+"/")
	delete(idx.byPath, oldPath)
	idx.byPath[newPath] = node

	from := t.abs(oldPath)
	if ok, _ := exists(from); !ok {
		return nil, nil
	}
	return &diskMove{from: from, to: t.abs(newPath)}, nil
}

// commitMoves writes next and then applies the disk renames in order. On
// failure the renames already made are undone and prev is written back.
func (t *Tree) commitMoves(prev, next *Document, steps []diskMove) error {
	if err := t.persist(next); err != nil {
		return err
	}
	for i, step := range steps {
		err := os.MkdirAll(filepath.Dir(step.to), 0o755)
		if err == nil {
			err = os.Rename(step.from, step.to)
		}
		if err == nil {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			if undoErr := os.Rename(steps[j].to, steps[j].from); undoErr != nil {
				t.logger.Error("undo page move", zap.String("path", steps[j].to), zap.Error(undoErr))
			}
		}
		if rbErr := t.persist(prev); rbErr != nil {
			t.logger.Error("restore meta.json after failed move", zap.Error(rbErr))
		}
		return fmt.Errorf("%w: move %s: %v", ErrInternal, step.from, err)
	}
	return nil
}

func detach(doc *Document, parent, node *Node) {
	siblings := &doc.Pages
	if parent != nil {
		siblings = &parent.Children
	}
	for i, s := range *siblings {
		if s == node {
			*siblings = append((*siblings)[:i:i], (*siblings)[i+1:]...)
			return
		}
	}
}

// within reports whether target sits somewhere below node.
func within(node, target *Node) bool {
	found := false
	walk(node.Children, func(n *Node) {
		if n == target {
			found = true
		}
	})
	return found
}

func uniquePaths(paths ...string) []string {
	out := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
