package pagetree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const (
	KindFile   = "file"
	KindFolder = "folder"
)

func validKind(kind string) error {
	if kind != KindFile && kind != KindFolder {
		return fmt.Errorf("%w: type must be %q or %q", ErrInvalidInput, KindFile, KindFolder)
	}
	return nil
}

// Rename renames the page at oldPath to newName. The first node in document
// order whose path equals oldPath gets title newName, a fresh slug and a
// path whose trailing oldName segment is replaced. meta.json is written
// first, then the docs entry is moved within its directory. If the move
// fails the previous meta.json is restored.
func (t *Tree) Rename(ctx context.Context, oldPath, newName, kind string) (*Node, error) {
	if strings.TrimSpace(oldPath) == "" || strings.TrimSpace(newName) == "" || kind == "" {
		return nil, fmt.Errorf("%w: oldPath, newName and type are required", ErrInvalidInput)
	}
	if err := validKind(kind); err != nil {
		return nil, err
	}
	if err := validName(newName); err != nil {
		return nil, err
	}
	rel, err := cleanRel(oldPath)
	if err != nil {
		return nil, err
	}
	oldFull := t.abs(rel)
	newFull := filepath.Join(filepath.Dir(oldFull), newName)

	var renamed *Node
	err = t.do(ctx, func(context.Context) (*Change, error) {
		if err := t.load(); err != nil {
			return nil, err
		}
		if _, ok := t.idx.byPath[oldPath]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, oldPath)
		}
		if taken, err := exists(newFull); err != nil {
			return nil, fmt.Errorf("%w: stat target: %v", ErrInternal, err)
		} else if taken {
			return nil, fmt.Errorf("%w: %s", ErrConflict, newName)
		}
		if info, err := os.Stat(oldFull); err == nil && info.IsDir() != (kind == KindFolder) {
			return nil, fmt.Errorf("%w: %s is not a %s", ErrInvalidInput, oldPath, kind)
		}

		prev := t.doc
		next := prev.clone()
		node := buildIndex(next).byPath[oldPath]

		before := subtreePaths(node)
		oldName := lastSegment(oldPath)
		newPath := replaceTrailing(node.Path, oldName, newName)
		node.Title = newName
		node.Slug = Slugify(newName)
		node.Path = newPath
		node.LastModified = timestamp(t.now())
		if kind == KindFolder {
			rebaseChildren(node.Children, oldPath+"/", newPath+"/")
		}

		if err := t.persist(next); err != nil {
			return nil, err
		}
		if err := os.Rename(oldFull, newFull); err != nil {
			if rbErr := t.persist(prev); rbErr != nil {
				t.logger.Error("restore meta.json after failed rename",
					zap.String("path", oldPath), zap.Error(rbErr))
			}
			return nil, fmt.Errorf("%w: move %s: %v", ErrInternal, oldPath, err)
		}

		renamed = node.Clone()
		t.logger.Info("page renamed", zap.String("from", oldPath), zap.String("to", newPath))
		return &Change{
			Op:      "rename",
			Paths:   uniquePaths(append(before, subtreePaths(node)...)...),
			Message: fmt.Sprintf("Rename %s to %s", oldPath, newName),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return renamed, nil
}

func lastSegment(p string) string {
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// replaceTrailing replaces the last occurrence of old in p.
func replaceTrailing(p, old, replacement string) string {
	i := strings.LastIndex(p, old)
	if i < 0 || old == "" {
		return p
	}
	return p[:i] + replacement + p[i+len(old):]
}

// rebaseChildren moves descendant paths from one folder prefix to another so
// they keep resolving after the folder itself is renamed.
func rebaseChildren(nodes []*Node, oldPrefix, newPrefix string) {
	walk(nodes, func(n *Node) {
		if strings.HasPrefix(n.Path, oldPrefix) {
			n.Path = newPrefix + strings.TrimPrefix(n.Path, oldPrefix)
		}
	})
}
