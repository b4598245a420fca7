package pagetree

import (
	"context"
	"path"
	"strings"
)

// Visibility decides which docs paths a caller may see. Deleted pages and
// everything below them are hidden from everyone. Anonymous callers only
// see pages that meta.json marks public, and only when no ancestor is
// hidden.
type Visibility struct {
	signedIn bool
	visible  map[string]bool
}

// Allows reports whether the page or folder at rel is visible.
func (v *Visibility) Allows(rel string) bool {
	rel = strings.Trim(rel, "/")
	visible, tracked := v.visible[rel]
	if tracked && !visible {
		return false
	}
	if !tracked && !v.signedIn {
		return false
	}
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if visible, ok := v.visible[dir]; ok && !visible {
			return false
		}
	}
	return true
}

func newVisibility(doc *Document, signedIn bool) *Visibility {
	v := &Visibility{signedIn: signedIn, visible: make(map[string]bool)}
	var visit func(nodes []*Node, hidden bool)
	visit = func(nodes []*Node, hidden bool) {
		for _, n := range nodes {
			if n == nil {
				continue
			}
			h := hidden || n.Deleted || (!signedIn && !n.IsPublic)
			key := strings.Trim(n.Path, "/")
			if _, seen := v.visible[key]; !seen {
				v.visible[key] = !h
			}
			visit(n.Children, h)
		}
	}
	visit(doc.Pages, false)
	return v
}

// Visibility returns the view of the current document for a signed-in or
// anonymous caller.
func (t *Tree) Visibility(ctx context.Context, signedIn bool) (*Visibility, error) {
	var out *Visibility
	err := t.do(ctx, func(context.Context) (*Change, error) {
		if err := t.load(); err != nil {
			return nil, err
		}
		out = newVisibility(t.doc, signedIn)
		return nil, nil
	})
	return out, err
}

// Pages returns the meta.json page tree as the caller may see it, with
// hidden nodes and their subtrees removed.
func (t *Tree) Pages(ctx context.Context, signedIn bool) ([]*Node, error) {
	var out []*Node
	err := t.do(ctx, func(context.Context) (*Change, error) {
		if err := t.load(); err != nil {
			return nil, err
		}
		out = prune(t.doc.clone().Pages, signedIn)
		return nil, nil
	})
	return out, err
}

func prune(nodes []*Node, signedIn bool) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n == nil || n.Deleted || (!signedIn && !n.IsPublic) {
			continue
		}
		if n.Children != nil {
			n.Children = prune(n.Children, signedIn)
		}
		out = append(out, n)
	}
	return out
}
