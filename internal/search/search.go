package search

import (
	"context"
	"errors"
)

var ErrEmptyTerm = errors.New("search term is required")

// Result is a single page hit returned to the caller.
type Result struct {
	Name     string `json:"name"`
	FullName string `json:"fullName"`
	Path     string `json:"path"`
	Title    string `json:"title,omitempty"`
	Snippet  string `json:"snippet,omitempty"`
}

// PageRecord is the data we index for a page.
type PageRecord struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	Name    string `json:"name"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Searcher can execute a full-text search over pages.
type Searcher interface {
	Search(ctx context.Context, term string, limit int) ([]Result, error)
	Healthy() bool
}

// Policy decides which page paths a caller may see.
type Policy interface {
	Allows(path string) bool
}

// Filter drops the results policy does not allow. A nil policy allows
// everything.
func Filter(results []Result, policy Policy) []Result {
	if policy == nil {
		return results
	}
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if policy.Allows(r.Path) {
			out = append(out, r)
		}
	}
	return out
}

func (p PageRecord) result() Result {
	return Result{
		Name:     p.Name,
		FullName: fullName(p.Path),
		Path:     p.Path,
		Title:    p.Title,
	}
}
