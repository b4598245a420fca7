package search

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Files searches page sources directly on disk. It is always available and
// serves as the fallback when Meilisearch is down or not configured.
type Files struct {
	root string
}

func NewFiles(root string) *Files {
	return &Files{root: root}
}

func (f *Files) Healthy() bool { return true }

// Search returns every page whose content contains term, case-insensitively.
func (f *Files) Search(ctx context.Context, term string, limit int) ([]Result, error) {
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return nil, ErrEmptyTerm
	}
	pages, err := f.Pages(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0)
	for _, page := range pages {
		lower := strings.ToLower(page.Content)
		idx := strings.Index(lower, needle)
		if idx < 0 {
			continue
		}
		result := page.result()
		result.Snippet = snippet(page.Content, idx, len(needle))
		results = append(results, result)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Pages loads every page file under the root, sorted by path.
func (f *Files) Pages(ctx context.Context) ([]PageRecord, error) {
	pages := make([]PageRecord, 0)
	err := filepath.WalkDir(f.root, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if full != f.root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !isPage(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(f.root, full)
		if err != nil {
			return err
		}
		page, err := f.Load(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		pages = append(pages, page)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Path < pages[j].Path })
	return pages, nil
}

// Load reads a single page by its docs-relative path.
func (f *Files) Load(rel string) (PageRecord, error) {
	raw, err := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(rel)))
	if err != nil {
		return PageRecord{}, err
	}
	content := string(raw)
	name := baseName(rel)
	return PageRecord{
		ID:      DocumentID(rel),
		Path:    rel,
		Name:    name,
		Title:   firstHeading(content, name),
		Content: content,
	}, nil
}

// DocumentID derives a stable index key from a page path. Meilisearch ids may
// only contain alphanumerics, hyphens and underscores.
func DocumentID(rel string) string {
	sum := sha1.Sum([]byte(rel))
	return hex.EncodeToString(sum[:])
}

func isPage(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".mdx" || ext == ".md"
}

func fullName(rel string) string {
	return path.Base(rel)
}

func baseName(rel string) string {
	base := path.Base(rel)
	return strings.TrimSuffix(base, path.Ext(base))
}

func firstHeading(content, fallback string) string {
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return fallback
}

func snippet(content string, idx, n int) string {
	const radius = 60
	start := idx - radius
	if start < 0 {
		start = 0
	}
	end := idx + n + radius
	if end > len(content) {
		end = len(content)
	}
	// keep rune boundaries intact
	for start > 0 && !isRuneStart(content[start]) {
		start--
	}
	for end < len(content) && !isRuneStart(content[end]) {
		end++
	}
	out := strings.Join(strings.Fields(content[start:end]), " ")
	if start > 0 {
		out = "…" + out
	}
	if end < len(content) {
		out += "…"
	}
	return out
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
