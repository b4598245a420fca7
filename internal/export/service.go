package export

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// Source loads page content from the working tree.
type Source interface {
	ReadFile(ctx context.Context, path string) (string, error)
}

// History loads page content as of a past revision.
type History interface {
	FileAt(hash, path string) (string, error)
}

type renderer func(ctx context.Context, html, title string) (*Result, error)

// Service provides page export functionality.
type Service struct {
	source    Source
	history   History
	now       func() time.Time
	renderers map[Format]renderer
}

// NewService creates a new export service. history may be nil, in which
// case only the working copy can be exported.
func NewService(source Source, history History) *Service {
	return &Service{
		source:  source,
		history: history,
		now:     time.Now,
		renderers: map[Format]renderer{
			FormatPDF:  exportPDF,
			FormatDOCX: exportDOCX,
		},
	}
}

// Load fetches the page source for req without rendering it.
func (s *Service) Load(ctx context.Context, req Request) (Page, error) {
	version := strings.TrimSpace(req.Version)
	var (
		content string
		err     error
	)
	if version == "" || version == "latest" {
		version = "latest"
		content, err = s.source.ReadFile(ctx, req.Path)
	} else {
		if s.history == nil {
			return Page{}, fmt.Errorf("%w: history is not available", ErrContentUnavailable)
		}
		content, err = s.history.FileAt(version, req.Path)
	}
	if err != nil {
		return Page{}, fmt.Errorf("%w: %w", ErrContentUnavailable, err)
	}
	return Page{
		Path:      req.Path,
		Title:     titleOf(req.Path, content),
		Markdown:  content,
		Version:   version,
		UpdatedAt: s.now(),
	}, nil
}

// Export generates an export in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	render, ok := s.renderers[req.Format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	page, err := s.Load(ctx, req)
	if err != nil {
		return nil, err
	}
	body, err := MarkdownToHTML(page.Markdown)
	if err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}

	html, err := RenderDocumentHTML(TemplateData{
		Title:       page.Title,
		Path:        page.Path,
		Version:     page.Version,
		ContentHTML: template.HTML(body),
		UpdatedAt:   page.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	return render(ctx, html, page.Title)
}
