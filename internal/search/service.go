package search

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Index is the write side of a search backend.
type Index interface {
	Healthy() bool
	IndexPages(pages []PageRecord) error
	DeletePage(id string) error
}

// Service tries the index first and falls back to scanning files on disk.
type Service struct {
	primary  Searcher
	index    Index
	files    *Files
	logger   *zap.Logger
	scope    func(ctx context.Context) (Policy, error)
	inFlight sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, files *Files, logger *zap.Logger) *Service {
	s := &Service{files: files, logger: zap.NewNop()}
	if logger != nil {
		s.logger = logger.Named("search")
	}
	if meili != nil {
		s.primary = meili
		s.index = meili
	}
	return s
}

func (s *Service) withBackend(primary Searcher, index Index) *Service {
	s.primary = primary
	s.index = index
	return s
}

// SetScope limits what is indexed to the pages scope allows. Pages outside
// it are removed from the index on the next sync.
func (s *Service) SetScope(scope func(ctx context.Context) (Policy, error)) {
	s.scope = scope
}

// Search runs term against the index or the files and keeps only results
// policy allows.
func (s *Service) Search(ctx context.Context, term string, policy Policy) ([]Result, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, ErrEmptyTerm
	}
	if s.primary != nil && s.primary.Healthy() {
		results, err := s.primary.Search(ctx, term, 0)
		if err == nil {
			return Filter(results, policy), nil
		}
		s.logger.Warn("index search failed, falling back to files", zap.Error(err))
	}
	results, err := s.files.Search(ctx, term, 0)
	if err != nil {
		return nil, err
	}
	return Filter(results, policy), nil
}

func (s *Service) indexScope(ctx context.Context) (Policy, error) {
	if s.scope == nil {
		return nil, nil
	}
	return s.scope(ctx)
}

// Sync pushes the current state of the given page paths to the index in the
// background: existing pages are upserted, missing ones removed.
func (s *Service) Sync(paths []string) {
	if s.index == nil || !s.index.Healthy() || len(paths) == 0 {
		return
	}
	paths = append([]string(nil), paths...)
	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		s.sync(paths)
	}()
}

func (s *Service) sync(paths []string) {
	scope, err := s.indexScope(context.Background())
	if err != nil {
		s.logger.Warn("resolve index scope", zap.Error(err))
		return
	}
	upserts := make([]PageRecord, 0, len(paths))
	for _, p := range paths {
		if !isPage(p) {
			continue
		}
		page, err := s.files.Load(p)
		if errors.Is(err, os.ErrNotExist) || (err == nil && scope != nil && !scope.Allows(p)) {
			if err := s.index.DeletePage(DocumentID(p)); err != nil {
				s.logger.Warn("delete page from index", zap.String("path", p), zap.Error(err))
			}
			continue
		}
		if err != nil {
			s.logger.Warn("load page for index", zap.String("path", p), zap.Error(err))
			continue
		}
		upserts = append(upserts, page)
	}
	if err := s.index.IndexPages(upserts); err != nil {
		s.logger.Warn("index pages", zap.Int("count", len(upserts)), zap.Error(err))
	}
}

// ReindexAll loads every page from disk and pushes it to the index. It
// returns the number of pages sent.
func (s *Service) ReindexAll(ctx context.Context) (int, error) {
	if s.index == nil || !s.index.Healthy() {
		return 0, nil
	}
	pages, err := s.files.Pages(ctx)
	if err != nil {
		return 0, err
	}
	scope, err := s.indexScope(ctx)
	if err != nil {
		return 0, err
	}
	if scope != nil {
		kept := pages[:0]
		for _, page := range pages {
			if scope.Allows(page.Path) {
				kept = append(kept, page)
			} else if err := s.index.DeletePage(page.ID); err != nil {
				s.logger.Warn("delete page from index", zap.String("path", page.Path), zap.Error(err))
			}
		}
		pages = kept
	}
	if err := s.index.IndexPages(pages); err != nil {
		return 0, err
	}
	return len(pages), nil
}

// Wait blocks until background index updates have finished.
func (s *Service) Wait() {
	s.inFlight.Wait()
}
