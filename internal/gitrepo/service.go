// Package gitrepo records every docs change as a commit in a git repository
// rooted at the docs directory.
package gitrepo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

var (
	ErrNoChanges = errors.New("nothing to commit")
	ErrNotFound  = errors.New("revision or path not found")
)

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Paths     []string  `json:"paths,omitempty"`
}

type Service struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

func New(dir string) *Service {
	return &Service{dir: dir, now: time.Now}
}

// Init opens the repository, creating it with a baseline commit of the
// current docs when it does not exist yet.
func (s *Service) Init(author string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := git.PlainOpen(s.dir); err == nil {
		return nil
	} else if !errors.Is(err, git.ErrRepositoryNotExists) {
		return fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(s.dir, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}
	if _, err := s.commit(repo, author, "Import docs baseline", true); err != nil {
		return err
	}
	return nil
}

// CommitAll stages every change in the docs directory, deletions included,
// and commits it. ErrNoChanges is returned when the tree is clean.
func (s *Service) CommitAll(author, message string) (CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.dir)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}
	hash, err := s.commit(repo, author, message, false)
	if err != nil {
		return CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History lists commits touching pagePath (a file or a folder prefix),
// newest first. An empty pagePath lists every commit.
func (s *Service) History(pagePath string, limit int) ([]CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.dir)
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	opts := &git.LogOptions{From: head.Hash()}
	pagePath = strings.Trim(pagePath, "/")
	if pagePath != "" {
		opts.PathFilter = func(p string) bool {
			return p == pagePath || strings.HasPrefix(p, pagePath+"/")
		}
	}
	iter, err := repo.Log(opts)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// FileAt returns the content of pagePath as of the given commit.
func (s *Service) FileAt(hash, pagePath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.dir)
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return "", err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: commit %s", ErrNotFound, hash)
	}
	file, err := commitObj.File(strings.Trim(pagePath, "/"))
	if err != nil {
		return "", fmt.Errorf("%w: %s at %s", ErrNotFound, pagePath, hash)
	}
	return file.Contents()
}

func (s *Service) commit(repo *git.Repository, author, message string, allowEmpty bool) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("read status: %w", err)
	}
	if status.IsClean() && !allowEmpty {
		return plumbing.ZeroHash, ErrNoChanges
	}

	paths := make([]string, 0, len(status))
	for p := range status {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if status[p].Worktree == git.Deleted {
			if _, err := worktree.Remove(p); err != nil {
				return plumbing.ZeroHash, fmt.Errorf("git rm %s: %w", p, err)
			}
			continue
		}
		if _, err := worktree.Add(p); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("git add %s: %w", p, err)
		}
	}

	if author == "" {
		author = "yaw"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: allowEmpty,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@yaw.local", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit docs: %w", err)
	}
	return hash, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	info := CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
	if stats, err := commitObj.Stats(); err == nil {
		for _, st := range stats {
			info.Paths = append(info.Paths, st.Name)
		}
	}
	return info
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range strings.ToLower(input) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			out = append(out, r)
		case r == ' ' || r == '-' || r == '_' || r == '.':
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return plumbing.ZeroHash, fmt.Errorf("%w: empty revision", ErrNotFound)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: revision %s", ErrNotFound, hash)
	}
	return *resolved, nil
}
