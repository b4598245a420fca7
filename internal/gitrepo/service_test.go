package gitrepo

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func writeDoc(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestDocsHistoryLifecycle(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "meta.json", `{"pages": []}`)
	writeDoc(t, dir, "guide/intro.mdx", "# Intro")

	svc := New(dir)
	if err := svc.Init("Avery"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := svc.Init("Avery"); err != nil {
		t.Fatalf("second Init() error = %v", err)
	}

	writeDoc(t, dir, "guide/intro.mdx", "# Intro\n\nMore words.")
	commit, err := svc.CommitAll("Avery", "Update guide/intro.mdx")
	if err != nil {
		t.Fatalf("CommitAll() error = %v", err)
	}
	if commit.Hash == "" || commit.Message != "Update guide/intro.mdx" {
		t.Fatalf("unexpected commit: %+v", commit)
	}

	writeDoc(t, dir, "about.mdx", "# About")
	if _, err := svc.CommitAll("Blake", "Create about.mdx"); err != nil {
		t.Fatalf("CommitAll() error = %v", err)
	}

	history, err := svc.History("guide/intro.mdx", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected baseline and update for intro, got %d entries", len(history))
	}
	if history[0].Message != "Update guide/intro.mdx" {
		t.Fatalf("newest entry = %q", history[0].Message)
	}

	folder, err := svc.History("guide", 0)
	if err != nil {
		t.Fatalf("History(folder) error = %v", err)
	}
	if len(folder) != 2 {
		t.Fatalf("expected folder history of 2, got %d", len(folder))
	}

	all, err := svc.History("", 1)
	if err != nil {
		t.Fatalf("History(all) error = %v", err)
	}
	if len(all) != 1 || all[0].Author != "Blake" {
		t.Fatalf("unexpected limited history: %+v", all)
	}

	content, err := svc.FileAt(history[1].Hash, "guide/intro.mdx")
	if err != nil {
		t.Fatalf("FileAt() error = %v", err)
	}
	if content != "# Intro" {
		t.Fatalf("FileAt() = %q, want baseline content", content)
	}
}

func TestCommitAllStagesDeletionsAndRenames(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "old.mdx", "# Old")
	svc := New(dir)
	if err := svc.Init(""); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if err := os.Rename(filepath.Join(dir, "old.mdx"), filepath.Join(dir, "new.mdx")); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := svc.CommitAll("Avery", "Rename old.mdx to new.mdx"); err != nil {
		t.Fatalf("CommitAll() error = %v", err)
	}

	if _, err := svc.CommitAll("Avery", "noop"); !errors.Is(err, ErrNoChanges) {
		t.Fatalf("expected ErrNoChanges on a clean tree, got %v", err)
	}

	history, err := svc.History("old.mdx", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected create and removal of old.mdx, got %d", len(history))
	}
	if _, err := svc.FileAt("HEAD", "old.mdx"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old.mdx should be gone at HEAD, got %v", err)
	}
}

func TestConcurrentCommitsAreSerialized(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir)
	if err := svc.Init("Avery"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := filepath.Join(dir, "page"+string(rune('a'+i))+".mdx")
			_ = os.WriteFile(name, []byte("x"), 0o644)
			if _, err := svc.CommitAll("Avery", "write"); err != nil && !errors.Is(err, ErrNoChanges) {
				t.Errorf("CommitAll() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if _, err := svc.CommitAll("Avery", "final"); err != nil && !errors.Is(err, ErrNoChanges) {
		t.Fatalf("final CommitAll() error = %v", err)
	}
	all, err := svc.History("", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(all) < 2 {
		t.Fatalf("expected at least baseline plus one commit, got %d", len(all))
	}
}

func TestSanitizeEmail(t *testing.T) {
	if got := sanitizeEmail("Ada Lovelace"); got != "ada.lovelace" {
		t.Fatalf("sanitizeEmail() = %q", got)
	}
	if got := sanitizeEmail("!!!"); got != "user" {
		t.Fatalf("sanitizeEmail() = %q", got)
	}
}
