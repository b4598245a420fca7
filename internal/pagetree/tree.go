package pagetree

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"yaw/api/internal/util"
)

type Config struct {
	DocsDir string
	// MetaFile defaults to DocsDir/meta.json.
	MetaFile string
	Now      func() time.Time
	Logger   *zap.Logger
}

// Change describes a committed mutation. Paths lists the docs-relative
// paths whose content or metadata changed.
type Change struct {
	Op      string
	Paths   []string
	Message string
}

// ChangeHook runs on the writer goroutine after a mutation is persisted. It
// must not call back into the Tree.
type ChangeHook func(ctx context.Context, change Change)

type request struct {
	ctx   context.Context
	fn    func(ctx context.Context) (*Change, error)
	reply chan error
}

// Tree serialises every meta.json access through a single goroutine. The
// decoded document and its indexes are only touched by that goroutine.
type Tree struct {
	root     string
	metaPath string
	now      func() time.Time
	logger   *zap.Logger

	requests  chan request
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	hooksMu sync.RWMutex
	hooks   []ChangeHook

	// owned by the writer goroutine
	doc    *Document
	idx    *index
	digest [sha256.Size]byte
}

// Open prepares the docs directory, creates an empty meta.json when none
// exists and starts the writer goroutine. Callers must Close the tree.
func Open(cfg Config) (*Tree, error) {
	if cfg.DocsDir == "" {
		return nil, fmt.Errorf("%w: docs dir is required", ErrInvalidInput)
	}
	root, err := filepath.Abs(cfg.DocsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve docs dir: %w", err)
	}
	metaPath := cfg.MetaFile
	if metaPath == "" {
		metaPath = filepath.Join(root, "meta.json")
	}
	if metaPath, err = filepath.Abs(metaPath); err != nil {
		return nil, fmt.Errorf("resolve meta file: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create docs dir: %w", err)
	}
	if ok, err := exists(metaPath); err != nil {
		return nil, fmt.Errorf("stat meta file: %w", err)
	} else if !ok {
		data, _ := encode(&Document{})
		if err := util.WriteFileAtomic(metaPath, data, 0o644); err != nil {
			return nil, fmt.Errorf("create meta file: %w", err)
		}
	}

	t := &Tree{
		root:     root,
		metaPath: metaPath,
		now:      cfg.Now,
		logger:   cfg.Logger,
		requests: make(chan request),
		done:     make(chan struct{}),
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}

	t.wg.Add(1)
	go t.run()
	return t, nil
}

// Root is the absolute docs directory.
func (t *Tree) Root() string { return t.root }

// MetaPath is the absolute path of meta.json.
func (t *Tree) MetaPath() string { return t.metaPath }

// OnChange registers a hook for committed mutations.
func (t *Tree) OnChange(hook ChangeHook) {
	t.hooksMu.Lock()
	defer t.hooksMu.Unlock()
	t.hooks = append(t.hooks, hook)
}

// Close stops the writer and any watcher and waits for them to exit.
func (t *Tree) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	t.wg.Wait()
	return nil
}

func (t *Tree) run() {
	defer t.wg.Done()
	for {
		select {
		case req := <-t.requests:
			req.reply <- t.exec(req)
		case <-t.done:
			return
		}
	}
}

func (t *Tree) exec(req request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("page tree request panicked", zap.Any("panic", r))
			err = fmt.Errorf("%w: %v", ErrInternal, r)
		}
	}()

	// A caller that gave up before its turn gets its error and no mutation.
	if err := req.ctx.Err(); err != nil {
		return err
	}
	change, err := req.fn(req.ctx)
	if err != nil || change == nil {
		return err
	}

	t.hooksMu.RLock()
	hooks := append([]ChangeHook(nil), t.hooks...)
	t.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(req.ctx, *change)
	}
	return nil
}

// do runs fn on the writer goroutine and waits for its result. Once the
// writer has accepted the request the reply is always awaited, so the
// returned error matches what happened to meta.json.
func (t *Tree) do(ctx context.Context, fn func(ctx context.Context) (*Change, error)) error {
	req := request{ctx: ctx, fn: fn, reply: make(chan error, 1)}
	select {
	case t.requests <- req:
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.reply
}

// load decodes meta.json unless a decoded copy is already held.
func (t *Tree) load() error {
	if t.doc != nil {
		return nil
	}
	data, err := os.ReadFile(t.metaPath)
	if err != nil {
		return fmt.Errorf("%w: read meta.json: %v", ErrInternal, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: parse meta.json: %v", ErrInternal, err)
	}
	t.doc = &doc
	t.idx = buildIndex(t.doc)
	t.digest = sha256.Sum256(data)
	return nil
}

// persist writes doc atomically and makes it the current document.
func (t *Tree) persist(doc *Document) error {
	data, err := encode(doc)
	if err != nil {
		return fmt.Errorf("%w: encode meta.json: %v", ErrInternal, err)
	}
	if err := util.WriteFileAtomic(t.metaPath, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	t.doc = doc
	t.idx = buildIndex(doc)
	t.digest = sha256.Sum256(data)
	return nil
}

// invalidate drops the decoded document if meta.json on disk no longer
// matches what this process last read or wrote.
func (t *Tree) invalidate(ctx context.Context) error {
	return t.do(ctx, func(context.Context) (*Change, error) {
		if t.doc == nil {
			return nil, nil
		}
		data, err := os.ReadFile(t.metaPath)
		if err == nil && sha256.Sum256(data) == t.digest {
			return nil, nil
		}
		t.logger.Info("meta.json changed on disk, reloading")
		t.doc = nil
		t.idx = nil
		return nil, nil
	})
}

// document returns a deep copy of the current meta.json document.
func (t *Tree) document(ctx context.Context) (*Document, error) {
	var out *Document
	err := t.do(ctx, func(context.Context) (*Change, error) {
		if err := t.load(); err != nil {
			return nil, err
		}
		out = t.doc.clone()
		return nil, nil
	})
	return out, err
}

// lookup returns a copy of the first node in document order whose path is
// exactly path.
func (t *Tree) lookup(ctx context.Context, path string) (*Node, error) {
	if _, err := cleanRel(path); err != nil {
		return nil, err
	}
	var out *Node
	err := t.do(ctx, func(context.Context) (*Change, error) {
		if err := t.load(); err != nil {
			return nil, err
		}
		node, ok := t.idx.byPath[path]
		if !ok {
			return nil, ErrNotFound
		}
		out = node.Clone()
		return nil, nil
	})
	return out, err
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
