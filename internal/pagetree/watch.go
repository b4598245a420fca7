package pagetree

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const metaEvents = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

// Watch reloads meta.json when another process edits it. The watcher stops
// when the tree is closed.
func (t *Tree) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watching the directory survives editors that replace the file.
	if err := watcher.Add(filepath.Dir(t.metaPath)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(t.metaPath), err)
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-t.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != t.metaPath || !event.Op.Has(metaEvents) {
					continue
				}
				t.onMetaEvent()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				t.logger.Warn("meta.json watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (t *Tree) onMetaEvent() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.invalidate(ctx); err != nil && err != ErrClosed {
		t.logger.Warn("invalidate page tree", zap.Error(err))
	}
}
