// Package watch re-indexes source files as they change on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/federated/internal/logging"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Handler receives debounced changes.
type Handler interface {
	// Changed is called for a created or modified file.
	Changed(ctx context.Context, path string)
	// Removed is called for a deleted or renamed-away file.
	Removed(ctx context.Context, path string)
}

// Watcher watches a tree for files matching patterns.
type Watcher struct {
	root     string
	patterns []string
	skipDirs map[string]bool
	debounce time.Duration
	handler  Handler
	logger   *logging.Logger

	fsw     *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
	started atomic.Bool

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// Options configures a Watcher.
type Options struct {
	Patterns []string
	SkipDirs map[string]bool
	Debounce time.Duration
	Logger   *logging.Logger
}

// New creates a watcher for root.
func New(root string, h Handler, opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Watcher{
		root:     root,
		patterns: opts.Patterns,
		skipDirs: opts.SkipDirs,
		debounce: opts.Debounce,
		handler:  h,
		logger:   opts.Logger,
		fsw:      fsw,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Start adds every directory under root and begins processing events.
func (w *Watcher) Start(ctx context.Context) error {
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.skipDirs[d.Name()] {
			return fs.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn(ctx, "watch directory failed", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", w.root, err)
	}
	w.started.Store(true)
	go w.loop(ctx)
	return nil
}

// Stop ends event processing and cancels pending callbacks.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
	}
	_ = w.fsw.Close()
	if w.started.Load() {
		<-w.done
	}

	w.mu.Lock()
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
	w.mu.Unlock()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !w.skipDirs[filepath.Base(ev.Name)] {
				_ = w.fsw.Add(ev.Name)
			}
			return
		}
	}
	if !w.matches(ev.Name) {
		return
	}
	removed := ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
	if !removed && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	w.schedule(ctx, ev.Name)
}

// schedule coalesces bursts of events on one path. The callback decides
// between Changed and Removed by checking the file when the timer fires.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case <-w.stop:
			return
		default:
		}
		if _, err := os.Stat(path); err != nil {
			w.handler.Removed(ctx, path)
			return
		}
		w.handler.Changed(ctx, path)
	})
}

func (w *Watcher) matches(path string) bool {
	if len(w.patterns) == 0 {
		return true
	}
	base := filepath.Base(path)
	for _, p := range w.patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}
