// Package fswatch feeds a store from a directory of JSON:API documents. A
// supervised worker watches the tree, debounces editor noise and pushes each
// changed document into the cache, so local files behave like a background
// sync source.
package fswatch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/aretw0/strata/pkg/adapters/jsonapi"
	"github.com/aretw0/strata/pkg/core"
)

// Pusher is the slice of the store the worker needs.
type Pusher interface {
	Push(doc core.Document) ([]*core.Key, error)
}

// Config tunes the watch worker.
type Config struct {
	// Dir is the root of the document tree. Required.
	Dir string

	// Pattern selects document files relative to Dir (doublestar syntax).
	// Default "**/*.json".
	Pattern string

	// Debounce is the quiet period per file. Default 50ms.
	Debounce time.Duration

	// Logger for internal chatter. Nil falls back to slog.Default.
	Logger *slog.Logger

	// ErrorHandler receives per-document failures (parse errors, push
	// conflicts). Nil means they are only logged.
	ErrorHandler func(error)
}

// Worker watches a document directory and pushes changes into a store. It
// satisfies the lifecycle worker contract so a supervisor can own it.
type Worker struct {
	*worker.BaseWorker
	cfg     Config
	dest    Pusher
	watcher *fsnotify.Watcher
	deb     *debouncer
	cancel  context.CancelFunc
}

// NewWorker creates a watch worker over dest.
func NewWorker(dest Pusher, cfg Config) (*Worker, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("fswatch requires a directory")
	}
	if cfg.Pattern == "" {
		cfg.Pattern = "**/*.json"
	}
	if !doublestar.ValidatePattern(cfg.Pattern) {
		return nil, fmt.Errorf("invalid pattern %q", cfg.Pattern)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 50 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{
		BaseWorker: worker.NewBaseWorker("fswatch"),
		cfg:        cfg,
		dest:       dest,
	}, nil
}

func (w *Worker) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := w.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("watcher already started (status: %s)", status)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.addRecursive(watcher, w.cfg.Dir); err != nil {
		_ = watcher.Close()
		return err
	}

	w.watcher = watcher
	w.deb = newDebouncer(w.cfg.Debounce)

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.SetStatus(worker.StatusRunning)
	return w.StartFunc(runCtx, w.run)
}

func (w *Worker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.StopRequested = true
		w.cancel()
	}
	return w.BaseWorker.Stop(ctx)
}

func (w *Worker) State() worker.State {
	return w.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
		}
	})
}

// Sync pushes every matching document under Dir once. Useful before Start so
// the cache begins warm.
func (w *Worker) Sync(ctx context.Context) error {
	return filepath.WalkDir(w.cfg.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !w.matches(path) {
			return nil
		}
		w.ingest(path)
		return nil
	})
}

func (w *Worker) run(ctx context.Context) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			panicErr := fmt.Errorf("watcher panic: %v", recovered)

			var stack string
			if w.cfg.Logger.Enabled(ctx, slog.LevelDebug) {
				stack = string(debug.Stack())
			}
			if stack != "" {
				w.cfg.Logger.Error("watcher panic", "error", panicErr, "stack", stack)
			} else {
				w.cfg.Logger.Error("watcher panic", "error", panicErr)
			}
		}
	}()
	defer w.watcher.Close()

	err = w.loop(ctx)

	// Drain in-flight debounce timers before returning so no push races the
	// caller's teardown.
	w.deb.stopAndWait(5 * time.Second)
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher events channel closed")
			}
			w.handle(ctx, event)

		case wErr, ok := <-w.watcher.Errors:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher errors channel closed")
			}
			w.cfg.Logger.Error("fsnotify error", "error", wErr)
			if w.cfg.ErrorHandler != nil {
				w.cfg.ErrorHandler(wErr)
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, event fsnotify.Event) {
	w.cfg.Logger.Debug("event received", "name", event.Name, "op", event.Op.String())

	// New directories need to be watched before files land in them.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(w.watcher, event.Name)
			return
		}
	}

	if !w.matches(event.Name) {
		return
	}
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		// Deleting a document file does not unload records; the cache keeps
		// what it already holds until the application unloads explicitly.
		w.cfg.Logger.Debug("document removed, cache entries retained", "name", event.Name)
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	path := event.Name
	w.deb.add(path, func() {
		if ctx.Err() != nil {
			return
		}
		w.ingest(path)
	})
}

// ingest reads one document file and pushes it into the store.
func (w *Worker) ingest(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.fail(fmt.Errorf("failed to read %s: %w", path, err))
		return
	}

	doc, err := jsonapi.Decode(data)
	if err != nil {
		w.fail(fmt.Errorf("failed to decode %s: %w", path, err))
		return
	}
	if doc.IsEmpty() {
		return
	}

	keys, err := w.dest.Push(doc)
	if err != nil {
		w.fail(fmt.Errorf("failed to push %s: %w", path, err))
		return
	}
	w.cfg.Logger.Debug("document pushed", "path", path, "records", len(keys))
}

func (w *Worker) fail(err error) {
	if w.cfg.ErrorHandler != nil {
		w.cfg.ErrorHandler(err)
		return
	}
	w.cfg.Logger.Error("document ingest failed", "error", err)
}

func (w *Worker) matches(path string) bool {
	rel, err := filepath.Rel(w.cfg.Dir, path)
	if err != nil {
		return false
	}
	ok, err := doublestar.Match(w.cfg.Pattern, filepath.ToSlash(rel))
	return err == nil && ok
}

func (w *Worker) addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}
