package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kernel/tplsync/internal/pathname"
	"github.com/pterm/pterm"
	"github.com/samber/lo"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 400 * time.Millisecond

// Watcher delivers batches of changed templates under a directory.
type Watcher struct {
	dir      string
	filter   *Filter
	debounce time.Duration
	logger   *pterm.Logger

	fsWatcher *fsnotify.Watcher
	batches   chan map[string]string
}

// NewWatcher watches dir and every directory holding a template. Directories
// created later are added as they appear.
func NewWatcher(dir string, filter *Filter, debounce time.Duration, logger *pterm.Logger) (*Watcher, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	files, err := Collect(root, filter)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = &pterm.DefaultLogger
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		dir:       root,
		filter:    filter,
		debounce:  debounce,
		logger:    logger,
		fsWatcher: fsWatcher,
		batches:   make(chan map[string]string),
	}

	dirs := lo.Uniq(lo.Map(lo.Keys(files), func(name string, _ int) string {
		return filepath.Dir(filepath.Join(root, filepath.FromSlash(name)))
	}))
	for _, d := range append([]string{root}, dirs...) {
		if err := w.add(d); err != nil {
			fsWatcher.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) add(dir string) error {
	if err := w.fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("failed to add directory %s to watcher: %w", dir, err)
	}
	w.logger.Debug("watching directory", w.logger.Args("directory", dir))
	return nil
}

// Batches returns the channel Run sends changes on. It is closed when Run
// returns.
func (w *Watcher) Batches() <-chan map[string]string {
	return w.batches
}

// Close stops the underlying watcher, which ends Run.
func (w *Watcher) Close() error {
	return w.fsWatcher.Close()
}

// Run processes filesystem events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.batches)

	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil {
				if !os.IsNotExist(err) {
					w.logger.Warn("failed to stat file", w.logger.Args("file", event.Name, "error", err))
				}
				continue
			}
			if info.IsDir() {
				if event.Op.Has(fsnotify.Create) && !lo.Contains(ExcludeDirectories, info.Name()) {
					if err := w.add(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory", w.logger.Args("error", err))
					}
				}
				continue
			}
			rel, ok := relativeTemplate(w.dir, event.Name, w.filter)
			if !ok {
				continue
			}
			pending[rel] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", w.logger.Args("error", err))

		case <-fire:
			fire = nil
			batch := w.read(pending)
			pending = make(map[string]struct{})
			if len(batch) == 0 {
				continue
			}
			select {
			case w.batches <- batch:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (w *Watcher) read(pending map[string]struct{}) map[string]string {
	batch := make(map[string]string, len(pending))
	for rel := range pending {
		data, err := os.ReadFile(filepath.Join(w.dir, filepath.FromSlash(rel)))
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				w.logger.Warn("failed to read changed file", w.logger.Args("file", rel, "error", err))
			}
			continue
		}
		batch[rel] = pathname.NormalizeContent(string(data))
	}
	return batch
}

// Watch calls fn with each batch of changes under dir until ctx is done or fn
// returns an error. Calls to fn never overlap.
func Watch(ctx context.Context, dir string, filter *Filter, debounce time.Duration, logger *pterm.Logger, fn func(context.Context, map[string]string) error) error {
	w, err := NewWatcher(dir, filter, debounce, logger)
	if err != nil {
		return err
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	var fnErr error
	for batch := range w.Batches() {
		if err := fn(ctx, batch); err != nil {
			fnErr = err
			cancel()
			break
		}
	}
	cancel()
	<-done
	return fnErr
}
