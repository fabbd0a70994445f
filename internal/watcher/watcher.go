// Package watcher feeds filesystem events into the integrity service. It
// watches the library roots recursively and debounces rapid change bursts
// (a copy in progress fires a write event per flush) so each settled file
// is processed once.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"media-indexer/internal/database"
	"media-indexer/internal/logging"
	"media-indexer/internal/mediatypes"
	"media-indexer/internal/metrics"
)

const (
	debounceInterval = 2 * time.Second
	eventQueueSize   = 1024
)

// Integrity is the reconciliation surface the watcher drives. Satisfied
// by integrity.Service.
type Integrity interface {
	ProcessNewFile(ctx context.Context, path string) (*database.MediaRecord, error)
	MarkAsMissing(ctx context.Context, path string) (bool, error)
}

// fileEvent is one debounced filesystem observation.
type fileEvent struct {
	op   fsnotify.Op
	path string
}

// Watcher tails filesystem events under the library roots.
type Watcher struct {
	fsw      *fsnotify.Watcher
	handler  Integrity
	roots    []string
	extended func() bool

	queue  chan fileEvent
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a watcher over the given roots. extended reports whether the
// extended extension set is accepted; pass nil for native-only.
func New(handler Integrity, roots []string, extended func() bool) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if extended == nil {
		extended = func() bool { return false }
	}

	return &Watcher{
		fsw:      fsw,
		handler:  handler,
		roots:    roots,
		extended: extended,
		queue:    make(chan fileEvent, eventQueueSize),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start registers all directories under the roots and launches the event
// loops.
func (w *Watcher) Start() error {
	for _, root := range w.roots {
		if err := w.addRecursive(root); err != nil {
			logging.Warn("Failed to watch %s: %v", root, err)
		}
	}

	w.wg.Add(2)
	go w.collect()
	go w.drain()

	logging.Info("Filesystem watcher started over %d roots", len(w.roots))
	return nil
}

// Stop shuts the watcher down and waits for the loops to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	if err := w.fsw.Close(); err != nil {
		logging.Warn("Failed to close filesystem watcher: %v", err)
	}
	w.wg.Wait()
	logging.Info("Filesystem watcher stopped")
}

// addRecursive registers dir and every non-hidden subdirectory.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			logging.Debug("Watcher skipping %s: %v", path, err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			logging.Debug("Failed to watch %s: %v", path, err)
		}
		return nil
	})
}

// collect reads raw fsnotify events and enqueues the interesting ones.
// A full queue drops events; the periodic quiet scan catches up later.
func (w *Watcher) collect() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Warn("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleRaw(event fsnotify.Event) {
	name := filepath.Base(event.Name)

	// New directories need their own watch before files land in them. A
	// directory moved into the watched tree already carries files that
	// will never fire events themselves, so walk it and enqueue them too.
	if event.Op.Has(fsnotify.Create) && !strings.HasPrefix(name, ".") {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				logging.Debug("Failed to watch new directory %s: %v", event.Name, err)
			}
			w.enqueueExisting(event.Name)
			return
		}
	}

	if strings.HasPrefix(name, ".") || !mediatypes.Accepted(name, w.extended()) {
		return
	}
	w.enqueue(fileEvent{op: event.Op, path: event.Name})
}

func (w *Watcher) enqueue(ev fileEvent) {
	select {
	case w.queue <- ev:
	default:
		metrics.WatcherEventsDropped.Inc()
	}
}

// enqueueExisting feeds the media files already present under dir through
// the debounce queue as create events.
func (w *Watcher) enqueueExisting(dir string) {
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			logging.Debug("Watcher skipping %s: %v", path, err)
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !mediatypes.Accepted(d.Name(), w.extended()) {
			return nil
		}
		w.enqueue(fileEvent{op: fsnotify.Create, path: path})
		return nil
	})
	if err != nil {
		logging.Debug("Failed to enumerate new directory %s: %v", dir, err)
	}
}

// drain batches queued events per path and flushes them on a debounce
// tick. The latest event per path wins.
func (w *Watcher) drain() {
	defer w.wg.Done()

	pending := make(map[string]fileEvent)
	ticker := time.NewTicker(debounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case ev := <-w.queue:
			pending[ev.path] = ev
		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			for _, ev := range pending {
				w.dispatch(ev)
			}
			pending = make(map[string]fileEvent)
		}
	}
}

func (w *Watcher) dispatch(ev fileEvent) {
	ctx := context.Background()

	switch {
	case ev.op.Has(fsnotify.Remove) || ev.op.Has(fsnotify.Rename):
		metrics.WatcherEventsTotal.WithLabelValues(opLabel(ev.op)).Inc()
		if _, err := w.handler.MarkAsMissing(ctx, ev.path); err != nil {
			logging.Warn("Failed to mark %s missing: %v", ev.path, err)
		}
	case ev.op.Has(fsnotify.Create) || ev.op.Has(fsnotify.Write):
		metrics.WatcherEventsTotal.WithLabelValues(opLabel(ev.op)).Inc()
		if _, err := w.handler.ProcessNewFile(ctx, ev.path); err != nil {
			logging.Warn("Failed to process %s: %v", ev.path, err)
		}
	}
}

func opLabel(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	default:
		return "other"
	}
}
