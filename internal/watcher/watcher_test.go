package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"media-indexer/internal/database"
)

// recordingIntegrity captures which paths the watcher handed over.
type recordingIntegrity struct {
	mu        sync.Mutex
	processed []string
	missing   []string
}

func (r *recordingIntegrity) ProcessNewFile(_ context.Context, path string) (*database.MediaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed = append(r.processed, path)
	return nil, nil
}

func (r *recordingIntegrity) MarkAsMissing(_ context.Context, path string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missing = append(r.missing, path)
	return true, nil
}

func (r *recordingIntegrity) snapshot() (processed, missing []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.processed...), append([]string(nil), r.missing...)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestWatcherProcessesCreatedFile(t *testing.T) {
	root := t.TempDir()
	rec := &recordingIntegrity{}

	w, err := New(rec, []string{root}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)

	path := filepath.Join(root, "new.mp4")
	if err := os.WriteFile(path, []byte("fresh"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	waitFor(t, func() bool {
		processed, _ := rec.snapshot()
		for _, p := range processed {
			if p == path {
				return true
			}
		}
		return false
	}, "created file never processed")
}

func TestWatcherIgnoresNonMediaFiles(t *testing.T) {
	root := t.TempDir()
	rec := &recordingIntegrity{}

	w, err := New(rec, []string{root}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)

	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("text"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	// An extended-set extension without the probe is also ignored
	if err := os.WriteFile(filepath.Join(root, "clip.mkv"), []byte("mkv"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	time.Sleep(3 * debounceInterval)
	processed, missing := rec.snapshot()
	if len(processed) != 0 || len(missing) != 0 {
		t.Errorf("non-media events leaked through: processed=%v missing=%v", processed, missing)
	}
}

func TestWatcherMarksRemovedFileMissing(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "doomed.mp4")
	if err := os.WriteFile(path, []byte("temporary"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rec := &recordingIntegrity{}
	w, err := New(rec, []string{root}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	waitFor(t, func() bool {
		_, missing := rec.snapshot()
		for _, p := range missing {
			if p == path {
				return true
			}
		}
		return false
	}, "removed file never marked missing")
}

func TestWatcherDebouncesWriteBursts(t *testing.T) {
	root := t.TempDir()
	rec := &recordingIntegrity{}

	w, err := New(rec, []string{root}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)

	path := filepath.Join(root, "burst.mp4")
	for i := 0; i < 10; i++ {
		if err := os.WriteFile(path, []byte("chunk"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, func() bool {
		processed, _ := rec.snapshot()
		return len(processed) > 0
	}, "burst never flushed")

	time.Sleep(debounceInterval)
	processed, _ := rec.snapshot()
	if len(processed) > 2 {
		t.Errorf("burst of 10 writes produced %d calls, want coalescing", len(processed))
	}
}

func TestWatcherPicksUpNewSubdirectories(t *testing.T) {
	root := t.TempDir()
	rec := &recordingIntegrity{}

	w, err := New(rec, []string{root}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)

	sub := filepath.Join(root, "season1")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	// Give the watcher a beat to register the new directory
	time.Sleep(200 * time.Millisecond)

	path := filepath.Join(sub, "ep1.mp4")
	if err := os.WriteFile(path, []byte("episode"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	waitFor(t, func() bool {
		processed, _ := rec.snapshot()
		for _, p := range processed {
			if p == path {
				return true
			}
		}
		return false
	}, "file in new subdirectory never processed")
}

func TestWatcherIndexesMovedInDirectory(t *testing.T) {
	root := t.TempDir()
	rec := &recordingIntegrity{}

	w, err := New(rec, []string{root}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)

	// Populate a directory outside the watched tree, then move it in.
	// The files inside fire no events of their own.
	staging := filepath.Join(t.TempDir(), "season2")
	nested := filepath.Join(staging, "extras")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	for _, name := range []string{"ep1.mp4", "ep2.mp4"} {
		if err := os.WriteFile(filepath.Join(staging, name), []byte("episode"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(nested, "gag.mp4"), []byte("reel"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(staging, "cover.txt"), []byte("notes"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	dest := filepath.Join(root, "season2")
	if err := os.Rename(staging, dest); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	want := map[string]bool{
		filepath.Join(dest, "ep1.mp4"):           false,
		filepath.Join(dest, "ep2.mp4"):           false,
		filepath.Join(dest, "extras", "gag.mp4"): false,
	}
	waitFor(t, func() bool {
		processed, _ := rec.snapshot()
		for _, p := range processed {
			if _, ok := want[p]; ok {
				want[p] = true
			}
		}
		for _, seen := range want {
			if !seen {
				return false
			}
		}
		return true
	}, "pre-existing files in moved-in directory never processed")

	processed, _ := rec.snapshot()
	for _, p := range processed {
		if filepath.Ext(p) == ".txt" {
			t.Errorf("non-media file leaked through: %s", p)
		}
	}
}
