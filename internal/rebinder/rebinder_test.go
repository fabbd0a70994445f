package rebinder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"media-indexer/internal/database"
	"media-indexer/internal/hasher"
)

func newTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func writeFile(t *testing.T, dir, name string, data []byte) (string, os.FileInfo) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	return path, info
}

func insertRecord(t *testing.T, db *database.Database, rec *database.MediaRecord) *database.MediaRecord {
	t.Helper()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := db.Insert(context.Background(), rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return rec
}

func TestFindCandidateByInode(t *testing.T) {
	db := newTestDB(t)
	r := New(db)
	dir := t.TempDir()

	path, info := writeFile(t, dir, "a.mp4", []byte("video data"))
	ino := InodeOf(info)
	if ino == nil {
		t.Skip("platform provides no inode numbers")
	}

	rec := insertRecord(t, db, &database.MediaRecord{
		Path:       filepath.Join(dir, "old-name.mp4"),
		Size:       info.Size(),
		MTime:      database.Millis(info.ModTime()),
		Ino:        ino,
		Status:     database.StatusMissing,
		LastSeenAt: database.NowMillis(),
	})

	got, err := r.FindCandidate(context.Background(), path, info, false)
	if err != nil {
		t.Fatalf("FindCandidate: %v", err)
	}
	if got == nil || got.ID != rec.ID {
		t.Fatalf("expected inode match on %s, got %+v", rec.ID, got)
	}
}

func TestFindCandidateInodeReuseGuard(t *testing.T) {
	db := newTestDB(t)
	r := New(db)
	dir := t.TempDir()

	path, info := writeFile(t, dir, "a.mp4", []byte("video data"))
	ino := InodeOf(info)
	if ino == nil {
		t.Skip("platform provides no inode numbers")
	}

	// Same inode on record but a different size: the OS reused the inode
	// for an unrelated file and the match must be rejected.
	insertRecord(t, db, &database.MediaRecord{
		Path:       filepath.Join(dir, "other.mp4"),
		Size:       info.Size() + 1000,
		MTime:      database.NowMillis(),
		Ino:        ino,
		Status:     database.StatusMissing,
		LastSeenAt: database.NowMillis(),
	})

	got, err := r.FindCandidate(context.Background(), path, info, false)
	if err != nil {
		t.Fatalf("FindCandidate: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no match for reused inode, got %+v", got)
	}
}

func TestFindCandidatePrefersAvailableThenRecency(t *testing.T) {
	db := newTestDB(t)
	r := New(db)
	dir := t.TempDir()

	path, info := writeFile(t, dir, "a.mp4", []byte("video data"))
	ino := InodeOf(info)
	if ino == nil {
		t.Skip("platform provides no inode numbers")
	}

	now := database.NowMillis()
	insertRecord(t, db, &database.MediaRecord{
		ID:         "older-missing",
		Path:       filepath.Join(dir, "one.mp4"),
		Size:       info.Size(),
		MTime:      now,
		Ino:        ino,
		Status:     database.StatusMissing,
		LastSeenAt: now - 10000,
	})
	insertRecord(t, db, &database.MediaRecord{
		ID:         "newer-missing",
		Path:       filepath.Join(dir, "two.mp4"),
		Size:       info.Size(),
		MTime:      now,
		Ino:        ino,
		Status:     database.StatusMissing,
		LastSeenAt: now,
	})

	got, err := r.FindCandidate(context.Background(), path, info, false)
	if err != nil {
		t.Fatalf("FindCandidate: %v", err)
	}
	if got == nil || got.ID != "newer-missing" {
		t.Fatalf("expected newer-missing to win, got %+v", got)
	}
}

func TestFindCandidateByHash(t *testing.T) {
	db := newTestDB(t)
	r := New(db)
	dir := t.TempDir()

	path, info := writeFile(t, dir, "moved.mp4", []byte("identical payload"))
	hash, err := hasher.Compute(path)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	// Record from a different inode (none stored) but same size and hash
	rec := insertRecord(t, db, &database.MediaRecord{
		Path:       filepath.Join(dir, "original.mp4"),
		Size:       info.Size(),
		MTime:      database.NowMillis(),
		FileHash:   &hash,
		Status:     database.StatusMissing,
		LastSeenAt: database.NowMillis(),
	})

	got, err := r.FindCandidate(context.Background(), path, info, true)
	if err != nil {
		t.Fatalf("FindCandidate: %v", err)
	}
	if got == nil || got.ID != rec.ID {
		t.Fatalf("expected hash match on %s, got %+v", rec.ID, got)
	}

	// The same lookup with hashing disallowed must miss
	got, err = r.FindCandidate(context.Background(), path, info, false)
	if err != nil {
		t.Fatalf("FindCandidate: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no match with hashing disallowed, got %+v", got)
	}
}

func TestExecuteRebindsAndSchedulesHash(t *testing.T) {
	db := newTestDB(t)
	r := New(db)
	dir := t.TempDir()

	path, info := writeFile(t, dir, "new-home.mp4", []byte("payload"))

	rec := insertRecord(t, db, &database.MediaRecord{
		Path:       filepath.Join(dir, "old-home.mp4"),
		Size:       1,
		MTime:      1,
		Status:     database.StatusMissing,
		LastSeenAt: 1,
	})

	mtime := database.Millis(info.ModTime())
	if err := r.Execute(context.Background(), rec.ID, path, info.Size(), mtime, InodeOf(info), nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, err := db.GetByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Path != path || !got.IsAvailable() {
		t.Fatalf("record not rebound: %+v", got)
	}
	if got.LastScanAttemptAt != nil {
		t.Error("lastScanAttemptAt should be cleared on rebind")
	}

	// The detached hash should land eventually
	want, _ := hasher.Compute(path)
	deadline := time.After(2 * time.Second)
	for {
		got, err = db.GetByID(context.Background(), rec.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.FileHash != nil {
			if *got.FileHash != want {
				t.Fatalf("stored hash %s, want %s", *got.FileHash, want)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("hash never stored")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
