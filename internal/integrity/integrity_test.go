package integrity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"media-indexer/internal/database"
	"media-indexer/internal/events"
	"media-indexer/internal/rebinder"
)

func newTestService(t *testing.T, roots ...string) (*Service, *database.Database) {
	t.Helper()
	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	dispatcher := events.NewDispatcher()
	t.Cleanup(dispatcher.Stop)

	return New(db, rebinder.New(db), dispatcher, roots), db
}

func writeFile(t *testing.T, path string, data []byte) os.FileInfo {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	return info
}

func TestProcessNewFileCreatesRecord(t *testing.T) {
	svc, db := newTestService(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "new.mp4")
	writeFile(t, path, []byte("fresh content"))

	rec, err := svc.ProcessNewFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessNewFile: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a record")
	}
	if rec.Path != path || !rec.IsAvailable() {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.MetadataStatus != database.MetadataPending {
		t.Errorf("metadata status = %s, want pending", rec.MetadataStatus)
	}

	got, err := db.GetByPath(context.Background(), path)
	if err != nil || got == nil {
		t.Fatalf("GetByPath: rec=%v err=%v", got, err)
	}
	if got.ID != rec.ID {
		t.Errorf("persisted id %s != returned id %s", got.ID, rec.ID)
	}
}

func TestProcessNewFileIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "same.mp4")
	writeFile(t, path, []byte("stable bytes"))

	first, err := svc.ProcessNewFile(context.Background(), path)
	if err != nil {
		t.Fatalf("first ProcessNewFile: %v", err)
	}
	second, err := svc.ProcessNewFile(context.Background(), path)
	if err != nil {
		t.Fatalf("second ProcessNewFile: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("reprocessing created a new record: %s != %s", second.ID, first.ID)
	}
}

func TestProcessNewFileContentChangeResetsMetadata(t *testing.T) {
	svc, db := newTestService(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "changing.mp4")
	writeFile(t, path, []byte("version one"))

	rec, err := svc.ProcessNewFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessNewFile: %v", err)
	}

	// Simulate completed metadata
	codec := "h264"
	fps := 24.0
	if err := db.CompleteMetadata(context.Background(), rec.ID, &database.TechnicalMetadata{Codec: &codec, FPS: &fps}); err != nil {
		t.Fatalf("CompleteMetadata: %v", err)
	}

	// Rewrite with different size so the stat comparison fails
	writeFile(t, path, []byte("version two, considerably longer"))

	updated, err := svc.ProcessNewFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessNewFile after change: %v", err)
	}
	if updated.ID != rec.ID {
		t.Fatalf("content change must not change identity: %s != %s", updated.ID, rec.ID)
	}
	if updated.MetadataStatus != database.MetadataPending {
		t.Errorf("metadata status = %s, want pending after content change", updated.MetadataStatus)
	}
	if updated.Codec != nil || updated.FPS != nil {
		t.Errorf("technical fields should be nulled, got codec=%v fps=%v", updated.Codec, updated.FPS)
	}
}

func TestProcessNewFileReplacedInPlaceKeepsIdentity(t *testing.T) {
	svc, db := newTestService(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "replaced.mp4")
	writeFile(t, path, []byte("original cut"))

	rec, err := svc.ProcessNewFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessNewFile: %v", err)
	}
	if rec.Ino == nil {
		t.Skip("platform provides no inode numbers")
	}

	codec := "h264"
	fps := 30.0
	if err := db.CompleteMetadata(context.Background(), rec.ID, &database.TechnicalMetadata{Codec: &codec, FPS: &fps}); err != nil {
		t.Fatalf("CompleteMetadata: %v", err)
	}

	// An editor saving through a temp-file rename leaves the path and the
	// record in place but the file carries a fresh inode. Stale the stored
	// one so the next observation sees a mismatch.
	staleIno := *rec.Ino + 424242
	if err := db.Rebind(context.Background(), rec.ID, path, rec.Size, rec.MTime, &staleIno); err != nil {
		t.Fatalf("Rebind: %v", err)
	}
	writeFile(t, path, []byte("the director's cut, noticeably longer"))

	updated, err := svc.ProcessNewFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessNewFile after replace: %v", err)
	}
	if updated == nil || updated.ID != rec.ID {
		t.Fatalf("replace should re-use record %s, got %+v", rec.ID, updated)
	}
	if !updated.IsAvailable() {
		t.Error("replaced record should stay available")
	}
	if updated.MetadataStatus != database.MetadataPending {
		t.Errorf("metadata status = %s, want pending after replace", updated.MetadataStatus)
	}
	if updated.Codec != nil || updated.FPS != nil {
		t.Errorf("technical fields should be nulled, got codec=%v fps=%v", updated.Codec, updated.FPS)
	}
	if updated.Ino == nil || *updated.Ino == staleIno {
		t.Errorf("stored inode not refreshed: %v", updated.Ino)
	}
}

func TestProcessNewFileRevivesMissingRecord(t *testing.T) {
	svc, db := newTestService(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "back.mp4")
	writeFile(t, path, []byte("restored"))

	rec, err := svc.ProcessNewFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessNewFile: %v", err)
	}
	if err := db.MarkMissingByID(context.Background(), rec.ID); err != nil {
		t.Fatalf("MarkMissingByID: %v", err)
	}

	revived, err := svc.ProcessNewFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessNewFile revive: %v", err)
	}
	if revived.ID != rec.ID {
		t.Errorf("revival changed identity: %s != %s", revived.ID, rec.ID)
	}
	if !revived.IsAvailable() {
		t.Error("revived record should be available")
	}
	if revived.LastScanAttemptAt != nil {
		t.Error("revival should clear lastScanAttemptAt")
	}
}

func TestProcessNewFileRebindsMovedFile(t *testing.T) {
	svc, db := newTestService(t)
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "before.mp4")
	writeFile(t, oldPath, []byte("movable content"))

	rec, err := svc.ProcessNewFile(context.Background(), oldPath)
	if err != nil {
		t.Fatalf("ProcessNewFile: %v", err)
	}

	newPath := filepath.Join(dir, "after.mp4")
	if err := os.Rename(oldPath, newPath); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := svc.MarkAsMissing(context.Background(), oldPath); err != nil {
		t.Fatalf("MarkAsMissing: %v", err)
	}

	rebound, err := svc.ProcessNewFile(context.Background(), newPath)
	if err != nil {
		t.Fatalf("ProcessNewFile after move: %v", err)
	}
	if rebound == nil || rebound.ID != rec.ID {
		t.Fatalf("move should re-use record %s, got %+v", rec.ID, rebound)
	}
	if rebound.Path != newPath || !rebound.IsAvailable() {
		t.Errorf("unexpected rebound record: %+v", rebound)
	}

	// The old path must not resolve to an available record anymore
	stale, err := db.GetByPath(context.Background(), oldPath)
	if err != nil {
		t.Fatalf("GetByPath(old): %v", err)
	}
	if stale != nil && stale.IsAvailable() {
		t.Errorf("old path still available: %+v", stale)
	}
}

func TestProcessNewFileDeletesStaleDuplicate(t *testing.T) {
	svc, db := newTestService(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "target.mp4")
	info := writeFile(t, path, []byte("the real bytes"))

	// The real record, missing, matched by inode
	realRec := &database.MediaRecord{
		ID:         "real",
		Path:       filepath.Join(dir, "origin.mp4"),
		Size:       info.Size(),
		MTime:      database.Millis(info.ModTime()),
		Ino:        rebinder.InodeOf(info),
		Status:     database.StatusMissing,
		LastSeenAt: database.NowMillis(),
	}
	if realRec.Ino == nil {
		t.Skip("platform provides no inode numbers")
	}
	if err := db.Insert(context.Background(), realRec); err != nil {
		t.Fatalf("Insert real: %v", err)
	}

	// A stale stub occupying the target path with a different identity.
	// Its stored inode mismatches, so it cannot qualify as a revival.
	wrongIno := *realRec.Ino + 999999
	stub := &database.MediaRecord{
		ID:         "stub",
		Path:       path,
		Size:       1,
		MTime:      1,
		Ino:        &wrongIno,
		Status:     database.StatusMissing,
		LastSeenAt: 1,
	}
	if err := db.Insert(context.Background(), stub); err != nil {
		t.Fatalf("Insert stub: %v", err)
	}

	got, err := svc.ProcessNewFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessNewFile: %v", err)
	}
	if got == nil || got.ID != "real" {
		t.Fatalf("expected rebind onto real record, got %+v", got)
	}

	if gone, err := db.GetByID(context.Background(), "stub"); err != nil {
		t.Fatalf("GetByID(stub): %v", err)
	} else if gone != nil {
		t.Errorf("stale duplicate should be hard-deleted, got %+v", gone)
	}
}

func TestVerifyAndRecoverHealsGhost(t *testing.T) {
	svc, db := newTestService(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "ghost.mp4")
	writeFile(t, path, []byte("still here"))

	rec, err := svc.ProcessNewFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessNewFile: %v", err)
	}
	// Flag it missing even though the file exists
	if err := db.MarkMissingByID(context.Background(), rec.ID); err != nil {
		t.Fatalf("MarkMissingByID: %v", err)
	}

	changed, err := svc.VerifyAndRecover(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("VerifyAndRecover: %v", err)
	}
	if !changed {
		t.Error("expected a state change")
	}

	got, err := db.GetByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.IsAvailable() || got.LastScanAttemptAt != nil {
		t.Errorf("ghost not healed: %+v", got)
	}
}

func TestVerifyAndRecoverFlagsVanished(t *testing.T) {
	dir := t.TempDir()
	svc, db := newTestService(t, dir)
	path := filepath.Join(dir, "vanish.mp4")
	writeFile(t, path, []byte("soon gone"))

	rec, err := svc.ProcessNewFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessNewFile: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	changed, err := svc.VerifyAndRecover(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("VerifyAndRecover: %v", err)
	}
	if !changed {
		t.Error("expected a state change")
	}

	got, err := db.GetByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.IsAvailable() {
		t.Errorf("vanished record still available: %+v", got)
	}
}

func TestVerifyAndRecoverFindsMovedFile(t *testing.T) {
	root := t.TempDir()
	svc, db := newTestService(t, root)

	oldPath := filepath.Join(root, "old", "film.mp4")
	writeFile(t, oldPath, []byte("relocatable bytes"))

	rec, err := svc.ProcessNewFile(context.Background(), oldPath)
	if err != nil {
		t.Fatalf("ProcessNewFile: %v", err)
	}

	newPath := filepath.Join(root, "new", "film.mp4")
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	changed, err := svc.VerifyAndRecover(context.Background(), []string{oldPath})
	if err != nil {
		t.Fatalf("VerifyAndRecover: %v", err)
	}
	if !changed {
		t.Error("expected a recovery")
	}

	got, err := db.GetByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Path != newPath || !got.IsAvailable() {
		t.Errorf("record not recovered to %s: %+v", newPath, got)
	}
}

func TestVerifyAndRecoverStampsUnrecoverable(t *testing.T) {
	root := t.TempDir()
	svc, db := newTestService(t, root)

	path := filepath.Join(root, "lost.mp4")
	writeFile(t, path, []byte("about to disappear"))

	rec, err := svc.ProcessNewFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessNewFile: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := svc.VerifyAndRecover(context.Background(), []string{path}); err != nil {
		t.Fatalf("VerifyAndRecover: %v", err)
	}

	got, err := db.GetByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.IsAvailable() {
		t.Error("record should be missing")
	}
	if got.LastScanAttemptAt == nil {
		t.Error("failed recovery should stamp lastScanAttemptAt")
	}

	// A second pass must skip the stamped record entirely
	changed, err := svc.VerifyAndRecover(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("second VerifyAndRecover: %v", err)
	}
	if changed {
		t.Error("stamped record should not be rescanned")
	}
}

func TestMarkAsMissing(t *testing.T) {
	svc, db := newTestService(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.mp4")
	writeFile(t, path, []byte("bytes"))

	rec, err := svc.ProcessNewFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessNewFile: %v", err)
	}

	changed, err := svc.MarkAsMissing(context.Background(), path)
	if err != nil {
		t.Fatalf("MarkAsMissing: %v", err)
	}
	if !changed {
		t.Error("expected a state change")
	}

	// Second flip is a no-op
	changed, err = svc.MarkAsMissing(context.Background(), path)
	if err != nil {
		t.Fatalf("second MarkAsMissing: %v", err)
	}
	if changed {
		t.Error("second MarkAsMissing should not report change")
	}

	got, err := db.GetByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.IsAvailable() {
		t.Errorf("record still available: %+v", got)
	}
}
