package gc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"media-indexer/internal/database"
)

func seed(t *testing.T, db *database.Database, status database.Status, lastSeen int64) string {
	t.Helper()
	rec := &database.MediaRecord{
		ID:         uuid.NewString(),
		Path:       filepath.Join("/lib", uuid.NewString()+".mp4"),
		Size:       100,
		MTime:      lastSeen,
		Status:     status,
		LastSeenAt: lastSeen,
	}
	if err := db.Insert(context.Background(), rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return rec.ID
}

func TestSweepExpiresOldTombstonesOnly(t *testing.T) {
	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	now := database.NowMillis()
	old := now - (40 * 24 * time.Hour).Milliseconds()
	recent := now - (1 * 24 * time.Hour).Milliseconds()

	expired := seed(t, db, database.StatusMissing, old)
	fresh := seed(t, db, database.StatusMissing, recent)
	oldButAvailable := seed(t, db, database.StatusAvailable, old)

	c := New(db, DefaultRetention)
	c.sweep()

	if rec, err := db.GetByID(context.Background(), expired); err != nil {
		t.Fatalf("GetByID: %v", err)
	} else if rec != nil {
		t.Errorf("expired tombstone survived: %+v", rec)
	}

	for _, id := range []string{fresh, oldButAvailable} {
		if rec, err := db.GetByID(context.Background(), id); err != nil {
			t.Fatalf("GetByID: %v", err)
		} else if rec == nil {
			t.Errorf("record %s should survive the sweep", id)
		}
	}
}
