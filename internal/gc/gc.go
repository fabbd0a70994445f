// Package gc hard-deletes tombstones. Records flagged missing longer than
// the retention window are removed along with their dependent rows, so a
// file the user actually deleted does not haunt the index forever while a
// short outage (unmounted share) loses nothing.
package gc

import (
	"context"
	"time"

	"media-indexer/internal/database"
	"media-indexer/internal/logging"
)

// DefaultRetention is how long a missing record survives before deletion.
const DefaultRetention = 30 * 24 * time.Hour

const sweepInterval = 12 * time.Hour

// Collector periodically expires old tombstones.
type Collector struct {
	db        *database.Database
	retention time.Duration
	stopCh    chan struct{}
	done      chan struct{}
}

// New creates a Collector. A non-positive retention falls back to the
// default.
func New(db *database.Database, retention time.Duration) *Collector {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Collector{
		db:        db,
		retention: retention,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs one sweep immediately and then sweeps on a fixed interval.
func (c *Collector) Start() {
	go func() {
		defer close(c.done)

		c.sweep()

		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
	logging.Info("Tombstone collector started (retention %v)", c.retention)
}

// Stop terminates the sweep loop.
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.done
}

func (c *Collector) sweep() {
	deleted, err := c.db.DeleteExpiredMissing(context.Background(), c.retention)
	if err != nil {
		logging.Warn("Tombstone sweep failed: %v", err)
		return
	}
	if deleted > 0 {
		logging.Info("Expired %d tombstones older than %v", deleted, c.retention)
		if err := c.db.Vacuum(); err != nil {
			logging.Warn("Vacuum after tombstone sweep failed: %v", err)
		}
	}
}
