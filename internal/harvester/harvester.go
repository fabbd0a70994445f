// Package harvester drains technical-metadata extraction work in the
// background. A single cooperative worker alternates between an on-demand
// priority queue and a batch backlog refilled from the store, so a folder
// full of fresh files never blocks the video the user just opened.
package harvester

import (
	"container/list"
	"context"
	"sync"
	"time"

	"media-indexer/internal/database"
	"media-indexer/internal/events"
	"media-indexer/internal/filesystem"
	"media-indexer/internal/logging"
	"media-indexer/internal/metrics"
)

const (
	// batchPageSize is how many pending records one refill pulls, newest
	// modified first.
	batchPageSize = 50

	// idleInterval is the sleep when there is nothing to do or the probe
	// tool is unconfigured.
	idleInterval = 10 * time.Second

	// interItemDelay bounds probe pressure between batch items. Priority
	// items burst through with no delay.
	interItemDelay = 200 * time.Millisecond
)

// Prober extracts technical metadata from a media file. Satisfied by
// probe.Prober.
type Prober interface {
	Available() bool
	Extract(ctx context.Context, path string) (*database.TechnicalMetadata, error)
}

// Harvester is the background metadata extraction scheduler.
type Harvester struct {
	db     *database.Database
	prober Prober
	events *events.Dispatcher

	mu       sync.Mutex
	priority *list.List               // record ids, most recently requested first
	inQueue  map[string]*list.Element // dedup index into priority
	batch    []*database.MediaRecord

	wake   chan struct{}
	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once
}

// New creates a Harvester and runs the idempotent startup sweeps: records
// stuck in processing (crash mid-extraction) and completed records missing
// fps or codec are reset to pending so they are naturally re-harvested.
func New(ctx context.Context, db *database.Database, prober Prober, dispatcher *events.Dispatcher) *Harvester {
	h := &Harvester{
		db:       db,
		prober:   prober,
		events:   dispatcher,
		priority: list.New(),
		inQueue:  make(map[string]*list.Element),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	if n, err := db.ResetStuckProcessing(ctx); err != nil {
		logging.Warn("Failed to reset stuck processing records: %v", err)
	} else if n > 0 {
		logging.Info("Reset %d records stuck in processing", n)
	}

	if n, err := db.ResetIncompleteCompleted(ctx); err != nil {
		logging.Warn("Failed to reset incomplete completed records: %v", err)
	} else if n > 0 {
		logging.Info("Re-queued %d completed records missing fps/codec", n)
	}

	return h
}

// Start launches the worker loop.
func (h *Harvester) Start() {
	go h.run()
	logging.Info("Metadata harvester started")
}

// Stop terminates the worker loop and waits for the in-flight extraction
// to finish.
func (h *Harvester) Stop() {
	h.once.Do(func() { close(h.stopCh) })
	<-h.done
	logging.Info("Metadata harvester stopped")
}

// Request queues an on-demand extraction for record id, jumping ahead of
// the batch backlog. Re-requesting moves the id to the front; requests are
// deduplicated.
func (h *Harvester) Request(id string) {
	h.mu.Lock()
	if el, ok := h.inQueue[id]; ok {
		h.priority.MoveToFront(el)
	} else {
		h.inQueue[id] = h.priority.PushFront(id)
	}
	depth := h.priority.Len()
	h.mu.Unlock()

	metrics.HarvesterQueueDepth.WithLabelValues("priority").Set(float64(depth))

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// run is the single cooperative worker. It never overlaps extractions.
func (h *Harvester) run() {
	defer close(h.done)

	for {
		select {
		case <-h.stopCh:
			return
		default:
		}

		if !h.prober.Available() {
			h.sleep(idleInterval)
			continue
		}

		rec, fromPriority := h.next()
		if rec == nil {
			if fromPriority {
				continue // skipped a stale priority item, check again now
			}
			h.sleep(idleInterval)
			continue
		}

		h.process(rec, fromPriority)

		if !fromPriority {
			h.sleep(interItemDelay)
		}
	}
}

// next picks the next target: priority head first, then the batch queue,
// refilling it from the store when drained. Returns nil when there is no
// work.
func (h *Harvester) next() (*database.MediaRecord, bool) {
	ctx := context.Background()

	h.mu.Lock()
	if front := h.priority.Front(); front != nil {
		id := h.priority.Remove(front).(string)
		delete(h.inQueue, id)
		depth := h.priority.Len()
		h.mu.Unlock()
		metrics.HarvesterQueueDepth.WithLabelValues("priority").Set(float64(depth))

		// Re-fetch fresh: the record may have been deleted or completed
		// while queued.
		rec, err := h.db.GetByID(ctx, id)
		if err != nil || rec == nil {
			return nil, true
		}
		if rec.MetadataStatus == database.MetadataCompleted {
			metrics.HarvesterExtractionsTotal.WithLabelValues("priority", "skipped").Inc()
			return nil, true
		}
		return rec, true
	}

	if len(h.batch) == 0 {
		h.mu.Unlock()
		h.refill(ctx)
		h.mu.Lock()
	}

	if len(h.batch) == 0 {
		h.mu.Unlock()
		return nil, false
	}

	rec := h.batch[0]
	h.batch = h.batch[1:]
	depth := len(h.batch)
	h.mu.Unlock()
	metrics.HarvesterQueueDepth.WithLabelValues("batch").Set(float64(depth))
	return rec, false
}

// refill pulls the next page of pending work, newest modified first.
func (h *Harvester) refill(ctx context.Context) {
	records, err := h.db.QueryByMetadataStatus(ctx, database.MetadataPending, batchPageSize)
	if err != nil {
		logging.Warn("Harvester refill failed: %v", err)
		return
	}

	h.mu.Lock()
	h.batch = records
	h.mu.Unlock()
	metrics.HarvesterQueueDepth.WithLabelValues("batch").Set(float64(len(records)))

	if len(records) > 0 {
		logging.Debug("Harvester refilled %d pending records", len(records))
	}
}

// process runs one extraction. Races with deletion or a concurrent rescan
// are handled by skipping silently.
func (h *Harvester) process(rec *database.MediaRecord, fromPriority bool) {
	ctx := context.Background()
	source := "batch"
	if fromPriority {
		source = "priority"
	}

	// Re-verify: the file and record may be gone by now
	current, err := h.db.GetByID(ctx, rec.ID)
	if err != nil || current == nil || !current.IsAvailable() {
		metrics.HarvesterExtractionsTotal.WithLabelValues(source, "skipped").Inc()
		return
	}
	if _, err := filesystem.StatWithRetry(current.Path, filesystem.DefaultRetryConfig()); err != nil {
		metrics.HarvesterExtractionsTotal.WithLabelValues(source, "skipped").Inc()
		return
	}

	if err := h.db.SetMetadataStatus(ctx, current.ID, database.MetadataProcessing); err != nil {
		logging.Warn("Failed to mark %s processing: %v", current.ID, err)
		return
	}

	start := time.Now()
	meta, err := h.prober.Extract(ctx, current.Path)
	metrics.HarvesterExtractionDuration.Observe(time.Since(start).Seconds())

	if err != nil || meta == nil {
		logging.Debug("Extraction failed for %s: %v", current.Path, err)
		if err := h.db.SetMetadataStatus(ctx, current.ID, database.MetadataFailed); err != nil {
			logging.Warn("Failed to mark %s failed: %v", current.ID, err)
		}
		metrics.HarvesterExtractionsTotal.WithLabelValues(source, "failed").Inc()
		return
	}

	if err := h.db.CompleteMetadata(ctx, current.ID, meta); err != nil {
		logging.Warn("Failed to persist metadata for %s: %v", current.ID, err)
		return
	}

	metrics.HarvesterExtractionsTotal.WithLabelValues(source, "completed").Inc()
	h.events.Publish(events.RecordChanged{ID: current.ID, Path: current.Path})
	logging.Debug("Harvested metadata for %s in %v", current.Path, time.Since(start))
}

// sleep waits for d, a wake-up from Request, or shutdown.
func (h *Harvester) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-h.wake:
	case <-h.stopCh:
	}
}
