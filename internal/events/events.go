// Package events provides a typed outbound event dispatcher.
//
// Core components publish events here to request work from external
// collaborators (thumbnail generation, UI cache invalidation) without
// knowing who consumes them. Delivery is asynchronous and best-effort;
// a slow subscriber drops events rather than blocking a scan.
package events

import (
	"sync"

	"media-indexer/internal/logging"
	"media-indexer/internal/metrics"
)

// Event is a typed outbound message.
type Event interface {
	// Kind returns a stable label for logging and metrics.
	Kind() string
}

// ThumbnailRequest asks the thumbnail collaborator to generate previews
// for the given paths.
type ThumbnailRequest struct {
	Paths      []string
	Regenerate bool
}

func (ThumbnailRequest) Kind() string { return "thumbnail_request" }

// ThumbnailInvalidate asks for any cached preview of a path to be discarded.
type ThumbnailInvalidate struct {
	Path string
}

func (ThumbnailInvalidate) Kind() string { return "thumbnail_invalidate" }

// RecordChanged announces that a record's fields changed (rebind, heal,
// metadata completion) so UI caches can refresh.
type RecordChanged struct {
	ID   string
	Path string
}

func (RecordChanged) Kind() string { return "record_changed" }

// LibraryRefresh announces that a bulk operation finished and listings
// should be reloaded.
type LibraryRefresh struct {
	Folder string
}

func (LibraryRefresh) Kind() string { return "library_refresh" }

// Subscriber receives dispatched events.
type Subscriber func(Event)

const subscriberBuffer = 256

// Dispatcher fans events out to subscribers, each on its own goroutine
// with a bounded queue.
type Dispatcher struct {
	mu      sync.Mutex
	subs    []chan Event
	wg      sync.WaitGroup
	stopped bool
}

// NewDispatcher creates an empty dispatcher. Subscribers attach before
// events flow; late subscribers miss earlier events.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers fn to receive all future events.
func (d *Dispatcher) Subscribe(fn Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	ch := make(chan Event, subscriberBuffer)
	d.subs = append(d.subs, ch)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for ev := range ch {
			fn(ev)
		}
	}()
}

// Publish delivers ev to every subscriber without blocking. Events to a
// full subscriber queue are dropped and counted.
func (d *Dispatcher) Publish(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	metrics.EventsPublished.WithLabelValues(ev.Kind()).Inc()

	for _, ch := range d.subs {
		select {
		case ch <- ev:
		default:
			metrics.EventsSubscriberDropped.WithLabelValues(ev.Kind()).Inc()
			logging.Warn("Dropped %s event: subscriber queue full", ev.Kind())
		}
	}
}

// Stop closes all subscriber queues and waits for in-flight deliveries.
// Publish becomes a no-op afterwards.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, ch := range d.subs {
		close(ch)
	}
	d.mu.Unlock()

	d.wg.Wait()
	logging.Info("Event dispatcher stopped")
}
