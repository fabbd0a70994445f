package metrics

import (
	"os"
	"time"

	"media-indexer/internal/logging"
)

// StatsProvider supplies library counts for the collector. Implemented by
// the database package; declared here to break the import cycle.
type StatsProvider interface {
	GetStats() Stats
	UpdateDBMetrics()
}

// Stats holds the library counts the collector exports as gauges.
type Stats struct {
	Available       int
	Missing         int
	MetadataPending int
	MetadataFailed  int
}

// Collector periodically updates library and database gauges.
type Collector struct {
	provider StatsProvider
	dbPath   string
	interval time.Duration
	stopChan chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(provider StatsProvider, dbPath string, interval time.Duration) *Collector {
	return &Collector{
		provider: provider,
		dbPath:   dbPath,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the metrics collection loop.
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection.
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	// Collect immediately on start
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			logging.Debug("Metrics collector stopped")
			return
		}
	}
}

func (c *Collector) collect() {
	stats := c.provider.GetStats()

	LibraryRecords.WithLabelValues("available").Set(float64(stats.Available))
	LibraryRecords.WithLabelValues("missing").Set(float64(stats.Missing))
	LibraryMetadataBacklog.WithLabelValues("pending").Set(float64(stats.MetadataPending))
	LibraryMetadataBacklog.WithLabelValues("failed").Set(float64(stats.MetadataFailed))

	c.provider.UpdateDBMetrics()
	c.collectDBSizes()
}

func (c *Collector) collectDBSizes() {
	files := map[string]string{
		"main": c.dbPath,
		"wal":  c.dbPath + "-wal",
		"shm":  c.dbPath + "-shm",
	}

	for label, path := range files {
		if info, err := os.Stat(path); err == nil {
			DBSizeBytes.WithLabelValues(label).Set(float64(info.Size()))
		} else {
			DBSizeBytes.WithLabelValues(label).Set(0)
		}
	}
}
