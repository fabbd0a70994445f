package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"media-indexer/internal/database"
	"media-indexer/internal/events"
	"media-indexer/internal/filesystem"
	"media-indexer/internal/gc"
	"media-indexer/internal/handlers"
	"media-indexer/internal/harvester"
	"media-indexer/internal/integrity"
	"media-indexer/internal/logging"
	"media-indexer/internal/metrics"
	"media-indexer/internal/middleware"
	"media-indexer/internal/probe"
	"media-indexer/internal/rebinder"
	"media-indexer/internal/scanner"
	"media-indexer/internal/startup"
	"media-indexer/internal/watcher"

	"github.com/gorilla/mux"
)

// statsProvider adapts the database to the metrics collector.
type statsProvider struct {
	db *database.Database
}

func (p statsProvider) GetStats() metrics.Stats {
	s := p.db.GetStats()
	return metrics.Stats{
		Available:       s.Available,
		Missing:         s.Missing,
		MetadataPending: s.MetadataPending,
		MetadataFailed:  s.MetadataFailed,
	}
}

func (p statsProvider) UpdateDBMetrics() {
	p.db.UpdateDBMetrics()
}

func main() {
	startTime := time.Now()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	// Initialize metrics before any subsystem can emit them
	if config.MetricsEnabled {
		metrics.InitializeMetrics()
	}
	filesystem.SetObserver(metrics.NewFilesystemObserver())
	filesystem.SetDefaultVolumeResolver(newVolumeResolver(config.MediaDirs))

	// Initialize database
	dbStart := time.Now()
	db, err := database.New(context.Background(), config.DatabasePath)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	defer db.Close()
	startup.LogDatabaseInit(time.Since(dbStart))

	// Outbound event dispatcher. Subscribers are downstream collaborators
	// (thumbnailers, UI refresh); the core only publishes.
	dispatcher := events.NewDispatcher()

	// Metadata prober
	prober := probe.New(config.ProbePath)
	startup.LogProbeInit(config.ProbePath, prober.Available())

	// Core services
	rb := rebinder.New(db)
	reconciler := integrity.New(db, rb, dispatcher, config.MediaDirs)
	scan := scanner.New(db, rb, dispatcher, prober.Available)

	// Metadata harvester
	harv := harvester.New(context.Background(), db, prober, dispatcher)
	harv.Start()
	startup.LogSubsystemStarted("metadata harvester")

	// Filesystem watcher (optional, degrades to scan-only operation)
	var watch *watcher.Watcher
	if config.WatcherEnabled {
		watch, err = watcher.New(reconciler, config.MediaDirs, prober.Available)
		if err != nil {
			logging.Warn("Filesystem watcher unavailable, relying on scans: %v", err)
			watch = nil
		} else if err := watch.Start(); err != nil {
			logging.Warn("Failed to start filesystem watcher: %v", err)
			watch = nil
		} else {
			startup.LogSubsystemStarted("filesystem watcher")
		}
	}

	// Tombstone garbage collector
	collector := gc.New(db, config.MissingRetention)
	collector.Start()
	startup.LogSubsystemStarted("tombstone gc")

	// Periodic quiet scans over all roots
	scanStop := make(chan struct{})
	go runQuietScans(scan, config.MediaDirs, config.QuietScanInterval, scanStop)
	startup.LogSubsystemStarted("quiet-scan ticker")

	// Stats collector for Prometheus gauges
	var statsCollector *metrics.Collector
	if config.MetricsEnabled {
		statsCollector = metrics.NewCollector(statsProvider{db}, config.DatabasePath, 30*time.Second)
		statsCollector.Start()
	}

	// Initialize handlers
	h := handlers.New(db, scan, reconciler, harv, config)

	// Setup router
	router := setupRouter(h, config.MetricsEnabled)

	// Log routes dynamically
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	// Apply metrics middleware
	handler := http.Handler(router)
	if config.MetricsEnabled {
		handler = middleware.Metrics(middleware.DefaultMetricsConfig())(handler)
	}

	// Apply logging middleware
	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler = middleware.Logger(loggingConfig)(handler)

	// Create server
	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start graceful shutdown handler
	go handleShutdown(srv, watch, scanStop, scan, reconciler, harv, collector, statsCollector, dispatcher)

	h.MarkReady()

	// Start server
	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		startup.LogFatal("Server error: %v", err)
	}
}

// newVolumeResolver labels each library root by its base name so filesystem
// metrics can be split per volume.
func newVolumeResolver(roots []string) *filesystem.VolumeResolver {
	volumes := make(map[string]string, len(roots))
	for _, root := range roots {
		volumes[filepath.Base(root)] = root
	}
	return filesystem.NewVolumeResolver(volumes)
}

// runQuietScans sweeps every library root on a fixed interval, starting with
// an immediate pass so a fresh database gets populated without waiting.
func runQuietScans(scan *scanner.Scanner, roots []string, interval time.Duration, stop <-chan struct{}) {
	sweep := func() {
		for _, root := range roots {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := scan.ScanQuietly(context.Background(), root); err != nil {
				logging.Error("Quiet scan of %s failed: %v", root, err)
			}
		}
	}

	sweep()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sweep()
		case <-stop:
			return
		}
	}
}

func setupRouter(h *handlers.Handlers, metricsEnabled bool) *mux.Router {
	r := mux.NewRouter()

	// Health check and version routes
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	// API routes
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", h.GetStats).Methods("GET")
	api.HandleFunc("/records/{id}", h.GetRecord).Methods("GET")
	api.HandleFunc("/records/{id}/metadata", h.RequestMetadata).Methods("POST")
	api.HandleFunc("/lookup", h.LookupRecord).Methods("GET")
	api.HandleFunc("/folder", h.ListFolder).Methods("GET")
	api.HandleFunc("/scan", h.TriggerScan).Methods("POST")
	api.HandleFunc("/scan/quiet", h.TriggerQuietScan).Methods("POST")
	api.HandleFunc("/verify", h.TriggerVerify).Methods("POST")

	// Prometheus metrics
	if metricsEnabled {
		r.Handle("/metrics", h.MetricsHandler()).Methods("GET")
	}

	return r
}

func handleShutdown(srv *http.Server, watch *watcher.Watcher, scanStop chan struct{},
	scan *scanner.Scanner, reconciler *integrity.Service, harv *harvester.Harvester,
	collector *gc.Collector, statsCollector *metrics.Collector, dispatcher *events.Dispatcher) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if watch != nil {
		startup.LogShutdownStep("Stopping filesystem watcher")
		watch.Stop()
		startup.LogShutdownStepComplete("Filesystem watcher stopped")
	}

	startup.LogShutdownStep("Stopping scans")
	close(scanStop)
	scan.Stop()
	reconciler.Stop()
	startup.LogShutdownStepComplete("Scans stopped")

	startup.LogShutdownStep("Stopping metadata harvester")
	harv.Stop()
	startup.LogShutdownStepComplete("Metadata harvester stopped")

	startup.LogShutdownStep("Stopping tombstone gc")
	collector.Stop()
	startup.LogShutdownStepComplete("Tombstone gc stopped")

	if statsCollector != nil {
		statsCollector.Stop()
	}

	startup.LogShutdownStep("Stopping event dispatcher")
	dispatcher.Stop()
	startup.LogShutdownStepComplete("Event dispatcher stopped")

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownComplete()
}
