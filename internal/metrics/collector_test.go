package metrics

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type mockStatsProvider struct {
	mu          sync.Mutex
	stats       Stats
	dbUpdateCnt int
	getStatsCnt int
}

func (m *mockStatsProvider) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getStatsCnt++
	return m.stats
}

func (m *mockStatsProvider) UpdateDBMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dbUpdateCnt++
}

func (m *mockStatsProvider) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getStatsCnt, m.dbUpdateCnt
}

func TestNewCollector(t *testing.T) {
	provider := &mockStatsProvider{}
	c := NewCollector(provider, "/tmp/test.db", 5*time.Second)

	if c == nil {
		t.Fatal("NewCollector returned nil")
	}
	if c.provider != provider {
		t.Error("provider not set correctly")
	}
	if c.dbPath != "/tmp/test.db" {
		t.Errorf("dbPath = %q, want %q", c.dbPath, "/tmp/test.db")
	}
	if c.interval != 5*time.Second {
		t.Errorf("interval = %v, want %v", c.interval, 5*time.Second)
	}
	if c.stopChan == nil {
		t.Error("stopChan not initialized")
	}
}

func TestCollectQueriesProvider(t *testing.T) {
	provider := &mockStatsProvider{stats: Stats{
		Available:       7,
		Missing:         2,
		MetadataPending: 4,
		MetadataFailed:  1,
	}}

	dbPath := filepath.Join(t.TempDir(), "index.db")
	if err := os.WriteFile(dbPath, make([]byte, 2048), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c := NewCollector(provider, dbPath, time.Hour)
	c.collect()

	if gets, updates := provider.counts(); gets != 1 || updates != 1 {
		t.Errorf("provider calls = (%d, %d), want (1, 1)", gets, updates)
	}
}

func TestCollectorStartStop(t *testing.T) {
	provider := &mockStatsProvider{}
	c := NewCollector(provider, filepath.Join(t.TempDir(), "index.db"), 10*time.Millisecond)

	c.Start()
	time.Sleep(50 * time.Millisecond)
	c.Stop()

	gets, _ := provider.counts()
	if gets < 2 {
		t.Errorf("GetStats called %d times, want at least 2 (initial + ticks)", gets)
	}

	// No further collections after stop.
	time.Sleep(30 * time.Millisecond)
	after, _ := provider.counts()
	time.Sleep(30 * time.Millisecond)
	final, _ := provider.counts()
	if final != after {
		t.Errorf("collections continued after Stop: %d -> %d", after, final)
	}
}
