package metrics

import (
	"runtime"
	"sync"
	"time"

	"speelycaptor/internal/logging"
)

// StatsProvider interface for collecting stats
type StatsProvider interface {
	StagingStats() Stats
}

// Stats holds the staging store figures exported as gauges.
type Stats struct {
	Entries    int
	NextExpiry time.Time
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
	done          chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection and waits for the loop to exit.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		<-c.done
	})
}

func (c *Collector) collectLoop() {
	defer close(c.done)

	// Collect immediately on start
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	GoGoroutines.Set(float64(runtime.NumGoroutine()))
	GoHeapAllocBytes.Set(float64(mem.HeapAlloc))

	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.StagingStats()
	StagingEntries.Set(float64(stats.Entries))

	logging.Debug("Metrics collected: entries=%d, goroutines=%d", stats.Entries, runtime.NumGoroutine())
}
