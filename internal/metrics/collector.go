package metrics

import (
	"sync"
	"time"

	"ugoira-transcoder/internal/logging"
)

// StatsProvider reports the size of the transcode cache.
type StatsProvider interface {
	GetStats() Stats
}

// Stats is one cache sample.
type Stats struct {
	CachedFiles int
	CachedBytes int64
}

// Collector samples a StatsProvider on an interval and publishes the cache
// gauges. A nil provider disables sampling.
type Collector struct {
	provider StatsProvider
	interval time.Duration

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// Touched only by the collect goroutine.
	last    Stats
	sampled bool
}

// NewCollector returns a stopped collector.
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Collector{
		provider: provider,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start samples once and then every interval until Stop.
func (c *Collector) Start() {
	go c.run()
}

// Stop ends sampling and waits for an in-progress sample to finish. It is
// safe to call more than once, but only after Start.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Collector) run() {
	defer close(c.done)

	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stop:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.provider == nil {
		return
	}

	stats := c.provider.GetStats()
	CacheEntries.Set(float64(stats.CachedFiles))
	CacheSizeBytes.Set(float64(stats.CachedBytes))

	if !c.sampled || stats != c.last {
		logging.Debug("Transcode cache: %d files, %d bytes", stats.CachedFiles, stats.CachedBytes)
	}
	c.last, c.sampled = stats, true
}
