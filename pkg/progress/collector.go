package progress

import (
	"context"
	"sync"
	"time"

	"github.com/jdziat/shardwork/pkg/core"
)

// EventSource is the event bus the collector subscribes to. The
// scheduler implements it.
type EventSource interface {
	Events() <-chan core.Event
	Unsubscribe(ch <-chan core.Event)
}

// Collector subscribes to scheduler events and periodically snapshots
// shard-status depth into the history store.
type Collector struct {
	source    EventSource
	store     core.Store
	history   HistoryStore
	retention time.Duration
	interval  time.Duration

	mu       sync.Mutex
	counters map[string]*statCounters

	// ready is closed once the collector has subscribed and is processing.
	ready     chan struct{}
	readyOnce sync.Once
}

type statCounters struct {
	completed int64
	partial   int64
	failed    int64
	retried   int64
}

// CollectorOption configures the Collector.
type CollectorOption interface {
	ApplyCollector(*Collector)
}

type collectorOptionFunc func(*Collector)

func (f collectorOptionFunc) ApplyCollector(c *Collector) { f(c) }

// WithRetention sets how long history rows are kept.
func WithRetention(d time.Duration) CollectorOption {
	return collectorOptionFunc(func(c *Collector) {
		c.retention = d
	})
}

// WithFlushInterval sets the flush/snapshot/prune cadence.
func WithFlushInterval(d time.Duration) CollectorOption {
	return collectorOptionFunc(func(c *Collector) {
		c.interval = d
	})
}

// NewCollector creates a history collector.
func NewCollector(source EventSource, store core.Store, history HistoryStore, opts ...CollectorOption) *Collector {
	c := &Collector{
		source:    source,
		store:     store,
		history:   history,
		retention: 7 * 24 * time.Hour,
		interval:  time.Minute,
		counters:  make(map[string]*statCounters),
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt.ApplyCollector(c)
	}
	return c
}

// WaitReady blocks until the collector has subscribed to events.
func (c *Collector) WaitReady() {
	<-c.ready
}

// Start begins the event listener and periodic snapshot ticker.
// Blocks until ctx is cancelled.
func (c *Collector) Start(ctx context.Context) {
	events := c.source.Events()
	defer c.source.Unsubscribe(events)

	c.readyOnce.Do(func() { close(c.ready) })

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.Flush(flushCtx)
			cancel()
			return
		case e := <-events:
			c.handleEvent(e)
		case <-ticker.C:
			c.Flush(ctx)
			c.snapshot(ctx)
			c.prune(ctx)
		}
	}
}

func (c *Collector) handleEvent(e core.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev := e.(type) {
	case *core.ShardCompleted:
		if ev.Partial {
			c.getCounters(ev.Shard.Kind).partial++
		} else {
			c.getCounters(ev.Shard.Kind).completed++
		}
	case *core.ShardFailed:
		c.getCounters(ev.Shard.Kind).failed++
	case *core.ShardRetrying:
		c.getCounters(ev.Shard.Kind).retried++
	}
}

func (c *Collector) getCounters(kind string) *statCounters {
	sc, ok := c.counters[kind]
	if !ok {
		sc = &statCounters{}
		c.counters[kind] = sc
	}
	return sc
}

// Flush writes accumulated counters to the history store.
func (c *Collector) Flush(ctx context.Context) {
	c.mu.Lock()
	batch := c.counters
	c.counters = make(map[string]*statCounters)
	c.mu.Unlock()

	ts := time.Now().Truncate(time.Minute)
	for kind, sc := range batch {
		if sc.completed == 0 && sc.partial == 0 && sc.failed == 0 && sc.retried == 0 {
			continue
		}
		_ = c.history.UpsertCounters(ctx, kind, ts, sc.completed, sc.partial, sc.failed, sc.retried)
	}
}

func (c *Collector) snapshot(ctx context.Context) {
	ts := time.Now().Truncate(time.Minute)

	depth := make(map[string]*[2]int64) // [pending, running]

	for _, status := range []core.ShardStatus{core.StatusPending, core.StatusRunning} {
		shards, err := c.store.GetShardsByStatus(ctx, status, 10000)
		if err != nil {
			continue
		}
		for _, shard := range shards {
			d, ok := depth[shard.Kind]
			if !ok {
				d = &[2]int64{}
				depth[shard.Kind] = d
			}
			switch status {
			case core.StatusPending:
				d[0]++
			case core.StatusRunning:
				d[1]++
			}
		}
	}

	for kind, d := range depth {
		_ = c.history.SnapshotDepth(ctx, kind, ts, d[0], d[1])
	}
}

func (c *Collector) prune(ctx context.Context) {
	if c.retention > 0 {
		_, _ = c.history.Prune(ctx, time.Now().Add(-c.retention))
	}
}
