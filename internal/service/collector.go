package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	llotel "github.com/Strob0t/LaunchLoop/internal/adapter/otel"
	"github.com/Strob0t/LaunchLoop/internal/config"
	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/event"
	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
	"github.com/Strob0t/LaunchLoop/internal/domain/metric"
	"github.com/Strob0t/LaunchLoop/internal/port/metricsource"
	"github.com/Strob0t/LaunchLoop/internal/resilience"
)

// BatchFunc receives every batch of accepted snapshots.
type BatchFunc func(ctx context.Context, batch []metric.Snapshot)

// SourceFactory builds the metric source for a platform.
type SourceFactory func(platform string, settings map[string]string) (metricsource.Source, error)

// Collector polls every enabled channel on its platform's interval. Each
// channel has its own worker, breaker and retry budget, so one failing
// channel never delays another.
type Collector struct {
	cfg      *config.Config
	graphs   *GraphStore
	snaps    *SnapshotStore
	events   *EventService
	metrics  *llotel.Metrics
	breakers *resilience.Set
	factory  SourceFactory
	onBatch  BatchFunc
	now      func() time.Time

	smu      sync.Mutex
	sources  map[string]metricsource.Source
	limiters map[string]*rate.Limiter

	wmu     sync.Mutex
	root    context.Context
	workers map[string]*pollWorker
	wg      sync.WaitGroup
}

type pollWorker struct {
	platform string
	interval time.Duration
	cancel   context.CancelFunc
}

// NewCollector creates a collector using the registered metric sources.
func NewCollector(cfg *config.Config, graphs *GraphStore, snaps *SnapshotStore, events *EventService) *Collector {
	return &Collector{
		cfg:      cfg,
		graphs:   graphs,
		snaps:    snaps,
		events:   events,
		breakers: resilience.NewSet(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout),
		now:      time.Now,
		sources:  make(map[string]metricsource.Source),
		limiters: make(map[string]*rate.Limiter),
		workers:  make(map[string]*pollWorker),
	}
}

// SetMetrics records poll cycles.
func (c *Collector) SetMetrics(m *llotel.Metrics) { c.metrics = m }

// SetSourceFactory replaces the metric source registry lookup. Sources are
// cached per platform after the first call.
func (c *Collector) SetSourceFactory(f SourceFactory) { c.factory = f }

// OnBatch registers the consumer of accepted snapshots.
func (c *Collector) OnBatch(fn BatchFunc) { c.onBatch = fn }

// Breakers exposes the per-channel breaker states.
func (c *Collector) Breakers() map[string]string { return c.breakers.States() }

// Interval returns the polling interval of a channel in the current graph.
func (c *Collector) Interval(channelID string) time.Duration {
	ch, ok := c.graphs.Read().Channels[channelID]
	if !ok {
		return 0
	}
	return c.cfg.PlatformOrDefault(ch.Platform).Interval
}

// Start launches workers for the current channels and keeps them in sync
// with graph commits until ctx ends.
func (c *Collector) Start(ctx context.Context) {
	c.wmu.Lock()
	c.root = ctx
	c.wmu.Unlock()

	unsubscribe := c.graphs.Subscribe(func(_ context.Context, cm Commit) {
		if cm.Mutation == nil || cm.Result.ChannelsChanged {
			c.Reconcile(cm.Graph)
		}
	})
	c.Reconcile(c.graphs.Read())

	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
}

// Stop cancels all workers and waits for them. In-flight batches are
// discarded.
func (c *Collector) Stop() {
	c.wmu.Lock()
	for id, w := range c.workers {
		w.cancel()
		delete(c.workers, id)
	}
	c.wmu.Unlock()
	c.wg.Wait()
}

// Reconcile starts workers for new channels and stops workers for channels
// that were retired, disabled or moved to another platform.
func (c *Collector) Reconcile(g *graph.Graph) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.root == nil {
		return
	}

	want := make(map[string]*graph.Channel)
	for _, ch := range g.ActiveChannels() {
		if c.factory == nil && !metricsource.Registered(ch.Platform) {
			slog.Warn("no metric source for channel platform", "channel_id", ch.ID, "platform", ch.Platform)
			continue
		}
		want[ch.ID] = ch
	}

	for id, w := range c.workers {
		ch, keep := want[id]
		interval := time.Duration(0)
		if keep {
			interval = c.cfg.PlatformOrDefault(ch.Platform).Interval
		}
		if keep && ch.Platform == w.platform && interval == w.interval {
			continue
		}
		w.cancel()
		delete(c.workers, id)
		c.breakers.Remove(id)
		slog.Info("collector worker stopped", "channel_id", id)
	}

	for id, ch := range want {
		if _, running := c.workers[id]; running {
			continue
		}
		interval := c.cfg.PlatformOrDefault(ch.Platform).Interval
		wctx, cancel := context.WithCancel(c.root)
		c.workers[id] = &pollWorker{platform: ch.Platform, interval: interval, cancel: cancel}
		c.wg.Add(1)
		go c.run(wctx, id, interval)
		slog.Info("collector worker started", "channel_id", id, "platform", ch.Platform, "interval", interval)
	}
}

// Channels returns the ids of the channels being polled.
func (c *Collector) Channels() []string {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	ids := make([]string, 0, len(c.workers))
	for id := range c.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Collector) run(ctx context.Context, channelID string, interval time.Duration) {
	defer c.wg.Done()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := c.Poll(ctx, channelID); err != nil && ctx.Err() == nil {
			slog.Debug("poll cycle failed", "channel_id", channelID, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollAll runs one poll cycle for every active channel concurrently and
// returns the accepted snapshot count per channel. Failed channels are
// reported through metrics.degraded events and do not fail the others.
func (c *Collector) PollAll(ctx context.Context) map[string]int {
	channels := c.graphs.Read().ActiveChannels()
	counts := make(map[string]int, len(channels))
	var mu sync.Mutex

	eg, ectx := errgroup.WithContext(ctx)
	for _, ch := range channels {
		eg.Go(func() error {
			n, err := c.Poll(ectx, ch.ID)
			if err != nil {
				return nil //nolint:nilerr // degraded channels are reported via events
			}
			mu.Lock()
			counts[ch.ID] = n
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return counts
}

// Poll fetches one channel with retries and ingests the result. It returns
// the number of accepted snapshots.
func (c *Collector) Poll(ctx context.Context, channelID string) (int, error) {
	g := c.graphs.Read()
	ch, ok := g.Channels[channelID]
	if !ok || ch.Retired || !ch.Enabled {
		return 0, fmt.Errorf("%w: channel %s is not active", domain.ErrNotFound, channelID)
	}
	ref := channelRef(g, ch)
	if len(ref.Nodes) == 0 {
		return 0, nil
	}

	src, err := c.source(ch.Platform)
	if err != nil {
		return 0, err
	}
	pcfg := c.cfg.PlatformOrDefault(ch.Platform)
	limiter := c.limiter(ch.Platform, pcfg)
	breaker := c.breakers.For(channelID)

	ctx, span := llotel.StartPollSpan(ctx, channelID, ch.Platform)
	defer span.End()
	start := c.now()

	policy := resilience.RetryPolicy{
		Base:           c.cfg.Collector.BackoffBase,
		Cap:            c.cfg.Collector.BackoffCap,
		MaxAttempts:    c.cfg.Collector.MaxAttempts,
		AttemptTimeout: c.cfg.Collector.AttemptTimeout,
	}
	failures := 0
	raws, err := resilience.Do(ctx, policy, func(actx context.Context) ([]metric.Raw, error) {
		if err := limiter.Wait(actx); err != nil {
			return nil, err
		}
		var out []metric.Raw
		err := breaker.Execute(func() error {
			var ferr error
			out, ferr = src.FetchMetrics(actx, ref)
			return ferr
		})
		return out, classifyFetchError(err)
	}, func(attempt int, err error, wait time.Duration) {
		failures = attempt
		slog.Warn("channel fetch failed, retrying",
			"channel_id", channelID, "attempt", attempt, "wait", wait, "error", err)
	})
	elapsed := c.now().Sub(start).Seconds()

	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		failures++
		c.metrics.Polled(ctx, ch.Platform, elapsed, failures, true)
		span.RecordError(err)
		slog.Error("channel degraded for this cycle",
			"channel_id", channelID, "platform", ch.Platform, "attempts", failures, "error", err)
		c.events.Emit(ctx, event.TypeMetricsDegraded, event.MetricsDegraded{
			ChannelID: channelID,
			Platform:  ch.Platform,
			Attempts:  failures,
			Error:     err.Error(),
			At:        c.now().UTC(),
		})
		return 0, fmt.Errorf("%w: %s: %w", domain.ErrChannelFetch, channelID, err)
	}
	c.metrics.Polled(ctx, ch.Platform, elapsed, failures, false)

	// Shutdown between fetch and append discards the batch.
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	return c.ingest(ctx, g, ch, raws, fieldMapOf(src))
}

// Ingest accepts pushed readings for a channel, e.g. from a platform
// webhook relayed over NATS.
func (c *Collector) Ingest(ctx context.Context, channelID string, raws []metric.Raw) (int, error) {
	g := c.graphs.Read()
	ch, ok := g.Channels[channelID]
	if !ok {
		return 0, fmt.Errorf("%w: channel %s", domain.ErrNotFound, channelID)
	}
	if ch.Retired {
		return 0, fmt.Errorf("%w: channel %s is retired", domain.ErrStaleTarget, channelID)
	}
	var fm metric.FieldMap
	if src, err := c.source(ch.Platform); err == nil {
		fm = fieldMapOf(src)
	}
	return c.ingest(ctx, g, ch, raws, fm)
}

func (c *Collector) ingest(ctx context.Context, g *graph.Graph, ch *graph.Channel, raws []metric.Raw, fm metric.FieldMap) (int, error) {
	snaps, err := metric.Normalize(ch.ID, ch.Platform, raws, fm, c.now())
	if err != nil {
		return 0, err
	}
	// Readings for nodes outside the channel or already retired are ignored.
	kept := snaps[:0]
	for _, s := range snaps {
		if post, ok := g.Posts[s.NodeID]; ok && !post.Retired() {
			if owner, ok := g.ChannelOf(s.NodeID); ok && owner.ID == ch.ID {
				if s.PublishedAt == nil {
					s.PublishedAt = post.PublishedAt
				}
				kept = append(kept, s)
			}
		}
	}
	accepted, err := c.snaps.Append(ctx, kept)
	if err != nil {
		return 0, err
	}
	if len(accepted) > 0 && c.onBatch != nil {
		c.onBatch(ctx, accepted)
	}
	slog.Debug("snapshots ingested", "channel_id", ch.ID, "received", len(raws), "accepted", len(accepted))
	return len(accepted), nil
}

func (c *Collector) source(platform string) (metricsource.Source, error) {
	c.smu.Lock()
	defer c.smu.Unlock()
	if src, ok := c.sources[platform]; ok {
		return src, nil
	}
	factory := c.factory
	if factory == nil {
		factory = metricsource.New
	}
	src, err := factory(platform, c.cfg.PlatformOrDefault(platform).Settings)
	if err != nil {
		return nil, err
	}
	c.sources[platform] = src
	return src, nil
}

func (c *Collector) limiter(platform string, p config.Platform) *rate.Limiter {
	c.smu.Lock()
	defer c.smu.Unlock()
	l, ok := c.limiters[platform]
	if !ok {
		l = rate.NewLimiter(rate.Limit(p.RatePerSecond), p.Burst)
		c.limiters[platform] = l
	}
	return l
}

// channelRef lists the live posts of a channel with the platform id of the
// content currently shown: the active variant's ref when it has one.
func channelRef(g *graph.Graph, ch *graph.Channel) metricsource.ChannelRef {
	ref := metricsource.ChannelRef{ChannelID: ch.ID, Platform: ch.Platform, ExternalRef: ch.ExternalRef}
	for _, p := range g.PostsUnder(ch.ID) {
		ext := p.ExternalRef
		if v, ok := g.Variants[p.ActiveVariantID]; ok && v.ExternalRef != "" {
			ext = v.ExternalRef
		}
		ref.Nodes = append(ref.Nodes, metricsource.NodeRef{NodeID: p.ID, ExternalID: ext})
	}
	sort.Slice(ref.Nodes, func(i, j int) bool { return ref.Nodes[i].NodeID < ref.Nodes[j].NodeID })
	return ref
}

func fieldMapOf(src metricsource.Source) metric.FieldMap {
	if fm, ok := src.(metricsource.FieldMapper); ok {
		return fm.FieldMap()
	}
	return nil
}

// classifyFetchError maps source errors onto the retry policy.
func classifyFetchError(err error) error {
	if err == nil {
		return nil
	}
	var perm *metricsource.PermanentError
	if errors.As(err, &perm) || errors.Is(err, resilience.ErrCircuitOpen) {
		return resilience.Permanent(err)
	}
	var limited *metricsource.RateLimitError
	if errors.As(err, &limited) && limited.RetryAfter > 0 {
		return resilience.RetryAfter(limited.RetryAfter)
	}
	return err
}
