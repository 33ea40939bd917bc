// Package view exposes the two client-facing screens, portfolio and trade,
// as headless state holders over the cache, metrics and trade packages.
package view

import (
	"context"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"tradedesk/pkg/cache"
	"tradedesk/pkg/metrics"
	"tradedesk/pkg/portfolio"
	"tradedesk/pkg/transport"
)

// Snapshot is everything the portfolio screen renders. Metrics are derived
// from Holdings every time a snapshot is built.
type Snapshot struct {
	Holdings  portfolio.Holdings
	Metrics   metrics.AggregateMetrics
	Breakdown []metrics.Slice
	Positions []metrics.Position
	Trend     metrics.Trend

	// Loaded is false until the first fetch resolved.
	Loaded bool
	// Empty means the portfolio holds no positions.
	Empty bool
	// Err is the last refresh error; Holdings then carries the retained data.
	Err       error
	UpdatedAt time.Time
}

func buildSnapshot(h portfolio.Holdings, err error, at time.Time, loaded bool) Snapshot {
	h = h.Clone()
	agg := metrics.Aggregate(h)
	return Snapshot{
		Holdings:  h,
		Metrics:   agg,
		Breakdown: metrics.ChartBreakdown(h),
		Positions: metrics.PositionMetrics(h),
		Trend:     metrics.TrendOf(agg.GrowthPercent),
		Loaded:    loaded,
		Empty:     len(h) == 0,
		Err:       err,
		UpdatedAt: at,
	}
}

// PortfolioView polls holdings while open and publishes a fresh snapshot on
// every refresh.
type PortfolioView struct {
	client   transport.Client
	holdings *cache.Cache[portfolio.Holdings]
	interval time.Duration

	mu          sync.Mutex
	snap        Snapshot
	seq         uint64
	updates     chan Snapshot
	unsubscribe func()
	closed      bool
}

// NewPortfolioView subscribes to the holdings key with the given refresh
// interval. Holdings already in the cache are published before it returns.
// Close must be called to stop polling.
func NewPortfolioView(client transport.Client, holdings *cache.Cache[portfolio.Holdings], interval time.Duration) *PortfolioView {
	if interval <= 0 {
		interval = cache.DefaultPortfolioRefresh
	}
	v := &PortfolioView{
		client:   client,
		holdings: holdings,
		interval: interval,
		updates:  make(chan Snapshot, 1),
	}
	v.unsubscribe = holdings.Subscribe(cache.HoldingsKey(), client.ListHoldings, interval, v.onEvent)
	return v
}

func (v *PortfolioView) onEvent(e cache.Event[portfolio.Holdings]) {
	if e.Err != nil {
		logx.Errorf("portfolio view: refresh failed: %v", e.Err)
	}
	entry, _ := v.holdings.Peek(e.Key)
	v.publish(buildSnapshot(e.Value, e.Err, e.FetchedAt, entry.HasValue), e.Seq)
}

// publish replaces the current snapshot unless seq is older than the one
// shown; a reader that fell behind only sees the newest one.
func (v *PortfolioView) publish(s Snapshot, seq uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || seq < v.seq {
		return
	}
	v.seq = seq
	v.snap = s
	select {
	case <-v.updates:
	default:
	}
	v.updates <- s
}

// Refresh reads holdings through the cache and returns the resulting
// snapshot. It blocks only when no data has been loaded yet.
func (v *PortfolioView) Refresh(ctx context.Context) (Snapshot, error) {
	h, err := v.holdings.Read(ctx, cache.HoldingsKey(), v.client.ListHoldings, v.interval)
	entry, _ := v.holdings.Peek(cache.HoldingsKey())
	s := buildSnapshot(h, err, entry.FetchedAt, entry.HasValue)
	v.mu.Lock()
	if !v.closed {
		v.snap = s
	}
	v.mu.Unlock()
	return s, err
}

// Snapshot returns the latest published state.
func (v *PortfolioView) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snap
}

// Updates delivers snapshots as refreshes land. It is closed by Close.
func (v *PortfolioView) Updates() <-chan Snapshot {
	return v.updates
}

// Close stops polling. Safe to call more than once.
func (v *PortfolioView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	close(v.updates)
	v.mu.Unlock()
	v.unsubscribe()
}
