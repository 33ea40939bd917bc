// Package cache keeps remote data locally with stale-while-revalidate reads,
// explicit invalidation and timer-driven refresh for observed keys.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/syncx"
	"github.com/zeromicro/go-zero/core/threading"
)

// State describes how an entry relates to the remote source.
type State int

const (
	StateFresh State = iota
	StateStale
	StateFetching
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	case StateFetching:
		return "fetching"
	default:
		return "unknown"
	}
}

// Fetcher loads the current value for a key from the remote source.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Event is delivered to observers after every refresh attempt, and once on
// Subscribe when the key already holds a value. Err is set when the refresh
// failed; Value then holds the retained previous value. Seq grows with every
// refresh of the key, so an observer can drop events that arrive late.
type Event[T any] struct {
	Key       string
	Value     T
	Err       error
	FetchedAt time.Time
	Seq       uint64
}

// Observer receives refresh events for a subscribed key.
type Observer[T any] func(Event[T])

// Entry is a point-in-time copy of a cache slot.
type Entry[T any] struct {
	Key       string
	Value     T
	HasValue  bool
	FetchedAt time.Time
	State     State
	LastErr   error
}

type slot[T any] struct {
	value     T
	hasValue  bool
	fetchedAt time.Time
	stale     bool
	lastErr   error
	// ttl is the shortest positive TTL any reader or subscriber asked for.
	// Peek judges expiry against it.
	ttl time.Duration
	seq uint64

	// invalidated entries are refetched before the next Read returns.
	invalidated bool

	// gen advances on every Invalidate; valueGen is the generation the
	// stored value was fetched under.
	gen      uint64
	valueGen uint64
	// inflight is at most one: fetches are single-flighted per key.
	inflight int
	// refreshing is set when a background refresh has been scheduled.
	refreshing bool

	fetcher   Fetcher[T]
	observers map[int]Observer[T]
	nextObs   int
	stop      chan struct{}
}

// Option customises a Cache.
type Option func(*settings)

type settings struct {
	clock func() time.Time
}

// WithClock overrides the time source used for TTL checks.
func WithClock(clock func() time.Time) Option {
	return func(s *settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Cache is a keyed store of values of type T. Safe for concurrent use.
type Cache[T any] struct {
	mu     sync.Mutex
	slots  map[string]*slot[T]
	flight syncx.SingleFlight
	clock  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// New creates an empty cache. Close releases its timers.
func New[T any](opts ...Option) *Cache[T] {
	s := settings{clock: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache[T]{
		slots:  make(map[string]*slot[T]),
		flight: syncx.NewSingleFlight(),
		clock:  s.clock,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Cache[T]) slotLocked(key string) *slot[T] {
	s, ok := c.slots[key]
	if !ok {
		s = &slot[T]{observers: make(map[int]Observer[T])}
		c.slots[key] = s
	}
	return s
}

func (s *slot[T]) noteTTL(ttl time.Duration) {
	if ttl > 0 && (s.ttl == 0 || ttl < s.ttl) {
		s.ttl = ttl
	}
}

func (c *Cache[T]) expiredLocked(s *slot[T], ttl time.Duration) bool {
	if s.stale {
		return true
	}
	return ttl > 0 && c.clock().Sub(s.fetchedAt) >= ttl
}

// Read returns the value for key. A fresh value is returned as is. An expired
// value, or one left stale by a failed refresh, is returned immediately while
// a background refresh runs. With no value yet, or after Invalidate, Read
// blocks on the fetch; concurrent callers share it. A fetch that started
// before the invalidation is waited out and followed by a new one. If the
// fetch fails the previous value, if any, is returned alongside the error.
// ttl applies to this read only; ttl <= 0 means the value only expires
// through Invalidate.
func (c *Cache[T]) Read(ctx context.Context, key string, fetcher Fetcher[T], ttl time.Duration) (T, error) {
	c.mu.Lock()
	s := c.slotLocked(key)
	s.noteTTL(ttl)
	if s.fetcher == nil {
		s.fetcher = fetcher
	}
	if s.hasValue && !s.invalidated {
		value := s.value
		if c.expiredLocked(s, ttl) {
			c.refreshAsyncLocked(s, key, fetcher)
		}
		c.mu.Unlock()
		return value, nil
	}
	want := s.gen
	prev, had := s.value, s.hasValue
	c.mu.Unlock()

	for {
		res, err := c.fetch(ctx, key, fetcher)
		if res.gen < want {
			// Joined a flight from before the invalidation.
			if ctx.Err() == nil {
				continue
			}
			err = ctx.Err()
		}
		if err != nil && had {
			return prev, err
		}
		return res.value, err
	}
}

// Invalidate marks key stale. The next Read refetches, and a fetch already in
// flight can no longer mark the entry fresh.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[key]
	if !ok {
		return
	}
	s.gen++
	s.stale = true
	s.invalidated = true
}

// Peek returns a snapshot of the entry without triggering a fetch. Expiry is
// judged against the shortest TTL requested for the key so far.
func (c *Cache[T]) Peek(key string) (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[key]
	if !ok {
		return Entry[T]{Key: key}, false
	}
	e := Entry[T]{
		Key:       key,
		Value:     s.value,
		HasValue:  s.hasValue,
		FetchedAt: s.fetchedAt,
		LastErr:   s.lastErr,
	}
	switch {
	case s.inflight > 0 || s.refreshing:
		e.State = StateFetching
	case !s.hasValue || c.expiredLocked(s, s.ttl):
		e.State = StateStale
	default:
		e.State = StateFresh
	}
	return e, true
}

// Subscribe registers observer for key and keeps the key refreshed every
// interval while at least one observer remains. When the key already holds a
// value, observer receives it before Subscribe returns. The returned func
// removes the observer; removing the last one stops the timer. A fetch
// already running still completes and updates the entry.
func (c *Cache[T]) Subscribe(key string, fetcher Fetcher[T], interval time.Duration, observer Observer[T]) func() {
	c.mu.Lock()
	s := c.slotLocked(key)
	s.fetcher = fetcher
	s.noteTTL(interval)
	id := s.nextObs
	s.nextObs++
	if observer != nil {
		s.observers[id] = observer
	}
	if s.stop == nil && interval > 0 && !c.closed {
		s.stop = make(chan struct{})
		c.startTimer(key, interval, s.stop)
	}
	if !s.hasValue || c.expiredLocked(s, interval) {
		c.refreshAsyncLocked(s, key, fetcher)
	}
	var initial *Event[T]
	if s.hasValue && observer != nil {
		initial = &Event[T]{Key: key, Value: s.value, Err: s.lastErr, FetchedAt: s.fetchedAt, Seq: s.seq}
	}
	c.mu.Unlock()

	if initial != nil {
		notify([]Observer[T]{observer}, *initial)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(s.observers, id)
			if len(s.observers) == 0 && s.stop != nil {
				close(s.stop)
				s.stop = nil
			}
		})
	}
}

// Observers reports how many observers key currently has.
func (c *Cache[T]) Observers(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.slots[key]; ok {
		return len(s.observers)
	}
	return 0
}

// Polling reports whether key has an active refresh timer.
func (c *Cache[T]) Polling(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[key]
	return ok && s.stop != nil
}

// Close stops every refresh timer and cancels background fetches.
func (c *Cache[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, s := range c.slots {
		if s.stop != nil {
			close(s.stop)
			s.stop = nil
		}
	}
	c.cancel()
}

func (c *Cache[T]) startTimer(key string, interval time.Duration, stop <-chan struct{}) {
	threading.GoSafe(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				c.tick(key)
			}
		}
	})
}

// tick refreshes key unless a fetch is already running.
func (c *Cache[T]) tick(key string) {
	c.mu.Lock()
	s, ok := c.slots[key]
	if !ok || s.inflight > 0 || s.refreshing || s.fetcher == nil {
		c.mu.Unlock()
		return
	}
	fetcher := s.fetcher
	c.mu.Unlock()

	_, _ = c.fetch(c.ctx, key, fetcher)
}

// refreshAsyncLocked schedules a background fetch unless one is already
// running or scheduled for the slot.
func (c *Cache[T]) refreshAsyncLocked(s *slot[T], key string, fetcher Fetcher[T]) {
	if s.inflight > 0 || s.refreshing {
		return
	}
	s.refreshing = true
	threading.GoSafe(func() {
		_, _ = c.fetch(c.ctx, key, fetcher)
	})
}

// result is a fetched value tagged with the generation it was fetched under.
type result[T any] struct {
	value T
	gen   uint64
}

// fetch joins the running fetch for key or starts one. Only one fetch per
// key is ever in flight.
func (c *Cache[T]) fetch(ctx context.Context, key string, fetcher Fetcher[T]) (result[T], error) {
	v, err := c.flight.Do(key, func() (any, error) {
		c.mu.Lock()
		s := c.slotLocked(key)
		s.inflight++
		gen := s.gen
		c.mu.Unlock()

		value, err := safeFetch(ctx, key, fetcher)
		c.store(key, gen, value, err)
		return result[T]{value: value, gen: gen}, err
	})
	res, _ := v.(result[T])
	return res, err
}

// safeFetch turns a panicking fetcher into an error so the slot bookkeeping
// always completes.
func safeFetch[T any](ctx context.Context, key string, fetcher Fetcher[T]) (value T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("cache: fetch %s panicked: %v", key, p)
		}
	}()
	return fetcher(ctx)
}

func (c *Cache[T]) store(key string, gen uint64, value T, err error) {
	c.mu.Lock()
	s := c.slotLocked(key)
	s.inflight--
	s.refreshing = false

	if err != nil {
		s.lastErr = err
		if s.hasValue {
			s.stale = true
		}
		s.seq++
		event := Event[T]{Key: key, Value: s.value, Err: err, FetchedAt: s.fetchedAt, Seq: s.seq}
		observers := observersOf(s)
		c.mu.Unlock()

		logx.Errorf("cache: refresh %s failed: %v", key, err)
		notify(observers, event)
		return
	}

	if s.hasValue && gen < s.valueGen {
		// A newer generation already landed.
		c.mu.Unlock()
		return
	}
	s.value = value
	s.hasValue = true
	s.valueGen = gen
	s.fetchedAt = c.clock()
	s.stale = gen != s.gen
	s.invalidated = s.stale && s.invalidated
	s.lastErr = nil
	s.seq++
	event := Event[T]{Key: key, Value: value, FetchedAt: s.fetchedAt, Seq: s.seq}
	observers := observersOf(s)
	c.mu.Unlock()

	notify(observers, event)
}

func observersOf[T any](s *slot[T]) []Observer[T] {
	out := make([]Observer[T], 0, len(s.observers))
	for _, o := range s.observers {
		out = append(out, o)
	}
	return out
}

func notify[T any](observers []Observer[T], event Event[T]) {
	for _, o := range observers {
		threading.RunSafe(func() { o(event) })
	}
}
