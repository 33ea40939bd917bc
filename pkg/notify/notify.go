// Package notify queues short-lived, user-facing messages about trade
// outcomes and fans them out to subscribers.
package notify

import (
	"context"
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/zeromicro/go-zero/core/logx"
)

const (
	DefaultDuration = 5 * time.Second
	defaultBuffer   = 16
)

// Kind classifies a notification for display.
type Kind int

const (
	KindSuccess Kind = iota
	KindFailure
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Notification is a transient message shown to the user.
type Notification struct {
	ID          ulid.ULID
	Kind        Kind
	Title       string
	Description string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the notification's display time has elapsed.
func (n Notification) Expired(now time.Time) bool {
	return !now.Before(n.ExpiresAt)
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithDuration sets how long notifications stay active.
func WithDuration(d time.Duration) Option {
	return func(n *Dispatcher) {
		if d > 0 {
			n.duration = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(n *Dispatcher) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(size int) Option {
	return func(n *Dispatcher) {
		if size > 0 {
			n.buffer = size
		}
	}
}

// Dispatcher is an append-only notification queue. Safe for concurrent use.
type Dispatcher struct {
	mu       sync.Mutex
	queue    []Notification
	subs     map[int]chan Notification
	nextSub  int
	dropped  int
	duration time.Duration
	buffer   int
	clock    func() time.Time
	entropy  io.Reader
}

// New creates a dispatcher with the default display duration.
func New(opts ...Option) *Dispatcher {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	d := &Dispatcher{
		subs:     make(map[int]chan Notification),
		duration: DefaultDuration,
		buffer:   defaultBuffer,
		clock:    time.Now,
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Duration reports how long notifications stay active.
func (d *Dispatcher) Duration() time.Duration { return d.duration }

// Dispatch stores a notification and delivers it to every subscriber. A
// subscriber whose buffer is full misses it; the queue still holds it.
func (d *Dispatcher) Dispatch(ctx context.Context, kind Kind, title, description string) Notification {
	d.mu.Lock()
	now := d.clock()
	id, err := ulid.New(ulid.Timestamp(now), d.entropy)
	if err != nil {
		id = ulid.Make()
	}
	n := Notification{
		ID:          id,
		Kind:        kind,
		Title:       title,
		Description: description,
		CreatedAt:   now,
		ExpiresAt:   now.Add(d.duration),
	}
	d.queue = append(d.queue, n)

	dropped := 0
	for _, ch := range d.subs {
		select {
		case ch <- n:
		default:
			dropped++
		}
	}
	d.dropped += dropped
	d.mu.Unlock()

	logx.WithContext(ctx).Infof("notify: [%s] %s: %s", kind, title, description)
	if dropped > 0 {
		logx.WithContext(ctx).Errorf("notify: %d subscriber(s) missed %s", dropped, id)
	}
	return n
}

// Subscribe returns a channel receiving every future notification and a
// cancel func that closes it.
func (d *Dispatcher) Subscribe() (<-chan Notification, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	ch := make(chan Notification, d.buffer)
	d.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			delete(d.subs, id)
			close(ch)
		})
	}
}

// Active lists unexpired notifications in insertion order.
func (d *Dispatcher) Active(now time.Time) []Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Notification, 0, len(d.queue))
	for _, n := range d.queue {
		if !n.Expired(now) {
			out = append(out, n)
		}
	}
	return out
}

// All lists every queued notification, expired or not.
func (d *Dispatcher) All() []Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Notification, len(d.queue))
	copy(out, d.queue)
	return out
}

// Prune drops expired notifications and reports how many were removed.
func (d *Dispatcher) Prune(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.queue[:0]
	for _, n := range d.queue {
		if !n.Expired(now) {
			kept = append(kept, n)
		}
	}
	removed := len(d.queue) - len(kept)
	for i := len(kept); i < len(d.queue); i++ {
		d.queue[i] = Notification{}
	}
	d.queue = kept
	return removed
}

// Dropped reports how many deliveries were skipped because a subscriber was
// not keeping up.
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}
