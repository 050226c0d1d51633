// Package timer provides the in-process wake-up registry: a keyed set of
// absolute-instant registrations drained into a fire channel by a dispatch
// loop. It is the stand-in for an OS alarm facility: registrations live only
// in memory and must be rebuilt from the store after a restart.
package timer

import (
	"container/heap"
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jmhodges/clock"
)

const (
	defaultGranularity = time.Minute
	defaultFireBuffer  = 16

	// idleWait bounds how long the dispatch loop sleeps with an empty queue.
	idleWait = time.Minute
)

// Options configures a Registry.
type Options struct {
	// Clock supplies the current time. Defaults to the wall clock; tests
	// inject a fake.
	Clock clock.Clock

	// SupportsExact reports whether precise wake-ups are permitted. When
	// false every registration degrades to inexact delivery on a coarse
	// tick; scheduling never fails because of it.
	SupportsExact bool

	// InexactGranularity is the wake precision for inexact registrations.
	// Defaults to one minute.
	InexactGranularity time.Duration

	// FireBuffer is the capacity of the fire channel.
	FireBuffer int
}

// registration is one pending wake-up in the queue.
type registration struct {
	key   Key
	at    time.Time
	exact bool
	index int // heap index, -1 once removed
}

// Registry schedules callbacks at absolute instants tagged with stable keys.
// Scheduling an existing key replaces its instant; cancelling a missing key is
// a no-op. Elapsed keys are delivered on [Registry.Fires] by [Registry.Run].
type Registry struct {
	clk           clock.Clock
	supportsExact bool
	granularity   time.Duration
	log           *slog.Logger

	mu      sync.Mutex
	entries map[Key]*registration
	queue   regQueue

	fires chan Key
	wake  chan struct{}
}

// New creates a Registry. The zero Options value gives a wall-clock, inexact
// registry with one-minute precision.
func New(opts Options, logger *slog.Logger) *Registry {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	granularity := opts.InexactGranularity
	if granularity <= 0 {
		granularity = defaultGranularity
	}
	buffer := opts.FireBuffer
	if buffer <= 0 {
		buffer = defaultFireBuffer
	}

	return &Registry{
		clk:           clk,
		supportsExact: opts.SupportsExact,
		granularity:   granularity,
		log:           logger,
		entries:       make(map[Key]*registration),
		fires:         make(chan Key, buffer),
		wake:          make(chan struct{}, 1),
	}
}

// Fires returns the channel on which elapsed keys are delivered.
func (r *Registry) Fires() <-chan Key { return r.fires }

// Schedule registers a wake-up for key at the given instant, replacing any
// existing registration for the same key. When the registry does not support
// exact wake-ups the request silently degrades to inexact delivery.
func (r *Registry) Schedule(key Key, at time.Time, exact bool) {
	if !r.supportsExact {
		exact = false
	}

	r.mu.Lock()
	if old, ok := r.entries[key]; ok {
		heap.Remove(&r.queue, old.index)
	}
	reg := &registration{key: key, at: at, exact: exact}
	r.entries[key] = reg
	heap.Push(&r.queue, reg)
	r.mu.Unlock()

	r.nudge()
}

// Cancel removes the registration for key. Cancelling an unknown key is a
// no-op, never an error.
func (r *Registry) Cancel(key Key) {
	r.mu.Lock()
	if reg, ok := r.entries[key]; ok {
		heap.Remove(&r.queue, reg.index)
		delete(r.entries, key)
	}
	r.mu.Unlock()

	r.nudge()
}

// CancelReminder removes every registration owned by the given reminder id,
// across both key families.
func (r *Registry) CancelReminder(reminderID int64) {
	r.mu.Lock()
	for key, reg := range r.entries {
		if key.Reminder == reminderID {
			heap.Remove(&r.queue, reg.index)
			delete(r.entries, key)
		}
	}
	r.mu.Unlock()

	r.nudge()
}

// Keys returns the outstanding keys for a reminder id, sorted for stable
// inspection in tests and the status command.
func (r *Registry) Keys(reminderID int64) []Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	var keys []Key
	for key := range r.entries {
		if key.Reminder == reminderID {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].LeadDays < keys[j].LeadDays
	})
	return keys
}

// ScheduledAt returns the instant registered for key, if any.
func (r *Registry) ScheduledAt(key Key) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return reg.at, true
}

// Len returns the number of outstanding registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Len()
}

// Tick delivers every registration due at the current clock reading to the
// fire channel, earliest first, and returns how many were delivered. Run calls
// this on its wake cadence; tests drive it directly after advancing a fake
// clock.
func (r *Registry) Tick(ctx context.Context) int {
	now := r.clk.Now()

	r.mu.Lock()
	var due []Key
	for r.queue.Len() > 0 {
		head := r.queue.peek()
		if head.at.After(now) {
			break
		}
		heap.Pop(&r.queue)
		delete(r.entries, head.key)
		due = append(due, head.key)
	}
	r.mu.Unlock()

	delivered := 0
	for _, key := range due {
		select {
		case r.fires <- key:
			delivered++
		case <-ctx.Done():
			return delivered
		}
	}
	return delivered
}

// Run drives the dispatch loop until ctx is cancelled. It wakes at the next
// registered instant (rounded up to the granularity for inexact entries) or
// whenever the queue head changes.
func (r *Registry) Run(ctx context.Context) error {
	for {
		r.Tick(ctx)

		t := time.NewTimer(r.nextWait())
		select {
		case <-ctx.Done():
			t.Stop()
			if r.log != nil {
				r.log.Info("timer registry shutting down")
			}
			return ctx.Err()
		case <-r.wake:
			t.Stop()
		case <-t.C:
		}
	}
}

// nextWait computes how long the dispatch loop may sleep before the next
// registration comes due.
func (r *Registry) nextWait() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.queue.Len() == 0 {
		return idleWait
	}

	head := r.queue.peek()
	d := head.at.Sub(r.clk.Now())
	if d < 0 {
		d = 0
	}
	if !head.exact {
		// Inexact delivery: batch wake-ups onto the coarse grid.
		if rem := d % r.granularity; rem != 0 {
			d += r.granularity - rem
		}
	}
	return d
}

// nudge wakes the dispatch loop so it recomputes its sleep after a mutation.
func (r *Registry) nudge() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// --- registration queue ------------------------------------------------------

// regQueue is a min-heap of registrations ordered by instant.
type regQueue []*registration

func (q regQueue) Len() int { return len(q) }

func (q regQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }

func (q regQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *regQueue) Push(x any) {
	reg := x.(*registration)
	reg.index = len(*q)
	*q = append(*q, reg)
}

func (q *regQueue) Pop() any {
	old := *q
	n := len(old)
	reg := old[n-1]
	old[n-1] = nil
	reg.index = -1
	*q = old[:n-1]
	return reg
}

func (q regQueue) peek() *registration { return q[0] }
