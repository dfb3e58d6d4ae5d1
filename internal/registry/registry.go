// Package registry implements the Stream Registry (C2): a
// process-spanning map from threadId to a cancellation handle. Local
// keeps the map in a single process; Distributed layers a bus
// subscription on top so a signal raised on one instance reaches the
// goroutine streaming that thread on another.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/hrygo/chatcore/internal/bus"
)

// TTL bounds how long a handle that is never unregistered is retained
// in memory, counted from its registration, before the janitor
// reclaims it (whether or not it was signalled).
const TTL = time.Hour

// Handle is the cancellation primitive returned by Register. The
// initiating goroutine selects on Done() at its suspension points;
// Err() reports the reason once fired.
type Handle interface {
	Done() <-chan struct{}
	Err() error
}

// Registry is the contract both Local and Distributed satisfy.
type Registry interface {
	// Register allocates a cancellation handle for threadID. Calling
	// Register again for a thread that already has a live handle
	// returns a fresh handle independent of the first — concurrent
	// streams on the same thread are not automatically linked.
	Register(threadID string) Handle
	// Signal fires the handle for threadID, if one is registered on
	// this process (Local) or anywhere in the deployment (Distributed).
	// It is best-effort and idempotent: signalling a thread with no
	// live handle is a silent no-op.
	Signal(threadID string)
	// Unregister removes the handle for threadID. Safe to call multiple
	// times and after the handle has already fired.
	Unregister(threadID string)
}

type handle struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

func (h *handle) Done() <-chan struct{} { return h.ctx.Done() }
func (h *handle) Err() error            { return context.Cause(h.ctx) }

// ErrSignalled is the cancellation cause recorded when a handle is
// fired via Signal (as opposed to an ambient context cancellation such
// as client disconnect).
var ErrSignalled = signalledErr{}

type signalledErr struct{}

func (signalledErr) Error() string { return "stream signalled for cancellation" }

type entry struct {
	handle     *handle
	registered time.Time
	sub        *bus.Subscription // non-nil only for Distributed
}

// Local is an in-process Stream Registry: a map keyed by threadId,
// guarded by a mutex, with a periodic janitor reclaiming handles idle
// past TTL.
type Local struct {
	mu      sync.Mutex
	entries map[string]*entry
	stop    chan struct{}
}

// NewLocal constructs a Local registry and starts its TTL janitor.
func NewLocal() *Local {
	l := &Local{
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	go l.janitor()
	return l
}

// Close stops the janitor goroutine. Registered handles are left
// running; callers should Unregister explicitly as their streams exit.
func (l *Local) Close() {
	close(l.stop)
}

func (l *Local) Register(threadID string) Handle {
	ctx, cancel := context.WithCancelCause(context.Background())
	h := &handle{ctx: ctx, cancel: cancel}

	l.mu.Lock()
	l.entries[threadID] = &entry{handle: h, registered: time.Now()}
	l.mu.Unlock()

	return h
}

func (l *Local) Signal(threadID string) {
	l.mu.Lock()
	e, ok := l.entries[threadID]
	l.mu.Unlock()
	if !ok {
		return
	}
	e.handle.cancel(ErrSignalled)
}

func (l *Local) Unregister(threadID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, threadID)
}

func (l *Local) janitor() {
	ticker := time.NewTicker(TTL / 4)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-TTL)
			l.mu.Lock()
			for id, e := range l.entries {
				if e.registered.Before(cutoff) {
					delete(l.entries, id)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Distributed wraps a Local registry with a bus subscription per
// registered thread so Signal also reaches other processes sharing the
// same Bus, and signals published by other processes fire the local
// handle. It assumes one logical channel (the Bus) per deployment.
type Distributed struct {
	local *Local
	bus   *bus.Bus

	mu   sync.Mutex
	subs map[string]*bus.Subscription
}

// NewDistributed constructs a Distributed registry backed by b.
func NewDistributed(b *bus.Bus) *Distributed {
	return &Distributed{
		local: NewLocal(),
		bus:   b,
		subs:  make(map[string]*bus.Subscription),
	}
}

// Close stops the underlying janitor and unsubscribes all live topics.
func (d *Distributed) Close() {
	d.local.Close()
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sub := range d.subs {
		d.bus.Unsubscribe(sub)
	}
}

func (d *Distributed) Register(threadID string) Handle {
	h := d.local.Register(threadID)

	sub := d.bus.Subscribe(bus.SignalTopic(threadID))
	d.mu.Lock()
	d.subs[threadID] = sub
	d.mu.Unlock()

	// Fire the local handle when a signal for this exact thread arrives
	// from any process (including this one, harmlessly).
	go func() {
		for range sub.Ch() {
			d.local.Signal(threadID)
		}
	}()

	return h
}

func (d *Distributed) Signal(threadID string) {
	d.local.Signal(threadID)
	d.bus.Publish(bus.SignalTopic(threadID), threadID)
}

func (d *Distributed) Unregister(threadID string) {
	d.local.Unregister(threadID)

	d.mu.Lock()
	sub, ok := d.subs[threadID]
	delete(d.subs, threadID)
	d.mu.Unlock()

	if ok {
		d.bus.Unsubscribe(sub)
	}
}
