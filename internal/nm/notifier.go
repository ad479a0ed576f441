package nm

import (
	"sync"

	"github.com/martinsuchenak/nmconsole/internal/model"
)

// Notifier collapses bursts of model changes into a single "changed"
// notification. Schedule marks the model dirty and wakes whoever drains
// Kick; Flush delivers at most one notification for everything scheduled
// before it.
type Notifier struct {
	mu        sync.Mutex
	pending   bool
	kick      chan struct{}
	compute   func() []model.Device
	listeners map[int]func([]model.Device)
	nextID    int
	fired     int
}

// NewNotifier creates a notifier that derives the device list with compute
// once per flush.
func NewNotifier(compute func() []model.Device) *Notifier {
	return &Notifier{
		kick:      make(chan struct{}, 1),
		compute:   compute,
		listeners: make(map[int]func([]model.Device)),
	}
}

// Schedule requests a notification. It never runs listeners itself.
func (n *Notifier) Schedule() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pending {
		return
	}
	n.pending = true
	select {
	case n.kick <- struct{}{}:
	default:
	}
}

// Kick is signalled when a notification becomes pending.
func (n *Notifier) Kick() <-chan struct{} {
	return n.kick
}

// isPending reports whether a notification is waiting.
func (n *Notifier) isPending() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pending
}

// firedCount returns how many notifications have been delivered.
func (n *Notifier) firedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fired
}

// Flush delivers the pending notification, if any, and reports whether it
// did. The pending flag is cleared before the device list is computed, so a
// change racing with the flush schedules another notification instead of
// being lost.
func (n *Notifier) Flush() bool {
	n.mu.Lock()
	if !n.pending {
		n.mu.Unlock()
		return false
	}
	n.pending = false
	n.fired++
	listeners := make([]func([]model.Device), 0, len(n.listeners))
	for _, fn := range n.listeners {
		listeners = append(listeners, fn)
	}
	n.mu.Unlock()

	devices := n.compute()
	for _, fn := range listeners {
		fn(devices)
	}
	return true
}

// Subscribe registers a listener and returns its cancel func.
func (n *Notifier) Subscribe(fn func([]model.Device)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.listeners, id)
	}
}
