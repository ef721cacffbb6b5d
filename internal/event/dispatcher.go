// Package event delivers feature events to listeners and publishes them to
// Kafka and Redis.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rzpsarthak13/featurestore/internal/core"
)

// Dispatcher delivers events synchronously to its listeners. Listener
// failures and panics are logged and never reach the write path.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners []core.Listener
	logger    *slog.Logger
}

var _ core.Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher without listeners.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

// Add registers l.
func (d *Dispatcher) Add(l core.Listener) {
	if l == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Remove unregisters l. It reports whether l was registered.
func (d *Dispatcher) Remove(l core.Listener) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, x := range d.listeners {
		if x == l {
			d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of listeners.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners)
}

// Notify delivers ev to every listener in registration order.
func (d *Dispatcher) Notify(ctx context.Context, ev core.FeatureEvent) {
	d.mu.RLock()
	listeners := make([]core.Listener, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.RUnlock()

	for _, l := range listeners {
		if err := deliver(ctx, l, ev); err != nil {
			d.logger.Warn("Dispatcher.Notify() - listener failed", "type", ev.TypeName, "kind", ev.Kind.String(), "error", err)
		}
	}
}

func deliver(ctx context.Context, l core.Listener, ev core.FeatureEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return l.OnFeatureEvent(ctx, ev)
}
