package sync

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/msdsdraft/internal/observability"
)

// Listener receives connectivity transitions.
type Listener func(ctx context.Context, online bool)

// Connectivity is the process-wide online flag. Transitions fan out to every
// subscribed listener.
type Connectivity struct {
	mu        sync.Mutex
	online    bool
	listeners map[int]Listener
	next      int
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewConnectivity creates a monitor with the given initial state.
func NewConnectivity(online bool, logger *zap.Logger, metrics *observability.Metrics) *Connectivity {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.SetOnline(online)
	return &Connectivity{
		online:    online,
		listeners: make(map[int]Listener),
		logger:    logger,
		metrics:   metrics,
	}
}

// Online reports the current state.
func (c *Connectivity) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Subscribe registers fn for transitions and returns a function removing it.
func (c *Connectivity) Subscribe(fn Listener) (cancel func()) {
	c.mu.Lock()
	id := c.next
	c.next++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Set records the current state. On a transition every listener runs
// concurrently and Set returns after all of them finished. It reports
// whether the state changed.
func (c *Connectivity) Set(ctx context.Context, online bool) bool {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return false
	}
	c.online = online
	listeners := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	c.metrics.SetOnline(online)
	c.logger.Info("connectivity changed", zap.Bool("online", online), zap.Int("listeners", len(listeners)))

	var wg sync.WaitGroup
	for _, fn := range listeners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx, online)
		}()
	}
	wg.Wait()
	return true
}
