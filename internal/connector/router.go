package connector

import (
	"context"
	"sort"
	"sync"

	"github.com/opentalon/hybridflow/internal/metrics"
)

type entry struct {
	connector Connector
	priority  int
}

// Router resolves connector names to available connectors.
//
// Resolution order: the requested connector if it is available, then the
// available connector with the highest priority, then a round-robin probe
// starting at a cursor shared by all Resolve calls. Availability checks run
// one candidate at a time so a connector is only probed as often as needed.
//
// The cursor is only written under the router's lock, but probing happens
// outside it; round-robin fairness across concurrent Resolve calls is
// best-effort.
type Router struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	cursor  int
	metrics *metrics.Metrics
}

type RouterOption func(*Router)

// WithMetrics reports the tier that answered each resolution.
func WithMetrics(m *metrics.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		entries: make(map[string]*entry),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds c under its name. Registering an existing name replaces the
// connector and its priority but keeps its round-robin position.
func (r *Router) Register(c Connector, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if e, ok := r.entries[name]; ok {
		e.connector = c
		e.priority = priority
		return
	}
	r.entries[name] = &entry{connector: c, priority: priority}
	r.order = append(r.order, name)
}

func (r *Router) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; !ok {
		return
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			if r.cursor > i {
				r.cursor--
			}
			break
		}
	}
	if len(r.order) == 0 || r.cursor >= len(r.order) {
		r.cursor = 0
	}
}

// Get returns the registered connector without checking availability.
func (r *Router) Get(name string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.connector, true
}

// Names lists registered connector names in registration order.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Connectors lists registered connectors in registration order.
func (r *Router) Connectors() []Connector {
	snapshot := r.snapshot()
	result := make([]Connector, len(snapshot))
	for i, e := range snapshot {
		result[i] = e.connector
	}
	return result
}

// Available lists the connectors whose availability check passes.
func (r *Router) Available(ctx context.Context) []Connector {
	var result []Connector
	for _, e := range r.snapshot() {
		if e.connector.Available(ctx) {
			result = append(result, e.connector)
		}
	}
	return result
}

// Resolve returns a connector for name, falling back to other registered
// connectors when it is missing or unavailable. An empty name skips the
// first tier. It reports false when no connector is available.
func (r *Router) Resolve(ctx context.Context, name string) (Connector, bool) {
	if name != "" {
		if c, ok := r.Get(name); ok && c.Available(ctx) {
			r.metrics.Resolution(metrics.TierRequested)
			return c, true
		}
	}

	snapshot := r.snapshot()
	byPriority := make([]entry, len(snapshot))
	copy(byPriority, snapshot)
	sort.SliceStable(byPriority, func(i, j int) bool {
		return byPriority[i].priority > byPriority[j].priority
	})
	for _, e := range byPriority {
		if e.connector.Available(ctx) {
			r.metrics.Resolution(metrics.TierPriority)
			return e.connector, true
		}
	}

	if c, ok := r.roundRobin(ctx, snapshot); ok {
		r.metrics.Resolution(metrics.TierRoundRobin)
		return c, true
	}

	r.metrics.Resolution(metrics.TierNone)
	return nil, false
}

func (r *Router) roundRobin(ctx context.Context, snapshot []entry) (Connector, bool) {
	n := len(snapshot)
	if n == 0 {
		return nil, false
	}
	r.mu.RLock()
	start := r.cursor % n
	r.mu.RUnlock()

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if snapshot[idx].connector.Available(ctx) {
			r.mu.Lock()
			r.cursor = (idx + 1) % n
			r.mu.Unlock()
			return snapshot[idx].connector, true
		}
	}
	return nil, false
}

func (r *Router) snapshot() []entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]entry, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, *r.entries[name])
	}
	return result
}
