package host

import (
	"context"
	"errors"
	"sync"

	"github.com/bdobrica/Dengon/common/spec/platform"
	"github.com/bdobrica/Dengon/common/spec/plugin"
)

// Ingest fans platform changes out to registered producers. Each
// dispatch runs every producer on its own goroutine and waits for the
// batch, so a slow plugin delays its siblings' caller but never crosses
// into their handlers.
type Ingest struct {
	deps Deps

	mu      sync.Mutex
	plugins map[string]*ingestEntry
	order   []string
	running bool
}

type ingestEntry struct {
	producer plugin.Producer
	opts     pluginOpts
}

// NewIngest builds a stopped ingest host.
func NewIngest(deps Deps) *Ingest {
	deps.fill()
	return &Ingest{deps: deps, plugins: make(map[string]*ingestEntry)}
}

// Register adds a producer under id. Re-registering an id stops the
// previous instance first. On a running host the new plugin is started
// immediately; a failing Start leaves the plugin registered, matching
// the host-start behavior.
func (h *Ingest) Register(id string, p plugin.Producer, opts ...Option) error {
	if id == "" {
		return errors.New("ingest: empty plugin id")
	}
	if p == nil {
		return errors.New("ingest: nil producer")
	}
	var o pluginOpts
	for _, opt := range opts {
		opt(&o)
	}

	h.mu.Lock()
	prev, existed := h.plugins[id]
	h.plugins[id] = &ingestEntry{producer: p, opts: o}
	if !existed {
		h.order = append(h.order, id)
	}
	running := h.running
	h.mu.Unlock()

	if existed && running {
		ctx := newContext(context.Background(), h.deps, "ingest", id, prev.opts, true, nil)
		if err := stopPlugin(ctx, prev.producer); err != nil {
			h.deps.Log.Warn("host/ingest: replaced plugin stop failed", "plugin", id, "err", err)
		}
	}
	if running {
		ctx := newContext(context.Background(), h.deps, "ingest", id, o, true, nil)
		if err := startPlugin(ctx, p); err != nil {
			h.deps.Log.Warn("host/ingest: plugin start failed", "plugin", id, "err", err)
			h.deps.Metrics.PluginFailures.WithLabelValues("ingest", id).Inc()
		}
	}
	h.deps.Log.Info("host/ingest: plugin registered", "plugin", id)
	return nil
}

// Unregister stops and removes a plugin. Returns false for unknown ids.
func (h *Ingest) Unregister(id string) bool {
	h.mu.Lock()
	entry, ok := h.plugins[id]
	if ok {
		delete(h.plugins, id)
		for i, oid := range h.order {
			if oid == id {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
	}
	running := h.running
	h.mu.Unlock()
	if !ok {
		return false
	}
	if running {
		ctx := newContext(context.Background(), h.deps, "ingest", id, entry.opts, true, nil)
		if err := stopPlugin(ctx, entry.producer); err != nil {
			h.deps.Log.Warn("host/ingest: plugin stop failed", "plugin", id, "err", err)
		}
	}
	h.deps.Log.Info("host/ingest: plugin unregistered", "plugin", id)
	return true
}

// Start marks the host running and starts every registered plugin.
func (h *Ingest) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	entries := h.snapshotLocked()
	h.mu.Unlock()

	for _, e := range entries {
		ctx := newContext(context.Background(), h.deps, "ingest", e.id, e.opts, true, nil)
		if err := startPlugin(ctx, e.producer); err != nil {
			h.deps.Log.Warn("host/ingest: plugin start failed", "plugin", e.id, "err", err)
			h.deps.Metrics.PluginFailures.WithLabelValues("ingest", e.id).Inc()
		}
	}
	h.deps.Log.Info("host/ingest: started", "plugins", len(entries))
}

// Stop stops every plugin and marks the host stopped. Plugins stay
// registered for a later Start.
func (h *Ingest) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	entries := h.snapshotLocked()
	h.mu.Unlock()

	for _, e := range entries {
		ctx := newContext(context.Background(), h.deps, "ingest", e.id, e.opts, false, nil)
		if err := stopPlugin(ctx, e.producer); err != nil {
			h.deps.Log.Warn("host/ingest: plugin stop failed", "plugin", e.id, "err", err)
		}
	}
	h.deps.Log.Info("host/ingest: stopped")
}

type ingestSnapshot struct {
	id       string
	producer plugin.Producer
	opts     pluginOpts
}

func (h *Ingest) snapshotLocked() []ingestSnapshot {
	out := make([]ingestSnapshot, 0, len(h.order))
	for _, id := range h.order {
		e := h.plugins[id]
		out = append(out, ingestSnapshot{id: id, producer: e.producer, opts: e.opts})
	}
	return out
}

// DispatchStateChange hands a state change to every producer and waits
// for the batch. It returns the number of plugins dispatched to.
func (h *Ingest) DispatchStateChange(id string, st *platform.State, extras map[string]any) int {
	h.mu.Lock()
	running := h.running
	entries := h.snapshotLocked()
	h.mu.Unlock()
	if !running {
		return 0
	}

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e ingestSnapshot) {
			defer wg.Done()
			ctx := newContext(context.Background(), h.deps, "ingest", e.id, e.opts, true, extras)
			err := guard(func() error { return e.producer.HandleState(ctx, id, st) })
			if err != nil {
				ctx.API.Log.Warn("host/ingest: state handler failed", "stateId", id, "err", err)
				h.deps.Metrics.PluginFailures.WithLabelValues("ingest", e.id).Inc()
			}
		}(e)
	}
	wg.Wait()
	return len(entries)
}

// DispatchObjectChange hands an object change to every producer that
// implements ObjectHandler and waits for the batch. It returns the
// number of plugins dispatched to.
func (h *Ingest) DispatchObjectChange(id string, obj *platform.Object, extras map[string]any) int {
	h.mu.Lock()
	running := h.running
	entries := h.snapshotLocked()
	h.mu.Unlock()
	if !running {
		return 0
	}

	var wg sync.WaitGroup
	count := 0
	for _, e := range entries {
		oh, ok := e.producer.(plugin.ObjectHandler)
		if !ok {
			continue
		}
		count++
		wg.Add(1)
		go func(e ingestSnapshot, oh plugin.ObjectHandler) {
			defer wg.Done()
			ctx := newContext(context.Background(), h.deps, "ingest", e.id, e.opts, true, extras)
			err := guard(func() error { return oh.HandleObject(ctx, id, obj) })
			if err != nil {
				ctx.API.Log.Warn("host/ingest: object handler failed", "objectId", id, "err", err)
				h.deps.Metrics.PluginFailures.WithLabelValues("ingest", e.id).Inc()
			}
		}(e, oh)
	}
	wg.Wait()
	return count
}
