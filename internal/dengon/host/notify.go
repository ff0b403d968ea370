package host

import (
	"context"
	"errors"
	"sync"

	"github.com/bdobrica/Dengon/common/spec/message"
	"github.com/bdobrica/Dengon/common/spec/plugin"
)

// Notify queues store notification events and drains them to registered
// consumers on a single dispatcher goroutine. Dispatch never blocks on
// plugin I/O, which is what lets the store call it from its scheduler.
type Notify struct {
	deps Deps

	mu      sync.Mutex
	cond    *sync.Cond
	plugins map[string]*notifyEntry
	order   []string
	queue   []notifyBatch
	running bool
	active  bool
	done    chan struct{}
}

type notifyEntry struct {
	consumer plugin.Consumer
	opts     pluginOpts
}

type notifyBatch struct {
	event message.Event
	views []message.View
}

// NewNotify builds a stopped notify host.
func NewNotify(deps Deps) *Notify {
	deps.fill()
	h := &Notify{deps: deps, plugins: make(map[string]*notifyEntry)}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Register adds a consumer under id, stopping a previous instance with
// the same id.
func (h *Notify) Register(id string, c plugin.Consumer, opts ...Option) error {
	if id == "" {
		return errors.New("notify: empty plugin id")
	}
	if c == nil {
		return errors.New("notify: nil consumer")
	}
	var o pluginOpts
	for _, opt := range opts {
		opt(&o)
	}

	h.mu.Lock()
	prev, existed := h.plugins[id]
	h.plugins[id] = &notifyEntry{consumer: c, opts: o}
	if !existed {
		h.order = append(h.order, id)
	}
	running := h.running
	h.mu.Unlock()

	if existed && running {
		ctx := newContext(context.Background(), h.deps, "notify", id, prev.opts, true, nil)
		if err := stopPlugin(ctx, prev.consumer); err != nil {
			h.deps.Log.Warn("host/notify: replaced plugin stop failed", "plugin", id, "err", err)
		}
	}
	if running {
		ctx := newContext(context.Background(), h.deps, "notify", id, o, true, nil)
		if err := startPlugin(ctx, c); err != nil {
			h.deps.Log.Warn("host/notify: plugin start failed", "plugin", id, "err", err)
			h.deps.Metrics.PluginFailures.WithLabelValues("notify", id).Inc()
		}
	}
	h.deps.Log.Info("host/notify: plugin registered", "plugin", id)
	return nil
}

// Unregister stops and removes a consumer. Returns false for unknown ids.
func (h *Notify) Unregister(id string) bool {
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
		ctx := newContext(context.Background(), h.deps, "notify", id, entry.opts, true, nil)
		if err := stopPlugin(ctx, entry.consumer); err != nil {
			h.deps.Log.Warn("host/notify: plugin stop failed", "plugin", id, "err", err)
		}
	}
	h.deps.Log.Info("host/notify: plugin unregistered", "plugin", id)
	return true
}

// Start launches the dispatcher goroutine and starts the plugins.
func (h *Notify) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.done = make(chan struct{})
	entries := h.snapshotLocked()
	h.mu.Unlock()

	for _, e := range entries {
		ctx := newContext(context.Background(), h.deps, "notify", e.id, e.opts, true, nil)
		if err := startPlugin(ctx, e.consumer); err != nil {
			h.deps.Log.Warn("host/notify: plugin start failed", "plugin", e.id, "err", err)
			h.deps.Metrics.PluginFailures.WithLabelValues("notify", e.id).Inc()
		}
	}
	go h.drain()
	h.deps.Log.Info("host/notify: started", "plugins", len(entries))
}

// Stop drains the queue, halts the dispatcher and stops the plugins.
func (h *Notify) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	done := h.done
	h.cond.Broadcast()
	entries := h.snapshotLocked()
	h.mu.Unlock()

	<-done

	for _, e := range entries {
		ctx := newContext(context.Background(), h.deps, "notify", e.id, e.opts, false, nil)
		if err := stopPlugin(ctx, e.consumer); err != nil {
			h.deps.Log.Warn("host/notify: plugin stop failed", "plugin", e.id, "err", err)
		}
	}
	h.deps.Log.Info("host/notify: stopped")
}

type notifySnapshot struct {
	id       string
	consumer plugin.Consumer
	opts     pluginOpts
}

func (h *Notify) snapshotLocked() []notifySnapshot {
	out := make([]notifySnapshot, 0, len(h.order))
	for _, id := range h.order {
		e := h.plugins[id]
		out = append(out, notifySnapshot{id: id, consumer: e.consumer, opts: e.opts})
	}
	return out
}

// Dispatch enqueues one event batch. It only appends and signals; the
// dispatcher goroutine does the plugin work. Batches enqueued on a
// stopped host are kept and delivered on the next Start.
func (h *Notify) Dispatch(event message.Event, views []message.View) {
	h.mu.Lock()
	h.queue = append(h.queue, notifyBatch{event: event, views: views})
	h.deps.Metrics.NotifyQueueDepth.Set(float64(len(h.queue)))
	h.cond.Signal()
	h.mu.Unlock()
}

// Flush blocks until the queue is empty and no batch is mid-delivery.
func (h *Notify) Flush() {
	h.mu.Lock()
	for len(h.queue) > 0 || h.active {
		h.cond.Wait()
	}
	h.mu.Unlock()
}

// drain is the dispatcher loop. It exits only once the host is stopped
// and the queue is empty, so Stop implies a full drain.
func (h *Notify) drain() {
	for {
		h.mu.Lock()
		for len(h.queue) == 0 && h.running {
			h.cond.Wait()
		}
		if len(h.queue) == 0 {
			done := h.done
			h.mu.Unlock()
			close(done)
			return
		}
		batch := h.queue[0]
		h.queue = h.queue[1:]
		h.deps.Metrics.NotifyQueueDepth.Set(float64(len(h.queue)))
		h.active = true
		entries := h.snapshotLocked()
		h.mu.Unlock()

		h.deliver(batch, entries)

		h.mu.Lock()
		h.active = false
		h.cond.Broadcast()
		h.mu.Unlock()
	}
}

func (h *Notify) deliver(batch notifyBatch, entries []notifySnapshot) {
	for _, e := range entries {
		ctx := newContext(context.Background(), h.deps, "notify", e.id, e.opts, true, nil)
		err := guard(func() error {
			return e.consumer.HandleNotifications(ctx, batch.event, batch.views)
		})
		if err != nil {
			ctx.API.Log.Warn("host/notify: consumer failed", "event", batch.event, "err", err)
			h.deps.Metrics.PluginFailures.WithLabelValues("notify", e.id).Inc()
		}
	}
}
