// Package bridge registers a combined producer/consumer handler on both
// plugin hosts as one logical unit. The engage variant additionally
// grants the handler an action executor, the only path by which a
// plugin can mutate messages.
package bridge

import (
	"fmt"
	"log/slog"

	"github.com/bdobrica/Dengon/common/spec/plugin"
	"github.com/bdobrica/Dengon/internal/dengon/host"
)

// Deps are the two hosts a bridge spans plus the optional executor
// handed out by RegisterEngage.
type Deps struct {
	Log    *slog.Logger
	Ingest *host.Ingest
	Notify *host.Notify
	Action plugin.ActionExecutor
}

// Handle refers to one bridged registration.
type Handle struct {
	IngestID string
	NotifyID string

	log    *slog.Logger
	ingest *host.Ingest
	notify *host.Notify
}

// Unregister removes both halves. Either half may already be gone;
// removal is best effort and never panics.
func (h *Handle) Unregister() {
	if !h.ingest.Unregister(h.IngestID) {
		h.log.Warn("bridge: ingest half already unregistered", "plugin", h.IngestID)
	}
	if !h.notify.Unregister(h.NotifyID) {
		h.log.Warn("bridge: notify half already unregistered", "plugin", h.NotifyID)
	}
}

// Register wires handler into both hosts under "<id>.ingest" and
// "<id>.notify". When the second registration fails the first is rolled
// back, so a handler is never left half-registered.
func Register(id string, handler plugin.BridgeHandler, deps Deps, opts ...host.Option) (*Handle, error) {
	return register(id, handler, deps, opts)
}

// RegisterEngage is Register plus API.Action on every dispatch context,
// taken from deps.Action.
func RegisterEngage(id string, handler plugin.BridgeHandler, deps Deps, opts ...host.Option) (*Handle, error) {
	if deps.Action == nil {
		return nil, fmt.Errorf("bridge: engage registration for %q without an action executor", id)
	}
	return register(id, handler, deps, append(opts, host.WithAction(deps.Action)))
}

func register(id string, handler plugin.BridgeHandler, deps Deps, opts []host.Option) (*Handle, error) {
	if id == "" {
		return nil, fmt.Errorf("bridge: empty plugin id")
	}
	if handler == nil {
		return nil, fmt.Errorf("bridge: nil handler")
	}
	if deps.Ingest == nil || deps.Notify == nil {
		return nil, fmt.Errorf("bridge: both hosts are required")
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	h := &Handle{
		IngestID: id + ".ingest",
		NotifyID: id + ".notify",
		log:      log,
		ingest:   deps.Ingest,
		notify:   deps.Notify,
	}
	if err := deps.Ingest.Register(h.IngestID, handler, opts...); err != nil {
		return nil, fmt.Errorf("bridge: ingest half of %q: %w", id, err)
	}
	if err := deps.Notify.Register(h.NotifyID, handler, opts...); err != nil {
		if !deps.Ingest.Unregister(h.IngestID) {
			log.Warn("bridge: rollback found ingest half missing", "plugin", h.IngestID)
		}
		return nil, fmt.Errorf("bridge: notify half of %q: %w", id, err)
	}
	log.Info("bridge: handler registered", "plugin", id)
	return h, nil
}
