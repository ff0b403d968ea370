// Package plugin defines the contract between the hub and plugin
// authors: the handler interfaces the hosts dispatch to, the frozen
// per-dispatch Context, read-only store access and the query language.
//
// Producers translate platform traffic into messages, consumers deliver
// notification events outward. A handler that does both is registered
// through the bridge. Mutation never flows through the dispatch context;
// trusted components receive a store writer at wiring time, and notify
// plugins registered via engage get an ActionExecutor.
package plugin

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/bdobrica/Dengon/common/spec/message"
	"github.com/bdobrica/Dengon/common/spec/platform"
)

// Producer handles inbound state changes. It is the one required hook of
// an ingest plugin.
type Producer interface {
	HandleState(ctx *Context, id string, st *platform.State) error
}

// ProducerFunc adapts a bare function to the Producer interface, for
// plugins that need no other hooks.
type ProducerFunc func(ctx *Context, id string, st *platform.State) error

func (f ProducerFunc) HandleState(ctx *Context, id string, st *platform.State) error {
	return f(ctx, id, st)
}

// Consumer receives store notification events. It is the one required
// hook of a notify plugin.
type Consumer interface {
	HandleNotifications(ctx *Context, event message.Event, views []message.View) error
}

// BridgeHandler is a handler registered on both hosts at once.
type BridgeHandler interface {
	Producer
	Consumer
}

// Optional capabilities, detected via type assertion at dispatch time.
type (
	// Starter runs when the host starts or when the plugin is registered
	// on an already-running host.
	Starter interface {
		Start(ctx *Context) error
	}
	// Stopper runs when the host stops or the plugin is unregistered or
	// replaced.
	Stopper interface {
		Stop(ctx *Context) error
	}
	// ObjectHandler additionally receives object metadata changes.
	ObjectHandler interface {
		HandleObject(ctx *Context, id string, obj *platform.Object) error
	}
)

// Context is the frozen per-dispatch environment. It carries the Go
// context (cancellation plus a dispatch trace ID) and the capability
// surface the hub grants plugins. A fresh Context is built for every
// dispatch; handlers must not retain it.
type Context struct {
	context.Context
	API  API
	Meta Meta
}

// API is the read side of the hub plus the platform facade.
type API struct {
	Log      *slog.Logger
	I18n     platform.I18n
	Platform platform.Platform
	Store    StoreReader
	Factory  Factory
	// Action is non-nil only for plugins registered via engage; it is the
	// only path by which plugin-initiated mutation reaches the core.
	Action ActionExecutor
}

// Meta mirrors the host's runtime state for this dispatch.
type Meta struct {
	// Running reports whether the host is between Start and Stop.
	Running bool
	// Options is the plugin's configuration bag from the hub config.
	Options map[string]any
	// Extras carries caller-supplied metadata for this dispatch.
	Extras map[string]any
}

// Factory validates and constructs messages without storing them.
type Factory interface {
	NewMessage(d message.Draft) (message.Message, error)
}

// StoreReader is the read-only store surface exposed to plugins.
type StoreReader interface {
	MessageByRef(ref string, filter RefFilter) (message.View, bool)
	Messages() []message.View
	Query(q Query) QueryResult
}

// ActionRequest asks the hub to execute a message action on behalf of an
// end user.
type ActionRequest struct {
	Ref      string
	ActionID string
	// Actor is recorded as lifecycle.stateChangedBy on resulting
	// transitions.
	Actor string
	// SnoozeForMs applies to snooze actions.
	SnoozeForMs int64
	// Payload is handed to custom action handlers; opaque to the core.
	Payload json.RawMessage
}

// ActionExecutor executes message actions. It returns false — with the
// reason logged — when the ref is unknown, the action does not exist, or
// its type is not allowed in the current lifecycle state.
type ActionExecutor interface {
	Execute(ctx context.Context, req ActionRequest) bool
}

// RefFilter restricts which lifecycle states MessageByRef may return.
// The zero filter accepts every state.
type RefFilter struct {
	states []message.State
}

// Predefined filters plus ByStates for explicit state lists.
var (
	FilterAll          = RefFilter{}
	FilterQuasiOpen    = ByStates(message.QuasiOpenStates...)
	FilterQuasiDeleted = ByStates(message.QuasiDeletedStates...)
)

// ByStates builds a filter accepting exactly the given states.
func ByStates(states ...message.State) RefFilter {
	return RefFilter{states: states}
}

// Accepts reports whether the filter allows a state.
func (f RefFilter) Accepts(s message.State) bool {
	if len(f.states) == 0 {
		return true
	}
	for _, fs := range f.states {
		if fs == s {
			return true
		}
	}
	return false
}

// Explicit reports whether the filter names states explicitly.
func (f RefFilter) Explicit() bool { return len(f.states) > 0 }
