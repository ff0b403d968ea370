// Package action executes message actions on behalf of end users and
// decides which of a message's actions are offered as executable in the
// current lifecycle state. The executor is the single re-entry point from
// notify plugins into the store: every effect is a store patch carrying
// the core capability, posted through the store's scheduler.
package action

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bdobrica/Dengon/common/spec/message"
	"github.com/bdobrica/Dengon/common/spec/plugin"
)

// Hub is the store surface the executor needs. The store implements it;
// keeping it an interface here breaks the store → host → plugin → action
// → store import cycle.
type Hub interface {
	// MessageForAction returns a clone of the stored canonical message.
	MessageForAction(ref string) (message.Message, bool)
	// ApplyActionPatch applies p with the core capability, stealth=false.
	ApplyActionPatch(ref string, p message.Patch) bool
	// RemoveMessage soft-deletes, recording actor.
	RemoveMessage(ref, actor string) bool
}

// CustomHandler processes custom actions. The hub applies no store
// mutation for them; whatever effect they have belongs to the handler.
type CustomHandler func(ctx context.Context, req plugin.ActionRequest, a message.Action) error

// Executor implements plugin.ActionExecutor against a Hub.
type Executor struct {
	hub Hub
	log *slog.Logger
	now func() int64

	mu     sync.RWMutex
	custom CustomHandler
}

// NewExecutor builds an executor. now supplies epoch milliseconds.
func NewExecutor(hub Hub, log *slog.Logger, now func() int64) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{hub: hub, log: log, now: now}
}

// OnCustom installs the handler invoked for custom actions.
func (e *Executor) OnCustom(h CustomHandler) {
	e.mu.Lock()
	e.custom = h
	e.mu.Unlock()
}

// Execute resolves req.ActionID against the message's actions and applies
// the documented effect. It returns false — with the reason logged at
// warn level — on unknown refs, unknown action ids, action types not
// allowed in the current lifecycle state, and malformed payloads. No
// store mutation happens on failure.
func (e *Executor) Execute(ctx context.Context, req plugin.ActionRequest) bool {
	m, ok := e.hub.MessageForAction(req.Ref)
	if !ok {
		e.log.Warn("action: unknown ref", "ref", req.Ref, "actionId", req.ActionID)
		return false
	}
	var act *message.Action
	for i := range m.Actions {
		if m.Actions[i].ID == req.ActionID {
			act = &m.Actions[i]
			break
		}
	}
	if act == nil {
		e.log.Warn("action: unknown action id", "ref", req.Ref, "actionId", req.ActionID)
		return false
	}
	if !AllowedIn(m.Lifecycle.State, act.Type) {
		e.log.Warn("action: not allowed in lifecycle state",
			"ref", req.Ref, "actionId", req.ActionID, "type", act.Type, "state", m.Lifecycle.State)
		return false
	}

	switch act.Type {
	case message.ActionAck:
		return e.hub.ApplyActionPatch(req.Ref, lifecyclePatch(message.StateAcked, req.Actor, clearNotify()))
	case message.ActionClose:
		return e.hub.ApplyActionPatch(req.Ref, lifecyclePatch(message.StateClosed, req.Actor, nil))
	case message.ActionOpen:
		return e.hub.ApplyActionPatch(req.Ref, lifecyclePatch(message.StateOpen, req.Actor, nil))
	case message.ActionDelete:
		return e.hub.RemoveMessage(req.Ref, req.Actor)
	case message.ActionSnooze:
		if req.SnoozeForMs <= 0 {
			e.log.Warn("action: snooze without positive duration",
				"ref", req.Ref, "actionId", req.ActionID, "snoozeForMs", req.SnoozeForMs)
			return false
		}
		tp := message.TimingPatch{NotifyAt: message.Set(e.now() + req.SnoozeForMs)}
		return e.hub.ApplyActionPatch(req.Ref, lifecyclePatch(message.StateSnoozed, req.Actor, &tp))
	case message.ActionLink:
		// Side effect stays with the caller; the hub only validates.
		return true
	case message.ActionCustom:
		e.mu.RLock()
		h := e.custom
		e.mu.RUnlock()
		if h == nil {
			e.log.Debug("action: custom action without handler", "ref", req.Ref, "actionId", req.ActionID)
			return true
		}
		if err := h(ctx, req, *act); err != nil {
			e.log.Warn("action: custom handler failed", "ref", req.Ref, "actionId", req.ActionID, "err", err)
			return false
		}
		return true
	}
	e.log.Warn("action: unknown action type", "ref", req.Ref, "type", act.Type)
	return false
}

func lifecyclePatch(state message.State, actor string, tp *message.TimingPatch) message.Patch {
	lp := message.LifecyclePatch{State: message.Set(state)}
	if actor != "" {
		lp.StateChangedBy = message.Set(actor)
	}
	p := message.Patch{Lifecycle: message.Set(lp)}
	if tp != nil {
		p.Timing = message.Set(*tp)
	}
	return p
}

func clearNotify() *message.TimingPatch {
	return &message.TimingPatch{NotifyAt: message.Clear[int64]()}
}

// AllowedIn reports whether an action type may execute while the message
// is in state. The table mirrors the producer lifecycle graph: no ack
// once acked, no snooze unless open, reopen only from acked/snoozed.
func AllowedIn(state message.State, t message.ActionType) bool {
	switch t {
	case message.ActionAck:
		return state == message.StateOpen
	case message.ActionClose:
		return state == message.StateOpen || state == message.StateAcked || state == message.StateSnoozed
	case message.ActionOpen:
		return state == message.StateAcked || state == message.StateSnoozed
	case message.ActionDelete:
		return state == message.StateOpen || state == message.StateAcked ||
			state == message.StateSnoozed || state == message.StateClosed
	case message.ActionSnooze:
		return state == message.StateOpen
	case message.ActionLink, message.ActionCustom:
		return !state.CoreOnly()
	}
	return false
}

// SplitActions partitions a message's actions into the executable set and
// the view-only set for the given lifecycle state. Order is preserved in
// both halves. The inputs are cloned; views never alias store state.
func SplitActions(state message.State, actions []message.Action) (active, inactive []message.Action) {
	for _, a := range actions {
		if AllowedIn(state, a.Type) {
			active = append(active, a)
		} else {
			inactive = append(inactive, a)
		}
	}
	return message.CloneActions(active), message.CloneActions(inactive)
}
