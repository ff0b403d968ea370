package action_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/bdobrica/Dengon/common/spec/message"
	"github.com/bdobrica/Dengon/common/spec/plugin"
	"github.com/bdobrica/Dengon/internal/dengon/action"
)

// fakeHub records the patches the executor applies.
type fakeHub struct {
	msgs    map[string]message.Message
	patches []message.Patch
	removed []string
	fail    bool
}

func (h *fakeHub) MessageForAction(ref string) (message.Message, bool) {
	m, ok := h.msgs[ref]
	return m, ok
}

func (h *fakeHub) ApplyActionPatch(ref string, p message.Patch) bool {
	if h.fail {
		return false
	}
	h.patches = append(h.patches, p)
	return true
}

func (h *fakeHub) RemoveMessage(ref, actor string) bool {
	h.removed = append(h.removed, ref+"/"+actor)
	return true
}

func newHub(state message.State, actions ...message.Action) *fakeHub {
	return &fakeHub{msgs: map[string]message.Message{
		"r1": {
			Ref: "r1", Title: "T", Text: "X",
			Kind:      message.KindTask,
			Origin:    message.Origin{Type: message.OriginManual},
			Lifecycle: message.Lifecycle{State: state},
			Timing:    message.Timing{CreatedAt: 1700000000000, UpdatedAt: 1700000000000},
			Actions:   actions,
		},
	}}
}

func newExecutor(h *fakeHub) *action.Executor {
	return action.NewExecutor(h, nil, func() int64 { return 1700000000000 })
}

func TestExecuteAck(t *testing.T) {
	h := newHub(message.StateOpen, message.Action{ID: "ack", Type: message.ActionAck})
	e := newExecutor(h)

	ok := e.Execute(context.Background(), plugin.ActionRequest{
		Ref: "r1", ActionID: "ack", Actor: "chat:123",
	})
	if !ok {
		t.Fatal("Execute returned false")
	}
	if len(h.patches) != 1 {
		t.Fatalf("got %d patches, want 1", len(h.patches))
	}
	p := h.patches[0]
	lp := p.Lifecycle.Value()
	if lp.State.Value() != message.StateAcked {
		t.Errorf("state = %v, want acked", lp.State.Value())
	}
	if lp.StateChangedBy.Value() != "chat:123" {
		t.Errorf("stateChangedBy = %q", lp.StateChangedBy.Value())
	}
	if !p.Timing.Value().NotifyAt.Null() {
		t.Error("ack must clear notifyAt")
	}
}

func TestExecuteSnooze(t *testing.T) {
	h := newHub(message.StateOpen, message.Action{ID: "zz", Type: message.ActionSnooze})
	e := newExecutor(h)

	ok := e.Execute(context.Background(), plugin.ActionRequest{
		Ref: "r1", ActionID: "zz", Actor: "u", SnoozeForMs: 60000,
	})
	if !ok {
		t.Fatal("Execute returned false")
	}
	p := h.patches[0]
	if got := p.Lifecycle.Value().State.Value(); got != message.StateSnoozed {
		t.Errorf("state = %v", got)
	}
	if got := p.Timing.Value().NotifyAt.Value(); got != 1700000060000 {
		t.Errorf("notifyAt = %d, want now+60s", got)
	}
}

func TestExecuteSnoozeWithoutDurationFails(t *testing.T) {
	h := newHub(message.StateOpen, message.Action{ID: "zz", Type: message.ActionSnooze})
	e := newExecutor(h)

	if e.Execute(context.Background(), plugin.ActionRequest{Ref: "r1", ActionID: "zz"}) {
		t.Error("snooze without duration succeeded")
	}
	if len(h.patches) != 0 {
		t.Error("failed snooze still mutated the store")
	}
}

func TestExecuteDelete(t *testing.T) {
	h := newHub(message.StateOpen, message.Action{ID: "del", Type: message.ActionDelete})
	e := newExecutor(h)

	if !e.Execute(context.Background(), plugin.ActionRequest{Ref: "r1", ActionID: "del", Actor: "u"}) {
		t.Fatal("Execute returned false")
	}
	if len(h.removed) != 1 || h.removed[0] != "r1/u" {
		t.Errorf("removed = %v", h.removed)
	}
}

func TestExecuteRejectsUnknownRefAndID(t *testing.T) {
	h := newHub(message.StateOpen, message.Action{ID: "ack", Type: message.ActionAck})
	e := newExecutor(h)

	if e.Execute(context.Background(), plugin.ActionRequest{Ref: "nope", ActionID: "ack"}) {
		t.Error("unknown ref succeeded")
	}
	if e.Execute(context.Background(), plugin.ActionRequest{Ref: "r1", ActionID: "nope"}) {
		t.Error("unknown action id succeeded")
	}
	if len(h.patches) != 0 {
		t.Error("failures mutated the store")
	}
}

func TestExecuteRejectsDisallowedState(t *testing.T) {
	h := newHub(message.StateAcked, message.Action{ID: "ack", Type: message.ActionAck})
	e := newExecutor(h)

	if e.Execute(context.Background(), plugin.ActionRequest{Ref: "r1", ActionID: "ack"}) {
		t.Error("ack from acked succeeded")
	}
}

func TestExecuteCustom(t *testing.T) {
	payload := json.RawMessage(`{"scene":"movie"}`)
	h := newHub(message.StateOpen, message.Action{ID: "c", Type: message.ActionCustom, Payload: payload})
	e := newExecutor(h)

	var got plugin.ActionRequest
	e.OnCustom(func(_ context.Context, req plugin.ActionRequest, a message.Action) error {
		got = req
		if string(a.Payload) != string(payload) {
			t.Errorf("action payload = %s", a.Payload)
		}
		return nil
	})
	if !e.Execute(context.Background(), plugin.ActionRequest{Ref: "r1", ActionID: "c", Payload: payload}) {
		t.Fatal("custom execute failed")
	}
	if got.ActionID != "c" {
		t.Errorf("handler saw request %+v", got)
	}
	if len(h.patches) != 0 {
		t.Error("custom action mutated the store")
	}

	e.OnCustom(func(context.Context, plugin.ActionRequest, message.Action) error {
		return errors.New("boom")
	})
	if e.Execute(context.Background(), plugin.ActionRequest{Ref: "r1", ActionID: "c"}) {
		t.Error("failing custom handler reported success")
	}
}

func TestSplitActions(t *testing.T) {
	actions := []message.Action{
		{ID: "ack", Type: message.ActionAck},
		{ID: "close", Type: message.ActionClose},
		{ID: "open", Type: message.ActionOpen},
		{ID: "link", Type: message.ActionLink},
	}

	active, inactive := action.SplitActions(message.StateOpen, actions)
	if len(active) != 3 || len(inactive) != 1 {
		t.Fatalf("open: active=%d inactive=%d, want 3/1", len(active), len(inactive))
	}
	if inactive[0].ID != "open" {
		t.Errorf("open action should be inactive while open, got %q", inactive[0].ID)
	}

	active, inactive = action.SplitActions(message.StateAcked, actions)
	ids := func(as []message.Action) []string {
		var out []string
		for _, a := range as {
			out = append(out, a.ID)
		}
		return out
	}
	if len(active) != 3 || active[0].ID != "close" {
		t.Errorf("acked active = %v", ids(active))
	}
	if len(inactive) != 1 || inactive[0].ID != "ack" {
		t.Errorf("acked inactive = %v", ids(inactive))
	}

	active, _ = action.SplitActions(message.StateDeleted, actions)
	if len(active) != 0 {
		t.Errorf("deleted state offers actions: %v", ids(active))
	}
}
