package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/bdobrica/Dengon/common/spec/message"
	spec "github.com/bdobrica/Dengon/common/spec/platform"
	"github.com/bdobrica/Dengon/common/spec/plugin"
	"github.com/bdobrica/Dengon/internal/dengon/app"
	"github.com/bdobrica/Dengon/internal/dengon/config"
)

func newTestApp(t *testing.T, cfg *config.Config) *app.App {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.DataDir = t.TempDir()
	a, err := app.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Stop)
	return a
}

type sink struct {
	mu     sync.Mutex
	events []message.Event
	refs   []string
}

func (s *sink) HandleNotifications(ctx *plugin.Context, event message.Event, views []message.View) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	for _, v := range views {
		s.refs = append(s.refs, v.Ref)
	}
	return nil
}

func TestStateChangeFlowsThroughRuleToNotifyPlugin(t *testing.T) {
	cfg := config.Default()
	cfg.Rules = []config.RuleConfig{{
		Type: "threshold",
		Options: map[string]any{
			"stateId": "zigbee.0.temp",
			"mode":    "gt",
			"limit":   25.0,
		},
	}}
	a := newTestApp(t, cfg)

	consumer := &sink{}
	if err := a.Notify().Register("sink", consumer); err != nil {
		t.Fatal(err)
	}

	// A hot sample travels platform -> ingest -> rule -> store -> notify.
	a.Platform().SetForeignState(context.Background(), "zigbee.0.temp", spec.State{Val: 30.0, Ack: true})
	a.Platform().Flush()
	a.Notify().Flush()

	consumer.mu.Lock()
	events := append([]message.Event(nil), consumer.events...)
	consumer.mu.Unlock()
	if len(events) < 2 || events[0] != message.EventAdded {
		t.Fatalf("events = %v, want added then due", events)
	}

	v, ok := a.Store().MessageByRef("threshold.zigbee.0.temp", plugin.FilterAll)
	if !ok {
		t.Fatal("rule message missing from store")
	}
	if v.Metrics["state-value"].Val != 30.0 {
		t.Errorf("state-value = %v", v.Metrics["state-value"].Val)
	}
}

func TestActionExecutorReachableFromApp(t *testing.T) {
	a := newTestApp(t, nil)
	a.Store().AddMessage(message.Draft{
		Ref:    "act.1",
		Title:  "T",
		Text:   "X",
		Level:  message.LevelNotice,
		Kind:   message.KindStatus,
		Origin: message.Origin{Type: message.OriginManual},
		Actions: []message.Action{
			{ID: "ok", Type: message.ActionAck},
		},
	})
	ok := a.ActionExecutor().Execute(context.Background(), plugin.ActionRequest{
		Ref: "act.1", ActionID: "ok", Actor: "tester",
	})
	if !ok {
		t.Fatal("action execution failed")
	}
	v, _ := a.Store().MessageByRef("act.1", plugin.FilterAll)
	if v.Lifecycle.State != message.StateAcked {
		t.Errorf("state = %q, want acked", v.Lifecycle.State)
	}
}

func TestHealthEndpoints(t *testing.T) {
	a := newTestApp(t, nil)
	hs := app.NewHealthServer(":0", a.Store())

	for _, path := range []string{"/healthz", "/status"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		hs.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, rec.Code)
		}
	}
	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rec := httptest.NewRecorder()
	hs.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /healthz = %d", rec.Code)
	}
}

func TestStopIsIdempotentAndOrdered(t *testing.T) {
	a := newTestApp(t, nil)
	a.Store().AddMessage(message.Draft{
		Ref: "persist", Title: "T", Text: "X",
		Level: message.LevelNotice, Kind: message.KindStatus,
		Origin: message.Origin{Type: message.OriginManual},
	})
	a.Stop()
	a.Stop()
	// Mutations after stop fail soft.
	if a.Store().AddMessage(message.Draft{
		Ref: "late", Title: "T", Text: "X",
		Level: message.LevelNotice, Kind: message.KindStatus,
		Origin: message.Origin{Type: message.OriginManual},
	}) {
		t.Error("mutation accepted after Stop")
	}
}
