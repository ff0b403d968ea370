package platform_test

import (
	"context"
	"sync"
	"testing"
	"time"

	spec "github.com/bdobrica/Dengon/common/spec/platform"
	"github.com/bdobrica/Dengon/internal/dengon/platform"
)

func newTestPlatform(t *testing.T) *platform.Memory {
	t.Helper()
	m := platform.New("dengon.0")
	t.Cleanup(m.Close)
	return m
}

func TestStateRoundTripAndTimestamps(t *testing.T) {
	m := newTestPlatform(t)
	ms := int64(1700000000000)
	m.SetClock(func() int64 { return ms })
	ctx := context.Background()

	if err := m.SetForeignState(ctx, "hm-rpc.0.temp", spec.State{Val: 21.5, Ack: true}); err != nil {
		t.Fatal(err)
	}
	st, err := m.GetForeignState(ctx, "hm-rpc.0.temp")
	if err != nil || st == nil {
		t.Fatalf("get: %v, %v", st, err)
	}
	if st.TS != ms || st.LC != ms {
		t.Errorf("ts/lc = %d/%d, want %d", st.TS, st.LC, ms)
	}

	// Same value again: ts advances, lc does not.
	ms += 1000
	m.SetForeignState(ctx, "hm-rpc.0.temp", spec.State{Val: 21.5, Ack: true})
	st, _ = m.GetForeignState(ctx, "hm-rpc.0.temp")
	if st.TS != ms {
		t.Errorf("ts = %d, want %d", st.TS, ms)
	}
	if st.LC != ms-1000 {
		t.Errorf("lc = %d, want unchanged %d", st.LC, ms-1000)
	}

	// Changed value moves lc.
	ms += 1000
	m.SetForeignState(ctx, "hm-rpc.0.temp", spec.State{Val: 22.0, Ack: true})
	st, _ = m.GetForeignState(ctx, "hm-rpc.0.temp")
	if st.LC != ms {
		t.Errorf("lc = %d, want %d after change", st.LC, ms)
	}
}

func TestMissingStateIsNilNil(t *testing.T) {
	m := newTestPlatform(t)
	st, err := m.GetForeignState(context.Background(), "nope")
	if st != nil || err != nil {
		t.Errorf("got %v, %v, want nil, nil", st, err)
	}
}

func TestSetStateIsNamespaceRelative(t *testing.T) {
	m := newTestPlatform(t)
	ctx := context.Background()
	m.SetState(ctx, "info.connected", spec.State{Val: true, Ack: true})
	st, _ := m.GetForeignState(ctx, "dengon.0.info.connected")
	if st == nil || st.Val != true {
		t.Errorf("namespaced state = %v", st)
	}
}

func TestSubscriptionPatternDelivery(t *testing.T) {
	m := newTestPlatform(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	m.OnStateChange(func(id string, st *spec.State) {
		mu.Lock()
		got = append(got, id)
		mu.Unlock()
	})
	m.SubscribeForeignStates(ctx, "hm-rpc.0.*")

	m.SetForeignState(ctx, "hm-rpc.0.temp", spec.State{Val: 1})
	m.SetForeignState(ctx, "zigbee.0.temp", spec.State{Val: 2})
	m.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "hm-rpc.0.temp" {
		t.Errorf("delivered = %v, want only the matching id", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	m := newTestPlatform(t)
	ctx := context.Background()
	var mu sync.Mutex
	count := 0
	m.OnStateChange(func(id string, st *spec.State) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	m.SubscribeForeignStates(ctx, "a.*")
	m.SetForeignState(ctx, "a.1", spec.State{Val: 1})
	m.UnsubscribeForeignStates(ctx, "a.*")
	m.SetForeignState(ctx, "a.1", spec.State{Val: 2})
	m.Flush()

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("deliveries = %d, want 1", count)
	}
}

func TestObjectsAndView(t *testing.T) {
	m := newTestPlatform(t)
	ctx := context.Background()

	m.SetObjectNotExists(ctx, "b.obj", spec.Object{Type: "state", Common: spec.ObjectCommon{Name: "B"}})
	m.SetObjectNotExists(ctx, "a.obj", spec.Object{Type: "state", Common: spec.ObjectCommon{Name: "A"}})
	// Second create of the same id is a no-op.
	m.SetObjectNotExists(ctx, "a.obj", spec.Object{Type: "state", Common: spec.ObjectCommon{Name: "other"}})

	obj, _ := m.GetForeignObject(ctx, "a.obj")
	if obj == nil || obj.Common.Name != "A" {
		t.Errorf("object = %v", obj)
	}

	all, _ := m.GetObjectView(ctx, "system", "state", spec.ViewParams{})
	if len(all) != 2 || all[0].ID != "a.obj" || all[1].ID != "b.obj" {
		t.Errorf("view = %v, want sorted a.obj, b.obj", all)
	}

	ranged, _ := m.GetObjectView(ctx, "system", "state", spec.ViewParams{StartKey: "b", EndKey: "c"})
	if len(ranged) != 1 || ranged[0].ID != "b.obj" {
		t.Errorf("ranged view = %v", ranged)
	}
}

func TestSendToRecorder(t *testing.T) {
	m := newTestPlatform(t)
	m.SendTo(context.Background(), "telegram.0", "send", map[string]any{"text": "hi"})
	sent := m.Sent()
	if len(sent) != 1 || sent[0].Instance != "telegram.0" || sent[0].Command != "send" {
		t.Errorf("sent = %v", sent)
	}
}

func TestTimers(t *testing.T) {
	m := newTestPlatform(t)
	fired := make(chan struct{}, 1)
	m.SetTimeout(10*time.Millisecond, func() { fired <- struct{}{} })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}

	cancelled := make(chan struct{}, 1)
	id := m.SetTimeout(50*time.Millisecond, func() { cancelled <- struct{}{} })
	m.ClearTimeout(id)
	select {
	case <-cancelled:
		t.Error("cleared timeout fired")
	case <-time.After(120 * time.Millisecond):
	}

	ticks := make(chan struct{}, 16)
	iid := m.SetInterval(10*time.Millisecond, func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})
	<-ticks
	<-ticks
	m.ClearInterval(iid)
	// Clearing twice is a no-op.
	m.ClearInterval(iid)
}

func TestI18n(t *testing.T) {
	m := newTestPlatform(t)
	tr := m.I18n()
	if got := tr.T("plain key"); got != "plain key" {
		t.Errorf("T = %q", got)
	}
	if got := tr.T("temp is %v", 21.5); got != "temp is 21.5" {
		t.Errorf("T = %q", got)
	}
	m.SetTranslation("temp is %v", "Temperatur: %v")
	if got := tr.T("temp is %v", 21.5); got != "Temperatur: 21.5" {
		t.Errorf("translated T = %q", got)
	}
}

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern, id string
		want        bool
	}{
		{"*", "anything", true},
		{"hm-rpc.0.*", "hm-rpc.0.temp", true},
		{"hm-rpc.0.*", "zigbee.0.temp", false},
		{"*.connected", "hm-rpc.0.info.connected", true},
		{"a.*.c", "a.b.c", true},
		{"a.*.c", "a.b.d", false},
		{"exact", "exact", true},
		{"exact", "exact2", false},
	}
	for _, c := range cases {
		if got := spec.MatchPattern(c.pattern, c.id); got != c.want {
			t.Errorf("MatchPattern(%q, %q) = %v, want %v", c.pattern, c.id, got, c.want)
		}
	}
}
