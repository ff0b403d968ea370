package store_test

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/Dengon/common/spec/message"
	"github.com/bdobrica/Dengon/common/spec/plugin"
	"github.com/bdobrica/Dengon/internal/dengon/archive"
	"github.com/bdobrica/Dengon/internal/dengon/policy"
	"github.com/bdobrica/Dengon/internal/dengon/storage"
	"github.com/bdobrica/Dengon/internal/dengon/store"
)

// fakeClock is a settable millisecond clock.
type fakeClock struct {
	mu sync.Mutex
	ms int64
}

func (c *fakeClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ms
}

func (c *fakeClock) Set(ms int64) {
	c.mu.Lock()
	c.ms = ms
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.ms += d.Milliseconds()
	c.mu.Unlock()
}

// recorder captures dispatched events in order. Dispatch runs on the
// store scheduler, so mutators have returned before assertions run.
type recorder struct {
	mu     sync.Mutex
	events []recorded
}

type recorded struct {
	event message.Event
	refs  []string
}

func (r *recorder) Dispatch(event message.Event, views []message.View) {
	refs := make([]string, len(views))
	for i, v := range views {
		refs[i] = v.Ref
	}
	r.mu.Lock()
	r.events = append(r.events, recorded{event, refs})
	r.mu.Unlock()
}

func (r *recorder) take() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

const t0 = int64(1700000000000)

type fixture struct {
	store *store.Store
	clock *fakeClock
	disp  *recorder
}

func newTestStore(t *testing.T, cfg store.Config) *fixture {
	t.Helper()
	dir := t.TempDir()
	clock := &fakeClock{ms: t0}
	disp := &recorder{}
	cfg.Now = clock.Now
	st := storage.New(filepath.Join(dir, "messages.json"), nil, nil)
	ar := archive.NewWithInterval(filepath.Join(dir, "archive"), nil, nil, time.Hour)
	s := store.New(cfg, store.Deps{
		Storage:    st,
		Archive:    ar,
		Policy:     policy.New(policy.QuietHours{}, time.UTC),
		Dispatcher: disp,
	})
	s.Start()
	t.Cleanup(func() {
		s.Stop()
		st.Close()
		ar.Close()
	})
	return &fixture{store: s, clock: clock, disp: disp}
}

func draft(ref string) message.Draft {
	return message.Draft{
		Ref:    ref,
		Title:  "T",
		Text:   "X",
		Level:  message.LevelNotice,
		Kind:   message.KindStatus,
		Origin: message.Origin{Type: message.OriginManual},
	}
}

func assertEvents(t *testing.T, got []recorded, want ...message.Event) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i, w := range want {
		if got[i].event != w {
			t.Fatalf("event[%d] = %q, want %q (all: %v)", i, got[i].event, w, got)
		}
	}
}

func TestAddDispatchesAddedThenImmediateDue(t *testing.T) {
	f := newTestStore(t, store.Config{})

	if !f.store.AddMessage(draft("r1")) {
		t.Fatal("AddMessage failed")
	}
	events := f.disp.take()
	assertEvents(t, events, message.EventAdded, message.EventDue)
	if events[1].refs[0] != "r1" {
		t.Errorf("due refs = %v", events[1].refs)
	}

	v, ok := f.store.MessageByRef("r1", plugin.FilterAll)
	if !ok {
		t.Fatal("MessageByRef failed")
	}
	if v.Timing.CreatedAt != t0 {
		t.Errorf("createdAt = %d, want %d", v.Timing.CreatedAt, t0)
	}
	if v.Timing.NotifiedAt[message.EventDue] != t0 {
		t.Errorf("notifiedAt.due = %d", v.Timing.NotifiedAt[message.EventDue])
	}
}

func TestDeferredDueThenReminder(t *testing.T) {
	f := newTestStore(t, store.Config{})

	d := draft("r2")
	d.Timing = message.DraftTiming{NotifyAt: t0 + 60000, RemindEvery: 60000}
	if !f.store.AddMessage(d) {
		t.Fatal("AddMessage failed")
	}
	assertEvents(t, f.disp.take(), message.EventAdded)

	// Not yet due.
	f.store.InitiateNotifications(true)
	assertEvents(t, f.disp.take())

	f.clock.Set(t0 + 60000)
	f.store.InitiateNotifications(true)
	events := f.disp.take()
	assertEvents(t, events, message.EventDue)

	v, _ := f.store.MessageByRef("r2", plugin.FilterAll)
	if v.Timing.NotifyAt != t0+120000 {
		t.Errorf("notifyAt = %d, want %d (reminder cadence)", v.Timing.NotifyAt, t0+120000)
	}
}

func TestOneShotDueClearsNotifyAt(t *testing.T) {
	f := newTestStore(t, store.Config{})

	d := draft("os")
	d.Timing = message.DraftTiming{NotifyAt: t0 + 1000}
	f.store.AddMessage(d)
	f.disp.take()

	f.clock.Set(t0 + 1000)
	f.store.InitiateNotifications(true)
	assertEvents(t, f.disp.take(), message.EventDue)

	v, _ := f.store.MessageByRef("os", plugin.FilterAll)
	if v.Timing.NotifyAt != 0 {
		t.Errorf("one-shot notifyAt = %d, want cleared", v.Timing.NotifyAt)
	}
}

func TestDuplicateRefRejected(t *testing.T) {
	f := newTestStore(t, store.Config{})

	f.store.AddMessage(draft("dup"))
	f.disp.take()
	if f.store.AddMessage(draft("dup")) {
		t.Error("duplicate add succeeded")
	}
	assertEvents(t, f.disp.take())
}

func TestRecoverVsRecreateWithCooldown(t *testing.T) {
	f := newTestStore(t, store.Config{})

	d := draft("r4")
	d.Timing = message.DraftTiming{Cooldown: 1000}
	f.store.AddMessage(d)
	f.store.RemoveMessage("r4", "tester")
	f.disp.take()

	// Within cooldown of the deletion: recovered, no due.
	f.clock.Set(t0 + 500)
	if !f.store.AddMessage(d) {
		t.Fatal("re-add failed")
	}
	assertEvents(t, f.disp.take(), message.EventRecovered)

	f.store.RemoveMessage("r4", "tester")
	f.disp.take()

	// Past the cooldown: recreated followed by due.
	f.clock.Set(t0 + 500 + 1500)
	if !f.store.AddMessage(d) {
		t.Fatal("re-add failed")
	}
	assertEvents(t, f.disp.take(), message.EventRecreated, message.EventDue)
}

func TestUpdateDispatchesUpdatedAndDue(t *testing.T) {
	f := newTestStore(t, store.Config{})

	f.store.AddMessage(draft("r.up"))
	f.disp.take()

	f.clock.Advance(time.Second)
	if !f.store.UpdateMessage("r.up", message.Patch{Title: message.Set("New")}) {
		t.Fatal("UpdateMessage failed")
	}
	assertEvents(t, f.disp.take(), message.EventUpdated, message.EventDue)

	v, _ := f.store.MessageByRef("r.up", plugin.FilterAll)
	if v.Title != "New" {
		t.Errorf("title = %q", v.Title)
	}
	if v.Timing.UpdatedAt != t0+1000 {
		t.Errorf("updatedAt = %d, want %d", v.Timing.UpdatedAt, t0+1000)
	}
}

func TestMetricsOnlyPatchIsStealthy(t *testing.T) {
	f := newTestStore(t, store.Config{})

	f.store.AddMessage(draft("r.m"))
	f.disp.take()

	f.clock.Advance(time.Second)
	ok := f.store.UpdateMessage("r.m", message.Patch{
		Metrics: message.Set(message.MergeMetrics(map[string]message.Metric{
			"state-value": {Val: 42.0, Unit: "l"},
		})),
	})
	if !ok {
		t.Fatal("metrics patch failed")
	}
	assertEvents(t, f.disp.take())

	v, _ := f.store.MessageByRef("r.m", plugin.FilterAll)
	if v.Timing.UpdatedAt != t0 {
		t.Errorf("metrics-only patch bumped updatedAt to %d", v.Timing.UpdatedAt)
	}
	if v.Metrics["state-value"].Val != 42.0 {
		t.Errorf("metric missing: %+v", v.Metrics)
	}
}

func TestUpdateUnknownRefFails(t *testing.T) {
	f := newTestStore(t, store.Config{})
	if f.store.UpdateMessage("ghost", message.Patch{Title: message.Set("x")}) {
		t.Error("update of unknown ref succeeded")
	}
}

func TestRemoveSoftDeletes(t *testing.T) {
	f := newTestStore(t, store.Config{})

	f.store.AddMessage(draft("r5"))
	f.disp.take()

	if !f.store.RemoveMessage("r5", "chat:9") {
		t.Fatal("RemoveMessage failed")
	}
	assertEvents(t, f.disp.take(), message.EventDeleted)

	// Hidden by default, visible with an explicit filter.
	if _, ok := f.store.MessageByRef("r5", plugin.FilterQuasiOpen); ok {
		t.Error("deleted message visible through quasiOpen filter")
	}
	v, ok := f.store.MessageByRef("r5", plugin.FilterAll)
	if !ok {
		t.Fatal("deleted message gone from list before hard delete")
	}
	if v.Lifecycle.State != message.StateDeleted {
		t.Errorf("state = %q", v.Lifecycle.State)
	}
	if v.Lifecycle.StateChangedBy != "chat:9" {
		t.Errorf("stateChangedBy = %q", v.Lifecycle.StateChangedBy)
	}
}

func TestHardDeleteAfterRetention(t *testing.T) {
	f := newTestStore(t, store.Config{
		HardDeleteAfter: time.Hour,
		StartupGrace:    time.Minute,
	})

	f.store.AddMessage(draft("r5"))
	f.store.RemoveMessage("r5", "tester")
	f.disp.take()

	// Inside retention: nothing happens even when forced.
	f.clock.Advance(30 * time.Minute)
	f.store.HardDelete(true)
	if _, ok := f.store.MessageByRef("r5", plugin.FilterAll); !ok {
		t.Fatal("message purged before retention elapsed")
	}

	f.clock.Advance(31 * time.Minute)
	f.store.HardDelete(true)
	if _, ok := f.store.MessageByRef("r5", plugin.FilterAll); ok {
		t.Error("message still present after retention + forced pass")
	}
}

func TestHardDeleteHonorsStartupGrace(t *testing.T) {
	f := newTestStore(t, store.Config{
		HardDeleteAfter: time.Millisecond,
		StartupGrace:    time.Hour,
	})

	f.store.AddMessage(draft("g"))
	f.store.RemoveMessage("g", "t")
	f.clock.Advance(time.Minute)
	f.store.HardDelete(true)
	if _, ok := f.store.MessageByRef("g", plugin.FilterAll); !ok {
		t.Error("hard delete ran inside the startup grace")
	}
}

func TestCleanupClosedSoftDeletes(t *testing.T) {
	f := newTestStore(t, store.Config{CloseGrace: 30 * time.Second})

	f.store.AddMessage(draft("c"))
	f.store.UpdateMessage("c", message.Patch{
		Lifecycle: message.Set(message.LifecyclePatch{State: message.Set(message.StateClosed)}),
	})
	f.disp.take()

	f.clock.Advance(10 * time.Second)
	f.store.CleanupClosed(true)
	assertEvents(t, f.disp.take())

	f.clock.Advance(25 * time.Second)
	f.store.CleanupClosed(true)
	assertEvents(t, f.disp.take(), message.EventDeleted)

	v, _ := f.store.MessageByRef("c", plugin.FilterAll)
	if v.Lifecycle.State != message.StateDeleted {
		t.Errorf("state = %q, want deleted", v.Lifecycle.State)
	}
}

func TestPruneExpiresBatch(t *testing.T) {
	f := newTestStore(t, store.Config{})

	for _, ref := range []string{"e1", "e2"} {
		d := draft(ref)
		d.Timing = message.DraftTiming{ExpiresAt: t0 + 1000}
		f.store.AddMessage(d)
	}
	keep := draft("keep")
	f.store.AddMessage(keep)
	f.disp.take()

	f.clock.Set(t0 + 2000)
	f.store.Prune(true)
	events := f.disp.take()
	assertEvents(t, events, message.EventExpired)
	if len(events[0].refs) != 2 {
		t.Errorf("expired batch = %v, want both e1 and e2", events[0].refs)
	}

	v, _ := f.store.MessageByRef("e1", plugin.FilterAll)
	if v.Lifecycle.State != message.StateExpired {
		t.Errorf("state = %q", v.Lifecycle.State)
	}
	if v.Timing.NotifyAt != 0 {
		t.Errorf("expired message kept notifyAt = %d", v.Timing.NotifyAt)
	}
}

func TestDueWithheldAfterExpiry(t *testing.T) {
	f := newTestStore(t, store.Config{})

	d := draft("exp.1")
	d.Timing = message.DraftTiming{NotifyAt: t0 + 2000, ExpiresAt: t0 + 1000}
	if !f.store.AddMessage(d) {
		t.Fatal("AddMessage failed")
	}
	assertEvents(t, f.disp.take(), message.EventAdded)

	// The reminder lands after the expiry instant. Even before prune has
	// visited, the scan must not fire due for an expired message.
	f.clock.Set(t0 + 3000)
	f.store.InitiateNotifications(true)
	assertEvents(t, f.disp.take())

	f.store.Prune(true)
	assertEvents(t, f.disp.take(), message.EventExpired)
	v, _ := f.store.MessageByRef("exp.1", plugin.FilterAll)
	if v.Lifecycle.State != message.StateExpired {
		t.Errorf("state = %q, want expired", v.Lifecycle.State)
	}
}

func TestImmediateDueWithheldWhenAlreadyExpired(t *testing.T) {
	f := newTestStore(t, store.Config{})

	d := draft("exp.2")
	d.Timing = message.DraftTiming{ExpiresAt: t0 - 1000}
	if !f.store.AddMessage(d) {
		t.Fatal("AddMessage failed")
	}
	assertEvents(t, f.disp.take(), message.EventAdded)

	// A user-visible update on the stale entry dispatches updated only.
	if !f.store.UpdateMessage("exp.2", message.Patch{Title: message.Set("T2")}) {
		t.Fatal("UpdateMessage failed")
	}
	assertEvents(t, f.disp.take(), message.EventUpdated)
}

func TestQuietHoursSuppressionAndRelease(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{}
	disp := &recorder{}
	st := storage.New(filepath.Join(dir, "messages.json"), nil, nil)
	ar := archive.NewWithInterval(filepath.Join(dir, "archive"), nil, nil, time.Hour)
	pol := policy.New(policy.QuietHours{
		Enabled: true, StartMin: 22 * 60, EndMin: 6 * 60,
		MaxLevel: message.LevelWarning,
	}, time.UTC)
	night := time.Date(2026, 8, 25, 23, 0, 0, 0, time.UTC).UnixMilli()
	clock.Set(night - 60000)
	s := store.New(store.Config{Now: clock.Now}, store.Deps{
		Storage: st, Archive: ar, Policy: pol, Dispatcher: disp,
	})
	s.Start()
	t.Cleanup(func() { s.Stop(); st.Close(); ar.Close() })

	d := draft("r3")
	d.Timing = message.DraftTiming{RemindEvery: 60000}
	s.AddMessage(d) // added + first due (always fires), stamps notifiedAt.due
	events := disp.take()
	assertEvents(t, events, message.EventAdded, message.EventDue)

	// Repeat due at 23:00: suppressed, notifyAt pushed to 06:00.
	clock.Set(night)
	s.InitiateNotifications(true)
	assertEvents(t, disp.take())
	v, _ := s.MessageByRef("r3", plugin.FilterAll)
	wantEnd := time.Date(2026, 8, 26, 6, 0, 0, 0, time.UTC).UnixMilli()
	if v.Timing.NotifyAt != wantEnd {
		t.Fatalf("notifyAt = %d, want %d (quiet end)", v.Timing.NotifyAt, wantEnd)
	}
	if v.Timing.NotifiedAt[message.EventDue] != night-60000 {
		t.Errorf("notifiedAt.due changed on suppression: %d", v.Timing.NotifiedAt[message.EventDue])
	}

	// At 06:00 the due fires.
	clock.Set(wantEnd)
	s.InitiateNotifications(true)
	assertEvents(t, disp.take(), message.EventDue)
}

func TestSnoozedReopensOnDue(t *testing.T) {
	f := newTestStore(t, store.Config{})

	d := draft("zz")
	d.Timing = message.DraftTiming{NotifyAt: t0 + 1000}
	f.store.AddMessage(d)
	f.store.UpdateMessage("zz", message.Patch{
		Lifecycle: message.Set(message.LifecyclePatch{State: message.Set(message.StateSnoozed)}),
	})
	f.disp.take()

	f.clock.Set(t0 + 1000)
	f.store.InitiateNotifications(true)
	events := f.disp.take()
	assertEvents(t, events, message.EventDue)

	v, _ := f.store.MessageByRef("zz", plugin.FilterAll)
	if v.Lifecycle.State != message.StateOpen {
		t.Errorf("state = %q, want open after snooze elapse", v.Lifecycle.State)
	}
}

func TestAddOrUpdate(t *testing.T) {
	f := newTestStore(t, store.Config{})

	d := draft("up")
	if !f.store.AddOrUpdateMessage(d) {
		t.Fatal("initial upsert failed")
	}
	assertEvents(t, f.disp.take(), message.EventAdded, message.EventDue)

	f.clock.Advance(time.Second)
	d.Title = "Changed"
	if !f.store.AddOrUpdateMessage(d) {
		t.Fatal("second upsert failed")
	}
	events := f.disp.take()
	if len(events) == 0 || events[0].event != message.EventUpdated {
		t.Fatalf("events = %v, want updated first", events)
	}
	v, _ := f.store.MessageByRef("up", plugin.FilterAll)
	if v.Title != "Changed" {
		t.Errorf("title = %q", v.Title)
	}
	if v.Timing.CreatedAt != t0 {
		t.Errorf("upsert reset createdAt to %d", v.Timing.CreatedAt)
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{ms: t0}
	st := storage.New(filepath.Join(dir, "messages.json"), nil, nil)
	ar := archive.NewWithInterval(filepath.Join(dir, "archive"), nil, nil, time.Hour)
	s := store.New(store.Config{Now: clock.Now}, store.Deps{
		Storage: st, Archive: ar,
		Policy: policy.New(policy.QuietHours{}, time.UTC), Dispatcher: &recorder{},
	})
	s.Start()
	s.AddMessage(draft("persist"))
	s.Stop()
	st.Close()
	ar.Close()

	st2 := storage.New(filepath.Join(dir, "messages.json"), nil, nil)
	ar2 := archive.NewWithInterval(filepath.Join(dir, "archive"), nil, nil, time.Hour)
	s2 := store.New(store.Config{Now: clock.Now}, store.Deps{
		Storage: st2, Archive: ar2,
		Policy: policy.New(policy.QuietHours{}, time.UTC), Dispatcher: &recorder{},
	})
	s2.Start()
	t.Cleanup(func() { s2.Stop(); st2.Close(); ar2.Close() })

	v, ok := s2.MessageByRef("persist", plugin.FilterAll)
	if !ok {
		t.Fatal("message lost across restart")
	}
	if v.Timing.CreatedAt != t0 {
		t.Errorf("createdAt = %d", v.Timing.CreatedAt)
	}
}
