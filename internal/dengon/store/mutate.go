package store

import (
	"errors"

	"github.com/bdobrica/Dengon/common/spec/message"
	"github.com/bdobrica/Dengon/internal/dengon/archive"
	"github.com/bdobrica/Dengon/internal/dengon/factory"
)

// AddMessage validates the draft and inserts it. A duplicate ref is
// rejected unless the existing entry is quasi-deleted, in which case the
// old entry is archived with purgeOnRecreate and replaced. The dispatched
// event is added (fresh), recovered (re-add within the previous entry's
// cooldown of its deletion) or recreated (re-add past the cooldown).
func (s *Store) AddMessage(d message.Draft) bool {
	var ok bool
	s.do(func() { ok = s.addLocked(d) })
	return ok
}

func (s *Store) addLocked(d message.Draft) bool {
	now := s.now()
	m, err := factory.Create(now, d)
	if err != nil {
		s.met.Mutations.WithLabelValues("add", "invalid").Inc()
		s.log.Warn("store: add rejected", "ref", d.Ref, "err", err)
		return false
	}

	event := message.EventAdded
	if idx, exists := s.index[m.Ref]; exists {
		prev := s.list[idx]
		if !prev.Lifecycle.State.QuasiDeleted() {
			s.met.Mutations.WithLabelValues("add", "duplicate").Inc()
			s.log.Warn("store: add rejected, ref exists", "ref", m.Ref, "state", prev.Lifecycle.State)
			return false
		}
		s.archive.AppendDelete(now, prev, archive.DeletePurgeOnRecreate)
		s.removeAt(idx)
		if prev.Timing.Cooldown > 0 && now-prev.Lifecycle.StateChangedAt <= prev.Timing.Cooldown {
			event = message.EventRecovered
		} else {
			event = message.EventRecreated
		}
	}

	s.index[m.Ref] = len(s.list)
	s.list = append(s.list, m)
	s.archive.AppendCreate(now, m)
	s.commit()
	s.met.Mutations.WithLabelValues("add", "ok").Inc()
	s.log.Debug("store: message added", "ref", m.Ref, "event", event)

	s.dispatch(event, []string{m.Ref})
	if m.Timing.NotifyAt == 0 && m.Lifecycle.State == message.StateOpen &&
		event != message.EventRecovered && !pastExpiry(m.Timing, now) {
		s.deliverDue([]string{m.Ref})
	}
	return true
}

// UpdateMessage applies a producer patch. It returns false when the ref
// is unknown or the patch fails validation; an empty or no-op patch
// succeeds without dispatching anything.
func (s *Store) UpdateMessage(ref string, p message.Patch) bool {
	var ok bool
	s.do(func() { ok = s.updateLocked("update", ref, p, factory.Options{}) })
	return ok
}

// updateLocked is the shared patch path for producer patches and
// core-authorized action patches.
func (s *Store) updateLocked(op, ref string, p message.Patch, opts factory.Options) bool {
	idx, exists := s.index[ref]
	if !exists {
		s.met.Mutations.WithLabelValues(op, "not_found").Inc()
		s.log.Warn("store: update rejected, unknown ref", "ref", ref)
		return false
	}
	now := s.now()
	before := s.list[idx]
	after, outcome, err := factory.Apply(now, before, p, opts)
	if err != nil {
		result := "invalid"
		if errors.Is(err, factory.ErrLifecycle) {
			result = "lifecycle"
		}
		s.met.Mutations.WithLabelValues(op, result).Inc()
		s.log.Warn("store: update rejected", "ref", ref, "err", err)
		return false
	}
	s.met.Mutations.WithLabelValues(op, "ok").Inc()
	if !outcome.Changed {
		return true
	}

	s.list[idx] = after
	s.archive.AppendPatch(now, ref, p, before, after)
	s.commit()

	// The updatedAt advance is the user-visible proxy; transitions into
	// the core-only states have dedicated events instead of updated.
	terminal := outcome.StateChanged && after.Lifecycle.State.CoreOnly()
	if outcome.UserVisible && !terminal {
		s.dispatch(message.EventUpdated, []string{ref})
	}
	if outcome.UserVisible && after.Timing.NotifyAt == 0 &&
		after.Lifecycle.State == message.StateOpen && !pastExpiry(after.Timing, now) {
		s.deliverDue([]string{ref})
	}
	return true
}

// AddOrUpdateMessage updates when a live entry for the draft's ref
// exists, otherwise adds (which may recreate a quasi-deleted ref).
func (s *Store) AddOrUpdateMessage(d message.Draft) bool {
	var ok bool
	s.do(func() {
		ref := factory.NormalizeRef(d.Ref)
		if idx, exists := s.index[ref]; ref != "" && exists &&
			!s.list[idx].Lifecycle.State.QuasiDeleted() {
			ok = s.updateLocked("addOrUpdate", ref, factory.PatchFromDraft(d), factory.Options{})
			return
		}
		ok = s.addLocked(d)
	})
	return ok
}

// RemoveMessage soft-deletes: the entry stays in the list in state
// deleted until the hard-delete pass retires it.
func (s *Store) RemoveMessage(ref, actor string) bool {
	var ok bool
	s.do(func() { ok = s.removeLocked(ref, actor, false) })
	return ok
}

func (s *Store) removeLocked(ref, actor string, stealth bool) bool {
	idx, exists := s.index[ref]
	if !exists || s.list[idx].Lifecycle.State == message.StateDeleted {
		s.met.Mutations.WithLabelValues("remove", "not_found").Inc()
		s.log.Warn("store: remove rejected", "ref", ref)
		return false
	}
	now := s.now()
	lp := message.LifecyclePatch{State: message.Set(message.StateDeleted)}
	if actor != "" {
		lp.StateChangedBy = message.Set(actor)
	}
	p := message.Patch{
		Lifecycle: message.Set(lp),
		Timing:    message.Set(message.TimingPatch{NotifyAt: message.Clear[int64]()}),
	}
	before := s.list[idx]
	after, _, err := factory.Apply(now, before, p, factory.Options{Stealth: stealth, Core: s.core})
	if err != nil {
		s.met.Mutations.WithLabelValues("remove", "invalid").Inc()
		s.log.Warn("store: remove failed", "ref", ref, "err", err)
		return false
	}
	s.list[idx] = after
	s.archive.AppendPatch(now, ref, p, before, after)
	s.commit()
	s.met.Mutations.WithLabelValues("remove", "ok").Inc()
	s.dispatch(message.EventDeleted, []string{ref})
	return true
}

// removeAt drops the list entry at idx and repairs the index.
func (s *Store) removeAt(idx int) {
	delete(s.index, s.list[idx].Ref)
	s.list = append(s.list[:idx], s.list[idx+1:]...)
	for i := idx; i < len(s.list); i++ {
		s.index[s.list[i].Ref] = i
	}
}

// stealthPatch applies a core housekeeping patch that must not surface
// as an updated event. Failures indicate a core bug and are logged.
func (s *Store) stealthPatch(idx int, p message.Patch) {
	now := s.now()
	before := s.list[idx]
	after, _, err := factory.Apply(now, before, p, factory.Options{Stealth: true, Core: s.core})
	if err != nil {
		s.log.Warn("store: internal patch failed", "ref", before.Ref, "err", err)
		return
	}
	s.list[idx] = after
	s.archive.AppendPatch(now, before.Ref, p, before, after)
}

// dispatch renders the named messages, hands the batch to the notify
// dispatcher, and stamps timing.notifiedAt[event] — all after the
// mutation that produced the event has been committed.
func (s *Store) dispatch(event message.Event, refs []string) {
	now := s.now()
	views := make([]message.View, 0, len(refs))
	for _, ref := range refs {
		idx, exists := s.index[ref]
		if !exists {
			continue
		}
		views = append(views, s.view(s.list[idx]))
	}
	if len(views) == 0 {
		return
	}
	s.met.Events.WithLabelValues(string(event)).Inc()
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(event, views)
	}
	for _, ref := range refs {
		idx, exists := s.index[ref]
		if !exists {
			continue
		}
		s.stealthPatch(idx, message.Patch{
			Timing: message.Set(message.TimingPatch{
				NotifiedAt: message.Set(map[message.Event]int64{event: now}),
			}),
		})
	}
	s.commit()
}

// MessageForAction returns a clone of the stored canonical message for
// the action executor.
func (s *Store) MessageForAction(ref string) (message.Message, bool) {
	var m message.Message
	var ok bool
	s.do(func() {
		if idx, exists := s.index[ref]; exists {
			m = s.list[idx].Clone()
			ok = true
		}
	})
	return m, ok
}

// ApplyActionPatch applies an executor-built patch with the core
// capability. User-visible results dispatch updated like any other patch.
func (s *Store) ApplyActionPatch(ref string, p message.Patch) bool {
	var ok bool
	s.do(func() { ok = s.updateLocked("action", ref, p, factory.Options{Core: s.core}) })
	return ok
}
