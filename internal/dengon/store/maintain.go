package store

import (
	"time"

	"github.com/bdobrica/Dengon/common/spec/message"
	"github.com/bdobrica/Dengon/internal/dengon/archive"
)

// followUpDelay is how soon a hard-delete pass re-runs when a batch
// limit left backlog behind.
const followUpDelay = 5 * time.Second

// InitiateNotifications scans for messages whose notifyAt has arrived
// and runs the due pipeline over the batch. Throttled to the notify
// interval unless force.
func (s *Store) InitiateNotifications(force bool) {
	s.do(func() { s.notifyScanLocked(force) })
}

func (s *Store) notifyScanLocked(force bool) {
	if !s.throttle("notify", s.cfg.NotifyInterval, force) {
		return
	}
	now := s.now()
	var refs []string
	for i := range s.list {
		m := &s.list[i]
		if m.Timing.NotifyAt == 0 || m.Timing.NotifyAt > now {
			continue
		}
		if st := m.Lifecycle.State; st != message.StateOpen && st != message.StateSnoozed {
			continue
		}
		if pastExpiry(m.Timing, now) {
			continue
		}
		refs = append(refs, m.Ref)
	}
	if len(refs) > 0 {
		s.deliverDue(refs)
	}
}

// pastExpiry reports whether expiresAt has arrived. Such entries belong
// to the prune pass; the due pipeline never fires for them, even in the
// window before prune visits.
func pastExpiry(t message.Timing, now int64) bool {
	return t.ExpiresAt != 0 && t.ExpiresAt <= now
}

// deliverDue is the pipeline shared by the scan and the immediate-due
// paths: policy evaluation, stealth reopen of snoozed entries, one
// batched due event, then per-message reminder rescheduling. None of the
// stealth patches here ever surface as updated events.
func (s *Store) deliverDue(refs []string) {
	now := s.now()
	var fire []string
	for _, ref := range refs {
		idx, exists := s.index[ref]
		if !exists {
			continue
		}
		dec := s.policy.EvaluateDue(s.list[idx], now)
		if dec.ReopenSnoozed {
			s.stealthPatch(idx, message.Patch{
				Lifecycle: message.Set(message.LifecyclePatch{
					State: message.Set(message.StateOpen),
				}),
			})
		}
		if !dec.Dispatch {
			s.stealthPatch(idx, message.Patch{
				Timing: message.Set(message.TimingPatch{
					NotifyAt: message.Set(dec.RescheduleAt),
				}),
			})
			s.log.Debug("store: due suppressed by quiet hours",
				"ref", ref, "rescheduledTo", dec.RescheduleAt)
			continue
		}
		fire = append(fire, ref)
	}
	if len(fire) == 0 {
		s.commit()
		return
	}

	s.dispatch(message.EventDue, fire)

	for _, ref := range fire {
		idx, exists := s.index[ref]
		if !exists {
			continue
		}
		notifyAt, clear := s.policy.AfterDue(s.list[idx], now)
		tp := message.TimingPatch{NotifyAt: message.Set(notifyAt)}
		if clear {
			tp.NotifyAt = message.Clear[int64]()
		}
		s.stealthPatch(idx, message.Patch{Timing: message.Set(tp)})
	}
	s.commit()
}

// Prune soft-expires messages whose expiresAt has passed. One batched
// expired event covers the whole pass.
func (s *Store) Prune(force bool) {
	s.do(func() { s.pruneLocked(force) })
}

func (s *Store) pruneLocked(force bool) {
	if !s.throttle("prune", s.cfg.PruneInterval, force) {
		return
	}
	now := s.now()
	var refs []string
	for i := range s.list {
		m := &s.list[i]
		if m.Timing.ExpiresAt == 0 || m.Timing.ExpiresAt >= now {
			continue
		}
		if st := m.Lifecycle.State; st == message.StateExpired || st == message.StateDeleted {
			continue
		}
		s.stealthPatch(i, message.Patch{
			Lifecycle: message.Set(message.LifecyclePatch{
				State: message.Set(message.StateExpired),
			}),
			Timing: message.Set(message.TimingPatch{
				NotifyAt: message.Clear[int64](),
			}),
		})
		refs = append(refs, m.Ref)
	}
	if len(refs) == 0 {
		return
	}
	s.commit()
	s.log.Debug("store: messages expired", "count", len(refs))
	s.dispatch(message.EventExpired, refs)
}

// CleanupClosed soft-deletes messages that have sat in closed beyond the
// close grace.
func (s *Store) CleanupClosed(force bool) {
	s.do(func() { s.cleanupClosedLocked(force) })
}

func (s *Store) cleanupClosedLocked(force bool) {
	if !s.throttle("closed", s.cfg.CleanupClosedInterval, force) {
		return
	}
	now := s.now()
	grace := s.cfg.CloseGrace.Milliseconds()
	var refs []string
	for i := range s.list {
		m := &s.list[i]
		if m.Lifecycle.State != message.StateClosed {
			continue
		}
		if now-m.Lifecycle.StateChangedAt <= grace {
			continue
		}
		s.stealthPatch(i, message.Patch{
			Lifecycle: message.Set(message.LifecyclePatch{
				State: message.Set(message.StateDeleted),
			}),
			Timing: message.Set(message.TimingPatch{
				NotifyAt: message.Clear[int64](),
			}),
		})
		refs = append(refs, m.Ref)
	}
	if len(refs) == 0 {
		return
	}
	s.commit()
	s.dispatch(message.EventDeleted, refs)
}

// HardDelete physically removes quasi-deleted entries older than the
// retention window, in batches, appending archive purge records. A pass
// that hits the batch limit schedules a follow-up so the backlog drains
// without waiting a full interval.
func (s *Store) HardDelete(force bool) {
	s.do(func() { s.hardDeleteLocked(force) })
}

func (s *Store) hardDeleteLocked(force bool) {
	now := s.now()
	// The startup grace holds even for forced passes: right after a
	// restart the snapshot may predate archive flushes and operators
	// expect a quiet window to inspect state.
	if now-s.startedAt < s.cfg.StartupGrace.Milliseconds() {
		return
	}
	if !s.throttle("hardDelete", s.cfg.HardDeleteInterval, force) {
		return
	}
	retention := s.cfg.HardDeleteAfter.Milliseconds()
	removed := 0
	backlog := false
	for i := len(s.list) - 1; i >= 0; i-- {
		m := s.list[i]
		if !m.Lifecycle.State.QuasiDeleted() {
			continue
		}
		if now-m.Lifecycle.StateChangedAt <= retention {
			continue
		}
		if removed >= s.cfg.HardDeleteBatch {
			backlog = true
			break
		}
		s.archive.AppendDelete(now, m, archive.DeletePurge)
		s.removeAt(i)
		removed++
	}
	if removed == 0 {
		return
	}
	s.commit()
	s.log.Debug("store: hard-deleted messages", "count", removed, "backlog", backlog)
	if backlog {
		s.followMu.Lock()
		if s.followUp != nil {
			s.followUp.Stop()
		}
		s.followUp = time.AfterFunc(followUpDelay, func() { s.HardDelete(true) })
		s.followMu.Unlock()
	}
}
