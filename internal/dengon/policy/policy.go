// Package policy decides, immediately before dispatch, what happens to a
// message that became due: whether a snoozed message reopens, whether
// quiet hours suppress and reschedule the dispatch, and where the next
// reminder lands after a successful one.
package policy

import (
	"math/rand"
	"sync"
	"time"

	"github.com/bdobrica/Dengon/common/spec/message"
)

// QuietHours configures the suppression window in minutes of local day.
// The window may wrap midnight (start 22:00, end 06:00) and is half-open:
// [StartMin, EndMin).
type QuietHours struct {
	Enabled  bool
	StartMin int
	EndMin   int
	// MaxLevel is the highest severity still suppressed; anything above it
	// always fires.
	MaxLevel message.Level
	// SpreadMs randomises the reschedule target over [0, SpreadMs) so a
	// burst of suppressed messages does not fire in one thundering herd at
	// window end.
	SpreadMs int64
}

// Decision is the policy verdict for one due message.
type Decision struct {
	// Dispatch reports whether the due event fires now.
	Dispatch bool
	// ReopenSnoozed asks the store to stealth-patch the message back to
	// open before dispatching.
	ReopenSnoozed bool
	// RescheduleAt is the new timing.notifyAt when Dispatch is false.
	RescheduleAt int64
}

// Policy evaluates due messages. Safe for concurrent use; the quiet-hours
// block is hot-swappable for config live reload.
type Policy struct {
	mu    sync.RWMutex
	quiet QuietHours
	loc   *time.Location
	rand  func(int64) int64 // rand.Int63n, injectable for tests
}

// New creates a policy. A nil location defaults to time.Local, matching
// how people state quiet hours.
func New(quiet QuietHours, loc *time.Location) *Policy {
	if loc == nil {
		loc = time.Local
	}
	return &Policy{quiet: quiet, loc: loc, rand: rand.Int63n}
}

// SetQuietHours swaps the quiet-hours configuration. A nil location
// keeps the current one.
func (p *Policy) SetQuietHours(q QuietHours, loc *time.Location) {
	p.mu.Lock()
	p.quiet = q
	if loc != nil {
		p.loc = loc
	}
	p.mu.Unlock()
}

// SetRand replaces the spread source; tests pin it for determinism.
func (p *Policy) SetRand(fn func(int64) int64) {
	p.mu.Lock()
	p.rand = fn
	p.mu.Unlock()
}

// EvaluateDue decides what happens to one due message at now (epoch ms).
//
// A first-ever due always fires: suppression applies only to repeats,
// detected by a previously recorded timing.notifiedAt.due. Reopening of
// snoozed messages is requested regardless of suppression so the message
// is back in open when it eventually fires.
func (p *Policy) EvaluateDue(m message.Message, now int64) Decision {
	p.mu.RLock()
	quiet := p.quiet
	loc := p.loc
	randFn := p.rand
	p.mu.RUnlock()

	d := Decision{Dispatch: true}
	if m.Lifecycle.State == message.StateSnoozed {
		d.ReopenSnoozed = true
	}

	_, repeat := m.Timing.NotifiedAt[message.EventDue]
	if !repeat || !quiet.Enabled || m.Level > quiet.MaxLevel {
		return d
	}
	local := time.UnixMilli(now).In(loc)
	if !inWindow(quiet, minuteOfDay(local)) {
		return d
	}

	d.Dispatch = false
	d.RescheduleAt = windowEnd(quiet, local).UnixMilli()
	if quiet.SpreadMs > 0 {
		d.RescheduleAt += randFn(quiet.SpreadMs)
	}
	return d
}

// AfterDue returns the reminder target after a successful due dispatch:
// notifyAt = now + remindEvery, or clear for one-shot messages.
func (p *Policy) AfterDue(m message.Message, now int64) (notifyAt int64, clear bool) {
	if m.Timing.RemindEvery > 0 {
		return now + m.Timing.RemindEvery, false
	}
	return 0, true
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func inWindow(q QuietHours, min int) bool {
	if q.StartMin == q.EndMin {
		return false
	}
	if q.StartMin < q.EndMin {
		return min >= q.StartMin && min < q.EndMin
	}
	// Wraps midnight.
	return min >= q.StartMin || min < q.EndMin
}

// windowEnd returns the next instant, strictly after local, at which the
// quiet window ends.
func windowEnd(q QuietHours, local time.Time) time.Time {
	end := time.Date(local.Year(), local.Month(), local.Day(),
		q.EndMin/60, q.EndMin%60, 0, 0, local.Location())
	if !end.After(local) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}
