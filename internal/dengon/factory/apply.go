package factory

import (
	"reflect"
	"sort"

	"github.com/bdobrica/Dengon/common/spec/message"
)

// producerTransitions is the lifecycle graph for non-core patches. The
// core capability bypasses it (soft delete, expiry, snooze reopening).
var producerTransitions = map[message.State][]message.State{
	message.StateOpen:    {message.StateAcked, message.StateSnoozed, message.StateClosed},
	message.StateAcked:   {message.StateOpen, message.StateClosed},
	message.StateSnoozed: {message.StateOpen, message.StateClosed},
	message.StateClosed:  {},
	message.StateDeleted: {},
	message.StateExpired: {},
}

// TransitionAllowed reports whether from→to is a legal lifecycle
// transition for a producer patch. The view policy uses the same graph
// to decide which actions stay active.
func TransitionAllowed(from, to message.State) bool {
	for _, s := range producerTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Apply merges a patch into an existing message and returns the new
// value. The input is never mutated. Validation falls into three
// buckets: ErrImmutable for identity fields, ErrLifecycle for forbidden
// transitions, ErrValidation for everything malformed.
func Apply(now int64, existing message.Message, p message.Patch, opts Options) (message.Message, Outcome, error) {
	out := Outcome{OldState: existing.Lifecycle.State, NewState: existing.Lifecycle.State}

	// ── immutable identity ───────────────────────────────────────────────
	if p.Ref.Present() {
		return message.Message{}, out, errImmutable("ref")
	}
	if p.Kind.Present() {
		return message.Message{}, out, errImmutable("kind")
	}
	if p.Origin.Present() {
		return message.Message{}, out, errImmutable("origin")
	}
	if p.Timing.IsSet() && p.Timing.Value().CreatedAt.Present() {
		return message.Message{}, out, errImmutable("timing.createdAt")
	}

	m := existing.Clone()
	var userVisible, metricsChanged bool

	// ── scalars ──────────────────────────────────────────────────────────
	if p.Title.Present() {
		if !p.Title.IsSet() || p.Title.Value() == "" {
			return message.Message{}, out, validationf("title: cannot be cleared")
		}
		if m.Title != p.Title.Value() {
			m.Title = p.Title.Value()
			userVisible = true
		}
	}
	if p.Text.Present() {
		if !p.Text.IsSet() || p.Text.Value() == "" {
			return message.Message{}, out, validationf("text: cannot be cleared")
		}
		if m.Text != p.Text.Value() {
			m.Text = p.Text.Value()
			userVisible = true
		}
	}
	if p.Icon.Present() {
		icon := ""
		if p.Icon.IsSet() {
			icon = p.Icon.Value()
		}
		if m.Icon != icon {
			m.Icon = icon
			userVisible = true
		}
	}
	if p.Level.Present() {
		if !p.Level.IsSet() {
			return message.Message{}, out, validationf("level: cannot be cleared")
		}
		level := p.Level.Value()
		if !level.Valid() {
			return message.Message{}, out, validationf("level: %d is not a defined severity", level)
		}
		if m.Level != level {
			m.Level = level
			userVisible = true
		}
	}

	// ── sections ─────────────────────────────────────────────────────────
	changed, err := applyDetails(&m, p.Details)
	if err != nil {
		return message.Message{}, out, err
	}
	userVisible = userVisible || changed

	changed, stateChanged, err := applyLifecycle(now, &m, p.Lifecycle, opts)
	if err != nil {
		return message.Message{}, out, err
	}
	userVisible = userVisible || changed

	changed, err = applyTiming(&m, p.Timing, opts)
	if err != nil {
		return message.Message{}, out, err
	}
	userVisible = userVisible || changed

	metricsChanged, err = applyMetrics(&m, p.Metrics)
	if err != nil {
		return message.Message{}, out, err
	}

	changed, err = applyAttachments(&m, p.Attachments)
	if err != nil {
		return message.Message{}, out, err
	}
	userVisible = userVisible || changed

	changed, err = applyListItems(&m, p.ListItems)
	if err != nil {
		return message.Message{}, out, err
	}
	userVisible = userVisible || changed

	changed, err = applyActions(&m, p.Actions)
	if err != nil {
		return message.Message{}, out, err
	}
	userVisible = userVisible || changed

	changed, err = applyProgress(now, &m, p.Progress)
	if err != nil {
		return message.Message{}, out, err
	}
	userVisible = userVisible || changed

	changed, err = applyAudience(&m, p.Audience)
	if err != nil {
		return message.Message{}, out, err
	}
	userVisible = userVisible || changed

	changed, err = applyDependencies(&m, p.Dependencies)
	if err != nil {
		return message.Message{}, out, err
	}
	userVisible = userVisible || changed

	// ── stamps & outcome ─────────────────────────────────────────────────
	if userVisible && !opts.Stealth {
		m.Timing.UpdatedAt = now
	}
	out.Changed = userVisible || metricsChanged
	out.UserVisible = userVisible
	out.StateChanged = stateChanged
	out.NewState = m.Lifecycle.State
	return m, out, nil
}

func errImmutable(field string) error {
	return validationWrap(ErrImmutable, field)
}

func validationWrap(sentinel error, field string) error {
	return &fieldError{sentinel: sentinel, field: field}
}

// fieldError attaches the offending field to a sentinel so errors.Is
// keeps working while logs stay specific.
type fieldError struct {
	sentinel error
	field    string
}

func (e *fieldError) Error() string { return e.sentinel.Error() + ": " + e.field }
func (e *fieldError) Unwrap() error { return e.sentinel }

// ── details ──────────────────────────────────────────────────────────────

func applyDetails(m *message.Message, dp message.Opt[message.DetailsPatch]) (bool, error) {
	if !dp.Present() {
		return false, nil
	}
	before := m.Details
	if dp.Null() {
		m.Details = nil
		return before != nil, nil
	}
	cur := message.Details{}
	if m.Details != nil {
		cur = *m.Details
	}
	v := dp.Value()
	applyOptString(&cur.Location, v.Location)
	applyOptString(&cur.Task, v.Task)
	applyOptString(&cur.Reason, v.Reason)
	applyOptStrings(&cur.Tools, v.Tools)
	applyOptStrings(&cur.Consumables, v.Consumables)
	if cur.Empty() {
		m.Details = nil
	} else {
		m.Details = &cur
	}
	return !reflect.DeepEqual(before, m.Details), nil
}

func applyOptString(dst *string, o message.Opt[string]) {
	if !o.Present() {
		return
	}
	if o.Null() {
		*dst = ""
		return
	}
	*dst = o.Value()
}

func applyOptStrings(dst *[]string, o message.Opt[[]string]) {
	if !o.Present() {
		return
	}
	if o.Null() {
		*dst = nil
		return
	}
	*dst = pruneStrings(o.Value())
}

// ── lifecycle ────────────────────────────────────────────────────────────

func applyLifecycle(now int64, m *message.Message, lp message.Opt[message.LifecyclePatch], opts Options) (changed, stateChanged bool, err error) {
	if !lp.Present() {
		return false, false, nil
	}
	from := m.Lifecycle.State

	// A null section resets the state to open, which still has to be a
	// legal transition for the caller.
	if lp.Null() {
		if from == message.StateOpen {
			return false, false, nil
		}
		if err := checkTransition(from, message.StateOpen, opts); err != nil {
			return false, false, err
		}
		m.Lifecycle.State = message.StateOpen
		m.Lifecycle.StateChangedAt = now
		return true, true, nil
	}

	v := lp.Value()
	if v.StateChangedAt.Present() {
		return false, false, validationf("lifecycle.stateChangedAt: core-managed")
	}

	if v.State.Present() {
		if !v.State.IsSet() {
			return false, false, validationf("lifecycle.state: cannot be cleared")
		}
		to := v.State.Value()
		if !to.Valid() {
			return false, false, validationf("lifecycle.state: %q is not a defined state", to)
		}
		if to != from {
			if err := checkTransition(from, to, opts); err != nil {
				return false, false, err
			}
			m.Lifecycle.State = to
			m.Lifecycle.StateChangedAt = now
			changed, stateChanged = true, true
		}
	}

	if v.StateChangedBy.Present() {
		by := ""
		if v.StateChangedBy.IsSet() {
			by = v.StateChangedBy.Value()
		}
		if m.Lifecycle.StateChangedBy != by {
			m.Lifecycle.StateChangedBy = by
			changed = true
		}
	}
	return changed, stateChanged, nil
}

func checkTransition(from, to message.State, opts Options) error {
	if opts.Core.Core() {
		return nil
	}
	if to.CoreOnly() {
		return validationWrap(ErrLifecycle, string(from)+" → "+string(to)+" (core only)")
	}
	if !TransitionAllowed(from, to) {
		return validationWrap(ErrLifecycle, string(from)+" → "+string(to))
	}
	return nil
}

// ── timing ───────────────────────────────────────────────────────────────

func applyTiming(m *message.Message, tp message.Opt[message.TimingPatch], opts Options) (bool, error) {
	if !tp.Present() {
		return false, nil
	}
	before := m.Timing

	// A null section clears every producer-settable field; the
	// core-managed stamps survive.
	if tp.Null() {
		m.Timing.ExpiresAt = 0
		m.Timing.NotifyAt = 0
		m.Timing.RemindEvery = 0
		m.Timing.TimeBudget = 0
		m.Timing.Cooldown = 0
		m.Timing.DueAt = 0
		m.Timing.StartAt = 0
		m.Timing.EndAt = 0
		return !timingEqual(before, m.Timing), nil
	}

	v := tp.Value()
	if v.UpdatedAt.Present() {
		return false, validationf("timing.updatedAt: core-managed")
	}

	abs := []struct {
		name string
		opt  message.Opt[int64]
		dst  *int64
	}{
		{"expiresAt", v.ExpiresAt, &m.Timing.ExpiresAt},
		{"notifyAt", v.NotifyAt, &m.Timing.NotifyAt},
		{"dueAt", v.DueAt, &m.Timing.DueAt},
		{"startAt", v.StartAt, &m.Timing.StartAt},
		{"endAt", v.EndAt, &m.Timing.EndAt},
	}
	for _, f := range abs {
		if !f.opt.Present() {
			continue
		}
		if f.opt.Null() {
			*f.dst = 0
			continue
		}
		ts := f.opt.Value()
		if !message.PlausibleTimestamp(ts) {
			return false, validationf("timing.%s: %d outside plausible window", f.name, ts)
		}
		*f.dst = ts
	}

	dur := []struct {
		name string
		opt  message.Opt[int64]
		dst  *int64
	}{
		{"remindEvery", v.RemindEvery, &m.Timing.RemindEvery},
		{"timeBudget", v.TimeBudget, &m.Timing.TimeBudget},
		{"cooldown", v.Cooldown, &m.Timing.Cooldown},
	}
	for _, f := range dur {
		if !f.opt.Present() {
			continue
		}
		if f.opt.Null() {
			*f.dst = 0
			continue
		}
		d := f.opt.Value()
		if d <= 0 {
			return false, validationf("timing.%s: duration must be positive, got %d", f.name, d)
		}
		*f.dst = d
	}

	if v.NotifiedAt.Present() {
		if !opts.Core.Core() {
			return false, validationf("timing.notifiedAt: core-managed")
		}
		if v.NotifiedAt.Null() {
			m.Timing.NotifiedAt = nil
		} else {
			if m.Timing.NotifiedAt == nil {
				m.Timing.NotifiedAt = make(map[message.Event]int64)
			}
			for event, ts := range v.NotifiedAt.Value() {
				if !event.Valid() {
					return false, validationf("timing.notifiedAt: %q is not a defined event", event)
				}
				if !message.PlausibleTimestamp(ts) {
					return false, validationf("timing.notifiedAt.%s: %d outside plausible window", event, ts)
				}
				m.Timing.NotifiedAt[event] = ts
			}
		}
	}

	return !timingEqual(before, m.Timing), nil
}

func timingEqual(a, b message.Timing) bool {
	return reflect.DeepEqual(a, b)
}

// ── metrics ──────────────────────────────────────────────────────────────

func applyMetrics(m *message.Message, mp message.Opt[message.MetricsPatch]) (bool, error) {
	if !mp.Present() {
		return false, nil
	}
	before := m.Metrics
	if mp.Null() {
		m.Metrics = nil
		return len(before) > 0, nil
	}

	v := mp.Value()
	if v.Replace != nil {
		next := make(map[string]message.Metric, len(v.Replace))
		for key, metric := range v.Replace {
			if key == "" {
				return false, validationf("metrics: empty metric name")
			}
			normalized, err := metric.Normalize()
			if err != nil {
				return false, validationf("metrics.%s: %v", key, err)
			}
			next[key] = normalized
		}
		if len(next) == 0 {
			next = nil
		}
		m.Metrics = next
	} else {
		next := make(map[string]message.Metric, len(before)+len(v.Set))
		for key, metric := range before {
			next[key] = metric
		}
		for key, metric := range v.Set {
			if key == "" {
				return false, validationf("metrics: empty metric name")
			}
			normalized, err := metric.Normalize()
			if err != nil {
				return false, validationf("metrics.%s: %v", key, err)
			}
			next[key] = normalized
		}
		for _, key := range v.Delete {
			delete(next, key)
		}
		if len(next) == 0 {
			next = nil
		}
		m.Metrics = next
	}
	return !message.MetricsEqual(before, m.Metrics), nil
}

// ── attachments ──────────────────────────────────────────────────────────

func applyAttachments(m *message.Message, ap message.Opt[message.AttachmentsPatch]) (bool, error) {
	if !ap.Present() {
		return false, nil
	}
	before := m.Attachments
	if ap.Null() {
		m.Attachments = nil
		return len(before) > 0, nil
	}

	v := ap.Value()
	if v.Replace != nil {
		next, err := validAttachments(v.Replace)
		if err != nil {
			return false, err
		}
		m.Attachments = next
		return !reflect.DeepEqual(before, m.Attachments), nil
	}

	next := make([]message.Attachment, len(before))
	copy(next, before)

	// Sets ascending so consecutive appends work; deletes descending so
	// remaining indices stay valid.
	indices := make([]int, 0, len(v.Set))
	for i := range v.Set {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		a := v.Set[i]
		if !a.Type.Valid() {
			return false, validationf("attachments[%d].type: %q is not a defined type", i, a.Type)
		}
		if a.Value == "" {
			return false, validationf("attachments[%d].value: must not be empty", i)
		}
		switch {
		case i < len(next):
			next[i] = a
		case i == len(next):
			next = append(next, a)
		default:
			return false, validationf("attachments: set index %d out of range", i)
		}
	}

	dels := uniqueInts(v.Delete)
	sort.Sort(sort.Reverse(sort.IntSlice(dels)))
	for _, i := range dels {
		if i < 0 || i >= len(next) {
			return false, validationf("attachments: delete index %d out of range", i)
		}
		next = append(next[:i], next[i+1:]...)
	}

	if len(next) == 0 {
		next = nil
	}
	m.Attachments = next
	return !reflect.DeepEqual(before, m.Attachments), nil
}

func uniqueInts(in []int) []int {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, i := range in {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	return out
}

// ── list items ───────────────────────────────────────────────────────────

func applyListItems(m *message.Message, lp message.Opt[message.ListItemsPatch]) (bool, error) {
	if !lp.Present() {
		return false, nil
	}
	before := m.ListItems
	if lp.Null() {
		m.ListItems = nil
		return len(before) > 0, nil
	}

	v := lp.Value()
	if v.Replace != nil {
		next, err := validListItems(v.Replace)
		if err != nil {
			return false, err
		}
		m.ListItems = next
		return !reflect.DeepEqual(before, m.ListItems), nil
	}

	next := make([]message.ListItem, len(before))
	copy(next, before)
	for i, item := range v.Set {
		if item.ID == "" {
			return false, validationf("listItems set[%d].id: must not be empty", i)
		}
		if item.Name == "" {
			return false, validationf("listItems set[%d].name: must not be empty", i)
		}
		if item.Quantity < 0 {
			return false, validationf("listItems set[%d].quantity: must not be negative", i)
		}
		if at := indexOfItem(next, item.ID); at >= 0 {
			next[at] = item
		} else {
			next = append(next, item)
		}
	}
	for _, id := range v.Delete {
		if at := indexOfItem(next, id); at >= 0 {
			next = append(next[:at], next[at+1:]...)
		}
	}
	if len(next) == 0 {
		next = nil
	}
	m.ListItems = next
	return !reflect.DeepEqual(before, m.ListItems), nil
}

func indexOfItem(items []message.ListItem, id string) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// ── actions ──────────────────────────────────────────────────────────────

func applyActions(m *message.Message, ap message.Opt[message.ActionsPatch]) (bool, error) {
	if !ap.Present() {
		return false, nil
	}
	before := m.Actions
	if ap.Null() {
		m.Actions = nil
		return len(before) > 0, nil
	}

	v := ap.Value()
	if v.Replace != nil {
		next, err := validActions(v.Replace)
		if err != nil {
			return false, err
		}
		m.Actions = message.CloneActions(next)
		return !reflect.DeepEqual(before, m.Actions), nil
	}

	next := message.CloneActions(before)
	for i, a := range v.Set {
		if a.ID == "" {
			return false, validationf("actions set[%d].id: must not be empty", i)
		}
		if !a.Type.Valid() {
			return false, validationf("actions set[%d].type: %q is not a defined type", i, a.Type)
		}
		if at := indexOfAction(next, a.ID); at >= 0 {
			next[at] = a
		} else {
			next = append(next, a)
		}
	}
	for _, id := range v.Delete {
		if at := indexOfAction(next, id); at >= 0 {
			next = append(next[:at], next[at+1:]...)
		}
	}
	if len(next) == 0 {
		next = nil
	}
	m.Actions = next
	return !reflect.DeepEqual(before, m.Actions), nil
}

func indexOfAction(actions []message.Action, id string) int {
	for i, a := range actions {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// ── progress ─────────────────────────────────────────────────────────────

func applyProgress(now int64, m *message.Message, pp message.Opt[message.ProgressPatch]) (bool, error) {
	if !pp.Present() {
		return false, nil
	}
	before := m.Progress

	// A null section resets the percentage but preserves startedAt: the
	// work happened even if the counter was reset.
	if pp.Null() {
		if m.Progress == nil {
			return false, nil
		}
		cur := *m.Progress
		cur.Percentage = 0
		cur.FinishedAt = 0
		if cur == (message.Progress{}) {
			m.Progress = nil
		} else {
			m.Progress = &cur
		}
		return !progressEqual(before, m.Progress), nil
	}

	v := pp.Value()
	if !v.Percentage.Present() {
		return false, nil
	}
	if v.Percentage.Null() {
		return false, validationf("progress.percentage: cannot be null; clear the whole progress section instead")
	}
	pct := v.Percentage.Value()
	if pct < 0 || pct > 100 {
		return false, validationf("progress.percentage: %d out of range", pct)
	}

	cur := message.Progress{}
	if m.Progress != nil {
		cur = *m.Progress
	}
	cur.Percentage = pct
	if pct > 0 && cur.StartedAt == 0 {
		cur.StartedAt = now
	}
	if pct == 100 {
		if cur.FinishedAt == 0 {
			cur.FinishedAt = now
		}
	} else {
		cur.FinishedAt = 0
	}
	if cur == (message.Progress{}) {
		m.Progress = nil
	} else {
		m.Progress = &cur
	}
	return !progressEqual(before, m.Progress), nil
}

func progressEqual(a, b *message.Progress) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ── audience ─────────────────────────────────────────────────────────────

func applyAudience(m *message.Message, ap message.Opt[message.AudiencePatch]) (bool, error) {
	if !ap.Present() {
		return false, nil
	}
	before := m.Audience
	if ap.Null() {
		m.Audience = nil
		return before != nil, nil
	}

	cur := message.Audience{}
	if m.Audience != nil {
		cur = *m.Audience
	}
	v := ap.Value()
	applyOptStrings(&cur.Tags, v.Tags)
	if v.Channels.Present() {
		if v.Channels.Null() {
			cur.Channels = nil
		} else {
			ch := message.Channels{}
			if cur.Channels != nil {
				ch = *cur.Channels
			}
			cv := v.Channels.Value()
			applyOptStrings(&ch.Include, cv.Include)
			applyOptStrings(&ch.Exclude, cv.Exclude)
			if ch.Include == nil && ch.Exclude == nil {
				cur.Channels = nil
			} else {
				cur.Channels = &ch
			}
		}
	}
	if cur.Tags == nil && cur.Channels == nil {
		m.Audience = nil
	} else {
		m.Audience = &cur
	}
	return !reflect.DeepEqual(before, m.Audience), nil
}

// ── dependencies ─────────────────────────────────────────────────────────

func applyDependencies(m *message.Message, dp message.Opt[message.DependenciesPatch]) (bool, error) {
	if !dp.Present() {
		return false, nil
	}
	before := m.Dependencies
	if dp.Null() {
		m.Dependencies = nil
		return len(before) > 0, nil
	}

	v := dp.Value()
	var next []string
	if v.Replace != nil {
		next = dedupeRefs(nil, v.Replace)
	} else {
		next = dedupeRefs(before, v.Set)
		if len(v.Delete) > 0 {
			drop := make(map[string]bool, len(v.Delete))
			for _, r := range v.Delete {
				drop[r] = true
			}
			kept := next[:0]
			for _, r := range next {
				if !drop[r] {
					kept = append(kept, r)
				}
			}
			next = kept
			if len(next) == 0 {
				next = nil
			}
		}
	}
	m.Dependencies = next
	return !reflect.DeepEqual(before, m.Dependencies), nil
}
