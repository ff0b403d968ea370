package factory

import (
	"github.com/bdobrica/Dengon/common/spec/message"
)

// Create validates a draft and builds the canonical message. Core-managed
// stamps are derived here: createdAt/updatedAt from now, stateChangedAt
// when the initial state differs from open, progress start/finish from
// the percentage. Core-only lifecycle states in the draft fall back to
// open rather than erroring, matching the rule that producers cannot
// enter them.
func Create(now int64, d message.Draft) (message.Message, error) {
	if d.Title == "" {
		return message.Message{}, validationf("title: must not be empty")
	}
	if d.Text == "" {
		return message.Message{}, validationf("text: must not be empty")
	}
	if !d.Level.Valid() {
		return message.Message{}, validationf("level: %d is not a defined severity", d.Level)
	}
	if !d.Kind.Valid() {
		return message.Message{}, validationf("kind: %q is not a defined kind", d.Kind)
	}
	if !d.Origin.Type.Valid() {
		return message.Message{}, validationf("origin.type: %q is not a defined origin", d.Origin.Type)
	}

	ref := NormalizeRef(d.Ref)
	if ref == "" {
		ref = autoRef(now, d)
	}

	m := message.Message{
		Ref:    ref,
		Title:  d.Title,
		Text:   d.Text,
		Icon:   d.Icon,
		Level:  d.Level,
		Kind:   d.Kind,
		Origin: d.Origin,
		Lifecycle: message.Lifecycle{
			State: message.StateOpen,
		},
		Timing: message.Timing{
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	if d.Lifecycle != nil {
		state := d.Lifecycle.State
		if state != "" && !state.Valid() {
			return message.Message{}, validationf("lifecycle.state: %q is not a defined state", state)
		}
		if state.CoreOnly() {
			state = message.StateOpen
		}
		if state != "" && state != message.StateOpen {
			m.Lifecycle.State = state
			m.Lifecycle.StateChangedAt = now
		}
		m.Lifecycle.StateChangedBy = d.Lifecycle.StateChangedBy
	}

	if err := applyDraftTiming(&m.Timing, d.Timing); err != nil {
		return message.Message{}, err
	}

	if d.Details != nil && !d.Details.Empty() {
		details := *d.Details
		m.Details = &details
	}

	if len(d.Metrics) > 0 {
		metrics := make(map[string]message.Metric, len(d.Metrics))
		for key, metric := range d.Metrics {
			if key == "" {
				return message.Message{}, validationf("metrics: empty metric name")
			}
			normalized, err := metric.Normalize()
			if err != nil {
				return message.Message{}, validationf("metrics.%s: %v", key, err)
			}
			metrics[key] = normalized
		}
		m.Metrics = metrics
	}

	attachments, err := validAttachments(d.Attachments)
	if err != nil {
		return message.Message{}, err
	}
	m.Attachments = attachments

	items, err := validListItems(d.ListItems)
	if err != nil {
		return message.Message{}, err
	}
	m.ListItems = items

	actions, err := validActions(d.Actions)
	if err != nil {
		return message.Message{}, err
	}
	m.Actions = actions

	if d.Progress != nil {
		pct := d.Progress.Percentage
		if pct < 0 || pct > 100 {
			return message.Message{}, validationf("progress.percentage: %d out of range", pct)
		}
		if pct > 0 {
			p := &message.Progress{Percentage: pct, StartedAt: now}
			if pct == 100 {
				p.FinishedAt = now
			}
			m.Progress = p
		}
	}

	m.Audience = prunedAudience(d.Audience)
	m.Dependencies = dedupeRefs(nil, d.Dependencies)

	return m.Clone(), nil
}

func applyDraftTiming(t *message.Timing, dt message.DraftTiming) error {
	abs := []struct {
		name string
		val  int64
		dst  *int64
	}{
		{"expiresAt", dt.ExpiresAt, &t.ExpiresAt},
		{"notifyAt", dt.NotifyAt, &t.NotifyAt},
		{"dueAt", dt.DueAt, &t.DueAt},
		{"startAt", dt.StartAt, &t.StartAt},
		{"endAt", dt.EndAt, &t.EndAt},
	}
	for _, f := range abs {
		if f.val == 0 {
			continue
		}
		if !message.PlausibleTimestamp(f.val) {
			return validationf("timing.%s: %d outside plausible window", f.name, f.val)
		}
		*f.dst = f.val
	}

	dur := []struct {
		name string
		val  int64
		dst  *int64
	}{
		{"remindEvery", dt.RemindEvery, &t.RemindEvery},
		{"timeBudget", dt.TimeBudget, &t.TimeBudget},
		{"cooldown", dt.Cooldown, &t.Cooldown},
	}
	for _, f := range dur {
		if f.val == 0 {
			continue
		}
		if f.val < 0 {
			return validationf("timing.%s: duration must be positive, got %d", f.name, f.val)
		}
		*f.dst = f.val
	}
	return nil
}

func validAttachments(in []message.Attachment) ([]message.Attachment, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]message.Attachment, len(in))
	for i, a := range in {
		if !a.Type.Valid() {
			return nil, validationf("attachments[%d].type: %q is not a defined type", i, a.Type)
		}
		if a.Value == "" {
			return nil, validationf("attachments[%d].value: must not be empty", i)
		}
		out[i] = a
	}
	return out, nil
}

func validListItems(in []message.ListItem) ([]message.ListItem, error) {
	if len(in) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]message.ListItem, len(in))
	for i, item := range in {
		if item.ID == "" {
			return nil, validationf("listItems[%d].id: must not be empty", i)
		}
		if item.Name == "" {
			return nil, validationf("listItems[%d].name: must not be empty", i)
		}
		if item.Quantity < 0 {
			return nil, validationf("listItems[%d].quantity: must not be negative", i)
		}
		if seen[item.ID] {
			return nil, validationf("listItems[%d].id: duplicate %q", i, item.ID)
		}
		seen[item.ID] = true
		out[i] = item
	}
	return out, nil
}

func validActions(in []message.Action) ([]message.Action, error) {
	if len(in) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]message.Action, len(in))
	for i, a := range in {
		if a.ID == "" {
			return nil, validationf("actions[%d].id: must not be empty", i)
		}
		if !a.Type.Valid() {
			return nil, validationf("actions[%d].type: %q is not a defined type", i, a.Type)
		}
		if seen[a.ID] {
			return nil, validationf("actions[%d].id: duplicate %q", i, a.ID)
		}
		seen[a.ID] = true
		out[i] = a
	}
	return out, nil
}

// prunedAudience drops empty strings and collapses an empty audience to
// nil so the canonical form omits empty structures.
func prunedAudience(a *message.Audience) *message.Audience {
	if a == nil {
		return nil
	}
	out := message.Audience{Tags: pruneStrings(a.Tags)}
	if a.Channels != nil {
		include := pruneStrings(a.Channels.Include)
		exclude := pruneStrings(a.Channels.Exclude)
		if include != nil || exclude != nil {
			out.Channels = &message.Channels{Include: include, Exclude: exclude}
		}
	}
	if out.Tags == nil && out.Channels == nil {
		return nil
	}
	return &out
}

func pruneStrings(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// dedupeRefs merges add into base, dropping empties and duplicates while
// preserving first-seen order. Returns nil when empty.
func dedupeRefs(base, add []string) []string {
	var out []string
	seen := make(map[string]bool, len(base)+len(add))
	for _, lst := range [][]string{base, add} {
		for _, r := range lst {
			if r == "" || seen[r] {
				continue
			}
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

// PatchFromDraft converts a draft into the patch AddOrUpdateMessage
// applies when the ref already exists: supplied sections replace
// wholesale, omitted ones stay untouched.
func PatchFromDraft(d message.Draft) message.Patch {
	p := message.Patch{
		Title: message.Set(d.Title),
		Text:  message.Set(d.Text),
		Level: message.Set(d.Level),
	}
	if d.Icon != "" {
		p.Icon = message.Set(d.Icon)
	}
	if d.Lifecycle != nil {
		lp := message.LifecyclePatch{}
		if d.Lifecycle.State != "" {
			lp.State = message.Set(d.Lifecycle.State)
		}
		if d.Lifecycle.StateChangedBy != "" {
			lp.StateChangedBy = message.Set(d.Lifecycle.StateChangedBy)
		}
		p.Lifecycle = message.Set(lp)
	}
	if tp, any := timingPatchFromDraft(d.Timing); any {
		p.Timing = message.Set(tp)
	}
	if d.Details != nil {
		dp := message.DetailsPatch{}
		if d.Details.Location != "" {
			dp.Location = message.Set(d.Details.Location)
		}
		if d.Details.Task != "" {
			dp.Task = message.Set(d.Details.Task)
		}
		if d.Details.Reason != "" {
			dp.Reason = message.Set(d.Details.Reason)
		}
		if len(d.Details.Tools) > 0 {
			dp.Tools = message.Set(d.Details.Tools)
		}
		if len(d.Details.Consumables) > 0 {
			dp.Consumables = message.Set(d.Details.Consumables)
		}
		p.Details = message.Set(dp)
	}
	if d.Metrics != nil {
		p.Metrics = message.Set(message.ReplaceMetrics(d.Metrics))
	}
	if d.Attachments != nil {
		p.Attachments = message.Set(message.AttachmentsPatch{Replace: d.Attachments})
	}
	if d.ListItems != nil {
		p.ListItems = message.Set(message.ListItemsPatch{Replace: d.ListItems})
	}
	if d.Actions != nil {
		p.Actions = message.Set(message.ActionsPatch{Replace: d.Actions})
	}
	if d.Progress != nil {
		p.Progress = message.Set(message.ProgressPatch{Percentage: message.Set(d.Progress.Percentage)})
	}
	if d.Audience != nil {
		ap := message.AudiencePatch{}
		if d.Audience.Tags != nil {
			ap.Tags = message.Set(d.Audience.Tags)
		}
		if d.Audience.Channels != nil {
			cp := message.ChannelsPatch{}
			if d.Audience.Channels.Include != nil {
				cp.Include = message.Set(d.Audience.Channels.Include)
			}
			if d.Audience.Channels.Exclude != nil {
				cp.Exclude = message.Set(d.Audience.Channels.Exclude)
			}
			ap.Channels = message.Set(cp)
		}
		p.Audience = message.Set(ap)
	}
	if d.Dependencies != nil {
		p.Dependencies = message.Set(message.DependenciesPatch{Replace: d.Dependencies})
	}
	return p
}

func timingPatchFromDraft(dt message.DraftTiming) (message.TimingPatch, bool) {
	tp := message.TimingPatch{}
	any := false
	set := func(dst *message.Opt[int64], v int64) {
		if v != 0 {
			*dst = message.Set(v)
			any = true
		}
	}
	set(&tp.ExpiresAt, dt.ExpiresAt)
	set(&tp.NotifyAt, dt.NotifyAt)
	set(&tp.RemindEvery, dt.RemindEvery)
	set(&tp.TimeBudget, dt.TimeBudget)
	set(&tp.Cooldown, dt.Cooldown)
	set(&tp.DueAt, dt.DueAt)
	set(&tp.StartAt, dt.StartAt)
	set(&tp.EndAt, dt.EndAt)
	return tp, any
}
