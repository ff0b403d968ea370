package message

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Patch describes a partial update. Every field is tri-state: absent
// fields keep the stored value, explicit nulls clear, set values replace
// or merge as documented per section. Ref, Kind, Origin and the
// core-managed stamps are representable so that patches carrying them can
// be rejected with a field-level error instead of being silently dropped.
type Patch struct {
	Title        Opt[string]            `json:"title,omitzero"`
	Text         Opt[string]            `json:"text,omitzero"`
	Icon         Opt[string]            `json:"icon,omitzero"`
	Level        Opt[Level]             `json:"level,omitzero"`
	Details      Opt[DetailsPatch]      `json:"details,omitzero"`
	Lifecycle    Opt[LifecyclePatch]    `json:"lifecycle,omitzero"`
	Timing       Opt[TimingPatch]       `json:"timing,omitzero"`
	Metrics      Opt[MetricsPatch]      `json:"metrics,omitzero"`
	Attachments  Opt[AttachmentsPatch]  `json:"attachments,omitzero"`
	ListItems    Opt[ListItemsPatch]    `json:"listItems,omitzero"`
	Actions      Opt[ActionsPatch]      `json:"actions,omitzero"`
	Progress     Opt[ProgressPatch]     `json:"progress,omitzero"`
	Audience     Opt[AudiencePatch]     `json:"audience,omitzero"`
	Dependencies Opt[DependenciesPatch] `json:"dependencies,omitzero"`

	// Immutable identity fields; present values are rejected on apply.
	Ref    Opt[string] `json:"ref,omitzero"`
	Kind   Opt[Kind]   `json:"kind,omitzero"`
	Origin Opt[Origin] `json:"origin,omitzero"`
}

// Empty reports whether the patch touches nothing.
func (p Patch) Empty() bool {
	return !p.Title.Present() && !p.Text.Present() && !p.Icon.Present() &&
		!p.Level.Present() && !p.Details.Present() && !p.Lifecycle.Present() &&
		!p.Timing.Present() && !p.Metrics.Present() && !p.Attachments.Present() &&
		!p.ListItems.Present() && !p.Actions.Present() && !p.Progress.Present() &&
		!p.Audience.Present() && !p.Dependencies.Present() &&
		!p.Ref.Present() && !p.Kind.Present() && !p.Origin.Present()
}

// DetailsPatch merges into the details section field by field. A null
// for the whole section clears it.
type DetailsPatch struct {
	Location    Opt[string]   `json:"location,omitzero"`
	Task        Opt[string]   `json:"task,omitzero"`
	Reason      Opt[string]   `json:"reason,omitzero"`
	Tools       Opt[[]string] `json:"tools,omitzero"`
	Consumables Opt[[]string] `json:"consumables,omitzero"`
}

// LifecyclePatch merges into the lifecycle section. A null for the whole
// section resets the state to open. StateChangedAt is core-managed and
// rejected when present.
type LifecyclePatch struct {
	State          Opt[State]  `json:"state,omitzero"`
	StateChangedBy Opt[string] `json:"stateChangedBy,omitzero"`
	StateChangedAt Opt[int64]  `json:"stateChangedAt,omitzero"`
}

// TimingPatch merges timing fields key by key; nulls clear individual
// fields. CreatedAt is immutable, UpdatedAt and NotifiedAt are
// core-managed; they are rejected for producer patches.
type TimingPatch struct {
	ExpiresAt   Opt[int64]           `json:"expiresAt,omitzero"`
	NotifyAt    Opt[int64]           `json:"notifyAt,omitzero"`
	RemindEvery Opt[int64]           `json:"remindEvery,omitzero"`
	TimeBudget  Opt[int64]           `json:"timeBudget,omitzero"`
	Cooldown    Opt[int64]           `json:"cooldown,omitzero"`
	DueAt       Opt[int64]           `json:"dueAt,omitzero"`
	StartAt     Opt[int64]           `json:"startAt,omitzero"`
	EndAt       Opt[int64]           `json:"endAt,omitzero"`
	CreatedAt   Opt[int64]           `json:"createdAt,omitzero"`
	UpdatedAt   Opt[int64]           `json:"updatedAt,omitzero"`
	NotifiedAt  Opt[map[Event]int64] `json:"notifiedAt,omitzero"`
}

// MetricsPatch is either a full replacement of the metrics map or a
// {set, delete} operation pair. In JSON, an object whose keys are only
// "set"/"delete" is the operation form ("set" and "delete" are therefore
// reserved metric names); any other object replaces the whole map.
type MetricsPatch struct {
	Replace map[string]Metric
	Set     map[string]Metric
	Delete  []string
}

// ReplaceMetrics builds a full-replacement metrics patch.
func ReplaceMetrics(m map[string]Metric) MetricsPatch {
	if m == nil {
		m = map[string]Metric{}
	}
	return MetricsPatch{Replace: m}
}

// MergeMetrics builds a set/delete metrics patch.
func MergeMetrics(set map[string]Metric, del ...string) MetricsPatch {
	return MetricsPatch{Set: set, Delete: del}
}

func (p *MetricsPatch) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("metrics patch: %w", err)
	}
	if opsOnly(raw) {
		var ops struct {
			Set    map[string]Metric `json:"set"`
			Delete []string          `json:"delete"`
		}
		if err := json.Unmarshal(b, &ops); err != nil {
			return fmt.Errorf("metrics patch ops: %w", err)
		}
		*p = MetricsPatch{Set: ops.Set, Delete: ops.Delete}
		return nil
	}
	var replace map[string]Metric
	if err := json.Unmarshal(b, &replace); err != nil {
		return fmt.Errorf("metrics patch replace: %w", err)
	}
	*p = MetricsPatch{Replace: replace}
	return nil
}

func (p MetricsPatch) MarshalJSON() ([]byte, error) {
	if p.Replace != nil {
		return json.Marshal(p.Replace)
	}
	return json.Marshal(struct {
		Set    map[string]Metric `json:"set,omitempty"`
		Delete []string          `json:"delete,omitempty"`
	}{p.Set, p.Delete})
}

// AttachmentsPatch replaces the attachment list or applies index-based
// set/delete operations. Deletions run after sets, in descending index
// order so remaining indices stay valid. A set index equal to the current
// length appends.
type AttachmentsPatch struct {
	Replace []Attachment
	Set     map[int]Attachment
	Delete  []int
}

func (p *AttachmentsPatch) UnmarshalJSON(b []byte) error {
	if isJSONArray(b) {
		var replace []Attachment
		if err := json.Unmarshal(b, &replace); err != nil {
			return fmt.Errorf("attachments patch replace: %w", err)
		}
		if replace == nil {
			replace = []Attachment{}
		}
		*p = AttachmentsPatch{Replace: replace}
		return nil
	}
	var ops struct {
		Set    map[string]Attachment `json:"set"`
		Delete []int                 `json:"delete"`
	}
	if err := json.Unmarshal(b, &ops); err != nil {
		return fmt.Errorf("attachments patch ops: %w", err)
	}
	set := make(map[int]Attachment, len(ops.Set))
	for k, v := range ops.Set {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			return fmt.Errorf("attachments patch: bad index %q", k)
		}
		set[i] = v
	}
	if len(set) == 0 {
		set = nil
	}
	*p = AttachmentsPatch{Set: set, Delete: ops.Delete}
	return nil
}

func (p AttachmentsPatch) MarshalJSON() ([]byte, error) {
	if p.Replace != nil {
		return json.Marshal(p.Replace)
	}
	set := make(map[string]Attachment, len(p.Set))
	for i, v := range p.Set {
		set[strconv.Itoa(i)] = v
	}
	return json.Marshal(struct {
		Set    map[string]Attachment `json:"set,omitempty"`
		Delete []int                 `json:"delete,omitempty"`
	}{set, p.Delete})
}

// ListItemsPatch replaces the item list or upserts/deletes by item ID.
// Deletions run after upserts.
type ListItemsPatch struct {
	Replace []ListItem
	Set     []ListItem
	Delete  []string
}

func (p *ListItemsPatch) UnmarshalJSON(b []byte) error {
	if isJSONArray(b) {
		var replace []ListItem
		if err := json.Unmarshal(b, &replace); err != nil {
			return fmt.Errorf("listItems patch replace: %w", err)
		}
		if replace == nil {
			replace = []ListItem{}
		}
		*p = ListItemsPatch{Replace: replace}
		return nil
	}
	var ops struct {
		Set    []ListItem `json:"set"`
		Delete []string   `json:"delete"`
	}
	if err := json.Unmarshal(b, &ops); err != nil {
		return fmt.Errorf("listItems patch ops: %w", err)
	}
	*p = ListItemsPatch{Set: ops.Set, Delete: ops.Delete}
	return nil
}

func (p ListItemsPatch) MarshalJSON() ([]byte, error) {
	if p.Replace != nil {
		return json.Marshal(p.Replace)
	}
	return json.Marshal(struct {
		Set    []ListItem `json:"set,omitempty"`
		Delete []string   `json:"delete,omitempty"`
	}{p.Set, p.Delete})
}

// ActionsPatch replaces the action list or upserts/deletes by action ID.
// Deletions run after upserts.
type ActionsPatch struct {
	Replace []Action
	Set     []Action
	Delete  []string
}

func (p *ActionsPatch) UnmarshalJSON(b []byte) error {
	if isJSONArray(b) {
		var replace []Action
		if err := json.Unmarshal(b, &replace); err != nil {
			return fmt.Errorf("actions patch replace: %w", err)
		}
		if replace == nil {
			replace = []Action{}
		}
		*p = ActionsPatch{Replace: replace}
		return nil
	}
	var ops struct {
		Set    []Action `json:"set"`
		Delete []string `json:"delete"`
	}
	if err := json.Unmarshal(b, &ops); err != nil {
		return fmt.Errorf("actions patch ops: %w", err)
	}
	*p = ActionsPatch{Set: ops.Set, Delete: ops.Delete}
	return nil
}

func (p ActionsPatch) MarshalJSON() ([]byte, error) {
	if p.Replace != nil {
		return json.Marshal(p.Replace)
	}
	return json.Marshal(struct {
		Set    []Action `json:"set,omitempty"`
		Delete []string `json:"delete,omitempty"`
	}{p.Set, p.Delete})
}

// DependenciesPatch replaces the dependency list or adds/removes refs.
// Set and Delete may be combined; the result is deduplicated preserving
// first-seen order, with deletions applied after additions.
type DependenciesPatch struct {
	Replace []string
	Set     []string
	Delete  []string
}

func (p *DependenciesPatch) UnmarshalJSON(b []byte) error {
	if isJSONArray(b) {
		var replace []string
		if err := json.Unmarshal(b, &replace); err != nil {
			return fmt.Errorf("dependencies patch replace: %w", err)
		}
		if replace == nil {
			replace = []string{}
		}
		*p = DependenciesPatch{Replace: replace}
		return nil
	}
	var ops struct {
		Set    []string `json:"set"`
		Delete []string `json:"delete"`
	}
	if err := json.Unmarshal(b, &ops); err != nil {
		return fmt.Errorf("dependencies patch ops: %w", err)
	}
	*p = DependenciesPatch{Set: ops.Set, Delete: ops.Delete}
	return nil
}

func (p DependenciesPatch) MarshalJSON() ([]byte, error) {
	if p.Replace != nil {
		return json.Marshal(p.Replace)
	}
	return json.Marshal(struct {
		Set    []string `json:"set,omitempty"`
		Delete []string `json:"delete,omitempty"`
	}{p.Set, p.Delete})
}

// ProgressPatch updates the completion percentage. A null for the whole
// section resets the percentage to zero while preserving StartedAt.
type ProgressPatch struct {
	Percentage Opt[int] `json:"percentage,omitzero"`
}

// AudiencePatch merges into the audience section; a null for the whole
// section clears it.
type AudiencePatch struct {
	Tags     Opt[[]string]      `json:"tags,omitzero"`
	Channels Opt[ChannelsPatch] `json:"channels,omitzero"`
}

// ChannelsPatch merges the channel scopes; nulls clear the individual
// lists.
type ChannelsPatch struct {
	Include Opt[[]string] `json:"include,omitzero"`
	Exclude Opt[[]string] `json:"exclude,omitzero"`
}

// ParsePatch decodes a JSON patch document.
func ParsePatch(data []byte) (Patch, error) {
	var p Patch
	if err := json.Unmarshal(data, &p); err != nil {
		return Patch{}, fmt.Errorf("patch parse: %w", err)
	}
	return p, nil
}

func isJSONArray(b []byte) bool {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}

func opsOnly(raw map[string]json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	for k := range raw {
		if k != "set" && k != "delete" {
			return false
		}
	}
	return true
}
