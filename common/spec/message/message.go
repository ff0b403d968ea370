// Package message defines the canonical message model shared between the
// hub core and plugin authors: the Message entity and its sections, the
// Draft producers hand to creation, the Patch language with tri-state
// fields, and the View handed to notify plugins. The JSON form of these
// types is the persistence and archive contract; field names are stable.
package message

import "encoding/json"

// Origin records where a message came from. For automation producers,
// System/ID identify the producing integration and its stable source key
// so re-submissions land on the same ref.
type Origin struct {
	Type   OriginType `json:"type"`
	System string     `json:"system,omitempty"`
	ID     string     `json:"id,omitempty"`
}

// Lifecycle tracks the message state. StateChangedAt and the deleted and
// expired states are core-managed.
type Lifecycle struct {
	State          State  `json:"state"`
	StateChangedAt int64  `json:"stateChangedAt,omitempty"`
	StateChangedBy string `json:"stateChangedBy,omitempty"`
}

// Timing bundles every clock-related field. Absolute fields are epoch
// milliseconds; RemindEvery, TimeBudget and Cooldown are millisecond
// durations. NotifiedAt records the last dispatch per event and is
// written only by the core.
type Timing struct {
	CreatedAt   int64           `json:"createdAt"`
	UpdatedAt   int64           `json:"updatedAt"`
	ExpiresAt   int64           `json:"expiresAt,omitempty"`
	NotifyAt    int64           `json:"notifyAt,omitempty"`
	RemindEvery int64           `json:"remindEvery,omitempty"`
	TimeBudget  int64           `json:"timeBudget,omitempty"`
	Cooldown    int64           `json:"cooldown,omitempty"`
	DueAt       int64           `json:"dueAt,omitempty"`
	StartAt     int64           `json:"startAt,omitempty"`
	EndAt       int64           `json:"endAt,omitempty"`
	NotifiedAt  map[Event]int64 `json:"notifiedAt,omitempty"`
}

// Details holds free-form descriptive fields.
type Details struct {
	Location    string   `json:"location,omitempty"`
	Task        string   `json:"task,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	Tools       []string `json:"tools,omitempty"`
	Consumables []string `json:"consumables,omitempty"`
}

// Empty reports whether every detail field is unset.
func (d Details) Empty() bool {
	return d.Location == "" && d.Task == "" && d.Reason == "" &&
		len(d.Tools) == 0 && len(d.Consumables) == 0
}

// Attachment is typed auxiliary content rendered by notify channels.
type Attachment struct {
	Type  AttachmentType `json:"type"`
	Value string         `json:"value"`
}

// ListItem is one entry of a shopping or inventory list message.
type ListItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category,omitempty"`
	Quantity float64 `json:"quantity,omitempty"`
	PerUnit  string  `json:"perUnit,omitempty"`
	Checked  bool    `json:"checked,omitempty"`
}

// Action is an interaction a notify channel may offer for the message.
// Payload is opaque to the core and handed back on execution.
type Action struct {
	ID      string          `json:"id"`
	Type    ActionType      `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Progress tracks completion. StartedAt and FinishedAt are core-managed:
// StartedAt is stamped on the first transition above zero, FinishedAt
// whenever Percentage reaches 100 and cleared when it drops below.
type Progress struct {
	Percentage int   `json:"percentage"`
	StartedAt  int64 `json:"startedAt,omitempty"`
	FinishedAt int64 `json:"finishedAt,omitempty"`
}

// Audience scopes who should see the message.
type Audience struct {
	Tags     []string  `json:"tags,omitempty"`
	Channels *Channels `json:"channels,omitempty"`
}

// Channels lists notify channel scopes. Exclude wins over Include; an
// absent Channels accepts every scope; "*" or "all" in Include accepts
// any scope.
type Channels struct {
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// Message is the canonical message entity as held by the store and
// persisted in the snapshot document.
type Message struct {
	Ref          string            `json:"ref"`
	Title        string            `json:"title"`
	Text         string            `json:"text"`
	Icon         string            `json:"icon,omitempty"`
	Level        Level             `json:"level"`
	Kind         Kind              `json:"kind"`
	Origin       Origin            `json:"origin"`
	Lifecycle    Lifecycle         `json:"lifecycle"`
	Timing       Timing            `json:"timing"`
	Details      *Details          `json:"details,omitempty"`
	Metrics      map[string]Metric `json:"metrics,omitempty"`
	Attachments  []Attachment      `json:"attachments,omitempty"`
	ListItems    []ListItem        `json:"listItems,omitempty"`
	Actions      []Action          `json:"actions,omitempty"`
	Progress     *Progress         `json:"progress,omitempty"`
	Audience     *Audience         `json:"audience,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
}

// View is the read model handed to notify plugins and query callers: a
// deep copy of the message plus the actions the view policy disabled for
// the current lifecycle state.
type View struct {
	Message
	ActionsInactive []Action `json:"actionsInactive,omitempty"`
}

// Clone returns a deep copy. Mutating the copy never affects the
// original; the store relies on this to keep its list private.
func (m Message) Clone() Message {
	c := m
	if m.Timing.NotifiedAt != nil {
		c.Timing.NotifiedAt = make(map[Event]int64, len(m.Timing.NotifiedAt))
		for k, v := range m.Timing.NotifiedAt {
			c.Timing.NotifiedAt[k] = v
		}
	}
	if m.Details != nil {
		d := *m.Details
		d.Tools = cloneStrings(m.Details.Tools)
		d.Consumables = cloneStrings(m.Details.Consumables)
		c.Details = &d
	}
	if m.Metrics != nil {
		c.Metrics = make(map[string]Metric, len(m.Metrics))
		for k, v := range m.Metrics {
			c.Metrics[k] = v
		}
	}
	if m.Attachments != nil {
		c.Attachments = make([]Attachment, len(m.Attachments))
		copy(c.Attachments, m.Attachments)
	}
	if m.ListItems != nil {
		c.ListItems = make([]ListItem, len(m.ListItems))
		copy(c.ListItems, m.ListItems)
	}
	c.Actions = CloneActions(m.Actions)
	if m.Progress != nil {
		p := *m.Progress
		c.Progress = &p
	}
	if m.Audience != nil {
		a := Audience{Tags: cloneStrings(m.Audience.Tags)}
		if m.Audience.Channels != nil {
			a.Channels = &Channels{
				Include: cloneStrings(m.Audience.Channels.Include),
				Exclude: cloneStrings(m.Audience.Channels.Exclude),
			}
		}
		c.Audience = &a
	}
	c.Dependencies = cloneStrings(m.Dependencies)
	return c
}

// CloneActions deep-copies an action slice including payloads.
func CloneActions(actions []Action) []Action {
	if actions == nil {
		return nil
	}
	out := make([]Action, len(actions))
	for i, a := range actions {
		out[i] = a
		if a.Payload != nil {
			out[i].Payload = make(json.RawMessage, len(a.Payload))
			copy(out[i].Payload, a.Payload)
		}
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
