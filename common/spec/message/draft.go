package message

// Draft is the producer-side input to message creation. Core-managed
// fields (createdAt, updatedAt, notifiedAt, stateChangedAt, progress
// start/finish stamps) have no representation here, so producers cannot
// supply them in the first place.
type Draft struct {
	Ref          string            `json:"ref,omitempty"`
	Title        string            `json:"title"`
	Text         string            `json:"text"`
	Icon         string            `json:"icon,omitempty"`
	Level        Level             `json:"level"`
	Kind         Kind              `json:"kind"`
	Origin       Origin            `json:"origin"`
	Lifecycle    *DraftLifecycle   `json:"lifecycle,omitempty"`
	Timing       DraftTiming       `json:"timing,omitzero"`
	Details      *Details          `json:"details,omitempty"`
	Metrics      map[string]Metric `json:"metrics,omitempty"`
	Attachments  []Attachment      `json:"attachments,omitempty"`
	ListItems    []ListItem        `json:"listItems,omitempty"`
	Actions      []Action          `json:"actions,omitempty"`
	Progress     *DraftProgress    `json:"progress,omitempty"`
	Audience     *Audience         `json:"audience,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
}

// DraftLifecycle seeds the initial lifecycle. Core-only states fall back
// to open during creation.
type DraftLifecycle struct {
	State          State  `json:"state,omitempty"`
	StateChangedBy string `json:"stateChangedBy,omitempty"`
}

// DraftTiming carries the producer-settable timing fields.
type DraftTiming struct {
	ExpiresAt   int64 `json:"expiresAt,omitempty"`
	NotifyAt    int64 `json:"notifyAt,omitempty"`
	RemindEvery int64 `json:"remindEvery,omitempty"`
	TimeBudget  int64 `json:"timeBudget,omitempty"`
	Cooldown    int64 `json:"cooldown,omitempty"`
	DueAt       int64 `json:"dueAt,omitempty"`
	StartAt     int64 `json:"startAt,omitempty"`
	EndAt       int64 `json:"endAt,omitempty"`
}

// DraftProgress seeds the completion percentage; the start/finish stamps
// are derived from it during creation.
type DraftProgress struct {
	Percentage int `json:"percentage"`
}
