package message

// Level grades how urgent a message is. The values mirror the severity
// scale used by home-automation state quality, so numeric range filters
// stay meaningful.
type Level int

const (
	LevelNone    Level = 0
	LevelNotice  Level = 10
	LevelWarning Level = 20
	LevelError   Level = 30
)

// Valid reports whether l is one of the defined severity grades.
func (l Level) Valid() bool {
	switch l {
	case LevelNone, LevelNotice, LevelWarning, LevelError:
		return true
	}
	return false
}

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelNotice:
		return "notice"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	}
	return "invalid"
}

// Kind classifies what a message represents.
type Kind string

const (
	KindTask          Kind = "task"
	KindStatus        Kind = "status"
	KindAppointment   Kind = "appointment"
	KindShoppingList  Kind = "shoppinglist"
	KindInventoryList Kind = "inventorylist"
)

// Valid reports whether k is a defined kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTask, KindStatus, KindAppointment, KindShoppingList, KindInventoryList:
		return true
	}
	return false
}

// IsList reports whether k carries list items as its primary content.
func (k Kind) IsList() bool {
	return k == KindShoppingList || k == KindInventoryList
}

// OriginType records how a message entered the hub.
type OriginType string

const (
	OriginManual     OriginType = "manual"
	OriginImport     OriginType = "import"
	OriginAutomation OriginType = "automation"
)

// Valid reports whether o is a defined origin type.
func (o OriginType) Valid() bool {
	switch o {
	case OriginManual, OriginImport, OriginAutomation:
		return true
	}
	return false
}

// State is a message lifecycle state.
//
// open, acked and snoozed are the live ("quasi-open") states; closed,
// deleted and expired are retained for their retention window
// ("quasi-deleted") before the hard-delete pass removes them. deleted and
// expired can only be entered by the core itself.
type State string

const (
	StateOpen    State = "open"
	StateAcked   State = "acked"
	StateSnoozed State = "snoozed"
	StateClosed  State = "closed"
	StateDeleted State = "deleted"
	StateExpired State = "expired"
)

// Valid reports whether s is a defined lifecycle state.
func (s State) Valid() bool {
	switch s {
	case StateOpen, StateAcked, StateSnoozed, StateClosed, StateDeleted, StateExpired:
		return true
	}
	return false
}

// QuasiOpen reports whether s is one of the live states.
func (s State) QuasiOpen() bool {
	return s == StateOpen || s == StateAcked || s == StateSnoozed
}

// QuasiDeleted reports whether s is retained only for the retention window.
func (s State) QuasiDeleted() bool {
	return s == StateClosed || s == StateDeleted || s == StateExpired
}

// CoreOnly reports whether s may only be entered by the core.
func (s State) CoreOnly() bool {
	return s == StateDeleted || s == StateExpired
}

// QuasiOpenStates and QuasiDeletedStates are the canonical groupings used
// by query filters.
var (
	QuasiOpenStates    = []State{StateOpen, StateAcked, StateSnoozed}
	QuasiDeletedStates = []State{StateClosed, StateDeleted, StateExpired}
)

// Event names a notification event dispatched to notify plugins.
type Event string

const (
	// EventAdded fires for a brand-new ref.
	EventAdded Event = "added"
	// EventRecreated fires when a ref whose previous entries were all
	// quasi-deleted is added again past its cooldown.
	EventRecreated Event = "recreated"
	// EventRecovered fires instead of recreated when the re-add lands
	// within the previous entry's cooldown window.
	EventRecovered Event = "recovered"
	// EventUpdated fires on user-visible patches.
	EventUpdated Event = "updated"
	// EventDue fires when a message becomes due for notification.
	EventDue Event = "due"
	// EventDeleted fires on soft deletion.
	EventDeleted Event = "deleted"
	// EventExpired fires when the prune pass expires messages.
	EventExpired Event = "expired"
)

// Valid reports whether e is a defined event.
func (e Event) Valid() bool {
	switch e {
	case EventAdded, EventRecreated, EventRecovered, EventUpdated, EventDue, EventDeleted, EventExpired:
		return true
	}
	return false
}

// ActionType classifies a message action offered to notify channels.
type ActionType string

const (
	ActionAck    ActionType = "ack"
	ActionClose  ActionType = "close"
	ActionOpen   ActionType = "open"
	ActionDelete ActionType = "delete"
	ActionSnooze ActionType = "snooze"
	ActionLink   ActionType = "link"
	ActionCustom ActionType = "custom"
)

// Valid reports whether a is a defined action type.
func (a ActionType) Valid() bool {
	switch a {
	case ActionAck, ActionClose, ActionOpen, ActionDelete, ActionSnooze, ActionLink, ActionCustom:
		return true
	}
	return false
}

// AttachmentType classifies attachment content.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentURL   AttachmentType = "url"
	AttachmentFile  AttachmentType = "file"
	AttachmentText  AttachmentType = "text"
)

// Valid reports whether a is a defined attachment type.
func (a AttachmentType) Valid() bool {
	switch a {
	case AttachmentImage, AttachmentURL, AttachmentFile, AttachmentText:
		return true
	}
	return false
}
