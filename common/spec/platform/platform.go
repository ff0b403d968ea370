// Package platform defines the host-integration surface the hub core and
// its plugins consume: state and object access, change subscriptions,
// cross-instance messaging, translation and timer scheduling. The hub
// never talks to a home-automation bus directly; embedders supply a
// Platform and the hub stays portable across hosts.
package platform

import (
	"context"
	"time"
)

// State is a datapoint sample. TS is the last-write timestamp, LC the
// last-change timestamp, both epoch milliseconds.
type State struct {
	Val any   `json:"val"`
	Ack bool  `json:"ack"`
	TS  int64 `json:"ts"`
	LC  int64 `json:"lc"`
}

// Object is datapoint metadata.
type Object struct {
	ID     string       `json:"_id"`
	Type   string       `json:"type"`
	Common ObjectCommon `json:"common"`
}

// ObjectCommon carries the display-relevant subset of object metadata.
type ObjectCommon struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
	Type string `json:"type,omitempty"`
	Unit string `json:"unit,omitempty"`
}

// ViewParams bounds a GetObjectView query.
type ViewParams struct {
	StartKey string
	EndKey   string
}

// States reads and writes datapoints. Foreign accessors take fully
// qualified ids; SetState is namespace-relative. A missing state is
// (nil, nil), not an error.
type States interface {
	GetForeignState(ctx context.Context, id string) (*State, error)
	SetForeignState(ctx context.Context, id string, st State) error
	SetState(ctx context.Context, id string, st State) error
}

// Objects reads and writes datapoint metadata. A missing object is
// (nil, nil), not an error.
type Objects interface {
	GetForeignObject(ctx context.Context, id string) (*Object, error)
	SetObjectNotExists(ctx context.Context, id string, obj Object) error
	GetObjectView(ctx context.Context, design, view string, params ViewParams) ([]Object, error)
}

// StateHandler receives subscribed state changes; st is nil when the
// state was deleted.
type StateHandler func(id string, st *State)

// ObjectHandler receives subscribed object changes; obj is nil when the
// object was deleted.
type ObjectHandler func(id string, obj *Object)

// Subscriptions manages change feeds. Patterns use "*" wildcards
// ("hm-rpc.0.*"). Handlers are registered once, before subscribing, and
// run on the platform's delivery goroutine.
type Subscriptions interface {
	SubscribeForeignStates(ctx context.Context, pattern string) error
	UnsubscribeForeignStates(ctx context.Context, pattern string) error
	SubscribeForeignObjects(ctx context.Context, pattern string) error
	UnsubscribeForeignObjects(ctx context.Context, pattern string) error
	OnStateChange(h StateHandler)
	OnObjectChange(h ObjectHandler)
}

// Mailbox sends cross-instance commands.
type Mailbox interface {
	SendTo(ctx context.Context, instance, command string, payload any) error
}

// I18n translates user-facing strings. Implementations fall back to key
// interpolation when no translation exists.
type I18n interface {
	T(key string, args ...any) string
}

// TimerID identifies a scheduled timer.
type TimerID int64

// Timers schedules callbacks the way host adapters do. Clearing an
// already-fired or unknown timer is a no-op.
type Timers interface {
	SetTimeout(d time.Duration, fn func()) TimerID
	ClearTimeout(id TimerID)
	SetInterval(d time.Duration, fn func()) TimerID
	ClearInterval(id TimerID)
}

// Platform is the complete facade handed to the hub. Components should
// depend on the narrowest sub-interface that serves them.
type Platform interface {
	// Namespace is the hub's own id prefix, e.g. "dengon.0".
	Namespace() string

	States
	Objects
	Subscriptions
	Mailbox
	Timers

	I18n() I18n
}

// MatchPattern reports whether a subscription pattern matches an id.
// "*" matches any run of characters; everything else is literal.
func MatchPattern(pattern, id string) bool {
	return matchHere(pattern, id)
}

func matchHere(p, s string) bool {
	for {
		if p == "" {
			return s == ""
		}
		if p[0] == '*' {
			for p != "" && p[0] == '*' {
				p = p[1:]
			}
			if p == "" {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if matchHere(p, s[i:]) {
					return true
				}
			}
			return false
		}
		if s == "" || p[0] != s[0] {
			return false
		}
		p = p[1:]
		s = s[1:]
	}
}
