// Package factory is the hub's only author of message values. Create
// builds a canonical message from a producer draft; Apply merges a patch
// into an existing message. Both are pure: they validate, normalise and
// return new values without touching the store, so every mutation the
// store commits went through exactly one code path.
package factory

import (
	"errors"
	"fmt"

	"github.com/bdobrica/Dengon/common/spec/message"
)

// Sentinel errors; callers classify failures with errors.Is.
var (
	// ErrValidation marks malformed input: missing required fields,
	// invalid enum values, implausible timestamps, malformed collections.
	ErrValidation = errors.New("invalid message input")
	// ErrImmutable marks an attempt to change ref, kind, origin or
	// timing.createdAt.
	ErrImmutable = errors.New("immutable field")
	// ErrLifecycle marks a lifecycle transition that is not allowed for
	// the caller.
	ErrLifecycle = errors.New("lifecycle transition not allowed")
)

// Capability authorises core-managed mutations: entering deleted or
// expired and stamping timing.notifiedAt. The store obtains one at
// construction; it is deliberately absent from every plugin-facing API.
type Capability struct {
	core bool
}

// CoreCapability returns the store's capability token.
func CoreCapability() Capability { return Capability{core: true} }

// Core reports whether the capability authorises core-managed mutations.
func (c Capability) Core() bool { return c.core }

// Options modifies how Apply merges a patch.
type Options struct {
	// Stealth suppresses the timing.updatedAt bump, for core housekeeping
	// patches that must not surface as user-visible updates.
	Stealth bool
	// Core authorises core-managed mutations.
	Core Capability
}

// Outcome reports what Apply actually changed, so the store can decide
// about persistence and event dispatch.
type Outcome struct {
	// Changed reports whether any field differs from the input message.
	Changed bool
	// UserVisible reports whether a non-metric field changed. Only
	// user-visible, non-stealth changes bump timing.updatedAt.
	UserVisible bool
	// StateChanged reports a lifecycle state transition.
	StateChanged bool
	// OldState and NewState frame the transition when StateChanged.
	OldState, NewState message.State
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
