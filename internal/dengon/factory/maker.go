package factory

import (
	"time"

	"github.com/bdobrica/Dengon/common/spec/message"
)

// Maker exposes message construction to plugins without granting store
// access. The built message is validated and normalized but not stored.
type Maker struct {
	now func() int64
}

// NewMaker builds a Maker. A nil now falls back to the wall clock.
func NewMaker(now func() int64) *Maker {
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Maker{now: now}
}

// NewMessage validates and constructs a message from the draft.
func (m *Maker) NewMessage(d message.Draft) (message.Message, error) {
	return Create(m.now(), d)
}
