package message_test

import (
	"testing"

	"github.com/bdobrica/Dengon/common/spec/message"
)

func TestStatePredicates(t *testing.T) {
	cases := []struct {
		state        message.State
		quasiOpen    bool
		quasiDeleted bool
		coreOnly     bool
	}{
		{message.StateOpen, true, false, false},
		{message.StateAcked, true, false, false},
		{message.StateSnoozed, true, false, false},
		{message.StateClosed, false, true, false},
		{message.StateDeleted, false, true, true},
		{message.StateExpired, false, true, true},
	}
	for _, c := range cases {
		if got := c.state.QuasiOpen(); got != c.quasiOpen {
			t.Errorf("%s.QuasiOpen() = %v, want %v", c.state, got, c.quasiOpen)
		}
		if got := c.state.QuasiDeleted(); got != c.quasiDeleted {
			t.Errorf("%s.QuasiDeleted() = %v, want %v", c.state, got, c.quasiDeleted)
		}
		if got := c.state.CoreOnly(); got != c.coreOnly {
			t.Errorf("%s.CoreOnly() = %v, want %v", c.state, got, c.coreOnly)
		}
	}
}

func TestLevelValid(t *testing.T) {
	for _, l := range []message.Level{0, 10, 20, 30} {
		if !l.Valid() {
			t.Errorf("level %d should be valid", l)
		}
	}
	for _, l := range []message.Level{-1, 5, 15, 40} {
		if l.Valid() {
			t.Errorf("level %d should be invalid", l)
		}
	}
}

func TestKindIsList(t *testing.T) {
	if !message.KindShoppingList.IsList() || !message.KindInventoryList.IsList() {
		t.Error("list kinds not recognized")
	}
	if message.KindTask.IsList() {
		t.Error("task is not a list kind")
	}
}

func TestPlausibleTimestamp(t *testing.T) {
	if message.PlausibleTimestamp(1700000000) {
		t.Error("epoch seconds accepted as milliseconds")
	}
	if !message.PlausibleTimestamp(1700000000000) {
		t.Error("2023 timestamp rejected")
	}
	if message.PlausibleTimestamp(message.MaxTimestamp + 1) {
		t.Error("post-2100 timestamp accepted")
	}
}

func TestMetricNormalize(t *testing.T) {
	m, err := message.Metric{Val: 5}.Normalize()
	if err != nil {
		t.Fatalf("int value rejected: %v", err)
	}
	if v, ok := m.Val.(float64); !ok || v != 5 {
		t.Errorf("int not normalised to float64: %#v", m.Val)
	}

	if _, err := (message.Metric{Val: []string{"x"}}).Normalize(); err == nil {
		t.Error("slice value accepted")
	}
	if _, err := (message.Metric{Val: 1.0, TS: 42}).Normalize(); err == nil {
		t.Error("implausible ts accepted")
	}
	if _, err := (message.Metric{Val: nil}).Normalize(); err != nil {
		t.Errorf("null value rejected: %v", err)
	}
}

func TestClone_IsolatesMutations(t *testing.T) {
	m := message.Message{
		Ref:   "auto.status.heating.boiler",
		Title: "Boiler pressure",
		Text:  "Pressure out of range",
		Kind:  message.KindStatus,
		Timing: message.Timing{
			CreatedAt:  1700000000000,
			UpdatedAt:  1700000000000,
			NotifiedAt: map[message.Event]int64{message.EventDue: 1700000001000},
		},
		Details: &message.Details{Location: "cellar", Tools: []string{"gauge"}},
		Metrics: map[string]message.Metric{"pressure": {Val: 1.2, Unit: "bar"}},
		Actions: []message.Action{{ID: "ack", Type: message.ActionAck, Payload: []byte(`{"a":1}`)}},
		Audience: &message.Audience{
			Tags:     []string{"heating"},
			Channels: &message.Channels{Include: []string{"telegram"}},
		},
		Dependencies: []string{"auto.status.heating.pump"},
	}

	c := m.Clone()
	c.Timing.NotifiedAt[message.EventDue] = 1
	c.Details.Location = "attic"
	c.Details.Tools[0] = "wrench"
	c.Metrics["pressure"] = message.Metric{Val: 9.9}
	c.Actions[0].Payload[2] = 'z'
	c.Audience.Tags[0] = "x"
	c.Audience.Channels.Include[0] = "x"
	c.Dependencies[0] = "x"

	if m.Timing.NotifiedAt[message.EventDue] != 1700000001000 {
		t.Error("notifiedAt shared between clone and original")
	}
	if m.Details.Location != "cellar" || m.Details.Tools[0] != "gauge" {
		t.Error("details shared between clone and original")
	}
	if m.Metrics["pressure"].Val != 1.2 {
		t.Error("metrics shared between clone and original")
	}
	if string(m.Actions[0].Payload) != `{"a":1}` {
		t.Error("action payload shared between clone and original")
	}
	if m.Audience.Tags[0] != "heating" || m.Audience.Channels.Include[0] != "telegram" {
		t.Error("audience shared between clone and original")
	}
	if m.Dependencies[0] != "auto.status.heating.pump" {
		t.Error("dependencies shared between clone and original")
	}
}
