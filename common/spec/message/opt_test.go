package message_test

import (
	"encoding/json"
	"testing"

	"github.com/bdobrica/Dengon/common/spec/message"
)

func TestOpt_AbsentKeyStaysZero(t *testing.T) {
	var p message.Patch
	if err := json.Unmarshal([]byte(`{}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Title.Present() {
		t.Error("absent title reported as present")
	}
	if !p.Title.IsZero() {
		t.Error("absent title should be zero")
	}
}

func TestOpt_ExplicitNullRecordsClear(t *testing.T) {
	var p message.Patch
	if err := json.Unmarshal([]byte(`{"icon":null}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !p.Icon.Present() {
		t.Fatal("null icon not recorded as present")
	}
	if !p.Icon.Null() {
		t.Error("null icon not recorded as null")
	}
	if p.Icon.IsSet() {
		t.Error("null icon reported as set")
	}
}

func TestOpt_ValueRoundTrip(t *testing.T) {
	var p message.Patch
	if err := json.Unmarshal([]byte(`{"title":"Garage door","level":20}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !p.Title.IsSet() || p.Title.Value() != "Garage door" {
		t.Errorf("title = %+v, want set %q", p.Title, "Garage door")
	}
	if !p.Level.IsSet() || p.Level.Value() != message.LevelWarning {
		t.Errorf("level = %+v, want set %d", p.Level, message.LevelWarning)
	}

	out, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var again message.Patch
	if err := json.Unmarshal(out, &again); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if !again.Title.IsSet() || again.Title.Value() != "Garage door" {
		t.Errorf("round trip lost title: %s", out)
	}
	if again.Text.Present() {
		t.Errorf("round trip invented text: %s", out)
	}
}

func TestOpt_OmitzeroKeepsAbsentFieldsOut(t *testing.T) {
	p := message.Patch{Title: message.Set("hi")}
	out, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"title":"hi"}`
	if string(out) != want {
		t.Errorf("marshal = %s, want %s", out, want)
	}
}

func TestOpt_Constructors(t *testing.T) {
	s := message.Set(int64(5))
	if !s.IsSet() || s.Value() != 5 {
		t.Errorf("Set(5) = %+v", s)
	}
	c := message.Clear[int64]()
	if !c.Null() || c.IsSet() {
		t.Errorf("Clear() = %+v", c)
	}
}
