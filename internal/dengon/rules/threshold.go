package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/bdobrica/Dengon/common/spec/message"
	"github.com/bdobrica/Dengon/common/spec/platform"
)

type thresholdConfig struct {
	StateID       string  `json:"stateId"`
	Mode          string  `json:"mode"`
	Limit         float64 `json:"limit"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	Hysteresis    float64 `json:"hysteresis"`
	MinDurationMs int64   `json:"minDurationMs"`
	Preset        string  `json:"preset"`
	Ref           string  `json:"ref"`
	Title         string  `json:"title"`
	Text          string  `json:"text"`
	Unit          string  `json:"unit"`
}

// Threshold opens a message while the monitored value violates the
// configured condition and closes it on recovery. The mode names the
// violating region: lt fires below the limit, inside fires within
// [min, max], truthy fires on truthy values. Hysteresis widens the
// recovery band; minDuration requires the violation to persist before
// the message opens.
type Threshold struct {
	deps   RuleDeps
	cfg    thresholdConfig
	writer *Writer

	open         bool
	pending      bool
	violated     bool
	val          any
	minSeen      float64
	maxSeen      float64
	haveNumeric  bool
	name         string
	nameResolved bool
	last         map[string]message.Metric
}

func newThreshold(bag map[string]any, deps RuleDeps) (*Threshold, error) {
	var cfg thresholdConfig
	if err := decodeOptions(compiledThreshold, bag, &cfg); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case "lt", "gt":
		// limit-based
	case "inside", "outside":
		if cfg.Min > cfg.Max {
			return nil, fmt.Errorf("min %v above max %v", cfg.Min, cfg.Max)
		}
	case "truthy", "falsy":
		if cfg.Hysteresis != 0 {
			return nil, fmt.Errorf("hysteresis does not apply to mode %q", cfg.Mode)
		}
	}
	if cfg.Ref == "" {
		cfg.Ref = "threshold." + cfg.StateID
	}
	if cfg.Title == "" {
		cfg.Title = "{{m.state-name}} out of range"
	}
	if cfg.Text == "" {
		cfg.Text = "{{m.state-name}} is {{m.state-value}}"
	}
	w, ok := deps.Writers.Lookup(cfg.Preset)
	if !ok {
		return nil, fmt.Errorf("no writer for preset %q", cfg.Preset)
	}
	return &Threshold{deps: deps, cfg: cfg, writer: w}, nil
}

func (t *Threshold) RequiredStateIDs() []string { return []string{t.cfg.StateID} }

func (t *Threshold) timerID() string { return "threshold:" + t.cfg.Ref }

func (t *Threshold) OnStateChange(id string, st *platform.State) {
	if st == nil {
		return
	}
	t.val = st.Val
	if v, ok := toFloat(st.Val); ok {
		if !t.haveNumeric || v < t.minSeen {
			t.minSeen = v
		}
		if !t.haveNumeric || v > t.maxSeen {
			t.maxSeen = v
		}
		t.haveNumeric = true
	}
	t.resolveName()

	t.violated = t.decide(st.Val)
	switch {
	case t.violated && t.open:
		t.publishDiff()
	case t.violated && !t.open:
		if t.cfg.MinDurationMs > 0 {
			if !t.pending {
				t.pending = true
				t.deps.Timers.Schedule(t, t.timerID(), time.Duration(t.cfg.MinDurationMs)*time.Millisecond)
			}
			return
		}
		t.openNow()
	default:
		// Any non-violating sample breaks the persistence run; a pending
		// timer no longer measures a continuous violation.
		if t.pending {
			t.pending = false
			t.deps.Timers.Cancel(t.timerID())
		}
		if t.open {
			if t.recovered(st.Val) {
				t.closeNow()
			} else {
				// Inside the hysteresis band: stays open, metrics track.
				t.publishDiff()
			}
		}
	}
}

func (t *Threshold) OnTimer(timer *Timer) {
	if timer.ID != t.timerID() {
		return
	}
	t.pending = false
	if t.violated && !t.open {
		t.openNow()
	}
}

func (t *Threshold) OnTick(now int64) {}

func (t *Threshold) Dispose() {
	t.deps.Timers.Cancel(t.timerID())
	t.pending = false
}

func (t *Threshold) openNow() {
	metrics := t.metrics()
	ok := t.writer.Upsert(message.Draft{
		Ref:     t.cfg.Ref,
		Title:   t.cfg.Title,
		Text:    t.cfg.Text,
		Origin:  message.Origin{Type: message.OriginAutomation, ID: t.cfg.StateID},
		Metrics: metrics,
	})
	if !ok {
		t.deps.Log.Warn("rules/threshold: upsert failed", "ref", t.cfg.Ref)
		return
	}
	t.open = true
	t.last = metrics
}

func (t *Threshold) closeNow() {
	if !t.writer.Close(t.cfg.Ref) {
		t.deps.Log.Warn("rules/threshold: close failed", "ref", t.cfg.Ref)
	}
	t.open = false
	t.last = nil
}

// publishDiff patches only the metrics that changed since the last
// emission, so an unchanged sample causes no store write at all.
func (t *Threshold) publishDiff() {
	current := t.metrics()
	changed := make(map[string]message.Metric)
	for k, v := range current {
		if prev, ok := t.last[k]; !ok || !metricEqualLoose(prev, v) {
			changed[k] = v
		}
	}
	if len(changed) == 0 {
		return
	}
	if t.writer.PatchMetrics(t.cfg.Ref, changed) {
		t.last = current
	}
}

func (t *Threshold) metrics() map[string]message.Metric {
	m := map[string]message.Metric{
		"state-value": {Val: t.val, Unit: t.cfg.Unit},
		"state-name":  {Val: t.name},
	}
	if t.haveNumeric {
		m["state-min"] = message.Metric{Val: t.minSeen, Unit: t.cfg.Unit}
		m["state-max"] = message.Metric{Val: t.maxSeen, Unit: t.cfg.Unit}
	}
	return m
}

func (t *Threshold) resolveName() {
	if t.nameResolved {
		return
	}
	t.nameResolved = true
	t.name = t.cfg.StateID
	obj, err := t.deps.Platform.GetForeignObject(context.Background(), t.cfg.StateID)
	if err == nil && obj != nil && obj.Common.Name != "" {
		t.name = obj.Common.Name
	}
}

func (t *Threshold) decide(val any) bool {
	switch t.cfg.Mode {
	case "truthy":
		return truthy(val)
	case "falsy":
		return !truthy(val)
	}
	v, ok := toFloat(val)
	if !ok {
		return false
	}
	switch t.cfg.Mode {
	case "lt":
		return v < t.cfg.Limit
	case "gt":
		return v > t.cfg.Limit
	case "inside":
		return v >= t.cfg.Min && v <= t.cfg.Max
	case "outside":
		return v < t.cfg.Min || v > t.cfg.Max
	}
	return false
}

// recovered is decide's inverse widened by the hysteresis band, so a
// value hovering at the limit does not flap the message.
func (t *Threshold) recovered(val any) bool {
	switch t.cfg.Mode {
	case "truthy":
		return !truthy(val)
	case "falsy":
		return truthy(val)
	}
	v, ok := toFloat(val)
	if !ok {
		return true
	}
	h := t.cfg.Hysteresis
	switch t.cfg.Mode {
	case "lt":
		return v >= t.cfg.Limit+h
	case "gt":
		return v <= t.cfg.Limit-h
	case "inside":
		return v < t.cfg.Min-h || v > t.cfg.Max+h
	case "outside":
		return v >= t.cfg.Min+h && v <= t.cfg.Max-h
	}
	return true
}

func toFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func truthy(val any) bool {
	switch v := val.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != "" && v != "0" && v != "false"
	}
	if f, ok := toFloat(val); ok {
		return f != 0
	}
	return true
}

// metricEqualLoose compares metrics ignoring TS, which rules never set.
func metricEqualLoose(a, b message.Metric) bool {
	return a.Val == b.Val && a.Unit == b.Unit
}
