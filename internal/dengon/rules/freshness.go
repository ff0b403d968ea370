package rules

import (
	"context"
	"fmt"

	"github.com/bdobrica/Dengon/common/spec/message"
	"github.com/bdobrica/Dengon/common/spec/platform"
)

type freshnessConfig struct {
	StateID string `json:"stateId"`
	EveryMs int64  `json:"everyMs"`
	Driver  string `json:"driver"`
	Preset  string `json:"preset"`
	Ref     string `json:"ref"`
	Title   string `json:"title"`
	Text    string `json:"text"`
}

// Freshness opens a message when the monitored state has not been
// written (driver "ts") or changed (driver "lc") for everyMs, and
// closes it exactly once when the state moves again. The recovery
// transition publishes a one-shot state-recovered-at metric.
type Freshness struct {
	deps   RuleDeps
	cfg    freshnessConfig
	writer *Writer

	open         bool
	fetched      bool
	lastTS       int64
	lastLC       int64
	lastVal      any
	name         string
	nameResolved bool
	last         map[string]message.Metric
}

func newFreshness(bag map[string]any, deps RuleDeps) (*Freshness, error) {
	var cfg freshnessConfig
	if err := decodeOptions(compiledFreshness, bag, &cfg); err != nil {
		return nil, err
	}
	if cfg.Driver == "" {
		cfg.Driver = "ts"
	}
	if cfg.Ref == "" {
		cfg.Ref = "freshness." + cfg.StateID
	}
	if cfg.Title == "" {
		cfg.Title = "{{m.state-name}} is stale"
	}
	if cfg.Text == "" {
		cfg.Text = "{{m.state-name}} last reported {{m.state-value}}"
	}
	w, ok := deps.Writers.Lookup(cfg.Preset)
	if !ok {
		return nil, fmt.Errorf("no writer for preset %q", cfg.Preset)
	}
	return &Freshness{deps: deps, cfg: cfg, writer: w}, nil
}

func (f *Freshness) RequiredStateIDs() []string { return []string{f.cfg.StateID} }

func (f *Freshness) OnStateChange(id string, st *platform.State) {
	if st == nil {
		return
	}
	f.fetched = true
	f.lastTS = st.TS
	f.lastLC = st.LC
	f.lastVal = st.Val
	f.resolveName()
	if f.open {
		f.recover()
	}
}

// OnTick drives the staleness check; a state that never changes never
// triggers OnStateChange, so the tick is what eventually opens it.
func (f *Freshness) OnTick(now int64) {
	if !f.fetched {
		// Seed from the current platform value so a state that went
		// silent before we started still counts as stale.
		f.fetched = true
		st, err := f.deps.Platform.GetForeignState(context.Background(), f.cfg.StateID)
		if err == nil && st != nil {
			f.lastTS = st.TS
			f.lastLC = st.LC
			f.lastVal = st.Val
		}
		f.resolveName()
	}
	driver := f.lastTS
	if f.cfg.Driver == "lc" {
		driver = f.lastLC
	}
	stale := driver > 0 && now-driver > f.cfg.EveryMs
	switch {
	case stale && !f.open:
		f.openNow()
	case stale && f.open:
		f.publishDiff()
	case !stale && f.open:
		f.recover()
	}
}

func (f *Freshness) OnTimer(t *Timer) {}

func (f *Freshness) Dispose() {}

func (f *Freshness) openNow() {
	metrics := f.metrics()
	ok := f.writer.Upsert(message.Draft{
		Ref:     f.cfg.Ref,
		Title:   f.cfg.Title,
		Text:    f.cfg.Text,
		Origin:  message.Origin{Type: message.OriginAutomation, ID: f.cfg.StateID},
		Metrics: metrics,
	})
	if !ok {
		f.deps.Log.Warn("rules/freshness: upsert failed", "ref", f.cfg.Ref)
		return
	}
	f.open = true
	f.last = metrics
}

// recover closes the stale message once per staleness phase, stamping
// state-recovered-at right before the close so consumers of the closing
// update see when the state came back.
func (f *Freshness) recover() {
	f.writer.PatchMetrics(f.cfg.Ref, map[string]message.Metric{
		"state-recovered-at": {Val: float64(f.deps.Now())},
	})
	if !f.writer.Close(f.cfg.Ref) {
		f.deps.Log.Warn("rules/freshness: close failed", "ref", f.cfg.Ref)
	}
	f.open = false
	f.last = nil
}

func (f *Freshness) publishDiff() {
	current := f.metrics()
	changed := make(map[string]message.Metric)
	for k, v := range current {
		if prev, ok := f.last[k]; !ok || !metricEqualLoose(prev, v) {
			changed[k] = v
		}
	}
	if len(changed) == 0 {
		return
	}
	if f.writer.PatchMetrics(f.cfg.Ref, changed) {
		f.last = current
	}
}

func (f *Freshness) metrics() map[string]message.Metric {
	return map[string]message.Metric{
		"state-ts":    {Val: float64(f.lastTS)},
		"state-lc":    {Val: float64(f.lastLC)},
		"state-value": {Val: f.lastVal},
		"state-name":  {Val: f.name},
	}
}

func (f *Freshness) resolveName() {
	if f.nameResolved {
		return
	}
	f.nameResolved = true
	f.name = f.cfg.StateID
	obj, err := f.deps.Platform.GetForeignObject(context.Background(), f.cfg.StateID)
	if err == nil && obj != nil && obj.Common.Name != "" {
		f.name = obj.Common.Name
	}
}
