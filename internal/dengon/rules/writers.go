package rules

import (
	"github.com/bdobrica/Dengon/common/spec/message"
)

// StoreWriter is the mutation surface rules write through. The store
// implements it; rules never see anything wider.
type StoreWriter interface {
	AddOrUpdateMessage(d message.Draft) bool
	UpdateMessage(ref string, p message.Patch) bool
	RemoveMessage(ref, actor string) bool
}

// Preset keys with special meaning in the lookup chain.
const (
	DefaultPreset  = "default"
	FallbackPreset = "$fallback"
)

// Writer binds a preset draft template to the store. Rules describe
// only what differs per message; the template supplies the rest.
type Writer struct {
	store  StoreWriter
	preset message.Draft
}

// NewWriter builds a writer over store with the given template.
func NewWriter(store StoreWriter, preset message.Draft) *Writer {
	return &Writer{store: store, preset: preset}
}

// Upsert overlays d onto the preset template and add-or-updates the
// result. Zero fields of d keep the template's values; metrics merge
// with d winning per key.
func (w *Writer) Upsert(d message.Draft) bool {
	merged := w.preset
	if d.Ref != "" {
		merged.Ref = d.Ref
	}
	if d.Title != "" {
		merged.Title = d.Title
	}
	if d.Text != "" {
		merged.Text = d.Text
	}
	if d.Icon != "" {
		merged.Icon = d.Icon
	}
	if d.Level != 0 {
		merged.Level = d.Level
	}
	if d.Kind != "" {
		merged.Kind = d.Kind
	}
	if d.Origin.Type != "" {
		merged.Origin = d.Origin
	}
	if d.Lifecycle != nil {
		merged.Lifecycle = d.Lifecycle
	}
	if d.Timing != (message.DraftTiming{}) {
		merged.Timing = d.Timing
	}
	if d.Audience != nil {
		merged.Audience = d.Audience
	}
	if len(d.Actions) > 0 {
		merged.Actions = d.Actions
	}
	if len(d.Metrics) > 0 {
		metrics := make(map[string]message.Metric, len(w.preset.Metrics)+len(d.Metrics))
		for k, v := range w.preset.Metrics {
			metrics[k] = v
		}
		for k, v := range d.Metrics {
			metrics[k] = v
		}
		merged.Metrics = metrics
	}
	return w.store.AddOrUpdateMessage(merged)
}

// PatchMetrics applies a set/delete metric patch to an existing message.
func (w *Writer) PatchMetrics(ref string, set map[string]message.Metric, del ...string) bool {
	if len(set) == 0 && len(del) == 0 {
		return true
	}
	return w.store.UpdateMessage(ref, message.Patch{
		Metrics: message.Set(message.MergeMetrics(set, del...)),
	})
}

// Close transitions the message to closed.
func (w *Writer) Close(ref string) bool {
	return w.store.UpdateMessage(ref, message.Patch{
		Lifecycle: message.Set(message.LifecyclePatch{
			State: message.Set(message.StateClosed),
		}),
	})
}

// Remove soft-deletes the message.
func (w *Writer) Remove(ref, actor string) bool {
	return w.store.RemoveMessage(ref, actor)
}

// Writers is the preset-keyed writer map. Lookup resolves preset, then
// "default", then "$fallback".
type Writers map[string]*Writer

// Lookup resolves a preset through the fallback chain.
func (ws Writers) Lookup(preset string) (*Writer, bool) {
	for _, key := range []string{preset, DefaultPreset, FallbackPreset} {
		if key == "" {
			continue
		}
		if w, ok := ws[key]; ok {
			return w, true
		}
	}
	return nil, false
}
