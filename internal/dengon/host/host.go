// Package host runs the plugin hosts. The ingest host fans platform
// state and object changes out to producers; the notify host queues
// store events and drains them to consumers on its own goroutine. Both
// build a fresh frozen plugin.Context per dispatch, recover handler
// panics, and tag every dispatch with a trace ID so a plugin's log
// lines correlate with the store mutations it caused.
package host

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bdobrica/Dengon/common/spec/platform"
	"github.com/bdobrica/Dengon/common/spec/plugin"
	"github.com/bdobrica/Dengon/common/trace"
	"github.com/bdobrica/Dengon/internal/dengon/metrics"
)

// Deps are the capabilities a host grants its plugins through the
// dispatch context.
type Deps struct {
	Log      *slog.Logger
	Platform platform.Platform
	Store    plugin.StoreReader
	Factory  plugin.Factory
	Metrics  *metrics.Set
}

func (d *Deps) fill() {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New(nil)
	}
}

// Option adjusts a single plugin registration.
type Option func(*pluginOpts)

type pluginOpts struct {
	options map[string]any
	action  plugin.ActionExecutor
}

// WithOptions attaches the plugin's configuration bag; it surfaces as
// Meta.Options on every dispatch.
func WithOptions(options map[string]any) Option {
	return func(o *pluginOpts) { o.options = options }
}

// WithAction grants the plugin an action executor on API.Action. Only
// the engage registration path uses this.
func WithAction(exec plugin.ActionExecutor) Option {
	return func(o *pluginOpts) { o.action = exec }
}

// newContext freezes a dispatch environment for one plugin invocation.
func newContext(parent context.Context, d Deps, hostName, id string, o pluginOpts, running bool, extras map[string]any) *plugin.Context {
	ctx, traceID := trace.Ensure(parent)
	var i18n platform.I18n
	if d.Platform != nil {
		i18n = d.Platform.I18n()
	}
	return &plugin.Context{
		Context: ctx,
		API: plugin.API{
			Log:      d.Log.With("host", hostName, "plugin", id, "trace", traceID),
			I18n:     i18n,
			Platform: d.Platform,
			Store:    d.Store,
			Factory:  d.Factory,
			Action:   o.action,
		},
		Meta: plugin.Meta{
			Running: running,
			Options: o.options,
			Extras:  extras,
		},
	}
}

// guard runs fn, converting a panic into an error so one plugin cannot
// take the host down.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return fn()
}

// startPlugin and stopPlugin invoke the optional lifecycle hooks.
func startPlugin(ctx *plugin.Context, handler any) error {
	if s, ok := handler.(plugin.Starter); ok {
		return guard(func() error { return s.Start(ctx) })
	}
	return nil
}

func stopPlugin(ctx *plugin.Context, handler any) error {
	if s, ok := handler.(plugin.Stopper); ok {
		return guard(func() error { return s.Stop(ctx) })
	}
	return nil
}
