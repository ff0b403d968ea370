// Package rules is the thin rule runtime: generic rule instances driven
// by foreign-state changes, a shared throttled tick and a per-rule timer
// service, writing messages through preset-keyed writers. The engine is
// a plugin.Producer, so it plugs into the ingest host like any other
// producer.
package rules

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/Dengon/common/spec/platform"
	"github.com/bdobrica/Dengon/common/spec/plugin"
)

// Rule is one rule instance. All hooks run serialized on the engine's
// lock; implementations need no synchronization of their own.
type Rule interface {
	// RequiredStateIDs declares the state ids (or patterns) the rule
	// wants OnStateChange for.
	RequiredStateIDs() []string
	OnStateChange(id string, st *platform.State)
	OnTick(now int64)
	OnTimer(t *Timer)
	// Dispose releases the rule's timers.
	Dispose()
}

// Timer identifies a fired per-rule timer.
type Timer struct {
	ID      string
	FiresAt int64
}

// TimerService schedules named one-shot timers for rules on top of the
// platform timer facility. Fired callbacks are routed through the
// engine's serializer so they never race rule hooks.
type TimerService struct {
	timers platform.Timers
	now    func() int64
	run    func(fn func())

	mu     sync.Mutex
	active map[string]platform.TimerID
}

// NewTimerService builds a timer service. run serializes timer
// callbacks; nil means direct invocation.
func NewTimerService(timers platform.Timers, now func() int64, run func(fn func())) *TimerService {
	if run == nil {
		run = func(fn func()) { fn() }
	}
	return &TimerService{
		timers: timers,
		now:    now,
		run:    run,
		active: make(map[string]platform.TimerID),
	}
}

// Schedule arms (or re-arms) the named timer to fire r.OnTimer after d.
func (s *TimerService) Schedule(r Rule, id string, d time.Duration) {
	s.mu.Lock()
	if prev, ok := s.active[id]; ok {
		s.timers.ClearTimeout(prev)
	}
	s.active[id] = s.timers.SetTimeout(d, func() {
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
		s.run(func() { r.OnTimer(&Timer{ID: id, FiresAt: s.now()}) })
	})
	s.mu.Unlock()
}

// Cancel disarms the named timer. Unknown ids are a no-op.
func (s *TimerService) Cancel(id string) {
	s.mu.Lock()
	if tid, ok := s.active[id]; ok {
		s.timers.ClearTimeout(tid)
		delete(s.active, id)
	}
	s.mu.Unlock()
}

// Pending reports whether the named timer is armed.
func (s *TimerService) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	return ok
}

// CancelAll disarms every timer.
func (s *TimerService) CancelAll() {
	s.mu.Lock()
	for id, tid := range s.active {
		s.timers.ClearTimeout(tid)
		delete(s.active, id)
	}
	s.mu.Unlock()
}

// Spec describes one rule instance in configuration: the rule type plus
// its option bag, validated against the type's schema.
type Spec struct {
	Type    string         `json:"type" yaml:"type"`
	Options map[string]any `json:"options" yaml:"options"`
}

// Deps are the engine's collaborators.
type Deps struct {
	Log      *slog.Logger
	Platform platform.Platform
	Writers  Writers
	Now      func() int64
	// TickEvery is the shared tick cadence. Default 30s.
	TickEvery time.Duration
}

// RuleDeps is the construction environment handed to each rule.
type RuleDeps struct {
	Log      *slog.Logger
	Platform platform.Platform
	Writers  Writers
	Timers   *TimerService
	Now      func() int64
}

// Engine hosts rule instances behind the plugin.Producer contract. It
// subscribes the union of required state ids, fans changes to the
// matching rules and drives the shared tick.
type Engine struct {
	log       *slog.Logger
	pf        platform.Platform
	timers    *TimerService
	now       func() int64
	tickEvery time.Duration

	mu         sync.Mutex
	rules      []Rule
	subs       []string
	intervalID platform.TimerID
	running    bool
}

// NewEngine validates every spec against its schema and builds the rule
// instances. A single bad spec fails construction.
func NewEngine(deps Deps, specs []Spec) (*Engine, error) {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	tickEvery := deps.TickEvery
	if tickEvery <= 0 {
		tickEvery = 30 * time.Second
	}

	e := &Engine{
		log:       log,
		pf:        deps.Platform,
		now:       now,
		tickEvery: tickEvery,
	}
	e.timers = NewTimerService(deps.Platform, now, func(fn func()) {
		e.mu.Lock()
		defer e.mu.Unlock()
		fn()
	})

	rdeps := RuleDeps{
		Log:      log,
		Platform: deps.Platform,
		Writers:  deps.Writers,
		Timers:   e.timers,
		Now:      now,
	}
	for i, spec := range specs {
		r, err := buildRule(spec, rdeps)
		if err != nil {
			return nil, fmt.Errorf("rules: spec %d (%s): %w", i, spec.Type, err)
		}
		e.rules = append(e.rules, r)
	}
	return e, nil
}

func buildRule(spec Spec, deps RuleDeps) (Rule, error) {
	switch spec.Type {
	case "threshold":
		return newThreshold(spec.Options, deps)
	case "freshness":
		return newFreshness(spec.Options, deps)
	}
	return nil, fmt.Errorf("unknown rule type %q", spec.Type)
}

// Start subscribes the required state ids and arms the shared tick.
func (e *Engine) Start(ctx *plugin.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	seen := make(map[string]bool)
	for _, r := range e.rules {
		for _, id := range r.RequiredStateIDs() {
			if seen[id] {
				continue
			}
			seen[id] = true
			if err := e.pf.SubscribeForeignStates(ctx, id); err != nil {
				return fmt.Errorf("rules: subscribe %q: %w", id, err)
			}
			e.subs = append(e.subs, id)
		}
	}
	e.intervalID = e.pf.SetInterval(e.tickEvery, e.tick)
	e.running = true
	e.log.Info("rules: engine started", "rules", len(e.rules), "subscriptions", len(e.subs))
	return nil
}

// Stop unsubscribes, halts the tick and disposes every rule.
func (e *Engine) Stop(ctx *plugin.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	for _, id := range e.subs {
		if err := e.pf.UnsubscribeForeignStates(ctx, id); err != nil {
			e.log.Warn("rules: unsubscribe failed", "pattern", id, "err", err)
		}
	}
	e.subs = nil
	e.pf.ClearInterval(e.intervalID)
	for _, r := range e.rules {
		r.Dispose()
	}
	e.timers.CancelAll()
	e.running = false
	e.log.Info("rules: engine stopped")
	return nil
}

// HandleState routes a state change to every rule that declared the id.
func (e *Engine) HandleState(ctx *plugin.Context, id string, st *platform.State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.rules {
		if ruleWants(r, id) {
			r.OnStateChange(id, st)
		}
	}
	return nil
}

func ruleWants(r Rule, id string) bool {
	for _, want := range r.RequiredStateIDs() {
		if want == id || platform.MatchPattern(want, id) {
			return true
		}
	}
	return false
}

// Tick runs the shared tick immediately, outside the interval cadence.
func (e *Engine) Tick() { e.tick() }

func (e *Engine) tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	for _, r := range e.rules {
		r.OnTick(now)
	}
}

// ensure the engine satisfies the host contracts.
var (
	_ plugin.Producer = (*Engine)(nil)
	_ plugin.Starter  = (*Engine)(nil)
	_ plugin.Stopper  = (*Engine)(nil)
)
