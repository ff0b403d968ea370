// Package store owns the canonical message list and coordinates every
// other core component: mutations flow through the factory, land in the
// list, get persisted and archived, and come back out as notification
// events filtered by the policy layer.
//
// The store is a single logical actor. All mutations, maintenance scans
// and dispatch decisions run on one scheduler goroutine; public calls
// post a task and wait. Plugins re-enter exclusively through the action
// executor, which posts here too, so no plugin ever holds a live
// reference to store internals. Persistence and archive writes are
// fire-and-forget into components that serialize their own I/O, so the
// scheduler never blocks on the disk.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/Dengon/common/spec/message"
	"github.com/bdobrica/Dengon/internal/dengon/archive"
	"github.com/bdobrica/Dengon/internal/dengon/factory"
	"github.com/bdobrica/Dengon/internal/dengon/metrics"
	"github.com/bdobrica/Dengon/internal/dengon/policy"
	"github.com/bdobrica/Dengon/internal/dengon/storage"
)

// Dispatcher receives committed notification events. The notify host
// implements it; its Dispatch must only enqueue, never block on plugin
// I/O.
type Dispatcher interface {
	Dispatch(event message.Event, views []message.View)
}

// Config carries the store's timer cadences and retention windows.
// Zero values fall back to the defaults documented per field.
type Config struct {
	// Now supplies epoch milliseconds; defaults to the wall clock.
	Now func() int64

	// NotifyInterval is the due-scan cadence. Default 10s.
	NotifyInterval time.Duration
	// PruneInterval is the expiry-scan cadence. Default 30s.
	PruneInterval time.Duration
	// CleanupClosedInterval is the closed-message sweep cadence. Default 10s.
	CleanupClosedInterval time.Duration
	// HardDeleteInterval is the physical-removal cadence. Default 4h.
	HardDeleteInterval time.Duration

	// CloseGrace is how long a closed message survives before the sweep
	// soft-deletes it. Default 30s.
	CloseGrace time.Duration
	// HardDeleteAfter is the retention window for quasi-deleted entries.
	// Default 7 days.
	HardDeleteAfter time.Duration
	// StartupGrace delays the first hard-delete pass after Start. Default 60s.
	StartupGrace time.Duration
	// HardDeleteBatch caps physical removals per pass. Default 50.
	HardDeleteBatch int
}

func (c *Config) fillDefaults() {
	if c.Now == nil {
		c.Now = func() int64 { return time.Now().UnixMilli() }
	}
	if c.NotifyInterval <= 0 {
		c.NotifyInterval = 10 * time.Second
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = 30 * time.Second
	}
	if c.CleanupClosedInterval <= 0 {
		c.CleanupClosedInterval = 10 * time.Second
	}
	if c.HardDeleteInterval <= 0 {
		c.HardDeleteInterval = 4 * time.Hour
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = 30 * time.Second
	}
	if c.HardDeleteAfter <= 0 {
		c.HardDeleteAfter = 7 * 24 * time.Hour
	}
	if c.StartupGrace <= 0 {
		c.StartupGrace = 60 * time.Second
	}
	if c.HardDeleteBatch <= 0 {
		c.HardDeleteBatch = 50
	}
}

// Deps are the collaborators the store coordinates.
type Deps struct {
	Log        *slog.Logger
	Storage    *storage.Store
	Archive    *archive.Log
	Policy     *policy.Policy
	Dispatcher Dispatcher
	Metrics    *metrics.Set
}

// Store is the authoritative message store.
type Store struct {
	log        *slog.Logger
	cfg        Config
	now        func() int64
	storage    *storage.Store
	archive    *archive.Log
	policy     *policy.Policy
	dispatcher Dispatcher
	met        *metrics.Set
	core       factory.Capability

	tasks     chan func()
	quit      chan struct{}
	schedDone chan struct{}
	loopDone  chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	// Scheduler-owned state; only touched from the scheduler goroutine.
	list      []message.Message
	index     map[string]int
	lastRun   map[string]int64
	startedAt int64

	followMu sync.Mutex
	followUp *time.Timer
}

// New builds a store. Call Start before using it.
func New(cfg Config, deps Deps) *Store {
	cfg.fillDefaults()
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	met := deps.Metrics
	if met == nil {
		met = metrics.New(nil)
	}
	return &Store{
		log:        log,
		cfg:        cfg,
		now:        cfg.Now,
		storage:    deps.Storage,
		archive:    deps.Archive,
		policy:     deps.Policy,
		dispatcher: deps.Dispatcher,
		met:        met,
		core:       factory.CoreCapability(),
		tasks:      make(chan func()),
		quit:       make(chan struct{}),
		schedDone:  make(chan struct{}),
		loopDone:   make(chan struct{}),
		index:      make(map[string]int),
		lastRun:    make(map[string]int64),
	}
}

// Start loads the persisted list and starts the scheduler and the
// maintenance loop.
func (s *Store) Start() {
	s.startOnce.Do(func() {
		s.list = s.storage.ReadList(nil)
		s.reindex()
		s.startedAt = s.now()
		s.log.Info("store: started", "messages", len(s.list))
		go s.runScheduler()
		go s.runMaintenance()
	})
}

// Stop halts the timers and the scheduler, then flushes persistence and
// archive. In-flight plugin handlers are not cancelled.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		<-s.loopDone
		<-s.schedDone
		s.followMu.Lock()
		if s.followUp != nil {
			s.followUp.Stop()
		}
		s.followMu.Unlock()
		s.storage.FlushPending()
		s.archive.FlushPending()
		s.log.Info("store: stopped")
	})
}

// do posts fn onto the scheduler and waits for it. After Stop it is a
// no-op, so late callers (plugin stragglers, follow-up timers) fail soft.
func (s *Store) do(fn func()) {
	done := make(chan struct{})
	select {
	case <-s.quit:
		return
	case s.tasks <- func() {
		defer close(done)
		fn()
	}:
	}
	<-done
}

func (s *Store) runScheduler() {
	defer close(s.schedDone)
	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-s.quit:
			return
		}
	}
}

// runMaintenance wakes frequently and lets the per-pass epoch-ms
// throttles enforce the configured cadences.
func (s *Store) runMaintenance() {
	defer close(s.loopDone)
	tick := s.cfg.CleanupClosedInterval
	if s.cfg.NotifyInterval < tick {
		tick = s.cfg.NotifyInterval
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.InitiateNotifications(false)
			s.Prune(false)
			s.CleanupClosed(false)
			s.HardDelete(false)
		}
	}
}

// throttle returns true when the named pass may run now, recording the
// run. force bypasses the cadence but still records.
func (s *Store) throttle(name string, interval time.Duration, force bool) bool {
	now := s.now()
	if !force && now-s.lastRun[name] < interval.Milliseconds() {
		return false
	}
	s.lastRun[name] = now
	s.met.MaintenancePasses.WithLabelValues(name).Inc()
	return true
}

func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.list))
	for i := range s.list {
		s.index[s.list[i].Ref] = i
	}
}

// commit enqueues a persistence snapshot of the current list.
func (s *Store) commit() {
	snap := make([]message.Message, len(s.list))
	for i := range s.list {
		snap[i] = s.list[i].Clone()
	}
	s.storage.WriteList(snap)
}
