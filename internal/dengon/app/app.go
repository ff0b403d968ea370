// Package app assembles the hub: platform, persistence, store, plugin
// hosts, rule engine and the optional HTTP surface, wired in dependency
// order and unwound in reverse.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bdobrica/Dengon/common/spec/message"
	spec "github.com/bdobrica/Dengon/common/spec/platform"
	"github.com/bdobrica/Dengon/internal/dengon/action"
	"github.com/bdobrica/Dengon/internal/dengon/archive"
	"github.com/bdobrica/Dengon/internal/dengon/config"
	"github.com/bdobrica/Dengon/internal/dengon/factory"
	"github.com/bdobrica/Dengon/internal/dengon/host"
	"github.com/bdobrica/Dengon/internal/dengon/metrics"
	"github.com/bdobrica/Dengon/internal/dengon/platform"
	"github.com/bdobrica/Dengon/internal/dengon/policy"
	"github.com/bdobrica/Dengon/internal/dengon/rules"
	"github.com/bdobrica/Dengon/internal/dengon/storage"
	"github.com/bdobrica/Dengon/internal/dengon/store"
)

// notifyProxy defers the store→notify edge: the store needs a
// dispatcher at construction, but the notify host needs the store in
// its plugin context. The proxy closes the cycle.
type notifyProxy struct {
	mu     sync.RWMutex
	target store.Dispatcher
}

func (p *notifyProxy) bind(d store.Dispatcher) {
	p.mu.Lock()
	p.target = d
	p.mu.Unlock()
}

func (p *notifyProxy) Dispatch(event message.Event, views []message.View) {
	p.mu.RLock()
	target := p.target
	p.mu.RUnlock()
	if target != nil {
		target.Dispatch(event, views)
	}
}

// App is the assembled hub.
type App struct {
	cfg *config.Config
	log *slog.Logger

	pf       *platform.Memory
	registry *prometheus.Registry
	met      *metrics.Set
	storage  *storage.Store
	archive  *archive.Log
	pol      *policy.Policy
	store    *store.Store
	exec     *action.Executor
	ingest   *host.Ingest
	notify   *host.Notify
	engine   *rules.Engine
	health   *HealthServer

	watchCancel context.CancelFunc
	stopOnce    sync.Once
}

// New wires the hub from cfg. Nothing is started yet; call Run or
// Start.
func New(cfg *config.Config) (*App, error) {
	log := slog.Default()

	registry := prometheus.NewRegistry()
	met := metrics.New(registry)

	pf := platform.New(cfg.Namespace)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		pf.Close()
		return nil, fmt.Errorf("app: data dir: %w", err)
	}
	st := storage.New(filepath.Join(cfg.DataDir, "messages.json"), log, met)
	ar := archive.New(filepath.Join(cfg.DataDir, "archive"), log, met)

	qh, loc, err := cfg.QuietHours.Policy()
	if err != nil {
		pf.Close()
		st.Close()
		ar.Close()
		return nil, fmt.Errorf("app: %w", err)
	}
	pol := policy.New(qh, loc)

	proxy := &notifyProxy{}
	core := store.New(cfg.StoreConfig(), store.Deps{
		Log:        log,
		Storage:    st,
		Archive:    ar,
		Policy:     pol,
		Dispatcher: proxy,
		Metrics:    met,
	})

	maker := factory.NewMaker(nil)
	exec := action.NewExecutor(core, log, nil)

	hostDeps := host.Deps{
		Log:      log,
		Platform: pf,
		Store:    core,
		Factory:  maker,
		Metrics:  met,
	}
	ingest := host.NewIngest(hostDeps)
	notify := host.NewNotify(hostDeps)
	proxy.bind(notify)

	writers := buildWriters(core, cfg)
	engine, err := rules.NewEngine(rules.Deps{
		Log:       log,
		Platform:  pf,
		Writers:   writers,
		TickEvery: time.Duration(cfg.Intervals.RuleTickMs) * time.Millisecond,
	}, cfg.RuleSpecs())
	if err != nil {
		pf.Close()
		st.Close()
		ar.Close()
		return nil, fmt.Errorf("app: %w", err)
	}
	if err := ingest.Register("rules", engine); err != nil {
		pf.Close()
		st.Close()
		ar.Close()
		return nil, fmt.Errorf("app: %w", err)
	}

	// Platform deliveries feed the ingest host; the rules engine and any
	// registered producer plugins see them from there.
	pf.OnStateChange(func(id string, s *spec.State) {
		ingest.DispatchStateChange(id, s, nil)
	})
	pf.OnObjectChange(func(id string, o *spec.Object) {
		ingest.DispatchObjectChange(id, o, nil)
	})

	a := &App{
		cfg:      cfg,
		log:      log,
		pf:       pf,
		registry: registry,
		met:      met,
		storage:  st,
		archive:  ar,
		pol:      pol,
		store:    core,
		exec:     exec,
		ingest:   ingest,
		notify:   notify,
		engine:   engine,
	}
	if cfg.HTTPAddr != "" {
		a.health = NewHealthServer(cfg.HTTPAddr, core)
		a.health.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	return a, nil
}

func buildWriters(core *store.Store, cfg *config.Config) rules.Writers {
	writers := rules.Writers{}
	for name, preset := range cfg.Presets {
		writers[name] = rules.NewWriter(core, preset.Draft())
	}
	if _, ok := writers[rules.DefaultPreset]; !ok {
		if _, ok := writers[rules.FallbackPreset]; !ok {
			writers[rules.FallbackPreset] = rules.NewWriter(core, message.Draft{
				Title: "{{m.state-name}}",
				Level: message.LevelNotice,
				Kind:  message.KindStatus,
			})
		}
	}
	return writers
}

// Ingest exposes the ingest host for embedder plugin registration.
func (a *App) Ingest() *host.Ingest { return a.ingest }

// Notify exposes the notify host for embedder plugin registration.
func (a *App) Notify() *host.Notify { return a.notify }

// Store exposes the message store.
func (a *App) Store() *store.Store { return a.store }

// Platform exposes the in-memory platform.
func (a *App) Platform() *platform.Memory { return a.pf }

// ActionExecutor exposes the executor handed to engage registrations.
func (a *App) ActionExecutor() *action.Executor { return a.exec }

// Start brings the hub up: store, then the notify host so queued events
// have a drain, then the ingest host so producers start last.
func (a *App) Start(ctx context.Context) error {
	a.store.Start()
	a.notify.Start()
	a.ingest.Start()
	if a.health != nil {
		if err := a.health.Start(ctx); err != nil {
			return err
		}
	}
	a.log.Info("app: started", "namespace", a.cfg.Namespace, "dataDir", a.cfg.DataDir)
	return nil
}

// WatchConfig hot-reloads quiet hours from the document at path until
// Stop. Intervals and rules need a restart; only the dispatch policy
// swaps live.
func (a *App) WatchConfig(path string) {
	ctx, cancel := context.WithCancel(context.Background())
	a.watchCancel = cancel
	go func() {
		err := config.Watch(ctx, path, a.log, func(next *config.Config) {
			qh, loc, err := next.QuietHours.Policy()
			if err != nil {
				a.log.Warn("app: reloaded quiet hours invalid", "err", err)
				return
			}
			a.pol.SetQuietHours(qh, loc)
			a.log.Info("app: quiet hours updated")
		})
		if err != nil {
			a.log.Warn("app: config watch failed", "err", err)
		}
	}()
}

// Run starts the hub and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	a.log.Info("app: signal received, shutting down", "signal", s.String())
	return nil
}

// Stop unwinds the hub: producers first so no new messages arrive, the
// notify queue next so pending events drain, then the store with its
// final flush.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		if a.watchCancel != nil {
			a.watchCancel()
		}
		a.ingest.Stop()
		a.notify.Stop()
		a.store.Stop()
		a.storage.Close()
		a.archive.Close()
		a.pf.Close()
		if a.health != nil {
			a.health.Stop()
		}
		a.log.Info("app: stopped")
	})
}
