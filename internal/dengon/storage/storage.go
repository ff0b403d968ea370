// Package storage persists the full message list as a single JSON
// document. Writes flow through a single-writer queue: enqueueing a new
// snapshot while one is in flight supersedes the queued one, so the
// writer never falls behind the store by more than one write. The store
// stays available when the disk does not — failed writes are logged and
// the next snapshot retries.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bdobrica/Dengon/common/retry"
	"github.com/bdobrica/Dengon/common/spec/message"
	"github.com/bdobrica/Dengon/internal/dengon/metrics"
)

// Store writes and reads the snapshot document.
type Store struct {
	path    string
	log     *slog.Logger
	met     *metrics.Set
	retries retry.Config

	mu      sync.Mutex
	cond    *sync.Cond
	pending []message.Message
	hasPend bool
	gen     uint64 // bumped per enqueue
	doneGen uint64 // last generation whose write attempt finished
	closed  bool
	stopped chan struct{}
}

// New creates a snapshot store writing to path and starts its writer.
func New(path string, log *slog.Logger, met *metrics.Set) *Store {
	if log == nil {
		log = slog.Default()
	}
	if met == nil {
		met = metrics.New(nil)
	}
	s := &Store{
		path: path,
		log:  log,
		met:  met,
		retries: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     time.Second,
		},
		stopped: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// ReadList returns the persisted snapshot, or fallback when the file is
// absent or unreadable. A corrupt snapshot is logged and discarded rather
// than blocking startup.
func (s *Store) ReadList(fallback []message.Message) []message.Message {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("storage: snapshot read failed", "path", s.path, "err", err)
		}
		return fallback
	}
	var list []message.Message
	if err := json.Unmarshal(data, &list); err != nil {
		s.log.Warn("storage: snapshot parse failed, using fallback", "path", s.path, "err", err)
		return fallback
	}
	return list
}

// WriteList enqueues a snapshot of list. The slice is used as-is; callers
// hand over ownership (the store passes clones).
func (s *Store) WriteList(list []message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = list
	s.hasPend = true
	s.gen++
	s.cond.Broadcast()
}

// FlushPending blocks until the most recently enqueued snapshot's write
// attempt has finished, successfully or not.
func (s *Store) FlushPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := s.gen
	for s.doneGen < want && !s.closed {
		s.cond.Wait()
	}
}

// Close flushes the last pending snapshot and stops the writer.
func (s *Store) Close() {
	s.FlushPending()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.stopped
}

func (s *Store) run() {
	defer close(s.stopped)
	for {
		s.mu.Lock()
		for !s.hasPend && !s.closed {
			s.cond.Wait()
		}
		if !s.hasPend && s.closed {
			s.mu.Unlock()
			return
		}
		list := s.pending
		gen := s.gen
		s.pending = nil
		s.hasPend = false
		s.mu.Unlock()

		start := time.Now()
		err := retry.Do(context.Background(), s.retries, func() error {
			return s.writeFile(list)
		})
		s.met.StorageWriteSeconds.Observe(time.Since(start).Seconds())
		if err != nil {
			// Availability over durability: the in-memory list stays
			// authoritative and the next snapshot retries.
			s.met.StorageErrors.Inc()
			s.log.Warn("storage: snapshot write failed", "path", s.path, "count", len(list), "err", err)
		} else {
			s.met.StorageWrites.Inc()
			s.log.Debug("storage: snapshot written", "path", s.path, "count", len(list))
		}

		s.mu.Lock()
		if gen > s.doneGen {
			s.doneGen = gen
		}
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// writeFile writes atomically: temp file in the target directory, fsync,
// rename.
func (s *Store) writeFile(list []message.Message) error {
	if list == nil {
		list = []message.Message{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("storage: marshal snapshot: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".dengon-snapshot-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}
