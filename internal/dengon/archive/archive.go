// Package archive keeps an append-only per-ref event log so operators
// can reconstruct a message's history after the store has hard-deleted
// it. Records go into weekly JSONL files under a directory tree derived
// from the ref. Appends are buffered in memory and flushed periodically;
// a crash loses at most one flush interval of records.
package archive

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bdobrica/Dengon/common/spec/message"
	"github.com/bdobrica/Dengon/internal/dengon/metrics"
)

// RecordKind classifies an archive record.
type RecordKind string

const (
	RecordCreate RecordKind = "create"
	RecordPatch  RecordKind = "patch"
	RecordDelete RecordKind = "delete"
)

// DeleteEvent qualifies why a delete record was written.
type DeleteEvent string

const (
	// DeletePurge marks removal by the hard-delete pass.
	DeletePurge DeleteEvent = "purge"
	// DeletePurgeOnRecreate marks removal of a quasi-deleted entry that
	// made room for a re-added message.
	DeletePurgeOnRecreate DeleteEvent = "purgeOnRecreate"
)

// Record is one JSONL line.
type Record struct {
	Kind RecordKind      `json:"kind"`
	TS   int64           `json:"ts"`
	Ref  string          `json:"ref"`
	Data json.RawMessage `json:"data"`
}

// PatchData is the payload of a patch record: the raw patch plus the
// message before and after it was applied.
type PatchData struct {
	Patch  message.Patch   `json:"patch"`
	Before message.Message `json:"before"`
	After  message.Message `json:"after"`
}

// DeleteData is the payload of a delete record.
type DeleteData struct {
	Message message.Message `json:"message"`
	Event   DeleteEvent     `json:"event"`
}

const (
	defaultFlushInterval = 5 * time.Second
	handleCacheSize      = 32
	handleCacheTTL       = time.Minute
)

// Log is the buffered archive writer.
type Log struct {
	dir string
	log *slog.Logger
	met *metrics.Set

	mu      sync.Mutex
	buf     map[string][][]byte // relative file path → pending lines
	handles *expirable.LRU[string, *os.File]

	stop    chan struct{}
	stopped chan struct{}
}

// New creates an archive log rooted at dir and starts its flush loop.
func New(dir string, log *slog.Logger, met *metrics.Set) *Log {
	return NewWithInterval(dir, log, met, defaultFlushInterval)
}

// NewWithInterval is New with a custom flush cadence, for tests.
func NewWithInterval(dir string, log *slog.Logger, met *metrics.Set, interval time.Duration) *Log {
	if log == nil {
		log = slog.Default()
	}
	if met == nil {
		met = metrics.New(nil)
	}
	l := &Log{
		dir:     dir,
		log:     log,
		met:     met,
		buf:     make(map[string][][]byte),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	l.handles = expirable.NewLRU[string, *os.File](handleCacheSize, func(_ string, f *os.File) {
		f.Close()
	}, handleCacheTTL)
	go l.run(interval)
	return l
}

// AppendCreate records a full snapshot of a freshly added message.
func (l *Log) AppendCreate(ts int64, m message.Message) {
	l.append(RecordCreate, ts, m.Ref, m)
}

// AppendPatch records an applied patch with its pre and post snapshots.
func (l *Log) AppendPatch(ts int64, ref string, p message.Patch, before, after message.Message) {
	l.append(RecordPatch, ts, ref, PatchData{Patch: p, Before: before, After: after})
}

// AppendDelete records the physical removal of a message.
func (l *Log) AppendDelete(ts int64, m message.Message, event DeleteEvent) {
	l.append(RecordDelete, ts, m.Ref, DeleteData{Message: m, Event: event})
}

func (l *Log) append(kind RecordKind, ts int64, ref string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		l.log.Warn("archive: record marshal failed", "kind", kind, "ref", ref, "err", err)
		return
	}
	line, err := json.Marshal(Record{Kind: kind, TS: ts, Ref: ref, Data: raw})
	if err != nil {
		l.log.Warn("archive: record marshal failed", "kind", kind, "ref", ref, "err", err)
		return
	}
	line = append(line, '\n')

	rel := filepath.Join(RefPath(ref), WeekKey(ts)+".jsonl")
	l.mu.Lock()
	l.buf[rel] = append(l.buf[rel], line)
	l.mu.Unlock()
	l.met.ArchiveAppends.Inc()
}

// FlushPending synchronously writes every buffered record.
func (l *Log) FlushPending() {
	l.flush()
}

// Close flushes and stops the log.
func (l *Log) Close() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
	<-l.stopped
	l.flush()
	l.handles.Purge()
}

func (l *Log) run(interval time.Duration) {
	defer close(l.stopped)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.flush()
		}
	}
}

func (l *Log) flush() {
	l.mu.Lock()
	if len(l.buf) == 0 {
		l.mu.Unlock()
		return
	}
	pending := l.buf
	l.buf = make(map[string][][]byte)
	l.mu.Unlock()

	for rel, lines := range pending {
		if err := l.writeLines(rel, lines); err != nil {
			l.met.ArchiveFlushErrors.Inc()
			l.log.Warn("archive: flush failed", "file", rel, "lines", len(lines), "err", err)
		}
	}
}

func (l *Log) writeLines(rel string, lines [][]byte) error {
	f, err := l.handle(rel)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := f.Write(line); err != nil {
			// Drop the handle so the next flush reopens it.
			l.handles.Remove(rel)
			return fmt.Errorf("archive: write %s: %w", rel, err)
		}
	}
	return nil
}

func (l *Log) handle(rel string) (*os.File, error) {
	if f, ok := l.handles.Get(rel); ok {
		return f, nil
	}
	path := filepath.Join(l.dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("archive: mkdir for %s: %w", rel, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", rel, err)
	}
	l.handles.Add(rel, f)
	return f, nil
}

// RefPath converts a ref into the archive directory path: dots become
// path separators, except a leading `.<digits>` plugin-instance segment
// which stays joined to the first segment ("telegram.0.task.x" →
// "telegram.0/task/x").
func RefPath(ref string) string {
	parts := strings.Split(ref, ".")
	if len(parts) >= 2 && isDigits(parts[1]) {
		parts = append([]string{parts[0] + "." + parts[1]}, parts[2:]...)
	}
	for i, p := range parts {
		if p == "" {
			parts[i] = "_"
		}
	}
	return filepath.Join(parts...)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// WeekKey formats an epoch-ms timestamp as its ISO week, e.g. "2026-W35".
func WeekKey(ts int64) string {
	year, week := time.UnixMilli(ts).UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
