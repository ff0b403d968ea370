// Package platform provides a complete in-memory Platform: state and
// object maps, wildcard subscriptions with a single delivery goroutine,
// real timers, printf-style translation and a sendTo recorder. The main
// binary runs on it until a host adapter embeds the hub, and the tests
// run on it always.
package platform

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/bdobrica/Dengon/common/spec/platform"
)

// SentMessage is one recorded SendTo call.
type SentMessage struct {
	Instance string
	Command  string
	Payload  any
}

// Memory implements platform.Platform entirely in process.
type Memory struct {
	ns  string
	now func() int64

	mu             sync.Mutex
	cond           *sync.Cond
	states         map[string]platform.State
	objects        map[string]platform.Object
	stateSubs      map[string]int
	objectSubs     map[string]int
	stateHandlers  []platform.StateHandler
	objectHandlers []platform.ObjectHandler
	queue          []delivery
	active         bool
	closed         bool
	done           chan struct{}
	sent           []SentMessage
	translations   map[string]string

	timerMu sync.Mutex
	nextID  platform.TimerID
	timers  map[platform.TimerID]func()
}

type delivery struct {
	id    string
	state *platform.State
	obj   *platform.Object
	isObj bool
}

// New builds a running in-memory platform with the given namespace.
func New(ns string) *Memory {
	m := &Memory{
		ns:           ns,
		now:          func() int64 { return time.Now().UnixMilli() },
		states:       make(map[string]platform.State),
		objects:      make(map[string]platform.Object),
		stateSubs:    make(map[string]int),
		objectSubs:   make(map[string]int),
		translations: make(map[string]string),
		timers:       make(map[platform.TimerID]func()),
		done:         make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	go m.deliverLoop()
	return m
}

// SetClock swaps the millisecond clock used for state timestamps.
func (m *Memory) SetClock(now func() int64) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Close stops the delivery goroutine after draining the queue and stops
// every live timer.
func (m *Memory) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
	<-m.done

	m.timerMu.Lock()
	for id, cancel := range m.timers {
		cancel()
		delete(m.timers, id)
	}
	m.timerMu.Unlock()
}

func (m *Memory) Namespace() string { return m.ns }

// --- States ---

func (m *Memory) GetForeignState(ctx context.Context, id string) (*platform.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *Memory) SetForeignState(ctx context.Context, id string, st platform.State) error {
	m.mu.Lock()
	now := m.now()
	if st.TS == 0 {
		st.TS = now
	}
	prev, existed := m.states[id]
	if st.LC == 0 {
		if existed && reflect.DeepEqual(prev.Val, st.Val) {
			st.LC = prev.LC
		} else {
			st.LC = st.TS
		}
	}
	m.states[id] = st
	deliver := m.stateSubscribedLocked(id)
	if deliver {
		copied := st
		m.queue = append(m.queue, delivery{id: id, state: &copied})
		m.cond.Broadcast()
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) SetState(ctx context.Context, id string, st platform.State) error {
	return m.SetForeignState(ctx, m.ns+"."+id, st)
}

// --- Objects ---

func (m *Memory) GetForeignObject(ctx context.Context, id string) (*platform.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[id]
	if !ok {
		return nil, nil
	}
	return &obj, nil
}

func (m *Memory) SetObjectNotExists(ctx context.Context, id string, obj platform.Object) error {
	m.mu.Lock()
	if _, exists := m.objects[id]; exists {
		m.mu.Unlock()
		return nil
	}
	obj.ID = id
	m.objects[id] = obj
	if m.objectSubscribedLocked(id) {
		copied := obj
		m.queue = append(m.queue, delivery{id: id, obj: &copied, isObj: true})
		m.cond.Broadcast()
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetObjectView(ctx context.Context, design, view string, params platform.ViewParams) ([]platform.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []platform.Object
	for id, obj := range m.objects {
		if params.StartKey != "" && id < params.StartKey {
			continue
		}
		if params.EndKey != "" && id > params.EndKey {
			continue
		}
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Subscriptions ---

func (m *Memory) SubscribeForeignStates(ctx context.Context, pattern string) error {
	m.mu.Lock()
	m.stateSubs[pattern]++
	m.mu.Unlock()
	return nil
}

func (m *Memory) UnsubscribeForeignStates(ctx context.Context, pattern string) error {
	m.mu.Lock()
	if m.stateSubs[pattern] > 0 {
		m.stateSubs[pattern]--
		if m.stateSubs[pattern] == 0 {
			delete(m.stateSubs, pattern)
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) SubscribeForeignObjects(ctx context.Context, pattern string) error {
	m.mu.Lock()
	m.objectSubs[pattern]++
	m.mu.Unlock()
	return nil
}

func (m *Memory) UnsubscribeForeignObjects(ctx context.Context, pattern string) error {
	m.mu.Lock()
	if m.objectSubs[pattern] > 0 {
		m.objectSubs[pattern]--
		if m.objectSubs[pattern] == 0 {
			delete(m.objectSubs, pattern)
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) OnStateChange(h platform.StateHandler) {
	m.mu.Lock()
	m.stateHandlers = append(m.stateHandlers, h)
	m.mu.Unlock()
}

func (m *Memory) OnObjectChange(h platform.ObjectHandler) {
	m.mu.Lock()
	m.objectHandlers = append(m.objectHandlers, h)
	m.mu.Unlock()
}

func (m *Memory) stateSubscribedLocked(id string) bool {
	for pattern := range m.stateSubs {
		if platform.MatchPattern(pattern, id) {
			return true
		}
	}
	return false
}

func (m *Memory) objectSubscribedLocked(id string) bool {
	for pattern := range m.objectSubs {
		if platform.MatchPattern(pattern, id) {
			return true
		}
	}
	return false
}

// Flush blocks until every queued change has been delivered.
func (m *Memory) Flush() {
	m.mu.Lock()
	for len(m.queue) > 0 || m.active {
		m.cond.Wait()
	}
	m.mu.Unlock()
}

func (m *Memory) deliverLoop() {
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if len(m.queue) == 0 {
			m.mu.Unlock()
			close(m.done)
			return
		}
		d := m.queue[0]
		m.queue = m.queue[1:]
		m.active = true
		stateHandlers := append([]platform.StateHandler(nil), m.stateHandlers...)
		objectHandlers := append([]platform.ObjectHandler(nil), m.objectHandlers...)
		m.mu.Unlock()

		if d.isObj {
			for _, h := range objectHandlers {
				h(d.id, d.obj)
			}
		} else {
			for _, h := range stateHandlers {
				h(d.id, d.state)
			}
		}

		m.mu.Lock()
		m.active = false
		m.cond.Broadcast()
		m.mu.Unlock()
	}
}

// --- Mailbox ---

func (m *Memory) SendTo(ctx context.Context, instance, command string, payload any) error {
	m.mu.Lock()
	m.sent = append(m.sent, SentMessage{Instance: instance, Command: command, Payload: payload})
	m.mu.Unlock()
	return nil
}

// Sent returns a copy of the recorded SendTo calls.
func (m *Memory) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// --- Timers ---

func (m *Memory) SetTimeout(d time.Duration, fn func()) platform.TimerID {
	m.timerMu.Lock()
	m.nextID++
	id := m.nextID
	t := time.AfterFunc(d, func() {
		m.timerMu.Lock()
		delete(m.timers, id)
		m.timerMu.Unlock()
		fn()
	})
	m.timers[id] = func() { t.Stop() }
	m.timerMu.Unlock()
	return id
}

func (m *Memory) ClearTimeout(id platform.TimerID) { m.clearTimer(id) }

func (m *Memory) SetInterval(d time.Duration, fn func()) platform.TimerID {
	m.timerMu.Lock()
	m.nextID++
	id := m.nextID
	ticker := time.NewTicker(d)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-stop:
				ticker.Stop()
				return
			}
		}
	}()
	var once sync.Once
	m.timers[id] = func() { once.Do(func() { close(stop) }) }
	m.timerMu.Unlock()
	return id
}

func (m *Memory) ClearInterval(id platform.TimerID) { m.clearTimer(id) }

func (m *Memory) clearTimer(id platform.TimerID) {
	m.timerMu.Lock()
	if cancel, ok := m.timers[id]; ok {
		cancel()
		delete(m.timers, id)
	}
	m.timerMu.Unlock()
}

// --- I18n ---

// SetTranslation installs a translation template for T.
func (m *Memory) SetTranslation(key, template string) {
	m.mu.Lock()
	m.translations[key] = template
	m.mu.Unlock()
}

type i18n struct{ m *Memory }

// I18n returns the printf-style translator: the key itself is the
// template unless a translation was installed.
func (m *Memory) I18n() platform.I18n { return i18n{m} }

func (t i18n) T(key string, args ...any) string {
	t.m.mu.Lock()
	template, ok := t.m.translations[key]
	t.m.mu.Unlock()
	if !ok {
		template = key
	}
	if len(args) == 0 {
		return template
	}
	return fmt.Sprintf(template, args...)
}
