package store

import (
	"sort"
	"strings"

	"github.com/bdobrica/Dengon/common/spec/message"
	"github.com/bdobrica/Dengon/common/spec/plugin"
	"github.com/bdobrica/Dengon/internal/dengon/action"
	"github.com/bdobrica/Dengon/internal/dengon/render"
)

// view renders one message and applies the view policy split.
func (s *Store) view(m message.Message) message.View {
	v := render.Render(m)
	v.Actions, v.ActionsInactive = action.SplitActions(m.Lifecycle.State, v.Actions)
	return v
}

// MessageByRef returns the rendered view of one message, or false when
// the ref is unknown or its state is rejected by the filter.
func (s *Store) MessageByRef(ref string, filter plugin.RefFilter) (message.View, bool) {
	var v message.View
	var ok bool
	s.do(func() {
		idx, exists := s.index[ref]
		if !exists {
			return
		}
		m := s.list[idx]
		if !filter.Accepts(m.Lifecycle.State) {
			return
		}
		v = s.view(m)
		ok = true
	})
	return v, ok
}

// Messages returns rendered views of every message except the hidden
// deleted and expired entries.
func (s *Store) Messages() []message.View {
	var out []message.View
	s.do(func() {
		for i := range s.list {
			if s.list[i].Lifecycle.State.CoreOnly() {
				continue
			}
			out = append(out, s.view(s.list[i]))
		}
	})
	return out
}

// Query filters, sorts and pages the list. Deleted and expired entries
// stay hidden unless the state filter names states explicitly.
func (s *Store) Query(q plugin.Query) plugin.QueryResult {
	var res plugin.QueryResult
	s.do(func() { res = s.queryLocked(q) })
	return res
}

func (s *Store) queryLocked(q plugin.Query) plugin.QueryResult {
	explicitStates := q.Where != nil && q.Where.States != nil && len(q.Where.States.Include) > 0

	var matched []message.Message
	for i := range s.list {
		m := s.list[i]
		if !explicitStates && m.Lifecycle.State.CoreOnly() {
			continue
		}
		if q.Where != nil && !matchWhere(m, q.Where) {
			continue
		}
		matched = append(matched, m)
	}

	sortMessages(matched, q.Sort)

	total := len(matched)
	pages := 1
	start, end := 0, total
	if q.Page != nil && q.Page.Size > 0 {
		size := q.Page.Size
		pages = (total + size - 1) / size
		if pages == 0 {
			pages = 1
		}
		num := q.Page.Num
		if num < 1 {
			num = 1
		}
		start = (num - 1) * size
		if start > total {
			start = total
		}
		end = start + size
		if end > total {
			end = total
		}
	}

	items := make([]message.View, 0, end-start)
	for _, m := range matched[start:end] {
		items = append(items, s.view(m))
	}
	return plugin.QueryResult{Total: total, Pages: pages, Items: items}
}

func matchWhere(m message.Message, w *plugin.Where) bool {
	if !w.States.Match(m.Lifecycle.State) {
		return false
	}
	if !w.Kinds.Match(m.Kind) {
		return false
	}
	if !w.Origins.Match(m.Origin.Type) {
		return false
	}
	if !w.Level.Match(m.Level) {
		return false
	}
	for field, r := range w.Timing {
		if !r.Match(queryTimingValue(m.Timing, field)) {
			return false
		}
	}
	if w.Tags != nil {
		var tags []string
		if m.Audience != nil {
			tags = m.Audience.Tags
		}
		if !w.Tags.Match(tags) {
			return false
		}
	}
	if w.RouteTo != "" && !routeAccepts(m.Audience, w.RouteTo) {
		return false
	}
	return true
}

func queryTimingValue(t message.Timing, field plugin.TimingField) int64 {
	switch field {
	case plugin.TimingCreatedAt:
		return t.CreatedAt
	case plugin.TimingUpdatedAt:
		return t.UpdatedAt
	case plugin.TimingExpiresAt:
		return t.ExpiresAt
	case plugin.TimingNotifyAt:
		return t.NotifyAt
	case plugin.TimingDueAt:
		return t.DueAt
	case plugin.TimingStartAt:
		return t.StartAt
	case plugin.TimingEndAt:
		return t.EndAt
	}
	return 0
}

// routeAccepts applies the audience channel predicate: exclude wins over
// include, a message without channel scopes accepts every scope, and "*"
// or "all" in include accepts any scope.
func routeAccepts(a *message.Audience, scope string) bool {
	if a == nil || a.Channels == nil {
		return true
	}
	for _, x := range a.Channels.Exclude {
		if x == scope {
			return false
		}
	}
	if len(a.Channels.Include) == 0 {
		return true
	}
	for _, inc := range a.Channels.Include {
		if inc == scope || inc == "*" || inc == "all" {
			return true
		}
	}
	return false
}

func sortMessages(list []message.Message, s *plugin.Sort) {
	field := plugin.SortRef
	desc := false
	if s != nil && s.Field.Valid() {
		field = s.Field
		desc = s.Desc
	}
	sort.SliceStable(list, func(i, j int) bool {
		c := compareBy(field, list[i], list[j])
		if c == 0 {
			// Deterministic tiebreak.
			c = strings.Compare(list[i].Ref, list[j].Ref)
		} else if desc {
			return c > 0
		}
		return c < 0
	})
}

func compareBy(field plugin.SortField, a, b message.Message) int {
	switch field {
	case plugin.SortRef:
		return strings.Compare(a.Ref, b.Ref)
	case plugin.SortTitle:
		return strings.Compare(a.Title, b.Title)
	case plugin.SortLevel:
		return compareInt64(int64(a.Level), int64(b.Level))
	case plugin.SortKind:
		return strings.Compare(string(a.Kind), string(b.Kind))
	case plugin.SortState:
		return strings.Compare(string(a.Lifecycle.State), string(b.Lifecycle.State))
	case plugin.SortCreatedAt:
		return compareInt64(a.Timing.CreatedAt, b.Timing.CreatedAt)
	case plugin.SortUpdatedAt:
		return compareInt64(a.Timing.UpdatedAt, b.Timing.UpdatedAt)
	case plugin.SortExpiresAt:
		return compareInt64(a.Timing.ExpiresAt, b.Timing.ExpiresAt)
	case plugin.SortNotifyAt:
		return compareInt64(a.Timing.NotifyAt, b.Timing.NotifyAt)
	case plugin.SortDueAt:
		return compareInt64(a.Timing.DueAt, b.Timing.DueAt)
	}
	return 0
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
