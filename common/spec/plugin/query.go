package plugin

import "github.com/bdobrica/Dengon/common/spec/message"

// Query selects, orders and pages store messages. Deleted and expired
// entries are hidden unless Where.States asks for them explicitly.
type Query struct {
	Where *Where
	Sort  *Sort
	Page  *Page
}

// Where combines filters; all set filters must match.
type Where struct {
	States  *EnumFilter[message.State]
	Kinds   *EnumFilter[message.Kind]
	Origins *EnumFilter[message.OriginType]
	Level   *LevelRange
	// Timing keys are the whitelisted timing field names (createdAt,
	// updatedAt, expiresAt, notifyAt, dueAt, startAt, endAt).
	Timing map[TimingField]*TimeRange
	// Tags matches audience.tags.
	Tags *ListMatch
	// RouteTo keeps only messages whose audience channels accept the
	// given notify scope. Exclude wins over include; a message without
	// channel scopes accepts everything; "*" or "all" in include accepts
	// any scope.
	RouteTo string
}

// EnumFilter accepts values in Include (all values when empty) minus
// values in Exclude.
type EnumFilter[T ~string] struct {
	Include []T
	Exclude []T
}

// Match applies the filter to one value.
func (f *EnumFilter[T]) Match(v T) bool {
	if f == nil {
		return true
	}
	for _, x := range f.Exclude {
		if x == v {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, x := range f.Include {
		if x == v {
			return true
		}
	}
	return false
}

// LevelRange is an inclusive severity range; nil bounds are open.
type LevelRange struct {
	Min *message.Level
	Max *message.Level
}

// Match applies the range to one level.
func (r *LevelRange) Match(l message.Level) bool {
	if r == nil {
		return true
	}
	if r.Min != nil && l < *r.Min {
		return false
	}
	if r.Max != nil && l > *r.Max {
		return false
	}
	return true
}

// TimingField names a filterable or sortable timing field.
type TimingField string

const (
	TimingCreatedAt TimingField = "createdAt"
	TimingUpdatedAt TimingField = "updatedAt"
	TimingExpiresAt TimingField = "expiresAt"
	TimingNotifyAt  TimingField = "notifyAt"
	TimingDueAt     TimingField = "dueAt"
	TimingStartAt   TimingField = "startAt"
	TimingEndAt     TimingField = "endAt"
)

// TimeRange is an inclusive epoch-ms range; zero bounds are open.
// OrMissing additionally accepts messages where the field is unset.
type TimeRange struct {
	From      int64
	To        int64
	OrMissing bool
}

// Match applies the range to one timestamp (0 = unset).
func (r *TimeRange) Match(ts int64) bool {
	if r == nil {
		return true
	}
	if ts == 0 {
		return r.OrMissing
	}
	if r.From != 0 && ts < r.From {
		return false
	}
	if r.To != 0 && ts > r.To {
		return false
	}
	return true
}

// ListMatch matches string lists: Any requires at least one overlap, All
// requires every entry to be present. OrMissing additionally accepts
// messages with no list at all.
type ListMatch struct {
	Any       []string
	All       []string
	OrMissing bool
}

// Match applies the matcher to one list.
func (m *ListMatch) Match(list []string) bool {
	if m == nil {
		return true
	}
	if len(list) == 0 {
		return m.OrMissing
	}
	have := make(map[string]bool, len(list))
	for _, v := range list {
		have[v] = true
	}
	for _, v := range m.All {
		if !have[v] {
			return false
		}
	}
	if len(m.Any) > 0 {
		for _, v := range m.Any {
			if have[v] {
				return true
			}
		}
		return false
	}
	return true
}

// SortField names a whitelisted sort key.
type SortField string

const (
	SortRef       SortField = "ref"
	SortTitle     SortField = "title"
	SortLevel     SortField = "level"
	SortKind      SortField = "kind"
	SortState     SortField = "state"
	SortCreatedAt SortField = "createdAt"
	SortUpdatedAt SortField = "updatedAt"
	SortExpiresAt SortField = "expiresAt"
	SortNotifyAt  SortField = "notifyAt"
	SortDueAt     SortField = "dueAt"
)

// Valid reports whether f is a whitelisted sort field.
func (f SortField) Valid() bool {
	switch f {
	case SortRef, SortTitle, SortLevel, SortKind, SortState,
		SortCreatedAt, SortUpdatedAt, SortExpiresAt, SortNotifyAt, SortDueAt:
		return true
	}
	return false
}

// Sort orders results by one whitelisted field; ties break by ref
// ascending so ordering is deterministic.
type Sort struct {
	Field SortField
	Desc  bool
}

// Page selects a 1-based page of fixed size.
type Page struct {
	Num  int
	Size int
}

// QueryResult carries one page plus the overall counts.
type QueryResult struct {
	Total int
	Pages int
	Items []message.View
}
