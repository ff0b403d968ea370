package message

import (
	"fmt"
	"math"
)

// Metric is a named sample attached to a message. Val holds a finite
// number (normalised to float64), a string, a bool or nil. Key order in
// the Metrics map is irrelevant; consumers must not depend on it.
type Metric struct {
	Val  any    `json:"val"`
	Unit string `json:"unit,omitempty"`
	TS   int64  `json:"ts,omitempty"`
}

// Normalize converts numeric Val representations to float64 and validates
// the metric. It rejects non-finite numbers, unsupported value types and
// implausible timestamps.
func (m Metric) Normalize() (Metric, error) {
	switch v := m.Val.(type) {
	case nil, string, bool:
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return m, fmt.Errorf("metric value must be finite, got %v", v)
		}
	case float32:
		m.Val = float64(v)
	case int:
		m.Val = float64(v)
	case int8:
		m.Val = float64(v)
	case int16:
		m.Val = float64(v)
	case int32:
		m.Val = float64(v)
	case int64:
		m.Val = float64(v)
	case uint:
		m.Val = float64(v)
	case uint8:
		m.Val = float64(v)
	case uint16:
		m.Val = float64(v)
	case uint32:
		m.Val = float64(v)
	case uint64:
		m.Val = float64(v)
	default:
		return m, fmt.Errorf("metric value must be number, string, bool or null, got %T", m.Val)
	}
	if m.TS != 0 && !PlausibleTimestamp(m.TS) {
		return m, fmt.Errorf("metric ts %d outside plausible window", m.TS)
	}
	return m, nil
}

// Equal compares two normalised metrics by value.
func (m Metric) Equal(o Metric) bool {
	return m.Val == o.Val && m.Unit == o.Unit && m.TS == o.TS
}

// MetricsEqual compares two normalised metric maps by value.
func MetricsEqual(a, b map[string]Metric) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !av.Equal(bv) {
			return false
		}
	}
	return true
}
