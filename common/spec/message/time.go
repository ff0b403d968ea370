package message

// All timestamps in the hub are UTC Unix epoch milliseconds. The
// plausibility window rejects obviously corrupt values (seconds instead
// of milliseconds, negative clocks, far-future garbage).
const (
	// MinTimestamp is 2000-01-01T00:00:00Z in epoch milliseconds.
	MinTimestamp int64 = 946684800000
	// MaxTimestamp is 2100-01-01T00:00:00Z in epoch milliseconds.
	MaxTimestamp int64 = 4102444800000
)

// PlausibleTimestamp reports whether ms falls inside the accepted window.
func PlausibleTimestamp(ms int64) bool {
	return ms >= MinTimestamp && ms <= MaxTimestamp
}
