package factory

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/bdobrica/Dengon/common/spec/message"
)

// refSeq disambiguates auto-generated refs created within the same
// millisecond. Process-local; uniqueness across restarts comes from the
// epoch-ms component of the token.
var refSeq atomic.Uint64

const refHexDigits = "0123456789ABCDEF"

// NormalizeRef makes a producer-supplied ref slug-safe: ASCII letters,
// digits and ._~- pass through, everything else is percent-encoded.
// Dots are preserved because the archive derives its directory tree from
// them.
func NormalizeRef(ref string) string {
	var b strings.Builder
	b.Grow(len(ref))
	for i := 0; i < len(ref); i++ {
		c := ref[i]
		if isRefSafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(refHexDigits[c>>4])
		b.WriteByte(refHexDigits[c&0xf])
	}
	return b.String()
}

func isRefSafe(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '.' || c == '-' || c == '_' || c == '~'
}

// autoRef derives a ref from the draft's identity. With origin.id the
// result is fully deterministic, so re-submissions of the same source
// land on the same ref; without it the title slug plus a monotonic
// sub-millisecond token keeps refs unique.
func autoRef(now int64, d message.Draft) string {
	parts := []string{string(d.Origin.Type), string(d.Kind)}
	if s := slug(d.Origin.System); s != "" {
		parts = append(parts, s)
	}
	if id := slug(d.Origin.ID); id != "" {
		parts = append(parts, id)
	} else {
		if t := slug(d.Title); t != "" {
			parts = append(parts, t)
		}
		parts = append(parts, refToken(now))
	}
	return strings.Join(parts, ".")
}

// refToken is epoch-ms plus an in-process counter, both base36.
func refToken(now int64) string {
	seq := refSeq.Add(1)
	return strconv.FormatInt(now, 36) + "-" + strconv.FormatUint(seq, 36)
}

// slug lowercases and reduces a free-form string to [a-z0-9-], collapsing
// separator runs. Returns "" when nothing survives.
func slug(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	dash := true // suppress leading dashes
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
