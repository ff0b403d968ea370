// Package render produces the view copies handed to notify plugins. The
// renderer is a pure function over one message: it deep-copies, expands
// the small placeholder language in title and text from the message's own
// metrics and timing, and never performs I/O.
//
// Placeholders:
//
//	{{m.<key>}}             metric value plus unit ("21.5 °C")
//	{{t.<field>}}           raw timing value (epoch ms or duration ms)
//	{{t.<field>|datetime}}  "2023-11-14 22:13" (UTC)
//	{{t.<field>|date}}      "2023-11-14"
//	{{t.<field>|time}}      "22:13"
//	{{t.<field>|duration}}  "2h30m"
//
// Unresolvable placeholders render as the empty string.
package render

import (
	"strconv"
	"strings"
	"time"

	"github.com/bdobrica/Dengon/common/spec/message"
)

// Render returns the rendered view of m. The input is not mutated;
// the view's action split is filled in by the caller (the store applies
// the view policy, which knows the lifecycle rules).
func Render(m message.Message) message.View {
	v := message.View{Message: m.Clone()}
	v.Title = Expand(v.Title, m)
	v.Text = Expand(v.Text, m)
	return v
}

// Expand substitutes every placeholder in s from m.
func Expand(s string, m message.Message) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for {
		start := strings.Index(s, "{{")
		if start < 0 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start:], "}}")
		if end < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:start])
		b.WriteString(resolve(s[start+2:start+end], m))
		s = s[start+end+2:]
	}
	return b.String()
}

func resolve(expr string, m message.Message) string {
	expr = strings.TrimSpace(expr)
	key := expr
	filter := ""
	if i := strings.IndexByte(expr, '|'); i >= 0 {
		key = strings.TrimSpace(expr[:i])
		filter = strings.TrimSpace(expr[i+1:])
	}
	switch {
	case strings.HasPrefix(key, "m."):
		return metricValue(m, key[2:])
	case strings.HasPrefix(key, "t."):
		return timingValue(m, key[2:], filter)
	}
	return ""
}

func metricValue(m message.Message, key string) string {
	metric, ok := m.Metrics[key]
	if !ok {
		return ""
	}
	var val string
	switch v := metric.Val.(type) {
	case nil:
		return ""
	case string:
		val = v
	case bool:
		val = strconv.FormatBool(v)
	case float64:
		val = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
	if metric.Unit != "" {
		return val + " " + metric.Unit
	}
	return val
}

func timingValue(m message.Message, field, filter string) string {
	ms, ok := timingField(m.Timing, field)
	if !ok || ms == 0 {
		return ""
	}
	switch filter {
	case "":
		return strconv.FormatInt(ms, 10)
	case "datetime":
		return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04")
	case "date":
		return time.UnixMilli(ms).UTC().Format("2006-01-02")
	case "time":
		return time.UnixMilli(ms).UTC().Format("15:04")
	case "duration":
		return formatDuration(ms)
	}
	return ""
}

func timingField(t message.Timing, field string) (int64, bool) {
	switch field {
	case "createdAt":
		return t.CreatedAt, true
	case "updatedAt":
		return t.UpdatedAt, true
	case "expiresAt":
		return t.ExpiresAt, true
	case "notifyAt":
		return t.NotifyAt, true
	case "remindEvery":
		return t.RemindEvery, true
	case "timeBudget":
		return t.TimeBudget, true
	case "cooldown":
		return t.Cooldown, true
	case "dueAt":
		return t.DueAt, true
	case "startAt":
		return t.StartAt, true
	case "endAt":
		return t.EndAt, true
	}
	return 0, false
}

// formatDuration renders a millisecond duration the way humans read
// reminders: "90s" stays seconds, "2h30m" drops zero components.
func formatDuration(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Minute {
		return strconv.FormatInt(int64(d.Seconds()), 10) + "s"
	}
	d = d.Round(time.Minute)
	h := int64(d.Hours())
	min := int64(d.Minutes()) % 60
	switch {
	case h == 0:
		return strconv.FormatInt(min, 10) + "m"
	case min == 0:
		return strconv.FormatInt(h, 10) + "h"
	}
	return strconv.FormatInt(h, 10) + "h" + strconv.FormatInt(min, 10) + "m"
}
