package platform_test

import (
	"testing"

	"github.com/bdobrica/Dengon/common/spec/platform"
)

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern string
		id      string
		want    bool
	}{
		{"*", "hm-rpc.0.door", true},
		{"hm-rpc.0.*", "hm-rpc.0.door", true},
		{"hm-rpc.0.*", "hm-rpc.1.door", false},
		{"hm-rpc.*.door", "hm-rpc.0.door", true},
		{"hm-rpc.0.door", "hm-rpc.0.door", true},
		{"hm-rpc.0.door", "hm-rpc.0.window", false},
		{"*.door", "hm-rpc.0.door", true},
		{"", "", true},
		{"", "x", false},
	}
	for _, c := range cases {
		if got := platform.MatchPattern(c.pattern, c.id); got != c.want {
			t.Errorf("MatchPattern(%q, %q) = %v, want %v", c.pattern, c.id, got, c.want)
		}
	}
}
