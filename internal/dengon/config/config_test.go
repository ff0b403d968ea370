package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bdobrica/Dengon/common/spec/message"
	"github.com/bdobrica/Dengon/internal/dengon/config"
)

const sample = `
dataDir: /var/lib/dengon
httpAddr: ":8099"
namespace: dengon.1
intervals:
  notifyMs: 5000
  ruleTickMs: 15000
retention:
  closeGraceMs: 60000
  hardDeleteAfterMs: 86400000
quietHours:
  enabled: true
  start: "21:30"
  end: "07:00"
  maxLevel: warning
  spreadMs: 600000
  location: UTC
presets:
  default:
    title: Rule alert
    level: warning
    kind: status
    channels: [telegram]
rules:
  - type: threshold
    options:
      stateId: zigbee.0.temp
      mode: gt
      limit: 28.5
  - type: freshness
    options:
      stateId: hm-rpc.0.hb
      everyMs: 900000
`

func TestParse(t *testing.T) {
	cfg, err := config.Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/var/lib/dengon" || cfg.Namespace != "dengon.1" {
		t.Errorf("basics: %+v", cfg)
	}

	sc := cfg.StoreConfig()
	if sc.NotifyInterval != 5*time.Second {
		t.Errorf("notify interval = %v", sc.NotifyInterval)
	}
	if sc.CloseGrace != time.Minute {
		t.Errorf("close grace = %v", sc.CloseGrace)
	}

	qh, loc, err := cfg.QuietHours.Policy()
	if err != nil {
		t.Fatal(err)
	}
	if !qh.Enabled || qh.StartMin != 21*60+30 || qh.EndMin != 7*60 {
		t.Errorf("quiet hours = %+v", qh)
	}
	if qh.MaxLevel != message.LevelWarning || qh.SpreadMs != 600000 {
		t.Errorf("quiet hours = %+v", qh)
	}
	if loc.String() != "UTC" {
		t.Errorf("location = %v", loc)
	}

	specs := cfg.RuleSpecs()
	if len(specs) != 2 || specs[0].Type != "threshold" || specs[1].Type != "freshness" {
		t.Fatalf("rule specs = %+v", specs)
	}
	if specs[0].Options["stateId"] != "zigbee.0.temp" {
		t.Errorf("options not carried: %v", specs[0].Options)
	}

	d := cfg.Presets["default"].Draft()
	if d.Title != "Rule alert" || d.Level != message.LevelWarning || d.Kind != message.KindStatus {
		t.Errorf("preset draft = %+v", d)
	}
	if d.Audience == nil || d.Audience.Channels.Include[0] != "telegram" {
		t.Errorf("preset channels = %+v", d.Audience)
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte("dataDir: /tmp/x\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Namespace != "dengon.0" {
		t.Errorf("namespace = %q", cfg.Namespace)
	}
	qh, _, err := cfg.QuietHours.Policy()
	if err != nil {
		t.Fatal(err)
	}
	if qh.Enabled {
		t.Error("quiet hours enabled by default")
	}
	if qh.StartMin != 22*60 || qh.EndMin != 6*60 {
		t.Errorf("default window = %d..%d", qh.StartMin, qh.EndMin)
	}
}

func TestPresetDraftDefaultsKind(t *testing.T) {
	p := config.Preset{Title: "T", Level: "notice"}
	d := p.Draft()
	if d.Kind != message.KindStatus {
		t.Errorf("kind = %q, want status for an omitted kind", d.Kind)
	}
	if d := (config.Preset{Kind: "task"}).Draft(); d.Kind != message.KindTask {
		t.Errorf("kind = %q, want task", d.Kind)
	}
}

func TestParseRejectsBadDocuments(t *testing.T) {
	cases := []string{
		"",                                 // missing dataDir
		"dataDir: /x\nbogusKey: 1\n",       // unknown key
		"dataDir: /x\nquietHours:\n  start: \"25:00\"\n", // bad clock
		"dataDir: /x\nquietHours:\n  maxLevel: loud\n",   // bad enum
		"dataDir: /x\nrules:\n  - type: sideways\n    options: {a: 1}\n",
		"dataDir: /x\nintervals:\n  notifyMs: -5\n",
	}
	for i, doc := range cases {
		if _, err := config.Parse([]byte(doc)); err == nil {
			t.Errorf("case %d accepted:\n%s", i, doc)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestWatchReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dengon.yaml")
	if err := os.WriteFile(path, []byte("dataDir: /tmp/a\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan *config.Config, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		config.Watch(ctx, path, nil, func(c *config.Config) { got <- c })
	}()

	// Give the watcher a moment to arm before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("dataDir: /tmp/b\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-got:
		if cfg.DataDir != "/tmp/b" {
			t.Errorf("reloaded dataDir = %q", cfg.DataDir)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload never arrived")
	}

	// A broken rewrite is skipped, not delivered.
	if err := os.WriteFile(path, []byte("bogus: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-got:
		t.Errorf("broken config delivered: %+v", cfg)
	case <-time.After(700 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop on cancel")
	}
}
