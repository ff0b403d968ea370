// Package config loads the hub's YAML configuration and watches it for
// changes. Parsing is strict: unknown keys fail, struct constraints run
// through the validator, and rule option bags are checked again by the
// rules engine at construction.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Dengon/common/spec/message"
	"github.com/bdobrica/Dengon/internal/dengon/policy"
	"github.com/bdobrica/Dengon/internal/dengon/rules"
	"github.com/bdobrica/Dengon/internal/dengon/store"
)

// Config is the full hub configuration document.
type Config struct {
	// DataDir holds the message snapshot and the archive tree.
	DataDir string `yaml:"dataDir" validate:"required"`
	// HTTPAddr enables the health/metrics server when non-empty.
	HTTPAddr string `yaml:"httpAddr"`
	// Namespace is the hub's platform id prefix. Default "dengon.0".
	Namespace string `yaml:"namespace"`

	Intervals  Intervals         `yaml:"intervals"`
	Retention  Retention         `yaml:"retention"`
	QuietHours QuietHours        `yaml:"quietHours"`
	Presets    map[string]Preset `yaml:"presets" validate:"dive"`
	Rules      []RuleConfig      `yaml:"rules" validate:"dive"`
}

// Intervals are the maintenance cadences, all in milliseconds. Zero
// keeps the store default.
type Intervals struct {
	NotifyMs        int64 `yaml:"notifyMs" validate:"min=0"`
	PruneMs         int64 `yaml:"pruneMs" validate:"min=0"`
	CleanupClosedMs int64 `yaml:"cleanupClosedMs" validate:"min=0"`
	HardDeleteMs    int64 `yaml:"hardDeleteMs" validate:"min=0"`
	RuleTickMs      int64 `yaml:"ruleTickMs" validate:"min=0"`
}

// Retention bounds how long closed and deleted messages linger.
type Retention struct {
	CloseGraceMs      int64 `yaml:"closeGraceMs" validate:"min=0"`
	HardDeleteAfterMs int64 `yaml:"hardDeleteAfterMs" validate:"min=0"`
	StartupGraceMs    int64 `yaml:"startupGraceMs" validate:"min=0"`
	HardDeleteBatch   int   `yaml:"hardDeleteBatch" validate:"min=0"`
}

// QuietHours suppresses repeat reminders inside a local-time window.
// Start and End are "HH:MM"; the window may wrap midnight.
type QuietHours struct {
	Enabled  bool   `yaml:"enabled"`
	Start    string `yaml:"start" validate:"omitempty,len=5"`
	End      string `yaml:"end" validate:"omitempty,len=5"`
	MaxLevel string `yaml:"maxLevel" validate:"omitempty,oneof=none notice warning error"`
	SpreadMs int64  `yaml:"spreadMs" validate:"min=0"`
	Location string `yaml:"location"`
}

// Preset is a draft template for the rule writers.
type Preset struct {
	Title    string   `yaml:"title"`
	Text     string   `yaml:"text"`
	Icon     string   `yaml:"icon"`
	Level    string   `yaml:"level" validate:"omitempty,oneof=none notice warning error"`
	Kind     string   `yaml:"kind" validate:"omitempty,oneof=task status appointment shoppinglist inventorylist"`
	Channels []string `yaml:"channels"`
}

// RuleConfig is one rule instance: its type plus the free-form option
// bag the rule's JSON Schema validates.
type RuleConfig struct {
	Type    string         `yaml:"type" validate:"required,oneof=threshold freshness"`
	Options map[string]any `yaml:"options" validate:"required"`
}

// Default returns the configuration used when no document is provided.
func Default() *Config {
	cfg := &Config{DataDir: "./data"}
	cfg.applyDefaults()
	return cfg
}

// Load reads, parses and validates the document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	// Parse errors in derived values should surface at load time, not
	// at first use.
	if _, _, err := cfg.QuietHours.Policy(); err != nil {
		return nil, fmt.Errorf("config: quietHours: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "dengon.0"
	}
	if c.QuietHours.Start == "" {
		c.QuietHours.Start = "22:00"
	}
	if c.QuietHours.End == "" {
		c.QuietHours.End = "06:00"
	}
	if c.QuietHours.MaxLevel == "" {
		c.QuietHours.MaxLevel = "warning"
	}
}

// StoreConfig maps the intervals and retention onto the store's config.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		NotifyInterval:        time.Duration(c.Intervals.NotifyMs) * time.Millisecond,
		PruneInterval:         time.Duration(c.Intervals.PruneMs) * time.Millisecond,
		CleanupClosedInterval: time.Duration(c.Intervals.CleanupClosedMs) * time.Millisecond,
		HardDeleteInterval:    time.Duration(c.Intervals.HardDeleteMs) * time.Millisecond,
		CloseGrace:            time.Duration(c.Retention.CloseGraceMs) * time.Millisecond,
		HardDeleteAfter:       time.Duration(c.Retention.HardDeleteAfterMs) * time.Millisecond,
		StartupGrace:          time.Duration(c.Retention.StartupGraceMs) * time.Millisecond,
		HardDeleteBatch:       c.Retention.HardDeleteBatch,
	}
}

// Policy converts the quiet hours section into the dispatch policy's
// form plus the location it is anchored to.
func (q QuietHours) Policy() (policy.QuietHours, *time.Location, error) {
	start, err := parseClock(q.Start)
	if err != nil {
		return policy.QuietHours{}, nil, fmt.Errorf("start: %w", err)
	}
	end, err := parseClock(q.End)
	if err != nil {
		return policy.QuietHours{}, nil, fmt.Errorf("end: %w", err)
	}
	loc := time.Local
	if q.Location != "" {
		loc, err = time.LoadLocation(q.Location)
		if err != nil {
			return policy.QuietHours{}, nil, fmt.Errorf("location: %w", err)
		}
	}
	return policy.QuietHours{
		Enabled:  q.Enabled,
		StartMin: start,
		EndMin:   end,
		MaxLevel: parseLevel(q.MaxLevel),
		SpreadMs: q.SpreadMs,
	}, loc, nil
}

// RuleSpecs converts the rule list to the engine's spec form.
func (c *Config) RuleSpecs() []rules.Spec {
	specs := make([]rules.Spec, 0, len(c.Rules))
	for _, r := range c.Rules {
		specs = append(specs, rules.Spec{Type: r.Type, Options: r.Options})
	}
	return specs
}

// Draft converts a preset template into the writer's draft form. An
// omitted kind defaults to status so the resulting drafts always pass
// creation validation.
func (p Preset) Draft() message.Draft {
	kind := message.Kind(p.Kind)
	if kind == "" {
		kind = message.KindStatus
	}
	d := message.Draft{
		Title: p.Title,
		Text:  p.Text,
		Icon:  p.Icon,
		Level: parseLevel(p.Level),
		Kind:  kind,
	}
	if len(p.Channels) > 0 {
		d.Audience = &message.Audience{
			Channels: &message.Channels{Include: p.Channels},
		}
	}
	return d
}

func parseLevel(s string) message.Level {
	switch s {
	case "notice":
		return message.LevelNotice
	case "warning":
		return message.LevelWarning
	case "error":
		return message.LevelError
	}
	return message.LevelNone
}

// parseClock turns "HH:MM" into minutes of day.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("%q is not HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%q has a bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%q has a bad minute", s)
	}
	return h*60 + m, nil
}
