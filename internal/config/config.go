// Package config loads the muxbridge configuration file and resolves the
// per-session authorization mode. The mode is policy owned by the operator;
// this process only enforces it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Mode is the externally-configured authorization level for a session.
type Mode string

const (
	// ModeUnknown is the zero value for unconfigured sessions.
	ModeUnknown Mode = ""
	// ModeIgnore hides the session from this process entirely.
	ModeIgnore Mode = "ignore"
	// ModeObserve allows reads and event emission, never keystrokes.
	ModeObserve Mode = "observe"
	// ModeAuto allows automated answers and approvals.
	ModeAuto Mode = "auto"
	// ModeAutonomous allows everything ModeAuto does plus default approvals.
	ModeAutonomous Mode = "autonomous"
)

// ParseMode normalizes a mode string. Unrecognized values map to ModeUnknown.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ignore":
		return ModeIgnore
	case "observe":
		return ModeObserve
	case "auto":
		return ModeAuto
	case "autonomous":
		return ModeAutonomous
	default:
		return ModeUnknown
	}
}

const ConfigFileName = "config.toml"

// Tuning holds the timing and bounding knobs of the watcher and classifier.
type Tuning struct {
	SettleDelayMS    int    `toml:"settle_delay_ms"`
	KeyDelayMS       int    `toml:"key_delay_ms"`
	WizardStepDelay  int    `toml:"wizard_step_delay_ms"`
	ProgressInterval int    `toml:"progress_interval_secs"`
	TransitionDedup  int    `toml:"transition_dedup_secs"`
	CompletionDedup  int    `toml:"completion_dedup_secs"`
	CaptureLines     int    `toml:"capture_lines"`
	WizardStepCap    int    `toml:"wizard_step_cap"`
	SummaryMaxLines  int    `toml:"summary_max_lines"`
	SummaryMaxChars  int    `toml:"summary_max_chars"`
	Tiebreak         string `toml:"representative_tiebreak"` // recent | attached
}

// Logging holds the log file settings.
type Logging struct {
	Dir    string `toml:"dir"`
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the full muxbridge configuration.
type Config struct {
	// ServerURL is the push-channel websocket endpoint.
	ServerURL string `toml:"server_url"`
	AuthToken string `toml:"auth_token"`

	// StateFile enables the file-watcher fallback source when non-empty.
	StateFile string `toml:"state_file"`

	// EventDB is the path of the append-only event log database.
	EventDB string `toml:"event_db"`

	// DefaultMode applies when no per-project mode is configured.
	DefaultMode string `toml:"default_mode"`

	// DefaultKind is the agent kind assumed by one-shot commands.
	DefaultKind string `toml:"default_kind"`

	// Modes maps agent kind -> project name -> mode string.
	Modes map[string]map[string]string `toml:"modes"`

	Tuning  Tuning  `toml:"tuning"`
	Logging Logging `toml:"logging"`
}

// Dir returns the base muxbridge directory (~/.muxbridge).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".muxbridge"), nil
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// Default returns a config with every knob at its default value.
func Default() *Config {
	return &Config{
		ServerURL:   "ws://127.0.0.1:8799/ws/sessions",
		DefaultMode: string(ModeObserve),
		DefaultKind: "claude",
		Modes:       map[string]map[string]string{},
		Tuning: Tuning{
			SettleDelayMS:    400,
			KeyDelayMS:       120,
			WizardStepDelay:  600,
			ProgressInterval: 60,
			TransitionDedup:  5,
			CompletionDedup:  60,
			CaptureLines:     200,
			WizardStepCap:    10,
			SummaryMaxLines:  40,
			SummaryMaxChars:  1500,
			Tiebreak:         "recent",
		},
		Logging: Logging{Level: "info", Format: "json"},
	}
}

// Load reads the config at path, filling defaults for anything unset.
// A missing file is not an error: defaults plus env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	// Environment overrides (useful for tests and one-shot commands).
	if v := os.Getenv("MUXBRIDGE_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("MUXBRIDGE_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("MUXBRIDGE_STATE_FILE"); v != "" {
		cfg.StateFile = v
	}

	cfg.normalize()
	return cfg, nil
}

// normalize fills zero-valued tuning fields with defaults and expands ~.
func (c *Config) normalize() {
	def := Default()
	if c.Tuning.SettleDelayMS <= 0 {
		c.Tuning.SettleDelayMS = def.Tuning.SettleDelayMS
	}
	if c.Tuning.KeyDelayMS <= 0 {
		c.Tuning.KeyDelayMS = def.Tuning.KeyDelayMS
	}
	if c.Tuning.WizardStepDelay <= 0 {
		c.Tuning.WizardStepDelay = def.Tuning.WizardStepDelay
	}
	if c.Tuning.ProgressInterval <= 0 {
		c.Tuning.ProgressInterval = def.Tuning.ProgressInterval
	}
	if c.Tuning.TransitionDedup <= 0 {
		c.Tuning.TransitionDedup = def.Tuning.TransitionDedup
	}
	if c.Tuning.CompletionDedup <= 0 {
		c.Tuning.CompletionDedup = def.Tuning.CompletionDedup
	}
	if c.Tuning.CaptureLines <= 0 {
		c.Tuning.CaptureLines = def.Tuning.CaptureLines
	}
	if c.Tuning.WizardStepCap <= 0 {
		c.Tuning.WizardStepCap = def.Tuning.WizardStepCap
	}
	if c.Tuning.SummaryMaxLines <= 0 {
		c.Tuning.SummaryMaxLines = def.Tuning.SummaryMaxLines
	}
	if c.Tuning.SummaryMaxChars <= 0 {
		c.Tuning.SummaryMaxChars = def.Tuning.SummaryMaxChars
	}
	if c.Tuning.Tiebreak != "recent" && c.Tuning.Tiebreak != "attached" {
		c.Tuning.Tiebreak = "recent"
	}
	if c.DefaultKind == "" {
		c.DefaultKind = def.DefaultKind
	}
	if c.Modes == nil {
		c.Modes = map[string]map[string]string{}
	}
	c.StateFile = expandHome(c.StateFile)
	c.EventDB = expandHome(c.EventDB)
	c.Logging.Dir = expandHome(c.Logging.Dir)
}

// ModeFor resolves the authorization mode for a (kind, project) pair.
// Implements the resolver's ModeSource contract.
func (c *Config) ModeFor(kind, project string) Mode {
	if byProject, ok := c.Modes[strings.ToLower(kind)]; ok {
		if raw, ok := byProject[project]; ok {
			return ParseMode(raw)
		}
	}
	return ParseMode(c.DefaultMode)
}

// SettleDelay returns the post-transition capture delay as a duration.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Tuning.SettleDelayMS) * time.Millisecond
}

// KeyDelay returns the inter-keystroke delay used during menu navigation.
func (c *Config) KeyDelay() time.Duration {
	return time.Duration(c.Tuning.KeyDelayMS) * time.Millisecond
}

func expandHome(p string) string {
	if p == "" || !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
