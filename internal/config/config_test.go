package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, string(ModeObserve), cfg.DefaultMode)
	assert.Equal(t, 400, cfg.Tuning.SettleDelayMS)
	assert.Equal(t, 10, cfg.Tuning.WizardStepCap)
	assert.Equal(t, "recent", cfg.Tuning.Tiebreak)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
server_url = "ws://10.0.0.5:9000/ws/sessions"
default_mode = "ignore"

[modes.claude]
payments = "auto"
website = "observe"

[tuning]
settle_delay_ms = 250
representative_tiebreak = "attached"

[logging]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ws://10.0.0.5:9000/ws/sessions", cfg.ServerURL)
	assert.Equal(t, 250, cfg.Tuning.SettleDelayMS)
	assert.Equal(t, "attached", cfg.Tuning.Tiebreak)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Unset tuning fields keep defaults.
	assert.Equal(t, 120, cfg.Tuning.KeyDelayMS)
}

func TestModeFor(t *testing.T) {
	cfg := Default()
	cfg.DefaultMode = "observe"
	cfg.Modes = map[string]map[string]string{
		"claude": {"payments": "auto", "legacy": "ignore"},
	}

	assert.Equal(t, ModeAuto, cfg.ModeFor("claude", "payments"))
	assert.Equal(t, ModeAuto, cfg.ModeFor("Claude", "payments"))
	assert.Equal(t, ModeIgnore, cfg.ModeFor("claude", "legacy"))
	assert.Equal(t, ModeObserve, cfg.ModeFor("claude", "unconfigured"))
	assert.Equal(t, ModeObserve, cfg.ModeFor("codex", "payments"))
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeAuto, ParseMode(" AUTO "))
	assert.Equal(t, ModeAutonomous, ParseMode("autonomous"))
	assert.Equal(t, ModeUnknown, ParseMode("yolo"))
	assert.Equal(t, ModeUnknown, ParseMode(""))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MUXBRIDGE_SERVER_URL", "ws://env:1234/ws")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ws://env:1234/ws", cfg.ServerURL)
}
