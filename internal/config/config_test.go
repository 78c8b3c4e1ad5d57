package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, defaultPlayerName, cfg.PlayerName)
	assert.Equal(t, defaultPort, cfg.Port)
	assert.Equal(t, defaultTickPeriod, cfg.TickPeriod)
	assert.Equal(t, -1, cfg.MaxDontRepeatFor, "MaxDontRepeatFor should default to no cap")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PLAYER_NAME", "lounge")
	t.Setenv("DONT_REPEAT_FOR", "0.5")
	t.Setenv("MAX_DONT_REPEAT_FOR", "10")
	t.Setenv("TICK_PERIOD", "1s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "lounge", cfg.PlayerName)
	assert.Equal(t, 0.5, cfg.DontRepeatFor)
	assert.Equal(t, 10, cfg.MaxDontRepeatFor)
	assert.Equal(t, time.Second, cfg.TickPeriod)
}

func TestLoadRejectsInvalidDontRepeatFor(t *testing.T) {
	t.Setenv("DONT_REPEAT_FOR", "not-a-number")
	_, err := Load()
	assert.Error(t, err, "expected an error for an unparseable DONT_REPEAT_FOR")
}
