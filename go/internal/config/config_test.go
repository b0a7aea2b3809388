package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.False(t, cfg.Database.Enabled())

	sc := cfg.Session()
	assert.Equal(t, 300*time.Second, sc.RoundLimit)
	assert.Equal(t, 30*time.Second, sc.TurnLimit)
	assert.Equal(t, 20*time.Second, sc.AttachWindow)
	assert.Equal(t, 10*time.Second, sc.ResponderTimeout)

	pc := cfg.Pool()
	assert.Equal(t, 10*time.Second, pc.Window)
	assert.Equal(t, 120*time.Second, pc.Retention)
	assert.Equal(t, 0.5, pc.H2HProb)
	assert.Equal(t, 1500*time.Millisecond, cfg.ReplyDelay())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("game:\n  round_limit_secs: 120\n  turn_limit_secs: 15\n  h2h_prob: 0.9\n"), 0o600))

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("TURN_LIMIT_SECS", "20")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.Game.RoundLimitSecs)
	assert.Equal(t, 20, cfg.Game.TurnLimitSecs)
	assert.Equal(t, 0.9, cfg.Game.H2HProb)
	assert.Equal(t, 10, cfg.Game.MatchWindowSecs)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")

	t.Setenv("H2H_PROB", "1.5")
	_, err := Load()
	assert.ErrorIs(t, err, ErrInvalidConfig)

	t.Setenv("H2H_PROB", "0.5")
	t.Setenv("TURN_LIMIT_SECS", "0")
	_, err = Load()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_UnparsableEnvFallsBack(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("ROUND_LIMIT_SECS", "five minutes")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Game.RoundLimitSecs)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "turing", SSLMode: "disable"}
	assert.True(t, c.Enabled())
	assert.Equal(t, "postgres://u:p@db:5433/turing?sslmode=disable", c.DSN())

	c.URL = "postgres://x/y"
	assert.Equal(t, "postgres://x/y", c.DSN())
}
