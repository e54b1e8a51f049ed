package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "[app]\nname = \"lot-sales\"\n"))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "reajuste.db", cfg.Database.DSN)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Len(t, cfg.HTTP.CORSAllowOrigins, 2)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFile_FileValues(t *testing.T) {
	path := writeConfig(t, `
[app]
env = "production"
port = 9090

[database]
driver = "postgres"
dsn = "postgres://lots@db/lots?sslmode=disable"

[redis]
enabled = true
addr = "redis:6379"
lock_ttl = "10s"

[scheduler]
interval = "15m"
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 10*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
}

func TestLoadFile_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "[app]\nport = 9090\n")
	t.Setenv("REAJUSTE_APP_PORT", "7070")
	t.Setenv("REAJUSTE_DATABASE_DSN", "/tmp/other.db")
	t.Setenv("REAJUSTE_LOG_LEVEL", "debug")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.App.Port)
	assert.Equal(t, "/tmp/other.db", cfg.Database.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFile_Invalid(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "[database]\ndriver = \"mysql\"\n"))
	assert.ErrorContains(t, err, "database.driver")

	_, err = LoadFile(writeConfig(t, "[app]\nport = 70000\n"))
	assert.ErrorContains(t, err, "app.port")

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		App:       AppConfig{Port: 8080},
		Database:  DatabaseConfig{Driver: "sqlite3", DSN: ":memory:"},
		Scheduler: SchedulerConfig{Enabled: true, Interval: time.Minute},
	}
	require.NoError(t, cfg.Validate())

	cfg.Database.DSN = ""
	assert.ErrorContains(t, cfg.Validate(), "database.dsn")

	cfg.Database.DSN = ":memory:"
	cfg.Scheduler.Interval = 0
	assert.ErrorContains(t, cfg.Validate(), "scheduler.interval")

	cfg.Scheduler.Enabled = false
	assert.NoError(t, cfg.Validate())
}
