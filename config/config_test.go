package config_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/config"
	"github.com/warp/stock-engine/engine"
)

// inTempDir runs the test from an empty directory so no stray .env is read.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_DefaultsMatchEngine(t *testing.T) {
	inTempDir(t)

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)

	ec, err := cfg.EngineConfig()
	require.NoError(t, err)
	def := engine.DefaultConfig()
	assert.Equal(t, def.SaleTier, ec.SaleTier)
	assert.Equal(t, def.ShelfPolicy, ec.ShelfPolicy)
	assert.True(t, def.CostFraction.Equal(ec.CostFraction))
	assert.Equal(t, 365, ec.ShelfLifeDays)
	assert.Equal(t, 50, ec.DefaultThreshold)
	assert.Equal(t, 100, ec.DefaultAverage)
}

func TestLoad_YAMLThenDotenvThenEnvironment(t *testing.T) {
	// GIVEN: A YAML file, a .env file and one exported variable
	// WHEN: Loading
	// THEN: Each layer overrides the one before it

	dir := inTempDir(t)
	yml := `
database:
  driver: postgres
  dsn: postgres://file
server:
  port: 9000
engine:
  shelf_policy: delete
  retry_delay: 250ms
  cost_fraction: "0.5"
`
	path := filepath.Join(dir, "possim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("POSSIM_DB_DSN=postgres://dotenv\n"), 0o600))
	t.Setenv(config.EnvPort, "9100")
	// Registers a cleanup that also drops the value .env exports.
	t.Setenv(config.EnvDBDSN, "")
	os.Unsetenv(config.EnvDBDSN)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://dotenv", cfg.Database.DSN)
	assert.Equal(t, 9100, cfg.Server.Port)

	ec, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, engine.DeleteEmptyShelf, ec.ShelfPolicy)
	assert.Equal(t, 250*time.Millisecond, ec.RetryDelay)
	assert.Equal(t, "0.5", ec.CostFraction.String())
}

func TestLoad_RejectsBadValues(t *testing.T) {
	inTempDir(t)

	tests := []struct {
		name string
		env  string
		val  string
	}{
		{"driver", config.EnvDBDriver, "oracle"},
		{"port", config.EnvPort, "eighty"},
		{"cost fraction", config.EnvCostFraction, "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, tt.val)
			_, err := config.Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	inTempDir(t)
	_, err := config.Load("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logg, err := config.NewLogger(config.Log{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)

	logg.WithField("module", "test").Debug("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "test", line["module"])
}

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	_, err := config.NewLogger(config.Log{Level: "loud"}, nil)
	assert.Error(t, err)
}
