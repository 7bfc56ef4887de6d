/*
Package config loads process configuration for the possim binaries.

SOURCES (later wins):
  1. Defaults (the simulation constants)
  2. YAML file given with --config
  3. .env in the working directory, if present
  4. POSSIM_* environment variables

The engine never reads this package; cmd/possim converts Config into an
engine.Config and passes it down.
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/stock-engine/engine"
)

// Environment overrides.
const (
	EnvDBDriver     = "POSSIM_DB_DRIVER"
	EnvDBDSN        = "POSSIM_DB_DSN"
	EnvPort         = "POSSIM_PORT"
	EnvLogLevel     = "POSSIM_LOG_LEVEL"
	EnvCostFraction = "POSSIM_COST_FRACTION"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Database Database `yaml:"database"`
	Server   Server   `yaml:"server"`
	Log      Log      `yaml:"log"`
	Engine   Engine   `yaml:"engine"`
	Simulate Simulate `yaml:"simulate"`
}

type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Server struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// Engine mirrors engine.Config in file form.
type Engine struct {
	SaleTier         string        `yaml:"sale_tier"`
	ShelfPolicy      string        `yaml:"shelf_policy"`
	CostFraction     string        `yaml:"cost_fraction"`
	ShelfLifeDays    int           `yaml:"shelf_life_days"`
	StorageLocation  string        `yaml:"storage_location"`
	ShelfSlot        string        `yaml:"shelf_slot"`
	DefaultThreshold int           `yaml:"default_threshold"`
	DefaultAverage   int           `yaml:"default_average"`
	ProcurementNote  string        `yaml:"procurement_note"`
	ReplenishUser    string        `yaml:"replenish_user"`
	RefillUser       string        `yaml:"refill_user"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
}

// Simulate holds defaults for bulk sale generation.
type Simulate struct {
	Sales        int    `yaml:"sales"`
	Cashiers     int    `yaml:"cashiers"`
	MaxLines     int    `yaml:"max_lines"`
	MaxQuantity  int    `yaml:"max_quantity"`
	DiscountRate string `yaml:"discount_rate"`
	Operator     string `yaml:"operator"`
	RefillShelf  bool   `yaml:"refill_shelf"`
	Seed         int64  `yaml:"seed"`
}

// Default returns the built-in configuration.
func Default() Config {
	ec := engine.DefaultConfig()
	return Config{
		Database: Database{Driver: DriverSQLite, DSN: "possim.db"},
		Server:   Server{Port: 8080, CORSOrigins: []string{"*"}},
		Log:      Log{Level: "info", Format: "json"},
		Engine: Engine{
			SaleTier:         string(ec.SaleTier),
			ShelfPolicy:      ec.ShelfPolicy.String(),
			CostFraction:     ec.CostFraction.String(),
			ShelfLifeDays:    ec.ShelfLifeDays,
			StorageLocation:  ec.StorageLocation,
			ShelfSlot:        ec.ShelfSlot,
			DefaultThreshold: ec.DefaultThreshold,
			DefaultAverage:   ec.DefaultAverage,
			ProcurementNote:  ec.ProcurementNote,
			ReplenishUser:    ec.ReplenishUser,
			RefillUser:       ec.RefillUser,
			RetryDelay:       ec.RetryDelay,
		},
		Simulate: Simulate{
			Sales:        100,
			Cashiers:     4,
			MaxLines:     5,
			MaxQuantity:  10,
			DiscountRate: "0",
			Operator:     "SIM",
			RefillShelf:  true,
		},
	}
}

// Load builds a Config from defaults, an optional YAML file, .env and the
// environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvDBDriver); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(EnvDBDSN); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvCostFraction); v != "" {
		c.Engine.CostFraction = v
	}
	return nil
}

// Validate checks values the engine cannot default.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Driver != DriverMemory && c.Database.DSN == "" {
		return errors.New("database dsn is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	_, err := c.EngineConfig()
	return err
}

// EngineConfig converts the file form into engine.Config.
func (c Config) EngineConfig() (engine.Config, error) {
	ec := engine.DefaultConfig()

	tier, err := engine.ParseTier(c.Engine.SaleTier)
	if err != nil {
		return ec, fmt.Errorf("sale_tier: %w", err)
	}
	policy, err := engine.ParseShelfPolicy(c.Engine.ShelfPolicy)
	if err != nil {
		return ec, fmt.Errorf("shelf_policy: %w", err)
	}
	fraction, err := decimal.NewFromString(c.Engine.CostFraction)
	if err != nil {
		return ec, fmt.Errorf("cost_fraction: %w", err)
	}
	if fraction.IsNegative() {
		return ec, fmt.Errorf("cost_fraction: must not be negative, got %s", fraction)
	}
	if c.Engine.ShelfLifeDays < 0 {
		return ec, fmt.Errorf("shelf_life_days: must not be negative, got %d", c.Engine.ShelfLifeDays)
	}

	ec.SaleTier = tier
	ec.ShelfPolicy = policy
	ec.CostFraction = fraction
	ec.ShelfLifeDays = c.Engine.ShelfLifeDays
	ec.StorageLocation = c.Engine.StorageLocation
	ec.ShelfSlot = c.Engine.ShelfSlot
	ec.DefaultThreshold = c.Engine.DefaultThreshold
	ec.DefaultAverage = c.Engine.DefaultAverage
	ec.ProcurementNote = c.Engine.ProcurementNote
	ec.ReplenishUser = c.Engine.ReplenishUser
	ec.RefillUser = c.Engine.RefillUser
	ec.RetryDelay = c.Engine.RetryDelay
	return ec, nil
}
