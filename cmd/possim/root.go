package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warp/stock-engine/config"
	"github.com/warp/stock-engine/engine"
	"github.com/warp/stock-engine/engine/store"
	"github.com/warp/stock-engine/simulate"
	"github.com/warp/stock-engine/store/postgres"
	"github.com/warp/stock-engine/store/sqlite"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Driver     string
	DB         string
	Verbose    bool
}

// NewRootCommand creates the root command for the possim CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "possim",
		Short: "POS stock and sale engine",
		Long:  "Commits sales against layered stock, records shortages and replenishes the warehouse and shelf.",

		// main prints the error.
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "database driver (sqlite|postgres|memory)")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "database path or URL")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSimulateCommand(opts))
	cmd.AddCommand(NewReplenishCommand(opts))
	cmd.AddCommand(NewSyncSequencesCommand(opts))
	cmd.AddCommand(NewPruneShelfCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// app is what every command needs once flags are parsed.
type app struct {
	cfg   config.Config
	log   *logrus.Logger
	store simulate.Target
	eng   *engine.Engine
	close func() error
}

// open loads config, applies flag overrides and connects the store.
func (o *RootOptions) open(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.Driver != "" {
		cfg.Database.Driver = o.Driver
	}
	if o.DB != "" {
		cfg.Database.DSN = o.DB
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := config.NewLogger(cfg.Log, logOut)
	if err != nil {
		return nil, err
	}
	ec, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}

	st, closeFn, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	log.WithFields(logrus.Fields{
		"driver":       cfg.Database.Driver,
		"shelf_policy": ec.ShelfPolicy.String(),
	}).Debug("store opened")

	return &app{
		cfg:   cfg,
		log:   log,
		store: st,
		eng:   engine.New(st, ec, log),
		close: closeFn,
	}, nil
}

func openStore(ctx context.Context, db config.Database) (simulate.Target, func() error, error) {
	switch db.Driver {
	case config.DriverMemory:
		return store.NewMemory(), func() error { return nil }, nil
	case config.DriverSQLite:
		st, err := sqlite.New(db.DSN)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case config.DriverPostgres:
		st, err := postgres.New(ctx, db.DSN)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", db.Driver)
	}
}

// printJSON writes v indented to the command's stdout.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
