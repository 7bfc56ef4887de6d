package main

import (
	"github.com/spf13/cobra"

	"github.com/warp/stock-engine/simulate"
)

// NewSyncSequencesCommand creates the sync-sequences command.
func NewSyncSequencesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-sequences",
		Short: "Realign every id sequence to max(id)+1",
		Long: `Realign every id sequence to max(id)+1.

Run after restoring a dump or importing rows with explicit ids. Commits do
this themselves on a duplicate key, once per operation.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := rootOpts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			next, err := a.eng.SyncSequences(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, next)
		},
	}
}

// NewPruneShelfCommand creates the prune-shelf command.
func NewPruneShelfCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "prune-shelf",
		Short:        "Delete shelf rows left at zero quantity",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := rootOpts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.eng.PruneShelf(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int{"deleted": n})
		},
	}
}

// NewScenarioCommand creates the scenario command group.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "List or load demo catalogs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:          "list",
		Short:        "List demo catalogs",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd, simulate.Scenarios())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "load <scenario-id>",
		Short: "Seed the store with a demo catalog",
		Long: `Seed the store with a demo catalog. Scenarios only add rows; load them
into a fresh database.

Example:
  possim scenario load corner-shop --db ./possim.db`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := rootOpts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			if err := simulate.LoadScenario(ctx, a.store, args[0], a.eng.Config().Now()); err != nil {
				return err
			}
			a.log.WithField("scenario_id", args[0]).Info("scenario loaded")
			return nil
		},
	})

	return cmd
}
