package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/stock-engine/engine"
	"github.com/warp/stock-engine/simulate"
)

// SimulateOptions holds flags for the simulate command. Unset flags fall
// back to the simulate section of the config.
type SimulateOptions struct {
	*RootOptions
	Sales        int
	Cashiers     int
	MaxLines     int
	MaxQuantity  int
	BatchSize    int
	DiscountRate string
	Operator     string
	RefillShelf  bool
	Seed         int64
	Scenario     string
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Commit synthetic sales",
		Long: `Commit random carts drawn from the catalog with concurrent cashiers and
print a JSON report. Each run's uuid is written into the note of every sale.

Example:
  possim simulate --driver memory --scenario thin-shelf --sales 200
  possim simulate --db ./possim.db --batch-size 10 --seed 42`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.Sales, "sales", 0, "number of sales")
	f.IntVar(&opts.Cashiers, "cashiers", 0, "concurrent cashiers")
	f.IntVar(&opts.MaxLines, "max-lines", 0, "maximum lines per cart")
	f.IntVar(&opts.MaxQuantity, "max-qty", 0, "maximum quantity per line")
	f.IntVar(&opts.BatchSize, "batch-size", 0, "carts per unit of work (0 or 1 commits singly)")
	f.StringVar(&opts.DiscountRate, "discount", "", "discount rate in percent")
	f.StringVar(&opts.Operator, "operator", "", "operator prefix")
	f.BoolVar(&opts.RefillShelf, "refill", false, "refill the shelf for sold items afterwards")
	f.Int64Var(&opts.Seed, "seed", 0, "random seed (0 picks one)")
	f.StringVar(&opts.Scenario, "scenario", "", "load a demo catalog first")

	return cmd
}

func runSimulate(cmd *cobra.Command, opts *SimulateOptions) error {
	ctx := cmd.Context()
	a, err := opts.open(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	if opts.Scenario != "" {
		if err := simulate.LoadScenario(ctx, a.store, opts.Scenario, a.eng.Config().Now()); err != nil {
			return err
		}
	}

	def := a.cfg.Simulate
	sim := simulate.Options{
		Sales:       def.Sales,
		Cashiers:    def.Cashiers,
		MaxLines:    def.MaxLines,
		MaxQuantity: def.MaxQuantity,
		Operator:    def.Operator,
		RefillShelf: def.RefillShelf,
		Seed:        def.Seed,
	}
	rate := def.DiscountRate

	f := cmd.Flags()
	if f.Changed("sales") {
		sim.Sales = opts.Sales
	}
	if f.Changed("cashiers") {
		sim.Cashiers = opts.Cashiers
	}
	if f.Changed("max-lines") {
		sim.MaxLines = opts.MaxLines
	}
	if f.Changed("max-qty") {
		sim.MaxQuantity = opts.MaxQuantity
	}
	if f.Changed("batch-size") {
		sim.BatchSize = opts.BatchSize
	}
	if f.Changed("operator") {
		sim.Operator = opts.Operator
	}
	if f.Changed("refill") {
		sim.RefillShelf = opts.RefillShelf
	}
	if f.Changed("seed") {
		sim.Seed = opts.Seed
	}
	if f.Changed("discount") {
		rate = opts.DiscountRate
	}
	if rate != "" {
		if sim.DiscountRate, err = engine.Money(rate); err != nil {
			return fmt.Errorf("discount: %w", err)
		}
	}
	if err := engine.ValidateStruct(sim); err != nil {
		return err
	}

	rep, err := simulate.NewRunner(a.eng, a.log).Run(ctx, sim)
	if err != nil {
		return err
	}
	return printJSON(cmd, rep)
}
