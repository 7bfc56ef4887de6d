package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/warp/stock-engine/engine"
)

// ReplenishOptions holds flags for the replenish command.
type ReplenishOptions struct {
	*RootOptions
	Needs map[string]int
	Shelf bool
	User  string
}

type replenishReport struct {
	Warehouse []engine.ReplenishResult `json:"warehouse"`
	Errors    map[engine.ItemID]string `json:"errors,omitempty"`
	Shelf     []engine.RefillResult    `json:"shelf,omitempty"`
}

// NewReplenishCommand creates the replenish command.
func NewReplenishCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplenishOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replenish",
		Short: "Run a warehouse replenishment cycle",
		Long: `Replenish the warehouse. Without --need, needs are planned from current
levels against each item's threshold and average. Outstanding shortages are
ordered on top of the need and resolved before new stock is laid down.

Example:
  possim replenish --db ./possim.db
  possim replenish --need 101=24 --need 102=12
  possim replenish --shelf`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplenish(cmd, opts)
		},
	}

	cmd.Flags().StringToIntVar(&opts.Needs, "need", nil, "explicit need as item_id=qty (repeatable)")
	cmd.Flags().BoolVar(&opts.Shelf, "shelf", false, "refill the shelf from the warehouse afterwards")
	cmd.Flags().StringVar(&opts.User, "user", "", "user recorded on shelf moves")

	return cmd
}

func runReplenish(cmd *cobra.Command, opts *ReplenishOptions) error {
	ctx := cmd.Context()
	needs, err := parseNeeds(opts.Needs)
	if err != nil {
		return err
	}

	a, err := opts.open(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	var rep replenishReport
	if len(needs) == 0 {
		rep.Warehouse, err = a.eng.RunWarehouseCycle(ctx)
	} else {
		rep.Warehouse, err = a.eng.Replenish(ctx, needs)
	}
	if err != nil {
		return err
	}
	for _, r := range rep.Warehouse {
		if r.Err != nil {
			if rep.Errors == nil {
				rep.Errors = make(map[engine.ItemID]string)
			}
			rep.Errors[r.ItemID] = r.Err.Error()
		}
	}

	if opts.Shelf {
		if rep.Shelf, err = a.eng.RefillShelf(ctx, nil, opts.User); err != nil {
			return err
		}
	}
	return printJSON(cmd, rep)
}

func parseNeeds(raw map[string]int) (map[engine.ItemID]int, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[engine.ItemID]int, len(raw))
	for k, qty := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("need %q: item id must be a positive integer", k)
		}
		out[engine.ItemID(id)] = qty
	}
	return out, engine.ValidateNeeds(out)
}
