/*
main.go - possim entry point

PURPOSE:
  One binary for the POS stock engine: the HTTP server plus the batch jobs
  an operator runs by hand (simulation, replenishment, sequence repair).

COMMANDS:
  serve            Start the HTTP API with graceful shutdown
  simulate         Commit synthetic sales and print a report
  replenish        Warehouse cycle (planned or explicit needs) and shelf refill
  sync-sequences   Realign every id sequence to max(id)+1
  prune-shelf      Delete empty shelf rows
  scenario         List or load demo catalogs

GLOBAL FLAGS:
  --config   YAML config file
  --driver   sqlite | postgres | memory (overrides config)
  --db       Database path or URL (overrides config)
  --verbose  Debug logging

EXAMPLES:
  possim serve --db ./possim.db
  possim scenario load thin-shelf --db ./possim.db
  possim simulate --sales 500 --cashiers 8 --db ./possim.db
  possim replenish --driver postgres --db postgres://localhost/pos

SEE ALSO:
  - config/config.go: Config sources and precedence
  - api/server.go: Router configuration
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
