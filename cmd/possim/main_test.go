package main

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/engine"
	"github.com/warp/stock-engine/simulate"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestScenarioList(t *testing.T) {
	out, err := execute(t, "scenario", "list")
	require.NoError(t, err)

	var list []simulate.Scenario
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Len(t, list, len(simulate.Scenarios()))
}

func TestSimulate_MemoryStore(t *testing.T) {
	// GIVEN: A memory store seeded with the corner-shop catalog
	// WHEN: Simulating 5 sales with one cashier
	// THEN: The JSON report shows all 5 committed

	out, err := execute(t, "simulate", "--driver", "memory", "--scenario", "corner-shop",
		"--sales", "5", "--cashiers", "1", "--seed", "3", "--refill=false")
	require.NoError(t, err)

	var rep simulate.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 5, rep.Committed)
	assert.Equal(t, int64(3), rep.Seed)
	assert.Empty(t, rep.Refills)
}

func TestSimulate_RejectsBadOptions(t *testing.T) {
	_, err := execute(t, "simulate", "--driver", "memory", "--cashiers", "500")
	assert.Error(t, err)

	_, err = execute(t, "simulate", "--driver", "memory", "--discount", "ten")
	assert.ErrorIs(t, err, engine.ErrInvalidRequest)
}

func TestReplenish_ExplicitNeedsOnEmptyStore(t *testing.T) {
	// Item 7 is not in the catalog so it has no supplier.
	out, err := execute(t, "replenish", "--driver", "memory", "--need", "7=3")
	require.NoError(t, err)

	var rep replenishReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.Len(t, rep.Warehouse, 1)
	assert.Contains(t, rep.Errors, engine.ItemID(7))
}

func TestParseNeeds(t *testing.T) {
	needs, err := parseNeeds(map[string]int{"101": 4, "102": 0})
	require.NoError(t, err)
	assert.Equal(t, map[engine.ItemID]int{101: 4, 102: 0}, needs)

	_, err = parseNeeds(map[string]int{"milk": 1})
	assert.Error(t, err)

	_, err = parseNeeds(map[string]int{"101": -1})
	var verr *engine.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestUnknownDriver(t *testing.T) {
	_, err := execute(t, "prune-shelf", "--driver", "mysql")
	assert.Error(t, err)
}
