package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/engine"
	"github.com/warp/stock-engine/engine/store"
)

// stuckStore reports a successful repair without moving the counter.
type stuckStore struct {
	*store.Memory
	syncs int
}

func (s *stuckStore) SyncSequence(_ context.Context, _ engine.Sequence) (int64, error) {
	s.syncs++
	return 1, nil
}

func TestSequenceGuard_RepairsDriftedCounterOnce(t *testing.T) {
	// GIVEN: Three committed sales and the sales counter forced back to 1
	// WHEN: Committing another sale
	// THEN: One repair, and the new id is strictly greater than the prior max

	ctx := context.Background()
	eng, mem := newFixture(t)
	var last engine.SaleID
	for i := 0; i < 3; i++ {
		res, err := eng.CommitSale(ctx, cart(line(milk, 1, "2.00")))
		require.NoError(t, err)
		last = res.Sale.ID
	}
	require.NoError(t, mem.SetSequence(ctx, engine.SeqSales, 1))

	res, err := eng.CommitSale(ctx, cart(line(milk, 1, "2.00")))
	require.NoError(t, err)
	assert.Greater(t, res.Sale.ID, last)

	open, err := eng.Shortages(ctx, milk)
	require.NoError(t, err)
	assert.Len(t, open, 4, "the failed attempt left nothing behind")
}

func TestSequenceGuard_SecondConflictIsFatal(t *testing.T) {
	// GIVEN: A store whose repair never takes effect
	// WHEN: A sale keeps colliding on the sales key space
	// THEN: Exactly one repair, then ErrSequenceExhausted

	ctx := context.Background()
	mem := store.NewMemory()
	stuck := &stuckStore{Memory: mem}
	eng := engine.New(stuck, testConfig(), nil)

	_, err := eng.CommitSale(ctx, cart(line(milk, 1, "2.00")))
	require.NoError(t, err)
	require.NoError(t, mem.SetSequence(ctx, engine.SeqSales, 1))

	_, err = eng.CommitSale(ctx, cart(line(milk, 1, "2.00")))
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrSequenceExhausted)
	assert.ErrorIs(t, err, engine.ErrSequenceConflict)
	assert.False(t, engine.IsRetryable(err))
	assert.Equal(t, 1, stuck.syncs)
}

func TestSequenceGuard_OtherErrorsPassThrough(t *testing.T) {
	mem := store.NewMemory()
	guard := engine.NewSequenceGuard(mem, 0, nil)
	boom := errors.New("disk on fire")

	calls := 0
	err := guard.Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestSequenceGuard_IndependentKeySpacesEachGetOneRepair(t *testing.T) {
	mem := store.NewMemory()
	guard := engine.NewSequenceGuard(mem, 0, nil)

	conflicts := []engine.Sequence{engine.SeqSales, engine.SeqShortages}
	calls := 0
	got, err := engine.Guard(context.Background(), guard, func(context.Context) (int, error) {
		calls++
		if calls <= len(conflicts) {
			return 0, &engine.ConflictError{Sequence: conflicts[calls-1]}
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestSequenceGuard_RetryDelayHonoursCancellation(t *testing.T) {
	mem := store.NewMemory()
	guard := engine.NewSequenceGuard(mem, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := guard.Do(ctx, func(context.Context) error {
		return &engine.ConflictError{Sequence: engine.SeqSales}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSyncSequences_RealignsEveryCounter(t *testing.T) {
	ctx := context.Background()
	eng, mem := newFixture(t)
	seedLayers(t, mem, shelfLayer(milk, 5, "1.50", "2025-03-01"))
	_, err := eng.CommitSale(ctx, cart(line(milk, 2, "2.00")))
	require.NoError(t, err)

	require.NoError(t, mem.SetSequence(ctx, engine.SeqShelfLayers, 1))

	next, err := eng.SyncSequences(ctx)
	require.NoError(t, err)
	assert.Len(t, next, len(engine.AllSequences))
	assert.Equal(t, int64(2), next[engine.SeqSales])
	assert.Equal(t, int64(2), next[engine.SeqShelfLayers])
	assert.Equal(t, int64(1), next[engine.SeqShortages])
}

func TestErrorHelpers(t *testing.T) {
	conflict := &engine.ConflictError{Sequence: engine.SeqSales}
	assert.True(t, engine.IsRetryable(conflict))
	assert.ErrorIs(t, conflict, engine.ErrSequenceConflict)

	assert.True(t, engine.IsNotFound(engine.ErrNotFound))
	assert.True(t, engine.IsClientError(&engine.ValidationError{}))
	assert.False(t, engine.IsClientError(conflict))
}
