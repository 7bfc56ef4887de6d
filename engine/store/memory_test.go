package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/engine"
	"github.com/warp/stock-engine/engine/store"
)

var at = time.Date(2025, time.January, 10, 9, 0, 0, 0, time.UTC)

func insertShortage(ctx context.Context, tx engine.Tx, sale engine.SaleID) (engine.ShortageID, error) {
	s := &engine.Shortage{SaleID: sale, ItemID: 7, Outstanding: 2, LoggedAt: at}
	err := tx.InsertShortage(ctx, s)
	return s.ID, err
}

func TestMemory_RollbackRestoresRowsAndCounters(t *testing.T) {
	// GIVEN: A committed shortage
	// WHEN: A second unit of work inserts another and then fails
	// THEN: Only the first row remains and the next id is reused

	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.WithTx(ctx, func(tx engine.Tx) error {
		_, err := insertShortage(ctx, tx, 1)
		return err
	}))

	boom := errors.New("boom")
	err := mem.WithTx(ctx, func(tx engine.Tx) error {
		if _, err := insertShortage(ctx, tx, 2); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var second engine.ShortageID
	require.NoError(t, mem.WithTx(ctx, func(tx engine.Tx) error {
		open, err := tx.AllShortages(ctx)
		if err != nil {
			return err
		}
		assert.Len(t, open, 1)
		second, err = insertShortage(ctx, tx, 3)
		return err
	}))
	assert.Equal(t, engine.ShortageID(2), second)
}

func TestMemory_ForcedSequenceConflicts(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.WithTx(ctx, func(tx engine.Tx) error {
		_, err := insertShortage(ctx, tx, 1)
		return err
	}))
	require.NoError(t, mem.SetSequence(ctx, engine.SeqShortages, 1))

	err := mem.WithTx(ctx, func(tx engine.Tx) error {
		_, err := insertShortage(ctx, tx, 2)
		return err
	})
	var conflict *engine.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, engine.SeqShortages, conflict.Sequence)

	next, err := mem.SyncSequence(ctx, engine.SeqShortages)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next)
}

func TestMemory_RejectsUnknownSequence(t *testing.T) {
	mem := store.NewMemory()
	_, err := mem.SyncSequence(context.Background(), engine.Sequence("widgets"))
	assert.Error(t, err)
	assert.Error(t, mem.SetSequence(context.Background(), engine.Sequence("widgets"), 5))
}

func TestMemory_CancelledContextNeverRuns(t *testing.T) {
	mem := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := mem.WithTx(ctx, func(engine.Tx) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestMemory_ShelfUpsertNormalisesExpiry(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	layer := func(qty int, exp time.Time) *engine.StockLayer {
		return &engine.StockLayer{
			ItemID: 7, Tier: engine.TierShelf, Quantity: qty,
			CostPerUnit: decimal.RequireFromString("1.50"), ExpirationDate: exp, SlotID: "A1",
		}
	}

	require.NoError(t, mem.WithTx(ctx, func(tx engine.Tx) error {
		if err := tx.InsertLayer(ctx, layer(2, engine.NewDate(2025, time.March, 1))); err != nil {
			return err
		}
		return tx.InsertLayer(ctx, layer(3, time.Date(2025, time.March, 1, 17, 30, 0, 0, time.UTC)))
	}))

	layers, err := mem.AllLayers(ctx, engine.TierShelf)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, 5, layers[0].Quantity)
}

func TestMemory_LinkSupplierRequiresSupplier(t *testing.T) {
	mem := store.NewMemory()
	err := mem.LinkSupplier(context.Background(), 7, 99)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}
