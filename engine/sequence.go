/*
sequence.go - Sequence guard for self-healing id drift

PURPOSE:
  The simulator runs many independent writers against shared
  auto-incrementing ids. Counters drifting behind the actual rows is
  expected, so a duplicate-key failure on a sequence-backed id is repaired
  and retried instead of treated as an outage.

POLICY:
  1. Run the unit of work.
  2. On *ConflictError: realign that sequence to max(id)+1, wait RetryDelay,
     run the unit of work again.
  3. A second conflict on a key space already repaired in this call is
     fatal and returned wrapped in ErrSequenceExhausted.
  4. Any other error is returned untouched.

  Because the unit of work is atomic, the failed attempt leaves nothing
  behind and the retry starts from a clean store.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// SequenceGuard owns the bounded retry loop around a unit of work.
type SequenceGuard struct {
	Store      Store
	RetryDelay time.Duration
	Log        logrus.FieldLogger
}

// NewSequenceGuard creates a guard that repairs sequences through store.
func NewSequenceGuard(store Store, delay time.Duration, log logrus.FieldLogger) *SequenceGuard {
	if log == nil {
		log = discardLogger()
	}
	return &SequenceGuard{Store: store, RetryDelay: delay, Log: log}
}

// Do runs fn, repairing and retrying once per conflicting key space.
func (g *SequenceGuard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Guard(ctx, g, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Guard is Do for functions that return a value.
func Guard[T any](ctx context.Context, g *SequenceGuard, fn func(ctx context.Context) (T, error)) (T, error) {
	repaired := make(map[Sequence]bool)
	for {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}

		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			return out, err
		}
		if repaired[conflict.Sequence] {
			g.Log.WithFields(logrus.Fields{
				"module":   "sequence",
				"sequence": conflict.Sequence,
			}).Error("conflict persisted after repair")
			return out, fmt.Errorf("%w: %w", ErrSequenceExhausted, err)
		}

		next, serr := g.Store.SyncSequence(ctx, conflict.Sequence)
		if serr != nil {
			return out, fmt.Errorf("repair sequence %s: %w", conflict.Sequence, serr)
		}
		repaired[conflict.Sequence] = true
		g.Log.WithFields(logrus.Fields{
			"module":   "sequence",
			"sequence": conflict.Sequence,
			"next":     next,
		}).Warn("sequence realigned, retrying")

		if err := sleep(ctx, g.RetryDelay); err != nil {
			return out, err
		}
	}
}

// SyncAll realigns every sequence. Callers use it before a bulk run.
func (g *SequenceGuard) SyncAll(ctx context.Context) (map[Sequence]int64, error) {
	out := make(map[Sequence]int64, len(AllSequences))
	for _, seq := range AllSequences {
		next, err := g.Store.SyncSequence(ctx, seq)
		if err != nil {
			return out, fmt.Errorf("sync %s: %w", seq, err)
		}
		out[seq] = next
	}
	return out, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
