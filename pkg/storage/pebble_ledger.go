package storage

import (
	"fmt"
	"math/big"

	"github.com/cockroachdb/pebble"

	"github.com/solverforge/settler/pkg/order"
	"github.com/solverforge/settler/pkg/settlement"
)

// PebbleLedger is the persistent fill ledger. All mutations go through
// Write, which applies one pebble.Batch synchronously: either every
// update in a settlement lands or none do.
type PebbleLedger struct {
	db *pebble.DB
}

func NewPebbleLedger(path string) (*PebbleLedger, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger at %s: %w", path, err)
	}
	return &PebbleLedger{db: db}, nil
}

func (l *PebbleLedger) Close() error { return l.db.Close() }

// Filled returns the cumulative executed amount for a UID, zero when the
// entry is absent.
func (l *PebbleLedger) Filled(uid order.UID) (*big.Int, error) {
	val, closer, err := l.db.Get(fillKey(uid))
	if err == pebble.ErrNotFound {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read fill for %s: %w", uid, err)
	}
	defer closer.Close()
	return new(big.Int).SetBytes(val), nil
}

// PreSigned reports whether a pre-signature record exists for the UID.
func (l *PebbleLedger) PreSigned(uid order.UID) (bool, error) {
	val, closer, err := l.db.Get(preSignKey(uid))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read pre-signature for %s: %w", uid, err)
	}
	defer closer.Close()
	return len(val) == 1 && val[0] == 1, nil
}

// Write applies one atomic ledger mutation batch, synced to disk before
// returning.
func (l *PebbleLedger) Write(w settlement.LedgerWrite) error {
	batch := l.db.NewBatch()
	defer batch.Close()

	for _, f := range w.Fills {
		if err := batch.Set(fillKey(f.UID), f.Amount.Bytes(), nil); err != nil {
			return fmt.Errorf("failed to stage fill for %s: %w", f.UID, err)
		}
	}
	for _, uid := range w.ClearFills {
		if err := batch.Delete(fillKey(uid), nil); err != nil {
			return fmt.Errorf("failed to stage fill reclaim for %s: %w", uid, err)
		}
	}
	for _, p := range w.PreSigns {
		if p.Signed {
			if err := batch.Set(preSignKey(p.UID), []byte{1}, nil); err != nil {
				return fmt.Errorf("failed to stage pre-signature for %s: %w", p.UID, err)
			}
		} else {
			if err := batch.Delete(preSignKey(p.UID), nil); err != nil {
				return fmt.Errorf("failed to stage pre-signature revoke for %s: %w", p.UID, err)
			}
		}
	}
	for _, uid := range w.ClearPreSigns {
		if err := batch.Delete(preSignKey(uid), nil); err != nil {
			return fmt.Errorf("failed to stage pre-signature reclaim for %s: %w", uid, err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit ledger batch: %w", err)
	}
	return nil
}

var _ settlement.Ledger = (*PebbleLedger)(nil)
