package settlement

import (
	"fmt"
	"math/big"

	"github.com/solverforge/settler/pkg/order"
)

// maxUint256 is the representable amount ceiling and, as a stored fill
// value, the "permanently invalidated" sentinel.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Invalidated reports whether a cumulative fill value is the
// invalidation sentinel.
func Invalidated(filled *big.Int) bool {
	return filled.Cmp(maxUint256) == 0
}

// Ledger is the persistent fill-tracking store, keyed by order UID. It is
// injected into the orchestrator rather than held as ambient state so
// mutation ownership is visible at every call site and tests can fake it.
//
// Filled returns zero for absent entries. Write applies every update
// atomically: either all of them become visible or none do.
type Ledger interface {
	Filled(uid order.UID) (*big.Int, error)
	PreSigned(uid order.UID) (bool, error)
	Write(w LedgerWrite) error
}

// LedgerWrite is one atomic batch of ledger mutations.
type LedgerWrite struct {
	// Fills sets cumulative fill values.
	Fills []FillUpdate
	// ClearFills deletes entries outright, reclaiming their storage.
	ClearFills []order.UID
	// PreSigns records or revokes pre-signatures.
	PreSigns []PreSignUpdate
	// ClearPreSigns deletes pre-signature records (storage reclaim).
	ClearPreSigns []order.UID
}

func (w *LedgerWrite) Empty() bool {
	return len(w.Fills) == 0 && len(w.ClearFills) == 0 &&
		len(w.PreSigns) == 0 && len(w.ClearPreSigns) == 0
}

type FillUpdate struct {
	UID    order.UID
	Amount *big.Int
}

type PreSignUpdate struct {
	UID    order.UID
	Signed bool
}

// ledgerView overlays pending fill updates on top of the persistent
// ledger for the duration of one batch. Reads see pending writes;
// nothing touches the store until the orchestrator commits, so a failed
// batch leaves no trace.
type ledgerView struct {
	store   Ledger
	pending map[order.UID]*big.Int
}

func newLedgerView(store Ledger) *ledgerView {
	return &ledgerView{store: store, pending: make(map[order.UID]*big.Int)}
}

func (v *ledgerView) filled(uid order.UID) (*big.Int, error) {
	if amt, ok := v.pending[uid]; ok {
		return amt, nil
	}
	return v.store.Filled(uid)
}

// setFilled stages a new cumulative value, enforcing the representable
// bound. Callers have already rejected overfills against the order
// amount, so in practice this bound never trips.
func (v *ledgerView) setFilled(uid order.UID, cumulative *big.Int) error {
	if cumulative.Cmp(maxUint256) > 0 {
		return fmt.Errorf("%w: cumulative fill exceeds uint256", ErrOverflow)
	}
	v.pending[uid] = cumulative
	return nil
}

// write returns the staged updates as one atomic ledger write.
func (v *ledgerView) write() LedgerWrite {
	var w LedgerWrite
	for uid, amt := range v.pending {
		w.Fills = append(w.Fills, FillUpdate{UID: uid, Amount: amt})
	}
	return w
}
