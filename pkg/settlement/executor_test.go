package settlement

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solverforge/settler/pkg/order"
)

// memLedger is the in-memory Ledger fake every settlement test runs
// against.
type memLedger struct {
	fills    map[order.UID]*big.Int
	presigns map[order.UID]bool
	writeErr error
}

func newMemLedger() *memLedger {
	return &memLedger{
		fills:    make(map[order.UID]*big.Int),
		presigns: make(map[order.UID]bool),
	}
}

func (m *memLedger) Filled(uid order.UID) (*big.Int, error) {
	if amt, ok := m.fills[uid]; ok {
		return new(big.Int).Set(amt), nil
	}
	return new(big.Int), nil
}

func (m *memLedger) PreSigned(uid order.UID) (bool, error) {
	return m.presigns[uid], nil
}

func (m *memLedger) Write(w LedgerWrite) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	for _, f := range w.Fills {
		m.fills[f.UID] = new(big.Int).Set(f.Amount)
	}
	for _, uid := range w.ClearFills {
		delete(m.fills, uid)
	}
	for _, p := range w.PreSigns {
		if p.Signed {
			m.presigns[p.UID] = true
		} else {
			delete(m.presigns, p.UID)
		}
	}
	for _, uid := range w.ClearPreSigns {
		delete(m.presigns, uid)
	}
	return nil
}

const testNow = uint32(1_000_000)

func recovered(o order.Order) *RecoveredOrder {
	owner := common.HexToAddress("0x0000000000000000000000000000000000000011")
	return &RecoveredOrder{
		Order: o,
		Owner: owner,
		UID:   order.ComputeUID(common.HexToHash("0xabc1"), owner, o.ValidTo),
	}
}

func sellOrder(sell, buy, fee int64, partial bool) order.Order {
	return order.Order{
		SellToken:         common.HexToAddress("0xA0"),
		BuyToken:          common.HexToAddress("0xB0"),
		SellAmount:        big.NewInt(sell),
		BuyAmount:         big.NewInt(buy),
		ValidTo:           testNow + 100,
		FeeAmount:         big.NewInt(fee),
		Kind:              order.Sell,
		PartiallyFillable: partial,
	}
}

func TestExecuteFillOrKillSell(t *testing.T) {
	// sell 100 for at least 200, fee 1, prices sell=2 buy=1.
	// Limit: 100*2 >= 200*1 holds with equality. Full fill: pulled
	// amount is 100 + 1 fee, delivered amount floor(100*2/1) = 200.
	view := newLedgerView(newMemLedger())
	ro := recovered(sellOrder(100, 200, 1, false))

	exec, ev, err := executeTrade(ro, big.NewInt(2), big.NewInt(1), big.NewInt(999), nil, view, testNow)
	if err != nil {
		t.Fatalf("executeTrade: %v", err)
	}

	if exec.SellAmount.Cmp(big.NewInt(101)) != 0 {
		t.Errorf("sell amount = %s, want 101", exec.SellAmount)
	}
	if exec.BuyAmount.Cmp(big.NewInt(200)) != 0 {
		t.Errorf("buy amount = %s, want 200", exec.BuyAmount)
	}
	if ev.NetFee.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("net fee = %s, want 1", ev.NetFee)
	}

	// Fill-or-kill records the full sell amount regardless of the hint.
	filled, _ := view.filled(ro.UID)
	if filled.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("cumulative fill = %s, want 100", filled)
	}
}

func TestExecutePartialSell(t *testing.T) {
	// Half fill of the same order: executed sell 50, proportional fee
	// floor(1*50/100) = 0, delivered floor(50*2/1) = 100.
	view := newLedgerView(newMemLedger())
	ro := recovered(sellOrder(100, 200, 1, true))

	exec, ev, err := executeTrade(ro, big.NewInt(2), big.NewInt(1), big.NewInt(50), nil, view, testNow)
	if err != nil {
		t.Fatalf("executeTrade: %v", err)
	}

	if exec.SellAmount.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("sell amount = %s, want 50", exec.SellAmount)
	}
	if exec.BuyAmount.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("buy amount = %s, want 100", exec.BuyAmount)
	}
	if ev.NetFee.Sign() != 0 {
		t.Errorf("net fee = %s, want 0", ev.NetFee)
	}

	filled, _ := view.filled(ro.UID)
	if filled.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("cumulative fill = %s, want 50", filled)
	}
}

func TestExecutePartialBuy(t *testing.T) {
	// Buy order quoted in the buy amount: executed buy 100 of 200,
	// fee floor(2*100/200) = 1, pulled floor(100*1/2) = 50 + fee.
	o := order.Order{
		SellToken:         common.HexToAddress("0xA0"),
		BuyToken:          common.HexToAddress("0xB0"),
		SellAmount:        big.NewInt(100),
		BuyAmount:         big.NewInt(200),
		ValidTo:           testNow + 100,
		FeeAmount:         big.NewInt(2),
		Kind:              order.Buy,
		PartiallyFillable: true,
	}
	view := newLedgerView(newMemLedger())
	ro := recovered(o)

	exec, _, err := executeTrade(ro, big.NewInt(2), big.NewInt(1), big.NewInt(100), nil, view, testNow)
	if err != nil {
		t.Fatalf("executeTrade: %v", err)
	}

	if exec.BuyAmount.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("buy amount = %s, want 100", exec.BuyAmount)
	}
	// executedSell = floor(100*1/2) = 50, plus net fee 1.
	if exec.SellAmount.Cmp(big.NewInt(51)) != 0 {
		t.Errorf("sell amount = %s, want 51", exec.SellAmount)
	}

	// Buy orders accumulate fill in buy-amount units.
	filled, _ := view.filled(ro.UID)
	if filled.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("cumulative fill = %s, want 100", filled)
	}
}

func TestExecuteExpired(t *testing.T) {
	view := newLedgerView(newMemLedger())
	o := sellOrder(100, 200, 1, false)
	o.ValidTo = testNow - 1
	_, _, err := executeTrade(recovered(o), big.NewInt(2), big.NewInt(1), nil, nil, view, testNow)
	if !errors.Is(err, ErrOrderExpired) {
		t.Errorf("err = %v, want ErrOrderExpired", err)
	}
}

func TestExecuteAtExpiryBoundary(t *testing.T) {
	// ValidTo == now is still valid.
	view := newLedgerView(newMemLedger())
	o := sellOrder(100, 200, 1, false)
	o.ValidTo = testNow
	if _, _, err := executeTrade(recovered(o), big.NewInt(2), big.NewInt(1), nil, nil, view, testNow); err != nil {
		t.Errorf("order at expiry boundary rejected: %v", err)
	}
}

func TestExecuteLimitPriceViolation(t *testing.T) {
	// 100*1 < 200*1: clearing prices worse than the signed rate.
	view := newLedgerView(newMemLedger())
	ro := recovered(sellOrder(100, 200, 1, false))
	_, _, err := executeTrade(ro, big.NewInt(1), big.NewInt(1), nil, nil, view, testNow)
	if !errors.Is(err, ErrLimitPriceViolation) {
		t.Errorf("err = %v, want ErrLimitPriceViolation", err)
	}
}

func TestExecuteOverfill(t *testing.T) {
	ledger := newMemLedger()
	ro := recovered(sellOrder(100, 200, 1, true))
	ledger.fills[ro.UID] = big.NewInt(60)

	view := newLedgerView(ledger)
	_, _, err := executeTrade(ro, big.NewInt(2), big.NewInt(1), big.NewInt(50), nil, view, testNow)
	if !errors.Is(err, ErrOrderOverfilled) {
		t.Errorf("err = %v, want ErrOrderOverfilled", err)
	}

	// Exactly up to the cap is fine.
	view = newLedgerView(ledger)
	if _, _, err := executeTrade(ro, big.NewInt(2), big.NewInt(1), big.NewInt(40), nil, view, testNow); err != nil {
		t.Errorf("fill to cap rejected: %v", err)
	}
}

func TestExecuteInvalidatedOrder(t *testing.T) {
	// An invalidated order stores the sentinel, so any execution trips
	// the overfill check.
	ledger := newMemLedger()
	ro := recovered(sellOrder(100, 200, 1, false))
	ledger.fills[ro.UID] = new(big.Int).Set(maxUint256)

	view := newLedgerView(ledger)
	_, _, err := executeTrade(ro, big.NewInt(2), big.NewInt(1), nil, nil, view, testNow)
	if !errors.Is(err, ErrOrderOverfilled) {
		t.Errorf("err = %v, want ErrOrderOverfilled", err)
	}
}

func TestExecuteFeeDiscount(t *testing.T) {
	view := newLedgerView(newMemLedger())
	ro := recovered(sellOrder(100, 200, 10, false))

	exec, ev, err := executeTrade(ro, big.NewInt(2), big.NewInt(1), nil, big.NewInt(4), view, testNow)
	if err != nil {
		t.Fatalf("executeTrade: %v", err)
	}
	if ev.NetFee.Cmp(big.NewInt(6)) != 0 {
		t.Errorf("net fee = %s, want 6", ev.NetFee)
	}
	if exec.SellAmount.Cmp(big.NewInt(106)) != 0 {
		t.Errorf("sell amount = %s, want 106", exec.SellAmount)
	}
}

func TestExecuteFeeDiscountTooLarge(t *testing.T) {
	view := newLedgerView(newMemLedger())
	ro := recovered(sellOrder(100, 200, 10, false))
	_, _, err := executeTrade(ro, big.NewInt(2), big.NewInt(1), nil, big.NewInt(11), view, testNow)
	if !errors.Is(err, ErrFeeDiscountTooLarge) {
		t.Errorf("err = %v, want ErrFeeDiscountTooLarge", err)
	}
}

func TestExecuteOverflow(t *testing.T) {
	huge := new(big.Int).Set(maxUint256)
	o := order.Order{
		SellToken:         common.HexToAddress("0xA0"),
		BuyToken:          common.HexToAddress("0xB0"),
		SellAmount:        huge,
		BuyAmount:         big.NewInt(1),
		ValidTo:           testNow + 100,
		FeeAmount:         big.NewInt(0),
		Kind:              order.Sell,
		PartiallyFillable: false,
	}
	view := newLedgerView(newMemLedger())
	_, _, err := executeTrade(recovered(o), big.NewInt(2), big.NewInt(1), nil, nil, view, testNow)
	if !errors.Is(err, ErrOverflow) {
		t.Errorf("err = %v, want ErrOverflow", err)
	}
}

func TestExecuteNegativeHintRejected(t *testing.T) {
	view := newLedgerView(newMemLedger())
	ro := recovered(sellOrder(100, 200, 1, true))
	_, _, err := executeTrade(ro, big.NewInt(2), big.NewInt(1), big.NewInt(-1), nil, view, testNow)
	if !errors.Is(err, ErrOverflow) {
		t.Errorf("err = %v, want ErrOverflow", err)
	}
}

func TestLedgerViewIsolation(t *testing.T) {
	// Staged fills are visible through the view but never touch the
	// store until the orchestrator commits the write.
	ledger := newMemLedger()
	view := newLedgerView(ledger)
	uid := order.ComputeUID(common.HexToHash("0x01"), common.HexToAddress("0x02"), 3)

	if err := view.setFilled(uid, big.NewInt(42)); err != nil {
		t.Fatalf("setFilled: %v", err)
	}

	got, _ := view.filled(uid)
	if got.Cmp(big.NewInt(42)) != 0 {
		t.Errorf("view read = %s, want 42", got)
	}
	stored, _ := ledger.Filled(uid)
	if stored.Sign() != 0 {
		t.Errorf("store mutated before commit: %s", stored)
	}

	w := view.write()
	if len(w.Fills) != 1 {
		t.Fatalf("write has %d fills, want 1", len(w.Fills))
	}
}
