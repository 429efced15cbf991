package settlement

import (
	"fmt"
	"math/big"

	"github.com/solverforge/settler/pkg/order"
)

// checkedMul multiplies two non-negative amounts, rejecting products
// outside the uint256 range. Multiplication always happens before the
// truncating division so no precision is lost.
func checkedMul(a, b *big.Int) (*big.Int, error) {
	p := new(big.Int).Mul(a, b)
	if p.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("%w: %s * %s", ErrOverflow, a, b)
	}
	return p, nil
}

// floorDiv divides with floor semantics, refusing a zero denominator.
func floorDiv(num, den *big.Int) (*big.Int, error) {
	if den.Sign() == 0 {
		return nil, fmt.Errorf("%w: division by zero", ErrOverflow)
	}
	return new(big.Int).Quo(num, den), nil
}

// executeTrade derives the executed sell/buy/fee amounts for one
// recovered order under the batch clearing prices, enforces the
// per-order invariants and stages the fill-ledger update.
//
// The checks run in a fixed sequence; the first violation aborts the
// entire batch:
//  1. expiry
//  2. limit price (cross-multiplied, overflow-checked)
//  3. amount derivation by kind and fillability
//  4. overfill guard against the ledger
//  5. fee discount bound
func executeTrade(
	ro *RecoveredOrder,
	sellPrice, buyPrice *big.Int,
	executedAmount, feeDiscount *big.Int,
	ledger *ledgerView,
	now uint32,
) (TradeExecution, TradeEvent, error) {
	o := &ro.Order

	if executedAmount == nil {
		executedAmount = new(big.Int)
	}
	if feeDiscount == nil {
		feeDiscount = new(big.Int)
	}
	if executedAmount.Sign() < 0 || feeDiscount.Sign() < 0 {
		return TradeExecution{}, TradeEvent{}, fmt.Errorf("%w: negative amount", ErrOverflow)
	}

	if o.ValidTo < now {
		return TradeExecution{}, TradeEvent{}, fmt.Errorf("%w: uid %s valid to %d, now %d", ErrOrderExpired, ro.UID, o.ValidTo, now)
	}

	// Limit price: sellAmount * sellPrice >= buyAmount * buyPrice.
	// Cross-multiplication is the economic guarantee the trader gets at
	// least their signed exchange rate, without ever dividing.
	sellValue, err := checkedMul(o.SellAmount, sellPrice)
	if err != nil {
		return TradeExecution{}, TradeEvent{}, err
	}
	buyValue, err := checkedMul(o.BuyAmount, buyPrice)
	if err != nil {
		return TradeExecution{}, TradeEvent{}, err
	}
	if sellValue.Cmp(buyValue) < 0 {
		return TradeExecution{}, TradeEvent{}, fmt.Errorf("%w: uid %s", ErrLimitPriceViolation, ro.UID)
	}

	var executedSell, executedBuy, executedFee *big.Int
	switch {
	case !o.PartiallyFillable:
		// Fill-or-kill: the hint is ignored, the order trades in full.
		executedSell = o.SellAmount
		executedBuy = o.BuyAmount
		executedFee = o.FeeAmount

	case o.Kind == order.Sell:
		executedSell = executedAmount
		product, err := checkedMul(o.FeeAmount, executedSell)
		if err != nil {
			return TradeExecution{}, TradeEvent{}, err
		}
		if executedFee, err = floorDiv(product, o.SellAmount); err != nil {
			return TradeExecution{}, TradeEvent{}, err
		}
		if product, err = checkedMul(executedSell, sellPrice); err != nil {
			return TradeExecution{}, TradeEvent{}, err
		}
		if executedBuy, err = floorDiv(product, buyPrice); err != nil {
			return TradeExecution{}, TradeEvent{}, err
		}

	default: // partially fillable buy order
		executedBuy = executedAmount
		product, err := checkedMul(o.FeeAmount, executedBuy)
		if err != nil {
			return TradeExecution{}, TradeEvent{}, err
		}
		if executedFee, err = floorDiv(product, o.BuyAmount); err != nil {
			return TradeExecution{}, TradeEvent{}, err
		}
		if product, err = checkedMul(executedBuy, buyPrice); err != nil {
			return TradeExecution{}, TradeEvent{}, err
		}
		if executedSell, err = floorDiv(product, sellPrice); err != nil {
			return TradeExecution{}, TradeEvent{}, err
		}
	}

	// Overfill guard. The cumulative counter tracks sell amounts for
	// sell orders and buy amounts for buy orders; an invalidated order
	// reads as the max sentinel and always trips this check.
	filled, err := ledger.filled(ro.UID)
	if err != nil {
		return TradeExecution{}, TradeEvent{}, err
	}
	var delta, capAmount *big.Int
	if o.Kind == order.Sell {
		delta, capAmount = executedSell, o.SellAmount
	} else {
		delta, capAmount = executedBuy, o.BuyAmount
	}
	cumulative := new(big.Int).Add(filled, delta)
	if cumulative.Cmp(capAmount) > 0 {
		return TradeExecution{}, TradeEvent{}, fmt.Errorf("%w: uid %s filled %s + %s > %s", ErrOrderOverfilled, ro.UID, filled, delta, capAmount)
	}
	if err := ledger.setFilled(ro.UID, cumulative); err != nil {
		return TradeExecution{}, TradeEvent{}, err
	}

	if feeDiscount.Cmp(executedFee) > 0 {
		return TradeExecution{}, TradeEvent{}, fmt.Errorf("%w: uid %s discount %s > fee %s", ErrFeeDiscountTooLarge, ro.UID, feeDiscount, executedFee)
	}
	netFee := new(big.Int).Sub(executedFee, feeDiscount)

	// The fee is paid in the sell token on top of the traded amount.
	finalSell := new(big.Int).Add(executedSell, netFee)
	if finalSell.Cmp(maxUint256) > 0 {
		return TradeExecution{}, TradeEvent{}, fmt.Errorf("%w: final sell amount", ErrOverflow)
	}

	exec := TradeExecution{
		Owner:      ro.Owner,
		Receiver:   ro.Receiver(),
		SellToken:  o.SellToken,
		BuyToken:   o.BuyToken,
		SellAmount: finalSell,
		BuyAmount:  executedBuy,
	}
	event := TradeEvent{
		Owner:      ro.Owner,
		SellToken:  o.SellToken,
		BuyToken:   o.BuyToken,
		SellAmount: finalSell,
		BuyAmount:  executedBuy,
		NetFee:     netFee,
		UID:        ro.UID,
	}
	return exec, event, nil
}
