package settlement

import "errors"

// Every failure below is fatal to the enclosing call: there is no partial
// commit and no retry. The submitting solver corrects and resubmits.
var (
	// ErrUnauthorized: the caller is not an approved solver.
	ErrUnauthorized = errors.New("caller is not an authorized solver")
	// ErrReentrantCall: an interaction attempted to re-enter the
	// orchestrator while a settlement was in flight.
	ErrReentrantCall = errors.New("reentrant settlement call")
	// ErrInvalidSignature: recovery failed, the recovered address is the
	// zero sentinel, or a contract/pre-sign check came back negative.
	ErrInvalidSignature = errors.New("invalid order signature")
	// ErrInvalidTokenIndex: a trade references a token outside the
	// settlement's token list.
	ErrInvalidTokenIndex = errors.New("trade token index out of range")

	// ErrInvalidClearingPrice: the price vector does not line up with the
	// token list or carries a non-positive price.
	ErrInvalidClearingPrice = errors.New("invalid clearing price vector")

	ErrOrderExpired        = errors.New("order expired")
	ErrLimitPriceViolation = errors.New("clearing prices violate order limit price")
	ErrOrderOverfilled     = errors.New("order would be overfilled")
	ErrFeeDiscountTooLarge = errors.New("fee discount exceeds executed fee")
	// ErrOrderStillValid: storage reclaim requested for an order that has
	// not yet expired.
	ErrOrderStillValid = errors.New("order still valid, cannot reclaim")
	// ErrForbiddenInteraction: an interaction targets the custody vault.
	ErrForbiddenInteraction = errors.New("interaction targets forbidden address")
	// ErrNoInteractionHost: the batch carries interactions but the engine
	// has no external caller to dispatch them through.
	ErrNoInteractionHost = errors.New("no interaction host configured")
	ErrTransferFailed       = errors.New("token transfer failed")
	// ErrOverflow: an intermediate product or the cumulative fill left the
	// representable uint256 range. Practically unreachable for bounded
	// order amounts, checked anyway.
	ErrOverflow = errors.New("arithmetic overflow")

	// Fast-path amount checks.
	ErrBuyAmountTooLow    = errors.New("swap delivered less than the order buy amount")
	ErrSellAmountTooHigh  = errors.New("swap pulled more than the order sell amount plus fee")
	ErrBuyAmountMismatch  = errors.New("swap delivery does not match the buy order amount")
	ErrSellAmountMismatch = errors.New("swap pull does not match the sell order amount plus fee")
)
