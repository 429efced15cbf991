package settlement

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solverforge/settler/pkg/order"
)

// Scheme selects how a trade's signature bytes authenticate the order.
// The set is closed; the verifier dispatches over it exhaustively.
type Scheme uint8

const (
	// SchemeEIP712: ECDSA signature over the domain-bound typed-data digest.
	SchemeEIP712 Scheme = iota
	// SchemeEthSign: ECDSA signature over the eth_sign-prefixed digest.
	SchemeEthSign
	// SchemeEIP1271: authorization delegated to a contract callback; the
	// first 20 signature bytes carry the claimed owner.
	SchemeEIP1271
	// SchemePreSign: authorization recorded ahead of time against the UID;
	// the signature bytes are exactly the 20-byte owner.
	SchemePreSign
)

func (s Scheme) String() string {
	switch s {
	case SchemeEIP712:
		return "eip712"
	case SchemeEthSign:
		return "ethsign"
	case SchemeEIP1271:
		return "eip1271"
	case SchemePreSign:
		return "presign"
	default:
		return "unknown"
	}
}

// Trade flag bits: bit 0 = kind (0 sell, 1 buy), bit 1 = partially
// fillable, bits 2-3 = signing scheme.
const (
	flagKindBuy           = 1 << 0
	flagPartiallyFillable = 1 << 1
	flagSchemeShift       = 2
	flagSchemeMask        = 0x3 << flagSchemeShift
)

// EncodeFlags packs order kind, fillability and signing scheme into the
// trade flag byte.
func EncodeFlags(kind order.Kind, partiallyFillable bool, scheme Scheme) uint8 {
	var f uint8
	if kind == order.Buy {
		f |= flagKindBuy
	}
	if partiallyFillable {
		f |= flagPartiallyFillable
	}
	f |= uint8(scheme) << flagSchemeShift
	return f
}

// Trade is one settlement-batch entry. Tokens are referenced by index
// into the batch token list, not by address.
type Trade struct {
	SellTokenIndex int
	BuyTokenIndex  int
	Receiver       common.Address
	SellAmount     *big.Int
	BuyAmount      *big.Int
	ValidTo        uint32
	AppData        common.Hash
	FeeAmount      *big.Int
	Flags          uint8
	// ExecutedAmount is the execution hint: ignored for fill-or-kill
	// orders, the executed sell amount for partially fillable sell orders,
	// the executed buy amount for partially fillable buy orders.
	ExecutedAmount *big.Int
	// FeeDiscount is subtracted from the proportional fee; must not
	// exceed it.
	FeeDiscount *big.Int
	Signature   []byte
}

func (t *Trade) Kind() order.Kind {
	if t.Flags&flagKindBuy != 0 {
		return order.Buy
	}
	return order.Sell
}

func (t *Trade) PartiallyFillable() bool {
	return t.Flags&flagPartiallyFillable != 0
}

func (t *Trade) Scheme() Scheme {
	return Scheme((t.Flags & flagSchemeMask) >> flagSchemeShift)
}

// OrderData reconstructs the canonical order the trade claims a
// signature for, resolving token indices against the batch token list.
func (t *Trade) OrderData(tokens []common.Address) (order.Order, error) {
	if t.SellTokenIndex < 0 || t.SellTokenIndex >= len(tokens) {
		return order.Order{}, fmt.Errorf("%w: sell index %d of %d tokens", ErrInvalidTokenIndex, t.SellTokenIndex, len(tokens))
	}
	if t.BuyTokenIndex < 0 || t.BuyTokenIndex >= len(tokens) {
		return order.Order{}, fmt.Errorf("%w: buy index %d of %d tokens", ErrInvalidTokenIndex, t.BuyTokenIndex, len(tokens))
	}
	return order.Order{
		SellToken:         tokens[t.SellTokenIndex],
		BuyToken:          tokens[t.BuyTokenIndex],
		Receiver:          t.Receiver,
		SellAmount:        t.SellAmount,
		BuyAmount:         t.BuyAmount,
		ValidTo:           t.ValidTo,
		AppData:           t.AppData,
		FeeAmount:         t.FeeAmount,
		Kind:              t.Kind(),
		PartiallyFillable: t.PartiallyFillable(),
	}, nil
}

// RecoveredOrder is a verified runtime view of an order: the order data
// plus the authenticated owner and derived UID. Only the Verifier
// constructs these.
type RecoveredOrder struct {
	Order order.Order
	Owner common.Address
	UID   order.UID
}

// Receiver resolves the order's receiver sentinel against the owner.
func (r *RecoveredOrder) Receiver() common.Address {
	return r.Order.ActualReceiver(r.Owner)
}

// TradeExecution is the computed in/out flow for one trade. Ephemeral:
// produced per settlement call, consumed by the transfer steps, never
// persisted.
type TradeExecution struct {
	Owner     common.Address
	Receiver  common.Address
	SellToken common.Address
	BuyToken  common.Address
	// SellAmount is the amount pulled from the owner: executed sell
	// amount plus the net fee, both in the sell token.
	SellAmount *big.Int
	// BuyAmount is the amount pushed to the receiver.
	BuyAmount *big.Int
}
