package order

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Kind distinguishes orders quoted in their sell amount from orders
// quoted in their buy amount.
type Kind uint8

const (
	// Sell orders fix the sell amount; the buy amount is a lower bound.
	Sell Kind = iota
	// Buy orders fix the buy amount; the sell amount is an upper bound.
	Buy
)

func (k Kind) String() string {
	switch k {
	case Sell:
		return "sell"
	case Buy:
		return "buy"
	default:
		return "unknown"
	}
}

// ReceiverOwner is the receiver sentinel meaning "deliver proceeds to the
// order signer's own address".
var ReceiverOwner = common.Address{}

// Order is the canonical signed statement of willingness to trade.
// Immutable once signed; its identity (UID) is derived from the EIP-712
// digest, never stored in the struct itself.
type Order struct {
	SellToken common.Address
	BuyToken  common.Address
	// Receiver is where bought tokens are delivered. The zero address
	// means the owner receives them.
	Receiver   common.Address
	SellAmount *big.Int
	BuyAmount  *big.Int
	// ValidTo is the expiry as a Unix timestamp. The order may execute
	// while now <= ValidTo.
	ValidTo uint32
	// AppData is an opaque 32-byte tag carried into the signature but
	// never interpreted by the engine.
	AppData           common.Hash
	FeeAmount         *big.Int
	Kind              Kind
	PartiallyFillable bool
}

// ActualReceiver resolves the receiver sentinel against the authenticated
// owner address.
func (o *Order) ActualReceiver(owner common.Address) common.Address {
	if o.Receiver == ReceiverOwner {
		return owner
	}
	return o.Receiver
}
