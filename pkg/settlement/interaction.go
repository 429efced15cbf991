package settlement

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Interaction is an arbitrary external call staged at a defined point in
// the settlement sequence. The engine never interprets the payload; it
// only enforces the forbidden-target rule before dispatch.
type Interaction struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

// Selector returns the first 4 bytes of the call payload, or zero if the
// payload is shorter. Only used for event reporting.
func (i Interaction) Selector() [4]byte {
	var sel [4]byte
	if len(i.CallData) >= 4 {
		copy(sel[:], i.CallData[:4])
	}
	return sel
}

// ExternalCaller dispatches staged interactions. Implementations decide
// what a call means (a devnet host registers Go handlers per target); the
// orchestrator only guarantees ordering and the forbidden-target check.
type ExternalCaller interface {
	Call(target common.Address, value *big.Int, callData []byte) error
}

// ExternalCallerFunc adapts a function to the ExternalCaller interface.
type ExternalCallerFunc func(target common.Address, value *big.Int, callData []byte) error

func (f ExternalCallerFunc) Call(target common.Address, value *big.Int, callData []byte) error {
	return f(target, value, callData)
}
