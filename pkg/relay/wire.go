package relay

import (
	"bytes"
	"encoding/gob"
	"math/big"
)

func init() {
	gob.Register(TradeWire{})
	gob.Register(SettlementWire{})
	gob.Register(OrderWire{})
}

// TradeWire is the gossip form of a committed trade.
type TradeWire struct {
	UID        []byte
	Owner      [20]byte
	SellToken  [20]byte
	BuyToken   [20]byte
	SellAmount *big.Int
	BuyAmount  *big.Int
	NetFee     *big.Int
}

// SettlementWire announces a committed batch.
type SettlementWire struct {
	Solver [20]byte
}

// OrderWire carries invalidations and pre-signature flips.
type OrderWire struct {
	Kind   string // "invalidated" or "presign"
	Owner  [20]byte
	UID    []byte
	Signed bool
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
