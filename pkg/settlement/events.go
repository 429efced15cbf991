package settlement

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/solverforge/settler/pkg/order"
)

// TradeEvent records one settled trade: who traded what, the final
// amounts after fee accounting, and the order's UID.
type TradeEvent struct {
	Owner      common.Address
	SellToken  common.Address
	BuyToken   common.Address
	SellAmount *big.Int
	BuyAmount  *big.Int
	NetFee     *big.Int
	UID        order.UID
}

// InteractionEvent records one executed staged interaction. Only the
// 4-byte selector of the payload is reported.
type InteractionEvent struct {
	Target   common.Address
	Value    *big.Int
	Selector [4]byte
}

// SettlementEvent marks completion of a full batch.
type SettlementEvent struct {
	Solver common.Address
}

type OrderInvalidatedEvent struct {
	Owner common.Address
	UID   order.UID
}

type PreSignatureEvent struct {
	Owner  common.Address
	UID    order.UID
	Signed bool
}

// EventSink observes settlement outcomes. Events for a batch are emitted
// only after the batch commits; a failed batch emits nothing.
type EventSink interface {
	Trade(e TradeEvent)
	Interaction(e InteractionEvent)
	Settlement(e SettlementEvent)
	OrderInvalidated(e OrderInvalidatedEvent)
	PreSignature(e PreSignatureEvent)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Trade(TradeEvent)                       {}
func (NopSink) Interaction(InteractionEvent)           {}
func (NopSink) Settlement(SettlementEvent)             {}
func (NopSink) OrderInvalidated(OrderInvalidatedEvent) {}
func (NopSink) PreSignature(PreSignatureEvent)         {}

// LogSink writes events to a zap logger.
type LogSink struct {
	Log *zap.SugaredLogger
}

func (s LogSink) Trade(e TradeEvent) {
	s.Log.Infow("trade_settled",
		"uid", e.UID.Hex(),
		"owner", e.Owner.Hex(),
		"sell_token", e.SellToken.Hex(),
		"buy_token", e.BuyToken.Hex(),
		"sell_amount", e.SellAmount.String(),
		"buy_amount", e.BuyAmount.String(),
		"net_fee", e.NetFee.String())
}

func (s LogSink) Interaction(e InteractionEvent) {
	s.Log.Infow("interaction_executed",
		"target", e.Target.Hex(),
		"value", e.Value.String(),
		"selector", common.Bytes2Hex(e.Selector[:]))
}

func (s LogSink) Settlement(e SettlementEvent) {
	s.Log.Infow("settlement_completed", "solver", e.Solver.Hex())
}

func (s LogSink) OrderInvalidated(e OrderInvalidatedEvent) {
	s.Log.Infow("order_invalidated", "owner", e.Owner.Hex(), "uid", e.UID.Hex())
}

func (s LogSink) PreSignature(e PreSignatureEvent) {
	s.Log.Infow("pre_signature", "owner", e.Owner.Hex(), "uid", e.UID.Hex(), "signed", e.Signed)
}

// MultiSink fans events out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Trade(e TradeEvent) {
	for _, s := range m {
		s.Trade(e)
	}
}

func (m MultiSink) Interaction(e InteractionEvent) {
	for _, s := range m {
		s.Interaction(e)
	}
}

func (m MultiSink) Settlement(e SettlementEvent) {
	for _, s := range m {
		s.Settlement(e)
	}
}

func (m MultiSink) OrderInvalidated(e OrderInvalidatedEvent) {
	for _, s := range m {
		s.OrderInvalidated(e)
	}
}

func (m MultiSink) PreSignature(e PreSignatureEvent) {
	for _, s := range m {
		s.PreSignature(e)
	}
}

// eventBuffer queues events raised mid-batch so they surface only after
// the ledger commit.
type eventBuffer struct {
	events []func(EventSink)
}

func (b *eventBuffer) trade(e TradeEvent) {
	b.events = append(b.events, func(s EventSink) { s.Trade(e) })
}

func (b *eventBuffer) interaction(e InteractionEvent) {
	b.events = append(b.events, func(s EventSink) { s.Interaction(e) })
}

func (b *eventBuffer) settlement(e SettlementEvent) {
	b.events = append(b.events, func(s EventSink) { s.Settlement(e) })
}

func (b *eventBuffer) flush(sink EventSink) {
	for _, emit := range b.events {
		emit(sink)
	}
}
