package api

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/solverforge/settler/pkg/order"
	"github.com/solverforge/settler/pkg/settlement"
)

// SignedRequest wraps a payload with the submitter's secp256k1 signature
// over keccak256(payload bytes). The recovered address is the caller the
// engine authenticates against its solver allow list.
type SignedRequest struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// BatchPayload is the wire form of a full settlement batch. Amounts
// travel as decimal strings.
type BatchPayload struct {
	Tokens         []string                `json:"tokens"`
	ClearingPrices []string                `json:"clearingPrices"`
	Trades         []TradePayload          `json:"trades"`
	Interactions   [3][]InteractionPayload `json:"interactions"`
	Refunds        RefundPayload           `json:"refunds"`
}

type TradePayload struct {
	SellTokenIndex int    `json:"sellTokenIndex"`
	BuyTokenIndex  int    `json:"buyTokenIndex"`
	Receiver       string `json:"receiver"`
	SellAmount     string `json:"sellAmount"`
	BuyAmount      string `json:"buyAmount"`
	ValidTo        uint32 `json:"validTo"`
	AppData        string `json:"appData"`
	FeeAmount      string `json:"feeAmount"`
	Flags          uint8  `json:"flags"`
	ExecutedAmount string `json:"executedAmount,omitempty"`
	FeeDiscount    string `json:"feeDiscount,omitempty"`
	Signature      string `json:"signature"`
}

type InteractionPayload struct {
	Target   string `json:"target"`
	Value    string `json:"value,omitempty"`
	CallData string `json:"callData,omitempty"`
}

type RefundPayload struct {
	FilledAmounts []string `json:"filledAmounts,omitempty"`
	PreSignatures []string `json:"preSignatures,omitempty"`
}

// SwapPayload is the wire form of a fast-path call.
type SwapPayload struct {
	Tokens       []string                `json:"tokens"`
	Trade        TradePayload            `json:"trade"`
	Transfers    []TargetTransferPayload `json:"transfers"`
	Interactions []InteractionPayload    `json:"interactions"`
}

type TargetTransferPayload struct {
	Target string `json:"target"`
	Amount string `json:"amount"`
}

type InvalidateRequest struct {
	UID       string `json:"uid"`
	Signature string `json:"signature"`
}

type PreSignRequest struct {
	UID       string `json:"uid"`
	Signed    bool   `json:"signed"`
	Signature string `json:"signature"`
}

// OrderStatus reports an order's ledger state.
type OrderStatus struct {
	UID         string `json:"uid"`
	Owner       string `json:"owner"`
	ValidTo     uint32 `json:"validTo"`
	Filled      string `json:"filled"`
	Invalidated bool   `json:"invalidated"`
	PreSigned   bool   `json:"preSigned"`
}

type SubmitResponse struct {
	Status string `json:"status"`
	Solver string `json:"solver"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is the subscription control message on /ws.
// Channels: trades, settlements, interactions, orders.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func (p *BatchPayload) ToBatch() (settlement.Batch, error) {
	var b settlement.Batch
	for _, t := range p.Tokens {
		addr, err := parseAddress(t)
		if err != nil {
			return b, err
		}
		b.Tokens = append(b.Tokens, addr)
	}
	for _, s := range p.ClearingPrices {
		price, err := parseAmount(s)
		if err != nil {
			return b, err
		}
		b.ClearingPrices = append(b.ClearingPrices, price)
	}
	for i := range p.Trades {
		trade, err := p.Trades[i].ToTrade()
		if err != nil {
			return b, fmt.Errorf("trade %d: %w", i, err)
		}
		b.Trades = append(b.Trades, trade)
	}
	for stage := 0; stage < 3; stage++ {
		for i := range p.Interactions[stage] {
			in, err := p.Interactions[stage][i].ToInteraction()
			if err != nil {
				return b, fmt.Errorf("interaction stage %d entry %d: %w", stage, i, err)
			}
			b.Interactions[stage] = append(b.Interactions[stage], in)
		}
	}
	var err error
	if b.Refunds.FilledAmounts, err = parseUIDs(p.Refunds.FilledAmounts); err != nil {
		return b, err
	}
	if b.Refunds.PreSignatures, err = parseUIDs(p.Refunds.PreSignatures); err != nil {
		return b, err
	}
	return b, nil
}

func (p *TradePayload) ToTrade() (settlement.Trade, error) {
	var t settlement.Trade
	t.SellTokenIndex = p.SellTokenIndex
	t.BuyTokenIndex = p.BuyTokenIndex
	t.ValidTo = p.ValidTo
	t.Flags = p.Flags

	var err error
	if p.Receiver != "" {
		if t.Receiver, err = parseAddress(p.Receiver); err != nil {
			return t, err
		}
	}
	if t.SellAmount, err = parseAmount(p.SellAmount); err != nil {
		return t, err
	}
	if t.BuyAmount, err = parseAmount(p.BuyAmount); err != nil {
		return t, err
	}
	if t.FeeAmount, err = parseAmount(p.FeeAmount); err != nil {
		return t, err
	}
	if t.ExecutedAmount, err = parseAmount(p.ExecutedAmount); err != nil {
		return t, err
	}
	if t.FeeDiscount, err = parseAmount(p.FeeDiscount); err != nil {
		return t, err
	}
	if p.AppData != "" {
		t.AppData = common.HexToHash(p.AppData)
	}
	if t.Signature, err = hexutil.Decode(p.Signature); err != nil {
		return t, fmt.Errorf("invalid signature hex: %w", err)
	}
	return t, nil
}

func (p *InteractionPayload) ToInteraction() (settlement.Interaction, error) {
	var in settlement.Interaction
	var err error
	if in.Target, err = parseAddress(p.Target); err != nil {
		return in, err
	}
	if in.Value, err = parseAmount(p.Value); err != nil {
		return in, err
	}
	if p.CallData != "" {
		if in.CallData, err = hexutil.Decode(p.CallData); err != nil {
			return in, fmt.Errorf("invalid call data hex: %w", err)
		}
	}
	return in, nil
}

func (p *SwapPayload) ToSwap() (settlement.SwapRequest, error) {
	var req settlement.SwapRequest
	for _, t := range p.Tokens {
		addr, err := parseAddress(t)
		if err != nil {
			return req, err
		}
		req.Tokens = append(req.Tokens, addr)
	}
	trade, err := p.Trade.ToTrade()
	if err != nil {
		return req, err
	}
	req.Trade = trade
	for i := range p.Transfers {
		target, err := parseAddress(p.Transfers[i].Target)
		if err != nil {
			return req, fmt.Errorf("transfer %d: %w", i, err)
		}
		amount, err := parseAmount(p.Transfers[i].Amount)
		if err != nil {
			return req, fmt.Errorf("transfer %d: %w", i, err)
		}
		req.Transfers = append(req.Transfers, settlement.TargetTransfer{Target: target, Amount: amount})
	}
	for i := range p.Interactions {
		in, err := p.Interactions[i].ToInteraction()
		if err != nil {
			return req, fmt.Errorf("interaction %d: %w", i, err)
		}
		req.Interactions = append(req.Interactions, in)
	}
	return req, nil
}

func parseUIDs(hexes []string) ([]order.UID, error) {
	var uids []order.UID
	for _, s := range hexes {
		uid, err := order.UIDFromHex(s)
		if err != nil {
			return nil, err
		}
		uids = append(uids, uid)
	}
	return uids, nil
}
