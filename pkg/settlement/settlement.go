// Package settlement implements the batch trade-settlement core: order
// authentication, clearing-price execution accounting, the persistent
// fill ledger and the orchestration sequence that turns a solver's batch
// into verified token movements.
package settlement

import (
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/solverforge/settler/pkg/order"
	"github.com/solverforge/settler/pkg/util"
)

// Authenticator decides which callers may submit settlements. Consulted
// once per Settle/Swap call.
type Authenticator interface {
	IsSolver(addr common.Address) bool
}

// AllowList is the simplest Authenticator: a fixed address set.
type AllowList map[common.Address]struct{}

func NewAllowList(addrs ...common.Address) AllowList {
	a := make(AllowList, len(addrs))
	for _, addr := range addrs {
		a[addr] = struct{}{}
	}
	return a
}

func (a AllowList) IsSolver(addr common.Address) bool {
	_, ok := a[addr]
	return ok
}

// Transfer is one bulk-pull instruction: move Amount of Token from Owner
// into settlement holding.
type Transfer struct {
	Owner  common.Address
	Token  common.Address
	Amount *big.Int
}

// TargetTransfer is one fast-path pull leg: move Amount of the swap's
// sell token from the order owner to Target.
type TargetTransfer struct {
	Target common.Address
	Amount *big.Int
}

// Custody is the external component holding pre-approved transfer
// rights. Both operations are atomic all-or-nothing and propagate any
// underlying token failure.
type Custody interface {
	Address() common.Address
	TransferIn(transfers []Transfer) error
	TransferToTargets(token, owner common.Address, transfers []TargetTransfer) (*big.Int, error)
}

// TokenLedger moves and reads token balances. The orchestrator uses it to
// push bought amounts out of settlement holding and to snapshot receiver
// balances on the fast path.
type TokenLedger interface {
	Transfer(token, from, to common.Address, amount *big.Int) error
	BalanceOf(token, holder common.Address) (*big.Int, error)
}

// Snapshotter is an optional TokenLedger upgrade. When available, the
// orchestrator snapshots balances at entry and restores them on failure,
// giving the whole batch the all-or-nothing semantics a transactional
// host would provide.
type Snapshotter interface {
	Snapshot() (restore func())
}

// RefundRequest names ledger entries whose storage a batch reclaims.
// Every named order must be past expiry; an invalid request fails the
// whole batch rather than silently skipping.
type RefundRequest struct {
	FilledAmounts []order.UID
	PreSignatures []order.UID
}

// Batch is one full settlement call: a token list, a parallel
// clearing-price vector, trades referencing tokens by index, three
// interaction stages (pre, intra, post) and a storage refund request.
type Batch struct {
	Tokens         []common.Address
	ClearingPrices []*big.Int
	Trades         []Trade
	Interactions   [3][]Interaction
	Refunds        RefundRequest
}

// SwapRequest is the single-order fast path: explicit pull instructions
// instead of clearing prices, one interaction stage.
type SwapRequest struct {
	Tokens       []common.Address
	Trade        Trade
	Transfers    []TargetTransfer
	Interactions []Interaction
}

// Config wires an Engine. Self is the settlement holding address bought
// amounts are pushed from. Clock, Sink and Logger default to the real
// clock, a no-op sink and a no-op logger.
type Config struct {
	Self          common.Address
	Authenticator Authenticator
	Custody       Custody
	Tokens        TokenLedger
	Ledger        Ledger
	Verifier      *Verifier
	Caller        ExternalCaller
	Clock         util.Clock
	Sink          EventSink
	Logger        *zap.SugaredLogger
}

// Engine is the settlement orchestrator. A single Engine serializes all
// settlements: execution is strictly single-flight, and re-entry from a
// staged interaction is rejected outright.
type Engine struct {
	self     common.Address
	auth     Authenticator
	custody  Custody
	tokens   TokenLedger
	ledger   Ledger
	verifier *Verifier
	caller   ExternalCaller
	clock    util.Clock
	sink     EventSink
	log      *zap.SugaredLogger

	busy atomic.Bool
}

func NewEngine(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Engine{
		self:     cfg.Self,
		auth:     cfg.Authenticator,
		custody:  cfg.Custody,
		tokens:   cfg.Tokens,
		ledger:   cfg.Ledger,
		verifier: cfg.Verifier,
		caller:   cfg.Caller,
		clock:    cfg.Clock,
		sink:     cfg.Sink,
		log:      cfg.Logger,
	}
}

// Self returns the settlement holding address.
func (e *Engine) Self() common.Address { return e.self }

// SetSink replaces the event sink. Sinks that need the engine to exist
// first (the API server) are wired through this after construction.
// Call before serving traffic; not synchronized against Settle.
func (e *Engine) SetSink(s EventSink) {
	if s == nil {
		s = NopSink{}
	}
	e.sink = s
}

// Filled returns the cumulative executed amount for an order UID, or the
// invalidation sentinel.
func (e *Engine) Filled(uid order.UID) (*big.Int, error) {
	return e.ledger.Filled(uid)
}

// PreSigned reports whether a pre-signature is on record for the UID.
func (e *Engine) PreSigned(uid order.UID) (bool, error) {
	return e.ledger.PreSigned(uid)
}

// Settle runs one full batch. Either every step succeeds and all effects
// commit together, or the call fails and no ledger or balance state
// changes. Events are emitted only after commit.
func (e *Engine) Settle(caller common.Address, b Batch) error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	defer e.busy.Store(false)

	if e.auth == nil || !e.auth.IsSolver(caller) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
	}

	var restore func()
	if snap, ok := e.tokens.(Snapshotter); ok {
		restore = snap.Snapshot()
	}

	buf := &eventBuffer{}
	write, err := e.settle(caller, b, buf)
	if err == nil && !write.Empty() {
		err = e.ledger.Write(write)
	}
	if err != nil {
		if restore != nil {
			restore()
		}
		e.log.Warnw("settlement_rejected", "solver", caller.Hex(), "trades", len(b.Trades), "err", err)
		return err
	}

	buf.flush(e.sink)
	e.log.Infow("settlement_committed", "solver", caller.Hex(), "trades", len(b.Trades), "tokens", len(b.Tokens))
	return nil
}

func (e *Engine) settle(caller common.Address, b Batch, buf *eventBuffer) (LedgerWrite, error) {
	if len(b.Tokens) != len(b.ClearingPrices) {
		return LedgerWrite{}, fmt.Errorf("%w: %d tokens, %d prices", ErrInvalidClearingPrice, len(b.Tokens), len(b.ClearingPrices))
	}
	for i, p := range b.ClearingPrices {
		if p == nil || p.Sign() <= 0 {
			return LedgerWrite{}, fmt.Errorf("%w: price[%d]", ErrInvalidClearingPrice, i)
		}
	}
	now := uint32(e.clock.Now().Unix())

	if err := e.runInteractions(b.Interactions[0], buf); err != nil {
		return LedgerWrite{}, err
	}

	// Recover and compute every trade before any funds move. Any
	// per-trade failure aborts the batch; there is no partial success.
	view := newLedgerView(e.ledger)
	execs := make([]TradeExecution, 0, len(b.Trades))
	for i := range b.Trades {
		t := &b.Trades[i]
		ro, err := e.verifier.Recover(b.Tokens, t)
		if err != nil {
			return LedgerWrite{}, fmt.Errorf("trade %d: %w", i, err)
		}
		exec, ev, err := executeTrade(
			ro,
			b.ClearingPrices[t.SellTokenIndex],
			b.ClearingPrices[t.BuyTokenIndex],
			t.ExecutedAmount,
			t.FeeDiscount,
			view,
			now,
		)
		if err != nil {
			return LedgerWrite{}, fmt.Errorf("trade %d: %w", i, err)
		}
		execs = append(execs, exec)
		buf.trade(ev)
	}

	// Pull every computed sell amount into settlement holding in one
	// bulk operation.
	transfers := make([]Transfer, len(execs))
	for i, x := range execs {
		transfers[i] = Transfer{Owner: x.Owner, Token: x.SellToken, Amount: x.SellAmount}
	}
	if len(transfers) > 0 {
		if err := e.custody.TransferIn(transfers); err != nil {
			return LedgerWrite{}, fmt.Errorf("%w: transfer in: %v", ErrTransferFailed, err)
		}
	}

	if err := e.runInteractions(b.Interactions[1], buf); err != nil {
		return LedgerWrite{}, err
	}

	// Push bought amounts to their receivers.
	for i, x := range execs {
		if err := e.tokens.Transfer(x.BuyToken, e.self, x.Receiver, x.BuyAmount); err != nil {
			return LedgerWrite{}, fmt.Errorf("%w: push for trade %d: %v", ErrTransferFailed, i, err)
		}
	}

	if err := e.runInteractions(b.Interactions[2], buf); err != nil {
		return LedgerWrite{}, err
	}

	write := view.write()
	if err := appendReclaims(&write.ClearFills, b.Refunds.FilledAmounts, now); err != nil {
		return LedgerWrite{}, err
	}
	if err := appendReclaims(&write.ClearPreSigns, b.Refunds.PreSignatures, now); err != nil {
		return LedgerWrite{}, err
	}

	buf.settlement(SettlementEvent{Solver: caller})
	return write, nil
}

// appendReclaims validates the expiry rule for a refund list. Reclaiming
// an unexpired order fails the batch; a silent no-op is not permitted.
func appendReclaims(dst *[]order.UID, uids []order.UID, now uint32) error {
	for _, uid := range uids {
		if now < uid.ValidTo() {
			return fmt.Errorf("%w: uid %s valid to %d, now %d", ErrOrderStillValid, uid, uid.ValidTo(), now)
		}
		*dst = append(*dst, uid)
	}
	return nil
}

// runInteractions dispatches one stage through the external caller. An
// engine without a caller rejects any batch carrying interactions: the
// event stream records executed calls only, never undispatched ones.
func (e *Engine) runInteractions(list []Interaction, buf *eventBuffer) error {
	for _, in := range list {
		if in.Target == e.custody.Address() {
			return fmt.Errorf("%w: %s", ErrForbiddenInteraction, in.Target.Hex())
		}
		if e.caller == nil {
			return fmt.Errorf("%w: %s", ErrNoInteractionHost, in.Target.Hex())
		}
		value := in.Value
		if value == nil {
			value = new(big.Int)
		}
		if err := e.caller.Call(in.Target, value, in.CallData); err != nil {
			return fmt.Errorf("interaction %s: %w", in.Target.Hex(), err)
		}
		buf.interaction(InteractionEvent{Target: in.Target, Value: value, Selector: in.Selector()})
	}
	return nil
}

// Swap is the single-order fast path. It bypasses clearing-price
// computation: the solver supplies explicit pull legs, and the executed
// buy amount is observed as the receiver's balance delta across the
// staged interactions. The order always fills in full.
func (e *Engine) Swap(caller common.Address, req SwapRequest) error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	defer e.busy.Store(false)

	if e.auth == nil || !e.auth.IsSolver(caller) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
	}

	var restore func()
	if snap, ok := e.tokens.(Snapshotter); ok {
		restore = snap.Snapshot()
	}

	buf := &eventBuffer{}
	write, err := e.swap(req, buf)
	if err == nil {
		err = e.ledger.Write(write)
	}
	if err != nil {
		if restore != nil {
			restore()
		}
		e.log.Warnw("swap_rejected", "solver", caller.Hex(), "err", err)
		return err
	}

	buf.flush(e.sink)
	e.log.Infow("swap_committed", "solver", caller.Hex())
	return nil
}

func (e *Engine) swap(req SwapRequest, buf *eventBuffer) (LedgerWrite, error) {
	ro, err := e.verifier.Recover(req.Tokens, &req.Trade)
	if err != nil {
		return LedgerWrite{}, err
	}
	o := &ro.Order

	now := uint32(e.clock.Now().Unix())
	if o.ValidTo < now {
		return LedgerWrite{}, fmt.Errorf("%w: uid %s", ErrOrderExpired, ro.UID)
	}

	feeDiscount := req.Trade.FeeDiscount
	if feeDiscount == nil {
		feeDiscount = new(big.Int)
	}
	if feeDiscount.Cmp(o.FeeAmount) > 0 {
		return LedgerWrite{}, fmt.Errorf("%w: discount %s > fee %s", ErrFeeDiscountTooLarge, feeDiscount, o.FeeAmount)
	}
	netFee := new(big.Int).Sub(o.FeeAmount, feeDiscount)

	// The fast path always fills in full, so any prior fill (or the
	// invalidation sentinel) disqualifies the order.
	filled, err := e.ledger.Filled(ro.UID)
	if err != nil {
		return LedgerWrite{}, err
	}
	if filled.Sign() != 0 {
		return LedgerWrite{}, fmt.Errorf("%w: uid %s already filled", ErrOrderOverfilled, ro.UID)
	}

	receiver := ro.Receiver()
	before, err := e.tokens.BalanceOf(o.BuyToken, receiver)
	if err != nil {
		return LedgerWrite{}, fmt.Errorf("%w: balance read: %v", ErrTransferFailed, err)
	}

	pulled, err := e.custody.TransferToTargets(o.SellToken, ro.Owner, req.Transfers)
	if err != nil {
		return LedgerWrite{}, fmt.Errorf("%w: transfer to targets: %v", ErrTransferFailed, err)
	}

	if err := e.runInteractions(req.Interactions, buf); err != nil {
		return LedgerWrite{}, err
	}

	after, err := e.tokens.BalanceOf(o.BuyToken, receiver)
	if err != nil {
		return LedgerWrite{}, fmt.Errorf("%w: balance read: %v", ErrTransferFailed, err)
	}
	delta := new(big.Int).Sub(after, before)

	// Terms check. Sell orders pull exactly sellAmount + netFee and must
	// deliver at least buyAmount; buy orders deliver exactly buyAmount
	// and may pull at most sellAmount + netFee.
	pullLimit := new(big.Int).Add(o.SellAmount, netFee)
	if o.Kind == order.Sell {
		if pulled.Cmp(pullLimit) != 0 {
			return LedgerWrite{}, fmt.Errorf("%w: pulled %s, want %s", ErrSellAmountMismatch, pulled, pullLimit)
		}
		if delta.Cmp(o.BuyAmount) < 0 {
			return LedgerWrite{}, fmt.Errorf("%w: delivered %s, want >= %s", ErrBuyAmountTooLow, delta, o.BuyAmount)
		}
	} else {
		if pulled.Cmp(pullLimit) > 0 {
			return LedgerWrite{}, fmt.Errorf("%w: pulled %s, limit %s", ErrSellAmountTooHigh, pulled, pullLimit)
		}
		if delta.Cmp(o.BuyAmount) != 0 {
			return LedgerWrite{}, fmt.Errorf("%w: delivered %s, want %s", ErrBuyAmountMismatch, delta, o.BuyAmount)
		}
	}

	view := newLedgerView(e.ledger)
	full := o.SellAmount
	if o.Kind == order.Buy {
		full = o.BuyAmount
	}
	if err := view.setFilled(ro.UID, full); err != nil {
		return LedgerWrite{}, err
	}

	buf.trade(TradeEvent{
		Owner:      ro.Owner,
		SellToken:  o.SellToken,
		BuyToken:   o.BuyToken,
		SellAmount: pulled,
		BuyAmount:  delta,
		NetFee:     netFee,
		UID:        ro.UID,
	})
	return view.write(), nil
}

// Invalidate permanently disables an order by writing the maximum
// sentinel into its ledger slot. Owner-only, idempotent. Serialized
// against settlements: a call while a batch is in flight (including one
// made from inside a staged interaction) is rejected rather than having
// its sentinel overwritten by the batch's deferred ledger commit.
func (e *Engine) Invalidate(caller common.Address, uid order.UID) error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	defer e.busy.Store(false)

	if uid.Owner() != caller {
		return fmt.Errorf("%w: caller does not own order %s", ErrUnauthorized, uid)
	}
	sentinel := new(big.Int).Set(maxUint256)
	if err := e.ledger.Write(LedgerWrite{Fills: []FillUpdate{{UID: uid, Amount: sentinel}}}); err != nil {
		return err
	}
	e.sink.OrderInvalidated(OrderInvalidatedEvent{Owner: caller, UID: uid})
	e.log.Infow("order_invalidated", "owner", caller.Hex(), "uid", uid.Hex())
	return nil
}

// SetPreSignature records or revokes an on-engine authorization for the
// UID, enabling the PreSign scheme. Owner-only, serialized against
// settlements the same way Invalidate is.
func (e *Engine) SetPreSignature(caller common.Address, uid order.UID, signed bool) error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	defer e.busy.Store(false)

	if uid.Owner() != caller {
		return fmt.Errorf("%w: caller does not own order %s", ErrUnauthorized, uid)
	}
	if err := e.ledger.Write(LedgerWrite{PreSigns: []PreSignUpdate{{UID: uid, Signed: signed}}}); err != nil {
		return err
	}
	e.sink.PreSignature(PreSignatureEvent{Owner: caller, UID: uid, Signed: signed})
	return nil
}
