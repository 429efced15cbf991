// Package relay gossips committed settlement events between settler
// nodes over libp2p. Each relay is an EventSink: events the local engine
// commits are published, events published by peers are handed to the
// configured handlers (mirroring into an order cache, dashboards, etc).
package relay

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/solverforge/settler/pkg/order"
	"github.com/solverforge/settler/pkg/settlement"
)

const (
	topicTrades  = "settler/trades/1"
	topicBatches = "settler/batches/1"
	topicOrders  = "settler/orders/1"
)

// Handlers receive events gossiped by remote peers. Nil handlers are
// skipped.
type Handlers struct {
	OnTrade      func(TradeWire)
	OnSettlement func(SettlementWire)
	OnOrder      func(OrderWire)
}

type Config struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

type Relay struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	tTrades, tBatches, tOrders       *pubsub.Topic
	subTrades, subBatches, subOrders *pubsub.Subscription

	muH      sync.RWMutex
	handlers Handlers
}

func New(ctx context.Context, cfg Config) (*Relay, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	r := &Relay{h: h, ps: ps, log: cfg.Logger}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil && cfg.Logger != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if err := r.joinTopics(ctx); err != nil {
		return nil, err
	}

	go r.handleTrades(ctx)
	go r.handleBatches(ctx)
	go r.handleOrders(ctx)

	if cfg.Logger != nil {
		cfg.Logger.Infow("relay_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	}
	return r, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (r *Relay) joinTopics(ctx context.Context) error {
	var err error
	if r.tTrades, err = r.ps.Join(topicTrades); err != nil {
		return err
	}
	if r.tBatches, err = r.ps.Join(topicBatches); err != nil {
		return err
	}
	if r.tOrders, err = r.ps.Join(topicOrders); err != nil {
		return err
	}

	if r.subTrades, err = r.tTrades.Subscribe(); err != nil {
		return err
	}
	if r.subBatches, err = r.tBatches.Subscribe(); err != nil {
		return err
	}
	if r.subOrders, err = r.tOrders.Subscribe(); err != nil {
		return err
	}
	return nil
}

func (r *Relay) SetHandlers(h Handlers) { r.muH.Lock(); r.handlers = h; r.muH.Unlock() }

func (r *Relay) Host() host.Host { return r.h }

func (r *Relay) Close() error { return r.h.Close() }

// outbound: the engine's committed events become gossip

func (r *Relay) Trade(e settlement.TradeEvent) {
	w := TradeWire{
		UID:        append([]byte(nil), e.UID[:]...),
		Owner:      e.Owner,
		SellToken:  e.SellToken,
		BuyToken:   e.BuyToken,
		SellAmount: e.SellAmount,
		BuyAmount:  e.BuyAmount,
		NetFee:     e.NetFee,
	}
	r.publish(r.tTrades, w)
}

func (r *Relay) Interaction(settlement.InteractionEvent) {
	// Interactions are local execution detail, not gossiped.
}

func (r *Relay) Settlement(e settlement.SettlementEvent) {
	r.publish(r.tBatches, SettlementWire{Solver: e.Solver})
}

func (r *Relay) OrderInvalidated(e settlement.OrderInvalidatedEvent) {
	r.publish(r.tOrders, OrderWire{Kind: "invalidated", Owner: e.Owner, UID: append([]byte(nil), e.UID[:]...)})
}

func (r *Relay) PreSignature(e settlement.PreSignatureEvent) {
	r.publish(r.tOrders, OrderWire{Kind: "presign", Owner: e.Owner, UID: append([]byte(nil), e.UID[:]...), Signed: e.Signed})
}

var _ settlement.EventSink = (*Relay)(nil)

func (r *Relay) publish(t *pubsub.Topic, v any) {
	data, err := gobEncode(v)
	if err != nil {
		if r.log != nil {
			r.log.Warnw("relay_encode_failed", "err", err)
		}
		return
	}
	if err := t.Publish(context.Background(), data); err != nil && r.log != nil {
		r.log.Warnw("relay_publish_failed", "topic", t.String(), "err", err)
	}
}

// inbound

func (r *Relay) handleTrades(ctx context.Context) {
	for {
		msg, err := r.subTrades.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == r.h.ID() {
			continue
		}
		var w TradeWire
		if err := gobDecode(msg.Data, &w); err != nil {
			continue
		}
		if len(w.UID) != order.UIDLength {
			continue
		}

		r.muH.RLock()
		h := r.handlers
		r.muH.RUnlock()
		if h.OnTrade != nil {
			h.OnTrade(w)
		}
	}
}

func (r *Relay) handleBatches(ctx context.Context) {
	for {
		msg, err := r.subBatches.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == r.h.ID() {
			continue
		}
		var w SettlementWire
		if err := gobDecode(msg.Data, &w); err != nil {
			continue
		}

		r.muH.RLock()
		h := r.handlers
		r.muH.RUnlock()
		if h.OnSettlement != nil {
			h.OnSettlement(w)
		}
	}
}

func (r *Relay) handleOrders(ctx context.Context) {
	for {
		msg, err := r.subOrders.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == r.h.ID() {
			continue
		}
		var w OrderWire
		if err := gobDecode(msg.Data, &w); err != nil {
			continue
		}

		r.muH.RLock()
		h := r.handlers
		r.muH.RUnlock()
		if h.OnOrder != nil {
			h.OnOrder(w)
		}
	}
}

// SolverAddress converts a wire address back to the common form.
func SolverAddress(b [20]byte) common.Address { return common.Address(b) }
