package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/solverforge/settler/pkg/settlement"
)

// AuditLog is an append-only JSON-line record of every emitted settlement
// event. It implements settlement.EventSink so it can sit in the engine's
// sink fan-out next to the log and websocket sinks.
type AuditLog struct {
	mu sync.Mutex
	f  *os.File
}

func NewAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &AuditLog{f: f}, nil
}

func (a *AuditLog) Close() error { return a.f.Close() }

func (a *AuditLog) append(event string, data map[string]any) {
	entry := map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"event":     event,
		"data":      data,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintln(a.f, string(line))
}

func (a *AuditLog) Trade(e settlement.TradeEvent) {
	a.append("TRADE", map[string]any{
		"uid":         e.UID.Hex(),
		"owner":       e.Owner.Hex(),
		"sell_token":  e.SellToken.Hex(),
		"buy_token":   e.BuyToken.Hex(),
		"sell_amount": e.SellAmount.String(),
		"buy_amount":  e.BuyAmount.String(),
		"net_fee":     e.NetFee.String(),
	})
}

func (a *AuditLog) Interaction(e settlement.InteractionEvent) {
	a.append("INTERACTION", map[string]any{
		"target":   e.Target.Hex(),
		"value":    e.Value.String(),
		"selector": fmt.Sprintf("%x", e.Selector),
	})
}

func (a *AuditLog) Settlement(e settlement.SettlementEvent) {
	a.append("SETTLEMENT", map[string]any{"solver": e.Solver.Hex()})
}

func (a *AuditLog) OrderInvalidated(e settlement.OrderInvalidatedEvent) {
	a.append("ORDER_INVALIDATED", map[string]any{"owner": e.Owner.Hex(), "uid": e.UID.Hex()})
}

func (a *AuditLog) PreSignature(e settlement.PreSignatureEvent) {
	a.append("PRE_SIGNATURE", map[string]any{"owner": e.Owner.Hex(), "uid": e.UID.Hex(), "signed": e.Signed})
}

var _ settlement.EventSink = (*AuditLog)(nil)
