package custody

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solverforge/settler/pkg/settlement"
)

var ErrNotApproved = errors.New("owner has not approved vault for token")

// Vault holds pre-approved transfer rights over owners' tokens and
// performs the balance-changing pulls on the orchestrator's behalf. Its
// address is the forbidden interaction target: staged interactions must
// never reach the component that can move user funds.
type Vault struct {
	addr       common.Address
	settlement common.Address // destination of bulk pulls
	book       *Book

	mu        sync.RWMutex
	approvals map[common.Address]map[common.Address]bool // owner → token → approved
}

func NewVault(addr, settlementAddr common.Address, book *Book) *Vault {
	return &Vault{
		addr:       addr,
		settlement: settlementAddr,
		book:       book,
		approvals:  make(map[common.Address]map[common.Address]bool),
	}
}

func (v *Vault) Address() common.Address { return v.addr }

// Approve grants the vault pull rights over an owner's token. In a real
// deployment this is the owner's one-time on-chain approval.
func (v *Vault) Approve(owner, token common.Address) {
	v.mu.Lock()
	defer v.mu.Unlock()
	tokens, ok := v.approvals[owner]
	if !ok {
		tokens = make(map[common.Address]bool)
		v.approvals[owner] = tokens
	}
	tokens[token] = true
}

func (v *Vault) approved(owner, token common.Address) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.approvals[owner][token]
}

// TransferIn pulls every listed amount from its owner into settlement
// holding. All-or-nothing: any failed leg rolls back the ones before it.
func (v *Vault) TransferIn(transfers []settlement.Transfer) error {
	restore := v.book.Snapshot()
	for _, t := range transfers {
		if !v.approved(t.Owner, t.Token) {
			restore()
			return fmt.Errorf("%w: owner %s token %s", ErrNotApproved, t.Owner.Hex(), t.Token.Hex())
		}
		if err := v.book.Transfer(t.Token, t.Owner, v.settlement, t.Amount); err != nil {
			restore()
			return err
		}
	}
	return nil
}

// TransferToTargets pulls the given token from one owner to explicit
// targets, returning the total moved. All-or-nothing like TransferIn.
func (v *Vault) TransferToTargets(token, owner common.Address, transfers []settlement.TargetTransfer) (*big.Int, error) {
	if !v.approved(owner, token) {
		return nil, fmt.Errorf("%w: owner %s token %s", ErrNotApproved, owner.Hex(), token.Hex())
	}
	restore := v.book.Snapshot()
	total := new(big.Int)
	for _, t := range transfers {
		if err := v.book.Transfer(token, owner, t.Target, t.Amount); err != nil {
			restore()
			return nil, err
		}
		total.Add(total, t.Amount)
	}
	return total, nil
}

var _ settlement.Custody = (*Vault)(nil)
var _ settlement.TokenLedger = (*Book)(nil)
var _ settlement.Snapshotter = (*Book)(nil)
