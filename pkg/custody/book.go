// Package custody provides the in-process stand-ins for the settlement
// engine's external collaborators: a multi-token balance book and the
// vault that holds pre-approved pull rights. The engine core only sees
// their interfaces; a production deployment would point those at real
// token custody instead.
package custody

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInsufficientBalance = errors.New("insufficient token balance")

// Book tracks per-token, per-holder balances. It backs the devnet daemon
// and every settlement test.
type Book struct {
	mu       sync.RWMutex
	balances map[common.Address]map[common.Address]*big.Int // token → holder → balance
}

func NewBook() *Book {
	return &Book{balances: make(map[common.Address]map[common.Address]*big.Int)}
}

func (b *Book) balanceLocked(token, holder common.Address) *big.Int {
	holders, ok := b.balances[token]
	if !ok {
		return nil
	}
	return holders[holder]
}

func (b *Book) setLocked(token, holder common.Address, amount *big.Int) {
	holders, ok := b.balances[token]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		b.balances[token] = holders
	}
	holders[holder] = amount
}

// Mint credits newly created balance to a holder.
func (b *Book) Mint(token, holder common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.balanceLocked(token, holder)
	if cur == nil {
		cur = new(big.Int)
	}
	b.setLocked(token, holder, new(big.Int).Add(cur, amount))
}

// BalanceOf returns the holder's balance, zero when unknown.
func (b *Book) BalanceOf(token, holder common.Address) (*big.Int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cur := b.balanceLocked(token, holder)
	if cur == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(cur), nil
}

// Transfer moves amount of token from one holder to another. Fails
// without effect when the sender's balance does not cover the amount.
func (b *Book) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer amount %s", amount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.balanceLocked(token, from)
	if cur == nil || cur.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s of %s, needs %s", ErrInsufficientBalance, from.Hex(), cur, token.Hex(), amount)
	}
	b.setLocked(token, from, new(big.Int).Sub(cur, amount))

	dst := b.balanceLocked(token, to)
	if dst == nil {
		dst = new(big.Int)
	}
	b.setLocked(token, to, new(big.Int).Add(dst, amount))
	return nil
}

// Snapshot deep-copies the current balances and returns a restore
// function. The settlement orchestrator takes one at entry and restores
// it on failure, modeling the host's all-or-nothing transaction.
func (b *Book) Snapshot() (restore func()) {
	b.mu.Lock()
	saved := make(map[common.Address]map[common.Address]*big.Int, len(b.balances))
	for token, holders := range b.balances {
		copied := make(map[common.Address]*big.Int, len(holders))
		for holder, amount := range holders {
			copied[holder] = new(big.Int).Set(amount)
		}
		saved[token] = copied
	}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		b.balances = saved
		b.mu.Unlock()
	}
}
