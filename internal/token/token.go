// Package token abstracts the collateral asset custodied by the stake ledger.
package token

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientBalance is returned when a transfer exceeds the
	// sender's balance.
	ErrInsufficientBalance = errors.New("insufficient token balance")

	// ErrInvalidAmount is returned for nil or negative transfer amounts.
	ErrInvalidAmount = errors.New("transfer amount must be positive")
)

// Ledger is the asset interface the stake ledger custodies collateral
// through. The dev daemon and tests use the in-memory Bank; a production
// deployment adapts the real asset ledger behind the same interface.
type Ledger interface {
	Transfer(from, to common.Address, amount *big.Int) error
	BalanceOf(addr common.Address) *big.Int
}

// Bank is an in-memory Ledger implementation.
type Bank struct {
	mu       sync.RWMutex
	balances map[common.Address]*big.Int
}

// NewBank creates an empty Bank.
func NewBank() *Bank {
	return &Bank{balances: make(map[common.Address]*big.Int)}
}

// Mint credits an address out of thin air. Test and dev setup only.
func (b *Bank) Mint(addr common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.balances[addr]
	if !ok {
		cur = new(big.Int)
		b.balances[addr] = cur
	}
	cur.Add(cur, amount)
}

// Transfer implements Ledger.
func (b *Bank) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	src, ok := b.balances[from]
	if !ok || src.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	dst, ok := b.balances[to]
	if !ok {
		dst = new(big.Int)
		b.balances[to] = dst
	}
	src.Sub(src, amount)
	dst.Add(dst, amount)
	return nil
}

// BalanceOf implements Ledger. The returned value is a copy.
func (b *Bank) BalanceOf(addr common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cur, ok := b.balances[addr]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(cur)
}
