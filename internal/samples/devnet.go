package samples

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrDevnetClosed      = errors.New("devnet is closed")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Devnet is an in-memory chain the sample scenarios run against.
type Devnet struct {
	mu           sync.Mutex
	height       uint64
	balances     map[string]uint64
	capabilities map[string]bool
	closed       bool
}

func NewDevnet(capabilities ...string) *Devnet {
	d := &Devnet{
		balances:     make(map[string]uint64),
		capabilities: make(map[string]bool),
	}
	for _, c := range capabilities {
		d.capabilities[c] = true
	}
	return d
}

// Mine produces n blocks and returns the new height.
func (d *Devnet) Mine(n int) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrDevnetClosed
	}
	d.height += uint64(n)
	return d.height, nil
}

func (d *Devnet) Height() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.height
}

func (d *Devnet) Fund(addr string, amount uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDevnetClosed
	}
	d.balances[addr] += amount
	return nil
}

func (d *Devnet) Balance(addr string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.balances[addr]
}

// Transfer moves amount from one account to another and mines a block.
func (d *Devnet) Transfer(from, to string, amount uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDevnetClosed
	}
	if d.balances[from] < amount {
		return fmt.Errorf("transfer %d from %s: %w (balance %d)", amount, from, ErrInsufficientFunds, d.balances[from])
	}
	d.balances[from] -= amount
	d.balances[to] += amount
	d.height++
	return nil
}

// TotalSupply sums every balance.
func (d *Devnet) TotalSupply() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var total uint64
	for _, b := range d.balances {
		total += b
	}
	return total
}

func (d *Devnet) Accounts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.balances)
}

func (d *Devnet) Supports(capability string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capabilities[capability]
}

func (d *Devnet) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDevnetClosed
	}
	d.closed = true
	return nil
}

// Wallet is an account funded for the duration of one scenario.
type Wallet struct {
	Address string
	devnet  *Devnet
}

// Close returns the remaining funds to the faucet.
func (w *Wallet) Close() error {
	if balance := w.devnet.Balance(w.Address); balance > 0 {
		return w.devnet.Transfer(w.Address, FaucetAddress, balance)
	}
	return nil
}
