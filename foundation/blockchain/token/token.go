// Package token implements the NOC coin primitive. The chain uses it to
// express the initial distribution and to answer supply queries. There is
// no general purpose contract VM, only these fixed operations.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/novachain/novad/foundation/blockchain/database"
)

// Coin metadata. Balances are tracked in the smallest unit.
const (
	Name     = "NovaChain Coin"
	Symbol   = "NOC"
	Decimals = 18
)

var (
	// ErrInsufficientBalance is returned when an account does not hold the
	// amount being moved or burned.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNotOwner is returned when someone other than the owner mints.
	ErrNotOwner = errors.New("only the owner can mint")
)

// NOC represents the coin ledger with a fixed set of operations.
type NOC struct {
	mu          sync.RWMutex
	owner       database.AccountID
	totalSupply uint64
	balances    map[database.AccountID]uint64
}

// New constructs the coin ledger from an initial distribution. The total
// supply starts as the sum of the distributed balances.
func New(owner database.AccountID, initial map[database.AccountID]uint64) *NOC {
	balances := make(map[database.AccountID]uint64, len(initial))

	var supply uint64
	for accountID, balance := range initial {
		balances[accountID] = balance
		supply += balance
	}

	return &NOC{
		owner:       owner,
		totalSupply: supply,
		balances:    balances,
	}
}

// Details returns a display line for the coin.
func (n *NOC) Details() string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return fmt.Sprintf("%s (%s) - Total Supply: %d %s", Name, Symbol, n.totalSupply, Symbol)
}

// Owner returns the account allowed to mint.
func (n *NOC) Owner() database.AccountID {
	return n.owner
}

// BalanceOf returns the balance held by the specified account. Unknown
// accounts hold zero.
func (n *NOC) BalanceOf(accountID database.AccountID) uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.balances[accountID]
}

// Transfer moves the amount between two accounts.
func (n *NOC) Transfer(from database.AccountID, to database.AccountID, amount uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.balances[from] < amount {
		return ErrInsufficientBalance
	}

	n.balances[from] -= amount
	n.balances[to] += amount

	return nil
}

// Mint creates new coins for the specified account. Only the owner may mint.
func (n *NOC) Mint(caller database.AccountID, to database.AccountID, amount uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if caller != n.owner {
		return ErrNotOwner
	}

	n.balances[to] += amount
	n.totalSupply += amount

	return nil
}

// Burn destroys coins held by the specified account.
func (n *NOC) Burn(from database.AccountID, amount uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.balances[from] < amount {
		return ErrInsufficientBalance
	}

	n.balances[from] -= amount
	n.totalSupply -= amount

	return nil
}

// Circulation returns the total amount of coins in existence.
func (n *NOC) Circulation() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.totalSupply
}
