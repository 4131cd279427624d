// Package mempool maintains the mempool for the blockchain.
package mempool

import (
	"errors"
	"sync"

	"github.com/novachain/novad/foundation/blockchain/database"
	"github.com/novachain/novad/foundation/blockchain/mempool/selector"
)

// ErrAlreadyKnown is returned when the pool already holds the transaction.
var ErrAlreadyKnown = errors.New("transaction already in mempool")

// ErrFull is returned when the pool is at capacity. The transaction must be
// resubmitted after a block drains the pool.
var ErrFull = errors.New("mempool full")

// Mempool represents a cache of transactions each waiting to be picked for
// the next block, keyed by the transaction hash.
type Mempool struct {
	pool     map[string]database.SignedTx
	maxSize  int
	mu       sync.RWMutex
	selectFn selector.Func
}

// New constructs a new mempool using the default fifo strategy. A maxSize of
// zero means the pool is unbounded.
func New(maxSize int) (*Mempool, error) {
	return NewWithStrategy(maxSize, selector.StrategyFIFO)
}

// NewWithStrategy constructs a new mempool with specified sort strategy.
func NewWithStrategy(maxSize int, strategy string) (*Mempool, error) {
	selectFn, err := selector.Retrieve(strategy)
	if err != nil {
		return nil, err
	}

	mp := Mempool{
		pool:     make(map[string]database.SignedTx),
		maxSize:  maxSize,
		selectFn: selectFn,
	}

	return &mp, nil
}

// Count returns the current number of transactions in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Upsert adds the transaction to the mempool if it is not already known and
// there is capacity.
func (mp *Mempool) Upsert(tx database.SignedTx) (int, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	key := tx.UniqueKey()

	if _, exists := mp.pool[key]; exists {
		return len(mp.pool), ErrAlreadyKnown
	}

	if mp.maxSize > 0 && len(mp.pool) >= mp.maxSize {
		return len(mp.pool), ErrFull
	}

	mp.pool[key] = tx

	return len(mp.pool), nil
}

// Delete removes a transaction from the mempool.
func (mp *Mempool) Delete(tx database.SignedTx) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	delete(mp.pool, tx.UniqueKey())
}

// Knows reports whether a transaction with the specified hash is pending in
// the pool.
func (mp *Mempool) Knows(txHash string) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	_, exists := mp.pool[txHash]
	return exists
}

// PendingSpend returns the total value plus tips the specified account has
// committed to in pending transactions. Admission checks subtract this from
// the confirmed balance so an account cannot promise the same funds twice.
func (mp *Mempool) PendingSpend(accountID database.AccountID) uint64 {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	var total uint64
	for _, tx := range mp.pool {
		if tx.FromID == accountID {
			total += tx.Value + tx.Tip
		}
	}

	return total
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]database.SignedTx)
}

// PickBest uses the configured sort strategy to return the next set of
// transactions for the next block. Pass -1 for all the transactions.
func (mp *Mempool) PickBest(howMany int) []database.SignedTx {

	// Group the transactions by account.
	m := make(map[database.AccountID][]database.SignedTx)
	mp.mu.RLock()
	{
		if howMany == -1 {
			howMany = len(mp.pool)
		}

		for _, tx := range mp.pool {
			m[tx.FromID] = append(m[tx.FromID], tx)
		}
	}
	mp.mu.RUnlock()

	return mp.selectFn(m, howMany)
}
