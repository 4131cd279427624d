// Package memory implements the ability to read and write blocks to memory
// using a slice.
package memory

import (
	"fmt"
	"sync"

	"github.com/novachain/novad/foundation/blockchain/database"
)

// Memory represents the serialization implementation for reading and storing
// blocks in memory using a slice. This implements the database.Serializer
// interface.
type Memory struct {
	mu       sync.RWMutex
	blocks   []database.BlockData
	byHash   map[string]int
	txIndex  map[string]string
	accounts map[database.AccountID]database.Account
}

// New constructs a Memory value for use.
func New() (*Memory, error) {
	return &Memory{
		byHash:   make(map[string]int),
		txIndex:  make(map[string]string),
		accounts: make(map[database.AccountID]database.Account),
	}, nil
}

// Close in this implementation has nothing to do since everything
// is in memory.
func (m *Memory) Close() error {
	return nil
}

// Write takes the specified database block and the account balances that
// include it and stores them in memory.
func (m *Memory) Write(blockData database.BlockData, accounts map[database.AccountID]database.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := len(m.blocks)
	if uint64(l+1) != blockData.Header.Number {
		return fmt.Errorf("block is out of order, have %d, got %d", l, blockData.Header.Number)
	}

	m.blocks = append(m.blocks, blockData)
	m.byHash[blockData.Hash] = l

	for _, tx := range blockData.Trans {
		m.txIndex[tx.UniqueKey()] = blockData.Hash
	}

	m.accounts = make(map[database.AccountID]database.Account, len(accounts))
	for accountID, account := range accounts {
		m.accounts[accountID] = account
	}

	return nil
}

// GetBlock searches the blockchain to locate and return the contents of
// the specified block by number.
func (m *Memory) GetBlock(num uint64) (database.BlockData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l := uint64(len(m.blocks))
	if num == 0 || num > l {
		return database.BlockData{}, database.ErrNotExists
	}

	return m.blocks[num-1], nil
}

// GetBlockByHash searches the blockchain to locate and return the contents
// of the specified block by hash.
func (m *Memory) GetBlockByHash(hash string) (database.BlockData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, exists := m.byHash[hash]
	if !exists {
		return database.BlockData{}, database.ErrNotExists
	}

	return m.blocks[idx], nil
}

// TxBlockHash returns the hash of the block that recorded the specified
// transaction.
func (m *Memory) TxBlockHash(txHash string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blockHash, exists := m.txIndex[txHash]
	if !exists {
		return "", database.ErrNotExists
	}

	return blockHash, nil
}

// ReadAccounts returns the account balances recorded with the latest block.
func (m *Memory) ReadAccounts() (map[database.AccountID]database.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	accounts := make(map[database.AccountID]database.Account, len(m.accounts))
	for accountID, account := range m.accounts {
		accounts[accountID] = account
	}

	return accounts, nil
}

// ForEach returns an iterator to walk through all the blocks
// starting with block number 1.
func (m *Memory) ForEach() database.Iterator {
	return &memoryIterator{storage: m, current: 1}
}

// Truncate removes every block at or above the specified height. The account
// snapshot is dropped with them since it no longer matches the chain.
func (m *Memory) Truncate(fromHeight uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fromHeight == 0 {
		fromHeight = 1
	}

	for i := int(fromHeight) - 1; i < len(m.blocks); i++ {
		delete(m.byHash, m.blocks[i].Hash)
		for _, tx := range m.blocks[i].Trans {
			delete(m.txIndex, tx.UniqueKey())
		}
	}

	if uint64(len(m.blocks)) >= fromHeight {
		m.blocks = m.blocks[:fromHeight-1]
	}

	m.accounts = make(map[database.AccountID]database.Account)

	return nil
}

// Reset will clear out the blockchain in memory.
func (m *Memory) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks = nil
	m.byHash = make(map[string]int)
	m.txIndex = make(map[string]string)
	m.accounts = make(map[database.AccountID]database.Account)

	return nil
}

// =============================================================================

// memoryIterator represents the iteration implementation for walking
// through and reading blocks in memory. This implements the database
// Iterator interface.
type memoryIterator struct {
	storage *Memory // Access to the storage API.
	current uint64  // Current block number being iterated over.
	eoc     bool    // Represents the iterator is at the end of the chain.
}

// Next retrieves the next block in memory.
func (mi *memoryIterator) Next() (database.BlockData, error) {
	if mi.eoc {
		return database.BlockData{}, database.ErrNotExists
	}

	blockData, err := mi.storage.GetBlock(mi.current)
	if err != nil {
		mi.eoc = true
	}

	mi.current++

	return blockData, err
}

// Done returns the end of chain value.
func (mi *memoryIterator) Done() bool {
	return mi.eoc
}
