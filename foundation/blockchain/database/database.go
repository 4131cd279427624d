// Package database handles all the lower level support for maintaining the
// blockchain on disk and maintaining an in-memory database of account balances.
package database

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/novachain/novad/foundation/blockchain/genesis"
)

// ErrNotExists is returned when a block for a given height or hash is not in
// the database.
var ErrNotExists = errors.New("block does not exist")

// =============================================================================

// Serializer interface represents the behavior required to be implemented by
// any package providing support for storing and reading the blockchain.
type Serializer interface {
	Write(blockData BlockData, accounts map[AccountID]Account) error
	GetBlock(num uint64) (BlockData, error)
	GetBlockByHash(hash string) (BlockData, error)
	TxBlockHash(txHash string) (string, error)
	ReadAccounts() (map[AccountID]Account, error)
	ForEach() Iterator
	Truncate(fromHeight uint64) error
	Close() error
	Reset() error
}

// Iterator interface represents the behavior required to be implemented by any
// package providing support to iterate over the blocks.
type Iterator interface {
	Next() (BlockData, error)
	Done() bool
}

// =============================================================================

// DatabaseIterator provides support for iterating over the blocks in the
// database in block number order.
type DatabaseIterator struct {
	iterator Iterator
}

// Next retrieves the next block from disk.
func (di *DatabaseIterator) Next() (Block, error) {
	blockData, err := di.iterator.Next()
	if err != nil {
		return Block{}, err
	}

	return ToBlock(blockData)
}

// Done returns the end of chain value.
func (di *DatabaseIterator) Done() bool {
	return di.iterator.Done()
}

// =============================================================================

// Database manages data related to blocks and to accounts who have transacted
// on the blockchain.
type Database struct {
	mu sync.RWMutex

	genesis     genesis.Genesis
	latestBlock Block
	accounts    map[AccountID]Account

	serializer Serializer
}

// New constructs a new database value, applies the account balances from the
// genesis file and replays any blocks found in storage. A corrupted tail of
// blocks in storage is truncated, never trusted.
func New(genesis genesis.Genesis, serializer Serializer, evHandler func(v string, args ...any)) (*Database, error) {
	ev := nopHandler(evHandler)

	db := Database{
		genesis:    genesis,
		accounts:   make(map[AccountID]Account),
		serializer: serializer,
	}

	// Update the database with account balance information from genesis.
	for accountStr, balance := range genesis.Balances {
		accountID, err := ToAccountID(accountStr)
		if err != nil {
			return nil, err
		}
		db.accounts[accountID] = newAccount(accountID, balance)
	}

	// Replay all the blocks found in storage. The balances recorded with the
	// chain are derived state, the replay is the source of truth.
	iter := db.serializer.ForEach()
	for blockData, err := iter.Next(); !iter.Done(); blockData, err = iter.Next() {
		if err != nil {
			return nil, err
		}

		block, err := ToBlock(blockData)
		if err != nil {
			ev("database: New: WARNING: truncating corrupted chain tail: %s", err)
			if err := db.serializer.Truncate(db.latestBlock.Header.Number + 1); err != nil {
				return nil, err
			}
			break
		}

		// The difficulty schedule was checked when the block was first
		// accepted, replay only revalidates what storage can corrupt.
		reward := genesis.Reward(block.Header.Number)
		if err := block.ValidateBlock(db.latestBlock, block.Header.DifficultyBits, reward, ev); err != nil {
			ev("database: New: WARNING: truncating corrupted chain tail: blk[%d]: %s", block.Header.Number, err)
			if err := db.serializer.Truncate(block.Header.Number); err != nil {
				return nil, err
			}
			break
		}

		for _, tx := range block.Trans.Values() {
			if err := db.ApplyTransaction(block, tx); err != nil {
				return nil, fmt.Errorf("replay: blk[%d]: %w", block.Header.Number, err)
			}
		}

		db.latestBlock = block
	}

	// The stored balances must agree with the replay. A mismatch means the
	// storage was modified behind our back, the replay wins.
	if stored, err := db.serializer.ReadAccounts(); err == nil && len(stored) > 0 {
		for accountID, account := range db.accounts {
			if stored[accountID].Balance != account.Balance {
				ev("database: New: WARNING: stored balance mismatch: account[%s] stored[%d] replayed[%d]", accountID, stored[accountID].Balance, account.Balance)
			}
		}
	}

	return &db, nil
}

// Close closes the open blocks database.
func (db *Database) Close() {
	db.serializer.Close()
}

// Reset re-initializes the database back to the genesis state.
func (db *Database) Reset() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.serializer.Reset(); err != nil {
		return err
	}

	db.latestBlock = Block{}
	db.accounts = make(map[AccountID]Account)
	for accountStr, balance := range db.genesis.Balances {
		accountID, err := ToAccountID(accountStr)
		if err != nil {
			return err
		}
		db.accounts[accountID] = newAccount(accountID, balance)
	}

	return nil
}

// Truncate removes every block at or above the specified height and rebuilds
// the account balances by replaying the blocks that remain. This is how a
// fork switch rewinds to the common ancestor.
func (db *Database) Truncate(fromHeight uint64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.serializer.Truncate(fromHeight); err != nil {
		return err
	}

	// Rebuild the balances from genesis and the remaining blocks.
	db.latestBlock = Block{}
	db.accounts = make(map[AccountID]Account)
	for accountStr, balance := range db.genesis.Balances {
		accountID, err := ToAccountID(accountStr)
		if err != nil {
			return err
		}
		db.accounts[accountID] = newAccount(accountID, balance)
	}

	iter := db.serializer.ForEach()
	for blockData, err := iter.Next(); !iter.Done(); blockData, err = iter.Next() {
		if err != nil {
			return err
		}

		block, err := ToBlock(blockData)
		if err != nil {
			return err
		}

		for _, tx := range block.Trans.Values() {
			if err := db.applyTransaction(block, tx); err != nil {
				return err
			}
		}

		db.latestBlock = block
	}

	return nil
}

// CopyAccounts makes a copy of the current accounts in the database.
func (db *Database) CopyAccounts() map[AccountID]Account {
	db.mu.RLock()
	defer db.mu.RUnlock()

	accounts := make(map[AccountID]Account)
	for accountID, account := range db.accounts {
		accounts[accountID] = account
	}

	return accounts
}

// AccountsByID returns the accounts in the database sorted by account id.
func (db *Database) AccountsByID() []Account {
	accounts := db.CopyAccounts()

	list := make([]Account, 0, len(accounts))
	for _, account := range accounts {
		list = append(list, account)
	}

	sort.Sort(byAccount(list))

	return list
}

// Balance returns the confirmed balance for the specified account. Unknown
// accounts hold a zero balance.
func (db *Database) Balance(accountID AccountID) uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.accounts[accountID].Balance
}

// ApplyTransaction performs the business logic for applying a transaction to
// the database.
func (db *Database) ApplyTransaction(block Block, tx SignedTx) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.applyTransaction(block, tx)
}

// applyTransaction moves the value between the accounts involved in the
// transaction. Calls must hold the database lock.
func (db *Database) applyTransaction(block Block, tx SignedTx) error {

	// A coinbase creates new value for the beneficiary and there is no
	// account on the paying side to check.
	if tx.IsCoinbase() {
		to := db.accounts[tx.ToID]
		to.AccountID = tx.ToID
		to.Balance += tx.Value
		db.accounts[tx.ToID] = to
		return nil
	}

	// Capture these accounts from the database.
	from := db.accounts[tx.FromID]
	to := db.accounts[tx.ToID]
	bnfc := db.accounts[block.Header.BeneficiaryID]

	// Perform basic accounting checks.
	if tx.FromID == tx.ToID {
		return fmt.Errorf("transaction invalid, sending money to yourself, from %s, to %s", tx.FromID, tx.ToID)
	}

	if from.Balance < (tx.Value + tx.Tip) {
		return fmt.Errorf("transaction invalid, insufficient funds, bal %d, needed %d", from.Balance, (tx.Value + tx.Tip))
	}

	// Update the balances between the two parties.
	from.Balance -= tx.Value
	to.Balance += tx.Value

	// Give the beneficiary the tip.
	from.Balance -= tx.Tip
	bnfc.Balance += tx.Tip

	// Update the final changes to these accounts.
	from.AccountID = tx.FromID
	to.AccountID = tx.ToID
	bnfc.AccountID = block.Header.BeneficiaryID
	db.accounts[tx.FromID] = from
	db.accounts[tx.ToID] = to
	db.accounts[block.Header.BeneficiaryID] = bnfc

	return nil
}

// UpdateLatestBlock provides safe access to update the latest block.
func (db *Database) UpdateLatestBlock(block Block) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.latestBlock = block
}

// LatestBlock returns the latest block.
func (db *Database) LatestBlock() Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.latestBlock
}

// Height returns the block number of the latest block.
func (db *Database) Height() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.latestBlock.Header.Number
}

// Write adds a new block to the chain and persists the balances that include
// its transactions. Both land in storage in a single batch so a crash can
// never leave a half applied block behind.
func (db *Database) Write(block Block) error {
	return db.serializer.Write(NewBlockData(block), db.CopyAccounts())
}

// ForEach returns an iterator to walk through all the blocks starting with
// block number 1.
func (db *Database) ForEach() DatabaseIterator {
	return DatabaseIterator{iterator: db.serializer.ForEach()}
}

// GetBlock searches the blockchain on disk to locate and return the
// contents of the specified block by number.
func (db *Database) GetBlock(num uint64) (Block, error) {
	blockData, err := db.serializer.GetBlock(num)
	if err != nil {
		return Block{}, err
	}

	return ToBlock(blockData)
}

// GetBlockByHash searches the blockchain on disk to locate and return the
// contents of the specified block by hash.
func (db *Database) GetBlockByHash(hash string) (Block, error) {
	blockData, err := db.serializer.GetBlockByHash(hash)
	if err != nil {
		return Block{}, err
	}

	return ToBlock(blockData)
}

// TxExists reports whether the specified transaction is already recorded in
// a block on the chain.
func (db *Database) TxExists(txHash string) bool {
	_, err := db.serializer.TxBlockHash(txHash)
	return err == nil
}

// TxBlockHash returns the hash of the block that recorded the specified
// transaction.
func (db *Database) TxBlockHash(txHash string) (string, error) {
	return db.serializer.TxBlockHash(txHash)
}

// =============================================================================

// nopHandler makes sure replay validation never writes events with a nil
// handler.
func nopHandler(evHandler func(v string, args ...any)) func(v string, args ...any) {
	if evHandler != nil {
		return evHandler
	}

	return func(v string, args ...any) {}
}
