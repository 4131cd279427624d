// Package leveldb implements the ability to read and write blocks to disk
// using leveldb as the underlying key/value store.
package leveldb

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/novachain/novad/foundation/blockchain/database"
)

// Single byte key prefixes keep the different record types in their own
// ranges of the keyspace.
const (
	prefixBlock   = 'b' // block hash -> block document
	prefixHeight  = 'h' // big endian height -> block hash
	prefixTx      = 't' // transaction hash -> block hash
	prefixAccount = 'a' // account id -> balance
)

// LevelDB represents the serialization implementation for reading and storing
// blocks on disk. This implements the database.Serializer interface.
type LevelDB struct {
	db *leveldb.DB
}

// New constructs a LevelDB value for use, recovering the store if the last
// shutdown left it in a bad state.
func New(dbPath string) (*LevelDB, error) {
	db, err := leveldb.RecoverFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}

	return &LevelDB{db: db}, nil
}

// Close releases the underlying leveldb handle.
func (l *LevelDB) Close() error {
	return l.db.Close()
}

// Write stores the specified block and the account balances that include it
// in a single batch. Either everything for the block lands on disk or
// nothing does.
func (l *LevelDB) Write(blockData database.BlockData, accounts map[database.AccountID]database.Account) error {
	doc, err := json.Marshal(blockData)
	if err != nil {
		return err
	}

	batch := leveldb.Batch{}
	batch.Put(blockKey(blockData.Hash), doc)
	batch.Put(heightKey(blockData.Header.Number), []byte(blockData.Hash))

	for _, tx := range blockData.Trans {
		batch.Put(txKey(tx.UniqueKey()), []byte(blockData.Hash))
	}

	for accountID, account := range accounts {
		batch.Put(accountKey(accountID), encodeBalance(account.Balance))
	}

	return l.db.Write(&batch, nil)
}

// GetBlock searches the blockchain on disk to locate and return the contents
// of the specified block by number.
func (l *LevelDB) GetBlock(num uint64) (database.BlockData, error) {
	hash, err := l.db.Get(heightKey(num), nil)
	if err == leveldb.ErrNotFound {
		return database.BlockData{}, database.ErrNotExists
	}
	if err != nil {
		return database.BlockData{}, err
	}

	return l.GetBlockByHash(string(hash))
}

// GetBlockByHash searches the blockchain on disk to locate and return the
// contents of the specified block by hash.
func (l *LevelDB) GetBlockByHash(hash string) (database.BlockData, error) {
	doc, err := l.db.Get(blockKey(hash), nil)
	if err == leveldb.ErrNotFound {
		return database.BlockData{}, database.ErrNotExists
	}
	if err != nil {
		return database.BlockData{}, err
	}

	var blockData database.BlockData
	if err := json.Unmarshal(doc, &blockData); err != nil {
		return database.BlockData{}, err
	}

	return blockData, nil
}

// TxBlockHash returns the hash of the block that recorded the specified
// transaction.
func (l *LevelDB) TxBlockHash(txHash string) (string, error) {
	hash, err := l.db.Get(txKey(txHash), nil)
	if err == leveldb.ErrNotFound {
		return "", database.ErrNotExists
	}
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// ReadAccounts returns the account balances recorded with the latest block.
func (l *LevelDB) ReadAccounts() (map[database.AccountID]database.Account, error) {
	accounts := make(map[database.AccountID]database.Account)

	rng := util.Range{
		Start: []byte{prefixAccount},
		Limit: []byte{prefixAccount + 1},
	}

	iter := l.db.NewIterator(&rng, nil)
	for iter.Next() {
		accountID := database.AccountID(iter.Key()[1:])
		accounts[accountID] = database.Account{
			AccountID: accountID,
			Balance:   decodeBalance(iter.Value()),
		}
	}
	iter.Release()

	if err := iter.Error(); err != nil {
		return nil, err
	}

	return accounts, nil
}

// ForEach returns an iterator to walk through all the blocks starting with
// block number 1.
func (l *LevelDB) ForEach() database.Iterator {
	return &ldbIterator{storage: l, current: 1}
}

// Truncate removes every block at or above the specified height. The account
// snapshot is dropped with them since it no longer matches the chain.
func (l *LevelDB) Truncate(fromHeight uint64) error {
	if fromHeight == 0 {
		fromHeight = 1
	}

	batch := leveldb.Batch{}

	rng := util.Range{
		Start: heightKey(fromHeight),
		Limit: []byte{prefixHeight + 1},
	}

	iter := l.db.NewIterator(&rng, nil)
	for iter.Next() {
		hash := string(iter.Value())

		blockData, err := l.GetBlockByHash(hash)
		if err == nil {
			for _, tx := range blockData.Trans {
				batch.Delete(txKey(tx.UniqueKey()))
			}
		}

		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())

		batch.Delete(blockKey(hash))
		batch.Delete(key)
	}
	iter.Release()

	if err := iter.Error(); err != nil {
		return err
	}

	if err := l.deleteRange(&batch, prefixAccount); err != nil {
		return err
	}

	return l.db.Write(&batch, nil)
}

// Reset will clear out the blockchain on disk.
func (l *LevelDB) Reset() error {
	batch := leveldb.Batch{}

	for _, prefix := range []byte{prefixBlock, prefixHeight, prefixTx, prefixAccount} {
		if err := l.deleteRange(&batch, prefix); err != nil {
			return err
		}
	}

	return l.db.Write(&batch, nil)
}

// deleteRange records a delete in the batch for every key under the prefix.
func (l *LevelDB) deleteRange(batch *leveldb.Batch, prefix byte) error {
	rng := util.Range{
		Start: []byte{prefix},
		Limit: []byte{prefix + 1},
	}

	iter := l.db.NewIterator(&rng, nil)
	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		batch.Delete(key)
	}
	iter.Release()

	return iter.Error()
}

// =============================================================================

func blockKey(hash string) []byte {
	return append([]byte{prefixBlock}, hash...)
}

func heightKey(num uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefixHeight
	binary.BigEndian.PutUint64(key[1:], num)
	return key
}

func txKey(txHash string) []byte {
	return append([]byte{prefixTx}, txHash...)
}

func accountKey(accountID database.AccountID) []byte {
	return append([]byte{prefixAccount}, accountID...)
}

func encodeBalance(balance uint64) []byte {
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, balance)
	return value
}

func decodeBalance(value []byte) uint64 {
	if len(value) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(value)
}

// =============================================================================

// ldbIterator represents the iteration implementation for walking through
// and reading blocks on disk. This implements the database Iterator
// interface.
type ldbIterator struct {
	storage *LevelDB // Access to the storage API.
	current uint64   // Current block number being iterated over.
	eoc     bool     // Represents the iterator is at the end of the chain.
}

// Next retrieves the next block from disk.
func (li *ldbIterator) Next() (database.BlockData, error) {
	if li.eoc {
		return database.BlockData{}, database.ErrNotExists
	}

	blockData, err := li.storage.GetBlock(li.current)
	if err != nil {
		li.eoc = true
	}

	li.current++

	return blockData, err
}

// Done returns the end of chain value.
func (li *ldbIterator) Done() bool {
	return li.eoc
}
