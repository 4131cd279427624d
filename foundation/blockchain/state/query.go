package state

import (
	"errors"
	"fmt"

	"github.com/novachain/novad/foundation/blockchain/database"
	"github.com/novachain/novad/foundation/blockchain/token"
)

// QueryLastest represents to query the latest block in the chain.
const QueryLastest = ^uint64(0) >> 1

// ErrAccountNotFound is returned when an account has no confirmed balance.
var ErrAccountNotFound = errors.New("account not found")

// =============================================================================

// QueryAccount returns a copy of the account from the database.
func (s *State) QueryAccount(accountID database.AccountID) (database.Account, error) {
	accounts := s.db.CopyAccounts()

	if account, exists := accounts[accountID]; exists {
		return account, nil
	}

	return database.Account{}, ErrAccountNotFound
}

// QueryMempoolLength returns the current length of the mempool.
func (s *State) QueryMempoolLength() int {
	return s.mempool.Count()
}

// QueryBlocksByNumber returns the set of blocks based on block numbers. This
// function reads the blockchain from disk first.
func (s *State) QueryBlocksByNumber(from uint64, to uint64) []database.Block {
	if from == QueryLastest {
		from = s.db.LatestBlock().Header.Number
		to = from
	}
	if to == QueryLastest {
		to = s.db.LatestBlock().Header.Number
	}

	var out []database.Block
	for i := from; i <= to; i++ {
		block, err := s.db.GetBlock(i)
		if err != nil {
			s.evHandler("state: QueryBlocksByNumber: ERROR: %s", err)
			return nil
		}
		out = append(out, block)
	}

	return out
}

// QueryBlockByHash returns the block with the specified hash. The confirmed
// chain is checked first, then the fork window, so side branch blocks can
// still be served to peers that ask for them.
func (s *State) QueryBlockByHash(hash string) (database.Block, error) {
	if block, err := s.db.GetBlockByHash(hash); err == nil {
		return block, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if node, exists := s.arena.ByHash(hash); exists && node.Height > 0 {
		return node.Block, nil
	}

	return database.Block{}, database.ErrNotExists
}

// QueryBlocksByAccount returns the set of blocks that carry a transaction
// involving the account. If the account is empty, all blocks are returned.
// This function reads the blockchain from disk first.
func (s *State) QueryBlocksByAccount(accountID database.AccountID) ([]database.Block, error) {
	var out []database.Block

	iter := s.db.ForEach()
	for block, err := iter.Next(); !iter.Done(); block, err = iter.Next() {
		if err != nil {
			return nil, err
		}

		for _, tx := range block.Trans.Values() {
			if accountID == "" || tx.FromID == accountID || tx.ToID == accountID {
				out = append(out, block)
				break
			}
		}
	}

	return out, nil
}

// QueryTransaction finds a confirmed transaction by its hash through the
// transaction index and returns it along with the block that holds it.
func (s *State) QueryTransaction(txHash string) (database.SignedTx, string, error) {
	blockHash, err := s.db.TxBlockHash(txHash)
	if err != nil {
		return database.SignedTx{}, "", err
	}

	block, err := s.db.GetBlockByHash(blockHash)
	if err != nil {
		return database.SignedTx{}, "", err
	}

	for _, tx := range block.Trans.Values() {
		if tx.UniqueKey() == txHash {
			return tx, blockHash, nil
		}
	}

	return database.SignedTx{}, "", fmt.Errorf("transaction %s not inside block %s", txHash, blockHash)
}

// KnowsBlock reports whether the block lives in the fork window or on the
// committed chain. Peers announcing it do not need to be asked for it.
func (s *State) KnowsBlock(hash string) bool {
	s.mu.Lock()
	_, exists := s.arena.ByHash(hash)
	s.mu.Unlock()

	if exists {
		return true
	}

	if _, err := s.db.GetBlockByHash(hash); err == nil {
		return true
	}

	return false
}

// KnowsTransaction reports whether the transaction is pending in the
// mempool or already confirmed inside a block.
func (s *State) KnowsTransaction(txHash string) bool {
	return s.mempool.Knows(txHash) || s.db.TxExists(txHash)
}

// QueryTokenSnapshot builds a view of the native coin over the confirmed
// balances. The snapshot carries no mint authority, it only answers
// balance, supply and detail questions.
func (s *State) QueryTokenSnapshot() *token.NOC {
	accounts := s.db.CopyAccounts()

	balances := make(map[database.AccountID]uint64, len(accounts))
	for accountID, account := range accounts {
		balances[accountID] = account.Balance
	}

	return token.New("", balances)
}
