package state

import (
	"errors"
	"fmt"

	"github.com/novachain/novad/foundation/blockchain/database"
	"github.com/novachain/novad/foundation/blockchain/mempool"
)

// ErrDuplicateTransaction is returned when a transaction is already pending
// in the mempool or confirmed in a block.
var ErrDuplicateTransaction = errors.New("transaction already known")

// ErrInsufficientBalance is returned when the sender's confirmed balance
// cannot cover the value and tip on top of what they already have pending.
var ErrInsufficientBalance = errors.New("not enough funds to cover value and tip")

// =============================================================================

// UpsertWalletTransaction accepts a transaction from a wallet for inclusion.
func (s *State) UpsertWalletTransaction(signedTx database.SignedTx) error {
	s.mu.Lock()
	err := s.admitTransaction(signedTx)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.evHandler("state: UpsertWalletTransaction: accepted tx[%s]", signedTx.UniqueKey())

	s.Worker.SignalShareTx(signedTx)
	s.Worker.SignalStartMining()

	return nil
}

// UpsertNodeTransaction accepts a transaction from a peer node for inclusion.
func (s *State) UpsertNodeTransaction(signedTx database.SignedTx) error {
	s.mu.Lock()
	err := s.admitTransaction(signedTx)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.Worker.SignalStartMining()

	return nil
}

// =============================================================================

// admitTransaction runs the admission checks in order: good signature bound
// to the from account, never seen before, and funded by the confirmed
// balance over and above whatever the sender already has pending. Calls
// must hold the state lock.
func (s *State) admitTransaction(signedTx database.SignedTx) error {
	if err := signedTx.Validate(s.genesis.ChainID); err != nil {
		return err
	}

	txHash := signedTx.UniqueKey()

	if s.db.TxExists(txHash) || s.mempool.Knows(txHash) {
		return ErrDuplicateTransaction
	}

	// A sender can never queue more spend than their confirmed balance.
	balance := s.db.Balance(signedTx.FromID)
	pending := s.mempool.PendingSpend(signedTx.FromID)
	needed := signedTx.Value + signedTx.Tip
	if balance < pending || balance-pending < needed {
		return fmt.Errorf("%w: balance %d, pending %d, needed %d", ErrInsufficientBalance, balance, pending, needed)
	}

	if _, err := s.mempool.Upsert(signedTx); err != nil {
		if errors.Is(err, mempool.ErrAlreadyKnown) {
			return ErrDuplicateTransaction
		}
		return err
	}

	return nil
}
