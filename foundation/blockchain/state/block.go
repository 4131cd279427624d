package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/novachain/novad/foundation/blockchain/arena"
	"github.com/novachain/novad/foundation/blockchain/database"
)

// ErrNoTransactions is returned when a block is requested to be created
// and there are not enough transactions.
var ErrNoTransactions = errors.New("no transactions in mempool")

// ErrStaleCandidate is returned when a mined block can no longer extend the
// chain because another block won the race for its slot.
var ErrStaleCandidate = errors.New("candidate block went stale")

// ErrInvalidTransaction is returned when a proposed block carries a
// transaction whose signature or account binding does not hold up.
var ErrInvalidTransaction = errors.New("block carries an invalid transaction")

// =============================================================================

// MineNewBlock attempts to create a new block with a proper hash that can become
// the next block in the chain.
func (s *State) MineNewBlock(ctx context.Context) (database.Block, error) {
	s.evHandler("state: MineNewBlock: MINING: check mempool count")

	// Are there enough transactions in the pool.
	if s.mempool.Count() == 0 {
		return database.Block{}, ErrNoTransactions
	}

	// Pick the best transactions from the mempool and snapshot the chain
	// position the block will build on.
	trans := s.mempool.PickBest(int(s.genesis.TransPerBlock))

	s.mu.Lock()
	parent := s.db.LatestBlock()
	bits, err := s.requiredBits(parent)
	s.mu.Unlock()
	if err != nil {
		return database.Block{}, err
	}

	number := parent.Header.Number + 1

	s.evHandler("state: MineNewBlock: MINING: perform POW")

	// Attempt to create a new block by solving the POW puzzle. This can be cancelled.
	block, err := database.POW(ctx, database.POWArgs{
		ChainID:        s.genesis.ChainID,
		BeneficiaryID:  s.beneficiaryID,
		DifficultyBits: bits,
		Reward:         s.genesis.Reward(number),
		PrevBlock:      parent,
		Trans:          trans,
		EvHandler:      s.evHandler,
	})
	if err != nil {
		return database.Block{}, err
	}

	// Just check one more time we were not cancelled.
	if ctx.Err() != nil {
		return database.Block{}, ctx.Err()
	}

	s.evHandler("state: MineNewBlock: MINING: commit to the chain")

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another block may have won this slot while the puzzle was being
	// solved. The solved block is thrown away, its transactions are still
	// in the mempool for the next attempt.
	if block.Header.PrevBlockHash != s.db.LatestBlock().Hash() {
		return database.Block{}, ErrStaleCandidate
	}

	if err := s.acceptBlock(block); err != nil {
		return database.Block{}, err
	}

	return block, nil
}

// ProcessProposedBlock takes a block received from a peer, validates it and
// if that passes, adds the block to the local blockchain.
func (s *State) ProcessProposedBlock(block database.Block) error {
	s.evHandler("state: ProcessProposedBlock: started: prevBlk[%s]: newBlk[%s]: numTrans[%d]", block.Header.PrevBlockHash, block.Hash(), len(block.Trans.Values()))
	defer s.evHandler("state: ProcessProposedBlock: completed: newBlk[%s]", block.Hash())

	// If the runMiningOperation function is being executed it needs to stop
	// immediately. The G executing runMiningOperation will not return from the
	// function until done is called. That allows this function to complete
	// its state changes before a new mining operation takes place.
	done := s.Worker.SignalCancelMining()
	defer func() {
		s.evHandler("state: ProcessProposedBlock: signal runMiningOperation to terminate")
		done()
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.acceptBlock(block)
}

// =============================================================================

// acceptBlock validates the block against its parent in the fork window,
// links it into the arena and moves the committed chain when the block ends
// up on the branch with the most work. Calls must hold the state lock.
func (s *State) acceptBlock(block database.Block) error {
	if _, exists := s.arena.ByHash(block.Hash()); exists {
		return arena.ErrDuplicate
	}

	if count := len(block.Trans.Values()); count > int(s.genesis.TransPerBlock) {
		return fmt.Errorf("too many transactions in block: got %d, limit %d", count, s.genesis.TransPerBlock)
	}

	// The parent has to be inside the retained window. Anything else means
	// a gap to sync or a fork too deep to ever win.
	parent, exists := s.arena.ByHash(block.Header.PrevBlockHash)
	if !exists {
		return arena.ErrUnknownParent
	}

	bits, err := s.requiredBits(parent.Block)
	if err != nil {
		return err
	}

	if err := block.ValidateBlock(parent.Block, bits, s.genesis.Reward(block.Header.Number), s.evHandler); err != nil {
		return err
	}

	// Every transaction riding along must carry a good signature bound to
	// its from account. The coinbase in position zero is exempt.
	for i, tx := range block.Trans.Values() {
		if i == 0 {
			continue
		}
		if err := tx.Validate(s.genesis.ChainID); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
		}
	}

	node, err := s.arena.Add(block)
	if err != nil {
		return err
	}

	// Not the heaviest branch. The block stays in the window in case its
	// branch takes over later.
	if best := s.arena.BestTip(); best != node {
		s.evHandler("state: acceptBlock: STALE: blk[%d] hash[%s] retained, best is blk[%d] hash[%s]", node.Height, node.Hash, best.Height, best.Hash)
		return nil
	}

	// The common case, the new best tip extends the committed chain.
	if block.Header.PrevBlockHash == s.db.LatestBlock().Hash() {
		if err := s.applyBlock(block); err != nil {
			return err
		}
		s.arena.Prune()
		return nil
	}

	// The best tip moved to a competing branch.
	return s.reorganize(node)
}

// applyBlock commits a block that has already won its place in the chain.
// Balances move first so the durable snapshot written with the block
// reflects it. Calls must hold the state lock.
func (s *State) applyBlock(block database.Block) error {
	s.evHandler("state: applyBlock: update accounts and remove from mempool")

	// Process the transactions and update the accounts.
	for _, tx := range block.Trans.Values() {
		s.evHandler("state: applyBlock: tx[%s] update and remove", tx)

		// Remove this transaction from the mempool.
		s.mempool.Delete(tx)

		// Apply the balance changes based on this transaction.
		if err := s.db.ApplyTransaction(block, tx); err != nil {
			s.evHandler("state: applyBlock: WARNING : %s", err)
			continue
		}
	}

	s.evHandler("state: applyBlock: write to disk")

	// Write the new block to the chain on disk.
	if err := s.db.Write(block); err != nil {
		return err
	}
	s.db.UpdateLatestBlock(block)

	// Send an event about this new block.
	s.blockEvent(block)

	return nil
}

// reorganize moves the committed chain over to the branch ending at tip.
// The shared ancestor is found, everything above it is rewound, the winning
// branch is replayed and transactions that only lived on the losing branch
// go back through mempool admission. Calls must hold the state lock.
func (s *State) reorganize(tip *arena.Node) error {
	latest := s.db.LatestBlock()

	current, exists := s.arena.ByHash(latest.Hash())
	if !exists {
		return fmt.Errorf("committed tip %s missing from the fork window", latest.Hash())
	}

	fork := s.arena.ForkPoint(current, tip)
	if fork == nil {
		return fmt.Errorf("no shared ancestor between %s and %s", current.Hash, tip.Hash)
	}

	path := s.arena.PathBetween(fork, tip)
	if path == nil {
		return fmt.Errorf("broken branch between %s and %s", fork.Hash, tip.Hash)
	}

	s.evHandler("state: reorganize: REORG: fork blk[%d]: dropping blks[%d-%d]: adopting blks[%d-%d]", fork.Height, fork.Height+1, current.Height, fork.Height+1, tip.Height)

	// Collect the transactions that are about to lose their block.
	var orphaned []database.SignedTx
	for node := current; node != fork; node = node.Parent {
		for _, tx := range node.Block.Trans.Values() {
			if tx.IsCoinbase() {
				continue
			}
			orphaned = append(orphaned, tx)
		}
	}

	// Rewind the committed chain to the fork point. Balances are rebuilt
	// by replay inside the database.
	if err := s.db.Truncate(fork.Height + 1); err != nil {
		return err
	}

	// Apply the winning branch oldest first.
	for _, node := range path {
		if err := s.applyBlock(node.Block); err != nil {
			return err
		}
	}

	// Orphaned transactions rejoin the pool through normal admission.
	// Anything already confirmed on the winning branch or no longer funded
	// falls out here.
	for _, tx := range orphaned {
		if err := s.admitTransaction(tx); err != nil {
			s.evHandler("state: reorganize: orphaned tx[%s] dropped: %s", tx.UniqueKey(), err)
		}
	}

	s.arena.Prune()

	return nil
}

// blockEvent provides a specific event about a new block in the chain for
// application specific support.
func (s *State) blockEvent(block database.Block) {
	blockHeaderJSON, err := json.Marshal(block.Header)
	if err != nil {
		blockHeaderJSON = []byte(fmt.Sprintf("%q", err.Error()))
	}

	blockTransJSON, err := json.Marshal(block.Trans.Values())
	if err != nil {
		blockTransJSON = []byte(fmt.Sprintf("%q", err.Error()))
	}

	s.evHandler(`viewer: block: {"hash":%q,"header":%s,"trans":%s}`, block.Hash(), string(blockHeaderJSON), string(blockTransJSON))
}
