// Package state is the core API for the blockchain and implements all the
// business rules and processing.
package state

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/novachain/novad/foundation/blockchain/arena"
	"github.com/novachain/novad/foundation/blockchain/database"
	"github.com/novachain/novad/foundation/blockchain/genesis"
	"github.com/novachain/novad/foundation/blockchain/mempool"
	"github.com/novachain/novad/foundation/blockchain/mempool/selector"
	"github.com/novachain/novad/foundation/blockchain/peer"
)

/*
	-- Blockchain
	Announce inventory in batches instead of one inv message per block.
	Pull block headers first during sync and fetch bodies lazily.
	Persist the peer set so restarts keep their reputation scores.
*/

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of persisting blocks.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for mining, block and transaction sharing, and
// keeping the node in sync with its peers.
type Worker interface {
	Shutdown()
	Sync()
	SignalStartMining()
	SignalCancelMining() (done func())
	SignalShareTx(tx database.SignedTx)
}

// =============================================================================

// Config represents the configuration required to start
// the blockchain node.
type Config struct {
	BeneficiaryID  database.AccountID
	Host           string
	Storage        database.Serializer
	Genesis        genesis.Genesis
	SelectStrategy string
	KnownPeers     *peer.PeerSet
	EvHandler      EventHandler
}

// State manages the blockchain database.
type State struct {
	mu sync.Mutex

	beneficiaryID database.AccountID
	host          string
	evHandler     EventHandler

	genesis    genesis.Genesis
	knownPeers *peer.PeerSet
	mempool    *mempool.Mempool
	db         *database.Database
	arena      *arena.Arena

	Worker Worker
}

// New constructs a new blockchain for data management.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	// Access the storage for the blockchain. This will load and revalidate
	// any chain that already exists on disk.
	db, err := database.New(cfg.Genesis, cfg.Storage, ev)
	if err != nil {
		return nil, err
	}

	// Construct a mempool with the specified sort strategy.
	strategy := cfg.SelectStrategy
	if strategy == "" {
		strategy = selector.StrategyFIFO
	}
	mpool, err := mempool.NewWithStrategy(int(cfg.Genesis.MempoolSize), strategy)
	if err != nil {
		return nil, err
	}

	// Construct the fork window where competing branches compete on work.
	ar := arena.New(uint64(cfg.Genesis.ForkDepth))
	if err := rebuildForkWindow(ar, db, uint64(cfg.Genesis.ForkDepth)); err != nil {
		return nil, err
	}

	// Create the State to provide support for managing the blockchain.
	state := State{
		beneficiaryID: cfg.BeneficiaryID,
		host:          cfg.Host,
		evHandler:     ev,

		genesis:    cfg.Genesis,
		knownPeers: cfg.KnownPeers,
		mempool:    mpool,
		db:         db,
		arena:      ar,
	}

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &state, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Make sure the database file is properly closed.
	defer func() {
		s.db.Close()
	}()

	// Stop all blockchain writing activity.
	s.Worker.Shutdown()

	return nil
}

// Resync throws away the local chain above genesis and rebuilds it from the
// network. This is the way out when a peer chain forked deeper than the
// retained window can reconcile.
func (s *State) Resync() error {
	done := s.Worker.SignalCancelMining()

	s.mu.Lock()

	s.evHandler("state: resync: truncating the local chain")

	s.mempool.Truncate()
	if err := s.db.Truncate(1); err != nil {
		s.mu.Unlock()
		done()
		return err
	}
	s.arena.Reroot(database.Block{}, big.NewInt(0))

	s.mu.Unlock()
	done()

	s.Worker.Sync()

	return nil
}

// =============================================================================

// rebuildForkWindow loads the tail of the committed chain back into the
// arena so competing branches can attach right after a restart. The work
// accumulated below the window root is carried over so fork choice against
// the rebuilt chain stays honest.
func rebuildForkWindow(ar *arena.Arena, db *database.Database, forkDepth uint64) error {
	latest := db.LatestBlock()
	if latest.Header.Number == 0 {
		return nil
	}

	var rootNum uint64
	if latest.Header.Number > forkDepth {
		rootNum = latest.Header.Number - forkDepth
	}

	if rootNum > 0 {
		cumWork := big.NewInt(0)
		var rootBlock database.Block

		for i := uint64(1); i <= rootNum; i++ {
			block, err := db.GetBlock(i)
			if err != nil {
				return fmt.Errorf("rebuilding fork window: %w", err)
			}
			cumWork.Add(cumWork, block.Work())
			rootBlock = block
		}

		ar.Reroot(rootBlock, cumWork)
	}

	for i := rootNum + 1; i <= latest.Header.Number; i++ {
		block, err := db.GetBlock(i)
		if err != nil {
			return fmt.Errorf("rebuilding fork window: %w", err)
		}
		if _, err := ar.Add(block); err != nil {
			return fmt.Errorf("rebuilding fork window: blk[%d]: %w", i, err)
		}
	}

	return nil
}
