package state

import (
	"time"

	"github.com/novachain/novad/foundation/blockchain/database"
	"github.com/novachain/novad/foundation/blockchain/difficulty"
)

// requiredBits computes the difficulty the block after parent must carry.
// Inside a window the parent's bits carry forward. On a retarget boundary
// the elapsed time of the closing window sets the new bits, clamped and
// floored by the difficulty package. Calls must hold the state lock.
func (s *State) requiredBits(parent database.Block) (uint32, error) {
	next := parent.Header.Number + 1
	interval := uint64(s.genesis.AdjustInterval)

	if next == 1 {
		return s.genesis.DifficultyBits, nil
	}
	if interval == 0 || next%interval != 0 {
		return parent.Header.DifficultyBits, nil
	}

	// The closing window runs from block next-interval to the parent.
	startTime, err := s.ancestorTime(parent, next-interval)
	if err != nil {
		return 0, err
	}

	expected := time.Duration(interval) * time.Duration(s.genesis.BlockInterval) * time.Second

	var actual time.Duration
	if parent.Header.TimeStamp > startTime {
		actual = time.Duration(parent.Header.TimeStamp-startTime) * time.Second
	}

	return difficulty.Adjust(parent.Header.DifficultyBits, expected, actual, s.genesis.DifficultyBits), nil
}

// ancestorTime resolves the timestamp of the block at the specified height
// on the branch ending at parent. The fork window answers first so side
// branches measure their own ancestors, heights below the window come off
// the committed chain. Height zero is the genesis date.
func (s *State) ancestorTime(parent database.Block, height uint64) (uint64, error) {
	if height == 0 {
		return uint64(s.genesis.Date.Unix()), nil
	}

	if node, exists := s.arena.ByHash(parent.Hash()); exists {
		if anc := node.AncestorAt(height); anc != nil {
			return anc.Block.Header.TimeStamp, nil
		}
	}

	block, err := s.db.GetBlock(height)
	if err != nil {
		return 0, err
	}

	return block.Header.TimeStamp, nil
}
