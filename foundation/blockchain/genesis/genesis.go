// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"os"
	"time"
)

// Genesis represents the genesis file.
type Genesis struct {
	Date            time.Time         `json:"date"`
	ChainID         uint16            `json:"chain_id"`         // The chain id represents an unique id for this running instance.
	TransPerBlock   uint16            `json:"trans_per_block"`  // The maximum number of transactions that can be in a block.
	DifficultyBits  uint32            `json:"difficulty_bits"`  // Compact form of the proof of work target the chain starts from.
	BlockInterval   uint32            `json:"block_interval"`   // Number of seconds the chain aims to spend between blocks.
	AdjustInterval  uint16            `json:"adjust_interval"`  // Number of blocks between difficulty retargets.
	MiningReward    uint64            `json:"mining_reward"`    // Reward for mining a block.
	HalvingInterval uint64            `json:"halving_interval"` // Number of blocks after which the mining reward halves.
	ForkDepth       uint16            `json:"fork_depth"`       // How far below the best tip competing branches are retained.
	MempoolSize     uint16            `json:"mempool_size"`     // The maximum number of transactions held in the mempool.
	Balances        map[string]uint64 `json:"balances"`
}

// Reward returns the mining reward for a block at the specified height. The
// reward halves every halving interval of blocks until it reaches zero.
func (g Genesis) Reward(height uint64) uint64 {
	if g.HalvingInterval == 0 {
		return g.MiningReward
	}

	halvings := height / g.HalvingInterval
	if halvings > 63 {
		return 0
	}

	return g.MiningReward >> halvings
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load() (Genesis, error) {
	path := "zblock/genesis.json"
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	err = json.Unmarshal(content, &genesis)
	if err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}
