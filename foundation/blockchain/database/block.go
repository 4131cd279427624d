package database

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/novachain/novad/foundation/blockchain/difficulty"
	"github.com/novachain/novad/foundation/blockchain/merkle"
	"github.com/novachain/novad/foundation/blockchain/signature"
)

// ErrChainForked is returned from validateNextBlock if another node's chain
// is two or more blocks ahead of ours.
var ErrChainForked = errors.New("blockchain forked, start resync")

// =============================================================================

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	Number         uint64    `json:"number"`          // Block number in the chain.
	PrevBlockHash  string    `json:"prev_block_hash"` // Hash of the previous block in the chain.
	TimeStamp      uint64    `json:"timestamp"`       // Time the block was mined.
	BeneficiaryID  AccountID `json:"beneficiary"`     // The account receiving the mining reward and tips.
	DifficultyBits uint32    `json:"difficulty_bits"` // Compact form of the proof of work target this block satisfies.
	Nonce          uint64    `json:"nonce"`           // Value identified to solve the hash solution.
	TransRoot      string    `json:"trans_root"`      // Merkle tree root hash for the transactions in this block.
}

// Block represents a group of transactions batched together.
type Block struct {
	Header BlockHeader
	Trans  *merkle.Tree[SignedTx]
}

// POWArgs represents the set of arguments required to run POW.
type POWArgs struct {
	ChainID        uint16
	BeneficiaryID  AccountID
	DifficultyBits uint32
	Reward         uint64
	PrevBlock      Block
	Trans          []SignedTx
	EvHandler      func(v string, args ...any)
}

// POW constructs a new Block and performs the work to find a nonce that
// solves the cryptographic POW puzzle.
func POW(ctx context.Context, args POWArgs) (Block, error) {

	// When mining the first block, the previous block's hash will be zero.
	prevBlockHash := signature.ZeroHash
	if args.PrevBlock.Header.Number > 0 {
		prevBlockHash = args.PrevBlock.Hash()
	}

	number := args.PrevBlock.Header.Number + 1

	// The coinbase granting the mining reward takes the first position.
	trans := make([]SignedTx, 0, len(args.Trans)+1)
	trans = append(trans, NewCoinbaseTx(args.ChainID, args.BeneficiaryID, args.Reward, number))
	trans = append(trans, args.Trans...)

	// Construct a merkle tree from the transactions for this block. The root
	// of this tree will be part of the block to be mined.
	tree, err := merkle.NewTree(trans)
	if err != nil {
		return Block{}, err
	}

	// Construct the block to be mined.
	nb := Block{
		Header: BlockHeader{
			Number:         number,
			PrevBlockHash:  prevBlockHash,
			TimeStamp:      uint64(time.Now().UTC().Unix()),
			BeneficiaryID:  args.BeneficiaryID,
			DifficultyBits: args.DifficultyBits,
			Nonce:          0, // Will be identified by the POW algorithm.
			TransRoot:      tree.RootHex(),
		},
		Trans: tree,
	}

	// Perform the proof of work mining operation.
	if err := nb.performPOW(ctx, args.EvHandler); err != nil {
		return Block{}, err
	}

	return nb, nil
}

// performPOW does the work of mining to find a valid hash for a specified
// block. Pointer semantics are being used since a nonce is being discovered.
func (b *Block) performPOW(ctx context.Context, ev func(v string, args ...any)) error {
	ev("database: PerformPOW: MINING: started")
	defer ev("database: PerformPOW: MINING: completed")

	// Log the transactions that are a part of this potential block.
	for _, tx := range b.Trans.Values() {
		ev("database: PerformPOW: MINING: tx[%s]", tx)
	}

	// Choose a random starting point for the nonce. After this, the nonce
	// will be incremented by 1 until a solution is found by us or another node.
	nBig, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		return ctx.Err()
	}
	b.Header.Nonce = nBig.Uint64()

	// Loop until we or another node finds a solution for the next block.
	var attempts uint64
	for {
		attempts++
		if attempts%1_000_000 == 0 {
			ev("database: PerformPOW: MINING: attempts[%d]", attempts)
		}

		// Did the miner get asked to stand down.
		if ctx.Err() != nil {
			ev("database: PerformPOW: MINING: CANCELLED")
			return ctx.Err()
		}

		// Hash the block and check if we have solved the puzzle.
		hash := b.Hash()
		if !difficulty.IsSolved(hash, b.Header.DifficultyBits) {
			b.Header.Nonce++
			continue
		}

		// Did the miner get asked to stand down.
		if ctx.Err() != nil {
			ev("database: PerformPOW: MINING: CANCELLED")
			return ctx.Err()
		}

		ev("database: PerformPOW: MINING: SOLVED: prevBlk[%s]: newBlk[%s]", b.Header.PrevBlockHash, hash)
		ev("database: PerformPOW: MINING: attempts[%d]", attempts)

		return nil
	}
}

// Hash returns the unique hash for the Block. The hash is recomputed from
// the header fields every time, it is never trusted from a cache.
func (b Block) Hash() string {
	if b.Header.Number == 0 {
		return signature.ZeroHash
	}

	// CORE NOTE: Hashing the block header and not the whole block so the
	// blockchain can be cryptographically checked by only needing block
	// headers and not full blocks with the transaction data. The merkle tree
	// root in the header covers the transactions.

	return signature.Hash(b.Header)
}

// Work returns the amount of work this block on its own represents.
func (b Block) Work() *big.Int {
	return difficulty.Work(b.Header.DifficultyBits)
}

// ValidateBlock takes a block and validates it to be included into
// the blockchain.
func (b Block) ValidateBlock(previousBlock Block, expectedBits uint32, reward uint64, evHandler func(v string, args ...any)) error {
	evHandler("database: ValidateBlock: validate: blk[%d]: check: chain is not forked", b.Header.Number)

	// The node who sent this block has a chain that is two or more blocks
	// ahead of ours. This means there has been a fork and we are on the
	// wrong side.
	nextNumber := previousBlock.Header.Number + 1
	if b.Header.Number >= (nextNumber + 2) {
		return ErrChainForked
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: block difficulty matches the schedule", b.Header.Number)

	if b.Header.DifficultyBits != expectedBits {
		return fmt.Errorf("block difficulty does not follow the retarget schedule, got %08x, exp %08x", b.Header.DifficultyBits, expectedBits)
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: block hash has been solved", b.Header.Number)

	hash := b.Hash()
	if !difficulty.IsSolved(hash, b.Header.DifficultyBits) {
		return fmt.Errorf("%s invalid block hash", hash)
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: block number is the next number", b.Header.Number)

	if b.Header.Number != nextNumber {
		return fmt.Errorf("this block is not the next number, got %d, exp %d", b.Header.Number, nextNumber)
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: parent hash does match parent block", b.Header.Number)

	if b.Header.PrevBlockHash != previousBlock.Hash() {
		return fmt.Errorf("parent block hash doesn't match our known parent, got %s, exp %s", b.Header.PrevBlockHash, previousBlock.Hash())
	}

	if previousBlock.Header.TimeStamp > 0 {
		evHandler("database: ValidateBlock: validate: blk[%d]: check: block's timestamp is greater than parent block's timestamp", b.Header.Number)

		parentTime := time.Unix(int64(previousBlock.Header.TimeStamp), 0)
		blockTime := time.Unix(int64(b.Header.TimeStamp), 0)
		if !blockTime.After(parentTime) {
			return fmt.Errorf("block timestamp is before parent block, parent %s, block %s", parentTime, blockTime)
		}
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: coinbase takes the first position with the right reward", b.Header.Number)

	trans := b.Trans.Values()
	if len(trans) == 0 {
		return errors.New("block carries no transactions")
	}
	for i, tx := range trans {
		switch {
		case i == 0:
			if !tx.IsCoinbase() {
				return errors.New("first transaction is not the coinbase")
			}
			if tx.Value != reward {
				return fmt.Errorf("coinbase carries the wrong reward, got %d, exp %d", tx.Value, reward)
			}
			if tx.ToID != b.Header.BeneficiaryID {
				return fmt.Errorf("coinbase does not pay the beneficiary, got %s, exp %s", tx.ToID, b.Header.BeneficiaryID)
			}
		default:
			if tx.IsCoinbase() {
				return fmt.Errorf("extra coinbase found at position %d", i)
			}
		}
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: merkle root does match transactions", b.Header.Number)

	if b.Header.TransRoot != b.Trans.RootHex() {
		return fmt.Errorf("merkle root does not match transactions, got %s, exp %s", b.Trans.RootHex(), b.Header.TransRoot)
	}

	return nil
}

// =============================================================================

// BlockData represents what can be serialized to disk and over the network.
type BlockData struct {
	Hash   string      `json:"hash"`
	Header BlockHeader `json:"block"`
	Trans  []SignedTx  `json:"trans"`
}

// NewBlockData constructs block data from a block.
func NewBlockData(block Block) BlockData {
	blockData := BlockData{
		Hash:   block.Hash(),
		Header: block.Header,
		Trans:  block.Trans.Values(),
	}

	return blockData
}

// ToBlock converts a storage block into a database block. The hash the block
// data claims to have must match the hash recomputed over its fields.
func ToBlock(blockData BlockData) (Block, error) {
	tree, err := merkle.NewTree(blockData.Trans)
	if err != nil {
		return Block{}, err
	}

	nb := Block{
		Header: blockData.Header,
		Trans:  tree,
	}

	if nb.Hash() != blockData.Hash {
		return Block{}, fmt.Errorf("block hash mismatch, got %s, exp %s", blockData.Hash, nb.Hash())
	}

	return nb, nil
}
