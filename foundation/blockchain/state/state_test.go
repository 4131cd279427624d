package state_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/novachain/novad/foundation/blockchain/database"
	"github.com/novachain/novad/foundation/blockchain/database/storage/memory"
	"github.com/novachain/novad/foundation/blockchain/difficulty"
	"github.com/novachain/novad/foundation/blockchain/genesis"
	"github.com/novachain/novad/foundation/blockchain/merkle"
	"github.com/novachain/novad/foundation/blockchain/peer"
	"github.com/novachain/novad/foundation/blockchain/signature"
	"github.com/novachain/novad/foundation/blockchain/state"
)

const (
	success = "✓"
	failed  = "✗"
)

// easyBits keeps the proof of work target forgiving so tests solve blocks
// in a handful of nonce attempts.
const easyBits = 0x207fffff

// =============================================================================

// stubWorker satisfies the state.Worker interface so the tests can drive
// the state without the background goroutines.
type stubWorker struct {
	cancels int
}

func (w *stubWorker) Shutdown()                          {}
func (w *stubWorker) Sync()                              {}
func (w *stubWorker) SignalStartMining()                 {}
func (w *stubWorker) SignalShareTx(tx database.SignedTx) {}

func (w *stubWorker) SignalCancelMining() (done func()) {
	w.cancels++
	return func() {}
}

// =============================================================================

func testGenesis(balances map[string]uint64) genesis.Genesis {
	return genesis.Genesis{
		Date:            time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		ChainID:         1,
		TransPerBlock:   10,
		DifficultyBits:  easyBits,
		BlockInterval:   10,
		AdjustInterval:  0,
		MiningReward:    700,
		HalvingInterval: 0,
		ForkDepth:       4,
		MempoolSize:     128,
		Balances:        balances,
	}
}

func newTestState(t *testing.T, gen genesis.Genesis, beneficiaryID database.AccountID, strg *memory.Memory) (*state.State, *stubWorker) {
	st, err := state.New(state.Config{
		BeneficiaryID: beneficiaryID,
		Host:          "localhost:9080",
		Storage:       strg,
		Genesis:       gen,
		KnownPeers:    peer.NewPeerSet(),
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the state: %v", failed, err)
	}

	w := stubWorker{}
	st.Worker = &w

	return st, &w
}

func genAccount(t *testing.T) (*ecdsa.PrivateKey, database.AccountID) {
	pk, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a private key: %v", failed, err)
	}

	return pk, database.PublicKeyToAccountID(pk.PublicKey)
}

func signTx(t *testing.T, pk *ecdsa.PrivateKey, to database.AccountID, value uint64, tip uint64) database.SignedTx {
	fromID := database.PublicKeyToAccountID(pk.PublicKey)

	tx, err := database.NewTx(1, fromID, to, value, tip, nil)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct a transaction: %v", failed, err)
	}

	signedTx, err := tx.Sign(pk)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign the transaction: %v", failed, err)
	}

	return signedTx
}

// solveBlock hand builds a valid block on top of parent and grinds the
// nonce until the difficulty target is met.
func solveBlock(t *testing.T, gen genesis.Genesis, parent database.Block, beneficiaryID database.AccountID, txs []database.SignedTx, timeStamp uint64) database.Block {
	number := parent.Header.Number + 1

	trans := make([]database.SignedTx, 0, len(txs)+1)
	trans = append(trans, database.NewCoinbaseTx(gen.ChainID, beneficiaryID, gen.Reward(number), number))
	trans = append(trans, txs...)

	tree, err := merkle.NewTree(trans)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to build the merkle tree: %v", failed, err)
	}

	prevHash := signature.ZeroHash
	if parent.Header.Number > 0 {
		prevHash = parent.Hash()
	}

	block := database.Block{
		Header: database.BlockHeader{
			Number:         number,
			PrevBlockHash:  prevHash,
			TimeStamp:      timeStamp,
			BeneficiaryID:  beneficiaryID,
			DifficultyBits: gen.DifficultyBits,
			TransRoot:      tree.RootHex(),
		},
		Trans: tree,
	}

	for !difficulty.IsSolved(block.Hash(), block.Header.DifficultyBits) {
		block.Header.Nonce++
	}

	return block
}

// =============================================================================

func Test_Transactions(t *testing.T) {
	t.Log("Given the need to admit transactions and mine them into a block.")
	{
		alicePK, aliceID := genAccount(t)
		_, bobID := genAccount(t)
		_, minerID := genAccount(t)

		gen := testGenesis(map[string]uint64{string(aliceID): 50})

		strg, err := memory.New()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct storage: %v", failed, err)
		}
		st, _ := newTestState(t, gen, minerID, strg)

		t.Logf("\tTest 0:\tWhen a funded account submits a transaction.")
		{
			tx := signTx(t, alicePK, bobID, 10, 0)

			if err := st.UpsertWalletTransaction(tx); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to admit a funded transaction: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to admit a funded transaction.", success)

			if err := st.UpsertWalletTransaction(tx); !errors.Is(err, state.ErrDuplicateTransaction) {
				t.Fatalf("\t%s\tTest 0:\tShould refuse the same transaction twice: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould refuse the same transaction twice.", success)

			overdraft := signTx(t, alicePK, bobID, 45, 0)
			if err := st.UpsertWalletTransaction(overdraft); !errors.Is(err, state.ErrInsufficientBalance) {
				t.Fatalf("\t%s\tTest 0:\tShould refuse spend beyond balance minus pending: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould refuse spend beyond balance minus pending.", success)
		}

		t.Logf("\tTest 1:\tWhen mining the pending transactions into a block.")
		{
			block, err := st.MineNewBlock(context.Background())
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to mine a block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould be able to mine a block.", success)

			if latest := st.RetrieveLatestBlock(); latest.Hash() != block.Hash() {
				t.Fatalf("\t%s\tTest 1:\tShould have the mined block as latest: got %s, exp %s", failed, latest.Hash(), block.Hash())
			}
			t.Logf("\t%s\tTest 1:\tShould have the mined block as latest.", success)

			alice, err := st.QueryAccount(aliceID)
			if err != nil || alice.Balance != 40 {
				t.Fatalf("\t%s\tTest 1:\tShould have 40 for the sender: got %d, err %v", failed, alice.Balance, err)
			}
			t.Logf("\t%s\tTest 1:\tShould have 40 for the sender.", success)

			bob, err := st.QueryAccount(bobID)
			if err != nil || bob.Balance != 10 {
				t.Fatalf("\t%s\tTest 1:\tShould have 10 for the recipient: got %d, err %v", failed, bob.Balance, err)
			}
			t.Logf("\t%s\tTest 1:\tShould have 10 for the recipient.", success)

			miner, err := st.QueryAccount(minerID)
			if err != nil || miner.Balance != gen.MiningReward {
				t.Fatalf("\t%s\tTest 1:\tShould have the reward for the miner: got %d, err %v", failed, miner.Balance, err)
			}
			t.Logf("\t%s\tTest 1:\tShould have the reward for the miner.", success)

			if length := st.QueryMempoolLength(); length != 0 {
				t.Fatalf("\t%s\tTest 1:\tShould have an empty mempool: got %d", failed, length)
			}
			t.Logf("\t%s\tTest 1:\tShould have an empty mempool.", success)
		}

		t.Logf("\tTest 2:\tWhen looking a confirmed transaction up by hash.")
		{
			mined := st.QueryBlocksByNumber(1, 1)
			if len(mined) != 1 {
				t.Fatalf("\t%s\tTest 2:\tShould be able to read block 1 back: got %d blocks", failed, len(mined))
			}

			var confirmedHash string
			for _, tx := range mined[0].Trans.Values() {
				if !tx.IsCoinbase() {
					confirmedHash = tx.UniqueKey()
				}
			}

			tx, blockHash, err := st.QueryTransaction(confirmedHash)
			if err != nil {
				t.Fatalf("\t%s\tTest 2:\tShould find the transaction in the index: %v", failed, err)
			}
			if blockHash != mined[0].Hash() || tx.UniqueKey() != confirmedHash {
				t.Fatalf("\t%s\tTest 2:\tShould resolve to the containing block: got %s", failed, blockHash)
			}
			t.Logf("\t%s\tTest 2:\tShould find the transaction in the index.", success)
		}
	}
}

func Test_MiningCancel(t *testing.T) {
	t.Log("Given the need to cancel a mining operation without side effects.")
	{
		alicePK, aliceID := genAccount(t)
		_, bobID := genAccount(t)
		_, minerID := genAccount(t)

		gen := testGenesis(map[string]uint64{string(aliceID): 50})

		strg, err := memory.New()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct storage: %v", failed, err)
		}
		st, _ := newTestState(t, gen, minerID, strg)

		t.Logf("\tTest 0:\tWhen the context is cancelled during the solve.")
		{
			if err := st.UpsertWalletTransaction(signTx(t, alicePK, bobID, 10, 0)); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to admit a transaction: %v", failed, err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			if _, err := st.MineNewBlock(ctx); err == nil {
				t.Fatalf("\t%s\tTest 0:\tShould not produce a block once cancelled.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould not produce a block once cancelled.", success)

			if latest := st.RetrieveLatestBlock(); latest.Header.Number != 0 {
				t.Fatalf("\t%s\tTest 0:\tShould leave the chain untouched: height %d", failed, latest.Header.Number)
			}
			t.Logf("\t%s\tTest 0:\tShould leave the chain untouched.", success)

			if length := st.QueryMempoolLength(); length != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould keep the transaction pending: got %d", failed, length)
			}
			t.Logf("\t%s\tTest 0:\tShould keep the transaction pending.", success)
		}
	}
}

func Test_Reorg(t *testing.T) {
	t.Log("Given the need to follow the branch with the most accumulated work.")
	{
		alicePK, aliceID := genAccount(t)
		_, bobID := genAccount(t)
		_, miner1ID := genAccount(t)
		_, miner2ID := genAccount(t)

		gen := testGenesis(map[string]uint64{string(aliceID): 50})

		strg, err := memory.New()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct storage: %v", failed, err)
		}
		st, worker := newTestState(t, gen, miner1ID, strg)

		base := uint64(time.Now().UTC().Unix())
		aliceTx := signTx(t, alicePK, bobID, 10, 0)

		blk1a := solveBlock(t, gen, database.Block{}, miner1ID, []database.SignedTx{aliceTx}, base+10)
		blk1b := solveBlock(t, gen, database.Block{}, miner2ID, nil, base+11)
		blk2b := solveBlock(t, gen, blk1b, miner2ID, nil, base+20)

		t.Logf("\tTest 0:\tWhen the first branch arrives.")
		{
			if err := st.ProcessProposedBlock(blk1a); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept the first block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould accept the first block.", success)

			alice, _ := st.QueryAccount(aliceID)
			if alice.Balance != 40 {
				t.Fatalf("\t%s\tTest 0:\tShould apply the carried transaction: got %d", failed, alice.Balance)
			}
			t.Logf("\t%s\tTest 0:\tShould apply the carried transaction.", success)
		}

		t.Logf("\tTest 1:\tWhen an equal work competitor arrives.")
		{
			if err := st.ProcessProposedBlock(blk1b); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould retain the competitor without error: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould retain the competitor without error.", success)

			if latest := st.RetrieveLatestBlock(); latest.Hash() != blk1a.Hash() {
				t.Fatalf("\t%s\tTest 1:\tShould keep the first seen tip on an equal work tie.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould keep the first seen tip on an equal work tie.", success)
		}

		t.Logf("\tTest 2:\tWhen the competing branch takes the work lead.")
		{
			if err := st.ProcessProposedBlock(blk2b); err != nil {
				t.Fatalf("\t%s\tTest 2:\tShould accept the heavier branch: %v", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould accept the heavier branch.", success)

			if latest := st.RetrieveLatestBlock(); latest.Hash() != blk2b.Hash() {
				t.Fatalf("\t%s\tTest 2:\tShould move the chain to the heavier tip.", failed)
			}
			t.Logf("\t%s\tTest 2:\tShould move the chain to the heavier tip.", success)

			alice, _ := st.QueryAccount(aliceID)
			if alice.Balance != 50 {
				t.Fatalf("\t%s\tTest 2:\tShould rewind the orphaned transaction: got %d", failed, alice.Balance)
			}
			t.Logf("\t%s\tTest 2:\tShould rewind the orphaned transaction.", success)

			if _, err := st.QueryAccount(miner1ID); !errors.Is(err, state.ErrAccountNotFound) {
				t.Fatalf("\t%s\tTest 2:\tShould drop the orphaned coinbase: %v", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould drop the orphaned coinbase.", success)

			miner2, _ := st.QueryAccount(miner2ID)
			if miner2.Balance != 2*gen.MiningReward {
				t.Fatalf("\t%s\tTest 2:\tShould credit both rewards on the new branch: got %d", failed, miner2.Balance)
			}
			t.Logf("\t%s\tTest 2:\tShould credit both rewards on the new branch.", success)

			if length := st.QueryMempoolLength(); length != 1 {
				t.Fatalf("\t%s\tTest 2:\tShould readmit the orphaned transaction: got %d", failed, length)
			}
			t.Logf("\t%s\tTest 2:\tShould readmit the orphaned transaction.", success)

			if worker.cancels == 0 {
				t.Fatalf("\t%s\tTest 2:\tShould have cancelled in flight mining.", failed)
			}
			t.Logf("\t%s\tTest 2:\tShould have cancelled in flight mining.", success)
		}
	}
}

func Test_Restart(t *testing.T) {
	t.Log("Given the need to reload the chain from storage after a restart.")
	{
		alicePK, aliceID := genAccount(t)
		_, bobID := genAccount(t)
		_, minerID := genAccount(t)

		gen := testGenesis(map[string]uint64{string(aliceID): 50})

		strg, err := memory.New()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct storage: %v", failed, err)
		}

		base := uint64(time.Now().UTC().Unix())

		var latestHash string

		t.Logf("\tTest 0:\tWhen blocks are committed before shutdown.")
		{
			st, _ := newTestState(t, gen, minerID, strg)

			blk1 := solveBlock(t, gen, database.Block{}, minerID, []database.SignedTx{signTx(t, alicePK, bobID, 10, 0)}, base+10)
			if err := st.ProcessProposedBlock(blk1); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept block 1: %v", failed, err)
			}

			blk2 := solveBlock(t, gen, blk1, minerID, nil, base+20)
			if err := st.ProcessProposedBlock(blk2); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept block 2: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould accept two blocks.", success)

			latestHash = st.RetrieveLatestBlock().Hash()
		}

		t.Logf("\tTest 1:\tWhen the node restarts over the same storage.")
		{
			st, _ := newTestState(t, gen, minerID, strg)

			latest := st.RetrieveLatestBlock()
			if latest.Header.Number != 2 || latest.Hash() != latestHash {
				t.Fatalf("\t%s\tTest 1:\tShould reload the same tip: height %d hash %s", failed, latest.Header.Number, latest.Hash())
			}
			t.Logf("\t%s\tTest 1:\tShould reload the same tip.", success)

			alice, _ := st.QueryAccount(aliceID)
			bob, _ := st.QueryAccount(bobID)
			miner, _ := st.QueryAccount(minerID)
			if alice.Balance != 40 || bob.Balance != 10 || miner.Balance != 2*gen.MiningReward {
				t.Fatalf("\t%s\tTest 1:\tShould rebuild the same balances: %d %d %d", failed, alice.Balance, bob.Balance, miner.Balance)
			}
			t.Logf("\t%s\tTest 1:\tShould rebuild the same balances.", success)
		}
	}
}
