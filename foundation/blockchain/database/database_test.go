package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/novachain/novad/foundation/blockchain/database"
	"github.com/novachain/novad/foundation/blockchain/database/storage/memory"
	"github.com/novachain/novad/foundation/blockchain/difficulty"
	"github.com/novachain/novad/foundation/blockchain/genesis"
	"github.com/novachain/novad/foundation/blockchain/merkle"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// easyBits keeps the proof of work trivial so tests solve blocks in a couple
// of hash attempts.
const easyBits = 0x207fffff

func Test_Transactions(t *testing.T) {
	t.Log("Given the need to validate applying transactions to the database.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen moving value between a funded account and a new account.", testID)
		{
			fromKey, err := crypto.GenerateKey()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to generate a from key: %v", failed, testID, err)
			}
			fromID := database.PublicKeyToAccountID(fromKey.PublicKey)

			toKey, err := crypto.GenerateKey()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to generate a to key: %v", failed, testID, err)
			}
			toID := database.PublicKeyToAccountID(toKey.PublicKey)

			minerKey, err := crypto.GenerateKey()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to generate a miner key: %v", failed, testID, err)
			}
			minerID := database.PublicKeyToAccountID(minerKey.PublicKey)

			gen := genesis.Genesis{
				ChainID:      1,
				MiningReward: 50,
				Balances: map[string]uint64{
					string(fromID): 1000,
				},
			}

			strg, err := memory.New()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to open storage: %v", failed, testID, err)
			}

			db, err := database.New(gen, strg, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to open database: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to open database.", success, testID)

			if bal := db.Balance(fromID); bal != 1000 {
				t.Fatalf("\t%s\tTest %d:\tShould have the genesis balance, got %d, exp %d.", failed, testID, bal, 1000)
			}
			t.Logf("\t%s\tTest %d:\tShould have the genesis balance.", success, testID)

			block := database.Block{
				Header: database.BlockHeader{
					BeneficiaryID: minerID,
				},
			}

			tx, err := database.NewTx(1, fromID, toID, 100, 15, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct a transaction: %v", failed, testID, err)
			}
			signedTx, err := tx.Sign(fromKey)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to sign a transaction: %v", failed, testID, err)
			}

			if err := db.ApplyTransaction(block, signedTx); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to apply a transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to apply a transaction.", success, testID)

			if bal := db.Balance(fromID); bal != 885 {
				t.Errorf("\t%s\tTest %d:\tShould debit value and tip from the sender, got %d, exp %d.", failed, testID, bal, 885)
			} else {
				t.Logf("\t%s\tTest %d:\tShould debit value and tip from the sender.", success, testID)
			}
			if bal := db.Balance(toID); bal != 100 {
				t.Errorf("\t%s\tTest %d:\tShould credit value to the receiver, got %d, exp %d.", failed, testID, bal, 100)
			} else {
				t.Logf("\t%s\tTest %d:\tShould credit value to the receiver.", success, testID)
			}
			if bal := db.Balance(minerID); bal != 15 {
				t.Errorf("\t%s\tTest %d:\tShould credit the tip to the beneficiary, got %d, exp %d.", failed, testID, bal, 15)
			} else {
				t.Logf("\t%s\tTest %d:\tShould credit the tip to the beneficiary.", success, testID)
			}

			coinbaseTx := database.NewCoinbaseTx(1, minerID, gen.MiningReward, 1)
			if err := db.ApplyTransaction(block, coinbaseTx); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to apply a coinbase: %v", failed, testID, err)
			}
			if bal := db.Balance(minerID); bal != 65 {
				t.Errorf("\t%s\tTest %d:\tShould credit the reward to the beneficiary, got %d, exp %d.", failed, testID, bal, 65)
			} else {
				t.Logf("\t%s\tTest %d:\tShould credit the reward to the beneficiary.", success, testID)
			}
		}

		testID++
		t.Logf("\tTest %d:\tWhen applying transactions the account cannot cover.", testID)
		{
			fromKey, err := crypto.GenerateKey()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to generate a from key: %v", failed, testID, err)
			}
			fromID := database.PublicKeyToAccountID(fromKey.PublicKey)

			toKey, err := crypto.GenerateKey()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to generate a to key: %v", failed, testID, err)
			}
			toID := database.PublicKeyToAccountID(toKey.PublicKey)

			gen := genesis.Genesis{
				ChainID: 1,
				Balances: map[string]uint64{
					string(fromID): 40,
				},
			}

			strg, err := memory.New()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to open storage: %v", failed, testID, err)
			}

			db, err := database.New(gen, strg, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to open database: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to open database.", success, testID)

			block := database.Block{
				Header: database.BlockHeader{
					BeneficiaryID: toID,
				},
			}

			tx, err := database.NewTx(1, fromID, toID, 35, 10, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct a transaction: %v", failed, testID, err)
			}
			signedTx, err := tx.Sign(fromKey)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to sign a transaction: %v", failed, testID, err)
			}

			if err := db.ApplyTransaction(block, signedTx); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould reject a transaction the balance cannot cover.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a transaction the balance cannot cover.", success, testID)

			if bal := db.Balance(fromID); bal != 40 {
				t.Errorf("\t%s\tTest %d:\tShould leave the balance untouched, got %d, exp %d.", failed, testID, bal, 40)
			} else {
				t.Logf("\t%s\tTest %d:\tShould leave the balance untouched.", success, testID)
			}

			selfTx, err := database.NewTx(1, fromID, fromID, 10, 0, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct a transaction: %v", failed, testID, err)
			}
			signedSelfTx, err := selfTx.Sign(fromKey)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to sign a transaction: %v", failed, testID, err)
			}

			if err := db.ApplyTransaction(block, signedSelfTx); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould reject sending money to yourself.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject sending money to yourself.", success, testID)
		}
	}
}

func Test_ChainReplay(t *testing.T) {
	t.Log("Given the need to rebuild account balances from the stored chain.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen reopening a database over existing blocks.", testID)
		{
			fromKey, err := crypto.GenerateKey()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to generate a from key: %v", failed, testID, err)
			}
			fromID := database.PublicKeyToAccountID(fromKey.PublicKey)

			toKey, err := crypto.GenerateKey()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to generate a to key: %v", failed, testID, err)
			}
			toID := database.PublicKeyToAccountID(toKey.PublicKey)

			minerKey, err := crypto.GenerateKey()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to generate a miner key: %v", failed, testID, err)
			}
			minerID := database.PublicKeyToAccountID(minerKey.PublicKey)

			gen := genesis.Genesis{
				ChainID:        1,
				MiningReward:   50,
				DifficultyBits: easyBits,
				Balances: map[string]uint64{
					string(fromID): 1000,
				},
			}

			strg, err := memory.New()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to open storage: %v", failed, testID, err)
			}

			db, err := database.New(gen, strg, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to open database: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to open database.", success, testID)

			tx, err := database.NewTx(1, fromID, toID, 100, 15, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct a transaction: %v", failed, testID, err)
			}
			signedTx, err := tx.Sign(fromKey)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to sign a transaction: %v", failed, testID, err)
			}

			block, err := database.POW(context.Background(), database.POWArgs{
				ChainID:        1,
				BeneficiaryID:  minerID,
				DifficultyBits: easyBits,
				Reward:         gen.MiningReward,
				PrevBlock:      db.LatestBlock(),
				Trans:          []database.SignedTx{signedTx},
				EvHandler:      func(v string, args ...any) {},
			})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to mine a block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to mine a block.", success, testID)

			for _, tran := range block.Trans.Values() {
				if err := db.ApplyTransaction(block, tran); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to apply a transaction: %v", failed, testID, err)
				}
			}
			db.UpdateLatestBlock(block)
			if err := db.Write(block); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to write the block to storage: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to write the block to storage.", success, testID)

			db2, err := database.New(gen, strg, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to reopen the database: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to reopen the database.", success, testID)

			if db2.Height() != 1 {
				t.Errorf("\t%s\tTest %d:\tShould replay to the stored height, got %d, exp %d.", failed, testID, db2.Height(), 1)
			} else {
				t.Logf("\t%s\tTest %d:\tShould replay to the stored height.", success, testID)
			}
			if db2.LatestBlock().Hash() != block.Hash() {
				t.Errorf("\t%s\tTest %d:\tShould replay to the stored tip.", failed, testID)
			} else {
				t.Logf("\t%s\tTest %d:\tShould replay to the stored tip.", success, testID)
			}

			balances := map[database.AccountID]uint64{
				fromID:  885,
				toID:    100,
				minerID: 65,
			}
			for accountID, exp := range balances {
				if bal := db2.Balance(accountID); bal != exp {
					t.Errorf("\t%s\tTest %d:\tShould replay the balance for %s, got %d, exp %d.", failed, testID, accountID, bal, exp)
				} else {
					t.Logf("\t%s\tTest %d:\tShould replay the balance for %s.", success, testID, accountID)
				}
			}

			if !db2.TxExists(signedTx.UniqueKey()) {
				t.Errorf("\t%s\tTest %d:\tShould find the transaction in the block index.", failed, testID)
			} else {
				t.Logf("\t%s\tTest %d:\tShould find the transaction in the block index.", success, testID)
			}
			blockHash, err := db2.TxBlockHash(signedTx.UniqueKey())
			if err != nil || blockHash != block.Hash() {
				t.Errorf("\t%s\tTest %d:\tShould resolve the transaction to its block.", failed, testID)
			} else {
				t.Logf("\t%s\tTest %d:\tShould resolve the transaction to its block.", success, testID)
			}

			stored, err := db2.GetBlockByHash(block.Hash())
			if err != nil || stored.Hash() != block.Hash() {
				t.Errorf("\t%s\tTest %d:\tShould read the block back by hash.", failed, testID)
			} else {
				t.Logf("\t%s\tTest %d:\tShould read the block back by hash.", success, testID)
			}
		}
	}
}

func Test_Truncate(t *testing.T) {
	t.Log("Given the need to rewind the chain to a previous height.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen truncating the top block of a two block chain.", testID)
		{
			fromKey, err := crypto.GenerateKey()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to generate a from key: %v", failed, testID, err)
			}
			fromID := database.PublicKeyToAccountID(fromKey.PublicKey)

			toKey, err := crypto.GenerateKey()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to generate a to key: %v", failed, testID, err)
			}
			toID := database.PublicKeyToAccountID(toKey.PublicKey)

			minerKey, err := crypto.GenerateKey()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to generate a miner key: %v", failed, testID, err)
			}
			minerID := database.PublicKeyToAccountID(minerKey.PublicKey)

			gen := genesis.Genesis{
				ChainID:        1,
				MiningReward:   50,
				DifficultyBits: easyBits,
				Balances: map[string]uint64{
					string(fromID): 1000,
				},
			}

			strg, err := memory.New()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to open storage: %v", failed, testID, err)
			}

			db, err := database.New(gen, strg, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to open database: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to open database.", success, testID)

			tx1, err := database.NewTx(1, fromID, toID, 100, 0, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct a transaction: %v", failed, testID, err)
			}
			signedTx1, err := tx1.Sign(fromKey)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to sign a transaction: %v", failed, testID, err)
			}

			block1 := mineBlock(t, gen, db.LatestBlock(), minerID, 0, []database.SignedTx{signedTx1})
			applyBlock(t, db, block1)
			t.Logf("\t%s\tTest %d:\tShould be able to commit the first block.", success, testID)

			tx2, err := database.NewTx(1, fromID, toID, 200, 10, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct a transaction: %v", failed, testID, err)
			}
			signedTx2, err := tx2.Sign(fromKey)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to sign a transaction: %v", failed, testID, err)
			}

			block2 := mineBlock(t, gen, block1, minerID, block1.Header.TimeStamp+1, []database.SignedTx{signedTx2})
			applyBlock(t, db, block2)
			t.Logf("\t%s\tTest %d:\tShould be able to commit the second block.", success, testID)

			if db.Height() != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould be at height 2, got %d.", failed, testID, db.Height())
			}

			if err := db.Truncate(2); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to truncate the chain: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to truncate the chain.", success, testID)

			if db.Height() != 1 {
				t.Errorf("\t%s\tTest %d:\tShould rewind to height 1, got %d.", failed, testID, db.Height())
			} else {
				t.Logf("\t%s\tTest %d:\tShould rewind to height 1.", success, testID)
			}
			if db.LatestBlock().Hash() != block1.Hash() {
				t.Errorf("\t%s\tTest %d:\tShould rewind the tip to the first block.", failed, testID)
			} else {
				t.Logf("\t%s\tTest %d:\tShould rewind the tip to the first block.", success, testID)
			}

			balances := map[database.AccountID]uint64{
				fromID:  900,
				toID:    100,
				minerID: 50,
			}
			for accountID, exp := range balances {
				if bal := db.Balance(accountID); bal != exp {
					t.Errorf("\t%s\tTest %d:\tShould rebuild the balance for %s, got %d, exp %d.", failed, testID, accountID, bal, exp)
				} else {
					t.Logf("\t%s\tTest %d:\tShould rebuild the balance for %s.", success, testID, accountID)
				}
			}

			if _, err := db.GetBlock(2); !errors.Is(err, database.ErrNotExists) {
				t.Errorf("\t%s\tTest %d:\tShould no longer find the truncated block, got %v.", failed, testID, err)
			} else {
				t.Logf("\t%s\tTest %d:\tShould no longer find the truncated block.", success, testID)
			}
			if db.TxExists(signedTx2.UniqueKey()) {
				t.Errorf("\t%s\tTest %d:\tShould drop the truncated block's transactions from the index.", failed, testID)
			} else {
				t.Logf("\t%s\tTest %d:\tShould drop the truncated block's transactions from the index.", success, testID)
			}
		}
	}
}

// =============================================================================

// mineBlock assembles and solves a block directly so tests control the header
// timestamp. A zero timeStamp stamps the block with the current time.
func mineBlock(t *testing.T, gen genesis.Genesis, prevBlock database.Block, beneficiaryID database.AccountID, timeStamp uint64, txs []database.SignedTx) database.Block {
	t.Helper()

	if timeStamp == 0 {
		timeStamp = uint64(time.Now().UTC().Unix())
	}

	trans := make([]database.SignedTx, 0, len(txs)+1)
	trans = append(trans, database.NewCoinbaseTx(gen.ChainID, beneficiaryID, gen.MiningReward, prevBlock.Header.Number+1))
	trans = append(trans, txs...)

	tree, err := merkle.NewTree(trans)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to build a merkle tree: %v", failed, err)
	}

	block := database.Block{
		Header: database.BlockHeader{
			Number:         prevBlock.Header.Number + 1,
			PrevBlockHash:  prevBlock.Hash(),
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

// applyBlock commits a block against the database the way the state layer
// does, balances first, then the latest block, then storage.
func applyBlock(t *testing.T, db *database.Database, block database.Block) {
	t.Helper()

	for _, tran := range block.Trans.Values() {
		if err := db.ApplyTransaction(block, tran); err != nil {
			t.Fatalf("\t%s\tShould be able to apply a transaction: %v", failed, err)
		}
	}
	db.UpdateLatestBlock(block)
	if err := db.Write(block); err != nil {
		t.Fatalf("\t%s\tShould be able to write the block to storage: %v", failed, err)
	}
}
