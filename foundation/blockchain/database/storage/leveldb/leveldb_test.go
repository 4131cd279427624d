package leveldb_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/novachain/novad/foundation/blockchain/database"
	"github.com/novachain/novad/foundation/blockchain/database/storage/leveldb"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	acct1 = database.AccountID("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")
	acct2 = database.AccountID("0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76")
)

// fakeHash builds an opaque block hash for storage tests, the serializer
// never recomputes hashes.
func fakeHash(fill byte) string {
	return "0x" + strings.Repeat(string(fill), 64)
}

func blockData(number uint64, hash string, beneficiaryID database.AccountID) database.BlockData {
	return database.BlockData{
		Hash: hash,
		Header: database.BlockHeader{
			Number:        number,
			BeneficiaryID: beneficiaryID,
		},
		Trans: []database.SignedTx{
			database.NewCoinbaseTx(1, beneficiaryID, 50, number),
		},
	}
}

func Test_ReadWrite(t *testing.T) {
	t.Log("Given the need to store and retrieve blocks on disk.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen writing blocks and reading them back.", testID)
		{
			dbPath := t.TempDir()

			strg, err := leveldb.New(dbPath)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to open storage: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to open storage.", success, testID)

			block1 := blockData(1, fakeHash('a'), acct1)
			if err := strg.Write(block1, map[database.AccountID]database.Account{
				acct1: {AccountID: acct1, Balance: 100},
			}); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to write the first block: %v", failed, testID, err)
			}

			block2 := blockData(2, fakeHash('b'), acct1)
			if err := strg.Write(block2, map[database.AccountID]database.Account{
				acct1: {AccountID: acct1, Balance: 150},
				acct2: {AccountID: acct2, Balance: 50},
			}); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to write the second block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to write blocks.", success, testID)

			got, err := strg.GetBlock(1)
			if err != nil || got.Hash != block1.Hash {
				t.Errorf("\t%s\tTest %d:\tShould read a block back by number: %v", failed, testID, err)
			} else {
				t.Logf("\t%s\tTest %d:\tShould read a block back by number.", success, testID)
			}

			got, err = strg.GetBlockByHash(block2.Hash)
			if err != nil || got.Header.Number != 2 {
				t.Errorf("\t%s\tTest %d:\tShould read a block back by hash: %v", failed, testID, err)
			} else {
				t.Logf("\t%s\tTest %d:\tShould read a block back by hash.", success, testID)
			}

			if _, err := strg.GetBlock(3); !errors.Is(err, database.ErrNotExists) {
				t.Errorf("\t%s\tTest %d:\tShould report a missing block, got %v.", failed, testID, err)
			} else {
				t.Logf("\t%s\tTest %d:\tShould report a missing block.", success, testID)
			}

			blockHash, err := strg.TxBlockHash(block1.Trans[0].UniqueKey())
			if err != nil || blockHash != block1.Hash {
				t.Errorf("\t%s\tTest %d:\tShould resolve a transaction to its block: %v", failed, testID, err)
			} else {
				t.Logf("\t%s\tTest %d:\tShould resolve a transaction to its block.", success, testID)
			}

			accounts, err := strg.ReadAccounts()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to read the account snapshot: %v", failed, testID, err)
			}
			if len(accounts) != 2 || accounts[acct1].Balance != 150 || accounts[acct2].Balance != 50 {
				t.Errorf("\t%s\tTest %d:\tShould carry the latest account snapshot, got %v.", failed, testID, accounts)
			} else {
				t.Logf("\t%s\tTest %d:\tShould carry the latest account snapshot.", success, testID)
			}

			var hashes []string
			iter := strg.ForEach()
			for bd, err := iter.Next(); !iter.Done(); bd, err = iter.Next() {
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to iterate the blocks: %v", failed, testID, err)
				}
				hashes = append(hashes, bd.Hash)
			}
			if len(hashes) != 2 || hashes[0] != block1.Hash || hashes[1] != block2.Hash {
				t.Errorf("\t%s\tTest %d:\tShould iterate the blocks in height order, got %v.", failed, testID, hashes)
			} else {
				t.Logf("\t%s\tTest %d:\tShould iterate the blocks in height order.", success, testID)
			}

			if err := strg.Close(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to close storage: %v", failed, testID, err)
			}

			strg, err = leveldb.New(dbPath)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to reopen storage: %v", failed, testID, err)
			}
			defer strg.Close()

			got, err = strg.GetBlock(2)
			if err != nil || got.Hash != block2.Hash {
				t.Errorf("\t%s\tTest %d:\tShould survive a close and reopen: %v", failed, testID, err)
			} else {
				t.Logf("\t%s\tTest %d:\tShould survive a close and reopen.", success, testID)
			}
		}
	}
}

func Test_TruncateReset(t *testing.T) {
	t.Log("Given the need to rewind and clear the stored chain.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen truncating above a height and resetting.", testID)
		{
			strg, err := leveldb.New(t.TempDir())
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to open storage: %v", failed, testID, err)
			}
			defer strg.Close()

			block1 := blockData(1, fakeHash('a'), acct1)
			block2 := blockData(2, fakeHash('b'), acct1)
			block3 := blockData(3, fakeHash('c'), acct2)

			accounts := map[database.AccountID]database.Account{
				acct1: {AccountID: acct1, Balance: 100},
			}
			for _, bd := range []database.BlockData{block1, block2, block3} {
				if err := strg.Write(bd, accounts); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to write a block: %v", failed, testID, err)
				}
			}

			if err := strg.Truncate(2); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to truncate: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to truncate.", success, testID)

			if _, err := strg.GetBlock(1); err != nil {
				t.Errorf("\t%s\tTest %d:\tShould keep blocks below the cut: %v", failed, testID, err)
			} else {
				t.Logf("\t%s\tTest %d:\tShould keep blocks below the cut.", success, testID)
			}

			for _, num := range []uint64{2, 3} {
				if _, err := strg.GetBlock(num); !errors.Is(err, database.ErrNotExists) {
					t.Errorf("\t%s\tTest %d:\tShould drop block %d, got %v.", failed, testID, num, err)
				} else {
					t.Logf("\t%s\tTest %d:\tShould drop block %d.", success, testID, num)
				}
			}

			if _, err := strg.GetBlockByHash(block2.Hash); !errors.Is(err, database.ErrNotExists) {
				t.Errorf("\t%s\tTest %d:\tShould drop the truncated block documents, got %v.", failed, testID, err)
			} else {
				t.Logf("\t%s\tTest %d:\tShould drop the truncated block documents.", success, testID)
			}

			if _, err := strg.TxBlockHash(block2.Trans[0].UniqueKey()); !errors.Is(err, database.ErrNotExists) {
				t.Errorf("\t%s\tTest %d:\tShould drop the truncated transaction index, got %v.", failed, testID, err)
			} else {
				t.Logf("\t%s\tTest %d:\tShould drop the truncated transaction index.", success, testID)
			}

			accounts2, err := strg.ReadAccounts()
			if err != nil || len(accounts2) != 0 {
				t.Errorf("\t%s\tTest %d:\tShould drop the account snapshot with the cut, got %v.", failed, testID, accounts2)
			} else {
				t.Logf("\t%s\tTest %d:\tShould drop the account snapshot with the cut.", success, testID)
			}

			if err := strg.Reset(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to reset: %v", failed, testID, err)
			}
			if _, err := strg.GetBlock(1); !errors.Is(err, database.ErrNotExists) {
				t.Errorf("\t%s\tTest %d:\tShould clear everything on reset, got %v.", failed, testID, err)
			} else {
				t.Logf("\t%s\tTest %d:\tShould clear everything on reset.", success, testID)
			}
		}
	}
}
