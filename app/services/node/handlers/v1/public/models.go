package public

import (
	"github.com/novachain/novad/foundation/blockchain/database"
)

type info struct {
	Account database.AccountID `json:"account"`
	Name    string             `json:"name"`
	Balance uint64             `json:"balance"`
}

type actInfo struct {
	LastestBlock string `json:"lastest_block"`
	Uncommitted  int    `json:"uncommitted"`
	Accounts     []info `json:"accounts"`
}

type tx struct {
	FromID    database.AccountID `json:"from"`
	FromName  string             `json:"from_name"`
	ToID      database.AccountID `json:"to"`
	ToName    string             `json:"to_name"`
	ChainID   uint16             `json:"chain_id"`
	Value     uint64             `json:"value"`
	Tip       uint64             `json:"tip"`
	Data      []byte             `json:"data"`
	TimeStamp uint64             `json:"timestamp"`
	Hash      string             `json:"hash"`
	Sig       string             `json:"sig"`
}

type block struct {
	Hash           string             `json:"hash"`
	PrevBlockHash  string             `json:"prev_block_hash"`
	Beneficiary    database.AccountID `json:"beneficiary"`
	DifficultyBits uint32             `json:"difficulty_bits"`
	Number         uint64             `json:"number"`
	TimeStamp      uint64             `json:"timestamp"`
	Nonce          uint64             `json:"nonce"`
	TransRoot      string             `json:"trans_root"`
	Transactions   []tx               `json:"txs"`
}

type tokenInfo struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    int    `json:"decimals"`
	Circulation uint64 `json:"circulation"`
}

type txStatus struct {
	Status    string `json:"status"`
	BlockHash string `json:"block_hash,omitempty"`
	Tx        tx     `json:"tx"`
}
