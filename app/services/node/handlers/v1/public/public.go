// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	v1 "github.com/novachain/novad/business/web/v1"
	"github.com/novachain/novad/foundation/blockchain/database"
	"github.com/novachain/novad/foundation/blockchain/state"
	"github.com/novachain/novad/foundation/blockchain/token"
	"github.com/novachain/novad/foundation/events"
	"github.com/novachain/novad/foundation/nameservice"
	"github.com/novachain/novad/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of public node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// SubmitWalletTransaction adds a new user transaction to the mempool.
func (h Handlers) SubmitWalletTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	// Decode the JSON in the post call into a signed transaction.
	var signedTx database.SignedTx
	if err := web.Decode(r, &signedTx); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	h.Log.Infow("add user tran", "traceid", v.TraceID, "from", signedTx.FromID, "to", signedTx.ToID, "value", signedTx.Value, "tip", signedTx.Tip)

	if err := h.State.UpsertWalletTransaction(signedTx); err != nil {
		switch {
		case errors.Is(err, state.ErrDuplicateTransaction):
			return v1.NewRequestError(err, http.StatusConflict)
		default:
			return v1.NewRequestError(err, http.StatusBadRequest)
		}
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "transaction added to mempool",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	gen := h.State.RetrieveGenesis()
	return web.Respond(ctx, w, gen, http.StatusOK)
}

// Token returns the native coin details over the confirmed balances.
func (h Handlers) Token(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	snapshot := h.State.QueryTokenSnapshot()

	resp := tokenInfo{
		Name:        token.Name,
		Symbol:      token.Symbol,
		Decimals:    token.Decimals,
		Circulation: snapshot.Circulation(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Mempool returns the set of uncommitted transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	acct := web.Param(r, "account")

	mempool := h.State.RetrieveMempool()

	trans := []tx{}
	for _, tran := range mempool {
		if acct != "" && ((acct != string(tran.FromID)) && (acct != string(tran.ToID))) {
			continue
		}

		trans = append(trans, toTxModel(tran, h.NS))
	}

	return web.Respond(ctx, w, trans, http.StatusOK)
}

// Accounts returns the current balances for all accounts.
func (h Handlers) Accounts(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	account := web.Param(r, "account")

	var accounts map[database.AccountID]database.Account
	switch account {
	case "":
		accounts = h.State.RetrieveAccounts()

	default:
		accountID, err := database.ToAccountID(account)
		if err != nil {
			return v1.NewRequestError(err, http.StatusBadRequest)
		}

		act, err := h.State.QueryAccount(accountID)
		if err != nil {
			if errors.Is(err, state.ErrAccountNotFound) {
				return v1.NewRequestError(err, http.StatusNotFound)
			}
			return err
		}
		accounts = map[database.AccountID]database.Account{accountID: act}
	}

	acts := make([]info, 0, len(accounts))
	for accountID, act := range accounts {
		acts = append(acts, info{
			Account: accountID,
			Name:    h.NS.Lookup(accountID),
			Balance: act.Balance,
		})
	}

	ai := actInfo{
		LastestBlock: h.State.RetrieveLatestBlock().Hash(),
		Uncommitted:  h.State.QueryMempoolLength(),
		Accounts:     acts,
	}

	return web.Respond(ctx, w, ai, http.StatusOK)
}

// BlocksByAccount returns the blocks that carry transactions involving the
// specified account.
func (h Handlers) BlocksByAccount(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var accountID database.AccountID
	if acct := web.Param(r, "account"); acct != "" {
		var err error
		accountID, err = database.ToAccountID(acct)
		if err != nil {
			return v1.NewRequestError(err, http.StatusBadRequest)
		}
	}

	dbBlocks, err := h.State.QueryBlocksByAccount(accountID)
	if err != nil {
		return err
	}
	if len(dbBlocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	blocks := make([]block, len(dbBlocks))
	for i, blk := range dbBlocks {
		blocks[i] = toBlockModel(blk, h.NS)
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// TransactionStatus reports whether a transaction is pending in the mempool
// or confirmed in a block.
func (h Handlers) TransactionStatus(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	txHash := web.Param(r, "hash")

	// Confirmed transactions carry the hash of the block that holds them.
	if tran, blockHash, err := h.State.QueryTransaction(txHash); err == nil {
		resp := txStatus{
			Status:    "confirmed",
			BlockHash: blockHash,
			Tx:        toTxModel(tran, h.NS),
		}
		return web.Respond(ctx, w, resp, http.StatusOK)
	}

	// Fall back to the mempool for transactions still waiting.
	for _, tran := range h.State.RetrieveMempool() {
		if tran.UniqueKey() == txHash {
			resp := txStatus{
				Status: "pending",
				Tx:     toTxModel(tran, h.NS),
			}
			return web.Respond(ctx, w, resp, http.StatusOK)
		}
	}

	return v1.NewRequestError(errors.New("transaction not found"), http.StatusNotFound)
}

// =============================================================================

// toTxModel builds the api transaction view with resolved account names.
func toTxModel(tran database.SignedTx, ns *nameservice.NameService) tx {
	return tx{
		FromID:    tran.FromID,
		FromName:  ns.Lookup(tran.FromID),
		ToID:      tran.ToID,
		ToName:    ns.Lookup(tran.ToID),
		ChainID:   tran.ChainID,
		Value:     tran.Value,
		Tip:       tran.Tip,
		Data:      tran.Data,
		TimeStamp: tran.TimeStamp,
		Hash:      tran.UniqueKey(),
		Sig:       tran.SignatureString(),
	}
}

// toBlockModel builds the api block view with resolved account names.
func toBlockModel(blk database.Block, ns *nameservice.NameService) block {
	values := blk.Trans.Values()

	trans := make([]tx, len(values))
	for i, tran := range values {
		trans[i] = toTxModel(tran, ns)
	}

	return block{
		Hash:           blk.Hash(),
		PrevBlockHash:  blk.Header.PrevBlockHash,
		Beneficiary:    blk.Header.BeneficiaryID,
		DifficultyBits: blk.Header.DifficultyBits,
		Number:         blk.Header.Number,
		TimeStamp:      blk.Header.TimeStamp,
		Nonce:          blk.Header.Nonce,
		TransRoot:      blk.Header.TransRoot,
		Transactions:   trans,
	}
}
