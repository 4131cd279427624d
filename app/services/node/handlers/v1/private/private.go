// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	v1 "github.com/novachain/novad/business/web/v1"
	"github.com/novachain/novad/foundation/blockchain/database"
	"github.com/novachain/novad/foundation/blockchain/p2p"
	"github.com/novachain/novad/foundation/blockchain/peer"
	"github.com/novachain/novad/foundation/blockchain/state"
	"github.com/novachain/novad/foundation/blockchain/worker"
	"github.com/novachain/novad/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log       *zap.SugaredLogger
	State     *state.State
	Worker    *worker.Worker
	WS        websocket.Upgrader
	EvHandler state.EventHandler
}

// P2P upgrades the connection to a websocket and hands the session to the
// worker. The call does not return until the peer disconnects.
func (h Handlers) P2P(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	// The handshake exchange happens on the raw connection. A failure here
	// can't be written back, the socket is already hijacked.
	sess, remote, err := p2p.Accept(c, h.Worker.LocalHandshake(), h.EvHandler)
	if err != nil {
		h.Log.Infow("p2p accept failed", "remoteaddr", r.RemoteAddr, "ERROR", err)
		return nil
	}

	h.Worker.AbsorbSession(sess, remote)

	return nil
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	latestBlock := h.State.RetrieveLatestBlock()

	status := peer.PeerStatus{
		LatestBlockHash:   latestBlock.Hash(),
		LatestBlockNumber: latestBlock.Header.Number,
		KnownPeers:        h.State.RetrieveKnownPeers(),
	}

	return web.Respond(ctx, w, status, http.StatusOK)
}

// KnownPeers returns the set of peers this node gossips with.
func (h Handlers) KnownPeers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.RetrieveKnownPeers(), http.StatusOK)
}

// BlocksByNumber returns all the blocks based on the specified to/from values.
func (h Handlers) BlocksByNumber(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	fromStr := web.Param(r, "from")
	if fromStr == "latest" || fromStr == "" {
		fromStr = fmt.Sprintf("%d", state.QueryLastest)
	}

	toStr := web.Param(r, "to")
	if toStr == "latest" || toStr == "" {
		toStr = fmt.Sprintf("%d", state.QueryLastest)
	}

	from, err := strconv.ParseUint(fromStr, 10, 64)
	if err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}
	to, err := strconv.ParseUint(toStr, 10, 64)
	if err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	if from > to {
		return v1.NewRequestError(errors.New("from greater than to"), http.StatusBadRequest)
	}

	blocks := h.State.QueryBlocksByNumber(from, to)
	if len(blocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	blockData := make([]database.BlockData, len(blocks))
	for i, block := range blocks {
		blockData[i] = database.NewBlockData(block)
	}

	return web.Respond(ctx, w, blockData, http.StatusOK)
}

// Mempool returns the set of uncommitted transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	txs := h.State.RetrieveMempool()
	return web.Respond(ctx, w, txs, http.StatusOK)
}

// Resync drops the local chain above genesis and pulls it back from the
// network. Operator action for forks deeper than the retained window.
func (h Handlers) Resync(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.State.Resync(); err != nil {
		return err
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "resync started",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}
