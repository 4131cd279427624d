package worker

import (
	"errors"

	"github.com/novachain/novad/foundation/blockchain/arena"
	"github.com/novachain/novad/foundation/blockchain/database"
	"github.com/novachain/novad/foundation/blockchain/p2p"
	"github.com/novachain/novad/foundation/blockchain/peer"
	"github.com/novachain/novad/foundation/blockchain/state"
)

// handleMessage routes one peer message through the gossip rules. It runs
// on the session's read G, so it must never block on mining or disk for
// longer than one state call.
func (w *Worker) handleMessage(ses *session, msg p2p.Message) {
	switch msg.Type {
	case p2p.TypeInvBlocks:
		w.handleInvBlocks(ses, msg)

	case p2p.TypeInvTxs:
		w.handleInvTxs(ses, msg)

	case p2p.TypeGetData:
		w.handleGetData(ses, msg)

	case p2p.TypeBlock:
		w.handleBlocks(ses, msg)

	case p2p.TypeTx:
		w.handleTxs(ses, msg)

	case p2p.TypePing:
		w.handlePing(ses, msg)

	case p2p.TypePong:
		// The pong already proved liveness when it parsed.

	case p2p.TypeHandshake:
		// Handshakes are only valid as the first message on the wire and
		// the session layer consumed that one.

	default:
		w.evHandler("worker: handleMessage: %s: unknown message type[%s]", ses.pr.Host, msg.Type)
		w.faultSession(ses, peer.FaultDecode)
	}
}

// faultSession charges misbehavior points against the peer and drops the
// connection once the ban threshold is crossed.
func (w *Worker) faultSession(ses *session, points int) {
	if banned := w.state.FaultKnownPeer(ses.pr, points); banned {
		w.evHandler("worker: faultSession: %s: BANNED: closing session", ses.pr.Host)
		ses.ps.Close()
	}
}

// =============================================================================

// handleInvBlocks requests any announced block this node doesn't know yet.
func (w *Worker) handleInvBlocks(ses *session, msg p2p.Message) {
	var inv p2p.InvBlocksPayload
	if err := msg.ParsePayload(&inv); err != nil {
		w.evHandler("worker: handleInvBlocks: %s: ERROR: %s", ses.pr.Host, err)
		w.faultSession(ses, peer.FaultDecode)
		return
	}

	var unknown []string
	for _, ref := range inv.Blocks {
		ses.observeHeight(ref.Number)

		if w.state.KnowsBlock(ref.Hash) {
			continue
		}
		if ses.alreadyRequested(ref.Hash) {
			continue
		}
		unknown = append(unknown, ref.Hash)
	}

	if len(unknown) == 0 {
		return
	}

	ses.markRequested(unknown...)

	msgOut, err := p2p.NewMessage(p2p.TypeGetData, p2p.GetDataPayload{BlockHashes: unknown})
	if err != nil {
		return
	}
	if err := ses.ps.Send(msgOut); err != nil {
		w.evHandler("worker: handleInvBlocks: %s: send: ERROR: %s", ses.pr.Host, err)
	}
}

// handleInvTxs requests any announced transaction this node doesn't know yet.
func (w *Worker) handleInvTxs(ses *session, msg p2p.Message) {
	var inv p2p.InvTxsPayload
	if err := msg.ParsePayload(&inv); err != nil {
		w.evHandler("worker: handleInvTxs: %s: ERROR: %s", ses.pr.Host, err)
		w.faultSession(ses, peer.FaultDecode)
		return
	}

	var unknown []string
	for _, txHash := range inv.Hashes {
		if w.state.KnowsTransaction(txHash) {
			continue
		}
		if ses.alreadyRequested(txHash) {
			continue
		}
		unknown = append(unknown, txHash)
	}

	if len(unknown) == 0 {
		return
	}

	ses.markRequested(unknown...)

	msgOut, err := p2p.NewMessage(p2p.TypeGetData, p2p.GetDataPayload{TxHashes: unknown})
	if err != nil {
		return
	}
	if err := ses.ps.Send(msgOut); err != nil {
		w.evHandler("worker: handleInvTxs: %s: send: ERROR: %s", ses.pr.Host, err)
	}
}

// =============================================================================

// handleGetData serves the blocks and transactions a peer asked for.
func (w *Worker) handleGetData(ses *session, msg p2p.Message) {
	var req p2p.GetDataPayload
	if err := msg.ParsePayload(&req); err != nil {
		w.evHandler("worker: handleGetData: %s: ERROR: %s", ses.pr.Host, err)
		w.faultSession(ses, peer.FaultDecode)
		return
	}

	if req.FromHeight > 0 {
		w.serveBlockRange(ses, req.FromHeight, req.MaxBlocks)
	}

	if len(req.BlockHashes) > 0 {
		w.serveBlocks(ses, req.BlockHashes)
	}

	if len(req.TxHashes) > 0 {
		w.serveTxs(ses, req.TxHashes)
	}
}

// serveBlockRange sends a bounded batch of blocks from the confirmed chain
// to a peer filling its gap.
func (w *Worker) serveBlockRange(ses *session, from uint64, maxBlocks uint16) {
	count := uint64(maxBlocks)
	if count == 0 || count > syncBatchSize {
		count = syncBatchSize
	}

	latestBlock := w.state.RetrieveLatestBlock()
	if from > latestBlock.Header.Number {
		return
	}

	to := from + count - 1
	if to > latestBlock.Header.Number {
		to = latestBlock.Header.Number
	}

	blocks := w.state.QueryBlocksByNumber(from, to)
	if len(blocks) == 0 {
		return
	}

	blockData := make([]database.BlockData, len(blocks))
	for i, block := range blocks {
		blockData[i] = database.NewBlockData(block)
	}

	w.evHandler("worker: serveBlockRange: %s: blks[%d-%d]", ses.pr.Host, from, to)

	msgOut, err := p2p.NewMessage(p2p.TypeBlock, p2p.BlocksPayload{Blocks: blockData})
	if err != nil {
		return
	}
	if err := ses.ps.Send(msgOut); err != nil {
		w.evHandler("worker: serveBlockRange: %s: send: ERROR: %s", ses.pr.Host, err)
	}
}

// serveBlocks sends the specifically requested blocks, preserving the
// request order so parent/child pairs apply cleanly.
func (w *Worker) serveBlocks(ses *session, hashes []string) {
	var blockData []database.BlockData
	for _, hash := range hashes {
		block, err := w.state.QueryBlockByHash(hash)
		if err != nil {
			continue
		}
		blockData = append(blockData, database.NewBlockData(block))
	}

	if len(blockData) == 0 {
		return
	}

	msgOut, err := p2p.NewMessage(p2p.TypeBlock, p2p.BlocksPayload{Blocks: blockData})
	if err != nil {
		return
	}
	if err := ses.ps.Send(msgOut); err != nil {
		w.evHandler("worker: serveBlocks: %s: send: ERROR: %s", ses.pr.Host, err)
	}
}

// serveTxs sends the requested transactions from the mempool or the
// confirmed chain.
func (w *Worker) serveTxs(ses *session, hashes []string) {
	want := make(map[string]struct{}, len(hashes))
	for _, txHash := range hashes {
		want[txHash] = struct{}{}
	}

	var txs []database.SignedTx
	for _, tx := range w.state.RetrieveMempool() {
		txHash := tx.UniqueKey()
		if _, exists := want[txHash]; exists {
			txs = append(txs, tx)
			delete(want, txHash)
		}
	}

	for txHash := range want {
		tx, _, err := w.state.QueryTransaction(txHash)
		if err != nil {
			continue
		}
		txs = append(txs, tx)
	}

	if len(txs) == 0 {
		return
	}

	msgOut, err := p2p.NewMessage(p2p.TypeTx, p2p.TxsPayload{Txs: txs})
	if err != nil {
		return
	}
	if err := ses.ps.Send(msgOut); err != nil {
		w.evHandler("worker: serveTxs: %s: send: ERROR: %s", ses.pr.Host, err)
	}
}

// =============================================================================

// handleBlocks runs delivered blocks through consensus and keeps a sync
// conversation going when the peer has more.
func (w *Worker) handleBlocks(ses *session, msg p2p.Message) {
	var payload p2p.BlocksPayload
	if err := msg.ParsePayload(&payload); err != nil {
		w.evHandler("worker: handleBlocks: %s: ERROR: %s", ses.pr.Host, err)
		w.faultSession(ses, peer.FaultDecode)
		return
	}

	for _, blockData := range payload.Blocks {
		if !w.processPeerBlock(ses, blockData) {
			return
		}
	}

	w.continueSync(ses)
}

// processPeerBlock validates and accepts one delivered block. It reports
// false when the rest of the batch should be dropped.
func (w *Worker) processPeerBlock(ses *session, blockData database.BlockData) bool {
	block, err := database.ToBlock(blockData)
	if err != nil {

		// The hash the peer claims doesn't match the content.
		w.evHandler("worker: processPeerBlock: %s: ERROR: %s", ses.pr.Host, err)
		w.faultSession(ses, peer.FaultBadBlock)
		return false
	}

	number := block.Header.Number
	hash := block.Hash()

	// Pushed blocks must arrive in increasing height order. Blocks this
	// node asked for are exempt.
	if !ses.isSolicited(hash, number) && !ses.advanceHeight(number) {
		w.evHandler("worker: processPeerBlock: %s: out of order push: blk[%d]", ses.pr.Host, number)
		w.faultSession(ses, peer.FaultOutOfOrder)
		return false
	}

	ses.observeHeight(number)

	err = w.state.ProcessProposedBlock(block)
	switch {
	case err == nil:
		ses.resetParentWalk()
		w.relayBlock(ses, hash, number)
		return true

	case errors.Is(err, arena.ErrDuplicate):
		return true

	case errors.Is(err, arena.ErrUnknownParent):
		w.requestParent(ses, block)
		return true

	case errors.Is(err, arena.ErrTooDeep):
		w.evHandler("worker: processPeerBlock: %s: fork below retention window: blk[%d]", ses.pr.Host, number)
		w.faultSession(ses, peer.FaultOutOfOrder)
		return true

	case errors.Is(err, state.ErrInvalidTransaction):
		w.evHandler("worker: processPeerBlock: %s: ERROR: %s", ses.pr.Host, err)
		w.faultSession(ses, peer.FaultBadSignature)
		return false

	default:
		w.evHandler("worker: processPeerBlock: %s: ERROR: %s", ses.pr.Host, err)
		w.faultSession(ses, peer.FaultBadBlock)
		return false
	}
}

// requestParent walks back towards a known ancestor when a block arrives
// whose parent this node doesn't have. The walk is bounded by the fork
// window since a deeper branch could never win.
func (w *Worker) requestParent(ses *session, block database.Block) {
	gen := w.state.RetrieveGenesis()

	if !ses.stepParentWalk(uint64(gen.ForkDepth)) {
		w.evHandler("worker: requestParent: %s: ancestor walk exhausted at blk[%d]", ses.pr.Host, block.Header.Number)
		w.faultSession(ses, peer.FaultFlood)
		return
	}

	// Ask for the parent and the block again so they apply in order.
	hashes := []string{block.Header.PrevBlockHash, block.Hash()}
	ses.markRequested(hashes...)

	w.evHandler("worker: requestParent: %s: missing parent of blk[%d]", ses.pr.Host, block.Header.Number)

	msgOut, err := p2p.NewMessage(p2p.TypeGetData, p2p.GetDataPayload{BlockHashes: hashes})
	if err != nil {
		return
	}
	if err := ses.ps.Send(msgOut); err != nil {
		w.evHandler("worker: requestParent: %s: send: ERROR: %s", ses.pr.Host, err)
	}
}

// relayBlock announces a freshly accepted block to the other peers, once.
func (w *Worker) relayBlock(ses *session, hash string, number uint64) {
	if w.seen.Seen(hash) {
		return
	}

	w.broadcastInvBlocks([]p2p.BlockRef{{Hash: hash, Number: number}}, ses.pr.Host)
}

// continueSync requests the next batch when an open range request finished
// and the peer still sits ahead of this node.
func (w *Worker) continueSync(ses *session) {
	latest := w.state.RetrieveLatestBlock().Header.Number

	ses.mu.Lock()
	rangeHigh := ses.rangeHigh
	remote := ses.remoteHeight
	ses.mu.Unlock()

	if rangeHigh == 0 {
		return
	}

	// The batch landed. Close out the range and go again if the peer
	// still has more.
	if latest >= rangeHigh || latest >= remote {
		ses.mu.Lock()
		ses.rangeHigh = 0
		ses.syncRetries = 0
		ses.mu.Unlock()

		if remote > latest {
			w.requestBlockRange(ses, latest+1)
		}
		return
	}

	// The batch didn't move the chain to where it should have. Retry the
	// gap a bounded number of times.
	ses.mu.Lock()
	ses.syncRetries++
	retries := ses.syncRetries
	ses.mu.Unlock()

	if retries > maxSyncRetries {
		w.evHandler("worker: continueSync: %s: giving up after %d retries", ses.pr.Host, maxSyncRetries)
		ses.mu.Lock()
		ses.rangeHigh = 0
		ses.syncRetries = 0
		ses.mu.Unlock()
		return
	}

	w.requestBlockRange(ses, latest+1)
}

// =============================================================================

// handleTxs admits delivered transactions to the mempool and relays the
// new ones.
func (w *Worker) handleTxs(ses *session, msg p2p.Message) {
	var payload p2p.TxsPayload
	if err := msg.ParsePayload(&payload); err != nil {
		w.evHandler("worker: handleTxs: %s: ERROR: %s", ses.pr.Host, err)
		w.faultSession(ses, peer.FaultDecode)
		return
	}

	solicited := false

	for _, tx := range payload.Txs {
		txHash := tx.UniqueKey()
		if ses.consumeRequested(txHash) {
			solicited = true
		}

		err := w.state.UpsertNodeTransaction(tx)
		switch {
		case err == nil:
			if !w.seen.Seen(txHash) {
				w.broadcastInvTxs([]string{txHash}, ses.pr.Host)
			}

		case errors.Is(err, state.ErrDuplicateTransaction):
			// Already pooled or confirmed.

		case errors.Is(err, state.ErrInsufficientBalance):
			w.evHandler("worker: handleTxs: %s: tx[%s] unfunded, dropped", ses.pr.Host, txHash)

		default:
			w.evHandler("worker: handleTxs: %s: ERROR: %s", ses.pr.Host, err)
			w.faultSession(ses, peer.FaultBadSignature)
		}
	}

	// Transactions are announce first, send on request. A full push nobody
	// asked for counts against the peer.
	if !solicited && len(payload.Txs) > 0 {
		w.faultSession(ses, peer.FaultFlood)
	}
}

// =============================================================================

// handlePing answers a keepalive probe.
func (w *Worker) handlePing(ses *session, msg p2p.Message) {
	var ping p2p.PingPayload
	if err := msg.ParsePayload(&ping); err != nil {
		w.faultSession(ses, peer.FaultDecode)
		return
	}

	pong, err := p2p.NewMessage(p2p.TypePong, p2p.PongPayload{TimeStamp: ping.TimeStamp})
	if err != nil {
		return
	}
	if err := ses.ps.Send(pong); err != nil {
		w.evHandler("worker: handlePing: %s: send: ERROR: %s", ses.pr.Host, err)
	}
}
