package worker

import (
	"context"
	"sync"
	"time"

	"github.com/novachain/novad/foundation/blockchain/p2p"
	"github.com/novachain/novad/foundation/blockchain/peer"
)

// dialTimeout is the max time given to establish an outbound websocket
// session including the handshake exchange.
const dialTimeout = 10 * time.Second

// session tracks what one peer connection has delivered and requested so the
// dispatch rules can hold each peer to its own history.
type session struct {
	ps *p2p.Session
	pr peer.Peer

	mu           sync.Mutex
	lastHeight   uint64
	remoteHeight uint64
	rangeHigh    uint64
	syncRetries  int
	parentWalk   uint64
	requested    map[string]struct{}
}

// observeHeight records the highest block number this peer has claimed to
// own, from the handshake or from inventory announcements.
func (s *session) observeHeight(number uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if number > s.remoteHeight {
		s.remoteHeight = number
	}
}

// remoteHeightNow reports the highest block number observed for this peer.
func (s *session) remoteHeightNow() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.remoteHeight
}

// advanceHeight enforces the increasing height rule for unsolicited block
// pushes. It reports false when the push is out of order.
func (s *session) advanceHeight(number uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if number <= s.lastHeight {
		return false
	}
	s.lastHeight = number

	return true
}

// markRequested records hashes this node asked the peer for. Data matching
// a recorded hash is exempt from the increasing height rule.
func (s *session) markRequested(hashes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, hash := range hashes {
		s.requested[hash] = struct{}{}
	}
}

// alreadyRequested reports whether a request for this hash is outstanding.
func (s *session) alreadyRequested(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.requested[hash]

	return exists
}

// consumeRequested clears an outstanding request and reports whether one
// existed.
func (s *session) consumeRequested(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requested[hash]; !exists {
		return false
	}
	delete(s.requested, hash)

	return true
}

// isSolicited reports whether a delivered block was asked for, either by
// hash or as part of an open range request.
func (s *session) isSolicited(hash string, number uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requested[hash]; exists {
		delete(s.requested, hash)
		return true
	}

	if s.rangeHigh > 0 && number <= s.rangeHigh {
		return true
	}

	return false
}

// stepParentWalk counts one level of a missing ancestor walk. It reports
// false once the walk would go deeper than the fork window.
func (s *session) stepParentWalk(limit uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.parentWalk >= limit {
		return false
	}
	s.parentWalk++

	return true
}

// resetParentWalk clears the ancestor walk counter after a block connects.
func (s *session) resetParentWalk() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.parentWalk = 0
}

// =============================================================================

// LocalHandshake builds the handshake payload describing this node. The
// p2p endpoint uses it when accepting inbound connections.
func (w *Worker) LocalHandshake() p2p.HandshakePayload {
	latestBlock := w.state.RetrieveLatestBlock()
	gen := w.state.RetrieveGenesis()

	return p2p.HandshakePayload{
		Host:              w.state.RetrieveHost(),
		ChainID:           gen.ChainID,
		LatestBlockHash:   latestBlock.Hash(),
		LatestBlockNumber: latestBlock.Header.Number,
		KnownPeers:        w.state.RetrieveKnownPeers(),
	}
}

// AbsorbSession takes ownership of an accepted inbound session and runs it
// until the peer disconnects. The caller's goroutine is borrowed for the
// connection's read loop.
func (w *Worker) AbsorbSession(sess *p2p.Session, remote p2p.HandshakePayload) {
	w.runSession(sess, remote)
}

// dialSession establishes an outbound session to a known peer and runs it
// until the peer disconnects.
func (w *Worker) dialSession(pr peer.Peer) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	sess, remote, err := p2p.Dial(ctx, pr.Host, w.LocalHandshake(), w.evHandler)
	cancel()

	if err != nil {
		w.evHandler("worker: dialSession: %s: ERROR: %s", pr.Host, err)
		return
	}

	w.runSession(sess, remote)
}

// runSession registers a handshaked session and pumps its messages through
// the dispatch rules until the connection drops.
func (w *Worker) runSession(sess *p2p.Session, remote p2p.HandshakePayload) {
	pr := peer.New(remote.Host)

	ses := session{
		ps:        sess,
		pr:        pr,
		requested: make(map[string]struct{}),
	}
	ses.observeHeight(remote.LatestBlockNumber)

	// Only one session per peer host.
	if !w.addSession(&ses) {
		sess.Close()
		return
	}
	defer w.removeSession(pr.Host)

	w.state.AddKnownPeer(pr)
	w.addNewPeers(remote.KnownPeers)

	// If the peer is ahead, start pulling the gap right away.
	latestBlock := w.state.RetrieveLatestBlock()
	if remote.LatestBlockNumber > latestBlock.Header.Number {
		w.requestBlockRange(&ses, latestBlock.Header.Number+1)
	}

	err := sess.Run(func(_ *p2p.Session, msg p2p.Message) {
		w.handleMessage(&ses, msg)
	})

	w.evHandler("worker: runSession: %s: session closed: %v", pr.Host, err)
}

// requestBlockRange asks the peer for the next batch of blocks starting at
// the specified height.
func (w *Worker) requestBlockRange(ses *session, from uint64) {
	w.evHandler("worker: requestBlockRange: %s: from blk[%d]", ses.pr.Host, from)

	msg, err := p2p.NewMessage(p2p.TypeGetData, p2p.GetDataPayload{
		FromHeight: from,
		MaxBlocks:  syncBatchSize,
	})
	if err != nil {
		w.evHandler("worker: requestBlockRange: %s: ERROR: %s", ses.pr.Host, err)
		return
	}

	ses.mu.Lock()
	ses.rangeHigh = from + syncBatchSize - 1
	ses.mu.Unlock()

	if err := ses.ps.Send(msg); err != nil {
		w.evHandler("worker: requestBlockRange: %s: send: ERROR: %s", ses.pr.Host, err)
	}
}

// =============================================================================

// addSession registers a session under its peer host. It reports false when
// a session for that host already exists.
func (w *Worker) addSession(ses *session) bool {
	w.sesMu.Lock()
	defer w.sesMu.Unlock()

	if _, exists := w.sessions[ses.pr.Host]; exists {
		return false
	}
	w.sessions[ses.pr.Host] = ses

	return true
}

// removeSession drops the session registered under the specified host.
func (w *Worker) removeSession(host string) {
	w.sesMu.Lock()
	defer w.sesMu.Unlock()

	delete(w.sessions, host)
}

// findSession returns the live session for the specified host if one exists.
func (w *Worker) findSession(host string) *session {
	w.sesMu.Lock()
	defer w.sesMu.Unlock()

	return w.sessions[host]
}

// sessionList returns a snapshot of the live sessions.
func (w *Worker) sessionList() []*session {
	w.sesMu.Lock()
	defer w.sesMu.Unlock()

	list := make([]*session, 0, len(w.sessions))
	for _, ses := range w.sessions {
		list = append(list, ses)
	}

	return list
}

// closeSessions closes every live session. The session G's unregister
// themselves as their read loops return.
func (w *Worker) closeSessions() {
	for _, ses := range w.sessionList() {
		ses.ps.Close()
	}
}

// ensureSessions opens a session to every known peer that doesn't have one.
func (w *Worker) ensureSessions() {
	for _, pr := range w.state.RetrieveKnownPeers() {
		if w.findSession(pr.Host) != nil {
			continue
		}
		go w.dialSession(pr)
	}
}

// =============================================================================

// broadcastInvBlocks announces block inventory to every connected peer
// except the one it came from.
func (w *Worker) broadcastInvBlocks(refs []p2p.BlockRef, exceptHost string) {
	msg, err := p2p.NewMessage(p2p.TypeInvBlocks, p2p.InvBlocksPayload{Blocks: refs})
	if err != nil {
		w.evHandler("worker: broadcastInvBlocks: ERROR: %s", err)
		return
	}

	for _, ses := range w.sessionList() {
		if ses.pr.Host == exceptHost {
			continue
		}
		if err := ses.ps.Send(msg); err != nil {
			w.evHandler("worker: broadcastInvBlocks: %s: send: ERROR: %s", ses.pr.Host, err)
		}
	}
}

// broadcastInvTxs announces transaction inventory to every connected peer
// except the one it came from.
func (w *Worker) broadcastInvTxs(hashes []string, exceptHost string) {
	msg, err := p2p.NewMessage(p2p.TypeInvTxs, p2p.InvTxsPayload{Hashes: hashes})
	if err != nil {
		w.evHandler("worker: broadcastInvTxs: ERROR: %s", err)
		return
	}

	for _, ses := range w.sessionList() {
		if ses.pr.Host == exceptHost {
			continue
		}
		if err := ses.ps.Send(msg); err != nil {
			w.evHandler("worker: broadcastInvTxs: %s: send: ERROR: %s", ses.pr.Host, err)
		}
	}
}
