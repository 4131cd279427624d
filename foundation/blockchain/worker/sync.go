package worker

// Sync brings this node back in step with the network. Sessions are opened
// to any known peer that doesn't have one, and each new session pulls the
// chain gap reported by the peer's handshake. Sessions already open are
// asked directly when they sit ahead of this node.
func (w *Worker) Sync() {
	w.evHandler("worker: sync: started")
	defer w.evHandler("worker: sync: completed")

	w.ensureSessions()

	latestBlock := w.state.RetrieveLatestBlock()
	for _, ses := range w.sessionList() {
		if ses.remoteHeightNow() > latestBlock.Header.Number {
			w.requestBlockRange(ses, latestBlock.Header.Number+1)
		}
	}
}
