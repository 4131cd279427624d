package worker

import (
	"github.com/novachain/novad/foundation/blockchain/database"
)

// shareTxOperations handles sharing new wallet transactions.
func (w *Worker) shareTxOperations() {
	w.evHandler("worker: shareTxOperations: G started")
	defer w.evHandler("worker: shareTxOperations: G completed")

	for {
		select {
		case tx := <-w.txSharing:
			if !w.isShutdown() {
				w.runShareTxOperation(tx)
			}
		case <-w.shut:
			w.evHandler("worker: shareTxOperations: received shut signal")
			return
		}
	}
}

// runShareTxOperation announces a new transaction to the connected peers.
// Peers that don't have it will ask for the full transaction.
func (w *Worker) runShareTxOperation(tx database.SignedTx) {
	w.evHandler("worker: runShareTxOperation: started")
	defer w.evHandler("worker: runShareTxOperation: completed")

	txHash := tx.UniqueKey()

	// Mark the hash so echoes of our own announcement are not relayed again.
	w.seen.Seen(txHash)

	w.broadcastInvTxs([]string{txHash}, "")
}
