// Package selector provides different transaction selecting algorithms.
package selector

import (
	"fmt"

	"github.com/novachain/novad/foundation/blockchain/database"
)

// List of different select strategies.
const (
	StrategyFIFO = "fifo"
	StrategyTip  = "tip"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyFIFO: fifoSelect,
	StrategyTip:  tipSelect,
}

// Func defines a function that takes a mempool of transactions grouped by
// account and selects howMany of them in an order based on the functions
// strategy. Receiving -1 for howMany must return all the transactions in the
// strategies ordering.
type Func func(transactions map[database.AccountID][]database.SignedTx, howMany int) []database.SignedTx

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// byAge provides sorting support by the signed timestamp with the transaction
// hash breaking ties. Every node that sorts the same set of transactions gets
// the same order.
type byAge []database.SignedTx

// Len returns the number of transactions in the list.
func (ba byAge) Len() int {
	return len(ba)
}

// Less helps to sort the list by signed timestamp in ascending order so the
// oldest transactions are processed first.
func (ba byAge) Less(i, j int) bool {
	if ba[i].TimeStamp == ba[j].TimeStamp {
		return ba[i].UniqueKey() < ba[j].UniqueKey()
	}
	return ba[i].TimeStamp < ba[j].TimeStamp
}

// Swap moves transactions in the order of the timestamp value.
func (ba byAge) Swap(i, j int) {
	ba[i], ba[j] = ba[j], ba[i]
}

// =============================================================================

// byTip provides sorting support by the transaction tip value in descending
// order. Equal tips fall back to the age ordering.
type byTip []database.SignedTx

// Len returns the number of transactions in the list.
func (bt byTip) Len() int {
	return len(bt)
}

// Less helps to sort the list by tip in descending order to pick the
// transactions that provide the best reward.
func (bt byTip) Less(i, j int) bool {
	if bt[i].Tip == bt[j].Tip {
		return byAge(bt).Less(i, j)
	}
	return bt[i].Tip > bt[j].Tip
}

// Swap moves transactions in the order of the tip value.
func (bt byTip) Swap(i, j int) {
	bt[i], bt[j] = bt[j], bt[i]
}
