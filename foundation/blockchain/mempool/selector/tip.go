package selector

import (
	"sort"

	"github.com/novachain/novad/foundation/blockchain/database"
)

// tipSelect returns the transactions that pay the miner the best tip. Equal
// tips fall back to oldest first so zero tip transactions still drain in
// the order they were signed.
var tipSelect = func(m map[database.AccountID][]database.SignedTx, howMany int) []database.SignedTx {
	var all []database.SignedTx
	for key := range m {
		all = append(all, m[key]...)
	}

	sort.Sort(byTip(all))

	if howMany == -1 || howMany >= len(all) {
		return all
	}

	return all[:howMany]
}
