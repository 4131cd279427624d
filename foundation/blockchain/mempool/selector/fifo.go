package selector

import (
	"sort"

	"github.com/novachain/novad/foundation/blockchain/database"
)

// fifoSelect returns the oldest transactions first ordered by their signed
// timestamp. Two transactions stamped in the same second are ordered by their
// hash so the selection is the same on every node.
var fifoSelect = func(m map[database.AccountID][]database.SignedTx, howMany int) []database.SignedTx {
	var all []database.SignedTx
	for key := range m {
		all = append(all, m[key]...)
	}

	sort.Sort(byAge(all))

	if howMany == -1 || howMany >= len(all) {
		return all
	}

	return all[:howMany]
}
