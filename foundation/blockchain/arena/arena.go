// Package arena maintains the tree of recent blocks where competing forks
// live until one of them wins on accumulated work.
package arena

import (
	"errors"
	"math/big"
	"sync"

	"github.com/novachain/novad/foundation/blockchain/database"
	"github.com/novachain/novad/foundation/blockchain/signature"
)

var (
	// ErrUnknownParent is returned when a block links to a parent the arena
	// does not hold. The caller needs to sync the gap first.
	ErrUnknownParent = errors.New("parent block not in arena")

	// ErrTooDeep is returned when a block forks off below the retention
	// window. Those forks can never win and are not tracked.
	ErrTooDeep = errors.New("fork point is buried too deep")

	// ErrDuplicate is returned when the arena already holds the block.
	ErrDuplicate = errors.New("block already in arena")
)

// Node ties a block into the fork tree along with the accumulated work of
// the branch that ends at it.
type Node struct {
	Block    database.Block
	Hash     string
	Parent   *Node
	Children []*Node
	Height   uint64
	Work     *big.Int
}

// AncestorAt walks up the branch and returns the ancestor at the specified
// height. The node itself is returned when heights match.
func (n *Node) AncestorAt(height uint64) *Node {
	node := n
	for node != nil && node.Height > height {
		node = node.Parent
	}

	if node == nil || node.Height != height {
		return nil
	}

	return node
}

// =============================================================================

// Arena holds the recent window of blocks including any competing branches.
// Everything below its root is settled and lives only in the database.
type Arena struct {
	mu        sync.RWMutex
	root      *Node
	best      *Node
	byHash    map[string]*Node
	byHeight  map[uint64][]*Node
	forkDepth uint64
}

// New constructs an arena rooted at the start of the chain.
func New(forkDepth uint64) *Arena {
	a := Arena{forkDepth: forkDepth}

	root := Node{
		Hash: signature.ZeroHash,
		Work: big.NewInt(0),
	}
	a.reset(&root)

	return &a
}

// Reroot drops every tracked block and roots the arena at the specified
// block. The cumulative work of the chain ending at the root must be
// provided so branch comparisons stay honest across restarts.
func (a *Arena) Reroot(block database.Block, cumWork *big.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	root := Node{
		Block:  block,
		Hash:   block.Hash(),
		Height: block.Header.Number,
		Work:   new(big.Int).Set(cumWork),
	}
	a.reset(&root)
}

// reset installs the node as the new root. Calls must hold the lock.
func (a *Arena) reset(root *Node) {
	a.root = root
	a.best = root
	a.byHash = map[string]*Node{root.Hash: root}
	a.byHeight = map[uint64][]*Node{root.Height: {root}}
}

// Add links a block into the tree beneath its parent. The caller is expected
// to have validated the block against that parent already.
func (a *Arena) Add(block database.Block) (*Node, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	hash := block.Hash()
	if _, exists := a.byHash[hash]; exists {
		return nil, ErrDuplicate
	}

	parent, exists := a.byHash[block.Header.PrevBlockHash]
	if !exists {
		return nil, ErrUnknownParent
	}

	if a.best.Height > a.forkDepth && parent.Height < a.best.Height-a.forkDepth {
		return nil, ErrTooDeep
	}

	node := Node{
		Block:  block,
		Hash:   hash,
		Parent: parent,
		Height: parent.Height + 1,
		Work:   new(big.Int).Add(parent.Work, block.Work()),
	}

	parent.Children = append(parent.Children, &node)
	a.byHash[hash] = &node
	a.byHeight[node.Height] = append(a.byHeight[node.Height], &node)

	// The first branch to reach a given amount of work keeps the tip. A
	// later branch has to bring strictly more work to take it.
	if node.Work.Cmp(a.best.Work) > 0 {
		a.best = &node
	}

	return &node, nil
}

// BestTip returns the node with the most accumulated work.
func (a *Arena) BestTip() *Node {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.best
}

// Root returns the settled block every tracked branch descends from.
func (a *Arena) Root() *Node {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.root
}

// ByHash returns the node for the specified block hash.
func (a *Arena) ByHash(hash string) (*Node, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	node, exists := a.byHash[hash]
	return node, exists
}

// ByHeight returns every node at the specified height across all branches.
func (a *Arena) ByHeight(height uint64) []*Node {
	a.mu.RLock()
	defer a.mu.RUnlock()

	nodes := make([]*Node, len(a.byHeight[height]))
	copy(nodes, a.byHeight[height])

	return nodes
}

// Len returns the number of blocks tracked by the arena.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return len(a.byHash)
}

// ForkPoint returns the deepest node both branches descend from.
func (a *Arena) ForkPoint(x *Node, y *Node) *Node {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for x.Height > y.Height {
		x = x.Parent
	}
	for y.Height > x.Height {
		y = y.Parent
	}

	for x != y {
		x = x.Parent
		y = y.Parent
		if x == nil || y == nil {
			return nil
		}
	}

	return x
}

// PathBetween returns the blocks strictly after the ancestor up to and
// including the tip, oldest first.
func (a *Arena) PathBetween(ancestor *Node, tip *Node) []*Node {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if ancestor == nil || tip == nil || tip.Height <= ancestor.Height {
		return nil
	}

	path := make([]*Node, tip.Height-ancestor.Height)
	node := tip
	for i := len(path) - 1; i >= 0; i-- {
		if node == nil {
			return nil
		}
		path[i] = node
		node = node.Parent
	}

	if path[0].Parent != ancestor {
		return nil
	}

	return path
}

// Prune advances the root so only the last forkDepth blocks under the best
// tip stay tracked. Side branches that can no longer win are dropped.
// Returns how many nodes were evicted.
func (a *Arena) Prune() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.best.Height <= a.root.Height+a.forkDepth {
		return 0
	}

	newRoot := a.best.AncestorAt(a.best.Height - a.forkDepth)
	if newRoot == nil || newRoot == a.root {
		return 0
	}

	// Keep only the subtree under the new root.
	byHash := make(map[string]*Node)
	byHeight := make(map[uint64][]*Node)

	var walk func(node *Node)
	walk = func(node *Node) {
		byHash[node.Hash] = node
		byHeight[node.Height] = append(byHeight[node.Height], node)
		for _, child := range node.Children {
			walk(child)
		}
	}
	walk(newRoot)

	evicted := len(a.byHash) - len(byHash)

	newRoot.Parent = nil
	a.root = newRoot
	a.byHash = byHash
	a.byHeight = byHeight

	return evicted
}
