// Package peer maintains the peer related information such as the set
// of known peers, their status and their misbehavior score.
package peer

import (
	"sync"
)

// BanScore is the misbehavior score at which a peer is banned for the rest
// of the process lifetime.
const BanScore = 100

// Fault point values for the different ways a peer can misbehave.
const (
	FaultDecode       = 10 // Message that does not decode.
	FaultBadBlock     = 20 // Block that fails validation.
	FaultBadSignature = 10 // Transaction with a bad signature.
	FaultOutOfOrder   = 10 // Block heights that move backwards.
	FaultFlood        = 5  // Re-announcing data we already have.
)

// Peer represents information about a Node in the network.
type Peer struct {
	Host string
}

// New constructs a new info value.
func New(host string) Peer {
	return Peer{
		Host: host,
	}
}

// Match validates if the specified host matches this node.
func (p Peer) Match(host string) bool {
	return p.Host == host
}

// =============================================================================

// PeerStatus represents information about the status
// of any given peer.
type PeerStatus struct {
	LatestBlockHash   string `json:"latest_block_hash"`
	LatestBlockNumber uint64 `json:"latest_block_number"`
	KnownPeers        []Peer `json:"known_peers"`
}

// =============================================================================

// record tracks what the set knows about one peer.
type record struct {
	score  int
	banned bool
}

// PeerSet represents the data representation to maintain a set of known peers.
type PeerSet struct {
	mu  sync.RWMutex
	set map[Peer]*record
}

// NewPeerSet constructs a new info set to manage node peer information.
func NewPeerSet() *PeerSet {
	return &PeerSet{
		set: make(map[Peer]*record),
	}
}

// Add adds a new node to the set. Returns true when the peer was not
// known before.
func (ps *PeerSet) Add(peer Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, exists := ps.set[peer]; exists {
		return false
	}

	ps.set[peer] = &record{}
	return true
}

// Remove removes a node from the set. The misbehavior record is dropped
// with it.
func (ps *PeerSet) Remove(peer Peer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.set, peer)
}

// Fault charges the peer the specified points and reports whether that
// pushed the peer over the ban score.
func (ps *PeerSet) Fault(peer Peer, points int) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	rec, exists := ps.set[peer]
	if !exists {
		rec = &record{}
		ps.set[peer] = rec
	}

	rec.score += points
	if rec.score >= BanScore {
		rec.banned = true
	}

	return rec.banned
}

// Banned reports whether the peer has been banned.
func (ps *PeerSet) Banned(peer Peer) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	rec, exists := ps.set[peer]
	return exists && rec.banned
}

// Score returns the current misbehavior score for the peer.
func (ps *PeerSet) Score(peer Peer) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	rec, exists := ps.set[peer]
	if !exists {
		return 0
	}

	return rec.score
}

// Copy returns a list of the known peers, excluding the specified host and
// any banned peers.
func (ps *PeerSet) Copy(host string) []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var peers []Peer
	for peer, rec := range ps.set {
		if peer.Match(host) || rec.banned {
			continue
		}
		peers = append(peers, peer)
	}

	return peers
}
