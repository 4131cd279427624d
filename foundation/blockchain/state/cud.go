package state

import (
	"github.com/novachain/novad/foundation/blockchain/peer"
)

// AddKnownPeer provides the ability to add a new peer. Returns true when the
// peer was not already known.
func (s *State) AddKnownPeer(pr peer.Peer) bool {
	return s.knownPeers.Add(pr)
}

// RemoveKnownPeer removes a peer from the known peer list.
func (s *State) RemoveKnownPeer(pr peer.Peer) {
	s.knownPeers.Remove(pr)
}

// FaultKnownPeer charges misbehavior points against a peer. Returns true
// when the peer crossed the ban threshold with this charge.
func (s *State) FaultKnownPeer(pr peer.Peer, points int) bool {
	return s.knownPeers.Fault(pr, points)
}

// BannedPeer reports whether the peer has been banned for misbehavior.
func (s *State) BannedPeer(pr peer.Peer) bool {
	return s.knownPeers.Banned(pr)
}
