// Package p2p implements the message envelope and websocket sessions nodes
// use to exchange blocks and transactions.
package p2p

import (
	"encoding/json"

	"github.com/novachain/novad/foundation/blockchain/database"
	"github.com/novachain/novad/foundation/blockchain/peer"
)

// MessageType defines the type of a message between nodes.
type MessageType string

// The set of messages nodes exchange. Every frame on the wire is a Message
// holding one of these types and its payload.
const (
	TypeHandshake MessageType = "handshake"
	TypeInvBlocks MessageType = "inv_blocks"
	TypeInvTxs    MessageType = "inv_txs"
	TypeGetData   MessageType = "getdata"
	TypeBlock     MessageType = "block"
	TypeTx        MessageType = "tx"
	TypePing      MessageType = "ping"
	TypePong      MessageType = "pong"
)

// Message represents a single frame between nodes. The payload is kept raw
// until the type is known.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage creates a new message with the given type and payload.
func NewMessage(msgType MessageType, payload any) (Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Type:    msgType,
		Payload: json.RawMessage(payloadBytes),
	}, nil
}

// ParsePayload unmarshals the message payload into the provided value.
func (m Message) ParsePayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// =============================================================================

// HandshakePayload is the first frame each side sends when a session opens.
type HandshakePayload struct {
	Host              string      `json:"host"`
	ChainID           uint16      `json:"chain_id"`
	LatestBlockHash   string      `json:"latest_block_hash"`
	LatestBlockNumber uint64      `json:"latest_block_number"`
	KnownPeers        []peer.Peer `json:"known_peers"`
}

// BlockRef names a block by hash and height.
type BlockRef struct {
	Hash   string `json:"hash"`
	Number uint64 `json:"number"`
}

// InvBlocksPayload announces blocks the sender has.
type InvBlocksPayload struct {
	Blocks []BlockRef `json:"blocks"`
}

// InvTxsPayload announces transactions the sender has.
type InvTxsPayload struct {
	Hashes []string `json:"hashes"`
}

// GetDataPayload asks the peer for full data. Either specific hashes or,
// for chain sync, a range of blocks starting at FromHeight.
type GetDataPayload struct {
	BlockHashes []string `json:"block_hashes,omitempty"`
	TxHashes    []string `json:"tx_hashes,omitempty"`
	FromHeight  uint64   `json:"from_height,omitempty"`
	MaxBlocks   uint16   `json:"max_blocks,omitempty"`
}

// BlocksPayload carries full blocks, oldest first.
type BlocksPayload struct {
	Blocks []database.BlockData `json:"blocks"`
}

// TxsPayload carries full signed transactions.
type TxsPayload struct {
	Txs []database.SignedTx `json:"txs"`
}

// PingPayload is a keepalive probe.
type PingPayload struct {
	TimeStamp int64 `json:"timestamp"`
}

// PongPayload answers a ping with the same timestamp.
type PongPayload struct {
	TimeStamp int64 `json:"timestamp"`
}
