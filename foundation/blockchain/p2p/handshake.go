package p2p

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/novachain/novad/foundation/blockchain/peer"
)

// handshakeTimeout bounds how long either side waits for the first frame.
const handshakeTimeout = 10 * time.Second

// Dial opens a websocket to the peer's p2p endpoint, sends our handshake
// and waits for theirs. The remote handshake tells the caller how far the
// peer's chain reaches.
func Dial(ctx context.Context, host string, local HandshakePayload, evHandler func(v string, args ...any)) (*Session, HandshakePayload, error) {
	url := fmt.Sprintf("ws://%s/v1/p2p", host)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, HandshakePayload{}, fmt.Errorf("dial %s: %w", host, err)
	}

	if err := writeHandshake(conn, local); err != nil {
		conn.Close()
		return nil, HandshakePayload{}, err
	}

	remote, err := readHandshake(conn)
	if err != nil {
		conn.Close()
		return nil, HandshakePayload{}, err
	}

	if remote.ChainID != local.ChainID {
		conn.Close()
		return nil, HandshakePayload{}, fmt.Errorf("chain id mismatch: ours %d, theirs %d", local.ChainID, remote.ChainID)
	}

	return newSession(conn, peer.New(remote.Host), evHandler), remote, nil
}

// Accept performs the answering side of the handshake on an upgraded
// connection: their handshake first, then ours.
func Accept(conn *websocket.Conn, local HandshakePayload, evHandler func(v string, args ...any)) (*Session, HandshakePayload, error) {
	remote, err := readHandshake(conn)
	if err != nil {
		conn.Close()
		return nil, HandshakePayload{}, err
	}

	if remote.ChainID != local.ChainID {
		conn.Close()
		return nil, HandshakePayload{}, fmt.Errorf("chain id mismatch: ours %d, theirs %d", local.ChainID, remote.ChainID)
	}

	if err := writeHandshake(conn, local); err != nil {
		conn.Close()
		return nil, HandshakePayload{}, err
	}

	return newSession(conn, peer.New(remote.Host), evHandler), remote, nil
}

func writeHandshake(conn *websocket.Conn, local HandshakePayload) error {
	msg, err := NewMessage(TypeHandshake, local)
	if err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send handshake: %w", timeoutOr(err))
	}

	return nil
}

func readHandshake(conn *websocket.Conn) (HandshakePayload, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		return HandshakePayload{}, fmt.Errorf("read handshake: %w", timeoutOr(err))
	}

	if msg.Type != TypeHandshake {
		return HandshakePayload{}, fmt.Errorf("expected handshake, got %q", msg.Type)
	}

	var remote HandshakePayload
	if err := msg.ParsePayload(&remote); err != nil {
		return HandshakePayload{}, fmt.Errorf("parse handshake: %w", err)
	}

	return remote, nil
}

// timeoutOr maps deadline misses to ErrPeerTimeout and leaves every other
// error as is.
func timeoutOr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrPeerTimeout
	}
	return err
}
