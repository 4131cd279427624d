package p2p_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/novachain/novad/foundation/blockchain/p2p"
)

func TestSessionExchange(t *testing.T) {
	t.Log("Given the need to exchange messages over a live session.")
	{
		t.Logf("\tTest 0:\tWhen two nodes shake hands and trade a ping.")
		{
			var upgrader websocket.Upgrader

			serverGot := make(chan p2p.Message, 1)

			mux := http.NewServeMux()
			mux.HandleFunc("/v1/p2p", func(w http.ResponseWriter, r *http.Request) {
				conn, err := upgrader.Upgrade(w, r, nil)
				if err != nil {
					return
				}

				local := p2p.HandshakePayload{Host: "server:9080", ChainID: 1, LatestBlockNumber: 9}
				sess, _, err := p2p.Accept(conn, local, nil)
				if err != nil {
					return
				}

				go sess.Run(func(s *p2p.Session, msg p2p.Message) {
					serverGot <- msg

					out, _ := p2p.NewMessage(p2p.TypePong, p2p.PongPayload{TimeStamp: 42})
					s.Send(out)
				})
			})

			srv := httptest.NewServer(mux)
			defer srv.Close()

			host := strings.TrimPrefix(srv.URL, "http://")

			local := p2p.HandshakePayload{Host: "client:9080", ChainID: 1}
			sess, remote, err := p2p.Dial(context.Background(), host, local, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to dial the peer: %v", failed, err)
			}
			defer sess.Close()
			t.Logf("\t%s\tTest 0:\tShould be able to dial the peer.", success)

			if remote.Host != "server:9080" || remote.LatestBlockNumber != 9 {
				t.Fatalf("\t%s\tTest 0:\tShould learn the peer status from the handshake: %+v", failed, remote)
			}
			t.Logf("\t%s\tTest 0:\tShould learn the peer status from the handshake.", success)

			clientGot := make(chan p2p.Message, 1)
			go sess.Run(func(s *p2p.Session, msg p2p.Message) {
				clientGot <- msg
			})

			ping, err := p2p.NewMessage(p2p.TypePing, p2p.PingPayload{TimeStamp: 42})
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to build a ping: %v", failed, err)
			}
			if err := sess.Send(ping); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to send a ping: %v", failed, err)
			}

			select {
			case msg := <-serverGot:
				if msg.Type != p2p.TypePing {
					t.Fatalf("\t%s\tTest 0:\tShould deliver the ping, got %q.", failed, msg.Type)
				}
				t.Logf("\t%s\tTest 0:\tShould deliver the ping.", success)
			case <-time.After(5 * time.Second):
				t.Fatalf("\t%s\tTest 0:\tShould deliver the ping before the deadline.", failed)
			}

			select {
			case msg := <-clientGot:
				if msg.Type != p2p.TypePong {
					t.Fatalf("\t%s\tTest 0:\tShould answer with a pong, got %q.", failed, msg.Type)
				}
				t.Logf("\t%s\tTest 0:\tShould answer with a pong.", success)
			case <-time.After(5 * time.Second):
				t.Fatalf("\t%s\tTest 0:\tShould answer with a pong before the deadline.", failed)
			}
		}

		t.Logf("\tTest 1:\tWhen the chains do not match.")
		{
			var upgrader websocket.Upgrader

			mux := http.NewServeMux()
			mux.HandleFunc("/v1/p2p", func(w http.ResponseWriter, r *http.Request) {
				conn, err := upgrader.Upgrade(w, r, nil)
				if err != nil {
					return
				}

				p2p.Accept(conn, p2p.HandshakePayload{Host: "server:9080", ChainID: 1}, nil)
			})

			srv := httptest.NewServer(mux)
			defer srv.Close()

			host := strings.TrimPrefix(srv.URL, "http://")

			if _, _, err := p2p.Dial(context.Background(), host, p2p.HandshakePayload{Host: "client:9080", ChainID: 2}, nil); err == nil {
				t.Fatalf("\t%s\tTest 1:\tShould refuse a peer on another chain.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould refuse a peer on another chain.", success)
		}
	}
}
