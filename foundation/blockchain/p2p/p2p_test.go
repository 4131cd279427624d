package p2p_test

import (
	"testing"
	"time"

	"github.com/novachain/novad/foundation/blockchain/p2p"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func TestEnvelope(t *testing.T) {
	t.Log("Given the need to route payloads by message type.")
	{
		t.Logf("\tTest 0:\tWhen wrapping an inventory announcement.")
		{
			payload := p2p.InvBlocksPayload{
				Blocks: []p2p.BlockRef{
					{Hash: "0xaaaa", Number: 7},
					{Hash: "0xbbbb", Number: 8},
				},
			}

			msg, err := p2p.NewMessage(p2p.TypeInvBlocks, payload)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to wrap the payload: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to wrap the payload.", success)

			if msg.Type != p2p.TypeInvBlocks {
				t.Fatalf("\t%s\tTest 0:\tShould carry the message type, got %q.", failed, msg.Type)
			}

			var got p2p.InvBlocksPayload
			if err := msg.ParsePayload(&got); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to parse the payload: %v", failed, err)
			}

			if len(got.Blocks) != 2 || got.Blocks[1].Number != 8 {
				t.Fatalf("\t%s\tTest 0:\tShould carry the announced blocks, got %+v.", failed, got.Blocks)
			}
			t.Logf("\t%s\tTest 0:\tShould carry the announced blocks.", success)
		}

		t.Logf("\tTest 1:\tWhen the payload does not match the type.")
		{
			msg, err := p2p.NewMessage(p2p.TypePing, p2p.PingPayload{TimeStamp: 42})
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to wrap the payload: %v", failed, err)
			}

			var pong p2p.PongPayload
			if err := msg.ParsePayload(&pong); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould still parse compatible shapes: %v", failed, err)
			}

			if pong.TimeStamp != 42 {
				t.Fatalf("\t%s\tTest 1:\tShould carry the timestamp, got %d.", failed, pong.TimeStamp)
			}
			t.Logf("\t%s\tTest 1:\tShould carry the timestamp.", success)
		}
	}
}

func TestSeenCache(t *testing.T) {
	t.Log("Given the need to process each announcement only once.")
	{
		t.Logf("\tTest 0:\tWhen a hash is announced twice.")
		{
			sc := p2p.NewSeenCache(time.Hour)

			if sc.Seen("0xaaaa") {
				t.Fatalf("\t%s\tTest 0:\tShould not know a fresh hash.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould not know a fresh hash.", success)

			if !sc.Seen("0xaaaa") {
				t.Fatalf("\t%s\tTest 0:\tShould know the hash the second time.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould know the hash the second time.", success)

			if sc.Seen("0xbbbb") {
				t.Fatalf("\t%s\tTest 0:\tShould track hashes independently.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould track hashes independently.", success)

			sc.Forget("0xaaaa")
			if sc.Seen("0xaaaa") {
				t.Fatalf("\t%s\tTest 0:\tShould forget a dropped hash.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould forget a dropped hash.", success)
		}
	}
}
