// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package board

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentboard/agentboard-go/pkg/envelope"
	"github.com/agentboard/agentboard-go/pkg/wire"
)

func startBoard(t *testing.T, opts Options) (*Board, string) {
	b := New(opts)
	srv := httptest.NewServer(b)
	t.Cleanup(func() {
		b.Close()
		srv.Close()
	})
	return b, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, f wire.Frame) {
	if w, err := conn.NextWriter(websocket.BinaryMessage); err != nil {
		t.Fatal(err)
	} else if err := wire.Write(f, w); err != nil {
		t.Fatal(err)
	} else if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) wire.Frame {
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	if mt, r, err := conn.NextReader(); err != nil {
		t.Fatal(err)
	} else if mt != websocket.BinaryMessage {
		t.Fatalf("expected message type %v, got %v", websocket.BinaryMessage, mt)
	} else if f, err := wire.Read(r); err != nil {
		t.Fatal(err)
	} else {
		return f
	}
	return wire.Frame{}
}

// request writes a frame and expects a positive Ack for it.
func request(t *testing.T, conn *websocket.Conn, f wire.Frame) {
	writeFrame(t, conn, f)
	if ack := readFrame(t, conn); ack.Type != wire.Ack || ack.ID != f.ID {
		t.Fatalf("expected ack for %s, got %v", f.ID, ack)
	} else if err := ack.Err(); err != nil {
		t.Fatal(err)
	}
}

func register(t *testing.T, url, agentID string) *websocket.Conn {
	conn := dial(t, url)
	request(t, conn, wire.NewRegister(agentID))
	return conn
}

func TestBoardRequiresRegister(t *testing.T) {
	_, url := startBoard(t, Options{})

	conn := dial(t, url)
	sub := wire.NewSubscribe("ops")
	writeFrame(t, conn, sub)

	if ack := readFrame(t, conn); ack.Type != wire.Ack || ack.Err() == nil {
		t.Fatalf("expected negative ack, got %v", ack)
	}

	// The board closes the connection afterwards.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.NextReader(); err == nil {
		t.Fatal("connection is still open")
	}
}

func TestBoardPublish(t *testing.T) {
	b, url := startBoard(t, Options{})

	alice := register(t, url, "alice")
	bob := register(t, url, "bob")

	request(t, bob, wire.NewSubscribe("ops"))

	if agents := b.Agents(); len(agents) != 2 {
		t.Fatalf("expected two agents, got %v", agents)
	}
	if topics := b.Topics(); len(topics["ops"]) != 1 || topics["ops"][0] != "bob" {
		t.Fatalf("unexpected topics %v", topics)
	}

	var sent []envelope.Envelope
	for _, content := range []string{"one", "two", "three"} {
		e := envelope.New("ops", "alice", content)
		sent = append(sent, e)
		request(t, alice, wire.NewSend(e))
	}

	for i := range sent {
		msg := readFrame(t, bob)
		if msg.Type != wire.Message || len(msg.Envelopes) != 1 {
			t.Fatalf("expected message, got %v", msg)
		} else if msg.Envelopes[0].ID != sent[i].ID {
			t.Fatalf("message %d: expected %s, got %s", i, sent[i].ID, msg.Envelopes[0].ID)
		}
	}

	hist := wire.NewHistoryRequest("ops", 2)
	writeFrame(t, bob, hist)
	if resp := readFrame(t, bob); resp.Type != wire.History || resp.ID != hist.ID {
		t.Fatalf("expected history response, got %v", resp)
	} else if len(resp.Envelopes) != 2 || resp.Envelopes[0].ID != sent[1].ID || resp.Envelopes[1].ID != sent[2].ID {
		t.Fatalf("unexpected history %v", resp.Envelopes)
	}
}

func TestBoardRejectsForeignSender(t *testing.T) {
	_, url := startBoard(t, Options{})

	alice := register(t, url, "alice")

	f := wire.NewSend(envelope.New("ops", "mallory", "x"))
	writeFrame(t, alice, f)
	if ack := readFrame(t, alice); ack.Type != wire.Ack || ack.Err() == nil {
		t.Fatalf("expected negative ack, got %v", ack)
	}
}

func TestBoardReregister(t *testing.T) {
	b, url := startBoard(t, Options{})

	first := register(t, url, "alice")
	request(t, first, wire.NewSubscribe("ops"))

	second := register(t, url, "alice")

	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.NextReader(); err == nil {
		t.Fatal("first connection is still open")
	}

	if topics := b.Topics(); len(topics) != 0 {
		t.Fatalf("subscriptions of the replaced connection survived: %v", topics)
	}

	request(t, second, wire.NewPing())
}

func TestBoardHistoryDepth(t *testing.T) {
	_, url := startBoard(t, Options{HistoryDepth: 3})

	alice := register(t, url, "alice")
	for i := 0; i < 5; i++ {
		request(t, alice, wire.NewSend(envelope.New("ops", "alice", "x")))
	}

	hist := wire.NewHistoryRequest("ops", 50)
	writeFrame(t, alice, hist)
	if resp := readFrame(t, alice); len(resp.Envelopes) != 3 {
		t.Fatalf("expected 3 envelopes, got %d", len(resp.Envelopes))
	}
}

func TestMemoryHistory(t *testing.T) {
	mh := NewMemoryHistory(2)

	e1 := envelope.New("ops", "a", "1")
	e2 := envelope.New("ops", "a", "2")
	e3 := envelope.New("ops", "a", "3")

	for _, e := range []envelope.Envelope{e1, e2, e2, e3} {
		if err := mh.Append(e); err != nil {
			t.Fatal(err)
		}
	}

	if envs, _ := mh.History("ops", 0); len(envs) != 2 || envs[0].ID != e2.ID || envs[1].ID != e3.ID {
		t.Fatalf("unexpected history %v", envs)
	}

	if err := mh.Trim("ops", 1); err != nil {
		t.Fatal(err)
	}
	if envs, _ := mh.History("ops", 10); len(envs) != 1 || envs[0].ID != e3.ID {
		t.Fatalf("unexpected history %v", envs)
	}
}

func TestBoardReadLimit(t *testing.T) {
	_, url := startBoard(t, Options{ReadLimit: 1024})

	conn := register(t, url, "alice")
	writeFrame(t, conn, wire.NewSend(envelope.New("ops", "alice", strings.Repeat("x", 4096))))

	// The oversized frame closes the connection instead of being acknowledged.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.NextReader(); err == nil {
		t.Fatal("connection is still open")
	}
}

func TestBoardStalledSubscriber(t *testing.T) {
	const sends = 64

	b, url := startBoard(t, Options{WriteTimeout: 5 * time.Second, OutboxSize: 16})

	alice := register(t, url, "alice")
	bob := register(t, url, "bob")
	stalled := register(t, url, "stalled")

	request(t, bob, wire.NewSubscribe("ops"))
	// stalled never reads again, its pushes block once the socket buffers are full.
	request(t, stalled, wire.NewSubscribe("ops"))

	received := make(chan string, sends)
	go func() {
		defer close(received)
		for i := 0; i < sends; i++ {
			_ = bob.SetReadDeadline(time.Now().Add(5 * time.Second))
			mt, r, err := bob.NextReader()
			if err != nil || mt != websocket.BinaryMessage {
				return
			}
			if f, err := wire.Read(r); err != nil || f.Type != wire.Message {
				return
			} else {
				received <- f.Envelopes[0].ID
			}
		}
	}()

	content := strings.Repeat("x", 512*1024)
	var sent []string

	start := time.Now()
	for i := 0; i < sends; i++ {
		e := envelope.New("ops", "alice", content)
		sent = append(sent, e.ID)
		request(t, alice, wire.NewSend(e))
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("publishing took %v, a stalled subscriber delayed it", elapsed)
	}

	var got []string
	for id := range received {
		got = append(got, id)
	}
	if len(got) != sends {
		t.Fatalf("bob received %d of %d envelopes", len(got), sends)
	}
	for i := range sent {
		if got[i] != sent[i] {
			t.Fatalf("message %d: expected %s, got %s", i, sent[i], got[i])
		}
	}

	// The stalled client was dropped once its outbox overflowed.
	deadline := time.Now().Add(2 * time.Second)
	for len(b.Topics()["ops"]) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("stalled client is still subscribed: %v", b.Topics())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
