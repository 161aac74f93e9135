// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentboard/agentboard-go/pkg/board"
	"github.com/agentboard/agentboard-go/pkg/envelope"
	"github.com/agentboard/agentboard-go/pkg/transport"
	"github.com/agentboard/agentboard-go/pkg/transport/memorytest"
	"github.com/agentboard/agentboard-go/pkg/wire"
)

var fastPoll = transport.PollOptions{Interval: 20 * time.Millisecond, MaxFailures: 2}

// collector gathers Envelopes passed to a Receiver.
type collector struct {
	mutex sync.Mutex
	envs  []envelope.Envelope
}

func (c *collector) receive(e envelope.Envelope) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.envs = append(c.envs, e)
}

func (c *collector) wait(t *testing.T, n int) []envelope.Envelope {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		c.mutex.Lock()
		if len(c.envs) >= n {
			envs := append([]envelope.Envelope(nil), c.envs...)
			c.mutex.Unlock()
			return envs
		}
		c.mutex.Unlock()
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("expected %d envelopes, got %d", n, len(c.envs))
	return nil
}

// exerciseAdapter checks the contract every Adapter must satisfy.
func exerciseAdapter(t *testing.T, a transport.Adapter, from string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	early := envelope.New("ops", from, "before subscribing")
	if _, err := a.Send(ctx, early); err != nil {
		t.Fatal(err)
	}

	c := new(collector)
	sub, err := a.Subscribe("ops", c.receive)
	if err != nil {
		t.Fatal(err)
	}

	var sent []envelope.Envelope
	for i := 0; i < 3; i++ {
		e := envelope.New("ops", from, fmt.Sprintf("msg %d", i))
		sent = append(sent, e)

		if ack, err := a.Send(ctx, e); err != nil {
			t.Fatal(err)
		} else if ack.ID != e.ID || ack.Kind != a.Kind() {
			t.Fatalf("unexpected ack %+v", ack)
		}
	}

	// Envelopes of one sender on one topic arrive in order; the earlier one is not delivered live.
	envs := c.wait(t, 3)
	for i, e := range envs[:3] {
		if e.ID != sent[i].ID {
			t.Fatalf("envelope %d: expected %s, got %s", i, sent[i].ID, e.ID)
		}
	}

	if hist, err := a.PollHistory(ctx, "ops", 2); err != nil {
		t.Fatal(err)
	} else if len(hist) != 2 || hist[0].ID != sent[1].ID || hist[1].ID != sent[2].ID {
		t.Fatalf("unexpected history %v", hist)
	}

	sub.Unsubscribe()
	sub.Unsubscribe()

	if _, err := a.Send(ctx, envelope.New("ops", from, "after unsubscribing")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if len(c.envs) != 3 {
		t.Fatalf("expected 3 envelopes after unsubscribing, got %d", len(c.envs))
	}
}

func TestStoreAdapter(t *testing.T) {
	a := transport.NewStoreAdapter(filepath.Join(t.TempDir(), "mailbox.db"), fastPoll)
	if err := a.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	exerciseAdapter(t, a, "agent-a")

	if err := a.Prune(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
}

func TestStoreAdapterFallsBack(t *testing.T) {
	// A directory cannot be opened as a database file.
	a := transport.NewStoreAdapter(t.TempDir(), fastPoll)
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("store adapter failed to connect: %v", err)
	}
	defer a.Close()

	exerciseAdapter(t, a, "agent-a")
}

func TestStoreAdapterSharedMailbox(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailbox.db")

	alice := transport.NewStoreAdapter(path, fastPoll)
	bob := transport.NewStoreAdapter(path, fastPoll)
	for _, a := range []*transport.StoreAdapter{alice, bob} {
		if err := a.Connect(context.Background()); err != nil {
			t.Fatal(err)
		}
		defer a.Close()
	}

	c := new(collector)
	if _, err := bob.Subscribe("ops", c.receive); err != nil {
		t.Fatal(err)
	}

	e := envelope.New("ops", "alice", "hello bob", envelope.To("bob"))
	if _, err := alice.Send(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	// Resending the same Envelope must not duplicate it.
	if _, err := alice.Send(context.Background(), e); err != nil {
		t.Fatal(err)
	}

	if envs := c.wait(t, 1); envs[0].ID != e.ID || envs[0].To != "bob" {
		t.Fatalf("unexpected envelope %v", envs[0])
	}
	time.Sleep(100 * time.Millisecond)

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if len(c.envs) != 1 {
		t.Fatalf("expected one envelope, got %d", len(c.envs))
	}
}

func TestMemoryAdapter(t *testing.T) {
	srv, httpSrv := memorytest.Start()
	defer httpSrv.Close()

	a := transport.NewMemoryAdapter(transport.NewHTTPMemoryClient(httpSrv.URL, "secret"), httpSrv.URL, fastPoll)
	if err := a.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	exerciseAdapter(t, a, "agent-a")

	entries := srv.Entries()
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	if tags := strings.Join(entries[0].Tags, ","); tags != "ops,to:*,from:agent-a,priority:normal" {
		t.Fatalf("unexpected tags %s", tags)
	}
}

func TestMemoryAdapterUnreachable(t *testing.T) {
	srv, httpSrv := memorytest.Start()
	defer httpSrv.Close()

	srv.SetFailing(true)

	a := transport.NewMemoryAdapter(transport.NewHTTPMemoryClient(httpSrv.URL, ""), httpSrv.URL, fastPoll)
	err := a.Connect(context.Background())

	var te *transport.Error
	if !errors.As(err, &te) || te.Kind != transport.MemoryService || te.Op != "connect" {
		t.Fatalf("expected transport error, got %v", err)
	}

	if _, err := a.Send(context.Background(), envelope.New("ops", "a", "x")); !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func startBoard(t *testing.T) string {
	b := board.New(board.Options{})
	srv := httptest.NewServer(b)
	t.Cleanup(func() {
		b.Close()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSocketAdapter(t *testing.T) {
	url := startBoard(t)

	a := transport.NewSocketAdapter(url, "agent-a", transport.SocketOptions{AckTimeout: time.Second})
	if err := a.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if _, err := a.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}

	exerciseAdapter(t, a, "agent-a")
}

func TestSocketAdapterBetweenAgents(t *testing.T) {
	url := startBoard(t)

	alice := transport.NewSocketAdapter(url, "alice", transport.SocketOptions{})
	bob := transport.NewSocketAdapter(url, "bob", transport.SocketOptions{})

	// Subscriptions made before connecting are issued on Connect.
	c := new(collector)
	if _, err := bob.Subscribe("ops", c.receive); err != nil {
		t.Fatal(err)
	}

	for _, a := range []*transport.SocketAdapter{alice, bob} {
		if err := a.Connect(context.Background()); err != nil {
			t.Fatal(err)
		}
		defer a.Close()
	}

	e := envelope.New("ops", "alice", "hello", envelope.To("bob"))
	if _, err := alice.Send(context.Background(), e); err != nil {
		t.Fatal(err)
	}

	if envs := c.wait(t, 1); envs[0].ID != e.ID {
		t.Fatalf("unexpected envelope %v", envs[0])
	}

	// The board rejects Envelopes of other senders.
	if _, err := alice.Send(context.Background(), envelope.New("ops", "bob", "spoofed")); !transport.IsTransportError(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestSocketAdapterUnreachable(t *testing.T) {
	a := transport.NewSocketAdapter("ws://127.0.0.1:1/ws", "agent-a", transport.SocketOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := a.Connect(ctx); !transport.IsTransportError(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestSocketAdapterLookup(t *testing.T) {
	url := startBoard(t)

	a := transport.NewSocketAdapter("", "agent-a", transport.SocketOptions{
		Lookup: func(_ context.Context) (string, error) { return url, nil },
	})
	if err := a.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if a.Address() != url {
		t.Fatalf("expected address %s, got %s", url, a.Address())
	}
}

func TestSocketAdapterReportsLostConnection(t *testing.T) {
	b := board.New(board.Options{})
	srv := httptest.NewServer(b)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	socket := transport.NewSocketAdapter(url, "agent-a", transport.SocketOptions{})
	store := transport.NewStoreAdapter(filepath.Join(t.TempDir(), "mailbox.db"), fastPoll)

	s := transport.NewSelector([]transport.Adapter{store, socket}, transport.SelectorOptions{})
	defer s.Close()

	switched := make(chan transport.Adapter, 2)
	s.OnSwitch(func(_, next transport.Adapter) { switched <- next })

	if a, err := s.Current(context.Background()); err != nil || a != socket {
		t.Fatalf("expected socket adapter, got %v, %v", a, err)
	}
	<-switched

	b.Close()

	select {
	case next := <-switched:
		if next != store {
			t.Fatalf("expected store adapter, got %v", next)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("selector did not fail over")
	}
}

func TestSocketAdapterMalformedFrame(t *testing.T) {
	// The fake board acknowledges the registration and then announces 1<<62 envelopes in one frame.
	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, rd, err := conn.NextReader()
		if err != nil {
			return
		}
		reg, err := wire.Read(rd)
		if err != nil {
			return
		}

		buff := new(bytes.Buffer)
		if err := wire.Write(wire.NewAck(reg.ID, nil), buff); err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, buff.Bytes()); err != nil {
			return
		}

		buff.Reset()
		if err := wire.Write(wire.NewPing(), buff); err != nil {
			return
		}
		data := buff.Bytes()
		data = append(data[:len(data)-1], 0x9b, 0x40, 0, 0, 0, 0, 0, 0, 0)
		_ = conn.WriteMessage(websocket.BinaryMessage, data)

		_, _, _ = conn.NextReader()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	socket := transport.NewSocketAdapter(url, "agent-a", transport.SocketOptions{})
	store := transport.NewStoreAdapter(filepath.Join(t.TempDir(), "mailbox.db"), fastPoll)

	s := transport.NewSelector([]transport.Adapter{store, socket}, transport.SelectorOptions{})
	defer s.Close()

	switched := make(chan transport.Adapter, 2)
	s.OnSwitch(func(_, next transport.Adapter) { switched <- next })

	if a, err := s.Current(context.Background()); err != nil || a != socket {
		t.Fatalf("expected socket adapter, got %v, %v", a, err)
	}
	<-switched

	select {
	case next := <-switched:
		if next != store {
			t.Fatalf("expected store adapter, got %v", next)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("selector did not fail over")
	}
}
