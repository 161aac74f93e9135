// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package messenger

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agentboard/agentboard-go/pkg/envelope"
	"github.com/agentboard/agentboard-go/pkg/mailbox"
	"github.com/agentboard/agentboard-go/pkg/transport"
	"github.com/agentboard/agentboard-go/pkg/transport/memorytest"
)

var fastPoll = transport.PollOptions{Interval: 20 * time.Millisecond, MaxFailures: 2}

// randomPort returns a random open TCP port.
func randomPort(t *testing.T) (port int) {
	if addr, err := net.ResolveTCPAddr("tcp", "localhost:0"); err != nil {
		t.Fatal(err)
	} else if l, err := net.ListenTCP("tcp", addr); err != nil {
		t.Fatal(err)
	} else {
		port = l.Addr().(*net.TCPAddr).Port
		_ = l.Close()
	}
	return
}

// collector is a Sink gathering all delivered Envelopes.
type collector struct {
	mutex sync.Mutex
	envs  []envelope.Envelope
}

func (c *collector) Deliver(e envelope.Envelope) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.envs = append(c.envs, e)
}

func (c *collector) received() []envelope.Envelope {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return append([]envelope.Envelope(nil), c.envs...)
}

func (c *collector) wait(t *testing.T, n int) []envelope.Envelope {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if envs := c.received(); len(envs) >= n {
			return envs
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("expected %d envelopes, got %d", n, len(c.received()))
	return nil
}

func startMessenger(t *testing.T, agentID string, opts Options, adapters ...transport.Adapter) *Messenger {
	selector := transport.NewSelector(adapters, transport.SelectorOptions{ProbeTimeout: time.Second})
	m := New(selector, agentID, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		_ = m.Close()
		_ = selector.Close()
	})
	return m
}

func TestMessengerReplaysToLateSubscriber(t *testing.T) {
	m := startMessenger(t, "alice", DefaultOptions, transport.NewStoreAdapter(mailbox.InMemory, fastPoll))

	id, err := m.Publish(context.Background(), "ops", "m1")
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(200 * time.Millisecond)

	c := new(collector)
	sub, err := m.Subscribe(context.Background(), "ops", "bob", c)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if envs := c.wait(t, 1); envs[0].ID != id || envs[0].Content != "m1" {
		t.Fatalf("unexpected envelope %v", envs[0])
	}
	if n := sub.Replayed(); n != 1 {
		t.Fatalf("m1 should be replayed, replayed %d", n)
	}

	time.Sleep(200 * time.Millisecond)
	if envs := c.received(); len(envs) != 1 {
		t.Fatalf("m1 was delivered again: %v", envs)
	}
}

func TestMessengerHistoryDepth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailbox.db")
	alice := startMessenger(t, "alice", DefaultOptions, transport.NewStoreAdapter(path, fastPoll))
	bob := startMessenger(t, "bob", DefaultOptions, transport.NewStoreAdapter(path, fastPoll))

	var ids []string
	for i := 0; i < 15; i++ {
		if id, err := alice.Publish(context.Background(), "ops", fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatal(err)
		} else {
			ids = append(ids, id)
		}
	}

	for round := 0; round < 2; round++ {
		c := new(collector)
		sub, err := bob.Subscribe(context.Background(), "ops", "bob", c)
		if err != nil {
			t.Fatal(err)
		}

		envs := c.wait(t, 10)
		time.Sleep(100 * time.Millisecond)
		sub.Unsubscribe()

		if envs = c.received(); len(envs) != 10 {
			t.Fatalf("round %d: expected 10 replayed envelopes, got %d", round, len(envs))
		}
		for i, e := range envs {
			if e.ID != ids[5+i] {
				t.Fatalf("round %d: envelope %d is %s instead of %s", round, i, e.ID, ids[5+i])
			}
		}
	}
}

func TestMessengerLiveOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailbox.db")
	alice := startMessenger(t, "alice", DefaultOptions, transport.NewStoreAdapter(path, fastPoll))
	bob := startMessenger(t, "bob", DefaultOptions, transport.NewStoreAdapter(path, fastPoll))

	q := NewQueueSink(64)
	sub, err := bob.Subscribe(context.Background(), "ops", "bob", q)
	if err != nil {
		t.Fatal(err)
	}

	var ids []string
	for i := 0; i < 20; i++ {
		if id, err := alice.Publish(context.Background(), "ops", fmt.Sprintf("msg %d", i), envelope.To("bob")); err != nil {
			t.Fatal(err)
		} else {
			ids = append(ids, id)
		}
	}

	for i := 0; i < 20; i++ {
		select {
		case e := <-q.C():
			if e.ID != ids[i] {
				t.Fatalf("envelope %d is %s instead of %s", i, e.ID, ids[i])
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("envelope %d was not delivered", i)
		}
	}

	sub.Unsubscribe()
	if _, ok := <-q.C(); ok {
		t.Fatal("queue should be closed after unsubscribing")
	}

	if kind, ok := bob.Transport(); !ok || kind != transport.DurableStore {
		t.Fatalf("unexpected transport %v %t", kind, ok)
	}
}

func TestMessengerFailover(t *testing.T) {
	srv, httpSrv := memorytest.Start()
	defer httpSrv.Close()

	socket := transport.NewSocketAdapter(
		fmt.Sprintf("ws://127.0.0.1:%d/ws", randomPort(t)), "alice", transport.SocketOptions{})
	memory := transport.NewMemoryAdapter(transport.NewHTTPMemoryClient(httpSrv.URL, ""), httpSrv.URL, fastPoll)
	store := transport.NewStoreAdapter(filepath.Join(t.TempDir(), "mailbox.db"), fastPoll)

	m := startMessenger(t, "alice", DefaultOptions, store, memory, socket)

	if kind, _ := m.Transport(); kind != transport.MemoryService {
		t.Fatalf("expected memory service as current transport, got %v", kind)
	}

	c := new(collector)
	sub, err := m.Subscribe(context.Background(), "ops", "alice", c)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	first, err := m.Publish(context.Background(), "ops", "via memory")
	if err != nil {
		t.Fatal(err)
	}
	if envs := c.wait(t, 1); envs[0].ID != first {
		t.Fatalf("unexpected envelope %v", envs[0])
	}

	srv.SetFailing(true)

	second, err := m.Publish(context.Background(), "ops", "via store")
	if err != nil {
		t.Fatal(err)
	}

	if kind, _ := m.Transport(); kind != transport.DurableStore {
		t.Fatalf("expected durable store as current transport, got %v", kind)
	}
	if envs := c.wait(t, 2); envs[1].ID != second {
		t.Fatalf("unexpected envelope %v", envs[1])
	}
}

// waitTransport waits until the Messenger reports to be bound to a transport, or not.
func waitTransport(t *testing.T, m *Messenger, bound bool) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := m.Transport(); ok == bound {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("messenger %v did not reach bound=%t", m, bound)
}

func TestMessengerRecoversFallbackStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailbox.db")
	alice := startMessenger(t, "alice", DefaultOptions, transport.NewStoreAdapter(path, fastPoll))
	bob := startMessenger(t, "bob", DefaultOptions, transport.NewStoreAdapter(path, fastPoll))

	c := new(collector)
	sub, err := bob.Subscribe(context.Background(), "ops", "bob", c)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	// Hiding the table breaks bob's polling until his only transport gives up.
	if _, err := db.Exec("ALTER TABLE envelopes RENAME TO envelopes_hidden"); err != nil {
		t.Fatal(err)
	}
	waitTransport(t, bob, false)

	if _, err := db.Exec("ALTER TABLE envelopes_hidden RENAME TO envelopes"); err != nil {
		t.Fatal(err)
	}
	waitTransport(t, bob, true)

	id, err := alice.Publish(context.Background(), "ops", "after recovery")
	if err != nil {
		t.Fatal(err)
	}
	if envs := c.wait(t, 1); envs[0].ID != id {
		t.Fatalf("unexpected envelope %v", envs[0])
	}
}

func TestMessengerNotStarted(t *testing.T) {
	selector := transport.NewSelector(nil, transport.SelectorOptions{})
	m := New(selector, "alice", DefaultOptions)

	if _, err := m.Publish(context.Background(), "ops", "hello"); err != ErrNotStarted {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("starting without transports should fail")
	}

	_ = m.Close()
	if _, err := m.Publish(context.Background(), "ops", "hello"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSubscriptionDropsDuplicates(t *testing.T) {
	c := new(collector)
	sub, err := newSubscription(1, "ops", "bob", c, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	e1 := envelope.New("ops", "alice", "one")
	e2 := envelope.New("ops", "alice", "two")

	// Live Envelopes during the replay are held back until the replay is done.
	sub.offer(e2)
	sub.replay([]envelope.Envelope{e1, e1})
	sub.offer(e2)
	sub.offer(e1)

	envs := c.wait(t, 2)
	time.Sleep(100 * time.Millisecond)

	if envs = c.received(); len(envs) != 2 || envs[0].ID != e1.ID || envs[1].ID != e2.ID {
		t.Fatalf("unexpected deliveries %v", envs)
	}
	if sub.Replayed() != 1 {
		t.Fatalf("expected one replayed envelope, got %d", sub.Replayed())
	}
}

func TestMergeHistory(t *testing.T) {
	base := time.Now()

	var envs []envelope.Envelope
	for i := 0; i < 5; i++ {
		e := envelope.New("ops", "alice", fmt.Sprintf("msg %d", i))
		e.CreatedAt = base.Add(time.Duration(i) * time.Second)
		envs = append(envs, e)
	}

	mixed := []envelope.Envelope{envs[3], envs[0], envs[4], envs[1], envs[3], envs[2], envs[0]}
	merged := mergeHistory(mixed, 3)

	if len(merged) != 3 {
		t.Fatalf("expected 3 envelopes, got %d", len(merged))
	}
	for i, e := range merged {
		if e.ID != envs[2+i].ID {
			t.Fatalf("envelope %d is %v instead of %v", i, e, envs[2+i])
		}
	}
}
