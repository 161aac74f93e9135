// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/websocket"

	"github.com/agentboard/agentboard-go/pkg/envelope"
	"github.com/agentboard/agentboard-go/pkg/wire"
)

// SocketOptions configure a SocketAdapter.
type SocketOptions struct {
	// AckTimeout bounds the wait for an acknowledgement by the board.
	AckTimeout time.Duration

	// Lookup resolves the board's URL if the SocketAdapter was created without one, e.g., by LAN discovery.
	Lookup func(ctx context.Context) (string, error)

	// Dialer to be used instead of websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// ReadLimit bounds the size of a frame from the board, defaults to wire.MaxFrameSize.
	ReadLimit int64
}

// DefaultAckTimeout is used if SocketOptions.AckTimeout is not set.
const DefaultAckTimeout = 5 * time.Second

// socketConn is a single registered connection to a board.
type socketConn struct {
	ws *websocket.Conn

	writeMutex sync.Mutex

	waitersMutex sync.Mutex
	waiters      map[string]chan wire.Frame

	closing atomic.Bool
	done    chan struct{}
}

func newSocketConn(ws *websocket.Conn) *socketConn {
	return &socketConn{
		ws:      ws,
		waiters: make(map[string]chan wire.Frame),
		done:    make(chan struct{}),
	}
}

func (sc *socketConn) write(f wire.Frame) error {
	sc.writeMutex.Lock()
	defer sc.writeMutex.Unlock()

	wc, wcErr := sc.ws.NextWriter(websocket.BinaryMessage)
	if wcErr != nil {
		return wcErr
	}

	if cborErr := wire.Write(f, wc); cborErr != nil {
		return cborErr
	}

	return wc.Close()
}

func (sc *socketConn) read() (f wire.Frame, err error) {
	if mt, r, rErr := sc.ws.NextReader(); rErr != nil {
		err = rErr
	} else if mt != websocket.BinaryMessage {
		err = fmt.Errorf("expected binary message, got %d", mt)
	} else {
		f, err = wire.Read(r)
	}
	return
}

// request writes a Frame and waits for the answer carrying the same ID.
func (sc *socketConn) request(ctx context.Context, f wire.Frame, timeout time.Duration) (wire.Frame, error) {
	ch := make(chan wire.Frame, 1)

	sc.waitersMutex.Lock()
	sc.waiters[f.ID] = ch
	sc.waitersMutex.Unlock()

	defer func() {
		sc.waitersMutex.Lock()
		delete(sc.waiters, f.ID)
		sc.waitersMutex.Unlock()
	}()

	if err := sc.write(f); err != nil {
		return wire.Frame{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil

	case <-sc.done:
		return wire.Frame{}, fmt.Errorf("connection closed while waiting for %v", f.Type)

	case <-ctx.Done():
		return wire.Frame{}, ctx.Err()

	case <-timer.C:
		return wire.Frame{}, ErrAckTimeout
	}
}

// resolve passes an answer Frame to its waiter, if any.
func (sc *socketConn) resolve(f wire.Frame) bool {
	sc.waitersMutex.Lock()
	ch, ok := sc.waiters[f.ID]
	sc.waitersMutex.Unlock()

	if !ok {
		return false
	}

	select {
	case ch <- f:
	default:
	}
	return true
}

// SocketAdapter keeps one persistent WebSocket connection to a board.
type SocketAdapter struct {
	agentID string
	opts    SocketOptions

	receivers *receivers

	mutex   sync.Mutex
	address string
	conn    *socketConn
	failure func(error)
}

// NewSocketAdapter for a board's URL, e.g., ws://localhost:3030/ws. An empty URL requires SocketOptions.Lookup.
func NewSocketAdapter(url, agentID string, opts SocketOptions) *SocketAdapter {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = wire.MaxFrameSize
	}

	return &SocketAdapter{
		agentID:   agentID,
		opts:      opts,
		receivers: newReceivers(),
		address:   url,
	}
}

func (sa *SocketAdapter) String() string {
	return fmt.Sprintf("SocketAdapter(%s)", sa.Address())
}

func (sa *SocketAdapter) logger() *log.Entry {
	return log.WithFields(log.Fields{
		"transport": SocketChannel,
		"address":   sa.Address(),
		"agent":     sa.agentID,
	})
}

// Kind is SocketChannel.
func (sa *SocketAdapter) Kind() Kind {
	return SocketChannel
}

// Address is the board's URL.
func (sa *SocketAdapter) Address() string {
	sa.mutex.Lock()
	defer sa.mutex.Unlock()

	return sa.address
}

func (sa *SocketAdapter) onFailure(f func(error)) {
	sa.mutex.Lock()
	defer sa.mutex.Unlock()

	sa.failure = f
}

func (sa *SocketAdapter) current() *socketConn {
	sa.mutex.Lock()
	defer sa.mutex.Unlock()

	return sa.conn
}

// Connect dials the board, registers the agent and re-issues all subscriptions.
func (sa *SocketAdapter) Connect(ctx context.Context) error {
	sa.mutex.Lock()
	defer sa.mutex.Unlock()

	if sa.conn != nil {
		return nil
	}

	if sa.address == "" && sa.opts.Lookup != nil {
		if addr, err := sa.opts.Lookup(ctx); err != nil {
			return newError(SocketChannel, sa.address, "lookup", err)
		} else {
			sa.address = addr
		}
	}
	if sa.address == "" {
		return newError(SocketChannel, sa.address, "connect", fmt.Errorf("no board URL"))
	}

	ws, _, err := sa.opts.Dialer.DialContext(ctx, sa.address, nil)
	if err != nil {
		return newError(SocketChannel, sa.address, "connect", err)
	}

	ws.SetReadLimit(sa.opts.ReadLimit)
	sc := newSocketConn(ws)
	if err := sa.register(ctx, sc); err != nil {
		_ = ws.Close()
		return newError(SocketChannel, sa.address, "register", err)
	}

	logger := log.WithFields(log.Fields{
		"transport": SocketChannel,
		"address":   sa.address,
		"agent":     sa.agentID,
	})
	go sa.readLoop(sc, logger)

	for _, topic := range sa.receivers.list() {
		resp, err := sc.request(ctx, wire.NewSubscribe(topic), sa.opts.AckTimeout)
		if err == nil {
			err = resp.Err()
		}
		if err != nil {
			sc.closing.Store(true)
			_ = ws.Close()
			<-sc.done
			return newError(SocketChannel, sa.address, "subscribe", err)
		}
	}

	sa.conn = sc
	logger.Info("Socket transport connected")
	return nil
}

// register performs the handshake, before the read loop is started.
func (sa *SocketAdapter) register(ctx context.Context, sc *socketConn) error {
	reg := wire.NewRegister(sa.agentID)
	if err := sc.write(reg); err != nil {
		return err
	}

	deadline := time.Now().Add(sa.opts.AckTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := sc.ws.SetReadDeadline(deadline); err != nil {
		return err
	}

	f, err := sc.read()
	if err != nil {
		return err
	} else if f.Type != wire.Ack || f.ID != reg.ID {
		return fmt.Errorf("expected registration ack, got %v", f)
	} else if err := f.Err(); err != nil {
		return err
	}

	return sc.ws.SetReadDeadline(time.Time{})
}

func (sa *SocketAdapter) readLoop(sc *socketConn, logger *log.Entry) {
	var err error
	defer func() {
		close(sc.done)
		sa.connLost(sc, logger, err)
	}()

	for {
		var f wire.Frame
		if f, err = sc.read(); err != nil {
			return
		}

		switch f.Type {
		case wire.Message:
			for _, e := range f.Envelopes {
				sa.receivers.deliver(e)
			}

		case wire.Ack, wire.History:
			if !sc.resolve(f) {
				logger.WithField("frame", f).Debug("Received unexpected answer")
			}

		default:
			logger.WithField("frame", f).Info("Received unknown / unsupported frame")
		}
	}
}

// connLost reports a broken connection unless it was closed on purpose.
func (sa *SocketAdapter) connLost(sc *socketConn, logger *log.Entry, err error) {
	if sc.closing.Load() {
		return
	}

	sa.mutex.Lock()
	if sa.conn != sc {
		sa.mutex.Unlock()
		return
	}
	sa.conn = nil
	failure := sa.failure
	address := sa.address
	sa.mutex.Unlock()

	_ = sc.ws.Close()
	logger.WithError(err).Warn("Socket transport lost its connection")

	if failure != nil {
		go failure(newError(SocketChannel, address, "receive", err))
	}
}

// Close the connection to the board.
func (sa *SocketAdapter) Close() error {
	sa.mutex.Lock()
	sc := sa.conn
	sa.conn = nil
	sa.mutex.Unlock()

	if sc == nil {
		return nil
	}

	sc.closing.Store(true)

	sc.writeMutex.Lock()
	_ = sc.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	sc.writeMutex.Unlock()

	err := sc.ws.Close()
	<-sc.done

	sa.logger().Debug("Socket transport closed")
	return err
}

// Send an Envelope and wait for the board's acknowledgement.
func (sa *SocketAdapter) Send(ctx context.Context, e envelope.Envelope) (Ack, error) {
	sc := sa.current()
	if sc == nil {
		return Ack{}, newError(SocketChannel, sa.Address(), "send", ErrNotConnected)
	}

	resp, err := sc.request(ctx, wire.NewSend(e), sa.opts.AckTimeout)
	if err != nil {
		return Ack{}, newError(SocketChannel, sa.Address(), "send", err)
	} else if resp.Type != wire.Ack {
		return Ack{}, newError(SocketChannel, sa.Address(), "send", fmt.Errorf("expected ack, got %v", resp))
	} else if err := resp.Err(); err != nil {
		return Ack{}, newError(SocketChannel, sa.Address(), "send", err)
	}

	return Ack{ID: e.ID, Kind: SocketChannel, Address: sa.Address(), At: time.Now()}, nil
}

// Subscribe a Receiver to a topic. The first Receiver of a topic subscribes at the board.
func (sa *SocketAdapter) Subscribe(topic string, r Receiver) (*Subscription, error) {
	id, first := sa.receivers.add(topic, r)

	if sc := sa.current(); first && sc != nil {
		resp, err := sc.request(context.Background(), wire.NewSubscribe(topic), sa.opts.AckTimeout)
		if err == nil {
			err = resp.Err()
		}
		if err != nil {
			sa.receivers.remove(topic, id)
			return nil, newError(SocketChannel, sa.Address(), "subscribe", err)
		}
	}

	return newSubscription(topic, func() {
		if !sa.receivers.remove(topic, id) {
			return
		}

		if sc := sa.current(); sc != nil {
			if _, err := sc.request(context.Background(), wire.NewUnsubscribe(topic), sa.opts.AckTimeout); err != nil {
				sa.logger().WithError(err).WithField("topic", topic).Debug("Unsubscribing errored")
			}
		}
	}), nil
}

// PollHistory requests the latest Envelopes of a topic from the board.
func (sa *SocketAdapter) PollHistory(ctx context.Context, topic string, limit int) ([]envelope.Envelope, error) {
	sc := sa.current()
	if sc == nil {
		return nil, newError(SocketChannel, sa.Address(), "history", ErrNotConnected)
	}

	resp, err := sc.request(ctx, wire.NewHistoryRequest(topic, limit), sa.opts.AckTimeout)
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		return nil, newError(SocketChannel, sa.Address(), "history", err)
	}

	return resp.Envelopes, nil
}

// Ping the board.
func (sa *SocketAdapter) Ping(ctx context.Context) (time.Duration, error) {
	sc := sa.current()
	if sc == nil {
		return 0, newError(SocketChannel, sa.Address(), "ping", ErrNotConnected)
	}

	start := time.Now()
	resp, err := sc.request(ctx, wire.NewPing(), sa.opts.AckTimeout)
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		return 0, newError(SocketChannel, sa.Address(), "ping", err)
	}
	return time.Since(start), nil
}
