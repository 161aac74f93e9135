// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package board

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/websocket"

	"github.com/agentboard/agentboard-go/pkg/wire"
)

var (
	errClientClosed = errors.New("client is closed")
	errOutboxFull   = errors.New("client's outbox is full")
)

// client is a single WebSocket connection to the Board.
type client struct {
	conn    *websocket.Conn
	agentID string

	writeMutex   sync.Mutex
	writeTimeout time.Duration

	// topics is guarded by the Board's mutex.
	topics map[string]struct{}

	// outbox queues published messages for the push goroutine.
	outbox chan wire.Frame
	done   chan struct{}

	shutdownOnce sync.Once
}

func newClient(conn *websocket.Conn, writeTimeout time.Duration, outboxSize int) *client {
	return &client{
		conn:         conn,
		writeTimeout: writeTimeout,
		topics:       make(map[string]struct{}),
		outbox:       make(chan wire.Frame, outboxSize),
		done:         make(chan struct{}),
	}
}

func (c *client) logger() *log.Entry {
	return log.WithFields(log.Fields{
		"board client": c.conn.RemoteAddr().String(),
		"agent":        c.agentID,
	})
}

func (c *client) shutdown() {
	c.shutdownOnce.Do(func() {
		c.logger().Debug("Board client reached shutdown")
		close(c.done)
		_ = c.conn.Close()
	})
}

// push writes the queued messages until the client shuts down.
func (c *client) push() {
	for {
		select {
		case <-c.done:
			return

		case f := <-c.outbox:
			if err := c.writeFrame(f); err != nil {
				c.logger().WithError(err).Warn("Pushing message errored, closing client")
				c.shutdown()
				return
			}
		}
	}
}

// enqueue a message without blocking. A full outbox reports errOutboxFull.
func (c *client) enqueue(f wire.Frame) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}

	select {
	case c.outbox <- f:
		return nil
	default:
		return errOutboxFull
	}
}

func (c *client) readFrame() (f wire.Frame, err error) {
	if mt, r, rErr := c.conn.NextReader(); rErr != nil {
		err = rErr
	} else if mt != websocket.BinaryMessage {
		err = fmt.Errorf("websocket reader's type %d is not binary", mt)
	} else {
		f, err = wire.Read(r)
	}
	return
}

func (c *client) writeFrame(f wire.Frame) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}

	wc, wcErr := c.conn.NextWriter(websocket.BinaryMessage)
	if wcErr != nil {
		return wcErr
	}

	if cborErr := wire.Write(f, wc); cborErr != nil {
		return cborErr
	}

	return wc.Close()
}

// acknowledge a request frame, passing on the handling error.
func (c *client) acknowledge(id string, err error) error {
	if writeErr := c.writeFrame(wire.NewAck(id, err)); writeErr != nil {
		return writeErr
	}
	return nil
}
