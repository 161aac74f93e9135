// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package messenger

import (
	"sync"

	"github.com/agentboard/agentboard-go/pkg/envelope"
)

// Sink receives the Envelopes of a Subscription. Deliver is called sequentially by the Subscription's own goroutine.
type Sink interface {
	Deliver(e envelope.Envelope)
}

// SinkFunc is a callback Sink.
type SinkFunc func(e envelope.Envelope)

// Deliver calls f(e).
func (f SinkFunc) Deliver(e envelope.Envelope) {
	f(e)
}

// QueueSink is a channel based Sink. Its channel is closed after its Subscription was unsubscribed.
type QueueSink struct {
	c    chan envelope.Envelope
	done chan struct{}
	once sync.Once
}

// NewQueueSink creates a QueueSink with the given channel buffer size.
func NewQueueSink(size int) *QueueSink {
	return &QueueSink{
		c:    make(chan envelope.Envelope, size),
		done: make(chan struct{}),
	}
}

// C returns the channel to receive Envelopes from.
func (q *QueueSink) C() <-chan envelope.Envelope {
	return q.c
}

// Deliver blocks until the Envelope was queued or the QueueSink was released.
func (q *QueueSink) Deliver(e envelope.Envelope) {
	select {
	case q.c <- e:
	case <-q.done:
	}
}

// release a blocked Deliver call.
func (q *QueueSink) release() {
	q.once.Do(func() { close(q.done) })
}

// finish closes the channel. No Deliver call must follow.
func (q *QueueSink) finish() {
	close(q.c)
}
