// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package messenger

import (
	"sync"

	log "github.com/sirupsen/logrus"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/agentboard/agentboard-go/pkg/envelope"
)

// Subscription of a subscriber to a topic, returned by Messenger.Subscribe.
type Subscription struct {
	id           uint64
	topic        string
	subscriberID string
	sink         Sink

	seen *lru.Cache[string, struct{}]

	mutex     sync.Mutex
	pending   []envelope.Envelope
	held      []envelope.Envelope
	replaying bool
	replayed  int
	closed    bool

	signal  chan struct{}
	stopSyn chan struct{}
	stopAck chan struct{}

	unsubscribe func(*Subscription)
	once        sync.Once
}

func newSubscription(id uint64, topic, subscriberID string, sink Sink, window int) (*Subscription, error) {
	seen, err := lru.New[string, struct{}](window)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		id:           id,
		topic:        topic,
		subscriberID: subscriberID,
		sink:         sink,
		seen:         seen,
		replaying:    true,
		signal:       make(chan struct{}, 1),
		stopSyn:      make(chan struct{}),
		stopAck:      make(chan struct{}),
	}

	go sub.handle()

	return sub, nil
}

// Topic of this Subscription.
func (sub *Subscription) Topic() string {
	return sub.topic
}

// SubscriberID of this Subscription's owner.
func (sub *Subscription) SubscriberID() string {
	return sub.subscriberID
}

// Replayed returns the number of Envelopes delivered from the topic's history.
func (sub *Subscription) Replayed() int {
	sub.mutex.Lock()
	defer sub.mutex.Unlock()

	return sub.replayed
}

// enqueue an unseen Envelope for delivery. The caller must hold the mutex.
func (sub *Subscription) enqueue(e envelope.Envelope) bool {
	if sub.closed {
		return false
	}
	if seen, _ := sub.seen.ContainsOrAdd(e.ID, struct{}{}); seen {
		log.WithFields(log.Fields{
			"topic":      sub.topic,
			"subscriber": sub.subscriberID,
			"envelope":   e.ID,
		}).Debug("Subscription dropped a duplicate Envelope")
		return false
	}

	sub.pending = append(sub.pending, e)
	select {
	case sub.signal <- struct{}{}:
	default:
	}
	return true
}

// offer a live Envelope. During the replay, live Envelopes are held back.
func (sub *Subscription) offer(e envelope.Envelope) {
	sub.mutex.Lock()
	defer sub.mutex.Unlock()

	if sub.replaying {
		sub.held = append(sub.held, e)
		return
	}
	sub.enqueue(e)
}

// replay the history first, followed by the held back live Envelopes.
func (sub *Subscription) replay(history []envelope.Envelope) {
	sub.mutex.Lock()
	defer sub.mutex.Unlock()

	for _, e := range history {
		if sub.enqueue(e) {
			sub.replayed++
		}
	}
	for _, e := range sub.held {
		sub.enqueue(e)
	}

	sub.held = nil
	sub.replaying = false
}

func (sub *Subscription) next() (e envelope.Envelope, ok bool) {
	sub.mutex.Lock()
	defer sub.mutex.Unlock()

	if len(sub.pending) == 0 {
		return
	}

	e, ok = sub.pending[0], true
	sub.pending = sub.pending[1:]
	return
}

func (sub *Subscription) handle() {
	defer close(sub.stopAck)

	for {
		for {
			e, ok := sub.next()
			if !ok {
				break
			}

			select {
			case <-sub.stopSyn:
				return
			default:
				sub.sink.Deliver(e)
			}
		}

		select {
		case <-sub.stopSyn:
			return
		case <-sub.signal:
		}
	}
}

// stop the delivery goroutine and wait for it.
func (sub *Subscription) stop() {
	sub.mutex.Lock()
	sub.closed = true
	sub.pending = nil
	sub.mutex.Unlock()

	close(sub.stopSyn)
	if q, ok := sub.sink.(*QueueSink); ok {
		q.release()
	}
	<-sub.stopAck

	if q, ok := sub.sink.(*QueueSink); ok {
		q.finish()
	}
}

// Unsubscribe this Subscription. No Envelope is delivered after Unsubscribe returned, thus it must not be called
// from within the Sink. Further calls are ignored.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		if sub.unsubscribe != nil {
			sub.unsubscribe(sub)
		}
		sub.stop()
	})
}
