// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/agentboard/agentboard-go/pkg/envelope"
	"github.com/agentboard/agentboard-go/pkg/mailbox"
)

// storeBackend uses a local mailbox. If the configured file cannot be opened, a process-local mailbox is used.
type storeBackend struct {
	path string

	mutex sync.Mutex
	mb    *mailbox.Mailbox
}

func (b *storeBackend) open(_ context.Context) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.mb != nil {
		return nil
	}

	mb, err := mailbox.Open(b.path)
	if err != nil {
		log.WithFields(log.Fields{
			"path":  b.path,
			"error": err,
		}).Warn("Opening mailbox failed, falling back to a process-local mailbox")

		if mb, err = mailbox.Open(mailbox.InMemory); err != nil {
			return err
		}
	}

	b.mb = mb
	return nil
}

func (b *storeBackend) close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.mb == nil {
		return nil
	}

	err := b.mb.Close()
	b.mb = nil
	return err
}

func (b *storeBackend) current() (*mailbox.Mailbox, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.mb == nil {
		return nil, ErrNotConnected
	}
	return b.mb, nil
}

func (b *storeBackend) write(ctx context.Context, e envelope.Envelope) error {
	mb, err := b.current()
	if err != nil {
		return err
	}

	_, err = mb.Put(ctx, e)
	return err
}

func mailboxEntries(entries []mailbox.Entry) []cursorEnvelope {
	ces := make([]cursorEnvelope, len(entries))
	for i, entry := range entries {
		ces[i] = cursorEnvelope{cursor: entry.Seq, env: entry.Envelope}
	}
	return ces
}

func (b *storeBackend) since(ctx context.Context, topic string, cursor int64, limit int) ([]cursorEnvelope, error) {
	mb, err := b.current()
	if err != nil {
		return nil, err
	}

	entries, err := mb.Since(ctx, topic, cursor, limit)
	return mailboxEntries(entries), err
}

func (b *storeBackend) latest(ctx context.Context, topic string, limit int) ([]cursorEnvelope, error) {
	mb, err := b.current()
	if err != nil {
		return nil, err
	}

	entries, err := mb.Latest(ctx, topic, limit)
	return mailboxEntries(entries), err
}

func (b *storeBackend) head(ctx context.Context, topic string) (int64, error) {
	mb, err := b.current()
	if err != nil {
		return unknownCursor, err
	}

	return mb.Head(ctx, topic)
}

// StoreAdapter is the last resort Adapter, backed by a mailbox file shared by all agents of this host. Its Connect
// does not fail, since it falls back to a process-local mailbox.
type StoreAdapter struct {
	*poller
	store *storeBackend
}

// NewStoreAdapter for a mailbox file.
func NewStoreAdapter(path string, opts PollOptions) *StoreAdapter {
	store := &storeBackend{path: path}
	return &StoreAdapter{
		poller: newPoller(DurableStore, path, store, opts),
		store:  store,
	}
}

// Prune removes Envelopes older than maxAge from the mailbox.
func (sa *StoreAdapter) Prune(ctx context.Context, maxAge time.Duration) error {
	mb, err := sa.store.current()
	if err != nil {
		return err
	}

	_, err = mb.PruneBefore(ctx, time.Now().Add(-maxAge))
	return err
}

func (sa *StoreAdapter) String() string {
	return fmt.Sprintf("StoreAdapter(%s)", sa.address)
}
