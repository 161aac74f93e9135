// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"os"
	"path"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/timshannon/badgerhold"

	"github.com/agentboard/agentboard-go/pkg/envelope"
)

const dirBadger string = "db"

// Store implements a storage for topic histories and delegation results.
type Store struct {
	bh *badgerhold.Store

	badgerDir string

	seqMutex sync.Mutex
	lastSeq  uint64
}

// NewStore creates a new Store or opens an existing Store from the given path.
func NewStore(dir string) (s *Store, err error) {
	badgerDir := path.Join(dir, dirBadger)

	opts := badgerhold.DefaultOptions
	opts.Dir = badgerDir
	opts.ValueDir = badgerDir
	opts.Logger = log.StandardLogger()
	opts.Options.ValueLogFileSize = 1<<28 - 1

	if dirErr := os.MkdirAll(badgerDir, 0700); dirErr != nil {
		err = dirErr
		return
	}

	if bh, bhErr := badgerhold.Open(opts); bhErr != nil {
		err = bhErr
	} else {
		s = &Store{
			bh:        bh,
			badgerDir: badgerDir,
		}
	}
	return
}

// Close the Store. It must not be used afterwards.
func (s *Store) Close() error {
	return s.bh.Close()
}

// nextSeq returns a strictly increasing sequence number, based on the current time.
func (s *Store) nextSeq() uint64 {
	s.seqMutex.Lock()
	defer s.seqMutex.Unlock()

	seq := uint64(time.Now().UnixNano())
	if seq <= s.lastSeq {
		seq = s.lastSeq + 1
	}
	s.lastSeq = seq
	return seq
}

// Append an Envelope to its topic's history. Known Envelope IDs are ignored.
func (s *Store) Append(e envelope.Envelope) error {
	var known HistoryItem
	if err := s.bh.Get(e.ID, &known); err == nil {
		log.WithField("envelope", e.ID).Debug("Envelope ID is known, ignoring append")
		return nil
	} else if err != badgerhold.ErrNotFound {
		return err
	}

	hi := HistoryItem{
		Id:       e.ID,
		Topic:    e.Topic,
		Seq:      s.nextSeq(),
		Stored:   time.Now(),
		Envelope: e,
	}

	log.WithFields(log.Fields{
		"envelope": e.ID,
		"topic":    e.Topic,
	}).Debug("Store appends Envelope to history")

	return s.bh.Insert(hi.Id, hi)
}

func (s *Store) topicItems(topic string) (his []HistoryItem, err error) {
	if err = s.bh.Find(&his, badgerhold.Where("Topic").Eq(topic)); err != nil {
		return
	}

	sort.Slice(his, func(i, j int) bool { return his[i].Seq < his[j].Seq })
	return
}

// History returns up to limit latest Envelopes of a topic, oldest first. A non-positive limit returns everything.
func (s *Store) History(topic string, limit int) ([]envelope.Envelope, error) {
	his, err := s.topicItems(topic)
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(his) > limit {
		his = his[len(his)-limit:]
	}

	envs := make([]envelope.Envelope, len(his))
	for i, hi := range his {
		envs[i] = hi.Envelope
	}
	return envs, nil
}

// Trim a topic's history to its keep latest Envelopes.
func (s *Store) Trim(topic string, keep int) error {
	his, err := s.topicItems(topic)
	if err != nil {
		return err
	}

	if len(his) <= keep {
		return nil
	}

	for _, hi := range his[:len(his)-keep] {
		if err := s.bh.Delete(hi.Id, HistoryItem{}); err != nil {
			return err
		}
	}

	log.WithFields(log.Fields{
		"topic":   topic,
		"removed": len(his) - keep,
	}).Debug("Store trimmed topic history")
	return nil
}

// Topics lists all topics with a stored history.
func (s *Store) Topics() ([]string, error) {
	var his []HistoryItem
	if err := s.bh.Find(&his, nil); err != nil {
		return nil, err
	}

	set := make(map[string]struct{})
	for _, hi := range his {
		set[hi.Topic] = struct{}{}
	}

	topics := make([]string, 0, len(set))
	for topic := range set {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics, nil
}

// DeleteHistoryBefore removes all history entries stored before the given time.
func (s *Store) DeleteHistoryBefore(t time.Time) {
	var his []HistoryItem
	if err := s.bh.Find(&his, badgerhold.Where("Stored").Lt(t)); err != nil {
		log.WithError(err).Warn("Failed to get outdated history entries")
		return
	}

	for _, hi := range his {
		logger := log.WithField("envelope", hi.Id)
		if err := s.bh.Delete(hi.Id, HistoryItem{}); err != nil {
			logger.WithError(err).Warn("Failed to delete outdated history entry")
		} else {
			logger.Debug("Deleted outdated history entry")
		}
	}
}

// Record a delegation's result, replacing an older record with the same ID.
func (s *Store) Record(ji JournalItem) error {
	logger := log.WithFields(log.Fields{
		"delegation": ji.Id,
		"status":     ji.Status,
	})

	var known JournalItem
	if err := s.bh.Get(ji.Id, &known); err == nil {
		logger.Debug("Store updates JournalItem")
		return s.bh.Update(ji.Id, ji)
	} else if err != badgerhold.ErrNotFound {
		return err
	}

	logger.Debug("Store inserts JournalItem")
	return s.bh.Insert(ji.Id, ji)
}

// QueryJournal fetches the JournalItem for a delegation ID.
func (s *Store) QueryJournal(id string) (ji JournalItem, err error) {
	err = s.bh.Get(id, &ji)
	return
}

// QueryStatus fetches all JournalItems with the given status, ordered by their completion.
func (s *Store) QueryStatus(status string) (jis []JournalItem, err error) {
	if err = s.bh.Find(&jis, badgerhold.Where("Status").Eq(status)); err != nil {
		return
	}

	sort.Slice(jis, func(i, j int) bool { return jis[i].Finished.Before(jis[j].Finished) })
	return
}

// DeleteJournalBefore removes all JournalItems finished before the given time.
func (s *Store) DeleteJournalBefore(t time.Time) {
	var jis []JournalItem
	if err := s.bh.Find(&jis, badgerhold.Where("Finished").Lt(t)); err != nil {
		log.WithError(err).Warn("Failed to get outdated journal entries")
		return
	}

	for _, ji := range jis {
		logger := log.WithField("delegation", ji.Id)
		if err := s.bh.Delete(ji.Id, JournalItem{}); err != nil {
			logger.WithError(err).Warn("Failed to delete outdated journal entry")
		} else {
			logger.Info("Deleted outdated journal entry")
		}
	}
}

// IsNotFound checks if an error was caused by an unknown key.
func IsNotFound(err error) bool {
	return err == badgerhold.ErrNotFound
}
