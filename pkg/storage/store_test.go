// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/agentboard/agentboard-go/pkg/envelope"
)

func openStore(t *testing.T) *Store {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreHistory(t *testing.T) {
	store := openStore(t)

	var sent []envelope.Envelope
	for i := 0; i < 5; i++ {
		e := envelope.New("ops", "agent-a", fmt.Sprintf("msg %d", i))
		sent = append(sent, e)

		if err := store.Append(e); err != nil {
			t.Fatal(err)
		}
	}

	// Appending a known Envelope must not duplicate it.
	if err := store.Append(sent[2]); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(envelope.New("other", "agent-a", "x")); err != nil {
		t.Fatal(err)
	}

	if envs, err := store.History("ops", 0); err != nil {
		t.Fatal(err)
	} else if len(envs) != 5 {
		t.Fatalf("expected 5 envelopes, got %d", len(envs))
	}

	if envs, err := store.History("ops", 3); err != nil {
		t.Fatal(err)
	} else if len(envs) != 3 {
		t.Fatalf("expected 3 envelopes, got %d", len(envs))
	} else {
		for i, e := range envs {
			if e.ID != sent[i+2].ID {
				t.Fatalf("envelope %d: expected %s, got %s", i, sent[i+2].ID, e.ID)
			}
		}
	}

	if err := store.Trim("ops", 2); err != nil {
		t.Fatal(err)
	}
	if envs, err := store.History("ops", 0); err != nil {
		t.Fatal(err)
	} else if len(envs) != 2 || envs[0].ID != sent[3].ID || envs[1].ID != sent[4].ID {
		t.Fatalf("unexpected history after trim: %v", envs)
	}

	if topics, err := store.Topics(); err != nil {
		t.Fatal(err)
	} else if len(topics) != 2 || topics[0] != "ops" || topics[1] != "other" {
		t.Fatalf("unexpected topics %v", topics)
	}

	store.DeleteHistoryBefore(time.Now().Add(time.Minute))
	if topics, err := store.Topics(); err != nil {
		t.Fatal(err)
	} else if len(topics) != 0 {
		t.Fatalf("expected no topics, got %v", topics)
	}
}

func TestStoreHistoryReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	e := envelope.New("ops", "agent-a", "persistent", envelope.WithMetadata("k", "v"))
	if err := store.Append(e); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if envs, err := store.History("ops", 10); err != nil {
		t.Fatal(err)
	} else if len(envs) != 1 || envs[0].ID != e.ID || envs[0].Meta("k") != "v" {
		t.Fatalf("unexpected history %v", envs)
	}
}

func TestStoreJournal(t *testing.T) {
	store := openStore(t)

	ji := JournalItem{
		Id:          "d-1",
		Requester:   "api",
		TargetAgent: "coder",
		Status:      "timed_out",
		RetryCount:  2,
		Error:       "delegation timed out",
		Created:     time.Now().Add(-time.Minute),
		Finished:    time.Now(),
	}

	if err := store.Record(ji); err != nil {
		t.Fatal(err)
	}

	ji.Status = "completed"
	ji.Response = "done"
	if err := store.Record(ji); err != nil {
		t.Fatal(err)
	}

	if ji2, err := store.QueryJournal("d-1"); err != nil {
		t.Fatal(err)
	} else if ji2.Status != "completed" || ji2.Response != "done" || ji2.RetryCount != 2 {
		t.Fatalf("unexpected journal item %+v", ji2)
	}

	if jis, err := store.QueryStatus("completed"); err != nil {
		t.Fatal(err)
	} else if len(jis) != 1 {
		t.Fatalf("expected one completed item, got %d", len(jis))
	}

	if _, err := store.QueryJournal("unknown"); !IsNotFound(err) {
		t.Fatalf("expected not found error, got %v", err)
	}

	store.DeleteJournalBefore(time.Now().Add(time.Minute))
	if _, err := store.QueryJournal("d-1"); !IsNotFound(err) {
		t.Fatalf("expected not found error after pruning, got %v", err)
	}
}
