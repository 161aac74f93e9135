// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"time"

	"github.com/agentboard/agentboard-go/pkg/envelope"
)

// HistoryItem is a stored Envelope of a topic's history. Seq reflects the order of arrival at the board.
type HistoryItem struct {
	Id    string `badgerhold:"key"`
	Topic string `badgerholdIndex:"Topic"`
	Seq   uint64

	Stored   time.Time `badgerholdIndex:"Stored"`
	Envelope envelope.Envelope
}

// JournalItem records the final result of a delegation.
type JournalItem struct {
	Id          string `badgerhold:"key"`
	Requester   string
	TargetAgent string
	Topic       string

	Status     string `badgerholdIndex:"Status"`
	RetryCount int
	Response   string
	Error      string

	Created  time.Time
	Finished time.Time `badgerholdIndex:"Finished"`
}
