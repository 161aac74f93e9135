// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package storage persists a board's topic history and a dispatcher's delegation journal in a badgerhold database.
//
// A Store is owned by a single process since badger locks its directory. Agents sharing a host exchange messages
// through the mailbox package instead.
package storage
