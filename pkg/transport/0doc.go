// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package transport moves Envelopes between agent processes.
//
// Three Adapters exist, ordered by their priority: the SocketAdapter keeps a persistent WebSocket connection to a
// board, the MemoryAdapter relays through a remote memory service and the StoreAdapter falls back to a durable
// mailbox on the local host. All of them provide best effort, at-least-once delivery; ordering is only guaranteed for
// Envelopes of the same sender on the same topic.
//
// The Selector picks the first Adapter able to connect and fails over to the next one if the current Adapter breaks.
package transport
