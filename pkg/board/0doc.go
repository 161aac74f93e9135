// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package board implements the server side of the socket channel, a message board relaying Envelopes between
// registered agents over WebSockets.
//
// A client must register its agent ID with the first frame. Afterwards it may subscribe to topics, send Envelopes
// and request a topic's history. Each sent Envelope is recorded in its topic's bounded history and pushed to every
// subscriber before the sender receives its acknowledgement.
package board
