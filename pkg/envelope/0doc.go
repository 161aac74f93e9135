// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package envelope describes the immutable unit of message exchange between agents.
//
// An Envelope carries an opaque string payload on a named topic. Each Envelope gets a globally unique ID on
// creation, which consumers use for deduplication. Responses are linked to their requests by a CorrelationID.
//
// Envelopes are serialized as CBOR for the socket channel (see the wire package) and as JSON for the poll based
// transports.
package envelope
