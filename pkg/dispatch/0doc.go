// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package dispatch delegates requests to the agents of a registry.Registry and tracks each Delegation until it
// reaches exactly one terminal state.
//
// A Delegation moves from received over matched to forwarded. A correlated reply acknowledges and completes it.
// Without a reply, the sweeper forwards it again until the retry limit is reached and then times it out. A requester
// may cancel a Delegation at any time; later replies are discarded.
//
// Candidates are ordered deterministically: an optional Ranker scores first, followed by the capability overlap, the
// most recent activity and finally the agent id.
package dispatch
