// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package messenger provides topic based publish and subscribe on top of a transport.Selector.
//
// Published Envelopes pass an ordered outbox. If the current transport fails, the Selector fails over, all topic
// subscriptions are bound to the new transport and the pending send is retried there. A Subscription first replays
// the latest Envelopes of its topic and streams live Envelopes afterwards. Each Subscription drops Envelope IDs it has
// already seen.
package messenger
