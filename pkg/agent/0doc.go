// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package agent hosts an agent behind a Messenger.
//
// A Runtime listens on the topics of an agent's Manifest, decodes the delegated Tasks and passes them to a Handler.
// The Handler's outcome is published as a correlated reply on the reply topic requested by the dispatcher. The
// PingAgent is a minimal Handler, answering "pong" to every Task.
package agent
