// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package registry loads agent capability manifests and answers which agents can handle a capability or topic.
//
// A Registry's routing table is rebuilt wholesale by Refresh and published by a single atomic swap, thus readers
// never observe a partially built table. Agent activity, recorded by Touch, survives refreshes.
package registry
