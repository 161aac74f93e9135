// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"fmt"
	"time"

	"github.com/agentboard/agentboard-go/pkg/dispatch"
	"github.com/agentboard/agentboard-go/pkg/registry"
)

// DispatchRequest describes a /dispatch POST request. If Wait is set, the response is delayed until the Delegation
// finished or Timeout, defaulting to DefaultWait, passed.
type DispatchRequest struct {
	dispatch.Request

	Wait    bool   `json:"wait,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

func (dr DispatchRequest) wait() (time.Duration, error) {
	if !dr.Wait {
		return 0, nil
	}
	if dr.Timeout == "" {
		return DefaultWait, nil
	}

	if d, err := time.ParseDuration(dr.Timeout); err != nil {
		return 0, fmt.Errorf("invalid timeout: %w", err)
	} else if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive")
	} else {
		return d, nil
	}
}

// ErrorResponse is sent for every failed request.
type ErrorResponse struct {
	Error      string           `json:"error"`
	Delegation *dispatch.Status `json:"delegation,omitempty"`
}

// AgentResponse describes a routable agent.
type AgentResponse struct {
	AgentID      string    `json:"agent_id"`
	Version      string    `json:"version,omitempty"`
	Description  string    `json:"description,omitempty"`
	Topics       []string  `json:"topics"`
	Capabilities []string  `json:"capabilities"`
	LastSeen     time.Time `json:"last_seen,omitempty"`
}

func newAgentResponse(entry registry.Entry) AgentResponse {
	return AgentResponse{
		AgentID:      entry.Manifest.AgentID,
		Version:      entry.Manifest.Version,
		Description:  entry.Manifest.Description,
		Topics:       entry.Manifest.Topics,
		Capabilities: entry.Manifest.Capabilities,
		LastSeen:     entry.LastSeen,
	}
}

// RefreshResponse reports the number of routable agents after a refresh.
type RefreshResponse struct {
	Agents int `json:"agents"`
}

// StatusResponse describes this node.
type StatusResponse struct {
	AgentID   string `json:"agent_id"`
	Transport string `json:"transport,omitempty"`
	Connected bool   `json:"connected"`
	Agents    int    `json:"agents"`
	Pending   int    `json:"pending"`
}
