// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentboard/agentboard-go/pkg/registry"
)

func TestKeywordRanker(t *testing.T) {
	coder := registry.Candidate{AgentID: "coder", Manifest: registry.Manifest{
		AgentID:      "coder",
		Description:  "Writes and reviews Go code",
		Capabilities: []string{"generate_code"},
		Topics:       []string{"code"},
	}}
	writer := registry.Candidate{AgentID: "writer", Manifest: registry.Manifest{
		AgentID:     "writer",
		Description: "Writes documentation",
	}}

	req := Request{Content: "Please ask Coder to review my code"}
	assert.Equal(t, 5+2, KeywordRanker{}.Score(req, coder))
	assert.Equal(t, 0, KeywordRanker{}.Score(req, writer))
}

func TestRankKeepsOrderOnTies(t *testing.T) {
	cs := []registry.Candidate{{AgentID: "a"}, {AgentID: "b"}, {AgentID: "c"}}

	assert.Equal(t, cs, rank(nil, Request{}, cs))

	favorC := RankerFunc(func(_ Request, c registry.Candidate) int {
		if c.AgentID == "c" {
			return 1
		}
		return 0
	})
	ranked := rank(favorC, Request{}, cs)
	assert.Equal(t, []string{"c", "a", "b"}, []string{ranked[0].AgentID, ranked[1].AgentID, ranked[2].AgentID})
}
