// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package dispatch

import (
	"sort"
	"strings"

	"github.com/agentboard/agentboard-go/pkg/registry"
)

// Ranker scores candidates before the deterministic tie-break. Higher scores win; equal scores keep the registry's
// order.
type Ranker interface {
	Score(req Request, c registry.Candidate) int
}

// RankerFunc is a function based Ranker.
type RankerFunc func(req Request, c registry.Candidate) int

// Score calls f.
func (f RankerFunc) Score(req Request, c registry.Candidate) int {
	return f(req, c)
}

// KeywordRanker matches the request's words against an agent's manifest. Mentioning the agent's id scores five
// points; each word found in the description, capabilities or topics scores one.
type KeywordRanker struct{}

// Score a candidate.
func (KeywordRanker) Score(req Request, c registry.Candidate) (score int) {
	text := strings.ToLower(req.Content)

	if id := strings.ToLower(c.AgentID); id != "" && strings.Contains(text, id) {
		score += 5
	}

	parts := []string{c.Manifest.Description}
	parts = append(parts, c.Manifest.Capabilities...)
	parts = append(parts, c.Manifest.Topics...)
	combined := strings.ToLower(strings.Join(parts, " "))

	for _, token := range strings.Fields(text) {
		if strings.Contains(combined, token) {
			score++
		}
	}
	return
}

// rank orders candidates by their score. Without a Ranker, the order is kept.
func rank(r Ranker, req Request, cs []registry.Candidate) []registry.Candidate {
	if r == nil || len(cs) < 2 {
		return cs
	}

	scores := make(map[string]int, len(cs))
	for _, c := range cs {
		scores[c.AgentID] = r.Score(req, c)
	}

	ranked := make([]registry.Candidate, len(cs))
	copy(ranked, cs)
	sort.SliceStable(ranked, func(i, j int) bool { return scores[ranked[i].AgentID] > scores[ranked[j].AgentID] })
	return ranked
}
