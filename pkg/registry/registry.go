// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package registry

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Entry is an agent's row in a Snapshot.
type Entry struct {
	Manifest Manifest  `json:"manifest"`
	LastSeen time.Time `json:"last_seen"`
}

// Candidate is an agent matching a set of requested capabilities or topics.
type Candidate struct {
	AgentID string
	// Overlap counts the requested keys declared by the agent.
	Overlap int
	// Capability reports if at least one key matched a capability, not only a topic.
	Capability bool
	LastSeen   time.Time
	Manifest   Manifest
}

// table is an immutable routing table.
type table struct {
	agents       map[string]Manifest
	ids          []string
	capabilities map[string][]string
	topics       map[string][]string
	built        time.Time
}

func emptyTable() *table {
	return &table{
		agents:       make(map[string]Manifest),
		capabilities: make(map[string][]string),
		topics:       make(map[string][]string),
	}
}

// Registry owns the routing table.
type Registry struct {
	source  Source
	exclude map[string]struct{}

	table        atomic.Pointer[table]
	refreshMutex sync.Mutex

	seenMutex sync.RWMutex
	lastSeen  map[string]time.Time
}

// New creates a Registry for a Source. The excluded agent ids, e.g. the dispatcher's own, are never routed to.
// The Registry is empty until the first Refresh.
func New(source Source, exclude ...string) *Registry {
	r := &Registry{
		source:   source,
		exclude:  make(map[string]struct{}, len(exclude)),
		lastSeen: make(map[string]time.Time),
	}
	for _, id := range exclude {
		r.exclude[id] = struct{}{}
	}

	r.table.Store(emptyTable())
	return r
}

// Refresh loads all Manifests and atomically replaces the routing table. It returns the number of routable agents.
func (r *Registry) Refresh(ctx context.Context) (int, error) {
	r.refreshMutex.Lock()
	defer r.refreshMutex.Unlock()

	ms, err := r.source.Manifests(ctx)
	if err != nil {
		log.WithError(err).Warn("Registry refresh failed, keeping the previous routing table")
		return len(r.table.Load().ids), err
	}

	t := emptyTable()
	t.built = time.Now()

	for _, m := range ms {
		logger := log.WithField("agent", m.AgentID)

		if err := m.Validate(); err != nil {
			logger.WithError(err).Warn("Registry skips invalid manifest")
			continue
		}
		if _, ok := r.exclude[m.AgentID]; ok {
			logger.Debug("Registry excludes agent")
			continue
		}
		if _, ok := t.agents[m.AgentID]; ok {
			logger.Warn("Registry skips duplicate agent id, the first manifest wins")
			continue
		}

		t.agents[m.AgentID] = m
		t.ids = append(t.ids, m.AgentID)

		for _, c := range m.Capabilities {
			t.capabilities[key(c)] = append(t.capabilities[key(c)], m.AgentID)
		}
		for _, topic := range m.Topics {
			t.topics[key(topic)] = append(t.topics[key(topic)], m.AgentID)
		}
	}
	sort.Strings(t.ids)

	r.table.Store(t)

	log.WithFields(log.Fields{
		"agents":       len(t.ids),
		"capabilities": len(t.capabilities),
		"topics":       len(t.topics),
	}).Info("Registry refreshed routing table")

	return len(t.ids), nil
}

// Touch records an agent's activity. Older timestamps are ignored.
func (r *Registry) Touch(agentID string, at time.Time) {
	r.seenMutex.Lock()
	defer r.seenMutex.Unlock()

	if at.After(r.lastSeen[agentID]) {
		r.lastSeen[agentID] = at
	}
}

// LastSeen returns an agent's latest recorded activity.
func (r *Registry) LastSeen(agentID string) time.Time {
	r.seenMutex.RLock()
	defer r.seenMutex.RUnlock()

	return r.lastSeen[agentID]
}

// Lookup an agent's Manifest.
func (r *Registry) Lookup(agentID string) (Manifest, bool) {
	m, ok := r.table.Load().agents[agentID]
	return m, ok
}

// Len returns the number of routable agents.
func (r *Registry) Len() int {
	return len(r.table.Load().ids)
}

// Snapshot lists all routable agents, ordered by their id.
func (r *Registry) Snapshot() []Entry {
	t := r.table.Load()

	entries := make([]Entry, len(t.ids))
	for i, id := range t.ids {
		entries[i] = Entry{Manifest: t.agents[id], LastSeen: r.LastSeen(id)}
	}
	return entries
}

// less orders Candidates by overlap, recent activity, specificity and finally their id.
func less(a, b Candidate) bool {
	if a.Overlap != b.Overlap {
		return a.Overlap > b.Overlap
	}
	if !a.LastSeen.Equal(b.LastSeen) {
		return a.LastSeen.After(b.LastSeen)
	}
	if la, lb := len(a.Manifest.Capabilities), len(b.Manifest.Capabilities); la != lb {
		return la < lb
	}
	return a.AgentID < b.AgentID
}

// FindCandidates returns the ids of all agents declaring a capability or topic. Agents declaring it as a capability
// precede those only listening on such a topic. Within both groups, recently active agents come first, followed by
// agents with fewer declared capabilities; the agent id breaks remaining ties.
func (r *Registry) FindCandidates(name string) []string {
	t := r.table.Load()
	k := key(name)

	group := func(ids []string, skip map[string]struct{}) []Candidate {
		var cs []Candidate
		for _, id := range ids {
			if _, ok := skip[id]; ok {
				continue
			}
			cs = append(cs, Candidate{AgentID: id, LastSeen: r.LastSeen(id), Manifest: t.agents[id]})
		}
		sort.Slice(cs, func(i, j int) bool { return less(cs[i], cs[j]) })
		return cs
	}

	byCapability := group(t.capabilities[k], nil)
	capable := make(map[string]struct{}, len(byCapability))
	for _, c := range byCapability {
		capable[c.AgentID] = struct{}{}
	}
	byTopic := group(t.topics[k], capable)

	ids := make([]string, 0, len(byCapability)+len(byTopic))
	for _, c := range append(byCapability, byTopic...) {
		ids = append(ids, c.AgentID)
	}
	return ids
}

// Candidates returns all agents declaring at least one of the requested capabilities or topics. Agents matching a
// capability come first; then the overlap with the request, recent activity, fewer declared capabilities and the
// agent id decide.
func (r *Registry) Candidates(names ...string) []Candidate {
	t := r.table.Load()

	found := make(map[string]*Candidate)
	requested := make(map[string]struct{}, len(names))

	for _, name := range names {
		k := key(name)
		if _, ok := requested[k]; ok || k == "" {
			continue
		}
		requested[k] = struct{}{}

		matched := make(map[string]bool)
		for _, id := range t.capabilities[k] {
			matched[id] = true
		}
		for _, id := range t.topics[k] {
			if _, ok := matched[id]; !ok {
				matched[id] = false
			}
		}

		for id, isCapability := range matched {
			c, ok := found[id]
			if !ok {
				c = &Candidate{AgentID: id, LastSeen: r.LastSeen(id), Manifest: t.agents[id]}
				found[id] = c
			}
			c.Overlap++
			c.Capability = c.Capability || isCapability
		}
	}

	cs := make([]Candidate, 0, len(found))
	for _, c := range found {
		cs = append(cs, *c)
	}
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Capability != cs[j].Capability {
			return cs[i].Capability
		}
		return less(cs[i], cs[j])
	})
	return cs
}
