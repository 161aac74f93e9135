// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package memorytest provides an in-process memory service speaking the API of transport.HTTPMemoryClient.
package memorytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/gorilla/mux"

	"github.com/agentboard/agentboard-go/pkg/transport"
)

// Server is a fake memory service. It can be switched into a failing mode to simulate an outage.
type Server struct {
	mutex   sync.Mutex
	entries []transport.MemoryEntry
	failing bool
	writes  int

	router *mux.Router
}

// NewServer creates a Server, which must be bound to an HTTP server or started by Start.
func NewServer() *Server {
	srv := &Server{router: mux.NewRouter()}

	srv.router.HandleFunc("/v1/health", srv.handleHealth).Methods(http.MethodGet)
	srv.router.HandleFunc("/v1/entries", srv.handleWrite).Methods(http.MethodPost)
	srv.router.HandleFunc("/v1/entries", srv.handleSince).Methods(http.MethodGet)
	srv.router.HandleFunc("/v1/entries/latest", srv.handleLatest).Methods(http.MethodGet)

	return srv
}

// Start the Server on a local port. The returned httptest.Server must be closed.
func Start() (*Server, *httptest.Server) {
	srv := NewServer()
	return srv, httptest.NewServer(srv)
}

// ServeHTTP implements http.Handler.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	srv.mutex.Lock()
	failing := srv.failing
	srv.mutex.Unlock()

	if failing {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	srv.router.ServeHTTP(w, r)
}

// SetFailing toggles the simulated outage.
func (srv *Server) SetFailing(failing bool) {
	srv.mutex.Lock()
	defer srv.mutex.Unlock()

	srv.failing = failing
}

// Entries returns a copy of all stored entries.
func (srv *Server) Entries() []transport.MemoryEntry {
	srv.mutex.Lock()
	defer srv.mutex.Unlock()

	entries := make([]transport.MemoryEntry, len(srv.entries))
	copy(entries, srv.entries)
	return entries
}

// Writes counts all accepted writes, including duplicates.
func (srv *Server) Writes() int {
	srv.mutex.Lock()
	defer srv.mutex.Unlock()

	return srv.writes
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (srv *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (srv *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var entry transport.MemoryEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	srv.mutex.Lock()
	srv.writes++
	entry.Cursor = int64(len(srv.entries) + 1)
	srv.entries = append(srv.entries, entry)
	srv.mutex.Unlock()

	writeJSON(w, entry)
}

func queryInt(r *http.Request, key string, def int64) int64 {
	if v, err := strconv.ParseInt(r.URL.Query().Get(key), 10, 64); err == nil {
		return v
	}
	return def
}

func hasTopic(entry transport.MemoryEntry, topic string) bool {
	return len(entry.Tags) > 0 && entry.Tags[0] == topic
}

func (srv *Server) handleSince(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	after := queryInt(r, "after", 0)
	limit := int(queryInt(r, "limit", 100))

	srv.mutex.Lock()
	entries := []transport.MemoryEntry{}
	for _, entry := range srv.entries {
		if entry.Cursor > after && hasTopic(entry, topic) && len(entries) < limit {
			entries = append(entries, entry)
		}
	}
	srv.mutex.Unlock()

	writeJSON(w, entries)
}

func (srv *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	limit := int(queryInt(r, "limit", 10))

	srv.mutex.Lock()
	var matching []transport.MemoryEntry
	for _, entry := range srv.entries {
		if hasTopic(entry, topic) {
			matching = append(matching, entry)
		}
	}
	srv.mutex.Unlock()

	if len(matching) > limit {
		matching = matching[len(matching)-limit:]
	}
	if matching == nil {
		matching = []transport.MemoryEntry{}
	}
	writeJSON(w, matching)
}
