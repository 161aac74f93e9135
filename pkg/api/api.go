// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package api provides a RESTful interface to submit requests to a Dispatcher and to inspect its Delegations and
// the known agents.
//
//	POST   /dispatch              submit a DispatchRequest, optionally waiting for its result
//	GET    /delegations           list Delegations, ?pending=true for the active ones only,
//	                              ?state=completed for the journaled ones in a terminal state
//	GET    /delegations/{id}      a Delegation's Status
//	DELETE /delegations/{id}      cancel a Delegation
//	GET    /agents                the Registry's current table
//	POST   /agents/refresh        reload all manifests
//	GET    /status                this node's transport
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/agentboard/agentboard-go/pkg/dispatch"
	"github.com/agentboard/agentboard-go/pkg/registry"
	"github.com/agentboard/agentboard-go/pkg/transport"
)

// Node reports this process' agent ID and its current transport. A Messenger is a Node.
type Node interface {
	AgentID() string
	Transport() (transport.Kind, bool)
}

// DefaultWait bounds waiting DispatchRequests without their own timeout.
const DefaultWait = time.Minute

// API serves the REST interface of a Dispatcher.
type API struct {
	router     *mux.Router
	dispatcher *dispatch.Dispatcher
	registry   *registry.Registry
	node       Node
}

// New creates an API and registers its routes on the router.
func New(router *mux.Router, d *dispatch.Dispatcher, r *registry.Registry, node Node) (api *API) {
	api = &API{
		router:     router,
		dispatcher: d,
		registry:   r,
		node:       node,
	}

	api.router.HandleFunc("/dispatch", api.handleDispatch).Methods(http.MethodPost)
	api.router.HandleFunc("/delegations", api.handleDelegations).Methods(http.MethodGet)
	api.router.HandleFunc("/delegations/{id}", api.handleDelegation).Methods(http.MethodGet)
	api.router.HandleFunc("/delegations/{id}", api.handleCancel).Methods(http.MethodDelete)
	api.router.HandleFunc("/agents", api.handleAgents).Methods(http.MethodGet)
	api.router.HandleFunc("/agents/refresh", api.handleRefresh).Methods(http.MethodPost)
	api.router.HandleFunc("/status", api.handleStatus).Methods(http.MethodGet)

	return api
}

// ServeHTTP is a http.Handler to be bound to a HTTP endpoint, e.g., /api.
func (api *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	api.router.ServeHTTP(w, r)
}

// statusCode maps the dispatch errors to HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrNoAgentFound), errors.Is(err, dispatch.ErrUnknownDelegation):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrDelegationTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, dispatch.ErrAlreadyTerminal), errors.Is(err, dispatch.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrAgentFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write REST response")
	}
}

func writeError(w http.ResponseWriter, code int, err error, status *dispatch.Status) {
	writeJSON(w, code, ErrorResponse{Error: err.Error(), Delegation: status})
}

// handleDispatch processes /dispatch POST requests.
func (api *API) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var dispatchRequest DispatchRequest
	if jsonErr := json.NewDecoder(r.Body).Decode(&dispatchRequest); jsonErr != nil {
		writeError(w, http.StatusBadRequest, jsonErr, nil)
		return
	}

	wait, waitErr := dispatchRequest.wait()
	if waitErr != nil {
		writeError(w, http.StatusBadRequest, waitErr, nil)
		return
	}
	if dispatchRequest.Content == "" {
		writeError(w, http.StatusBadRequest, errors.New("content is empty"), nil)
		return
	}

	logger := log.WithFields(log.Fields{
		"requester":    dispatchRequest.Requester,
		"capabilities": dispatchRequest.Capabilities,
		"topic":        dispatchRequest.Topic,
		"wait":         wait,
	})

	dl, err := api.dispatcher.Submit(r.Context(), dispatchRequest.Request)
	if dl == nil {
		logger.WithError(err).Warn("Failed to submit REST request")
		writeError(w, statusCode(err), err, nil)
		return
	}

	logger = logger.WithField("delegation", dl.ID())
	if err != nil {
		status := dl.Status()
		logger.WithError(err).Info("REST request was not delegated")
		writeError(w, statusCode(err), err, &status)
		return
	}

	logger.Info("Processing REST request")

	if wait <= 0 {
		writeJSON(w, http.StatusAccepted, dl.Status())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()

	res, waitErr := dl.Wait(ctx)
	status := dl.Status()
	switch {
	case waitErr != nil:
		// The Delegation continues; its result can be queried later.
		writeJSON(w, http.StatusAccepted, status)
	case res.Err != nil:
		writeError(w, statusCode(res.Err), res.Err, &status)
	default:
		writeJSON(w, http.StatusOK, status)
	}
}

// handleDelegations processes /delegations GET requests.
func (api *API) handleDelegations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if name := query.Get("state"); name != "" {
		var state dispatch.State
		if err := state.UnmarshalText([]byte(name)); err != nil {
			writeError(w, http.StatusBadRequest, err, nil)
			return
		} else if !state.Terminal() {
			writeError(w, http.StatusBadRequest, fmt.Errorf("state %v is not terminal", state), nil)
			return
		}

		if ss, err := api.dispatcher.Journaled(state); err != nil {
			log.WithError(err).WithField("state", state).Warn("Querying the delegation journal errored")
			writeError(w, http.StatusInternalServerError, err, nil)
		} else {
			writeJSON(w, http.StatusOK, ss)
		}
		return
	}

	if query.Get("pending") == "true" {
		writeJSON(w, http.StatusOK, api.dispatcher.Pending())
	} else {
		writeJSON(w, http.StatusOK, api.dispatcher.Delegations())
	}
}

// handleDelegation processes /delegations/{id} GET requests.
func (api *API) handleDelegation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if status, ok := api.dispatcher.Get(id); !ok {
		writeError(w, http.StatusNotFound, dispatch.ErrUnknownDelegation, nil)
	} else {
		writeJSON(w, http.StatusOK, status)
	}
}

// handleCancel processes /delegations/{id} DELETE requests.
func (api *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	logger := log.WithField("delegation", id)

	if _, err := api.dispatcher.Cancel(id); err != nil {
		logger.WithError(err).Info("Failed to cancel delegation by REST")

		var status *dispatch.Status
		if s, ok := api.dispatcher.Get(id); ok {
			status = &s
		}
		writeError(w, statusCode(err), err, status)
		return
	}

	logger.Info("Cancelled delegation by REST")
	status, _ := api.dispatcher.Get(id)
	writeJSON(w, http.StatusOK, status)
}

// handleAgents processes /agents GET requests.
func (api *API) handleAgents(w http.ResponseWriter, _ *http.Request) {
	entries := api.registry.Snapshot()
	agents := make([]AgentResponse, len(entries))
	for i, entry := range entries {
		agents[i] = newAgentResponse(entry)
	}
	writeJSON(w, http.StatusOK, agents)
}

// handleRefresh processes /agents/refresh POST requests.
func (api *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if n, err := api.registry.Refresh(r.Context()); err != nil {
		log.WithError(err).Warn("Registry refresh by REST failed")
		writeError(w, http.StatusInternalServerError, err, nil)
	} else {
		writeJSON(w, http.StatusOK, RefreshResponse{Agents: n})
	}
}

// handleStatus processes /status GET requests.
func (api *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		AgentID: api.node.AgentID(),
		Agents:  api.registry.Len(),
		Pending: len(api.dispatcher.Pending()),
	}
	if kind, ok := api.node.Transport(); ok {
		resp.Transport = kind.String()
		resp.Connected = true
	}
	writeJSON(w, http.StatusOK, resp)
}
