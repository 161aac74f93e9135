// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/agentboard/agentboard-go/pkg/board"
	"github.com/agentboard/agentboard-go/pkg/config"
	"github.com/agentboard/agentboard-go/pkg/cron"
	"github.com/agentboard/agentboard-go/pkg/discovery"
	"github.com/agentboard/agentboard-go/pkg/storage"
)

// daemon bundles everything started by boardd.
type daemon struct {
	board      *board.Board
	httpServer *http.Server
	store      *storage.Store
	discovery  *discovery.Manager
	cron       *cron.Cron

	profiling bool
}

// parseDaemon creates and starts the board server based on the given TOML configuration.
func parseDaemon(filename string) (d *daemon, err error) {
	conf, err := config.Load(filename)
	if err != nil {
		return
	}

	conf.Logging.SetupLogging()

	if err = conf.ValidateBoard(); err != nil {
		return
	}

	d = &daemon{
		cron:      cron.NewCron(time.Minute),
		profiling: conf.Debug.Profile,
	}

	var history board.History
	if conf.Board.Store != "" {
		if d.store, err = storage.NewStore(conf.Board.Store); err != nil {
			d.Close()
			d = nil
			return
		}
		history = d.store

		if retention := conf.Board.Retention.Duration(); retention > 0 {
			store := d.store
			_ = d.cron.Register("history_cleanup", func() {
				store.DeleteHistoryBefore(time.Now().Add(-retention))
			}, time.Hour)
		}
	}

	d.board = board.New(conf.BoardOptions(history))

	router := mux.NewRouter()
	router.Handle(conf.Board.Path, d.board)
	router.HandleFunc("/status", d.handleStatus).Methods(http.MethodGet)

	d.httpServer = &http.Server{
		Addr:    conf.Board.Listen,
		Handler: router,
	}
	go func() {
		if srvErr := d.httpServer.ListenAndServe(); srvErr != nil && !errors.Is(srvErr, http.ErrServerClosed) {
			log.WithError(srvErr).Fatal("Board HTTP server errored")
		}
	}()

	log.WithFields(log.Fields{
		"listen":  conf.Board.Listen,
		"path":    conf.Board.Path,
		"history": conf.Board.HistoryDepth,
		"store":   conf.Board.Store,
	}).Info("Started board server")

	if d.discovery, err = conf.StartDiscovery(); err != nil {
		d.Close()
		d = nil
	}
	return
}

type statusResponse struct {
	Agents []string            `json:"agents"`
	Topics map[string][]string `json:"topics"`
}

// handleStatus processes /status GET requests.
func (d *daemon) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	resp := statusResponse{Agents: d.board.Agents(), Topics: d.board.Topics()}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.WithError(err).Warn("Failed to write status response")
	}
}

// Close everything in the reverse order of its creation.
func (d *daemon) Close() {
	if d.discovery != nil {
		d.discovery.Close()
	}
	if d.httpServer != nil {
		_ = d.httpServer.Close()
	}
	if d.board != nil {
		d.board.Close()
	}
	d.cron.Stop()
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			log.WithError(err).Warn("Closing history store errored")
		}
	}
}
