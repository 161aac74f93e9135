// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/agentboard/agentboard-go/pkg/api"
	"github.com/agentboard/agentboard-go/pkg/config"
	"github.com/agentboard/agentboard-go/pkg/cron"
	"github.com/agentboard/agentboard-go/pkg/dispatch"
	"github.com/agentboard/agentboard-go/pkg/messenger"
	"github.com/agentboard/agentboard-go/pkg/registry"
	"github.com/agentboard/agentboard-go/pkg/storage"
)

// maintenanceInterval of the pruning jobs.
const maintenanceInterval = time.Hour

// daemon bundles everything started by orchestratord.
type daemon struct {
	ctx    context.Context
	cancel context.CancelFunc

	transport  *config.Transport
	messenger  *messenger.Messenger
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	journal    *storage.Store
	cron       *cron.Cron
	httpServer *http.Server

	profiling bool
}

// parseDaemon creates and starts the orchestrator based on the given TOML configuration.
func parseDaemon(filename string) (d *daemon, err error) {
	conf, err := config.Load(filename)
	if err != nil {
		return
	}

	conf.Logging.SetupLogging()

	if err = conf.ValidateAgent(); err != nil {
		return
	}

	d = &daemon{
		cron:      cron.NewCron(conf.Dispatcher.SweepInterval.Duration()),
		profiling: conf.Debug.Profile,
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	if err = d.start(conf); err != nil {
		d.Close()
		d = nil
	}
	return
}

func (d *daemon) start(conf config.Config) (err error) {
	// Transport and Messenger
	if d.transport, err = conf.BuildTransport(); err != nil {
		return
	}
	if len(d.transport.Stores) > 0 {
		_ = d.cron.Register("store_prune", func() { d.transport.Prune(d.ctx) }, maintenanceInterval)
	}

	d.messenger = conf.BuildMessenger(d.transport)
	if err = d.messenger.Start(d.ctx); err != nil {
		return
	}

	// Registry
	d.registry = conf.BuildRegistry()
	if n, refreshErr := d.registry.Refresh(d.ctx); refreshErr != nil {
		log.WithError(refreshErr).Warn("Initial registry refresh errored")
	} else {
		log.WithField("agents", n).Info("Loaded agent registry")
	}

	if conf.Registry.Watch {
		if err = d.registry.Watch(d.ctx, conf.Registry.Dir, conf.Registry.Debounce.Duration()); err != nil {
			return
		}
	}
	if interval := conf.Registry.RefreshInterval.Duration(); interval > 0 {
		if err = d.cron.Register("registry_refresh", d.refreshRegistry, interval); err != nil {
			return
		}
	}

	// Journal
	var journal dispatch.Journal
	if conf.Dispatcher.Journal != "" {
		if d.journal, err = storage.NewStore(conf.Dispatcher.Journal); err != nil {
			return
		}
		journal = d.journal

		if retention := conf.Dispatcher.JournalRetention.Duration(); retention > 0 {
			store := d.journal
			_ = d.cron.Register("journal_cleanup", func() {
				store.DeleteJournalBefore(time.Now().Add(-retention))
			}, maintenanceInterval)
		}
	}

	// Dispatcher
	opts, err := conf.DispatcherOptions(journal, d.cron)
	if err != nil {
		return
	}
	d.dispatcher = dispatch.New(d.messenger, d.registry, opts)
	if err = d.dispatcher.Start(d.ctx); err != nil {
		return
	}

	// REST API
	if conf.API.Listen != "" {
		router := mux.NewRouter()
		apiRouter := router.PathPrefix("/api").Subrouter()
		api.New(apiRouter, d.dispatcher, d.registry, d.messenger)

		d.httpServer = &http.Server{
			Addr:    conf.API.Listen,
			Handler: router,
		}
		go func() {
			if srvErr := d.httpServer.ListenAndServe(); srvErr != nil && !errors.Is(srvErr, http.ErrServerClosed) {
				log.WithError(srvErr).Fatal("REST API server errored")
			}
		}()
	}

	log.WithFields(log.Fields{
		"agent":  conf.Agent.ID,
		"api":    conf.API.Listen,
		"agents": d.registry.Len(),
		"jobs":   d.cron.Jobs(),
	}).Info("Started orchestrator")
	return
}

func (d *daemon) refreshRegistry() {
	if n, err := d.registry.Refresh(d.ctx); err != nil {
		log.WithError(err).Warn("Periodic registry refresh errored")
	} else {
		log.WithField("agents", n).Debug("Refreshed agent registry")
	}
}

// Close everything in the reverse order of its creation.
func (d *daemon) Close() {
	if d.httpServer != nil {
		_ = d.httpServer.Close()
	}
	if d.dispatcher != nil {
		d.dispatcher.Close()
	}
	d.cron.Stop()
	d.cancel()

	if d.messenger != nil {
		if err := d.messenger.Close(); err != nil {
			log.WithError(err).Warn("Closing messenger errored")
		}
	}
	if d.transport != nil {
		if err := d.transport.Close(); err != nil {
			log.WithError(err).Warn("Closing transport errored")
		}
	}
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			log.WithError(err).Warn("Closing journal errored")
		}
	}
}
