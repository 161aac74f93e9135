// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"fmt"
	"net"
	"strconv"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/agentboard/agentboard-go/pkg/transport"
)

// Validate checks the values used by every daemon. All problems are reported together.
func (conf Config) Validate() error {
	var errs *multierror.Error

	if conf.Logging.Level != "" {
		if _, err := log.ParseLevel(conf.Logging.Level); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("logging.level: %w", err))
		}
	}
	switch conf.Logging.Format {
	case "", "text", "json":
	default:
		errs = multierror.Append(errs, fmt.Errorf("logging.format: unknown format %q", conf.Logging.Format))
	}

	if conf.Transport.ProbeTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("transport.probe-timeout must be positive"))
	}
	if conf.Transport.AckTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("transport.ack-timeout must be positive"))
	}
	if conf.Transport.RecoverInterval <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("transport.recover-interval must be positive"))
	} else if conf.Transport.RecoverMaxInterval < conf.Transport.RecoverInterval {
		errs = multierror.Append(errs, fmt.Errorf("transport.recover-max-interval must not be below recover-interval"))
	}

	for i, ac := range conf.Transport.Adapters {
		if err := ac.validate(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("transport.adapter[%d]: %w", i, err))
		}
	}

	if conf.Messenger.HistoryDepth <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("messenger.history-depth must be positive"))
	}

	if conf.Dispatcher.Timeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("dispatcher.timeout must be positive"))
	}
	if conf.Dispatcher.RetryLimit < 0 {
		errs = multierror.Append(errs, fmt.Errorf("dispatcher.retry-limit must not be negative"))
	}
	if conf.Dispatcher.SweepInterval <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("dispatcher.sweep-interval must be positive"))
	}
	if _, ok := rankers[conf.Dispatcher.Ranker]; !ok {
		errs = multierror.Append(errs, fmt.Errorf("dispatcher.ranker: unknown ranker %q", conf.Dispatcher.Ranker))
	}

	if conf.Registry.Watch && conf.Registry.Dir == "" {
		errs = multierror.Append(errs, fmt.Errorf("registry.watch requires registry.dir"))
	}

	if conf.Board.Announce && !conf.Discovery.IPv4 && !conf.Discovery.IPv6 {
		errs = multierror.Append(errs, fmt.Errorf("board.announce requires discovery.ipv4 or discovery.ipv6"))
	}

	return errs.ErrorOrNil()
}

// ValidateAgent additionally checks the values of a process joining the board as an agent.
func (conf Config) ValidateAgent() error {
	var errs *multierror.Error

	if err := conf.Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if conf.Agent.ID == "" {
		errs = multierror.Append(errs, fmt.Errorf("agent.id is empty"))
	}
	if len(conf.Transport.Adapters) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("no transport.adapter is configured"))
	}

	return errs.ErrorOrNil()
}

// ValidateBoard additionally checks the values of a board server.
func (conf Config) ValidateBoard() error {
	var errs *multierror.Error

	if err := conf.Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if conf.Board.Listen == "" {
		errs = multierror.Append(errs, fmt.Errorf("board.listen is empty"))
	} else if _, err := listenPort(conf.Board.Listen); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("board.listen: %w", err))
	}
	if conf.Board.HistoryDepth <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("board.history-depth must be positive"))
	}

	return errs.ErrorOrNil()
}

func (ac AdapterConf) validate() error {
	kind, err := transport.ParseKind(ac.Kind)
	if err != nil {
		return err
	}

	switch kind {
	case transport.SocketChannel:
		if ac.URL == "" && !ac.Discover {
			return fmt.Errorf("%v needs an url or discover", kind)
		}

	case transport.MemoryService:
		if ac.URL == "" {
			return fmt.Errorf("%v needs an url", kind)
		}

	case transport.DurableStore:
		if ac.Path == "" {
			return fmt.Errorf("%v needs a path", kind)
		}
	}

	if ac.Batch < 0 || ac.MaxFailures < 0 {
		return fmt.Errorf("batch and max-failures must not be negative")
	}
	return nil
}

func listenPort(endpoint string) (port uint, err error) {
	_, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return
	}

	var p int
	if p, err = strconv.Atoi(portStr); err != nil {
		return
	} else if p <= 0 || p > 65535 {
		err = fmt.Errorf("invalid port %d", p)
		return
	}
	port = uint(p)
	return
}
