// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"path"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/agentboard/agentboard-go/pkg/board"
	"github.com/agentboard/agentboard-go/pkg/cron"
	"github.com/agentboard/agentboard-go/pkg/discovery"
	"github.com/agentboard/agentboard-go/pkg/dispatch"
	"github.com/agentboard/agentboard-go/pkg/messenger"
	"github.com/agentboard/agentboard-go/pkg/registry"
	"github.com/agentboard/agentboard-go/pkg/transport"
)

var rankers = map[string]dispatch.Ranker{
	"":        nil,
	"none":    nil,
	"keyword": dispatch.KeywordRanker{},
}

// Transport bundles the configured Selector with the resources it depends on.
type Transport struct {
	Selector *transport.Selector

	// Stores are the durable store adapters, to be pruned periodically.
	Stores []*transport.StoreAdapter

	// PruneAfter is the maximum age of Envelopes in the Stores; zero disables pruning.
	PruneAfter []Duration

	discovery *discovery.Manager
	closeOnce sync.Once
}

// Prune all durable stores with a configured prune-after.
func (t *Transport) Prune(ctx context.Context) {
	for i, store := range t.Stores {
		if t.PruneAfter[i] <= 0 {
			continue
		}

		if err := store.Prune(ctx, t.PruneAfter[i].Duration()); err != nil {
			log.WithError(err).WithField("store", store.Address()).Warn("Failed to prune durable store")
		}
	}
}

// Close the Selector, and thereby all adapters, and stop a started discovery.
func (t *Transport) Close() (err error) {
	t.closeOnce.Do(func() {
		err = t.Selector.Close()
		if t.discovery != nil {
			t.discovery.Close()
		}
	})
	return
}

// BuildTransport creates all adapters in their configured order and the Selector over them.
func (conf Config) BuildTransport() (t *Transport, err error) {
	t = &Transport{}

	var adapters []transport.Adapter
	for i, ac := range conf.Transport.Adapters {
		kind, kindErr := transport.ParseKind(ac.Kind)
		if kindErr != nil {
			err = fmt.Errorf("transport.adapter[%d]: %w", i, kindErr)
			break
		}

		pollOpts := transport.PollOptions{
			Interval:    ac.PollInterval.Duration(),
			Batch:       ac.Batch,
			MaxFailures: ac.MaxFailures,
		}

		switch kind {
		case transport.SocketChannel:
			socketOpts := transport.SocketOptions{AckTimeout: conf.Transport.AckTimeout.Duration()}
			if ac.URL == "" && ac.Discover {
				if t.discovery == nil {
					if t.discovery, err = discovery.NewManager(nil, conf.Discovery.Interval.Duration(),
						conf.Discovery.IPv4, conf.Discovery.IPv6); err != nil {
						err = fmt.Errorf("transport.adapter[%d]: starting discovery failed: %w", i, err)
						break
					}
				}
				socketOpts.Lookup = t.discovery.Lookup
			}
			adapters = append(adapters, transport.NewSocketAdapter(ac.URL, conf.Agent.ID, socketOpts))

		case transport.MemoryService:
			client := transport.NewHTTPMemoryClient(ac.URL, ac.APIKey)
			adapters = append(adapters, transport.NewMemoryAdapter(client, ac.URL, pollOpts))

		case transport.DurableStore:
			store := transport.NewStoreAdapter(ac.Path, pollOpts)
			adapters = append(adapters, store)
			t.Stores = append(t.Stores, store)
			t.PruneAfter = append(t.PruneAfter, ac.PruneAfter)
		}

		if err != nil {
			break
		}
	}

	if err != nil {
		if t.discovery != nil {
			t.discovery.Close()
		}
		t = nil
		return
	}

	log.WithFields(log.Fields{
		"agent":    conf.Agent.ID,
		"adapters": adapters,
	}).Info("Configured transport adapters")

	t.Selector = transport.NewSelector(adapters, transport.SelectorOptions{
		ProbeTimeout:       conf.Transport.ProbeTimeout.Duration(),
		RecoverInterval:    conf.Transport.RecoverInterval.Duration(),
		RecoverMaxInterval: conf.Transport.RecoverMaxInterval.Duration(),
	})
	return
}

// BuildMessenger creates a Messenger for this agent, which must be started afterwards.
func (conf Config) BuildMessenger(t *Transport) *messenger.Messenger {
	return messenger.New(t.Selector, conf.Agent.ID, messenger.Options{
		HistoryDepth: conf.Messenger.HistoryDepth,
		DedupWindow:  conf.Messenger.DedupWindow,
		SendQueue:    conf.Messenger.SendQueue,
	})
}

// BuildRegistry creates a Registry over the configured manifest directory. The own agent is always excluded.
func (conf Config) BuildRegistry() *registry.Registry {
	var source registry.Source = registry.StaticSource(nil)
	if conf.Registry.Dir != "" {
		source = registry.DirSource{Root: conf.Registry.Dir}
	}

	exclude := append([]string{conf.Agent.ID}, conf.Registry.Exclude...)
	return registry.New(source, exclude...)
}

// DispatcherOptions derives the dispatch.Options. The journal and cron are optional.
func (conf Config) DispatcherOptions(journal dispatch.Journal, c *cron.Cron) (opts dispatch.Options, err error) {
	ranker, ok := rankers[conf.Dispatcher.Ranker]
	if !ok {
		err = fmt.Errorf("dispatcher.ranker: unknown ranker %q", conf.Dispatcher.Ranker)
		return
	}

	opts = dispatch.Options{
		ReplyTopic:    conf.Dispatcher.ReplyTopic,
		InboxTopic:    conf.Dispatcher.InboxTopic,
		Timeout:       conf.Dispatcher.Timeout.Duration(),
		RetryLimit:    conf.Dispatcher.RetryLimit,
		SweepInterval: conf.Dispatcher.SweepInterval.Duration(),
		GracePeriod:   conf.Dispatcher.GracePeriod.Duration(),
		Ranker:        ranker,
		RefreshOnMiss: conf.Dispatcher.RefreshOnMiss,
		Journal:       journal,
		Cron:          c,
	}
	return
}

// BoardOptions derives the board.Options for a given History backend, which might be nil.
func (conf Config) BoardOptions(history board.History) board.Options {
	return board.Options{
		HistoryDepth: conf.Board.HistoryDepth,
		ReplayLimit:  conf.Board.ReplayLimit,
		OutboxSize:   conf.Board.OutboxSize,
		History:      history,
	}
}

// Announcement of the board server for the LAN discovery.
func (conf Config) Announcement() (discovery.Announcement, error) {
	port, err := listenPort(conf.Board.Listen)
	if err != nil {
		return discovery.Announcement{}, err
	}

	return discovery.Announcement{
		Node: conf.Board.Node,
		Port: port,
		Path: path.Clean("/" + conf.Board.Path),
	}, nil
}

// StartDiscovery announces this board, if enabled. The returned Manager is nil otherwise.
func (conf Config) StartDiscovery() (*discovery.Manager, error) {
	if !conf.Board.Announce {
		return nil, nil
	}

	announcement, err := conf.Announcement()
	if err != nil {
		return nil, fmt.Errorf("board.listen: %w", err)
	}

	return discovery.NewManager([]discovery.Announcement{announcement}, conf.Discovery.Interval.Duration(),
		conf.Discovery.IPv4, conf.Discovery.IPv6)
}
