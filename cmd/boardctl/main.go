// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// boardctl is an operator tool to send and read Envelopes, to list agents and to ping them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agentboard/agentboard-go/pkg/config"
	"github.com/agentboard/agentboard-go/pkg/messenger"
)

var (
	configFile  string
	agentID     string
	boardURL    string
	memoryURL   string
	memoryKey   string
	mailboxPath string
	apiURL      string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "boardctl",
	Short: "Operate an agent board",
	Long: `boardctl joins an agent board to send or read Envelopes and talks to the REST API of an orchestrator.

The transport is either taken from a TOML configuration (--config) or assembled from the
--board, --memory and --mailbox flags, in this priority order.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.DebugLevel)
		} else {
			log.SetLevel(log.WarnLevel)
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "TOML configuration providing agent and transport")
	flags.StringVar(&agentID, "agent", "", "agent id, defaults to a random boardctl id")
	flags.StringVar(&boardURL, "board", "", "WebSocket URL of a board, e.g., ws://localhost:35039/ws")
	flags.StringVar(&memoryURL, "memory", "", "base URL of a memory service")
	flags.StringVar(&memoryKey, "memory-key", "", "API key of the memory service")
	flags.StringVar(&mailboxPath, "mailbox", "", "path of a shared mailbox file")
	flags.StringVar(&apiURL, "api", "http://localhost:8080/api", "REST API of an orchestrator")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log debug messages")
}

// transportConfig assembles the configuration from the flags.
func transportConfig() (conf config.Config, err error) {
	if configFile != "" {
		if conf, err = config.Load(configFile); err != nil {
			return
		}
	} else {
		conf = config.Default()
		if boardURL != "" {
			conf.Transport.Adapters = append(conf.Transport.Adapters, config.AdapterConf{Kind: "socket", URL: boardURL})
		}
		if memoryURL != "" {
			conf.Transport.Adapters = append(conf.Transport.Adapters,
				config.AdapterConf{Kind: "memory", URL: memoryURL, APIKey: memoryKey, PollInterval: config.Duration(config.DefaultPollInterval)})
		}
		if mailboxPath != "" {
			conf.Transport.Adapters = append(conf.Transport.Adapters,
				config.AdapterConf{Kind: "store", Path: mailboxPath, PollInterval: config.Duration(config.DefaultPollInterval)})
		}
	}

	if agentID != "" {
		conf.Agent.ID = agentID
	} else if conf.Agent.ID == "" {
		conf.Agent.ID = "boardctl-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
	}

	err = conf.ValidateAgent()
	return
}

// connect starts a Messenger. The returned function closes it.
func connect(ctx context.Context) (*messenger.Messenger, func(), error) {
	conf, err := transportConfig()
	if err != nil {
		return nil, nil, err
	}

	t, err := conf.BuildTransport()
	if err != nil {
		return nil, nil, err
	}

	m := conf.BuildMessenger(t)
	if err := m.Start(ctx); err != nil {
		_ = t.Close()
		return nil, nil, err
	}

	if kind, ok := m.Transport(); ok {
		log.WithFields(log.Fields{
			"agent":     m.AgentID(),
			"transport": kind,
		}).Info("Connected")
	}

	return m, func() {
		_ = m.Close()
		_ = t.Close()
	}, nil
}

// interruptible returns a context, cancelled on SIGINT.
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
