// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agentboard/agentboard-go/pkg/agent"
	"github.com/agentboard/agentboard-go/pkg/registry"
)

var servePingCmd = &cobra.Command{
	Use:   "serve-ping <manifest>",
	Short: "Host a ping agent, answering every task with pong",
	Long: `Host a ping agent described by a JSON or YAML manifest until interrupted. The agent id of the
manifest is used as this process' agent id, overriding --agent.`,
	Args: cobra.ExactArgs(1),
	RunE: runServePing,
}

func init() {
	rootCmd.AddCommand(servePingCmd)
}

func runServePing(_ *cobra.Command, args []string) error {
	manifest, err := registry.LoadManifest(args[0])
	if err != nil {
		return err
	}
	agentID = manifest.AgentID

	ctx, cancel := interruptible()
	defer cancel()

	m, closeFn, err := connect(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	rt, err := agent.NewRuntime(m, manifest, agent.PingAgent{}, agent.DefaultRuntimeOptions)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"agent":  manifest.AgentID,
		"topics": manifest.Topics,
	}).Warn("Serving ping agent, interrupt to stop")

	if err := rt.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serving %s: %w", manifest.AgentID, err)
	}
	return nil
}
