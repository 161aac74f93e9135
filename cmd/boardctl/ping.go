// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentboard/agentboard-go/pkg/agent"
	"github.com/agentboard/agentboard-go/pkg/envelope"
	"github.com/agentboard/agentboard-go/pkg/messenger"
	"github.com/agentboard/agentboard-go/pkg/transport"
)

var (
	pingTopic   string
	pingCount   int
	pingTimeout time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping-agent <agent-id>",
	Short: "Delegate ping tasks directly to an agent and measure the round trip",
	Args:  cobra.ExactArgs(1),
	RunE:  runPing,
}

var pingBoardCmd = &cobra.Command{
	Use:   "ping-board",
	Short: "Join the board given by --board and measure its round trip",
	Args:  cobra.NoArgs,
	RunE:  runPingBoard,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(pingBoardCmd)

	pingCmd.Flags().StringVar(&pingTopic, "topic", "", "topic the agent listens on, defaults to its id")
	for _, cmd := range []*cobra.Command{pingCmd, pingBoardCmd} {
		cmd.Flags().IntVarP(&pingCount, "count", "n", 3, "number of pings")
		cmd.Flags().DurationVar(&pingTimeout, "timeout", 10*time.Second, "maximum wait per ping")
	}
}

func runPingBoard(cmd *cobra.Command, _ []string) error {
	if boardURL == "" {
		return fmt.Errorf("ping-board requires --board")
	}

	conf, err := transportConfig()
	if err != nil {
		return err
	}

	ctx, cancel := interruptible()
	defer cancel()

	sa := transport.NewSocketAdapter(boardURL, conf.Agent.ID, transport.SocketOptions{AckTimeout: pingTimeout})
	if err := sa.Connect(ctx); err != nil {
		return err
	}
	defer sa.Close()

	var lost int
	for i := 0; i < pingCount; i++ {
		if rtt, err := sa.Ping(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", boardURL, err)
			lost++
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: pong after %v\n", boardURL, rtt.Truncate(time.Microsecond))
		}
	}

	if lost > 0 {
		return fmt.Errorf("%d of %d pings were lost", lost, pingCount)
	}
	return nil
}

func runPing(cmd *cobra.Command, args []string) error {
	target := args[0]
	topic := pingTopic
	if topic == "" {
		topic = target
	}

	ctx, cancel := interruptible()
	defer cancel()

	m, closeFn, err := connect(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	replies := messenger.NewQueueSink(16)
	sub, err := m.Subscribe(ctx, m.AgentID(), m.AgentID(), replies)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	var lost int
	for i := 0; i < pingCount; i++ {
		taskID := envelope.NewID()
		content, err := agent.EncodeTask(agent.Task{ID: taskID, TargetAgent: target, Description: "ping"})
		if err != nil {
			return err
		}

		e := envelope.New(topic, m.AgentID(), content,
			envelope.To(target),
			envelope.CorrelatedWith(taskID),
			envelope.WithMetadata(envelope.MetaReplyTo, m.AgentID()),
			envelope.WithMetadata(envelope.MetaKind, agent.KindTask))

		start := time.Now()
		if _, err := m.Send(ctx, e); err != nil {
			return err
		}

		timeout := time.NewTimer(pingTimeout)
	wait:
		for {
			select {
			case <-ctx.Done():
				timeout.Stop()
				return nil

			case <-timeout.C:
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no reply within %v\n", target, pingTimeout)
				lost++
				break wait

			case reply, ok := <-replies.C():
				if !ok {
					timeout.Stop()
					return fmt.Errorf("subscription closed")
				}
				if reply.CorrelationID != taskID || reply.From != target {
					continue
				}

				switch kind := reply.Meta(envelope.MetaKind); kind {
				case agent.KindAck:
					fmt.Fprintf(cmd.OutOrStdout(), "%s: ack after %v\n", target, time.Since(start).Truncate(time.Microsecond))
				case agent.KindResult, agent.KindError:
					timeout.Stop()
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %q after %v\n", target, kind, reply.Content,
						time.Since(start).Truncate(time.Microsecond))
					break wait
				}
			}
		}
	}

	if lost > 0 {
		return fmt.Errorf("%d of %d pings were lost", lost, pingCount)
	}
	return nil
}
