// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentboard/agentboard-go/pkg/envelope"
	"github.com/agentboard/agentboard-go/pkg/messenger"
)

var (
	sendTo       string
	sendPriority string
	sendReplyTo  string
	catJSON      bool
	catFollow    bool
)

var sendCmd = &cobra.Command{
	Use:   "send <topic> [content|-]",
	Short: "Publish an Envelope on a topic",
	Long:  `Publish an Envelope on a topic. Without content or with "-", the content is read from stdin.`,
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSend,
}

var catCmd = &cobra.Command{
	Use:   "cat <topic>",
	Short: "Print a topic's history and, with --follow, new Envelopes",
	Args:  cobra.ExactArgs(1),
	RunE:  runCat,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(catCmd)

	sendCmd.Flags().StringVar(&sendTo, "to", envelope.Broadcast, "receiving agent")
	sendCmd.Flags().StringVar(&sendPriority, "priority", "normal", "advisory priority")
	sendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "topic for replies")

	catCmd.Flags().BoolVar(&catJSON, "json", false, "print Envelopes as JSON lines")
	catCmd.Flags().BoolVarP(&catFollow, "follow", "f", false, "wait for new Envelopes until interrupted")
}

func runSend(cmd *cobra.Command, args []string) error {
	topic := args[0]

	var content string
	if len(args) == 1 || args[1] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		content = string(data)
	} else {
		content = args[1]
	}

	priority, err := envelope.ParsePriority(sendPriority)
	if err != nil {
		return err
	}

	ctx, cancel := interruptible()
	defer cancel()

	m, closeFn, err := connect(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	opts := []envelope.Option{envelope.To(sendTo), envelope.WithPriority(priority)}
	if sendReplyTo != "" {
		opts = append(opts, envelope.WithMetadata(envelope.MetaReplyTo, sendReplyTo))
	}

	id, err := m.Publish(ctx, topic, content, opts...)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func printEnvelope(w io.Writer, e envelope.Envelope) {
	if catJSON {
		_ = json.NewEncoder(w).Encode(e)
		return
	}

	to := ""
	if !e.IsBroadcast() {
		to = " -> " + e.To
	}
	fmt.Fprintf(w, "%s [%s] %s%s: %s\n",
		e.CreatedAt.Local().Format(time.TimeOnly), e.Topic, e.From, to, strings.TrimSpace(e.Content))
}

func runCat(cmd *cobra.Command, args []string) error {
	ctx, cancel := interruptible()
	defer cancel()

	m, closeFn, err := connect(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	queue := messenger.NewQueueSink(64)
	sub, err := m.Subscribe(ctx, args[0], m.AgentID(), queue)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	// Replayed Envelopes are queued before Subscribe returns.
	for i := 0; i < sub.Replayed(); i++ {
		printEnvelope(cmd.OutOrStdout(), <-queue.C())
	}
	if !catFollow {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-queue.C():
			if !ok {
				return nil
			}
			printEnvelope(cmd.OutOrStdout(), e)
		}
	}
}
