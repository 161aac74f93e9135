// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentboard/agentboard-go/pkg/api"
	"github.com/agentboard/agentboard-go/pkg/dispatch"
	"github.com/agentboard/agentboard-go/pkg/registry"
)

var (
	agentsDir          string
	dispatchCaps       []string
	dispatchTopic      string
	dispatchNoWait     bool
	dispatchTimeout    time.Duration
	delegationsPending bool
	delegationsState   string
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the agents known to an orchestrator or found in a manifest directory",
	Args:  cobra.NoArgs,
	RunE:  runAgents,
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <content>",
	Short: "Submit a request to an orchestrator",
	Args:  cobra.ExactArgs(1),
	RunE:  runDispatch,
}

var delegationsCmd = &cobra.Command{
	Use:   "delegations [id]",
	Short: "Show an orchestrator's delegations",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDelegations,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a delegation",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(delegationsCmd)
	rootCmd.AddCommand(cancelCmd)

	agentsCmd.Flags().StringVar(&agentsDir, "dir", "", "read manifests from this directory instead of the REST API")

	dispatchCmd.Flags().StringSliceVar(&dispatchCaps, "capability", nil, "requested capabilities")
	dispatchCmd.Flags().StringVar(&dispatchTopic, "topic", "", "requested topic, if no capability is given")
	dispatchCmd.Flags().BoolVar(&dispatchNoWait, "no-wait", false, "return after the request was forwarded")
	dispatchCmd.Flags().DurationVar(&dispatchTimeout, "timeout", api.DefaultWait, "maximum wait for the result")

	delegationsCmd.Flags().BoolVar(&delegationsPending, "pending", false, "only list active delegations")
	delegationsCmd.Flags().StringVar(&delegationsState, "state", "", "list journaled delegations in this final state, e.g., completed")
}

// call the REST API. A non-2xx status is returned as an error, carrying the API's error message.
func call(ctx context.Context, method, path string, body, v interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(apiURL, "/")+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var errResp api.ErrorResponse
		if jsonErr := json.NewDecoder(resp.Body).Decode(&errResp); jsonErr != nil || errResp.Error == "" {
			return fmt.Errorf("%s %s: %s", method, path, resp.Status)
		}
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, errResp.Error)
	}

	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func runAgents(cmd *cobra.Command, _ []string) error {
	ctx, cancel := interruptible()
	defer cancel()

	var agents []api.AgentResponse
	if agentsDir != "" {
		manifests, err := registry.DirSource{Root: agentsDir}.Manifests(ctx)
		if err != nil {
			return err
		}
		for _, m := range manifests {
			agents = append(agents, api.AgentResponse{
				AgentID:      m.AgentID,
				Version:      m.Version,
				Topics:       m.Topics,
				Capabilities: m.Capabilities,
			})
		}
	} else if err := call(ctx, http.MethodGet, "/agents", nil, &agents); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tVERSION\tTOPICS\tCAPABILITIES\tLAST SEEN")
	for _, a := range agents {
		lastSeen := "-"
		if !a.LastSeen.IsZero() {
			lastSeen = time.Since(a.LastSeen).Truncate(time.Second).String() + " ago"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.AgentID, a.Version,
			strings.Join(a.Topics, ","), strings.Join(a.Capabilities, ","), lastSeen)
	}
	return tw.Flush()
}

func printStatus(cmd *cobra.Command, s dispatch.Status) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%v\t%s\tretries=%d\n", s.ID, s.State, s.TargetAgent, s.RetryCount)
	if s.Response != "" {
		fmt.Fprintln(cmd.OutOrStdout(), s.Response)
	}
	if s.Error != "" {
		fmt.Fprintln(cmd.OutOrStdout(), "error:", s.Error)
	}
}

func runDispatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := interruptible()
	defer cancel()

	req := api.DispatchRequest{
		Request: dispatch.Request{
			Requester:    agentID,
			Capabilities: dispatchCaps,
			Topic:        dispatchTopic,
			Content:      args[0],
		},
		Wait: !dispatchNoWait,
	}
	if req.Wait {
		req.Timeout = dispatchTimeout.String()
	}

	var status dispatch.Status
	if err := call(ctx, http.MethodPost, "/dispatch", req, &status); err != nil {
		return err
	}
	printStatus(cmd, status)
	return nil
}

func runDelegations(cmd *cobra.Command, args []string) error {
	ctx, cancel := interruptible()
	defer cancel()

	if len(args) == 1 {
		var status dispatch.Status
		if err := call(ctx, http.MethodGet, "/delegations/"+args[0], nil, &status); err != nil {
			return err
		}
		printStatus(cmd, status)
		return nil
	}

	path := "/delegations"
	if delegationsState != "" {
		path += "?state=" + url.QueryEscape(delegationsState)
	} else if delegationsPending {
		path += "?pending=true"
	}

	var statuses []dispatch.Status
	if err := call(ctx, http.MethodGet, path, nil, &statuses); err != nil {
		return err
	}
	for _, s := range statuses {
		printStatus(cmd, s)
	}
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx, cancel := interruptible()
	defer cancel()

	var status dispatch.Status
	if err := call(ctx, http.MethodDelete, "/delegations/"+args[0], nil, &status); err != nil {
		return err
	}
	printStatus(cmd, status)
	return nil
}
