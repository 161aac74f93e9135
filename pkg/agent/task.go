// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MethodExecuteTask is the JSON-RPC method of a delegated Task.
const MethodExecuteTask = "agent.execute_task"

// Reply kinds, stored in an Envelope's "kind" metadata.
const (
	KindTask   = "task"
	KindAck    = "ack"
	KindResult = "result"
	KindError  = "error"
)

// Task is a unit of work delegated to an agent.
type Task struct {
	ID          string            `json:"task_id"`
	TargetAgent string            `json:"target_agent"`
	Description string            `json:"description"`
	Context     map[string]string `json:"context"`
	Artifacts   []string          `json:"artifacts"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  Task   `json:"params"`
	ID      int    `json:"id"`
}

// EncodeTask into a JSON-RPC 2.0 request.
func EncodeTask(t Task) (string, error) {
	if t.Context == nil {
		t.Context = map[string]string{}
	}
	if t.Artifacts == nil {
		t.Artifacts = []string{}
	}

	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: MethodExecuteTask, Params: t, ID: 1})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// unfence strips a surrounding markdown code block.
func unfence(content string) string {
	if i := strings.Index(content, "```json"); i >= 0 {
		content = content[i+len("```json"):]
		if j := strings.Index(content, "```"); j >= 0 {
			content = content[:j]
		}
	}
	return strings.TrimSpace(content)
}

// DecodeTask reads a JSON-RPC 2.0 agent.execute_task request. The request might be wrapped in a markdown code block.
func DecodeTask(content string) (t Task, err error) {
	var req rpcRequest
	if err = json.Unmarshal([]byte(unfence(content)), &req); err != nil {
		err = fmt.Errorf("content is no JSON-RPC request: %w", err)
		return
	}

	switch {
	case req.JSONRPC != "2.0":
		err = fmt.Errorf("unsupported JSON-RPC version %q", req.JSONRPC)
	case req.Method != MethodExecuteTask:
		err = fmt.Errorf("unsupported method %q", req.Method)
	case req.Params.ID == "":
		err = fmt.Errorf("task has no task_id")
	default:
		t = req.Params
	}
	return
}
