// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"reflect"
	"strings"
	"testing"
)

func TestTaskEncodeDecode(t *testing.T) {
	task := Task{
		ID:          "1234",
		TargetAgent: "coder",
		Description: "write a parser",
		Context:     map[string]string{"language": "go"},
		Artifacts:   []string{"grammar.ebnf"},
	}

	content, err := EncodeTask(task)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(content, `"method":"agent.execute_task"`) || !strings.Contains(content, `"jsonrpc":"2.0"`) {
		t.Fatalf("unexpected encoding %s", content)
	}

	for _, c := range []string{content, "Here you go:\n```json\n" + content + "\n```\nbye"} {
		if decoded, err := DecodeTask(c); err != nil {
			t.Fatal(err)
		} else if !reflect.DeepEqual(task, decoded) {
			t.Fatalf("decoded task differs: %v became %v", task, decoded)
		}
	}
}

func TestTaskDecodeErrors(t *testing.T) {
	tests := []string{
		"just some text",
		`{"jsonrpc": "1.0", "method": "agent.execute_task", "params": {"task_id": "1"}}`,
		`{"jsonrpc": "2.0", "method": "agent.other", "params": {"task_id": "1"}}`,
		`{"jsonrpc": "2.0", "method": "agent.execute_task", "params": {}}`,
	}

	for _, test := range tests {
		if _, err := DecodeTask(test); err == nil {
			t.Fatalf("decoding %q should fail", test)
		}
	}
}
