// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package envelope

import (
	"fmt"
	"strings"
)

// Priority is an advisory ordering hint. It does not change any delivery order guarantee.
type Priority uint

const (
	Low Priority = iota
	Normal
	High
	Urgent
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Urgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", uint(p))
	}
}

// CheckValid returns an error for unknown priorities.
func (p Priority) CheckValid() error {
	if p > Urgent {
		return fmt.Errorf("unknown priority %d", uint(p))
	}
	return nil
}

// ParsePriority reads a Priority from its name. An empty string results in Normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low, nil
	case "", "normal":
		return Normal, nil
	case "high":
		return High, nil
	case "urgent":
		return Urgent, nil
	default:
		return Normal, fmt.Errorf("unknown priority %q", s)
	}
}

// MarshalText encodes the Priority by its name, e.g., for JSON.
func (p Priority) MarshalText() ([]byte, error) {
	if err := p.CheckValid(); err != nil {
		return nil, err
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a Priority from its name.
func (p *Priority) UnmarshalText(text []byte) (err error) {
	*p, err = ParsePriority(string(text))
	return
}
