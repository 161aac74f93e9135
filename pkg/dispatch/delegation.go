// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentboard/agentboard-go/pkg/envelope"
)

// Request to be delegated to some agent.
type Request struct {
	Requester    string            `json:"requester"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Topic        string            `json:"topic,omitempty"`
	Content      string            `json:"content"`
	Context      map[string]string `json:"context,omitempty"`
	Artifacts    []string          `json:"artifacts,omitempty"`
}

// keys to match agents against.
func (req Request) keys() []string {
	if len(req.Capabilities) > 0 {
		return req.Capabilities
	}
	if req.Topic != "" {
		return []string{req.Topic}
	}
	return nil
}

// Result is the single final outcome of a Delegation.
type Result struct {
	ID          string
	TargetAgent string
	State       State
	Response    string
	Err         error
	Attempts    int
	Finished    time.Time
}

// Status is a Delegation's current view, e.g., for status queries.
type Status struct {
	ID          string     `json:"id"`
	Requester   string     `json:"requester"`
	TargetAgent string     `json:"target_agent,omitempty"`
	Topic       string     `json:"topic,omitempty"`
	State       State      `json:"state"`
	RetryCount  int        `json:"retry_count"`
	Created     time.Time  `json:"created"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	Finished    *time.Time `json:"finished,omitempty"`
	Response    string     `json:"response,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Delegation tracks one Request. Its ID is the correlation ID of all forwarded Envelopes.
type Delegation struct {
	id      string
	req     Request
	created time.Time

	mutex      sync.Mutex
	state      State
	target     string
	topic      string
	retryCount int
	sentAt     time.Time
	acked      time.Time
	result     Result

	done chan struct{}
}

func newDelegation(req Request) *Delegation {
	return &Delegation{
		id:      envelope.NewID(),
		req:     req,
		created: time.Now(),
		state:   Received,
		done:    make(chan struct{}),
	}
}

func (d *Delegation) String() string {
	return fmt.Sprintf("Delegation(%s)", d.id)
}

// ID of this Delegation, which is also its correlation ID.
func (d *Delegation) ID() string {
	return d.id
}

// Request of this Delegation.
func (d *Delegation) Request() Request {
	return d.req
}

// State of this Delegation.
func (d *Delegation) State() State {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.state
}

// Done is closed when this Delegation reached a terminal state.
func (d *Delegation) Done() <-chan struct{} {
	return d.done
}

// Result returns the final Result, once this Delegation is terminal.
func (d *Delegation) Result() (Result, bool) {
	select {
	case <-d.done:
		d.mutex.Lock()
		defer d.mutex.Unlock()
		return d.result, true
	default:
		return Result{}, false
	}
}

// Wait for the final Result or the end of the context.
func (d *Delegation) Wait(ctx context.Context) (Result, error) {
	select {
	case <-d.done:
		res, _ := d.Result()
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Status returns a consistent view of this Delegation.
func (d *Delegation) Status() Status {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	s := Status{
		ID:          d.id,
		Requester:   d.req.Requester,
		TargetAgent: d.target,
		Topic:       d.topic,
		State:       d.state,
		RetryCount:  d.retryCount,
		Created:     d.created,
	}
	if !d.sentAt.IsZero() {
		sentAt := d.sentAt
		s.SentAt = &sentAt
	}
	if d.state.Terminal() {
		finished := d.result.Finished
		s.Finished = &finished
		s.Response = d.result.Response
		if d.result.Err != nil {
			s.Error = d.result.Err.Error()
		}
	}
	return s
}

// advance to a non-terminal state, if the current state is one of the expected ones.
func (d *Delegation) advance(to State, from ...State) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	for _, s := range from {
		if d.state == s {
			d.state = to
			return true
		}
	}
	return false
}

// finish this Delegation with its final Result. Only the first call for a Delegation succeeds.
func (d *Delegation) finish(state State, response string, err error) (Result, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.state.Terminal() {
		return Result{}, false
	}

	attempts := 0
	if !d.sentAt.IsZero() {
		attempts = d.retryCount + 1
	}

	d.state = state
	d.result = Result{
		ID:          d.id,
		TargetAgent: d.target,
		State:       state,
		Response:    response,
		Err:         err,
		Attempts:    attempts,
		Finished:    time.Now(),
	}
	close(d.done)

	return d.result, true
}
