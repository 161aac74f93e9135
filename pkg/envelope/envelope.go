// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package envelope

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

const (
	// Broadcast is the reserved recipient addressing every subscriber of a topic.
	Broadcast = "*"

	// DefaultTopic is used for Envelopes created without a topic.
	DefaultTopic = "general"

	// MetaReplyTo names the topic on which a response is expected.
	MetaReplyTo = "reply-to"

	// MetaKind classifies an Envelope, e.g., as a "task" or a "result".
	MetaKind = "kind"
)

var agentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Envelope is the immutable unit of message exchange. Envelopes are passed by value; the Metadata map must not be
// altered after creation.
type Envelope struct {
	ID            string            `json:"id"`
	Topic         string            `json:"topic"`
	From          string            `json:"from_agent"`
	To            string            `json:"to_agent,omitempty"`
	Content       string            `json:"content"`
	Priority      Priority          `json:"priority"`
	CreatedAt     time.Time         `json:"created_at"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Option configures an Envelope on creation.
type Option func(*Envelope)

// To addresses the Envelope to a single agent instead of all topic subscribers.
func To(agentID string) Option {
	return func(e *Envelope) { e.To = agentID }
}

// WithPriority sets the advisory Priority.
func WithPriority(p Priority) Option {
	return func(e *Envelope) { e.Priority = p }
}

// CorrelatedWith links the Envelope to some originating request.
func CorrelatedWith(correlationID string) Option {
	return func(e *Envelope) { e.CorrelationID = correlationID }
}

// WithMetadata adds a metadata key.
func WithMetadata(key, value string) Option {
	return func(e *Envelope) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]string)
		}
		e.Metadata[key] = value
	}
}

// NewID returns a fresh, globally unique identifier.
func NewID() string {
	return uuid.NewString()
}

// New creates an Envelope with a fresh ID and the current time.
func New(topic, from, content string, opts ...Option) Envelope {
	if topic == "" {
		topic = DefaultTopic
	}

	e := Envelope{
		ID:        NewID(),
		Topic:     topic,
		From:      from,
		To:        Broadcast,
		Content:   content,
		Priority:  Normal,
		CreatedAt: time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// ValidAgentID checks the agent identifier format.
func ValidAgentID(id string) bool {
	return id == Broadcast || agentIDPattern.MatchString(id)
}

// Validate checks the Envelope's mandatory fields.
func (e Envelope) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("envelope has no id")
	case e.Topic == "":
		return fmt.Errorf("envelope %s has no topic", e.ID)
	case e.From == "" || e.From == Broadcast || !ValidAgentID(e.From):
		return fmt.Errorf("envelope %s has an invalid sender %q", e.ID, e.From)
	case e.To != "" && !ValidAgentID(e.To):
		return fmt.Errorf("envelope %s has an invalid recipient %q", e.ID, e.To)
	case len(e.Metadata) > MaxMetadata:
		return fmt.Errorf("envelope %s has %d metadata entries, exceeding %d", e.ID, len(e.Metadata), MaxMetadata)
	}
	return e.Priority.CheckValid()
}

// IsBroadcast is true if no single recipient is addressed.
func (e Envelope) IsBroadcast() bool {
	return e.To == "" || e.To == Broadcast
}

// AddressedTo checks if an agent should consume this Envelope.
func (e Envelope) AddressedTo(agentID string) bool {
	return e.IsBroadcast() || e.To == agentID
}

// Meta returns a metadata value or an empty string.
func (e Envelope) Meta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}

// Reply creates a response to this Envelope. The response is addressed to the sender, correlated to the request
// and published on the requested reply topic, if any.
func (e Envelope) Reply(from, content string, opts ...Option) Envelope {
	topic := e.Meta(MetaReplyTo)
	if topic == "" {
		topic = e.Topic
	}

	correlation := e.CorrelationID
	if correlation == "" {
		correlation = e.ID
	}

	base := []Option{To(e.From), CorrelatedWith(correlation), WithPriority(e.Priority)}
	return New(topic, from, content, append(base, opts...)...)
}

func (e Envelope) String() string {
	return fmt.Sprintf("Envelope(%s, %s, %s -> %s)", e.ID, e.Topic, e.From, e.To)
}
