// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package wire defines the frames exchanged on the socket channel between an agent and a board.
//
// Every frame is a CBOR array, starting with its FrameType. A client must start with a Register frame, which the
// board acknowledges. Subscribe, Unsubscribe, Send and Ping frames are acknowledged by an Ack frame carrying the
// same ID; a non-empty Error marks a negative acknowledgement. The board pushes Message frames for subscribed
// topics and answers History requests with a History frame.
package wire

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"

	"github.com/agentboard/agentboard-go/pkg/envelope"
)

// MaxEnvelopes bounds the Envelopes of a single Frame, e.g., a History response.
const MaxEnvelopes = 1024

// MaxFrameSize bounds the encoded size of a single Frame on a connection.
const MaxFrameSize = 16 * 1024 * 1024

// FrameType identifies the kind of a Frame.
type FrameType uint64

const (
	Register FrameType = iota
	Subscribe
	Unsubscribe
	Send
	Ack
	Message
	History
	Ping
)

func (ft FrameType) String() string {
	switch ft {
	case Register:
		return "register"
	case Subscribe:
		return "subscribe"
	case Unsubscribe:
		return "unsubscribe"
	case Send:
		return "send"
	case Ack:
		return "ack"
	case Message:
		return "message"
	case History:
		return "history"
	case Ping:
		return "ping"
	default:
		return fmt.Sprintf("frame(%d)", uint64(ft))
	}
}

// CheckValid returns an error for unknown FrameTypes.
func (ft FrameType) CheckValid() error {
	if ft > Ping {
		return fmt.Errorf("unknown frame type %d", uint64(ft))
	}
	return nil
}

// Frame is a single socket channel message. Unused fields are left empty.
type Frame struct {
	Type FrameType

	// ID correlates requests and their Ack or History answer. For Send frames, it equals the Envelope's ID.
	ID string

	// AgentID is only used for Register frames.
	AgentID string

	// Topic is used by Subscribe, Unsubscribe and History frames.
	Topic string

	// Limit bounds a History request.
	Limit uint64

	// Error is a non-empty reason for a negative Ack.
	Error string

	// Envelopes holds one Envelope for Send and Message frames or the replayed Envelopes for History frames.
	Envelopes []envelope.Envelope
}

const frameFields uint64 = 7

func (f Frame) String() string {
	return fmt.Sprintf("Frame(%v, %s, %d envelopes)", f.Type, f.ID, len(f.Envelopes))
}

// Err converts a negative Ack into an error.
func (f Frame) Err() error {
	if f.Error == "" {
		return nil
	}
	return fmt.Errorf("%s", f.Error)
}

// NewRegister creates a Register frame for an agent.
func NewRegister(agentID string) Frame {
	return Frame{Type: Register, ID: envelope.NewID(), AgentID: agentID}
}

// NewSubscribe creates a Subscribe frame.
func NewSubscribe(topic string) Frame {
	return Frame{Type: Subscribe, ID: envelope.NewID(), Topic: topic}
}

// NewUnsubscribe creates an Unsubscribe frame.
func NewUnsubscribe(topic string) Frame {
	return Frame{Type: Unsubscribe, ID: envelope.NewID(), Topic: topic}
}

// NewSend creates a Send frame, identified by the Envelope's ID.
func NewSend(e envelope.Envelope) Frame {
	return Frame{Type: Send, ID: e.ID, Topic: e.Topic, Envelopes: []envelope.Envelope{e}}
}

// NewMessage creates a Message frame pushed from a board to a subscriber.
func NewMessage(e envelope.Envelope) Frame {
	return Frame{Type: Message, ID: e.ID, Topic: e.Topic, Envelopes: []envelope.Envelope{e}}
}

// NewHistoryRequest asks for the latest limit Envelopes of a topic.
func NewHistoryRequest(topic string, limit int) Frame {
	return Frame{Type: History, ID: envelope.NewID(), Topic: topic, Limit: uint64(limit)}
}

// NewHistoryResponse answers a History request.
func NewHistoryResponse(request Frame, envelopes []envelope.Envelope) Frame {
	return Frame{Type: History, ID: request.ID, Topic: request.Topic, Limit: request.Limit, Envelopes: envelopes}
}

// NewPing creates a Ping frame.
func NewPing() Frame {
	return Frame{Type: Ping, ID: envelope.NewID()}
}

// NewAck acknowledges a request frame. A non-nil error results in a negative acknowledgement.
func NewAck(id string, err error) Frame {
	f := Frame{Type: Ack, ID: id}
	if err != nil {
		f.Error = err.Error()
	}
	return f
}

// MarshalCbor writes a Frame as CBOR.
func (f *Frame) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(frameFields, w); err != nil {
		return err
	}

	if err := cboring.WriteUInt(uint64(f.Type), w); err != nil {
		return err
	}
	for _, s := range []string{f.ID, f.AgentID, f.Topic} {
		if err := cboring.WriteTextString(s, w); err != nil {
			return err
		}
	}
	if err := cboring.WriteUInt(f.Limit, w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(f.Error, w); err != nil {
		return err
	}

	if err := cboring.WriteArrayLength(uint64(len(f.Envelopes)), w); err != nil {
		return err
	}
	for i := range f.Envelopes {
		if err := cboring.Marshal(&f.Envelopes[i], w); err != nil {
			return fmt.Errorf("marshalling envelope %d failed: %v", i, err)
		}
	}

	return nil
}

// UnmarshalCbor reads a Frame from CBOR.
func (f *Frame) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != frameFields {
		return fmt.Errorf("wrong array length: %d instead of %d", l, frameFields)
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if ft := FrameType(n); ft.CheckValid() != nil {
		return ft.CheckValid()
	} else {
		f.Type = ft
	}

	for _, s := range []*string{&f.ID, &f.AgentID, &f.Topic} {
		if v, err := cboring.ReadTextString(r); err != nil {
			return err
		} else {
			*s = v
		}
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		f.Limit = n
	}

	if v, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		f.Error = v
	}

	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	} else if n > MaxEnvelopes {
		return fmt.Errorf("frame carries %d envelopes, exceeding %d", n, MaxEnvelopes)
	}

	f.Envelopes = nil
	for i := uint64(0); i < n; i++ {
		var e envelope.Envelope
		if err := cboring.Unmarshal(&e, r); err != nil {
			return fmt.Errorf("unmarshalling envelope %d failed: %v", i, err)
		}
		f.Envelopes = append(f.Envelopes, e)
	}

	return nil
}

// Write a Frame to w.
func Write(f Frame, w io.Writer) error {
	return cboring.Marshal(&f, w)
}

// Read the next Frame from r.
func Read(r io.Reader) (f Frame, err error) {
	err = cboring.Unmarshal(&f, r)
	return
}
