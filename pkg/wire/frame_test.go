// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/agentboard/agentboard-go/pkg/envelope"
)

func TestFrameCbor(t *testing.T) {
	e1 := envelope.New("ops", "agent-a", "hello", envelope.To("agent-b"))
	e2 := envelope.New("ops", "agent-c", "", envelope.WithMetadata(envelope.MetaKind, "result"))

	frames := []Frame{
		NewRegister("agent-a"),
		NewSubscribe("ops"),
		NewUnsubscribe("ops"),
		NewSend(e1),
		NewMessage(e2),
		NewHistoryRequest("ops", 10),
		NewHistoryResponse(NewHistoryRequest("ops", 2), []envelope.Envelope{e1, e2}),
		NewPing(),
		NewAck("some-id", nil),
		NewAck("some-id", errors.New("not registered")),
	}

	for _, f1 := range frames {
		t.Run(f1.Type.String(), func(t *testing.T) {
			buff := new(bytes.Buffer)
			if err := Write(f1, buff); err != nil {
				t.Fatal(err)
			}

			f2, err := Read(buff)
			if err != nil {
				t.Fatal(err)
			}

			if len(f1.Envelopes) != len(f2.Envelopes) {
				t.Fatalf("expected %d envelopes, got %d", len(f1.Envelopes), len(f2.Envelopes))
			}
			for i := range f1.Envelopes {
				if !f1.Envelopes[i].CreatedAt.Equal(f2.Envelopes[i].CreatedAt) {
					t.Fatalf("envelope %d: timestamps differ", i)
				}
				f2.Envelopes[i].CreatedAt = f1.Envelopes[i].CreatedAt
			}

			if !reflect.DeepEqual(f1, f2) {
				t.Fatalf("frames differ:\n%v\n%v", f1, f2)
			}
		})
	}
}

func TestFrameAckErr(t *testing.T) {
	if err := NewAck("x", nil).Err(); err != nil {
		t.Fatalf("positive ack has error %v", err)
	}
	if err := NewAck("x", errors.New("nope")).Err(); err == nil || err.Error() != "nope" {
		t.Fatalf("negative ack has error %v", err)
	}
}

func TestFrameUnknownType(t *testing.T) {
	f := Frame{Type: FrameType(23), ID: "x"}

	buff := new(bytes.Buffer)
	if err := Write(f, buff); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(buff); err == nil {
		t.Fatal("reading an unknown frame type succeeded")
	}
}

func TestFrameHugeEnvelopeCount(t *testing.T) {
	buff := new(bytes.Buffer)
	if err := Write(NewPing(), buff); err != nil {
		t.Fatal(err)
	}

	// Replace the empty envelope array header by one announcing 1<<62 envelopes.
	data := buff.Bytes()
	if data[len(data)-1] != 0x80 {
		t.Fatalf("expected an empty array header, got %x", data[len(data)-1])
	}
	data = append(data[:len(data)-1], 0x9b, 0x40, 0, 0, 0, 0, 0, 0, 0)

	if _, err := Read(bytes.NewReader(data)); err == nil {
		t.Fatal("reading a frame with a huge envelope count succeeded")
	}
}

func TestFrameEnvelopeLimit(t *testing.T) {
	envs := make([]envelope.Envelope, MaxEnvelopes+1)
	for i := range envs {
		envs[i] = envelope.New("ops", "agent-a", "x")
	}

	buff := new(bytes.Buffer)
	if err := Write(NewHistoryResponse(NewHistoryRequest("ops", 0), envs), buff); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(buff); err == nil {
		t.Fatalf("reading a frame with %d envelopes succeeded", len(envs))
	}
}
