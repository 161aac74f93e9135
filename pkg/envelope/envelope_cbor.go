// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package envelope

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dtn7/cboring"
)

const cborFields uint64 = 9

// MaxMetadata bounds the Metadata entries of a decoded Envelope.
const MaxMetadata = 256

// MarshalCbor writes the CBOR representation of an Envelope.
func (e *Envelope) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(cborFields, w); err != nil {
		return err
	}

	for _, s := range []string{e.ID, e.Topic, e.From, e.To, e.Content} {
		if err := cboring.WriteTextString(s, w); err != nil {
			return err
		}
	}

	if err := cboring.WriteUInt(uint64(e.Priority), w); err != nil {
		return err
	}

	var created uint64
	if !e.CreatedAt.IsZero() && e.CreatedAt.UnixNano() > 0 {
		created = uint64(e.CreatedAt.UnixNano())
	}
	if err := cboring.WriteUInt(created, w); err != nil {
		return err
	}

	if err := cboring.WriteTextString(e.CorrelationID, w); err != nil {
		return err
	}

	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if err := cboring.WriteMapPairLength(uint64(len(keys)), w); err != nil {
		return err
	}
	for _, k := range keys {
		if err := cboring.WriteTextString(k, w); err != nil {
			return err
		}
		if err := cboring.WriteTextString(e.Metadata[k], w); err != nil {
			return err
		}
	}

	return nil
}

// UnmarshalCbor reads an Envelope from its CBOR representation.
func (e *Envelope) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != cborFields {
		return fmt.Errorf("wrong array length: %d instead of %d", l, cborFields)
	}

	for _, s := range []*string{&e.ID, &e.Topic, &e.From, &e.To, &e.Content} {
		if v, err := cboring.ReadTextString(r); err != nil {
			return err
		} else {
			*s = v
		}
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if p := Priority(n); p.CheckValid() != nil {
		return p.CheckValid()
	} else {
		e.Priority = p
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if n == 0 {
		e.CreatedAt = time.Time{}
	} else {
		e.CreatedAt = time.Unix(0, int64(n)).UTC()
	}

	if v, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		e.CorrelationID = v
	}

	n, err := cboring.ReadMapPairLength(r)
	if err != nil {
		return err
	} else if n > MaxMetadata {
		return fmt.Errorf("envelope carries %d metadata entries, exceeding %d", n, MaxMetadata)
	}

	e.Metadata = nil
	if n > 0 {
		e.Metadata = make(map[string]string)
	}
	for i := uint64(0); i < n; i++ {
		k, kErr := cboring.ReadTextString(r)
		if kErr != nil {
			return kErr
		}
		v, vErr := cboring.ReadTextString(r)
		if vErr != nil {
			return fmt.Errorf("reading metadata value for %q failed: %v", k, vErr)
		}
		e.Metadata[k] = v
	}

	return nil
}
