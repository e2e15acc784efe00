/*
Copyright 2019 The Vitess Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package frame implements the X Protocol wire codec: a pure,
// synchronous transformation between a byte stream and a sequence of
// logical (type_id, payload) messages. It performs no I/O; blocking is
// the caller's responsibility.
package frame

import (
	"encoding/binary"
	"fmt"
)

// MaxFrameSize is the default upper bound on a single frame's declared
// length. Frames whose header declares more than this are rejected
// before any payload bytes are read into memory.
const MaxFrameSize = 64 << 20 // 64 MiB

// headerSize is the length of the length prefix itself, in bytes.
const headerSize = 4

// Message is a decoded frame: a type identifier plus its opaque payload.
type Message struct {
	Type    uint8
	Payload []byte
}

// MalformedFrame reports a frame whose header declared an impossible
// length (zero). An oversized length is reported as FrameTooLarge.
type MalformedFrame struct {
	Reason string
}

func (e *MalformedFrame) Error() string { return "malformed frame: " + e.Reason }

// FrameTooLarge reports a frame whose declared length exceeds the
// codec's configured maximum.
type FrameTooLarge struct {
	Declared uint32
	Max      uint32
}

func (e *FrameTooLarge) Error() string {
	return fmt.Sprintf("frame too large: declared %d bytes, max %d", e.Declared, e.Max)
}

// Encode renders one message as wire bytes: a 4-byte little-endian
// length (counting the type byte and the payload, excluding the length
// field itself), the type byte, then the payload.
func Encode(typeID uint8, payload []byte) []byte {
	out := make([]byte, headerSize+1+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(1+len(payload)))
	out[headerSize] = typeID
	copy(out[headerSize+1:], payload)
	return out
}

// Decoder is an append-only byte buffer that yields complete Messages as
// enough bytes accumulate. It is not safe for concurrent use; callers
// serialize access (the Connection does this for network I/O).
type Decoder struct {
	buf      []byte
	maxFrame uint32
}

// NewDecoder returns a Decoder with the default MaxFrameSize.
func NewDecoder() *Decoder {
	return &Decoder{maxFrame: MaxFrameSize}
}

// WithMaxFrameSize overrides the maximum accepted declared frame length.
func (d *Decoder) WithMaxFrameSize(max uint32) *Decoder {
	d.maxFrame = max
	return d
}

// Feed appends newly read bytes to the internal buffer.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Next extracts one complete Message from the buffered bytes, if
// available. ok is false when more bytes must be fed before a full
// frame can be produced, and also whenever err is non-nil; it never
// returns ok==true together with a non-nil error. An empty payload is
// returned as nil.
func (d *Decoder) Next() (msg Message, ok bool, err error) {
	if len(d.buf) < headerSize {
		return Message{}, false, nil
	}

	l := binary.LittleEndian.Uint32(d.buf[:headerSize])
	if l == 0 {
		return Message{}, false, &MalformedFrame{Reason: "declared length is zero"}
	}
	if l > d.maxFrame {
		return Message{}, false, &FrameTooLarge{Declared: l, Max: d.maxFrame}
	}

	total := headerSize + int(l)
	if len(d.buf) < total {
		return Message{}, false, nil
	}

	typeID := d.buf[headerSize]
	var payload []byte
	if l > 1 {
		payload = make([]byte, int(l)-1)
		copy(payload, d.buf[headerSize+1:total])
	}

	// Advance the cursor without retaining the consumed prefix.
	rest := make([]byte, len(d.buf)-total)
	copy(rest, d.buf[total:])
	d.buf = rest

	return Message{Type: typeID, Payload: payload}, true, nil
}

// Pending reports how many bytes are buffered but not yet consumed into
// a Message; useful for diagnostics and for Connection.close's bounded
// drain.
func (d *Decoder) Pending() int {
	return len(d.buf)
}
