// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package multidrop

import (
	"fmt"
	"time"
)

// Frame is a decoded bus message as seen by a receiver.
type Frame struct {
	Flags     uint8
	Dest      uint8
	Cmd       Command
	NodeCount uint8
	Length    uint8
	Payload   []byte
	CRC       uint16
	Timestamp time.Time
}

// Batch reports whether the payload is one chunk per addressed node.
func (f *Frame) Batch() bool {
	return f.Flags&FlagBatch != 0
}

// ResponseExpected reports whether nodes answer this frame.
func (f *Frame) ResponseExpected() bool {
	return f.Flags&FlagResponse != 0
}

// IsBroadcast reports whether the frame targets every node.
func (f *Frame) IsBroadcast() bool {
	return f.Dest == Broadcast
}

// TotalLength is the declared payload length of the whole frame.
func (f *Frame) TotalLength() int {
	if f.Batch() {
		return int(f.Length) * int(f.NodeCount)
	}
	return int(f.Length)
}

// Decoder implements the receiver-side frame parser state machine.
// It consumes one byte at a time and yields a Frame when a complete,
// CRC-valid message has been seen.
//
// Response-expecting frames carry no master payload on the wire (the
// response section is written by the nodes), so the decoder jumps
// straight from the header to the CRC trailer for those.
type Decoder struct {
	state    int
	frame    *Frame
	crc      uint16
	total    int
	received int
}

// NewDecoder creates a decoder hunting for frame sync.
func NewDecoder() *Decoder {
	return &Decoder{state: stateIdle}
}

// Reset returns the decoder to sync hunting.
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.frame = nil
	d.total = 0
	d.received = 0
}

// DecodeByte processes a single byte. It returns a completed frame,
// nil if the frame is still incomplete, or an error if framing or the
// checksum failed (the decoder resets itself on error).
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	switch d.state {
	case stateIdle:
		if b == SyncByte {
			d.state = stateSync2
		}
		return nil, nil

	case stateSync2:
		if b == SyncByte {
			// Stay here on a run of sync bytes; flags can never be
			// 0xFF, so the first non-sync byte starts the header.
			d.state = stateFlags
		} else {
			d.state = stateIdle
		}
		return nil, nil

	case stateFlags:
		if b == SyncByte {
			// Still syncing (e.g. an end-of-chain trailer ran into
			// the next frame's sync bytes).
			return nil, nil
		}
		if b&^(FlagBatch|FlagResponse) != 0 {
			d.Reset()
			return nil, fmt.Errorf("invalid flags byte 0x%02X", b)
		}
		d.frame = &Frame{Flags: b}
		d.crc = UpdateCRC(InitCRC(), b)
		d.state = stateDest
		return nil, nil

	case stateDest:
		d.frame.Dest = b
		d.crc = UpdateCRC(d.crc, b)
		d.state = stateCommand
		return nil, nil

	case stateCommand:
		d.frame.Cmd = Command(b)
		d.crc = UpdateCRC(d.crc, b)
		if d.frame.Batch() {
			d.state = stateNodeCount
		} else {
			d.state = stateLength
		}
		return nil, nil

	case stateNodeCount:
		d.frame.NodeCount = b
		d.crc = UpdateCRC(d.crc, b)
		d.state = stateLength
		return nil, nil

	case stateLength:
		d.frame.Length = b
		d.crc = UpdateCRC(d.crc, b)
		d.total = d.frame.TotalLength()
		if d.frame.ResponseExpected() {
			// Nodes supply the payload section; the master frame goes
			// straight to its trailer.
			d.total = 0
		}
		if d.total > 0 {
			d.frame.Payload = make([]byte, 0, d.total)
			d.state = statePayload
		} else {
			d.state = stateCRC1
		}
		return nil, nil

	case statePayload:
		d.frame.Payload = append(d.frame.Payload, b)
		d.crc = UpdateCRC(d.crc, b)
		d.received++
		if d.received >= d.total {
			d.state = stateCRC1
		}
		return nil, nil

	case stateCRC1:
		d.frame.CRC = uint16(b) << 8
		d.state = stateCRC2
		return nil, nil

	case stateCRC2:
		d.frame.CRC |= uint16(b)
		frame := d.frame
		calculated := d.crc
		d.Reset()
		if frame.CRC != calculated {
			return nil, fmt.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", calculated, frame.CRC)
		}
		frame.Timestamp = time.Now()
		return frame, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid decoder state %d", d.state)
	}
}
