// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package multidrop

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Remote bus bridge: a floor gateway exposes its serial bus over a
// message-oriented pipe (a websocket in practice). Raw serial bytes
// alone cannot carry the enable-line toggles or drain barriers the
// engine needs, so every hop is wrapped in a small CBOR envelope.

// Envelope operations.
const (
	remoteData  = 0x01 // raw bus bytes, either direction
	remoteLines = 0x02 // master -> gateway: drive RTS/DTR
	remoteDrain = 0x03 // master -> gateway: flush queued writes
)

type remoteEnvelope struct {
	Op   uint8  `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint,omitempty"`
	RTS  bool   `cbor:"3,keyasint,omitempty"`
	DTR  bool   `cbor:"4,keyasint,omitempty"`
}

// MessageConn is the message pipe a RemoteLink runs over. A websocket
// connection satisfies it with a thin adapter.
type MessageConn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// RemoteLink adapts a gateway connection to the Link interface.
type RemoteLink struct {
	conn MessageConn
	buf  []byte
	off  int
}

// NewRemoteLink wraps a gateway connection.
func NewRemoteLink(conn MessageConn) *RemoteLink {
	return &RemoteLink{conn: conn}
}

func (r *RemoteLink) Read(p []byte) (int, error) {
	if r.off < len(r.buf) {
		n := copy(p, r.buf[r.off:])
		r.off += n
		return n, nil
	}

	for {
		data, err := r.conn.ReadMessage()
		if err != nil {
			return 0, err
		}

		var env remoteEnvelope
		if err := cbor.Unmarshal(data, &env); err != nil {
			return 0, fmt.Errorf("multidrop: bad gateway envelope: %w", err)
		}
		if env.Op != remoteData || len(env.Data) == 0 {
			continue
		}

		r.buf = env.Data
		r.off = 0
		n := copy(p, r.buf)
		r.off = n
		return n, nil
	}
}

func (r *RemoteLink) Write(p []byte) (int, error) {
	if err := r.send(remoteEnvelope{Op: remoteData, Data: p}); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (r *RemoteLink) SetLines(rts, dtr bool) error {
	return r.send(remoteEnvelope{Op: remoteLines, RTS: rts, DTR: dtr})
}

func (r *RemoteLink) Drain() error {
	return r.send(remoteEnvelope{Op: remoteDrain})
}

func (r *RemoteLink) Close() error {
	return r.conn.Close()
}

func (r *RemoteLink) send(env remoteEnvelope) error {
	data, err := cbor.Marshal(env)
	if err != nil {
		return fmt.Errorf("multidrop: encode gateway envelope: %w", err)
	}
	return r.conn.WriteMessage(data)
}
