// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package multidrop

import (
	"bytes"
	"io"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

// memConn is an in-memory gateway double: inbound messages are scripted
// on a channel, outbound messages are recorded.
type memConn struct {
	in     chan []byte
	sent   [][]byte
	closed bool
}

func newMemConn() *memConn {
	return &memConn{in: make(chan []byte, 16)}
}

func (c *memConn) ReadMessage() ([]byte, error) {
	msg, ok := <-c.in
	if !ok {
		return nil, io.EOF
	}
	return msg, nil
}

func (c *memConn) WriteMessage(data []byte) error {
	c.sent = append(c.sent, data)
	return nil
}

func (c *memConn) Close() error {
	c.closed = true
	return nil
}

func (c *memConn) push(t *testing.T, env remoteEnvelope) {
	t.Helper()
	data, err := cbor.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	c.in <- data
}

func (c *memConn) lastEnvelope(t *testing.T) remoteEnvelope {
	t.Helper()
	if len(c.sent) == 0 {
		t.Fatal("no message sent")
	}
	var env remoteEnvelope
	if err := cbor.Unmarshal(c.sent[len(c.sent)-1], &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func TestRemoteLink_WriteWrapsData(t *testing.T) {
	conn := newMemConn()
	link := NewRemoteLink(conn)

	n, err := link.Write([]byte{0xFF, 0xFF, 0x00})
	if err != nil || n != 3 {
		t.Fatalf("Write = %d, %v", n, err)
	}

	env := conn.lastEnvelope(t)
	if env.Op != remoteData {
		t.Errorf("op = %d, want data", env.Op)
	}
	if !bytes.Equal(env.Data, []byte{0xFF, 0xFF, 0x00}) {
		t.Errorf("data = %v", env.Data)
	}
}

func TestRemoteLink_ControlEnvelopes(t *testing.T) {
	conn := newMemConn()
	link := NewRemoteLink(conn)

	if err := link.SetLines(true, true); err != nil {
		t.Fatalf("SetLines: %v", err)
	}
	env := conn.lastEnvelope(t)
	if env.Op != remoteLines || !env.RTS || !env.DTR {
		t.Errorf("lines envelope = %+v", env)
	}

	if err := link.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if env := conn.lastEnvelope(t); env.Op != remoteDrain {
		t.Errorf("drain envelope = %+v", env)
	}
}

// Short reads must consume a data envelope across calls, and non-data
// envelopes from the gateway are skipped.
func TestRemoteLink_ReadBuffersAndSkips(t *testing.T) {
	conn := newMemConn()
	link := NewRemoteLink(conn)

	conn.push(t, remoteEnvelope{Op: remoteDrain})
	conn.push(t, remoteEnvelope{Op: remoteData, Data: []byte{1, 2, 3, 4, 5}})

	var got []byte
	buf := make([]byte, 2)
	for len(got) < 5 {
		n, err := link.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("read %v, want [1 2 3 4 5]", got)
	}
}

func TestRemoteLink_ReadErrorPassesThrough(t *testing.T) {
	conn := newMemConn()
	link := NewRemoteLink(conn)
	close(conn.in)

	if _, err := link.Read(make([]byte, 8)); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}

	if err := link.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !conn.closed {
		t.Error("Close must reach the gateway connection")
	}
}
