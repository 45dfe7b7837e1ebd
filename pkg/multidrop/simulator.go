// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package multidrop

import (
	"fmt"
	"io"
	"sync"
)

// SimNode models the protocol behavior of one floor cell: it takes an
// address during numbering, applies colors, and answers sensor
// gathers. Fault fields simulate the failure modes the engine has to
// ride out.
type SimNode struct {
	Color  [3]byte
	Sensor byte

	// SilentPasses makes the cell ignore addressing for the first N
	// passes (late power-up, line noise).
	SilentPasses int

	// BadEcho makes the cell echo an invalid address forever.
	BadEcho bool

	// Mute makes the cell never write its response section.
	Mute bool

	// EchoCount counts addressing echoes the cell has emitted.
	EchoCount int

	addr    int
	enabled bool
	pending byte // echo awaiting the master's confirmation
}

// Addr returns the cell's assigned address, zero if unaddressed.
func (n *SimNode) Addr() int {
	return n.addr
}

// SimChain is an in-memory Link behaving like a physical chain of
// cells on the bus: the enable line powers the first cell, each
// confirmed cell enables the next, and batched frames scatter and
// gather in address order. It backs the engine's tests and the CLI's
// --sim mode.
type SimChain struct {
	mu     sync.Mutex
	nodes  []*SimNode
	out    chan byte
	closed bool

	// master frame parser
	state     int
	flags     byte
	dest      byte
	cmd       Command
	nodeCount byte
	length    byte
	payload   []byte
	total     int
	crc       uint16
	wireCRC   uint16

	// addressing stream state
	addressing bool
	lastSync   bool
	pass       int
}

// NewSimChain builds a chain of n well-behaved cells.
func NewSimChain(n int) *SimChain {
	s := &SimChain{
		nodes: make([]*SimNode, n),
		out:   make(chan byte, 4096),
		state: stateIdle,
	}
	for i := range s.nodes {
		s.nodes[i] = &SimNode{}
	}
	return s
}

// Node returns the i-th cell in chain order (not address order).
func (s *SimChain) Node(i int) *SimNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes[i]
}

// Len returns the number of cells on the chain.
func (s *SimChain) Len() int {
	return len(s.nodes)
}

func (s *SimChain) Read(p []byte) (int, error) {
	b, ok := <-s.out
	if !ok {
		return 0, io.EOF
	}
	p[0] = b
	n := 1
	for n < len(p) {
		select {
		case b, ok := <-s.out:
			if !ok {
				return n, nil
			}
			p[n] = b
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

func (s *SimChain) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("sim chain closed")
	}
	for _, b := range p {
		s.feed(b)
	}
	return len(p), nil
}

// SetLines models the master's enable output wired to the first cell.
func (s *SimChain) SetLines(rts, dtr bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rts && dtr && len(s.nodes) > 0 {
		s.nodes[0].enabled = true
	}
	return nil
}

func (s *SimChain) Drain() error {
	return nil
}

func (s *SimChain) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	return nil
}

// feed advances the master-frame parser by one byte; the chain mutex
// must be held.
func (s *SimChain) feed(b byte) {
	if s.addressing {
		s.feedAddressing(b)
		return
	}

	switch s.state {
	case stateIdle:
		if b == SyncByte {
			s.state = stateSync2
		}

	case stateSync2:
		if b == SyncByte {
			s.state = stateFlags
		} else {
			s.state = stateIdle
		}

	case stateFlags:
		if b == SyncByte {
			return // run of sync bytes
		}
		s.flags = b
		s.crc = UpdateCRC(InitCRC(), b)
		s.state = stateDest

	case stateDest:
		s.dest = b
		s.crc = UpdateCRC(s.crc, b)
		s.state = stateCommand

	case stateCommand:
		s.cmd = Command(b)
		s.crc = UpdateCRC(s.crc, b)
		if s.flags&FlagBatch != 0 {
			s.state = stateNodeCount
		} else {
			s.state = stateLength
		}

	case stateNodeCount:
		s.nodeCount = b
		s.crc = UpdateCRC(s.crc, b)
		s.state = stateLength

	case stateLength:
		s.length = b
		s.crc = UpdateCRC(s.crc, b)

		if s.cmd == CmdAddress {
			// The addressing payload is open-ended; it flows byte by
			// byte until the end-of-chain trailer.
			s.addressing = true
			s.lastSync = false
			s.pass++
			s.state = stateIdle
			return
		}

		s.total = int(s.length)
		if s.flags&FlagBatch != 0 {
			s.total = int(s.length) * int(s.nodeCount)
		}
		if s.flags&FlagResponse != 0 {
			// Cells write the payload section, not the master.
			s.total = 0
		}
		s.payload = s.payload[:0]
		if s.total > 0 {
			s.state = statePayload
		} else {
			s.state = stateCRC1
		}

	case statePayload:
		s.payload = append(s.payload, b)
		s.crc = UpdateCRC(s.crc, b)
		if len(s.payload) >= s.total {
			s.state = stateCRC1
		}

	case stateCRC1:
		s.wireCRC = uint16(b) << 8
		s.state = stateCRC2

	case stateCRC2:
		s.wireCRC |= uint16(b)
		s.state = stateIdle
		if s.wireCRC == s.crc {
			s.handleFrame()
		}
	}
}

// feedAddressing consumes one byte of the open-ended addressing
// stream; the chain mutex must be held.
func (s *SimChain) feedAddressing(b byte) {
	if b == SyncByte {
		if s.lastSync {
			// End-of-chain trailer: back to frame hunting for the
			// NULL message that follows.
			s.addressing = false
			s.lastSync = false
			s.state = stateIdle
			return
		}
		s.lastSync = true
		return
	}
	s.lastSync = false
	s.addressingByte(b)
}

// addressingByte delivers a numbering byte to the active cell: the
// first enabled, unaddressed one. A confirmation cascades, because the
// newly enabled neighbour hears the same byte as its candidate.
func (s *SimChain) addressingByte(v byte) {
	idx := -1
	for i, n := range s.nodes {
		if n.enabled && n.addr == 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	node := s.nodes[idx]

	if node.pending != 0 {
		if v == node.pending {
			// Confirmed: take the address and raise the daisy line.
			node.addr = int(v)
			node.pending = 0
			if idx+1 < len(s.nodes) {
				s.nodes[idx+1].enabled = true
				s.addressingByte(v)
			}
			return
		}
		// The correction marker only means anything while a proposal
		// is outstanding; the very first candidate from an empty chain
		// is the same byte value.
		if v == correctionByte {
			node.pending = 0
			return
		}
		node.pending = 0
	}

	// Candidate byte.
	if s.pass <= node.SilentPasses {
		return
	}
	node.EchoCount++
	if node.BadEcho {
		node.pending = 0xEE
		s.emit(0xEE)
		return
	}
	node.pending = v + 1
	s.emit(v + 1)
}

// handleFrame applies a complete master frame to the chain; the chain
// mutex must be held.
func (s *SimChain) handleFrame() {
	switch s.cmd {
	case CmdReset:
		for _, n := range s.nodes {
			n.addr = 0
			n.enabled = false
			n.pending = 0
		}
		s.pass = 0

	case CmdSetColor:
		s.applyColors()

	case CmdRunSensor:
		// Cells sample their sensors; values are already held in
		// SimNode.Sensor.

	case CmdGetSensorValue:
		if s.flags&FlagResponse != 0 {
			s.gatherResponses()
		}
	}
}

// applyColors distributes a SET_COLOR payload.
func (s *SimChain) applyColors() {
	if s.length != 3 {
		return
	}

	if s.flags&FlagBatch != 0 {
		for _, n := range s.nodes {
			if n.addr == 0 {
				continue
			}
			off := (n.addr - 1) * 3
			if off+3 <= len(s.payload) {
				copy(n.Color[:], s.payload[off:off+3])
			}
		}
		return
	}

	if len(s.payload) != 3 {
		return
	}
	for _, n := range s.nodes {
		if n.addr == 0 {
			continue
		}
		if s.dest == Broadcast || int(s.dest) == n.addr {
			copy(n.Color[:], s.payload)
		}
	}
}

// gatherResponses writes each cell's response section in address
// order. A dead cell breaks the sequence there; cells behind it never
// see their turn, which is exactly the gap the master backfills.
func (s *SimChain) gatherResponses() {
	for addr := 1; addr <= int(s.nodeCount); addr++ {
		node := s.byAddr(addr)
		if node == nil || node.Mute {
			return
		}
		s.emit(node.Sensor)
		for i := 1; i < int(s.length); i++ {
			s.emit(0x00)
		}
	}
}

func (s *SimChain) byAddr(addr int) *SimNode {
	for _, n := range s.nodes {
		if n.addr == addr {
			return n
		}
	}
	return nil
}

func (s *SimChain) emit(b byte) {
	if s.closed {
		return
	}
	select {
	case s.out <- b:
	default:
		// Response queue full; the byte is lost like it would be on a
		// saturated bus.
	}
}
