// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

// Package multidrop implements the master side of the Disco Floor
// multi-drop serial bus.
//
// One controller talks to an ordered chain of floor cells over a
// half-duplex RS-485 link. Cells have no pre-assigned identity; they
// are numbered at runtime through a daisy-chained enable line. A
// single framed message can scatter a per-node payload to every cell
// and gather a per-node response back, with an inactivity timeout and
// default backfill covering cells that never answer.
package multidrop

import "time"

// Wire framing
const (
	// SyncByte appears twice at the start of every message. The two
	// sync bytes are sent as literal framing and are excluded from the
	// CRC domain.
	SyncByte = 0xFF

	// Broadcast addresses every node on the bus. Address 0 is reserved
	// for the master; real node addresses start at 1.
	Broadcast = 0x00
)

// Header flag bits
const (
	FlagBatch    = 0x01 // payload is one chunk per addressed node
	FlagResponse = 0x02 // nodes write a response section onto the bus
)

// Command is a bus message opcode.
type Command uint8

// Bus commands. SetColor, RunSensor and GetSensorValue match the cell
// firmware's opcodes; the remaining values are bus-level.
const (
	CmdNull           Command = 0x00
	CmdSetColor       Command = 0xA1
	CmdRunSensor      Command = 0xA2
	CmdGetSensorValue Command = 0xA3
	CmdReset          Command = 0xFA
	CmdAddress        Command = 0xFB
)

// CRC-16 configuration (Modbus-style reflected polynomial)
const (
	crcPolynomial = 0xA001
	crcInitial    = 0xFFFF
)

// Addressing
const (
	// MaxAddressCorrections is how many times a bad address echo is
	// corrected before the session fails.
	MaxAddressCorrections = 10

	// addressResponseLen is the declared per-node length of the
	// addressing message.
	addressResponseLen = 2

	// correctionByte precedes a resent confirmed address when a node
	// echoed the wrong value.
	correctionByte = 0x00

	// addressingPasses is the fixed number of numbering sweeps per
	// session. The second sweep picks up nodes that missed the first
	// (noise, late power-up).
	addressingPasses = 2
)

// Timing defaults, tunable through Options.
const (
	// DefaultResponseTimeout is the per-byte inactivity window while
	// collecting responses. It reflects the expected turnaround of one
	// node on the bus, not a whole-transaction deadline.
	DefaultResponseTimeout = 50 * time.Millisecond

	// DefaultSettleDelay sits between the broadcast reset and the
	// first addressing pass, giving cells time to come back up.
	DefaultSettleDelay = 50 * time.Millisecond

	// DefaultBaudRate matches the cell firmware's serial rate.
	DefaultBaudRate = 9600
)

// MaxNodes is bounded by the one-byte node count field in the header.
const MaxNodes = 255

// Decoder states (internal)
const (
	stateIdle = iota
	stateSync2
	stateFlags
	stateDest
	stateCommand
	stateNodeCount
	stateLength
	statePayload
	stateCRC1
	stateCRC2
)
