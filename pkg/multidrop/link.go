// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package multidrop

import (
	"io"

	"go.bug.st/serial"
)

// Link is the physical transport the bus master drives: raw byte
// write/read, the two flow-control lines used as the daisy-chain
// enable signal, and a drain barrier for time-sensitive follow-ups.
//
// Read blocks until at least one byte arrives or the link closes;
// inactivity detection is the engine's job, not the link's.
type Link interface {
	io.ReadWriteCloser

	// SetLines drives the RTS and DTR outputs. The bus wires them to
	// the first cell's enable input.
	SetLines(rts, dtr bool) error

	// Drain blocks until every queued write has physically left the
	// transmitter.
	Drain() error
}

// SerialLink drives a local serial device.
type SerialLink struct {
	port serial.Port
}

// OpenSerial opens a serial device as a bus link.
func OpenSerial(device string, baudRate int) (*SerialLink, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, &ConnectionError{Op: "open", Err: err}
	}

	return &SerialLink{port: port}, nil
}

func (s *SerialLink) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialLink) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialLink) SetLines(rts, dtr bool) error {
	if err := s.port.SetRTS(rts); err != nil {
		return err
	}
	return s.port.SetDTR(dtr)
}

func (s *SerialLink) Drain() error {
	return s.port.Drain()
}

func (s *SerialLink) Close() error {
	return s.port.Close()
}
