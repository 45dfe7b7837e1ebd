// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package multidrop

import "fmt"

// High-level floor operations built on the transaction primitives.
// Each one runs a complete message cycle and blocks until the
// transaction terminates.

// SetColors scatters one RGB triplet to every addressed cell, in
// address order. len(colors) must match the addressed node count.
func (b *Bus) SetColors(colors [][3]byte) error {
	if got, want := len(colors), b.NodeCount(); got != want {
		return fmt.Errorf("multidrop: %d color(s) for %d addressed node(s)", got, want)
	}

	comp, err := b.StartMessage(CmdSetColor, 3, MessageOptions{Batch: true})
	if err != nil {
		return err
	}
	for _, c := range colors {
		if err := b.SendData([]byte{c[0], c[1], c[2]}); err != nil {
			return err
		}
	}
	if _, err := b.EndMessage(); err != nil {
		return err
	}
	return comp.Wait()
}

// SetAllColor broadcasts a single RGB triplet to the whole floor.
func (b *Bus) SetAllColor(c [3]byte) error {
	comp, err := b.StartMessage(CmdSetColor, 3, MessageOptions{})
	if err != nil {
		return err
	}
	if err := b.SendData([]byte{c[0], c[1], c[2]}); err != nil {
		return err
	}
	if _, err := b.EndMessage(); err != nil {
		return err
	}
	return comp.Wait()
}

// RunSensors broadcasts a sensor sweep; every cell samples its touch
// sensor so a following ReadSensors gathers fresh values.
func (b *Bus) RunSensors() error {
	comp, err := b.StartMessage(CmdRunSensor, 0, MessageOptions{})
	if err != nil {
		return err
	}
	if _, err := b.EndMessage(); err != nil {
		return err
	}
	return comp.Wait()
}

// ReadSensors gathers one touch-sensor byte from every addressed cell.
// A silent cell reads back as zero (not touched) rather than stalling
// the sweep.
func (b *Bus) ReadSensors() ([]byte, error) {
	comp, err := b.StartMessage(CmdGetSensorValue, 1, MessageOptions{
		Batch:            true,
		ResponseExpected: true,
		ResponseDefault:  []byte{0x00},
	})
	if err != nil {
		return nil, err
	}
	if _, err := b.EndMessage(); err != nil {
		return nil, err
	}
	if err := comp.Wait(); err != nil {
		return nil, err
	}

	values := make([]byte, 0, len(comp.Responses()))
	for _, slot := range comp.Responses() {
		values = append(values, slot[0])
	}
	return values, nil
}
