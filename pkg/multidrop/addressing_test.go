// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package multidrop

import (
	"bytes"
	"errors"
	"io"
	"log"
	"testing"
	"time"
)

func simBus(t *testing.T, n int) (*SimChain, *Bus) {
	t.Helper()
	sim := NewSimChain(n)
	b := NewBus(sim,
		WithResponseTimeout(25*time.Millisecond),
		WithSettleDelay(time.Millisecond),
		WithLogger(log.New(io.Discard, "", 0)))
	t.Cleanup(func() { b.Close() })
	return sim, b
}

func TestAddressing_WellBehavedChain(t *testing.T) {
	sim, b := simBus(t, 5)

	comp, err := b.StartAddressing(0)
	if err != nil {
		t.Fatalf("StartAddressing: %v", err)
	}

	var confirmed []int
	for v := range comp.Progress() {
		confirmed = append(confirmed, v)
	}
	if err := comp.Wait(); err != nil {
		t.Fatalf("addressing: %v", err)
	}

	if got := b.NodeCount(); got != 5 {
		t.Errorf("node count = %d, want 5", got)
	}
	for i, want := range []int{1, 2, 3, 4, 5} {
		if got := sim.Node(i).Addr(); got != want {
			t.Errorf("chain position %d has address %d, want %d", i, got, want)
		}
	}
	// Progress is strictly sequential; the second sweep finds nothing.
	for i, v := range confirmed {
		if v != i+1 {
			t.Fatalf("progress[%d] = %d, want %d", i, v, i+1)
		}
	}
	if len(confirmed) != 5 {
		t.Errorf("got %d progress values, want 5", len(confirmed))
	}
	// One echo per node: everything was numbered on the primary pass.
	for i := 0; i < 5; i++ {
		if n := sim.Node(i).EchoCount; n != 1 {
			t.Errorf("node %d echoed %d times, want 1", i, n)
		}
	}
}

func TestAddressing_SecondSweepRecoversStragglers(t *testing.T) {
	sim, b := simBus(t, 5)

	// Chain position 2 (would-be address 3) misses the first pass.
	sim.Node(2).SilentPasses = 1

	comp, err := b.StartAddressing(0)
	if err != nil {
		t.Fatalf("StartAddressing: %v", err)
	}
	if err := comp.Wait(); err != nil {
		t.Fatalf("addressing: %v", err)
	}

	if got := b.NodeCount(); got != 5 {
		t.Errorf("node count = %d, want 5", got)
	}
	for i, want := range []int{1, 2, 3, 4, 5} {
		if got := sim.Node(i).Addr(); got != want {
			t.Errorf("chain position %d has address %d, want %d", i, got, want)
		}
	}
}

func TestAddressing_PersistentBadEchoFails(t *testing.T) {
	sim, b := simBus(t, 1)
	sim.Node(0).BadEcho = true

	comp, err := b.StartAddressing(0)
	if err != nil {
		t.Fatalf("StartAddressing: %v", err)
	}

	var aerr *AddressingError
	if err := comp.Wait(); !errors.As(err, &aerr) {
		t.Fatalf("expected AddressingError, got %v", err)
	}
	if aerr.Attempts != MaxAddressCorrections+1 {
		t.Errorf("attempts = %d, want %d", aerr.Attempts, MaxAddressCorrections+1)
	}
	// Initial candidate plus ten corrections.
	if n := sim.Node(0).EchoCount; n != MaxAddressCorrections+1 {
		t.Errorf("node echoed %d times, want %d", n, MaxAddressCorrections+1)
	}
	if b.NodeCount() != 0 {
		t.Errorf("node count = %d, want 0 after failure", b.NodeCount())
	}

	// The session is gone; a retry is allowed.
	if _, err := b.StartAddressing(0); err != nil {
		t.Errorf("retry should be accepted, got %v", err)
	}
}

// An aborted session must be torn down completely: the engine accepts
// a fresh session afterwards instead of reporting one still active.
func TestAddressing_AbortTearsDownSession(t *testing.T) {
	sim, b := simBus(t, 3)

	comp, err := b.StartAddressing(0)
	if err != nil {
		t.Fatalf("StartAddressing: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	cancelled := errors.New("operator cancelled")
	if err := b.Abort(cancelled); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if err := comp.Wait(); !errors.Is(err, cancelled) {
		t.Errorf("completion should carry the abort error, got %v", err)
	}

	retry, err := b.StartAddressing(0)
	if err != nil {
		t.Fatalf("StartAddressing after Abort: %v", err)
	}
	if err := retry.Wait(); err != nil {
		t.Fatalf("retry session: %v", err)
	}
	if got := b.NodeCount(); got != 3 {
		t.Errorf("node count = %d, want 3", got)
	}
	for i, want := range []int{1, 2, 3} {
		if got := sim.Node(i).Addr(); got != want {
			t.Errorf("chain position %d has address %d, want %d", i, got, want)
		}
	}
}

func TestAddressing_ExclusiveWithTransactions(t *testing.T) {
	_, b := simBus(t, 2)

	comp, err := b.StartAddressing(0)
	if err != nil {
		t.Fatalf("StartAddressing: %v", err)
	}

	if _, err := b.StartAddressing(0); !errors.Is(err, ErrAddressingActive) {
		t.Errorf("expected ErrAddressingActive, got %v", err)
	}
	if _, err := b.StartMessage(CmdNull, 0, MessageOptions{}); !errors.Is(err, ErrAddressingActive) {
		t.Errorf("expected ErrAddressingActive, got %v", err)
	}
	if err := b.SendData([]byte{0x01}); !errors.Is(err, ErrNoTransaction) {
		t.Errorf("payload must not reach the numbering handshake, got %v", err)
	}

	if err := comp.Wait(); err != nil {
		t.Fatalf("addressing: %v", err)
	}
	if _, err := b.StartMessage(CmdNull, 0, MessageOptions{}); err != nil {
		t.Errorf("bus should accept transactions after addressing, got %v", err)
	}
}

// End-to-end: number the chain, scatter colors, gather sensors.
func TestAddressing_ThenScatterGather(t *testing.T) {
	sim, b := simBus(t, 4)

	comp, err := b.StartAddressing(0)
	if err != nil {
		t.Fatalf("StartAddressing: %v", err)
	}
	if err := comp.Wait(); err != nil {
		t.Fatalf("addressing: %v", err)
	}

	colors := [][3]byte{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}, {10, 11, 12}}
	if err := b.SetColors(colors); err != nil {
		t.Fatalf("SetColors: %v", err)
	}
	for i, want := range colors {
		if got := sim.Node(i).Color; got != want {
			t.Errorf("node %d color = %v, want %v", i, got, want)
		}
	}

	for i := 0; i < 4; i++ {
		sim.Node(i).Sensor = byte(0x30 + i)
	}
	if err := b.RunSensors(); err != nil {
		t.Fatalf("RunSensors: %v", err)
	}
	values, err := b.ReadSensors()
	if err != nil {
		t.Fatalf("ReadSensors: %v", err)
	}
	if want := []byte{0x30, 0x31, 0x32, 0x33}; !bytes.Equal(values, want) {
		t.Errorf("sensor values = %v, want %v", values, want)
	}
}

func TestAddressing_MuteNodeDegradesOnlyItsSlot(t *testing.T) {
	sim, b := simBus(t, 3)

	comp, err := b.StartAddressing(0)
	if err != nil {
		t.Fatalf("StartAddressing: %v", err)
	}
	if err := comp.Wait(); err != nil {
		t.Fatalf("addressing: %v", err)
	}

	sim.Node(0).Sensor = 0x0A
	sim.Node(1).Sensor = 0x0B
	sim.Node(2).Mute = true

	values, err := b.ReadSensors()
	if err != nil {
		t.Fatalf("ReadSensors: %v", err)
	}
	if want := []byte{0x0A, 0x0B, 0x00}; !bytes.Equal(values, want) {
		t.Errorf("sensor values = %v, want %v", values, want)
	}
}
