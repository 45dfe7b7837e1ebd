// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package multidrop

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// ============================================================
// Test link
// ============================================================

// scriptLink records every outbound byte and replays scripted inbound
// chunks, standing in for a serial device.
type scriptLink struct {
	mu     sync.Mutex
	writes bytes.Buffer
	lines  []bool // rts, dtr pairs appended per SetLines call
	rx     chan []byte
	done   chan struct{}
	once   sync.Once
}

func newScriptLink() *scriptLink {
	return &scriptLink{
		rx:   make(chan []byte, 16),
		done: make(chan struct{}),
	}
}

func (l *scriptLink) Read(p []byte) (int, error) {
	select {
	case chunk := <-l.rx:
		return copy(p, chunk), nil
	case <-l.done:
		return 0, io.EOF
	}
}

func (l *scriptLink) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes.Write(p)
	return len(p), nil
}

func (l *scriptLink) SetLines(rts, dtr bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, rts, dtr)
	return nil
}

func (l *scriptLink) Drain() error { return nil }

func (l *scriptLink) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *scriptLink) inject(chunk []byte) {
	l.rx <- chunk
}

func (l *scriptLink) written() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]byte, l.writes.Len())
	copy(out, l.writes.Bytes())
	return out
}

func testBus(link Link) *Bus {
	return NewBus(link,
		WithResponseTimeout(25*time.Millisecond),
		WithSettleDelay(time.Millisecond))
}

// ============================================================
// Transaction lifecycle
// ============================================================

func TestStartMessage_SecondTransactionRejected(t *testing.T) {
	link := newScriptLink()
	b := testBus(link)
	defer b.Close()

	if _, err := b.StartMessage(CmdSetColor, 3, MessageOptions{}); err != nil {
		t.Fatalf("StartMessage: %v", err)
	}
	if _, err := b.StartMessage(CmdSetColor, 3, MessageOptions{}); !errors.Is(err, ErrTransactionOpen) {
		t.Errorf("expected ErrTransactionOpen, got %v", err)
	}
}

func TestSendData_WithoutTransaction(t *testing.T) {
	link := newScriptLink()
	b := testBus(link)
	defer b.Close()

	if err := b.SendData([]byte{0x01}); !errors.Is(err, ErrNoTransaction) {
		t.Errorf("expected ErrNoTransaction, got %v", err)
	}
}

func TestSendData_OverflowIsTerminal(t *testing.T) {
	link := newScriptLink()
	b := testBus(link)
	defer b.Close()

	comp, err := b.StartMessage(CmdSetColor, 3, MessageOptions{})
	if err != nil {
		t.Fatalf("StartMessage: %v", err)
	}

	err = b.SendData([]byte{1, 2, 3, 4})
	var overflow *OverflowError
	if !errors.As(err, &overflow) {
		t.Fatalf("expected OverflowError, got %v", err)
	}
	if overflow.Declared != 3 || overflow.Attempted != 4 {
		t.Errorf("overflow = %+v, want declared 3 attempted 4", overflow)
	}

	// Terminal: the transaction is gone and its handle fired.
	if err := b.SendData([]byte{1}); !errors.Is(err, ErrNoTransaction) {
		t.Errorf("expected ErrNoTransaction after overflow, got %v", err)
	}
	if err := comp.Wait(); !errors.As(err, &overflow) {
		t.Errorf("completion should carry the OverflowError, got %v", err)
	}

	// No payload byte went out: header only (sync, flags, dest, cmd, len).
	if got := len(link.written()); got != 5 {
		t.Errorf("wrote %d bytes, want 5 header bytes only", got)
	}
}

// The canonical batch scenario: SET_COLOR to 4 addressed nodes is
// exactly 21 bytes on the wire.
func TestMessage_WireSize(t *testing.T) {
	link := newScriptLink()
	b := testBus(link)
	defer b.Close()

	b.mu.Lock()
	b.nodeNum = 4
	b.mu.Unlock()

	comp, err := b.StartMessage(CmdSetColor, 3, MessageOptions{Batch: true})
	if err != nil {
		t.Fatalf("StartMessage: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := b.SendData([]byte{0x10, 0x20, 0x30}); err != nil {
			t.Fatalf("SendData %d: %v", i, err)
		}
	}
	if _, err := b.EndMessage(); err != nil {
		t.Fatalf("EndMessage: %v", err)
	}
	if err := comp.Wait(); err != nil {
		t.Fatalf("completion: %v", err)
	}

	wire := link.written()
	if len(wire) != 21 {
		t.Fatalf("wire size = %d, want 21", len(wire))
	}

	// Trailer must checksum FLAGS..payload, syncs excluded.
	wantCRC := ChecksumCRC(wire[2 : len(wire)-2])
	gotCRC := uint16(wire[len(wire)-2])<<8 | uint16(wire[len(wire)-1])
	if gotCRC != wantCRC {
		t.Errorf("trailer CRC 0x%04X, want 0x%04X", gotCRC, wantCRC)
	}
}

func TestEndMessage_ZeroNodeBatchCompletesEmpty(t *testing.T) {
	link := newScriptLink()
	b := testBus(link)
	defer b.Close()

	comp, err := b.StartMessage(CmdGetSensorValue, 1, MessageOptions{
		Batch:            true,
		ResponseExpected: true,
	})
	if err != nil {
		t.Fatalf("StartMessage: %v", err)
	}
	if _, err := b.EndMessage(); err != nil {
		t.Fatalf("EndMessage: %v", err)
	}
	if err := comp.Wait(); err != nil {
		t.Fatalf("zero-node batch should complete, got %v", err)
	}
	if len(comp.Responses()) != 0 {
		t.Errorf("expected empty response table, got %v", comp.Responses())
	}
}

// ============================================================
// Response collection
// ============================================================

func TestResponses_TimeoutBackfillsDefaults(t *testing.T) {
	link := newScriptLink()
	b := testBus(link)
	defer b.Close()

	b.mu.Lock()
	b.nodeNum = 3
	b.mu.Unlock()

	comp, err := b.StartMessage(CmdGetSensorValue, 1, MessageOptions{
		Batch:            true,
		ResponseExpected: true,
		ResponseDefault:  []byte{0xFF},
	})
	if err != nil {
		t.Fatalf("StartMessage: %v", err)
	}
	if _, err := b.EndMessage(); err != nil {
		t.Fatalf("EndMessage: %v", err)
	}

	// Nodes 0 and 1 answer; node 2 stays dead.
	link.inject([]byte{0x0A})
	link.inject([]byte{0x0B})

	if err := comp.Wait(); err != nil {
		t.Fatalf("timeout must not be an error, got %v", err)
	}

	want := [][]byte{{0x0A}, {0x0B}, {0xFF}}
	got := comp.Responses()
	if len(got) != len(want) {
		t.Fatalf("table size = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("slot %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResponses_DefaultPaddedToDeclaredLength(t *testing.T) {
	link := newScriptLink()
	b := testBus(link)
	defer b.Close()

	b.mu.Lock()
	b.nodeNum = 1
	b.mu.Unlock()

	comp, err := b.StartMessage(CmdGetSensorValue, 3, MessageOptions{
		Batch:            true,
		ResponseExpected: true,
		ResponseDefault:  []byte{0xEE}, // shorter than the slot
	})
	if err != nil {
		t.Fatalf("StartMessage: %v", err)
	}
	if _, err := b.EndMessage(); err != nil {
		t.Fatalf("EndMessage: %v", err)
	}

	if err := comp.Wait(); err != nil {
		t.Fatalf("completion: %v", err)
	}
	if got, want := comp.Responses()[0], []byte{0xEE, 0x00, 0x00}; !bytes.Equal(got, want) {
		t.Errorf("backfilled slot = %v, want %v", got, want)
	}
}

// A zero-length response section has nothing to collect; the table is
// complete the moment the trailer is out, with no timer involvement.
func TestResponses_ZeroLengthSlotsCompleteWithoutTimeout(t *testing.T) {
	link := newScriptLink()
	b := NewBus(link, WithResponseTimeout(10*time.Second))
	defer b.Close()

	b.mu.Lock()
	b.nodeNum = 3
	b.mu.Unlock()

	comp, err := b.StartMessage(CmdRunSensor, 0, MessageOptions{
		Batch:            true,
		ResponseExpected: true,
	})
	if err != nil {
		t.Fatalf("StartMessage: %v", err)
	}
	if _, err := b.EndMessage(); err != nil {
		t.Fatalf("EndMessage: %v", err)
	}

	select {
	case err := <-comp.Done():
		if err != nil {
			t.Fatalf("completion: %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("zero-length collection waited on the inactivity timer")
	}

	got := comp.Responses()
	if len(got) != 3 {
		t.Fatalf("table size = %d, want 3", len(got))
	}
	for i, slot := range got {
		if len(slot) != 0 {
			t.Errorf("slot %d = %v, want empty", i, slot)
		}
	}
}

func TestResponses_StrayBytesAfterCompletionAreDropped(t *testing.T) {
	link := newScriptLink()
	b := testBus(link)
	defer b.Close()

	b.mu.Lock()
	b.nodeNum = 1
	b.mu.Unlock()

	comp, err := b.StartMessage(CmdGetSensorValue, 1, MessageOptions{
		Batch:            true,
		ResponseExpected: true,
	})
	if err != nil {
		t.Fatalf("StartMessage: %v", err)
	}
	if _, err := b.EndMessage(); err != nil {
		t.Fatalf("EndMessage: %v", err)
	}

	// One expected byte plus trailing garbage in the same chunk.
	link.inject([]byte{0x42, 0xDE, 0xAD})

	if err := comp.Wait(); err != nil {
		t.Fatalf("stray bytes must not fail the transaction, got %v", err)
	}
	if got := comp.Responses()[0]; !bytes.Equal(got, []byte{0x42}) {
		t.Errorf("slot 0 = %v, want [0x42]", got)
	}

	// The engine is reusable afterwards.
	if _, err := b.StartMessage(CmdNull, 0, MessageOptions{}); err != nil {
		t.Errorf("bus should accept a new transaction, got %v", err)
	}
}

// ============================================================
// Disconnects
// ============================================================

func TestClose_FailsOpenTransaction(t *testing.T) {
	link := newScriptLink()
	b := testBus(link)

	comp, err := b.StartMessage(CmdSetColor, 3, MessageOptions{})
	if err != nil {
		t.Fatalf("StartMessage: %v", err)
	}

	b.Close()

	var cerr *ConnectionError
	if err := comp.Wait(); !errors.As(err, &cerr) {
		t.Errorf("expected ConnectionError, got %v", err)
	}
	if b.Connected() {
		t.Error("bus should report disconnected after Close")
	}
	if b.NodeCount() != 0 {
		t.Error("node count should reset on disconnect")
	}
	if _, err := b.StartMessage(CmdNull, 0, MessageOptions{}); err == nil {
		t.Error("StartMessage on a closed bus should fail")
	}
}

func TestLinkFailure_SurfacesOnCompletion(t *testing.T) {
	link := newScriptLink()
	b := testBus(link)
	defer b.Close()

	b.mu.Lock()
	b.nodeNum = 2
	b.mu.Unlock()

	comp, err := b.StartMessage(CmdGetSensorValue, 1, MessageOptions{
		Batch:            true,
		ResponseExpected: true,
	})
	if err != nil {
		t.Fatalf("StartMessage: %v", err)
	}
	if _, err := b.EndMessage(); err != nil {
		t.Fatalf("EndMessage: %v", err)
	}

	// The device goes away mid-collection.
	link.Close()

	var cerr *ConnectionError
	if err := comp.Wait(); !errors.As(err, &cerr) {
		t.Errorf("expected ConnectionError, got %v", err)
	}
}
