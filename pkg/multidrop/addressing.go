// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package multidrop

import "time"

// addressingSession is the transient state of one numbering session:
// two sweep passes over the chain, a correction counter for the node
// currently being numbered, and the single "currently numbering" bit
// that routes inbound bytes here instead of the response collector.
type addressingSession struct {
	comp        *Completion
	pass        int
	corrections int
	attempts    int // sends for the current node, initial included
	numbering   bool
}

// StartAddressing numbers the whole chain. Every cell forgets its
// address, the daisy-chain enable line is asserted, and cells are
// assigned sequential addresses starting above startFrom (normally 0).
// Confirmed addresses stream out on the Completion's Progress channel;
// Done fires with the session result. The final node count is
// NodeCount.
//
// Addressing is strictly order-preserving: a silent cell truncates the
// chain for that pass, and the second sweep recovers stragglers.
func (b *Bus) StartAddressing(startFrom int) (*Completion, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || !b.connected {
		return nil, &ConnectionError{Op: "start", Err: errNotConnected}
	}
	if b.sess != nil {
		return nil, ErrAddressingActive
	}
	if b.txn != nil {
		return nil, ErrTransactionOpen
	}
	if startFrom < 0 {
		startFrom = 0
	}

	b.nodeNum = startFrom
	sess := &addressingSession{comp: newCompletion(), pass: 1}
	b.sess = sess

	go b.beginAddressing(sess)
	return sess.comp, nil
}

// beginAddressing runs the session preamble: broadcast reset, settle
// delay, enable line, first pass.
func (b *Bus) beginAddressing(sess *addressingSession) {
	b.mu.Lock()
	if b.sess != sess {
		b.mu.Unlock()
		return
	}
	if err := b.writeEmptyMessage(CmdReset); err != nil {
		b.mu.Unlock()
		return // writeAll already failed the session
	}
	if err := b.link.Drain(); err != nil {
		b.failAllLocked(&ConnectionError{Op: "drain", Err: err})
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	// Give cells time to come back from the reset before the first
	// one is enabled.
	time.Sleep(b.settle)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess != sess {
		return
	}
	if err := b.link.SetLines(true, true); err != nil {
		b.failAllLocked(&ConnectionError{Op: "set lines", Err: err})
		return
	}
	b.startAddressingPass(sess)
}

// startAddressingPass opens the batched, response-expecting ADDRESS
// message and sends the first candidate byte; the bus mutex must be
// held.
func (b *Bus) startAddressingPass(sess *addressingSession) {
	header := b.buildHeader(CmdAddress, addressResponseLen, true, true, Broadcast, byte(b.nodeNum))
	if err := b.writeAll(header); err != nil {
		return
	}

	b.txn = &transaction{
		cmd:        CmdAddress,
		perNodeLen: addressResponseLen,
		batch:      true,
		response:   true,
		addressing: true,
		comp:       sess.comp,
	}
	sess.numbering = true
	sess.corrections = 0
	sess.attempts = 1

	// The candidate: each newly enabled cell echoes candidate+1.
	if err := b.writeAll([]byte{byte(b.nodeNum)}); err != nil {
		return
	}
	b.armTimer()
}

// handleAddressingByte consumes one echoed byte while numbering; the
// bus mutex must be held. A matching echo confirms the next address;
// anything else is corrected up to MaxAddressCorrections times.
func (b *Bus) handleAddressingByte(v byte) {
	sess := b.sess

	if v == byte(b.nodeNum+1) && b.nodeNum < MaxNodes {
		b.nodeNum++
		sess.corrections = 0
		sess.attempts = 1
		// Echo the confirmed address back; the cell raises its daisy
		// line on seeing it, and the next cell answers this same byte.
		if err := b.writeAll([]byte{byte(b.nodeNum)}); err != nil {
			return
		}
		sess.comp.emit(b.nodeNum)
		return
	}

	if sess.corrections >= MaxAddressCorrections {
		b.failAddressing(sess, &AddressingError{
			Confirmed: b.nodeNum,
			Attempts:  sess.attempts,
		})
		return
	}
	sess.corrections++
	sess.attempts++
	// Correction marker, then the last confirmed address so the cell
	// can try again.
	b.writeAll([]byte{correctionByte, byte(b.nodeNum)})
}

// endAddressingPass terminates the current pass after the bus went
// idle. That is the normal "no more nodes responding" outcome, never
// an error; the bus mutex must be held.
func (b *Bus) endAddressingPass() {
	sess := b.sess
	sess.numbering = false
	b.stopTimer()

	// End-of-chain trailer, then a clean broadcast NULL frame so every
	// cell returns to hunting for sync.
	if err := b.writeAll([]byte{SyncByte, SyncByte}); err != nil {
		return
	}
	if err := b.writeEmptyMessage(CmdNull); err != nil {
		return
	}
	if err := b.link.Drain(); err != nil {
		b.failAllLocked(&ConnectionError{Op: "drain", Err: err})
		return
	}
	b.txn = nil

	if sess.pass < addressingPasses {
		sess.pass++
		b.startAddressingPass(sess)
		return
	}

	if err := b.link.SetLines(false, false); err != nil {
		b.failAllLocked(&ConnectionError{Op: "set lines", Err: err})
		return
	}
	b.sess = nil
	sess.comp.complete(nil)
}

// failAddressing aborts the session; the bus mutex must be held.
func (b *Bus) failAddressing(sess *addressingSession, err error) {
	sess.numbering = false
	b.stopTimer()
	b.txn = nil

	// Return the chain to frame hunting, exactly like a normal pass
	// end. Without this the next session's broadcast reset would be
	// consumed as addressing bytes.
	if werr := b.writeAll([]byte{SyncByte, SyncByte}); werr == nil {
		b.writeEmptyMessage(CmdNull)
	}
	if b.sess != sess {
		// A write failure already tore the session down.
		return
	}
	b.sess = nil
	b.link.SetLines(false, false)
	sess.comp.complete(err)
}
