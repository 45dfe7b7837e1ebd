// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package multidrop

import (
	"errors"
	"log"
	"sync"
	"time"
)

var errNotConnected = errors.New("not connected")

// MessageOptions control one bus transaction.
type MessageOptions struct {
	// Batch marks the payload as nodeCount repetitions of a per-node
	// chunk, scattered to (or gathered from) each cell in address
	// order.
	Batch bool

	// ResponseExpected makes the engine collect a per-node response
	// section after the message is sent.
	ResponseExpected bool

	// Destination is the target node address. Zero broadcasts.
	Destination uint8

	// ResponseDefault is written into a node's response slot when that
	// node stays silent past the inactivity window. It is padded or
	// truncated to the declared per-node length.
	ResponseDefault []byte
}

// Completion is the single-consumer event stream for one transaction
// or addressing session: progress values while it runs, then exactly
// one terminal result on Done.
type Completion struct {
	progress  chan int
	done      chan error
	err       error
	responses [][]byte
	fired     bool
}

func newCompletion() *Completion {
	return &Completion{
		progress: make(chan int, 64),
		done:     make(chan error, 1),
	}
}

// Progress yields intermediate values (confirmed node addresses during
// addressing). The channel closes when the operation terminates.
func (c *Completion) Progress() <-chan int {
	return c.progress
}

// Done yields the terminal result: nil on success, otherwise the
// error that ended the transaction.
func (c *Completion) Done() <-chan error {
	return c.done
}

// Responses returns the per-node response table. Valid only after Done
// has fired on a response-expecting transaction.
func (c *Completion) Responses() [][]byte {
	return c.responses
}

// Wait blocks until the operation terminates and returns its result.
func (c *Completion) Wait() error {
	err, ok := <-c.done
	if !ok {
		return c.err
	}
	return err
}

// emit pushes a progress value without blocking; the bus mutex must be
// held. A slow consumer loses intermediate values, never the terminal
// result.
func (c *Completion) emit(v int) {
	if c.fired {
		return
	}
	select {
	case c.progress <- v:
	default:
	}
}

// complete fires the terminal result exactly once; the bus mutex must
// be held.
func (c *Completion) complete(err error) {
	if c.fired {
		return
	}
	c.fired = true
	c.err = err
	close(c.progress)
	c.done <- err
	close(c.done)
}

// transaction is the live state of one in-flight message.
type transaction struct {
	cmd        Command
	perNodeLen int
	total      int // declared payload length for the whole message
	sent       int
	crc        uint16
	batch      bool
	response   bool
	addressing bool
	defaults   []byte
	table      *responseTable
	comp       *Completion

	// receiving is set once the trailer is out and the engine is
	// collecting the response section.
	receiving bool
}

// Bus is one master session on the floor bus. It owns the link, the
// node count, and the at-most-one open transaction; all inbound bytes
// and timer callbacks serialize through its dispatch loop.
type Bus struct {
	link        Link
	logger      *log.Logger
	respTimeout time.Duration
	settle      time.Duration

	mu           sync.Mutex
	connected    bool
	closed       bool
	nodeNum      int
	txn          *transaction
	sess         *addressingSession
	lastActivity time.Time

	timer *time.Timer
	rx    chan []byte
	stop  chan struct{}
}

// NewBus wraps an open link in a bus session and starts its receive
// machinery. Close the bus, not the link, when done.
func NewBus(link Link, opts ...Option) *Bus {
	b := &Bus{
		link:        link,
		logger:      log.Default(),
		respTimeout: DefaultResponseTimeout,
		settle:      DefaultSettleDelay,
		connected:   true,
		timer:       time.NewTimer(time.Hour),
		rx:          make(chan []byte, 16),
		stop:        make(chan struct{}),
	}
	if !b.timer.Stop() {
		<-b.timer.C
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.readLoop()
	go b.dispatchLoop()

	return b
}

// Connected reports whether the link is still usable.
func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected && !b.closed
}

// NodeCount returns the number of addressed nodes. Zero until an
// addressing session succeeds; reset on disconnect.
func (b *Bus) NodeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nodeNum
}

// Close tears the session down. Any open transaction or addressing
// session terminates with a ConnectionError.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.connected = false
	b.nodeNum = 0
	b.failAllLocked(&ConnectionError{Op: "close"})
	close(b.stop)
	b.mu.Unlock()

	return b.link.Close()
}

// StartMessage opens a transaction and writes its header. The returned
// Completion fires when the transaction ends; for response-expecting
// messages that is after the response table fills (or backfills).
func (b *Bus) StartMessage(cmd Command, perNodeLen int, opts MessageOptions) (*Completion, error) {
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
	if perNodeLen < 0 || perNodeLen > 255 {
		return nil, &OverflowError{Declared: 255, Attempted: perNodeLen}
	}

	nodeCount := 1
	if opts.Batch {
		nodeCount = b.nodeNum
	}

	txn := &transaction{
		cmd:        cmd,
		perNodeLen: perNodeLen,
		total:      perNodeLen * nodeCount,
		batch:      opts.Batch,
		response:   opts.ResponseExpected,
		defaults:   opts.ResponseDefault,
		comp:       newCompletion(),
	}
	if opts.ResponseExpected {
		txn.table = newResponseTable(nodeCount, perNodeLen)
	}

	header := b.buildHeader(cmd, perNodeLen, opts.Batch, opts.ResponseExpected, opts.Destination, byte(nodeCount))
	txn.crc = checksumHeader(header)

	if err := b.writeAll(header); err != nil {
		return nil, err
	}

	b.txn = txn
	return txn.comp, nil
}

// SendData streams payload bytes onto the bus. Bytes go out
// immediately, in call order, with the CRC updated per byte; the
// message is never buffered whole.
func (b *Bus) SendData(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	txn := b.txn
	if txn == nil || txn.receiving || txn.addressing {
		return ErrNoTransaction
	}

	if txn.sent+len(p) > txn.total {
		err := &OverflowError{Declared: txn.total, Attempted: txn.sent + len(p)}
		txn.comp.complete(err)
		b.txn = nil
		return err
	}

	if err := b.writeAll(p); err != nil {
		return err
	}
	for _, by := range p {
		txn.crc = UpdateCRC(txn.crc, by)
	}
	txn.sent += len(p)
	return nil
}

// EndMessage appends the CRC trailer and closes the sending half of
// the transaction. With no response expected the Completion fires once
// the link drains; otherwise it fires when collection finishes.
func (b *Bus) EndMessage() (*Completion, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	txn := b.txn
	if txn == nil || txn.receiving {
		return nil, ErrNoTransaction
	}
	comp := txn.comp

	if txn.response {
		// Arm collection before the trailer goes out so an eager
		// node's first byte is never mistaken for stray data.
		txn.receiving = true
		if !txn.table.done() {
			b.armTimer()
		}
	}

	trailer := []byte{byte(txn.crc >> 8), byte(txn.crc)}
	if err := b.writeAll(trailer); err != nil {
		return comp, err
	}
	if err := b.link.Drain(); err != nil {
		cerr := &ConnectionError{Op: "drain", Err: err}
		b.failAllLocked(cerr)
		return comp, cerr
	}

	if !txn.response {
		comp.complete(nil)
		b.txn = nil
		return comp, nil
	}

	// Zero addressed nodes: nothing to collect, complete with an
	// empty table.
	if txn.table.done() {
		b.finishResponsesLocked(txn)
	}
	return comp, nil
}

// Abort terminates the open transaction or addressing session with err
// (or ErrNoTransaction if neither is open). No trailer is sent; an
// aborted addressing session is torn down completely so the engine can
// be reused.
func (b *Bus) Abort(err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sess != nil {
		b.failAddressing(b.sess, err)
		return nil
	}
	if b.txn == nil {
		return ErrNoTransaction
	}
	b.stopTimer()
	b.txn.comp.complete(err)
	b.txn = nil
	return nil
}

// buildHeader assembles the framed header:
// SYNC SYNC FLAGS DEST CMD [NODECOUNT] LEN.
func (b *Bus) buildHeader(cmd Command, perNodeLen int, batch, response bool, dest, nodeCount byte) []byte {
	var flags byte
	if batch {
		flags |= FlagBatch
	}
	if response {
		flags |= FlagResponse
	}

	header := make([]byte, 0, 7)
	header = append(header, SyncByte, SyncByte, flags, dest, byte(cmd))
	if batch {
		header = append(header, nodeCount)
	}
	header = append(header, byte(perNodeLen))
	return header
}

// checksumHeader seeds a transaction CRC from a header, skipping the
// two sync bytes, which sit outside the checksum domain.
func checksumHeader(header []byte) uint16 {
	state := InitCRC()
	for _, by := range header[2:] {
		state = UpdateCRC(state, by)
	}
	return state
}

// writeAll pushes p to the link in one ordered burst; the bus mutex
// must be held.
func (b *Bus) writeAll(p []byte) error {
	for len(p) > 0 {
		n, err := b.link.Write(p)
		if err != nil {
			cerr := &ConnectionError{Op: "write", Err: err}
			b.failAllLocked(cerr)
			return cerr
		}
		p = p[n:]
	}
	return nil
}

// writeEmptyMessage sends a complete zero-length broadcast message,
// CRC trailer included; the bus mutex must be held.
func (b *Bus) writeEmptyMessage(cmd Command) error {
	header := b.buildHeader(cmd, 0, false, false, Broadcast, 0)
	crc := checksumHeader(header)
	msg := append(header, byte(crc>>8), byte(crc))
	return b.writeAll(msg)
}

// failAllLocked terminates the open transaction and any addressing
// session with err and resets session state so the engine is reusable
// after a reconnect; the bus mutex must be held.
func (b *Bus) failAllLocked(err error) {
	b.stopTimer()
	if b.txn != nil {
		b.txn.comp.complete(err)
		b.txn = nil
	}
	if b.sess != nil {
		b.sess.numbering = false
		b.sess.comp.complete(err)
		b.sess = nil
	}
	if _, ok := err.(*ConnectionError); ok {
		b.connected = false
		b.nodeNum = 0
	}
}

// readLoop moves raw link bytes onto the dispatch channel.
func (b *Bus) readLoop() {
	buf := make([]byte, 256)
	for {
		n, err := b.link.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case b.rx <- chunk:
			case <-b.stop:
				return
			}
		}
		if err != nil {
			b.mu.Lock()
			if !b.closed {
				b.failAllLocked(&ConnectionError{Op: "read", Err: err})
			}
			b.mu.Unlock()
			return
		}
	}
}

// dispatchLoop is the single logical execution context for inbound
// bytes and timer expiry. No transaction state is mutated outside the
// bus mutex.
func (b *Bus) dispatchLoop() {
	for {
		select {
		case <-b.stop:
			return
		case chunk := <-b.rx:
			b.handleBytes(chunk)
		case <-b.timer.C:
			b.handleTimeout()
		}
	}
}

// handleBytes routes inbound bytes to the addressing session or the
// response collector. Bytes with no consumer are a protocol warning,
// not an error; the link may deliver trailing framing bytes.
func (b *Bus) handleBytes(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for _, by := range chunk {
		switch {
		case b.sess != nil && b.sess.numbering:
			b.armTimer()
			b.handleAddressingByte(by)
		case b.txn != nil && b.txn.receiving && !b.txn.table.done():
			b.armTimer()
			b.txn.table.push(by)
			if b.txn.table.done() {
				b.finishResponsesLocked(b.txn)
			}
		default:
			dropped++
		}
	}
	if dropped > 0 {
		b.logger.Printf("multidrop: dropped %d unexpected byte(s) outside a response window", dropped)
	}
}

// handleTimeout fires when the inactivity window elapses with no
// received byte. For addressing that is the normal end of a pass; for
// response collection the current slot is backfilled with the declared
// default so one dead node never stalls the batch.
func (b *Bus) handleTimeout() {
	b.mu.Lock()
	defer b.mu.Unlock()

	awaiting := (b.sess != nil && b.sess.numbering) ||
		(b.txn != nil && b.txn.receiving)
	if !awaiting {
		return
	}

	// The timer may fire late, racing a byte that already restarted
	// the window. Only a genuinely idle bus counts.
	if idle := time.Since(b.lastActivity); idle < b.respTimeout {
		b.timer.Reset(b.respTimeout - idle)
		return
	}

	if b.sess != nil && b.sess.numbering {
		b.endAddressingPass()
		return
	}

	txn := b.txn
	txn.table.backfill(txn.defaults)
	if txn.table.done() {
		b.finishResponsesLocked(txn)
	} else {
		b.armTimer()
	}
}

// finishResponsesLocked completes a response-expecting transaction
// successfully; the bus mutex must be held.
func (b *Bus) finishResponsesLocked(txn *transaction) {
	b.stopTimer()
	txn.comp.responses = txn.table.slots
	txn.comp.complete(nil)
	if b.txn == txn {
		b.txn = nil
	}
}

func (b *Bus) armTimer() {
	b.lastActivity = time.Now()
	if !b.timer.Stop() {
		select {
		case <-b.timer.C:
		default:
		}
	}
	b.timer.Reset(b.respTimeout)
}

func (b *Bus) stopTimer() {
	if !b.timer.Stop() {
		select {
		case <-b.timer.C:
		default:
		}
	}
}
