// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package multidrop

// responseTable accumulates per-node response bytes during a
// response-expecting transaction. Slots fill strictly in address
// order: at any instant at most one slot is partially filled, slots
// below it are complete, slots above it untouched.
type responseTable struct {
	perNodeLen int
	slots      [][]byte
	current    int
}

func newResponseTable(nodes, perNodeLen int) *responseTable {
	if nodes < 0 {
		nodes = 0
	}
	t := &responseTable{
		perNodeLen: perNodeLen,
		slots:      make([][]byte, nodes),
	}
	for i := range t.slots {
		t.slots[i] = make([]byte, 0, perNodeLen)
	}
	if perNodeLen <= 0 {
		// Zero-length slots are complete by definition; nothing to
		// collect and nothing to time out on.
		t.current = len(t.slots)
	}
	return t
}

// done reports whether every slot has reached the declared length.
func (t *responseTable) done() bool {
	return t.current >= len(t.slots)
}

// push appends one byte to the in-progress slot, advancing to the next
// slot when it reaches the declared per-node length.
func (t *responseTable) push(b byte) {
	if t.done() {
		return
	}
	t.slots[t.current] = append(t.slots[t.current], b)
	if len(t.slots[t.current]) >= t.perNodeLen {
		t.current++
	}
}

// backfill force-completes the in-progress slot with the declared
// default vector, padded or truncated to the per-node length, exactly
// as if those bytes had arrived from the node.
func (t *responseTable) backfill(def []byte) {
	if t.done() {
		return
	}
	slot := make([]byte, t.perNodeLen)
	copy(slot, def)
	t.slots[t.current] = slot
	t.current++
}
