// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package multidrop

// InitCRC returns the seed state for a fresh CRC-16 accumulator.
// The accumulator is a pure function of (state, byte) so it can be
// driven byte-by-byte as a message streams out.
func InitCRC() uint16 {
	return crcInitial
}

// UpdateCRC folds one byte into the running CRC-16 state.
func UpdateCRC(state uint16, b byte) uint16 {
	state ^= uint16(b)
	for i := 0; i < 8; i++ {
		if state&0x0001 != 0 {
			state = (state >> 1) ^ crcPolynomial
		} else {
			state >>= 1
		}
	}
	return state
}

// ChecksumCRC computes the CRC-16 of data in one call.
func ChecksumCRC(data []byte) uint16 {
	state := InitCRC()
	for _, b := range data {
		state = UpdateCRC(state, b)
	}
	return state
}
