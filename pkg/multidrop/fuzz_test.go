// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package multidrop

import "testing"

// The decoder faces a shared bus: node responses, addressing echoes,
// line noise and torn frames all arrive interleaved. Whatever comes in,
// it must never panic and every frame it does yield must be coherent.
func FuzzDecodeByte(f *testing.F) {
	valid := []byte{SyncByte, SyncByte, 0x00, 0x03, 0xA1, 0x03, 0x10, 0x20, 0x30}
	crc := ChecksumCRC(valid[2:])
	valid = append(valid, byte(crc>>8), byte(crc))

	f.Add(valid)
	f.Add([]byte{SyncByte, SyncByte, SyncByte, SyncByte})
	f.Add([]byte{0x00, 0x01, 0x02, SyncByte})
	torn := make([]byte, 5, 7)
	copy(torn, valid)
	f.Add(append(torn, 0xFF, 0xFF))
	f.Add([]byte{SyncByte, SyncByte, 0x03, 0x00, 0xFB, 0x04, 0x02})

	f.Fuzz(func(t *testing.T, data []byte) {
		d := NewDecoder()
		for _, b := range data {
			frame, err := d.DecodeByte(b)
			if frame == nil {
				continue
			}
			if err != nil {
				t.Fatal("frame and error from the same byte")
			}
			if frame.Flags&^(FlagBatch|FlagResponse) != 0 {
				t.Fatalf("frame with invalid flags 0x%02X", frame.Flags)
			}
			want := frame.TotalLength()
			if frame.ResponseExpected() {
				want = 0
			}
			if len(frame.Payload) != want {
				t.Fatalf("payload size %d, declared %d", len(frame.Payload), want)
			}
			if frame.Timestamp.IsZero() {
				t.Fatal("completed frame missing timestamp")
			}
		}
	})
}
