// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package crc

// CRC is the reflected Modbus CRC16 (seed 0xFFFF, polynomial 0xA001).
type CRC struct {
	value uint16
}

// Reset restores the seed value.
func (crc *CRC) Reset() *CRC {
	crc.value = 0xFFFF
	return crc
}

// PushByte folds one byte into the accumulator, least significant bit first.
func (crc *CRC) PushByte(b byte) *CRC {
	crc.value ^= uint16(b)
	for i := 0; i < 8; i++ {
		if crc.value&0x0001 != 0 {
			crc.value = (crc.value >> 1) ^ 0xA001
		} else {
			crc.value >>= 1
		}
	}
	return crc
}

func (crc *CRC) PushBytes(bs []byte) *CRC {
	for _, b := range bs {
		crc.PushByte(b)
	}
	return crc
}

func (crc *CRC) Value() uint16 {
	return crc.value
}

// Checksum returns the CRC16 of data.
func Checksum(data []byte) uint16 {
	var crc CRC
	return crc.Reset().PushBytes(data).Value()
}

// Append returns frame followed by its checksum, low byte first.
// The input slice is never modified.
func Append(frame []byte) []byte {
	sum := Checksum(frame)
	out := make([]byte, len(frame), len(frame)+2)
	copy(out, frame)
	return append(out, byte(sum), byte(sum>>8))
}

// Verify reports whether the last two bytes of frame hold the checksum of
// the bytes before them. Frames shorter than three bytes never verify.
func Verify(frame []byte) bool {
	n := len(frame)
	if n < 3 {
		return false
	}
	return Trailer(frame) == Checksum(frame[:n-2])
}

// Trailer decodes the little-endian checksum carried by the last two bytes.
func Trailer(frame []byte) uint16 {
	n := len(frame)
	return uint16(frame[n-1])<<8 | uint16(frame[n-2])
}
