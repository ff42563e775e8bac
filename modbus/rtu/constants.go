// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

const (
	MinSize = 4
	MaxSize = 256

	// ExceptionSize is the length of an exception response:
	// [SlaveID, Func|0x80, Code, CRC(2)]
	ExceptionSize = 5

	// RequestSize is the length of both request kinds this master sends:
	// [SlaveID, Func, Addr(2), Quantity or Value(2), CRC(2)]
	RequestSize = 8

	// WriteResponseLength is the length of the write single register echo.
	WriteResponseLength = 8

	// readResponseOverhead covers [SlaveID, Func, ByteCount] and the CRC.
	readResponseOverhead = 5
)

// ReadResponseLength returns the expected length of a read holding
// registers response carrying quantity registers.
func ReadResponseLength(quantity uint16) int {
	return readResponseOverhead + 2*int(quantity)
}
