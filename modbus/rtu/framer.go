// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"

	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/crc"
)

// ValidateQuantity checks the read quantity against the PDU limit.
func ValidateQuantity(quantity uint16) error {
	if quantity < modbus.MinReadQuantity || quantity > modbus.MaxReadQuantity {
		return &modbus.ValidationError{
			Field: "quantity",
			Value: int(quantity),
			Min:   modbus.MinReadQuantity,
			Max:   modbus.MaxReadQuantity,
		}
	}
	return nil
}

// BuildReadRequest encodes a read holding registers request:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte (0x03)
//	Start Address   : 2 bytes
//	Quantity        : 2 bytes
//	CRC             : 2 bytes
func BuildReadRequest(slaveID byte, address, quantity uint16) ([]byte, error) {
	if err := ValidateQuantity(quantity); err != nil {
		return nil, err
	}
	return encodeRequest(slaveID, modbus.FuncCodeReadHoldingRegisters, address, quantity), nil
}

// BuildWriteRequest encodes a write single register request. value is
// truncated to its low 16 bits, so out of range values wrap.
func BuildWriteRequest(slaveID byte, address uint16, value int) []byte {
	return encodeRequest(slaveID, modbus.FuncCodeWriteSingleRegister, address, uint16(value&0xFFFF))
}

func encodeRequest(slaveID, functionCode byte, address, word uint16) []byte {
	raw := make([]byte, RequestSize-2, RequestSize)
	raw[0] = slaveID
	raw[1] = functionCode
	binary.BigEndian.PutUint16(raw[2:], address)
	binary.BigEndian.PutUint16(raw[4:], word)
	return crc.Append(raw)
}

// ParseReadResponse validates a read holding registers response and decodes
// its registers. Checks run in this order: CRC, length, slave id, exception
// bit, function code, byte count.
func ParseReadResponse(raw []byte, slaveID byte, quantity uint16) ([]uint16, error) {
	want := ReadResponseLength(quantity)
	if err := checkHeader(raw, slaveID, modbus.FuncCodeReadHoldingRegisters, want); err != nil {
		return nil, err
	}
	if count := int(raw[2]); count != 2*int(quantity) {
		return nil, modbus.Malformed("byte count %d does not match quantity %d", count, quantity)
	}

	values := make([]uint16, quantity)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(raw[3+2*i:])
	}
	return values, nil
}

// WriteEcho is the address and value echoed by a write single register
// response.
type WriteEcho struct {
	Address uint16
	Value   uint16
}

// Matches reports whether the echo repeats the request.
func (e WriteEcho) Matches(address uint16, value int) bool {
	return e.Address == address && e.Value == uint16(value&0xFFFF)
}

// ParseWriteResponse validates a write single register response. Only CRC,
// length, slave id, exception bit and function code are checked; the echoed
// address and value are returned for the caller to inspect since a server
// may legitimately clamp the value.
func ParseWriteResponse(raw []byte, slaveID byte) (WriteEcho, error) {
	if err := checkHeader(raw, slaveID, modbus.FuncCodeWriteSingleRegister, WriteResponseLength); err != nil {
		return WriteEcho{}, err
	}
	return WriteEcho{
		Address: binary.BigEndian.Uint16(raw[2:]),
		Value:   binary.BigEndian.Uint16(raw[4:]),
	}, nil
}

// IsException reports whether raw is a complete exception frame: five bytes,
// a valid CRC and the exception bit set.
func IsException(raw []byte) bool {
	return len(raw) == ExceptionSize && raw[1]&modbus.ExceptionBit != 0 && crc.Verify(raw)
}

func checkHeader(raw []byte, slaveID, functionCode byte, want int) error {
	length := len(raw)
	if length < MinSize {
		return &modbus.ShortReadError{Got: length, Want: want}
	}

	received, calculated := crc.Trailer(raw), crc.Checksum(raw[:length-2])
	if received != calculated {
		return &modbus.CRCError{Received: received, Calculated: calculated}
	}

	exception := length == ExceptionSize && raw[1]&modbus.ExceptionBit != 0
	if !exception {
		if length < want {
			return &modbus.ShortReadError{Got: length, Want: want}
		}
		if length > want {
			return modbus.Malformed("length %d exceeds expected %d", length, want)
		}
	}

	if raw[0] != slaveID {
		return &modbus.SlaveMismatchError{Got: raw[0], Want: slaveID}
	}
	if raw[1]&modbus.ExceptionBit != 0 {
		return &modbus.ExceptionError{
			FunctionCode: raw[1] &^ modbus.ExceptionBit,
			Code:         modbus.ExceptionCode(raw[2]),
		}
	}
	if raw[1] != functionCode {
		return modbus.Malformed("function code 0x%02X does not match request 0x%02X", raw[1], functionCode)
	}
	return nil
}
