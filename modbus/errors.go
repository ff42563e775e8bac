// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is the cause carried by a TransportError when I/O is attempted
// on a connection that is not open.
var ErrClosed = errors.New("modbus: connection closed")

// ValidationError rejects caller input before any I/O.
type ValidationError struct {
	Field string
	Value int
	Min   int
	Max   int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("modbus: %s %d out of range [%d, %d]", e.Field, e.Value, e.Min, e.Max)
}

// ConnectionError reports that the serial line could not be opened.
type ConnectionError struct {
	Device string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("modbus: could not open %s: %v", e.Device, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError reports an I/O failure in the middle of an exchange.
// The connection has been closed by the time it is returned.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("modbus: serial %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ShortReadError reports fewer bytes than the expected frame length.
type ShortReadError struct {
	Got  int
	Want int
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("modbus: short read %d/%d", e.Got, e.Want)
}

// CRCError reports a checksum mismatch on a received frame.
type CRCError struct {
	Received   uint16
	Calculated uint16
}

func (e *CRCError) Error() string {
	return fmt.Sprintf("modbus: response crc %04X does not match expected %04X", e.Received, e.Calculated)
}

// SlaveMismatchError reports a response addressed from another slave.
type SlaveMismatchError struct {
	Got  byte
	Want byte
}

func (e *SlaveMismatchError) Error() string {
	return fmt.Sprintf("modbus: response slave id %d does not match request %d", e.Got, e.Want)
}

// ExceptionError is a well-formed exception response from the slave.
type ExceptionError struct {
	FunctionCode byte
	Code         ExceptionCode
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus: exception 0x%02X (%v) for function 0x%02X", byte(e.Code), e.Code, e.FunctionCode)
}

// MalformedResponseError covers wrong function codes, byte counts and lengths.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return "modbus: malformed response: " + e.Reason
}

// Malformed builds a MalformedResponseError.
func Malformed(format string, args ...any) error {
	return &MalformedResponseError{Reason: fmt.Sprintf(format, args...)}
}

// Kind returns a short label for err, suitable for log attributes and
// metric labels.
func Kind(err error) string {
	var (
		validation *ValidationError
		connection *ConnectionError
		transport  *TransportError
		short      *ShortReadError
		crc        *CRCError
		slave      *SlaveMismatchError
		exception  *ExceptionError
		bad        *MalformedResponseError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &connection):
		return "connection"
	case errors.As(err, &transport):
		return "transport"
	case errors.As(err, &short):
		return "short_read"
	case errors.As(err, &crc):
		return "crc"
	case errors.As(err, &slave):
		return "slave_mismatch"
	case errors.As(err, &exception):
		return "exception"
	case errors.As(err, &bad):
		return "malformed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "other"
}
