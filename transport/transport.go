// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"

	"github.com/ffutop/modbus-master/transport/rtu"
)

// RegisterClient is a Modbus master bound to one slave. Implementations
// serialise exchanges, so a poller and an occasional writer may share one.
type RegisterClient interface {
	// ReadHoldingRegisters returns exactly quantity registers from address.
	ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error)
	// WriteSingleRegister writes the low 16 bits of value to address.
	WriteSingleRegister(ctx context.Context, address uint16, value int) error

	Connect(ctx context.Context) error
	Close() error
}

var _ RegisterClient = (*rtu.Client)(nil)
