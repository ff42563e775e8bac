// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"
	"io"

	gridx "github.com/grid-x/serial"
	bugst "go.bug.st/serial"

	"github.com/ffutop/modbus-master/internal/config"
)

// Port is an open serial line. Read returns (0, nil) when no byte arrived
// within the port's read timeout; any error is a line failure.
type Port interface {
	io.ReadWriteCloser
	// ResetInputBuffer discards bytes received but not yet read.
	ResetInputBuffer() error
}

// Opener opens the serial line described by cfg.
type Opener func(cfg config.SerialConfig) (Port, error)

// OpenerFor returns the Opener of the named driver.
func OpenerFor(driver string) (Opener, error) {
	switch driver {
	case config.DriverBugst, "":
		return openBugst, nil
	case config.DriverGridx:
		return openGridx, nil
	}
	return nil, fmt.Errorf("unknown serial driver %q", driver)
}

func openBugst(cfg config.SerialConfig) (Port, error) {
	mode := &bugst.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
	switch cfg.Parity {
	case "E":
		mode.Parity = bugst.EvenParity
	case "O":
		mode.Parity = bugst.OddParity
	}
	if cfg.StopBits == 2 {
		mode.StopBits = bugst.TwoStopBits
	}

	port, err := bugst.Open(cfg.Device, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(cfg.ReadSlice); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return port, nil
}

const (
	// maxDrainReads bounds ResetInputBuffer on a line that never goes quiet.
	maxDrainReads   = 64
	drainBufferSize = 256
)

// gridxPort adapts github.com/grid-x/serial, which reports an expired read
// timeout as serial.ErrTimeout and has no input flush.
type gridxPort struct {
	io.ReadWriteCloser
}

func openGridx(cfg config.SerialConfig) (Port, error) {
	port, err := gridx.Open(&gridx.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.ReadSlice,
		RS485: gridx.RS485Config{
			Enabled:            cfg.RS485,
			DelayRtsBeforeSend: cfg.DelayRtsBeforeSend,
			DelayRtsAfterSend:  cfg.DelayRtsAfterSend,
			RtsHighDuringSend:  cfg.RtsHighDuringSend,
			RtsHighAfterSend:   cfg.RtsHighAfterSend,
			RxDuringTx:         cfg.RxDuringTx,
		},
	})
	if err != nil {
		return nil, err
	}
	return &gridxPort{ReadWriteCloser: port}, nil
}

func (p *gridxPort) Read(b []byte) (int, error) {
	n, err := p.ReadWriteCloser.Read(b)
	if errors.Is(err, gridx.ErrTimeout) {
		return n, nil
	}
	return n, err
}

// ResetInputBuffer reads until the line is quiet for one read timeout.
func (p *gridxPort) ResetInputBuffer() error {
	buf := make([]byte, drainBufferSize)
	for i := 0; i < maxDrainReads; i++ {
		n, err := p.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}
