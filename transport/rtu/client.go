// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"log/slog"
	"time"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/modbus"
	rtupacket "github.com/ffutop/modbus-master/modbus/rtu"
)

// Operation names passed to an Observer.
const (
	OpReadHoldingRegisters = "read_holding_registers"
	OpWriteSingleRegister  = "write_single_register"
)

// Observer is told about every exchange attempted by a Client, including
// the ones rejected before any I/O.
type Observer interface {
	ObserveExchange(op string, elapsed time.Duration, err error)
}

// Option configures a Client.
type Option func(*Client)

// WithOpener replaces the driver selected by the serial configuration.
func WithOpener(open Opener) Option {
	return func(mb *Client) {
		mb.transport.open = open
	}
}

// WithObserver installs an exchange observer.
func WithObserver(o Observer) Option {
	return func(mb *Client) {
		mb.observer = o
	}
}

// Client is a Modbus RTU master bound to one slave on one serial line.
// It is safe for concurrent use; exchanges are serialised.
type Client struct {
	name      string
	slaveID   byte
	transport serialPort
	observer  Observer

	// lock is held for a whole request/response round trip.
	lock chan struct{}
}

// NewClient allocates and initializes a RTU Client.
func NewClient(cfg config.DeviceConfig, opts ...Option) *Client {
	client := &Client{
		name:    cfg.Name,
		slaveID: byte(cfg.SlaveID),
		lock:    make(chan struct{}, 1),
	}
	client.transport.Config = cfg.Serial
	client.transport.IdleTimeout = cfg.Serial.IdleTimeout

	for _, opt := range opts {
		opt(client)
	}
	return client
}

// SlaveID returns the address of the slave this client talks to.
func (mb *Client) SlaveID() byte {
	return mb.slaveID
}

// Connect opens the serial line. It is a no-op when the line is open.
func (mb *Client) Connect(ctx context.Context) error {
	return mb.transport.Connect(ctx)
}

// Close closes the serial line. It is safe to call at any time.
func (mb *Client) Close() error {
	return mb.transport.Close()
}

// ReadHoldingRegisters reads quantity registers starting at address.
// It returns exactly quantity values or an error.
func (mb *Client) ReadHoldingRegisters(ctx context.Context, address, quantity uint16) (values []uint16, err error) {
	defer mb.observe(OpReadHoldingRegisters, time.Now(), &err)

	request, err := rtupacket.BuildReadRequest(mb.slaveID, address, quantity)
	if err != nil {
		return nil, err
	}

	response, err := mb.exchange(ctx, request, rtupacket.ReadResponseLength(quantity))
	if err != nil {
		return nil, err
	}
	return rtupacket.ParseReadResponse(response, mb.slaveID, quantity)
}

// WriteSingleRegister writes value to the register at address. Only the low
// 16 bits of value are sent.
func (mb *Client) WriteSingleRegister(ctx context.Context, address uint16, value int) (err error) {
	defer mb.observe(OpWriteSingleRegister, time.Now(), &err)

	request := rtupacket.BuildWriteRequest(mb.slaveID, address, value)

	response, err := mb.exchange(ctx, request, rtupacket.WriteResponseLength)
	if err != nil {
		return err
	}
	echo, err := rtupacket.ParseWriteResponse(response, mb.slaveID)
	if err != nil {
		return err
	}
	if !echo.Matches(address, value) {
		slog.Debug("write echo differs from request", "device", mb.name, "address", address,
			"value", uint16(value&0xFFFF), "echoAddress", echo.Address, "echoValue", echo.Value)
	}
	return nil
}

// exchange performs one locked round trip and returns a response of
// exactly want bytes, or a complete exception frame.
func (mb *Client) exchange(ctx context.Context, request []byte, want int) ([]byte, error) {
	select {
	case mb.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-mb.lock }()

	mb.transport.Acquire()
	defer mb.transport.Release()

	if err := mb.transport.EnsureOpen(ctx); err != nil {
		return nil, err
	}
	if err := mb.transport.WriteAll(request); err != nil {
		return nil, err
	}

	time.Sleep(mb.turnaround(len(request) + want))

	response, err := mb.transport.ReadExact(want, mb.transport.Config.Timeout)
	if err != nil {
		return nil, err
	}
	if len(response) < want && !rtupacket.IsException(response) {
		return nil, &modbus.ShortReadError{Got: len(response), Want: want}
	}
	return response, nil
}

// turnaround is the pause between writing a request and reading its
// response. Without a configured value the RTU frame gap is used.
func (mb *Client) turnaround(chars int) time.Duration {
	if d := mb.transport.Config.Turnaround; d > 0 {
		return d
	}
	return calculateDelay(mb.transport.Config.BaudRate, chars)
}

// calculateDelay calculates the needed delay to separate frames.
func calculateDelay(baudRate, chars int) time.Duration {
	var characterDelay, frameDelay int

	if baudRate <= 0 || baudRate > 19200 {
		characterDelay = 750
		frameDelay = 1750
	} else {
		characterDelay = 15000000 / baudRate
		frameDelay = 35000000 / baudRate
	}
	return time.Duration(characterDelay*chars+frameDelay) * time.Microsecond
}

func (mb *Client) observe(op string, start time.Time, err *error) {
	if mb.observer != nil {
		mb.observer.ObserveExchange(op, time.Since(start), *err)
	}
}
