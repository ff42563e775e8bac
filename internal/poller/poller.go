// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package poller reads a fixed register block from one slave and fans every
// good reading out to a set of sinks. When to poll is left to the caller.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/internal/snapshot"
	"github.com/ffutop/modbus-master/transport"
)

// Sink receives every successful reading.
type Sink interface {
	Consume(ctx context.Context, s snapshot.Snapshot) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, s snapshot.Snapshot) error

func (f SinkFunc) Consume(ctx context.Context, s snapshot.Snapshot) error {
	return f(ctx, s)
}

// StoreSink saves each reading into store.
func StoreSink(store snapshot.Store) Sink {
	return SinkFunc(func(_ context.Context, s snapshot.Snapshot) error {
		return store.Save(s)
	})
}

// Poller drives a RegisterClient. Writes issued through it share the
// client with the poll loop; the client serialises them.
type Poller struct {
	client  transport.RegisterClient
	slaveID byte
	cfg     config.PollConfig
	sinks   []Sink

	mu      sync.Mutex
	last    snapshot.Snapshot
	lastErr error
}

// New creates a Poller reading cfg.Quantity registers from cfg.Start.
func New(client transport.RegisterClient, slaveID byte, cfg config.PollConfig, sinks ...Sink) *Poller {
	return &Poller{
		client:  client,
		slaveID: slaveID,
		cfg:     cfg,
		sinks:   sinks,
	}
}

// Seed sets the reading reported by Last until the first successful poll.
func (p *Poller) Seed(s snapshot.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s.Values = slices.Clone(s.Values)
	p.last = s
}

// Last returns the latest good reading and the error of the latest poll,
// which is nil when that poll succeeded. Poll may be called from several
// goroutines; Last always reflects the one that finished last.
func (p *Poller) Last() (snapshot.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.last
	s.Values = slices.Clone(s.Values)
	return s, p.lastErr
}

// Poll reads the configured block and hands it to every sink. A sink
// failure is logged and does not fail the poll.
func (p *Poller) Poll(ctx context.Context) (snapshot.Snapshot, error) {
	values, err := p.client.ReadHoldingRegisters(ctx, uint16(p.cfg.Start), uint16(p.cfg.Quantity))

	p.mu.Lock()
	p.lastErr = err
	if err != nil {
		p.mu.Unlock()
		return snapshot.Snapshot{}, err
	}
	s := snapshot.Snapshot{
		Time:    time.Now(),
		SlaveID: p.slaveID,
		Start:   uint16(p.cfg.Start),
		Values:  values,
	}
	p.last = s
	p.last.Values = slices.Clone(values)
	p.mu.Unlock()

	slog.Debug("poll ok", "slaveID", p.slaveID, "values", values)
	for _, sink := range p.sinks {
		if err := sink.Consume(ctx, s); err != nil {
			slog.Warn("sink failed", "slaveID", p.slaveID, "err", err)
		}
	}
	return s, nil
}

// Write sets one register. With verify it reads the register back and
// returns what the slave holds; a value that differs from the one written
// is logged but is not an error, since a slave may clamp it. Without verify
// the written 16-bit value is returned.
func (p *Poller) Write(ctx context.Context, address uint16, value int, verify bool) (uint16, error) {
	written := uint16(value & 0xFFFF)
	if err := p.client.WriteSingleRegister(ctx, address, value); err != nil {
		return 0, fmt.Errorf("write register %d: %w", address, err)
	}
	slog.Info("register written", "slaveID", p.slaveID, "address", address, "value", written)
	if !verify {
		return written, nil
	}

	values, err := p.client.ReadHoldingRegisters(ctx, address, 1)
	if err != nil {
		return 0, fmt.Errorf("read back register %d: %w", address, err)
	}
	if values[0] != written {
		slog.Warn("read-back differs from written value", "slaveID", p.slaveID,
			"address", address, "written", written, "readBack", values[0])
	}
	return values[0], nil
}
