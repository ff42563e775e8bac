// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/modbus"
)

// readRetryInterval is the pause after a read that returned nothing.
const readRetryInterval = 10 * time.Millisecond

// serialPort owns one serial line. It knows nothing about Modbus framing
// and is not meant for concurrent exchanges; the Client serialises them.
type serialPort struct {
	// Serial port configuration.
	Config config.SerialConfig

	IdleTimeout time.Duration

	open Opener

	mu sync.Mutex
	// port is nil while the line is closed.
	port         Port
	lastActivity time.Time
	closeTimer   *time.Timer
	// busy is set while an exchange owns the line; the idle timer skips it.
	busy bool
}

// Connect opens the line if it is not open yet.
func (sp *serialPort) Connect(ctx context.Context) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	return sp.connect(ctx)
}

// EnsureOpen is Connect under the name the exchange path uses.
func (sp *serialPort) EnsureOpen(ctx context.Context) error {
	return sp.Connect(ctx)
}

// connect connects to the serial port if it is not connected. Caller must hold the mutex.
func (sp *serialPort) connect(ctx context.Context) error {
	if sp.port != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if sp.open == nil {
		open, err := OpenerFor(sp.Config.Driver)
		if err != nil {
			return &modbus.ConnectionError{Device: sp.Config.Device, Err: err}
		}
		sp.open = open
	}

	port, err := sp.open(sp.Config)
	if err != nil {
		return &modbus.ConnectionError{Device: sp.Config.Device, Err: err}
	}

	// Let the UART settle before the first frame.
	if sp.Config.Settle > 0 {
		t := time.NewTimer(sp.Config.Settle)
		select {
		case <-ctx.Done():
			t.Stop()
			port.Close()
			return ctx.Err()
		case <-t.C:
		}
	}

	sp.port = port
	sp.lastActivity = time.Now()
	slog.Debug("serial port opened", "device", sp.Config.Device, "baudRate", sp.Config.BaudRate, "driver", sp.Config.Driver)
	return nil
}

// IsOpen reports whether the line is open.
func (sp *serialPort) IsOpen() bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	return sp.port != nil
}

// Close releases the line. It is idempotent.
func (sp *serialPort) Close() error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	return sp.close()
}

// close closes the serial port if it is connected. Caller must hold the mutex.
func (sp *serialPort) close() (err error) {
	if sp.closeTimer != nil {
		sp.closeTimer.Stop()
	}
	if sp.port != nil {
		err = sp.port.Close()
		sp.port = nil
		slog.Debug("serial port closed", "device", sp.Config.Device)
	}
	return
}

// fail closes the line after an I/O error and wraps the cause.
// Caller must hold the mutex.
func (sp *serialPort) fail(op string, cause error) error {
	if err := sp.close(); err != nil {
		slog.Debug("close after failure", "device", sp.Config.Device, "err", err)
	}
	return &modbus.TransportError{Op: op, Err: cause}
}

// WriteAll discards stale input, then writes the whole frame.
func (sp *serialPort) WriteAll(frame []byte) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.port == nil {
		return &modbus.TransportError{Op: "write", Err: modbus.ErrClosed}
	}
	sp.touch()

	if err := sp.port.ResetInputBuffer(); err != nil {
		return sp.fail("reset input", err)
	}

	slog.Debug("send to modbus slave", "request", hex.EncodeToString(frame))
	for written := 0; written < len(frame); {
		n, err := sp.port.Write(frame[written:])
		if err != nil {
			return sp.fail("write", err)
		}
		written += n
	}
	return nil
}

// ReadExact collects up to n bytes until they are all in or timeout, measured
// once from the call, has elapsed. A short result is not an error here.
func (sp *serialPort) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.port == nil {
		return nil, &modbus.TransportError{Op: "read", Err: modbus.ErrClosed}
	}
	sp.touch()

	buf := make([]byte, 0, n)
	chunk := make([]byte, n)
	deadline := time.Now().Add(timeout)
	for len(buf) < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		k, err := sp.port.Read(chunk[:n-len(buf)])
		if k > 0 {
			buf = append(buf, chunk[:k]...)
		}
		if err != nil {
			return buf, sp.fail("read", err)
		}
		if k == 0 {
			time.Sleep(min(readRetryInterval, remaining))
		}
	}

	slog.Debug("recv from modbus slave", "response", hex.EncodeToString(buf), "want", n)
	return buf, nil
}

// Acquire marks the line busy until Release. The idle timer never closes
// a busy line.
func (sp *serialPort) Acquire() {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	sp.busy = true
}

// Release ends an exchange and restarts the idle countdown.
func (sp *serialPort) Release() {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	sp.busy = false
	if sp.port != nil {
		sp.touch()
	}
}

// touch records activity and re-arms the idle timer. Caller must hold the mutex.
func (sp *serialPort) touch() {
	sp.lastActivity = time.Now()
	sp.startCloseTimer()
}

func (sp *serialPort) startCloseTimer() {
	if sp.IdleTimeout <= 0 {
		return
	}
	if sp.closeTimer == nil {
		sp.closeTimer = time.AfterFunc(sp.IdleTimeout, sp.closeIdle)
	} else {
		sp.closeTimer.Reset(sp.IdleTimeout)
	}
}

// closeIdle closes the connection if last activity is passed behind IdleTimeout.
func (sp *serialPort) closeIdle() {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.IdleTimeout <= 0 || sp.port == nil || sp.busy {
		return
	}

	if idle := time.Since(sp.lastActivity); idle >= sp.IdleTimeout {
		slog.Debug("closing serial port due to idle timeout", "device", sp.Config.Device, "idle", idle)
		sp.close()
	}
}
