// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package snapshot keeps the last register block read from the slave, so a
// restarted master can report the previous values before its first poll.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/modbus"
)

// Snapshot is one successful read of a register block.
type Snapshot struct {
	Time    time.Time
	SlaveID byte
	Start   uint16
	Values  []uint16
}

// IsZero reports whether s holds no reading.
func (s Snapshot) IsZero() bool {
	return s.Time.IsZero() && len(s.Values) == 0
}

// Layout:
// - Magic: 4 bytes "MBS1" (Offset 0)
// - Time: 8 bytes unix nanoseconds (Offset 4)
// - SlaveID: 1 byte (Offset 12), 1 reserved byte
// - Start: 2 bytes (Offset 14)
// - Count: 2 bytes (Offset 16)
// - Values: 125 * 2 bytes (Offset 18)
// Total Size: 268 bytes. All multi-byte fields are big-endian.
const (
	offsetTime    = 4
	offsetSlaveID = 12
	offsetStart   = 14
	offsetCount   = 16
	offsetValues  = 18

	Size = offsetValues + 2*modbus.MaxReadQuantity
)

var magic = []byte("MBS1")

// ErrCorrupt is returned when stored bytes are not a snapshot.
var ErrCorrupt = errors.New("snapshot: corrupt data")

// MarshalBinary encodes s into the fixed layout.
func (s Snapshot) MarshalBinary() ([]byte, error) {
	if len(s.Values) > modbus.MaxReadQuantity {
		return nil, fmt.Errorf("snapshot: %d values exceed %d", len(s.Values), modbus.MaxReadQuantity)
	}
	data := make([]byte, Size)
	copy(data, magic)
	if !s.Time.IsZero() {
		binary.BigEndian.PutUint64(data[offsetTime:], uint64(s.Time.UnixNano()))
	}
	data[offsetSlaveID] = s.SlaveID
	binary.BigEndian.PutUint16(data[offsetStart:], s.Start)
	binary.BigEndian.PutUint16(data[offsetCount:], uint16(len(s.Values)))
	for i, v := range s.Values {
		binary.BigEndian.PutUint16(data[offsetValues+2*i:], v)
	}
	return data, nil
}

// UnmarshalBinary decodes the fixed layout. All-zero data, as found in a
// freshly created file, decodes to the zero Snapshot.
func (s *Snapshot) UnmarshalBinary(data []byte) error {
	if len(data) < Size {
		return fmt.Errorf("%w: %d bytes, want %d", ErrCorrupt, len(data), Size)
	}
	if !bytes.HasPrefix(data, magic) {
		if bytes.Count(data[:Size], []byte{0}) == Size {
			*s = Snapshot{}
			return nil
		}
		return fmt.Errorf("%w: bad magic %q", ErrCorrupt, data[:len(magic)])
	}

	count := int(binary.BigEndian.Uint16(data[offsetCount:]))
	if count > modbus.MaxReadQuantity {
		return fmt.Errorf("%w: count %d", ErrCorrupt, count)
	}

	*s = Snapshot{
		SlaveID: data[offsetSlaveID],
		Start:   binary.BigEndian.Uint16(data[offsetStart:]),
		Values:  make([]uint16, count),
	}
	if ns := int64(binary.BigEndian.Uint64(data[offsetTime:])); ns != 0 {
		s.Time = time.Unix(0, ns)
	}
	for i := range s.Values {
		s.Values[i] = binary.BigEndian.Uint16(data[offsetValues+2*i:])
	}
	return nil
}

// Store persists the latest snapshot.
type Store interface {
	// Load returns the stored snapshot, or the zero Snapshot if none was saved.
	Load() (Snapshot, error)
	// Save replaces the stored snapshot.
	Save(s Snapshot) error
	Close() error
}

// Open returns the store selected by cfg.
func Open(cfg config.SnapshotConfig) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Path)
	case "mmap":
		return NewMmapStore(cfg.Path)
	}
	return nil, fmt.Errorf("unknown snapshot type %q", cfg.Type)
}
