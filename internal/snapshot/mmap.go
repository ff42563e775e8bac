// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package snapshot

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// MmapStore persists the snapshot through a memory-mapped file. A Save is
// a copy into the mapping followed by a flush.
type MmapStore struct {
	mu   sync.Mutex
	path string
	file *os.File
	data mmap.MMap
}

// NewMmapStore opens and maps path, creating it if necessary.
func NewMmapStore(path string) (*MmapStore, error) {
	f, err := openSized(path)
	if err != nil {
		return nil, err
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return &MmapStore{path: path, file: f, data: data}, nil
}

// Load decodes the snapshot straight from the mapping.
func (ms *MmapStore) Load() (Snapshot, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.data == nil {
		return Snapshot{}, os.ErrClosed
	}
	var s Snapshot
	err := s.UnmarshalBinary(ms.data)
	return s, err
}

// Save copies the snapshot into the mapping and flushes it to disk.
func (ms *MmapStore) Save(s Snapshot) error {
	data, err := s.MarshalBinary()
	if err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.data == nil {
		return fmt.Errorf("mmap data is nil")
	}
	copy(ms.data, data)
	if err := ms.data.Flush(); err != nil {
		slog.Error("Failed to flush mmap", "path", ms.path, "err", err)
		return err
	}
	return nil
}

// Close unmaps and closes the file.
func (ms *MmapStore) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var err error
	if ms.data != nil {
		if e := ms.data.Unmap(); e != nil {
			err = e
		}
		ms.data = nil
	}
	if ms.file != nil {
		if e := ms.file.Close(); e != nil {
			err = e
		}
		ms.file = nil
	}
	return err
}
