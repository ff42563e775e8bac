// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package snapshot

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// FileStore persists the snapshot with plain file writes, syncing after
// every Save.
type FileStore struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewFileStore opens path, creating it and sizing it to the snapshot layout
// if necessary.
func NewFileStore(path string) (*FileStore, error) {
	f, err := openSized(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, file: f}, nil
}

// Load reads the snapshot from the file.
func (fs *FileStore) Load() (Snapshot, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.file == nil {
		return Snapshot{}, os.ErrClosed
	}
	data := make([]byte, Size)
	if _, err := fs.file.ReadAt(data, 0); err != nil && err != io.EOF {
		return Snapshot{}, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	var s Snapshot
	err := s.UnmarshalBinary(data)
	return s, err
}

// Save writes the snapshot and flushes it to disk.
func (fs *FileStore) Save(s Snapshot) error {
	data, err := s.MarshalBinary()
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.file == nil {
		return os.ErrClosed
	}
	if _, err := fs.file.WriteAt(data, 0); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync snapshot file to disk: %w", err)
	}
	return nil
}

// Close the file.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}

// openSized opens path read-write, creating it if necessary, and makes sure
// it is exactly Size bytes long.
func openSized(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(Size) {
		if err := f.Truncate(int64(Size)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize snapshot file: %w", err)
		}
	}
	return f, nil
}
