// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package snapshot

import (
	"slices"
	"sync"
)

// MemoryStore keeps the snapshot in process memory only.
type MemoryStore struct {
	mu   sync.RWMutex
	last Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (ms *MemoryStore) Load() (Snapshot, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	s := ms.last
	s.Values = slices.Clone(s.Values)
	return s, nil
}

func (ms *MemoryStore) Save(s Snapshot) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	s.Values = slices.Clone(s.Values)
	ms.last = s
	return nil
}

func (ms *MemoryStore) Close() error {
	return nil
}
