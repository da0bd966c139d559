// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package cache implements the materialized-result store used by the
// sparklet engine. A Manager maps cache identities to computed values.
// Managers never share storage: fragments that travel between the
// driver and its workers are produced by Clone and Diff, and merged
// back with Join. Stored values are treated as immutable by
// convention; a recomputation produces a new value rather than
// mutating a stored one.
package cache

import (
	"bytes"
	"encoding/gob"
	"sync"
)

// An Ident names one materializable result: the identity of the
// dataset that produced it and the index of the partition it was
// computed from.
type Ident struct {
	Dataset   uint64
	Partition int
}

// An IdentSet is a snapshot of the identities held by a Manager,
// as returned by Idents.
type IdentSet map[Ident]bool

// Contains tells whether the set holds the provided identity.
func (s IdentSet) Contains(id Ident) bool { return s[id] }

// A Manager stores materialized values keyed by identity. A Manager
// holds at most one value per identity. The zero Manager is not
// valid; use New.
type Manager struct {
	mu      sync.Mutex
	entries map[Ident]interface{}
}

// New returns a fresh, empty Manager.
func New() *Manager {
	return &Manager{entries: make(map[Ident]interface{})}
}

// Len returns the number of entries held by the manager.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Put stores the value v under the identity id, replacing any
// previous value. Merge policy is Join's concern, not Put's.
func (m *Manager) Put(id Ident, v interface{}) {
	m.mu.Lock()
	m.entries[id] = v
	m.mu.Unlock()
}

// Get returns the value stored under id, if any.
func (m *Manager) Get(id Ident) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[id]
	return v, ok
}

// Contains tells whether the manager holds an entry for id.
func (m *Manager) Contains(id Ident) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[id]
	return ok
}

// Idents returns a snapshot of the identities currently held. The
// snapshot is detached: later mutation of the manager does not affect
// it. Idents is used as the "before" baseline for Diff.
func (m *Manager) Idents() IdentSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(IdentSet, len(m.entries))
	for id := range m.entries {
		set[id] = true
	}
	return set
}

// Clone returns a new, independent manager holding the entries whose
// identity satisfies pred. The clone shares no storage with m: a
// later Join into either does not affect the other.
func (m *Manager) Clone(pred func(Ident) bool) *Manager {
	clone := New()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, v := range m.entries {
		if pred(id) {
			clone.entries[id] = v
		}
	}
	return clone
}

// Join merges other's entries into m. An entry already present in m
// under the same identity is never overwritten: the first writer for
// an identity wins, so joining the same fragment twice, or a fragment
// recomputed by another task, leaves m unchanged beyond the first
// join.
func (m *Manager) Join(other *Manager) {
	if other == nil || other == m {
		return
	}
	entries := other.snapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, v := range entries {
		if _, ok := m.entries[id]; !ok {
			m.entries[id] = v
		}
	}
}

// Diff returns a new manager holding the entries whose identity is
// absent from baseline. It is used to compute the delta of entries a
// task added, so that only new contributions travel back across the
// process boundary.
func (m *Manager) Diff(baseline IdentSet) *Manager {
	diff := New()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, v := range m.entries {
		if !baseline.Contains(id) {
			diff.entries[id] = v
		}
	}
	return diff
}

func (m *Manager) snapshot() map[Ident]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make(map[Ident]interface{}, len(m.entries))
	for id, v := range m.entries {
		entries[id] = v
	}
	return entries
}

// GobEncode implements gob.GobEncoder so that fragments can travel
// across process boundaries.
func (m *Manager) GobEncode() ([]byte, error) {
	var b bytes.Buffer
	err := gob.NewEncoder(&b).Encode(m.snapshot())
	return b.Bytes(), err
}

// GobDecode implements gob.GobDecoder.
func (m *Manager) GobDecode(p []byte) error {
	entries := make(map[Ident]interface{})
	if err := gob.NewDecoder(bytes.NewReader(p)).Decode(&entries); err != nil {
		return err
	}
	m.mu.Lock()
	m.entries = entries
	m.mu.Unlock()
	return nil
}
