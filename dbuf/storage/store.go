// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package storage is the physical block-storage pipeline beneath dbuf/arc
// (spec.md §2's "storage I/O pipeline" collaborator, logically underneath
// arc_write/arc_read rather than a direct dbuf dependency). It is backed by
// a Pebble key-value store, grounded on the wider retrieval pack's use of
// cockroachdb/pebble as an embedded LSM store.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned by Get when addr names no stored block.
var ErrNotFound = errors.New("storage: block not found")

// StorageIO is the narrow persistence contract dbuf/arc drives: content
// addressed by the opaque 32-byte address dbuf.BlockPtr.Addr carries.
type StorageIO interface {
	Get(addr [32]byte) ([]byte, error)
	Put(addr [32]byte, data []byte) error
	Delete(addr [32]byte) error
	Close() error
}

// Store is a Pebble-backed StorageIO. One Store is meant to back one
// dbuf/arc.Cache for the lifetime of the process.
type Store struct {
	db *pebble.DB
}

// Open creates or reopens a Store rooted at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func key(addr [32]byte) []byte {
	k := make([]byte, 8+len(addr))
	binary.BigEndian.PutUint64(k[:8], 0) // reserved 8-byte namespace prefix, left at 0 for the single-namespace demo
	copy(k[8:], addr[:])
	return k
}

// Get returns the stored bytes for addr, or ErrNotFound.
func (s *Store) Get(addr [32]byte) ([]byte, error) {
	v, closer, err := s.db.Get(key(addr))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, closer.Close()
}

// Put writes data under addr, replacing any prior value.
func (s *Store) Put(addr [32]byte, data []byte) error {
	return s.db.Set(key(addr), data, pebble.Sync)
}

// Delete removes addr's stored value, if any.
func (s *Store) Delete(addr [32]byte) error {
	return s.db.Delete(key(addr), pebble.Sync)
}

// Close releases the underlying Pebble handle.
func (s *Store) Close() error {
	return s.db.Close()
}
