// Copyright (c) 2025 The coldsig developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package secret provides zeroable byte containers and a keyed cache for
// in-memory secrets such as BIP39 seeds and derived private keys. Every
// secret that crosses an engine boundary is expected to travel inside a
// Buffer so that there is exactly one owner responsible for wiping it.
package secret

import (
	"errors"
	"sync"
)

var (
	// ErrClosedSecret is returned when a Buffer is read after it has been
	// closed and its contents wiped.
	ErrClosedSecret = errors.New("secret buffer is closed")
)

// Zero overwrites the passed slice with zero bytes. It is safe to call on a
// nil or empty slice.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Buffer is an explicitly-owned, mutable byte buffer holding a single
// secret. A Buffer is either live or closed: closing wipes the underlying
// bytes and any read afterwards fails with ErrClosedSecret.
//
// Closing is the primary cleanup mechanism. There is deliberately no
// finalizer-based safety net; the owner must call Close when the secret's
// lifetime ends.
type Buffer struct {
	mtx sync.Mutex

	data   []byte
	closed bool
}

// NewBuffer wraps the passed bytes in a live Buffer. The Buffer takes
// ownership of the slice; the caller must not retain or mutate it.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// NewBufferFromCopy creates a live Buffer holding a private copy of the
// passed bytes. The caller keeps ownership of the original slice.
func NewBufferFromCopy(data []byte) *Buffer {
	cp := make([]byte, len(data))
	copy(cp, data)

	return &Buffer{data: cp}
}

// Bytes returns the secret bytes held by the Buffer. The returned slice
// aliases the Buffer's backing storage and becomes all-zero once the Buffer
// is closed, so callers must not use it past the Buffer's lifetime.
func (b *Buffer) Bytes() ([]byte, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.closed {
		return nil, ErrClosedSecret
	}

	return b.data, nil
}

// Close wipes the secret bytes and transitions the Buffer to the closed
// state. It is idempotent.
func (b *Buffer) Close() {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.closed {
		return
	}

	Zero(b.data)
	b.closed = true
}

// Closed reports whether the Buffer has been closed.
func (b *Buffer) Closed() bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.closed
}
