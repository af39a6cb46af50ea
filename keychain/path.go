// Copyright (c) 2025 The coldsig developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// HardenedKeyStart is the index at which a child key becomes a
	// hardened child. Indices below this value are non-hardened.
	HardenedKeyStart uint32 = 0x80000000 // 2^31
)

var (
	// ErrMalformedPath is returned when a derivation path string cannot be
	// parsed, or when a child index falls outside [0, 2^31-1].
	ErrMalformedPath = errors.New("malformed derivation path")
)

// PathStep is one level of a BIP32 derivation path.
type PathStep struct {
	// Index is the child index, always below HardenedKeyStart.
	Index uint32

	// Hardened indicates hardened derivation for this level.
	Hardened bool
}

// KeyPath is an ordered sequence of derivation steps from the master key.
// A KeyPath is immutable once constructed; operations that extend a path
// return a new value.
type KeyPath []PathStep

// ParsePath parses a textual derivation path of the form "m/44'/0'/0'" or
// "m/44h/0h/0h". The leading "m" element is optional. An empty path ("m")
// yields an empty KeyPath.
func ParsePath(text string) (KeyPath, error) {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty path", ErrMalformedPath)
	}

	parts := strings.Split(cleaned, "/")

	// Tolerate an explicit master element at the front.
	if parts[0] == "m" || parts[0] == "M" {
		parts = parts[1:]
	}

	path := make(KeyPath, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("%w: empty segment in %q",
				ErrMalformedPath, text)
		}

		step := PathStep{}
		if strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h") ||
			strings.HasSuffix(part, "H") {

			step.Hardened = true
			part = part[:len(part)-1]
		}

		index, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %q", ErrMalformedPath,
				part)
		}

		if index >= uint64(HardenedKeyStart) {
			return nil, fmt.Errorf("%w: index %d out of range",
				ErrMalformedPath, index)
		}

		step.Index = uint32(index)
		path = append(path, step)
	}

	return path, nil
}

// String returns the canonical textual form of the path, using apostrophes
// for hardened levels, e.g. "m/84'/0'/0'/0/5".
func (p KeyPath) String() string {
	var sb strings.Builder
	sb.WriteString("m")

	for _, step := range p {
		sb.WriteString("/")
		sb.WriteString(strconv.FormatUint(uint64(step.Index), 10))
		if step.Hardened {
			sb.WriteString("'")
		}
	}

	return sb.String()
}

// Equal reports whether two paths match in every segment.
func (p KeyPath) Equal(other KeyPath) bool {
	if len(p) != len(other) {
		return false
	}

	for i, step := range p {
		if step != other[i] {
			return false
		}
	}

	return true
}

// Extend returns a new path with the passed step appended. The receiver is
// left untouched.
func (p KeyPath) Extend(step PathStep) KeyPath {
	next := make(KeyPath, len(p), len(p)+1)
	copy(next, p)

	return append(next, step)
}

// ToUint32 converts the path to the raw uint32 representation used by
// BIP-174 derivation fields, with the hardened flag folded into the top bit
// of each element.
func (p KeyPath) ToUint32() []uint32 {
	out := make([]uint32, len(p))
	for i, step := range p {
		out[i] = step.Index
		if step.Hardened {
			out[i] |= HardenedKeyStart
		}
	}

	return out
}

// PathFromUint32 converts a raw BIP-174 path (hardened flag in the top bit)
// back into a KeyPath.
func PathFromUint32(raw []uint32) KeyPath {
	path := make(KeyPath, len(raw))
	for i, elem := range raw {
		path[i] = PathStep{
			Index:    elem &^ HardenedKeyStart,
			Hardened: elem >= HardenedKeyStart,
		}
	}

	return path
}
