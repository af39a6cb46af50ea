// Copyright (c) 2025 The coldsig developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package descriptor renders wallet configurations as output descriptor
// strings with BIP-380 checksums: multipath single-sig descriptors and
// BIP48 sorted-multisig descriptors.
package descriptor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDescriptor is returned for descriptor text containing
// characters outside the BIP-380 input charset.
var ErrInvalidDescriptor = errors.New("invalid descriptor")

// inputCharset is the BIP-380 expanded character set. A character's index
// determines both its 5-bit symbol (low bits) and its group (high bits).
const inputCharset = "0123456789()[],'/*abcdefgh@:$%{}IJKLMNOPQRSTUVWXYZ" +
	"&+-.;<=>?!^_|~ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "

// checksumCharset is the bech32 character set used for the checksum
// itself.
const checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// generator holds the BIP-380 polymod generator constants.
var generator = [5]uint64{
	0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a, 0x644d626ffd,
}

// polymodStep folds one 5-bit value into the checksum state.
func polymodStep(c, val uint64) uint64 {
	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ val

	for i, g := range generator {
		if (c0>>uint(i))&1 == 1 {
			c ^= g
		}
	}

	return c
}

// Checksum computes the 8-character BIP-380 checksum of the descriptor
// body (the part before the '#').
func Checksum(desc string) (string, error) {
	c := uint64(1)

	var (
		cls      uint64
		clsCount int
	)
	for _, ch := range desc {
		pos := strings.IndexRune(inputCharset, ch)
		if pos < 0 {
			return "", fmt.Errorf("%w: character %q",
				ErrInvalidDescriptor, ch)
		}

		c = polymodStep(c, uint64(pos&31))

		// Group values are folded in, three characters at a time.
		cls = cls*3 + uint64(pos>>5)
		clsCount++
		if clsCount == 3 {
			c = polymodStep(c, cls)
			cls = 0
			clsCount = 0
		}
	}
	if clsCount > 0 {
		c = polymodStep(c, cls)
	}

	for i := 0; i < 8; i++ {
		c = polymodStep(c, 0)
	}
	c ^= 1

	var sb strings.Builder
	for i := 0; i < 8; i++ {
		sb.WriteByte(checksumCharset[(c>>(5*(7-i)))&31])
	}

	return sb.String(), nil
}

// Append returns the descriptor with its checksum attached.
func Append(desc string) (string, error) {
	checksum, err := Checksum(desc)
	if err != nil {
		return "", err
	}

	return desc + "#" + checksum, nil
}
