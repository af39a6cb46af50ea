// Copyright (c) 2025 The coldsig developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mnemonic implements the BIP39 engine: entropy generation with
// optional user-supplied entropy mixing, word encoding and checksum
// validation, and the PBKDF2 seed stretch.
package mnemonic

import (
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"

	"github.com/coldsig/coldsig/keychain"
	"github.com/coldsig/coldsig/secret"
	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrInvalidWordCount is returned when a mnemonic length other than
	// 12, 15, 18, 21 or 24 words is requested.
	ErrInvalidWordCount = errors.New("invalid mnemonic word count")

	// ErrChecksumMismatch is returned when a mnemonic fails checksum or
	// wordlist validation.
	ErrChecksumMismatch = errors.New("mnemonic checksum mismatch")
)

// entropyBits maps the supported word counts to their entropy size.
var entropyBits = map[int]int{
	12: 128,
	15: 160,
	18: 192,
	21: 224,
	24: 256,
}

// Generate creates a new mnemonic of the given word count.
//
// Full cryptographically-secure system entropy of the size implied by the
// word count is always drawn. If userEntropy is non-empty it is mixed in by
// hashing userEntropy || systemEntropy with SHA-256 and truncating to the
// required size. User entropy can add to the security margin but never
// replaces the system draw. All intermediate buffers are wiped on every
// exit path.
func Generate(wordCount int, userEntropy []byte) (string, error) {
	bits, ok := entropyBits[wordCount]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrInvalidWordCount, wordCount)
	}

	systemEntropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", fmt.Errorf("unable to draw system entropy: %w", err)
	}
	defer secret.Zero(systemEntropy)

	entropy := systemEntropy
	if len(userEntropy) > 0 {
		h := sha256.New()
		h.Write(userEntropy)
		h.Write(systemEntropy)
		digest := h.Sum(nil)
		defer secret.Zero(digest)

		entropy = digest[:bits/8]
	}

	words, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("unable to encode mnemonic: %w", err)
	}

	return words, nil
}

// Validate reports whether the mnemonic has a known word count, all words
// on the wordlist and a matching checksum.
func Validate(words string) bool {
	return bip39.IsMnemonicValid(words)
}

// Check is the error-returning form of Validate, for callers that surface
// the failure through the error taxonomy.
func Check(words string) error {
	if !bip39.IsMnemonicValid(words) {
		return ErrChecksumMismatch
	}

	return nil
}

// ToSeed stretches the mnemonic into the 64-byte BIP39 seed. The
// passphrase defaults to the empty string per BIP39; passing "" and
// omitting a passphrase are the same thing.
//
// The caller owns the returned seed and is responsible for wiping it.
func ToSeed(words, passphrase string) []byte {
	salt := "mnemonic" + passphrase

	return pbkdf2.Key([]byte(words), []byte(salt), 2048, 64, sha512.New)
}

// Fingerprint derives the master key fingerprint for the mnemonic and
// passphrase, as shown in live previews while a user types. The
// intermediate seed and master key are wiped before returning.
func Fingerprint(words, passphrase string) (string, error) {
	if err := Check(words); err != nil {
		return "", err
	}

	seed := ToSeed(words, passphrase)
	defer secret.Zero(seed)

	master, err := keychain.NewMaster(seed)
	if err != nil {
		return "", err
	}
	defer master.Zero()

	return keychain.FingerprintHex(master.PubKeyBytes()), nil
}
