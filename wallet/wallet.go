// Copyright (c) 2025 The coldsig developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet orchestrates the signing engine: it turns stored wallet
// key records and session-supplied seeds into derived keys, addresses,
// descriptors and PSBT signatures. All state lives in an explicit
// Session value; there is no package-level singleton.
package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/coldsig/coldsig/keychain"
	"github.com/coldsig/coldsig/mnemonic"
	"github.com/coldsig/coldsig/psbt"
	"github.com/coldsig/coldsig/secret"
)

var (
	// ErrNoInputsSigned is returned when a signing pass produced no
	// signatures at all. Partial coverage is a success for multi-party
	// packets; zero coverage means this wallet has no business signing
	// the transaction.
	ErrNoInputsSigned = errors.New("no inputs could be signed")

	// ErrSeedUnavailable is returned when neither the caller, the session
	// cache nor the key record can supply the BIP39 seed.
	ErrSeedUnavailable = errors.New("seed unavailable")
)

// WalletKey is the stored record describing one wallet key, as supplied
// by the storage layer. The seed is hex encoded at rest; the engine only
// ever holds the decoded bytes inside wiped buffers.
type WalletKey struct {
	// KeyID identifies the record.
	KeyID string

	// Mnemonic is the BIP39 phrase. May be empty for seed-only imports.
	Mnemonic string

	// BIP39Seed is the hex-encoded 64-byte seed.
	BIP39Seed string

	// Fingerprint is the master key fingerprint in display form.
	Fingerprint string

	// Label is the user-facing name.
	Label string
}

// Session carries everything one caller needs to use the engine: the
// network, the scan bounds and a secret cache for passphrase-derived
// seeds. Sessions are cheap; create one per logical unit of work and
// Close it when done.
type Session struct {
	params  *chaincfg.Params
	scan    psbt.ScanConfig
	secrets *secret.Cache
}

// NewSession builds a session for the given network. Zero scan values
// fall back to the defaults.
func NewSession(params *chaincfg.Params, scan psbt.ScanConfig) *Session {
	if scan.SingleSigGap == 0 {
		scan.SingleSigGap = psbt.DefaultSingleSigGap
	}
	if scan.MultisigGap == 0 {
		scan.MultisigGap = psbt.DefaultMultisigGap
	}

	return &Session{
		params:  params,
		scan:    scan,
		secrets: secret.NewCache(),
	}
}

// Close wipes every cached secret. The session must not be used
// afterwards.
func (s *Session) Close() {
	s.secrets.Clear()
}

// CacheSeed stores a passphrase-derived seed for the key id, wiping any
// prior entry under the same id. The session takes ownership of the
// bytes.
func (s *Session) CacheSeed(keyID string, seed []byte) {
	s.secrets.Store(keyID, secret.NewBuffer(seed))
}

// ForgetSeed wipes and drops the cached seed for the key id.
func (s *Session) ForgetSeed(keyID string) {
	s.secrets.Remove(keyID)
}

// CreateWalletFromMnemonic validates the mnemonic, derives the seed and
// master fingerprint and assembles the storable key record. The seed and
// master key material are wiped before returning.
func (s *Session) CreateWalletFromMnemonic(words, passphrase,
	label string) (*WalletKey, error) {

	if err := mnemonic.Check(words); err != nil {
		return nil, err
	}

	seed := mnemonic.ToSeed(words, passphrase)
	defer secret.Zero(seed)

	master, err := keychain.NewMaster(seed)
	if err != nil {
		return nil, err
	}
	defer master.Zero()

	fingerprint := keychain.FingerprintHex(master.PubKeyBytes())

	log.Infof("Created wallet key %s (%s)", fingerprint, label)

	return &WalletKey{
		KeyID:       fingerprint,
		Mnemonic:    words,
		BIP39Seed:   hex.EncodeToString(seed),
		Fingerprint: fingerprint,
		Label:       label,
	}, nil
}

// masterFor resolves the seed for the key record and derives the master
// key from it. Resolution order: the explicit seedHex override (the
// passphrase layer's answer), the session cache, then the record's own
// stored seed. The decoded seed is wiped before returning.
func (s *Session) masterFor(key *WalletKey,
	seedHex string) (*keychain.ExtendedKey, error) {

	var (
		seed []byte
		err  error
	)
	switch {
	case seedHex != "":
		seed, err = hex.DecodeString(seedHex)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSeedUnavailable,
				err)
		}

	default:
		seed, err = s.cachedOrStoredSeed(key)
		if err != nil {
			return nil, err
		}
	}
	defer secret.Zero(seed)

	return keychain.NewMaster(seed)
}

// cachedOrStoredSeed copies the seed out of the session cache, falling
// back to the record's stored seed.
func (s *Session) cachedOrStoredSeed(key *WalletKey) ([]byte, error) {
	if buf, ok := s.secrets.Get(key.KeyID); ok {
		seed, err := buf.Bytes()
		if err == nil {
			out := make([]byte, len(seed))
			copy(out, seed)

			return out, nil
		}
	}

	if key.BIP39Seed != "" {
		seed, err := hex.DecodeString(key.BIP39Seed)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSeedUnavailable,
				err)
		}

		return seed, nil
	}

	return nil, fmt.Errorf("%w: key %s", ErrSeedUnavailable, key.KeyID)
}

// SignPsbt decodes the raw packet, signs what this wallet's keys can
// reach and re-encodes the result. A pass that signs nothing is a hard
// failure with ErrNoInputsSigned; partially signed packets are returned
// normally along with the per-input report.
func (s *Session) SignPsbt(key *WalletKey, seedHex string,
	raw []byte) ([]byte, *psbt.SignResult, error) {

	packet, err := psbt.Decode(raw)
	if err != nil {
		return nil, nil, err
	}

	if packet.Warning == psbt.WarnStrippedGlobalXPubs {
		log.Warnf("PSBT for key %s parsed only after stripping "+
			"malformed global xpubs", key.KeyID)
	}

	master, err := s.masterFor(key, seedHex)
	if err != nil {
		return nil, nil, err
	}
	defer master.Zero()

	signer, err := psbt.NewSigner(master, s.params, s.scan)
	if err != nil {
		return nil, nil, err
	}

	signed, result, err := signer.Sign(packet)
	if err != nil {
		return nil, nil, err
	}

	if result.SignedCount == 0 {
		return nil, result, fmt.Errorf("%w: %d inputs examined",
			ErrNoInputsSigned, len(packet.Inputs))
	}

	encoded, err := psbt.Encode(signed)
	if err != nil {
		return nil, nil, err
	}

	return encoded, result, nil
}
