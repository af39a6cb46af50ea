// Copyright (c) 2025 The coldsig developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pkscript

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/coldsig/coldsig/keychain"
)

var (
	// ErrInvalidMultisigConfig is returned when a multisig configuration
	// violates 1 <= m <= n <= 16 or its cosigner list does not match n.
	ErrInvalidMultisigConfig = errors.New("invalid multisig configuration")

	// ErrCosignerKeyMismatch is returned when fewer than n cosigner
	// extended keys decode and derive successfully.
	ErrCosignerKeyMismatch = errors.New("cosigner key mismatch")
)

// MultisigScriptType identifies how a multisig script is wrapped into an
// output.
type MultisigScriptType uint8

const (
	// MultisigP2WSH wraps the script as a native SegWit v0
	// pay-to-witness-script-hash output.
	MultisigP2WSH MultisigScriptType = iota

	// MultisigNestedP2WSH wraps the P2WSH program in P2SH.
	MultisigNestedP2WSH

	// MultisigP2SH is a bare pay-to-script-hash output with no SegWit
	// component.
	MultisigP2SH
)

// String returns a human-readable name for the multisig script type.
func (s MultisigScriptType) String() string {
	switch s {
	case MultisigP2WSH:
		return "p2wsh"
	case MultisigNestedP2WSH:
		return "p2sh-p2wsh"
	case MultisigP2SH:
		return "p2sh"
	default:
		return fmt.Sprintf("multisigscripttype(%d)", uint8(s))
	}
}

// BIP48ScriptType returns the script-type path level BIP48 assigns to this
// wrapping (2' for native P2WSH, 1' for nested, and conventionally 0' for
// bare P2SH).
func (s MultisigScriptType) BIP48ScriptType() uint32 {
	switch s {
	case MultisigP2WSH:
		return 2
	case MultisigNestedP2WSH:
		return 1
	default:
		return 0
	}
}

// Cosigner describes one participant of a multisig wallet.
type Cosigner struct {
	// XPub is the cosigner's account-level extended public key, in any
	// supported SLIP-0132 encoding. It is decoded with the relaxed raw
	// decode, so coordinator-exported keys with inconsistent BIP32
	// metadata are acceptable.
	XPub string

	// Fingerprint is the cosigner's master key fingerprint.
	Fingerprint uint32

	// Path is the account derivation path behind XPub.
	Path keychain.KeyPath

	// IsLocal marks the cosigners whose private keys are resolvable on
	// this device.
	IsLocal bool

	// KeyID optionally references the local wallet key record backing
	// this cosigner. Only meaningful when IsLocal is set.
	KeyID string
}

// MultisigConfig describes an m-of-n sorted-multisig wallet.
type MultisigConfig struct {
	// M is the signature threshold.
	M int

	// N is the total number of cosigners.
	N int

	// ScriptType selects the output wrapping.
	ScriptType MultisigScriptType

	// Cosigners lists the n participants. The declared order is
	// irrelevant for address derivation: child public keys are sorted
	// lexicographically before script assembly.
	Cosigners []Cosigner
}

// Validate checks the structural invariants of the configuration.
func (c *MultisigConfig) Validate() error {
	if c.M < 1 || c.N < 1 || c.M > c.N || c.N > 16 {
		return fmt.Errorf("%w: %d-of-%d", ErrInvalidMultisigConfig,
			c.M, c.N)
	}

	if len(c.Cosigners) != c.N {
		return fmt.Errorf("%w: %d cosigners declared for n=%d",
			ErrInvalidMultisigConfig, len(c.Cosigners), c.N)
	}

	return nil
}

// childPubKeys derives the per-address child public key of every cosigner
// at (change, index), using the raw BIP32 child formula directly on the
// decoded (pubkey, chain code) pairs.
func (c *MultisigConfig) childPubKeys(change, index uint32) ([][]byte, error) {
	pubKeys := make([][]byte, 0, len(c.Cosigners))

	for i := range c.Cosigners {
		cosigner := &c.Cosigners[i]

		chainCode, keyMaterial, err := keychain.DecodeRaw(cosigner.XPub)
		if err != nil {
			return nil, fmt.Errorf("%w: cosigner %d: %v",
				ErrCosignerKeyMismatch, i, err)
		}

		changePub, changeChain, err := keychain.RawChild(
			keyMaterial, chainCode, change,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: cosigner %d: %v",
				ErrCosignerKeyMismatch, i, err)
		}

		leafPub, _, err := keychain.RawChild(
			changePub, changeChain, index,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: cosigner %d: %v",
				ErrCosignerKeyMismatch, i, err)
		}

		pubKeys = append(pubKeys, leafPub)
	}

	return pubKeys, nil
}

// MultisigWitnessScript derives the sorted m-of-n multisig script for the
// address at (change, index): every cosigner xpub is raw-decoded, two
// non-hardened child levels are applied, and the resulting public keys are
// sorted lexicographically before assembly.
func MultisigWitnessScript(cfg *MultisigConfig, change,
	index uint32) ([]byte, error) {

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pubKeys, err := cfg.childPubKeys(change, index)
	if err != nil {
		return nil, err
	}

	return MultisigScript(cfg.M, SortPubKeys(pubKeys))
}

// MultisigPkScript derives the output script for the multisig address at
// (change, index), applying the configured wrapping.
func MultisigPkScript(cfg *MultisigConfig, change, index uint32,
	params *chaincfg.Params) ([]byte, error) {

	script, err := MultisigWitnessScript(cfg, change, index)
	if err != nil {
		return nil, err
	}

	switch cfg.ScriptType {
	case MultisigP2WSH:
		return WitnessScriptProgram(script)

	case MultisigNestedP2WSH:
		witnessScript, err := WitnessScriptProgram(script)
		if err != nil {
			return nil, err
		}

		addr, err := btcutil.NewAddressScriptHash(
			witnessScript, params,
		)
		if err != nil {
			return nil, err
		}

		return payToScriptHash(addr)

	case MultisigP2SH:
		addr, err := btcutil.NewAddressScriptHash(script, params)
		if err != nil {
			return nil, err
		}

		return payToScriptHash(addr)

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedScriptType,
			cfg.ScriptType)
	}
}

// WitnessScriptProgram returns the P2WSH output-script form of the passed
// witness script (OP_0 <sha256(script)>). The same bytes double as the
// redeem script when the program is nested in P2SH.
func WitnessScriptProgram(witnessScript []byte) ([]byte, error) {
	program := sha256.Sum256(witnessScript)
	return WitnessV0Script(program[:])
}

// payToScriptHash renders the standard P2SH output script for the address.
func payToScriptHash(addr *btcutil.AddressScriptHash) ([]byte, error) {
	return txscript.PayToAddrScript(addr)
}

// MultisigAddress derives the multisig address at (change, index) on the
// given network. The result is invariant to the declared cosigner order.
func MultisigAddress(cfg *MultisigConfig, change, index uint32,
	params *chaincfg.Params) (string, error) {

	pkScript, err := MultisigPkScript(cfg, change, index, params)
	if err != nil {
		return "", err
	}

	return Address(pkScript, params)
}
