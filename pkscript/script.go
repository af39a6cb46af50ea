// Copyright (c) 2025 The coldsig developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package pkscript builds output scripts and addresses for the script
// types the signing engine supports: P2PKH, P2WPKH, P2SH-P2WPKH and P2TR
// for single-sig wallets, and sorted-multisig P2WSH, P2SH-P2WSH and bare
// P2SH for multisig wallets.
package pkscript

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

var (
	// ErrUnsupportedScriptType is returned for a script type outside the
	// supported set.
	ErrUnsupportedScriptType = errors.New("unsupported script type")

	// ErrNoAddressForScript is returned when no address can be extracted
	// from a pkScript.
	ErrNoAddressForScript = errors.New("no address for script")
)

// ScriptType identifies a single-sig output script construction.
type ScriptType uint8

const (
	// P2PKH is a legacy pay-to-pubkey-hash output.
	P2PKH ScriptType = iota

	// P2WPKH is a native SegWit v0 pay-to-witness-pubkey-hash output.
	P2WPKH

	// NestedP2WPKH is a P2WPKH program nested in P2SH.
	NestedP2WPKH

	// P2TR is a SegWit v1 taproot output using the BIP86 key-spend-only
	// tweak.
	P2TR
)

// String returns a human-readable name for the script type.
func (s ScriptType) String() string {
	switch s {
	case P2PKH:
		return "p2pkh"
	case P2WPKH:
		return "p2wpkh"
	case NestedP2WPKH:
		return "p2sh-p2wpkh"
	case P2TR:
		return "p2tr"
	default:
		return fmt.Sprintf("scripttype(%d)", uint8(s))
	}
}

// Purpose returns the conventional BIP43 purpose for the script type.
func (s ScriptType) Purpose() uint32 {
	switch s {
	case P2PKH:
		return 44
	case NestedP2WPKH:
		return 49
	case P2WPKH:
		return 84
	case P2TR:
		return 86
	default:
		return 0
	}
}

// SingleSigScript builds the output script paying to the passed compressed
// public key for the given script type. The script bytes are network
// independent.
func SingleSigScript(pubKey []byte, scriptType ScriptType) ([]byte, error) {
	parsed, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}

	pubKeyHash := btcutil.Hash160(pubKey)

	switch scriptType {
	case P2PKH:
		return txscript.NewScriptBuilder().
			AddOp(txscript.OP_DUP).
			AddOp(txscript.OP_HASH160).
			AddData(pubKeyHash).
			AddOp(txscript.OP_EQUALVERIFY).
			AddOp(txscript.OP_CHECKSIG).
			Script()

	case P2WPKH:
		return WitnessV0Script(pubKeyHash)

	case NestedP2WPKH:
		witnessProgram, err := WitnessV0Script(pubKeyHash)
		if err != nil {
			return nil, err
		}

		return txscript.NewScriptBuilder().
			AddOp(txscript.OP_HASH160).
			AddData(btcutil.Hash160(witnessProgram)).
			AddOp(txscript.OP_EQUAL).
			Script()

	case P2TR:
		// Key-spend-only output per BIP86: the internal key is tweaked
		// with an empty script tree and serialized x-only.
		outputKey := txscript.ComputeTaprootKeyNoScript(parsed)

		return txscript.NewScriptBuilder().
			AddOp(txscript.OP_1).
			AddData(schnorr.SerializePubKey(outputKey)).
			Script()

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedScriptType,
			scriptType)
	}
}

// WitnessV0Script builds a SegWit v0 output script (OP_0 <program>) for a
// 20-byte key hash or 32-byte script hash program.
func WitnessV0Script(program []byte) ([]byte, error) {
	if len(program) != 20 && len(program) != 32 {
		return nil, fmt.Errorf("%w: witness program length %d",
			ErrUnsupportedScriptType, len(program))
	}

	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(program).
		Script()
}

// Address renders the pkScript as an address string on the given network.
func Address(pkScript []byte, params *chaincfg.Params) (string, error) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoAddressForScript, err)
	}

	if len(addrs) == 0 {
		return "", fmt.Errorf("%w: %x", ErrNoAddressForScript, pkScript)
	}

	return addrs[0].EncodeAddress(), nil
}

// SortPubKeys sorts the passed public keys lexicographically by their
// serialized bytes, in place, and returns the slice. This is the explicit
// "sortedmulti" ordering step: script assembly never sorts on its own, so
// that the ordering stays a visible, testable part of the pipeline.
func SortPubKeys(pubKeys [][]byte) [][]byte {
	sort.Slice(pubKeys, func(i, j int) bool {
		return bytes.Compare(pubKeys[i], pubKeys[j]) < 0
	})

	return pubKeys
}

// MultisigScript assembles OP_m <pk1>...<pkn> OP_n OP_CHECKMULTISIG over
// the passed public keys. The caller must have sorted the keys already; the
// declared order is used as-is.
func MultisigScript(m int, sortedPubKeys [][]byte) ([]byte, error) {
	n := len(sortedPubKeys)
	if m < 1 || n < 1 || m > n || n > 16 {
		return nil, fmt.Errorf("%w: %d-of-%d multisig",
			ErrUnsupportedScriptType, m, n)
	}

	builder := txscript.NewScriptBuilder()
	builder.AddInt64(int64(m))

	for _, pubKey := range sortedPubKeys {
		if _, err := btcec.ParsePubKey(pubKey); err != nil {
			return nil, fmt.Errorf("invalid multisig key %x: %w",
				pubKey, err)
		}
		builder.AddData(pubKey)
	}

	builder.AddInt64(int64(n))
	builder.AddOp(txscript.OP_CHECKMULTISIG)

	return builder.Script()
}
