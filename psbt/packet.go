// Copyright (c) 2025 The coldsig developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package psbt implements the BIP-174 Partially Signed Bitcoin Transaction
// binary codec and the signing state machine that drives the offline
// engine: derivation-hint matching, alternate-path fallback, bounded
// address-scan fallback, finalization and size estimation.
package psbt

import (
	"errors"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/coldsig/coldsig/keychain"
)

var (
	// ErrPsbtParse is returned when PSBT bytes cannot be decoded, even
	// after the global-xpub-stripped retry.
	ErrPsbtParse = errors.New("unable to parse psbt")

	// ErrInsufficientSignatures is returned by finalization when an input
	// carries fewer signatures than its script requires.
	ErrInsufficientSignatures = errors.New("insufficient signatures")

	// ErrNotFinalized is returned when a broadcastable transaction is
	// requested from a packet that still has unfinalized inputs.
	ErrNotFinalized = errors.New("packet has unfinalized inputs")
)

// ParseWarning records a non-fatal deviation the parser had to tolerate.
type ParseWarning uint8

const (
	// WarnNone means the packet parsed cleanly.
	WarnNone ParseWarning = iota

	// WarnStrippedGlobalXPubs means strict parsing failed and the packet
	// only parsed after all global xpub entries were discarded. Malformed
	// global-xpub metadata is common among hardware-wallet coordinators
	// and is never required for signing, since derivation uses per-input
	// hints.
	WarnStrippedGlobalXPubs
)

// UtxoKind tags which form of previous-output information an input
// carries. Together with the Finalized flag it forms the input's state
// tag; every switch over it in this package is exhaustive.
type UtxoKind uint8

const (
	// KindNoUtxo marks an input with no UTXO information at all.
	KindNoUtxo UtxoKind = iota

	// KindWitness marks an input carrying a witness UTXO (the spent
	// output only).
	KindWitness

	// KindNonWitness marks an input carrying the full previous
	// transaction.
	KindNonWitness
)

// KV is a raw key-value entry preserved verbatim for key types this
// package does not interpret, so that re-encoding round-trips foreign
// metadata.
type KV struct {
	Type    uint64
	KeyData []byte
	Value   []byte
}

// PartialSig is one entry of an input's pubkey to signature map.
type PartialSig struct {
	// PubKey is the compressed (or legacy uncompressed) public key the
	// signature belongs to.
	PubKey []byte

	// Signature is the DER-encoded ECDSA signature including the sighash
	// byte.
	Signature []byte
}

// Derivation is a BIP32 derivation hint attached to an input or output:
// the pubkey it describes, the master key fingerprint and the path from
// that master key.
type Derivation struct {
	PubKey            []byte
	MasterFingerprint uint32
	Path              keychain.KeyPath
}

// TaprootDerivation is the taproot analogue of Derivation, keyed by the
// x-only public key and optionally scoped to script leaves.
type TaprootDerivation struct {
	XOnlyPubKey       []byte
	LeafHashes        [][]byte
	MasterFingerprint uint32
	Path              keychain.KeyPath
}

// GlobalXPub is one entry of the packet's global xpub list.
type GlobalXPub struct {
	// Raw is the 78-byte serialized extended key.
	Raw []byte

	// MasterFingerprint is the fingerprint of the master the key was
	// derived from.
	MasterFingerprint uint32

	// Path is the derivation path behind the xpub.
	Path keychain.KeyPath
}

// Input is one PSBT input. Its state is the pair (Kind, Finalized):
// witness or non-witness or no UTXO information, crossed with partially
// signed versus finalized.
//
// Invariant: once an input is finalized its partial signature map is
// empty; the signatures have been consumed into the final witness or
// scriptSig.
type Input struct {
	// Kind tags the UTXO form. See UtxoKind.
	Kind UtxoKind

	// Finalized is set once the final scriptSig/witness fields are
	// populated.
	Finalized bool

	// NonWitnessTx is the full previous transaction (Kind ==
	// KindNonWitness, and also present alongside witness data for SegWit
	// v0 inputs as the CVE-2020-14199 mitigation).
	NonWitnessTx *wire.MsgTx

	// WitnessTxOut is the spent output (Kind == KindWitness).
	WitnessTxOut *wire.TxOut

	// PartialSigs maps pubkeys to signatures collected so far.
	PartialSigs []PartialSig

	// SighashType is the sighash requested for this input, zero when
	// unset.
	SighashType txscript.SigHashType

	// RedeemScript is the P2SH redeem script, when the input spends a
	// P2SH output.
	RedeemScript []byte

	// WitnessScript is the P2WSH witness script, when the input spends a
	// P2WSH output. P2WPKH inputs never carry one on the wire.
	WitnessScript []byte

	// Derivations holds the BIP32 derivation hints.
	Derivations []Derivation

	// TaprootDerivations holds the x-only derivation hints.
	TaprootDerivations []TaprootDerivation

	// TaprootInternalKey is the x-only internal key for taproot inputs.
	TaprootInternalKey []byte

	// TaprootKeySig is the key-spend schnorr signature, once produced.
	TaprootKeySig []byte

	// FinalScriptSig is the complete scriptSig after finalization.
	FinalScriptSig []byte

	// FinalWitness is the complete witness stack after finalization.
	FinalWitness wire.TxWitness

	// Unknown preserves unrecognized key-value entries.
	Unknown []KV
}

// Output is one PSBT output.
type Output struct {
	RedeemScript       []byte
	WitnessScript      []byte
	Derivations        []Derivation
	TaprootInternalKey []byte
	TaprootDerivations []TaprootDerivation
	Unknown            []KV
}

// Packet is a parsed PSBT: the unsigned transaction, global metadata and
// the per-input/per-output maps. Input and output counts are fixed at
// parse time; signing replaces inputs in place at their index on a copied
// slice, never resizing.
type Packet struct {
	// UnsignedTx is the transaction being signed. Its inputs carry no
	// scriptSigs or witnesses.
	UnsignedTx *wire.MsgTx

	// XPubs is the global xpub list.
	XPubs []GlobalXPub

	// Inputs holds one entry per UnsignedTx.TxIn.
	Inputs []Input

	// Outputs holds one entry per UnsignedTx.TxOut.
	Outputs []Output

	// Unknown preserves unrecognized global entries.
	Unknown []KV

	// Warning records parse-time interoperability workarounds.
	Warning ParseWarning
}

// Copy returns a packet value with a freshly allocated input slice, ready
// for copy-on-write mutation during signing. The input structs themselves
// are shared until CopyInput replaces a specific index.
func (p *Packet) Copy() *Packet {
	cp := *p
	cp.Inputs = make([]Input, len(p.Inputs))
	copy(cp.Inputs, p.Inputs)

	return &cp
}

// CopyInput returns a deep copy of the input at the given index, suitable
// for in-place replacement after mutation.
func (p *Packet) CopyInput(idx int) Input {
	in := p.Inputs[idx]

	in.PartialSigs = append([]PartialSig(nil), in.PartialSigs...)
	in.Derivations = append([]Derivation(nil), in.Derivations...)
	in.TaprootDerivations = append(
		[]TaprootDerivation(nil), in.TaprootDerivations...,
	)

	return in
}

// sigFor returns the signature for the passed pubkey, if present.
func (in *Input) sigFor(pubKey []byte) ([]byte, bool) {
	for _, ps := range in.PartialSigs {
		if bytesEqual(ps.PubKey, pubKey) {
			return ps.Signature, true
		}
	}

	return nil, false
}

// utxo returns the spent output for the input, resolving the non-witness
// transaction through the input's previous outpoint when needed.
func (in *Input) utxo(txIn *wire.TxIn) *wire.TxOut {
	switch in.Kind {
	case KindWitness:
		return in.WitnessTxOut

	case KindNonWitness:
		index := txIn.PreviousOutPoint.Index
		if int(index) >= len(in.NonWitnessTx.TxOut) {
			return nil
		}

		return in.NonWitnessTx.TxOut[index]

	case KindNoUtxo:
		return nil

	default:
		return nil
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
