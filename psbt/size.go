// Copyright (c) 2025 The coldsig developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/coldsig/coldsig/pkg/btcunit"
)

// Signed-input size constants, in virtual bytes for the flat single-sig
// shapes and in raw bytes for the composed ones. Signatures are budgeted
// at their 73-byte worst case.
const (
	inputVBytesP2PKH  = 148
	inputVBytesP2WPKH = 68
	inputVBytesP2TR   = 58

	// inputBaseP2WSH is the non-witness part of a native P2WSH input:
	// outpoint, empty scriptSig and sequence.
	inputBaseP2WSH = 41

	// inputBaseNestedP2WSH adds the scriptSig push of the 34-byte
	// witness program.
	inputBaseNestedP2WSH = 76

	// inputBaseNestedP2WPKH adds the scriptSig push of the 22-byte
	// witness program instead.
	inputBaseNestedP2WPKH = 64

	// witnessBytesP2WPKH is a P2WPKH witness stack: item count, a
	// signature and a compressed key.
	witnessBytesP2WPKH = 1 + 73 + 34

	maxSigBytes = 73
)

// EstimateVSize predicts the virtual size of the fully signed transaction
// the packet will finalize into. Multisig inputs are sized from their
// actual witness or redeem script; every input therefore needs UTXO
// information and, for script-hash shapes, the corresponding script.
func EstimateVSize(p *Packet) (btcunit.VByte, error) {
	// Version, input and output counts, locktime.
	weight := uint64(10) * blockchain.WitnessScaleFactor

	hasWitness := false
	for idx := range p.Inputs {
		inputWeight, witness, err := estimateInputWeight(
			&p.Inputs[idx], p.UnsignedTx.TxIn[idx],
		)
		if err != nil {
			return btcunit.VByte{}, fmt.Errorf("input %d: %w",
				idx, err)
		}

		weight += inputWeight
		hasWitness = hasWitness || witness
	}

	for _, txOut := range p.UnsignedTx.TxOut {
		scriptLen := uint64(len(txOut.PkScript))
		outSize := 8 + uint64(wire.VarIntSerializeSize(scriptLen)) +
			scriptLen
		weight += outSize * blockchain.WitnessScaleFactor
	}

	// Segwit marker and flag bytes.
	if hasWitness {
		weight += 2
	}

	return btcunit.NewWeightUnit(weight).ToVB(), nil
}

// estimateInputWeight returns the signed weight of one input and whether
// it contributes witness data.
func estimateInputWeight(in *Input, txIn *wire.TxIn) (uint64, bool, error) {
	utxo := in.utxo(txIn)
	if utxo == nil {
		return 0, false, fmt.Errorf("no utxo information")
	}
	pkScript := utxo.PkScript

	switch {
	case txscript.IsPayToTaproot(pkScript):
		return inputVBytesP2TR * blockchain.WitnessScaleFactor, true,
			nil

	case txscript.IsPayToWitnessPubKeyHash(pkScript):
		return inputVBytesP2WPKH * blockchain.WitnessScaleFactor,
			true, nil

	case txscript.IsPayToWitnessScriptHash(pkScript):
		witness, err := multisigWitnessWeight(in.WitnessScript)
		if err != nil {
			return 0, false, err
		}

		return inputBaseP2WSH*blockchain.WitnessScaleFactor + witness,
			true, nil

	case txscript.IsPayToScriptHash(pkScript):
		return estimateP2SHInputWeight(in)

	// Legacy P2PKH, also the conservative answer for anything
	// unrecognized.
	default:
		return inputVBytesP2PKH * blockchain.WitnessScaleFactor,
			false, nil
	}
}

// estimateP2SHInputWeight sizes a P2SH input by its redeem script: nested
// P2WPKH, nested P2WSH or bare multisig.
func estimateP2SHInputWeight(in *Input) (uint64, bool, error) {
	if len(in.RedeemScript) == 0 {
		return 0, false, fmt.Errorf("p2sh input without redeem script")
	}

	switch {
	case txscript.IsPayToWitnessPubKeyHash(in.RedeemScript):
		return inputBaseNestedP2WPKH*blockchain.WitnessScaleFactor +
			witnessBytesP2WPKH, true, nil

	case txscript.IsPayToWitnessScriptHash(in.RedeemScript):
		witness, err := multisigWitnessWeight(in.WitnessScript)
		if err != nil {
			return 0, false, err
		}

		return inputBaseNestedP2WSH*blockchain.WitnessScaleFactor +
			witness, true, nil

	// Bare multisig pays full price: no witness discount applies to the
	// scriptSig.
	default:
		m, _, _, err := parseMultisigScript(in.RedeemScript)
		if err != nil {
			return 0, false, err
		}

		scriptSigLen := uint64(1 + m*maxSigBytes +
			pushSize(len(in.RedeemScript)))
		size := 40 + uint64(wire.VarIntSerializeSize(scriptSigLen)) +
			scriptSigLen

		return size * blockchain.WitnessScaleFactor, false, nil
	}
}

// multisigWitnessWeight is the witness stack weight of an m-of-n P2WSH
// spend: item count, the CHECKMULTISIG dummy, m worst-case signatures and
// the witness script with its length prefix.
func multisigWitnessWeight(witnessScript []byte) (uint64, error) {
	if len(witnessScript) == 0 {
		return 0, fmt.Errorf("p2wsh input without witness script")
	}

	m, _, _, err := parseMultisigScript(witnessScript)
	if err != nil {
		return 0, err
	}

	return uint64(1 + 1 + m*maxSigBytes + 1 + len(witnessScript)), nil
}

// pushSize is the scriptSig size of a data push of n bytes.
func pushSize(n int) int {
	if n < txscript.OP_PUSHDATA1 {
		return 1 + n
	}
	if n < 256 {
		return 2 + n
	}

	return 3 + n
}
