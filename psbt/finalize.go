// Copyright (c) 2025 The coldsig developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Finalize converts every input's partial signatures into final
// scriptSig/witness form and returns the finalized packet. The passed
// packet is not mutated. Inputs that are already finalized pass through
// unchanged; an input whose signature set does not satisfy its script
// fails the whole call with ErrInsufficientSignatures.
func Finalize(p *Packet) (*Packet, error) {
	out := p.Copy()

	for idx := range out.Inputs {
		if out.Inputs[idx].Finalized {
			continue
		}

		in := out.CopyInput(idx)

		witness, scriptSig, err := finalizeInput(
			&in, out.UnsignedTx.TxIn[idx],
		)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", idx, err)
		}

		in.FinalWitness = witness
		in.FinalScriptSig = scriptSig
		in.Finalized = true

		// Finalized inputs carry no partial signatures; they have
		// been consumed into the final fields.
		in.PartialSigs = nil
		in.TaprootKeySig = nil

		out.Inputs[idx] = in
	}

	return out, nil
}

// Extract assembles the broadcastable transaction from a fully finalized
// packet.
func Extract(p *Packet) (*wire.MsgTx, error) {
	tx := p.UnsignedTx.Copy()

	for idx := range p.Inputs {
		in := &p.Inputs[idx]
		if !in.Finalized {
			return nil, fmt.Errorf("%w: input %d", ErrNotFinalized,
				idx)
		}

		tx.TxIn[idx].SignatureScript = in.FinalScriptSig
		tx.TxIn[idx].Witness = in.FinalWitness
	}

	return tx, nil
}

// finalizeInput builds the witness stack and scriptSig satisfying the
// input's spent output.
func finalizeInput(in *Input, txIn *wire.TxIn) (wire.TxWitness, []byte,
	error) {

	utxo := in.utxo(txIn)
	if utxo == nil {
		return nil, nil, fmt.Errorf("no utxo information")
	}
	pkScript := utxo.PkScript

	// Taproot key spend: the witness is just the schnorr signature.
	if txscript.IsPayToTaproot(pkScript) {
		if len(in.TaprootKeySig) == 0 {
			return nil, nil, fmt.Errorf("%w: no taproot key "+
				"signature", ErrInsufficientSignatures)
		}

		return wire.TxWitness{in.TaprootKeySig}, nil, nil
	}

	// Unwrap P2SH. The scriptSig of a wrapped SegWit spend is a single
	// push of the redeem script.
	script := pkScript
	var scriptSig []byte
	if txscript.IsPayToScriptHash(pkScript) {
		if len(in.RedeemScript) == 0 {
			return nil, nil, fmt.Errorf("p2sh input without " +
				"redeem script")
		}
		script = in.RedeemScript

		push, err := txscript.NewScriptBuilder().
			AddData(in.RedeemScript).Script()
		if err != nil {
			return nil, nil, err
		}
		scriptSig = push
	}

	switch {
	case txscript.IsPayToWitnessPubKeyHash(script):
		if len(in.PartialSigs) == 0 {
			return nil, nil, fmt.Errorf("%w: 0 of 1",
				ErrInsufficientSignatures)
		}
		ps := in.PartialSigs[0]

		return wire.TxWitness{ps.Signature, ps.PubKey}, scriptSig, nil

	case txscript.IsPayToWitnessScriptHash(script):
		if len(in.WitnessScript) == 0 {
			return nil, nil, fmt.Errorf("p2wsh input without " +
				"witness script")
		}

		sigs, err := orderedMultisigSigs(in, in.WitnessScript)
		if err != nil {
			return nil, nil, err
		}

		// CHECKMULTISIG pops one extra stack item, hence the leading
		// empty element.
		witness := make(wire.TxWitness, 0, len(sigs)+2)
		witness = append(witness, nil)
		witness = append(witness, sigs...)
		witness = append(witness, in.WitnessScript)

		return witness, scriptSig, nil

	default:
		// Legacy spend. With a redeem script in play this is a bare
		// P2SH multisig, otherwise P2PKH.
		if len(in.RedeemScript) > 0 {
			sigScript, err := finalizeBareMultisig(in)
			return nil, sigScript, err
		}

		if len(in.PartialSigs) == 0 {
			return nil, nil, fmt.Errorf("%w: 0 of 1",
				ErrInsufficientSignatures)
		}
		ps := in.PartialSigs[0]

		sigScript, err := txscript.NewScriptBuilder().
			AddData(ps.Signature).
			AddData(ps.PubKey).
			Script()
		if err != nil {
			return nil, nil, err
		}

		return nil, sigScript, nil
	}
}

// finalizeBareMultisig assembles the scriptSig of a bare P2SH multisig
// spend: OP_0, the ordered signatures, then the redeem script push.
func finalizeBareMultisig(in *Input) ([]byte, error) {
	sigs, err := orderedMultisigSigs(in, in.RedeemScript)
	if err != nil {
		return nil, err
	}

	builder := txscript.NewScriptBuilder().AddOp(txscript.OP_0)
	for _, sig := range sigs {
		builder.AddData(sig)
	}
	builder.AddData(in.RedeemScript)

	return builder.Script()
}

// orderedMultisigSigs selects m signatures from the input's partial set,
// ordered by their key's position inside the multisig script. Signature
// order must match key order for OP_CHECKMULTISIG to verify.
func orderedMultisigSigs(in *Input, script []byte) ([][]byte, error) {
	m, _, pubKeys, err := parseMultisigScript(script)
	if err != nil {
		return nil, err
	}

	sigs := make([][]byte, 0, m)
	for _, pubKey := range pubKeys {
		sig, ok := in.sigFor(pubKey)
		if !ok {
			continue
		}

		sigs = append(sigs, sig)
		if len(sigs) == m {
			break
		}
	}

	if len(sigs) < m {
		return nil, fmt.Errorf("%w: %d of %d",
			ErrInsufficientSignatures, len(sigs), m)
	}

	return sigs, nil
}

// parseMultisigScript disassembles OP_m <pk>... OP_n OP_CHECKMULTISIG and
// returns its parameters and keys in script order.
func parseMultisigScript(script []byte) (int, int, [][]byte, error) {
	var (
		opcodes []byte
		pushes  [][]byte
	)

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		opcodes = append(opcodes, tokenizer.Opcode())
		pushes = append(pushes, tokenizer.Data())
	}
	if err := tokenizer.Err(); err != nil {
		return 0, 0, nil, err
	}

	if len(opcodes) < 4 ||
		opcodes[len(opcodes)-1] != txscript.OP_CHECKMULTISIG {

		return 0, 0, nil, fmt.Errorf("not a multisig script")
	}

	m := smallInt(opcodes[0])
	n := smallInt(opcodes[len(opcodes)-2])
	if m < 1 || n < 1 || m > n || n > 16 {
		return 0, 0, nil, fmt.Errorf("invalid multisig params "+
			"%d-of-%d", m, n)
	}

	pubKeys := pushes[1 : len(pushes)-2]
	if len(pubKeys) != n {
		return 0, 0, nil, fmt.Errorf("%d keys for n=%d", len(pubKeys),
			n)
	}
	for _, pubKey := range pubKeys {
		if len(pubKey) != 33 && len(pubKey) != 65 {
			return 0, 0, nil, fmt.Errorf("multisig key is %d "+
				"bytes", len(pubKey))
		}
	}

	return m, n, pubKeys, nil
}

// smallInt decodes OP_1 through OP_16, returning 0 for anything else.
func smallInt(opcode byte) int {
	if opcode < txscript.OP_1 || opcode > txscript.OP_16 {
		return 0
	}

	return int(opcode-txscript.OP_1) + 1
}
