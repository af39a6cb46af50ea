// Copyright (c) 2025 The coldsig developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/coldsig/coldsig/pkg/btcunit"
)

// InputStats describes the signing progress of one input.
type InputStats struct {
	// IsMultisig is set when the input spends a recognizable m-of-n
	// multisig script.
	IsMultisig bool

	// RequiredSigs is the number of signatures the script demands: m for
	// multisig, 1 otherwise.
	RequiredSigs int

	// TotalKeys is n for multisig, 1 otherwise.
	TotalKeys int

	// Signatures is the number of signatures present. A finalized input
	// counts as fully signed.
	Signatures int

	// Finalized mirrors the input's finalization state.
	Finalized bool

	// Ready is set when the input has enough signatures to finalize.
	Ready bool
}

// PacketStats aggregates per-input signing progress.
type PacketStats struct {
	// Inputs holds one entry per packet input.
	Inputs []InputStats

	// ReadyToFinalize is set when every input is ready.
	ReadyToFinalize bool
}

// AnalyzeInput inspects an input's script and signature set. The multisig
// parameters are read from the witness script when present, falling back
// to the redeem script for bare P2SH inputs.
func AnalyzeInput(in *Input) InputStats {
	stats := InputStats{
		RequiredSigs: 1,
		TotalKeys:    1,
		Finalized:    in.Finalized,
	}

	script := in.WitnessScript
	if len(script) == 0 {
		script = in.RedeemScript
	}

	if len(script) > 0 {
		numKeys, numSigs, err := txscript.CalcMultiSigStats(script)
		if err == nil {
			stats.IsMultisig = true
			stats.RequiredSigs = numSigs
			stats.TotalKeys = numKeys
		}
	}

	switch {
	case in.Finalized:
		stats.Signatures = stats.RequiredSigs

	case len(in.TaprootKeySig) > 0:
		stats.Signatures = 1

	default:
		stats.Signatures = len(in.PartialSigs)
	}

	stats.Ready = stats.Signatures >= stats.RequiredSigs

	return stats
}

// Fee returns the transaction fee implied by the packet: the sum of the
// spent output values minus the sum of the created output values. Every
// input must carry a UTXO for the fee to be computable.
func Fee(p *Packet) (btcutil.Amount, error) {
	var inputValue int64
	for idx := range p.Inputs {
		utxo := p.Inputs[idx].utxo(p.UnsignedTx.TxIn[idx])
		if utxo == nil {
			return 0, fmt.Errorf("%w: input %d has no utxo",
				ErrPsbtParse, idx)
		}

		inputValue += utxo.Value
	}

	var outputValue int64
	for _, txOut := range p.UnsignedTx.TxOut {
		outputValue += txOut.Value
	}

	if outputValue > inputValue {
		return 0, fmt.Errorf("%w: outputs exceed inputs by %d sat",
			ErrPsbtParse, outputValue-inputValue)
	}

	return btcutil.Amount(inputValue - outputValue), nil
}

// FeeRate returns the packet's fee divided by its estimated virtual size.
// The estimate assumes worst-case signature lengths, so the reported rate
// is a floor on what the finalized transaction will pay.
func FeeRate(p *Packet) (btcunit.SatPerVByte, error) {
	fee, err := Fee(p)
	if err != nil {
		return 0, err
	}

	size, err := EstimateVSize(p)
	if err != nil {
		return 0, err
	}

	return btcunit.NewSatPerVByte(fee, size), nil
}

// AnalyzePacket runs AnalyzeInput over every input.
func AnalyzePacket(p *Packet) PacketStats {
	stats := PacketStats{
		Inputs:          make([]InputStats, len(p.Inputs)),
		ReadyToFinalize: true,
	}

	for i := range p.Inputs {
		stats.Inputs[i] = AnalyzeInput(&p.Inputs[i])
		if !stats.Inputs[i].Ready {
			stats.ReadyToFinalize = false
		}
	}

	return stats
}
