package psbt

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/coldsig/coldsig/pkscript"
	"github.com/stretchr/testify/require"
)

// TestAnalyzeSingleSigInput covers the single-sig progression from
// unsigned through signed to finalized.
func TestAnalyzeSingleSigInput(t *testing.T) {
	t.Parallel()

	in := &Input{Kind: KindWitness}

	stats := AnalyzeInput(in)
	require.False(t, stats.IsMultisig)
	require.Equal(t, 1, stats.RequiredSigs)
	require.Equal(t, 0, stats.Signatures)
	require.False(t, stats.Ready)

	in.PartialSigs = []PartialSig{{PubKey: []byte{0x02}}}
	stats = AnalyzeInput(in)
	require.Equal(t, 1, stats.Signatures)
	require.True(t, stats.Ready)
	require.False(t, stats.Finalized)

	in.PartialSigs = nil
	in.Finalized = true
	stats = AnalyzeInput(in)
	require.Equal(t, 1, stats.Signatures)
	require.True(t, stats.Ready)
	require.True(t, stats.Finalized)
}

// TestAnalyzeTaprootInput counts a key-spend signature.
func TestAnalyzeTaprootInput(t *testing.T) {
	t.Parallel()

	in := &Input{Kind: KindWitness, TaprootKeySig: make([]byte, 64)}

	stats := AnalyzeInput(in)
	require.Equal(t, 1, stats.Signatures)
	require.True(t, stats.Ready)
}

// TestAnalyzeMultisigInput reads m-of-n from the witness script and
// counts collected signatures against it.
func TestAnalyzeMultisigInput(t *testing.T) {
	t.Parallel()

	fixture := newMultisigFixture(t)

	witnessScript, err := pkscript.MultisigWitnessScript(fixture.cfg, 0, 0)
	require.NoError(t, err)

	in := &Input{Kind: KindWitness, WitnessScript: witnessScript}

	stats := AnalyzeInput(in)
	require.True(t, stats.IsMultisig)
	require.Equal(t, 2, stats.RequiredSigs)
	require.Equal(t, 3, stats.TotalKeys)
	require.False(t, stats.Ready)

	in.PartialSigs = []PartialSig{{PubKey: []byte{0x02}}}
	require.False(t, AnalyzeInput(in).Ready)

	in.PartialSigs = append(in.PartialSigs,
		PartialSig{PubKey: []byte{0x03}})
	stats = AnalyzeInput(in)
	require.Equal(t, 2, stats.Signatures)
	require.True(t, stats.Ready)
}

// TestAnalyzePacketAggregation requires every input ready before the
// packet is.
func TestAnalyzePacketAggregation(t *testing.T) {
	t.Parallel()

	packet := &Packet{
		Inputs: []Input{
			{Kind: KindWitness, Finalized: true},
			{Kind: KindWitness},
		},
	}

	stats := AnalyzePacket(packet)
	require.Len(t, stats.Inputs, 2)
	require.False(t, stats.ReadyToFinalize)

	packet.Inputs[1].PartialSigs = []PartialSig{{PubKey: []byte{0x02}}}
	require.True(t, AnalyzePacket(packet).ReadyToFinalize)
}

// TestFee checks the fee arithmetic and its failure modes: inputs with no
// UTXO and packets that create more value than they spend.
func TestFee(t *testing.T) {
	t.Parallel()

	master := testMaster(t, 0x51)
	leaf := deriveLeaf(t, master, "m/84'/0'/0'/0/0")

	pkScript, err := pkscript.SingleSigScript(
		leaf.PubKeyBytes(), pkscript.P2WPKH,
	)
	require.NoError(t, err)

	prev := fundingTx(pkScript, 100_000)
	packet := witnessPacket(t, prev)

	// unsignedSpend pays prev value minus a flat 1000 sat.
	fee, err := Fee(packet)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(1000), fee)

	rate, err := FeeRate(packet)
	require.NoError(t, err)
	// The estimated size of the one-in one-out P2WPKH spend is 110 vb.
	require.Equal(t, "9 sat/vb", rate.String())

	// No UTXO, no fee.
	packet.Inputs[0].Kind = KindNoUtxo
	_, err = Fee(packet)
	require.ErrorIs(t, err, ErrPsbtParse)

	// Outputs exceeding inputs are rejected rather than reported as a
	// negative fee.
	packet.Inputs[0].Kind = KindWitness
	packet.UnsignedTx.TxOut[0].Value = 200_000
	_, err = Fee(packet)
	require.ErrorIs(t, err, ErrPsbtParse)
}
