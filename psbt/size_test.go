package psbt

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/coldsig/coldsig/pkscript"
	"github.com/stretchr/testify/require"
)

// singleSigPacket builds a 1-in-1-out witness packet spending the given
// single-sig script type.
func singleSigPacket(t *testing.T, scriptType pkscript.ScriptType) *Packet {
	t.Helper()

	master := testMaster(t, 0x50)
	leaf := deriveLeaf(t, master, "m/84'/0'/0'/0/0")

	pkScript, err := pkscript.SingleSigScript(
		leaf.PubKeyBytes(), scriptType,
	)
	require.NoError(t, err)

	return witnessPacket(t, fundingTx(pkScript, 1_000_000))
}

// TestEstimateVSizeSingleSig pins the estimator's output for the flat
// single-sig shapes. The spent output is a 31-byte P2WPKH txout in every
// case, so the only variable is the input.
func TestEstimateVSizeSingleSig(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		scriptType pkscript.ScriptType
		// 10 vB overhead (10.5 with witness), input, 31 vB output.
		want uint64
	}{
		{"p2wpkh", pkscript.P2WPKH, 110},
		{"p2tr", pkscript.P2TR, 100},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			size, err := EstimateVSize(singleSigPacket(
				t, tc.scriptType,
			))
			require.NoError(t, err)
			require.Equal(t, tc.want, size.Vbytes())
		})
	}
}

// TestEstimateVSizeLegacy checks a pure pre-SegWit transaction gets no
// marker bytes and no witness discount.
func TestEstimateVSizeLegacy(t *testing.T) {
	t.Parallel()

	master := testMaster(t, 0x51)
	leaf := deriveLeaf(t, master, "m/44'/0'/0'/0/0")

	pkScript, err := pkscript.SingleSigScript(
		leaf.PubKeyBytes(), pkscript.P2PKH,
	)
	require.NoError(t, err)

	prev := fundingTx(pkScript, 1_000_000)
	packet := &Packet{
		UnsignedTx: unsignedSpend(t, prev),
		Inputs: []Input{{
			Kind:         KindNonWitness,
			NonWitnessTx: prev,
		}},
		Outputs: []Output{{}},
	}

	size, err := EstimateVSize(packet)
	require.NoError(t, err)

	// 10 overhead + 148 input + 31 output.
	require.Equal(t, uint64(189), size.Vbytes())
}

// TestEstimateVSizeMultisig sizes P2WSH and bare P2SH 2-of-3 inputs from
// their actual scripts.
func TestEstimateVSizeMultisig(t *testing.T) {
	t.Parallel()

	fixture := newMultisigFixture(t)

	// Native P2WSH: base 41 vB, witness 1+1+2*73+1+105 = 254 wu.
	pkScript, err := pkscript.MultisigPkScript(
		fixture.cfg, 0, 0, &chaincfg.MainNetParams,
	)
	require.NoError(t, err)

	witnessScript, err := pkscript.MultisigWitnessScript(fixture.cfg, 0, 0)
	require.NoError(t, err)
	require.Len(t, witnessScript, 105)

	packet := witnessPacket(t, fundingTx(pkScript, 1_000_000))
	packet.Inputs[0].WitnessScript = witnessScript

	size, err := EstimateVSize(packet)
	require.NoError(t, err)

	// (40 + 41*4+254 + 31*4 + 2) wu = 584 wu.
	require.Equal(t, uint64(146), size.Vbytes())

	// Bare P2SH: scriptSig 1 + 2*73 + (2+105) = 254 bytes, full weight.
	fixture.cfg.ScriptType = pkscript.MultisigP2SH
	barePkScript, err := pkscript.MultisigPkScript(
		fixture.cfg, 0, 0, &chaincfg.MainNetParams,
	)
	require.NoError(t, err)

	prev := fundingTx(barePkScript, 1_000_000)
	barePacket := &Packet{
		UnsignedTx: unsignedSpend(t, prev),
		Inputs: []Input{{
			Kind:         KindNonWitness,
			NonWitnessTx: prev,
			RedeemScript: witnessScript,
		}},
		Outputs: []Output{{}},
	}

	bareSize, err := EstimateVSize(barePacket)
	require.NoError(t, err)

	// 10 + (40 + 3 + 254) + 31 = 338 vB, no witness marker.
	require.Equal(t, uint64(338), bareSize.Vbytes())
}

// TestEstimateVSizeRequiresUtxo fails on an input with no UTXO
// information.
func TestEstimateVSizeRequiresUtxo(t *testing.T) {
	t.Parallel()

	prev := fundingTx(make([]byte, 22), 1_000_000)
	packet := witnessPacket(t, prev)
	packet.Inputs[0].Kind = KindNoUtxo
	packet.Inputs[0].WitnessTxOut = nil

	_, err := EstimateVSize(packet)
	require.Error(t, err)
}
