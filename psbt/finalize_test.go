package psbt

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/coldsig/coldsig/pkscript"
	"github.com/stretchr/testify/require"
)

// TestFinalizeClearsPartialSigs checks that finalization consumes the
// signature set into the final fields.
func TestFinalizeClearsPartialSigs(t *testing.T) {
	t.Parallel()

	master := testMaster(t, 0x40)
	leaf := deriveLeaf(t, master, "m/84'/0'/0'/0/0")

	pkScript, err := pkscript.SingleSigScript(
		leaf.PubKeyBytes(), pkscript.P2WPKH,
	)
	require.NoError(t, err)

	prev := fundingTx(pkScript, 1_000_000)
	packet := witnessPacket(t, prev)
	packet.Inputs[0].Derivations = []Derivation{hintFor(t, master, leaf)}

	signer, err := NewSigner(master, &chaincfg.MainNetParams,
		testScanConfig())
	require.NoError(t, err)

	signed, _, err := signer.Sign(packet)
	require.NoError(t, err)

	final, err := Finalize(signed)
	require.NoError(t, err)

	in := final.Inputs[0]
	require.True(t, in.Finalized)
	require.Empty(t, in.PartialSigs)
	require.Len(t, in.FinalWitness, 2)
	require.Equal(t, leaf.PubKeyBytes(), in.FinalWitness[1])

	// The signed-but-unfinalized packet is untouched.
	require.False(t, signed.Inputs[0].Finalized)
	require.Len(t, signed.Inputs[0].PartialSigs, 1)
}

// TestExtractRequiresFinalized refuses to assemble a transaction from
// unfinalized inputs.
func TestExtractRequiresFinalized(t *testing.T) {
	t.Parallel()

	prev := fundingTx(make([]byte, 22), 1_000_000)
	packet := witnessPacket(t, prev)

	_, err := Extract(packet)
	require.ErrorIs(t, err, ErrNotFinalized)
}

// TestFinalizeWithoutUtxo fails cleanly on an input with no UTXO
// information.
func TestFinalizeWithoutUtxo(t *testing.T) {
	t.Parallel()

	prev := fundingTx(make([]byte, 22), 1_000_000)
	packet := witnessPacket(t, prev)
	packet.Inputs[0].Kind = KindNoUtxo
	packet.Inputs[0].WitnessTxOut = nil

	_, err := Finalize(packet)
	require.Error(t, err)
}

// TestBareP2SHMultisigPipeline signs and finalizes a legacy 2-of-3 bare
// P2SH multisig spend end to end.
func TestBareP2SHMultisigPipeline(t *testing.T) {
	t.Parallel()

	fixture := newMultisigFixture(t)
	fixture.cfg.ScriptType = pkscript.MultisigP2SH

	pkScript, err := pkscript.MultisigPkScript(
		fixture.cfg, 0, 0, &chaincfg.MainNetParams,
	)
	require.NoError(t, err)

	redeemScript, err := pkscript.MultisigWitnessScript(fixture.cfg, 0, 0)
	require.NoError(t, err)

	prev := fundingTx(pkScript, 9_000_000)
	spend := unsignedSpend(t, prev)

	packet := &Packet{
		UnsignedTx: spend,
		Inputs: []Input{{
			Kind:         KindNonWitness,
			NonWitnessTx: prev,
			RedeemScript: redeemScript,
		}},
		Outputs: []Output{{}},
	}

	leafPath := mustPath(t, "m/48'/0'/0'/2'/0/0")
	for _, master := range fixture.masters {
		leaf, err := master.DerivePath(leafPath)
		require.NoError(t, err)

		packet.Inputs[0].Derivations = append(
			packet.Inputs[0].Derivations, Derivation{
				PubKey:            leaf.PubKeyBytes(),
				MasterFingerprint: master.Fingerprint(),
				Path:              leafPath,
			},
		)
	}

	current := packet
	for _, idx := range []int{1, 0} {
		signer, err := NewSigner(fixture.masters[idx],
			&chaincfg.MainNetParams, testScanConfig())
		require.NoError(t, err)

		next, result, err := signer.Sign(current)
		require.NoError(t, err)
		require.Equal(t, 1, result.SignedCount)

		current = next
	}
	require.Len(t, current.Inputs[0].PartialSigs, 2)

	tx := verifySpend(t, current)
	require.Empty(t, tx.TxIn[0].Witness)
	require.NotEmpty(t, tx.TxIn[0].SignatureScript)
}

// TestParseMultisigScript covers the script disassembly helper.
func TestParseMultisigScript(t *testing.T) {
	t.Parallel()

	fixture := newMultisigFixture(t)

	script, err := pkscript.MultisigWitnessScript(fixture.cfg, 0, 0)
	require.NoError(t, err)

	m, n, pubKeys, err := parseMultisigScript(script)
	require.NoError(t, err)
	require.Equal(t, 2, m)
	require.Equal(t, 3, n)
	require.Len(t, pubKeys, 3)
	for _, pubKey := range pubKeys {
		require.Len(t, pubKey, 33)
	}

	// Not multisig: a plain P2WPKH script.
	_, _, _, err = parseMultisigScript([]byte{
		txscript.OP_0, txscript.OP_DATA_20,
	})
	require.Error(t, err)

	_, _, _, err = parseMultisigScript(nil)
	require.Error(t, err)
}
