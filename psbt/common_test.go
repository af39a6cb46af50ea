package psbt

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/coldsig/coldsig/keychain"
	"github.com/coldsig/coldsig/pkscript"
	"github.com/stretchr/testify/require"
)

// testScanConfig keeps the scan fallback cheap in tests.
func testScanConfig() ScanConfig {
	return ScanConfig{SingleSigGap: 8, MultisigGap: 8}
}

// testMaster derives a deterministic private master key; the tag selects
// distinct key material.
func testMaster(t *testing.T, tag byte) *keychain.ExtendedKey {
	t.Helper()

	seed := make([]byte, 64)
	for i := range seed {
		seed[i] = tag ^ byte(i)
	}

	master, err := keychain.NewMaster(seed)
	require.NoError(t, err)

	return master
}

// mustPath parses a derivation path.
func mustPath(t *testing.T, text string) keychain.KeyPath {
	t.Helper()

	path, err := keychain.ParsePath(text)
	require.NoError(t, err)

	return path
}

// deriveLeaf derives the key at the given path below master.
func deriveLeaf(t *testing.T, master *keychain.ExtendedKey,
	text string) *keychain.ExtendedKey {

	t.Helper()

	key, err := master.DerivePath(mustPath(t, text))
	require.NoError(t, err)

	return key
}

// fundingTx builds a transaction paying value to pkScript at output 0.
func fundingTx(pkScript []byte, value int64) *wire.MsgTx {
	tx := wire.NewMsgTx(2)

	prevHash := chainhash.Hash{0xde, 0xad, 0xbe, 0xef}
	tx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&prevHash, 7), nil, nil,
	))
	tx.AddTxOut(wire.NewTxOut(value, pkScript))

	return tx
}

// unsignedSpend builds an unsigned transaction spending output 0 of prev
// into a single P2WPKH-shaped output.
func unsignedSpend(t *testing.T, prev *wire.MsgTx) *wire.MsgTx {
	t.Helper()

	tx := wire.NewMsgTx(2)

	prevHash := prev.TxHash()
	tx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&prevHash, 0), nil, nil,
	))

	destScript, err := pkscript.WitnessV0Script(make([]byte, 20))
	require.NoError(t, err)
	tx.AddTxOut(wire.NewTxOut(prev.TxOut[0].Value-1000, destScript))

	return tx
}

// witnessPacket wraps an unsigned spend of prev into a packet with a
// witness UTXO on its single input.
func witnessPacket(t *testing.T, prev *wire.MsgTx) *Packet {
	t.Helper()

	tx := unsignedSpend(t, prev)

	return &Packet{
		UnsignedTx: tx,
		Inputs: []Input{{
			Kind:         KindWitness,
			WitnessTxOut: prev.TxOut[0],
		}},
		Outputs: []Output{{}},
	}
}

// verifySpend finalizes the packet, extracts the transaction and runs
// every input through the script engine.
func verifySpend(t *testing.T, p *Packet) *wire.MsgTx {
	t.Helper()

	final, err := Finalize(p)
	require.NoError(t, err)

	tx, err := Extract(final)
	require.NoError(t, err)

	fetcher := prevOutFetcher(final)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for idx := range tx.TxIn {
		utxo := final.Inputs[idx].utxo(tx.TxIn[idx])
		require.NotNil(t, utxo)

		vm, err := txscript.NewEngine(
			utxo.PkScript, tx, idx, txscript.StandardVerifyFlags,
			nil, sigHashes, utxo.Value, fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %d", idx)
	}

	return tx
}
