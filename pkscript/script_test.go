package pkscript

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

// bip84PubKeyHex is the first external public key (m/84'/0'/0'/0/0) of the
// BIP84 test vector wallet.
const bip84PubKeyHex = "0330d54fd0dd420a6e5f8d3624f5f3482cae350f79d5f075" +
	"3bf5beef9c2d91af3c"

// bip84Address0 is the address BIP84 publishes for that key.
const bip84Address0 = "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"

func testPubKey(t *testing.T) []byte {
	t.Helper()

	pubKey, err := hex.DecodeString(bip84PubKeyHex)
	require.NoError(t, err)

	return pubKey
}

// TestSingleSigScriptShapes checks the structural form of every supported
// single-sig script type.
func TestSingleSigScriptShapes(t *testing.T) {
	t.Parallel()

	pubKey := testPubKey(t)
	pubKeyHash := btcutil.Hash160(pubKey)

	// P2PKH: OP_DUP OP_HASH160 <20> OP_EQUALVERIFY OP_CHECKSIG.
	script, err := SingleSigScript(pubKey, P2PKH)
	require.NoError(t, err)
	require.Len(t, script, 25)
	require.Equal(t, byte(txscript.OP_DUP), script[0])
	require.Equal(t, pubKeyHash, script[3:23])

	// P2WPKH: OP_0 <20>.
	script, err = SingleSigScript(pubKey, P2WPKH)
	require.NoError(t, err)
	require.Len(t, script, 22)
	require.Equal(t, byte(txscript.OP_0), script[0])
	require.Equal(t, pubKeyHash, script[2:])

	// Nested P2WPKH: OP_HASH160 <20> OP_EQUAL over the witness program.
	script, err = SingleSigScript(pubKey, NestedP2WPKH)
	require.NoError(t, err)
	require.Len(t, script, 23)
	require.Equal(t, byte(txscript.OP_HASH160), script[0])

	// P2TR: OP_1 <32>, and the program is the tweaked output key, not the
	// raw internal key.
	script, err = SingleSigScript(pubKey, P2TR)
	require.NoError(t, err)
	require.Len(t, script, 34)
	require.Equal(t, byte(txscript.OP_1), script[0])
	require.NotEqual(t, pubKey[1:], script[2:])

	// Garbage keys are rejected.
	_, err = SingleSigScript([]byte{0x05, 0x01}, P2WPKH)
	require.Error(t, err)
}

// TestAddressKnownVector checks script+address construction against the
// published BIP84 first receiving address.
func TestAddressKnownVector(t *testing.T) {
	t.Parallel()

	script, err := SingleSigScript(testPubKey(t), P2WPKH)
	require.NoError(t, err)

	addr, err := Address(script, &chaincfg.MainNetParams)
	require.NoError(t, err)
	require.Equal(t, bip84Address0, addr)
}

// TestAddressPerNetwork verifies the same script renders differently per
// network and that unknown scripts fail.
func TestAddressPerNetwork(t *testing.T) {
	t.Parallel()

	script, err := SingleSigScript(testPubKey(t), P2WPKH)
	require.NoError(t, err)

	mainnet, err := Address(script, &chaincfg.MainNetParams)
	require.NoError(t, err)

	testnet, err := Address(script, &chaincfg.TestNet3Params)
	require.NoError(t, err)

	require.NotEqual(t, mainnet, testnet)

	// An empty script yields no address.
	_, err = Address(nil, &chaincfg.MainNetParams)
	require.ErrorIs(t, err, ErrNoAddressForScript)
}

// TestSortPubKeys verifies lexicographic ordering by serialized bytes.
func TestSortPubKeys(t *testing.T) {
	t.Parallel()

	a := []byte{0x02, 0xaa}
	b := []byte{0x02, 0xbb}
	c := []byte{0x03, 0x00}

	sorted := SortPubKeys([][]byte{c, b, a})
	require.Equal(t, [][]byte{a, b, c}, sorted)
}

// TestMultisigScript checks script assembly and the m/n bounds.
func TestMultisigScript(t *testing.T) {
	t.Parallel()

	// Three distinct valid keys, in the exact order handed to the
	// builder: MultisigScript must preserve the caller's order.
	valid := validTestKeys(t, 3)

	script, err := MultisigScript(2, valid)
	require.NoError(t, err)

	// OP_2 <33> <33> <33> OP_3 OP_CHECKMULTISIG.
	require.Equal(t, byte(txscript.OP_2), script[0])
	require.Equal(t, byte(txscript.OP_CHECKMULTISIG),
		script[len(script)-1])
	require.Equal(t, byte(txscript.OP_3), script[len(script)-2])
	require.Equal(t, 1+3*34+2, len(script))

	// Keys appear in the exact caller-provided order.
	require.Equal(t, valid[0], script[2:35])

	// Bounds violations.
	_, err = MultisigScript(0, valid)
	require.ErrorIs(t, err, ErrUnsupportedScriptType)
	_, err = MultisigScript(4, valid)
	require.ErrorIs(t, err, ErrUnsupportedScriptType)
	_, err = MultisigScript(1, nil)
	require.ErrorIs(t, err, ErrUnsupportedScriptType)
}
