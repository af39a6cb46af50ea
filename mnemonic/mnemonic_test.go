package mnemonic

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// testVectorWords is the well-known all-zero-entropy BIP39 mnemonic.
const testVectorWords = "abandon abandon abandon abandon abandon abandon " +
	"abandon abandon abandon abandon abandon about"

// TestGenerateWordCounts verifies the supported word counts produce valid
// mnemonics of the right length, and unsupported counts are rejected.
func TestGenerateWordCounts(t *testing.T) {
	t.Parallel()

	for _, wordCount := range []int{12, 15, 18, 21, 24} {
		words, err := Generate(wordCount, nil)
		require.NoError(t, err)
		require.Len(t, strings.Fields(words), wordCount)
		require.True(t, Validate(words))
	}

	for _, badCount := range []int{0, 6, 13, 16, 25} {
		_, err := Generate(badCount, nil)
		require.ErrorIs(t, err, ErrInvalidWordCount)
	}
}

// TestGenerateWithUserEntropy verifies that user entropy never makes the
// output deterministic: the system draw still dominates.
func TestGenerateWithUserEntropy(t *testing.T) {
	t.Parallel()

	userEntropy := []byte("dice rolls: 4 4 4 4")

	first, err := Generate(24, userEntropy)
	require.NoError(t, err)
	require.True(t, Validate(first))

	second, err := Generate(24, userEntropy)
	require.NoError(t, err)
	require.True(t, Validate(second))

	// Same user entropy, fresh system entropy: different mnemonics.
	require.NotEqual(t, first, second)
}

// TestValidateChecksum verifies checksum sensitivity: the canonical test
// vector is valid, and substituting its checksum word is detected.
func TestValidateChecksum(t *testing.T) {
	t.Parallel()

	require.True(t, Validate(testVectorWords))
	require.NoError(t, Check(testVectorWords))

	// Twelve times "abandon" has an all-zero checksum field, which does
	// not match SHA256 of the all-zero entropy.
	allAbandon := strings.Replace(
		testVectorWords, "about", "abandon", 1,
	)
	require.False(t, Validate(allAbandon))
	require.ErrorIs(t, Check(allAbandon), ErrChecksumMismatch)

	// A word off the list is rejected too.
	require.False(t, Validate(testVectorWords+" bitcoinz"))
}

// TestToSeedVectors checks the PBKDF2 stretch against the published BIP39
// test vectors for both the empty and the "TREZOR" passphrase.
func TestToSeedVectors(t *testing.T) {
	t.Parallel()

	seed := ToSeed(testVectorWords, "")
	require.Equal(t,
		"5eb00bbddcf069084889a8ab9155568165f5c453ccb85e70811aaed6f6da"+
			"5fc19a5ac40b389cd370d086206dec8aa6c43daea6690f20ad3d8d"+
			"48b2d2ce9e38e4",
		hex.EncodeToString(seed))

	seed = ToSeed(testVectorWords, "TREZOR")
	require.Equal(t,
		"c55257c360c07c72029aebc1b53c05ed0362ada38ead3e3e9efa3708e534"+
			"95531f09a6987599d18264c1e1c92f2cf141630c7a3c4ab7c81b2f"+
			"001698e7463b04",
		hex.EncodeToString(seed))

	// The stretch is deterministic.
	require.Equal(t, ToSeed(testVectorWords, ""),
		ToSeed(testVectorWords, ""))
}

// TestFingerprint verifies the mnemonic-to-fingerprint composition against
// the independently-computed master fingerprint of the test vector.
func TestFingerprint(t *testing.T) {
	t.Parallel()

	fp, err := Fingerprint(testVectorWords, "")
	require.NoError(t, err)
	require.Equal(t, "73c5da0a", fp)

	// A passphrase changes the seed and therefore the fingerprint.
	withPass, err := Fingerprint(testVectorWords, "TREZOR")
	require.NoError(t, err)
	require.NotEqual(t, fp, withPass)

	// Invalid mnemonics are rejected before any derivation.
	_, err = Fingerprint("not a mnemonic", "")
	require.ErrorIs(t, err, ErrChecksumMismatch)
}
