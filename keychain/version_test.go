package keychain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestVersionLookup spot-checks the version table against the well-known
// SLIP-0132 human-readable prefixes.
func TestVersionLookup(t *testing.T) {
	t.Parallel()

	master, err := NewMaster(testSeed(t))
	require.NoError(t, err)
	pub := master.Neuter()

	testCases := []struct {
		name       string
		version    Version
		wantPrefix string
	}{
		{"legacy mainnet", VersionXpub, "xpub"},
		{"nested mainnet", VersionYpub, "ypub"},
		{"segwit mainnet", VersionZpub, "zpub"},
		{"legacy testnet", VersionTpub, "tpub"},
		{"nested testnet", VersionUpub, "upub"},
		{"segwit testnet", VersionVpub, "vpub"},
		{"multisig nested mainnet", VersionMultiYpub, "Ypub"},
		{"multisig segwit mainnet", VersionMultiZpub, "Zpub"},
		{"multisig nested testnet", VersionMultiUpub, "Upub"},
		{"multisig segwit testnet", VersionMultiVpub, "Vpub"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			encoded := pub.Encode(tc.version)
			require.True(t,
				strings.HasPrefix(encoded, tc.wantPrefix),
				"got %s, want prefix %s", encoded,
				tc.wantPrefix)
		})
	}
}

// TestSingleSigVersion checks the purpose-keyed lookup, including the
// BIP86 convention of reusing the plain xpub prefix.
func TestSingleSigVersion(t *testing.T) {
	t.Parallel()

	v, err := SingleSigVersion(84, false, false)
	require.NoError(t, err)
	require.Equal(t, VersionZpub, v)

	v, err = SingleSigVersion(86, false, false)
	require.NoError(t, err)
	require.Equal(t, VersionXpub, v)

	v, err = SingleSigVersion(49, true, true)
	require.NoError(t, err)
	require.Equal(t, VersionUprv, v)

	_, err = SingleSigVersion(45, false, false)
	require.ErrorIs(t, err, ErrUnknownVersion)
}

// TestMultisigVersion checks the BIP48 script-type-keyed lookup.
func TestMultisigVersion(t *testing.T) {
	t.Parallel()

	v, err := MultisigVersion(2, false, false)
	require.NoError(t, err)
	require.Equal(t, VersionMultiZpub, v)

	v, err = MultisigVersion(1, true, true)
	require.NoError(t, err)
	require.Equal(t, VersionMultiUprv, v)

	v, err = MultisigVersion(0, false, false)
	require.NoError(t, err)
	require.Equal(t, VersionXpub, v)

	_, err = MultisigVersion(3, false, false)
	require.ErrorIs(t, err, ErrUnknownVersion)
}
