// Copyright (c) 2025 The coldsig developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownVersion is returned when an extended key carries a version
	// prefix outside the supported SLIP-0132 table, or when a version
	// lookup is requested for an unsupported purpose/script-type.
	ErrUnknownVersion = errors.New("unknown extended key version")
)

// Version is the 4-byte base58check prefix of a serialized extended key.
// Each (script type, network, single/multisig) combination maps to a
// distinct prefix; selection is a pure table lookup, never computed.
type Version [4]byte

// Single-sig versions, per BIP32 and SLIP-0132.
var (
	VersionXprv = Version{0x04, 0x88, 0xad, 0xe4} // xprv
	VersionXpub = Version{0x04, 0x88, 0xb2, 0x1e} // xpub
	VersionYprv = Version{0x04, 0x9d, 0x78, 0x78} // yprv
	VersionYpub = Version{0x04, 0x9d, 0x7c, 0xb2} // ypub
	VersionZprv = Version{0x04, 0xb2, 0x43, 0x0c} // zprv
	VersionZpub = Version{0x04, 0xb2, 0x47, 0x46} // zpub
	VersionTprv = Version{0x04, 0x35, 0x83, 0x94} // tprv
	VersionTpub = Version{0x04, 0x35, 0x87, 0xcf} // tpub
	VersionUprv = Version{0x04, 0x4a, 0x4e, 0x28} // uprv
	VersionUpub = Version{0x04, 0x4a, 0x52, 0x62} // upub
	VersionVprv = Version{0x04, 0x5f, 0x18, 0xbc} // vprv
	VersionVpub = Version{0x04, 0x5f, 0x1c, 0xf6} // vpub
)

// BIP48 multisig versions, per SLIP-0132.
var (
	VersionMultiYprv = Version{0x02, 0x95, 0xb0, 0x05} // Yprv
	VersionMultiYpub = Version{0x02, 0x95, 0xb4, 0x3f} // Ypub
	VersionMultiZprv = Version{0x02, 0xaa, 0x7a, 0x99} // Zprv
	VersionMultiZpub = Version{0x02, 0xaa, 0x7e, 0xd3} // Zpub
	VersionMultiUprv = Version{0x02, 0x42, 0x85, 0xb5} // Uprv
	VersionMultiUpub = Version{0x02, 0x42, 0x89, 0xef} // Upub
	VersionMultiVprv = Version{0x02, 0x57, 0x50, 0x48} // Vprv
	VersionMultiVpub = Version{0x02, 0x57, 0x54, 0x83} // Vpub
)

// publicVersions holds every supported public-key prefix. DecodeRaw accepts
// any of these.
var publicVersions = map[Version]struct{}{
	VersionXpub:      {},
	VersionYpub:      {},
	VersionZpub:      {},
	VersionTpub:      {},
	VersionUpub:      {},
	VersionVpub:      {},
	VersionMultiYpub: {},
	VersionMultiZpub: {},
	VersionMultiUpub: {},
	VersionMultiVpub: {},
}

// IsPublicVersion reports whether the passed prefix is a known public
// extended key version.
func IsPublicVersion(v Version) bool {
	_, ok := publicVersions[v]
	return ok
}

// SingleSigVersion returns the version prefix for a single-sig extended key
// of the given BIP43 purpose (44, 49, 84 or 86). Purpose 86 keys are
// conventionally exported with the plain xpub/tpub prefix.
func SingleSigVersion(purpose uint32, testnet, private bool) (Version, error) {
	type lookupKey struct {
		purpose uint32
		testnet bool
		private bool
	}

	table := map[lookupKey]Version{
		{44, false, true}:  VersionXprv,
		{44, false, false}: VersionXpub,
		{44, true, true}:   VersionTprv,
		{44, true, false}:  VersionTpub,
		{49, false, true}:  VersionYprv,
		{49, false, false}: VersionYpub,
		{49, true, true}:   VersionUprv,
		{49, true, false}:  VersionUpub,
		{84, false, true}:  VersionZprv,
		{84, false, false}: VersionZpub,
		{84, true, true}:   VersionVprv,
		{84, true, false}:  VersionVpub,
		{86, false, true}:  VersionXprv,
		{86, false, false}: VersionXpub,
		{86, true, true}:   VersionTprv,
		{86, true, false}:  VersionTpub,
	}

	v, ok := table[lookupKey{purpose, testnet, private}]
	if !ok {
		return Version{}, fmt.Errorf("%w: purpose %d",
			ErrUnknownVersion, purpose)
	}

	return v, nil
}

// MultisigVersion returns the SLIP-0132 prefix for a BIP48 multisig
// extended key. The scriptType argument follows the BIP48 path level:
// 0 = bare P2SH, 1 = P2SH-P2WSH, 2 = native P2WSH.
func MultisigVersion(scriptType uint32, testnet, private bool) (Version, error) {
	type lookupKey struct {
		scriptType uint32
		testnet    bool
		private    bool
	}

	table := map[lookupKey]Version{
		{0, false, true}:  VersionXprv,
		{0, false, false}: VersionXpub,
		{0, true, true}:   VersionTprv,
		{0, true, false}:  VersionTpub,
		{1, false, true}:  VersionMultiYprv,
		{1, false, false}: VersionMultiYpub,
		{1, true, true}:   VersionMultiUprv,
		{1, true, false}:  VersionMultiUpub,
		{2, false, true}:  VersionMultiZprv,
		{2, false, false}: VersionMultiZpub,
		{2, true, true}:   VersionMultiVprv,
		{2, true, false}:  VersionMultiVpub,
	}

	v, ok := table[lookupKey{scriptType, testnet, private}]
	if !ok {
		return Version{}, fmt.Errorf("%w: bip48 script type %d",
			ErrUnknownVersion, scriptType)
	}

	return v, nil
}
