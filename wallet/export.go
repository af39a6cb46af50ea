// Copyright (c) 2025 The coldsig developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/coldsig/coldsig/descriptor"
	"github.com/coldsig/coldsig/keychain"
	"github.com/coldsig/coldsig/pkscript"
)

// AccountExport is everything a coordinator needs to watch one account:
// the master fingerprint, the account path, the SLIP-0132 encoded
// account xpub and the matching output descriptor.
type AccountExport struct {
	Fingerprint string
	Path        keychain.KeyPath
	XPub        string
	Descriptor  string
}

// ExportAccount derives the single-sig account at
// m/purpose'/coin'/account' and renders its SLIP-0132 xpub together with
// the multipath descriptor. Private material is wiped before returning.
func (s *Session) ExportAccount(key *WalletKey, seedHex string,
	scriptType pkscript.ScriptType, account uint32) (*AccountExport,
	error) {

	master, err := s.masterFor(key, seedHex)
	if err != nil {
		return nil, err
	}
	defer master.Zero()

	path := s.accountPath(scriptType, account)
	accountKey, err := master.DerivePath(path)
	if err != nil {
		return nil, err
	}
	defer accountKey.Zero()

	version, err := keychain.SingleSigVersion(
		scriptType.Purpose(), s.coinType() == 1, false,
	)
	if err != nil {
		return nil, err
	}

	xpub := accountKey.Neuter().Encode(version)

	desc, err := descriptor.SingleSig(
		scriptType, master.Fingerprint(), path,
		accountKey.Neuter().Encode(keychain.VersionXpub),
	)
	if err != nil {
		return nil, err
	}

	return &AccountExport{
		Fingerprint: keychain.FingerprintHex(master.PubKeyBytes()),
		Path:        path,
		XPub:        xpub,
		Descriptor:  desc,
	}, nil
}

// ExportCosigner derives this wallet's BIP48 account key for the
// multisig script type and renders it as a cosigner entry ready to be
// placed in a MultisigConfig.
func (s *Session) ExportCosigner(key *WalletKey, seedHex string,
	scriptType pkscript.MultisigScriptType, account uint32) (
	*pkscript.Cosigner, error) {

	master, err := s.masterFor(key, seedHex)
	if err != nil {
		return nil, err
	}
	defer master.Zero()

	path := keychain.KeyPath{
		{Index: 48, Hardened: true},
		{Index: s.coinType(), Hardened: true},
		{Index: account, Hardened: true},
		{Index: scriptType.BIP48ScriptType(), Hardened: true},
	}

	accountKey, err := master.DerivePath(path)
	if err != nil {
		return nil, err
	}
	defer accountKey.Zero()

	version, err := keychain.MultisigVersion(
		scriptType.BIP48ScriptType(), s.coinType() == 1, false,
	)
	if err != nil {
		return nil, err
	}

	return &pkscript.Cosigner{
		XPub:        accountKey.Neuter().Encode(version),
		Fingerprint: master.Fingerprint(),
		Path:        path,
		IsLocal:     true,
		KeyID:       key.KeyID,
	}, nil
}

// ExportMultisigDescriptor renders the sorted-multisig descriptor for the
// configuration. Purely public; any party holding the cosigner set can
// produce the identical descriptor.
func (s *Session) ExportMultisigDescriptor(
	cfg *pkscript.MultisigConfig) (string, error) {

	return descriptor.Multisig(cfg)
}
