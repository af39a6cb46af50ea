// Copyright (c) 2025 The coldsig developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/coldsig/coldsig/keychain"
	"github.com/coldsig/coldsig/pkscript"
)

// AddressInfo pairs a derived address with the full path it came from.
type AddressInfo struct {
	// Address is the rendered address for the session's network.
	Address string

	// Path is the full BIP32 path of the underlying key.
	Path keychain.KeyPath
}

// coinType returns the BIP44 coin level for the session's network.
func (s *Session) coinType() uint32 {
	if s.params.Net != chaincfg.MainNetParams.Net {
		return 1
	}

	return 0
}

// accountPath builds the standard single-sig account path for the script
// type: m/purpose'/coin'/account'.
func (s *Session) accountPath(scriptType pkscript.ScriptType,
	account uint32) keychain.KeyPath {

	return keychain.KeyPath{
		{Index: scriptType.Purpose(), Hardened: true},
		{Index: s.coinType(), Hardened: true},
		{Index: account, Hardened: true},
	}
}

// AddressAt derives the single address at
// m/purpose'/coin'/account'/change/index for the script type. The master
// and all intermediate keys are wiped before returning.
func (s *Session) AddressAt(key *WalletKey, seedHex string,
	scriptType pkscript.ScriptType, account, change,
	index uint32) (*AddressInfo, error) {

	infos, err := s.Addresses(
		key, seedHex, scriptType, account, change, index, 1,
	)
	if err != nil {
		return nil, err
	}

	return &infos[0], nil
}

// Addresses derives count consecutive addresses starting at index on the
// given chain. The account node is derived once and reused across the
// range.
func (s *Session) Addresses(key *WalletKey, seedHex string,
	scriptType pkscript.ScriptType, account, change, start uint32,
	count int) ([]AddressInfo, error) {

	master, err := s.masterFor(key, seedHex)
	if err != nil {
		return nil, err
	}
	defer master.Zero()

	accountPath := s.accountPath(scriptType, account)
	accountKey, err := master.DerivePath(accountPath)
	if err != nil {
		return nil, err
	}
	defer accountKey.Zero()

	chainKey, err := accountKey.Child(change, false)
	if err != nil {
		return nil, err
	}
	defer chainKey.Zero()

	infos := make([]AddressInfo, 0, count)
	for i := 0; i < count; i++ {
		index := start + uint32(i)

		leaf, err := chainKey.Child(index, false)
		if err != nil {
			return nil, err
		}

		pkScript, err := pkscript.SingleSigScript(
			leaf.PubKeyBytes(), scriptType,
		)
		leaf.Zero()
		if err != nil {
			return nil, err
		}

		addr, err := pkscript.Address(pkScript, s.params)
		if err != nil {
			return nil, err
		}

		path := accountPath.Extend(keychain.PathStep{Index: change}).
			Extend(keychain.PathStep{Index: index})

		infos = append(infos, AddressInfo{
			Address: addr,
			Path:    path,
		})
	}

	return infos, nil
}

// MultisigAddresses derives count consecutive sorted-multisig addresses
// starting at index on the given chain. The configuration alone
// determines the addresses; no private material is needed.
func (s *Session) MultisigAddresses(cfg *pkscript.MultisigConfig,
	change, start uint32, count int) ([]AddressInfo, error) {

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	infos := make([]AddressInfo, 0, count)
	for i := 0; i < count; i++ {
		index := start + uint32(i)

		addr, err := pkscript.MultisigAddress(
			cfg, change, index, s.params,
		)
		if err != nil {
			return nil, err
		}

		path := keychain.KeyPath{
			{Index: change}, {Index: index},
		}

		infos = append(infos, AddressInfo{
			Address: addr,
			Path:    path,
		})
	}

	return infos, nil
}
