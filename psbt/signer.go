// Copyright (c) 2025 The coldsig developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/coldsig/coldsig/keychain"
	"github.com/coldsig/coldsig/pkscript"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// DefaultSingleSigGap is the default address-scan depth per chain for
	// single-sig script types.
	DefaultSingleSigGap = 2000

	// DefaultMultisigGap is the default address-scan depth per chain for
	// the multisig configuration. Multisig scans are pricier since every
	// candidate re-derives all cosigner keys.
	DefaultMultisigGap = 500
)

// scanPurposes lists the BIP43 purposes the alternate-path fallback and
// the address scan try, in preference order.
var scanPurposes = []uint32{84, 44, 49, 86}

// scanBIP48ScriptTypes lists the BIP48 script-type levels tried for
// multisig alternate paths, in preference order (native P2WSH first).
var scanBIP48ScriptTypes = []uint32{2, 1}

// scanScriptTypes maps each scanned purpose to its script construction.
var scanScriptTypes = []pkscript.ScriptType{
	pkscript.P2WPKH, pkscript.P2PKH, pkscript.NestedP2WPKH, pkscript.P2TR,
}

// ScanConfig bounds the address-scan fallback of the signer.
type ScanConfig struct {
	// SingleSigGap is how many addresses per (script type, chain) pair
	// the scan derives before giving up on an input.
	SingleSigGap uint32

	// MultisigGap is how many addresses per chain the multisig scan
	// derives.
	MultisigGap uint32

	// Multisig optionally describes the multisig wallet this signer
	// participates in. When set, the address scan also matches inputs
	// against the wallet's multisig addresses.
	Multisig *pkscript.MultisigConfig
}

// DefaultScanConfig returns the scan bounds used when the caller passes
// zero values.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		SingleSigGap: DefaultSingleSigGap,
		MultisigGap:  DefaultMultisigGap,
	}
}

// SignResult summarizes a signing pass over a packet.
type SignResult struct {
	// SignedCount is the number of inputs that received a new signature
	// in this pass.
	SignedCount int

	// AlternatePathsUsed lists, per rewritten input, the derivation path
	// that actually matched when the packet's own hint did not.
	AlternatePathsUsed []string

	// UnsignedInputs lists the indices of inputs no key could be found
	// for. These are not errors: a multisig packet legitimately contains
	// inputs other cosigners must sign.
	UnsignedInputs []int
}

// Signer signs PSBT inputs with keys derived from a single master key.
//
// Key selection per input runs through four stages, stopping at the first
// hit: the input's own derivation hints (fingerprint and path taken at
// face value), alternate-path rewrites of those hints (the same account
// and child steps re-rooted under every supported purpose), taproot
// x-only hints, and finally a bounded scan over the wallet's own address
// space. The fallbacks exist because coordinators routinely emit hints
// rooted at the wrong purpose or carrying a foreign fingerprint.
type Signer struct {
	master      *keychain.ExtendedKey
	fingerprint uint32
	params      *chaincfg.Params
	scan        ScanConfig
}

// NewSigner builds a signer around a private master key.
func NewSigner(master *keychain.ExtendedKey, params *chaincfg.Params,
	scan ScanConfig) (*Signer, error) {

	if master == nil || !master.IsPrivate() {
		return nil, keychain.ErrNotPrivate
	}

	if scan.SingleSigGap == 0 {
		scan.SingleSigGap = DefaultSingleSigGap
	}
	if scan.MultisigGap == 0 {
		scan.MultisigGap = DefaultMultisigGap
	}

	return &Signer{
		master:      master,
		fingerprint: master.Fingerprint(),
		params:      params,
		scan:        scan,
	}, nil
}

// Sign attempts to sign every input of the packet and returns a new
// packet with the produced signatures attached. The passed packet is
// never mutated: inputs are replaced copy-on-write at their index. An
// error is only returned for structural problems with the packet;
// individual inputs that cannot be signed are reported through the
// result instead.
func (s *Signer) Sign(packet *Packet) (*Packet, *SignResult, error) {
	if packet == nil || packet.UnsignedTx == nil {
		return nil, nil, fmt.Errorf("%w: empty packet", ErrPsbtParse)
	}
	if len(packet.Inputs) != len(packet.UnsignedTx.TxIn) {
		return nil, nil, fmt.Errorf("%w: %d input maps for %d tx "+
			"inputs", ErrPsbtParse, len(packet.Inputs),
			len(packet.UnsignedTx.TxIn))
	}

	log.Tracef("Signing packet with unsigned tx: %v",
		newLogClosure(func() string {
			return spew.Sdump(packet.UnsignedTx)
		}))

	out := packet.Copy()
	fetcher := prevOutFetcher(out)
	sigHashes := txscript.NewTxSigHashes(out.UnsignedTx, fetcher)

	result := &SignResult{}
	for idx := range out.Inputs {
		if out.Inputs[idx].Finalized {
			continue
		}

		signed, alt, err := s.signInput(out, idx, sigHashes)
		if err != nil {
			log.Debugf("Input %d not signable: %v", idx, err)
		}

		switch {
		case signed:
			result.SignedCount++
			if alt != "" {
				result.AlternatePathsUsed = append(
					result.AlternatePathsUsed, alt,
				)
				log.Infof("Signed input %d via alternate "+
					"path %s", idx, alt)
			}

		default:
			result.UnsignedInputs = append(
				result.UnsignedInputs, idx,
			)
		}
	}

	log.Debugf("Signing pass complete: %d signed, %d left for other "+
		"signers", result.SignedCount, len(result.UnsignedInputs))

	return out, result, nil
}

// signInput finds a key for the input at idx and signs with it. The
// returned alt names the derivation path when a fallback, rather than the
// input's own hint, produced the key.
func (s *Signer) signInput(p *Packet, idx int,
	sigHashes *txscript.TxSigHashes) (bool, string, error) {

	in := &p.Inputs[idx]

	// Stage 1: derivation hints taken at face value. The fingerprint
	// must be ours and the derived key must reproduce the hinted pubkey.
	for _, d := range in.Derivations {
		if d.MasterFingerprint != s.fingerprint {
			continue
		}

		key, err := s.master.DerivePath(d.Path)
		if err != nil {
			continue
		}

		if !bytesEqual(key.PubKeyBytes(), d.PubKey) {
			key.Zero()
			continue
		}

		signed, err := s.signMatched(p, idx, key, nil, nil, sigHashes)
		return signed, "", err
	}

	// Stage 2: alternate-path rewrites. The hint's account number and
	// child steps are kept, but the path is re-rooted under every
	// supported purpose. This recovers from coordinators that hint
	// m/44'/... for what is really a BIP84 key, or stamp a wrong
	// fingerprint entirely.
	for _, d := range in.Derivations {
		for _, altPath := range altCandidatePaths(d.Path) {
			key, err := s.master.DerivePath(altPath)
			if err != nil {
				continue
			}

			if !bytesEqual(key.PubKeyBytes(), d.PubKey) {
				key.Zero()
				continue
			}

			signed, err := s.signMatched(
				p, idx, key, nil, nil, sigHashes,
			)
			return signed, altPath.String(), err
		}
	}

	// Stage 3: taproot hints, matched on the x-only key. The hinted path
	// itself is tried first, then its rewrites.
	for _, d := range in.TaprootDerivations {
		candidates := append(
			[]keychain.KeyPath{d.Path},
			altCandidatePaths(d.Path)...,
		)

		for _, path := range candidates {
			key, err := s.master.DerivePath(path)
			if err != nil {
				continue
			}

			if !bytesEqual(key.PubKeyBytes()[1:], d.XOnlyPubKey) {
				key.Zero()
				continue
			}

			signed, err := s.signMatched(
				p, idx, key, nil, nil, sigHashes,
			)

			alt := ""
			if !path.Equal(d.Path) {
				alt = path.String()
			}

			return signed, alt, err
		}
	}

	// Stage 4: bounded scan over our own address space, matching the
	// spent output script directly. This handles packets with no usable
	// hints at all.
	utxo := in.utxo(p.UnsignedTx.TxIn[idx])
	if utxo == nil {
		return false, "", fmt.Errorf("no utxo information")
	}

	match, err := s.scanForScript(utxo.PkScript)
	if err != nil {
		return false, "", err
	}
	if match == nil {
		return false, "", nil
	}

	signed, err := s.signMatched(
		p, idx, match.key, match.redeemScript, match.witnessScript,
		sigHashes,
	)
	return signed, match.path.String(), err
}

// scanMatch describes a scan hit: the derived key and any scripts the
// input map was missing.
type scanMatch struct {
	key           *keychain.ExtendedKey
	redeemScript  []byte
	witnessScript []byte
	path          keychain.KeyPath
}

// scanForScript walks the wallet's own address space looking for the key
// behind the passed output script. Single-sig script types are scanned
// first, then the multisig configuration when one is present. Returns nil
// without error when the scan exhausts its gap limits.
func (s *Signer) scanForScript(pkScript []byte) (*scanMatch, error) {
	coin := uint32(0)
	if s.params.Net != chaincfg.MainNetParams.Net {
		coin = 1
	}

	for _, scriptType := range scanScriptTypes {
		match, err := s.scanSingleSig(pkScript, scriptType, coin)
		if err != nil {
			return nil, err
		}
		if match != nil {
			return match, nil
		}
	}

	if s.scan.Multisig != nil {
		return s.scanMultisig(pkScript)
	}

	return nil, nil
}

// scanSingleSig scans one script type's external and change chains.
func (s *Signer) scanSingleSig(pkScript []byte,
	scriptType pkscript.ScriptType, coin uint32) (*scanMatch, error) {

	accountPath := keychain.KeyPath{
		{Index: scriptType.Purpose(), Hardened: true},
		{Index: coin, Hardened: true},
		{Index: 0, Hardened: true},
	}

	account, err := s.master.DerivePath(accountPath)
	if err != nil {
		return nil, err
	}
	defer account.Zero()

	for change := uint32(0); change <= 1; change++ {
		chain, err := account.Child(change, false)
		if err != nil {
			return nil, err
		}

		for i := uint32(0); i < s.scan.SingleSigGap; i++ {
			leaf, err := chain.Child(i, false)
			if err != nil {
				continue
			}

			script, err := pkscript.SingleSigScript(
				leaf.PubKeyBytes(), scriptType,
			)
			if err != nil {
				leaf.Zero()
				continue
			}

			if !bytesEqual(script, pkScript) {
				leaf.Zero()
				continue
			}

			chain.Zero()

			match := &scanMatch{
				key:  leaf,
				path: leaf.Path(),
			}

			// A nested input additionally needs the witness
			// program as its redeem script, which the packet may
			// not carry when hints were absent.
			if scriptType == pkscript.NestedP2WPKH {
				match.redeemScript, err = witnessProgramFor(
					leaf.PubKeyBytes(),
				)
				if err != nil {
					leaf.Zero()
					return nil, err
				}
			}

			log.Debugf("Address scan matched %s at %s",
				scriptType, match.path)

			return match, nil
		}

		chain.Zero()
	}

	return nil, nil
}

// scanMultisig scans the multisig wallet's address space. On a hit the
// local cosigner's child key is derived for signing and the witness
// script is reconstructed for the input map.
func (s *Signer) scanMultisig(pkScript []byte) (*scanMatch, error) {
	cfg := s.scan.Multisig

	local := localCosigner(cfg, s.fingerprint)
	if local == nil {
		return nil, fmt.Errorf("%w: no local cosigner",
			pkscript.ErrInvalidMultisigConfig)
	}

	account, err := s.master.DerivePath(local.Path)
	if err != nil {
		return nil, err
	}
	defer account.Zero()

	for change := uint32(0); change <= 1; change++ {
		for i := uint32(0); i < s.scan.MultisigGap; i++ {
			candidate, err := pkscript.MultisigPkScript(
				cfg, change, i, s.params,
			)
			if err != nil {
				return nil, err
			}

			if !bytesEqual(candidate, pkScript) {
				continue
			}

			witnessScript, err := pkscript.MultisigWitnessScript(
				cfg, change, i,
			)
			if err != nil {
				return nil, err
			}

			leaf, err := account.DerivePath(keychain.KeyPath{
				{Index: change}, {Index: i},
			})
			if err != nil {
				return nil, err
			}

			match := &scanMatch{
				key:           leaf,
				witnessScript: witnessScript,
				path:          leaf.Path(),
			}

			// Wrapped outputs carry the inner script as the
			// redeem script.
			switch cfg.ScriptType {
			case pkscript.MultisigNestedP2WSH:
				program, err := pkscript.WitnessScriptProgram(
					witnessScript,
				)
				if err != nil {
					return nil, err
				}
				match.redeemScript = program

			case pkscript.MultisigP2SH:
				match.redeemScript = witnessScript
				match.witnessScript = nil

			case pkscript.MultisigP2WSH:
			}

			log.Debugf("Multisig scan matched %d-of-%d %s at %s",
				cfg.M, cfg.N, cfg.ScriptType, match.path)

			return match, nil
		}
	}

	return nil, nil
}

// signMatched signs the input at idx with the passed derived key,
// replacing the input copy-on-write. The optional scripts supplement
// what the input map carries. The key is zeroed before returning.
func (s *Signer) signMatched(p *Packet, idx int, key *keychain.ExtendedKey,
	redeemScript, witnessScript []byte,
	sigHashes *txscript.TxSigHashes) (bool, error) {

	defer key.Zero()

	pubKey := key.PubKeyBytes()
	in := p.CopyInput(idx)

	utxo := in.utxo(p.UnsignedTx.TxIn[idx])
	if utxo == nil {
		return false, fmt.Errorf("no utxo information")
	}

	// Re-signing with a key that already contributed is a no-op: the
	// existing signature set must not change.
	if _, ok := in.sigFor(pubKey); ok {
		return true, nil
	}
	if len(in.TaprootKeySig) > 0 &&
		txscript.IsPayToTaproot(utxo.PkScript) {

		return true, nil
	}

	priv, err := key.PrivKey()
	if err != nil {
		return false, err
	}
	defer priv.Zero()

	if len(redeemScript) > 0 {
		in.RedeemScript = redeemScript
	}
	if len(witnessScript) > 0 {
		in.WitnessScript = witnessScript
	}

	if err := s.signCopied(p, idx, &in, priv, utxo, sigHashes); err != nil {
		return false, err
	}

	p.Inputs[idx] = in

	return true, nil
}

// signCopied produces the signature for the already-copied input,
// dispatching on the spent output's script shape.
func (s *Signer) signCopied(p *Packet, idx int, in *Input,
	priv *btcec.PrivateKey, utxo *wire.TxOut,
	sigHashes *txscript.TxSigHashes) error {

	pkScript := utxo.PkScript
	pubKey := priv.PubKey().SerializeCompressed()

	// Taproot key spend. An unset sighash type is already
	// SigHashDefault.
	if txscript.IsPayToTaproot(pkScript) {
		sig, err := txscript.RawTxInTaprootSignature(
			p.UnsignedTx, sigHashes, idx, utxo.Value, pkScript,
			nil, in.SighashType, priv,
		)
		if err != nil {
			return err
		}

		in.TaprootKeySig = sig
		in.TaprootInternalKey = pubKey[1:]

		return nil
	}

	hashType := in.SighashType
	if hashType == 0 {
		hashType = txscript.SigHashAll
	}

	// Unwrap P2SH: the redeem script is the script actually being
	// satisfied, and may itself be a witness program.
	script := pkScript
	if txscript.IsPayToScriptHash(pkScript) {
		if len(in.RedeemScript) == 0 {
			return fmt.Errorf("p2sh input without redeem script")
		}
		script = in.RedeemScript
	}

	switch {
	// P2WPKH spends have no script of their own on the wire. The BIP143
	// sighash nonetheless commits to the implied P2PKH script, so the
	// witness script slot is populated with it just for signing and
	// cleared again before the input leaves this function.
	case txscript.IsPayToWitnessPubKeyHash(script):
		implied, err := pkscript.SingleSigScript(
			pubKey, pkscript.P2PKH,
		)
		if err != nil {
			return err
		}

		in.WitnessScript = implied
		err = signWitnessV0(p, idx, in, priv, utxo, hashType, sigHashes)
		in.WitnessScript = nil

		return err

	case txscript.IsPayToWitnessScriptHash(script):
		if len(in.WitnessScript) == 0 {
			return fmt.Errorf("p2wsh input without witness script")
		}

		return signWitnessV0(
			p, idx, in, priv, utxo, hashType, sigHashes,
		)

	// Legacy P2PKH or bare P2SH.
	default:
		sig, err := txscript.RawTxInSignature(
			p.UnsignedTx, idx, script, hashType, priv,
		)
		if err != nil {
			return err
		}

		in.PartialSigs = append(in.PartialSigs, PartialSig{
			PubKey:    pubKey,
			Signature: sig,
		})

		return nil
	}
}

// signWitnessV0 produces a BIP143 signature over the input's witness
// script and appends it to the partial signature set.
func signWitnessV0(p *Packet, idx int, in *Input, priv *btcec.PrivateKey,
	utxo *wire.TxOut, hashType txscript.SigHashType,
	sigHashes *txscript.TxSigHashes) error {

	sig, err := txscript.RawTxInWitnessSignature(
		p.UnsignedTx, sigHashes, idx, utxo.Value, in.WitnessScript,
		hashType, priv,
	)
	if err != nil {
		return err
	}

	in.PartialSigs = append(in.PartialSigs, PartialSig{
		PubKey:    priv.PubKey().SerializeCompressed(),
		Signature: sig,
	})

	return nil
}

// altCandidatePaths rewrites a derivation hint into the candidate paths
// the fallback tries: the hint's hardened account at depth two and its
// trailing child steps are preserved, while the purpose level is replaced
// by each supported single-sig purpose and by the BIP48 multisig roots.
// The hint itself is excluded.
func altCandidatePaths(hint keychain.KeyPath) []keychain.KeyPath {
	if len(hint) < 4 {
		return nil
	}

	coin := hint[1]
	account := hint[2]
	if !account.Hardened {
		return nil
	}

	// BIP48 hints carry a script-type level between the account and the
	// child steps; skip it when present.
	child := hint[3:]
	if len(hint) >= 5 && hint[3].Hardened {
		child = hint[4:]
	}

	seen := fn.NewSet(hint.String())
	candidates := make([]keychain.KeyPath, 0, len(scanPurposes)+
		len(scanBIP48ScriptTypes))

	add := func(prefix keychain.KeyPath) {
		path := append(prefix, child...)
		if seen.Contains(path.String()) {
			return
		}
		seen.Add(path.String())
		candidates = append(candidates, path)
	}

	for _, purpose := range scanPurposes {
		add(keychain.KeyPath{
			{Index: purpose, Hardened: true}, coin, account,
		})
	}

	for _, scriptType := range scanBIP48ScriptTypes {
		add(keychain.KeyPath{
			{Index: 48, Hardened: true}, coin, account,
			{Index: scriptType, Hardened: true},
		})
	}

	return candidates
}

// localCosigner returns the cosigner this signer holds keys for,
// preferring an explicit IsLocal mark over a fingerprint match.
func localCosigner(cfg *pkscript.MultisigConfig,
	fingerprint uint32) *pkscript.Cosigner {

	for i := range cfg.Cosigners {
		if cfg.Cosigners[i].IsLocal {
			return &cfg.Cosigners[i]
		}
	}

	for i := range cfg.Cosigners {
		if cfg.Cosigners[i].Fingerprint == fingerprint {
			return &cfg.Cosigners[i]
		}
	}

	return nil
}

// witnessProgramFor builds the v0 witness program script for the key,
// used as the redeem script of nested P2WPKH inputs.
func witnessProgramFor(pubKey []byte) ([]byte, error) {
	return pkscript.SingleSigScript(pubKey, pkscript.P2WPKH)
}

// prevOutFetcher collects every known spent output of the packet into a
// fetcher for BIP143/BIP341 sighash computation.
func prevOutFetcher(p *Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)

	for i := range p.Inputs {
		txIn := p.UnsignedTx.TxIn[i]
		utxo := p.Inputs[i].utxo(txIn)
		if utxo == nil {
			continue
		}

		fetcher.AddPrevOut(txIn.PreviousOutPoint, utxo)
	}

	return fetcher
}
