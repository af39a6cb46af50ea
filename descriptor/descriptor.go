// Copyright (c) 2025 The coldsig developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"fmt"
	"strings"

	"github.com/coldsig/coldsig/keychain"
	"github.com/coldsig/coldsig/pkscript"
)

// keyExpr renders a key expression with its origin: the master
// fingerprint, the hardened account path and the account xpub, followed
// by the receive/change multipath.
func keyExpr(fingerprint uint32, path keychain.KeyPath, xpub string) string {
	origin := strings.TrimPrefix(path.String(), "m")

	return fmt.Sprintf("[%08x%s]%s/<0;1>/*", fingerprint, origin, xpub)
}

// SingleSig renders a multipath single-sig descriptor for the account
// xpub, e.g. wpkh([73c5da0a/84'/0'/0']xpub.../<0;1>/*)#checksum.
func SingleSig(scriptType pkscript.ScriptType, fingerprint uint32,
	path keychain.KeyPath, xpub string) (string, error) {

	key := keyExpr(fingerprint, path, xpub)

	var body string
	switch scriptType {
	case pkscript.P2PKH:
		body = fmt.Sprintf("pkh(%s)", key)
	case pkscript.P2WPKH:
		body = fmt.Sprintf("wpkh(%s)", key)
	case pkscript.NestedP2WPKH:
		body = fmt.Sprintf("sh(wpkh(%s))", key)
	case pkscript.P2TR:
		body = fmt.Sprintf("tr(%s)", key)
	default:
		return "", fmt.Errorf("%w: %v",
			pkscript.ErrUnsupportedScriptType, scriptType)
	}

	return Append(body)
}

// Multisig renders the BIP48 sorted-multisig descriptor for the
// configuration, e.g.
// wsh(sortedmulti(2,[fp/48'/0'/0'/2']xpub/<0;1>/*,...))#checksum. The
// cosigners appear in declaration order; sortedmulti semantics make the
// resulting addresses order independent.
func Multisig(cfg *pkscript.MultisigConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	keys := make([]string, 0, len(cfg.Cosigners))
	for _, cosigner := range cfg.Cosigners {
		keys = append(keys, keyExpr(
			cosigner.Fingerprint, cosigner.Path, cosigner.XPub,
		))
	}

	inner := fmt.Sprintf("sortedmulti(%d,%s)", cfg.M,
		strings.Join(keys, ","))

	var body string
	switch cfg.ScriptType {
	case pkscript.MultisigP2WSH:
		body = fmt.Sprintf("wsh(%s)", inner)
	case pkscript.MultisigNestedP2WSH:
		body = fmt.Sprintf("sh(wsh(%s))", inner)
	case pkscript.MultisigP2SH:
		body = fmt.Sprintf("sh(%s)", inner)
	default:
		return "", fmt.Errorf("%w: %v",
			pkscript.ErrUnsupportedScriptType, cfg.ScriptType)
	}

	return Append(body)
}
