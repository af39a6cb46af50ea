// Copyright (c) 2025 The coldsig developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keychain implements the BIP32 hierarchical-deterministic key tree
// used by the signing engine: master key generation, hardened and
// non-hardened child derivation, derivation path handling, fingerprints and
// extended key serialization for every supported SLIP-0132 prefix.
package keychain

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/coldsig/coldsig/secret"
)

var (
	// ErrInvalidSeedLength is returned when a master key is generated from
	// a seed that is not the 64 bytes produced by the BIP39 stretch.
	ErrInvalidSeedLength = errors.New("seed must be 64 bytes")

	// ErrHardenedFromPublic is returned when hardened derivation is
	// requested on a public extended key.
	ErrHardenedFromPublic = errors.New(
		"cannot derive a hardened child from a public key",
	)

	// ErrInvalidChildKey is returned in the cryptographically negligible
	// case where a derived child key is outside the valid range. Callers
	// that want the BIP32 "skip to the next index" behavior must retry at
	// the orchestration layer; this primitive never retries internally.
	ErrInvalidChildKey = errors.New("derived child key is invalid")

	// ErrNotPrivate is returned when an operation requiring private key
	// material is invoked on a public extended key.
	ErrNotPrivate = errors.New("extended key is not private")

	// ErrDecodeExtendedKey is returned when an extended key string cannot
	// be decoded.
	ErrDecodeExtendedKey = errors.New("unable to decode extended key")

	// masterHMACKey is the HMAC key mandated by BIP32 for master key
	// generation.
	masterHMACKey = []byte("Bitcoin seed")
)

const (
	// serializedKeyLen is the length of a serialized extended key payload
	// before the base58check checksum: version (4) || depth (1) || parent
	// fingerprint (4) || child number (4) || chain code (32) || key (33).
	serializedKeyLen = 78
)

// ExtendedKey is a BIP32 extended key: key material plus the chain code and
// the derivation metadata needed to identify its position in the tree.
//
// A private ExtendedKey exclusively owns its chain code and key material;
// public keys obtained through Neuter are independent copies with no
// ownership of the private material.
type ExtendedKey struct {
	depth       uint8
	parentFP    uint32
	childNumber uint32
	chainCode   []byte
	key         []byte
	isPrivate   bool
	path        KeyPath
}

// NewMaster generates the depth-0 master key for the passed BIP39 seed. The
// seed must be exactly 64 bytes; anything else fails with
// ErrInvalidSeedLength.
func NewMaster(seed []byte) (*ExtendedKey, error) {
	if len(seed) != 64 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSeedLength,
			len(seed))
	}

	mac := hmac.New(sha512.New, masterHMACKey)
	mac.Write(seed)
	lr := mac.Sum(nil)

	il, ir := lr[:32], lr[32:]

	// Reject the negligible case where the master secret is zero or not a
	// valid scalar.
	var keyNum btcec.ModNScalar
	if overflow := keyNum.SetByteSlice(il); overflow || keyNum.IsZero() {
		secret.Zero(lr)
		return nil, ErrInvalidChildKey
	}
	keyNum.Zero()

	key := make([]byte, 32)
	chainCode := make([]byte, 32)
	copy(key, il)
	copy(chainCode, ir)
	secret.Zero(lr)

	return &ExtendedKey{
		depth:       0,
		parentFP:    0,
		childNumber: 0,
		chainCode:   chainCode,
		key:         key,
		isPrivate:   true,
		path:        KeyPath{},
	}, nil
}

// Depth returns the key's depth in the derivation tree.
func (k *ExtendedKey) Depth() uint8 { return k.depth }

// ParentFingerprint returns the fingerprint of the key's parent.
func (k *ExtendedKey) ParentFingerprint() uint32 { return k.parentFP }

// ChildNumber returns the child number used to reach this key, with the
// hardened flag in the top bit.
func (k *ExtendedKey) ChildNumber() uint32 { return k.childNumber }

// IsPrivate reports whether the key carries private material.
func (k *ExtendedKey) IsPrivate() bool { return k.isPrivate }

// Path returns the derivation path used to reach this key.
func (k *ExtendedKey) Path() KeyPath { return k.path }

// ChainCode returns a copy of the key's chain code.
func (k *ExtendedKey) ChainCode() []byte {
	cc := make([]byte, len(k.chainCode))
	copy(cc, k.chainCode)

	return cc
}

// PubKeyBytes returns the compressed serialization of the key's public key.
func (k *ExtendedKey) PubKeyBytes() []byte {
	if !k.isPrivate {
		out := make([]byte, len(k.key))
		copy(out, k.key)

		return out
	}

	priv, _ := btcec.PrivKeyFromBytes(k.key)

	return priv.PubKey().SerializeCompressed()
}

// PrivKey returns the private key material as a btcec private key. It fails
// with ErrNotPrivate on a public extended key.
func (k *ExtendedKey) PrivKey() (*btcec.PrivateKey, error) {
	if !k.isPrivate {
		return nil, ErrNotPrivate
	}

	priv, _ := btcec.PrivKeyFromBytes(k.key)

	return priv, nil
}

// Fingerprint returns the key's own fingerprint: the first four bytes of
// hash160 of the compressed public key, read big-endian.
func (k *ExtendedKey) Fingerprint() uint32 {
	return Fingerprint(k.PubKeyBytes())
}

// Child derives the child key at the given index. The index must be below
// HardenedKeyStart; the hardened flag selects hardened derivation.
//
// Hardened derivation on a public key fails with ErrHardenedFromPublic. In
// the negligible case where the derived material is invalid the call fails
// with ErrInvalidChildKey and the caller decides whether to retry with
// index+1.
func (k *ExtendedKey) Child(index uint32, hardened bool) (*ExtendedKey, error) {
	if index >= HardenedKeyStart {
		return nil, fmt.Errorf("%w: child index %d out of range",
			ErrMalformedPath, index)
	}

	if hardened && !k.isPrivate {
		return nil, ErrHardenedFromPublic
	}

	childNumber := index
	if hardened {
		childNumber |= HardenedKeyStart
	}

	// Assemble the HMAC input per BIP32: 0x00 || ser256(k) || ser32(i)
	// for hardened children, serP(K) || ser32(i) otherwise.
	data := make([]byte, 0, 37)
	if hardened {
		data = append(data, 0x00)
		data = append(data, k.key...)
	} else {
		data = append(data, k.PubKeyBytes()...)
	}
	data = binary.BigEndian.AppendUint32(data, childNumber)

	mac := hmac.New(sha512.New, k.chainCode)
	mac.Write(data)
	lr := mac.Sum(nil)
	secret.Zero(data)

	il, ir := lr[:32], lr[32:]
	defer secret.Zero(lr)

	var ilNum btcec.ModNScalar
	if overflow := ilNum.SetByteSlice(il); overflow {
		return nil, ErrInvalidChildKey
	}
	defer ilNum.Zero()

	child := &ExtendedKey{
		depth:       k.depth + 1,
		parentFP:    k.Fingerprint(),
		childNumber: childNumber,
		chainCode:   append([]byte(nil), ir...),
		isPrivate:   k.isPrivate,
		path: k.path.Extend(PathStep{
			Index:    index,
			Hardened: hardened,
		}),
	}

	if k.isPrivate {
		// child = (il + parent) mod n.
		var keyNum btcec.ModNScalar
		keyNum.SetByteSlice(k.key)
		ilNum.Add(&keyNum)
		keyNum.Zero()

		if ilNum.IsZero() {
			return nil, ErrInvalidChildKey
		}

		childKey := ilNum.Bytes()
		child.key = append([]byte(nil), childKey[:]...)
		secret.Zero(childKey[:])

		return child, nil
	}

	// Public derivation: childPoint = il*G + parentPoint.
	pubKey, err := btcec.ParsePubKey(k.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChildKey, err)
	}

	var ilPoint, parentPoint, childPoint btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&ilNum, &ilPoint)
	pubKey.AsJacobian(&parentPoint)
	btcec.AddNonConst(&ilPoint, &parentPoint, &childPoint)

	if childPoint.Z.IsZero() {
		return nil, ErrInvalidChildKey
	}
	childPoint.ToAffine()

	childPub := btcec.NewPublicKey(&childPoint.X, &childPoint.Y)
	child.key = childPub.SerializeCompressed()

	return child, nil
}

// DerivePath derives the descendant key reached by applying every step of
// the passed path in order.
func (k *ExtendedKey) DerivePath(path KeyPath) (*ExtendedKey, error) {
	current := k
	for _, step := range path {
		next, err := current.Child(step.Index, step.Hardened)

		// Wipe intermediate private keys as we walk down the tree.
		if current != k {
			current.Zero()
		}
		if err != nil {
			return nil, err
		}

		current = next
	}

	return current, nil
}

// Neuter returns the public extended key corresponding to this key. The
// returned key is a derived view sharing no storage with the private
// material.
func (k *ExtendedKey) Neuter() *ExtendedKey {
	return &ExtendedKey{
		depth:       k.depth,
		parentFP:    k.parentFP,
		childNumber: k.childNumber,
		chainCode:   k.ChainCode(),
		key:         k.PubKeyBytes(),
		isPrivate:   false,
		path:        k.path,
	}
}

// Zero wipes the key and chain code material. The key must not be used
// afterwards.
func (k *ExtendedKey) Zero() {
	secret.Zero(k.key)
	secret.Zero(k.chainCode)
}

// Encode serializes the key with the passed version prefix as a
// base58check string.
func (k *ExtendedKey) Encode(version Version) string {
	payload := make([]byte, 0, serializedKeyLen)
	payload = append(payload, version[:]...)
	payload = append(payload, k.depth)
	payload = binary.BigEndian.AppendUint32(payload, k.parentFP)
	payload = binary.BigEndian.AppendUint32(payload, k.childNumber)
	payload = append(payload, k.chainCode...)

	if k.isPrivate {
		payload = append(payload, 0x00)
	}
	payload = append(payload, k.key...)

	checksum := chainhash.DoubleHashB(payload)[:4]

	return base58.Encode(append(payload, checksum...))
}

// DecodeRaw decodes an extended public key string and returns its chain
// code and 33-byte key material.
//
// This decode is deliberately relaxed: it validates the base58 checksum,
// that the version prefix belongs to the supported public-key table, and
// that the key material is a valid curve point, and nothing else. The
// depth, parent fingerprint and child number fields are ignored because
// coordinator-exported cosigner xpubs routinely carry metadata that is
// inconsistent with strict BIP32. Callers needing strict validation must
// not rely on this function.
func DecodeRaw(encoded string) (chainCode, keyMaterial []byte, err error) {
	decoded := base58.Decode(encoded)
	if len(decoded) != serializedKeyLen+4 {
		return nil, nil, fmt.Errorf("%w: bad length %d",
			ErrDecodeExtendedKey, len(decoded))
	}

	payload, checksum := decoded[:serializedKeyLen], decoded[serializedKeyLen:]
	expected := chainhash.DoubleHashB(payload)[:4]
	if !bytes.Equal(checksum, expected) {
		return nil, nil, fmt.Errorf("%w: checksum mismatch",
			ErrDecodeExtendedKey)
	}

	var version Version
	copy(version[:], payload[:4])
	if !IsPublicVersion(version) {
		return nil, nil, fmt.Errorf("%w: version %x",
			ErrDecodeExtendedKey, version)
	}

	keyData := payload[45:78]
	if _, err := btcec.ParsePubKey(keyData); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDecodeExtendedKey, err)
	}

	chainCode = append([]byte(nil), payload[13:45]...)
	keyMaterial = append([]byte(nil), keyData...)

	return chainCode, keyMaterial, nil
}

// RawChild applies one level of non-hardened CKDpub directly to a bare
// (compressed public key, chain code) pair, bypassing the ExtendedKey
// abstraction. It is used to derive cosigner child keys from raw-decoded
// xpubs whose tree metadata cannot be trusted.
func RawChild(pubKey, chainCode []byte, index uint32) (childPub,
	childChain []byte, err error) {

	if index >= HardenedKeyStart {
		return nil, nil, ErrHardenedFromPublic
	}

	parent, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidChildKey, err)
	}

	data := make([]byte, 0, 37)
	data = append(data, pubKey...)
	data = binary.BigEndian.AppendUint32(data, index)

	mac := hmac.New(sha512.New, chainCode)
	mac.Write(data)
	lr := mac.Sum(nil)

	il, ir := lr[:32], lr[32:]

	var ilNum btcec.ModNScalar
	if overflow := ilNum.SetByteSlice(il); overflow {
		return nil, nil, ErrInvalidChildKey
	}

	var ilPoint, parentPoint, childPoint btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&ilNum, &ilPoint)
	parent.AsJacobian(&parentPoint)
	btcec.AddNonConst(&ilPoint, &parentPoint, &childPoint)

	if childPoint.Z.IsZero() {
		return nil, nil, ErrInvalidChildKey
	}
	childPoint.ToAffine()

	childPub = btcec.NewPublicKey(
		&childPoint.X, &childPoint.Y,
	).SerializeCompressed()
	childChain = append([]byte(nil), ir...)

	return childPub, childChain, nil
}

// Fingerprint returns the first four bytes of hash160 of the passed
// compressed public key, read big-endian. The same value serves both as
// the display fingerprint (hex) and the BIP-174 matching fingerprint.
func Fingerprint(pubKey []byte) uint32 {
	return binary.BigEndian.Uint32(btcutil.Hash160(pubKey)[:4])
}

// FingerprintHex returns the hex form of Fingerprint as shown to users and
// embedded in descriptors.
func FingerprintHex(pubKey []byte) string {
	return fmt.Sprintf("%08x", Fingerprint(pubKey))
}
