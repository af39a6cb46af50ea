// Copyright (c) 2025 The coldsig developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/coldsig/coldsig/keychain"
)

// psbtMagic is the BIP-174 file magic: "psbt" followed by 0xff.
var psbtMagic = []byte{0x70, 0x73, 0x62, 0x74, 0xff}

// Global map key types.
const (
	globalUnsignedTx uint64 = 0x00
	globalXPub       uint64 = 0x01
)

// Input map key types.
const (
	inputNonWitnessUtxo     uint64 = 0x00
	inputWitnessUtxo        uint64 = 0x01
	inputPartialSig         uint64 = 0x02
	inputSighashType        uint64 = 0x03
	inputRedeemScript       uint64 = 0x04
	inputWitnessScript      uint64 = 0x05
	inputBip32Derivation    uint64 = 0x06
	inputFinalScriptSig     uint64 = 0x07
	inputFinalScriptWitness uint64 = 0x08
	inputTapKeySig          uint64 = 0x13
	inputTapBip32Derivation uint64 = 0x16
	inputTapInternalKey     uint64 = 0x17
)

// Output map key types.
const (
	outputRedeemScript       uint64 = 0x00
	outputWitnessScript      uint64 = 0x01
	outputBip32Derivation    uint64 = 0x02
	outputTapInternalKey     uint64 = 0x05
	outputTapBip32Derivation uint64 = 0x07
)

// maxScriptElement bounds any single value the parser will allocate for.
const maxScriptElement = 4_000_000

// Decode parses PSBT bytes into a packet.
//
// Parsing is tolerant in one specific way: if strict parsing fails, a
// single retry is made with all global xpub entries (key type 0x01)
// discarded, since coordinators routinely emit malformed xpub metadata
// and none of it is needed to sign. A packet recovered this way carries
// Warning == WarnStrippedGlobalXPubs. Any other malformation fails with
// ErrPsbtParse wrapping the underlying cause.
func Decode(raw []byte) (*Packet, error) {
	packet, err := decode(raw, false)
	if err == nil {
		return packet, nil
	}

	log.Debugf("Strict PSBT parse failed (%v), retrying with global "+
		"xpubs stripped", err)

	packet, retryErr := decode(raw, true)
	if retryErr != nil {
		// Report the strict failure, it names the real defect.
		return nil, fmt.Errorf("%w: %v", ErrPsbtParse, err)
	}

	packet.Warning = WarnStrippedGlobalXPubs

	return packet, nil
}

// decode is the single-pass parser behind Decode. With stripXPubs set,
// global xpub entries are skipped without validation.
func decode(raw []byte, stripXPubs bool) (*Packet, error) {
	if len(raw) < len(psbtMagic) ||
		!bytes.Equal(raw[:len(psbtMagic)], psbtMagic) {

		return nil, fmt.Errorf("missing psbt magic")
	}

	r := bytes.NewReader(raw[len(psbtMagic):])
	packet := &Packet{}

	// Global map.
	for {
		kv, done, err := readKeyValue(r)
		if err != nil {
			return nil, fmt.Errorf("global map: %w", err)
		}
		if done {
			break
		}

		switch kv.Type {
		case globalUnsignedTx:
			if len(kv.KeyData) != 0 {
				return nil, fmt.Errorf("unsigned tx key " +
					"carries extra data")
			}
			if packet.UnsignedTx != nil {
				return nil, fmt.Errorf("duplicate unsigned tx")
			}

			tx := &wire.MsgTx{}
			err := tx.Deserialize(bytes.NewReader(kv.Value))
			if err != nil {
				return nil, fmt.Errorf("unsigned tx: %w", err)
			}

			for _, txIn := range tx.TxIn {
				if len(txIn.SignatureScript) > 0 ||
					len(txIn.Witness) > 0 {

					return nil, fmt.Errorf("unsigned tx " +
						"input already signed")
				}
			}

			packet.UnsignedTx = tx

		case globalXPub:
			if stripXPubs {
				continue
			}

			xpub, err := parseGlobalXPub(kv)
			if err != nil {
				return nil, fmt.Errorf("global xpub: %w", err)
			}

			packet.XPubs = append(packet.XPubs, xpub)

		default:
			packet.Unknown = append(packet.Unknown, kv)
		}
	}

	if packet.UnsignedTx == nil {
		return nil, fmt.Errorf("no unsigned tx")
	}

	// One input map per tx input, one output map per tx output.
	packet.Inputs = make([]Input, len(packet.UnsignedTx.TxIn))
	for i := range packet.Inputs {
		err := readInputMap(r, &packet.Inputs[i])
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}

	packet.Outputs = make([]Output, len(packet.UnsignedTx.TxOut))
	for i := range packet.Outputs {
		err := readOutputMap(r, &packet.Outputs[i])
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", r.Len())
	}

	return packet, nil
}

// Encode serializes the packet back to BIP-174 bytes.
func Encode(p *Packet) ([]byte, error) {
	if p.UnsignedTx == nil {
		return nil, fmt.Errorf("packet has no unsigned tx")
	}

	var buf bytes.Buffer
	buf.Write(psbtMagic)

	// Global map. The unsigned transaction is serialized without witness
	// data, per BIP-174.
	var txBuf bytes.Buffer
	if err := p.UnsignedTx.SerializeNoWitness(&txBuf); err != nil {
		return nil, err
	}
	err := writeKeyValue(&buf, globalUnsignedTx, nil, txBuf.Bytes())
	if err != nil {
		return nil, err
	}

	for _, xpub := range p.XPubs {
		value := derivationValue(xpub.MasterFingerprint, xpub.Path)
		err := writeKeyValue(&buf, globalXPub, xpub.Raw, value)
		if err != nil {
			return nil, err
		}
	}

	for _, kv := range p.Unknown {
		if err := writeKeyValue(&buf, kv.Type, kv.KeyData,
			kv.Value); err != nil {

			return nil, err
		}
	}
	buf.WriteByte(0x00)

	for i := range p.Inputs {
		if err := writeInputMap(&buf, &p.Inputs[i]); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}

	for i := range p.Outputs {
		if err := writeOutputMap(&buf, &p.Outputs[i]); err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
	}

	return buf.Bytes(), nil
}

// readKeyValue reads one key-value entry from a map. done is set when the
// map's 0x00 separator is reached instead.
func readKeyValue(r *bytes.Reader) (KV, bool, error) {
	keyLen, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return KV{}, false, err
	}
	if keyLen == 0 {
		return KV{}, true, nil
	}
	if keyLen > uint64(r.Len()) {
		return KV{}, false, fmt.Errorf("key length %d exceeds "+
			"remaining %d bytes", keyLen, r.Len())
	}

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return KV{}, false, err
	}

	keyReader := bytes.NewReader(key)
	keyType, err := wire.ReadVarInt(keyReader, 0)
	if err != nil {
		return KV{}, false, err
	}
	keyData := key[len(key)-keyReader.Len():]

	value, err := wire.ReadVarBytes(r, 0, maxScriptElement, "value")
	if err != nil {
		return KV{}, false, err
	}

	return KV{Type: keyType, KeyData: keyData, Value: value}, false, nil
}

// writeKeyValue writes one key-value entry.
func writeKeyValue(w io.Writer, keyType uint64, keyData,
	value []byte) error {

	keyLen := uint64(wire.VarIntSerializeSize(keyType) + len(keyData))
	if err := wire.WriteVarInt(w, 0, keyLen); err != nil {
		return err
	}
	if err := wire.WriteVarInt(w, 0, keyType); err != nil {
		return err
	}
	if _, err := w.Write(keyData); err != nil {
		return err
	}

	return wire.WriteVarBytes(w, 0, value)
}

// parseGlobalXPub validates and decodes a global xpub entry.
func parseGlobalXPub(kv KV) (GlobalXPub, error) {
	if len(kv.KeyData) != 78 {
		return GlobalXPub{}, fmt.Errorf("xpub key data is %d bytes, "+
			"want 78", len(kv.KeyData))
	}

	fingerprint, path, err := parseDerivationValue(kv.Value)
	if err != nil {
		return GlobalXPub{}, err
	}

	return GlobalXPub{
		Raw:               kv.KeyData,
		MasterFingerprint: fingerprint,
		Path:              path,
	}, nil
}

// parseDerivationValue decodes the fingerprint+path value shared by the
// xpub and bip32-derivation entries: a big-endian master fingerprint
// followed by little-endian uint32 path elements.
func parseDerivationValue(value []byte) (uint32, keychain.KeyPath, error) {
	if len(value) < 4 || len(value)%4 != 0 {
		return 0, nil, fmt.Errorf("derivation value is %d bytes",
			len(value))
	}

	fingerprint := binary.BigEndian.Uint32(value[:4])

	steps := make([]uint32, 0, len(value)/4-1)
	for off := 4; off < len(value); off += 4 {
		steps = append(steps, binary.LittleEndian.Uint32(value[off:]))
	}

	return fingerprint, keychain.PathFromUint32(steps), nil
}

// derivationValue is the encoder counterpart of parseDerivationValue.
func derivationValue(fingerprint uint32, path keychain.KeyPath) []byte {
	value := make([]byte, 4+4*len(path))
	binary.BigEndian.PutUint32(value, fingerprint)

	for i, step := range path.ToUint32() {
		binary.LittleEndian.PutUint32(value[4+4*i:], step)
	}

	return value
}

// readInputMap parses one input map into in.
func readInputMap(r *bytes.Reader, in *Input) error {
	for {
		kv, done, err := readKeyValue(r)
		if err != nil {
			return err
		}
		if done {
			break
		}

		switch kv.Type {
		case inputNonWitnessUtxo:
			tx := &wire.MsgTx{}
			err := tx.Deserialize(bytes.NewReader(kv.Value))
			if err != nil {
				return fmt.Errorf("non-witness utxo: %w", err)
			}
			in.NonWitnessTx = tx

		case inputWitnessUtxo:
			txOut, err := parseTxOut(kv.Value)
			if err != nil {
				return fmt.Errorf("witness utxo: %w", err)
			}
			in.WitnessTxOut = txOut

		case inputPartialSig:
			if len(kv.KeyData) != 33 && len(kv.KeyData) != 65 {
				return fmt.Errorf("partial sig pubkey is %d "+
					"bytes", len(kv.KeyData))
			}
			in.PartialSigs = append(in.PartialSigs, PartialSig{
				PubKey:    kv.KeyData,
				Signature: kv.Value,
			})

		case inputSighashType:
			if len(kv.Value) != 4 {
				return fmt.Errorf("sighash type is %d bytes",
					len(kv.Value))
			}
			in.SighashType = txscript.SigHashType(
				binary.LittleEndian.Uint32(kv.Value),
			)

		case inputRedeemScript:
			in.RedeemScript = kv.Value

		case inputWitnessScript:
			in.WitnessScript = kv.Value

		case inputBip32Derivation:
			deriv, err := parseDerivation(kv)
			if err != nil {
				return err
			}
			in.Derivations = append(in.Derivations, deriv)

		case inputFinalScriptSig:
			in.FinalScriptSig = kv.Value

		case inputFinalScriptWitness:
			witness, err := parseWitnessStack(kv.Value)
			if err != nil {
				return fmt.Errorf("final witness: %w", err)
			}
			in.FinalWitness = witness

		case inputTapKeySig:
			if len(kv.Value) != 64 && len(kv.Value) != 65 {
				return fmt.Errorf("taproot key sig is %d "+
					"bytes", len(kv.Value))
			}
			in.TaprootKeySig = kv.Value

		case inputTapBip32Derivation:
			deriv, err := parseTaprootDerivation(kv)
			if err != nil {
				return err
			}
			in.TaprootDerivations = append(
				in.TaprootDerivations, deriv,
			)

		case inputTapInternalKey:
			if len(kv.Value) != 32 {
				return fmt.Errorf("taproot internal key is "+
					"%d bytes", len(kv.Value))
			}
			in.TaprootInternalKey = kv.Value

		default:
			in.Unknown = append(in.Unknown, kv)
		}
	}

	// Derive the state tag from what the map carried. A witness UTXO wins
	// when both forms are present; the full transaction stays available
	// for fee cross-checks.
	switch {
	case in.WitnessTxOut != nil:
		in.Kind = KindWitness
	case in.NonWitnessTx != nil:
		in.Kind = KindNonWitness
	default:
		in.Kind = KindNoUtxo
	}

	in.Finalized = len(in.FinalScriptSig) > 0 || len(in.FinalWitness) > 0

	return nil
}

// writeInputMap serializes one input map.
func writeInputMap(w io.Writer, in *Input) error {
	if in.NonWitnessTx != nil {
		var txBuf bytes.Buffer
		if err := in.NonWitnessTx.Serialize(&txBuf); err != nil {
			return err
		}
		err := writeKeyValue(w, inputNonWitnessUtxo, nil, txBuf.Bytes())
		if err != nil {
			return err
		}
	}

	if in.WitnessTxOut != nil {
		err := writeKeyValue(
			w, inputWitnessUtxo, nil, serializeTxOut(in.WitnessTxOut),
		)
		if err != nil {
			return err
		}
	}

	for _, ps := range in.PartialSigs {
		err := writeKeyValue(w, inputPartialSig, ps.PubKey, ps.Signature)
		if err != nil {
			return err
		}
	}

	if in.SighashType != 0 {
		var value [4]byte
		binary.LittleEndian.PutUint32(value[:], uint32(in.SighashType))
		err := writeKeyValue(w, inputSighashType, nil, value[:])
		if err != nil {
			return err
		}
	}

	if len(in.RedeemScript) > 0 {
		err := writeKeyValue(w, inputRedeemScript, nil, in.RedeemScript)
		if err != nil {
			return err
		}
	}

	if len(in.WitnessScript) > 0 {
		err := writeKeyValue(w, inputWitnessScript, nil, in.WitnessScript)
		if err != nil {
			return err
		}
	}

	for _, deriv := range in.Derivations {
		err := writeKeyValue(
			w, inputBip32Derivation, deriv.PubKey,
			derivationValue(deriv.MasterFingerprint, deriv.Path),
		)
		if err != nil {
			return err
		}
	}

	if len(in.FinalScriptSig) > 0 {
		err := writeKeyValue(
			w, inputFinalScriptSig, nil, in.FinalScriptSig,
		)
		if err != nil {
			return err
		}
	}

	if len(in.FinalWitness) > 0 {
		err := writeKeyValue(
			w, inputFinalScriptWitness, nil,
			serializeWitnessStack(in.FinalWitness),
		)
		if err != nil {
			return err
		}
	}

	if len(in.TaprootKeySig) > 0 {
		err := writeKeyValue(w, inputTapKeySig, nil, in.TaprootKeySig)
		if err != nil {
			return err
		}
	}

	for _, deriv := range in.TaprootDerivations {
		err := writeKeyValue(
			w, inputTapBip32Derivation, deriv.XOnlyPubKey,
			taprootDerivationValue(deriv),
		)
		if err != nil {
			return err
		}
	}

	if len(in.TaprootInternalKey) > 0 {
		err := writeKeyValue(
			w, inputTapInternalKey, nil, in.TaprootInternalKey,
		)
		if err != nil {
			return err
		}
	}

	for _, kv := range in.Unknown {
		err := writeKeyValue(w, kv.Type, kv.KeyData, kv.Value)
		if err != nil {
			return err
		}
	}

	_, err := w.Write([]byte{0x00})
	return err
}

// readOutputMap parses one output map into out.
func readOutputMap(r *bytes.Reader, out *Output) error {
	for {
		kv, done, err := readKeyValue(r)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		switch kv.Type {
		case outputRedeemScript:
			out.RedeemScript = kv.Value

		case outputWitnessScript:
			out.WitnessScript = kv.Value

		case outputBip32Derivation:
			deriv, err := parseDerivation(kv)
			if err != nil {
				return err
			}
			out.Derivations = append(out.Derivations, deriv)

		case outputTapInternalKey:
			if len(kv.Value) != 32 {
				return fmt.Errorf("taproot internal key is "+
					"%d bytes", len(kv.Value))
			}
			out.TaprootInternalKey = kv.Value

		case outputTapBip32Derivation:
			deriv, err := parseTaprootDerivation(kv)
			if err != nil {
				return err
			}
			out.TaprootDerivations = append(
				out.TaprootDerivations, deriv,
			)

		default:
			out.Unknown = append(out.Unknown, kv)
		}
	}
}

// writeOutputMap serializes one output map.
func writeOutputMap(w io.Writer, out *Output) error {
	if len(out.RedeemScript) > 0 {
		err := writeKeyValue(w, outputRedeemScript, nil, out.RedeemScript)
		if err != nil {
			return err
		}
	}

	if len(out.WitnessScript) > 0 {
		err := writeKeyValue(
			w, outputWitnessScript, nil, out.WitnessScript,
		)
		if err != nil {
			return err
		}
	}

	for _, deriv := range out.Derivations {
		err := writeKeyValue(
			w, outputBip32Derivation, deriv.PubKey,
			derivationValue(deriv.MasterFingerprint, deriv.Path),
		)
		if err != nil {
			return err
		}
	}

	if len(out.TaprootInternalKey) > 0 {
		err := writeKeyValue(
			w, outputTapInternalKey, nil, out.TaprootInternalKey,
		)
		if err != nil {
			return err
		}
	}

	for _, deriv := range out.TaprootDerivations {
		err := writeKeyValue(
			w, outputTapBip32Derivation, deriv.XOnlyPubKey,
			taprootDerivationValue(deriv),
		)
		if err != nil {
			return err
		}
	}

	for _, kv := range out.Unknown {
		err := writeKeyValue(w, kv.Type, kv.KeyData, kv.Value)
		if err != nil {
			return err
		}
	}

	_, err := w.Write([]byte{0x00})
	return err
}

// parseDerivation decodes a bip32-derivation entry.
func parseDerivation(kv KV) (Derivation, error) {
	if len(kv.KeyData) != 33 && len(kv.KeyData) != 65 {
		return Derivation{}, fmt.Errorf("derivation pubkey is %d "+
			"bytes", len(kv.KeyData))
	}

	fingerprint, path, err := parseDerivationValue(kv.Value)
	if err != nil {
		return Derivation{}, err
	}

	return Derivation{
		PubKey:            kv.KeyData,
		MasterFingerprint: fingerprint,
		Path:              path,
	}, nil
}

// parseTaprootDerivation decodes a taproot bip32-derivation entry: a
// compact-size count of leaf hashes, the hashes, then the standard
// fingerprint+path value.
func parseTaprootDerivation(kv KV) (TaprootDerivation, error) {
	if len(kv.KeyData) != 32 {
		return TaprootDerivation{}, fmt.Errorf("taproot derivation "+
			"key is %d bytes", len(kv.KeyData))
	}

	r := bytes.NewReader(kv.Value)
	numHashes, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return TaprootDerivation{}, err
	}
	if numHashes*32 > uint64(r.Len()) {
		return TaprootDerivation{}, fmt.Errorf("%d leaf hashes exceed "+
			"value size", numHashes)
	}

	hashes := make([][]byte, 0, numHashes)
	for i := uint64(0); i < numHashes; i++ {
		hash := make([]byte, 32)
		if _, err := io.ReadFull(r, hash); err != nil {
			return TaprootDerivation{}, err
		}
		hashes = append(hashes, hash)
	}

	rest := make([]byte, r.Len())
	if _, err := io.ReadFull(r, rest); err != nil {
		return TaprootDerivation{}, err
	}

	fingerprint, path, err := parseDerivationValue(rest)
	if err != nil {
		return TaprootDerivation{}, err
	}

	return TaprootDerivation{
		XOnlyPubKey:       kv.KeyData,
		LeafHashes:        hashes,
		MasterFingerprint: fingerprint,
		Path:              path,
	}, nil
}

// taprootDerivationValue is the encoder counterpart of
// parseTaprootDerivation.
func taprootDerivationValue(deriv TaprootDerivation) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarInt(&buf, 0, uint64(len(deriv.LeafHashes)))
	for _, hash := range deriv.LeafHashes {
		buf.Write(hash)
	}
	buf.Write(derivationValue(deriv.MasterFingerprint, deriv.Path))

	return buf.Bytes()
}

// parseWitnessStack decodes a serialized witness stack: a compact-size
// item count followed by compact-size prefixed items.
func parseWitnessStack(value []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(value)

	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if count > uint64(r.Len()) {
		return nil, fmt.Errorf("witness stack claims %d items", count)
	}

	witness := make(wire.TxWitness, 0, count)
	for i := uint64(0); i < count; i++ {
		item, err := wire.ReadVarBytes(
			r, 0, maxScriptElement, "witness item",
		)
		if err != nil {
			return nil, err
		}
		witness = append(witness, item)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing witness bytes", r.Len())
	}

	return witness, nil
}

// serializeWitnessStack is the encoder counterpart of parseWitnessStack.
func serializeWitnessStack(witness wire.TxWitness) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarInt(&buf, 0, uint64(len(witness)))
	for _, item := range witness {
		_ = wire.WriteVarBytes(&buf, 0, item)
	}

	return buf.Bytes()
}

// parseTxOut decodes a single wire TxOut: 8-byte little-endian value and
// a compact-size prefixed script.
func parseTxOut(value []byte) (*wire.TxOut, error) {
	if len(value) < 9 {
		return nil, fmt.Errorf("txout is %d bytes", len(value))
	}

	amount := binary.LittleEndian.Uint64(value[:8])

	r := bytes.NewReader(value[8:])
	pkScript, err := wire.ReadVarBytes(r, 0, maxScriptElement, "pkScript")
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing txout bytes", r.Len())
	}

	return wire.NewTxOut(int64(amount), pkScript), nil
}

// serializeTxOut is the encoder counterpart of parseTxOut.
func serializeTxOut(txOut *wire.TxOut) []byte {
	var buf bytes.Buffer

	var amount [8]byte
	binary.LittleEndian.PutUint64(amount[:], uint64(txOut.Value))
	buf.Write(amount[:])

	_ = wire.WriteVarBytes(&buf, 0, txOut.PkScript)

	return buf.Bytes()
}
