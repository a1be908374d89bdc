package signature

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	coseSign1Tag = 18

	coseKeyKty   = 1
	coseKeyAlg   = 3
	coseKeyCrv   = -1
	coseKeyX     = -2
	coseKtyOKP   = 1
	coseAlgEdDSA = -8
	coseCrvEd    = 6
)

// decMode bounds what untrusted wallet input may allocate
var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		MaxNestedLevels:  16,
		MaxArrayElements: 64,
		MaxMapPairs:      64,
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// coseSign1 is a decoded COSE_Sign1 message (RFC 8152 section 4.2)
type coseSign1 struct {
	Protected []byte // serialized protected header bucket
	Payload   []byte // nil when detached
	Signature []byte
	Tagged    bool
	SigSource string
}

// sigStructure builds the Sig_structure signed by COSE_Sign1 producers
func (m *coseSign1) sigStructure(payload []byte) ([]byte, error) {
	return cbor.Marshal([]any{"Signature1", m.Protected, []byte{}, payload})
}

// decodeCOSEKey extracts an Ed25519 public key from a raw 32-byte string or
// an OKP COSE_Key map.
func decodeCOSEKey(raw []byte) ([]byte, string, error) {
	var v any
	if err := decMode.Unmarshal(raw, &v); err != nil {
		return nil, "", fmt.Errorf("key is not valid CBOR: %w", err)
	}

	switch k := v.(type) {
	case []byte:
		if len(k) != 32 {
			return nil, "bytes", fmt.Errorf("raw key must be 32 bytes, got %d", len(k))
		}
		return k, "bytes", nil
	case map[any]any:
		if kty, ok := intValue(k, coseKeyKty); ok && kty != coseKtyOKP {
			return nil, "cose_key", fmt.Errorf("unsupported key type %d", kty)
		}
		if alg, ok := intValue(k, coseKeyAlg); ok && alg != coseAlgEdDSA {
			return nil, "cose_key", fmt.Errorf("unsupported algorithm %d", alg)
		}
		if crv, ok := intValue(k, coseKeyCrv); ok && crv != coseCrvEd {
			return nil, "cose_key", fmt.Errorf("unsupported curve %d", crv)
		}
		x, ok := lookup(k, coseKeyX).([]byte)
		if !ok {
			return nil, "cose_key", errors.New("COSE_Key has no -2 byte string")
		}
		if len(x) != 32 {
			return nil, "cose_key", fmt.Errorf("COSE_Key -2 must be 32 bytes, got %d", len(x))
		}
		return x, "cose_key", nil
	default:
		return nil, fmt.Sprintf("%T", v), errors.New("key is neither bytes nor a COSE_Key map")
	}
}

// decodeCOSESignature decodes the signature field. A raw 64-byte string
// yields a nil message; anything else must be a COSE_Sign1 array, optionally
// tagged 18.
func decodeCOSESignature(raw []byte) ([]byte, *coseSign1, error) {
	var v any
	if err := decMode.Unmarshal(raw, &v); err != nil {
		return nil, nil, fmt.Errorf("signature is not valid CBOR: %w", err)
	}

	tagged := false
	if tag, ok := v.(cbor.Tag); ok {
		if tag.Number != coseSign1Tag {
			return nil, nil, fmt.Errorf("unexpected CBOR tag %d", tag.Number)
		}
		v, tagged = tag.Content, true
	}

	switch s := v.(type) {
	case []byte:
		if tagged {
			return nil, nil, errors.New("tagged signature is not a COSE_Sign1 array")
		}
		if len(s) != 64 {
			return nil, nil, fmt.Errorf("raw signature must be 64 bytes, got %d", len(s))
		}
		return s, nil, nil
	case []any:
		msg, err := parseSign1(s)
		if err != nil {
			return nil, nil, err
		}
		msg.Tagged = tagged
		return msg.Signature, msg, nil
	default:
		return nil, nil, fmt.Errorf("signature decodes to unsupported %T", v)
	}
}

func parseSign1(elems []any) (*coseSign1, error) {
	if len(elems) != 4 {
		return nil, fmt.Errorf("COSE_Sign1 must have 4 elements, got %d", len(elems))
	}

	protected, ok := elems[0].([]byte)
	if !ok {
		return nil, errors.New("COSE_Sign1 protected header is not a byte string")
	}

	msg := &coseSign1{Protected: protected}

	switch p := elems[2].(type) {
	case []byte:
		msg.Payload = p
	case nil:
	default:
		return nil, fmt.Errorf("COSE_Sign1 payload is %T", elems[2])
	}

	switch sig := elems[3].(type) {
	case []byte:
		switch {
		case len(sig) == 64:
			msg.Signature, msg.SigSource = sig, "exact"
		case len(sig) > 64:
			msg.Signature, msg.SigSource = sig[len(sig)-64:], "trailing"
		default:
			return nil, fmt.Errorf("COSE_Sign1 signature is %d bytes", len(sig))
		}
	case []any:
		for i := len(sig) - 1; i >= 0; i-- {
			if b, ok := sig[i].([]byte); ok && len(b) == 64 {
				msg.Signature, msg.SigSource = b, "nested"
				break
			}
		}
		if msg.Signature == nil {
			return nil, errors.New("nested COSE_Sign1 signature has no 64-byte element")
		}
	default:
		return nil, fmt.Errorf("COSE_Sign1 signature is %T", elems[3])
	}

	return msg, nil
}

// lookup finds an integer label in a decoded CBOR map. Labels decode as
// uint64 when positive and int64 when negative.
func lookup(m map[any]any, label int64) any {
	if label >= 0 {
		if v, ok := m[uint64(label)]; ok {
			return v
		}
	}
	return m[label]
}

func intValue(m map[any]any, label int64) (int64, bool) {
	switch v := lookup(m, label).(type) {
	case uint64:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}
