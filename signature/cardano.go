package signature

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"log/slog"

	"github.com/layer-3/walletauth/core"
)

// cardanoEnvelope is the CIP-30 signData result as submitted by the client
type cardanoEnvelope struct {
	Signature string `json:"signature"`
	Key       string `json:"key"`
}

// CardanoVerifier checks CIP-30 data signatures. The signature field carries
// either a bare Ed25519 signature over the hex-encoded message or a
// COSE_Sign1 structure.
type CardanoVerifier struct {
	bindAddress bool
}

// CardanoOption configures a CardanoVerifier
type CardanoOption func(*CardanoVerifier)

// WithAddressBinding requires the signing key hash to equal the key
// credential of the claimed Shelley address
func WithAddressBinding(enabled bool) CardanoOption {
	return func(v *CardanoVerifier) { v.bindAddress = enabled }
}

// NewCardanoVerifier creates a Cardano verifier
func NewCardanoVerifier(opts ...CardanoOption) *CardanoVerifier {
	v := &CardanoVerifier{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (*CardanoVerifier) Family() core.WalletFamily { return core.FamilyCardano }

// Verify checks the envelope in req.Signature over req.Message
func (v *CardanoVerifier) Verify(req Request) Result {
	var attrs []slog.Attr
	reject := func(reason string, extra ...slog.Attr) Result {
		return invalid(reason, append(attrs, extra...)...)
	}

	var env cardanoEnvelope
	if err := json.Unmarshal([]byte(req.Signature), &env); err != nil {
		return reject("signature is not a JSON envelope")
	}

	keyBytes, err := decodeHex(env.Key)
	if err != nil {
		return reject("key is not hex")
	}
	sigBytes, err := decodeHex(env.Signature)
	if err != nil {
		return reject("signature is not hex")
	}
	attrs = append(attrs, slog.Int("key_len", len(keyBytes)), slog.Int("signature_len", len(sigBytes)))

	pub, keyFormat, err := decodeCOSEKey(keyBytes)
	attrs = append(attrs, slog.String("key_format", keyFormat))
	if err != nil {
		return reject("key decode failed", slog.String("error", err.Error()))
	}

	if v.bindAddress {
		ok, kind, err := keyMatchesAddress(pub, req.Address)
		if err != nil {
			return reject("address has no key credential", slog.String("error", err.Error()))
		}
		attrs = append(attrs, slog.String("address_type", kind))
		if !ok {
			return reject("key does not control address")
		}
	}

	sig, msg, err := decodeCOSESignature(sigBytes)
	if err != nil {
		return reject("signature decode failed", slog.String("error", err.Error()))
	}

	hexMessage := []byte(hex.EncodeToString([]byte(req.Message)))

	// Bare signature: the wallet signed the hex encoding of the message
	if msg == nil {
		attrs = append(attrs, slog.String("signature_format", "raw"))
		if ed25519.Verify(pub, hexMessage, sig) {
			return valid(append(attrs, slog.String("attempt", "direct"))...)
		}
		return reject("ed25519 verification failed")
	}

	format := "cose_sign1"
	if msg.Tagged {
		format = "cose_sign1_tagged"
	}
	attrs = append(attrs,
		slog.String("signature_format", format),
		slog.String("signature_source", msg.SigSource),
		slog.Bool("detached_payload", msg.Payload == nil),
	)

	payloads, ok := challengePayloads(msg.Payload, []byte(req.Message), hexMessage)
	if !ok {
		return reject("payload does not match challenge", slog.Int("payload_len", len(msg.Payload)))
	}

	for _, payload := range payloads {
		if ed25519.Verify(pub, payload, sig) {
			return valid(append(attrs, slog.String("attempt", "direct"))...)
		}
	}

	for _, payload := range payloads {
		toBeSigned, err := msg.sigStructure(payload)
		if err != nil {
			return reject("sig_structure encoding failed", slog.String("error", err.Error()))
		}
		if ed25519.Verify(pub, toBeSigned, sig) {
			return valid(append(attrs, slog.String("attempt", "sig_structure"))...)
		}
	}

	return reject("ed25519 verification failed for payload and sig_structure")
}

// challengePayloads returns the payloads to verify. An embedded payload must
// be the message or its hex encoding; a detached one may be either.
func challengePayloads(embedded, message, hexMessage []byte) ([][]byte, bool) {
	if embedded == nil {
		return [][]byte{message, hexMessage}, true
	}
	if bytes.Equal(embedded, message) || bytes.Equal(embedded, hexMessage) {
		return [][]byte{embedded}, true
	}
	return nil, false
}
