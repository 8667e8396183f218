package relay

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

// CanonicalJSON re-encodes raw JSON into a canonical byte form so that
// signer and verifier agree regardless of key order or whitespace.
// Object keys are sorted (encoding/json sorts map keys on marshal) and
// numbers pass through as json.Number to avoid float round-tripping.
func CanonicalJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	canonical, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode payload: %w", err)
	}
	return canonical, nil
}

// SigningPreimage binds a payload to its recipient and message type.
// Covering To stops a relay from redirecting a message; covering Type
// stops replaying a payload under a different kind.
func SigningPreimage(to, msgType string, payload json.RawMessage) ([]byte, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return nil, err
	}

	preimage := make([]byte, 0, len(to)+len(msgType)+len(canonical))
	preimage = append(preimage, to...)
	preimage = append(preimage, msgType...)
	preimage = append(preimage, canonical...)
	return preimage, nil
}

// Sign fills in msg.From and msg.Signature using the sender's key.
// The signed digest is sha256 of the preimage; the key signs the digest
// directly, while verification hashes the preimage itself.
func Sign(msg *Message, key *ec.PrivateKey) error {
	preimage, err := SigningPreimage(msg.To, msg.Type, msg.Payload)
	if err != nil {
		return err
	}

	digest := sha256.Sum256(preimage)
	sig, err := key.Sign(digest[:])
	if err != nil {
		return fmt.Errorf("failed to sign message: %w", err)
	}

	msg.From = key.PubKey().ToDERHex()
	msg.Signature = hex.EncodeToString(sig.Serialize())
	return nil
}

// Verify checks msg.Signature against msg.From. A malformed sender key
// or signature counts as a failed verification, not an error.
func Verify(msg *Message) bool {
	pub, err := ec.PublicKeyFromString(msg.From)
	if err != nil {
		return false
	}

	der, err := hex.DecodeString(msg.Signature)
	if err != nil {
		return false
	}
	sig, err := ec.ParseDERSignature(der)
	if err != nil {
		return false
	}

	preimage, err := SigningPreimage(msg.To, msg.Type, msg.Payload)
	if err != nil {
		return false
	}
	return pub.Verify(preimage, sig)
}
