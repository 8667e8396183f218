package relay

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"testing"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

func newTestKey(t *testing.T) *ec.PrivateKey {
	t.Helper()
	key, err := ec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey failed: %v", err)
	}
	return key
}

func TestCanonicalJSONKeyOrder(t *testing.T) {
	a := []byte(`{"service":"echo","satoshis":50,"nested":{"b":2,"a":1}}`)
	b := []byte(`{
		"nested": {"a": 1, "b": 2},
		"satoshis": 50,
		"service": "echo"
	}`)

	ca, err := CanonicalJSON(a)
	if err != nil {
		t.Fatalf("CanonicalJSON failed: %v", err)
	}
	cb, err := CanonicalJSON(b)
	if err != nil {
		t.Fatalf("CanonicalJSON failed: %v", err)
	}
	if !bytes.Equal(ca, cb) {
		t.Errorf("equivalent documents canonicalize differently:\n%s\n%s", ca, cb)
	}
}

func TestSignVerify(t *testing.T) {
	key := newTestKey(t)

	msg := &Message{
		ID:      "m1",
		To:      "recipient-identity",
		Type:    "service-request",
		Payload: json.RawMessage(`{"service":"echo","input":"hello"}`),
	}
	if err := Sign(msg, key); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if msg.From != key.PubKey().ToDERHex() {
		t.Error("Sign should set From to the signer's identity")
	}
	if !Verify(msg) {
		t.Fatal("freshly signed message should verify")
	}

	// The wire signature must also check out against the raw preimage
	// through the public key directly: signer and verifier have to agree
	// on the sha256 digest of the preimage
	preimage, err := SigningPreimage(msg.To, msg.Type, msg.Payload)
	if err != nil {
		t.Fatalf("SigningPreimage failed: %v", err)
	}
	der, err := hex.DecodeString(msg.Signature)
	if err != nil {
		t.Fatalf("signature is not hex: %v", err)
	}
	sig, err := ec.ParseDERSignature(der)
	if err != nil {
		t.Fatalf("signature is not DER: %v", err)
	}
	if !key.PubKey().Verify(preimage, sig) {
		t.Error("signature does not verify against the signing preimage")
	}

	// Re-ordering keys inside the payload must not break the signature
	msg.Payload = json.RawMessage(`{"input":"hello","service":"echo"}`)
	if !Verify(msg) {
		t.Error("signature should survive payload key reordering")
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	key := newTestKey(t)

	base := func() *Message {
		msg := &Message{
			ID:      "m1",
			To:      "recipient-identity",
			Type:    "service-request",
			Payload: json.RawMessage(`{"service":"echo","satoshis":50}`),
		}
		if err := Sign(msg, key); err != nil {
			t.Fatalf("Sign failed: %v", err)
		}
		return msg
	}

	tampered := base()
	tampered.Payload = json.RawMessage(`{"service":"echo","satoshis":5000}`)
	if Verify(tampered) {
		t.Error("modified payload should fail verification")
	}

	redirected := base()
	redirected.To = "attacker-identity"
	if Verify(redirected) {
		t.Error("modified recipient should fail verification")
	}

	retyped := base()
	retyped.Type = "pong"
	if Verify(retyped) {
		t.Error("modified type should fail verification")
	}

	forged := base()
	forged.From = newTestKey(t).PubKey().ToDERHex()
	if Verify(forged) {
		t.Error("substituted sender should fail verification")
	}

	garbage := base()
	garbage.Signature = "not hex"
	if Verify(garbage) {
		t.Error("malformed signature should fail verification")
	}
}
