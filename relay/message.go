package relay

import "encoding/json"

// Message is the envelope exchanged through a relay. Identities are
// compressed public keys in hex; Signature is a hex DER signature over
// the envelope's signing preimage, so the relay itself never needs to
// be trusted with anything but delivery.
type Message struct {
	ID        string          `json:"messageId"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}
