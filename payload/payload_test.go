package payload

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/bsv-blockchain/go-sdk/script"
)

var protocolID = []byte("1AgentNet")

func TestEncodeDecodeRoundTrip(t *testing.T) {
	data := []byte(`{"type":"service-request","service":"translate"}`)

	s, err := Encode(protocolID, data)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := Decode(s, protocolID)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("round trip mismatch: %q", got)
	}
}

func TestDecodeWrongProtocol(t *testing.T) {
	s, err := Encode(protocolID, []byte("hello"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if _, err := Decode(s, []byte("1OtherProto")); err == nil {
		t.Error("mismatched protocol id should fail")
	}
}

// combinedScript builds OP_FALSE OP_RETURN <one push containing
// internally prefixed fields>
func combinedScript(t *testing.T, fields ...[]byte) *script.Script {
	t.Helper()

	var body []byte
	for _, f := range fields {
		switch {
		case len(f) <= 75:
			body = append(body, byte(len(f)))
		case len(f) <= 0xff:
			body = append(body, script.OpPUSHDATA1, byte(len(f)))
		default:
			var l [2]byte
			binary.LittleEndian.PutUint16(l[:], uint16(len(f)))
			body = append(body, script.OpPUSHDATA2)
			body = append(body, l[:]...)
		}
		body = append(body, f...)
	}

	s := &script.Script{}
	if err := s.AppendOpcodes(script.OpFALSE, script.OpRETURN); err != nil {
		t.Fatalf("AppendOpcodes failed: %v", err)
	}
	if err := s.AppendPushData(body); err != nil {
		t.Fatalf("AppendPushData failed: %v", err)
	}
	return s
}

func TestDecodeCombinedPush(t *testing.T) {
	short := []byte("short payload")
	medium := bytes.Repeat([]byte("m"), 200)  // needs a PUSHDATA1 prefix
	long := bytes.Repeat([]byte("l"), 0x1234) // needs a PUSHDATA2 prefix

	for _, data := range [][]byte{short, medium, long} {
		s := combinedScript(t, protocolID, data)

		got, err := Decode(s, protocolID)
		if err != nil {
			t.Fatalf("Decode failed for %d-byte payload: %v", len(data), err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("combined decode mismatch for %d-byte payload", len(data))
		}
	}
}

func TestDecodeTruncatedCombined(t *testing.T) {
	s := &script.Script{}
	if err := s.AppendOpcodes(script.OpFALSE, script.OpRETURN); err != nil {
		t.Fatalf("AppendOpcodes failed: %v", err)
	}
	// Inner prefix claims 10 bytes but only 2 follow
	if err := s.AppendPushData([]byte{10, 0x01, 0x02}); err != nil {
		t.Fatalf("AppendPushData failed: %v", err)
	}

	if _, err := Decode(s, protocolID); err == nil {
		t.Error("truncated combined push should fail")
	}
}

func TestDecodeNoOpReturn(t *testing.T) {
	s := &script.Script{}
	if err := s.AppendPushData([]byte("just data")); err != nil {
		t.Fatalf("AppendPushData failed: %v", err)
	}

	if _, err := Decode(s, protocolID); err == nil {
		t.Error("script without OP_RETURN should fail")
	}
}
