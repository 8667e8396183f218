package payload

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/script"
)

// Encode builds an unspendable data output:
// OP_FALSE OP_RETURN <protocolID> <data>, as two separate pushes.
func Encode(protocolID, data []byte) (*script.Script, error) {
	s := &script.Script{}
	if err := s.AppendOpcodes(script.OpFALSE, script.OpRETURN); err != nil {
		return nil, fmt.Errorf("failed to append opcodes: %w", err)
	}
	if err := s.AppendPushData(protocolID); err != nil {
		return nil, fmt.Errorf("failed to push protocol id: %w", err)
	}
	if err := s.AppendPushData(data); err != nil {
		return nil, fmt.Errorf("failed to push payload: %w", err)
	}
	return s, nil
}

// Decode extracts the payload for protocolID from a data output script.
//
// Writers in the wild produce two layouts: the protocol id and payload as
// separate script pushes, or collapsed into one combined push whose body
// repeats script-style length prefixes (single byte up to 75, 0x4c + one
// byte, or 0x4d + two bytes little-endian). Both are supported.
func Decode(s *script.Script, protocolID []byte) ([]byte, error) {
	chunks, err := s.Chunks()
	if err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}

	// The chunker folds everything after OP_RETURN into that chunk's
	// trailing data, so both layouts arrive as one prefixed byte run
	var body []byte
	found := false
	for _, chunk := range chunks {
		if chunk.Op == script.OpRETURN {
			body = chunk.Data
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("no OP_RETURN in script")
	}

	fields, err := splitPushes(body)
	if err != nil {
		return nil, err
	}
	if len(fields) == 1 {
		// Combined layout: a single outer push whose body repeats the
		// same prefix scheme
		inner, err := splitPushes(fields[0])
		if err != nil {
			return nil, err
		}
		fields = inner
	}

	if len(fields) < 2 {
		return nil, fmt.Errorf("data output holds %d fields, need 2", len(fields))
	}
	if !bytes.Equal(fields[0], protocolID) {
		return nil, fmt.Errorf("protocol id mismatch")
	}
	return fields[1], nil
}

// splitPushes walks script-style length prefixes through a byte run
func splitPushes(b []byte) ([][]byte, error) {
	var fields [][]byte
	pos := 0

	for pos < len(b) {
		op := b[pos]
		pos++

		var length int
		switch {
		case op <= 75:
			length = int(op)
		case op == script.OpPUSHDATA1:
			if pos >= len(b) {
				return nil, fmt.Errorf("truncated PUSHDATA1 prefix at %d", pos)
			}
			length = int(b[pos])
			pos++
		case op == script.OpPUSHDATA2:
			if pos+2 > len(b) {
				return nil, fmt.Errorf("truncated PUSHDATA2 prefix at %d", pos)
			}
			length = int(binary.LittleEndian.Uint16(b[pos : pos+2]))
			pos += 2
		default:
			return nil, fmt.Errorf("unsupported push prefix 0x%02x at %d", op, pos-1)
		}

		if pos+length > len(b) {
			return nil, fmt.Errorf("push of %d bytes overruns the data", length)
		}
		fields = append(fields, b[pos:pos+length])
		pos += length
	}

	return fields, nil
}
