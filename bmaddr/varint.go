package bmaddr

import (
	"encoding/binary"
	"fmt"
)

// encodeVarint encodes a value with the Bitmessage variable-length integer
// scheme (same layout as Bitcoin's, big-endian multi-byte values).
func encodeVarint(value uint64) []byte {
	switch {
	case value < 0xfd:
		return []byte{byte(value)}
	case value <= 0xffff:
		b := make([]byte, 3)
		b[0] = 0xfd
		binary.BigEndian.PutUint16(b[1:], uint16(value))
		return b
	case value <= 0xffffffff:
		b := make([]byte, 5)
		b[0] = 0xfe
		binary.BigEndian.PutUint32(b[1:], uint32(value))
		return b
	default:
		b := make([]byte, 9)
		b[0] = 0xff
		binary.BigEndian.PutUint64(b[1:], value)
		return b
	}
}

// decodeVarint reads one varint from the start of b and returns the value and
// the number of bytes consumed.
func decodeVarint(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("%w: empty varint", ErrMalformed)
	}
	switch first := b[0]; {
	case first < 0xfd:
		return uint64(first), 1, nil
	case first == 0xfd:
		if len(b) < 3 {
			return 0, 0, fmt.Errorf("%w: truncated varint", ErrMalformed)
		}
		return uint64(binary.BigEndian.Uint16(b[1:3])), 3, nil
	case first == 0xfe:
		if len(b) < 5 {
			return 0, 0, fmt.Errorf("%w: truncated varint", ErrMalformed)
		}
		return uint64(binary.BigEndian.Uint32(b[1:5])), 5, nil
	default:
		if len(b) < 9 {
			return 0, 0, fmt.Errorf("%w: truncated varint", ErrMalformed)
		}
		return binary.BigEndian.Uint64(b[1:9]), 9, nil
	}
}
