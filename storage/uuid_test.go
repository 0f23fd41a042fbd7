package storage

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDBytesRoundTrip(t *testing.T) {
	original := uuid.New()

	encoded := UUIDToBytes(original)
	if len(encoded) != 16 {
		t.Fatalf("expected 16-byte encoding, got %d", len(encoded))
	}

	decoded, err := UUIDFromBytes(encoded)
	if err != nil {
		t.Fatalf("UUIDFromBytes failed: %v", err)
	}
	if decoded != original {
		t.Fatalf("round trip mismatch: expected %s, got %s", original, decoded)
	}
}

func TestUUIDToBytesIsBigEndian(t *testing.T) {
	u := uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff")

	expected := []byte{
		0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77,
		0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff,
	}
	if got := UUIDToBytes(u); !bytes.Equal(got, expected) {
		t.Fatalf("expected %x, got %x", expected, got)
	}
}

func TestUUIDFromBytesRejectsBadLength(t *testing.T) {
	for _, length := range []int{0, 8, 15, 17, 32} {
		if _, err := UUIDFromBytes(make([]byte, length)); err == nil {
			t.Fatalf("expected %d-byte input to be rejected", length)
		}
	}
}
