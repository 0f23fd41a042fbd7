package bmaddr

import (
	"bytes"
	"strings"
	"testing"
)

func testRipe(fill byte) []byte {
	ripe := make([]byte, RipeLength)
	for i := range ripe {
		ripe[i] = fill
	}
	return ripe
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		version uint64
		stream  uint64
		ripe    []byte
	}{
		{"version 3", 3, 1, testRipe(0x5a)},
		{"version 4", 4, 1, testRipe(0xc3)},
		{"high stream", 4, 7, testRipe(0x01)},
		{"leading zeros v4", 4, 1, append(make([]byte, 5), testRipe(0x9f)[5:]...)},
		{"leading zeros v3", 3, 1, append(make([]byte, 3), testRipe(0x42)[3:]...)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := Encode(tc.version, tc.stream, tc.ripe)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if !strings.HasPrefix(encoded, Prefix) {
				t.Fatalf("expected %q prefix, got %q", Prefix, encoded)
			}

			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if decoded.Version != tc.version {
				t.Fatalf("expected version %d, got %d", tc.version, decoded.Version)
			}
			if decoded.Stream != tc.stream {
				t.Fatalf("expected stream %d, got %d", tc.stream, decoded.Stream)
			}
			if !bytes.Equal(decoded.Ripe, tc.ripe) {
				t.Fatalf("ripe mismatch: expected %x, got %x", tc.ripe, decoded.Ripe)
			}
		})
	}
}

func TestDecodeAcceptsMissingPrefix(t *testing.T) {
	encoded, err := Encode(4, 1, testRipe(0x11))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(strings.TrimPrefix(encoded, Prefix))
	if err != nil {
		t.Fatalf("Decode without prefix failed: %v", err)
	}
	if decoded.Version != 4 || decoded.Stream != 1 {
		t.Fatalf("unexpected decode result: %+v", decoded)
	}
}

func TestDecodeRejectsCorruptedChecksum(t *testing.T) {
	encoded, err := Encode(4, 1, testRipe(0x33))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	last := encoded[len(encoded)-1]
	replacement := byte('2')
	if last == replacement {
		replacement = '3'
	}
	corrupted := encoded[:len(encoded)-1] + string(replacement)

	if _, err := Decode(corrupted); err == nil {
		t.Fatalf("expected corrupted address %q to fail decoding", corrupted)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "BM-", "BM-0OIl", "not an address", "BM-2"} {
		if _, err := Decode(input); err == nil {
			t.Fatalf("expected %q to fail decoding", input)
		}
	}
}

func TestRipeAndTagLengths(t *testing.T) {
	ripe := Ripe([]byte("signing key material"), []byte("encryption key material"))
	if len(ripe) != RipeLength {
		t.Fatalf("expected %d-byte ripe, got %d", RipeLength, len(ripe))
	}

	tag := Tag(4, 1, ripe)
	if len(tag) != TagLength {
		t.Fatalf("expected %d-byte tag, got %d", TagLength, len(tag))
	}

	// The tag binds version and stream, not just the ripe.
	other := Tag(4, 2, ripe)
	if bytes.Equal(tag, other) {
		t.Fatalf("expected tags for different streams to differ")
	}
}

func TestVarintRoundTrip(t *testing.T) {
	for _, value := range []uint64{0, 1, 0xfc, 0xfd, 0xffff, 0x10000, 0xffffffff, 0x100000000, 1<<64 - 1} {
		encoded := encodeVarint(value)
		decoded, n, err := decodeVarint(encoded)
		if err != nil {
			t.Fatalf("decodeVarint(%d) failed: %v", value, err)
		}
		if n != len(encoded) {
			t.Fatalf("decodeVarint(%d) consumed %d of %d bytes", value, n, len(encoded))
		}
		if decoded != value {
			t.Fatalf("varint round trip: expected %d, got %d", value, decoded)
		}
	}
}
