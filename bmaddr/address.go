// Package bmaddr implements the Bitmessage address encoding.
//
// A canonical address is "BM-" followed by the base58 encoding of
// varint(version) || varint(stream) || ripe || checksum, where ripe is the
// RIPEMD-160 digest of the SHA-512 of the concatenated public keys (leading
// zero bytes stripped) and checksum is the first four bytes of the double
// SHA-512 of everything before it.
package bmaddr

import (
	"bytes"
	"crypto/sha512"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160"
)

const (
	// Prefix starts every canonical Bitmessage address string.
	Prefix = "BM-"
	// RipeLength is the full length of the RIPEMD-160 address hash.
	RipeLength = 20
	// TagLength is the length of the tag identifying version 4+ addresses.
	TagLength = 32

	checksumLength = 4
)

var (
	// ErrChecksum indicates an address string failed checksum verification.
	ErrChecksum = errors.New("bmaddr: invalid checksum")
	// ErrMalformed indicates an address string that cannot be decoded.
	ErrMalformed = errors.New("bmaddr: malformed address")
)

// Address holds the decoded components of a canonical address string.
type Address struct {
	Version uint64
	Stream  uint64
	Ripe    []byte // always padded back to RipeLength bytes
}

// Encode builds the canonical address string for version, stream and ripe.
// The ripe must be at most RipeLength bytes; shorter values are treated as
// already stripped of leading zeros.
func Encode(version, stream uint64, ripe []byte) (string, error) {
	if len(ripe) > RipeLength {
		return "", fmt.Errorf("bmaddr: ripe is %d bytes, expected at most %d", len(ripe), RipeLength)
	}

	var payload bytes.Buffer
	payload.Write(encodeVarint(version))
	payload.Write(encodeVarint(stream))
	payload.Write(stripRipe(version, leftPad(ripe, RipeLength)))

	sum := doubleSHA512(payload.Bytes())
	payload.Write(sum[:checksumLength])

	return Prefix + base58.Encode(payload.Bytes()), nil
}

// Decode parses and verifies a canonical address string. The "BM-" prefix is
// optional on input.
func Decode(address string) (*Address, error) {
	raw, err := base58.Decode(strings.TrimPrefix(address, Prefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) < checksumLength+2 {
		return nil, fmt.Errorf("%w: %d bytes after base58 decoding", ErrMalformed, len(raw))
	}

	payload := raw[:len(raw)-checksumLength]
	sum := doubleSHA512(payload)
	if !bytes.Equal(raw[len(raw)-checksumLength:], sum[:checksumLength]) {
		return nil, ErrChecksum
	}

	version, n, err := decodeVarint(payload)
	if err != nil {
		return nil, err
	}
	payload = payload[n:]

	stream, n, err := decodeVarint(payload)
	if err != nil {
		return nil, err
	}
	payload = payload[n:]

	if len(payload) > RipeLength {
		return nil, fmt.Errorf("%w: ripe is %d bytes", ErrMalformed, len(payload))
	}

	return &Address{
		Version: version,
		Stream:  stream,
		Ripe:    leftPad(payload, RipeLength),
	}, nil
}

// Ripe derives the address hash from the signing and encryption public keys.
func Ripe(signingKey, encryptionKey []byte) []byte {
	sha := sha512.New()
	sha.Write(signingKey)
	sha.Write(encryptionKey)

	r := ripemd160.New()
	r.Write(sha.Sum(nil))
	return r.Sum(nil)
}

// Tag derives the tag identifying a version 4+ address on the wire: the
// second half of the double SHA-512 over varint(version) || varint(stream) ||
// ripe (unstripped).
func Tag(version, stream uint64, ripe []byte) []byte {
	var data bytes.Buffer
	data.Write(encodeVarint(version))
	data.Write(encodeVarint(stream))
	data.Write(leftPad(ripe, RipeLength))

	sum := doubleSHA512(data.Bytes())
	return sum[len(sum)-TagLength:]
}

func doubleSHA512(data []byte) []byte {
	first := sha512.Sum512(data)
	second := sha512.Sum512(first[:])
	return second[:]
}

// stripRipe removes leading zero bytes before encoding. Version 4 addresses
// strip all of them; earlier versions strip at most two to stay compatible
// with historic encoders.
func stripRipe(version uint64, ripe []byte) []byte {
	stripped := 0
	for stripped < len(ripe) && ripe[stripped] == 0 {
		stripped++
	}
	if version < 4 && stripped > 2 {
		stripped = 2
	}
	return ripe[stripped:]
}

func leftPad(b []byte, length int) []byte {
	if len(b) >= length {
		return b
	}
	padded := make([]byte, length)
	copy(padded[length-len(b):], b)
	return padded
}
