package storage

import (
	"fmt"

	"github.com/google/uuid"
)

// Conversation IDs are persisted as fixed 16-byte blobs: the high 64 bits in
// big-endian order followed by the low 64 bits. This matches the RFC 4122
// byte order, keeps the column index-friendly and sorts the same way the
// textual form does.

// UUIDToBytes encodes a conversation ID into its 16-byte stored form.
func UUIDToBytes(u uuid.UUID) []byte {
	b := make([]byte, len(u))
	copy(b, u[:])
	return b
}

// UUIDFromBytes decodes the 16-byte stored form back into a conversation ID.
func UUIDFromBytes(b []byte) (uuid.UUID, error) {
	if len(b) != 16 {
		return uuid.Nil, fmt.Errorf("conversation id is %d bytes, expected 16", len(b))
	}
	var u uuid.UUID
	copy(u[:], b)
	return u, nil
}
