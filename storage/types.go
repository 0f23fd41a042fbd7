package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrAlreadyStored indicates a message with the same inventory vector is
	// already persisted. Duplicate receipt of a relayed message is expected
	// and callers may treat this error as benign.
	ErrAlreadyStored = errors.New("storage: message already stored")
)

const (
	// MessageTypeMsg is a point-to-point message.
	MessageTypeMsg = "MSG"
	// MessageTypeBroadcast is a message to all subscribers of an address.
	MessageTypeBroadcast = "BROADCAST"
)

const (
	// StatusDraft marks a message composed but not yet queued.
	StatusDraft = "DRAFT"
	// StatusPubkeyRequested marks an outbound message waiting for the
	// recipient's public key.
	StatusPubkeyRequested = "PUBKEY_REQUESTED"
	// StatusDoingProofOfWork marks a message whose object is being mined.
	StatusDoingProofOfWork = "DOING_PROOF_OF_WORK"
	// StatusSent marks a transmitted, not yet acknowledged message.
	StatusSent = "SENT"
	// StatusSentAcknowledged marks a transmitted, acknowledged message.
	StatusSentAcknowledged = "SENT_ACKNOWLEDGED"
	// StatusReceived marks an inbound message.
	StatusReceived = "RECEIVED"
)

const (
	LabelTypeInbox     = "INBOX"
	LabelTypeBroadcast = "BROADCAST"
	LabelTypeDraft     = "DRAFT"
	LabelTypeOutbox    = "OUTBOX"
	LabelTypeSent      = "SENT"
	LabelTypeUnread    = "UNREAD"
	LabelTypeTrash     = "TRASH"
)

// Address is a Bitmessage identity (private key held) or contact.
type Address struct {
	Address    string // canonical "BM-..." encoding, the storage key
	Version    uint64
	Stream     uint64
	Alias      string
	PublicKey  []byte
	PrivateKey []byte
	Chan       bool
	Subscribed bool
}

// IsIdentity reports whether the private key material is held locally.
func (a *Address) IsIdentity() bool {
	return len(a.PrivateKey) > 0
}

// Object is a signed, time-limited protocol payload held in the inventory.
type Object struct {
	Hash    []byte // 32-byte inventory vector, the storage key
	Stream  uint64
	Expires int64 // unix seconds
	Data    []byte
	Type    uint64
	Version uint64
}

// Node is a known network peer advertised via address gossip.
type Node struct {
	Stream   uint64
	Address  []byte // 16 bytes, IPv6-mapped
	Port     uint16
	Services uint64
	Time     int64 // last seen, unix seconds
}

// PowItem is a pending proof-of-work computation keyed by its initial hash.
type PowItem struct {
	InitialHash        []byte
	Data               []byte
	Version            uint64
	NonceTrialsPerByte uint64
	ExtraBytes         uint64
	ExpirationTime     int64 // unix seconds, 0 when not linked to a message
	MessageID          *int64
	Message            *Message // resolved on read when MessageID is set
}

// Label is a tag applied to messages. System labels carry a Type constant,
// user-defined labels leave it empty.
type Label struct {
	ID    int64
	Text  string
	Type  string
	Color int64 // ARGB
	Ord   int
}

// Message is a decrypted message, sent or received.
type Message struct {
	ID           int64
	IV           []byte // inventory vector, nil until transmitted
	Type         string
	From         *Address
	To           *Address // nil for broadcasts
	Data         []byte
	AckData      []byte
	Sent         int64 // unix seconds, 0 when unknown
	Received     int64
	Status       string
	TTL          int64
	Retries      int
	NextTry      int64
	InitialHash  []byte
	Conversation uuid.UUID
	Parents      [][]byte // declared parent inventory vectors, in order
	Labels       []Label
}

// LabelFilter selects the label bucket a message query applies to: either one
// stored label or the synthetic archive bucket (messages with no labels at
// all). Archive is never a stored row, so it gets its own structural variant
// instead of a sentinel label value.
type LabelFilter struct {
	archive bool
	labelID int64
}

// FilterLabel selects messages carrying the given stored label.
func FilterLabel(label Label) LabelFilter {
	return LabelFilter{labelID: label.ID}
}

// FilterArchive selects messages with an empty label set.
func FilterArchive() LabelFilter {
	return LabelFilter{archive: true}
}

// IsArchive reports whether the filter selects the archive bucket.
func (f LabelFilter) IsArchive() bool {
	return f.archive
}

func (f LabelFilter) where() (string, []any) {
	if f.archive {
		return "id NOT IN (SELECT message_id FROM message_label)", nil
	}
	return "id IN (SELECT message_id FROM message_label WHERE label_id = ?)", []any{f.labelID}
}

func validateMessageType(messageType string) error {
	switch messageType {
	case MessageTypeMsg, MessageTypeBroadcast:
		return nil
	default:
		return fmt.Errorf("invalid message type %q", messageType)
	}
}

func validateMessageStatus(status string) error {
	switch status {
	case StatusDraft, StatusPubkeyRequested, StatusDoingProofOfWork,
		StatusSent, StatusSentAcknowledged, StatusReceived:
		return nil
	default:
		return fmt.Errorf("invalid message status %q", status)
	}
}

func validateLabelType(labelType string) error {
	switch labelType {
	case "", LabelTypeInbox, LabelTypeBroadcast, LabelTypeDraft,
		LabelTypeOutbox, LabelTypeSent, LabelTypeUnread, LabelTypeTrash:
		return nil
	default:
		return fmt.Errorf("invalid label type %q", labelType)
	}
}

// isUniqueConstraint reports whether err is a SQLite uniqueness violation.
// Writers racing on hash-keyed inserts surface as this and are treated as
// "the competing writer won".
func isUniqueConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

type scanner interface {
	Scan(dest ...any) error
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullText(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullUnix(ts int64) sql.NullInt64 {
	if ts == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: ts, Valid: true}
}

func textOrEmpty(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

func unixOrZero(ni sql.NullInt64) int64 {
	if !ni.Valid {
		return 0
	}
	return ni.Int64
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
