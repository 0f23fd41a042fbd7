package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Conversations are not stored as rows of their own: they are the transitive
// closure of parent-of-reply links, identified by a UUID shared among the
// member messages. Two independently-seen messages may start out under
// different conversation IDs; when a parent link between their lineages
// becomes known, the child's conversation is absorbed into the parent's.
// Conversations only ever merge, never split, so replaying a backlog in any
// order converges on the same partition.

// updateParents rewrites the parent links of a message and merges
// conversations where a declared parent is already stored. Linkage is only
// recorded once both the message's own inventory vector and its parent list
// are known; a draft that later acquires an IV gets its links on that save.
func (s *Store) updateParents(tx *sql.Tx, message *Message) error {
	if len(message.IV) == 0 || len(message.Parents) == 0 {
		return nil
	}

	if _, err := tx.Exec(
		`DELETE FROM message_parent WHERE child = ?`,
		message.IV,
	); err != nil {
		return fmt.Errorf("clear parents of message %x: %w", message.IV, err)
	}

	for position, parent := range message.Parents {
		var stored []byte
		err := tx.QueryRow(
			`SELECT conversation FROM message WHERE iv = ?`,
			parent,
		).Scan(&stored)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Parent not (yet) known locally; record the link anyway.
		case err != nil:
			return fmt.Errorf("look up parent %x: %w", parent, err)
		case stored != nil:
			target, err := UUIDFromBytes(stored)
			if err != nil {
				return fmt.Errorf("parent %x conversation: %w", parent, err)
			}
			if target != message.Conversation {
				if err := mergeConversations(tx, message.Conversation, target); err != nil {
					return err
				}
				message.Conversation = target
			}
		}

		if _, err := tx.Exec(
			`INSERT INTO message_parent (parent, child, pos, conversation)
			VALUES (?, ?, ?, ?)`,
			parent,
			message.IV,
			position,
			UUIDToBytes(message.Conversation),
		); err != nil {
			return fmt.Errorf("insert parent link %x -> %x: %w", parent, message.IV, err)
		}
	}

	return nil
}

// mergeConversations rewrites every message and parent-link row carrying the
// source conversation to the target. It runs inside the caller's save
// transaction so a crash mid-merge can never leave a half-merged state
// visible.
func mergeConversations(tx *sql.Tx, source, target uuid.UUID) error {
	sourceBytes := UUIDToBytes(source)
	targetBytes := UUIDToBytes(target)

	if _, err := tx.Exec(
		`UPDATE message SET conversation = ? WHERE conversation = ?`,
		targetBytes, sourceBytes,
	); err != nil {
		return fmt.Errorf("merge conversation %s into %s: %w", source, target, err)
	}
	if _, err := tx.Exec(
		`UPDATE message_parent SET conversation = ? WHERE conversation = ?`,
		targetBytes, sourceBytes,
	); err != nil {
		return fmt.Errorf("merge conversation links %s into %s: %w", source, target, err)
	}

	return nil
}

// FindConversations returns the distinct conversation IDs present in a label
// bucket.
func (s *Store) FindConversations(filter LabelFilter) ([]uuid.UUID, error) {
	clause, args := filter.where()

	rows, err := s.db.Query(
		`SELECT DISTINCT conversation FROM message
		WHERE conversation IS NOT NULL AND `+clause,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("find conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]uuid.UUID, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		conversation, err := UUIDFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("decode conversation id: %w", err)
		}
		conversations = append(conversations, conversation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}

	return conversations, nil
}

// FindConversation returns all messages of one conversation in chronological
// order, oldest first.
func (s *Store) FindConversation(conversation uuid.UUID) ([]*Message, error) {
	if conversation == uuid.Nil {
		return nil, errors.New("conversation id is required")
	}

	return s.findMessages(
		"conversation = ?",
		[]any{UUIDToBytes(conversation)},
		"COALESCE(received, sent), id",
		0, 0,
	)
}
