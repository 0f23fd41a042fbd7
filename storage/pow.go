package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// PutPowItem stores a pending proof-of-work computation keyed by its initial
// hash. Duplicate keys are silently ignored.
func (s *Store) PutPowItem(item *PowItem) error {
	if item == nil || len(item.InitialHash) == 0 {
		return errors.New("initial hash is required")
	}
	if len(item.Data) == 0 {
		return errors.New("item data is required")
	}

	var messageID sql.NullInt64
	if item.MessageID != nil {
		messageID = sql.NullInt64{Int64: *item.MessageID, Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT INTO pow (initial_hash, data, version, nonce_trials_per_byte,
			extra_bytes, expiration_time, message_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.InitialHash,
		item.Data,
		item.Version,
		item.NonceTrialsPerByte,
		item.ExtraBytes,
		nullUnix(item.ExpirationTime),
		messageID,
	)
	if err != nil && !isUniqueConstraint(err) {
		return fmt.Errorf("insert pow item %x: %w", item.InitialHash, err)
	}

	return nil
}

// GetPowItem fetches one pending computation by its initial hash. When the
// item is linked to an outbound message, the message is resolved too; a
// linked message that has since been deleted leaves the field nil.
func (s *Store) GetPowItem(initialHash []byte) (*PowItem, error) {
	if len(initialHash) == 0 {
		return nil, errors.New("initial hash is required")
	}

	row := s.db.QueryRow(
		`SELECT initial_hash, data, version, nonce_trials_per_byte,
			extra_bytes, expiration_time, message_id
		FROM pow
		WHERE initial_hash = ?`,
		initialHash,
	)

	var (
		item           PowItem
		expirationTime sql.NullInt64
		messageID      sql.NullInt64
	)
	if err := row.Scan(
		&item.InitialHash,
		&item.Data,
		&item.Version,
		&item.NonceTrialsPerByte,
		&item.ExtraBytes,
		&expirationTime,
		&messageID,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get pow item %x: %w", initialHash, err)
	}

	item.ExpirationTime = unixOrZero(expirationTime)
	if messageID.Valid {
		id := messageID.Int64
		item.MessageID = &id

		message, err := s.GetMessage(id)
		switch {
		case err == nil:
			item.Message = message
		case errors.Is(err, ErrNotFound):
			s.log.WithField("message_id", id).Warn("pow item references a deleted message")
		default:
			return nil, err
		}
	}

	return &item, nil
}

// GetPowItems lists the initial hashes of all pending computations, used to
// poll a delegated prover for completed work.
func (s *Store) GetPowItems() ([][]byte, error) {
	rows, err := s.db.Query(`SELECT initial_hash FROM pow`)
	if err != nil {
		return nil, fmt.Errorf("list pow items: %w", err)
	}
	defer rows.Close()

	hashes := make([][]byte, 0)
	for rows.Next() {
		var hash []byte
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("scan pow item row: %w", err)
		}
		hashes = append(hashes, hash)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pow item rows: %w", err)
	}

	return hashes, nil
}

// RemovePowItem deletes one pending computation; removing an absent item is
// a no-op.
func (s *Store) RemovePowItem(initialHash []byte) error {
	if len(initialHash) == 0 {
		return errors.New("initial hash is required")
	}

	if _, err := s.db.Exec(
		`DELETE FROM pow WHERE initial_hash = ?`,
		initialHash,
	); err != nil {
		return fmt.Errorf("remove pow item %x: %w", initialHash, err)
	}

	return nil
}
