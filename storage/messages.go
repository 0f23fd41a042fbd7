package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"abit/bmaddr"
)

const messageColumns = `id, iv, type, sender, recipient, data, ack_data,
	sent, received, status, ttl, retries, next_try, initial_hash, conversation`

// SaveMessage persists a message together with its parent linkage and label
// set. The sender and recipient are upserted as contacts first (their own
// statements); the message row, parent links, conversation merge and label
// replacement then commit as one transaction. A duplicate inventory vector
// fails with ErrAlreadyStored.
func (s *Store) SaveMessage(message *Message) error {
	if message == nil {
		return errors.New("message is required")
	}
	if message.From == nil || message.From.Address == "" {
		return errors.New("message sender is required")
	}
	if len(message.Data) == 0 {
		return errors.New("message data is required")
	}
	if err := validateMessageType(message.Type); err != nil {
		return err
	}
	if err := validateMessageStatus(message.Status); err != nil {
		return err
	}
	if message.Conversation == uuid.Nil {
		message.Conversation = uuid.New()
	}

	// Contact rows live in their own transactions; a crash between here and
	// the message commit leaves a message whose sender must be re-parsed
	// from the raw string, which the read path tolerates.
	if err := s.saveContactIfMissing(message.From); err != nil {
		return err
	}
	if err := s.saveContactIfMissing(message.To); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin message transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if message.ID == 0 {
		if err := insertMessage(tx, message); err != nil {
			return err
		}
	} else {
		if err := updateMessage(tx, message); err != nil {
			return err
		}
	}

	if err := s.updateParents(tx, message); err != nil {
		return err
	}
	if err := replaceLabels(tx, message); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message transaction: %w", err)
	}

	return nil
}

func insertMessage(tx *sql.Tx, message *Message) error {
	recipient := sql.NullString{}
	if message.To != nil {
		recipient = nullText(message.To.Address)
	}

	res, err := tx.Exec(
		`INSERT INTO message (iv, type, sender, recipient, data, ack_data,
			sent, received, status, ttl, retries, next_try, initial_hash, conversation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullBytes(message.IV),
		message.Type,
		message.From.Address,
		recipient,
		message.Data,
		nullBytes(message.AckData),
		nullUnix(message.Sent),
		nullUnix(message.Received),
		message.Status,
		message.TTL,
		message.Retries,
		nullUnix(message.NextTry),
		nullBytes(message.InitialHash),
		UUIDToBytes(message.Conversation),
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return fmt.Errorf("insert message with iv %x: %w", message.IV, ErrAlreadyStored)
		}
		return fmt.Errorf("insert message: %w", err)
	}

	message.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read id of inserted message: %w", err)
	}

	return nil
}

func updateMessage(tx *sql.Tx, message *Message) error {
	recipient := sql.NullString{}
	if message.To != nil {
		recipient = nullText(message.To.Address)
	}

	res, err := tx.Exec(
		`UPDATE message
		SET iv = ?, type = ?, sender = ?, recipient = ?, data = ?, ack_data = ?,
			sent = ?, received = ?, status = ?, ttl = ?, retries = ?,
			next_try = ?, initial_hash = ?, conversation = ?
		WHERE id = ?`,
		nullBytes(message.IV),
		message.Type,
		message.From.Address,
		recipient,
		message.Data,
		nullBytes(message.AckData),
		nullUnix(message.Sent),
		nullUnix(message.Received),
		message.Status,
		message.TTL,
		message.Retries,
		nullUnix(message.NextTry),
		nullBytes(message.InitialHash),
		UUIDToBytes(message.Conversation),
		message.ID,
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return fmt.Errorf("update message with iv %x: %w", message.IV, ErrAlreadyStored)
		}
		return fmt.Errorf("update message %d: %w", message.ID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for message update %d: %w", message.ID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *Store) saveContactIfMissing(address *Address) error {
	if address == nil || address.Address == "" {
		return nil
	}
	_, err := s.GetAddress(address.Address)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.SaveAddress(address)
}

func replaceLabels(tx *sql.Tx, message *Message) error {
	if _, err := tx.Exec(
		`DELETE FROM message_label WHERE message_id = ?`,
		message.ID,
	); err != nil {
		return fmt.Errorf("clear labels of message %d: %w", message.ID, err)
	}

	for _, label := range message.Labels {
		if label.ID == 0 {
			return fmt.Errorf("label %q has no id; save it first", label.Text)
		}
		if _, err := tx.Exec(
			`INSERT INTO message_label (message_id, label_id) VALUES (?, ?)`,
			message.ID,
			label.ID,
		); err != nil {
			return fmt.Errorf("attach label %d to message %d: %w", label.ID, message.ID, err)
		}
	}

	return nil
}

// FindMessages returns the messages in a label bucket, newest first
// (received time, then sent time, so unreceived outbound messages still sort
// sensibly). A limit of 0 means unlimited.
func (s *Store) FindMessages(filter LabelFilter, offset, limit int) ([]*Message, error) {
	clause, args := filter.where()
	return s.findMessages(clause, args, "", offset, limit)
}

// GetMessage fetches one message by its row id.
func (s *Store) GetMessage(id int64) (*Message, error) {
	messages, err := s.findMessages("id = ?", []any{id}, "", 0, 1)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, ErrNotFound
	}
	return messages[0], nil
}

// FindMessage fetches one message by its inventory vector.
func (s *Store) FindMessage(iv []byte) (*Message, error) {
	if len(iv) == 0 {
		return nil, errors.New("inventory vector is required")
	}
	messages, err := s.findMessages("iv = ?", []any{iv}, "", 0, 1)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, ErrNotFound
	}
	return messages[0], nil
}

// CountUnread returns how many messages in a label bucket also carry the
// unread label. The archive bucket has no labels at all, so its count is
// always zero.
func (s *Store) CountUnread(filter LabelFilter) (int, error) {
	if filter.IsArchive() {
		return 0, nil
	}

	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM message_label
		WHERE label_id = ?
		AND message_id IN (
			SELECT message_id FROM message_label
			WHERE label_id IN (SELECT id FROM label WHERE type = ?)
		)`,
		filter.labelID,
		LabelTypeUnread,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}

	return count, nil
}

// RemoveMessage permanently deletes a message; its label associations go
// with it.
func (s *Store) RemoveMessage(message *Message) error {
	if message == nil || message.ID == 0 {
		return errors.New("message id is required")
	}

	res, err := s.db.Exec(`DELETE FROM message WHERE id = ?`, message.ID)
	if err != nil {
		return fmt.Errorf("remove message %d: %w", message.ID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for remove message %d: %w", message.ID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *Store) findMessages(clause string, args []any, order string, offset, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	if order == "" {
		order = "received DESC, sent DESC"
	}

	query := `SELECT ` + messageColumns + ` FROM message`
	if clause != "" {
		query += ` WHERE ` + clause
	}
	query += ` ORDER BY ` + order + ` LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}

	type rawMessage struct {
		message   *Message
		sender    string
		recipient string
	}
	raw := make([]rawMessage, 0)
	for rows.Next() {
		message, sender, recipient, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		raw = append(raw, rawMessage{message, sender, recipient})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	rows.Close()

	// Addresses, labels and parent links load after the row cursor closes.
	messages := make([]*Message, 0, len(raw))
	for _, r := range raw {
		if r.message.From, err = s.resolveAddress(r.sender); err != nil {
			return nil, err
		}
		if r.recipient != "" {
			if r.message.To, err = s.resolveAddress(r.recipient); err != nil {
				return nil, err
			}
		}
		if r.message.Labels, err = s.loadMessageLabels(r.message.ID); err != nil {
			return nil, err
		}
		if len(r.message.IV) > 0 {
			if r.message.Parents, err = s.loadMessageParents(r.message.IV); err != nil {
				return nil, err
			}
		}
		messages = append(messages, r.message)
	}

	return messages, nil
}

// resolveAddress prefers the stored contact row and falls back to re-parsing
// the raw address string when no row exists (the contact upsert and the
// message save are separate transactions, so the gap is expected).
func (s *Store) resolveAddress(address string) (*Address, error) {
	stored, err := s.GetAddress(address)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	transient := &Address{Address: address}
	if decoded, err := bmaddr.Decode(address); err == nil {
		transient.Version = decoded.Version
		transient.Stream = decoded.Stream
	}
	return transient, nil
}

func (s *Store) loadMessageLabels(messageID int64) ([]Label, error) {
	rows, err := s.db.Query(
		`SELECT l.id, l.label, l.type, l.color, l.ord
		FROM label l
		JOIN message_label ml ON ml.label_id = l.id
		WHERE ml.message_id = ?
		ORDER BY l.ord`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("load labels of message %d: %w", messageID, err)
	}
	defer rows.Close()

	labels := make([]Label, 0)
	for rows.Next() {
		label, err := scanLabel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message label row: %w", err)
		}
		labels = append(labels, *label)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message label rows: %w", err)
	}

	return labels, nil
}

func (s *Store) loadMessageParents(iv []byte) ([][]byte, error) {
	rows, err := s.db.Query(
		`SELECT parent FROM message_parent WHERE child = ? ORDER BY pos`,
		iv,
	)
	if err != nil {
		return nil, fmt.Errorf("load parents of message %x: %w", iv, err)
	}
	defer rows.Close()

	parents := make([][]byte, 0)
	for rows.Next() {
		var parent []byte
		if err := rows.Scan(&parent); err != nil {
			return nil, fmt.Errorf("scan message parent row: %w", err)
		}
		parents = append(parents, parent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message parent rows: %w", err)
	}

	return parents, nil
}

func scanMessage(row scanner) (message *Message, sender, recipient string, err error) {
	var (
		m            Message
		recipientCol sql.NullString
		sent         sql.NullInt64
		received     sql.NullInt64
		nextTry      sql.NullInt64
		conversation []byte
	)
	if err := row.Scan(
		&m.ID,
		&m.IV,
		&m.Type,
		&sender,
		&recipientCol,
		&m.Data,
		&m.AckData,
		&sent,
		&received,
		&m.Status,
		&m.TTL,
		&m.Retries,
		&nextTry,
		&m.InitialHash,
		&conversation,
	); err != nil {
		return nil, "", "", err
	}

	m.Sent = unixOrZero(sent)
	m.Received = unixOrZero(received)
	m.NextTry = unixOrZero(nextTry)
	if conversation != nil {
		if m.Conversation, err = UUIDFromBytes(conversation); err != nil {
			return nil, "", "", err
		}
	}

	return &m, sender, textOrEmpty(recipientCol), nil
}
