package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetLabels returns labels ordered by their explicit rank, optionally
// narrowed to the given system types.
func (s *Store) GetLabels(types ...string) ([]Label, error) {
	query := `SELECT id, label, type, color, ord FROM label`
	args := make([]any, 0, len(types))

	if len(types) > 0 {
		for _, labelType := range types {
			if err := validateLabelType(labelType); err != nil {
				return nil, err
			}
			args = append(args, labelType)
		}
		query += ` WHERE type IN (` + placeholders(len(types)) + `)`
	}
	query += ` ORDER BY ord`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()

	labels := make([]Label, 0)
	for rows.Next() {
		label, err := scanLabel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan label row: %w", err)
		}
		labels = append(labels, *label)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate label rows: %w", err)
	}

	return labels, nil
}

// GetLabel fetches the singleton label of a system type.
func (s *Store) GetLabel(labelType string) (*Label, error) {
	if labelType == "" {
		return nil, errors.New("label type is required")
	}
	if err := validateLabelType(labelType); err != nil {
		return nil, err
	}

	row := s.db.QueryRow(
		`SELECT id, label, type, color, ord FROM label WHERE type = ?`,
		labelType,
	)

	label, err := scanLabel(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get label of type %q: %w", labelType, err)
	}

	return label, nil
}

// SaveLabel inserts or updates a label. A label without an id is first
// matched against existing rows by display text, so repeated initialization
// cannot duplicate system labels.
func (s *Store) SaveLabel(label *Label) error {
	if label == nil || label.Text == "" {
		return errors.New("label text is required")
	}
	if err := validateLabelType(label.Type); err != nil {
		return err
	}

	if label.ID == 0 {
		var existing int64
		err := s.db.QueryRow(
			`SELECT id FROM label WHERE label = ?`,
			label.Text,
		).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := s.db.Exec(
				`INSERT INTO label (label, type, color, ord) VALUES (?, ?, ?, ?)`,
				label.Text,
				nullText(label.Type),
				label.Color,
				label.Ord,
			)
			if err != nil {
				return fmt.Errorf("insert label %q: %w", label.Text, err)
			}
			label.ID, err = res.LastInsertId()
			if err != nil {
				return fmt.Errorf("read id of inserted label %q: %w", label.Text, err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("check label %q: %w", label.Text, err)
		default:
			label.ID = existing
		}
	}

	_, err := s.db.Exec(
		`UPDATE label SET label = ?, type = ?, color = ?, ord = ? WHERE id = ?`,
		label.Text,
		nullText(label.Type),
		label.Color,
		label.Ord,
		label.ID,
	)
	if err != nil {
		return fmt.Errorf("update label %q: %w", label.Text, err)
	}

	return nil
}

func scanLabel(row scanner) (*Label, error) {
	var (
		label     Label
		labelType sql.NullString
	)
	if err := row.Scan(
		&label.ID,
		&label.Text,
		&labelType,
		&label.Color,
		&label.Ord,
	); err != nil {
		return nil, err
	}
	label.Type = textOrEmpty(labelType)
	return &label, nil
}
