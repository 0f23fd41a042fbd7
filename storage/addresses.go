package storage

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"

	"abit/bmaddr"
)

// SaveAddress upserts an address keyed by its canonical string encoding. The
// protocol version and stream are derived from the string; on update only
// alias, keys and the subscription flag change.
func (s *Store) SaveAddress(address *Address) error {
	if address == nil || address.Address == "" {
		return errors.New("address is required")
	}

	decoded, err := bmaddr.Decode(address.Address)
	if err != nil {
		return fmt.Errorf("decode address %q: %w", address.Address, err)
	}
	address.Version = decoded.Version
	address.Stream = decoded.Stream

	var exists int
	if err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM addresses WHERE address = ?)`,
		address.Address,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check address %q: %w", address.Address, err)
	}

	if exists == 1 {
		_, err = s.db.Exec(
			`UPDATE addresses
			SET alias = ?, public_key = ?, private_key = ?, subscribed = ?
			WHERE address = ?`,
			nullText(address.Alias),
			nullBytes(address.PublicKey),
			nullBytes(address.PrivateKey),
			boolToInt(address.Subscribed),
			address.Address,
		)
		if err != nil {
			return fmt.Errorf("update address %q: %w", address.Address, err)
		}
		return nil
	}

	_, err = s.db.Exec(
		`INSERT INTO addresses (address, version, alias, public_key, private_key, subscribed, chan)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		address.Address,
		address.Version,
		nullText(address.Alias),
		nullBytes(address.PublicKey),
		nullBytes(address.PrivateKey),
		boolToInt(address.Subscribed),
		boolToInt(address.Chan),
	)
	if err != nil {
		if isUniqueConstraint(err) {
			// Competing writer inserted the same contact; nothing to do.
			return nil
		}
		return fmt.Errorf("insert address %q: %w", address.Address, err)
	}

	return nil
}

// GetAddress fetches one address by its canonical string encoding.
func (s *Store) GetAddress(address string) (*Address, error) {
	if address == "" {
		return nil, errors.New("address is required")
	}

	row := s.db.QueryRow(
		`SELECT address, version, alias, public_key, private_key, subscribed, chan
		FROM addresses
		WHERE address = ?`,
		address,
	)

	result, err := scanAddress(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get address %q: %w", address, err)
	}

	return result, nil
}

// RemoveAddress deletes one address from local storage.
func (s *Store) RemoveAddress(address string) error {
	if address == "" {
		return errors.New("address is required")
	}

	res, err := s.db.Exec(`DELETE FROM addresses WHERE address = ?`, address)
	if err != nil {
		return fmt.Errorf("remove address %q: %w", address, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for remove address %q: %w", address, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// FindIdentity returns the first identity (private key held) whose ripe or
// tag matches the given key. Version 4+ addresses are identified by tag on
// the wire, earlier versions by the 20-byte ripe.
func (s *Store) FindIdentity(ripeOrTag []byte) (*Address, error) {
	return s.findByKey(ripeOrTag, true)
}

// FindContact is FindIdentity's counterpart for addresses without private
// key material.
func (s *Store) FindContact(ripeOrTag []byte) (*Address, error) {
	return s.findByKey(ripeOrTag, false)
}

func (s *Store) findByKey(ripeOrTag []byte, identity bool) (*Address, error) {
	if len(ripeOrTag) == 0 {
		return nil, errors.New("ripe or tag is required")
	}

	addresses, err := s.listAddresses("", nil)
	if err != nil {
		return nil, err
	}

	for _, address := range addresses {
		if address.IsIdentity() != identity {
			continue
		}
		decoded, err := bmaddr.Decode(address.Address)
		if err != nil {
			continue
		}
		var key []byte
		if decoded.Version > 3 {
			key = bmaddr.Tag(decoded.Version, decoded.Stream, decoded.Ripe)
		} else {
			key = decoded.Ripe
		}
		if bytes.Equal(key, ripeOrTag) {
			return address, nil
		}
	}

	return nil, ErrNotFound
}

// GetIdentities returns all addresses with private key material, excluding
// chans.
func (s *Store) GetIdentities() ([]*Address, error) {
	return s.listAddresses(`WHERE private_key IS NOT NULL AND chan = 0`, nil)
}

// GetChans returns all chan addresses.
func (s *Store) GetChans() ([]*Address, error) {
	return s.listAddresses(`WHERE chan = 1`, nil)
}

// GetSubscriptions returns all subscribed addresses.
func (s *Store) GetSubscriptions() ([]*Address, error) {
	return s.listAddresses(`WHERE subscribed = 1`, nil)
}

// GetSubscriptionsByVersion returns subscribed addresses able to read a
// broadcast of the given version: version 5 broadcasts target tag-based
// (version 4+) addresses, older broadcasts target earlier addresses.
func (s *Store) GetSubscriptionsByVersion(broadcastVersion uint64) ([]*Address, error) {
	if broadcastVersion >= 5 {
		return s.listAddresses(`WHERE subscribed = 1 AND version >= 4`, nil)
	}
	return s.listAddresses(`WHERE subscribed = 1 AND version < 4`, nil)
}

// GetContacts returns all addresses without private key material, ordered
// for compose/autocomplete surfaces: subscribed first, then aliased
// addresses alphabetically by alias, then the rest alphabetically by address.
func (s *Store) GetContacts() ([]*Address, error) {
	return s.listAddresses(
		`WHERE private_key IS NULL
		ORDER BY subscribed DESC,
			CASE WHEN alias IS NULL OR alias = '' THEN 1 ELSE 0 END,
			alias COLLATE NOCASE,
			address`,
		nil,
	)
}

func (s *Store) listAddresses(clause string, args []any) ([]*Address, error) {
	query := `SELECT address, version, alias, public_key, private_key, subscribed, chan
		FROM addresses`
	if clause != "" {
		query += " " + clause
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	defer rows.Close()

	addresses := make([]*Address, 0)
	for rows.Next() {
		address, err := scanAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan address row: %w", err)
		}
		addresses = append(addresses, address)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate address rows: %w", err)
	}

	return addresses, nil
}

func scanAddress(row scanner) (*Address, error) {
	var (
		address    Address
		alias      sql.NullString
		subscribed int
		isChan     int
	)
	if err := row.Scan(
		&address.Address,
		&address.Version,
		&alias,
		&address.PublicKey,
		&address.PrivateKey,
		&subscribed,
		&isChan,
	); err != nil {
		return nil, err
	}

	address.Alias = textOrEmpty(alias)
	address.Subscribed = subscribed == 1
	address.Chan = isChan == 1
	if decoded, err := bmaddr.Decode(address.Address); err == nil {
		address.Stream = decoded.Stream
	}

	return &address, nil
}
