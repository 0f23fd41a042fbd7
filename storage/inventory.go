package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// The inventory mirrors every known object hash into a per-stream in-memory
// map (hash -> expiry) so the synchronization hot path — deciding which
// offered hashes are missing — never touches SQLite. Maps are populated from
// the table on first access per stream and updated alongside every write.

// StoreObject persists a protocol object. Storing an object whose hash is
// already known in its stream is a no-op, including when a concurrent writer
// wins the insert race.
func (s *Store) StoreObject(object *Object) error {
	if object == nil {
		return errors.New("object is required")
	}
	if len(object.Hash) == 0 {
		return errors.New("object hash is required")
	}

	cache, err := s.streamCache(object.Stream)
	if err != nil {
		return err
	}
	key := string(object.Hash)
	if _, known := cache.Load(key); known {
		return nil
	}

	_, err = s.db.Exec(
		`INSERT INTO inventory (hash, stream, expires, data, type, version)
		VALUES (?, ?, ?, ?, ?, ?)`,
		object.Hash,
		object.Stream,
		object.Expires,
		object.Data,
		object.Type,
		object.Version,
	)
	if err != nil && !isUniqueConstraint(err) {
		return fmt.Errorf("insert inventory object %x: %w", object.Hash, err)
	}

	cache.Store(key, object.Expires)
	s.objCache.Add(key, object)
	return nil
}

// Contains reports whether the object's hash is already known in its stream.
func (s *Store) Contains(object *Object) (bool, error) {
	if object == nil || len(object.Hash) == 0 {
		return false, errors.New("object hash is required")
	}

	cache, err := s.streamCache(object.Stream)
	if err != nil {
		return false, err
	}
	_, known := cache.Load(string(object.Hash))
	return known, nil
}

// GetInventory returns the hashes of all non-expired objects visible in any
// of the given streams.
func (s *Store) GetInventory(streams ...uint64) ([][]byte, error) {
	if len(streams) == 0 {
		return nil, errors.New("at least one stream is required")
	}

	now := s.clk.Now().Unix()
	hashes := make([][]byte, 0)
	for _, stream := range streams {
		cache, err := s.streamCache(stream)
		if err != nil {
			return nil, err
		}
		cache.Range(func(key, value any) bool {
			if value.(int64) > now {
				hashes = append(hashes, []byte(key.(string)))
			}
			return true
		})
	}

	return hashes, nil
}

// GetMissing returns the subset of offered hashes not yet known in any of the
// given streams, preserving offer order. It is used to tell a peer which
// objects to send.
func (s *Store) GetMissing(offered [][]byte, streams ...uint64) ([][]byte, error) {
	if len(streams) == 0 {
		return nil, errors.New("at least one stream is required")
	}

	caches := make([]*sync.Map, 0, len(streams))
	for _, stream := range streams {
		cache, err := s.streamCache(stream)
		if err != nil {
			return nil, err
		}
		caches = append(caches, cache)
	}

	missing := make([][]byte, 0, len(offered))
offers:
	for _, hash := range offered {
		key := string(hash)
		for _, cache := range caches {
			if _, known := cache.Load(key); known {
				continue offers
			}
		}
		missing = append(missing, hash)
	}

	return missing, nil
}

// GetObject fetches one object by its inventory vector.
func (s *Store) GetObject(hash []byte) (*Object, error) {
	if len(hash) == 0 {
		return nil, errors.New("object hash is required")
	}

	key := string(hash)
	if object, ok := s.objCache.Get(key); ok {
		return object, nil
	}

	row := s.db.QueryRow(
		`SELECT hash, stream, expires, data, type, version
		FROM inventory
		WHERE hash = ?`,
		hash,
	)

	object, err := scanObject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get inventory object %x: %w", hash, err)
	}

	s.objCache.Add(key, object)
	return object, nil
}

// GetObjects returns all stored objects in a stream matching version and, if
// any are given, one of the object types.
func (s *Store) GetObjects(stream, version uint64, types ...uint64) ([]*Object, error) {
	query := `SELECT hash, stream, expires, data, type, version
		FROM inventory
		WHERE stream = ? AND version = ?`
	args := []any{stream, version}

	if len(types) > 0 {
		query += " AND type IN (" + placeholders(len(types)) + ")"
		for _, objectType := range types {
			args = append(args, objectType)
		}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get inventory objects for stream %d: %w", stream, err)
	}
	defer rows.Close()

	objects := make([]*Object, 0)
	for rows.Next() {
		object, err := scanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory row: %w", err)
		}
		objects = append(objects, object)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory rows: %w", err)
	}

	return objects, nil
}

// CleanupInventory deletes all objects whose expiry lies further in the past
// than the grace window, from the table and both in-memory caches.
func (s *Store) CleanupInventory() (int64, error) {
	cutoff := s.clk.Now().Add(-s.inventoryGrace).Unix()

	rows, err := s.db.Query(
		`SELECT hash, stream FROM inventory WHERE expires < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("select expired inventory objects: %w", err)
	}

	type expired struct {
		hash   []byte
		stream uint64
	}
	doomed := make([]expired, 0)
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.hash, &e.stream); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan expired inventory row: %w", err)
		}
		doomed = append(doomed, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate expired inventory rows: %w", err)
	}
	rows.Close()

	if len(doomed) == 0 {
		return 0, nil
	}

	res, err := s.db.Exec(`DELETE FROM inventory WHERE expires < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired inventory objects: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for inventory cleanup: %w", err)
	}

	for _, e := range doomed {
		key := string(e.hash)
		if cache := s.populatedStreamCache(e.stream); cache != nil {
			cache.Delete(key)
		}
		s.objCache.Remove(key)
	}

	s.log.WithField("objects", removed).Debug("inventory cleanup")
	return removed, nil
}

// streamCache returns the hash->expiry map for a stream, populating it from
// the table on first access. The coarse lock keeps two callers from
// bootstrapping the same stream twice.
func (s *Store) streamCache(stream uint64) (*sync.Map, error) {
	s.invMu.Lock()
	defer s.invMu.Unlock()

	if cache, ok := s.invStreams[stream]; ok {
		return cache, nil
	}

	cache := &sync.Map{}
	rows, err := s.db.Query(
		`SELECT hash, expires FROM inventory WHERE stream = ?`,
		stream,
	)
	if err != nil {
		return nil, fmt.Errorf("populate inventory cache for stream %d: %w", stream, err)
	}
	defer rows.Close()

	entries := 0
	for rows.Next() {
		var (
			hash    []byte
			expires int64
		)
		if err := rows.Scan(&hash, &expires); err != nil {
			return nil, fmt.Errorf("scan inventory cache row: %w", err)
		}
		cache.Store(string(hash), expires)
		entries++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory cache rows: %w", err)
	}

	s.invStreams[stream] = cache
	s.log.WithFields(logrus.Fields{
		"stream":  stream,
		"entries": entries,
	}).Debug("populated inventory cache")

	return cache, nil
}

// populatedStreamCache returns the stream map only if it was already
// populated; cleanup must not bootstrap caches for streams nobody reads.
func (s *Store) populatedStreamCache(stream uint64) *sync.Map {
	s.invMu.Lock()
	defer s.invMu.Unlock()
	return s.invStreams[stream]
}

func scanObject(row scanner) (*Object, error) {
	var object Object
	if err := row.Scan(
		&object.Hash,
		&object.Stream,
		&object.Expires,
		&object.Data,
		&object.Type,
		&object.Version,
	); err != nil {
		return nil, err
	}
	return &object, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := make([]byte, 0, 2*n-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
