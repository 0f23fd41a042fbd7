package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
)

// bootstrapNodes seeds the node registry when the table holds nothing for a
// requested stream. Only stream 1 is populated in practice.
var bootstrapNodes = map[uint64][]Node{
	1: {
		bootstrapNode(1, "5.45.99.75", 8444),
		bootstrapNode(1, "75.167.159.54", 8444),
		bootstrapNode(1, "95.165.168.168", 8444),
		bootstrapNode(1, "85.180.139.241", 8444),
		bootstrapNode(1, "158.222.217.190", 8080),
		bootstrapNode(1, "178.62.12.187", 8448),
		bootstrapNode(1, "24.188.198.204", 8111),
		bootstrapNode(1, "109.147.204.113", 1195),
		bootstrapNode(1, "178.11.46.221", 8444),
	},
}

func bootstrapNode(stream uint64, host string, port uint16) Node {
	ip := net.ParseIP(host)
	return Node{
		Stream:   stream,
		Address:  ip.To16(),
		Port:     port,
		Services: 1, // NODE_NETWORK
	}
}

// GetKnownNodes returns up to limit known nodes in the given streams, most
// recently seen first. When the table holds nothing for the requested
// streams, one bootstrap node per stream is drawn at random instead.
// A limit of 0 means unlimited.
func (s *Store) GetKnownNodes(limit int, streams ...uint64) ([]Node, error) {
	if len(streams) == 0 {
		return nil, errors.New("at least one stream is required")
	}
	if limit <= 0 {
		limit = -1
	}

	query := `SELECT stream, address, port, services, time
		FROM node
		WHERE stream IN (` + placeholders(len(streams)) + `)
		ORDER BY time DESC
		LIMIT ?`
	args := make([]any, 0, len(streams)+1)
	for _, stream := range streams {
		args = append(args, stream)
	}
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get known nodes: %w", err)
	}
	defer rows.Close()

	nodes := make([]Node, 0)
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node row: %w", err)
		}
		nodes = append(nodes, *node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node rows: %w", err)
	}

	if len(nodes) == 0 {
		now := s.clk.Now().Unix()
		for _, stream := range streams {
			candidates := bootstrapNodes[stream]
			if len(candidates) == 0 {
				continue
			}
			node := candidates[rand.IntN(len(candidates))]
			node.Time = now
			nodes = append(nodes, node)
		}
		s.log.WithField("nodes", len(nodes)).Debug("node table empty, using bootstrap list")
	}

	return nodes, nil
}

// OfferNodes merges a batch of gossiped nodes into the registry in a single
// transaction, preceded by an opportunistic cleanup pass. Nodes older than
// the retention age are dropped; nodes timestamped implausibly far in the
// future are clamped back to the retention boundary so they sort behind every
// legitimately recent node instead of on top.
func (s *Store) OfferNodes(nodes []Node) error {
	if _, err := s.CleanupNodes(); err != nil {
		return err
	}

	now := s.clk.Now().Unix()
	future := now + int64(nodeFutureSkew.Seconds())
	oldest := now - int64(s.nodeMaxAge.Seconds())

	keep := make([]Node, 0, len(nodes))
	for _, node := range nodes {
		if err := validateNode(&node); err != nil {
			return err
		}
		if node.Time > future {
			node.Time = oldest
		}
		if node.Time < oldest {
			continue
		}
		keep = append(keep, node)
	}
	if len(keep) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin node offer transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, node := range keep {
		var stored int64
		err := tx.QueryRow(
			`SELECT time FROM node WHERE stream = ? AND address = ? AND port = ?`,
			node.Stream, node.Address, node.Port,
		).Scan(&stored)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.Exec(
				`INSERT INTO node (stream, address, port, services, time)
				VALUES (?, ?, ?, ?, ?)`,
				node.Stream, node.Address, node.Port, node.Services, node.Time,
			)
			if err != nil && !isUniqueConstraint(err) {
				return fmt.Errorf("insert node: %w", err)
			}
		case err != nil:
			return fmt.Errorf("check node existence: %w", err)
		case node.Time > stored:
			// Last-seen only ever advances.
			_, err = tx.Exec(
				`UPDATE node SET services = ?, time = ?
				WHERE stream = ? AND address = ? AND port = ?`,
				node.Services, node.Time, node.Stream, node.Address, node.Port,
			)
			if err != nil {
				return fmt.Errorf("advance node time: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit node offer transaction: %w", err)
	}

	return nil
}

// UpdateNode overwrites services and last-seen time for one node.
func (s *Store) UpdateNode(node Node) error {
	if err := validateNode(&node); err != nil {
		return err
	}

	res, err := s.db.Exec(
		`UPDATE node SET services = ?, time = ?
		WHERE stream = ? AND address = ? AND port = ?`,
		node.Services, node.Time, node.Stream, node.Address, node.Port,
	)
	if err != nil {
		return fmt.Errorf("update node: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for node update: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// RemoveNode deletes one node keyed by (stream, address, port).
func (s *Store) RemoveNode(node Node) error {
	if err := validateNode(&node); err != nil {
		return err
	}

	res, err := s.db.Exec(
		`DELETE FROM node WHERE stream = ? AND address = ? AND port = ?`,
		node.Stream, node.Address, node.Port,
	)
	if err != nil {
		return fmt.Errorf("remove node: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for node removal: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// CleanupNodes deletes nodes last seen before the retention age plus a slack
// band, so entries clamped to the retention boundary are not evicted by the
// very next sweep.
func (s *Store) CleanupNodes() (int64, error) {
	cutoff := s.clk.Now().Unix() - int64((s.nodeMaxAge + nodeCleanupSlack).Seconds())

	res, err := s.db.Exec(`DELETE FROM node WHERE time < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup nodes: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for node cleanup: %w", err)
	}
	if removed > 0 {
		s.log.WithField("nodes", removed).Debug("node cleanup")
	}

	return removed, nil
}

func validateNode(node *Node) error {
	if node.Stream == 0 {
		return errors.New("node stream is required")
	}
	if len(node.Address) != net.IPv6len {
		return fmt.Errorf("node address is %d bytes, expected %d", len(node.Address), net.IPv6len)
	}
	if node.Port == 0 {
		return errors.New("node port is required")
	}
	return nil
}

func scanNode(row scanner) (*Node, error) {
	var (
		node Node
		port int64
	)
	if err := row.Scan(
		&node.Stream,
		&node.Address,
		&port,
		&node.Services,
		&node.Time,
	); err != nil {
		return nil, err
	}
	node.Port = uint16(port)
	return &node, nil
}
