package metastore

import (
	"database/sql"
	"time"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxerr"
	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxmodel"
)

// AddLocation records a chunk_id/node_id mapping and bumps the chunk's
// current_replicas inside one transaction, maintaining spec.md §4.4's
// invariant that chunk.current_replicas always equals the count of
// Stored|Verified locations (testable property #9).
func (s *Store) AddLocation(loc cyxmodel.ChunkLocation) error {
	tx, err := s.db.Begin()
	if err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "begin add-location transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO chunk_locations (chunk_id, node_id, status, last_verified, verification_failures)
		VALUES (?,?,?,?,?)
		ON CONFLICT(chunk_id, node_id) DO UPDATE SET status = excluded.status`,
		loc.ChunkID, loc.NodeID, string(loc.Status), nullableUnix(loc.LastVerified), loc.VerificationFailures,
	)
	if err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "insert chunk location", err)
	}

	if err := s.recalcReplicasLocked(tx, loc.ChunkID); err != nil {
		return err
	}

	return tx.Commit()
}

// RemoveLocation deletes a chunk_id/node_id mapping and recalculates
// current_replicas inside the same transaction.
func (s *Store) RemoveLocation(chunkID, nodeID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "begin remove-location transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chunk_locations WHERE chunk_id = ? AND node_id = ?`, chunkID, nodeID); err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "delete chunk location", err)
	}
	if err := s.recalcReplicasLocked(tx, chunkID); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateLocationStatus updates one location's status and recalculates
// current_replicas in the same transaction.
func (s *Store) UpdateLocationStatus(chunkID, nodeID string, status cyxmodel.LocationStatus) error {
	tx, err := s.db.Begin()
	if err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "begin update-location-status transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE chunk_locations SET status = ? WHERE chunk_id = ? AND node_id = ?`,
		string(status), chunkID, nodeID); err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "update chunk location status", err)
	}
	if err := s.recalcReplicasLocked(tx, chunkID); err != nil {
		return err
	}
	return tx.Commit()
}

// IncrementVerificationFailures bumps a location's failure counter — used
// on the C6 read path when a retrieved shard fails its hash check.
func (s *Store) IncrementVerificationFailures(chunkID, nodeID string) error {
	_, err := s.db.Exec(`UPDATE chunk_locations SET verification_failures = verification_failures + 1
		WHERE chunk_id = ? AND node_id = ?`, chunkID, nodeID)
	if err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "increment verification failures", err)
	}
	return nil
}

func (s *Store) recalcReplicasLocked(tx *sql.Tx, chunkID string) error {
	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM chunk_locations
		WHERE chunk_id = ? AND status IN ('stored','verified')`, chunkID).Scan(&count); err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "count chunk replicas", err)
	}
	if _, err := tx.Exec(`UPDATE chunks SET current_replicas = ? WHERE id = ?`, count, chunkID); err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "update chunk replica count", err)
	}
	return nil
}

func (s *Store) ListLocationsByChunk(chunkID string) ([]cyxmodel.ChunkLocation, error) {
	return s.queryLocations(`SELECT chunk_id, node_id, status, last_verified, verification_failures
		FROM chunk_locations WHERE chunk_id = ?`, chunkID)
}

func (s *Store) ListLocationsByNode(nodeID string) ([]cyxmodel.ChunkLocation, error) {
	return s.queryLocations(`SELECT chunk_id, node_id, status, last_verified, verification_failures
		FROM chunk_locations WHERE node_id = ?`, nodeID)
}

func (s *Store) queryLocations(query string, args ...any) ([]cyxmodel.ChunkLocation, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindInternal, "query chunk locations", err)
	}
	defer rows.Close()

	var out []cyxmodel.ChunkLocation
	for rows.Next() {
		var l cyxmodel.ChunkLocation
		var status string
		var lastVerified sql.NullInt64
		if err := rows.Scan(&l.ChunkID, &l.NodeID, &status, &lastVerified, &l.VerificationFailures); err != nil {
			return nil, cyxerr.Wrap(cyxerr.KindInternal, "scan chunk location row", err)
		}
		l.Status = cyxmodel.LocationStatus(status)
		if lastVerified.Valid {
			t := time.Unix(lastVerified.Int64, 0)
			l.LastVerified = &t
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
