package metastore

import (
	"database/sql"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxerr"
	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxmodel"
)

func (s *Store) CreateChunk(c cyxmodel.ChunkRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO chunks (id, file_id, idx, size, current_replicas, replication_factor)
		VALUES (?,?,?,?,?,?)`,
		c.ID, c.FileID, c.Index, c.Size, c.CurrentReplicas, c.ReplicationFactor,
	)
	if err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "create chunk record", err)
	}
	return nil
}

const chunkSelect = `SELECT id, file_id, idx, size, current_replicas, replication_factor FROM chunks`

func (s *Store) GetChunkByID(id string) (cyxmodel.ChunkRecord, bool, error) {
	var c cyxmodel.ChunkRecord
	err := s.db.QueryRow(chunkSelect+` WHERE id = ?`, id).
		Scan(&c.ID, &c.FileID, &c.Index, &c.Size, &c.CurrentReplicas, &c.ReplicationFactor)
	if err == sql.ErrNoRows {
		return cyxmodel.ChunkRecord{}, false, nil
	}
	if err != nil {
		return cyxmodel.ChunkRecord{}, false, cyxerr.Wrap(cyxerr.KindInternal, "scan chunk record", err)
	}
	return c, true, nil
}

func (s *Store) ListChunksByFile(fileID string) ([]cyxmodel.ChunkRecord, error) {
	rows, err := s.db.Query(chunkSelect+` WHERE file_id = ? ORDER BY idx ASC`, fileID)
	if err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindInternal, "list chunks by file", err)
	}
	defer rows.Close()

	var out []cyxmodel.ChunkRecord
	for rows.Next() {
		var c cyxmodel.ChunkRecord
		if err := rows.Scan(&c.ID, &c.FileID, &c.Index, &c.Size, &c.CurrentReplicas, &c.ReplicationFactor); err != nil {
			return nil, cyxerr.Wrap(cyxerr.KindInternal, "scan chunk row", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateChunkReplicaCount(id string, count int) error {
	if _, err := s.db.Exec(`UPDATE chunks SET current_replicas = ? WHERE id = ?`, count, id); err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "update chunk replica count", err)
	}
	return nil
}

// GetUnderReplicated returns up to limit chunks whose current_replicas is
// below their replication_factor, per spec.md §4.4 and used directly by C8.
func (s *Store) GetUnderReplicated(limit int) ([]cyxmodel.ChunkRecord, error) {
	rows, err := s.db.Query(chunkSelect+` WHERE current_replicas < replication_factor
		ORDER BY (replication_factor - current_replicas) DESC LIMIT ?`, limit)
	if err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindInternal, "query under-replicated chunks", err)
	}
	defer rows.Close()

	var out []cyxmodel.ChunkRecord
	for rows.Next() {
		var c cyxmodel.ChunkRecord
		if err := rows.Scan(&c.ID, &c.FileID, &c.Index, &c.Size, &c.CurrentReplicas, &c.ReplicationFactor); err != nil {
			return nil, cyxerr.Wrap(cyxerr.KindInternal, "scan under-replicated chunk row", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
