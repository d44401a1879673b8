package metastore

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxerr"
	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxmodel"
)

func (s *Store) CreateFile(f cyxmodel.File) error {
	metaJSON, err := json.Marshal(f.Metadata)
	if err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "marshal file metadata", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO files (id, name, path, content_hash, size_bytes, chunk_count, data_shards,
			parity_shards, chunk_size, owner_id, bucket, status, created_at, metadata)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		f.ID, f.Name, f.Path, f.ContentHash, f.SizeBytes, f.ChunkCount, f.DataShards,
		f.ParityShards, f.ChunkSize, f.OwnerID, f.Bucket, string(f.Status), f.CreatedAt.Unix(), metaJSON,
	)
	if err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "create file", err)
	}
	return nil
}

func (s *Store) GetFile(id string) (cyxmodel.File, bool, error) {
	return s.scanFile(s.db.QueryRow(fileSelect+` WHERE id = ?`, id))
}

func (s *Store) GetFileByPath(path string) (cyxmodel.File, bool, error) {
	return s.scanFile(s.db.QueryRow(fileSelect+` WHERE path = ?`, path))
}

const fileSelect = `SELECT id, name, path, content_hash, size_bytes, chunk_count, data_shards,
	parity_shards, chunk_size, owner_id, bucket, status, created_at, metadata FROM files`

func (s *Store) scanFile(row *sql.Row) (cyxmodel.File, bool, error) {
	var f cyxmodel.File
	var status string
	var createdAt int64
	var metaJSON string

	err := row.Scan(&f.ID, &f.Name, &f.Path, &f.ContentHash, &f.SizeBytes, &f.ChunkCount,
		&f.DataShards, &f.ParityShards, &f.ChunkSize, &f.OwnerID, &f.Bucket, &status, &createdAt, &metaJSON)
	if err == sql.ErrNoRows {
		return cyxmodel.File{}, false, nil
	}
	if err != nil {
		return cyxmodel.File{}, false, cyxerr.Wrap(cyxerr.KindInternal, "scan file", err)
	}

	f.Status = cyxmodel.FileStatus(status)
	f.CreatedAt = time.Unix(createdAt, 0)
	if err := json.Unmarshal([]byte(metaJSON), &f.Metadata); err != nil {
		return cyxmodel.File{}, false, cyxerr.Wrap(cyxerr.KindInternal, "unmarshal file metadata", err)
	}
	return f, true, nil
}

// ListFiles lists files, optionally filtered to a bucket (empty = all).
func (s *Store) ListFiles(bucket string) ([]cyxmodel.File, error) {
	query := fileSelect
	var args []any
	if bucket != "" {
		query += ` WHERE bucket = ?`
		args = append(args, bucket)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindInternal, "list files", err)
	}
	defer rows.Close()

	var out []cyxmodel.File
	for rows.Next() {
		var f cyxmodel.File
		var status string
		var createdAt int64
		var metaJSON string
		if err := rows.Scan(&f.ID, &f.Name, &f.Path, &f.ContentHash, &f.SizeBytes, &f.ChunkCount,
			&f.DataShards, &f.ParityShards, &f.ChunkSize, &f.OwnerID, &f.Bucket, &status, &createdAt, &metaJSON); err != nil {
			return nil, cyxerr.Wrap(cyxerr.KindInternal, "scan file row", err)
		}
		f.Status = cyxmodel.FileStatus(status)
		f.CreatedAt = time.Unix(createdAt, 0)
		_ = json.Unmarshal([]byte(metaJSON), &f.Metadata)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) UpdateFileStatus(id string, status cyxmodel.FileStatus) error {
	if _, err := s.db.Exec(`UPDATE files SET status = ? WHERE id = ?`, string(status), id); err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "update file status", err)
	}
	return nil
}

// SoftDeleteFile marks a file Deleted without removing the row, leaving it
// joinable for late GC per spec.md §4.4's invariant on soft-deleted files.
func (s *Store) SoftDeleteFile(id string) error {
	return s.UpdateFileStatus(id, cyxmodel.FileDeleted)
}
