package chunkstore

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxerr"
	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxhash"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the production chunk store: one SQLite database file per
// node data directory, schema generalized from the teacher's
// LocalStorage's per-user chunk table to a single content-addressed table.
type SQLiteStore struct {
	db       *sql.DB
	path     string
	capacity int64

	readLatency  latencyAccumulator
	writeLatency latencyAccumulator
}

// NewSQLiteStore opens (creating if absent) the chunk database under
// dataDir, enforcing a capacity in bytes (0 means unbounded).
func NewSQLiteStore(dataDir string, capacity int64) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindConfiguration, "create chunk store directory", err)
	}

	dbPath := filepath.Join(dataDir, "chunks.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindConfiguration, "open chunk store database", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			chunk_id TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			size INTEGER NOT NULL,
			stored_at INTEGER NOT NULL
		)`); err != nil {
		db.Close()
		return nil, cyxerr.Wrap(cyxerr.KindConfiguration, "create chunks table", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_chunks_stored_at ON chunks(stored_at)`); err != nil {
		db.Close()
		return nil, cyxerr.Wrap(cyxerr.KindConfiguration, "create chunks index", err)
	}

	return &SQLiteStore{db: db, path: dbPath, capacity: capacity}, nil
}

func (s *SQLiteStore) Put(id cyxhash.ChunkId, data []byte) error {
	start := time.Now()
	defer func() { s.writeLatency.record(time.Since(start)) }()

	if s.capacity > 0 {
		used, err := s.bytesUsed()
		if err != nil {
			return err
		}
		if used+int64(len(data)) > s.capacity {
			return cyxerr.StorageFull(used, s.capacity)
		}
	}

	_, err := s.db.Exec(
		`INSERT INTO chunks (chunk_id, data, size, stored_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(chunk_id) DO UPDATE SET data=excluded.data, size=excluded.size, stored_at=excluded.stored_at`,
		id.String(), data, len(data), time.Now().Unix(),
	)
	if err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "store chunk", err)
	}
	return nil
}

func (s *SQLiteStore) Get(id cyxhash.ChunkId) ([]byte, bool, error) {
	start := time.Now()
	defer func() { s.readLatency.record(time.Since(start)) }()

	var data []byte
	err := s.db.QueryRow(`SELECT data FROM chunks WHERE chunk_id = ?`, id.String()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, cyxerr.Wrap(cyxerr.KindInternal, "read chunk", err)
	}

	if !cyxhash.Verify(id, data) {
		return nil, false, cyxerr.New(cyxerr.KindChunkCorrupted, "stored bytes do not hash to chunk id").
			WithField("chunk_id", id.String())
	}
	return data, true, nil
}

func (s *SQLiteStore) Delete(id cyxhash.ChunkId) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM chunks WHERE chunk_id = ?`, id.String())
	if err != nil {
		return false, cyxerr.Wrap(cyxerr.KindInternal, "delete chunk", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, cyxerr.Wrap(cyxerr.KindInternal, "check delete result", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Exists(id cyxhash.ChunkId) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM chunks WHERE chunk_id = ? LIMIT 1`, id.String()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, cyxerr.Wrap(cyxerr.KindInternal, "check chunk existence", err)
	}
	return true, nil
}

func (s *SQLiteStore) ListChunks() ([]cyxhash.ChunkId, error) {
	rows, err := s.db.Query(`SELECT chunk_id FROM chunks`)
	if err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindInternal, "list chunks", err)
	}
	defer rows.Close()

	var out []cyxhash.ChunkId
	for rows.Next() {
		var hexID string
		if err := rows.Scan(&hexID); err != nil {
			return nil, cyxerr.Wrap(cyxerr.KindInternal, "scan chunk id", err)
		}
		id, err := cyxhash.ParseHex(hexID)
		if err != nil {
			return nil, cyxerr.Wrap(cyxerr.KindInternal, "parse stored chunk id", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) bytesUsed() (int64, error) {
	var used sql.NullInt64
	if err := s.db.QueryRow(`SELECT SUM(size) FROM chunks`).Scan(&used); err != nil {
		return 0, cyxerr.Wrap(cyxerr.KindInternal, "compute bytes used", err)
	}
	return used.Int64, nil
}

func (s *SQLiteStore) Stats() (Stats, error) {
	var count, used sql.NullInt64
	if err := s.db.QueryRow(`SELECT COUNT(*), SUM(size) FROM chunks`).Scan(&count, &used); err != nil {
		return Stats{}, cyxerr.Wrap(cyxerr.KindInternal, "compute stats", err)
	}
	return Stats{
		ChunkCount:    count.Int64,
		BytesUsed:     used.Int64,
		BytesCapacity: s.capacity,
		AvgReadUs:     s.readLatency.avgMicros(),
		AvgWriteUs:    s.writeLatency.avgMicros(),
	}, nil
}

func (s *SQLiteStore) Flush() error {
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path, for diagnostics.
func (s *SQLiteStore) Path() string {
	return s.path
}
