package metastore

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxerr"
)

// Store is the transactional metadata store from spec.md §4.4, backed by
// SQLite. Any store implementation satisfying these operations with atomic
// multi-row transactions and the stated secondary indices conforms to the
// contract the core depends on.
type Store struct {
	db *sql.DB
}

// Open creates (if absent) and opens the metadata database under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindConfiguration, "create metadata store directory", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dataDir, "metadata.db"))
	if err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindConfiguration, "open metadata database", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenMemory opens an in-process, file-less SQLite database — used by
// tests that want the real SQL semantics without a temp directory.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	if err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindConfiguration, "open in-memory metadata database", err)
	}
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
