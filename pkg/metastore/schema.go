// Package metastore implements the transactional metadata store from
// spec.md §4.4: nodes, files, chunks, chunk locations, and repair jobs,
// grounded on ZentaChain-zentalk-node/pkg/meshstorage/storage.go's schema
// layout and migration.go's schema-versioning convention, generalized from
// one combined "chunks" table to the five tables spec.md §4.4 requires.
package metastore

import (
	"database/sql"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxerr"

	_ "github.com/mattn/go-sqlite3"
)

const currentSchemaVersion = 1

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL,
		applied_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		peer_id TEXT NOT NULL,
		grpc_address TEXT NOT NULL,
		storage_total INTEGER NOT NULL DEFAULT 0,
		storage_reserved INTEGER NOT NULL DEFAULT 0,
		storage_used INTEGER NOT NULL DEFAULT 0,
		bandwidth_mbps INTEGER NOT NULL DEFAULT 0,
		region TEXT NOT NULL DEFAULT '',
		datacenter TEXT NOT NULL DEFAULT '',
		rack TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'online',
		last_heartbeat INTEGER NOT NULL DEFAULT 0,
		first_offline_at INTEGER,
		status_changed_at INTEGER NOT NULL DEFAULT 0,
		failure_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_peer_id ON nodes(peer_id)`,
	`CREATE INDEX IF NOT EXISTS idx_nodes_status ON nodes(status)`,

	`CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		chunk_count INTEGER NOT NULL,
		data_shards INTEGER NOT NULL,
		parity_shards INTEGER NOT NULL,
		chunk_size INTEGER NOT NULL,
		owner_id TEXT NOT NULL DEFAULT '',
		bucket TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at INTEGER NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_files_path ON files(path)`,

	`CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		size INTEGER NOT NULL,
		current_replicas INTEGER NOT NULL DEFAULT 0,
		replication_factor INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_file_id ON chunks(file_id)`,

	`CREATE TABLE IF NOT EXISTS chunk_locations (
		chunk_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		last_verified INTEGER,
		verification_failures INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (chunk_id, node_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_locations_chunk_id ON chunk_locations(chunk_id)`,
	`CREATE INDEX IF NOT EXISTS idx_locations_node_id ON chunk_locations(node_id)`,
	`CREATE INDEX IF NOT EXISTS idx_locations_status ON chunk_locations(status)`,

	`CREATE TABLE IF NOT EXISTS repair_jobs (
		id TEXT PRIMARY KEY,
		chunk_id TEXT NOT NULL,
		source_node_id TEXT NOT NULL DEFAULT '',
		target_node_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		priority INTEGER NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER,
		completed_at INTEGER,
		error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_repair_jobs_status ON repair_jobs(status)`,
	`CREATE INDEX IF NOT EXISTS idx_repair_jobs_priority ON repair_jobs(priority)`,
}

func migrate(db *sql.DB) error {
	for _, stmt := range schemaDDL {
		if _, err := db.Exec(stmt); err != nil {
			return cyxerr.Wrap(cyxerr.KindConfiguration, "apply schema migration", err)
		}
	}

	var version sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return cyxerr.Wrap(cyxerr.KindConfiguration, "read schema version", err)
	}
	if version.Int64 < currentSchemaVersion {
		if _, err := db.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, strftime('%s','now'))`, currentSchemaVersion); err != nil {
			return cyxerr.Wrap(cyxerr.KindConfiguration, "record schema version", err)
		}
	}
	return nil
}
