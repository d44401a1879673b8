package metastore

import (
	"database/sql"
	"time"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxerr"
	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxmodel"
)

const repairJobSelect = `SELECT id, chunk_id, source_node_id, target_node_id, status, priority,
	retry_count, started_at, completed_at, error FROM repair_jobs`

func (s *Store) CreateRepairJob(j cyxmodel.RepairJob) error {
	_, err := s.db.Exec(`
		INSERT INTO repair_jobs (id, chunk_id, source_node_id, target_node_id, status, priority,
			retry_count, started_at, completed_at, error)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.ChunkID, j.SourceNodeID, j.TargetNodeID, string(j.Status), j.Priority,
		j.RetryCount, nullableUnix(j.StartedAt), nullableUnix(j.CompletedAt), j.Error,
	)
	if err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "create repair job", err)
	}
	return nil
}

func (s *Store) GetRepairJob(id string) (cyxmodel.RepairJob, bool, error) {
	return scanRepairJob(s.db.QueryRow(repairJobSelect+` WHERE id = ?`, id))
}

// ClaimNext atomically picks the highest-priority queued job and marks it
// running, so concurrent executors never claim the same job twice.
func (s *Store) ClaimNext() (cyxmodel.RepairJob, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return cyxmodel.RepairJob{}, false, cyxerr.Wrap(cyxerr.KindInternal, "begin claim-next transaction", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(repairJobSelect+` WHERE status = 'queued' ORDER BY priority DESC LIMIT 1`)
	job, found, err := scanRepairJobRow(row)
	if err != nil {
		return cyxmodel.RepairJob{}, false, err
	}
	if !found {
		return cyxmodel.RepairJob{}, false, nil
	}

	now := time.Now()
	if _, err := tx.Exec(`UPDATE repair_jobs SET status = 'running', started_at = ? WHERE id = ?`,
		now.Unix(), job.ID); err != nil {
		return cyxmodel.RepairJob{}, false, cyxerr.Wrap(cyxerr.KindInternal, "claim repair job", err)
	}
	if err := tx.Commit(); err != nil {
		return cyxmodel.RepairJob{}, false, cyxerr.Wrap(cyxerr.KindInternal, "commit claim-next transaction", err)
	}

	job.Status = cyxmodel.RepairRunning
	job.StartedAt = &now
	return job, true, nil
}

func (s *Store) MarkRepairRunning(id string) error {
	if _, err := s.db.Exec(`UPDATE repair_jobs SET status = 'running', started_at = ? WHERE id = ?`,
		time.Now().Unix(), id); err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "mark repair job running", err)
	}
	return nil
}

func (s *Store) MarkRepairDone(id string) error {
	if _, err := s.db.Exec(`UPDATE repair_jobs SET status = 'completed', completed_at = ? WHERE id = ?`,
		time.Now().Unix(), id); err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "mark repair job done", err)
	}
	return nil
}

// MarkRepairFailed records the failure reason and bumps retry_count. It
// does not re-queue the job; RequeueRepairJob does that.
func (s *Store) MarkRepairFailed(id string, reason string) error {
	if _, err := s.db.Exec(`UPDATE repair_jobs SET status = 'failed', completed_at = ?,
		error = ?, retry_count = retry_count + 1 WHERE id = ?`,
		time.Now().Unix(), reason, id); err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "mark repair job failed", err)
	}
	return nil
}

// RequeueRepairJob resets a failed job back to queued, clearing its start
// and completion times; retry_count is kept.
func (s *Store) RequeueRepairJob(id string) error {
	if _, err := s.db.Exec(`UPDATE repair_jobs SET status = 'queued', started_at = NULL,
		completed_at = NULL WHERE id = ?`, id); err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "requeue repair job", err)
	}
	return nil
}

func (s *Store) ListRepairJobsByStatus(status cyxmodel.RepairJobStatus) ([]cyxmodel.RepairJob, error) {
	rows, err := s.db.Query(repairJobSelect+` WHERE status = ? ORDER BY priority DESC`, string(status))
	if err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindInternal, "list repair jobs by status", err)
	}
	defer rows.Close()

	var out []cyxmodel.RepairJob
	for rows.Next() {
		j, _, err := scanRepairJobRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepairJob(row *sql.Row) (cyxmodel.RepairJob, bool, error) {
	j, _, err := scanRepairJobRow(row)
	if err == sql.ErrNoRows {
		return cyxmodel.RepairJob{}, false, nil
	}
	if err != nil {
		return cyxmodel.RepairJob{}, false, err
	}
	return j, true, nil
}

func scanRepairJobRow(row rowScanner) (cyxmodel.RepairJob, bool, error) {
	var j cyxmodel.RepairJob
	var status string
	var startedAt, completedAt sql.NullInt64

	err := row.Scan(&j.ID, &j.ChunkID, &j.SourceNodeID, &j.TargetNodeID, &status, &j.Priority,
		&j.RetryCount, &startedAt, &completedAt, &j.Error)
	if err == sql.ErrNoRows {
		return cyxmodel.RepairJob{}, false, nil
	}
	if err != nil {
		return cyxmodel.RepairJob{}, false, cyxerr.Wrap(cyxerr.KindInternal, "scan repair job", err)
	}

	j.Status = cyxmodel.RepairJobStatus(status)
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0)
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		j.CompletedAt = &t
	}
	return j, true, nil
}
