package metastore

import (
	"database/sql"
	"time"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxerr"
	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxmodel"
)

func (s *Store) CreateNode(n cyxmodel.Node) error {
	var firstOffline sql.NullInt64
	if n.FirstOfflineAt != nil {
		firstOffline = sql.NullInt64{Int64: n.FirstOfflineAt.Unix(), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO nodes (id, peer_id, grpc_address, storage_total, storage_reserved, storage_used,
			bandwidth_mbps, region, datacenter, rack, status, last_heartbeat, first_offline_at,
			status_changed_at, failure_count)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.PeerID, n.GRPCAddress, n.StorageTotal, n.StorageReserved, n.StorageUsed,
		n.BandwidthMbps, n.Region, n.Datacenter, n.Rack, string(n.Status), n.LastHeartbeat.Unix(),
		firstOffline, n.StatusChangedAt.Unix(), n.FailureCount,
	)
	if err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "create node", err)
	}
	return nil
}

func (s *Store) GetNodeByID(id string) (cyxmodel.Node, bool, error) {
	return s.scanNode(s.db.QueryRow(`SELECT id, peer_id, grpc_address, storage_total, storage_reserved,
		storage_used, bandwidth_mbps, region, datacenter, rack, status, last_heartbeat,
		first_offline_at, status_changed_at, failure_count FROM nodes WHERE id = ?`, id))
}

func (s *Store) GetNodeByPeerID(peerID string) (cyxmodel.Node, bool, error) {
	return s.scanNode(s.db.QueryRow(`SELECT id, peer_id, grpc_address, storage_total, storage_reserved,
		storage_used, bandwidth_mbps, region, datacenter, rack, status, last_heartbeat,
		first_offline_at, status_changed_at, failure_count FROM nodes WHERE peer_id = ?`, peerID))
}

func (s *Store) scanNode(row *sql.Row) (cyxmodel.Node, bool, error) {
	var n cyxmodel.Node
	var status string
	var lastHeartbeat, statusChangedAt int64
	var firstOffline sql.NullInt64

	err := row.Scan(&n.ID, &n.PeerID, &n.GRPCAddress, &n.StorageTotal, &n.StorageReserved,
		&n.StorageUsed, &n.BandwidthMbps, &n.Region, &n.Datacenter, &n.Rack, &status,
		&lastHeartbeat, &firstOffline, &statusChangedAt, &n.FailureCount)
	if err == sql.ErrNoRows {
		return cyxmodel.Node{}, false, nil
	}
	if err != nil {
		return cyxmodel.Node{}, false, cyxerr.Wrap(cyxerr.KindInternal, "scan node", err)
	}

	n.Status = cyxmodel.NodeStatus(status)
	n.LastHeartbeat = time.Unix(lastHeartbeat, 0)
	n.StatusChangedAt = time.Unix(statusChangedAt, 0)
	if firstOffline.Valid {
		t := time.Unix(firstOffline.Int64, 0)
		n.FirstOfflineAt = &t
	}
	return n, true, nil
}

func (s *Store) ListAllNodes() ([]cyxmodel.Node, error) {
	return s.queryNodes(`SELECT id, peer_id, grpc_address, storage_total, storage_reserved,
		storage_used, bandwidth_mbps, region, datacenter, rack, status, last_heartbeat,
		first_offline_at, status_changed_at, failure_count FROM nodes`)
}

func (s *Store) ListOnlineNodes() ([]cyxmodel.Node, error) {
	return s.queryNodes(`SELECT id, peer_id, grpc_address, storage_total, storage_reserved,
		storage_used, bandwidth_mbps, region, datacenter, rack, status, last_heartbeat,
		first_offline_at, status_changed_at, failure_count FROM nodes WHERE status = 'online'`)
}

func (s *Store) queryNodes(query string, args ...any) ([]cyxmodel.Node, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindInternal, "query nodes", err)
	}
	defer rows.Close()

	var out []cyxmodel.Node
	for rows.Next() {
		var n cyxmodel.Node
		var status string
		var lastHeartbeat, statusChangedAt int64
		var firstOffline sql.NullInt64

		if err := rows.Scan(&n.ID, &n.PeerID, &n.GRPCAddress, &n.StorageTotal, &n.StorageReserved,
			&n.StorageUsed, &n.BandwidthMbps, &n.Region, &n.Datacenter, &n.Rack, &status,
			&lastHeartbeat, &firstOffline, &statusChangedAt, &n.FailureCount); err != nil {
			return nil, cyxerr.Wrap(cyxerr.KindInternal, "scan node row", err)
		}
		n.Status = cyxmodel.NodeStatus(status)
		n.LastHeartbeat = time.Unix(lastHeartbeat, 0)
		n.StatusChangedAt = time.Unix(statusChangedAt, 0)
		if firstOffline.Valid {
			t := time.Unix(firstOffline.Int64, 0)
			n.FirstOfflineAt = &t
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpdateNodeStatus transitions a node's status, updating status_changed_at
// and first_offline_at per spec.md §3's invariants: entering Offline the
// first time records first_offline_at; re-entering Online clears it.
func (s *Store) UpdateNodeStatus(id string, status cyxmodel.NodeStatus) error {
	now := time.Now()

	var firstOfflineExpr string
	var args []any
	switch status {
	case cyxmodel.NodeOffline:
		firstOfflineExpr = `first_offline_at = COALESCE(first_offline_at, ?)`
		args = []any{now.Unix()}
	case cyxmodel.NodeOnline:
		firstOfflineExpr = `first_offline_at = NULL`
	default:
		firstOfflineExpr = `first_offline_at = first_offline_at`
	}

	query := `UPDATE nodes SET status = ?, status_changed_at = ?, ` + firstOfflineExpr + ` WHERE id = ?`
	execArgs := append([]any{string(status), now.Unix()}, args...)
	execArgs = append(execArgs, id)

	if _, err := s.db.Exec(query, execArgs...); err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "update node status", err)
	}
	return nil
}

func (s *Store) UpdateNodeHeartbeat(id string, at time.Time) error {
	if _, err := s.db.Exec(`UPDATE nodes SET last_heartbeat = ? WHERE id = ?`, at.Unix(), id); err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "update node heartbeat", err)
	}
	return nil
}

func (s *Store) DeleteNode(id string) error {
	if _, err := s.db.Exec(`DELETE FROM nodes WHERE id = ?`, id); err != nil {
		return cyxerr.Wrap(cyxerr.KindInternal, "delete node", err)
	}
	return nil
}

// StaleOnline returns Online nodes whose last_heartbeat is older than
// threshold, for C7's online->offline transition.
func (s *Store) StaleOnline(threshold time.Duration) ([]cyxmodel.Node, error) {
	cutoff := time.Now().Add(-threshold).Unix()
	return s.queryNodes(`SELECT id, peer_id, grpc_address, storage_total, storage_reserved,
		storage_used, bandwidth_mbps, region, datacenter, rack, status, last_heartbeat,
		first_offline_at, status_changed_at, failure_count
		FROM nodes WHERE status = 'online' AND last_heartbeat < ?`, cutoff)
}

// ForDraining returns Offline nodes that have been offline for at least
// threshold (to whole-second precision), for C7's offline->draining
// transition.
func (s *Store) ForDraining(threshold time.Duration) ([]cyxmodel.Node, error) {
	cutoff := time.Now().Add(-threshold).Unix()
	return s.queryNodes(`SELECT id, peer_id, grpc_address, storage_total, storage_reserved,
		storage_used, bandwidth_mbps, region, datacenter, rack, status, last_heartbeat,
		first_offline_at, status_changed_at, failure_count
		FROM nodes WHERE status = 'offline' AND first_offline_at IS NOT NULL AND first_offline_at <= ?`, cutoff)
}

// ForRemoval returns Offline or Draining nodes that have been offline for
// at least threshold (to whole-second precision), for C7's -> removed
// transition.
func (s *Store) ForRemoval(threshold time.Duration) ([]cyxmodel.Node, error) {
	cutoff := time.Now().Add(-threshold).Unix()
	return s.queryNodes(`SELECT id, peer_id, grpc_address, storage_total, storage_reserved,
		storage_used, bandwidth_mbps, region, datacenter, rack, status, last_heartbeat,
		first_offline_at, status_changed_at, failure_count
		FROM nodes WHERE status IN ('offline', 'draining') AND first_offline_at IS NOT NULL AND first_offline_at <= ?`, cutoff)
}

// Recovered returns Recovering nodes that have been stable (status
// unchanged) for at least quarantine, ready to transition to Online.
func (s *Store) Recovered(quarantine time.Duration) ([]cyxmodel.Node, error) {
	cutoff := time.Now().Add(-quarantine).Unix()
	return s.queryNodes(`SELECT id, peer_id, grpc_address, storage_total, storage_reserved,
		storage_used, bandwidth_mbps, region, datacenter, rack, status, last_heartbeat,
		first_offline_at, status_changed_at, failure_count
		FROM nodes WHERE status = 'recovering' AND status_changed_at <= ?`, cutoff)
}
