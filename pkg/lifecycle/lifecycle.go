// Package lifecycle implements the Node Lifecycle Monitor from spec.md
// §4.7: a single-task ticker-driven scheduler that inspects heartbeat
// timestamps each tick and applies the dictated state transitions, evacuating
// a node's chunks when it enters Draining. Grounded on
// ZentaChain-zentalk-node/pkg/meshstorage/distributed.go's
// monitorLoop/checkAllChunks ticker-and-background-goroutine texture.
package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/cyxwiz-lab/cyxcloud/internal/logging"
	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxmodel"
)

// EvacuationPriority is the fixed priority assigned to repair jobs created
// by evacuating a draining node, per spec.md §4.7.
const EvacuationPriority = 100

// Store is the subset of pkg/metastore.Store the monitor depends on;
// *metastore.Store satisfies this interface structurally.
type Store interface {
	StaleOnline(threshold time.Duration) ([]cyxmodel.Node, error)
	ForDraining(threshold time.Duration) ([]cyxmodel.Node, error)
	ForRemoval(threshold time.Duration) ([]cyxmodel.Node, error)
	Recovered(quarantine time.Duration) ([]cyxmodel.Node, error)
	UpdateNodeStatus(id string, status cyxmodel.NodeStatus) error
	DeleteNode(id string) error
	ListOnlineNodes() ([]cyxmodel.Node, error)
	ListLocationsByNode(nodeID string) ([]cyxmodel.ChunkLocation, error)
	CreateRepairJob(job cyxmodel.RepairJob) error
}

// Config mirrors spec.md §4.7's named thresholds.
type Config struct {
	ScanInterval       time.Duration
	OfflineThreshold   time.Duration
	DrainThreshold     time.Duration
	RemoveThreshold    time.Duration
	RecoveryQuarantine time.Duration
}

// Monitor runs the lifecycle scheduler. Ticks are serialized by tickMu so
// concurrent ticks never overlap, matching the spec's "monitor is
// single-task" invariant; each tick's transitions are independent
// single-row updates, so a partial failure never corrupts state — the
// next tick simply retries the query that failed.
type Monitor struct {
	store  Store
	config Config
	log    *logging.Logger

	tickMu sync.Mutex
	rrMu   sync.Mutex
	rrNext int

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(store Store, config Config) *Monitor {
	return &Monitor{
		store: store,
		config: config,
		log:   logging.New("lifecycle"),
		stop:  make(chan struct{}),
	}
}

// Start runs the scheduler loop until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop halts the scheduler and waits for the in-flight tick to finish.
func (m *Monitor) Stop() {
	close(m.stop)
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Tick(ctx)
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick runs one scan-and-transition pass. Exported so callers (and tests)
// can drive it deterministically instead of waiting on the ticker.
func (m *Monitor) Tick(ctx context.Context) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	m.transitionOfflineNodes()
	m.transitionDrainingNodes()
	m.transitionRemovedNodes()
	m.transitionRecoveredNodes()
}

// transitionOfflineNodes: online --(no HB for OFFLINE_THR)--> offline.
func (m *Monitor) transitionOfflineNodes() {
	nodes, err := m.store.StaleOnline(m.config.OfflineThreshold)
	if err != nil {
		m.log.Errorf("list stale online nodes: %v", err)
		return
	}
	for _, n := range nodes {
		if err := m.store.UpdateNodeStatus(n.ID, cyxmodel.NodeOffline); err != nil {
			m.log.Errorf("transition node %s to offline: %v", n.ID, err)
		}
	}
}

// transitionDrainingNodes: offline --(still offline for DRAIN_THR)-->
// draining, triggering evacuation of every chunk the node held.
func (m *Monitor) transitionDrainingNodes() {
	nodes, err := m.store.ForDraining(m.config.DrainThreshold)
	if err != nil {
		m.log.Errorf("list nodes for draining: %v", err)
		return
	}
	for _, n := range nodes {
		if err := m.store.UpdateNodeStatus(n.ID, cyxmodel.NodeDraining); err != nil {
			m.log.Errorf("transition node %s to draining: %v", n.ID, err)
			continue
		}
		if err := m.evacuate(n.ID); err != nil {
			m.log.Errorf("evacuate node %s: %v", n.ID, err)
		}
	}
}

// transitionRemovedNodes: offline or draining --(still offline for
// REMOVE_THR)--> removed (node row deleted).
func (m *Monitor) transitionRemovedNodes() {
	nodes, err := m.store.ForRemoval(m.config.RemoveThreshold)
	if err != nil {
		m.log.Errorf("list nodes for removal: %v", err)
		return
	}
	for _, n := range nodes {
		if err := m.store.DeleteNode(n.ID); err != nil {
			m.log.Errorf("remove node %s: %v", n.ID, err)
		}
	}
}

// transitionRecoveredNodes: recovering --(stable for RECOV_Q)--> online.
func (m *Monitor) transitionRecoveredNodes() {
	nodes, err := m.store.Recovered(m.config.RecoveryQuarantine)
	if err != nil {
		m.log.Errorf("list recovered nodes: %v", err)
		return
	}
	for _, n := range nodes {
		if err := m.store.UpdateNodeStatus(n.ID, cyxmodel.NodeOnline); err != nil {
			m.log.Errorf("transition node %s to online: %v", n.ID, err)
		}
	}
}

// Heartbeat records a heartbeat from a node. Per spec.md §4.7, a heartbeat
// from a node in {offline, draining} moves it to recovering, never
// directly to online — the RECOV_Q quarantine still applies before the
// next tick promotes it.
func (m *Monitor) Heartbeat(nodeStatus cyxmodel.NodeStatus, nodeID string) (cyxmodel.NodeStatus, error) {
	switch nodeStatus {
	case cyxmodel.NodeOffline, cyxmodel.NodeDraining:
		if err := m.store.UpdateNodeStatus(nodeID, cyxmodel.NodeRecovering); err != nil {
			return nodeStatus, err
		}
		return cyxmodel.NodeRecovering, nil
	default:
		return nodeStatus, nil
	}
}

// evacuate creates a priority-100 RepairJob for every chunk location the
// draining node held, choosing targets round-robin from the current
// online fleet excluding the draining node itself.
func (m *Monitor) evacuate(nodeID string) error {
	locations, err := m.store.ListLocationsByNode(nodeID)
	if err != nil {
		return err
	}
	if len(locations) == 0 {
		return nil
	}

	online, err := m.store.ListOnlineNodes()
	if err != nil {
		return err
	}
	var candidates []cyxmodel.Node
	for _, n := range online {
		if n.ID != nodeID {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		m.log.Warnf("no online candidates to evacuate node %s onto", nodeID)
		return nil
	}

	for _, loc := range locations {
		target := m.nextRoundRobin(candidates)
		job := cyxmodel.RepairJob{
			ID:           newJobID(),
			ChunkID:      loc.ChunkID,
			SourceNodeID: nodeID,
			TargetNodeID: target.ID,
			Status:       cyxmodel.RepairQueued,
			Priority:     EvacuationPriority,
		}
		if err := m.store.CreateRepairJob(job); err != nil {
			m.log.Errorf("create evacuation repair job for chunk %s: %v", loc.ChunkID, err)
		}
	}
	return nil
}

func (m *Monitor) nextRoundRobin(candidates []cyxmodel.Node) cyxmodel.Node {
	m.rrMu.Lock()
	defer m.rrMu.Unlock()
	n := candidates[m.rrNext%len(candidates)]
	m.rrNext++
	return n
}

func newJobID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
