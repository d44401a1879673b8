package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxmodel"
	"github.com/cyxwiz-lab/cyxcloud/pkg/lifecycle"
	"github.com/cyxwiz-lab/cyxcloud/pkg/metastore"
)

func newTestStore(t *testing.T) *metastore.Store {
	t.Helper()
	s, err := metastore.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleNode(id string, status cyxmodel.NodeStatus, heartbeat time.Time) cyxmodel.Node {
	now := time.Now()
	return cyxmodel.Node{
		ID:              id,
		PeerID:          "peer-" + id,
		GRPCAddress:     "10.0.0.1:50051",
		StorageTotal:    100_000_000,
		Region:          "us-east",
		Datacenter:      "dc1",
		Rack:            "r1",
		Status:          status,
		LastHeartbeat:   heartbeat,
		StatusChangedAt: now,
	}
}

func testConfig() lifecycle.Config {
	return lifecycle.Config{
		ScanInterval:       time.Minute,
		OfflineThreshold:   5 * time.Minute,
		DrainThreshold:     4 * time.Hour,
		RemoveThreshold:    7 * 24 * time.Hour,
		RecoveryQuarantine: 5 * time.Minute,
	}
}

func TestTickTransitionsStaleOnlineToOffline(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateNode(sampleNode("n1", cyxmodel.NodeOnline, time.Now().Add(-time.Hour))))

	mon := lifecycle.New(store, testConfig())
	mon.Tick(context.Background())

	got, _, err := store.GetNodeByID("n1")
	require.NoError(t, err)
	require.Equal(t, cyxmodel.NodeOffline, got.Status)
}

func TestTickLeavesFreshOnlineNodesAlone(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateNode(sampleNode("n1", cyxmodel.NodeOnline, time.Now())))

	mon := lifecycle.New(store, testConfig())
	mon.Tick(context.Background())

	got, _, err := store.GetNodeByID("n1")
	require.NoError(t, err)
	require.Equal(t, cyxmodel.NodeOnline, got.Status)
}

func TestTickDrainsLongOfflineNodeAndEvacuatesChunks(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateNode(sampleNode("draining-node", cyxmodel.NodeOnline, time.Now())))
	require.NoError(t, store.UpdateNodeStatus("draining-node", cyxmodel.NodeOffline))

	require.NoError(t, store.CreateNode(sampleNode("healthy-1", cyxmodel.NodeOnline, time.Now())))
	require.NoError(t, store.CreateNode(sampleNode("healthy-2", cyxmodel.NodeOnline, time.Now())))

	require.NoError(t, store.AddLocation(cyxmodel.ChunkLocation{ChunkID: "chunk-a", NodeID: "draining-node", Status: cyxmodel.LocationStored}))
	require.NoError(t, store.AddLocation(cyxmodel.ChunkLocation{ChunkID: "chunk-b", NodeID: "draining-node", Status: cyxmodel.LocationStored}))

	// A drain threshold of 0 treats the node as "still offline long enough" immediately.
	cfg := testConfig()
	cfg.DrainThreshold = 0
	mon := lifecycle.New(store, cfg)
	mon.Tick(context.Background())

	got, _, err := store.GetNodeByID("draining-node")
	require.NoError(t, err)
	require.Equal(t, cyxmodel.NodeDraining, got.Status)

	jobs, err := store.ListRepairJobsByStatus(cyxmodel.RepairQueued)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		require.Equal(t, "draining-node", j.SourceNodeID)
		require.Equal(t, uint32(lifecycle.EvacuationPriority), j.Priority)
		require.Contains(t, []string{"healthy-1", "healthy-2"}, j.TargetNodeID)
	}
}

func TestTickRemovesNodeOfflineBeyondRemoveThreshold(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateNode(sampleNode("gone", cyxmodel.NodeOnline, time.Now())))
	require.NoError(t, store.UpdateNodeStatus("gone", cyxmodel.NodeOffline))

	cfg := testConfig()
	cfg.RemoveThreshold = 0
	mon := lifecycle.New(store, cfg)
	mon.Tick(context.Background())

	_, found, err := store.GetNodeByID("gone")
	require.NoError(t, err)
	require.False(t, found)
}

func TestTickPromotesRecoveringNodeAfterQuarantine(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateNode(sampleNode("r1", cyxmodel.NodeOnline, time.Now())))
	require.NoError(t, store.UpdateNodeStatus("r1", cyxmodel.NodeRecovering))

	cfg := testConfig()
	cfg.RecoveryQuarantine = 0
	mon := lifecycle.New(store, cfg)
	mon.Tick(context.Background())

	got, _, err := store.GetNodeByID("r1")
	require.NoError(t, err)
	require.Equal(t, cyxmodel.NodeOnline, got.Status)
}

func TestHeartbeatFromOfflineMovesToRecoveringNotOnline(t *testing.T) {
	store := newTestStore(t)
	mon := lifecycle.New(store, testConfig())

	next, err := mon.Heartbeat(cyxmodel.NodeOffline, "some-node")
	require.NoError(t, err)
	require.Equal(t, cyxmodel.NodeRecovering, next)

	next, err = mon.Heartbeat(cyxmodel.NodeDraining, "some-node")
	require.NoError(t, err)
	require.Equal(t, cyxmodel.NodeRecovering, next)
}

func TestHeartbeatFromOnlineStaysOnline(t *testing.T) {
	store := newTestStore(t)
	mon := lifecycle.New(store, testConfig())

	next, err := mon.Heartbeat(cyxmodel.NodeOnline, "some-node")
	require.NoError(t, err)
	require.Equal(t, cyxmodel.NodeOnline, next)
}
