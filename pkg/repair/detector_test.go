package repair_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxmodel"
	"github.com/cyxwiz-lab/cyxcloud/pkg/metastore"
	"github.com/cyxwiz-lab/cyxcloud/pkg/repair"
)

func newTestStore(t *testing.T) *metastore.Store {
	t.Helper()
	s, err := metastore.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleNode(id string, status cyxmodel.NodeStatus) cyxmodel.Node {
	return cyxmodel.Node{
		ID:          id,
		PeerID:      "peer-" + id,
		GRPCAddress: "10.0.0.1:50051",
		Status:      status,
		Datacenter:  "dc1",
	}
}

func TestScanFindsUnderReplicatedAndCriticalChunks(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateNode(sampleNode("n1", cyxmodel.NodeOnline)))
	require.NoError(t, store.CreateNode(sampleNode("n2", cyxmodel.NodeOffline)))

	require.NoError(t, store.CreateFile(cyxmodel.File{ID: "f1", Name: "a", Path: "/a", ContentHash: "h", ChunkCount: 1, DataShards: 2, ParityShards: 1}))

	// chunk-a: one read-healthy replica present -> UnderReplicated.
	require.NoError(t, store.CreateChunk(cyxmodel.ChunkRecord{ID: "chunk-a", FileID: "f1", ReplicationFactor: 3}))
	require.NoError(t, store.AddLocation(cyxmodel.ChunkLocation{ChunkID: "chunk-a", NodeID: "n1", Status: cyxmodel.LocationStored}))

	// chunk-b: only location is on an offline node -> Critical.
	require.NoError(t, store.CreateChunk(cyxmodel.ChunkRecord{ID: "chunk-b", FileID: "f1", ReplicationFactor: 3}))
	require.NoError(t, store.AddLocation(cyxmodel.ChunkLocation{ChunkID: "chunk-b", NodeID: "n2", Status: cyxmodel.LocationStored}))

	detector := repair.NewDetector(store, store, repair.DefaultDetectorConfig())
	result, err := detector.Scan()
	require.NoError(t, err)
	require.Len(t, result.Issues, 2)
	require.True(t, result.HasCritical())

	// Sorted descending by priority: the critical issue must come first.
	require.Equal(t, repair.HealthCritical, result.Issues[0].Health)
	require.Equal(t, "chunk-b", result.Issues[0].ChunkID)
	require.Equal(t, repair.HealthUnderReplicated, result.Issues[1].Health)
	require.Equal(t, 1, result.Issues[1].Current)
	require.Equal(t, 3, result.Issues[1].Target)
}

func TestScanScoresZeroLocationChunksHigherThanZeroReachable(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateNode(sampleNode("n1", cyxmodel.NodeOffline)))
	require.NoError(t, store.CreateFile(cyxmodel.File{ID: "f1", Name: "a", Path: "/a", ContentHash: "h", ChunkCount: 2}))

	// chunk-orphaned: no ChunkLocation rows at all -> Critical, priority 1000.
	require.NoError(t, store.CreateChunk(cyxmodel.ChunkRecord{ID: "chunk-orphaned", FileID: "f1", ReplicationFactor: 3}))

	// chunk-unreachable: a location exists, but its only node is offline -> Critical, priority 900.
	require.NoError(t, store.CreateChunk(cyxmodel.ChunkRecord{ID: "chunk-unreachable", FileID: "f1", ReplicationFactor: 3}))
	require.NoError(t, store.AddLocation(cyxmodel.ChunkLocation{ChunkID: "chunk-unreachable", NodeID: "n1", Status: cyxmodel.LocationStored}))

	detector := repair.NewDetector(store, store, repair.DefaultDetectorConfig())
	result, err := detector.Scan()
	require.NoError(t, err)
	require.Len(t, result.Issues, 2)

	// Sorted descending by priority: zero-location chunk must come first.
	require.Equal(t, "chunk-orphaned", result.Issues[0].ChunkID)
	require.Equal(t, repair.HealthCritical, result.Issues[0].Health)
	require.Equal(t, uint32(1000), result.Issues[0].Priority)

	require.Equal(t, "chunk-unreachable", result.Issues[1].ChunkID)
	require.Equal(t, repair.HealthCritical, result.Issues[1].Health)
	require.Equal(t, uint32(900), result.Issues[1].Priority)
}

func TestScanSkipsHealthyChunks(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateNode(sampleNode("n1", cyxmodel.NodeOnline)))
	require.NoError(t, store.CreateFile(cyxmodel.File{ID: "f1", Name: "a", Path: "/a", ContentHash: "h", ChunkCount: 1}))
	require.NoError(t, store.CreateChunk(cyxmodel.ChunkRecord{ID: "chunk-a", FileID: "f1", ReplicationFactor: 1}))
	require.NoError(t, store.AddLocation(cyxmodel.ChunkLocation{ChunkID: "chunk-a", NodeID: "n1", Status: cyxmodel.LocationStored}))

	detector := repair.NewDetector(store, store, repair.DefaultDetectorConfig())
	result, err := detector.Scan()
	require.NoError(t, err)
	require.Empty(t, result.Issues)
}
