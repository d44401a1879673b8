package metastore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxmodel"
)

func sampleChunkRecord(id, fileID string, index int) cyxmodel.ChunkRecord {
	return cyxmodel.ChunkRecord{
		ID:                id,
		FileID:            fileID,
		Index:             index,
		Size:              4 << 20,
		CurrentReplicas:   0,
		ReplicationFactor: 1,
	}
}

func TestCreateAndGetChunk(t *testing.T) {
	s := newTestStore(t)
	c := sampleChunkRecord("chunk-1", "file-1", 0)
	require.NoError(t, s.CreateChunk(c))

	got, found, err := s.GetChunkByID("chunk-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, c.FileID, got.FileID)
}

func TestListChunksByFileOrdersByIndex(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateChunk(sampleChunkRecord("c-2", "file-x", 1)))
	require.NoError(t, s.CreateChunk(sampleChunkRecord("c-1", "file-x", 0)))
	require.NoError(t, s.CreateChunk(sampleChunkRecord("c-other", "file-y", 0)))

	chunks, err := s.ListChunksByFile("file-x")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Equal(t, "c-1", chunks[0].ID)
	require.Equal(t, "c-2", chunks[1].ID)
}

func TestUpdateChunkReplicaCount(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateChunk(sampleChunkRecord("chunk-2", "file-1", 0)))
	require.NoError(t, s.UpdateChunkReplicaCount("chunk-2", 3))

	got, _, err := s.GetChunkByID("chunk-2")
	require.NoError(t, err)
	require.Equal(t, 3, got.CurrentReplicas)
}

func TestGetUnderReplicatedOrdersByDeficit(t *testing.T) {
	s := newTestStore(t)

	healthy := sampleChunkRecord("healthy", "file-1", 0)
	healthy.CurrentReplicas = 1
	healthy.ReplicationFactor = 1
	require.NoError(t, s.CreateChunk(healthy))

	mild := sampleChunkRecord("mild", "file-1", 1)
	mild.CurrentReplicas = 2
	mild.ReplicationFactor = 3
	require.NoError(t, s.CreateChunk(mild))

	severe := sampleChunkRecord("severe", "file-1", 2)
	severe.CurrentReplicas = 0
	severe.ReplicationFactor = 3
	require.NoError(t, s.CreateChunk(severe))

	under, err := s.GetUnderReplicated(10)
	require.NoError(t, err)
	require.Len(t, under, 2)
	require.Equal(t, "severe", under[0].ID)
	require.Equal(t, "mild", under[1].ID)
}

func TestGetUnderReplicatedRespectsLimit(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		c := sampleChunkRecord(string(rune('a'+i)), "file-1", i)
		c.ReplicationFactor = 3
		require.NoError(t, s.CreateChunk(c))
	}

	under, err := s.GetUnderReplicated(2)
	require.NoError(t, err)
	require.Len(t, under, 2)
}
