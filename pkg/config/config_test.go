package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 10, cfg.Erasure.DataShards)
	require.Equal(t, 4, cfg.Erasure.ParityShards)
	require.Equal(t, DefaultChunkSize, cfg.ChunkSize)
	require.Equal(t, 2, cfg.Replication.WriteQuorum)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ERASURE_DATA_SHARDS", "6")
	t.Setenv("ERASURE_PARITY_SHARDS", "3")
	t.Setenv("CHUNK_SIZE_BYTES", "1048576")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 6, cfg.Erasure.DataShards)
	require.Equal(t, 3, cfg.Erasure.ParityShards)
	require.Equal(t, 1048576, cfg.ChunkSize)
}

func TestValidateRejectsOversizedShardCount(t *testing.T) {
	cfg := &Config{Erasure: Erasure{DataShards: 200, ParityShards: 100}, ChunkSize: DefaultChunkSize}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsChunkSizeOutOfRange(t *testing.T) {
	cfg := &Config{Erasure: Erasure{DataShards: 10, ParityShards: 4}, ChunkSize: 10}
	require.Error(t, cfg.Validate())
}
