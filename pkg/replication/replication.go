// Package replication implements the write/read fan-out from spec.md §4.6:
// N-way parallel shard stores gated on a write quorum, and parallel shard
// reads that keep the first success per shard and hash-verify every
// received shard. Grounded on
// ZentaChain-zentalk-node/pkg/meshstorage/distributed.go's
// StoreDistributed/RetrieveDistributed goroutine-fan-out-with-WaitGroup
// idiom, rebuilt against pkg/quorum and pkg/rpc instead of the teacher's
// DHT+libp2p client.
package replication

import (
	"context"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxerr"
	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxhash"
	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxmodel"
	"github.com/cyxwiz-lab/cyxcloud/pkg/quorum"
)

// ChunkClient is the subset of pkg/rpc.Client this package depends on,
// allowing tests to substitute an in-memory fake.
type ChunkClient interface {
	StoreChunk(ctx context.Context, chunkID string, data []byte) error
	GetChunk(ctx context.Context, chunkID string) ([]byte, bool, error)
}

// ShardTarget pairs one erasure shard with the node chosen to hold it and a
// client for reaching that node.
type ShardTarget struct {
	NodeID     string
	ShardIndex int
	ShardID    string // content-addressed id of this shard's bytes
	Client     ChunkClient
}

// LocationReporter lets the coordinator push verification/failure signals
// back to the metadata store without this package importing pkg/metastore
// directly; *metastore.Store satisfies this interface structurally.
type LocationReporter interface {
	IncrementVerificationFailures(chunkID, nodeID string) error
	UpdateLocationStatus(chunkID, nodeID string, status cyxmodel.LocationStatus) error
}

// Coordinator runs the write and read fan-outs described in spec.md §4.6.
type Coordinator struct {
	quorum *quorum.Coordinator
}

func New(config quorum.Config) *Coordinator {
	return &Coordinator{quorum: quorum.New(config)}
}

// WriteResult reports which shard stores succeeded and which failed.
type WriteResult struct {
	Succeeded []ShardTarget
	Failed    []ShardTarget
}

// WriteChunk fans a chunk's shards out to their assigned targets in
// parallel and declares success once writeQuorum targets have confirmed.
// Per spec.md §4.6, a write that falls short of quorum is not rolled
// back — surviving stores stay in place for the repair loop to reconcile.
func (c *Coordinator) WriteChunk(ctx context.Context, shardData map[int][]byte, targets []ShardTarget) (WriteResult, error) {
	byNode := make(map[string]ShardTarget, len(targets))
	nodeIDs := make([]string, 0, len(targets))
	for _, t := range targets {
		byNode[t.NodeID] = t
		nodeIDs = append(nodeIDs, t.NodeID)
	}

	op := func(ctx context.Context, nodeID string) (any, error) {
		t := byNode[nodeID]
		data, ok := shardData[t.ShardIndex]
		if !ok {
			return nil, cyxerr.New(cyxerr.KindInternal, "no shard data for index")
		}
		return nil, t.Client.StoreChunk(ctx, t.ShardID, data)
	}

	result := c.quorum.WriteWithQuorum(ctx, nodeIDs, op)

	out := WriteResult{}
	for _, s := range result.Successes {
		out.Succeeded = append(out.Succeeded, byNode[s.NodeID])
	}
	for _, f := range result.Failures {
		out.Failed = append(out.Failed, byNode[f.NodeID])
	}

	if !result.QuorumAchieved {
		return out, cyxerr.QuorumNotMet(result.SuccessCount(), c.quorum.Config().WriteQuorum)
	}
	return out, nil
}

// ReadResult carries the recovered shards keyed by shard index, and the
// locations whose returned bytes failed hash verification.
type ReadResult struct {
	Shards   map[int][]byte
	Mismatch []ShardTarget
}

// ReadChunk dispatches parallel fetches across every known shard location.
// It never cancels a straggler — matching pkg/quorum's ReadWithQuorum
// contract — and hash-verifies every shard it receives against that
// target's content-addressed ShardID (hex form); a ShardID that does not
// parse counts as a verification failure. A verification failure is
// reported to the LocationReporter and the shard is excluded from the
// result so the caller can decide whether enough of the remaining shards
// clear k. When several targets return the same shard index, the first
// verified result received is kept.
func (c *Coordinator) ReadChunk(ctx context.Context, targets []ShardTarget, reporter LocationReporter) *ReadResult {
	byNode := make(map[string]ShardTarget, len(targets))
	nodeIDs := make([]string, 0, len(targets))
	for _, t := range targets {
		byNode[t.NodeID] = t
		nodeIDs = append(nodeIDs, t.NodeID)
	}

	op := func(ctx context.Context, nodeID string) (any, error) {
		t := byNode[nodeID]
		data, ok, err := t.Client.GetChunk(ctx, t.ShardID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, cyxerr.New(cyxerr.KindChunkNotFound, "shard not found at node")
		}
		return data, nil
	}

	result := c.quorum.ReadWithQuorum(ctx, nodeIDs, op)

	out := ReadResult{Shards: make(map[int][]byte)}
	for _, s := range result.Successes {
		t := byNode[s.NodeID]
		data, _ := s.Value.([]byte)
		id, err := cyxhash.ParseHex(t.ShardID)
		if err != nil || !cyxhash.Verify(id, data) {
			out.Mismatch = append(out.Mismatch, t)
			if reporter != nil {
				_ = reporter.IncrementVerificationFailures(t.ShardID, t.NodeID)
				_ = reporter.UpdateLocationStatus(t.ShardID, t.NodeID, cyxmodel.LocationFailed)
			}
			continue
		}
		if _, have := out.Shards[t.ShardIndex]; !have {
			out.Shards[t.ShardIndex] = data
		}
	}
	return &out
}
