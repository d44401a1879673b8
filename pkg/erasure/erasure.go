// Package erasure implements (k,m) Reed-Solomon encode/decode over GF(2^8),
// directly adapted from
// ZentaChain-zentalk-node/pkg/meshstorage/erasure.go's ErasureEncoder, with
// the shard counts generalized from the teacher's hardcoded 10+5 to a
// configurable Params loaded from ERASURE_DATA_SHARDS/ERASURE_PARITY_SHARDS
// (default 10/4), matching
// original_source/cyxcloud-core/src/erasure.rs's ErasureConfig.
package erasure

import (
	"sync"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxerr"
	"github.com/klauspost/reedsolomon"
)

// Params holds the (k,m) Reed-Solomon configuration for one file.
type Params struct {
	DataShards   int
	ParityShards int
}

// DefaultParams returns the spec.md default of (10,4).
func DefaultParams() Params {
	return Params{DataShards: 10, ParityShards: 4}
}

// TotalShards returns k+m.
func (p Params) TotalShards() int {
	return p.DataShards + p.ParityShards
}

// Validate enforces k≥1, m≥1, k+m≤255 per spec.md §4.2.
func (p Params) Validate() error {
	if p.DataShards < 1 || p.ParityShards < 1 {
		return cyxerr.New(cyxerr.KindConfiguration, "data and parity shard counts must each be >= 1")
	}
	if p.TotalShards() > 255 {
		return cyxerr.New(cyxerr.KindConfiguration, "k+m must be <= 255 for GF(2^8)")
	}
	return nil
}

// Encoded is the result of an Encode call: N shards plus the bookkeeping
// needed to trim padding back off on Decode.
type Encoded struct {
	Params       Params
	Shards       [][]byte
	ShardSize    int
	OriginalSize int
}

// Codec wraps a reedsolomon.Encoder configured for one Params value.
type Codec struct {
	params  Params
	encoder reedsolomon.Encoder
}

// New constructs a Codec, validating params first.
func New(params Params) (*Codec, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	enc, err := reedsolomon.New(params.DataShards, params.ParityShards)
	if err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindConfiguration, "construct reed-solomon encoder", err)
	}
	return &Codec{params: params, encoder: enc}, nil
}

// Encode splits data into k data shards, zero-padded to a common
// shard_size, computes m parity shards, and returns all k+m.
func (c *Codec) Encode(data []byte) (*Encoded, error) {
	shards, err := c.encoder.Split(data)
	if err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindInternal, "split data into shards", err)
	}
	if err := c.encoder.Encode(shards); err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindInternal, "compute parity shards", err)
	}

	shardSize := 0
	if len(shards) > 0 {
		shardSize = len(shards[0])
	}
	return &Encoded{
		Params:       c.params,
		Shards:       shards,
		ShardSize:    shardSize,
		OriginalSize: len(data),
	}, nil
}

// EncodeParallel produces bit-identical output to Encode, but parallelizes
// the shard-slicing/zero-padding construction phase over a worker pool; the
// Reed-Solomon parity computation itself stays sequential, matching
// original_source/cyxcloud-core/src/erasure.rs's encode_parallel note that
// "the RS step itself is sequential."
func (c *Codec) EncodeParallel(data []byte) (*Encoded, error) {
	k := c.params.DataShards
	shardSize := (len(data) + k - 1) / k
	if shardSize == 0 {
		shardSize = 1
	}

	total := c.params.TotalShards()
	shards := make([][]byte, total)

	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buf := make([]byte, shardSize)
			start := i * shardSize
			if start < len(data) {
				end := start + shardSize
				if end > len(data) {
					end = len(data)
				}
				copy(buf, data[start:end])
			}
			shards[i] = buf
		}(i)
	}
	for i := k; i < total; i++ {
		shards[i] = make([]byte, shardSize)
	}
	wg.Wait()

	if err := c.encoder.Encode(shards); err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindInternal, "compute parity shards", err)
	}

	return &Encoded{
		Params:       c.params,
		Shards:       shards,
		ShardSize:    shardSize,
		OriginalSize: len(data),
	}, nil
}

// Decode reconstructs the original bytes from a set of shards, some of
// which may be nil (missing/unavailable). Fails with InsufficientShards if
// fewer than k are present.
func (c *Codec) Decode(shards [][]byte, originalSize int) ([]byte, error) {
	available := 0
	for _, s := range shards {
		if s != nil {
			available++
		}
	}
	if available < c.params.DataShards {
		return nil, cyxerr.InsufficientShards(available, c.params.DataShards)
	}

	work := make([][]byte, len(shards))
	copy(work, shards)

	if err := c.encoder.ReconstructData(work); err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindInsufficientShards, "reconstruct data shards", err)
	}

	out := make([]byte, 0, originalSize)
	for i := 0; i < c.params.DataShards && len(out) < originalSize; i++ {
		remaining := originalSize - len(out)
		if remaining >= len(work[i]) {
			out = append(out, work[i]...)
		} else {
			out = append(out, work[i][:remaining]...)
		}
	}
	return out, nil
}

// VerifyShards checks that all N shards are present, equal length, and
// that parity recomputation matches.
func (c *Codec) VerifyShards(shards [][]byte) (bool, error) {
	if len(shards) != c.params.TotalShards() {
		return false, nil
	}
	for _, s := range shards {
		if s == nil {
			return false, nil
		}
	}
	ok, err := c.encoder.Verify(shards)
	if err != nil {
		return false, cyxerr.Wrap(cyxerr.KindInternal, "verify shard parity", err)
	}
	return ok, nil
}

// Params returns the codec's configured (k,m).
func (c *Codec) Params() Params {
	return c.params
}
