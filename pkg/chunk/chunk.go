// Package chunk defines the Chunk/Shard value types from spec.md §3 and the
// deterministic split/reassemble round trip, grounded on
// WebFirstLanguage-beenet/pkg/content/chunker.go's ChunkData/ReconstructData
// pair (adapted from CID-tagged fixed-size chunks to CyxCloud's
// index/total_chunks/parent_id chunk model).
package chunk

import (
	"time"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxerr"
	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxhash"
)

const (
	MinSize     = 256 * 1024
	MaxSize     = 64 * 1024 * 1024
	DefaultSize = 4 * 1024 * 1024
)

// Chunk is the immutable value from spec.md §3.
type Chunk struct {
	ID          cyxhash.ChunkId
	Index       int
	TotalChunks int
	Size        int
	ParentID    *cyxhash.ChunkId
	Encrypted   bool
	ShardIndex  *int
	CreatedAt   time.Time
	Data        []byte
}

// Split deterministically divides data into fixed-size chunks (the last one
// may be shorter), hashing each with cyxhash.Hash. size must be within
// [MinSize, MaxSize].
func Split(data []byte, size int) ([]Chunk, error) {
	if size < MinSize || size > MaxSize {
		return nil, cyxerr.New(cyxerr.KindChunkTooSmall, "chunk size out of range").
			WithField("size", size)
	}
	if len(data) == 0 {
		return []Chunk{}, nil
	}

	total := (len(data) + size - 1) / size
	chunks := make([]Chunk, 0, total)
	now := time.Now()

	for i := 0; i < len(data); i += size {
		end := i + size
		if end > len(data) {
			end = len(data)
		}
		buf := make([]byte, end-i)
		copy(buf, data[i:end])

		chunks = append(chunks, Chunk{
			ID:          cyxhash.Hash(buf),
			Index:       len(chunks),
			TotalChunks: total,
			Size:        len(buf),
			CreatedAt:   now,
			Data:        buf,
		})
	}
	return chunks, nil
}

// Reassemble concatenates chunks in Index order back into the original
// byte slice, verifying each chunk's content hash before appending it, and
// rejecting mismatched Index/TotalChunks bookkeeping.
func Reassemble(chunks []Chunk) ([]byte, error) {
	if len(chunks) == 0 {
		return []byte{}, nil
	}

	total := chunks[0].TotalChunks
	if len(chunks) != total {
		return nil, cyxerr.New(cyxerr.KindInternal, "chunk count does not match total_chunks").
			WithField("have", len(chunks)).
			WithField("want", total)
	}

	size := 0
	for _, c := range chunks {
		size += c.Size
	}
	out := make([]byte, 0, size)

	ordered := make([]Chunk, total)
	for _, c := range chunks {
		if c.Index < 0 || c.Index >= total {
			return nil, cyxerr.New(cyxerr.KindInternal, "chunk index out of range")
		}
		ordered[c.Index] = c
	}

	for i, c := range ordered {
		if !cyxhash.Verify(c.ID, c.Data) {
			return nil, cyxerr.New(cyxerr.KindChunkCorrupted, "chunk failed integrity check").
				WithField("index", i)
		}
		out = append(out, c.Data...)
	}
	return out, nil
}
