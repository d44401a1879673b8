// Package chunkstore implements the content-addressed blob store from
// spec.md §4.3. Store is the abstract contract; SQLiteStore (grounded on
// ZentaChain-zentalk-node/pkg/meshstorage/storage.go's LocalStorage,
// re-keyed from (user_addr, chunk_id) rows to a single content-addressed
// chunk_id primary key) is the production implementation, and MemStore is
// an in-memory test double in the style of
// johnjansen-torua/internal/storage.
package chunkstore

import (
	"sync"
	"time"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxerr"
	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxhash"
)

// Stats mirrors spec.md §4.3's stats() contract.
type Stats struct {
	ChunkCount   int64
	BytesUsed    int64
	BytesCapacity int64
	Reads        int64
	Writes       int64
	Deletes      int64
	AvgReadUs    float64
	AvgWriteUs   float64
}

// Store is the content-addressed chunk store contract.
type Store interface {
	Put(id cyxhash.ChunkId, data []byte) error
	// Get returns the stored bytes, or ok=false if absent. SQLiteStore and
	// MemStore both recompute the hash on read and return
	// KindChunkCorrupted on mismatch rather than silently serving bad
	// bytes.
	Get(id cyxhash.ChunkId) (data []byte, ok bool, err error)
	Delete(id cyxhash.ChunkId) (existed bool, err error)
	Exists(id cyxhash.ChunkId) (bool, error)
	ListChunks() ([]cyxhash.ChunkId, error)
	Stats() (Stats, error)
	Flush() error
	Close() error
}

// latencyAccumulator is a simple running-average timer, grounded on
// original_source/cyxcloud-storage/benches/storage.rs's timing
// methodology (no histogram library needed for a running average).
type latencyAccumulator struct {
	mu    sync.Mutex
	count int64
	total time.Duration
}

func (l *latencyAccumulator) record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count++
	l.total += d
}

func (l *latencyAccumulator) avgMicros() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		return 0
	}
	return float64(l.total.Microseconds()) / float64(l.count)
}

var errStoreClosed = cyxerr.New(cyxerr.KindInternal, "chunk store closed")
