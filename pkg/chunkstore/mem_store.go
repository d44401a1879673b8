package chunkstore

import (
	"sync"
	"time"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxerr"
	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxhash"
)

// MemStore is an in-memory map-backed Store used by tests, grounded on the
// map+mutex test-double convention seen across the pack (e.g.
// johnjansen-torua/internal/storage).
type MemStore struct {
	mu       sync.RWMutex
	chunks   map[cyxhash.ChunkId][]byte
	capacity int64

	reads, writes, deletes int64
	readLatency, writeLatency latencyAccumulator
}

func NewMemStore(capacity int64) *MemStore {
	return &MemStore{chunks: make(map[cyxhash.ChunkId][]byte), capacity: capacity}
}

func (s *MemStore) Put(id cyxhash.ChunkId, data []byte) error {
	start := time.Now()
	defer func() { s.writeLatency.record(time.Since(start)) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capacity > 0 {
		used := s.bytesUsedLocked()
		if existing, ok := s.chunks[id]; ok {
			used -= int64(len(existing))
		}
		if used+int64(len(data)) > s.capacity {
			return cyxerr.StorageFull(used, s.capacity)
		}
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	s.chunks[id] = buf
	s.writes++
	return nil
}

func (s *MemStore) Get(id cyxhash.ChunkId) ([]byte, bool, error) {
	start := time.Now()
	defer func() { s.readLatency.record(time.Since(start)) }()

	s.mu.Lock()
	data, ok := s.chunks[id]
	s.reads++
	s.mu.Unlock()

	if !ok {
		return nil, false, nil
	}
	if !cyxhash.Verify(id, data) {
		return nil, false, cyxerr.New(cyxerr.KindChunkCorrupted, "stored bytes do not hash to chunk id")
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

func (s *MemStore) Delete(id cyxhash.ChunkId) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.chunks[id]
	delete(s.chunks, id)
	if existed {
		s.deletes++
	}
	return existed, nil
}

func (s *MemStore) Exists(id cyxhash.ChunkId) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.chunks[id]
	return ok, nil
}

func (s *MemStore) ListChunks() ([]cyxhash.ChunkId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]cyxhash.ChunkId, 0, len(s.chunks))
	for id := range s.chunks {
		out = append(out, id)
	}
	return out, nil
}

func (s *MemStore) bytesUsedLocked() int64 {
	var total int64
	for _, data := range s.chunks {
		total += int64(len(data))
	}
	return total
}

func (s *MemStore) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		ChunkCount:    int64(len(s.chunks)),
		BytesUsed:     s.bytesUsedLocked(),
		BytesCapacity: s.capacity,
		Reads:         s.reads,
		Writes:        s.writes,
		Deletes:       s.deletes,
		AvgReadUs:     s.readLatency.avgMicros(),
		AvgWriteUs:    s.writeLatency.avgMicros(),
	}, nil
}

func (s *MemStore) Flush() error { return nil }
func (s *MemStore) Close() error { return nil }
