package rpc_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cyxwiz-lab/cyxcloud/pkg/rpc"
)

type memHandler struct {
	mu     sync.Mutex
	chunks map[string][]byte
}

func newMemHandler() *memHandler {
	return &memHandler{chunks: make(map[string][]byte)}
}

func (h *memHandler) StoreChunk(ctx context.Context, chunkID string, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chunks[chunkID] = data
	return nil
}

func (h *memHandler) GetChunk(ctx context.Context, chunkID string) ([]byte, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, ok := h.chunks[chunkID]
	return data, ok, nil
}

func (h *memHandler) VerifyChunk(ctx context.Context, chunkID string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.chunks[chunkID]
	return ok, nil
}

func (h *memHandler) DeleteChunk(ctx context.Context, chunkID string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, existed := h.chunks[chunkID]
	delete(h.chunks, chunkID)
	return existed, nil
}

func (h *memHandler) StreamChunks(ctx context.Context, chunkIDs []string) (map[string][]byte, []string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	found := make(map[string][]byte)
	var missed []string
	for _, id := range chunkIDs {
		if data, ok := h.chunks[id]; ok {
			found[id] = data
		} else {
			missed = append(missed, id)
		}
	}
	return found, missed, nil
}

func startTestServer(t *testing.T, handler rpc.Handler) string {
	t.Helper()
	addr := fmt.Sprintf("127.0.0.1:%d", 20000+time.Now().Nanosecond()%10000)
	srv := rpc.NewServer(addr, handler, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()
	time.Sleep(50 * time.Millisecond)

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return addr
}

func TestStoreGetDeleteRoundTrip(t *testing.T) {
	addr := startTestServer(t, newMemHandler())

	ctx := context.Background()
	client, err := rpc.Dial(ctx, addr, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.StoreChunk(ctx, "chunk-1", []byte("hello")))

	data, found, err := client.GetChunk(ctx, "chunk-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("hello"), data)

	valid, err := client.VerifyChunk(ctx, "chunk-1")
	require.NoError(t, err)
	require.True(t, valid)

	existed, err := client.DeleteChunk(ctx, "chunk-1")
	require.NoError(t, err)
	require.True(t, existed)

	_, found, err = client.GetChunk(ctx, "chunk-1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestStreamChunks(t *testing.T) {
	handler := newMemHandler()
	addr := startTestServer(t, handler)

	ctx := context.Background()
	client, err := rpc.Dial(ctx, addr, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.StoreChunk(ctx, "a", []byte("1")))
	require.NoError(t, client.StoreChunk(ctx, "b", []byte("2")))

	found, missed, err := client.StreamChunks(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Equal(t, []byte("1"), found["a"])
	require.Equal(t, []byte("2"), found["b"])
	require.Equal(t, []string{"c"}, missed)
}

func TestPing(t *testing.T) {
	addr := startTestServer(t, newMemHandler())
	ctx := context.Background()
	client, err := rpc.Dial(ctx, addr, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Ping(ctx))
}

func TestPoolReusesConnectionAndEvictsLRU(t *testing.T) {
	addr1 := startTestServer(t, newMemHandler())
	addr2 := startTestServer(t, newMemHandler())

	pool := rpc.NewPool(1, time.Minute, 5*time.Second, nil)
	defer pool.Close()

	ctx := context.Background()
	c1, err := pool.Get(ctx, addr1)
	require.NoError(t, err)

	c1Again, err := pool.Get(ctx, addr1)
	require.NoError(t, err)
	require.Same(t, c1, c1Again)

	// Exceeding maxConns evicts the LRU entry (addr1) to make room for addr2.
	_, err = pool.Get(ctx, addr2)
	require.NoError(t, err)

	stats := pool.Stats()
	require.Equal(t, 1, stats["active_connections"])
}
