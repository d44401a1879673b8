package repair_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxmodel"
	"github.com/cyxwiz-lab/cyxcloud/pkg/repair"
)

// fakeClient is a ChunkClient test double keyed by node address.
type fakeClient struct {
	mu   sync.Mutex
	data map[string][]byte

	failStoreUntil   int
	storeAttempts    int
	verifyShouldFail bool
}

func (f *fakeClient) GetChunk(ctx context.Context, chunkID string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.data[chunkID]
	return d, ok, nil
}

func (f *fakeClient) StoreChunk(ctx context.Context, chunkID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storeAttempts++
	if f.storeAttempts <= f.failStoreUntil {
		return errStoreFailed
	}
	if f.data == nil {
		f.data = make(map[string][]byte)
	}
	f.data[chunkID] = data
	return nil
}

func (f *fakeClient) VerifyChunk(ctx context.Context, chunkID string) (bool, error) {
	if f.verifyShouldFail {
		return false, nil
	}
	return true, nil
}

type errString string

func (e errString) Error() string { return string(e) }

const errStoreFailed = errString("store failed")

// fakeResolver hands back a pre-registered client per address.
type fakeResolver struct {
	mu      sync.Mutex
	clients map[string]*fakeClient
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{clients: make(map[string]*fakeClient)}
}

func (r *fakeResolver) register(addr string, c *fakeClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[addr] = c
}

func (r *fakeResolver) ClientFor(ctx context.Context, addr string) (repair.ChunkClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[addr], nil
}

// fakeLocationStore records AddLocation calls.
type fakeLocationStore struct {
	mu        sync.Mutex
	locations []cyxmodel.ChunkLocation
}

func (s *fakeLocationStore) AddLocation(loc cyxmodel.ChunkLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations = append(s.locations, loc)
	return nil
}

func testExecutorConfig() repair.ExecutorConfig {
	cfg := repair.DefaultExecutorConfig()
	cfg.RetryDelay = 0
	cfg.NodeRateLimit = 1 << 30
	return cfg
}

func TestExecuteTransfersChunkAndRegistersVerifiedLocation(t *testing.T) {
	source := &fakeClient{data: map[string][]byte{"chunk-a": []byte("payload")}}
	target := &fakeClient{}
	resolver := newFakeResolver()
	resolver.register("src-addr", source)
	resolver.register("tgt-addr", target)

	store := &fakeLocationStore{}
	executor := repair.NewExecutor(resolver, store, testExecutorConfig(), false)

	plan := repair.RepairPlan{Tasks: []repair.RepairTask{
		{ChunkID: "chunk-a", Source: "src", Targets: []string{"tgt"}, Bytes: 7},
	}}
	nodeAddrs := map[string]string{"src": "src-addr", "tgt": "tgt-addr"}

	result := executor.Execute(context.Background(), plan, nodeAddrs)

	require.Len(t, result.Completed, 1)
	require.Empty(t, result.Failed)
	require.Len(t, store.locations, 1)
	require.Equal(t, "chunk-a", store.locations[0].ChunkID)
	require.Equal(t, "tgt", store.locations[0].NodeID)
	require.Equal(t, cyxmodel.LocationVerified, store.locations[0].Status)
}

func TestExecuteDryRunSkipsTransfers(t *testing.T) {
	resolver := newFakeResolver() // no clients registered; a real transfer would fail
	store := &fakeLocationStore{}
	cfg := testExecutorConfig()
	cfg.DryRun = true
	executor := repair.NewExecutor(resolver, store, cfg, false)

	plan := repair.RepairPlan{Tasks: []repair.RepairTask{
		{ChunkID: "chunk-a", Source: "src", Targets: []string{"tgt"}, Bytes: 7},
	}}

	result := executor.Execute(context.Background(), plan, nil)

	require.Len(t, result.Completed, 1)
	require.Empty(t, store.locations)
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	source := &fakeClient{data: map[string][]byte{"chunk-a": []byte("payload")}}
	target := &fakeClient{failStoreUntil: 2} // fails first two attempts, succeeds on the third
	resolver := newFakeResolver()
	resolver.register("src", source)
	resolver.register("tgt", target)

	store := &fakeLocationStore{}
	cfg := testExecutorConfig()
	cfg.MaxRetries = 3
	executor := repair.NewExecutor(resolver, store, cfg, false)

	plan := repair.RepairPlan{Tasks: []repair.RepairTask{
		{ChunkID: "chunk-a", Source: "src", Targets: []string{"tgt"}, Bytes: 7},
	}}

	result := executor.Execute(context.Background(), plan, nil)

	require.Len(t, result.Completed, 1)
	require.Len(t, store.locations, 1)
}

func TestExecuteVerificationFailureDoesNotRegisterLocation(t *testing.T) {
	source := &fakeClient{data: map[string][]byte{"chunk-a": []byte("payload")}}
	target := &fakeClient{verifyShouldFail: true}
	resolver := newFakeResolver()
	resolver.register("src", source)
	resolver.register("tgt", target)

	store := &fakeLocationStore{}
	cfg := testExecutorConfig()
	cfg.MaxRetries = 0
	executor := repair.NewExecutor(resolver, store, cfg, false)

	plan := repair.RepairPlan{Tasks: []repair.RepairTask{
		{ChunkID: "chunk-a", Source: "src", Targets: []string{"tgt"}, Bytes: 7},
	}}

	result := executor.Execute(context.Background(), plan, nil)

	require.Empty(t, result.Completed)
	require.Len(t, result.Failed, 1)
	require.Empty(t, store.locations)
}

func TestExecuteEmitsProgressUpdates(t *testing.T) {
	source := &fakeClient{data: map[string][]byte{"chunk-a": []byte("payload")}}
	target := &fakeClient{}
	resolver := newFakeResolver()
	resolver.register("src", source)
	resolver.register("tgt", target)

	store := &fakeLocationStore{}
	executor := repair.NewExecutor(resolver, store, testExecutorConfig(), true)

	plan := repair.RepairPlan{Tasks: []repair.RepairTask{
		{ChunkID: "chunk-a", Source: "src", Targets: []string{"tgt"}, Bytes: 7},
	}}

	executor.Execute(context.Background(), plan, nil)

	close(executor.Progress)
	var sawCompleted bool
	for update := range executor.Progress {
		if update.Status == "completed" {
			sawCompleted = true
		}
	}
	require.True(t, sawCompleted)
}
