package repair

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cyxwiz-lab/cyxcloud/internal/logging"
	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxerr"
	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxmodel"
)

// ChunkClient is the subset of pkg/rpc.Client the executor needs to run one
// transfer leg.
type ChunkClient interface {
	GetChunk(ctx context.Context, chunkID string) ([]byte, bool, error)
	StoreChunk(ctx context.Context, chunkID string, data []byte) error
	VerifyChunk(ctx context.Context, chunkID string) (bool, error)
}

// NodeResolver hands back a client for a node's address; a wiring layer
// typically backs this with an *rpc.Pool.
type NodeResolver interface {
	ClientFor(ctx context.Context, nodeAddr string) (ChunkClient, error)
}

// LocationStore is the metadata write the executor performs after a
// verified transfer; *metastore.Store satisfies this structurally.
type LocationStore interface {
	AddLocation(loc cyxmodel.ChunkLocation) error
}

// ExecutorConfig mirrors cyxcloud-rebalancer's ExecutorConfig.
type ExecutorConfig struct {
	MaxConcurrent   int
	MaxPerSource    int
	MaxPerTarget    int
	TransferTimeout time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	NodeRateLimit   int64 // bytes/sec, per node
	DryRun          bool
}

func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrent:   4,
		MaxPerSource:    3,
		MaxPerTarget:    3,
		TransferTimeout: 300 * time.Second,
		MaxRetries:      3,
		RetryDelay:      5 * time.Second,
		NodeRateLimit:   100 * 1024 * 1024,
	}
}

// ProgressUpdate reports one task's transfer progress, emitted on a
// bounded channel per spec.md §4.10.
type ProgressUpdate struct {
	TaskID     string
	ChunkID    string
	Status     string // "running" | "completed" | "failed"
	BytesDone  int64
	BytesTotal int64
	Err        error
}

// TaskOutcome is one task's final result.
type TaskOutcome struct {
	ChunkID          string
	SucceededTargets []string
	FailedTargets    []string
	Err              error
}

// ExecutionResult aggregates every task's outcome.
type ExecutionResult struct {
	Completed []TaskOutcome
	Failed    []TaskOutcome
}

// Executor drives a RepairPlan's transfers with bounded concurrency, grounded
// on meshstorage/distributed.go's checkAllChunks goroutine-fan-out, tightened
// with a global semaphore (the teacher's fan-out is unbounded) and per-node
// semaphores for the source/target caps spec.md §4.10 requires.
type Executor struct {
	resolver NodeResolver
	store    LocationStore
	config   ExecutorConfig
	log      *logging.Logger

	mu          sync.Mutex
	nodeSem     map[string]chan struct{}
	nodeLimiter map[string]*rate.Limiter

	Progress chan ProgressUpdate
}

// NewExecutor builds an executor. If reportProgress is true, Progress is a
// buffered channel the caller should drain; otherwise it is nil and updates
// are dropped.
func NewExecutor(resolver NodeResolver, store LocationStore, config ExecutorConfig, reportProgress bool) *Executor {
	e := &Executor{
		resolver:    resolver,
		store:       store,
		config:      config,
		log:         logging.New("repair-executor"),
		nodeSem:     make(map[string]chan struct{}),
		nodeLimiter: make(map[string]*rate.Limiter),
	}
	if reportProgress {
		e.Progress = make(chan ProgressUpdate, 256)
	}
	return e
}

func (e *Executor) emit(update ProgressUpdate) {
	if e.Progress == nil {
		return
	}
	select {
	case e.Progress <- update:
	default:
	}
}

func (e *Executor) semaphoreFor(nodeID string, capacity int) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	sem, ok := e.nodeSem[nodeID]
	if !ok {
		sem = make(chan struct{}, capacity)
		e.nodeSem[nodeID] = sem
	}
	return sem
}

func (e *Executor) limiterFor(nodeID string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	lim, ok := e.nodeLimiter[nodeID]
	if !ok {
		burst := int(e.config.NodeRateLimit)
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(e.config.NodeRateLimit), burst)
		e.nodeLimiter[nodeID] = lim
	}
	return lim
}

// Execute runs every task in plan, bounded by MaxConcurrent, and returns
// once all tasks have finished; cancelling ctx makes waiting and in-flight
// tasks finish early with an error. nodeAddrs
// maps each node id appearing in the plan to the address NodeResolver
// should dial.
func (e *Executor) Execute(ctx context.Context, plan RepairPlan, nodeAddrs map[string]string) ExecutionResult {
	if e.config.DryRun {
		var result ExecutionResult
		for _, task := range plan.Tasks {
			e.log.Infof("dry-run: would repair chunk %s from %s to %v", task.ChunkID, task.Source, task.Targets)
			result.Completed = append(result.Completed, TaskOutcome{ChunkID: task.ChunkID, SucceededTargets: task.Targets})
		}
		return result
	}

	globalSem := make(chan struct{}, e.config.MaxConcurrent)
	resultsCh := make(chan TaskOutcome, len(plan.Tasks))

	var wg sync.WaitGroup
	for _, task := range plan.Tasks {
		wg.Add(1)
		globalSem <- struct{}{}
		go func(t RepairTask) {
			defer wg.Done()
			defer func() { <-globalSem }()
			resultsCh <- e.runTask(ctx, t, nodeAddrs)
		}(task)
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	var result ExecutionResult
	for outcome := range resultsCh {
		if outcome.Err != nil || len(outcome.FailedTargets) > 0 {
			result.Failed = append(result.Failed, outcome)
		} else {
			result.Completed = append(result.Completed, outcome)
		}
	}
	return result
}

func (e *Executor) runTask(ctx context.Context, task RepairTask, nodeAddrs map[string]string) TaskOutcome {
	taskID := task.ChunkID
	e.emit(ProgressUpdate{TaskID: taskID, ChunkID: task.ChunkID, Status: "running", BytesTotal: task.Bytes})

	sourceSem := e.semaphoreFor(task.Source, e.config.MaxPerSource)
	select {
	case sourceSem <- struct{}{}:
		defer func() { <-sourceSem }()
	case <-ctx.Done():
		return TaskOutcome{ChunkID: task.ChunkID, Err: ctx.Err()}
	}

	data, err := e.getFromSource(ctx, task, nodeAddrs)
	if err != nil {
		e.emit(ProgressUpdate{TaskID: taskID, ChunkID: task.ChunkID, Status: "failed", Err: err})
		return TaskOutcome{ChunkID: task.ChunkID, FailedTargets: task.Targets, Err: err}
	}

	outcome := TaskOutcome{ChunkID: task.ChunkID}
	var bytesDone int64
	for _, target := range task.Targets {
		if err := e.transferToTarget(ctx, task, target, data, nodeAddrs); err != nil {
			outcome.FailedTargets = append(outcome.FailedTargets, target)
			continue
		}
		outcome.SucceededTargets = append(outcome.SucceededTargets, target)
		bytesDone += int64(len(data))
		e.emit(ProgressUpdate{TaskID: taskID, ChunkID: task.ChunkID, Status: "running", BytesDone: bytesDone, BytesTotal: task.Bytes})
	}

	if len(outcome.SucceededTargets) == 0 {
		outcome.Err = cyxerr.New(cyxerr.KindInternal, "all targets failed for chunk "+task.ChunkID)
		e.emit(ProgressUpdate{TaskID: taskID, ChunkID: task.ChunkID, Status: "failed", Err: outcome.Err})
	} else {
		e.emit(ProgressUpdate{TaskID: taskID, ChunkID: task.ChunkID, Status: "completed", BytesDone: bytesDone, BytesTotal: task.Bytes})
	}
	return outcome
}

func (e *Executor) getFromSource(ctx context.Context, task RepairTask, nodeAddrs map[string]string) ([]byte, error) {
	addr, ok := nodeAddr(task.Source, nodeAddrs)
	if !ok {
		return nil, cyxerr.New(cyxerr.KindInternal, "no address for source node "+task.Source)
	}
	client, err := e.resolver.ClientFor(ctx, addr)
	if err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.config.TransferTimeout)
	defer cancel()

	data, found, err := client.GetChunk(attemptCtx, task.ChunkID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, cyxerr.New(cyxerr.KindChunkNotFound, "chunk not found at source "+task.Source)
	}
	return data, nil
}

// transferToTarget stores, verifies and registers one target location,
// retrying up to MaxRetries times with a fixed RetryDelay between attempts.
// A verification failure counts as a failed attempt and is retried like any
// other; no location is registered until VerifyChunk succeeds.
func (e *Executor) transferToTarget(ctx context.Context, task RepairTask, target string, data []byte, nodeAddrs map[string]string) error {
	targetSem := e.semaphoreFor(target, e.config.MaxPerTarget)
	select {
	case targetSem <- struct{}{}:
		defer func() { <-targetSem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	limiter := e.limiterFor(target)

	var lastErr error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.config.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := limiter.WaitN(ctx, len(data)); err != nil {
			lastErr = err
			continue
		}

		addr, ok := nodeAddr(target, nodeAddrs)
		if !ok {
			lastErr = cyxerr.New(cyxerr.KindInternal, "no address for target node "+target)
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.config.TransferTimeout)
		client, err := e.resolver.ClientFor(attemptCtx, addr)
		if err != nil {
			cancel()
			lastErr = err
			continue
		}

		if err := client.StoreChunk(attemptCtx, task.ChunkID, data); err != nil {
			cancel()
			lastErr = err
			continue
		}

		valid, err := client.VerifyChunk(attemptCtx, task.ChunkID)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		if !valid {
			lastErr = cyxerr.New(cyxerr.KindHashVerificationFailed, "verification failed on target "+target)
			continue
		}

		if err := e.store.AddLocation(cyxmodel.ChunkLocation{
			ChunkID: task.ChunkID,
			NodeID:  target,
			Status:  cyxmodel.LocationVerified,
		}); err != nil {
			return err
		}
		return nil
	}
	return lastErr
}

func nodeAddr(nodeID string, addrs map[string]string) (string, bool) {
	if addrs == nil {
		return nodeID, true
	}
	addr, ok := addrs[nodeID]
	return addr, ok
}
