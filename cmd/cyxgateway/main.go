// Package main is the control-plane daemon: it owns the metadata store and
// runs the background loops that keep the cluster healthy — the node
// lifecycle monitor (C7) and the repair detector/planner/executor
// (C8-C10) — behind a Prometheus metrics endpoint. Thin wiring only,
// analogous to the teacher's cmd/mesh-api; the REST/CLI surfaces spec.md
// excludes are not built here.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cyxwiz-lab/cyxcloud/pkg/config"
	"github.com/cyxwiz-lab/cyxcloud/pkg/lifecycle"
	"github.com/cyxwiz-lab/cyxcloud/pkg/metastore"
	"github.com/cyxwiz-lab/cyxcloud/pkg/metrics"
	"github.com/cyxwiz-lab/cyxcloud/pkg/quorum"
	"github.com/cyxwiz-lab/cyxcloud/pkg/repair"
	"github.com/cyxwiz-lab/cyxcloud/pkg/replication"
	"github.com/cyxwiz-lab/cyxcloud/pkg/rpc"
)

// poolResolver adapts *rpc.Pool to repair.NodeResolver.
type poolResolver struct {
	pool *rpc.Pool
}

func (r *poolResolver) ClientFor(ctx context.Context, nodeAddr string) (repair.ChunkClient, error) {
	return r.pool.Get(ctx, nodeAddr)
}

func main() {
	dataDir := flag.String("data", "./cyxgateway-data", "metadata store directory")
	metricsAddr := flag.String("metrics", ":9101", "Prometheus metrics listen address")
	dryRun := flag.Bool("dry-run", false, "plan repairs without executing transfers")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	fmt.Println("cyxgateway starting")

	store, err := metastore.Open(*dataDir)
	if err != nil {
		log.Fatalf("metastore: %v", err)
	}
	defer store.Close()

	m := metrics.New()
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/", newStatusRouter(store))
	httpServer := &http.Server{Addr: *metricsAddr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	// C6/C12: replication + quorum, available to whatever write path calls
	// into this process (an RPC-facing frontend is out of this daemon's
	// scope; it consumes *replication.Coordinator directly).
	quorumCfg := quorum.Config{
		ReadQuorum:        cfg.Replication.ReadQuorum,
		WriteQuorum:       cfg.Replication.WriteQuorum,
		ReplicationFactor: cfg.Replication.ReplicationFactor,
		NodeTimeout:       cfg.Replication.NodeTimeout,
		QuorumTimeout:     cfg.Replication.QuorumTimeout,
	}
	_ = replication.New(quorumCfg)

	// C7: node lifecycle monitor.
	monitor := lifecycle.New(store, lifecycle.Config{
		ScanInterval:       cfg.Lifecycle.ScanInterval,
		OfflineThreshold:   cfg.Lifecycle.OfflineThreshold,
		DrainThreshold:     cfg.Lifecycle.DrainThreshold,
		RemoveThreshold:    cfg.Lifecycle.RemoveThreshold,
		RecoveryQuarantine: cfg.Lifecycle.RecoveryQuarantine,
	})
	monitor.Start(ctx)
	defer monitor.Stop()

	// C8/C9/C10: the independent repair control loop.
	detector := repair.NewDetector(store, store, repair.DefaultDetectorConfig())
	planner := repair.NewPlanner(repair.PlannerConfig{
		MaxTasks:     cfg.Planner.MaxTasks,
		MaxBytes:     cfg.Planner.MaxBytes,
		PreferLocal:  cfg.Planner.PreferLocal,
		MaxNodeLoad:  cfg.Planner.MaxNodeLoad,
		MaxPerSource: cfg.Executor.MaxPerSource,
		MaxPerTarget: cfg.Executor.MaxPerTarget,
	})

	var tlsConfig *tls.Config
	if cfg.TLS.CertPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		if err != nil {
			log.Fatalf("tls: %v", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	pool := rpc.NewPool(cfg.Pool.MaxConns, cfg.Pool.IdleTimeout, cfg.Pool.ConnectTimeout, tlsConfig)
	defer pool.Close()

	execConfig := repair.ExecutorConfig{
		MaxConcurrent:   cfg.Executor.MaxConcurrent,
		MaxPerSource:    cfg.Executor.MaxPerSource,
		MaxPerTarget:    cfg.Executor.MaxPerTarget,
		TransferTimeout: cfg.Executor.TransferTimeout,
		MaxRetries:      cfg.Executor.MaxRetries,
		RetryDelay:      cfg.Executor.RetryDelay,
		NodeRateLimit:   cfg.Executor.NodeRateLimit,
		DryRun:          *dryRun,
	}
	executor := repair.NewExecutor(&poolResolver{pool: pool}, store, execConfig, true)

	go runRepairLoop(ctx, store, detector, planner, executor, m)

	fmt.Printf("metadata store at %s, metrics on %s\n", *dataDir, *metricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}

// runRepairLoop ties the detector, planner and executor into one periodic
// pass, per spec.md §2's "C8/C9/C10 form an independent control loop that
// continually restores the replication invariant."
func runRepairLoop(ctx context.Context, store *metastore.Store, detector *repair.Detector, planner *repair.Planner, executor *repair.Executor, m *metrics.Metrics) {
	ticker := time.NewTicker(repair.DefaultDetectorConfig().ScanInterval)
	defer ticker.Stop()

	go func() {
		for update := range executor.Progress {
			if update.Status == "completed" || update.Status == "failed" {
				m.RecordRepairTask(update.Status, 0, update.BytesDone)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scan, err := detector.Scan()
			if err != nil {
				log.Printf("repair scan failed: %v", err)
				continue
			}
			m.SetChunksUnderReplicated(len(scan.Issues))
			for _, issue := range scan.Issues {
				m.RecordIssueDetected(issue.Health.String())
			}
			if len(scan.Issues) == 0 {
				continue
			}

			nodes, err := buildNodeInfo(store)
			if err != nil {
				log.Printf("repair: failed to list nodes: %v", err)
				continue
			}

			chunkBytes := make(map[string]int64, len(scan.Issues))
			for _, issue := range scan.Issues {
				if chunk, ok, err := store.GetChunkByID(issue.ChunkID); err == nil && ok {
					chunkBytes[issue.ChunkID] = int64(chunk.Size)
				}
			}
			addrs := make(map[string]string, len(nodes))
			for _, n := range nodes {
				addrs[n.ID] = n.Address
			}

			plan := planner.CreatePlan(scan.Issues, nodes, chunkBytes)
			if len(plan.Tasks) == 0 {
				continue
			}
			executor.Execute(ctx, plan, addrs)
		}
	}
}

// statusResponse mirrors the teacher's api.StatusResponse shape, narrowed
// to cluster-level health since per-chunk status needs an upload/download
// frontend this daemon doesn't provide.
type statusResponse struct {
	Healthy     bool `json:"healthy"`
	NodeCount   int  `json:"nodeCount"`
	OnlineNodes int  `json:"onlineNodes"`
}

// newStatusRouter builds the minimal gin health/status surface, grounded on
// meshstorage/api/status.go's handler shape but trimmed to what a
// control-plane daemon without its own ingest path can actually report.
func newStatusRouter(store *metastore.Store) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/status", func(c *gin.Context) {
		nodes, err := store.ListAllNodes()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		online := 0
		for _, n := range nodes {
			if n.ReadHealthy() {
				online++
			}
		}
		c.JSON(http.StatusOK, statusResponse{
			Healthy:     online > 0,
			NodeCount:   len(nodes),
			OnlineNodes: online,
		})
	})

	return r
}

func buildNodeInfo(store *metastore.Store) ([]repair.NodeInfo, error) {
	nodes, err := store.ListAllNodes()
	if err != nil {
		return nil, err
	}
	infos := make([]repair.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		infos = append(infos, repair.NodeInfo{
			ID:               n.ID,
			Address:          n.GRPCAddress,
			Datacenter:       n.Datacenter,
			Healthy:          n.WriteHealthy(),
			Load:             n.Load(),
			AvailableStorage: n.Available(),
		})
	}
	return infos, nil
}
