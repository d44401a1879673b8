// Package main is the storage node daemon: it serves chunks over pkg/rpc
// and participates in peer discovery. It does not send lifecycle
// heartbeats to the metadata store. Thin wiring only, analogous to the teacher's
// cmd/mesh-api — the CLI/S3 surfaces spec.md excludes are not built here.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyxwiz-lab/cyxcloud/pkg/chunkstore"
	"github.com/cyxwiz-lab/cyxcloud/pkg/config"
	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxerr"
	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxhash"
	"github.com/cyxwiz-lab/cyxcloud/pkg/discovery"
	"github.com/cyxwiz-lab/cyxcloud/pkg/metrics"
	"github.com/cyxwiz-lab/cyxcloud/pkg/rpc"
)

// chunkHandler adapts chunkstore.Store to rpc.Handler.
type chunkHandler struct {
	store chunkstore.Store
}

func (h *chunkHandler) StoreChunk(ctx context.Context, chunkID string, data []byte) error {
	id, err := cyxhash.ParseHex(chunkID)
	if err != nil {
		return cyxerr.Wrap(cyxerr.KindInvalidChunkId, "bad chunk id", err)
	}
	return h.store.Put(id, data)
}

func (h *chunkHandler) GetChunk(ctx context.Context, chunkID string) ([]byte, bool, error) {
	id, err := cyxhash.ParseHex(chunkID)
	if err != nil {
		return nil, false, cyxerr.Wrap(cyxerr.KindInvalidChunkId, "bad chunk id", err)
	}
	return h.store.Get(id)
}

func (h *chunkHandler) VerifyChunk(ctx context.Context, chunkID string) (bool, error) {
	id, err := cyxhash.ParseHex(chunkID)
	if err != nil {
		return false, cyxerr.Wrap(cyxerr.KindInvalidChunkId, "bad chunk id", err)
	}
	data, ok, err := h.store.Get(id)
	if err != nil || !ok {
		return false, err
	}
	return cyxhash.Hash(data).Equal(id), nil
}

func (h *chunkHandler) DeleteChunk(ctx context.Context, chunkID string) (bool, error) {
	id, err := cyxhash.ParseHex(chunkID)
	if err != nil {
		return false, cyxerr.Wrap(cyxerr.KindInvalidChunkId, "bad chunk id", err)
	}
	return h.store.Delete(id)
}

func (h *chunkHandler) StreamChunks(ctx context.Context, chunkIDs []string) (map[string][]byte, []string, error) {
	found := make(map[string][]byte, len(chunkIDs))
	var missing []string
	for _, chunkID := range chunkIDs {
		data, ok, err := h.GetChunk(ctx, chunkID)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			found[chunkID] = data
		} else {
			missing = append(missing, chunkID)
		}
	}
	return found, missing, nil
}

func main() {
	dataDir := flag.String("data", "./cyxnode-data", "chunk storage directory")
	capacityGB := flag.Int64("capacity-gb", 100, "storage capacity in GiB")
	listenAddr := flag.String("listen", "", "RPC listen address (overrides LISTEN_ADDR)")
	metricsAddr := flag.String("metrics", ":9100", "Prometheus metrics listen address")
	bootstrap := flag.String("bootstrap", "", "bootstrap peer address, host:port")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	addr := cfg.ListenAddr
	if *listenAddr != "" {
		addr = *listenAddr
	}

	fmt.Println("cyxnode starting")

	store, err := chunkstore.NewSQLiteStore(*dataDir, *capacityGB*1024*1024*1024)
	if err != nil {
		log.Fatalf("chunkstore: %v", err)
	}
	defer store.Close()

	handler := &chunkHandler{store: store}
	server := rpc.NewServer(addr, handler, nil)

	m := metrics.New()
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	httpServer := &http.Server{Addr: *metricsAddr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := server.Serve(ctx); err != nil {
			log.Printf("rpc server stopped: %v", err)
		}
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	self := discovery.NewPeer(discovery.RandomPeerID(), []string{addr}, 0)
	table := discovery.New(self, nil, discovery.DefaultPeerTimeout)
	if *bootstrap != "" {
		fmt.Printf("bootstrap peer configured at %s (transport wiring is left to the deployment layer)\n", *bootstrap)
	}
	go table.Run(ctx, time.Minute)

	fmt.Printf("serving chunks on %s, metrics on %s\n", addr, *metricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down")
	cancel()
	server.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}
