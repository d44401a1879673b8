// Package repair implements the Repair Detector (C8), Planner (C9) and
// Executor (C10) from spec.md §4.8-4.10: a periodic scan for under-replicated
// chunks, a bounded plan mapping issues onto candidate nodes, and a
// concurrency-limited executor that drives the actual transfers through
// pkg/rpc. Grounded on
// original_source/cyxcloud-rebalancer/src/detector.rs's ChunkHealth/
// ChunkIssue/priority scoring and
// ZentaChain-zentalk-node/pkg/meshstorage/distributed.go's
// checkAllChunks ticker-and-goroutine-fan-out texture.
package repair

import (
	"sort"
	"time"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxmodel"
)

// Health is one of the chunk health variants from spec.md §4.8.
type Health int

const (
	HealthHealthy Health = iota
	HealthUnderReplicated
	HealthCritical
	HealthOverReplicated
	HealthOrphaned
	HealthCorrupt
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnderReplicated:
		return "under_replicated"
	case HealthCritical:
		return "critical"
	case HealthOverReplicated:
		return "over_replicated"
	case HealthOrphaned:
		return "orphaned"
	case HealthCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// ChunkIssue is one chunk flagged for repair attention.
type ChunkIssue struct {
	ChunkID      string
	FileID       string
	Health       Health
	Current      int
	Target       int
	CurrentNodes []string
	Priority     uint32
	DetectedAt   time.Time
}

// priority implements spec.md §4.8's scoring table. totalLocations is the
// chunk's raw ChunkLocation count, unfiltered by node health — it is what
// distinguishes "zero locations at all" (1000) from "zero reachable
// locations, but some exist" (900).
func priority(health Health, current, target, totalLocations int) uint32 {
	switch health {
	case HealthCritical:
		if totalLocations == 0 {
			return 1000
		}
		return 900
	case HealthUnderReplicated:
		deficit := target - current
		if deficit < 0 {
			deficit = 0
		}
		return uint32(500 + 100*deficit)
	case HealthCorrupt:
		return 700
	case HealthOverReplicated:
		return 100
	case HealthOrphaned:
		return 50
	default:
		return 0
	}
}

// NodeSet answers read-healthiness questions the detector needs about the
// fleet without requiring a direct pkg/metastore import.
type NodeSet interface {
	ListOnlineNodes() ([]cyxmodel.Node, error)
	ListAllNodes() ([]cyxmodel.Node, error)
}

// MetadataSource is the subset of pkg/metastore.Store the detector scans.
type MetadataSource interface {
	GetUnderReplicated(limit int) ([]cyxmodel.ChunkRecord, error)
	ListLocationsByChunk(chunkID string) ([]cyxmodel.ChunkLocation, error)
}

// DetectorConfig mirrors cyxcloud-rebalancer's DetectorConfig.
type DetectorConfig struct {
	BatchSize    int
	ScanInterval time.Duration
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{BatchSize: 1000, ScanInterval: 60 * time.Second}
}

// Detector scans C4 for chunks needing repair attention.
type Detector struct {
	store  MetadataSource
	nodes  NodeSet
	config DetectorConfig
}

func NewDetector(store MetadataSource, nodes NodeSet, config DetectorConfig) *Detector {
	return &Detector{store: store, nodes: nodes, config: config}
}

// ScanResult collects every issue found by one scan, already sorted by
// descending priority.
type ScanResult struct {
	TotalScanned int
	Issues       []ChunkIssue
}

// HasCritical reports whether any issue reached Critical severity.
func (r ScanResult) HasCritical() bool {
	for _, i := range r.Issues {
		if i.Health == HealthCritical {
			return true
		}
	}
	return false
}

// Scan runs one detection pass over C4's under-replicated chunks, filtering
// each chunk's location list down to read-healthy nodes before computing
// its current replica count, per spec.md §4.8.
func (d *Detector) Scan() (ScanResult, error) {
	all, err := d.nodes.ListAllNodes()
	if err != nil {
		return ScanResult{}, err
	}
	readHealthy := make(map[string]bool, len(all))
	for _, n := range all {
		readHealthy[n.ID] = n.ReadHealthy()
	}

	chunks, err := d.store.GetUnderReplicated(d.config.BatchSize)
	if err != nil {
		return ScanResult{}, err
	}

	result := ScanResult{TotalScanned: len(chunks)}
	for _, chunk := range chunks {
		locations, err := d.store.ListLocationsByChunk(chunk.ID)
		if err != nil {
			return ScanResult{}, err
		}

		var current []string
		for _, loc := range locations {
			if readHealthy[loc.NodeID] && (loc.Status == cyxmodel.LocationStored || loc.Status == cyxmodel.LocationVerified) {
				current = append(current, loc.NodeID)
			}
		}

		health := HealthUnderReplicated
		if len(current) == 0 {
			health = HealthCritical
		}

		issue := ChunkIssue{
			ChunkID:      chunk.ID,
			FileID:       chunk.FileID,
			Health:       health,
			Current:      len(current),
			Target:       chunk.ReplicationFactor,
			CurrentNodes: current,
			DetectedAt:   time.Now(),
		}
		issue.Priority = priority(health, issue.Current, issue.Target, len(locations))
		result.Issues = append(result.Issues, issue)
	}

	sortIssuesByPriority(result.Issues)
	return result, nil
}

func sortIssuesByPriority(issues []ChunkIssue) {
	sort.Slice(issues, func(i, j int) bool { return issues[i].Priority > issues[j].Priority })
}
