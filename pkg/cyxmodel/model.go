// Package cyxmodel defines the data model from spec.md §3: Node, File,
// ChunkLocation and RepairJob, owned exclusively by the metadata store
// (pkg/metastore) per spec.md §3's ownership note. Chunk/Shard value types
// live in pkg/chunk; ChunkId lives in pkg/cyxhash.
package cyxmodel

import "time"

// NodeStatus is one of the five states in spec.md §3's Node model.
type NodeStatus string

const (
	NodeOnline      NodeStatus = "online"
	NodeOffline     NodeStatus = "offline"
	NodeRecovering  NodeStatus = "recovering"
	NodeDraining    NodeStatus = "draining"
	NodeMaintenance NodeStatus = "maintenance"
)

// Node is a storage node in the fleet.
type Node struct {
	ID               string
	PeerID           string
	GRPCAddress      string
	StorageTotal     int64
	StorageReserved  int64
	StorageUsed      int64
	BandwidthMbps    int64
	Region           string
	Datacenter       string
	Rack             string
	Status           NodeStatus
	LastHeartbeat    time.Time
	FirstOfflineAt   *time.Time
	StatusChangedAt  time.Time
	FailureCount     int
}

// Available returns total - reserved - used, clamped to >= 0.
func (n Node) Available() int64 {
	avail := n.StorageTotal - n.StorageReserved - n.StorageUsed
	if avail < 0 {
		return 0
	}
	return avail
}

// ReadHealthy reports whether the node may serve reads: Online or
// Recovering.
func (n Node) ReadHealthy() bool {
	return n.Status == NodeOnline || n.Status == NodeRecovering
}

// WriteHealthy reports whether the node may receive new writes: Online
// only.
func (n Node) WriteHealthy() bool {
	return n.Status == NodeOnline
}

// Load approximates current utilization as used/total, used by the
// repair planner's max_node_load exclusion.
func (n Node) Load() float64 {
	if n.StorageTotal == 0 {
		return 1.0
	}
	return float64(n.StorageUsed) / float64(n.StorageTotal)
}

// FileStatus is one of the linear-forward states in spec.md §3.
type FileStatus string

const (
	FilePending   FileStatus = "pending"
	FileUploading FileStatus = "uploading"
	FileComplete  FileStatus = "complete"
	FileFailed    FileStatus = "failed"
	FileDeleted   FileStatus = "deleted"
)

// File pins the whole-file content hash and the (k,m) erasure parameters
// used for every chunk, per spec.md §6's "stores it on the File entity."
type File struct {
	ID            string
	Name          string
	Path          string
	ContentHash   string
	SizeBytes     int64
	ChunkCount    int
	DataShards    int
	ParityShards  int
	ChunkSize     int
	OwnerID       string
	Bucket        string
	Status        FileStatus
	CreatedAt     time.Time
	Metadata      map[string]string
}

// LocationStatus is the per-(chunk,node) mapping's status.
type LocationStatus string

const (
	LocationPending  LocationStatus = "pending"
	LocationStored   LocationStatus = "stored"
	LocationVerified LocationStatus = "verified"
	LocationFailed   LocationStatus = "failed"
)

// ChunkLocation maps one chunk to one node.
type ChunkLocation struct {
	ChunkID               string
	NodeID                string
	Status                LocationStatus
	LastVerified          *time.Time
	VerificationFailures  int
}

// RepairJobStatus is one of the four states in spec.md §3.
type RepairJobStatus string

const (
	RepairQueued    RepairJobStatus = "queued"
	RepairRunning   RepairJobStatus = "running"
	RepairCompleted RepairJobStatus = "completed"
	RepairFailed    RepairJobStatus = "failed"
)

// RepairJob is a queued or in-flight chunk transfer.
type RepairJob struct {
	ID           string
	ChunkID      string
	SourceNodeID string
	TargetNodeID string
	Status       RepairJobStatus
	Priority     uint32
	RetryCount   int
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Error        string
}

// ChunkRecord is the metadata-store-owned record of a stored chunk
// (distinct from the chunk's byte payload, which lives in the chunk store).
type ChunkRecord struct {
	ID               string
	FileID           string
	Index            int
	Size             int
	CurrentReplicas  int
	ReplicationFactor int
}

// UnderReplicated reports whether the chunk has fewer replicas than its
// replication factor requires.
func (c ChunkRecord) UnderReplicated() bool {
	return c.CurrentReplicas < c.ReplicationFactor
}
