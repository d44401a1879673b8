package discovery

import (
	"container/list"
	"sync"
	"time"
)

const (
	// K is the replication parameter (bucket size), preserved from the
	// teacher's dht.K.
	K = 20

	// Alpha is the lookup concurrency parameter, preserved from the
	// teacher's dht.Alpha.
	Alpha = 3

	// BucketCount is the number of k-buckets: one per bit of the 256-bit
	// peer-id space (versus the teacher's 160 for SHA-1 ids).
	BucketCount = 256
)

// Peer is one entry in the routing table: an address plus liveness and
// capacity bookkeeping, generalized from dht.Contact with the
// spec.md §4.13 fields (grpc_port, agent_version, latency_ms) folded in.
type Peer struct {
	ID           PeerID
	Addresses    []string
	GRPCPort     int
	AgentVersion string
	LatencyMS    float64
	LastSeen     time.Time
	FailedPings  int
}

// NewPeer creates a Peer with LastSeen set to now.
func NewPeer(id PeerID, addresses []string, grpcPort int) Peer {
	return Peer{ID: id, Addresses: addresses, GRPCPort: grpcPort, LastSeen: time.Now()}
}

// bucket is a k-bucket: an LRU list of peers sharing a common prefix
// length, mirroring dht.Bucket.
type bucket struct {
	peers *list.List
	mu    sync.RWMutex
}

func newBucket() *bucket {
	return &bucket{peers: list.New()}
}

// add inserts or refreshes a peer, LRU-ordered. Returns false when the
// bucket is full and the peer is new (the caller may ping the bucket's
// least-recently-seen entry and evict it before retrying).
func (b *bucket) add(peer Peer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for e := b.peers.Front(); e != nil; e = e.Next() {
		p := e.Value.(*Peer)
		if p.ID.Equals(peer.ID) {
			b.peers.MoveToBack(e)
			p.Addresses = peer.Addresses
			p.GRPCPort = peer.GRPCPort
			p.AgentVersion = peer.AgentVersion
			p.LastSeen = time.Now()
			p.FailedPings = 0
			return true
		}
	}

	if b.peers.Len() < K {
		p := peer
		b.peers.PushBack(&p)
		return true
	}
	return false
}

func (b *bucket) remove(id PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for e := b.peers.Front(); e != nil; e = e.Next() {
		if e.Value.(*Peer).ID.Equals(id) {
			b.peers.Remove(e)
			return
		}
	}
}

func (b *bucket) all() []*Peer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	result := make([]*Peer, 0, b.peers.Len())
	for e := b.peers.Front(); e != nil; e = e.Next() {
		result = append(result, e.Value.(*Peer))
	}
	return result
}

func (b *bucket) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.peers.Len()
}

// RoutingTable is the Kademlia routing table over the 256-bit peer-id
// space, directly generalized from dht.RoutingTable.
type RoutingTable struct {
	self    PeerID
	buckets [BucketCount]*bucket
}

// NewRoutingTable creates an empty routing table for the given local peer.
func NewRoutingTable(self PeerID) *RoutingTable {
	rt := &RoutingTable{self: self}
	for i := range rt.buckets {
		rt.buckets[i] = newBucket()
	}
	return rt
}

func (rt *RoutingTable) bucketIndex(id PeerID) int {
	idx := rt.self.CommonPrefixLen(id)
	if idx >= BucketCount {
		idx = BucketCount - 1
	}
	return idx
}

// AddPeer adds or refreshes a peer, refusing to add the local peer itself.
func (rt *RoutingTable) AddPeer(peer Peer) bool {
	if peer.ID.Equals(rt.self) {
		return false
	}
	return rt.buckets[rt.bucketIndex(peer.ID)].add(peer)
}

// RemovePeer evicts a peer.
func (rt *RoutingTable) RemovePeer(id PeerID) {
	rt.buckets[rt.bucketIndex(id)].remove(id)
}

// GetPeer returns a specific peer, or nil if not present.
func (rt *RoutingTable) GetPeer(id PeerID) *Peer {
	for _, p := range rt.buckets[rt.bucketIndex(id)].all() {
		if p.ID.Equals(id) {
			return p
		}
	}
	return nil
}

// FindClosest returns up to count peers closest to target by XOR distance.
func (rt *RoutingTable) FindClosest(target PeerID, count int) []*Peer {
	var all []*Peer
	for _, b := range rt.buckets {
		all = append(all, b.all()...)
	}

	sortByDistance(all, target)

	if len(all) > count {
		return all[:count]
	}
	return all
}

// AllPeers returns every peer currently held, across all buckets.
func (rt *RoutingTable) AllPeers() []*Peer {
	var all []*Peer
	for _, b := range rt.buckets {
		all = append(all, b.all()...)
	}
	return all
}

// Size returns the total number of peers held.
func (rt *RoutingTable) Size() int {
	total := 0
	for _, b := range rt.buckets {
		total += b.len()
	}
	return total
}
