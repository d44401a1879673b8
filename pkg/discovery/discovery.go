package discovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cyxwiz-lab/cyxcloud/internal/logging"
)

// DefaultPeerTimeout is the staleness threshold after which a peer with no
// successful ping or announcement is evicted, per spec.md §4.13.
const DefaultPeerTimeout = 5 * time.Minute

// Transport is the wire-level operation set a Table needs; a concrete
// implementation dials pkg/rpc or a dedicated discovery service. Kept as
// an interface (rather than the teacher's hardwired net.Dial + JSON
// framing in dht/node.go) so the lookup algorithm is transport-agnostic.
type Transport interface {
	Ping(ctx context.Context, peer Peer) (rtt time.Duration, err error)
	FindNode(ctx context.Context, peer Peer, target PeerID) ([]Peer, error)
	Announce(ctx context.Context, peer Peer, ann Announcement) error
}

// Table is one node's view of the peer network: a routing table plus the
// last announcement heard from each known peer. Generalizes dht.Node's
// routing-table-plus-storage shape, with the DHT value store (used for
// the teacher's chunk announcements) replaced by spec.md §4.13's
// narrower NodeCapacity/NodeLocation announcement record.
type Table struct {
	self      Peer
	rt        *RoutingTable
	transport Transport
	log       *logging.Logger

	peerTimeout time.Duration

	mu            sync.RWMutex
	announcements map[PeerID]announcementRecord
}

// New creates a Table for the local peer.
func New(self Peer, transport Transport, peerTimeout time.Duration) *Table {
	if peerTimeout <= 0 {
		peerTimeout = DefaultPeerTimeout
	}
	return &Table{
		self:          self,
		rt:            NewRoutingTable(self.ID),
		transport:     transport,
		log:           logging.New("discovery"),
		peerTimeout:   peerTimeout,
		announcements: make(map[PeerID]announcementRecord),
	}
}

// AddPeer manually inserts a peer into the routing table, e.g. a
// bootstrap node supplied out-of-band.
func (t *Table) AddPeer(peer Peer) {
	t.rt.AddPeer(peer)
}

// Bootstrap joins the network through a known peer: adds it, then looks
// up the local peer's own ID to populate nearby buckets, mirroring
// dht.Node.Bootstrap.
func (t *Table) Bootstrap(ctx context.Context, bootstrap Peer) error {
	t.rt.AddPeer(bootstrap)
	t.Lookup(ctx, t.self.ID, K)
	return nil
}

// Lookup performs an iterative FIND_NODE, returning the k closest known
// peers to target. Directly generalizes dht.Node.iterativeFindNode's
// alpha-bounded concurrent-query loop.
func (t *Table) Lookup(ctx context.Context, target PeerID, k int) []*Peer {
	shortlist := t.rt.FindClosest(target, k)
	if len(shortlist) == 0 {
		return nil
	}

	queried := make(map[PeerID]bool)
	queried[t.self.ID] = true

	var closestSeen *Peer = shortlist[0]

	for {
		toQuery := make([]*Peer, 0, Alpha)
		for _, p := range shortlist {
			if !queried[p.ID] && len(toQuery) < Alpha {
				toQuery = append(toQuery, p)
			}
		}
		if len(toQuery) == 0 {
			break
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		var newPeers []*Peer

		for _, p := range toQuery {
			wg.Add(1)
			go func(peer *Peer) {
				defer wg.Done()

				mu.Lock()
				queried[peer.ID] = true
				mu.Unlock()

				found, err := t.transport.FindNode(ctx, *peer, target)
				if err != nil {
					t.log.Warnf("find_node to %s failed: %v", peer.ID, err)
					return
				}

				mu.Lock()
				for _, fp := range found {
					if !queried[fp.ID] && !fp.ID.Equals(t.self.ID) {
						p := fp
						newPeers = append(newPeers, &p)
						t.rt.AddPeer(fp)
					}
				}
				mu.Unlock()
			}(p)
		}
		wg.Wait()

		shortlist = append(shortlist, newPeers...)
		sortByDistance(shortlist, target)
		if len(shortlist) > k {
			shortlist = shortlist[:k]
		}

		if len(shortlist) == 0 {
			break
		}
		if closestSeen == nil || shortlist[0].ID.CloserTo(target, closestSeen.ID) {
			closestSeen = shortlist[0]
		} else {
			break
		}
	}

	return shortlist
}

// Ping checks liveness of a known peer and folds the observed RTT into
// its rolling latency average, evicting it after three consecutive
// failures (mirroring dht.Bucket's FailedPings bookkeeping, which the
// teacher tracks but never acts on).
func (t *Table) Ping(ctx context.Context, id PeerID) error {
	peer := t.rt.GetPeer(id)
	if peer == nil {
		return nil
	}

	rtt, err := t.transport.Ping(ctx, *peer)
	if err != nil {
		peer.FailedPings++
		if peer.FailedPings >= 3 {
			t.rt.RemovePeer(id)
		}
		return err
	}

	peer.FailedPings = 0
	peer.LastSeen = time.Now()
	if peer.LatencyMS == 0 {
		peer.LatencyMS = float64(rtt.Milliseconds())
	} else {
		// Exponential moving average, alpha=0.2.
		peer.LatencyMS = 0.8*peer.LatencyMS + 0.2*float64(rtt.Milliseconds())
	}
	return nil
}

// Announce broadcasts the local peer's capacity and location to every
// peer currently known, per spec.md §4.13's periodic-announcement
// requirement.
func (t *Table) Announce(ctx context.Context, capacity NodeCapacity, location NodeLocation) {
	ann := Announcement{Peer: t.self, Capacity: capacity, Location: location, StampedAt: time.Now()}
	for _, peer := range t.rt.AllPeers() {
		go func(p Peer) {
			if err := t.transport.Announce(ctx, p, ann); err != nil {
				t.log.Warnf("announce to %s failed: %v", p.ID, err)
			}
		}(*peer)
	}
}

// RecordAnnouncement stores an announcement heard from another peer
// (whether pushed to us, or received as part of handling an incoming
// Announce RPC) and refreshes that peer's routing-table entry.
func (t *Table) RecordAnnouncement(ann Announcement) {
	t.rt.AddPeer(ann.Peer)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.announcements[ann.Peer.ID] = announcementRecord{announcement: ann, receivedAt: time.Now()}
}

// LastAnnouncement returns the most recently recorded announcement for a
// peer, if any.
func (t *Table) LastAnnouncement(id PeerID) (Announcement, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.announcements[id]
	return rec.announcement, ok
}

// EvictStale removes every peer whose LastSeen exceeds the configured
// peer_timeout, per spec.md §4.13.
func (t *Table) EvictStale(now time.Time) int {
	evicted := 0
	for _, p := range t.rt.AllPeers() {
		if now.Sub(p.LastSeen) > t.peerTimeout {
			t.rt.RemovePeer(p.ID)
			t.mu.Lock()
			delete(t.announcements, p.ID)
			t.mu.Unlock()
			evicted++
		}
	}
	return evicted
}

// Run starts the background eviction loop; it returns when ctx is done.
func (t *Table) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := t.EvictStale(now); n > 0 {
				t.log.Infof("evicted %d stale peers", n)
			}
		}
	}
}

// Size returns the number of peers currently known.
func (t *Table) Size() int {
	return t.rt.Size()
}

func sortByDistance(peers []*Peer, target PeerID) {
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].ID.CloserTo(target, peers[j].ID)
	})
}
