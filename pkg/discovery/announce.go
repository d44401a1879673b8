package discovery

import "time"

// NodeCapacity is the storage-capacity half of a periodic announcement,
// per spec.md §4.13.
type NodeCapacity struct {
	TotalBytes     int64
	UsedBytes      int64
	AvailableBytes int64
}

// NodeLocation is the topology half of a periodic announcement: which
// datacenter/region a node belongs to, consumed by C9's
// different-datacenter target preference.
type NodeLocation struct {
	Datacenter string
	Region     string
}

// Announcement is what a peer periodically broadcasts to the peers it
// knows about: its identity, reachable addresses, and current capacity
// and location.
type Announcement struct {
	Peer      Peer
	Capacity  NodeCapacity
	Location  NodeLocation
	StampedAt time.Time
}

// announcementRecord pairs the last-received Announcement from a peer
// with when it was recorded, so stale announcements can be distinguished
// from a peer that has gone quiet but whose last-known capacity is still
// worth returning.
type announcementRecord struct {
	announcement Announcement
	receivedAt   time.Time
}
