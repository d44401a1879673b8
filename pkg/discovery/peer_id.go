// Package discovery implements the Peer Discovery component (C13): a
// Kademlia-style peer index with k-bucket routing, iterative FIND_NODE
// lookups, and periodic capacity/location announcements. Directly
// generalized from ZentaChain-zentalk-node/pkg/dht (NodeID/RoutingTable/
// k-buckets/iterative lookup), widened from a 160-bit SHA-1 identifier
// space to the 256-bit Blake3 space pkg/cyxhash already uses, so a peer id
// and a ChunkId share the same hash primitive.
package discovery

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxhash"
)

// PeerID is a 256-bit Kademlia peer identifier (Blake3 digest of the peer's
// public key or address, at the caller's discretion).
type PeerID [cyxhash.Size]byte

// ZeroPeerID returns the zero peer ID.
func ZeroPeerID() PeerID {
	return PeerID{}
}

// NewPeerID derives a PeerID from arbitrary identifying bytes.
func NewPeerID(data []byte) PeerID {
	return PeerID(cyxhash.Hash(data))
}

// NewPeerIDFromHex parses a hex-encoded PeerID.
func NewPeerIDFromHex(s string) (PeerID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PeerID{}, err
	}
	var id PeerID
	copy(id[:], b)
	return id, nil
}

// RandomPeerID generates a random peer ID, for tests and bootstrap nodes
// that have not yet derived an identity from a keypair.
func RandomPeerID() PeerID {
	var id PeerID
	rand.Read(id[:])
	return id
}

// String returns the hex representation of the peer ID.
func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// Equals reports whether two peer IDs are identical.
func (id PeerID) Equals(other PeerID) bool {
	return id == other
}

// Xor returns the XOR distance between two peer IDs.
func (id PeerID) Xor(other PeerID) PeerID {
	var result PeerID
	for i := range id {
		result[i] = id[i] ^ other[i]
	}
	return result
}

// Distance returns the XOR distance as a big.Int, for tie-breaking and
// diagnostics.
func (id PeerID) Distance(other PeerID) *big.Int {
	xor := id.Xor(other)
	return new(big.Int).SetBytes(xor[:])
}

// CommonPrefixLen returns the number of leading bits id and other share,
// used to pick a k-bucket index.
func (id PeerID) CommonPrefixLen(other PeerID) int {
	xor := id.Xor(other)
	for i := range xor {
		if xor[i] != 0 {
			b := xor[i]
			for j := 7; j >= 0; j-- {
				if (b & (1 << uint(j))) != 0 {
					return i*8 + (7 - j)
				}
			}
		}
	}
	return cyxhash.Size * 8
}

// CloserTo reports whether id is closer to target than other is, under the
// XOR metric.
func (id PeerID) CloserTo(target, other PeerID) bool {
	for i := range id {
		d1 := id[i] ^ target[i]
		d2 := other[i] ^ target[i]
		if d1 != d2 {
			return d1 < d2
		}
	}
	return false
}
