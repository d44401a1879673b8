// Package cyxhash implements content addressing: Blake3 hashing of chunk
// plaintext into a ChunkId, with cyx:// base58 and hex codecs at the RPC
// and URI boundaries.
package cyxhash

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"lukechampine.com/blake3"
)

const (
	// Size is the length in bytes of a ChunkId (Blake3-256 digest).
	Size = 32

	// URIScheme is the cyx:// URI prefix for a base58-encoded ChunkId.
	URIScheme = "cyx://"

	// parallelThreshold is the input size from which Hash routes the input
	// through HashParallel instead of blake3.Sum256.
	parallelThreshold = 8 * 1024 * 1024
)

// ChunkId is the 32-byte Blake3 digest of a chunk's plaintext. Identity is
// by byte equality.
type ChunkId [Size]byte

// String renders the hex form, used at RPC boundaries.
func (id ChunkId) String() string {
	return hex.EncodeToString(id[:])
}

// URI renders the cyx:// base58 form used in user-facing addresses.
func (id ChunkId) URI() string {
	return URIScheme + base58.Encode(id[:])
}

// IsZero reports whether id is the zero value (never a valid hash of any
// input, used as a sentinel for "unset").
func (id ChunkId) IsZero() bool {
	return id == ChunkId{}
}

// Equal reports byte equality between two ChunkIds in constant time, so
// that comparisons on the corrupt-chunk path do not leak timing
// information about where a mismatch occurred.
func (id ChunkId) Equal(other ChunkId) bool {
	return subtle.ConstantTimeCompare(id[:], other[:]) == 1
}

// ParseURI parses a cyx://<base58> URI into a ChunkId.
func ParseURI(uri string) (ChunkId, error) {
	if !strings.HasPrefix(uri, URIScheme) {
		return ChunkId{}, fmt.Errorf("cyxhash: missing %s prefix", URIScheme)
	}
	decoded, err := base58.Decode(strings.TrimPrefix(uri, URIScheme))
	if err != nil {
		return ChunkId{}, fmt.Errorf("cyxhash: invalid base58: %w", err)
	}
	return fromBytes(decoded)
}

// ParseHex parses a lowercase-hex ChunkId, as accepted at the RPC boundary.
func ParseHex(s string) (ChunkId, error) {
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return ChunkId{}, fmt.Errorf("cyxhash: invalid hex: %w", err)
	}
	return fromBytes(decoded)
}

func fromBytes(b []byte) (ChunkId, error) {
	if len(b) != Size {
		return ChunkId{}, fmt.Errorf("cyxhash: expected %d bytes, got %d", Size, len(b))
	}
	var id ChunkId
	copy(id[:], b)
	return id, nil
}

// Hash computes the ChunkId of data, using HashParallel for inputs of at
// least parallelThreshold bytes. Both paths compute the same Blake3-256
// digest, so they produce bitwise-identical output.
func Hash(data []byte) ChunkId {
	if len(data) >= parallelThreshold {
		return HashParallel(data)
	}
	sum := blake3.Sum256(data)
	return ChunkId(sum)
}

// HashParallel computes the same Blake3-256 digest as Hash by feeding data
// into a single blake3.New() hasher in 1MiB writes. All writes run on the
// calling goroutine; no worker goroutines are started.
func HashParallel(data []byte) ChunkId {
	h := blake3.New(Size, nil)
	const writeChunk = 1 * 1024 * 1024
	for off := 0; off < len(data); off += writeChunk {
		end := off + writeChunk
		if end > len(data) {
			end = len(data)
		}
		h.Write(data[off:end])
	}
	var out ChunkId
	copy(out[:], h.Sum(nil))
	return out
}

// Verify recomputes the hash of data and compares it to id in constant
// time, per spec.md §4.1.
func Verify(id ChunkId, data []byte) bool {
	return id.Equal(Hash(data))
}
