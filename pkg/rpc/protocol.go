// Package rpc implements the chunk transfer protocol from spec.md §4.5: a
// length-framed binary wire format (4-byte big-endian length prefix wrapping
// a gob-encoded envelope) carrying the five chunk operations, in place of
// the teacher's JSON-over-libp2p-stream framing (meshstorage/rpc.go) and the
// DHT package's raw net.Conn framing (dht/rpc.go), both of which relied on
// the decoder's own boundary detection rather than an explicit length
// prefix.
package rpc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxerr"
)

// CurrentVersion is this node's wire protocol version, following the
// teacher's meshstorage/version.go negotiation convention.
const CurrentVersion = "1.0.0"

// MaxFrameSize bounds a single frame to guard against a malicious or
// corrupt length prefix exhausting memory.
const MaxFrameSize = 80 * 1024 * 1024

// Method identifies one of the five chunk operations spec.md §4.5 names.
type Method uint8

const (
	MethodPing Method = iota
	MethodStoreChunk
	MethodGetChunk
	MethodVerifyChunk
	MethodDeleteChunk
	MethodStreamChunks
)

func (m Method) String() string {
	switch m {
	case MethodPing:
		return "Ping"
	case MethodStoreChunk:
		return "StoreChunk"
	case MethodGetChunk:
		return "GetChunk"
	case MethodVerifyChunk:
		return "VerifyChunk"
	case MethodDeleteChunk:
		return "DeleteChunk"
	case MethodStreamChunks:
		return "StreamChunks"
	default:
		return "Unknown"
	}
}

// Envelope is the outer frame for every request and response. Payload is a
// second gob encoding of the method-specific request/response struct, kept
// opaque at this layer so the framing code never needs to know the request
// shapes.
type Envelope struct {
	Version   string
	Method    Method
	RequestID string
	Payload   []byte
	Err       string
}

type StoreChunkRequest struct {
	ChunkID string
	Data    []byte
}

type StoreChunkResponse struct{}

type GetChunkRequest struct {
	ChunkID string
}

type GetChunkResponse struct {
	Data  []byte
	Found bool
}

type VerifyChunkRequest struct {
	ChunkID string
}

type VerifyChunkResponse struct {
	Valid bool
}

type DeleteChunkRequest struct {
	ChunkID string
}

type DeleteChunkResponse struct {
	Existed bool
}

type StreamChunksRequest struct {
	ChunkIDs []string
}

type StreamChunksResponse struct {
	Chunks map[string][]byte
	Missed []string
}

type PingRequest struct{}

type PingResponse struct{}

// writeFrame writes a 4-byte big-endian length prefix followed by the
// gob-encoded envelope.
func writeFrame(w io.Writer, env *Envelope) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return cyxerr.Wrap(cyxerr.KindNetwork, "encode rpc envelope", err)
	}
	if buf.Len() > MaxFrameSize {
		return cyxerr.New(cyxerr.KindNetwork, fmt.Sprintf("frame too large: %d bytes", buf.Len()))
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return cyxerr.Wrap(cyxerr.KindNetwork, "write frame length", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return cyxerr.Wrap(cyxerr.KindNetwork, "write frame body", err)
	}
	return nil
}

// readFrame reads one length-prefixed, gob-encoded envelope.
func readFrame(r *bufio.Reader) (*Envelope, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > MaxFrameSize {
		return nil, cyxerr.New(cyxerr.KindNetwork, fmt.Sprintf("frame too large: %d bytes", n))
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindNetwork, "read frame body", err)
	}

	var env Envelope
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&env); err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindNetwork, "decode rpc envelope", err)
	}
	return &env, nil
}

func encodePayload(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindNetwork, "encode rpc payload", err)
	}
	return buf.Bytes(), nil
}

func decodePayload(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return cyxerr.Wrap(cyxerr.KindNetwork, "decode rpc payload", err)
	}
	return nil
}
