package rpc

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"net"
	"time"

	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxerr"
)

// Client is a single connection to one peer's RPC server, grounded on
// meshstorage/rpc.go's RPCClient but speaking the length-framed gob wire
// format instead of JSON-over-libp2p-stream.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	addr   string
}

// Dial opens a connection to addr. tlsConfig may be nil for plaintext TCP.
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (*Client, error) {
	dialer := &net.Dialer{}
	var conn net.Conn
	var err error
	if tlsConfig != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, cyxerr.Wrap(cyxerr.KindConnectionTimeout, "dial rpc peer "+addr, err)
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn), addr: addr}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Addr() string {
	return c.addr
}

func (c *Client) call(ctx context.Context, method Method, req any, resp any) error {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}

	payload, err := encodePayload(req)
	if err != nil {
		return err
	}

	env := &Envelope{
		Version:   CurrentVersion,
		Method:    method,
		RequestID: newRequestID(),
		Payload:   payload,
	}
	if err := writeFrame(c.conn, env); err != nil {
		return err
	}

	respEnv, err := readFrame(c.reader)
	if err != nil {
		return cyxerr.Wrap(cyxerr.KindNetwork, "read rpc response", err)
	}
	if respEnv.Err != "" {
		return cyxerr.New(cyxerr.KindInternal, respEnv.Err)
	}
	if resp != nil {
		return decodePayload(respEnv.Payload, resp)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	var resp PingResponse
	return c.call(ctx, MethodPing, PingRequest{}, &resp)
}

func (c *Client) StoreChunk(ctx context.Context, chunkID string, data []byte) error {
	var resp StoreChunkResponse
	return c.call(ctx, MethodStoreChunk, StoreChunkRequest{ChunkID: chunkID, Data: data}, &resp)
}

func (c *Client) GetChunk(ctx context.Context, chunkID string) ([]byte, bool, error) {
	var resp GetChunkResponse
	if err := c.call(ctx, MethodGetChunk, GetChunkRequest{ChunkID: chunkID}, &resp); err != nil {
		return nil, false, err
	}
	return resp.Data, resp.Found, nil
}

func (c *Client) VerifyChunk(ctx context.Context, chunkID string) (bool, error) {
	var resp VerifyChunkResponse
	if err := c.call(ctx, MethodVerifyChunk, VerifyChunkRequest{ChunkID: chunkID}, &resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}

func (c *Client) DeleteChunk(ctx context.Context, chunkID string) (bool, error) {
	var resp DeleteChunkResponse
	if err := c.call(ctx, MethodDeleteChunk, DeleteChunkRequest{ChunkID: chunkID}, &resp); err != nil {
		return false, err
	}
	return resp.Existed, nil
}

func (c *Client) StreamChunks(ctx context.Context, chunkIDs []string) (map[string][]byte, []string, error) {
	var resp StreamChunksResponse
	if err := c.call(ctx, MethodStreamChunks, StreamChunksRequest{ChunkIDs: chunkIDs}, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Chunks, resp.Missed, nil
}

func newRequestID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
