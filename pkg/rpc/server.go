package rpc

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"

	"github.com/cyxwiz-lab/cyxcloud/internal/logging"
	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxerr"
)

// Handler implements the five chunk operations a node serves to its peers.
// The concrete implementation plugs in pkg/chunkstore underneath.
type Handler interface {
	StoreChunk(ctx context.Context, chunkID string, data []byte) error
	GetChunk(ctx context.Context, chunkID string) ([]byte, bool, error)
	VerifyChunk(ctx context.Context, chunkID string) (bool, error)
	DeleteChunk(ctx context.Context, chunkID string) (bool, error)
	StreamChunks(ctx context.Context, chunkIDs []string) (map[string][]byte, []string, error)
}

// Server accepts length-framed connections and dispatches each envelope to
// the configured Handler, mirroring meshstorage/rpc.go's RPCHandler shape
// without the libp2p stream dependency.
type Server struct {
	addr      string
	handler   Handler
	tlsConfig *tls.Config
	log       *logging.Logger

	listener net.Listener
}

// NewServer constructs a Server. tlsConfig may be nil for plaintext TCP.
func NewServer(addr string, handler Handler, tlsConfig *tls.Config) *Server {
	return &Server{
		addr:      addr,
		handler:   handler,
		tlsConfig: tlsConfig,
		log:       logging.New("rpc.server"),
	}
}

// Serve listens and handles connections until ctx is cancelled or Close is
// called.
func (s *Server) Serve(ctx context.Context) error {
	var l net.Listener
	var err error
	if s.tlsConfig != nil {
		l, err = tls.Listen("tcp", s.addr, s.tlsConfig)
	} else {
		l, err = net.Listen("tcp", s.addr)
	}
	if err != nil {
		return cyxerr.Wrap(cyxerr.KindNetwork, "listen for rpc connections", err)
	}
	s.listener = l

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Warnf("accept failed: %v", err)
				continue
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// Close stops the listener.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	for {
		env, err := readFrame(reader)
		if err != nil {
			return
		}
		resp := s.dispatch(ctx, env)
		if err := writeFrame(conn, resp); err != nil {
			s.log.Warnf("write response frame: %v", err)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, env *Envelope) *Envelope {
	resp := &Envelope{Version: CurrentVersion, Method: env.Method, RequestID: env.RequestID}

	switch env.Method {
	case MethodPing:
		payload, _ := encodePayload(PingResponse{})
		resp.Payload = payload

	case MethodStoreChunk:
		var req StoreChunkRequest
		if err := decodePayload(env.Payload, &req); err != nil {
			resp.Err = err.Error()
			return resp
		}
		if err := s.handler.StoreChunk(ctx, req.ChunkID, req.Data); err != nil {
			resp.Err = err.Error()
			return resp
		}
		payload, _ := encodePayload(StoreChunkResponse{})
		resp.Payload = payload

	case MethodGetChunk:
		var req GetChunkRequest
		if err := decodePayload(env.Payload, &req); err != nil {
			resp.Err = err.Error()
			return resp
		}
		data, found, err := s.handler.GetChunk(ctx, req.ChunkID)
		if err != nil {
			resp.Err = err.Error()
			return resp
		}
		payload, _ := encodePayload(GetChunkResponse{Data: data, Found: found})
		resp.Payload = payload

	case MethodVerifyChunk:
		var req VerifyChunkRequest
		if err := decodePayload(env.Payload, &req); err != nil {
			resp.Err = err.Error()
			return resp
		}
		valid, err := s.handler.VerifyChunk(ctx, req.ChunkID)
		if err != nil {
			resp.Err = err.Error()
			return resp
		}
		payload, _ := encodePayload(VerifyChunkResponse{Valid: valid})
		resp.Payload = payload

	case MethodDeleteChunk:
		var req DeleteChunkRequest
		if err := decodePayload(env.Payload, &req); err != nil {
			resp.Err = err.Error()
			return resp
		}
		existed, err := s.handler.DeleteChunk(ctx, req.ChunkID)
		if err != nil {
			resp.Err = err.Error()
			return resp
		}
		payload, _ := encodePayload(DeleteChunkResponse{Existed: existed})
		resp.Payload = payload

	case MethodStreamChunks:
		var req StreamChunksRequest
		if err := decodePayload(env.Payload, &req); err != nil {
			resp.Err = err.Error()
			return resp
		}
		chunks, missed, err := s.handler.StreamChunks(ctx, req.ChunkIDs)
		if err != nil {
			resp.Err = err.Error()
			return resp
		}
		payload, _ := encodePayload(StreamChunksResponse{Chunks: chunks, Missed: missed})
		resp.Payload = payload

	default:
		resp.Err = "unknown rpc method"
	}

	return resp
}
