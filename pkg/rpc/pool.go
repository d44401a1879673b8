package rpc

import (
	"container/list"
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/cyxwiz-lab/cyxcloud/internal/logging"
	"github.com/cyxwiz-lab/cyxcloud/pkg/cyxerr"
)

var errPoolClosed = cyxerr.New(cyxerr.KindNetwork, "rpc connection pool closed")

// Pool is a connection pool keyed by peer address, generalized from
// network/pool.go's ConnectionPool. Two gaps the teacher's own comments
// flag as non-production are fixed here: eviction is真 LRU via a doubly
// linked freshness list instead of the teacher's "remove first found" map
// iteration, and a staleness ticker proactively closes idle connections
// instead of only reaping them on the next Get call.
type Pool struct {
	mu         sync.Mutex
	maxConns   int
	idleTTL    time.Duration
	tlsConfig  *tls.Config
	connectTTL time.Duration

	entries map[string]*list.Element // addr -> element in freshness
	freshness *list.List             // front = most recently used

	closed bool
	stopStaleness chan struct{}

	log *logging.Logger
}

type poolEntry struct {
	addr       string
	client     *Client
	lastUsedAt time.Time
}

// NewPool constructs a Pool. idleTTL is how long an unused connection may
// sit before the staleness sweep closes it.
func NewPool(maxConns int, idleTTL, connectTTL time.Duration, tlsConfig *tls.Config) *Pool {
	p := &Pool{
		maxConns:      maxConns,
		idleTTL:       idleTTL,
		connectTTL:    connectTTL,
		tlsConfig:     tlsConfig,
		entries:       make(map[string]*list.Element),
		freshness:     list.New(),
		stopStaleness: make(chan struct{}),
		log:           logging.New("rpc.pool"),
	}
	go p.runStalenessSweep()
	return p
}

// Get returns a pooled connection to addr, dialing and evicting the least
// recently used entry if the pool is at capacity.
func (p *Pool) Get(ctx context.Context, addr string) (*Client, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errPoolClosed
	}
	if el, ok := p.entries[addr]; ok {
		entry := el.Value.(*poolEntry)
		entry.lastUsedAt = time.Now()
		p.freshness.MoveToFront(el)
		client := entry.client
		p.mu.Unlock()
		return client, nil
	}
	if len(p.entries) >= p.maxConns {
		p.evictLRULocked()
	}
	p.mu.Unlock()

	dialCtx := ctx
	if p.connectTTL > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, p.connectTTL)
		defer cancel()
	}
	client, err := Dial(dialCtx, addr, p.tlsConfig)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		client.Close()
		return nil, errPoolClosed
	}
	entry := &poolEntry{addr: addr, client: client, lastUsedAt: time.Now()}
	el := p.freshness.PushFront(entry)
	p.entries[addr] = el
	return client, nil
}

// Remove closes and evicts addr's connection, used when a caller observes
// the connection has gone bad.
func (p *Pool) Remove(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(addr)
}

func (p *Pool) removeLocked(addr string) {
	el, ok := p.entries[addr]
	if !ok {
		return
	}
	entry := el.Value.(*poolEntry)
	entry.client.Close()
	p.freshness.Remove(el)
	delete(p.entries, addr)
}

// evictLRULocked evicts the back of the freshness list — the true least
// recently used entry, not an arbitrary map iteration order.
func (p *Pool) evictLRULocked() {
	back := p.freshness.Back()
	if back == nil {
		return
	}
	entry := back.Value.(*poolEntry)
	entry.client.Close()
	p.freshness.Remove(back)
	delete(p.entries, entry.addr)
}

func (p *Pool) runStalenessSweep() {
	if p.idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(p.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopStaleness:
			return
		case <-ticker.C:
			p.sweepStale()
		}
	}
}

func (p *Pool) sweepStale() {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := time.Now().Add(-p.idleTTL)
	for el := p.freshness.Back(); el != nil; {
		entry := el.Value.(*poolEntry)
		prev := el.Prev()
		if entry.lastUsedAt.Before(cutoff) {
			entry.client.Close()
			p.freshness.Remove(el)
			delete(p.entries, entry.addr)
		}
		el = prev
	}
}

// Stats mirrors network/pool.go's GetStats shape.
func (p *Pool) Stats() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]any{
		"active_connections": len(p.entries),
		"max_connections":    p.maxConns,
	}
}

// Close closes every pooled connection and stops the staleness sweep.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.stopStaleness)
	for el := p.freshness.Front(); el != nil; el = el.Next() {
		el.Value.(*poolEntry).client.Close()
	}
	p.entries = make(map[string]*list.Element)
	p.freshness.Init()
	return nil
}
