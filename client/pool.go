package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pixelgrid/forge-orchestrator/forge"
)

// Pool hands out one *Client per node id, reusing connections instead of
// building a new http.Client for every request.
type Pool struct {
	mu      sync.RWMutex
	clients map[string]*Client
	http    *http.Client
}

// NewPool returns an empty Pool. timeout bounds every HTTP request issued
// through clients it creates; 10s is used if timeout is zero.
func NewPool(timeout time.Duration) *Pool {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Pool{
		clients: make(map[string]*Client),
		http:    &http.Client{Timeout: timeout},
	}
}

// For returns the Client for node, creating and caching one on first use.
// It re-creates the cached client whenever the node's address changes, so
// a config reload that moves a node to a new host takes effect.
func (p *Pool) For(node forge.Node) *Client {
	p.mu.RLock()
	c, ok := p.clients[node.ID]
	p.mu.RUnlock()
	if ok && c.node.BaseURL() == node.BaseURL() {
		return c
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[node.ID]; ok && c.node.BaseURL() == node.BaseURL() {
		return c
	}
	c = New(node, p.http)
	p.clients[node.ID] = c
	return c
}

// Ping satisfies health.Pinger by delegating to the pooled client for the
// given node.
func (p *Pool) Ping(ctx context.Context, node forge.Node) (time.Duration, error) {
	return p.For(node).Ping(ctx, node)
}
