// Package provider implements the agent-facing façade spec §6 calls
// "Provider (C6+C7)": it ensures the Execution API is running (via
// internal/supervisor), then vends per-session internal/client
// instances. This is the one piece of the agent-side surface CES ships
// in this repository; the rest of the agent layer is out of scope.
package provider

import (
	"context"
	"sync"

	"github.com/oriys/ces/internal/client"
	"github.com/oriys/ces/internal/supervisor"
)

// Config configures a Provider.
type Config struct {
	Supervisor supervisor.Config
	Client     client.Config
}

// Provider owns the supervised service and the clients it has vended.
type Provider struct {
	cfg  Config
	sup  *supervisor.Supervisor
	mu   sync.Mutex
	live map[string]*client.Client
}

// New constructs a Provider. Call Initialize before GetSessionClient.
func New(cfg Config) *Provider {
	return &Provider{
		cfg:  cfg,
		sup:  supervisor.New(cfg.Supervisor),
		live: make(map[string]*client.Client),
	}
}

// Initialize ensures the Execution API is reachable, starting it if
// the configured mode requires that.
func (p *Provider) Initialize(ctx context.Context) error {
	return p.sup.EnsureRunning(ctx)
}

// GetSessionClient returns a Client bound to sessionID, starting the
// session server-side if it does not already exist. cwd is only used
// on first creation.
func (p *Provider) GetSessionClient(ctx context.Context, sessionID, cwd string) (*client.Client, error) {
	p.mu.Lock()
	if c, ok := p.live[sessionID]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c := client.New(p.cfg.Client, sessionID)
	resolvedID, err := c.Start(ctx, cwd)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.live[resolvedID] = c
	p.mu.Unlock()
	return c, nil
}

// CleanUp stops every vended client's session and tears down the
// supervised service.
func (p *Provider) CleanUp(ctx context.Context) error {
	p.mu.Lock()
	clients := make([]*client.Client, 0, len(p.live))
	for _, c := range p.live {
		clients = append(clients, c)
	}
	p.live = make(map[string]*client.Client)
	p.mu.Unlock()

	for _, c := range clients {
		_ = c.Stop(ctx)
	}
	return p.sup.Stop(ctx)
}
