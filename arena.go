package interviewroom

import (
	"context"
	"sync"

	"github.com/bt-bridge/interview-room/metrics"
	"github.com/bt-bridge/interview-room/shared"
	"go.uber.org/zap"
)

// Arena hands out one Client per room id for the lifetime of a session.
// A client leaves the arena when it is cleaned up.
type Arena struct {
	ctx     context.Context
	logger  shared.LoggerAdapter
	baseURL string
	tokens  TokenSource
	cfg     shared.ConnectionConfig
	format  string
	metrics *metrics.Collector

	mu      sync.Mutex
	clients map[string]*Client
}

func NewArena(ctx context.Context, logger shared.LoggerAdapter, baseURL string, tokens TokenSource, cfg shared.ConnectionConfig, audioFormat string, m *metrics.Collector) (*Arena, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if tokens == nil {
		return nil, shared.ErrNoTokenSource
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := roomEndpoint(baseURL, "check"); err != nil {
		return nil, err
	}
	return &Arena{
		ctx:     ctx,
		logger:  logger,
		baseURL: baseURL,
		tokens:  tokens,
		cfg:     cfg,
		format:  audioFormat,
		metrics: m,
		clients: make(map[string]*Client),
	}, nil
}

// Get returns the room's client, creating it on first use. It does not
// connect.
func (a *Arena) Get(room string) (*Client, error) {
	if room == "" {
		return nil, shared.ErrNoRoom
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clients[room]; ok {
		return c, nil
	}
	c, err := NewClient(a.ctx, a.logger, ClientParams{
		Room:        room,
		BaseURL:     a.baseURL,
		Tokens:      a.tokens,
		Config:      a.cfg,
		AudioFormat: a.format,
		Metrics:     a.metrics,
	})
	if err != nil {
		return nil, err
	}
	c.release = a.release
	a.clients[room] = c
	a.logger.Debug("room client created", zap.String("room", room))
	return c, nil
}

// release drops the entry only if it still points at c.
func (a *Arena) release(c *Client) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cur, ok := a.clients[c.room]; ok && cur == c {
		delete(a.clients, c.room)
	}
}

func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.clients)
}

// Close cleans up every client still in the arena.
func (a *Arena) Close() {
	a.mu.Lock()
	clients := make([]*Client, 0, len(a.clients))
	for _, c := range a.clients {
		clients = append(clients, c)
	}
	a.mu.Unlock()
	for _, c := range clients {
		c.Cleanup()
	}
}
