// Package exchange manages the set of live venue adapters. The pool is built
// once at startup and injected everywhere a venue client is needed; nothing
// else in the tree holds global connection state.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/avelin/cexarb/internal/domain"
)

// Pool holds the connected venue adapters keyed by venue name.
type Pool struct {
	mu      sync.RWMutex
	clients map[string]domain.ExchangeClient
	logger  *slog.Logger
}

// NewPool creates an empty Pool.
func NewPool(logger *slog.Logger) *Pool {
	return &Pool{
		clients: make(map[string]domain.ExchangeClient),
		logger:  logger.With(slog.String("component", "exchange_pool")),
	}
}

// Register adds a venue adapter under its Name(). Registering the same name
// twice is a wiring bug and returns an error.
func (p *Pool) Register(client domain.ExchangeClient) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := client.Name()
	if _, exists := p.clients[name]; exists {
		return fmt.Errorf("exchange: venue %q already registered", name)
	}
	p.clients[name] = client
	return nil
}

// Get returns the adapter for a venue name. It returns domain.ErrUnknownVenue
// for names that were never registered.
func (p *Pool) Get(venue string) (domain.ExchangeClient, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	client, ok := p.clients[venue]
	if !ok {
		return nil, fmt.Errorf("exchange: %q: %w", venue, domain.ErrUnknownVenue)
	}
	return client, nil
}

// Names returns the registered venue names, sorted.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.clients))
	for name := range p.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConnectAll connects every registered venue concurrently and fails if any
// one of them cannot connect.
func (p *Pool) ConnectAll(ctx context.Context) error {
	p.mu.RLock()
	clients := make([]domain.ExchangeClient, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, client := range clients {
		client := client
		g.Go(func() error {
			if err := client.Connect(gctx); err != nil {
				return fmt.Errorf("exchange: connect %s: %w", client.Name(), err)
			}
			p.logger.Info("venue connected", slog.String("venue", client.Name()))
			return nil
		})
	}
	return g.Wait()
}

// CloseAll closes every registered venue, logging and collecting the first
// error rather than stopping at it.
func (p *Pool) CloseAll() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var firstErr error
	for name, client := range p.clients {
		if err := client.Close(); err != nil {
			p.logger.Warn("venue close failed", slog.String("venue", name), slog.Any("error", err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
