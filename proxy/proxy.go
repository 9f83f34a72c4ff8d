// Package proxy gives a service a lazy, retrying handle to a client of
// another service.
//
// A proxy caches its connected client and hands it out until the session
// drops; the next Get transparently reconnects with exponential backoff.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ws-rpc/client"
)

// Backoff parameters for reconnect attempts.
const (
	RetryInitialDelay      = 50 * time.Millisecond
	RetryBackoffMultiplier = 1.5
	DefaultMaxRetries      = 10
)

// Factory creates a fresh connected client for the proxied service.
type Factory func(ctx context.Context) (*client.Client, error)

// Proxy is a named, lazy handle to a client of a remote dependency. It is
// safe for concurrent use.
type Proxy struct {
	name       string
	clientKind string
	factory    Factory
	maxRetries int
	log        zerolog.Logger

	mu     sync.Mutex
	client *client.Client
}

// New creates a proxy. name identifies the dependency, clientKind labels
// the client implementation for diagnostics and manager type checks, and
// factory produces connected clients.
func New(name, clientKind string, factory Factory, log zerolog.Logger) (*Proxy, error) {
	if name == "" {
		return nil, errors.New("proxy name cannot be empty")
	}
	if clientKind == "" {
		return nil, errors.New("proxy client kind cannot be empty")
	}
	if factory == nil {
		return nil, errors.New("proxy client factory cannot be nil")
	}
	return &Proxy{
		name:       name,
		clientKind: clientKind,
		factory:    factory,
		maxRetries: DefaultMaxRetries,
		log:        log,
	}, nil
}

// Name returns the proxy's dependency name.
func (p *Proxy) Name() string { return p.name }

// ClientKind returns the label of the client implementation this proxy
// manages.
func (p *Proxy) ClientKind() string { return p.clientKind }

// Get returns the cached client when it is still open, otherwise connects
// with the default retry budget.
func (p *Proxy) Get(ctx context.Context) (*client.Client, error) {
	return p.GetWithRetries(ctx, p.maxRetries)
}

// GetWithRetries is Get with an explicit retry budget. Concurrent callers
// serialize on the proxy: the first one connects, the rest observe the
// fresh cache, so no half-connected client is ever leaked.
func (p *Proxy) GetWithRetries(ctx context.Context, maxRetries int) (*client.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.client.IsOpen() {
		return p.client, nil
	}
	// A cached but closed client is discarded on access.
	p.client = nil

	backoff := RetryInitialDelay
	for attempt := 0; attempt < maxRetries; attempt++ {
		c, err := p.factory(ctx)
		if err == nil {
			p.client = c
			return c, nil
		}
		p.log.Warn().Err(err).Str("proxy", p.name).Int("attempt", attempt+1).Msg("connection attempt failed")

		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * RetryBackoffMultiplier)
		case <-ctx.Done():
			// The wait was interrupted: record it, force one last
			// attempt, then propagate the interruption as the failure.
			if c, err := p.factory(ctx); err == nil {
				p.client = c
				return c, nil
			}
			return nil, fmt.Errorf("interrupted before a successful connection could be made for service proxy %q using client %q: %w",
				p.name, p.clientKind, ctx.Err())
		}
	}

	return nil, fmt.Errorf("failed to make a successful connection after %d attempts for service proxy %q using client %q",
		maxRetries, p.name, p.clientKind)
}

// Invalidate discards the cached client (closing it when still open) so the
// next Get reconnects. Used when the dependency's location changed.
func (p *Proxy) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return
	}
	if p.client.IsOpen() {
		if err := p.client.Close(); err != nil {
			p.log.Debug().Err(err).Str("proxy", p.name).Msg("failed to close invalidated client")
		}
	}
	p.client = nil
}
