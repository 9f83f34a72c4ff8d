package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"ws-rpc/transport"
	"ws-rpc/worker"
)

// DefaultPingFrequency is how often the keep-alive daemon pings every
// tracked session.
const DefaultPingFrequency = 30 * time.Second

// pingTimeout bounds one keep-alive ping; a session that cannot answer
// within it is logged and left to the transport's own failure detection.
const pingTimeout = 10 * time.Second

// The keep-alive scheduler is a process-wide singleton daemon. It starts
// lazily when the first service is constructed and iterates every session
// registry that services have attached to.
var keepalive struct {
	mu        sync.Mutex
	registries map[*Sessions]struct{}
	stop      chan struct{}
	running   bool
}

// registerKeepAlive makes a session registry visible to the daemon and
// starts the daemon on first use.
func registerKeepAlive(sessions *Sessions) {
	keepalive.mu.Lock()
	defer keepalive.mu.Unlock()
	if keepalive.registries == nil {
		keepalive.registries = make(map[*Sessions]struct{})
	}
	keepalive.registries[sessions] = struct{}{}
	if !keepalive.running {
		startKeepAliveLocked(DefaultPingFrequency)
	}
}

// StartKeepAlive (re)starts the keep-alive daemon with the given ping
// frequency. A non-positive frequency falls back to the default.
func StartKeepAlive(frequency time.Duration) {
	keepalive.mu.Lock()
	defer keepalive.mu.Unlock()
	if keepalive.running {
		close(keepalive.stop)
	}
	if frequency <= 0 {
		frequency = DefaultPingFrequency
	}
	startKeepAliveLocked(frequency)
}

// StopKeepAlive stops the daemon; tracked sessions stay open.
func StopKeepAlive() {
	keepalive.mu.Lock()
	defer keepalive.mu.Unlock()
	if keepalive.running {
		close(keepalive.stop)
		keepalive.running = false
	}
}

func startKeepAliveLocked(frequency time.Duration) {
	stop := make(chan struct{})
	keepalive.stop = stop
	keepalive.running = true
	go func() {
		ticker := time.NewTicker(frequency)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				pingAll()
			}
		}
	}()
}

// pingAll pings every tracked session on the worker pool. Failures are
// logged and isolated: one dead session never delays the others.
func pingAll() {
	keepalive.mu.Lock()
	registries := make([]*Sessions, 0, len(keepalive.registries))
	for r := range keepalive.registries {
		registries = append(registries, r)
	}
	keepalive.mu.Unlock()

	for _, sessions := range registries {
		for _, serviceID := range sessions.ServiceIDs() {
			for _, session := range sessions.Snapshot(serviceID) {
				id := serviceID
				s := session
				err := worker.Submit(func() { pingSession(id, s) })
				if err != nil {
					log.Warn().Err(err).Str("service", id).Msg("failed to schedule keep-alive ping")
				}
			}
		}
	}
}

func pingSession(serviceID string, session *transport.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if _, err := session.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("service", serviceID).Str("session", session.ID()).Msg("keep-alive ping failed")
	}
}
