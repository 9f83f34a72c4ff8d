package proxy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"ws-rpc/client"
	"ws-rpc/loadbalance"
	"ws-rpc/registry"
)

// FromAddress creates a proxy whose factory dials a fixed address.
func FromAddress(name, clientKind, addr string, opts client.ConnectOptions, log zerolog.Logger) (*Proxy, error) {
	return New(name, clientKind, func(ctx context.Context) (*client.Client, error) {
		return client.Connect(ctx, addr, opts)
	}, log)
}

// FromRegistry creates a proxy that resolves the dependency's address
// through service discovery on every connection attempt, picking among the
// instances with the given balancer. Combined with the DEPENDENCY_UPDATED
// invalidation path this lets a service follow its dependencies as they
// move.
func FromRegistry(name, clientKind string, reg registry.Registry, serviceID string, balancer loadbalance.Balancer, opts client.ConnectOptions, log zerolog.Logger) (*Proxy, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if balancer == nil {
		balancer = &loadbalance.RoundRobin{}
	}
	return New(name, clientKind, func(ctx context.Context) (*client.Client, error) {
		instances, err := reg.Discover(serviceID)
		if err != nil {
			return nil, fmt.Errorf("failed to discover service %q: %w", serviceID, err)
		}
		instance, err := balancer.Pick(instances)
		if err != nil {
			return nil, fmt.Errorf("failed to pick an instance of service %q: %w", serviceID, err)
		}
		return client.Connect(ctx, instance.URL, opts)
	}, log)
}
