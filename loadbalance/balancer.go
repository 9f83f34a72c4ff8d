// Package loadbalance selects which instance of a dependency a service
// proxy connects to when discovery returns more than one.
//
// Three strategies are implemented:
//   - RoundRobin:      stateless dependencies, equal-capacity instances
//   - WeightedRandom:  heterogeneous instances (different CPU/memory)
//   - ConsistentHash:  affinity - the same caller lands on the same instance
package loadbalance

import "ws-rpc/registry"

// Balancer is the interface for load balancing strategies. Pick is called
// before every connection attempt and must be goroutine-safe.
type Balancer interface {
	// Pick selects one instance from the available list.
	Pick(instances []registry.Instance) (*registry.Instance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}
