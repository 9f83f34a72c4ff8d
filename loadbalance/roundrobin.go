package loadbalance

import (
	"fmt"
	"sync/atomic"

	"ws-rpc/registry"
)

// RoundRobin distributes connection attempts evenly across all instances in
// order, using an atomic counter for lock-free goroutine safety.
//
// Best for: stateless dependencies where all instances have similar
// capacity.
type RoundRobin struct {
	counter atomic.Int64
}

// Pick selects the next instance in round-robin order.
func (b *RoundRobin) Pick(instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no instances available")
	}
	index := b.counter.Add(1) % int64(len(instances))
	return &instances[index], nil
}

func (b *RoundRobin) Name() string {
	return "RoundRobin"
}
