package loadbalance

import (
	"fmt"
	"math/rand"

	"ws-rpc/registry"
)

// WeightedRandom picks an instance with probability proportional to its
// registered weight. Instances with weight zero are never chosen unless
// every instance has weight zero, in which case the pick is uniform.
type WeightedRandom struct{}

// Pick selects an instance by weighted random draw.
func (b *WeightedRandom) Pick(instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no instances available")
	}

	totalWeight := 0
	for _, inst := range instances {
		totalWeight += inst.Weight
	}
	if totalWeight <= 0 {
		return &instances[rand.Intn(len(instances))], nil
	}

	r := rand.Intn(totalWeight)
	for i := range instances {
		r -= instances[i].Weight
		if r < 0 {
			return &instances[i], nil
		}
	}

	return nil, fmt.Errorf("unexpected error in weighted random selection")
}

func (b *WeightedRandom) Name() string {
	return "WeightedRandom"
}
