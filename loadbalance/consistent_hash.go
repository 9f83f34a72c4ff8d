package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"

	"ws-rpc/registry"
)

// ConsistentHash maps a fixed key (typically the calling service's id) to
// an instance using a hash ring, so the same caller keeps landing on the
// same dependency instance while the ring is unchanged.
//
// Each real instance is placed on the ring as N virtual nodes; without
// them a handful of instances can cluster on the ring and skew the load.
type ConsistentHash struct {
	key      string // the affinity key hashed on every Pick
	replicas int    // virtual nodes per real instance

	mu    sync.Mutex
	ring  []uint32           // sorted hash values on the ring
	nodes map[uint32]*registry.Instance
}

// NewConsistentHash creates a balancer that keys the ring lookup by key,
// with 100 virtual nodes per instance.
func NewConsistentHash(key string) *ConsistentHash {
	return &ConsistentHash{
		key:      key,
		replicas: 100,
		nodes:    make(map[uint32]*registry.Instance),
	}
}

// Pick rebuilds the ring from the current instance list and finds the
// instance responsible for the affinity key: the first virtual node at or
// clockwise after the key's hash.
func (b *ConsistentHash) Pick(instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no instances available")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.rebuild(instances)

	hash := crc32.ChecksumIEEE([]byte(b.key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	// Wrap around: a hash beyond the last node maps to the first (ring
	// property).
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

// rebuild places every instance on the ring as replicas virtual nodes,
// hashed from "{url}#{i}" to spread evenly.
func (b *ConsistentHash) rebuild(instances []registry.Instance) {
	b.ring = b.ring[:0]
	clear(b.nodes)
	for i := range instances {
		inst := &instances[i]
		for r := 0; r < b.replicas; r++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", inst.URL, r)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = inst
		}
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

func (b *ConsistentHash) Name() string {
	return "ConsistentHash"
}
