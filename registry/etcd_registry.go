// etcd-backed registry.
//
// etcd acts as the distributed phonebook for deployed services:
//
//	Key:   /ws-rpc/services/{serviceID}/{url}
//	Value: JSON-encoded Instance
//
// Registration uses TTL-based leases: when a host crashes, its lease
// expires and the entry disappears on its own, so proxies never keep
// dialing ghost instances.
package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/ws-rpc/services/"

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	log    zerolog.Logger
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, log zerolog.Logger) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdRegistry{client: c, log: log}, nil
}

// Close releases the underlying etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}

// Register publishes an instance under a TTL lease and keeps the lease
// renewed in the background until the registry is closed or the process
// exits. Deregister deletes the key but does not stop the renewal.
func (r *EtcdRegistry) Register(serviceID string, instance Instance, ttlSeconds int64) error {
	ctx := context.TODO()

	lease, err := r.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, key(serviceID, instance.URL), string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	// KeepAlive renews the lease; the responses must be drained or the
	// channel fills up and renewal stops.
	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
		r.log.Debug().Str("service", serviceID).Str("url", instance.URL).Msg("etcd lease renewal stopped")
	}()

	r.log.Info().Str("service", serviceID).Str("url", instance.URL).Int64("ttl", ttlSeconds).Msg("registered service instance")
	return nil
}

// Deregister removes an instance; called during graceful shutdown before
// the listener closes.
func (r *EtcdRegistry) Deregister(serviceID string, url string) error {
	_, err := r.client.Delete(context.TODO(), key(serviceID, url))
	return err
}

// Discover returns every registered instance of a service.
func (r *EtcdRegistry) Discover(serviceID string) ([]Instance, error) {
	resp, err := r.client.Get(context.TODO(), prefix(serviceID), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // skip malformed entries
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch emits the full instance list whenever a registration changes under
// the service prefix (server-push via etcd's Watch API, no polling).
func (r *EtcdRegistry) Watch(serviceID string) <-chan []Instance {
	ch := make(chan []Instance, 1)
	go func() {
		watchChan := r.client.Watch(context.TODO(), prefix(serviceID), clientv3.WithPrefix())
		for range watchChan {
			// On any change, re-fetch the full list; simpler than
			// folding individual watch events.
			instances, err := r.Discover(serviceID)
			if err != nil {
				r.log.Error().Err(err).Str("service", serviceID).Msg("failed to re-discover after watch event")
				continue
			}
			ch <- instances
		}
	}()
	return ch
}

func prefix(serviceID string) string {
	return keyPrefix + serviceID + "/"
}

func key(serviceID, url string) string {
	return prefix(serviceID) + url
}
