// Package registry announces relays in etcd so clients can find them.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const Prefix = "/zephyrrelay/relays/"

// Client is the subset of *clientv3.Client the registry uses.
type Client interface {
	clientv3.KV
	clientv3.Lease
}

func NewClient(endpoints []string, logger *zap.Logger) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      logger,
	})
}

func Key(id string) string { return Prefix + id }

// Register puts id -> addr under a lease with the given TTL (seconds) and
// keeps the lease alive until the returned cancel func is called or ctx ends.
func Register(ctx context.Context, cli Client, id, addr string, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, fmt.Errorf("registry: grant lease: %w", err)
	}
	if _, err := cli.Put(ctx, Key(id), addr, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("registry: put %s: %w", Key(id), err)
	}

	kaCtx, cancel := context.WithCancel(ctx)
	ch, err := cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("registry: keepalive: %w", err)
	}
	// the channel must be drained or the client logs a full-queue warning
	go func() {
		for range ch {
		}
	}()
	return lease.ID, cancel, nil
}

// List returns every registered relay as id -> addr.
func List(ctx context.Context, cli Client) (map[string]string, error) {
	resp, err := cli.Get(ctx, Prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	out := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out[strings.TrimPrefix(string(kv.Key), Prefix)] = string(kv.Value)
	}
	return out, nil
}
