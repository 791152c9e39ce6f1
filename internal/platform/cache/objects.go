package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix    = "roleterms"
	defaultLocalSize = 4096
	flushChannelName = "flush"
)

// Options configures an Objects cache.
type Options struct {
	Prefix    string
	TTL       time.Duration
	LocalSize int
}

// Objects is a two tier object cache. Values live in a bounded process-local
// LRU and, when a Redis client is configured, in Redis under a versioned key
// space. FlushAll bumps the version, which orphans every shared entry.
type Objects struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	local  *lru.Cache[string, []byte]

	mu      sync.Mutex
	version int64
}

// NewObjects builds the cache. client may be nil for a local-only cache.
func NewObjects(client *redis.Client, opts Options) (*Objects, error) {
	size := opts.LocalSize
	if size <= 0 {
		size = defaultLocalSize
	}
	local, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("platform/cache: local tier: %w", err)
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Objects{client: client, ttl: opts.TTL, prefix: prefix, local: local}, nil
}

func (o *Objects) versionKey() string { return o.prefix + ":version" }

func (o *Objects) flushChannel() string { return o.prefix + ":" + flushChannelName }

// Version returns the shared key space version, initialising it when missing.
func (o *Objects) Version(ctx context.Context) (int64, error) {
	if o.client == nil {
		return 0, nil
	}
	o.mu.Lock()
	ver := o.version
	o.mu.Unlock()
	if ver > 0 {
		return ver, nil
	}
	ver, err := o.client.Get(ctx, o.versionKey()).Int64()
	if errors.Is(err, redis.Nil) || (err == nil && ver <= 0) {
		if err := o.client.SetNX(ctx, o.versionKey(), 1, 0).Err(); err != nil {
			return 0, err
		}
		ver, err = o.client.Get(ctx, o.versionKey()).Int64()
	}
	if err != nil {
		return 0, err
	}
	o.mu.Lock()
	o.version = ver
	o.mu.Unlock()
	return ver, nil
}

func (o *Objects) localKey(group, key string) string {
	return group + ":" + key
}

func (o *Objects) sharedKey(ctx context.Context, group, key string) (string, error) {
	ver, err := o.Version(ctx)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{o.prefix, group, key, strconv.FormatInt(ver, 10)}, ":"), nil
}

// Get decodes the cached value into dest and reports whether it was present.
func (o *Objects) Get(ctx context.Context, group, key string, dest any) (bool, error) {
	if raw, ok := o.local.Get(o.localKey(group, key)); ok {
		return true, json.Unmarshal(raw, dest)
	}
	if o.client == nil {
		return false, nil
	}
	shared, err := o.sharedKey(ctx, group, key)
	if err != nil {
		return false, err
	}
	raw, err := o.client.Get(ctx, shared).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	o.local.Add(o.localKey(group, key), raw)
	return true, json.Unmarshal(raw, dest)
}

// Set stores value in both tiers.
func (o *Objects) Set(ctx context.Context, group, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	o.local.Add(o.localKey(group, key), raw)
	if o.client == nil {
		return nil
	}
	shared, err := o.sharedKey(ctx, group, key)
	if err != nil {
		return err
	}
	return o.client.Set(ctx, shared, raw, o.ttl).Err()
}

// Delete removes key from both tiers.
func (o *Objects) Delete(ctx context.Context, group, key string) error {
	o.local.Remove(o.localKey(group, key))
	if o.client == nil {
		return nil
	}
	shared, err := o.sharedKey(ctx, group, key)
	if err != nil {
		return err
	}
	return o.client.Del(ctx, shared).Err()
}

// FetchJSON loads a cached value or populates it using loader.
func (o *Objects) FetchJSON(ctx context.Context, group, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	ok, err := o.Get(ctx, group, key, dest)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := o.Set(ctx, group, key, json.RawMessage(raw)); err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// ResetLocal drops the process-local tier and the memoised version.
func (o *Objects) ResetLocal() {
	o.local.Purge()
	o.mu.Lock()
	o.version = 0
	o.mu.Unlock()
}

// LocalLen reports the number of entries in the process-local tier.
func (o *Objects) LocalLen() int {
	return o.local.Len()
}

// FlushAll invalidates every entry in both tiers and notifies other
// processes listening on the flush channel.
func (o *Objects) FlushAll(ctx context.Context) error {
	o.ResetLocal()
	if o.client == nil {
		return nil
	}
	ver, err := o.client.Incr(ctx, o.versionKey()).Result()
	if err != nil {
		return fmt.Errorf("platform/cache: flush: %w", err)
	}
	return o.client.Publish(ctx, o.flushChannel(), strconv.FormatInt(ver, 10)).Err()
}

// ListenForFlush purges the local tier whenever another process flushes.
func (o *Objects) ListenForFlush(ctx context.Context) {
	if o.client == nil {
		return
	}
	pubsub := o.client.Subscribe(ctx, o.flushChannel())
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				o.ResetLocal()
			}
		}
	}()
}
