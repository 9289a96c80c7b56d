// Package presence keeps TTL backed name records in the shared store.
//
// A record asserts that a named service is alive at an address. The owning
// process refreshes its records periodically; when it dies the records lapse
// after their TTL, which is how other services notice the crash.
package presence

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/CZERTAINLY/Courier/internal/channel"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is the lifetime of a record which is not refreshed.
const DefaultTTL = 3 * time.Second

const scanCount = 100

type Registry struct {
	rdb redis.Cmdable
	ttl time.Duration

	mx    sync.RWMutex
	owned map[string]string // name -> address
}

func NewRegistry(rdb redis.Cmdable, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		rdb:   rdb,
		ttl:   ttl,
		owned: make(map[string]string),
	}
}

// TTL returns the lifetime given to records on register and refresh.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// Register writes the record of name and takes ownership of it. Registering
// an owned name again rewrites the address and restarts its TTL.
func (r *Registry) Register(ctx context.Context, name, address string) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if err := r.rdb.Set(ctx, channel.NameKey(name), address, r.ttl).Err(); err != nil {
		return fmt.Errorf("registering name %s: %w", name, err)
	}
	r.owned[name] = address
	return nil
}

// Unregister deletes the record of name and releases its ownership.
// Unknown names are not an error.
func (r *Registry) Unregister(ctx context.Context, name string) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	delete(r.owned, name)
	if err := r.rdb.Del(ctx, channel.NameKey(name)).Err(); err != nil {
		return fmt.Errorf("unregistering name %s: %w", name, err)
	}
	return nil
}

// Refresh extends the TTL of every owned record and recreates records which
// already lapsed. All names are visited; failures are joined.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mx.RLock()
	defer r.mx.RUnlock()

	var errs []error
	for name, address := range r.owned {
		key := channel.NameKey(name)
		extended, err := r.rdb.Expire(ctx, key, r.ttl).Result()
		if err != nil {
			errs = append(errs, fmt.Errorf("refreshing name %s: %w", name, err))
			continue
		}
		if extended {
			continue
		}
		if err := r.rdb.Set(ctx, key, address, r.ttl).Err(); err != nil {
			errs = append(errs, fmt.Errorf("recreating name %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Resolve returns the address registered under name, or an empty string
// when nobody holds the name.
func (r *Registry) Resolve(ctx context.Context, name string) (string, error) {
	address, err := r.rdb.Get(ctx, channel.NameKey(name)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("resolving name %s: %w", name, err)
	}
	return address, nil
}

// Exists reports whether a live record of name exists.
func (r *Registry) Exists(ctx context.Context, name string) (bool, error) {
	n, err := r.rdb.Exists(ctx, channel.NameKey(name)).Result()
	if err != nil {
		return false, fmt.Errorf("checking name %s: %w", name, err)
	}
	return n > 0, nil
}

// Enumerate lists every registered name, sorted. It scans the whole key
// space, so keep it away from hot paths.
func (r *Registry) Enumerate(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, channel.NamesPrefix+"*", scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning names: %w", err)
		}
		for _, key := range keys {
			seen[strings.TrimPrefix(key, channel.NamesPrefix)] = struct{}{}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

// Owned returns the sorted names this registry refreshes.
func (r *Registry) Owned() []string {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return slices.Sorted(maps.Keys(r.owned))
}
