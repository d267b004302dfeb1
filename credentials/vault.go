package credentials

import (
	"context"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// RefreshFunc obtains fresh material from current and returns the fields to
// merge into the stored bag.
type RefreshFunc func(ctx context.Context, current Data) (Data, error)

// Vault fronts a Store with a cache and serializes refreshes per connection.
type Vault struct {
	store Store
	cache *gocache.Cache
	group singleflight.Group
}

func NewVault(store Store, ttl time.Duration) *Vault {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Vault{
		store: store,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (v *Vault) Store() Store { return v.store }

func (v *Vault) Get(ctx context.Context, connectionID uuid.UUID) (Data, error) {
	if cached, ok := v.cache.Get(connectionID.String()); ok {
		return cached.(Data).Clone(), nil
	}
	data, err := v.store.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	// a concurrent refresh may have cached newer material meanwhile
	if err := v.cache.Add(connectionID.String(), data.Clone(), gocache.DefaultExpiration); err != nil {
		if cached, ok := v.cache.Get(connectionID.String()); ok {
			return cached.(Data).Clone(), nil
		}
	}
	return data, nil
}

func (v *Vault) Set(ctx context.Context, connectionID uuid.UUID, updates Data) error {
	v.Evict(connectionID)
	defer v.Evict(connectionID)
	return v.store.Set(ctx, connectionID, updates)
}

func (v *Vault) Replace(ctx context.Context, connectionID uuid.UUID, data Data) error {
	v.Evict(connectionID)
	defer v.Evict(connectionID)
	return v.store.Replace(ctx, connectionID, data)
}

func (v *Vault) Delete(ctx context.Context, connectionID uuid.UUID) error {
	v.Evict(connectionID)
	return v.store.Delete(ctx, connectionID)
}

// Evict drops the cached bag of a connection.
func (v *Vault) Evict(connectionID uuid.UUID) {
	v.cache.Delete(connectionID.String())
}

// Refresh runs fn at most once at a time per connection. Concurrent callers
// share the outcome. When the stored material no longer matches
// staleFingerprint it was already refreshed and is returned as is.
func (v *Vault) Refresh(ctx context.Context, connectionID uuid.UUID, staleFingerprint string, fn RefreshFunc) (Data, error) {
	ch := v.group.DoChan(connectionID.String(), func() (any, error) {
		// the shared refresh outlives any single waiter
		rctx := context.WithoutCancel(ctx)
		current, err := v.store.Get(rctx, connectionID)
		if err != nil {
			return nil, err
		}
		if current.Fingerprint() != staleFingerprint {
			v.cache.SetDefault(connectionID.String(), current.Clone())
			return current, nil
		}
		updates, err := fn(rctx, current.Clone())
		if err != nil {
			return nil, err
		}
		if err := v.store.Set(rctx, connectionID, updates); err != nil {
			return nil, err
		}
		merged := current.Merge(updates)
		v.cache.SetDefault(connectionID.String(), merged.Clone())
		return merged, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Data).Clone(), nil
	}
}
