// internal/app/store/tenants/registry.go
package tenantstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dalemusser/climatrak/internal/app/store/partitions"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Source is the read side of the registry Store.
type Source interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (models.Tenant, error)
	GetBySchema(ctx context.Context, schema string) (models.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (models.Tenant, error)
	GetByDomain(ctx context.Context, host string) (models.Tenant, error)
}

// DefaultCacheTTL bounds how long a lookup result is reused.
const DefaultCacheTTL = time.Minute

// DefaultMaxEntries caps the number of cached lookups, hits and misses
// together.
const DefaultMaxEntries = 4096

type entry struct {
	tenant  models.Tenant
	found   bool
	expires time.Time
}

// Registry is a read-through cache over the tenant registry. Lookups run on
// every request, so results (including misses) are cached for TTL. Keys that
// cannot name a tenant are rejected without a lookup and never cached, and
// the cache holds at most max entries. Writers that go through Registry
// invalidate the cache right after the write commits; other writers must
// call Invalidate themselves.
type Registry struct {
	src Source
	w   *Store
	ttl time.Duration
	max int
	now func() time.Time

	mu    sync.RWMutex
	cache map[string]entry
}

// NewRegistry wraps store with a cache. ttl <= 0 selects DefaultCacheTTL.
func NewRegistry(store *Store, ttl time.Duration) *Registry {
	r := NewRegistryFromSource(store, ttl)
	r.w = store
	return r
}

// NewRegistryFromSource builds a read-only Registry over any Source.
func NewRegistryFromSource(src Source, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Registry{
		src:   src,
		ttl:   ttl,
		max:   DefaultMaxEntries,
		now:   time.Now,
		cache: make(map[string]entry),
	}
}

// SetClock overrides the clock used for cache expiry.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// SetMaxEntries changes the cache cap. n < 1 keeps the current cap.
func (r *Registry) SetMaxEntries(n int) {
	if n < 1 {
		return
	}
	r.mu.Lock()
	r.max = n
	r.mu.Unlock()
}

// Len reports how many lookups are cached.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// Invalidate drops every cached lookup.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[string]entry)
	r.mu.Unlock()
}

func (r *Registry) lookup(ctx context.Context, key string, load func(context.Context) (models.Tenant, error)) (models.Tenant, error) {
	now := r.now()
	r.mu.RLock()
	e, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && now.Before(e.expires) {
		if !e.found {
			return models.Tenant{}, ErrNotFound
		}
		return e.tenant, nil
	}

	t, err := load(ctx)
	switch {
	case err == nil:
		r.store(key, entry{tenant: t, found: true, expires: now.Add(r.ttl)}, now)
	case errors.Is(err, ErrNotFound):
		r.store(key, entry{expires: now.Add(r.ttl)}, now)
	}
	return t, err
}

func (r *Registry) store(key string, e entry, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cache[key]; !ok && len(r.cache) >= r.max {
		r.evict(now)
	}
	r.cache[key] = e
}

// evict makes room under the cap: expired entries go first, then misses,
// then everything. Caller holds mu.
func (r *Registry) evict(now time.Time) {
	for k, e := range r.cache {
		if !now.Before(e.expires) {
			delete(r.cache, k)
		}
	}
	if len(r.cache) < r.max {
		return
	}
	for k, e := range r.cache {
		if !e.found {
			delete(r.cache, k)
		}
	}
	if len(r.cache) >= r.max {
		r.cache = make(map[string]entry)
	}
}

// ByDomain returns the tenant routed to host.
func (r *Registry) ByDomain(ctx context.Context, host string) (models.Tenant, error) {
	host = NormalizeHost(host)
	if !validHost(host) {
		return models.Tenant{}, ErrNotFound
	}
	return r.lookup(ctx, "domain:"+host, func(ctx context.Context) (models.Tenant, error) {
		return r.src.GetByDomain(ctx, host)
	})
}

// BySchema returns the tenant owning schema.
func (r *Registry) BySchema(ctx context.Context, schema string) (models.Tenant, error) {
	if !partitions.ValidSchemaName(schema) {
		return models.Tenant{}, ErrNotFound
	}
	return r.lookup(ctx, "schema:"+schema, func(ctx context.Context) (models.Tenant, error) {
		return r.src.GetBySchema(ctx, schema)
	})
}

// ByID returns the tenant with id.
func (r *Registry) ByID(ctx context.Context, id primitive.ObjectID) (models.Tenant, error) {
	return r.lookup(ctx, "id:"+id.Hex(), func(ctx context.Context) (models.Tenant, error) {
		return r.src.GetByID(ctx, id)
	})
}

// Resolve maps an explicit tenant identifier (schema name, then slug) to a
// tenant.
func (r *Registry) Resolve(ctx context.Context, identifier string) (models.Tenant, error) {
	t, err := r.BySchema(ctx, identifier)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return t, err
	}
	if !ValidSlug(identifier) {
		return models.Tenant{}, ErrNotFound
	}
	return r.lookup(ctx, "slug:"+identifier, func(ctx context.Context) (models.Tenant, error) {
		return r.src.GetBySlug(ctx, identifier)
	})
}

var errReadOnly = errors.New("tenant registry is read-only")

// Create provisions a tenant and invalidates the cache.
func (r *Registry) Create(ctx context.Context, t models.Tenant) (models.Tenant, error) {
	if r.w == nil {
		return models.Tenant{}, errReadOnly
	}
	created, err := r.w.Create(ctx, t)
	if err != nil {
		return models.Tenant{}, err
	}
	r.Invalidate()
	return created, nil
}

// AddDomain routes host to the tenant and invalidates the cache.
func (r *Registry) AddDomain(ctx context.Context, id primitive.ObjectID, host string) error {
	if r.w == nil {
		return errReadOnly
	}
	if err := r.w.AddDomain(ctx, id, host); err != nil {
		return err
	}
	r.Invalidate()
	return nil
}

// SetStatus changes the tenant's status and invalidates the cache.
func (r *Registry) SetStatus(ctx context.Context, id primitive.ObjectID, status string) error {
	if r.w == nil {
		return errReadOnly
	}
	if err := r.w.SetStatus(ctx, id, status); err != nil {
		return err
	}
	r.Invalidate()
	return nil
}
