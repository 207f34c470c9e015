// Package persistence holds storage decorators shared across backends.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/gridwise/enrollflow/internal/enrollment/crypto"
	"github.com/gridwise/enrollflow/internal/enrollment/domain"
	"github.com/gridwise/enrollflow/pkg/cache"
	"github.com/gridwise/enrollflow/pkg/logger"
)

// instanceCacheTTL keeps slug lookups hot without letting admin edits go
// stale for long.
const instanceCacheTTL = 5 * time.Minute

// CachedInstanceRepository is a redis read-through decorator for the
// instance repository. Slug lookup happens on every form request, so it is
// by far the hottest read path.
type CachedInstanceRepository struct {
	inner domain.InstanceRepository
	cache *cache.RedisCache
	enc   *crypto.Encryptor
}

// NewCachedInstanceRepository wraps an instance repository with a redis
// read-through cache. A nil cache disables caching. The encryptor seals the
// API password before it reaches redis.
func NewCachedInstanceRepository(inner domain.InstanceRepository, c *cache.RedisCache, enc *crypto.Encryptor) *CachedInstanceRepository {
	return &CachedInstanceRepository{inner: inner, cache: c, enc: enc}
}

func slugCacheKey(slug string, activeOnly bool) string {
	return fmt.Sprintf("enrollflow:instance:slug:%s:%t", slug, activeOnly)
}

// cachedInstance re-attaches the API password, which the instance type
// excludes from JSON so it never leaks through response payloads. The value
// carried here is AES-GCM ciphertext; redis never sees the plaintext.
type cachedInstance struct {
	domain.FormInstance
	APIPassword string `json:"api_password"`
}

func (r *CachedInstanceRepository) encode(inst *domain.FormInstance) (*cachedInstance, error) {
	sealed, err := r.enc.Encrypt(inst.APIPassword)
	if err != nil {
		return nil, err
	}
	return &cachedInstance{FormInstance: *inst, APIPassword: sealed}, nil
}

// decode unseals the cached password. A ciphertext that no longer decrypts
// (key rotation, tampering) makes the entry a cache miss rather than handing
// the caller an instance with broken credentials.
func (r *CachedInstanceRepository) decode(rec *cachedInstance) (*domain.FormInstance, bool) {
	inst := rec.FormInstance
	if rec.APIPassword != "" {
		plain := r.enc.Decrypt(rec.APIPassword)
		if plain == "" {
			return nil, false
		}
		inst.APIPassword = plain
	}
	return &inst, true
}

// Create passes through and does not populate the cache; the first slug
// lookup will.
func (r *CachedInstanceRepository) Create(ctx context.Context, inst *domain.FormInstance) (uint, error) {
	return r.inner.Create(ctx, inst)
}

// Update passes through and invalidates both activeOnly variants of the
// slug entry.
func (r *CachedInstanceRepository) Update(ctx context.Context, id uint, upd domain.InstanceUpdate) error {
	if err := r.inner.Update(ctx, id, upd); err != nil {
		return err
	}
	if r.cache != nil {
		if inst, err := r.inner.Get(ctx, id); err == nil && inst != nil {
			if err := r.cache.Delete(ctx, slugCacheKey(inst.Slug, true), slugCacheKey(inst.Slug, false)); err != nil {
				logger.Warn(ctx, "Failed to invalidate instance cache", "slug", inst.Slug, "error", err)
			}
		}
	}
	return nil
}

// Get passes through; by-id reads are rare and not worth a cache entry.
func (r *CachedInstanceRepository) Get(ctx context.Context, id uint) (*domain.FormInstance, error) {
	return r.inner.Get(ctx, id)
}

// GetBySlug serves from redis when possible. Cache failures degrade to the
// database, never to an error.
func (r *CachedInstanceRepository) GetBySlug(ctx context.Context, slug string, activeOnly bool) (*domain.FormInstance, error) {
	if r.cache == nil {
		return r.inner.GetBySlug(ctx, slug, activeOnly)
	}

	key := slugCacheKey(slug, activeOnly)
	var cached cachedInstance
	if err := r.cache.GetJSON(ctx, key, &cached); err == nil && cached.ID != 0 {
		if inst, ok := r.decode(&cached); ok {
			return inst, nil
		}
	}

	inst, err := r.inner.GetBySlug(ctx, slug, activeOnly)
	if err != nil || inst == nil {
		return inst, err
	}
	if rec, err := r.encode(inst); err == nil {
		if err := r.cache.SetJSON(ctx, key, rec, instanceCacheTTL); err != nil {
			logger.Warn(ctx, "Failed to cache instance", "slug", slug, "error", err)
		}
	} else {
		logger.Warn(ctx, "Failed to seal instance for cache", "slug", slug, "error", err)
	}
	return inst, nil
}

// GetByUtility passes through.
func (r *CachedInstanceRepository) GetByUtility(ctx context.Context, utility string) (*domain.FormInstance, error) {
	return r.inner.GetByUtility(ctx, utility)
}
