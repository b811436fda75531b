// Package permission computes and checks effective capability masks.
package permission

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-platform/internal/domain"
	"github.com/spec-kit/ticket-platform/internal/repository"
)

const cacheKeyPrefix = "perm:"

// Engine resolves effective permissions for an identity in a tenant.
// Lookups are fail-closed: a store error propagates instead of granting or
// denying silently, and callers treat the error as "no permission".
type Engine struct {
	roles   repository.RoleRepository
	tenants repository.TenantRepository
	cache   *redis.Client
	ttl     time.Duration
	logger  *zap.Logger

	// devOverride substitutes a fixed mask for every lookup. Only ever set
	// when developer mode is explicitly enabled.
	devOverride *domain.Permissions
}

// Options configures the engine.
type Options struct {
	Roles    repository.RoleRepository
	Tenants  repository.TenantRepository
	Cache    *redis.Client
	CacheTTL time.Duration
	Logger   *zap.Logger

	DevModeEnabled bool
	DevOverride    domain.Permissions
}

// NewEngine builds the engine. The cache client is optional; without it
// every lookup goes to the role store.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		roles:   opts.Roles,
		tenants: opts.Tenants,
		cache:   opts.Cache,
		ttl:     opts.CacheTTL,
		logger:  opts.Logger,
	}
	if e.ttl <= 0 {
		e.ttl = 30 * time.Second
	}
	if opts.DevModeEnabled && opts.DevOverride != 0 {
		override := opts.DevOverride
		e.devOverride = &override
		e.logger.Warn("developer permission override active",
			zap.Strings("capabilities", override.Names()))
	}
	return e
}

// GetEffectivePermissions unions the masks of every role the identity holds
// in the tenant. The tenant owner gets the all-ones mask regardless of role
// assignments.
func (e *Engine) GetEffectivePermissions(ctx context.Context, tenantID, identityID string) (domain.Permissions, error) {
	if e.devOverride != nil {
		return *e.devOverride, nil
	}

	if mask, ok := e.cacheGet(ctx, tenantID, identityID); ok {
		return mask, nil
	}

	tenant, err := e.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("resolve tenant %s: %w", tenantID, err)
	}
	if tenant.OwnerIdentityID == identityID {
		e.cacheSet(ctx, tenantID, identityID, domain.AllPermissions)
		return domain.AllPermissions, nil
	}

	roles, err := e.roles.ListByIdentity(ctx, tenantID, identityID)
	if err != nil {
		return 0, fmt.Errorf("list roles for %s: %w", identityID, err)
	}

	var mask domain.Permissions
	for _, role := range roles {
		mask = mask.Union(role.Permissions)
	}

	e.cacheSet(ctx, tenantID, identityID, mask)
	return mask, nil
}

// HasCapability is a pure bitwise test.
func HasCapability(mask, cap domain.Permissions) bool {
	return mask.Has(cap)
}

// cacheGet only ever reports a hit for a well-formed entry; cache errors are
// logged and treated as misses so Redis trouble degrades to DB lookups.
func (e *Engine) cacheGet(ctx context.Context, tenantID, identityID string) (domain.Permissions, bool) {
	if e.cache == nil {
		return 0, false
	}
	raw, err := e.cache.Get(ctx, cacheKey(tenantID, identityID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			e.logger.Warn("permission cache read failed", zap.Error(err))
		}
		return 0, false
	}
	mask, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return domain.Permissions(mask), true
}

func (e *Engine) cacheSet(ctx context.Context, tenantID, identityID string, mask domain.Permissions) {
	if e.cache == nil {
		return
	}
	key := cacheKey(tenantID, identityID)
	if err := e.cache.Set(ctx, key, strconv.FormatUint(uint64(mask), 10), e.ttl).Err(); err != nil {
		e.logger.Warn("permission cache write failed", zap.Error(err))
	}
}

func cacheKey(tenantID, identityID string) string {
	return cacheKeyPrefix + tenantID + ":" + identityID
}
