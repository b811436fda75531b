package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/ticket-platform/internal/actorctx"
	"github.com/spec-kit/ticket-platform/internal/domain"
	"github.com/spec-kit/ticket-platform/internal/permission"
	"github.com/spec-kit/ticket-platform/internal/repository"
	apperrors "github.com/spec-kit/ticket-platform/pkg/util"
)

// ActorMiddleware authenticates inbound requests and establishes the
// ambient actor for the rest of the call chain. Two entry points exist: web
// sessions (bearer JWT) and chat-platform interactions forwarded by the
// gateway (signature verification happens upstream; this layer only maps
// verified identifiers to an actor).
type ActorMiddleware struct {
	tokens     *TokenManager
	identities repository.IdentityRepository
	perms      *permission.Engine
}

// NewActorMiddleware constructs the middleware.
func NewActorMiddleware(tokens *TokenManager, identities repository.IdentityRepository, perms *permission.Engine) *ActorMiddleware {
	return &ActorMiddleware{tokens: tokens, identities: identities, perms: perms}
}

// Handle dispatches on the credential the request carries: bearer tokens
// mean a web session, interaction headers mean the chat gateway.
func (m *ActorMiddleware) Handle(c *fiber.Ctx) error {
	if c.Get("Authorization") != "" {
		return m.HandleWeb(c)
	}
	if c.Get("X-Chat-User-Ref") != "" {
		return m.HandleChat(c)
	}
	return apperrors.NewUnauthorized("missing credentials")
}

// HandleWeb authenticates a dashboard session and installs a
// HUMAN_VIA_WEB actor.
func (m *ActorMiddleware) HandleWeb(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseSession(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	identity, err := m.identities.GetByID(c.UserContext(), claims.IdentityID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewUnauthorized("identity not found")
		}
		return apperrors.MapError(err)
	}

	perms, err := m.perms.GetEffectivePermissions(c.UserContext(), claims.TenantID, identity.ID)
	if err != nil {
		// Fail closed: an unreachable role store never grants access.
		return apperrors.MapError(err)
	}

	actor := domain.NewWebActor(identity.ID, claims.TenantID, perms, claims.SessionID)
	c.SetUserContext(actorctx.Provide(c.UserContext(), actor))
	return c.Next()
}

// HandleChat maps a gateway-verified chat interaction to a HUMAN_VIA_CHAT
// actor. The gateway forwards the platform user and channel references in
// headers after verifying the interaction signature.
func (m *ActorMiddleware) HandleChat(c *fiber.Ctx) error {
	tenantID := c.Get("X-Tenant-ID")
	chatUserRef := c.Get("X-Chat-User-Ref")
	channelRef := c.Get("X-Channel-Ref")
	if tenantID == "" || chatUserRef == "" {
		return apperrors.NewUnauthorized("missing interaction identity headers")
	}

	identity, err := m.identities.GetByChatRef(c.UserContext(), tenantID, chatUserRef)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewUnauthorized("unknown chat user")
		}
		return apperrors.MapError(err)
	}

	perms, err := m.perms.GetEffectivePermissions(c.UserContext(), tenantID, identity.ID)
	if err != nil {
		return apperrors.MapError(err)
	}

	actor := domain.NewChatActor(identity.ID, tenantID, perms, channelRef)
	c.SetUserContext(actorctx.Provide(c.UserContext(), actor))
	return c.Next()
}

// RequireCapability gates a route on a capability bit of the ambient actor.
func RequireCapability(cap domain.Permissions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := actorctx.RequireCapability(c.UserContext(), cap); err != nil {
			return err
		}
		return c.Next()
	}
}
