// Package actorctx carries the ambient actor for one logical operation.
// The actor rides on context.Context, so each request, interaction, or timer
// gets its own scope that survives across suspension points without bleeding
// into concurrent operations. Nothing outside this package touches the
// context key; callers use Provide and Current.
package actorctx

import (
	"context"

	"github.com/spec-kit/ticket-platform/internal/domain"
	"github.com/spec-kit/ticket-platform/pkg/util"
)

type ctxKey struct{}

// Provide returns a child context with actor established as the ambient
// actor. Nested calls shadow the outer actor for their own subtree; the
// outer context is untouched.
func Provide(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

// Current returns the ambient actor, or a NO_CONTEXT error when called
// outside any Provide scope.
func Current(ctx context.Context) (domain.Actor, error) {
	actor, ok := ctx.Value(ctxKey{}).(domain.Actor)
	if !ok {
		return domain.Actor{}, util.NewNoContext()
	}
	return actor, nil
}

// CurrentOrNil returns the ambient actor and whether one is established.
// Used by paths that behave differently when unauthenticated.
func CurrentOrNil(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(ctxKey{}).(domain.Actor)
	return actor, ok
}

// RequireCapability checks the ambient actor's mask for the capability bit
// and returns PERMISSION_DENIED (with the capability name attached) when it
// is absent.
func RequireCapability(ctx context.Context, cap domain.Permissions) error {
	actor, err := Current(ctx)
	if err != nil {
		return err
	}
	if !actor.Permissions.Has(cap) {
		return util.NewPermissionDenied(cap.Name())
	}
	return nil
}
