package orgcontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type businessKey struct{}
type actorKey struct{}
type requestIDKey struct{}

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
	RoleOwner  = "owner"
	RoleSystem = "system"
)

// Actor identifies who performs an operation.
type Actor struct {
	ID   string
	Role string
}

// IsZero reports whether no actor was resolved.
func (a Actor) IsZero() bool {
	return strings.TrimSpace(a.ID) == ""
}

// IsElevated reports admin or owner access.
func (a Actor) IsElevated() bool {
	return a.Role == RoleAdmin || a.Role == RoleOwner
}

// SystemActor is used by scheduled jobs.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

// WithBusinessID stores the business ID in the context.
func WithBusinessID(ctx context.Context, id snowflake.ID) context.Context {
	return context.WithValue(ctx, businessKey{}, id)
}

// BusinessIDFromContext returns the business ID from context, if set.
func BusinessIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}
	switch typed := ctx.Value(businessKey{}).(type) {
	case snowflake.ID:
		return typed, typed != 0
	case int64:
		return snowflake.ID(typed), typed != 0
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil {
			return parsed, parsed != 0
		}
	}
	return 0, false
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	if !ok || actor.IsZero() {
		return Actor{}, false
	}
	return actor, true
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, strings.TrimSpace(id))
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
