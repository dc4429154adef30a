package orgcontext

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
)

func TestBusinessIDRoundTrip(t *testing.T) {
	ctx := WithBusinessID(context.Background(), snowflake.ID(42))
	id, ok := BusinessIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, snowflake.ID(42), id)

	_, ok = BusinessIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = BusinessIDFromContext(WithBusinessID(context.Background(), 0))
	assert.False(t, ok)
}

func TestActorFromContext(t *testing.T) {
	_, ok := ActorFromContext(WithActor(context.Background(), Actor{}))
	assert.False(t, ok)

	actor, ok := ActorFromContext(WithActor(context.Background(), Actor{ID: "u1", Role: "owner"}))
	assert.True(t, ok)
	assert.Equal(t, "owner", actor.Role)
}

func TestActorIsElevated(t *testing.T) {
	assert.True(t, Actor{ID: "u", Role: RoleOwner}.IsElevated())
	assert.True(t, Actor{ID: "u", Role: RoleAdmin}.IsElevated())
	assert.False(t, Actor{ID: "u", Role: RoleMember}.IsElevated())
	assert.False(t, SystemActor.IsElevated())
}
