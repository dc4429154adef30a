// Package tenantlock serializes mutations of one tenant's external
// subscription. The seat reconciler, tier engine and discount engine each
// read-modify-write named subscription items, so they must not interleave.
package tenantlock

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

var ErrLockTimeout = errors.New("tenant_lock_timeout")

// Locker acquires a per-tenant exclusive lock. The returned release func must
// be called exactly once.
type Locker interface {
	Lock(ctx context.Context, businessID snowflake.ID) (release func(), err error)
}

func key(businessID snowflake.ID) string {
	return fmt.Sprintf("seatledger:tenant-subscription:%s", businessID.String())
}

// WithLock runs fn while holding the tenant lock.
func WithLock(ctx context.Context, l Locker, businessID snowflake.ID, fn func(ctx context.Context) error) error {
	release, err := l.Lock(ctx, businessID)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}
