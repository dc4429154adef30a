package tenantlock

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// Local is an in-process Locker for single-instance deployments and tests.
type Local struct {
	mu    sync.Mutex
	slots map[snowflake.ID]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: map[snowflake.ID]*slot{}}
}

func (l *Local) Lock(ctx context.Context, businessID snowflake.ID) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[businessID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[businessID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(businessID, s)
		return nil, ErrLockTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.drop(businessID, s)
		})
	}, nil
}

func (l *Local) drop(businessID snowflake.ID, s *slot) {
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, businessID)
	}
	l.mu.Unlock()
}
