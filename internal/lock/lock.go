// Package lock provides the per-member mutual-exclusion scope held around
// coupon issuance and redemption.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotAcquired is returned when a lock could not be taken within the wait bound.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker serializes work on a key. The returned release func must be called
// exactly once; it is safe to call after ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

func MemberKey(memberID int64) string {
	return fmt.Sprintf("loyalty:coupon:member:%d", memberID)
}

type keyedMutex struct {
	ch   chan struct{}
	refs int
}

// Local is an in-process Locker keyed by string. Entries are dropped once no
// goroutine holds or waits on them.
type Local struct {
	mu    sync.Mutex
	locks map[string]*keyedMutex
	wait  time.Duration
}

// NewLocal returns a Local that gives up after wait; zero waits on ctx alone.
func NewLocal(wait time.Duration) *Local {
	return &Local{locks: make(map[string]*keyedMutex), wait: wait}
}

func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	l.mu.Lock()
	km, ok := l.locks[key]
	if !ok {
		km = &keyedMutex{ch: make(chan struct{}, 1)}
		l.locks[key] = km
	}
	km.refs++
	l.mu.Unlock()

	select {
	case km.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, km)
		return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-km.ch
			l.unref(key, km)
		})
	}, nil
}

func (l *Local) unref(key string, km *keyedMutex) {
	l.mu.Lock()
	defer l.mu.Unlock()
	km.refs--
	if km.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
