package conversation

import (
	"context"
	"sync"
)

// Locker hands out one mutex per key and forgets keys nobody holds or
// waits on.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewLocker creates a Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*keyLock)}
}

// Key builds the lock key for a tenant's conversation.
func Key(tenantID, conversationID string) string {
	return tenantID + "/" + conversationID
}

// Lock blocks until key is free or ctx is done. The returned func
// releases the lock and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			l.release(key, kl)
		})
	}, nil
}

func (l *Locker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// Len reports how many keys are held or awaited.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
