package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LocalLocker is an in-process Locker with one slot per key.
// Entries are reference counted and dropped when no caller holds or waits.
type LocalLocker struct {
	mu   sync.Mutex
	keys map[string]*localEntry
}

type localEntry struct {
	slot chan struct{}
	refs int
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{keys: make(map[string]*localEntry)}
}

// Acquire locks key, waiting until it is free or ctx is done.
func (l *LocalLocker) Acquire(ctx context.Context, key string, _ time.Duration) (Lease, error) {
	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &localEntry{slot: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.slot <- struct{}{}:
		return &localLease{locker: l, key: key, entry: e}, nil
	case <-ctx.Done():
		l.unref(key, e)
		return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
	}
}

func (l *LocalLocker) unref(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

// size returns the number of tracked keys.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

type localLease struct {
	locker *LocalLocker
	key    string
	entry  *localEntry
	once   sync.Once
}

func (ls *localLease) Release(context.Context) error {
	err := ErrNotHeld
	ls.once.Do(func() {
		<-ls.entry.slot
		ls.locker.unref(ls.key, ls.entry)
		err = nil
	})
	return err
}

var _ Locker = (*LocalLocker)(nil)
