package memstore

import (
	"context"
	"sync"
	"time"
)

// Deduper remembers keys until their TTL passes.
type Deduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]time.Time)}
}

func (d *Deduper) FirstSeen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.seen[key]; ok && exp.After(time.Now()) {
		return false, nil
	}
	d.seen[key] = time.Now().Add(ttl)
	return true, nil
}

func (d *Deduper) Forget(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}

// Locker is a process-local stand-in for the Redis lock.
type Locker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func NewLocker() *Locker {
	return &Locker{held: make(map[string]time.Time)}
}

func (l *Locker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if exp, ok := l.held[key]; ok && exp.After(time.Now()) {
		return nil, false, nil
	}
	l.held[key] = time.Now().Add(ttl)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, true, nil
}
