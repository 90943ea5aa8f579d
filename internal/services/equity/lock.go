package equity

import "sync"

// ventureLocks serializes equity recomputation and revenue distribution per
// venture. Different ventures never contend.
type ventureLocks struct {
	mu    sync.Mutex
	locks map[uint]*ventureLock
}

type ventureLock struct {
	mu   sync.Mutex
	refs int
}

func newVentureLocks() *ventureLocks {
	return &ventureLocks{locks: make(map[uint]*ventureLock)}
}

// Lock blocks until the venture is free and returns its unlock func.
func (l *ventureLocks) Lock(ventureID uint) func() {
	l.mu.Lock()
	vl, ok := l.locks[ventureID]
	if !ok {
		vl = &ventureLock{}
		l.locks[ventureID] = vl
	}
	vl.refs++
	l.mu.Unlock()

	vl.mu.Lock()
	return func() {
		vl.mu.Unlock()
		l.mu.Lock()
		vl.refs--
		if vl.refs == 0 {
			delete(l.locks, ventureID)
		}
		l.mu.Unlock()
	}
}
