package files

import "sync"

// pathLocks serializes writers per path so the stored body and the committed
// record always come from the same upload. Deletes remove whole subtrees and
// take the tree exclusively.
type pathLocks struct {
	tree  sync.RWMutex
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*pathLock)}
}

// Lock blocks until path is free and returns the matching unlock.
func (l *pathLocks) Lock(path string) func() {
	l.tree.RLock()

	l.mu.Lock()
	pl, ok := l.locks[path]
	if !ok {
		pl = &pathLock{}
		l.locks[path] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.Lock()
	return func() {
		pl.Unlock()

		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, path)
		}
		l.mu.Unlock()

		l.tree.RUnlock()
	}
}

// LockTree waits for every in-flight writer and blocks new ones.
func (l *pathLocks) LockTree() func() {
	l.tree.Lock()
	return l.tree.Unlock
}
