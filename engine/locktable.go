package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// LockKind names what a lock table entry serializes (§3 "Lock table").
type LockKind int

const (
	LockList LockKind = iota
	LockMkdir
)

func (k LockKind) String() string {
	if k == LockMkdir {
		return "mkdir"
	}
	return "list"
}

// LockTable lets a session acquire a named lock over (server, path, kind) to
// serialize conflicting operations across concurrent engines sharing the
// same directory cache (§3, §4.G, §4.J, §5). Each named lock is a weighted
// semaphore of size 1 from golang.org/x/sync/semaphore, giving exactly the
// cooperative try-or-wait semantics §5 describes without hand-rolled
// condvar bookkeeping.
type LockTable struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewLockTable returns an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{sems: make(map[string]*semaphore.Weighted)}
}

// DefaultLockTable is the process-wide instance used when a Session is not
// given its own via WithLockTable.
var DefaultLockTable = NewLockTable()

func lockKey(server, path string, kind LockKind) string {
	return kind.String() + "\x00" + server + "\x00" + path
}

func (t *LockTable) semFor(key string) *semaphore.Weighted {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sems[key]
	if !ok {
		s = semaphore.NewWeighted(1)
		t.sems[key] = s
	}
	return s
}

// TryLock attempts a non-blocking acquire, mirroring the spec's try_lock:
// returns (release, true) on success or (nil, false) when it would block.
func (t *LockTable) TryLock(server, path string, kind LockKind) (release func(), ok bool) {
	s := t.semFor(lockKey(server, path, kind))
	if !s.TryAcquire(1) {
		return nil, false
	}
	return func() { s.Release(1) }, true
}

// Lock blocks (observing ctx) until the lock is acquired, which is how an op
// registers for a wakeup when a contended lock frees up (§5 "Suspension
// points... awaiting a cache lock").
func (t *LockTable) Lock(ctx context.Context, server, path string, kind LockKind) (release func(), err error) {
	s := t.semFor(lockKey(server, path, kind))
	if err := s.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { s.Release(1) }, nil
}
