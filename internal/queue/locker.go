package queue

import (
	"sort"
	"sync"
)

// Locker serialises work per machine inside one process. Callers lock every
// machine an operation touches in a single call so that the locks are always
// taken in ascending id order.
type Locker struct {
	mu    sync.Mutex
	locks map[int64]*machineLock
}

type machineLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocker creates an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[int64]*machineLock)}
}

// Lock blocks until all given machines are held and returns the release func.
// Zero ids are ignored.
func (l *Locker) Lock(machineIDs ...int64) (unlock func()) {
	ids := uniqueSorted(machineIDs)
	held := make([]*machineLock, 0, len(ids))
	for _, id := range ids {
		ml := l.acquire(id)
		ml.mu.Lock()
		held = append(held, ml)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].mu.Unlock()
				l.release(ids[i])
			}
		})
	}
}

func (l *Locker) acquire(id int64) *machineLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	ml, ok := l.locks[id]
	if !ok {
		ml = &machineLock{}
		l.locks[id] = ml
	}
	ml.refs++
	return ml
}

func (l *Locker) release(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ml := l.locks[id]
	ml.refs--
	if ml.refs == 0 {
		delete(l.locks, id)
	}
}

func uniqueSorted(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
