package kafka

import (
	"sync"
	"sync/atomic"
	"time"
)

/* ───────────────────────── Uncapped ───────────────────────────── */

type node[T any] struct {
	pos        int64
	payload    T
	prev, next *node[T]
}

// Uncapped tracks payloads in arrival order and reports the highest payload
// below which everything has been resolved, regardless of resolve order.
type Uncapped[T any] struct {
	cpPos      int64
	cpPay      *T
	start, end *node[T]
}

func NewUncapped[T any]() *Uncapped[T] { return &Uncapped[T]{} }

func (u *Uncapped[T]) Track(p T, size int64) func() *T {
	n := &node[T]{payload: p, pos: size}
	if u.start == nil {
		u.start = n
	}
	if u.end != nil {
		n.prev = u.end
		n.pos += u.end.pos
		u.end.next = n
	} else {
		n.pos += u.cpPos
	}
	u.end = n
	// resolve returns the new checkpoint, or nil when it did not move.
	return func() *T {
		advanced := n.prev == nil
		if advanced {
			tmp := n.payload
			u.cpPay, u.cpPos = &tmp, n.pos
			u.start = n.next
		} else {
			n.prev.pos = n.pos
			n.prev.payload = n.payload
			n.prev.next = n.next
		}
		if n.next != nil {
			n.next.prev = n.prev
		} else {
			u.end = n.prev
		}
		if !advanced {
			return nil
		}
		return u.cpPay
	}
}

func (u *Uncapped[T]) Pending() int64 {
	if u.end == nil {
		return 0
	}
	return u.end.pos - u.cpPos
}

func (u *Uncapped[T]) Highest() *T { return u.cpPay }

/* ───────────────────────── Manager (commit helper) ────────────────────── */

// Manager keeps one Uncapped tracker per key (partition) and decides *when*
// the caller should flush its offsets.
type Manager[K comparable, T any] struct {
	mu    sync.Mutex
	parts map[K]*Uncapped[T]

	commitEveryNS int64
	lastCommitNS  int64
	now           func() time.Time
}

func NewManager[K comparable, T any](commitEvery time.Duration) *Manager[K, T] {
	return &Manager[K, T]{
		parts:         map[K]*Uncapped[T]{},
		commitEveryNS: commitEvery.Nanoseconds(),
		now:           time.Now,
	}
}

// Track registers payload under key. The returned resolve must be called once
// the payload was processed; it reports the highest contiguous resolved
// payload for key and whether a commit is due. Calling it more than once is
// a no-op that returns (nil, false).
func (m *Manager[K, T]) Track(key K, payload T) (resolve func() (highest *T, shouldCommit bool)) {
	m.mu.Lock()
	u, ok := m.parts[key]
	if !ok {
		u = NewUncapped[T]()
		m.parts[key] = u
	}
	res := u.Track(payload, 1)
	m.mu.Unlock()

	var once atomic.Bool
	return func() (*T, bool) {
		if !once.CompareAndSwap(false, true) {
			return nil, false
		}
		m.mu.Lock()
		highest := res()
		m.mu.Unlock()

		now := m.now().UnixNano()
		last := atomic.LoadInt64(&m.lastCommitNS)
		if last+m.commitEveryNS <= now && atomic.CompareAndSwapInt64(&m.lastCommitNS, last, now) {
			return highest, true
		}
		return highest, false
	}
}

// Pending is the number of unresolved payloads under key.
func (m *Manager[K, T]) Pending(key K) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.parts[key]; ok {
		return u.Pending()
	}
	return 0
}

// Reset forgets every tracker, e.g. after a rebalance revoked the partitions.
func (m *Manager[K, T]) Reset() {
	m.mu.Lock()
	m.parts = map[K]*Uncapped[T]{}
	m.mu.Unlock()
}
