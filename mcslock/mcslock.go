// Package mcslock implements the MCS queue lock: a FIFO, fine-grained
// mutual-exclusion lock in which every waiter spins on a field of its own
// queue node rather than on shared state. This gives strictly local
// spinning (no coherence traffic between waiters) and strict FIFO
// acquisition order.
//
// Unlike sync.Mutex, an MCS lock requires the caller to supply a QNode that
// represents its place in the queue. The node must be distinct per
// concurrent lock/unlock pair held by a goroutine and must remain valid
// (unmoved, not reused) for the duration of the critical section.
package mcslock

import (
	"runtime"
	"sync/atomic"
)

// QNode is a caller-owned queue node. A single QNode must not be used
// concurrently by more than one goroutine, and must outlive the critical
// section it guards.
type QNode struct {
	next    atomic.Pointer[QNode]
	blocked atomic.Bool
}

// SetBlocked and Blocked expose the node's wait flag directly. They exist
// for composed locks (pfqrwlock's writer path reuses a QNode as its own
// signaling flag, the same way the source's pfq_rwlock_node_t is a type
// alias for mcs_node_t) and should not be used to implement a second,
// independent lock protocol over the same node.
func (n *QNode) SetBlocked(v bool) { n.blocked.Store(v) }

// Blocked reports the node's current wait flag.
func (n *QNode) Blocked() bool { return n.blocked.Load() }

// Lock is an MCS queue lock. The zero value is an unlocked lock.
type Lock struct {
	tail atomic.Pointer[QNode]
}

// New returns a ready-to-use Lock.
func New() *Lock {
	return &Lock{}
}

// Lock acquires the lock, blocking until it is held. me is the caller's
// queue node for the duration of the critical section.
func (l *Lock) Lock(me *QNode) {
	me.next.Store(nil)

	// Install our node at the tail of the queue and learn our predecessor,
	// if any. This fetch-and-store is the lock's single linearization
	// point for acquisition order: whichever goroutine's swap executes
	// first is earlier in the FIFO.
	pred := l.tail.Swap(me)
	if pred == nil {
		// No predecessor: the lock was free and we now hold it.
		return
	}

	// Announce that we're waiting before publishing ourselves to our
	// predecessor, so that its hand-off store can never race ahead of our
	// own spin.
	me.blocked.Store(true)
	pred.next.Store(me)

	for me.blocked.Load() {
		runtime.Gosched()
	}
}

// Unlock releases the lock. me must be the same node passed to the
// matching Lock call.
func (l *Lock) Unlock(me *QNode) {
	if me.next.Load() == nil {
		// We may be the only node in the queue. Try to remove ourselves
		// from the tail; if that succeeds, there is no successor to
		// signal.
		if l.tail.CompareAndSwap(me, nil) {
			return
		}
		// A successor is in the process of linking itself behind us but
		// hasn't published its pointer yet. Wait for it to appear.
		for me.next.Load() == nil {
			runtime.Gosched()
		}
	}
	me.next.Load().blocked.Store(false)
}

// TryLock attempts to acquire the lock without blocking. It returns true
// iff the queue was empty and me was installed as the sole holder.
func (l *Lock) TryLock(me *QNode) bool {
	me.next.Store(nil)
	return l.tail.CompareAndSwap(nil, me)
}
