// Package pfqrwlock implements a phase-fair reader-writer lock with local
// spinning, after Brandenburg & Anderson, "Spin-based reader-writer
// synchronization for multiprocessor real-time systems" (Real-Time Systems
// 46(1):25-87, 2010).
//
// Readers and writers alternate in phases. All readers that arrive during
// a phase run concurrently; a writer that arrives mid-phase only waits for
// readers already in that phase to drain; readers arriving after the
// writer are deferred to the next reader phase. This bounds writer latency
// by at most one reader phase, regardless of how many new readers keep
// arriving, and serves writers themselves in strict FIFO order via an
// internal MCS queue.
//
// Neither RLock/RUnlock nor Lock/Unlock are reentrant: a goroutine must not
// acquire the lock while already holding it, in either mode.
package pfqrwlock

import (
	"runtime"
	"sync/atomic"

	"github.com/dijkstracula/go-lockstruct/mcslock"
)

const (
	readerIncrement = 0x100
	phaseBit        = 0x001
	writerPresent   = 0x002
	writerMask      = phaseBit | writerPresent
)

// Node is a writer's queue node. The same node type backs both the
// internal MCS writer queue and the flag readers signal on when the
// writer's phase drains, exactly as the source's pfq_rwlock_node_t is a
// type alias for its mcs_node_t.
type Node = mcslock.QNode

// cacheLine is sized to separate independently-contended fields so no two
// of them share a cache line.
type cacheLine = [64]byte

// paddedFlag holds a single atomic boolean on its own cache line.
type paddedFlag struct {
	_   cacheLine
	bit atomic.Bool
}

// Lock is a phase-fair reader-writer lock. The zero value is usable
// (matching pfq_rwlock_init's all-zero initial state).
type Lock struct {
	_ cacheLine
	// rIn counts reader arrivals; low bits carry the phase and
	// writer-present flags, high bits a ticket incremented by
	// readerIncrement.
	rIn uint32
	_   cacheLine
	// rOut counts reader departures, same bit layout as rIn.
	rOut uint32
	_    cacheLine
	// last is the rOut value the departing reader that must wake the
	// waiting writer will observe.
	last uint32
	_    cacheLine
	// wtail serializes writers FIFO.
	wtail mcslock.Lock
	_     cacheLine
	// whead is the queue node of the writer, if any, that readers should
	// signal when their phase drains.
	whead atomic.Pointer[Node]

	writerBlockingReaders [2]paddedFlag
}

// New returns a ready-to-use Lock.
func New() *Lock {
	return &Lock{}
}

// RLock acquires the lock for reading. Multiple readers may hold the lock
// concurrently.
func (l *Lock) RLock() {
	ticket := atomic.AddUint32(&l.rIn, readerIncrement) - readerIncrement

	if ticket&writerPresent != 0 {
		phase := ticket & phaseBit
		for l.writerBlockingReaders[phase].bit.Load() {
			runtime.Gosched()
		}
	}
}

// RUnlock releases a read lock held via RLock.
func (l *Lock) RUnlock() {
	ticket := atomic.AddUint32(&l.rOut, readerIncrement) - readerIncrement

	if ticket&writerPresent != 0 {
		if ticket == atomic.LoadUint32(&l.last) {
			// We are the last reader of this phase; wake the writer
			// waiting on it.
			l.whead.Load().SetBlocked(false)
		}
	}
}

// Lock acquires the lock for writing. me is the caller's queue node for the
// duration of the critical section.
func (l *Lock) Lock(me *Node) {
	// Serialize with other writers FIFO.
	l.wtail.Lock(me)

	me.SetBlocked(true)
	l.whead.Store(me)

	// Block the next batch of readers that arrive in this phase.
	phase := atomic.LoadUint32(&l.rIn) & phaseBit
	l.writerBlockingReaders[phase].bit.Store(true)

	// Flag ourselves present and learn how many readers have already
	// arrived in the current phase.
	in := atomicFetchOr(&l.rIn, writerPresent)

	// Record the ticket the last reader of the current phase will see.
	atomic.StoreUint32(&l.last, in-readerIncrement+writerPresent)

	// Flag ourselves present in the departure counter and learn how many
	// readers have already left.
	out := atomicFetchOr(&l.rOut, writerPresent)

	if in != out {
		// Some readers from the current phase are still active; the last
		// one to depart will clear our blocked flag.
		for me.Blocked() {
			runtime.Gosched()
		}
	}
}

// Unlock releases the lock, allowing the next queued writer (if any) and
// the deferred batch of readers to proceed.
func (l *Lock) Unlock(me *Node) {
	phase := atomicToggleWriterMask(&l.rIn) & phaseBit
	atomicToggleWriterMask(&l.rOut)

	// Release the readers that were deferred to this phase.
	l.writerBlockingReaders[phase].bit.Store(false)

	// Pass the writer lock to the next queued writer, if any.
	l.wtail.Unlock(me)
}

// atomicFetchOr atomically ORs mask into *addr and returns the prior value.
func atomicFetchOr(addr *uint32, mask uint32) uint32 {
	for {
		old := atomic.LoadUint32(addr)
		if atomic.CompareAndSwapUint32(addr, old, old|mask) {
			return old
		}
	}
}

// atomicToggleWriterMask atomically XORs writerMask (the phase bit and the
// writer-present bit) into *addr and returns the prior value. A direct,
// endian-aware byte write would be faster, but this portable alternative
// keeps every touch of rIn/rOut whole-word atomic, which is what makes the
// package provably race-detector-clean (see DESIGN.md).
func atomicToggleWriterMask(addr *uint32) uint32 {
	for {
		old := atomic.LoadUint32(addr)
		if atomic.CompareAndSwapUint32(addr, old, old^writerMask) {
			return old
		}
	}
}
