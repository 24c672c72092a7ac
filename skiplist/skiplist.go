// Package skiplist implements a lock-coupled concurrent skip list: an
// ordered set over a totally-ordered value type, supporting concurrent
// find/insert/delete and an unsynchronized bulk range-delete, after
// Herlihy & Shavit's optimistic lock-coupling algorithm as realized in the
// source's cskiplist.c.
//
// Every individual operation (Find, FindInRange, Insert, Delete) acquires
// the list's outer lock in reader mode: readers of this outer lock never
// block each other, and fine-grained mutual exclusion between concurrent
// writers comes from per-node MCS locks acquired only on a node's
// predecessors. DeleteRangeUnsynchronized and
// DeleteRangeInRangeUnsynchronized acquire the outer lock in writer mode,
// excluding every individual operation for the duration of the bulk
// splice, which is why they need no per-node locking of their own.
package skiplist

import (
	"runtime"
	"strings"

	"github.com/dijkstracula/go-lockstruct/mcslock"
	"github.com/dijkstracula/go-lockstruct/pfqrwlock"
	"github.com/dijkstracula/go-lockstruct/randlevel"
)

// CompareFunc is a three-way comparator: negative if a sorts before b,
// zero if equal, positive if a sorts after b.
type CompareFunc[T any] func(a, b T) int

// noLevel marks "value not found at any level" in findHelper's return.
const noLevel = -1

type findMode int

const (
	findEarlyExit findMode = iota
	findFull
)

// SkipList is an ordered set of values of type T.
type SkipList[T any] struct {
	left, right *node[T]

	maxHeight int
	compare   CompareFunc[T]
	inRange   CompareFunc[T]

	lock pfqrwlock.Lock

	freeList *freeList[T]
}

// Option configures a SkipList at construction time.
type Option[T any] func(*SkipList[T])

// WithFreeList enables the shared/local free-list allocation strategy
// described in DESIGN.md: an optional optimization, off by default.
func WithFreeList[T any]() Option[T] {
	return func(s *SkipList[T]) {
		s.freeList = newFreeList[T](s.maxHeight)
	}
}

// New constructs an empty SkipList bounded by sentinel values lo and hi,
// which compare, respectively, less than and greater than every value ever
// inserted. compare orders values for exact-match lookups; inRange is a
// trichotomy predicate used by FindInRange/DeleteRangeInRangeUnsynchronized
// ("contains" reported as zero).
func New[T any](lo, hi T, maxHeight int, compare, inRange CompareFunc[T], opts ...Option[T]) *SkipList[T] {
	left := newNode[T](maxHeight)
	right := newNode[T](0)
	left.value = lo
	right.value = hi
	left.fullyLinked.Store(true)
	right.fullyLinked.Store(true)
	for level := 0; level < maxHeight; level++ {
		left.setNext(level, right)
	}

	s := &SkipList[T]{
		left:      left,
		right:     right,
		maxHeight: maxHeight,
		compare:   compare,
		inRange:   inRange,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// findHelper walks the list from startPred downward level by level,
// filling preds[level] with the last node strictly before value and
// succs[level] with the first node not strictly before value, at every
// populated level. It returns the highest level at which an exact match
// was found, or noLevel.
//
// In findEarlyExit mode it stops as soon as a match is found (read-only
// lookups don't need predecessor/successor hooks at every level). In
// findFull mode it always descends to level 0, which insert/delete need
// to know every predecessor to lock.
func (s *SkipList[T]) findHelper(cmp CompareFunc[T], startPred *node[T], value T, preds, succs []*node[T], mode findMode) int {
	foundLevel := noLevel
	pred := startPred
	for level := s.maxHeight - 1; level >= 0; level-- {
		curr := pred.next(level)
		for cmp(curr.value, value) < 0 {
			pred = curr
			curr = pred.next(level)
		}
		preds[level] = pred
		succs[level] = curr

		if foundLevel == noLevel && cmp(curr.value, value) == 0 {
			foundLevel = level
			if mode == findEarlyExit {
				break
			}
		}
	}
	return foundLevel
}

func (s *SkipList[T]) find(cmp CompareFunc[T], value T) (T, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	preds := make([]*node[T], s.maxHeight)
	succs := make([]*node[T], s.maxHeight)
	level := s.findHelper(cmp, s.left, value, preds, succs, findEarlyExit)

	var zero T
	if level == noLevel {
		return zero, false
	}
	n := succs[level]
	if !n.fullyLinked.Load() || n.marked.Load() {
		return zero, false
	}
	return n.value, true
}

// Find returns the stored value exactly matching value under compare, if
// any is currently fully linked and unmarked.
func (s *SkipList[T]) Find(value T) (T, bool) {
	return s.find(s.compare, value)
}

// FindInRange returns the stored value for which inRange(storedValue,
// value) == 0, if any is currently fully linked and unmarked.
func (s *SkipList[T]) FindInRange(value T) (T, bool) {
	return s.find(s.inRange, value)
}

// Insert adds value if no equal value (under compare) is present. It
// returns the value now in the list (the new value on success, the
// pre-existing one otherwise) and whether an insertion actually happened.
func (s *SkipList[T]) Insert(value T) (T, bool) {
	var newN *node[T]
	if s.freeList != nil {
		newN = s.freeList.get()
	} else {
		newN = newNode[T](randlevel.RandomLevel(s.maxHeight))
	}
	newN.value = value

	preds := make([]*node[T], s.maxHeight)
	succs := make([]*node[T], s.maxHeight)

	for {
		s.lock.RLock()

		foundLevel := s.findHelper(s.compare, s.left, value, preds, succs, findFull)
		if foundLevel != noLevel {
			existing := succs[foundLevel]
			if existing.marked.Load() {
				// Being deleted concurrently: retry from the top.
				s.lock.RUnlock()
				continue
			}
			// newN was pre-allocated outside the loop and never linked into
			// the list or exposed to any other goroutine, so it's always
			// safe to give it back to the free list here.
			if s.freeList != nil {
				s.freeList.put(newN)
			}
			for !existing.fullyLinked.Load() {
				runtime.Gosched()
			}
			s.lock.RUnlock()
			return existing.value, false
		}

		myHeight := newN.height
		qnodes := make([]mcslock.QNode, myHeight)
		highestLocked := -1
		var prevPred *node[T]
		valid := true

		for level := 0; level < myHeight; level++ {
			pred := preds[level]
			succ := succs[level]
			if pred != prevPred {
				pred.lock.Lock(&qnodes[level])
				highestLocked = level
				prevPred = pred
			}
			if pred.marked.Load() || succ.marked.Load() || pred.next(level) != succ {
				valid = false
				break
			}
		}

		if valid {
			for level := 0; level < myHeight; level++ {
				newN.setNext(level, succs[level])
				preds[level].setNext(level, newN)
			}
			newN.fullyLinked.Store(true)
		}

		unlockPreds(preds, qnodes, highestLocked)
		s.lock.RUnlock()

		if valid {
			return value, true
		}
		// Validation failed: some predecessor's linkage changed underneath
		// us. Retry the whole operation.
	}
}

// Delete removes the value exactly matching value (under compare), if
// present, and reports whether a node was removed.
//
// Like the source's cskl_delete, a removed node's memory is marked and
// spliced out of the list but never freed or returned to any free list: a
// concurrent Find/Insert/Delete may already hold a *node[T] obtained
// before the splice and must be able to safely read its fields until it
// naturally drops the reference. Go's garbage collector reclaims the node
// once the last such reference disappears -- stricter than the source's C
// behavior (an unconditional leak) without changing any observable
// contract.
func (s *SkipList[T]) Delete(value T) bool {
	var victim *node[T]
	var victimQNode mcslock.QNode
	victimMarked := false

	preds := make([]*node[T], s.maxHeight)
	succs := make([]*node[T], s.maxHeight)

	for {
		s.lock.RLock()

		foundLevel := s.findHelper(s.compare, s.left, value, preds, succs, findFull)

		if !victimMarked {
			if foundLevel == noLevel || !isRemovable(succs[foundLevel], foundLevel) {
				s.lock.RUnlock()
				return false
			}
			victim = succs[foundLevel]
			victim.lock.Lock(&victimQNode)
			if victim.marked.Load() {
				victim.lock.Unlock(&victimQNode)
				s.lock.RUnlock()
				return false
			}
			victim.marked.Store(true)
			victimMarked = true
		}

		height := victim.height
		qnodes := make([]mcslock.QNode, height)
		highestLocked := -1
		var prevPred *node[T]
		valid := true

		for level := 0; level < height; level++ {
			pred := preds[level]
			succ := succs[level]
			if pred != prevPred {
				pred.lock.Lock(&qnodes[level])
				highestLocked = level
				prevPred = pred
			}
			if pred.marked.Load() || pred.next(level) != succ {
				valid = false
				break
			}
		}

		if !valid {
			unlockPreds(preds, qnodes, highestLocked)
			s.lock.RUnlock()
			continue
		}

		for level := height - 1; level >= 0; level-- {
			preds[level].setNext(level, victim.next(level))
		}

		victim.lock.Unlock(&victimQNode)
		unlockPreds(preds, qnodes, highestLocked)
		s.lock.RUnlock()
		return true
	}
}

// DeleteRangeUnsynchronized removes every node whose value v satisfies
// lo <= v <= hi under compare. It acquires the outer lock in writer mode,
// excluding every concurrent individual operation for its duration, which
// is what makes it safe to free the removed nodes immediately (when a
// free list is enabled) with no risk of an in-flight reader holding a
// stale pointer.
func (s *SkipList[T]) DeleteRangeUnsynchronized(lo, hi T) bool {
	return s.deleteRangeUnsynchronized(s.compare, lo, hi)
}

// DeleteRangeInRangeUnsynchronized is DeleteRangeUnsynchronized using the
// inRange predicate instead of compare.
func (s *SkipList[T]) DeleteRangeInRangeUnsynchronized(lo, hi T) bool {
	return s.deleteRangeUnsynchronized(s.inRange, lo, hi)
}

func (s *SkipList[T]) deleteRangeUnsynchronized(cmp CompareFunc[T], lo, hi T) bool {
	var me pfqrwlock.Node
	s.lock.Lock(&me)
	defer s.lock.Unlock(&me)

	maxHeight := s.maxHeight
	loPreds := make([]*node[T], maxHeight)
	loDiscard := make([]*node[T], maxHeight)

	hlayer := s.findHelper(cmp, s.left, lo, loPreds, loDiscard, findFull)
	first := loPreds[0].next(0)

	spliceTargets := loPreds
	if cmp(lo, hi) != 0 {
		hiPreds := make([]*node[T], maxHeight)
		hiDiscard := make([]*node[T], maxHeight)
		hlayer = s.findHelper(cmp, loPreds[maxHeight-1], hi, hiPreds, hiDiscard, findFull)
		spliceTargets = hiPreds

		for level := maxHeight - 1; level > hlayer; level-- {
			loPreds[level].setNext(level, hiPreds[level].next(level))
		}
	}

	for level := hlayer; level >= 0; level-- {
		afterExactMatch := spliceTargets[level].next(level).next(level)
		loPreds[level].setNext(level, afterExactMatch)
	}

	last := loPreds[0].next(0)

	removed := first != last
	for n := first; n != last; {
		next := n.next(0)
		if s.freeList != nil {
			s.freeList.put(n)
		}
		n = next
	}
	return removed
}

func isRemovable[T any](candidate *node[T], level int) bool {
	return candidate.fullyLinked.Load() && candidate.height-1 == level && !candidate.marked.Load()
}

// unlockPreds releases the per-node MCS locks taken on preds[0..highestLocked],
// skipping duplicates the way insert/delete skip re-locking a predecessor
// that appears at more than one level.
func unlockPreds[T any](preds []*node[T], qnodes []mcslock.QNode, highestLocked int) {
	var prevPred *node[T]
	for level := 0; level <= highestLocked; level++ {
		pred := preds[level]
		if pred != prevPred {
			pred.lock.Unlock(&qnodes[level])
		}
		prevPred = pred
	}
}

// DebugString renders the list's level-0 chain as an ASCII dump, acquiring
// the read lock the way the source's cskl_tostr/cskl_dump do. Intended for
// ad hoc debugging, not machine parsing.
func (s *SkipList[T]) DebugString(format func(T) string) string {
	s.lock.RLock()
	defer s.lock.RUnlock()

	var b strings.Builder
	for n := s.left; ; n = n.next(0) {
		b.WriteString(format(n.value))
		if n == s.right {
			break
		}
		b.WriteString(" -> ")
	}
	return b.String()
}
