package skiplist

import (
	"sync"

	"github.com/dijkstracula/go-lockstruct/mcslock"
	"github.com/dijkstracula/go-lockstruct/randlevel"
)

// freeListBatchSize mirrors the source's NUM_NODES: the number of nodes
// transferred between the shared free list and a local cache at a time.
const freeListBatchSize = 10

// freeList amortizes node allocation the way the source's global
// (GF_cskl_nodes) plus thread-local (_lf_cskl_nodes) free lists do: a
// shared list protected by one mcslock.Lock backs a per-P cache. Go has no
// thread-local storage primitive; sync.Pool is the idiomatic generalization
// (its per-P affinity gives most of the same cache-locality benefit without
// a goroutine ever owning a cache across a blocking call).
//
// This is an optional optimization (see DESIGN.md): disabled skip lists
// allocate with plain newNode instead. Nodes drawn from a freeList already
// carry the random height they will use once linked in, exactly as the
// source's csklnode_malloc does — the height is decided when the node
// joins the free list, not when it's withdrawn for an insert.
type freeList[T any] struct {
	maxHeight int

	sharedMu mcslock.Lock
	shared   *node[T] // chained through forward[0], unused while a node is free

	pool sync.Pool
}

type localBatch[T any] struct {
	nodes []*node[T]
}

func newFreeList[T any](maxHeight int) *freeList[T] {
	fl := &freeList[T]{maxHeight: maxHeight}
	fl.pool.New = func() any { return new(localBatch[T]) }
	return fl
}

// get removes and returns a node from the local cache, refilling it from
// the shared list (or by allocating fresh nodes) if empty.
func (fl *freeList[T]) get() *node[T] {
	b := fl.pool.Get().(*localBatch[T])
	defer fl.pool.Put(b)

	if len(b.nodes) == 0 {
		fl.refill(b)
	}
	n := b.nodes[len(b.nodes)-1]
	b.nodes = b.nodes[:len(b.nodes)-1]
	return n
}

func (fl *freeList[T]) refill(b *localBatch[T]) {
	var me mcslock.QNode
	if fl.sharedMu.TryLock(&me) {
		for fl.shared != nil && len(b.nodes) < freeListBatchSize {
			n := fl.shared
			fl.shared = n.forward[0].Load()
			n.forward[0].Store(nil)
			b.nodes = append(b.nodes, n)
		}
		fl.sharedMu.Unlock(&me)
	}
	for len(b.nodes) < freeListBatchSize {
		b.nodes = append(b.nodes, newNode[T](randlevel.RandomLevel(fl.maxHeight)))
	}
}

// put resets n and returns it to the shared free list. It is called by the
// unsynchronized bulk-range-delete path, which can guarantee no concurrent
// reader still holds a pointer into n, and by Insert for its pre-allocated
// node when that node was never linked in (see skiplist.go).
func (fl *freeList[T]) put(n *node[T]) {
	for i := range n.forward {
		n.forward[i].Store(nil)
	}
	n.fullyLinked.Store(false)
	n.marked.Store(false)

	var me mcslock.QNode
	fl.sharedMu.Lock(&me)
	n.forward[0].Store(fl.shared)
	fl.shared = n
	fl.sharedMu.Unlock(&me)
}
