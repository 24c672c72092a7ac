package skiplist

import (
	"sync/atomic"

	"github.com/dijkstracula/go-lockstruct/mcslock"
)

// node is a single skip-list node. forward[L] is the successor pointer at
// level L; a node at level L also appears at every level below L.
// fullyLinked and marked each transition monotonically from false to true
// exactly once.
type node[T any] struct {
	value T

	height  int
	forward []atomic.Pointer[node[T]]

	fullyLinked atomic.Bool
	marked      atomic.Bool

	// lock guards modification of this node's forward pointers at any
	// level: insert and delete acquire it on the *predecessors* whose
	// forward pointers they rewrite, and delete also acquires it on the
	// victim before marking it; insert never takes it on the node being
	// inserted.
	lock mcslock.Lock
}

// newNode allocates a node with height forward pointers, all nil. The
// node's value is filled in by the caller once allocated (mirroring the
// source's csklnode_alloc_node/csklnode_alloc_from_lfl split between
// shape and content).
func newNode[T any](height int) *node[T] {
	return &node[T]{
		height:  height,
		forward: make([]atomic.Pointer[node[T]], height),
	}
}

func (n *node[T]) next(level int) *node[T] {
	return n.forward[level].Load()
}

func (n *node[T]) setNext(level int, succ *node[T]) {
	n.forward[level].Store(succ)
}
