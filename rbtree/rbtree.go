// Package rbtree implements a reader-writer red-black tree: a standard
// CLR-style red-black ordered map, with all mutation and lookup wrapped by
// a single phase-fair reader-writer lock rather than per-node locking.
// Readers of the lock never block each other; writers (Insert) exclude
// everyone else for the duration of the rebalance.
//
// A single Tree supports only Find and Insert, mirroring the source it's
// grounded on: there is no per-key Delete. Forest groups several Trees
// under one shared intention lock and adds the one bulk-removal operation
// that needs exclusive access across all of them at once: Drain.
package rbtree

import (
	"github.com/dijkstracula/go-lockstruct/ilock"
	"github.com/dijkstracula/go-lockstruct/pfqrwlock"
)

type color bool

const (
	red   color = false
	black color = true
)

// Key orders two keys the way the source orders raw addresses: negative if
// a sorts before b, zero if equal, positive if a sorts after b. Callers
// supply this instead of relying on pointer/address comparison, since Go
// gives no portable ordering over arbitrary pointer values.
type Key[K any] func(a, b K) int

// Node is a single red-black tree node. Only Key and Value are exported;
// the color and links are not, and no exported method returns a *Node.
// Mutation is only ever performed by Insert while holding the tree's
// writer lock.
type Node[K any, V any] struct {
	Key   K
	Value V

	color               color
	parent, left, right *Node[K, V]
}

// Tree is a reader-writer red-black tree keyed by K with values V.
type Tree[K any, V any] struct {
	root *Node[K, V]
	size int
	cmp  Key[K]

	lock pfqrwlock.Lock

	// hier, when non-nil, is acquired/released alongside lock to exercise
	// the hierarchical intention-lock mode described in this package's
	// surrounding-code notes: a coarse-grained outer consumer (for
	// instance, a profiler context walking many trees) can IS/IX-lock
	// hier before touching any individual Tree, so that a thread wanting
	// exclusive access to the whole forest (X-locking hier directly) is
	// guaranteed to see no concurrent per-tree writer.
	hier *ilock.Mutex
}

// Option configures a Tree at construction time.
type Option[K any, V any] func(*Tree[K, V])

// WithHierarchicalLocking attaches an intention lock that Insert IX-locks
// and Find IS-locks around their PFQ critical section, letting an outer
// consumer that owns several Trees take a single coarse-grained X-lock
// across all of them instead of coordinating per-tree locks directly. See
// Forest for that consumer.
func WithHierarchicalLocking[K any, V any](hier *ilock.Mutex) Option[K, V] {
	return func(t *Tree[K, V]) { t.hier = hier }
}

// New constructs an empty Tree ordered by cmp.
func New[K any, V any](cmp Key[K], opts ...Option[K, V]) *Tree[K, V] {
	t := &Tree[K, V]{cmp: cmp}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Size returns the number of distinct keys currently in the tree.
func (t *Tree[K, V]) Size() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.size
}

// Find returns the value stored under key, if present.
func (t *Tree[K, V]) Find(key K) (V, bool) {
	if t.hier != nil {
		t.hier.ISLock()
		defer t.hier.ISUnlock()
	}
	t.lock.RLock()
	defer t.lock.RUnlock()

	n := t.root
	for n != nil {
		switch c := t.cmp(key, n.Key); {
		case c == 0:
			return n.Value, true
		case c < 0:
			n = n.left
		default:
			n = n.right
		}
	}
	var zero V
	return zero, false
}

// Insert adds key/value if key is not already present, returning the value
// now stored under key (the new value on success, the pre-existing one
// otherwise) and whether an insertion actually happened.
func (t *Tree[K, V]) Insert(key K, value V) (V, bool) {
	if t.hier != nil {
		t.hier.IXLock()
		defer t.hier.IXUnlock()
	}

	var me pfqrwlock.Node
	t.lock.Lock(&me)
	defer t.lock.Unlock(&me)

	var parent *Node[K, V]
	n := t.root
	for n != nil {
		switch c := t.cmp(key, n.Key); {
		case c == 0:
			return n.Value, false
		case c < 0:
			parent = n
			n = n.left
		default:
			parent = n
			n = n.right
		}
	}

	fresh := &Node[K, V]{Key: key, Value: value, color: red, parent: parent}
	switch {
	case parent == nil:
		t.root = fresh
	case t.cmp(key, parent.Key) < 0:
		parent.left = fresh
	default:
		parent.right = fresh
	}
	t.size++

	t.fixupAfterInsert(fresh)
	t.root.color = black

	return value, true
}

// fixupAfterInsert restores the red-black invariants after fresh has been
// attached as a red leaf, via the standard CLR three-case fix-up.
func (t *Tree[K, V]) fixupAfterInsert(n *Node[K, V]) {
	for n.parent != nil && n.parent.color == red {
		parent := n.parent
		grandparent := parent.parent
		if grandparent == nil {
			break
		}

		if parent == grandparent.left {
			uncle := grandparent.right
			if isRed(uncle) {
				parent.color = black
				uncle.color = black
				grandparent.color = red
				n = grandparent
				continue
			}
			if n == parent.right {
				n = parent
				t.rotateLeft(n)
				parent = n.parent
			}
			parent.color = black
			grandparent.color = red
			t.rotateRight(grandparent)
		} else {
			uncle := grandparent.left
			if isRed(uncle) {
				parent.color = black
				uncle.color = black
				grandparent.color = red
				n = grandparent
				continue
			}
			if n == parent.left {
				n = parent
				t.rotateRight(n)
				parent = n.parent
			}
			parent.color = black
			grandparent.color = red
			t.rotateLeft(grandparent)
		}
	}
}

func isRed[K any, V any](n *Node[K, V]) bool {
	return n != nil && n.color == red
}

func (t *Tree[K, V]) rotateLeft(n *Node[K, V]) {
	r := n.right
	n.right = r.left
	if r.left != nil {
		r.left.parent = n
	}
	r.parent = n.parent
	switch {
	case n.parent == nil:
		t.root = r
	case n == n.parent.left:
		n.parent.left = r
	default:
		n.parent.right = r
	}
	r.left = n
	n.parent = r
}

func (t *Tree[K, V]) rotateRight(n *Node[K, V]) {
	l := n.left
	n.left = l.right
	if l.right != nil {
		l.right.parent = n
	}
	l.parent = n.parent
	switch {
	case n.parent == nil:
		t.root = l
	case n == n.parent.right:
		n.parent.right = l
	default:
		n.parent.left = l
	}
	l.right = n
	n.parent = l
}

// Forest groups several Trees under one shared intention lock, so a
// caller can take a single coarse-grained exclusive lock across all of
// them at once instead of acquiring each Tree's own writer lock in turn
// (which would not stop a Find or Insert on tree A from overlapping
// whatever the caller is doing to tree B).
type Forest[K any, V any] struct {
	hier  *ilock.Mutex
	cmp   Key[K]
	trees map[string]*Tree[K, V]
}

// NewForest constructs an empty Forest ordered by cmp.
func NewForest[K any, V any](cmp Key[K]) *Forest[K, V] {
	return &Forest[K, V]{
		hier:  ilock.New(),
		cmp:   cmp,
		trees: make(map[string]*Tree[K, V]),
	}
}

// Tree returns the named tree, creating it (hierarchically locked against
// the forest's shared intention lock) the first time it's requested. Not
// safe to call concurrently with itself; set up every named tree before
// handing the Forest to concurrent callers of Find/Insert/Drain.
func (f *Forest[K, V]) Tree(name string) *Tree[K, V] {
	if tr, ok := f.trees[name]; ok {
		return tr
	}
	tr := New[K, V](f.cmp, WithHierarchicalLocking[K, V](f.hier))
	f.trees[name] = tr
	return tr
}

// Drain takes exclusive access across every tree in the forest at once —
// no Find or Insert on any of them can be in flight, since every Tree's
// IS/IX registration goes through the same hier — empties each tree, and
// returns every key that was in it. A caller that instead X-locked each
// tree's own writer lock one at a time would let a Find on tree B overlap
// a Drain already in progress on tree A; going through hier excludes the
// whole forest in one step.
func (f *Forest[K, V]) Drain() map[string][]K {
	f.hier.XLock()
	defer f.hier.XUnlock()

	out := make(map[string][]K, len(f.trees))
	for name, tr := range f.trees {
		var keys []K
		collectKeysInorder(tr.root, &keys)
		out[name] = keys
		tr.root = nil
		tr.size = 0
	}
	return out
}

func collectKeysInorder[K any, V any](n *Node[K, V], out *[]K) {
	if n == nil {
		return
	}
	collectKeysInorder(n.left, out)
	*out = append(*out, n.Key)
	collectKeysInorder(n.right, out)
}
