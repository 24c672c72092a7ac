package rbtree

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dijkstracula/go-lockstruct/internal/testutil"
)

func intKey(a, b int) int { return a - b }

// checkRedBlackInvariants single-threadedly verifies the red-black
// invariants: the root is black, no red node has a red child, and every
// root-to-nil path carries the same black height.
func checkRedBlackInvariants[V any](t *testing.T, tr *Tree[int, V]) {
	t.Helper()
	if tr.root == nil {
		return
	}
	assert.Equal(t, black, tr.root.color, "root must be black")

	var blackHeight func(n *Node[int, V]) int
	blackHeight = func(n *Node[int, V]) int {
		if n == nil {
			return 1
		}
		if n.color == red {
			require.False(t, isRed(n.left), "red node %v has red left child", n.Key)
			require.False(t, isRed(n.right), "red node %v has red right child", n.Key)
		}
		lh := blackHeight(n.left)
		rh := blackHeight(n.right)
		require.Equal(t, lh, rh, "black height mismatch under key %v", n.Key)
		if n.color == black {
			return lh + 1
		}
		return lh
	}
	blackHeight(tr.root)
}

func inorder[V any](n *Node[int, V], out *[]int) {
	if n == nil {
		return
	}
	inorder(n.left, out)
	*out = append(*out, n.Key)
	inorder(n.right, out)
}

// TestInsertFixedKeySet walks a fixed
// insertion order over a known key set, checked against the red-black
// invariants after every insert.
func TestInsertFixedKeySet(t *testing.T) {
	keys := []int{7, 3, 18, 10, 22, 8, 11, 26, 2, 6, 13}

	tr := New[int, string](intKey)
	for _, k := range keys {
		_, inserted := tr.Insert(k, "")
		require.True(t, inserted)
		checkRedBlackInvariants(t, tr)
	}

	assert.Equal(t, len(keys), tr.Size())

	var got []int
	inorder(tr.root, &got)
	want := append([]int(nil), keys...)
	sortInts(want)
	assert.Equal(t, want, got)
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func TestFindMissingAndPresent(t *testing.T) {
	tr := New[int, string](intKey)
	tr.Insert(5, "five")
	tr.Insert(3, "three")
	tr.Insert(8, "eight")

	v, ok := tr.Find(3)
	require.True(t, ok)
	assert.Equal(t, "three", v)

	_, ok = tr.Find(100)
	assert.False(t, ok)
}

func TestInsertDuplicateKeepsOriginalValue(t *testing.T) {
	tr := New[int, string](intKey)
	tr.Insert(1, "first")
	v, inserted := tr.Insert(1, "second")
	assert.False(t, inserted)
	assert.Equal(t, "first", v)
	assert.Equal(t, 1, tr.Size())
}

// TestInsertRandomSequences checks the red-black invariants hold, and that
// size tracks distinct-key count, over many random insertion orders.
func TestInsertRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 50; trial++ {
		tr := New[int, int](intKey)
		n := 1 + rng.Intn(200)
		seen := make(map[int]bool, n)
		var distinct int
		for i := 0; i < n; i++ {
			k := rng.Intn(n / 2)
			if !seen[k] {
				seen[k] = true
				distinct++
			}
			tr.Insert(k, i)
		}
		checkRedBlackInvariants(t, tr)
		assert.Equal(t, distinct, tr.Size())

		var got []int
		inorder(tr.root, &got)
		for i := 1; i < len(got); i++ {
			require.Less(t, got[i-1], got[i])
		}
	}
}

func TestConcurrentFindInsert(t *testing.T) {
	const goroutines = 16
	const keySpace = 300

	tr := New[int, int](intKey)

	err := testutil.Parallel(goroutines, func(g int) error {
		for i := 0; i < 100; i++ {
			key := (g*29 + i*7) % keySpace
			if i%2 == 0 {
				tr.Insert(key, key)
			} else {
				tr.Find(key)
			}
		}
		return nil
	})
	require.NoError(t, err)
	checkRedBlackInvariants(t, tr)
}

// TestForestDrainRaceWithInserts exercises the hierarchical locking mode
// through its real consumer: Forest.Drain takes hier's X-lock across
// every tree in the forest at once, which only matters if it actually
// excludes the IS/IX registration every Find/Insert does against the
// same hier. Many goroutines insert distinct keys across two trees while
// a dedicated goroutine repeatedly drains both; every key must end up
// accounted for exactly once, whether it's caught by a Drain snapshot or
// still sitting in its tree at the end. A broken exclusion would let a
// Drain and an in-flight Insert corrupt the same tree concurrently,
// which the race detector would also catch.
func TestForestDrainRaceWithInserts(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 50

	f := NewForest[int, int](intKey)
	treeA := f.Tree("a")
	treeB := f.Tree("b")

	var mu sync.Mutex
	seen := make(map[int]int)
	record := func(keys []int) {
		mu.Lock()
		defer mu.Unlock()
		for _, k := range keys {
			seen[k]++
		}
	}

	err := testutil.Parallel(goroutines+1, func(g int) error {
		if g == goroutines {
			for i := 0; i < 10; i++ {
				got := f.Drain()
				record(got["a"])
				record(got["b"])
			}
			return nil
		}
		for i := 0; i < perGoroutine; i++ {
			key := g*perGoroutine + i
			if g%2 == 0 {
				treeA.Insert(key, key)
			} else {
				treeB.Insert(key, key)
			}
		}
		return nil
	})
	require.NoError(t, err)

	final := f.Drain()
	record(final["a"])
	record(final["b"])

	assert.Equal(t, goroutines*perGoroutine, len(seen))
	for key, count := range seen {
		assert.Equal(t, 1, count, "key %d accounted for %d times, want exactly 1", key, count)
	}
}
