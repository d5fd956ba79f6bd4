// Package skiplist implements an indexable skip list: a probabilistic ordered
// list of unique keys with logarithmic positional access.
//
// Every forward link records its width (the number of level-0 steps it skips),
// which gives O(log n) insert-at-position, remove, move, rank-of-key and
// key-at-position. Sorted insertion descends using a caller-supplied three-way
// comparator instead of a position.
//
// The list is not safe for concurrent use.
package skiplist

import (
	"fmt"
	"iter"
	"math/rand/v2"
)

const (
	MaxLevel = 24
	p        = 4 // 1/p chance of promoting a node to the next level
)

type node[K comparable] struct {
	key   K
	next  []*node[K]
	prev  []*node[K]
	width []int
}

func (n *node[K]) level() int {
	return len(n.next)
}

type List[K comparable] struct {
	head  *node[K]
	nodes map[K]*node[K]
	level int
	rnd   *rand.Rand
}

// New returns an empty list. Levels are drawn from a deterministic source
// seeded with seed, so equal operation sequences build equal lists.
func New[K comparable](seed uint64) *List[K] {
	l := &List[K]{
		head: &node[K]{
			next:  make([]*node[K], MaxLevel),
			prev:  make([]*node[K], MaxLevel),
			width: make([]int, MaxLevel),
		},
		nodes: make(map[K]*node[K]),
		rnd:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	l.Clear()
	return l
}

func (l *List[K]) randomLevel() int {
	lvl := 1
	for lvl < MaxLevel && l.rnd.IntN(p) == 0 {
		lvl++
	}
	return lvl
}

func (l *List[K]) Len() int {
	return len(l.nodes)
}

func (l *List[K]) Contains(key K) bool {
	_, ok := l.nodes[key]
	return ok
}

// Insert puts key at position pos (0 <= pos <= Len()).
func (l *List[K]) Insert(key K, pos int) error {
	if _, found := l.nodes[key]; found {
		return fmt.Errorf("skiplist: duplicate key %v", key)
	}
	if pos < 0 || pos > len(l.nodes) {
		return fmt.Errorf("skiplist: position %d out of range [0, %d]", pos, len(l.nodes))
	}
	var update [MaxLevel]*node[K]
	var rank [MaxLevel]int
	x := l.head
	for i := l.level - 1; i >= 0; i-- {
		if i < l.level-1 {
			rank[i] = rank[i+1]
		}
		for x.next[i] != nil && rank[i]+x.width[i] <= pos {
			rank[i] += x.width[i]
			x = x.next[i]
		}
		update[i] = x
	}
	l.link(key, pos, &update, &rank)
	return nil
}

// InsertSorted inserts key after all keys comparing less than or equal to it
// and returns the position it landed at.
func (l *List[K]) InsertSorted(key K, cmp func(a, b K) int) (int, error) {
	if _, found := l.nodes[key]; found {
		return 0, fmt.Errorf("skiplist: duplicate key %v", key)
	}
	var update [MaxLevel]*node[K]
	var rank [MaxLevel]int
	x := l.head
	for i := l.level - 1; i >= 0; i-- {
		if i < l.level-1 {
			rank[i] = rank[i+1]
		}
		for x.next[i] != nil && cmp(x.next[i].key, key) <= 0 {
			rank[i] += x.width[i]
			x = x.next[i]
		}
		update[i] = x
	}
	pos := rank[0]
	l.link(key, pos, &update, &rank)
	return pos, nil
}

func (l *List[K]) link(key K, pos int, update *[MaxLevel]*node[K], rank *[MaxLevel]int) {
	lvl := l.randomLevel()
	if lvl > l.level {
		for i := l.level; i < lvl; i++ {
			rank[i] = 0
			update[i] = l.head
			l.head.width[i] = len(l.nodes) + 1
		}
		l.level = lvl
	}

	n := &node[K]{
		key:   key,
		next:  make([]*node[K], lvl),
		prev:  make([]*node[K], lvl),
		width: make([]int, lvl),
	}
	for i := 0; i < lvl; i++ {
		u := update[i]
		n.next[i] = u.next[i]
		n.prev[i] = u
		if u.next[i] != nil {
			u.next[i].prev[i] = n
		}
		u.next[i] = n
		// u spans (pos - rank[i]) steps up to n, n spans the remainder
		n.width[i] = u.width[i] - (pos - rank[i])
		u.width[i] = pos - rank[i] + 1
	}
	for i := lvl; i < l.level; i++ {
		update[i].width[i]++
	}
	l.nodes[key] = n
}

// Remove deletes key and returns the position it occupied.
func (l *List[K]) Remove(key K) (int, bool) {
	n := l.nodes[key]
	if n == nil {
		return -1, false
	}
	pos := l.rankOf(n)

	// predecessors on levels above the node's own height
	var update [MaxLevel]*node[K]
	x := l.head
	var rank int
	for i := l.level - 1; i >= 0; i-- {
		for x.next[i] != nil && rank+x.width[i] <= pos {
			rank += x.width[i]
			x = x.next[i]
		}
		update[i] = x
	}

	for i := 0; i < l.level; i++ {
		if i < n.level() {
			u := n.prev[i]
			u.width[i] += n.width[i] - 1
			u.next[i] = n.next[i]
			if n.next[i] != nil {
				n.next[i].prev[i] = u
			}
		} else {
			update[i].width[i]--
		}
	}
	for l.level > 1 && l.head.next[l.level-1] == nil {
		l.level--
	}
	delete(l.nodes, key)
	return pos, true
}

// Move relocates an existing key to position pos in the list without the key.
func (l *List[K]) Move(key K, pos int) error {
	if _, ok := l.Remove(key); !ok {
		return fmt.Errorf("skiplist: key %v not found", key)
	}
	return l.Insert(key, pos)
}

// Position returns the zero-based rank of key, or -1.
func (l *List[K]) Position(key K) int {
	n := l.nodes[key]
	if n == nil {
		return -1
	}
	return l.rankOf(n)
}

func (l *List[K]) rankOf(n *node[K]) int {
	var rank int
	x := n
	for x != l.head {
		top := x.level() - 1
		u := x.prev[top]
		rank += u.width[top]
		x = u
	}
	return rank - 1
}

// At returns the key at position pos.
func (l *List[K]) At(pos int) (K, bool) {
	var zero K
	if pos < 0 || pos >= len(l.nodes) {
		return zero, false
	}
	target := pos + 1
	x := l.head
	var rank int
	for i := l.level - 1; i >= 0; i-- {
		for x.next[i] != nil && rank+x.width[i] <= target {
			rank += x.width[i]
			x = x.next[i]
		}
		if rank == target {
			return x.key, true
		}
	}
	return zero, false
}

func (l *List[K]) First() (K, bool) {
	if n := l.head.next[0]; n != nil {
		return n.key, true
	}
	var zero K
	return zero, false
}

// Next returns the key following key.
func (l *List[K]) Next(key K) (K, bool) {
	var zero K
	n := l.nodes[key]
	if n == nil || n.next[0] == nil {
		return zero, false
	}
	return n.next[0].key, true
}

// Prev returns the key preceding key.
func (l *List[K]) Prev(key K) (K, bool) {
	var zero K
	n := l.nodes[key]
	if n == nil || n.prev[0] == l.head {
		return zero, false
	}
	return n.prev[0].key, true
}

func (l *List[K]) All() iter.Seq[K] {
	return func(yield func(K) bool) {
		for x := l.head.next[0]; x != nil; x = x.next[0] {
			if !yield(x.key) {
				return
			}
		}
	}
}

func (l *List[K]) Backward() iter.Seq[K] {
	return func(yield func(K) bool) {
		var last *node[K]
		x := l.head
		for i := l.level - 1; i >= 0; i-- {
			for x.next[i] != nil {
				x = x.next[i]
			}
		}
		if x != l.head {
			last = x
		}
		for x := last; x != nil && x != l.head; x = x.prev[0] {
			if !yield(x.key) {
				return
			}
		}
	}
}

func (l *List[K]) Keys() []K {
	keys := make([]K, 0, len(l.nodes))
	for k := range l.All() {
		keys = append(keys, k)
	}
	return keys
}

// Clear removes all keys.
func (l *List[K]) Clear() {
	// a nil link spans up to the virtual end position Len()+1
	for i := range l.head.next {
		l.head.next[i] = nil
		l.head.width[i] = 1
	}
	l.level = 1
	clear(l.nodes)
}

// Validate walks every level and verifies link widths, back pointers and the
// level-0 count. It is meant for tests and diagnostics.
func (l *List[K]) Validate() error {
	var count int
	for x := l.head.next[0]; x != nil; x = x.next[0] {
		count++
		if l.nodes[x.key] != x {
			return fmt.Errorf("skiplist: node %v missing from key map", x.key)
		}
	}
	if count != len(l.nodes) {
		return fmt.Errorf("skiplist: level 0 has %d nodes, key map has %d", count, len(l.nodes))
	}
	for i := 0; i < l.level; i++ {
		pos := 0
		x := l.head
		for x.next[i] != nil {
			nxt := x.next[i]
			if nxt.prev[i] != x {
				return fmt.Errorf("skiplist: broken back link at level %d before %v", i, nxt.key)
			}
			npos := l.rankOf(nxt) + 1
			if npos-pos != x.width[i] {
				return fmt.Errorf("skiplist: width %d at level %d, actual distance %d", x.width[i], i, npos-pos)
			}
			pos = npos
			x = nxt
		}
	}
	return nil
}
