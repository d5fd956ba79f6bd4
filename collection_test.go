package itemdb

import (
	"errors"
	"testing"
)

func TestOrderedCollection_basics(t *testing.T) {
	c := newOrderedCollection[int]()
	ensure(c.Append(1, "one"))
	ensure(c.Append(3, "three"))
	ensure(c.Insert(2, 1, "two"))
	ensure(c.Insert(0x10, 0, ""))
	deepEqual(t, c.Keys(), []int{0x10, 1, 2, 3})
	deepEqual(t, c.Aliases(), []string{"", "one", "two", "three"})
	deepEqual(t, c.Len(), 4)

	k, ok := c.ByAlias("two")
	deepEqual(t, k, 2)
	deepEqual(t, ok, true)
	k, ok = c.Next(2)
	deepEqual(t, k, 3)
	deepEqual(t, ok, true)
	_, ok = c.Next(3)
	deepEqual(t, ok, false)
	k, _ = c.Prev(1)
	deepEqual(t, k, 0x10)

	if err := c.Append(4, "one"); !errors.Is(err, ErrNameExists) {
		t.Fatalf("** Append with a taken alias: got %v, wanted ErrNameExists", err)
	}
	if err := c.Append(1, ""); err == nil {
		t.Fatalf("** Append of a duplicate key succeeded")
	}
	if err := c.Insert(5, 42, ""); err == nil {
		t.Fatalf("** Insert after a missing key succeeded")
	}
	ensure(c.Verify())
}

func TestOrderedCollection_removeAndPlace(t *testing.T) {
	c := newOrderedCollection[int]()
	ensure(c.Reset([]int{1, 2, 3, 4}, []string{"a", "b", "c", "d"}))

	deepEqual(t, c.Remove(1), true)
	deepEqual(t, c.Remove(1), false)
	deepEqual(t, c.Remove(4), true)
	deepEqual(t, c.Keys(), []int{2, 3})
	first, _ := c.First()
	last, _ := c.Last()
	deepEqual(t, first, 2)
	deepEqual(t, last, 3)
	_, ok := c.ByAlias("a")
	deepEqual(t, ok, false)

	ensure(c.Append(5, "a"))
	ensure(c.Place(5, 0))
	deepEqual(t, c.Keys(), []int{5, 2, 3})
	ensure(c.Place(5, 3))
	deepEqual(t, c.Keys(), []int{2, 3, 5})
	deepEqual(t, c.Alias(5), "a")
	ensure(c.Place(5, 5))
	ensure(c.Verify())
}

func TestOrderedCollection_aliases(t *testing.T) {
	c := newOrderedCollection[int]()
	ensure(c.Append(1, ""))
	ensure(c.Append(2, "x"))

	ensure(c.SetAlias(1, "y"))
	if err := c.SetAlias(1, "x"); !errors.Is(err, ErrNameExists) {
		t.Fatalf("** SetAlias to a taken alias: got %v", err)
	}
	ensure(c.SetAlias(2, ""))
	ensure(c.SetAlias(1, "x"))
	k, _ := c.ByAlias("x")
	deepEqual(t, k, 1)
	_, ok := c.ByAlias("y")
	deepEqual(t, ok, false)
	if err := c.SetAlias(9, "z"); err == nil {
		t.Fatalf("** SetAlias on a missing key succeeded")
	}
}

func TestOrderedCollection_cloneIsIndependent(t *testing.T) {
	c := newOrderedCollection[int]()
	ensure(c.Reset([]int{1, 2}, nil))
	d := c.Clone()
	ensure(d.Append(3, ""))
	c.Remove(1)
	deepEqual(t, c.Keys(), []int{2})
	deepEqual(t, d.Keys(), []int{1, 2, 3})
	ensure(d.Verify())

	c.Clear()
	deepEqual(t, c.Len(), 0)
	_, ok := c.First()
	deepEqual(t, ok, false)
	ensure(c.Verify())
}

func TestOrderedCollection_verifyDetectsCorruption(t *testing.T) {
	c := newOrderedCollection[int]()
	ensure(c.Reset([]int{1, 2, 3}, nil))
	c.count = 5
	if c.Verify() == nil {
		t.Fatalf("** Verify accepted a wrong length")
	}
	c.count = 3
	c.entries[3].prev = 1
	if c.Verify() == nil {
		t.Fatalf("** Verify accepted a broken back link")
	}
}
