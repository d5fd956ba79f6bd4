package itemdb

import (
	"fmt"
	"iter"
)

type collEntry[K comparable] struct {
	prev, next K
	alias      string
}

// orderedCollection is a keyed doubly linked list. Each entry stores the keys
// of its neighbours rather than pointers, so the collection can be persisted
// and reloaded as a plain key sequence. The zero key is reserved as "none".
type orderedCollection[K comparable] struct {
	entries map[K]*collEntry[K]
	aliases map[string]K
	first   K
	last    K
	count   int
}

func newOrderedCollection[K comparable]() *orderedCollection[K] {
	return &orderedCollection[K]{
		entries: make(map[K]*collEntry[K]),
	}
}

func (c *orderedCollection[K]) Len() int {
	return c.count
}

func (c *orderedCollection[K]) Has(key K) bool {
	_, ok := c.entries[key]
	return ok
}

func (c *orderedCollection[K]) First() (K, bool) {
	var zero K
	return c.first, c.first != zero
}

func (c *orderedCollection[K]) Last() (K, bool) {
	var zero K
	return c.last, c.last != zero
}

func (c *orderedCollection[K]) Next(key K) (K, bool) {
	var zero K
	e := c.entries[key]
	if e == nil {
		return zero, false
	}
	return e.next, e.next != zero
}

func (c *orderedCollection[K]) Prev(key K) (K, bool) {
	var zero K
	e := c.entries[key]
	if e == nil {
		return zero, false
	}
	return e.prev, e.prev != zero
}

// Insert links key after the given key; a zero after inserts at the front.
func (c *orderedCollection[K]) Insert(key, after K, alias string) error {
	var zero K
	if key == zero {
		panic("orderedCollection: zero key")
	}
	if _, found := c.entries[key]; found {
		return fmt.Errorf("duplicate key %v", key)
	}
	if alias != "" {
		if _, found := c.aliases[alias]; found {
			return fmt.Errorf("%w: %q", ErrNameExists, alias)
		}
	}
	e := &collEntry[K]{alias: alias}
	if after == zero {
		e.next = c.first
		if c.first != zero {
			c.entries[c.first].prev = key
		} else {
			c.last = key
		}
		c.first = key
	} else {
		a := c.entries[after]
		if a == nil {
			return fmt.Errorf("insertion point %v not in collection", after)
		}
		e.prev = after
		e.next = a.next
		if a.next != zero {
			c.entries[a.next].prev = key
		} else {
			c.last = key
		}
		a.next = key
	}
	c.entries[key] = e
	if alias != "" {
		if c.aliases == nil {
			c.aliases = make(map[string]K)
		}
		c.aliases[alias] = key
	}
	c.count++
	return nil
}

func (c *orderedCollection[K]) Append(key K, alias string) error {
	return c.Insert(key, c.last, alias)
}

// Remove unlinks key and reports whether it was present.
func (c *orderedCollection[K]) Remove(key K) bool {
	var zero K
	e := c.entries[key]
	if e == nil {
		return false
	}
	if e.prev != zero {
		c.entries[e.prev].next = e.next
	} else {
		c.first = e.next
	}
	if e.next != zero {
		c.entries[e.next].prev = e.prev
	} else {
		c.last = e.prev
	}
	if e.alias != "" {
		delete(c.aliases, e.alias)
	}
	delete(c.entries, key)
	c.count--
	return true
}

// Place moves an existing key right after the given key (zero means front).
func (c *orderedCollection[K]) Place(key, after K) error {
	e := c.entries[key]
	if e == nil {
		return fmt.Errorf("key %v not in collection", key)
	}
	if key == after {
		return nil
	}
	alias := e.alias
	c.Remove(key)
	return c.Insert(key, after, alias)
}

func (c *orderedCollection[K]) Alias(key K) string {
	if e := c.entries[key]; e != nil {
		return e.alias
	}
	return ""
}

func (c *orderedCollection[K]) ByAlias(alias string) (K, bool) {
	k, ok := c.aliases[alias]
	return k, ok
}

// SetAlias changes the alias of an existing key; an empty alias removes it.
func (c *orderedCollection[K]) SetAlias(key K, alias string) error {
	e := c.entries[key]
	if e == nil {
		return fmt.Errorf("key %v not in collection", key)
	}
	if e.alias == alias {
		return nil
	}
	if alias != "" {
		if _, found := c.aliases[alias]; found {
			return fmt.Errorf("%w: %q", ErrNameExists, alias)
		}
	}
	if e.alias != "" {
		delete(c.aliases, e.alias)
	}
	e.alias = alias
	if alias != "" {
		if c.aliases == nil {
			c.aliases = make(map[string]K)
		}
		c.aliases[alias] = key
	}
	return nil
}

func (c *orderedCollection[K]) All() iter.Seq[K] {
	return func(yield func(K) bool) {
		var zero K
		for k := c.first; k != zero; {
			e := c.entries[k]
			if e == nil || !yield(k) {
				return
			}
			k = e.next
		}
	}
}

func (c *orderedCollection[K]) Keys() []K {
	keys := make([]K, 0, c.count)
	for k := range c.All() {
		keys = append(keys, k)
	}
	return keys
}

func (c *orderedCollection[K]) Aliases() []string {
	out := make([]string, 0, c.count)
	for k := range c.All() {
		out = append(out, c.entries[k].alias)
	}
	return out
}

func (c *orderedCollection[K]) Clear() {
	var zero K
	clear(c.entries)
	c.aliases = nil
	c.first, c.last = zero, zero
	c.count = 0
}

func (c *orderedCollection[K]) Clone() *orderedCollection[K] {
	out := newOrderedCollection[K]()
	for k := range c.All() {
		ensure(out.Append(k, c.entries[k].alias))
	}
	out.count = c.count
	return out
}

// Reset replaces the contents with keys and their aliases (aliases may be nil).
func (c *orderedCollection[K]) Reset(keys []K, aliases []string) error {
	c.Clear()
	for i, k := range keys {
		var alias string
		if i < len(aliases) {
			alias = aliases[i]
		}
		if err := c.Append(k, alias); err != nil {
			return err
		}
	}
	return nil
}

// Verify walks the links forward, checking back links, and compares the
// declared length against the number of entries visited.
func (c *orderedCollection[K]) Verify() error {
	var zero K
	var n int
	var prev K
	for k := c.first; k != zero; {
		e := c.entries[k]
		if e == nil {
			return fmt.Errorf("dangling link to %v after %d entries", k, n)
		}
		if e.prev != prev {
			return fmt.Errorf("entry %v has prev %v, expected %v", k, e.prev, prev)
		}
		n++
		if n > len(c.entries) {
			return fmt.Errorf("cycle detected after %d entries", n)
		}
		prev, k = k, e.next
	}
	if prev != c.last {
		return fmt.Errorf("last is %v, walk ended at %v", c.last, prev)
	}
	if n != c.count {
		return fmt.Errorf("declared length %d, iterated %d", c.count, n)
	}
	return nil
}
