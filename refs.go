package itemdb

import (
	"fmt"
	"iter"
	"slices"
)

// link is the single-cardinality reference form. Re-pointing a reference
// updates the link in place.
type link struct {
	other ID
}

// RefList is an ordered collection of references held by one attribute of
// one item. Every member mirrors the reference on the attribute named by the
// owner attribute's otherName.
type RefList struct {
	owner   *Item
	alias   string
	key     string // mapping key when the list belongs to a RefDict
	id      ID
	coll    *orderedCollection[ID]
	indexes []*Index
}

func newRefList(owner *Item, alias string, id ID) *RefList {
	return &RefList{
		owner: owner,
		alias: alias,
		id:    id,
		coll:  newOrderedCollection[ID](),
	}
}

// RefDict is the mapping-cardinality reference form: an ordered set of keys,
// each holding its own RefList.
type RefDict struct {
	owner *Item
	alias string
	keys  []string
	lists map[string]*RefList
}

func newRefDict(owner *Item, alias string) *RefDict {
	return &RefDict{owner: owner, alias: alias, lists: make(map[string]*RefList)}
}

func (l *RefList) Owner() *Item { return l.owner }
func (l *RefList) Attribute() string { return l.alias }
func (l *RefList) ID() ID { return l.id }
func (l *RefList) Len() int { return l.coll.Len() }

func (l *RefList) Has(it *Item) bool {
	return it != nil && l.coll.Has(it.id)
}

func (l *RefList) HasID(id ID) bool {
	return l.coll.Has(id)
}

// IDs returns member ids in collection order.
func (l *RefList) IDs() []ID {
	return l.coll.Keys()
}

// All iterates members in collection order, loading them as needed.
func (l *RefList) All() iter.Seq2[*Item, error] {
	return func(yield func(*Item, error) bool) {
		for id := range l.coll.All() {
			it, err := l.owner.view.mustLoad(id)
			if !yield(it, err) {
				return
			}
		}
	}
}

// Items loads all members in collection order.
func (l *RefList) Items() ([]*Item, error) {
	out := make([]*Item, 0, l.coll.Len())
	for it, err := range l.All() {
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func (l *RefList) First() (*Item, error) {
	id, ok := l.coll.First()
	if !ok {
		return nil, nil
	}
	return l.owner.view.mustLoad(id)
}

func (l *RefList) Last() (*Item, error) {
	id, ok := l.coll.Last()
	if !ok {
		return nil, nil
	}
	return l.owner.view.mustLoad(id)
}

func (l *RefList) Next(it *Item) (*Item, error) {
	id, ok := l.coll.Next(it.id)
	if !ok {
		return nil, nil
	}
	return l.owner.view.mustLoad(id)
}

func (l *RefList) Previous(it *Item) (*Item, error) {
	id, ok := l.coll.Prev(it.id)
	if !ok {
		return nil, nil
	}
	return l.owner.view.mustLoad(id)
}

// Append adds it at the end, mirroring the reference on it.
func (l *RefList) Append(it *Item) error {
	if err := l.owner.checkTarget(l.alias, it); err != nil {
		return err
	}
	return l.owner.attach(l.alias, it, l.key, nil, true)
}

// InsertAfter adds it after the given member; nil inserts at the front.
func (l *RefList) InsertAfter(it, after *Item) error {
	var afterID ID
	if after != nil {
		if !l.coll.Has(after.id) {
			return itemErrf(l.owner, l.alias, ErrInvalidReferenceState, "insertion point %v is not a member", after.id)
		}
		afterID = after.id
	}
	if err := l.owner.checkTarget(l.alias, it); err != nil {
		return err
	}
	return l.owner.attach(l.alias, it, l.key, &afterID, true)
}

// Remove severs the reference to it on both sides.
func (l *RefList) Remove(it *Item) error {
	if !l.coll.Has(it.id) {
		return itemErrf(l.owner, l.alias, ErrInvalidReferenceState, "%v is not a member", it.id)
	}
	return l.owner.detach(l.alias, it)
}

// Place moves a member right after another member (nil means front).
func (l *RefList) Place(it, after *Item) error {
	if err := l.ensureIndexes(); err != nil {
		return err
	}
	var afterID ID
	if after != nil {
		afterID = after.id
	}
	if err := l.coll.Place(it.id, afterID); err != nil {
		return itemErrf(l.owner, l.alias, ErrInvalidReferenceState, "%v", err)
	}
	for _, idx := range l.indexes {
		if idx.strategy.Kind == IndexNumeric && idx.super == nil {
			if err := idx.placed(it.id); err != nil {
				return err
			}
		}
	}
	l.touch()
	return nil
}

func (l *RefList) Alias(it *Item) string {
	return l.coll.Alias(it.id)
}

// SetAlias gives a member a name unique within this collection.
func (l *RefList) SetAlias(it *Item, alias string) error {
	if err := l.coll.SetAlias(it.id, alias); err != nil {
		return itemErrf(l.owner, l.alias, nil, "%v", err)
	}
	l.touch()
	return nil
}

func (l *RefList) ByAlias(alias string) (*Item, error) {
	id, ok := l.coll.ByAlias(alias)
	if !ok {
		return nil, nil
	}
	return l.owner.view.mustLoad(id)
}

func (l *RefList) touch() {
	l.owner.markAttrDirty(l.alias)
}

// addRaw links id into the collection and every index without touching
// the other endpoint.
func (l *RefList) addRaw(id, after ID, alias string) error {
	if l.coll.Has(id) {
		return nil
	}
	if err := l.ensureIndexes(); err != nil {
		return err
	}
	if after != NilID && !l.coll.Has(after) {
		after, _ = l.coll.Last()
	}
	if err := l.coll.Insert(id, after, alias); err != nil {
		return itemErrf(l.owner, l.alias, nil, "%v", err)
	}
	for _, idx := range l.indexes {
		if idx.super == nil {
			if err := idx.insert(id); err != nil {
				return err
			}
		}
	}
	for _, idx := range l.indexes {
		if idx.super != nil {
			if err := idx.insert(id); err != nil {
				return err
			}
		}
	}
	l.touch()
	return nil
}

func (l *RefList) removeRaw(id ID) bool {
	if !l.coll.Has(id) {
		return false
	}
	if err := l.ensureIndexes(); err != nil {
		l.owner.view.repo.logger.Warn("db: index rebuild failed", "item", l.owner.describe(), "attr", l.alias, "err", err)
	}
	// sub-indexes before their supers
	for i := len(l.indexes) - 1; i >= 0; i-- {
		l.indexes[i].remove(id)
	}
	l.coll.Remove(id)
	l.touch()
	return true
}

// replaceRaw resets membership without touching other endpoints. Indexes
// are rebuilt lazily; numeric ones keep the relative order of surviving
// members.
func (l *RefList) replaceRaw(ids []ID, aliases []string) error {
	if err := l.coll.Reset(ids, aliases); err != nil {
		return itemErrf(l.owner, l.alias, nil, "%v", err)
	}
	for _, idx := range l.indexes {
		idx.order = idx.currentOrder()
		idx.invalidate()
	}
	return nil
}

func (l *RefList) ensureIndexes() error {
	for _, idx := range l.indexes {
		if err := idx.ensureBuilt(); err != nil {
			return err
		}
	}
	return nil
}

// RefDict API

func (d *RefDict) Owner() *Item { return d.owner }
func (d *RefDict) Attribute() string { return d.alias }

// Keys returns the keys in insertion order.
func (d *RefDict) Keys() []string {
	return slices.Clone(d.keys)
}

func (d *RefDict) Has(key string) bool {
	_, ok := d.lists[key]
	return ok
}

// Get returns the list under key, or nil.
func (d *RefDict) Get(key string) *RefList {
	return d.lists[key]
}

func (d *RefDict) Len() int {
	var n int
	for _, l := range d.lists {
		n += l.Len()
	}
	return n
}

func (d *RefDict) list(key string, create bool) *RefList {
	l := d.lists[key]
	if l == nil && create {
		l = newRefList(d.owner, d.alias, d.owner.view.repo.reg.NewID())
		l.key = key
		d.lists[key] = l
		d.keys = append(d.keys, key)
	}
	return l
}

func (d *RefDict) removeRaw(id ID) bool {
	var found bool
	for _, key := range slices.Clone(d.keys) {
		l := d.lists[key]
		if l.removeRaw(id) {
			found = true
			if l.Len() == 0 {
				d.dropKey(key)
			}
		}
	}
	return found
}

func (d *RefDict) dropKey(key string) {
	delete(d.lists, key)
	d.keys = slices.DeleteFunc(d.keys, func(k string) bool { return k == key })
	d.owner.markAttrDirty(d.alias)
}

func (d *RefDict) contains(id ID) bool {
	for _, l := range d.lists {
		if l.coll.Has(id) {
			return true
		}
	}
	return false
}

func (d *RefDict) allIDs() []ID {
	var out []ID
	for _, key := range d.keys {
		for id := range d.lists[key].coll.All() {
			if !slices.Contains(out, id) {
				out = append(out, id)
			}
		}
	}
	return out
}

// refIDs lists the endpoints held by a reference store value.
func refIDs(v any) []ID {
	switch v := v.(type) {
	case *link:
		if v.other == NilID {
			return nil
		}
		return []ID{v.other}
	case *RefList:
		return v.coll.Keys()
	case *RefDict:
		return v.allIDs()
	default:
		return nil
	}
}

func refCount(v any) int {
	switch v := v.(type) {
	case *link:
		if v.other == NilID {
			return 0
		}
		return 1
	case *RefList:
		return v.Len()
	case *RefDict:
		return v.Len()
	default:
		return 0
	}
}

func describeRef(v any) string {
	switch v := v.(type) {
	case *link:
		return v.other.String()
	case *RefList:
		return fmt.Sprintf("list(%d)", v.Len())
	case *RefDict:
		return fmt.Sprintf("dict(%d keys)", len(v.keys))
	default:
		return fmt.Sprintf("%T", v)
	}
}
