package itemdb

import (
	"maps"
	"slices"
)

// viewSnapshot is the view state a failed commit or refresh restores.
// Items are saved lazily, before a merge first modifies them.
type viewSnapshot struct {
	base          uint64
	items         map[ID]*Item
	roots         *orderedCollection[ID]
	dirty         map[ID]*Item
	dirtyChildren map[ID]struct{}
	created       []ID
	indexes       map[*Index]struct{}
	saved         map[*Item]*itemState
}

type itemState struct {
	name     string
	parentID ID
	kind     *Kind
	status   Status
	values   map[string]any
	refs     map[string]any
	links    []linkState
	lists    []listState
	dicts    []dictState
	children *orderedCollection[ID]

	dirtyAttrs    map[string]struct{}
	nameDirty     bool
	parentDirty   bool
	childrenDirty bool
	kindDirty     bool
	rec           *itemRecord
}

type linkState struct {
	link  *link
	other ID
}

type listState struct {
	list    *RefList
	id      ID
	coll    *orderedCollection[ID]
	indexes []*Index
	ranges  [][]Range
	orders  [][]ID
}

type dictState struct {
	dict  *RefDict
	keys  []string
	lists map[string]*RefList
}

func (v *View) snapshot() *viewSnapshot {
	s := &viewSnapshot{
		base:          v.base,
		items:         maps.Clone(v.items),
		dirty:         maps.Clone(v.dirty),
		dirtyChildren: maps.Clone(v.dirtyChildren),
		created:       slices.Clone(v.created),
		indexes:       maps.Clone(v.indexes),
		saved:         make(map[*Item]*itemState),
	}
	if v.roots != nil {
		s.roots = v.roots.Clone()
	}
	for _, it := range v.dirty {
		s.save(it)
	}
	return s
}

// save records the item's state unless it was saved already.
func (s *viewSnapshot) save(it *Item) {
	if _, done := s.saved[it]; done {
		return
	}
	st := &itemState{
		name:          it.name,
		parentID:      it.parentID,
		kind:          it.kind,
		status:        it.status,
		values:        make(map[string]any, len(it.values)),
		refs:          maps.Clone(it.refs),
		dirtyAttrs:    maps.Clone(it.dirtyAttrs),
		nameDirty:     it.nameDirty,
		parentDirty:   it.parentDirty,
		childrenDirty: it.childrenDirty,
		kindDirty:     it.kindDirty,
		rec:           it.rec,
	}
	for alias, val := range it.values {
		st.values[alias] = cloneValue(val)
	}
	if it.children != nil {
		st.children = it.children.Clone()
	}
	for _, r := range it.refs {
		switch r := r.(type) {
		case *link:
			st.links = append(st.links, linkState{r, r.other})
		case *RefList:
			st.lists = append(st.lists, saveList(r))
		case *RefDict:
			st.dicts = append(st.dicts, dictState{r, slices.Clone(r.keys), maps.Clone(r.lists)})
			for _, key := range r.keys {
				st.lists = append(st.lists, saveList(r.lists[key]))
			}
		}
	}
	s.saved[it] = st
}

func saveList(l *RefList) listState {
	ls := listState{
		list:    l,
		id:      l.id,
		coll:    l.coll.Clone(),
		indexes: slices.Clone(l.indexes),
	}
	for _, idx := range l.indexes {
		ls.ranges = append(ls.ranges, slices.Clone(idx.sel.ranges))
		ls.orders = append(ls.orders, idx.currentOrder())
	}
	return ls
}

// currentOrder returns the key order a numeric root index must come back
// with after a rebuild, or nil if the order follows from the data.
func (idx *Index) currentOrder() []ID {
	if idx.strategy.Kind != IndexNumeric || idx.super != nil {
		return nil
	}
	if idx.built {
		return idx.keys.Keys()
	}
	return slices.Clone(idx.order)
}

func (v *View) restore(s *viewSnapshot) {
	v.base = s.base
	v.items = s.items
	v.roots = s.roots
	v.dirty = s.dirty
	v.dirtyChildren = s.dirtyChildren
	v.created = s.created
	v.indexes = s.indexes
	for it, st := range s.saved {
		it.name = st.name
		it.parentID = st.parentID
		it.kind = st.kind
		it.status = st.status
		it.values = st.values
		it.refs = st.refs
		it.children = st.children
		it.dirtyAttrs = st.dirtyAttrs
		it.nameDirty = st.nameDirty
		it.parentDirty = st.parentDirty
		it.childrenDirty = st.childrenDirty
		it.kindDirty = st.kindDirty
		it.rec = st.rec
		for _, ls := range st.links {
			ls.link.other = ls.other
		}
		for _, ds := range st.dicts {
			ds.dict.keys = ds.keys
			ds.dict.lists = ds.lists
		}
		for _, ls := range st.lists {
			l := ls.list
			l.id = ls.id
			l.coll = ls.coll
			l.indexes = ls.indexes
			for i, idx := range ls.indexes {
				idx.sel.ranges = ls.ranges[i]
				idx.order = ls.orders[i]
				idx.built = false
			}
		}
	}
}
