package itemdb

import (
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/andreyvit/itemdb/skiplist"
)

type IndexKind uint8

const (
	// IndexNumeric keeps an explicit order: the owning collection's order
	// at creation time, afterwards changed only by Index.Move and
	// RefList.Place.
	IndexNumeric IndexKind = iota
	// IndexAttribute orders by one or more attribute values. Items missing
	// a value sort after items that have one, in either direction.
	IndexAttribute
	// IndexValue orders by a single attribute value. Missing values sort
	// last ascending and first descending.
	IndexValue
	// IndexString orders by the collation of a string attribute in a
	// locale; missing values collate as the empty string.
	IndexString
	// IndexComparator orders by a comparator registered in the Registry.
	IndexComparator
	// IndexMethod orders by a compare method of the items' ImplType,
	// invoked as method(a, b) and returning an int.
	IndexMethod
)

var indexKindNames = []string{"numeric", "attribute", "value", "string", "comparator", "method"}

func (k IndexKind) String() string {
	if int(k) < len(indexKindNames) {
		return indexKindNames[k]
	}
	return fmt.Sprintf("IndexKind(%d)", int(k))
}

// IndexStrategy is the ordering of an index: a plain value evaluated against
// the items being compared.
type IndexStrategy struct {
	Kind       IndexKind `msgpack:"k"`
	Attributes []string  `msgpack:"a,omitempty"`
	Locale     string    `msgpack:"l,omitempty"`
	Name       string    `msgpack:"n,omitempty"`
	Descending bool      `msgpack:"d,omitempty"`
}

func NumericOrder() IndexStrategy {
	return IndexStrategy{Kind: IndexNumeric}
}

func AttributeOrder(attrs ...string) IndexStrategy {
	return IndexStrategy{Kind: IndexAttribute, Attributes: attrs}
}

func ValueOrder(attr string) IndexStrategy {
	return IndexStrategy{Kind: IndexValue, Attributes: []string{attr}}
}

func StringOrder(attr, locale string) IndexStrategy {
	return IndexStrategy{Kind: IndexString, Attributes: []string{attr}, Locale: locale}
}

func ComparatorOrder(name string) IndexStrategy {
	return IndexStrategy{Kind: IndexComparator, Name: name}
}

func MethodOrder(name string) IndexStrategy {
	return IndexStrategy{Kind: IndexMethod, Name: name}
}

// Reversed returns the same ordering in the opposite direction.
func (s IndexStrategy) Reversed() IndexStrategy {
	s.Descending = !s.Descending
	return s
}

func (s IndexStrategy) sorted() bool {
	return s.Kind != IndexNumeric
}

// dependsOn reports whether a change of alias may move keys in the index.
func (s IndexStrategy) dependsOn(alias string) bool {
	switch s.Kind {
	case IndexNumeric:
		return false
	case IndexComparator, IndexMethod:
		return true
	default:
		return slices.Contains(s.Attributes, alias)
	}
}

func (s IndexStrategy) String() string {
	var dir string
	if s.Descending {
		dir = " desc"
	}
	switch s.Kind {
	case IndexAttribute, IndexValue:
		return fmt.Sprintf("%v%v%s", s.Kind, s.Attributes, dir)
	case IndexString:
		return fmt.Sprintf("string[%s@%s]%s", s.Attributes[0], s.Locale, dir)
	case IndexComparator, IndexMethod:
		return fmt.Sprintf("%v(%s)%s", s.Kind, s.Name, dir)
	default:
		return s.Kind.String() + dir
	}
}

// IndexSuper names the super-index a new index draws its keys from.
type IndexSuper string

// IndexFilter names an attribute whose value must be truthy for an item to
// be a member of the index.
type IndexFilter string

// Index is an ordering over the members of a RefList, kept in a skip list.
// A sub-index holds a subset of its super-index's keys.
type Index struct {
	name     string
	strategy IndexStrategy
	owner    *RefList
	super    *Index
	subs     []*Index
	filter   string
	keys     *skiplist.List[ID]
	sel      rangeSet
	collator *collate.Collator
	built    bool
	order    []ID // persisted numeric order, consumed by the next build
}

// AddIndex creates an index over the list. Options are an IndexStrategy
// (numeric by default), IndexSuper and IndexFilter.
func (l *RefList) AddIndex(name string, opts ...any) (*Index, error) {
	if l.Index(name) != nil {
		return nil, itemErrf(l.owner, l.alias, ErrNameExists, "index %q already exists", name)
	}
	idx := &Index{
		name:     name,
		strategy: NumericOrder(),
		owner:    l,
	}
	var superName string
	for _, opt := range opts {
		switch opt := opt.(type) {
		case IndexStrategy:
			idx.strategy = opt
		case IndexSuper:
			superName = string(opt)
		case IndexFilter:
			idx.filter = string(opt)
		default:
			panic(fmt.Errorf("invalid option %T %v", opt, opt))
		}
	}
	if superName != "" {
		idx.super = l.Index(superName)
		if idx.super == nil {
			return nil, itemErrf(l.owner, l.alias, nil, "index %q: no super-index %q", name, superName)
		}
	}
	if err := idx.setup(); err != nil {
		return nil, err
	}
	if err := idx.ensureBuilt(); err != nil {
		return nil, err
	}
	l.attachIndex(idx)
	l.touch()
	return idx, nil
}

func (idx *Index) setup() error {
	l := idx.owner
	s := idx.strategy
	switch s.Kind {
	case IndexNumeric:
	case IndexAttribute, IndexValue:
		if len(s.Attributes) == 0 || (s.Kind == IndexValue && len(s.Attributes) != 1) {
			return itemErrf(l.owner, l.alias, nil, "index %q: bad attribute list %v", idx.name, s.Attributes)
		}
	case IndexString:
		if len(s.Attributes) != 1 {
			return itemErrf(l.owner, l.alias, nil, "index %q: string order needs one attribute", idx.name)
		}
		tag := language.Und
		if s.Locale != "" {
			var err error
			tag, err = language.Parse(s.Locale)
			if err != nil {
				return itemErrf(l.owner, l.alias, err, "index %q: locale", idx.name)
			}
		}
		idx.collator = collate.New(tag)
	case IndexComparator:
		if l.owner.view.repo.reg.Comparator(s.Name) == nil {
			return itemErrf(l.owner, l.alias, nil, "index %q: no comparator %q", idx.name, s.Name)
		}
	case IndexMethod:
		if s.Name == "" {
			return itemErrf(l.owner, l.alias, nil, "index %q: method name required", idx.name)
		}
	default:
		return itemErrf(l.owner, l.alias, nil, "index %q: invalid strategy %v", idx.name, s.Kind)
	}
	idx.keys = skiplist.New[ID](xxhash.Sum64String(l.id.String() + "/" + idx.name))
	return nil
}

func (l *RefList) attachIndex(idx *Index) {
	if idx.super != nil {
		idx.super.subs = append(idx.super.subs, idx)
	}
	l.indexes = append(l.indexes, idx)
	if idx.strategy.sorted() || idx.filter != "" {
		l.owner.view.trackIndex(idx)
	}
}

// Index returns the named index, or nil.
func (l *RefList) Index(name string) *Index {
	for _, idx := range l.indexes {
		if idx.name == name {
			return idx
		}
	}
	return nil
}

func (l *RefList) Indexes() []*Index {
	return slices.Clone(l.indexes)
}

// RemoveIndex drops an index that has no sub-indexes.
func (l *RefList) RemoveIndex(name string) error {
	idx := l.Index(name)
	if idx == nil {
		return nil
	}
	if len(idx.subs) > 0 {
		return itemErrf(l.owner, l.alias, nil, "index %q has sub-indexes", name)
	}
	if idx.super != nil {
		idx.super.subs = slices.DeleteFunc(idx.super.subs, func(x *Index) bool { return x == idx })
	}
	l.indexes = slices.DeleteFunc(l.indexes, func(x *Index) bool { return x == idx })
	l.owner.view.untrackIndex(idx)
	l.touch()
	return nil
}

func (idx *Index) Name() string             { return idx.name }
func (idx *Index) Strategy() IndexStrategy  { return idx.strategy }
func (idx *Index) Super() *Index            { return idx.super }
func (idx *Index) Filter() string           { return idx.filter }
func (idx *Index) List() *RefList           { return idx.owner }
func (idx *Index) Subs() []*Index           { return slices.Clone(idx.subs) }
func (idx *Index) String() string           { return idx.name + ":" + idx.strategy.String() }
func (idx *Index) view() *View              { return idx.owner.owner.view }
func (idx *Index) load(id ID) (*Item, error) { return idx.view().mustLoad(id) }

func (idx *Index) Len() int {
	if err := idx.ensureBuilt(); err != nil {
		return 0
	}
	return idx.keys.Len()
}

// Keys returns the member ids in index order.
func (idx *Index) Keys() ([]ID, error) {
	if err := idx.ensureBuilt(); err != nil {
		return nil, err
	}
	return idx.keys.Keys(), nil
}

// All iterates members in index order, loading them as needed.
func (idx *Index) All() iter.Seq2[*Item, error] {
	return func(yield func(*Item, error) bool) {
		if err := idx.ensureBuilt(); err != nil {
			yield(nil, err)
			return
		}
		for id := range idx.keys.All() {
			if !yield(idx.load(id)) {
				return
			}
		}
	}
}

func (idx *Index) Items() ([]*Item, error) {
	var out []*Item
	for it, err := range idx.All() {
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

// At returns the member at pos, or nil when out of range.
func (idx *Index) At(pos int) (*Item, error) {
	if err := idx.ensureBuilt(); err != nil {
		return nil, err
	}
	id, ok := idx.keys.At(pos)
	if !ok {
		return nil, nil
	}
	return idx.load(id)
}

// Position returns the rank of it, or -1.
func (idx *Index) Position(it *Item) int {
	if it == nil || idx.ensureBuilt() != nil {
		return -1
	}
	return idx.keys.Position(it.id)
}

// Move places a member at pos in a numeric index; sorted indexes reject
// explicit moves.
func (idx *Index) Move(it *Item, pos int) error {
	if idx.strategy.sorted() {
		return fmt.Errorf("index %s: cannot move in a sorted index", idx)
	}
	if idx.super != nil {
		return fmt.Errorf("index %s: sub-index order follows its super-index", idx)
	}
	if err := idx.ensureBuilt(); err != nil {
		return err
	}
	from := idx.keys.Position(it.id)
	if from < 0 {
		return fmt.Errorf("index %s: %s is not a member", idx, it.describe())
	}
	if err := idx.keys.Move(it.id, pos); err != nil {
		return fmt.Errorf("index %s: %w", idx, err)
	}
	idx.sel.moved(from, pos)
	idx.repositionSubs(it.id)
	idx.owner.touch()
	return nil
}

func (idx *Index) Select(start, end int) {
	idx.sel.Select(max(start, 0), min(end, idx.Len()))
	idx.owner.touch()
}

func (idx *Index) Unselect(start, end int) {
	idx.sel.Unselect(start, end)
	idx.owner.touch()
}

func (idx *Index) ClearSelection() {
	if !idx.sel.IsEmpty() {
		idx.sel.Clear()
		idx.owner.touch()
	}
}

func (idx *Index) IsSelected(it *Item) bool {
	pos := idx.Position(it)
	return pos >= 0 && idx.sel.Contains(pos)
}

func (idx *Index) Ranges() []Range {
	return idx.sel.Ranges()
}

// SelectedItems returns the selected members in index order.
func (idx *Index) SelectedItems() ([]*Item, error) {
	if err := idx.ensureBuilt(); err != nil {
		return nil, err
	}
	var out []*Item
	for _, r := range idx.sel.ranges {
		for pos := r.Start; pos < r.End; pos++ {
			id, ok := idx.keys.At(pos)
			if !ok {
				break
			}
			it, err := idx.load(id)
			if err != nil {
				return nil, err
			}
			out = append(out, it)
		}
	}
	return out, nil
}

func (idx *Index) invalidate() {
	idx.built = false
	for _, sub := range idx.subs {
		sub.invalidate()
	}
}

// ensureBuilt fills the index from the owning list (or the super-index).
func (idx *Index) ensureBuilt() error {
	if idx.built {
		return nil
	}
	if idx.super != nil {
		if err := idx.super.ensureBuilt(); err != nil {
			return err
		}
	}
	idx.keys.Clear()
	idx.built = true
	var source []ID
	switch {
	case idx.super != nil:
		source = idx.super.keys.Keys()
	case idx.order != nil:
		source = make([]ID, 0, idx.owner.coll.Len())
		for _, id := range idx.order {
			if idx.owner.coll.Has(id) {
				source = append(source, id)
			}
		}
		for id := range idx.owner.coll.All() {
			if !slices.Contains(idx.order, id) {
				source = append(source, id)
			}
		}
		idx.order = nil
	default:
		source = idx.owner.coll.Keys()
	}
	for _, id := range source {
		ok, err := idx.admits(id)
		if err != nil {
			idx.built = false
			return err
		}
		if !ok {
			continue
		}
		if idx.strategy.sorted() {
			_, err = idx.insertSorted(id)
		} else {
			err = idx.keys.Insert(id, idx.keys.Len())
		}
		if err != nil {
			idx.built = false
			return err
		}
	}
	if n := idx.keys.Len(); !idx.sel.IsEmpty() {
		idx.sel.Unselect(n, max(n, idx.sel.ranges[len(idx.sel.ranges)-1].End))
	}
	return nil
}

func (idx *Index) admits(id ID) (bool, error) {
	if idx.filter == "" {
		return true, nil
	}
	it, err := idx.load(id)
	if err != nil {
		return false, err
	}
	v, err := it.GetAttributeValue(idx.filter)
	if errors.Is(err, ErrMissingAttributeValue) || errors.Is(err, ErrUnknownAttribute) || errors.Is(err, ErrItemDeleted) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// wants reports whether id belongs in the index given the filters of the
// index and all its super-indexes.
func (idx *Index) wants(id ID) (bool, error) {
	if idx.super != nil {
		if ok, err := idx.super.wants(id); err != nil || !ok {
			return false, err
		}
	}
	return idx.admits(id)
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

func (idx *Index) insertSorted(id ID) (int, error) {
	var cmpErr error
	pos, err := idx.keys.InsertSorted(id, func(a, b ID) int {
		r, err := idx.compareIDs(a, b)
		if err != nil && cmpErr == nil {
			cmpErr = err
		}
		return r
	})
	if err != nil {
		return -1, err
	}
	if cmpErr != nil {
		idx.keys.Remove(id)
		return -1, cmpErr
	}
	return pos, nil
}

// insert adds a key that was just linked into the owning list.
func (idx *Index) insert(id ID) error {
	if !idx.built {
		return nil
	}
	if idx.super != nil && !idx.super.keys.Contains(id) {
		if ok, err := idx.super.wants(id); err != nil || !ok {
			return err
		}
		return fmt.Errorf("index %s: %v: %w", idx, id, ErrNotInSuperIndex)
	}
	if idx.keys.Contains(id) {
		return nil
	}
	ok, err := idx.admits(id)
	if err != nil || !ok {
		return err
	}
	var pos int
	switch {
	case idx.strategy.sorted():
		pos, err = idx.insertSorted(id)
		if err != nil {
			return err
		}
	case idx.super != nil:
		pos = idx.positionBySuper(id)
		err = idx.keys.Insert(id, pos)
	default:
		pos = idx.positionByOwner(id)
		err = idx.keys.Insert(id, pos)
	}
	if err != nil {
		return err
	}
	idx.sel.inserted(pos)
	return nil
}

// positionBySuper finds where id goes in a numeric sub-index: right after
// the closest preceding super-index key that is a member.
func (idx *Index) positionBySuper(id ID) int {
	for prev, ok := idx.super.keys.Prev(id); ok; prev, ok = idx.super.keys.Prev(prev) {
		if p := idx.keys.Position(prev); p >= 0 {
			return p + 1
		}
	}
	return 0
}

// positionByOwner finds where id goes in a top-level numeric index: right
// after the closest preceding list member that the index holds.
func (idx *Index) positionByOwner(id ID) int {
	coll := idx.owner.coll
	for prev, ok := coll.Prev(id); ok; prev, ok = coll.Prev(prev) {
		if p := idx.keys.Position(prev); p >= 0 {
			return p + 1
		}
	}
	return 0
}

func (idx *Index) remove(id ID) {
	if !idx.built {
		return
	}
	if pos, ok := idx.keys.Remove(id); ok {
		idx.sel.removed(pos)
	}
}

// placed mirrors RefList.Place in a top-level numeric index, once the
// owning list has moved id.
func (idx *Index) placed(id ID) error {
	if !idx.built {
		return nil
	}
	from := idx.keys.Position(id)
	if from < 0 {
		return nil
	}
	idx.keys.Remove(id)
	to := idx.positionByOwner(id)
	if err := idx.keys.Insert(id, to); err != nil {
		return err
	}
	idx.sel.moved(from, to)
	idx.repositionSubs(id)
	return nil
}

func (idx *Index) repositionSubs(id ID) {
	for _, sub := range idx.subs {
		if sub.built && !sub.strategy.sorted() {
			from, ok := sub.keys.Remove(id)
			if !ok {
				continue
			}
			to := sub.positionBySuper(id)
			ensure(sub.keys.Insert(id, to))
			sub.sel.moved(from, to)
			sub.repositionSubs(id)
		}
	}
}

// reposition re-evaluates membership and order of id after one of its
// attributes changed.
func (idx *Index) reposition(id ID) error {
	if !idx.built {
		return nil
	}
	member := idx.keys.Contains(id)
	inSuper := idx.super == nil || idx.super.keys.Contains(id)
	inOwner := idx.owner.coll.Has(id)
	ok := false
	if inSuper && inOwner {
		var err error
		if ok, err = idx.admits(id); err != nil {
			return err
		}
	}
	switch {
	case member && !ok:
		for _, sub := range idx.subs {
			sub.remove(id)
		}
		idx.remove(id)
		return nil
	case !member && ok:
		if err := idx.insert(id); err != nil {
			return err
		}
	case member && idx.strategy.sorted():
		from, _ := idx.keys.Remove(id)
		to, err := idx.insertSorted(id)
		if err != nil {
			return err
		}
		idx.sel.moved(from, to)
	case member && idx.super != nil:
		from, _ := idx.keys.Remove(id)
		to := idx.positionBySuper(id)
		if err := idx.keys.Insert(id, to); err != nil {
			return err
		}
		idx.sel.moved(from, to)
	}
	for _, sub := range idx.subs {
		if err := sub.reposition(id); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) compareIDs(a, b ID) (int, error) {
	ia, err := idx.load(a)
	if err != nil {
		return 0, err
	}
	ib, err := idx.load(b)
	if err != nil {
		return 0, err
	}
	return idx.compare(ia, ib)
}

// compare evaluates the index strategy on two items.
func (idx *Index) compare(a, b *Item) (int, error) {
	s := &idx.strategy
	switch s.Kind {
	case IndexNumeric:
		return idx.keys.Position(a.id) - idx.keys.Position(b.id), nil
	case IndexAttribute:
		for _, attr := range s.Attributes {
			va, oka := sortValue(a, attr)
			vb, okb := sortValue(b, attr)
			switch {
			case !oka && !okb:
				continue
			case !oka:
				return 1, nil
			case !okb:
				return -1, nil
			}
			if r := compareValues(va, vb); r != 0 {
				return directed(r, s.Descending), nil
			}
		}
		return 0, nil
	case IndexValue:
		va, oka := sortValue(a, s.Attributes[0])
		vb, okb := sortValue(b, s.Attributes[0])
		var r int
		switch {
		case !oka && !okb:
		case !oka:
			r = 1
		case !okb:
			r = -1
		default:
			r = compareValues(va, vb)
		}
		return directed(r, s.Descending), nil
	case IndexString:
		sa, _ := sortValue(a, s.Attributes[0])
		sb, _ := sortValue(b, s.Attributes[0])
		return directed(idx.collator.CompareString(stringOf(sa), stringOf(sb)), s.Descending), nil
	case IndexComparator:
		f := a.view.repo.reg.Comparator(s.Name)
		if f == nil {
			return 0, fmt.Errorf("index %s: no comparator %q", idx, s.Name)
		}
		return directed(f(a, b), s.Descending), nil
	case IndexMethod:
		impl := a.Impl()
		m, ok := impl.Method(s.Name)
		if !ok {
			return 0, itemErrf(a, "", nil, "index %s: %s has no method %s", idx, impl.name, s.Name)
		}
		r, err := callCompare(m, a, b)
		if err != nil {
			return 0, err
		}
		return directed(r, s.Descending), nil
	default:
		panic(fmt.Errorf("unknown index kind %v", s.Kind))
	}
}

func directed(r int, desc bool) int {
	if desc {
		return -r
	}
	return r
}

func sortValue(it *Item, attr string) (any, bool) {
	v, err := it.GetAttributeValue(attr)
	if err != nil || v == nil {
		return nil, false
	}
	return v, true
}

func stringOf(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case *Item:
		return v.name
	default:
		return fmt.Sprint(v)
	}
}

// check validates the index: the skip list structure, the iteration length
// against the declared length, the ordering of consecutive keys, and
// containment in the super-index. Problems are logged, not returned.
func (idx *Index) check() bool {
	logger := idx.view().repo.logger
	fail := func(msg string, args ...any) bool {
		logger.Warn("db: index check failed", append([]any{"item", idx.owner.owner.describe(), "attr", idx.owner.alias, "index", idx.name, "problem", msg}, args...)...)
		return false
	}
	if err := idx.ensureBuilt(); err != nil {
		return fail("build", "err", err)
	}
	if err := idx.keys.Validate(); err != nil {
		return fail("structure", "err", err)
	}
	var n int
	var prev *Item
	for id := range idx.keys.All() {
		n++
		if !idx.owner.coll.Has(id) {
			return fail("key not in collection", "key", id)
		}
		if idx.super != nil && !idx.super.keys.Contains(id) {
			return fail("key not in super-index", "key", id)
		}
		it, err := idx.load(id)
		if err != nil {
			return fail("load", "key", id, "err", err)
		}
		if prev != nil && idx.strategy.sorted() {
			r, err := idx.compare(prev, it)
			if err != nil {
				return fail("compare", "key", id, "err", err)
			}
			if r > 0 {
				return fail("out of order", "pos", n-1, "key", id)
			}
		}
		prev = it
	}
	if n != idx.keys.Len() {
		return fail("length mismatch", "iterated", n, "declared", idx.keys.Len())
	}
	if idx.super == nil && idx.filter == "" && n != idx.owner.coll.Len() {
		return fail("length mismatch", "indexed", n, "collection", idx.owner.coll.Len())
	}
	return true
}

// indexDef is the persisted index snapshot.
type indexDef struct {
	Key      string        `msgpack:"k,omitempty"` // mapping key of the owning list
	Name     string        `msgpack:"n"`
	Strategy IndexStrategy `msgpack:"s"`
	Super    string        `msgpack:"p,omitempty"`
	Filter   string        `msgpack:"f,omitempty"`
	Order    []byte        `msgpack:"o,omitempty"`
	Ranges   []Range       `msgpack:"r,omitempty"`
}

func (idx *Index) snapshot() *indexDef {
	d := &indexDef{
		Key:      idx.owner.key,
		Name:     idx.name,
		Strategy: idx.strategy,
		Filter:   idx.filter,
		Ranges:   idx.sel.Ranges(),
	}
	if idx.super != nil {
		d.Super = idx.super.name
	}
	if idx.strategy.Kind == IndexNumeric && idx.super == nil {
		if idx.built {
			d.Order = appendIDs(nil, idx.keys.Keys())
		} else if idx.order != nil {
			d.Order = appendIDs(nil, idx.order)
		}
	}
	return d
}

// restoreIndexes recreates indexes from snapshots; contents are rebuilt on
// first use.
func (l *RefList) restoreIndexes(defs []*indexDef) error {
	for _, d := range defs {
		idx := &Index{
			name:     d.Name,
			strategy: d.Strategy,
			owner:    l,
			filter:   d.Filter,
		}
		idx.sel.ranges = d.Ranges
		if d.Super != "" {
			idx.super = l.Index(d.Super)
			if idx.super == nil {
				return &LoadError{What: "super-index", Ref: d.Super, From: l.owner.describe()}
			}
		}
		if d.Order != nil {
			order, err := decodeIDs(d.Order)
			if err != nil {
				return err
			}
			idx.order = order
		}
		if err := idx.setup(); err != nil {
			return err
		}
		l.attachIndex(idx)
	}
	return nil
}
