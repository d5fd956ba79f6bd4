package itemdb

import (
	"fmt"
	"maps"
	"runtime/debug"
	"slices"
	"strings"
	"time"
)

// View is an isolated working copy of the repository: the state at its base
// version plus local edits. A view is not safe for concurrent use; open one
// view per goroutine.
type View struct {
	repo *Repository
	name string
	base uint64

	items         map[ID]*Item
	roots         *orderedCollection[ID] // nil until loaded
	dirty         map[ID]*Item
	dirtyChildren map[ID]struct{}
	created       []ID
	indexes       map[*Index]struct{}

	memo     map[string]any
	onCommit []func(info *CommitInfo)
	closed   bool

	startTime time.Time
	stack     string
}

func (repo *Repository) newView(name string, base uint64) *View {
	v := &View{
		repo:          repo,
		name:          name,
		base:          base,
		items:         make(map[ID]*Item),
		dirty:         make(map[ID]*Item),
		dirtyChildren: make(map[ID]struct{}),
		indexes:       make(map[*Index]struct{}),
		startTime:     time.Now(),
	}
	if trackViews {
		v.stack = string(debug.Stack())
	}
	repo.addView(v)
	if repo.opt.Verbose {
		repo.logger.Debug("db: VIEW", "view", name, "version", base)
	}
	return v
}

func (v *View) Repository() *Repository { return v.repo }
func (v *View) Registry() *Registry     { return v.repo.reg }
func (v *View) Name() string            { return v.name }

// Version returns the base version the view reads.
func (v *View) Version() uint64 {
	return v.base
}

func (v *View) String() string {
	return fmt.Sprintf("%s@%d", v.name, v.base)
}

// Memo returns a per-view cache slot, creating it with f on first use.
func (v *View) Memo(key string, f func() any) any {
	if val, ok := v.memo[key]; ok {
		return val
	}
	if v.memo == nil {
		v.memo = make(map[string]any)
	}
	val := f()
	v.memo[key] = val
	return val
}

// IsDirty reports whether the view has uncommitted edits.
func (v *View) IsDirty() bool {
	return len(v.dirty) > 0 || len(v.dirtyChildren) > 0
}

// DirtyItems returns the items with uncommitted edits, sorted by id.
func (v *View) DirtyItems() []*Item {
	out := make([]*Item, 0, len(v.dirty))
	for _, it := range v.dirty {
		out = append(out, it)
	}
	slices.SortFunc(out, func(a, b *Item) int { return compareIDs(a.id, b.id) })
	return out
}

// OnCommit registers a callback invoked after each successful commit of the
// view.
func (v *View) OnCommit(f func(info *CommitInfo)) {
	v.onCommit = append(v.onCommit, f)
}

// Close releases the view. Uncommitted edits are discarded.
func (v *View) Close() {
	if v.closed {
		return
	}
	v.closed = true
	v.repo.removeView(v)
}

func (v *View) ensureOpen() error {
	if v.closed {
		return ErrViewClosed
	}
	return nil
}

// NewItem creates an item under parent (nil for a namespace root) and
// applies the kind's initial values.
func (v *View) NewItem(name string, parent *Item, kind *Kind) (*Item, error) {
	if err := v.ensureOpen(); err != nil {
		return nil, err
	}
	if strings.Contains(name, "/") {
		return nil, fmt.Errorf("%w: name %q contains a slash", ErrInvalidValue, name)
	}
	if kind != nil && kind.reg != v.repo.reg {
		return nil, fmt.Errorf("kind %s belongs to another registry", kind.path)
	}
	var pid ID
	if parent != nil {
		if parent.view != v {
			return nil, fmt.Errorf("parent %s belongs to another view", parent.describe())
		}
		if err := parent.ensureLive(); err != nil {
			return nil, err
		}
		pid = parent.id
	}
	siblings, err := v.childrenOf(pid)
	if err != nil {
		return nil, err
	}
	if name != "" {
		if _, found := siblings.ByAlias(name); found {
			return nil, fmt.Errorf("%w: %q under %v", ErrNameExists, name, pid)
		}
	}

	id := v.repo.reg.NewID()
	if _, found := v.items[id]; found {
		panic(fmt.Errorf("duplicate item id %v", id))
	}
	it := newItem(v, id, name, pid, kind)
	it.status = statusNew
	it.children = newOrderedCollection[ID]()
	v.items[id] = it
	v.created = append(v.created, id)
	it.kindDirty = kind != nil
	it.nameDirty = true
	it.parentDirty = true
	it.setDirty()
	ensure(siblings.Append(id, name))
	v.childrenChanged(pid)

	if kind != nil {
		initial := kind.initialValues()
		for _, alias := range slices.Sorted(maps.Keys(initial)) {
			if it.HasAttributeValue(alias) {
				continue
			}
			if err := it.SetAttributeValue(alias, initial[alias]); err != nil {
				return nil, err
			}
		}
	}
	if v.repo.opt.Verbose {
		v.repo.logger.Debug("db: NEW", "item", it.describe(), "kind", kind)
	}
	return it, nil
}

// Roots returns the namespace roots in order.
func (v *View) Roots() ([]*Item, error) {
	coll, err := v.childrenOf(NilID)
	if err != nil {
		return nil, err
	}
	out := make([]*Item, 0, coll.Len())
	for id := range coll.All() {
		it, err := v.mustLoad(id)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

// Root returns the namespace root with the given name, or nil.
func (v *View) Root(name string) (*Item, error) {
	coll, err := v.childrenOf(NilID)
	if err != nil {
		return nil, err
	}
	id, ok := coll.ByAlias(name)
	if !ok {
		return nil, nil
	}
	return v.mustLoad(id)
}

// Find returns the live item with the given id, or nil.
func (v *View) Find(id ID) (*Item, error) {
	it, err := v.load(id)
	if err != nil || it == nil || it.IsDeleted() {
		return nil, err
	}
	return it, nil
}

// FindPath resolves a repository path like "//Projects/Home", or a bare id.
func (v *View) FindPath(path string) (*Item, error) {
	if id, err := ParseID(path); err == nil {
		return v.Find(id)
	}
	rest, ok := strings.CutPrefix(path, "//")
	if !ok {
		return nil, fmt.Errorf("%w: repository path %q must start with //", ErrInvalidValue, path)
	}
	first, rest, _ := strings.Cut(rest, "/")
	root, err := v.Root(first)
	if err != nil || root == nil {
		return nil, err
	}
	return root.walk(rest)
}

// childrenOf returns the sibling collection under pid; NilID means the
// namespace roots.
func (v *View) childrenOf(pid ID) (*orderedCollection[ID], error) {
	if pid != NilID {
		parent, err := v.mustLoad(pid)
		if err != nil {
			return nil, err
		}
		return parent.loadChildren()
	}
	if v.roots == nil {
		coll, err := v.readChildren(NilID)
		if err != nil {
			return nil, err
		}
		v.roots = coll
	}
	return v.roots, nil
}

func (v *View) childrenChanged(pid ID) {
	v.dirtyChildren[pid] = struct{}{}
	if pid != NilID {
		if p := v.items[pid]; p != nil {
			p.childrenDirty = true
		}
	}
}

func (v *View) kindChanged(it *Item, old *Kind) {
	if v.repo.opt.Verbose {
		v.repo.logger.Debug("db: KIND", "item", it.describe(), "old", old, "new", it.kind)
	}
	v.itemReplaced(it)
}

// itemReplaced repositions an item whose state changed wholesale in every
// tracked index over it.
func (v *View) itemReplaced(it *Item) {
	for idx := range v.indexes {
		if idx.owner.coll.Has(it.id) {
			v.repositionIn(idx, it.id)
		}
	}
}

func (v *View) trackIndex(idx *Index) {
	v.indexes[idx] = struct{}{}
}

func (v *View) untrackIndex(idx *Index) {
	delete(v.indexes, idx)
}

// attributeChanged keeps sorted and filtered indexes over the item in
// order.
func (v *View) attributeChanged(it *Item, alias string) {
	for idx := range v.indexes {
		if !idx.strategy.dependsOn(alias) && idx.filter != alias {
			continue
		}
		if idx.owner.owner == it || !idx.owner.coll.Has(it.id) {
			continue
		}
		v.repositionIn(idx, it.id)
	}
}

func (v *View) repositionIn(idx *Index, id ID) {
	if idx.owner.owner.IsDeleted() {
		return
	}
	if err := idx.reposition(id); err != nil {
		v.repo.logger.Warn("db: index update failed", "index", idx.String(), "item", id, "err", err)
		idx.invalidate()
	}
}

func (v *View) itemDeleted(it *Item) {
	for idx := range v.indexes {
		if idx.owner.owner == it {
			delete(v.indexes, idx)
		}
	}
}

// Extent returns the live items of kind, and of its sub-kinds if recursive,
// as seen by the view: committed members at the base version plus new local
// items, minus locally deleted or re-kinded ones.
func (v *View) Extent(kind *Kind, recursive bool) ([]*Item, error) {
	kinds := []*Kind{kind}
	if recursive {
		kinds = v.repo.reg.descendants(kind)
	}
	ids, err := v.committedExtent(kinds)
	if err != nil {
		return nil, err
	}
	seen := make(map[ID]bool, len(ids))
	var out []*Item
	consider := func(id ID) error {
		if seen[id] {
			return nil
		}
		seen[id] = true
		it, err := v.load(id)
		if err != nil {
			return err
		}
		if it != nil && !it.IsDeleted() && slices.Contains(kinds, it.kind) {
			out = append(out, it)
		}
		return nil
	}
	for _, id := range ids {
		if err := consider(id); err != nil {
			return nil, err
		}
	}
	for _, id := range v.created {
		if err := consider(id); err != nil {
			return nil, err
		}
	}
	for _, it := range v.DirtyItems() {
		if it.kindDirty {
			if err := consider(it.id); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
