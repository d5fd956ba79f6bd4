package itemdb

import (
	"fmt"
	"slices"
	"strings"
)

type Status uint16

const (
	// StatusRaw marks items materialized from a stored record; kind
	// initial values were not applied to them.
	StatusRaw Status = 1 << iota
	StatusDirty
	StatusDeleting
	StatusDeleted

	statusNew // never committed
)

func (s Status) Has(f Status) bool {
	return s&f == f
}

func (s Status) String() string {
	var parts []string
	for _, f := range []struct {
		s    Status
		name string
	}{{StatusRaw, "raw"}, {StatusDirty, "dirty"}, {StatusDeleting, "deleting"}, {StatusDeleted, "deleted"}, {statusNew, "new"}} {
		if s.Has(f.s) {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return "clean"
	}
	return strings.Join(parts, "|")
}

// Item is a node of the repository namespace carrying attribute values.
// Items belong to a single View and must only be used from its goroutine.
type Item struct {
	id       ID
	name     string
	parentID ID
	kind     *Kind
	view     *View
	status   Status

	values map[string]any // literal store
	refs   map[string]any // reference store: *link, *RefList or *RefDict

	children      *orderedCollection[ID] // nil until loaded
	dirtyAttrs    map[string]struct{}
	nameDirty     bool
	parentDirty   bool
	childrenDirty bool
	kindDirty     bool

	rec *itemRecord // record at the view's base version, nil for new items
}

func newItem(v *View, id ID, name string, parentID ID, kind *Kind) *Item {
	return &Item{
		id:       id,
		name:     name,
		parentID: parentID,
		kind:     kind,
		view:     v,
		values:   make(map[string]any),
		refs:     make(map[string]any),
	}
}

func (it *Item) ID() ID         { return it.id }
func (it *Item) Name() string   { return it.name }
func (it *Item) Kind() *Kind    { return it.kind }
func (it *Item) View() *View    { return it.view }
func (it *Item) Status() Status { return it.status }

func (it *Item) IsDirty() bool {
	return it.status.Has(StatusDirty)
}

func (it *Item) IsDeleted() bool {
	return it.status.Has(StatusDeleted)
}

func (it *Item) IsNew() bool {
	return it.status.Has(statusNew)
}

// DirtyAttributes returns the aliases changed since the last commit, sorted.
func (it *Item) DirtyAttributes() []string {
	out := make([]string, 0, len(it.dirtyAttrs))
	for a := range it.dirtyAttrs {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

func (it *Item) String() string {
	return it.describe()
}

func (it *Item) describe() string {
	if it.name != "" {
		return fmt.Sprintf("%s(%s)", it.name, it.id)
	}
	return it.id.String()
}

func (it *Item) setDirty() {
	if !it.status.Has(StatusDirty) {
		it.status |= StatusDirty
	}
	it.view.dirty[it.id] = it
}

func (it *Item) markAttrDirty(alias string) {
	if it.dirtyAttrs == nil {
		it.dirtyAttrs = make(map[string]struct{})
	}
	it.dirtyAttrs[alias] = struct{}{}
	it.setDirty()
	it.view.attributeChanged(it, alias)
}

func (it *Item) ensureLive() error {
	if it.status.Has(StatusDeleted) {
		return itemErrf(it, "", ErrItemDeleted, "")
	}
	return nil
}

// SetKind changes the item's kind, e.g. to a mixin built by AddMixins.
func (it *Item) SetKind(k *Kind) error {
	if err := it.ensureLive(); err != nil {
		return err
	}
	if k != nil && k.reg != it.view.repo.reg {
		return itemErrf(it, "", nil, "kind %s belongs to another registry", k.path)
	}
	if it.kind == k {
		return nil
	}
	old := it.kind
	it.kind = k
	it.kindDirty = true
	it.setDirty()
	it.view.kindChanged(it, old)
	return nil
}

// AddMixins switches the item to a memoized mixin kind combining its current
// kind with kinds.
func (it *Item) AddMixins(kinds ...*Kind) error {
	all := make([]*Kind, 0, len(kinds)+1)
	if it.kind != nil {
		all = append(all, it.kind.nonMixinParts()...)
	}
	for _, k := range kinds {
		if !slices.Contains(all, k) {
			all = append(all, k)
		}
	}
	mk, err := it.view.repo.reg.Mixin(all...)
	if err != nil {
		return err
	}
	return it.SetKind(mk)
}

func (k *Kind) nonMixinParts() []*Kind {
	if !k.mixin {
		return []*Kind{k}
	}
	return slices.Clone(k.supers)
}

// Parent returns the parent item, or nil for a namespace root.
func (it *Item) Parent() (*Item, error) {
	if it.parentID == NilID {
		return nil, nil
	}
	return it.view.mustLoad(it.parentID)
}

func (it *Item) ParentID() ID {
	return it.parentID
}

// Root returns the namespace root this item lives under.
func (it *Item) Root() (*Item, error) {
	cur := it
	for cur.parentID != NilID {
		p, err := cur.Parent()
		if err != nil {
			return nil, err
		}
		cur = p
	}
	return cur, nil
}

// Path returns the repository path, e.g. "//Projects/Home/Task1". Unnamed
// items appear by id.
func (it *Item) Path() (string, error) {
	var segs []string
	cur := it
	for {
		seg := cur.name
		if seg == "" {
			seg = cur.id.String()
		}
		segs = append(segs, seg)
		if cur.parentID == NilID {
			break
		}
		p, err := cur.Parent()
		if err != nil {
			return "", err
		}
		cur = p
	}
	slices.Reverse(segs)
	return "//" + strings.Join(segs, "/"), nil
}

func (it *Item) loadChildren() (*orderedCollection[ID], error) {
	if it.children != nil {
		return it.children, nil
	}
	if it.status.Has(statusNew) {
		it.children = newOrderedCollection[ID]()
		return it.children, nil
	}
	coll, err := it.view.readChildren(it.id)
	if err != nil {
		return nil, err
	}
	it.children = coll
	return coll, nil
}

// Children loads the item's children in order.
func (it *Item) Children() ([]*Item, error) {
	coll, err := it.loadChildren()
	if err != nil {
		return nil, err
	}
	out := make([]*Item, 0, coll.Len())
	for id := range coll.All() {
		c, err := it.view.mustLoad(id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Child returns the child with the given name, or nil.
func (it *Item) Child(name string) (*Item, error) {
	coll, err := it.loadChildren()
	if err != nil {
		return nil, err
	}
	id, ok := coll.ByAlias(name)
	if !ok {
		return nil, nil
	}
	return it.view.mustLoad(id)
}

func (it *Item) HasChildren() (bool, error) {
	coll, err := it.loadChildren()
	if err != nil {
		return false, err
	}
	return coll.Len() > 0, nil
}

// Rename changes the item's name; names are unique among live siblings.
func (it *Item) Rename(name string) error {
	if err := it.ensureLive(); err != nil {
		return err
	}
	if name == it.name {
		return nil
	}
	if strings.Contains(name, "/") {
		return itemErrf(it, "", ErrInvalidValue, "name %q contains a slash", name)
	}
	siblings, err := it.view.childrenOf(it.parentID)
	if err != nil {
		return err
	}
	if err := siblings.SetAlias(it.id, name); err != nil {
		return itemErrf(it, "", ErrNameExists, "cannot rename to %q", name)
	}
	it.name = name
	it.nameDirty = true
	it.setDirty()
	it.view.childrenChanged(it.parentID)
	return nil
}

// Move reparents the item; nil makes it a namespace root.
func (it *Item) Move(parent *Item) error {
	if err := it.ensureLive(); err != nil {
		return err
	}
	var newPID ID
	if parent != nil {
		if err := parent.ensureLive(); err != nil {
			return err
		}
		if parent.view != it.view {
			return itemErrf(it, "", nil, "cannot move under an item of another view")
		}
		for cur := parent; cur != nil; {
			if cur == it {
				return itemErrf(it, "", ErrInvalidValue, "cannot move under own descendant %s", parent.describe())
			}
			p, err := cur.Parent()
			if err != nil {
				return err
			}
			cur = p
		}
		newPID = parent.id
	}
	if newPID == it.parentID {
		return nil
	}
	dest, err := it.view.childrenOf(newPID)
	if err != nil {
		return err
	}
	if it.name != "" {
		if _, found := dest.ByAlias(it.name); found {
			return itemErrf(it, "", ErrNameExists, "cannot move under %v", newPID)
		}
	}
	src, err := it.view.childrenOf(it.parentID)
	if err != nil {
		return err
	}
	src.Remove(it.id)
	ensure(dest.Append(it.id, it.name))
	it.view.childrenChanged(it.parentID)
	it.view.childrenChanged(newPID)
	it.parentID = newPID
	it.parentDirty = true
	it.setDirty()
	return nil
}

// Find resolves a path relative to the item:
//
//   - "." is the item itself and ".." its parent;
//   - "//a/b" starts at the repository namespace root;
//   - "/a/b" starts at this item's namespace root;
//   - "a/b" walks children by name;
//   - a bare UUID finds any item by id.
//
// Find returns nil, nil when nothing matches.
func (it *Item) Find(path string) (*Item, error) {
	if id, err := ParseID(path); err == nil {
		return it.view.Find(id)
	}
	switch {
	case strings.HasPrefix(path, "//"):
		return it.view.FindPath(path)
	case strings.HasPrefix(path, "/"):
		root, err := it.Root()
		if err != nil {
			return nil, err
		}
		return root.walk(strings.TrimPrefix(path, "/"))
	default:
		return it.walk(path)
	}
}

func (it *Item) walk(path string) (*Item, error) {
	cur := it
	for _, seg := range strings.Split(path, "/") {
		if cur == nil {
			return nil, nil
		}
		var err error
		switch seg {
		case "", ".":
		case "..":
			cur, err = cur.Parent()
		default:
			cur, err = cur.Child(seg)
		}
		if err != nil {
			return nil, err
		}
	}
	if cur != nil && cur.IsDeleted() {
		return nil, nil
	}
	return cur, nil
}
