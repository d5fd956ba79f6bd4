package itemdb

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
)

type kindAttr struct {
	alias string
	attr  *Attribute
}

// Kind is a schema entity: a set of attribute declarations plus super-kinds
// whose attributes it inherits. Lookup walks own attributes first, then each
// super-kind left to right, depth first; the first match wins. The resolved
// table is cached until the kind or one of its ancestors changes.
type Kind struct {
	reg     *Registry
	path    string
	name    string
	supers  []*Kind
	subs    []*Kind
	attrs   []kindAttr
	impl    *ImplType
	initial map[string]any
	mixin   bool

	// guarded by reg.cacheMu
	slots     map[string]*Attribute
	slotOrder []string
	hash      uint64
	hashValid bool
	implCache *ImplType
}

type KindBuilder struct {
	kind *Kind
	err  error
}

// DefineKind registers a kind at path, e.g. "//Schema/Core/Task". Like the
// rest of schema setup it panics on invalid definitions.
func DefineKind(reg *Registry, path string, f func(b *KindBuilder)) *Kind {
	k := reg.newKind(path)
	if f != nil {
		b := &KindBuilder{kind: k}
		f(b)
		if b.err != nil {
			panic(fmt.Errorf("DefineKind(%s): %w", path, b.err))
		}
	}
	ensure(reg.addKind(k))
	return k
}

// Attr declares an own attribute; the alias defaults to its name.
func (b *KindBuilder) Attr(name string, card Cardinality, opts ...AttrOption) *Attribute {
	a := NewAttribute(name, card, opts...)
	b.AddAttribute(a, name)
	return a
}

// AddAttribute declares a shared attribute object under alias.
func (b *KindBuilder) AddAttribute(a *Attribute, alias string) {
	if err := b.kind.addAttribute(a, alias); err != nil && b.err == nil {
		b.err = err
	}
}

func (b *KindBuilder) Super(kinds ...*Kind) {
	mu := &b.kind.reg.cacheMu
	mu.Lock()
	err := b.kind.setSuperKinds(kinds)
	mu.Unlock()
	if err != nil && b.err == nil {
		b.err = err
	}
}

func (b *KindBuilder) Impl(t *ImplType) {
	b.kind.impl = t
}

func (b *KindBuilder) Initial(attr string, value any) {
	if err := b.kind.setInitial(attr, value); err != nil && b.err == nil {
		b.err = err
	}
}

func (k *Kind) Path() string { return k.path }
func (k *Kind) Name() string { return k.name }
func (k *Kind) IsMixin() bool { return k.mixin }
func (k *Kind) Registry() *Registry { return k.reg }
func (k *Kind) String() string { return k.path }

func (k *Kind) SuperKinds() []*Kind {
	return slices.Clone(k.supers)
}

func (k *Kind) SubKinds() []*Kind {
	return slices.Clone(k.subs)
}

// OwnAttributes returns the aliases of attributes declared directly on k.
func (k *Kind) OwnAttributes() []string {
	out := make([]string, len(k.attrs))
	for i, ka := range k.attrs {
		out[i] = ka.alias
	}
	return out
}

// Attribute resolves an attribute by alias through the inheritance chain.
func (k *Kind) Attribute(alias string) (*Attribute, bool) {
	slots, _ := k.slotTable()
	a, ok := slots[alias]
	return a, ok
}

// Attributes returns every resolvable alias in resolution order.
func (k *Kind) Attributes() []string {
	_, order := k.slotTable()
	return slices.Clone(order)
}

// slotTable returns the resolved attribute table. A built table is never
// modified, only replaced, so callers may read it without the lock.
func (k *Kind) slotTable() (map[string]*Attribute, []string) {
	mu := &k.reg.cacheMu
	mu.RLock()
	slots, order := k.slots, k.slotOrder
	mu.RUnlock()
	if slots != nil {
		return slots, order
	}
	mu.Lock()
	defer mu.Unlock()
	k.buildSlots()
	return k.slots, k.slotOrder
}

func (k *Kind) buildSlots() {
	if k.slots != nil {
		return
	}
	slots := make(map[string]*Attribute)
	var order []string
	var visit func(kk *Kind)
	visit = func(kk *Kind) {
		for _, ka := range kk.attrs {
			if _, found := slots[ka.alias]; !found {
				slots[ka.alias] = ka.attr
				order = append(order, ka.alias)
			}
		}
		for _, s := range kk.supers {
			visit(s)
		}
	}
	visit(k)
	k.slots, k.slotOrder = slots, order
	k.reg.metrics.slotBuilds.Inc()
}

func (k *Kind) warmCaches() {
	k.reg.cacheMu.Lock()
	defer k.reg.cacheMu.Unlock()
	k.buildSlots()
	k.hashLocked()
	k.boundImplLocked()
}

// edit applies a schema change to k under the cache lock, drops the caches
// of k and its descendants and then notifies schema listeners.
func (k *Kind) edit(f func() error) error {
	k.reg.cacheMu.Lock()
	if err := f(); err != nil {
		k.reg.cacheMu.Unlock()
		return err
	}
	var affected []*Kind
	k.dropCaches(&affected)
	k.reg.cacheMu.Unlock()
	k.reg.schemaChanged(affected)
	return nil
}

func (k *Kind) AddAttribute(a *Attribute, alias string) error {
	return k.edit(func() error {
		return k.addAttribute(a, alias)
	})
}

func (k *Kind) addAttribute(a *Attribute, alias string) error {
	if alias == "" {
		alias = a.name
	}
	for _, ka := range k.attrs {
		if ka.alias == alias {
			return fmt.Errorf("%s: attribute %q already declared", k.path, alias)
		}
	}
	k.attrs = append(k.attrs, kindAttr{alias, a})
	a.addOwner(k)
	return nil
}

func (k *Kind) RemoveAttribute(alias string) error {
	return k.edit(func() error {
		i := slices.IndexFunc(k.attrs, func(ka kindAttr) bool { return ka.alias == alias })
		if i < 0 {
			return fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, k.path, alias)
		}
		a := k.attrs[i].attr
		k.attrs = slices.Delete(k.attrs, i, i+1)
		if !slices.ContainsFunc(k.attrs, func(ka kindAttr) bool { return ka.attr == a }) {
			a.removeOwner(k)
		}
		return nil
	})
}

func (k *Kind) SetSuperKinds(kinds ...*Kind) error {
	return k.edit(func() error {
		return k.setSuperKinds(kinds)
	})
}

func (k *Kind) setSuperKinds(kinds []*Kind) error {
	for _, s := range kinds {
		if s == nil {
			return fmt.Errorf("%w: %s: nil super-kind", ErrSchemaInheritance, k.path)
		}
		if s == k || s.IsKindOf(k) {
			return fmt.Errorf("%w: %s cannot inherit from %s (cycle)", ErrSchemaInheritance, k.path, s.path)
		}
	}
	if dup := firstDuplicate(kinds); dup != nil {
		return fmt.Errorf("%w: %s lists super-kind %s twice", ErrSchemaInheritance, k.path, dup.path)
	}
	for _, s := range k.supers {
		s.subs = slices.DeleteFunc(s.subs, func(x *Kind) bool { return x == k })
	}
	k.supers = slices.Clone(kinds)
	for _, s := range k.supers {
		s.subs = append(s.subs, k)
	}
	return nil
}

func firstDuplicate(kinds []*Kind) *Kind {
	for i, a := range kinds {
		if slices.Contains(kinds[i+1:], a) {
			return a
		}
	}
	return nil
}

// IsKindOf reports whether k is other or inherits from it.
func (k *Kind) IsKindOf(other *Kind) bool {
	if k == other {
		return true
	}
	for _, s := range k.supers {
		if s.IsKindOf(other) {
			return true
		}
	}
	return false
}

// dropCaches clears k and its descendants, appending each to affected once.
func (k *Kind) dropCaches(affected *[]*Kind) {
	if slices.Contains(*affected, k) {
		return
	}
	*affected = append(*affected, k)
	k.slots, k.slotOrder = nil, nil
	k.hashValid = false
	k.implCache = nil
	for _, s := range k.subs {
		s.dropCaches(affected)
	}
}

func (k *Kind) SetImpl(t *ImplType) {
	k.edit(func() error {
		k.impl = t
		return nil
	})
}

// Impl returns the implementation type bound to k: its own, the single
// distinct one contributed by super-kinds, or a memoized mixin of several.
// Kinds with no binding anywhere in their ancestry get the registry's base
// implementation.
func (k *Kind) Impl() *ImplType {
	if impl := k.boundImpl(); impl != nil {
		return impl
	}
	return k.reg.baseImpl
}

func (k *Kind) boundImpl() *ImplType {
	mu := &k.reg.cacheMu
	mu.RLock()
	impl := k.implCache
	mu.RUnlock()
	if impl != nil {
		return impl
	}
	mu.Lock()
	defer mu.Unlock()
	return k.boundImplLocked()
}

func (k *Kind) boundImplLocked() *ImplType {
	if k.implCache != nil {
		return k.implCache
	}
	impl := k.impl
	if impl == nil {
		var parts []*ImplType
		for _, s := range k.supers {
			if si := s.boundImplLocked(); si != nil && !slices.Contains(parts, si) {
				parts = append(parts, si)
			}
		}
		switch len(parts) {
		case 0:
			return nil
		case 1:
			impl = parts[0]
		default:
			impl = k.reg.mixinImpl(parts)
		}
	}
	k.implCache = impl
	return impl
}

func (k *Kind) SetInitialValue(attr string, v any) error {
	return k.edit(func() error {
		return k.setInitial(attr, v)
	})
}

func (k *Kind) setInitial(attr string, v any) error {
	n, err := normalizeValue(v)
	if err != nil {
		return fmt.Errorf("%s.%s initial value: %w", k.path, attr, err)
	}
	if k.initial == nil {
		k.initial = make(map[string]any)
	}
	k.initial[attr] = n
	return nil
}

// initialValues collects initial values through the inheritance chain with
// the same first-match rule as attribute lookup. Composites are deep-copied.
func (k *Kind) initialValues() map[string]any {
	out := make(map[string]any)
	var visit func(kk *Kind)
	visit = func(kk *Kind) {
		for name, v := range kk.initial {
			if _, found := out[name]; !found {
				out[name] = cloneValue(v)
			}
		}
		for _, s := range kk.supers {
			visit(s)
		}
	}
	visit(k)
	return out
}

// Hash is a stable digest of the kind's definition: its path (except for
// mixins), the hashes of its super-kinds and its own attributes.
func (k *Kind) Hash() uint64 {
	mu := &k.reg.cacheMu
	mu.RLock()
	h, ok := k.hash, k.hashValid
	mu.RUnlock()
	if ok {
		return h
	}
	mu.Lock()
	defer mu.Unlock()
	return k.hashLocked()
}

func (k *Kind) hashLocked() uint64 {
	if k.hashValid {
		return k.hash
	}
	var h xxhash.Digest
	h.Reset()
	if !k.mixin {
		h.WriteString(k.path)
		h.WriteString("\x00")
	}
	var buf [8]byte
	for _, s := range k.supers {
		binary.BigEndian.PutUint64(buf[:], s.hashLocked())
		h.Write(buf[:])
	}
	for _, ka := range k.attrs {
		ka.attr.hashInto(&h, ka.alias)
	}
	k.hash, k.hashValid = h.Sum64(), true
	return k.hash
}

// kindDef is the persisted form of a kind.
type kindDef struct {
	Path    string         `msgpack:"p"`
	Supers  []string       `msgpack:"s,omitempty"`
	Attrs   []attrDef      `msgpack:"a,omitempty"`
	Impl    string         `msgpack:"impl,omitempty"`
	Initial map[string]any `msgpack:"init,omitempty"`
	Mixin   bool           `msgpack:"mx,omitempty"`
	Hash    uint64         `msgpack:"h"`
}

func (k *Kind) def() *kindDef {
	d := &kindDef{
		Path:    k.path,
		Initial: k.initial,
		Mixin:   k.mixin,
		Hash:    k.Hash(),
	}
	for _, s := range k.supers {
		d.Supers = append(d.Supers, s.path)
	}
	for _, ka := range k.attrs {
		d.Attrs = append(d.Attrs, ka.attr.def(ka.alias))
	}
	if k.impl != nil {
		d.Impl = k.impl.name
	}
	return d
}

func kindNameFromPath(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
