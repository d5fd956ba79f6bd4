package itemdb

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// MethodFunc is a behaviour bound to items through their kind.
type MethodFunc func(it *Item, args ...any) (any, error)

// ImplType is the implementation bound to a kind: a named method table.
// A mixin ImplType combines several parts; method lookup tries its own
// methods, then each part in order.
type ImplType struct {
	name    string
	methods map[string]MethodFunc
	parts   []*ImplType
	mixin   bool
}

func (t *ImplType) Name() string {
	return t.name
}

func (t *ImplType) IsMixin() bool {
	return t.mixin
}

func (t *ImplType) Parts() []*ImplType {
	return slices.Clone(t.parts)
}

func (t *ImplType) String() string {
	return t.name
}

func (t *ImplType) Method(name string) (MethodFunc, bool) {
	if m, ok := t.methods[name]; ok {
		return m, true
	}
	for _, p := range t.parts {
		if m, ok := p.Method(name); ok {
			return m, true
		}
	}
	return nil, false
}

// MethodNames lists every method reachable from t, sorted.
func (t *ImplType) MethodNames() []string {
	set := make(map[string]struct{})
	var visit func(x *ImplType)
	visit = func(x *ImplType) {
		for n := range x.methods {
			set[n] = struct{}{}
		}
		for _, p := range x.parts {
			visit(p)
		}
	}
	visit(t)
	return slices.Sorted(maps.Keys(set))
}

func mixinImplName(parts []*ImplType) string {
	names := make([]string, len(parts))
	for i, p := range parts {
		names[i] = p.name
	}
	return "mixin(" + strings.Join(names, "+") + ")"
}

// Call invokes a method of the item's implementation type.
func (it *Item) Call(method string, args ...any) (any, error) {
	impl := it.Impl()
	if impl == nil {
		return nil, itemErrf(it, "", nil, "no implementation bound, cannot call %s", method)
	}
	m, ok := impl.Method(method)
	if !ok {
		return nil, itemErrf(it, "", nil, "%s has no method %s", impl.name, method)
	}
	return m(it, args...)
}

func (it *Item) Impl() *ImplType {
	if it.kind == nil {
		return it.view.repo.reg.baseImpl
	}
	return it.kind.Impl()
}

func callCompare(m MethodFunc, a, b *Item) (int, error) {
	r, err := m(a, b)
	if err != nil {
		return 0, err
	}
	switch r := r.(type) {
	case int:
		return r, nil
	case int64:
		return int(r), nil
	default:
		return 0, fmt.Errorf("comparison method returned %T, expected int", r)
	}
}
